// Package lamport implements a Lamport logical clock.
//
// The clock orders rumors that have no other ordering relationship, such as
// two service configuration updates published with the same incarnation.
package lamport

import (
	"math"

	"go.uber.org/atomic"
)

// Time is a Lamport timestamp.
type Time uint64

// Clock is a thread safe Lamport clock.
type Clock struct {
	counter *atomic.Uint64
}

func NewClock() *Clock {
	return &Clock{
		counter: atomic.NewUint64(0),
	}
}

// Time returns the current time without advancing the clock.
func (c *Clock) Time() Time {
	return Time(c.counter.Load())
}

// Increment advances the clock for a locally originated event and returns
// the new time.
func (c *Clock) Increment() Time {
	return Time(c.counter.Inc())
}

// Witness updates the clock after observing a remote time, so the next
// local event is ordered after it. The clock saturates at the maximum time
// rather than wrapping.
func (c *Clock) Witness(t Time) {
	next := uint64(t)
	if next < math.MaxUint64 {
		next++
	}
	for {
		current := c.counter.Load()
		if next <= current {
			return
		}
		if c.counter.CompareAndSwap(current, next) {
			return
		}
	}
}
