package lamport

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_Increment(t *testing.T) {
	clock := NewClock()
	assert.Equal(t, Time(0), clock.Time())

	assert.Equal(t, Time(1), clock.Increment())
	assert.Equal(t, Time(2), clock.Increment())
	assert.Equal(t, Time(2), clock.Time())
}

func TestClock_Witness(t *testing.T) {
	tests := []struct {
		Name     string
		Start    uint64
		Witness  Time
		Expected Time
	}{
		{
			Name:     "ahead",
			Start:    2,
			Witness:  10,
			Expected: 11,
		},
		{
			Name:     "equal",
			Start:    5,
			Witness:  5,
			Expected: 6,
		},
		{
			Name:     "behind",
			Start:    8,
			Witness:  3,
			Expected: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			clock := NewClock()
			for i := uint64(0); i != tt.Start; i++ {
				clock.Increment()
			}

			clock.Witness(tt.Witness)
			assert.Equal(t, tt.Expected, clock.Time())
		})
	}
}

func TestClock_WitnessMax(t *testing.T) {
	clock := NewClock()

	clock.Witness(Time(math.MaxUint64 - 1))
	assert.Equal(t, Time(math.MaxUint64), clock.Time())

	clock.Witness(Time(math.MaxUint64))
	assert.Equal(t, Time(math.MaxUint64), clock.Time())
}

func TestClock_Concurrent(t *testing.T) {
	clock := NewClock()

	var wg sync.WaitGroup
	for i := 0; i != 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j != 100; j++ {
				clock.Increment()
				clock.Witness(Time(i * j))
			}
		}(i)
	}
	wg.Wait()

	// Every increment advances the clock, witnesses may advance it further.
	assert.GreaterOrEqual(t, uint64(clock.Time()), uint64(1000))
}
