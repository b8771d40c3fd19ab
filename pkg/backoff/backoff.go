// Package backoff implements exponential backoff with jitter.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff waits an exponentially increasing duration between attempts, such
// as when retrying to join a cluster on startup.
type Backoff struct {
	// retries is the maximum number of attempts, or zero to retry forever.
	retries    int
	minBackoff time.Duration
	maxBackoff time.Duration

	attempts    int
	lastBackoff time.Duration
}

func New(retries int, minBackoff time.Duration, maxBackoff time.Duration) *Backoff {
	return &Backoff{
		retries:    retries,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Wait blocks until the next attempt. Returns false if the retries are
// exhausted or the context is cancelled.
//
// The first call returns immediately so Wait can guard every attempt.
func (b *Backoff) Wait(ctx context.Context) bool {
	if b.retries != 0 && b.attempts >= b.retries {
		return false
	}
	b.attempts++

	if b.attempts == 1 {
		return ctx.Err() == nil
	}

	b.lastBackoff = b.nextWait()

	timer := time.NewTimer(b.lastBackoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Attempts returns the number of attempts so far.
func (b *Backoff) Attempts() int {
	return b.attempts
}

func (b *Backoff) nextWait() time.Duration {
	backoff := b.minBackoff
	if b.lastBackoff != 0 {
		backoff = b.lastBackoff * 2
	}
	if b.maxBackoff != 0 && backoff > b.maxBackoff {
		backoff = b.maxBackoff
	}

	// Add up to 10% jitter.
	jitter := 1.0 + (rand.Float64() * 0.1)
	return time.Duration(float64(backoff) * jitter)
}
