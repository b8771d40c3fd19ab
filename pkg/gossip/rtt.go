package gossip

import (
	"sync"
	"time"
)

// rttSamples tracks round trip times in a circular buffer.
type rttSamples struct {
	samples []time.Duration
	// index points to the next entry to add a sample. Since samples is a
	// circular buffer this wraps around.
	index  int
	isFull bool

	sum time.Duration
}

func newRTTSamples(sampleSize int) *rttSamples {
	return &rttSamples{
		samples: make([]time.Duration, sampleSize),
	}
}

func (s *rttSamples) Add(rtt time.Duration) {
	// If the index is at the end of the buffer wrap around.
	if s.index == len(s.samples) {
		s.index = 0
		s.isFull = true
	}
	if s.isFull {
		s.sum -= s.samples[s.index]
	}

	s.samples[s.index] = rtt
	s.index++
	s.sum += rtt
}

func (s *rttSamples) Mean() time.Duration {
	size := s.size()
	if size == 0 {
		return 0
	}
	return s.sum / time.Duration(size)
}

func (s *rttSamples) size() int {
	if s.isFull {
		return len(s.samples)
	}
	return s.index
}

// rttTracker tracks the round trip time of direct probes to each member over
// a sliding window of samples.
type rttTracker struct {
	members map[string]*rttSamples

	// mu protects the above fields.
	mu sync.Mutex

	sampleSize int
}

func newRTTTracker(sampleSize int) *rttTracker {
	return &rttTracker{
		members:    make(map[string]*rttSamples),
		sampleSize: sampleSize,
	}
}

// Record adds a round trip time sample for the member with the given ID.
func (t *rttTracker) Record(memberID string, rtt time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	samples, ok := t.members[memberID]
	if !ok {
		samples = newRTTSamples(t.sampleSize)
		t.members[memberID] = samples
	}
	samples.Add(rtt)
}

// Mean returns the mean round trip time of the member with the given ID, or
// zero if there are no samples.
func (t *rttTracker) Mean(memberID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	samples, ok := t.members[memberID]
	if !ok {
		return 0
	}
	return samples.Mean()
}

// Remove discards samples of the given member.
func (t *rttTracker) Remove(memberID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.members, memberID)
}
