package gossip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRTTSamples(t *testing.T) {
	tests := []struct {
		Name         string
		Samples      []time.Duration
		SampleSize   int
		ExpectedMean time.Duration
	}{
		{
			Name:         "no samples",
			SampleSize:   5,
			ExpectedMean: 0,
		},
		{
			Name:         "partial window",
			Samples:      []time.Duration{10, 20, 30},
			SampleSize:   5,
			ExpectedMean: 20,
		},
		{
			Name:         "full window",
			Samples:      []time.Duration{10, 20, 30, 40, 50},
			SampleSize:   5,
			ExpectedMean: 30,
		},
		{
			Name:         "wrapped window",
			Samples:      []time.Duration{1000, 1000, 10, 20, 30},
			SampleSize:   3,
			ExpectedMean: 20,
		},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			samples := newRTTSamples(tt.SampleSize)
			for _, rtt := range tt.Samples {
				samples.Add(rtt)
			}
			assert.Equal(t, tt.ExpectedMean, samples.Mean())
		})
	}
}

func TestRTTTracker(t *testing.T) {
	tracker := newRTTTracker(10)

	tracker.Record("member-1", time.Millisecond)
	tracker.Record("member-1", 3*time.Millisecond)
	tracker.Record("member-2", 5*time.Millisecond)

	assert.Equal(t, 2*time.Millisecond, tracker.Mean("member-1"))
	assert.Equal(t, 5*time.Millisecond, tracker.Mean("member-2"))
	assert.Equal(t, time.Duration(0), tracker.Mean("member-3"))

	tracker.Remove("member-1")
	assert.Equal(t, time.Duration(0), tracker.Mean("member-1"))
}
