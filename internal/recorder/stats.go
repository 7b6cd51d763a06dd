package recorder

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time copy of a session's counters.
type Stats struct {
	SampleCount    int64         `json:"sample_count"`
	SegmentCount   int64         `json:"segment_count"`
	SegmentSamples int64         `json:"segment_samples"`
	Duration       time.Duration `json:"duration"`
	CurrentRate    float64       `json:"current_rate"`
	Capturing      bool          `json:"capturing"`
}

// Summary is returned when a session closes.
type Summary struct {
	Filename     string        `json:"filename"`
	Path         string        `json:"path"`
	SampleCount  int64         `json:"sample_count"`
	SegmentCount int64         `json:"segment_count"`
	Duration     time.Duration `json:"duration"`
	AverageRate  float64       `json:"average_rate"`
}

// counters are written by the capture goroutine (samples) and by the
// controlling goroutine (segments); readers only load them.
type counters struct {
	started        time.Time
	samples        atomic.Int64
	segments       atomic.Int64
	segmentSamples atomic.Int64
}

func (c *counters) addSample() {
	c.samples.Add(1)
	c.segmentSamples.Add(1)
}

func (c *counters) newSegment() {
	c.segments.Add(1)
	c.segmentSamples.Store(0)
}

func (c *counters) snapshot(capturing bool) Stats {
	elapsed := time.Since(c.started)
	n := c.samples.Load()
	st := Stats{
		SampleCount:    n,
		SegmentCount:   c.segments.Load(),
		SegmentSamples: c.segmentSamples.Load(),
		Duration:       elapsed,
		Capturing:      capturing,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		st.CurrentRate = float64(n) / secs
	}
	return st
}
