// Package recorder captures arm samples into recording files at a fixed
// rate. A session keeps its capture goroutine alive across pauses so that
// resuming capture has no startup latency.
package recorder

import (
	"fmt"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

const (
	DefaultSampleRateHz = 200
	DefaultFlushEvery   = 20

	joinTimeout = 2 * time.Second
)

// Config is the immutable description of one recording session.
type Config struct {
	Path         string
	Description  string
	SampleRateHz int
	// FlushEvery is the number of buffered samples written per flush.
	FlushEvery int
	Handshake  arm.Handshake
	// OnSample, if set, is called from the capture goroutine after each captured sample.
	OnSample func()
}

func (c Config) withDefaults() Config {
	if c.SampleRateHz <= 0 {
		c.SampleRateHz = DefaultSampleRateHz
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = DefaultFlushEvery
	}
	return c
}

// Interval is the time between two capture ticks.
func (c Config) Interval() time.Duration {
	return time.Second / time.Duration(c.withDefaults().SampleRateHz)
}

func (c Config) validate() error {
	if c.Path == "" {
		return fmt.Errorf("recording path is required")
	}
	if c.SampleRateHz < 0 || c.SampleRateHz > 1000 {
		return fmt.Errorf("sample rate %d Hz out of range (1-1000)", c.SampleRateHz)
	}
	return nil
}

func (c Config) header() ppr.Header {
	return ppr.Header{
		Version:      ppr.DefaultVersion,
		SampleRateHz: c.SampleRateHz,
		Created:      time.Now(),
		Description:  c.Description,
	}
}

// Source produces samples for the capture loop.
type Source interface {
	ReadSample(now time.Time) (ppr.Sample, error)
}

// ArmSource reads samples from an arm.
type ArmSource struct {
	Arm arm.Arm
}

func (s ArmSource) ReadSample(now time.Time) (ppr.Sample, error) {
	return arm.ReadSample(s.Arm, now)
}
