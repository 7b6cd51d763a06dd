// Package player replays recorded samples to the arm on a dedicated
// goroutine, scaled by a bounded speed multiplier.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

// Discipline selects how the playback goroutine paces frames.
type Discipline string

const (
	// DisciplineTimestamp schedules each sample at its recorded offset divided by speed.
	DisciplineTimestamp Discipline = "timestamp"
	// DisciplineFixed sends one frame every Interval/speed and reasserts the
	// motion mode before each frame.
	DisciplineFixed Discipline = "fixed"
)

// Outcome is how a playback run ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
)

const (
	DefaultMinSpeed      = 0.1
	DefaultMaxSpeed      = 4.0
	DefaultFixedInterval = 5 * time.Millisecond
	DefaultLagWarn       = 100 * time.Millisecond

	joinTimeout = 2 * time.Second
)

var (
	ErrNotLoaded       = errors.New("no recording loaded")
	ErrAlreadyPlaying  = errors.New("playback already in progress")
	ErrSpeedOutOfRange = errors.New("speed multiplier out of range")
	ErrNotPlaying      = errors.New("no playback in progress")
)

// ParseDiscipline maps a config or protocol string to a Discipline.
func ParseDiscipline(s string) (Discipline, error) {
	switch Discipline(s) {
	case "", DisciplineTimestamp:
		return DisciplineTimestamp, nil
	case DisciplineFixed:
		return DisciplineFixed, nil
	}
	return "", fmt.Errorf("unknown playback discipline '%s' (expected timestamp or fixed)", s)
}

// Options configure one playback run.
type Options struct {
	Discipline Discipline
	// Interval is the fixed-rate frame interval at speed 1.0.
	Interval time.Duration
	// LagWarn is how far behind schedule the timestamp discipline may fall before logging.
	LagWarn time.Duration
	// OnFinish is called from the playback goroutine once the run has ended,
	// before Done is closed. It must not call Stop.
	OnFinish func(Outcome)
	// OnFrame is called from the playback goroutine after each frame is sent.
	OnFrame func()
}

func (o Options) withDefaults() Options {
	if o.Discipline == "" {
		o.Discipline = DisciplineTimestamp
	}
	if o.Interval <= 0 {
		o.Interval = DefaultFixedInterval
	}
	if o.LagWarn <= 0 {
		o.LagWarn = DefaultLagWarn
	}
	return o
}

// Info describes the loaded sequence.
type Info struct {
	Name        string  `json:"name"`
	SampleCount int     `json:"sample_count"`
	DurationSec float64 `json:"duration_sec"`
}

// Engine plays one loaded sample sequence at a time.
type Engine struct {
	arm      arm.Arm
	minSpeed float64
	maxSpeed float64
	lagLog   *rate.Limiter

	mutex    sync.Mutex
	samples  []ppr.Sample
	info     Info
	stopCh   chan struct{}
	doneCh   chan struct{}
	resumeCh chan struct{} // non-nil while paused
	outcome  Outcome
	speed    float64

	playing atomic.Bool
	paused  atomic.Bool
	index   atomic.Int64
	total   atomic.Int64
}

// New returns an engine bounded to [minSpeed, maxSpeed]. Zero bounds use the defaults.
func New(a arm.Arm, minSpeed, maxSpeed float64) *Engine {
	if minSpeed <= 0 {
		minSpeed = DefaultMinSpeed
	}
	if maxSpeed <= 0 {
		maxSpeed = DefaultMaxSpeed
	}
	return &Engine{
		arm:      a,
		minSpeed: minSpeed,
		maxSpeed: maxSpeed,
		lagLog:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// SpeedBounds returns the accepted speed range.
func (e *Engine) SpeedBounds() (float64, float64) {
	return e.minSpeed, e.maxSpeed
}

// CheckSpeed reports ErrSpeedOutOfRange when speed is outside the bounds.
func (e *Engine) CheckSpeed(speed float64) error {
	if speed < e.minSpeed || speed > e.maxSpeed || math.IsNaN(speed) {
		return fmt.Errorf("%w: %.2f (allowed %.1f-%.1f)", ErrSpeedOutOfRange, speed, e.minSpeed, e.maxSpeed)
	}
	return nil
}

// Load replaces the loaded sequence with rec.
func (e *Engine) Load(name string, rec *ppr.Recording) (Info, error) {
	return e.LoadSamples(name, rec.Samples)
}

// LoadSamples replaces the loaded sequence. It fails while playing.
func (e *Engine) LoadSamples(name string, samples []ppr.Sample) (Info, error) {
	if len(samples) == 0 {
		return Info{}, ppr.ErrNoSamples
	}
	if e.playing.Load() {
		return Info{}, ErrAlreadyPlaying
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.samples = samples
	e.info = Info{
		Name:        name,
		SampleCount: len(samples),
		DurationSec: ppr.Duration(samples).Seconds(),
	}
	e.index.Store(0)
	e.total.Store(int64(len(samples)))
	slog.Debug("Playback sequence loaded", "name", name, "samples", len(samples))
	return e.info, nil
}

// Info returns the loaded sequence description.
func (e *Engine) Info() Info {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.info
}

// IsLoaded reports whether a sequence is loaded.
func (e *Engine) IsLoaded() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.samples) > 0
}

// Start begins playback of the loaded sequence on a new goroutine.
func (e *Engine) Start(speed float64, opts Options) error {
	if err := e.CheckSpeed(speed); err != nil {
		return err
	}
	opts = opts.withDefaults()
	if _, err := ParseDiscipline(string(opts.Discipline)); err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if len(e.samples) == 0 {
		return ErrNotLoaded
	}
	if !e.playing.CompareAndSwap(false, true) {
		return ErrAlreadyPlaying
	}

	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.resumeCh = nil
	e.outcome = OutcomeNone
	e.speed = speed
	e.paused.Store(false)
	e.index.Store(0)
	e.total.Store(int64(len(e.samples)))

	go e.loop(e.samples, speed, opts, e.stopCh, e.doneCh)

	slog.Info("Playback started", "name", e.info.Name, "samples", len(e.samples), "speed", speed, "discipline", opts.Discipline)
	return nil
}

// Stop ends playback and waits briefly for the goroutine to exit. Stopping
// an engine that is not playing is a no-op.
func (e *Engine) Stop() error {
	e.mutex.Lock()
	stop, done := e.stopCh, e.doneCh
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	e.mutex.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(joinTimeout):
		return fmt.Errorf("playback goroutine did not exit within %s", joinTimeout)
	}
}

// Pause holds playback between two samples.
func (e *Engine) Pause() error {
	if !e.playing.Load() {
		return ErrNotPlaying
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.resumeCh == nil {
		e.resumeCh = make(chan struct{})
		e.paused.Store(true)
		slog.Info("Playback paused", "sample", e.index.Load())
	}
	return nil
}

// Resume continues a paused playback.
func (e *Engine) Resume() error {
	if !e.playing.Load() {
		return ErrNotPlaying
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.resumeCh != nil {
		close(e.resumeCh)
		e.resumeCh = nil
		e.paused.Store(false)
		slog.Info("Playback resumed", "sample", e.index.Load())
	}
	return nil
}

func (e *Engine) IsPlaying() bool { return e.playing.Load() }

func (e *Engine) IsPaused() bool { return e.paused.Load() }

// CurrentSample returns the number of samples sent in the current run.
func (e *Engine) CurrentSample() int {
	return int(e.index.Load())
}

// TotalSamples returns the length of the sequence being played.
func (e *Engine) TotalSamples() int {
	return int(e.total.Load())
}

// Progress returns the percentage of samples sent.
func (e *Engine) Progress() float64 {
	total := e.total.Load()
	if total == 0 {
		return 0
	}
	return float64(e.index.Load()) / float64(total) * 100
}

// Outcome returns how the last run ended, or OutcomeNone while it is running.
func (e *Engine) Outcome() Outcome {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.outcome
}

// Done returns a channel closed when the current run ends. It is already
// closed when no run was ever started.
func (e *Engine) Done() <-chan struct{} {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.doneCh == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return e.doneCh
}

// Wait blocks until the current run ends or ctx is done.
func (e *Engine) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-e.Done():
		return e.Outcome(), nil
	case <-ctx.Done():
		return OutcomeNone, ctx.Err()
	}
}

func (e *Engine) pauseGate() <-chan struct{} {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.resumeCh
}

// Speed returns the multiplier of the current or last run.
func (e *Engine) Speed() float64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.speed
}
