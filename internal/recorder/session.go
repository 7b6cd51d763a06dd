package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

var (
	// ErrSessionOpen is returned when a session is opened while another one is open.
	ErrSessionOpen = errors.New("a recording session is already open")
	// ErrSessionClosed is returned by operations on a closed or missing session.
	ErrSessionClosed = errors.New("recording session is not open")
)

// Session is one open recording file plus its capture goroutine.
type Session struct {
	cfg    Config
	sig    *signals
	stats  *counters
	closed atomic.Bool
}

// Start creates the recording file, writes its header and starts the
// capture goroutine. No hardware handshake is performed; see Recorder.Open.
func Start(cfg Config, src Source, startCapturing bool) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	w, err := ppr.Create(cfg.Path, cfg.header())
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:   cfg,
		sig:   newSignals(startCapturing),
		stats: &counters{started: time.Now()},
	}
	if startCapturing {
		s.stats.newSegment()
	}

	go captureLoop(cfg, src, w, s.sig, s.stats)

	slog.Info("Recording session opened", "file", cfg.Path, "rate_hz", cfg.SampleRateHz, "capturing", startCapturing)
	return s, nil
}

// Path returns the recording file path.
func (s *Session) Path() string {
	return s.cfg.Path
}

// IsOpen reports whether the session has not been closed.
func (s *Session) IsOpen() bool {
	return !s.closed.Load()
}

// IsCapturing reports whether samples are currently being written.
func (s *Session) IsCapturing() bool {
	return s.sig.capturing.Load()
}

// ResumeCapture starts a new segment. It reports whether capture was
// actually off before the call.
func (s *Session) ResumeCapture() bool {
	if s.closed.Load() {
		return false
	}
	if !s.sig.capturing.CompareAndSwap(false, true) {
		return false
	}
	s.stats.newSegment()
	slog.Info("Capture resumed", "file", s.cfg.Path, "segment", s.stats.segments.Load())
	return true
}

// PauseCapture stops writing samples and waits until every buffered
// sample is on disk. It reports whether capture was actually on.
func (s *Session) PauseCapture() bool {
	if !s.sig.capturing.CompareAndSwap(true, false) {
		return false
	}

	ack := make(chan error, 1)
	select {
	case s.sig.flush <- ack:
		if err := <-ack; err != nil {
			slog.Error("Failed to flush on pause", "file", s.cfg.Path, "error", err)
		}
	case <-s.sig.done:
	}

	slog.Info("Capture paused", "file", s.cfg.Path, "samples", s.stats.samples.Load())
	return true
}

// Stats returns a copy of the session counters. Safe from any goroutine.
func (s *Session) Stats() Stats {
	return s.stats.snapshot(s.sig.capturing.Load())
}

// Close pauses capture, stops the capture goroutine, closes the file and
// returns the session totals.
func (s *Session) Close() (Summary, error) {
	if !s.closed.CompareAndSwap(false, true) {
		return Summary{}, ErrSessionClosed
	}

	s.PauseCapture()
	close(s.sig.stop)

	var err error
	select {
	case <-s.sig.done:
		err = s.sig.closeErr
	case <-time.After(joinTimeout):
		err = fmt.Errorf("capture loop did not exit within %s", joinTimeout)
	}

	st := s.stats.snapshot(false)
	sum := Summary{
		Filename:     filepath.Base(s.cfg.Path),
		Path:         s.cfg.Path,
		SampleCount:  st.SampleCount,
		SegmentCount: st.SegmentCount,
		Duration:     st.Duration,
		AverageRate:  st.CurrentRate,
	}

	slog.Info("Recording session closed",
		"file", sum.Filename,
		"samples", sum.SampleCount,
		"segments", sum.SegmentCount,
		"duration", sum.Duration.Round(time.Millisecond))
	return sum, err
}

// Recorder owns at most one open session at a time.
type Recorder struct {
	arm arm.Arm

	mutex   sync.Mutex
	session *Session
}

// New returns a recorder that captures from a.
func New(a arm.Arm) *Recorder {
	return &Recorder{arm: a}
}

// Open runs the enable handshake and starts a session. It fails with
// ErrSessionOpen while another session is open, and with arm.ErrEnableFailed
// when the handshake exhausts its retries; in both cases no file is created.
func (r *Recorder) Open(ctx context.Context, cfg Config, startCapturing bool) (*Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.session != nil {
		return nil, ErrSessionOpen
	}

	if err := arm.PrepareForRecording(ctx, r.arm, cfg.Handshake); err != nil {
		return nil, fmt.Errorf("failed to prepare arm for recording: %w", err)
	}

	s, err := Start(cfg, ArmSource{Arm: r.arm}, startCapturing)
	if err != nil {
		return nil, err
	}
	r.session = s
	return s, nil
}

// Session returns the open session or nil.
func (r *Recorder) Session() *Session {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.session
}

// Close closes the open session.
func (r *Recorder) Close() (Summary, error) {
	r.mutex.Lock()
	s := r.session
	r.session = nil
	r.mutex.Unlock()

	if s == nil {
		return Summary{}, ErrSessionClosed
	}
	return s.Close()
}
