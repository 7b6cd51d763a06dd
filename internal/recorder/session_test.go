package recorder

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

var errExhausted = errors.New("synthetic source exhausted")

// syntheticSource yields n samples spaced 5 ms apart, then fails every read.
type syntheticSource struct {
	mu   sync.Mutex
	n    int
	sent int
}

func (s *syntheticSource) ReadSample(time.Time) (ppr.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent >= s.n {
		return ppr.Sample{}, errExhausted
	}
	i := s.sent
	s.sent++
	return ppr.Sample{
		Timestamp: 1700000000000 + int64(i)*5,
		Joints:    ppr.Joints{float64(i), 0, 0, 0, 0, 0},
		Gripper:   ppr.Gripper{Code: 1},
	}, nil
}

func countDataLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if _, ok := ppr.ParseLine(sc.Text()); ok {
			n++
		}
	}
	require.NoError(t, sc.Err())
	return n
}

func testConfig(t *testing.T) Config {
	return Config{
		Path:         filepath.Join(t.TempDir(), "rec", "session.ppr"),
		Description:  "test",
		SampleRateHz: 200,
		FlushEvery:   7,
	}
}

func TestSessionFiftySamplesOneSegment(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	s, err := Start(cfg, &syntheticSource{n: 50}, false)
	require.NoError(t, err)

	assert.False(t, s.IsCapturing())
	assert.True(t, s.ResumeCapture())

	require.Eventually(t, func() bool {
		return s.Stats().SampleCount >= 50
	}, 5*time.Second, 5*time.Millisecond)

	assert.True(t, s.PauseCapture())
	// The file is consistent with the paused moment before Close.
	assert.Equal(t, 50, countDataLines(t, cfg.Path))

	sum, err := s.Close()
	require.NoError(t, err)
	assert.Equal(t, int64(50), sum.SampleCount)
	assert.Equal(t, int64(1), sum.SegmentCount)
	assert.Equal(t, "session.ppr", sum.Filename)

	assert.Equal(t, 50, countDataLines(t, cfg.Path))

	rec, err := ppr.Read(cfg.Path)
	require.NoError(t, err)
	for i, smp := range rec.Samples {
		require.Equal(t, float64(i), smp.Joints[0], "sample %d out of order", i)
	}
}

func TestResumePauseAreIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := Start(testConfig(t), &syntheticSource{n: 0}, false)
	require.NoError(t, err)

	assert.True(t, s.ResumeCapture())
	assert.False(t, s.ResumeCapture())
	assert.True(t, s.PauseCapture())
	assert.False(t, s.PauseCapture())
	assert.False(t, s.PauseCapture())

	assert.True(t, s.ResumeCapture())
	st := s.Stats()
	assert.Equal(t, int64(2), st.SegmentCount)
	assert.True(t, st.Capturing)

	_, err = s.Close()
	require.NoError(t, err)

	_, err = s.Close()
	require.ErrorIs(t, err, ErrSessionClosed)
	assert.False(t, s.ResumeCapture())
}

func TestSegmentSamplesResetOnResume(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := Start(testConfig(t), &syntheticSource{n: 1000}, true)
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool { return s.Stats().SegmentSamples >= 5 }, 5*time.Second, 5*time.Millisecond)
	require.True(t, s.PauseCapture())
	require.True(t, s.ResumeCapture())

	st := s.Stats()
	assert.Equal(t, int64(2), st.SegmentCount)
	assert.Less(t, st.SegmentSamples, st.SampleCount)
}

func TestHeaderOnlyRecordingWhenNeverCapturing(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig(t)
	s, err := Start(cfg, &syntheticSource{n: 10}, false)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	sum, err := s.Close()
	require.NoError(t, err)
	assert.Zero(t, sum.SampleCount)
	assert.Zero(t, sum.SegmentCount)

	data, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "; Piper Program Recording (PPR) File"))

	_, err = ppr.Read(cfg.Path)
	require.ErrorIs(t, err, ppr.ErrNoSamples)
}

func TestRecorderSingleSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := arm.NewSim()
	sim.SetStatus(arm.Status{CtrlMode: arm.CtrlModeTeaching})
	r := New(sim)
	cfg := testConfig(t)
	cfg.Handshake = arm.Handshake{Attempts: 3, Interval: time.Millisecond}

	s, err := r.Open(context.Background(), cfg, true)
	require.NoError(t, err)
	assert.Same(t, s, r.Session())

	_, err = r.Open(context.Background(), testConfig(t), false)
	require.ErrorIs(t, err, ErrSessionOpen)

	require.Eventually(t, func() bool { return s.Stats().SampleCount >= 10 }, 5*time.Second, 5*time.Millisecond)

	sum, err := r.Close()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sum.SampleCount, int64(10))
	assert.Nil(t, r.Session())

	_, err = r.Close()
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestRecorderEnableFailureCreatesNoFile(t *testing.T) {
	sim := arm.NewSim()
	sim.SetEnableAfter(-1)
	r := New(sim)
	cfg := testConfig(t)
	cfg.Handshake = arm.Handshake{Attempts: 3, Interval: time.Millisecond}

	_, err := r.Open(context.Background(), cfg, false)
	require.ErrorIs(t, err, arm.ErrEnableFailed)
	assert.Nil(t, r.Session())

	_, statErr := os.Stat(cfg.Path)
	assert.True(t, os.IsNotExist(statErr))
}

// stallingSource blocks once, on read number stallAt, for stall.
type stallingSource struct {
	mu       sync.Mutex
	stallAt  int
	stall    time.Duration
	reads    []time.Time
	stallEnd time.Time
}

func (s *stallingSource) ReadSample(now time.Time) (ppr.Sample, error) {
	s.mu.Lock()
	s.reads = append(s.reads, now)
	n := len(s.reads)
	s.mu.Unlock()

	if n == s.stallAt {
		time.Sleep(s.stall)
		s.mu.Lock()
		s.stallEnd = time.Now()
		s.mu.Unlock()
	}
	return ppr.Sample{Timestamp: now.UnixMilli(), Joints: ppr.Joints{float64(n)}}, nil
}

func (s *stallingSource) snapshot() ([]time.Time, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.reads...), s.stallEnd
}

func TestCaptureResnapsAfterStall(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &stallingSource{stallAt: 3, stall: 60 * time.Millisecond}
	s, err := Start(testConfig(t), src, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		reads, _ := src.snapshot()
		return len(reads) >= 20
	}, 5*time.Second, time.Millisecond)
	_, err = s.Close()
	require.NoError(t, err)

	reads, stallEnd := src.snapshot()
	require.False(t, stallEnd.IsZero())

	// A 60 ms stall at 200 Hz would owe 12 samples; none are made up.
	burst := 0
	for _, r := range reads {
		if r.After(stallEnd) && r.Sub(stallEnd) <= 4*time.Millisecond {
			burst++
		}
	}
	assert.LessOrEqual(t, burst, 2)
}
