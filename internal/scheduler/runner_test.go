package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/player"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
	"github.com/kevinboards/piperRobotAutoSystem/internal/timeline"
)

var fastHandshake = arm.Handshake{Attempts: 3, Interval: time.Millisecond}

type mapResolver map[string]*ppr.Recording

func (m mapResolver) Recording(ref string) (*ppr.Recording, error) {
	rec, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("recording %s not found", ref)
	}
	return rec, nil
}

// recordingOf returns n samples 5 ms apart; joint 0 carries tag.
func recordingOf(n int, tag float64) *ppr.Recording {
	rec := &ppr.Recording{Header: ppr.Header{Version: ppr.DefaultVersion}}
	for i := 0; i < n; i++ {
		rec.Samples = append(rec.Samples, ppr.Sample{
			Timestamp: 1_700_000_000_000 + int64(i)*5,
			Joints:    ppr.Joints{tag, float64(i)},
		})
	}
	return rec
}

type sleepLog struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepLog) get() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

type hookLog struct {
	mu        sync.Mutex
	started   []string
	completed []bool
	positions []float64
	skipped   []string
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnNodeStart: func(id string) { h.mu.Lock(); h.started = append(h.started, id); h.mu.Unlock() },
		OnClipStart: func(c timeline.Clip) { h.mu.Lock(); h.started = append(h.started, c.Name); h.mu.Unlock() },
		OnProgress:  func(p float64) { h.mu.Lock(); h.positions = append(h.positions, p); h.mu.Unlock() },
		OnComplete:  func(stopped bool) { h.mu.Lock(); h.completed = append(h.completed, stopped); h.mu.Unlock() },
		OnSkip:      func(name string, err error) { h.mu.Lock(); h.skipped = append(h.skipped, name); h.mu.Unlock() },
	}
}

func newRunner(sim *arm.Sim, res Resolver) (*Runner, *sleepLog) {
	r := NewRunner(player.New(sim, 0, 0), sim, res, fastHandshake)
	sl := &sleepLog{}
	r.Sleep = sl.sleep
	return r, sl
}

func TestRunNodesDelayScalesWithGlobalSpeed(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := arm.NewSim()
	r, sl := newRunner(sim, mapResolver{"a.ppr": recordingOf(3, 1), "b.ppr": recordingOf(3, 2)})
	hl := &hookLog{}

	order := []Node{
		{ID: "n1", RecordingName: "a.ppr", Speed: 1, DelayAfter: 1.0},
		{ID: "n2", RecordingName: "b.ppr", Speed: 0.5},
	}
	require.NoError(t, r.RunNodes(context.Background(), order, 2.0, hl.hooks()))

	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sl.get())
	assert.Equal(t, []string{"n1", "n2"}, hl.started)
	assert.Equal(t, []bool{false}, hl.completed)

	moves := sim.Moves()
	require.Len(t, moves, 6)
	assert.Equal(t, 1.0, moves[0][0])
	assert.Equal(t, 2.0, moves[5][0])
	assert.Equal(t, arm.MotionModePrepare, sim.MotionModes()[0])
}

func TestRunNodesRealDelay(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := arm.NewSim()
	r := NewRunner(player.New(sim, 0, 0), sim, mapResolver{"a.ppr": recordingOf(2, 1), "b.ppr": recordingOf(2, 2)}, fastHandshake)

	var mu sync.Mutex
	starts := map[string]time.Time{}
	hooks := Hooks{OnNodeStart: func(id string) { mu.Lock(); starts[id] = time.Now(); mu.Unlock() }}
	order := []Node{{ID: "n1", RecordingName: "a.ppr", DelayAfter: 1.0}, {ID: "n2", RecordingName: "b.ppr"}}
	require.NoError(t, r.RunNodes(context.Background(), order, 2.0, hooks))

	gap := starts["n2"].Sub(starts["n1"])
	assert.GreaterOrEqual(t, gap, 500*time.Millisecond)
	assert.Less(t, gap, 700*time.Millisecond)
}

func TestRunNodesSkipsUnplayableNodes(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := arm.NewSim()
	r, _ := newRunner(sim, mapResolver{"a.ppr": recordingOf(2, 1)})
	hl := &hookLog{}
	order := []Node{
		{ID: "blank"},
		{ID: "missing", RecordingName: "gone.ppr"},
		{ID: "tooFast", RecordingName: "a.ppr", Speed: 3},
		{ID: "ok", RecordingName: "a.ppr"},
	}
	require.NoError(t, r.RunNodes(context.Background(), order, 2.0, hl.hooks()))
	assert.Equal(t, []string{"missing", "tooFast", "ok"}, hl.started)
	assert.Equal(t, []string{"missing", "tooFast"}, hl.skipped)
	assert.Len(t, sim.Moves(), 2)
}

func TestRunNodesCancelStopsCurrentNode(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := arm.NewSim()
	engine := player.New(sim, 0, 0)
	r := NewRunner(engine, sim, mapResolver{"long.ppr": recordingOf(2000, 1)}, fastHandshake)
	hl := &hookLog{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.RunNodes(ctx, []Node{{ID: "n1", RecordingName: "long.ppr"}, {ID: "n2", RecordingName: "long.ppr"}}, 1.0, hl.hooks())
	}()

	require.Eventually(t, func() bool { return engine.CurrentSample() > 2 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.False(t, engine.IsPlaying())
	assert.Equal(t, []string{"n1"}, hl.started)
	assert.Equal(t, []bool{true}, hl.completed)
}

func TestRunNodesEnableFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := arm.NewSim()
	sim.SetEnableAfter(-1)
	r, _ := newRunner(sim, mapResolver{})
	hl := &hookLog{}
	err := r.RunNodes(context.Background(), []Node{{ID: "n1", RecordingName: "a.ppr"}}, 1.0, hl.hooks())
	require.ErrorIs(t, err, arm.ErrEnableFailed)
	assert.Equal(t, []bool{false}, hl.completed)
	assert.Empty(t, hl.started)
}

func TestRunTimelineHoldsGapsAndAppliesTrim(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := arm.NewSim()
	long := recordingOf(401, 1) // 2 s at 5 ms
	r, sl := newRunner(sim, mapResolver{"a.ppr": long, "b.ppr": recordingOf(3, 2)})
	r.Options.Interval = 100 * time.Microsecond
	hl := &hookLog{}

	tl := timeline.New("demo")
	a, err := timeline.NewClip("a.ppr", 0, 2.0, 0, 1.0)
	require.NoError(t, err)
	b, err := timeline.NewClip("b.ppr", 3.0, 0.01, 0, 0)
	require.NoError(t, err)
	off, err := timeline.NewClip("b.ppr", 1.5, 0.01, 0, 0)
	require.NoError(t, err)
	off.Enabled = false
	for _, c := range []timeline.Clip{b, off, a} {
		require.NoError(t, tl.AddClip(c))
	}

	require.NoError(t, r.RunTimeline(context.Background(), tl, 2.0, hl.hooks()))

	assert.Equal(t, []string{"a", "b"}, hl.started)
	// Clip a ends at 1.0 s, b starts at 3.0 s: 2 s of gap at 2x.
	assert.Equal(t, []time.Duration{time.Second}, sl.get())
	assert.InDeltaSlice(t, []float64{1.0, 3.0, 3.01}, hl.positions, 1e-9)
	// 1 s trimmed off the end leaves 201 samples, then 3 from b.
	assert.Len(t, sim.Moves(), 204)
	for _, m := range sim.MotionModes()[1:] {
		assert.Equal(t, arm.MotionModeFrame, m)
	}
	assert.Equal(t, []bool{false}, hl.completed)
}

func TestRunTimelineRejectsEmpty(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := arm.NewSim()
	r, _ := newRunner(sim, mapResolver{})
	hl := &hookLog{}
	require.Error(t, r.RunTimeline(context.Background(), timeline.New("empty"), 1.0, hl.hooks()))
	assert.Equal(t, []bool{false}, hl.completed)
	assert.Equal(t, 0, sim.EnableCalls())
}

func TestRunTimelineReportsSkippedClips(t *testing.T) {
	defer goleak.VerifyNone(t)

	sim := arm.NewSim()
	r, _ := newRunner(sim, mapResolver{"a.ppr": recordingOf(3, 1)})
	hl := &hookLog{}

	tl := timeline.New("demo")
	gone, err := timeline.NewClip("gone.ppr", 0, 0.01, 0, 0)
	require.NoError(t, err)
	ok, err := timeline.NewClip("a.ppr", 0.01, 0.01, 0, 0)
	require.NoError(t, err)
	require.NoError(t, tl.AddClip(gone))
	require.NoError(t, tl.AddClip(ok))

	require.NoError(t, r.RunTimeline(context.Background(), tl, 1.0, hl.hooks()))
	assert.Equal(t, []string{"gone", "a"}, hl.started)
	assert.Equal(t, []string{"gone"}, hl.skipped)
	assert.Len(t, sim.Moves(), 3)
}
