package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/player"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
	"github.com/kevinboards/piperRobotAutoSystem/internal/timeline"
)

// Resolver loads a recording by name or file reference.
type Resolver interface {
	Recording(ref string) (*ppr.Recording, error)
}

// Engine is the part of the playback engine a Runner drives.
type Engine interface {
	LoadSamples(name string, samples []ppr.Sample) (player.Info, error)
	Start(speed float64, opts player.Options) error
	Stop() error
	Done() <-chan struct{}
}

// Hooks are called from the runner goroutine.
type Hooks struct {
	OnNodeStart func(id string)
	OnClipStart func(c timeline.Clip)
	// OnProgress reports the timeline position in seconds after each clip or gap.
	OnProgress func(position float64)
	// OnSkip reports a node or clip that was skipped because its recording
	// could not be loaded or played. name is the node ID or clip label.
	OnSkip func(name string, err error)
	// OnComplete is called exactly once when a run ends, stopped or not.
	OnComplete func(stopped bool)
}

var errEmptyClip = errors.New("clip is empty after trimming")

func (h Hooks) skip(name string, err error) {
	if h.OnSkip != nil {
		h.OnSkip(name, err)
	}
}

// EffectiveSpeed is the engine speed for a node or clip multiplier under
// the global multiplier. An unset multiplier counts as 1.
func EffectiveSpeed(multiplier, global float64) float64 {
	if multiplier <= 0 {
		multiplier = 1.0
	}
	return multiplier * global
}

// Runner plays node sequences and clip timelines one run at a time.
type Runner struct {
	engine    Engine
	arm       arm.Arm
	resolver  Resolver
	handshake arm.Handshake

	// Options apply to node runs. Clip runs always use the fixed discipline.
	Options player.Options
	// Sleep waits between nodes and holds gaps. It returns ctx.Err() when cancelled.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(engine Engine, a arm.Arm, resolver Resolver, h arm.Handshake) *Runner {
	return &Runner{
		engine:    engine,
		arm:       a,
		resolver:  resolver,
		handshake: h,
		Sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// play runs one sequence to completion. It reports false when ctx ended first.
func (r *Runner) play(ctx context.Context, name string, samples []ppr.Sample, speed float64, opts player.Options) (bool, error) {
	if _, err := r.engine.LoadSamples(name, samples); err != nil {
		return true, err
	}
	if err := r.engine.Start(speed, opts); err != nil {
		return true, err
	}
	select {
	case <-r.engine.Done():
		return true, nil
	case <-ctx.Done():
		if err := r.engine.Stop(); err != nil {
			slog.Warn("Failed to stop playback", "error", err)
		}
		return false, nil
	}
}

func (r *Runner) finish(ctx context.Context, hooks Hooks) {
	if hooks.OnComplete != nil {
		hooks.OnComplete(ctx.Err() != nil)
	}
}

// RunNodes plays nodes in order at node speed times globalSpeed, sleeping
// each node's delay divided by globalSpeed afterwards. Nodes whose recording
// cannot be loaded or played are reported through OnSkip and skipped.
// Cancelling ctx stops the current node and ends the run.
func (r *Runner) RunNodes(ctx context.Context, order []Node, globalSpeed float64, hooks Hooks) error {
	defer r.finish(ctx, hooks)
	if globalSpeed <= 0 {
		return fmt.Errorf("global speed must be positive, got %.2f", globalSpeed)
	}

	slog.Info("Starting node sequence", "nodes", len(order), "speed", globalSpeed)
	if err := arm.PrepareForPlayback(ctx, r.arm, r.handshake); err != nil {
		return fmt.Errorf("failed to prepare arm for playback: %w", err)
	}

	for i, n := range order {
		if ctx.Err() != nil {
			break
		}
		if n.RecordingName == "" {
			slog.Warn("Node has no recording, skipping", "node", n.ID)
			continue
		}
		if hooks.OnNodeStart != nil {
			hooks.OnNodeStart(n.ID)
		}

		speed := EffectiveSpeed(n.Speed, globalSpeed)
		slog.Info("Playing node", "index", i, "node", n.ID, "recording", n.RecordingName, "speed", speed)

		rec, err := r.resolver.Recording(n.RecordingName)
		if err != nil {
			slog.Error("Failed to load node recording", "node", n.ID, "recording", n.RecordingName, "error", err)
			hooks.skip(n.ID, err)
			continue
		}
		completed, err := r.play(ctx, n.RecordingName, rec.Samples, speed, r.Options)
		if err != nil {
			slog.Error("Failed to play node", "node", n.ID, "error", err)
			hooks.skip(n.ID, err)
			continue
		}
		if !completed {
			break
		}

		if n.DelayAfter > 0 {
			if err := r.Sleep(ctx, time.Duration(n.DelayAfter/globalSpeed*float64(time.Second))); err != nil {
				break
			}
		}
	}

	if ctx.Err() != nil {
		slog.Info("Node sequence stopped")
	} else {
		slog.Info("Node sequence completed")
	}
	return nil
}

// RunTimeline plays the enabled clips of tl in start-time order with their
// trims applied, at clip speed times globalSpeed, using fixed-rate frames.
// The arm holds its last position through gaps between clips.
func (r *Runner) RunTimeline(ctx context.Context, tl *timeline.Timeline, globalSpeed float64, hooks Hooks) error {
	defer r.finish(ctx, hooks)
	if globalSpeed <= 0 {
		return fmt.Errorf("global speed must be positive, got %.2f", globalSpeed)
	}

	var clips []timeline.Clip
	for _, c := range tl.Sorted() {
		if c.Enabled {
			clips = append(clips, c)
		}
	}
	if len(clips) == 0 {
		return errors.New("timeline has no enabled clips")
	}

	slog.Info("Starting timeline", "name", tl.Name, "clips", len(clips), "duration", tl.TotalDuration(), "speed", globalSpeed)
	if err := arm.PrepareForPlayback(ctx, r.arm, r.handshake); err != nil {
		return fmt.Errorf("failed to prepare arm for playback: %w", err)
	}

	progress := func(pos float64) {
		if hooks.OnProgress != nil {
			hooks.OnProgress(pos)
		}
	}

	opts := r.Options
	opts.Discipline = player.DisciplineFixed
	var position float64
	for _, c := range clips {
		if ctx.Err() != nil {
			break
		}
		if gap := c.StartTime - position; gap > 0 {
			slog.Debug("Holding position through gap", "seconds", gap)
			if err := r.Sleep(ctx, time.Duration(gap/globalSpeed*float64(time.Second))); err != nil {
				break
			}
			position = c.StartTime
			progress(position)
		}

		if hooks.OnClipStart != nil {
			hooks.OnClipStart(c)
		}
		position = max(position, c.EndTime())

		rec, err := r.resolver.Recording(c.RecordingFile)
		if err != nil {
			slog.Error("Failed to load clip recording", "clip", c.Label(), "recording", c.RecordingFile, "error", err)
			hooks.skip(c.Label(), err)
			progress(position)
			continue
		}
		samples := timeline.ApplyTrim(rec.Samples, c.TrimStart, c.TrimEnd)
		if len(samples) == 0 {
			slog.Warn("Clip is empty after trimming, skipping", "clip", c.Label())
			hooks.skip(c.Label(), errEmptyClip)
			progress(position)
			continue
		}

		speed := EffectiveSpeed(c.Speed, globalSpeed)
		slog.Info("Playing clip", "clip", c.Label(), "samples", len(samples), "speed", speed)
		completed, err := r.play(ctx, c.Label(), samples, speed, opts)
		if err != nil {
			slog.Error("Failed to play clip", "clip", c.Label(), "error", err)
			hooks.skip(c.Label(), err)
		}
		if !completed {
			break
		}
		progress(position)
	}

	if ctx.Err() != nil {
		slog.Info("Timeline stopped", "name", tl.Name)
	} else {
		slog.Info("Timeline completed", "name", tl.Name)
	}
	return nil
}
