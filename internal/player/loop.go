package player

import (
	"log/slog"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

// loop sends samples in order. Between two samples it honours the pause
// gate and the stop channel; a sample is never skipped or reordered by a pause.
func (e *Engine) loop(samples []ppr.Sample, speed float64, opts Options, stop <-chan struct{}, done chan struct{}) {
	outcome := OutcomeStopped
	defer func() {
		e.mutex.Lock()
		e.outcome = outcome
		e.resumeCh = nil
		e.mutex.Unlock()
		e.paused.Store(false)
		e.playing.Store(false)

		slog.Info("Playback finished", "outcome", outcome, "sent", e.index.Load(), "total", len(samples))
		if opts.OnFinish != nil {
			opts.OnFinish(outcome)
		}
		close(done)
	}()

	frame := time.Duration(float64(opts.Interval) / speed)
	t0 := samples[0].Timestamp
	start := time.Now()
	next := start
	var paused time.Duration

	timer := time.NewTimer(0)
	defer timer.Stop()
	sleep := func(d time.Duration) bool {
		if d <= 0 {
			select {
			case <-stop:
				return false
			default:
				return true
			}
		}
		timer.Reset(d)
		select {
		case <-stop:
			return false
		case <-timer.C:
			return true
		}
	}

	for i, s := range samples {
		if gate := e.pauseGate(); gate != nil {
			pausedAt := time.Now()
			select {
			case <-gate:
			case <-stop:
				return
			}
			paused += time.Since(pausedAt)
			next = time.Now()
		}

		select {
		case <-stop:
			return
		default:
		}

		if opts.Discipline == DisciplineFixed {
			if err := e.arm.SetMotionMode(arm.MotionModeFrame); err != nil {
				slog.Debug("Motion mode frame failed", "sample", i, "error", err)
			}
		}
		if err := arm.SendSample(e.arm, s); err != nil {
			slog.Warn("Playback command failed, skipping frame", "sample", i, "error", err)
		} else if opts.OnFrame != nil {
			opts.OnFrame()
		}
		e.index.Store(int64(i + 1))

		if i == len(samples)-1 {
			break
		}

		var wait time.Duration
		switch opts.Discipline {
		case DisciplineFixed:
			next = next.Add(frame)
			wait = time.Until(next)
			if wait < -frame {
				next = time.Now()
			}
		default:
			offset := time.Duration(float64(samples[i+1].Timestamp-t0) * float64(time.Millisecond) / speed)
			wait = time.Until(start.Add(paused + offset))
			if -wait > opts.LagWarn && e.lagLog.Allow() {
				slog.Warn("Playback running behind schedule", "sample", i+1, "behind_ms", (-wait).Milliseconds())
			}
		}
		if !sleep(wait) {
			return
		}
	}
	outcome = OutcomeCompleted
}
