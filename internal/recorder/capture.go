package recorder

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

// signals are the only state shared between a session and its capture goroutine.
type signals struct {
	capturing atomic.Bool
	flush     chan chan error
	stop      chan struct{}
	done      chan struct{}

	// closeErr is written by the capture goroutine before done is closed.
	closeErr error
}

func newSignals(capturing bool) *signals {
	sig := &signals{
		flush: make(chan chan error),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	sig.capturing.Store(capturing)
	return sig
}

// captureLoop samples src every interval while capturing is set, buffering
// up to FlushEvery samples before writing them to w. The buffer belongs to
// this goroutine; other goroutines flush it through sig.flush. w is closed
// when the loop exits.
func captureLoop(cfg Config, src Source, w *ppr.Writer, sig *signals, c *counters) {
	defer close(sig.done)

	interval := cfg.Interval()
	buf := make([]ppr.Sample, 0, cfg.FlushEvery)

	flush := func() error {
		defer func() { buf = buf[:0] }()
		for _, s := range buf {
			if err := w.WriteSample(s); err != nil {
				return err
			}
		}
		return w.Flush()
	}

	defer func() {
		if err := flush(); err != nil {
			slog.Error("Failed to flush samples on stop", "file", w.Path(), "error", err)
			sig.closeErr = err
		}
		if err := w.Close(); err != nil && sig.closeErr == nil {
			sig.closeErr = err
		}
	}()

	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		timer.Reset(max(time.Until(next), 0))
	wait:
		for {
			select {
			case <-sig.stop:
				return
			case ack := <-sig.flush:
				ack <- flush()
			case <-timer.C:
				break wait
			}
		}

		if sig.capturing.Load() {
			s, err := src.ReadSample(time.Now())
			if err != nil {
				slog.Debug("Sample read failed, skipping tick", "error", err)
			} else {
				buf = append(buf, s)
				c.addSample()
				if cfg.OnSample != nil {
					cfg.OnSample()
				}
				if len(buf) >= cfg.FlushEvery {
					if err := flush(); err != nil {
						slog.Error("Failed to flush samples", "file", w.Path(), "error", err)
					}
				}
			}
		}

		next = next.Add(interval)
		// Resnap instead of bursting catch-up samples.
		if now := time.Now(); now.After(next.Add(interval)) {
			next = now
		}
	}
}
