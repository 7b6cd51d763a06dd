package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/library"
	"github.com/kevinboards/piperRobotAutoSystem/internal/monitor"
	"github.com/kevinboards/piperRobotAutoSystem/internal/recorder"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record arm motion while it is hand-guided",
	Long: `Open a recording session and capture joint positions while the arm is in
teaching mode. Capture pauses whenever the arm leaves teaching mode and
resumes when it returns, so one file can hold several teaching segments.

Press Ctrl+C to stop. Without a name the file is named after the current time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		now, _ := cmd.Flags().GetBool("now")
		description, _ := cmd.Flags().GetString("description")
		if description == "" {
			description = cfg.Recording.Description
		}

		a, err := arm.Open(cfg.Arm.Driver)
		if err != nil {
			return err
		}
		path, err := library.New(cfg.Storage.RecordingsDir).NewPath(name, time.Now())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// session is assigned before the monitor starts polling
		var session *recorder.Session
		mon := monitor.New(a, cfg.Monitor.Interval(), monitor.Callbacks{
			OnEnterTeaching: func() {
				if session.ResumeCapture() {
					slog.Info("Arm in TEACHING mode, capturing", "segment", session.Stats().SegmentCount)
				}
			},
			OnLeaveTeaching: func(new monitor.State) {
				if session.PauseCapture() {
					slog.Info("Arm left TEACHING mode, capture paused", "state", new)
				}
			},
		})

		capturing := now || mon.Poll() == monitor.StateTeaching
		rec := recorder.New(a)
		session, err = rec.Open(ctx, recorder.Config{
			Path:         path,
			Description:  description,
			SampleRateHz: cfg.Recording.SampleRateHz,
			FlushEvery:   cfg.Recording.FlushEvery,
			Handshake:    cfg.Arm.Handshake(),
		}, capturing)
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		if !now {
			mon.Start()
		}
		if capturing {
			slog.Info("Recording... Press Ctrl+C to stop", "file", session.Path())
		} else {
			slog.Info("Waiting for arm to enter TEACHING mode... Press Ctrl+C to stop", "file", session.Path(), "state", mon.State())
		}

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
	wait:
		for {
			select {
			case <-ctx.Done():
				break wait
			case <-ticker.C:
				st := session.Stats()
				slog.Debug("Recording progress",
					"samples", st.SampleCount,
					"segments", st.SegmentCount,
					"capturing", st.Capturing,
					"rate", fmt.Sprintf("%.1f", st.CurrentRate))
			}
		}

		slog.Info("Stopping recording...")
		mon.Stop()
		summary, err := rec.Close()
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}

		fmt.Printf("Recording saved: %s\n", summary.Path)
		fmt.Printf("  samples:  %d\n", summary.SampleCount)
		fmt.Printf("  segments: %d\n", summary.SegmentCount)
		fmt.Printf("  duration: %.1fs\n", summary.Duration.Seconds())
		fmt.Printf("  rate:     %.1f Hz\n", summary.AverageRate)
		return nil
	},
}

func init() {
	recordCmd.Flags().Bool("now", false, "capture immediately instead of waiting for teaching mode")
	recordCmd.Flags().StringP("description", "d", "", "description stored in the file header (overrides config)")
}
