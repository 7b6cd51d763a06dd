package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/library"
	"github.com/kevinboards/piperRobotAutoSystem/internal/player"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <recording>",
	Short: "Replay a recording on the arm",
	Long: `Replay a recording through the arm's joint control interface.

The timestamp discipline schedules each sample at its recorded offset; the
fixed discipline sends one frame per fixed_interval_ms. Press Ctrl+C to stop
the arm mid-playback.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		speed, _ := cmd.Flags().GetFloat64("speed")
		disciplineFlag, _ := cmd.Flags().GetString("discipline")
		if disciplineFlag == "" {
			disciplineFlag = cfg.Playback.Discipline
		}
		discipline, err := player.ParseDiscipline(disciplineFlag)
		if err != nil {
			return err
		}

		rec, err := library.New(cfg.Storage.RecordingsDir).Recording(args[0])
		if err != nil {
			return err
		}

		a, err := arm.Open(cfg.Arm.Driver)
		if err != nil {
			return err
		}
		engine := player.New(a, cfg.Playback.MinSpeed, cfg.Playback.MaxSpeed)
		if err := engine.CheckSpeed(speed); err != nil {
			return err
		}
		info, err := engine.Load(args[0], rec)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := arm.PrepareForPlayback(ctx, a, cfg.Arm.Handshake()); err != nil {
			return fmt.Errorf("failed to prepare arm for playback: %w", err)
		}

		start := time.Now()
		err = engine.Start(speed, player.Options{
			Discipline: discipline,
			Interval:   cfg.Playback.FixedInterval(),
			LagWarn:    cfg.Playback.LagWarn(),
		})
		if err != nil {
			return fmt.Errorf("failed to start playback: %w", err)
		}
		slog.Info("Playing... Press Ctrl+C to stop",
			"recording", info.Name,
			"samples", info.SampleCount,
			"duration", fmt.Sprintf("%.1fs", info.DurationSec/speed))

		outcome, err := engine.Wait(ctx)
		if errors.Is(err, context.Canceled) {
			slog.Info("Stopping playback...")
			if err := engine.Stop(); err != nil {
				return err
			}
			outcome = engine.Outcome()
		} else if err != nil {
			return err
		}

		fmt.Printf("Playback %s: %d/%d samples in %.1fs\n",
			outcome, engine.CurrentSample(), engine.TotalSamples(), time.Since(start).Seconds())
		return nil
	},
}

func init() {
	playCmd.Flags().Float64P("speed", "s", 1.0, "speed multiplier")
	playCmd.Flags().String("discipline", "", "playback pacing: timestamp or fixed (overrides config)")
}
