package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/library"
	"github.com/kevinboards/piperRobotAutoSystem/internal/player"
	"github.com/kevinboards/piperRobotAutoSystem/internal/scheduler"
	"github.com/kevinboards/piperRobotAutoSystem/internal/timeline"

	"github.com/spf13/cobra"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Manage clip timelines",
	Long:  `Inspect, validate, play and delete the .ppt clip timelines stored in storage.timelines_dir.`,
}

// loadTimeline accepts either a stored timeline name or a path to a .ppt file.
func loadTimeline(ref string) (*timeline.Timeline, error) {
	if strings.HasSuffix(ref, timeline.Extension) {
		if _, err := os.Stat(ref); err == nil {
			return timeline.LoadFile(ref)
		}
	}
	return timeline.NewStore(cfg.Storage.TimelinesDir).Load(ref)
}

var timelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored timelines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := timeline.NewStore(cfg.Storage.TimelinesDir)
		infos, err := store.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Printf("No timelines in %s\n", store.Dir())
			return nil
		}
		for _, info := range infos {
			fmt.Printf("  %-32s %3d clips %8.1fs  modified %s\n", info.Name, info.ClipCount, info.TotalDuration, info.Modified)
		}
		return nil
	},
}

var timelineInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show the clips of a timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tl, err := loadTimeline(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("=== TIMELINE ===\n")
		fmt.Printf("name: %s\n", tl.Name)
		fmt.Printf("version: %s\n", tl.Version)
		fmt.Printf("duration: %.2fs\n", tl.TotalDuration())
		fmt.Printf("clips: %d (%d enabled)\n", len(tl.Clips), len(tl.EnabledClips()))

		fmt.Printf("\n=== CLIPS ===\n")
		for i, c := range tl.Sorted() {
			state := ""
			if !c.Enabled {
				state = " [disabled]"
			}
			fmt.Printf("%d. %s%s\n", i+1, c.Label(), state)
			fmt.Printf("   recording: %s\n", c.RecordingFile)
			fmt.Printf("   start: %.2fs  duration: %.2fs  speed: %.2fx\n", c.StartTime, c.Duration, c.Speed)
			if c.TrimStart > 0 || c.TrimEnd > 0 {
				fmt.Printf("   trim: %.2fs / %.2fs of %.2fs\n", c.TrimStart, c.TrimEnd, c.OriginalDuration)
			}
		}
		for _, g := range tl.Gaps() {
			fmt.Printf("gap: %.2fs - %.2fs\n", g.Start, g.End)
		}
		return nil
	},
}

var timelineValidateCmd = &cobra.Command{
	Use:   "validate <name>",
	Short: "Check a timeline for overlaps, missing recordings and bad trims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tl, err := loadTimeline(args[0])
		if err != nil {
			return err
		}
		lib := library.New(cfg.Storage.RecordingsDir)
		ok, warnings := tl.Validate(lib.Exists)
		if ok {
			fmt.Printf("Timeline '%s' is valid (%d clips)\n", tl.Name, len(tl.Clips))
			return nil
		}
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		return fmt.Errorf("timeline '%s' has %d problem(s)", tl.Name, len(warnings))
	},
}

var timelineDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored timeline (a backup copy is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := timeline.NewStore(cfg.Storage.TimelinesDir)
		if err := store.Delete(args[0]); err != nil {
			if errors.Is(err, timeline.ErrTimelineNotFound) {
				return fmt.Errorf("timeline not found: %s", args[0])
			}
			return err
		}
		fmt.Printf("Deleted timeline: %s\n", args[0])
		return nil
	},
}

var timelinePlayCmd = &cobra.Command{
	Use:   "play <name>",
	Short: "Play the enabled clips of a timeline on the arm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		speed, _ := cmd.Flags().GetFloat64("speed")
		tl, err := loadTimeline(args[0])
		if err != nil {
			return err
		}

		a, err := arm.Open(cfg.Arm.Driver)
		if err != nil {
			return err
		}
		engine := player.New(a, cfg.Playback.MinSpeed, cfg.Playback.MaxSpeed)
		runner := scheduler.NewRunner(engine, a, library.New(cfg.Storage.RecordingsDir), cfg.Arm.Handshake())
		runner.Options = player.Options{
			Interval: cfg.Playback.FixedInterval(),
			LagWarn:  cfg.Playback.LagWarn(),
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		total := tl.TotalDuration()
		err = runner.RunTimeline(ctx, tl, speed, scheduler.Hooks{
			OnClipStart: func(c timeline.Clip) {
				fmt.Printf("> %s (%.2fs)\n", c.Label(), c.StartTime)
			},
			OnProgress: func(position float64) {
				slog.Debug("Timeline position", "position", position, "total", total)
			},
			OnComplete: func(stopped bool) {
				if stopped {
					fmt.Println("Timeline stopped")
				} else {
					fmt.Println("Timeline complete")
				}
			},
		})
		if err != nil {
			return fmt.Errorf("playback error: %w", err)
		}
		return nil
	},
}

func init() {
	timelinePlayCmd.Flags().Float64P("speed", "s", 1.0, "global speed multiplier")

	timelineCmd.AddCommand(timelineListCmd)
	timelineCmd.AddCommand(timelineInfoCmd)
	timelineCmd.AddCommand(timelineValidateCmd)
	timelineCmd.AddCommand(timelineDeleteCmd)
	timelineCmd.AddCommand(timelinePlayCmd)
}
