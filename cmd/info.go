package cmd

import (
	"fmt"

	"github.com/kevinboards/piperRobotAutoSystem/internal/library"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <recording>",
	Short: "Show the header and statistics of a recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib := library.New(cfg.Storage.RecordingsDir)
		path, err := lib.Resolve(args[0])
		if err != nil {
			return err
		}
		info, err := ppr.Stat(path)
		if err != nil {
			return err
		}

		fmt.Printf("=== RECORDING ===\n")
		fmt.Printf("path: %s\n", path)
		fmt.Printf("version: %s\n", info.Version)
		fmt.Printf("created: %s\n", info.Created.Format("2006-01-02 15:04:05"))
		if info.Description != "" {
			fmt.Printf("description: %s\n", info.Description)
		}

		fmt.Printf("\n=== SAMPLES ===\n")
		fmt.Printf("count: %d\n", info.SampleCount)
		fmt.Printf("duration: %.2fs\n", info.DurationSec)
		fmt.Printf("declared_rate: %d Hz\n", info.SampleRateHz)
		if info.DurationSec > 0 {
			fmt.Printf("actual_rate: %.1f Hz\n", float64(info.SampleCount-1)/info.DurationSec)
		}
		fmt.Printf("first_timestamp: %d\n", info.StartTimestamp)
		fmt.Printf("last_timestamp: %d\n", info.EndTimestamp)
		return nil
	},
}

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"ls"},
	Short:   "List the recordings directory",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lib := library.New(cfg.Storage.RecordingsDir)
		recordings, err := lib.List()
		if err != nil {
			return err
		}
		if len(recordings) == 0 {
			fmt.Printf("No recordings in %s\n", lib.Dir())
			return nil
		}

		fmt.Printf("%d recording(s) in %s\n\n", len(recordings), lib.Dir())
		for _, r := range recordings {
			fmt.Printf("  %-32s %8.1fs %7d samples %9s  %s\n", r.Name, r.Duration, r.Samples, r.SizeHuman, r.ModTimeHuman)
		}
		return nil
	},
}
