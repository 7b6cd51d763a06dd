package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control server for the web UI",
	Long: `Start the Piper control server. The web UI connects to its websocket
endpoint to record, play back and sequence recordings from any device on
the same network.

The server will display the local network URL for easy access from mobile devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}
		if dir, _ := cmd.Flags().GetString("web-dir"); dir != "" {
			cfg.Server.WebDir = dir
		}

		a, err := arm.Open(cfg.Arm.Driver)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Piper control server starting",
			"port", cfg.Server.Port,
			"driver", cfg.Arm.Driver,
			"profile", cfg.Profile,
			"recordings", cfg.Storage.RecordingsDir)

		// Serve blocks until the signal context is cancelled
		if err := server.New(cfg, a).Serve(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		slog.Info("Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "port for the web server (overrides config)")
	serveCmd.Flags().String("web-dir", "", "directory holding the web UI (overrides config)")
}
