package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

const watchDebounce = 250 * time.Millisecond

// WatchRecordings broadcasts a fresh recordings_list once the recording
// files in the recordings directory settle after a change. A file being
// recorded keeps postponing the broadcast until it stops growing. It
// returns when ctx is cancelled.
func (s *Server) WatchRecordings(ctx context.Context) error {
	dir := s.library.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create recordings directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	slog.Info("Watching recordings directory", "dir", dir)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher channel closed")
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ppr.Extension) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("Recordings directory changed", "file", filepath.Base(event.Name), "op", event.Op.String())
			pending = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			slog.Warn("fsnotify watcher error", "error", err)
		case <-pending:
			pending = nil
			s.post(s.broadcastRecordings)
		}
	}
}

func (s *Server) broadcastRecordings() {
	if len(s.clients) == 0 {
		return
	}
	recordings, err := s.library.List()
	if err != nil {
		slog.Warn("Failed to list recordings", "error", err)
		return
	}
	s.broadcast(recordingsListMessage{Type: "recordings_list", Recordings: recordings})
}
