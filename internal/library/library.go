// Package library manages the recordings directory.
package library

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

const timeLayout = "2006-01-02 15:04:05"

var ErrRecordingNotFound = errors.New("recording not found")

// RecordingInfo describes one recording file.
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Duration     float64   `json:"duration"`
	Samples      int       `json:"samples"`
	Created      string    `json:"created"`
	Description  string    `json:"description,omitempty"`
}

// Library is a directory of .ppr files.
type Library struct {
	dir string
}

func New(dir string) *Library {
	return &Library{dir: dir}
}

func (l *Library) Dir() string {
	return l.dir
}

// List returns every recording, newest first. Files that fail to parse are
// still listed with zero duration and samples.
func (l *Library) List() ([]RecordingInfo, error) {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	files, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	recordings := []RecordingInfo{}
	for _, file := range files {
		if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), ppr.Extension) {
			continue
		}
		fi, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}
		recordings = append(recordings, l.describe(file.Name(), fi))
	}

	sort.Slice(recordings, func(i, j int) bool {
		if !recordings[i].ModTime.Equal(recordings[j].ModTime) {
			return recordings[i].ModTime.After(recordings[j].ModTime)
		}
		return recordings[i].Name > recordings[j].Name
	})
	return recordings, nil
}

func (l *Library) describe(name string, fi os.FileInfo) RecordingInfo {
	path := filepath.Join(l.dir, name)
	info := RecordingInfo{
		Name:         name,
		Path:         path,
		Size:         fi.Size(),
		SizeHuman:    formatBytes(fi.Size()),
		ModTime:      fi.ModTime(),
		ModTimeHuman: fi.ModTime().Format(timeLayout),
	}
	stat, err := ppr.Stat(path)
	if err != nil {
		slog.Debug("Failed to read recording", "file", name, "error", err)
		return info
	}
	info.Duration = math.Round(stat.DurationSec*100) / 100
	info.Samples = stat.SampleCount
	info.Description = stat.Description
	if !stat.Created.IsZero() {
		info.Created = stat.Created.Format(timeLayout)
	}
	return info
}

// Info describes a single recording.
func (l *Library) Info(name string) (RecordingInfo, error) {
	path, err := l.Resolve(name)
	if err != nil {
		return RecordingInfo{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return RecordingInfo{}, err
	}
	return l.describe(filepath.Base(path), fi), nil
}

// Resolve maps a recording name to its path. Names must be plain file names.
func (l *Library) Resolve(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid recording name '%s'", name)
	}
	path := filepath.Join(l.dir, name)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, name)
	}
	return path, nil
}

// Recording loads a recording by name. References carrying a directory,
// as clips do, are looked up by their base name.
func (l *Library) Recording(ref string) (*ppr.Recording, error) {
	path, err := l.Resolve(filepath.Base(ref))
	if err != nil {
		return nil, err
	}
	return ppr.Read(path)
}

// Exists reports whether ref resolves to a recording.
func (l *Library) Exists(ref string) bool {
	_, err := l.Resolve(filepath.Base(ref))
	return err == nil
}

// Delete removes a recording.
func (l *Library) Delete(name string) error {
	path, err := l.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete recording %s: %w", name, err)
	}
	slog.Info("Recording deleted", "name", name)
	return nil
}

// NewPath returns where a new recording called name should be written. An
// empty name yields a timestamped file name. When the file already exists
// a _2, _3, ... suffix is added so an earlier recording is never reused.
func (l *Library) NewPath(name string, now time.Time) (string, error) {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}
	base := cleanFileName(strings.TrimSuffix(name, ppr.Extension))
	if base == "" {
		base = strings.TrimSuffix(ppr.NewFilename(now), ppr.Extension)
	}
	path := filepath.Join(l.dir, base+ppr.Extension)
	for n := 2; exists(path); n++ {
		path = filepath.Join(l.dir, fmt.Sprintf("%s_%d%s", base, n, ppr.Extension))
	}
	return path, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func cleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
