package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/renameio/v2"
)

const (
	Extension = ".ppt"

	backupSuffix = ".backup"
	backupLayout = "20060102_150405"
)

var ErrTimelineNotFound = errors.New("timeline not found")

var (
	requiredFields     = []string{"version", "name", "clips"}
	requiredClipFields = []string{"id", "recording_file", "start_time", "duration"}
)

// Store keeps timeline files in one directory, one file per name.
type Store struct {
	dir string
}

// FileInfo summarises a stored timeline without decoding its clips.
type FileInfo struct {
	Name          string  `json:"name"`
	Version       string  `json:"version"`
	Created       string  `json:"created"`
	Modified      string  `json:"modified"`
	ClipCount     int     `json:"clip_count"`
	TotalDuration float64 `json:"total_duration"`
	FileSize      int64   `json:"file_size"`
	Path          string  `json:"path"`
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string {
	return s.dir
}

// SanitizeName keeps letters, digits, spaces, dashes and underscores.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Path returns the file a timeline name is stored under.
func (s *Store) Path(name string) (string, error) {
	safe := SanitizeName(name)
	if safe == "" {
		return "", fmt.Errorf("invalid timeline name '%s'", name)
	}
	return filepath.Join(s.dir, safe+Extension), nil
}

func (s *Store) existing(name string) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrTimelineNotFound, name)
		}
		return "", err
	}
	return path, nil
}

func (s *Store) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create timelines directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timeline %s: %w", path, err)
	}
	return nil
}

// Save writes tl under its own name and stamps its modification time.
func (s *Store) Save(tl *Timeline) (string, error) {
	path, err := s.Path(tl.Name)
	if err != nil {
		return "", err
	}
	tl.Modified = time.Now()
	data, err := json.MarshalIndent(tl, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode timeline: %w", err)
	}
	if err := s.write(path, data); err != nil {
		return "", err
	}
	slog.Info("Timeline saved", "name", tl.Name, "clips", len(tl.Clips), "path", path)
	return path, nil
}

// Load reads and decodes a timeline, rejecting files that lack required fields.
func (s *Store) Load(name string) (*Timeline, error) {
	path, err := s.existing(name)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads and decodes a timeline file.
func LoadFile(path string) (*Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode validates and decodes a .ppt document.
func Decode(data []byte) (*Timeline, error) {
	if problems := CheckDocument(data); len(problems) > 0 {
		return nil, fmt.Errorf("invalid timeline: %s", strings.Join(problems, "; "))
	}
	tl := &Timeline{}
	if err := json.Unmarshal(data, tl); err != nil {
		return nil, fmt.Errorf("invalid timeline: %w", err)
	}
	if !strings.HasPrefix(tl.Version, "2.") {
		slog.Warn("Timeline has unexpected version", "name", tl.Name, "version", tl.Version, "expected", "2.x")
	}
	return tl, nil
}

// CheckDocument lists the structural problems of a .ppt document.
func CheckDocument(data []byte) []string {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return []string{fmt.Sprintf("Invalid JSON: %v", err)}
	}
	var problems []string
	for _, f := range requiredFields {
		if _, ok := doc[f]; !ok {
			problems = append(problems, "Missing required field: "+f)
		}
	}
	if v, ok := doc["version"]; ok {
		if _, isString := v.(string); !isString {
			problems = append(problems, "Version must be a string")
		}
	}
	raw, ok := doc["clips"]
	if !ok {
		return problems
	}
	clips, ok := raw.([]any)
	if !ok {
		return append(problems, "Clips must be a list")
	}
	for i, rc := range clips {
		clip, ok := rc.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("Clip %d must be an object", i))
			continue
		}
		for _, f := range requiredClipFields {
			if _, ok := clip[f]; !ok {
				problems = append(problems, fmt.Sprintf("Clip %d missing required field: %s", i, f))
			}
		}
	}
	return problems
}

// SaveRaw stores a free-form JSON document under name.
func (s *Store) SaveRaw(name string, data json.RawMessage) (string, error) {
	if !json.Valid(data) {
		return "", errors.New("timeline data is not valid JSON")
	}
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	var pretty map[string]any
	if err := json.Unmarshal(data, &pretty); err == nil {
		if b, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			data = b
		}
	}
	if err := s.write(path, data); err != nil {
		return "", err
	}
	slog.Info("Timeline saved", "name", name, "path", path)
	return path, nil
}

// LoadRaw returns the stored document as is.
func (s *Store) LoadRaw(name string) (json.RawMessage, error) {
	path, err := s.existing(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("timeline %s is not valid JSON", name)
	}
	return data, nil
}

// Names lists stored timeline names alphabetically.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Extension {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), Extension))
	}
	sort.Strings(names)
	return names, nil
}

// List describes every stored timeline, most recently modified first.
// Unreadable files are skipped.
func (s *Store) List() ([]FileInfo, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(names))
	for _, name := range names {
		info, err := s.Info(name)
		if err != nil {
			slog.Debug("Skipping unreadable timeline", "name", name, "error", err)
			continue
		}
		infos = append(infos, info)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		ti, erri := parseTime(infos[i].Modified)
		tj, errj := parseTime(infos[j].Modified)
		if erri != nil || errj != nil {
			return infos[i].Modified > infos[j].Modified
		}
		return ti.After(tj)
	})
	return infos, nil
}

// Info reads the summary fields of a stored timeline.
func (s *Store) Info(name string) (FileInfo, error) {
	path, err := s.existing(name)
	if err != nil {
		return FileInfo{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileInfo{}, err
	}
	var doc struct {
		Name     string `json:"name"`
		Version  string `json:"version"`
		Created  string `json:"created"`
		Modified string `json:"modified"`
		Clips    []struct {
			StartTime float64 `json:"start_time"`
			Duration  float64 `json:"duration"`
		} `json:"clips"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return FileInfo{}, fmt.Errorf("%s: %w", path, err)
	}
	info := FileInfo{
		Name:      doc.Name,
		Version:   doc.Version,
		Created:   doc.Created,
		Modified:  doc.Modified,
		ClipCount: len(doc.Clips),
		FileSize:  int64(len(data)),
		Path:      path,
	}
	if info.Name == "" {
		info.Name = name
	}
	for _, c := range doc.Clips {
		info.TotalDuration = max(info.TotalDuration, c.StartTime+c.Duration)
	}
	return info, nil
}

// Backup copies a stored timeline next to itself with a timestamped name.
func (s *Store) Backup(name string) (string, error) {
	path, err := s.existing(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(filepath.Base(path), Extension)
	backup := filepath.Join(s.dir, fmt.Sprintf("%s_backup_%s%s%s", stem, time.Now().Format(backupLayout), Extension, backupSuffix))
	if err := s.write(backup, data); err != nil {
		return "", err
	}
	slog.Info("Timeline backup created", "path", backup)
	return backup, nil
}

// Delete removes a stored timeline after backing it up. A failed backup is
// logged and does not prevent the delete.
func (s *Store) Delete(name string) error {
	path, err := s.existing(name)
	if err != nil {
		return err
	}
	if _, err := s.Backup(name); err != nil {
		slog.Warn("Failed to back up timeline, deleting anyway", "name", name, "error", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete timeline %s: %w", name, err)
	}
	slog.Info("Timeline deleted", "name", name)
	return nil
}
