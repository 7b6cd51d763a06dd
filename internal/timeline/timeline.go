package timeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Version is written to every saved timeline.
const Version = "2.0"

// Timeline is an ordered set of clips plus metadata.
type Timeline struct {
	Name     string
	Version  string
	Created  time.Time
	Modified time.Time
	Metadata map[string]any
	Clips    []Clip
}

// Gap is an empty span between two consecutive clips.
type Gap struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// New returns an empty timeline.
func New(name string) *Timeline {
	now := time.Now()
	return &Timeline{
		Name:     name,
		Version:  Version,
		Created:  now,
		Modified: now,
		Metadata: map[string]any{},
	}
}

func (t *Timeline) touch() {
	t.Modified = time.Now()
}

func (t *Timeline) indexOf(id string) int {
	for i := range t.Clips {
		if t.Clips[i].ID == id {
			return i
		}
	}
	return -1
}

// TotalDuration is the latest clip end time, or zero when empty.
func (t *Timeline) TotalDuration() float64 {
	var total float64
	for _, c := range t.Clips {
		total = max(total, c.EndTime())
	}
	return total
}

// Clip returns the clip with the given ID.
func (t *Timeline) Clip(id string) (Clip, bool) {
	if i := t.indexOf(id); i >= 0 {
		return t.Clips[i], true
	}
	return Clip{}, false
}

// EnabledClips returns the enabled clips in storage order.
func (t *Timeline) EnabledClips() []Clip {
	var out []Clip
	for _, c := range t.Clips {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

// ClipsAt returns the enabled clips whose [start, end) span contains at.
func (t *Timeline) ClipsAt(at float64) []Clip {
	var out []Clip
	for _, c := range t.Clips {
		if c.Enabled && c.StartTime <= at && at < c.EndTime() {
			out = append(out, c)
		}
	}
	return out
}

// Sorted returns a copy of the clips ordered by start time.
func (t *Timeline) Sorted() []Clip {
	out := append([]Clip(nil), t.Clips...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

// Gaps returns the empty spans between consecutive clips.
func (t *Timeline) Gaps() []Gap {
	var gaps []Gap
	sorted := t.Sorted()
	for i := 0; i+1 < len(sorted); i++ {
		end, next := sorted[i].EndTime(), sorted[i+1].StartTime
		if next > end {
			gaps = append(gaps, Gap{Start: end, End: next})
		}
	}
	return gaps
}

// AddClip appends a validated clip.
func (t *Timeline) AddClip(c Clip) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if t.indexOf(c.ID) >= 0 {
		return fmt.Errorf("%w: duplicate clip id %s", ErrInvalidClip, c.ID)
	}
	t.Clips = append(t.Clips, c)
	t.touch()
	slog.Debug("Clip added to timeline", "timeline", t.Name, "clip", c.Label())
	return nil
}

// RemoveClip deletes a clip and reports whether it existed.
func (t *Timeline) RemoveClip(id string) bool {
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	t.Clips = append(t.Clips[:i], t.Clips[i+1:]...)
	t.touch()
	return true
}

// MoveClip changes a clip's start time, clamped at zero.
func (t *Timeline) MoveClip(id string, start float64) bool {
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	t.Clips[i].StartTime = max(0, start)
	t.touch()
	return true
}

// UpdateTrim replaces a clip's trims and recomputes its duration. The clip
// is left unchanged when the trims are invalid.
func (t *Timeline) UpdateTrim(id string, trimStart, trimEnd float64) error {
	i := t.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	c := t.Clips[i]
	if trimStart < 0 || trimEnd < 0 {
		return fmt.Errorf("%w: trim values cannot be negative", ErrInvalidTrim)
	}
	if trimStart+trimEnd > c.OriginalDuration {
		return fmt.Errorf("%w: total trim %.2fs exceeds original duration %.2fs", ErrInvalidTrim, trimStart+trimEnd, c.OriginalDuration)
	}
	c.TrimStart, c.TrimEnd = trimStart, trimEnd
	c.Duration = c.TrimmedDuration()
	t.Clips[i] = c
	t.touch()
	return nil
}

// UpdateSpeed sets a clip's speed multiplier.
func (t *Timeline) UpdateSpeed(id string, speed float64) error {
	i := t.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	if err := checkSpeed(speed); err != nil {
		return err
	}
	t.Clips[i].Speed = speed
	t.touch()
	return nil
}

// Duplicate copies a clip under a new ID. A zero offset places the copy one
// second after the original ends; otherwise it starts offset seconds after
// the original starts.
func (t *Timeline) Duplicate(id string, offset float64) (Clip, error) {
	orig, ok := t.Clip(id)
	if !ok {
		return Clip{}, fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	c := orig
	c.ID = uuid.NewString()
	c.Name = orig.Name + " (copy)"
	if offset != 0 {
		c.StartTime = max(0, orig.StartTime+offset)
	} else {
		c.StartTime = orig.EndTime() + duplicateGap
	}
	if err := t.AddClip(c); err != nil {
		return Clip{}, err
	}
	return c, nil
}

// Validate reports problems that would make playback surprising. exists is
// asked whether each clip's recording file is present; nil skips that check.
func (t *Timeline) Validate(exists func(path string) bool) (bool, []string) {
	var warnings []string
	if len(t.Clips) == 0 {
		warnings = append(warnings, "Timeline has no clips")
	}

	var enabled []Clip
	for _, c := range t.Sorted() {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	for i := 0; i+1 < len(enabled); i++ {
		cur, next := enabled[i], enabled[i+1]
		if cur.EndTime() > next.StartTime {
			warnings = append(warnings, fmt.Sprintf("Clips '%s' and '%s' overlap (%.1fs > %.1fs)",
				cur.Label(), next.Label(), cur.EndTime(), next.StartTime))
		}
	}

	for _, c := range t.Clips {
		if exists != nil && !exists(c.RecordingFile) {
			warnings = append(warnings, fmt.Sprintf("Recording file not found for clip '%s': %s", c.Label(), c.RecordingFile))
		}
	}
	for _, c := range t.Clips {
		if c.Duration <= 0 {
			warnings = append(warnings, fmt.Sprintf("Clip '%s' has invalid duration: %.2fs", c.Label(), c.Duration))
		}
	}
	for _, c := range t.Clips {
		if c.TrimStart+c.TrimEnd >= c.OriginalDuration {
			warnings = append(warnings, fmt.Sprintf("Clip '%s' is completely trimmed out", c.Label()))
		}
	}
	return len(warnings) == 0, warnings
}

// Older files carry naive local timestamps without a zone.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

type fileTimeline struct {
	Version  string         `json:"version"`
	Name     string         `json:"name"`
	Created  string         `json:"created"`
	Modified string         `json:"modified"`
	Clips    []Clip         `json:"clips"`
	Metadata map[string]any `json:"metadata"`
}

// MarshalJSON writes the .ppt layout.
func (t *Timeline) MarshalJSON() ([]byte, error) {
	clips := t.Clips
	if clips == nil {
		clips = []Clip{}
	}
	meta := t.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	version := t.Version
	if version == "" {
		version = Version
	}
	return json.Marshal(fileTimeline{
		Version:  version,
		Name:     t.Name,
		Created:  t.Created.Format(time.RFC3339Nano),
		Modified: t.Modified.Format(time.RFC3339Nano),
		Clips:    clips,
		Metadata: meta,
	})
}

// UnmarshalJSON reads the .ppt layout. Clips missing optional fields get the
// same defaults NewClip uses.
func (t *Timeline) UnmarshalJSON(data []byte) error {
	var raw struct {
		fileTimeline
		Clips []json.RawMessage `json:"clips"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Timeline{
		Name:     raw.Name,
		Version:  raw.Version,
		Metadata: raw.Metadata,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	if raw.Created != "" {
		created, err := parseTime(raw.Created)
		if err != nil {
			return fmt.Errorf("created: %w", err)
		}
		out.Created = created
	}
	if raw.Modified != "" {
		modified, err := parseTime(raw.Modified)
		if err != nil {
			return fmt.Errorf("modified: %w", err)
		}
		out.Modified = modified
	}
	for i, rc := range raw.Clips {
		c := Clip{Speed: 1.0, Enabled: true, Color: DefaultColor}
		if err := json.Unmarshal(rc, &c); err != nil {
			return fmt.Errorf("clip %d: %w", i, err)
		}
		out.Clips = append(out.Clips, c)
	}
	*t = out
	return nil
}
