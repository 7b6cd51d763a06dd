// Package timeline models recordings placed on a timeline as trimmed,
// speed-scaled clips, and stores timelines as .ppt JSON files.
package timeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultColor = "#4CAF50"
	MinSpeed     = 0.1
	MaxSpeed     = 4.0

	// duplicateGap is where Duplicate places a copy when no offset is given.
	duplicateGap = 1.0
)

var (
	ErrClipNotFound = errors.New("clip not found")
	ErrInvalidTrim  = errors.New("invalid trim")
	ErrInvalidClip  = errors.New("invalid clip")
)

// Clip places one recording on the timeline. Times are in seconds.
type Clip struct {
	ID               string  `json:"id"`
	RecordingFile    string  `json:"recording_file"`
	StartTime        float64 `json:"start_time"`
	Duration         float64 `json:"duration"`
	TrimStart        float64 `json:"trim_start"`
	TrimEnd          float64 `json:"trim_end"`
	Speed            float64 `json:"speed_multiplier"`
	Enabled          bool    `json:"enabled"`
	Name             string  `json:"name"`
	Color            string  `json:"color"`
	OriginalDuration float64 `json:"original_duration"`
}

// NewClip builds an enabled clip at start with the given trims applied.
// The name defaults to the recording's base name.
func NewClip(recordingFile string, start, originalDuration, trimStart, trimEnd float64) (Clip, error) {
	c := Clip{
		ID:               uuid.NewString(),
		RecordingFile:    recordingFile,
		StartTime:        start,
		TrimStart:        trimStart,
		TrimEnd:          trimEnd,
		Speed:            1.0,
		Enabled:          true,
		Name:             strings.TrimSuffix(filepath.Base(recordingFile), filepath.Ext(recordingFile)),
		Color:            DefaultColor,
		OriginalDuration: originalDuration,
	}
	c.Duration = c.TrimmedDuration()
	if err := c.Validate(); err != nil {
		return Clip{}, err
	}
	return c, nil
}

// Validate checks the clip invariants.
func (c Clip) Validate() error {
	switch {
	case c.StartTime < 0:
		return fmt.Errorf("%w: start time cannot be negative", ErrInvalidClip)
	case c.Duration < 0:
		return fmt.Errorf("%w: duration cannot be negative", ErrInvalidClip)
	case c.TrimStart < 0 || c.TrimEnd < 0:
		return fmt.Errorf("%w: trim values cannot be negative", ErrInvalidTrim)
	case c.TrimStart+c.TrimEnd > c.OriginalDuration:
		return fmt.Errorf("%w: total trim %.2fs exceeds original duration %.2fs", ErrInvalidTrim, c.TrimStart+c.TrimEnd, c.OriginalDuration)
	}
	return checkSpeed(c.Speed)
}

func checkSpeed(speed float64) error {
	if !(speed >= MinSpeed && speed <= MaxSpeed) {
		return fmt.Errorf("%w: speed multiplier must be between %.1f and %.1f", ErrInvalidClip, MinSpeed, MaxSpeed)
	}
	return nil
}

// EndTime is where the clip ends on the timeline.
func (c Clip) EndTime() float64 {
	return c.StartTime + c.Duration
}

// TrimmedDuration is the original duration minus both trims, floored at zero.
func (c Clip) TrimmedDuration() float64 {
	return max(0, c.OriginalDuration-c.TrimStart-c.TrimEnd)
}

// Label is the display name, falling back to the ID.
func (c Clip) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
