package ppr

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// Extension is the file extension of recordings.
	Extension = ".ppr"

	DefaultVersion      = "1.0"
	DefaultSampleRateHz = 200

	createdLayout  = "2006-01-02 15:04:05"
	filenameLayout = "2006-01-02-150405"
)

// ErrNoSamples is returned when a recording contains no parsable data lines.
var ErrNoSamples = errors.New("recording contains no samples")

// Header is the metadata carried in a recording's ';' lines.
type Header struct {
	Version      string    `json:"version"`
	SampleRateHz int       `json:"sample_rate_hz"`
	Created      time.Time `json:"created"`
	Description  string    `json:"description"`
}

// Recording is a parsed recording file.
type Recording struct {
	Header  Header
	Samples []Sample
}

// Duration returns the time spanned by the recording's samples.
func (r *Recording) Duration() time.Duration {
	return Duration(r.Samples)
}

// Duration returns last minus first timestamp of samples, which are in milliseconds.
func Duration(samples []Sample) time.Duration {
	if len(samples) < 2 {
		return 0
	}
	return time.Duration(samples[len(samples)-1].Timestamp-samples[0].Timestamp) * time.Millisecond
}

// NewFilename returns the timestamped file name used for new recordings.
func NewFilename(t time.Time) string {
	return t.Format(filenameLayout) + Extension
}

func writeHeader(w io.Writer, h Header) error {
	if h.Version == "" {
		h.Version = DefaultVersion
	}
	if h.SampleRateHz <= 0 {
		h.SampleRateHz = DefaultSampleRateHz
	}
	if h.Created.IsZero() {
		h.Created = time.Now()
	}
	lines := []string{
		"; Piper Program Recording (PPR) File",
		"; Created: " + h.Created.Format(createdLayout),
		"; Version: " + h.Version,
		fmt.Sprintf("; Sample Rate: %d Hz", h.SampleRateHz),
	}
	if h.Description != "" {
		lines = append(lines, "; Description: "+h.Description)
	}
	lines = append(lines,
		";",
		"; Format: t<epoch_ms> x<X> y<Y> z<Z> a<RX> b<RY> c<RZ> J6[j1,j2,j3,j4,j5,j6] Grp[pos,effort,code]",
		"; Units: position=mm, rotation=deg, joints=deg, gripper=mm, effort=Nm",
		";",
	)
	for _, l := range lines {
		if _, err := io.WriteString(w, l+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// parseHeaderLine folds one ';' line into h. Unknown keys are ignored.
func parseHeaderLine(h *Header, line string) {
	body := strings.TrimSpace(strings.TrimPrefix(line, ";"))
	key, value, ok := strings.Cut(body, ":")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "version":
		h.Version = value
	case "sample rate":
		if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(value, "Hz"))); err == nil && n > 0 {
			h.SampleRateHz = n
		}
	case "created":
		if t, err := time.ParseInLocation(createdLayout, value, time.Local); err == nil {
			h.Created = t
		}
	case "description":
		h.Description = value
	}
}

// Writer appends samples to a recording file through a buffered writer.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
	path string
}

// Create creates path and writes the header. It fails if path already
// exists; an existing recording is never truncated.
func Create(path string, h Header) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}
	w := &Writer{file: f, buf: bufio.NewWriter(f), path: path}
	if err := writeHeader(w.buf, h); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Path returns the file path being written.
func (w *Writer) Path() string {
	return w.path
}

// WriteSample appends one data line.
func (w *Writer) WriteSample(s Sample) error {
	if _, err := w.buf.WriteString(FormatLine(s) + "\n"); err != nil {
		return fmt.Errorf("failed to write sample: %w", err)
	}
	return nil
}

// Flush pushes buffered lines to the file.
func (w *Writer) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush recording: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	flushErr := w.Flush()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close recording: %w", err)
	}
	return flushErr
}

// Decode reads a recording from r. Lines that do not parse are skipped.
func Decode(r io.Reader) (*Recording, error) {
	rec := &Recording{Header: Header{Version: DefaultVersion, SampleRateHz: DefaultSampleRateHz}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ";") {
			parseHeaderLine(&rec.Header, line)
			continue
		}
		if s, ok := ParseLine(line); ok {
			rec.Samples = append(rec.Samples, s)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	if len(rec.Samples) == 0 {
		return nil, ErrNoSamples
	}
	return rec, nil
}

// Read parses the recording at path.
func Read(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	rec, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// Info summarises a recording without keeping its samples.
type Info struct {
	SampleCount    int       `json:"sample_count"`
	DurationSec    float64   `json:"duration_sec"`
	StartTimestamp int64     `json:"start_timestamp"`
	EndTimestamp   int64     `json:"end_timestamp"`
	SampleRateHz   int       `json:"sample_rate_hz"`
	Created        time.Time `json:"created"`
	Version        string    `json:"version"`
	Description    string    `json:"description"`
}

// Stat reads path and returns its summary.
func Stat(path string) (Info, error) {
	rec, err := Read(path)
	if err != nil {
		return Info{}, err
	}
	return rec.Info(), nil
}

// Info returns the summary of r.
func (r *Recording) Info() Info {
	info := Info{
		SampleCount:  len(r.Samples),
		SampleRateHz: r.Header.SampleRateHz,
		Created:      r.Header.Created,
		Version:      r.Header.Version,
		Description:  r.Header.Description,
	}
	if len(r.Samples) > 0 {
		info.StartTimestamp = r.Samples[0].Timestamp
		info.EndTimestamp = r.Samples[len(r.Samples)-1].Timestamp
		info.DurationSec = float64(info.EndTimestamp-info.StartTimestamp) / 1000.0
	}
	return info
}
