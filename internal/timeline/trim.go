package timeline

import (
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
)

// Unit is a timestamp resolution guessed from a recording's span.
type Unit int

const (
	UnitSeconds Unit = iota
	UnitMilliseconds
	UnitMicroseconds
)

func (u Unit) String() string {
	switch u {
	case UnitMicroseconds:
		return "us"
	case UnitMilliseconds:
		return "ms"
	}
	return "s"
}

// PerSecond is the number of timestamp ticks in one second.
func (u Unit) PerSecond() float64 {
	switch u {
	case UnitMicroseconds:
		return 1_000_000
	case UnitMilliseconds:
		return 1_000
	}
	return 1
}

// InferUnit guesses the timestamp unit from the span between the first and
// last sample: above 100000 is microseconds, above 1000 milliseconds, and
// anything shorter is seconds. Recordings are written in milliseconds, so a
// recording shorter than one second is misread as seconds.
func InferUnit(span int64) Unit {
	switch {
	case span > 100_000:
		return UnitMicroseconds
	case span > 1_000:
		return UnitMilliseconds
	}
	return UnitSeconds
}

func span(samples []ppr.Sample) int64 {
	return samples[len(samples)-1].Timestamp - samples[0].Timestamp
}

// ApplyTrim keeps the samples whose timestamps lie within
// [first+trimStart, last-trimEnd], with the trims converted from seconds to
// the inferred unit. Zero trims return samples unchanged.
func ApplyTrim(samples []ppr.Sample, trimStart, trimEnd float64) []ppr.Sample {
	if len(samples) == 0 || (trimStart == 0 && trimEnd == 0) {
		return samples
	}
	mult := InferUnit(span(samples)).PerSecond()
	lo := float64(samples[0].Timestamp) + trimStart*mult
	hi := float64(samples[len(samples)-1].Timestamp) - trimEnd*mult

	out := make([]ppr.Sample, 0, len(samples))
	for _, s := range samples {
		if ts := float64(s.Timestamp); ts >= lo && ts <= hi {
			out = append(out, s)
		}
	}
	return out
}

// EstimateDuration converts the sample span to seconds using the inferred unit.
func EstimateDuration(samples []ppr.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	d := span(samples)
	return float64(d) / InferUnit(d).PerSecond()
}
