// Package ppr reads and writes Piper program recordings: a line-oriented
// text log of timestamped arm samples preceded by ';' header lines.
package ppr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Pose is the end-effector pose: x, y, z in millimetres and rx, ry, rz in degrees.
type Pose [6]float64

// Joints holds the six joint angles in degrees.
type Joints [6]float64

// Gripper is the gripper state: position in mm, effort magnitude in Nm and a status code.
type Gripper struct {
	Position float64 `json:"position"`
	Effort   float64 `json:"effort"`
	Code     int     `json:"code"`
}

// Sample is one hardware snapshot. Timestamp is milliseconds since the epoch.
type Sample struct {
	Timestamp int64   `json:"timestamp"`
	Pose      Pose    `json:"pose"`
	Joints    Joints  `json:"joints"`
	Gripper   Gripper `json:"gripper"`
}

var (
	timestampRe = regexp.MustCompile(`(?:^|\s)t(-?\d+)(?:\s|$)`)
	jointsRe    = regexp.MustCompile(`J6\[([-\d.,\s]*)\]`)
	gripperRe   = regexp.MustCompile(`Grp\[([-\d.,\s]*)\]`)
	poseRes     = [6]*regexp.Regexp{
		regexp.MustCompile(`(?:^|\s)x(-?[\d.]+)`),
		regexp.MustCompile(`(?:^|\s)y(-?[\d.]+)`),
		regexp.MustCompile(`(?:^|\s)z(-?[\d.]+)`),
		regexp.MustCompile(`(?:^|\s)a(-?[\d.]+)`),
		regexp.MustCompile(`(?:^|\s)b(-?[\d.]+)`),
		regexp.MustCompile(`(?:^|\s)c(-?[\d.]+)`),
	}
)

// ParseLine parses one data line. It reports false for blank lines, header
// lines and any line missing the t, J6[...] or Grp[...] fields. Missing pose
// components default to zero and a short joint list is zero padded.
func ParseLine(line string) (Sample, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ";") {
		return Sample{}, false
	}

	var s Sample

	m := timestampRe.FindStringSubmatch(line)
	if m == nil {
		return Sample{}, false
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Sample{}, false
	}
	s.Timestamp = ts

	for i, re := range poseRes {
		if pm := re.FindStringSubmatch(line); pm != nil {
			v, err := strconv.ParseFloat(pm[1], 64)
			if err != nil {
				return Sample{}, false
			}
			s.Pose[i] = v
		}
	}

	jm := jointsRe.FindStringSubmatch(line)
	if jm == nil {
		return Sample{}, false
	}
	joints, ok := parseFloatList(jm[1])
	if !ok || len(joints) > len(s.Joints) {
		return Sample{}, false
	}
	copy(s.Joints[:], joints)

	gm := gripperRe.FindStringSubmatch(line)
	if gm == nil {
		return Sample{}, false
	}
	grp, ok := parseFloatList(gm[1])
	if !ok || len(grp) < 3 {
		return Sample{}, false
	}
	s.Gripper = Gripper{Position: grp[0], Effort: grp[1], Code: int(grp[2])}

	return s, true
}

func parseFloatList(body string) ([]float64, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, true
	}
	parts := strings.Split(body, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// FormatLine renders s as a data line without the trailing newline.
func FormatLine(s Sample) string {
	j := s.Joints
	p := s.Pose
	return fmt.Sprintf("t%d x%.3f y%.3f z%.3f a%.3f b%.3f c%.3f J6[%.3f,%.3f,%.3f,%.3f,%.3f,%.3f] Grp[%.3f,%.3f,%d]",
		s.Timestamp,
		p[0], p[1], p[2], p[3], p[4], p[5],
		j[0], j[1], j[2], j[3], j[4], j[5],
		s.Gripper.Position, s.Gripper.Effort, s.Gripper.Code)
}
