package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/kevinboards/piperRobotAutoSystem/internal/library"
	"github.com/kevinboards/piperRobotAutoSystem/internal/scheduler"
)

// Envelope is the part of every client message used for dispatch.
type Envelope struct {
	Type string `json:"type"`
}

type request interface {
	validate() error
}

func decodeRequest(raw []byte, req request) error {
	if err := json.Unmarshal(raw, req); err != nil {
		return fmt.Errorf("Invalid request: %v", err)
	}
	return req.validate()
}

type nameRequest struct {
	Name string `json:"name"`
}

func (r *nameRequest) validate() error {
	if r.Name == "" {
		return errors.New("Name required")
	}
	return nil
}

type startRecordingRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r *startRecordingRequest) validate() error { return nil }

type startPlaybackRequest struct {
	Name       string   `json:"name"`
	Speed      *float64 `json:"speed"`
	Discipline string   `json:"discipline"`
}

func (r *startPlaybackRequest) validate() error {
	return checkSpeedField(r.Speed)
}

func (r *startPlaybackRequest) speed() float64 {
	if r.Speed == nil {
		return 1.0
	}
	return *r.Speed
}

type playTimelineRequest struct {
	Timeline json.RawMessage `json:"timeline"`
	Speed    *float64        `json:"speed"`
}

func (r *playTimelineRequest) validate() error {
	if isEmptyJSON(r.Timeline) {
		return errors.New("No timeline data provided")
	}
	return checkSpeedField(r.Speed)
}

func (r *playTimelineRequest) speed() float64 {
	if r.Speed == nil {
		return 1.0
	}
	return *r.Speed
}

// timelinePayload tells the two play_timeline shapes apart: a node graph
// from the canvas or a clip timeline document.
type timelinePayload struct {
	scheduler.Graph
	Clips json.RawMessage `json:"clips"`
}

func (p timelinePayload) isClipTimeline() bool {
	return len(p.Nodes) == 0 && !isEmptyJSON(p.Clips)
}

type saveTimelineRequest struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

func (r *saveTimelineRequest) validate() error {
	if r.Name == "" || isEmptyJSON(r.Data) {
		return errors.New("Name and data required")
	}
	return nil
}

func checkSpeedField(speed *float64) error {
	if speed != nil && (math.IsNaN(*speed) || *speed <= 0) {
		return fmt.Errorf("Invalid speed: %v", *speed)
	}
	return nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`, "false", "0":
		return true
	}
	return false
}

// Server to client messages.

type statusMessage struct {
	Type      string    `json:"type"`
	Connected bool      `json:"connected"`
	Driver    string    `json:"driver"`
	Recording bool      `json:"recording"`
	Capturing bool      `json:"capturing"`
	Playing   bool      `json:"playing"`
	Paused    bool      `json:"paused"`
	ArmState  string    `json:"arm_state"`
	Joints    []float64 `json:"joints"`
}

type recordingProgressMessage struct {
	Type      string  `json:"type"`
	Samples   int64   `json:"samples"`
	Segments  int64   `json:"segments"`
	Capturing bool    `json:"capturing"`
	Duration  float64 `json:"duration"`
	Rate      float64 `json:"rate"`
}

type playbackProgressMessage struct {
	Type            string   `json:"type"`
	Status          string   `json:"status"`
	Progress        *float64 `json:"progress,omitempty"`
	CurrentSample   *int     `json:"current_sample,omitempty"`
	TotalSamples    *int     `json:"total_samples,omitempty"`
	CurrentNode     string   `json:"current_node,omitempty"`
	CurrentClip     string   `json:"current_clip,omitempty"`
	CurrentPosition *float64 `json:"current_position,omitempty"`
	TotalDuration   *float64 `json:"total_duration,omitempty"`
}

type armStateMessage struct {
	Type     string `json:"type"`
	State    string `json:"state"`
	Previous string `json:"previous"`
}

type logMessage struct {
	Type    string `json:"type"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type recordingsListMessage struct {
	Type       string                  `json:"type"`
	Recordings []library.RecordingInfo `json:"recordings"`
}

type recordingLoadedMessage struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
	Samples  int     `json:"samples"`
}

type timelinesListMessage struct {
	Type      string   `json:"type"`
	Timelines []string `json:"timelines"`
}

type timelineLoadedMessage struct {
	Type string          `json:"type"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

type timelineCompleteMessage struct {
	Type string `json:"type"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
