package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	var pb startPlaybackRequest
	require.NoError(t, decodeRequest([]byte(`{"type":"start_playback"}`), &pb))
	assert.Equal(t, 1.0, pb.speed())

	require.NoError(t, decodeRequest([]byte(`{"speed":0.5,"discipline":"fixed"}`), &pb))
	assert.Equal(t, 0.5, pb.speed())
	assert.Equal(t, "fixed", pb.Discipline)

	err := decodeRequest([]byte(`{"speed":0}`), &startPlaybackRequest{})
	assert.EqualError(t, err, "Invalid speed: 0")

	err = decodeRequest([]byte(`{"name":3}`), &nameRequest{})
	assert.ErrorContains(t, err, "Invalid request:")

	err = decodeRequest([]byte(`{"name":""}`), &nameRequest{})
	assert.EqualError(t, err, "Name required")
}

func TestTimelineRequests(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"missing", `{}`, "No timeline data provided"},
		{"null", `{"timeline":null}`, "No timeline data provided"},
		{"empty object", `{"timeline":{}}`, "No timeline data provided"},
		{"bad speed", `{"timeline":{"nodes":[]},"speed":-2}`, "Invalid speed: -2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeRequest([]byte(tt.raw), &playTimelineRequest{})
			assert.EqualError(t, err, tt.want)
		})
	}

	err := decodeRequest([]byte(`{"name":"x","data":{}}`), &saveTimelineRequest{})
	assert.EqualError(t, err, "Name and data required")
	require.NoError(t, decodeRequest([]byte(`{"name":"x","data":{"nodes":[]}}`), &saveTimelineRequest{}))
}

func TestTimelinePayloadShape(t *testing.T) {
	var graph timelinePayload
	require.NoError(t, json.Unmarshal([]byte(`{"nodes":[{"id":"n1","recordingName":"a.ppr"}],"connections":[]}`), &graph))
	assert.False(t, graph.isClipTimeline())
	assert.Len(t, graph.Nodes, 1)

	var doc timelinePayload
	require.NoError(t, json.Unmarshal([]byte(`{"version":"2.0","name":"t","clips":[{"id":"c"}]}`), &doc))
	assert.True(t, doc.isClipTimeline())

	var empty timelinePayload
	require.NoError(t, json.Unmarshal([]byte(`{"clips":[]}`), &empty))
	assert.False(t, empty.isClipTimeline())
}

func TestRound(t *testing.T) {
	assert.Equal(t, 12.3, round(12.345, 1))
	assert.Equal(t, 0.2, round(0.19999, 2))
	assert.Equal(t, 3.0, round(2.6, 0))
}
