package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/library"
	"github.com/kevinboards/piperRobotAutoSystem/internal/metrics"
	"github.com/kevinboards/piperRobotAutoSystem/internal/monitor"
	"github.com/kevinboards/piperRobotAutoSystem/internal/player"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
	"github.com/kevinboards/piperRobotAutoSystem/internal/recorder"
	"github.com/kevinboards/piperRobotAutoSystem/internal/scheduler"
	"github.com/kevinboards/piperRobotAutoSystem/internal/timeline"
)

// handlerFunc handles one decoded message type. Every handler sends
// exactly one direct reply or error to c, possibly after a background
// handshake, and may broadcast log and status events.
type handlerFunc func(s *Server, c *client, raw []byte)

var handlers = map[string]handlerFunc{
	"get_status":       (*Server).handleGetStatus,
	"get_recordings":   (*Server).handleGetRecordings,
	"start_recording":  (*Server).handleStartRecording,
	"stop_recording":   (*Server).handleStopRecording,
	"load_recording":   (*Server).handleLoadRecording,
	"start_playback":   (*Server).handleStartPlayback,
	"stop_playback":    (*Server).handleStopPlayback,
	"pause_playback":   (*Server).handlePausePlayback,
	"resume_playback":  (*Server).handleResumePlayback,
	"play_timeline":    (*Server).handlePlayTimeline,
	"save_timeline":    (*Server).handleSaveTimeline,
	"load_timeline":    (*Server).handleLoadTimeline,
	"list_timelines":   (*Server).handleListTimelines,
	"delete_recording": (*Server).handleDeleteRecording,
}

func (s *Server) dispatch(c *client, raw []byte) {
	if _, ok := s.clients[c]; !ok {
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.IncMessage("invalid")
		s.sendErrorResponse(c, "invalid", "Invalid JSON", "error", err)
		return
	}

	h, ok := handlers[env.Type]
	if !ok {
		metrics.IncMessage("unknown")
		s.sendErrorResponse(c, "unknown", fmt.Sprintf("Unknown message type: %s", env.Type))
		return
	}
	metrics.IncMessage(env.Type)
	slog.Debug("Handling message", "type", env.Type, "client", c.id)
	h(s, c, raw)
}

// decode fills req from raw and sends the error reply when that fails.
func (s *Server) decode(c *client, msgType string, raw []byte, req request) bool {
	if err := decodeRequest(raw, req); err != nil {
		s.sendErrorResponse(c, msgType, err.Error())
		return false
	}
	return true
}

func (s *Server) handleGetStatus(c *client, raw []byte) {
	s.reply(c, s.status())
}

func (s *Server) handleGetRecordings(c *client, raw []byte) {
	recordings, err := s.library.List()
	if err != nil {
		s.sendErrorResponse(c, "get_recordings", fmt.Sprintf("Failed to list recordings: %v", err))
		return
	}
	s.reply(c, recordingsListMessage{Type: "recordings_list", Recordings: recordings})
}

func (s *Server) handleStartRecording(c *client, raw []byte) {
	var req startRecordingRequest
	if !s.decode(c, "start_recording", raw, &req) {
		return
	}
	if s.recording {
		s.sendErrorResponse(c, "start_recording", "Already recording")
		return
	}
	if s.playing {
		s.sendErrorResponse(c, "start_recording", "Cannot record during playback")
		return
	}

	path, err := s.library.NewPath(req.Name, time.Now())
	if err != nil {
		s.sendErrorResponse(c, "start_recording", fmt.Sprintf("Failed to start recording: %v", err))
		return
	}
	description := req.Description
	if description == "" {
		description = s.cfg.Recording.Description
	}
	cfg := recorder.Config{
		Path:         path,
		Description:  description,
		SampleRateHz: s.cfg.Recording.SampleRateHz,
		FlushEvery:   s.cfg.Recording.FlushEvery,
		Handshake:    s.cfg.Arm.Handshake(),
		OnSample:     metrics.SamplesCaptured.Inc,
	}

	// Reserve the flag now so a second start is rejected while the enable
	// handshake runs off the loop.
	s.recording = true
	metrics.SetActive("recording", true)

	ctx := s.ctx
	s.spawn(func() {
		session, err := s.recorder.Open(ctx, cfg, false)
		s.post(func() { s.recordingOpened(c, session, err) })
	})
}

func (s *Server) recordingOpened(c *client, session *recorder.Session, err error) {
	if err != nil {
		s.recording = false
		metrics.SetActive("recording", false)
		s.sendErrorResponse(c, "start_recording", fmt.Sprintf("Failed to start recording: %v", err))
		return
	}
	s.session = session

	name := filepath.Base(session.Path())
	var msg string
	if state := s.monitor.State(); state == monitor.StateTeaching {
		session.ResumeCapture()
		msg = fmt.Sprintf("Recording session open: %s, arm already in TEACHING mode, capturing now", name)
	} else {
		msg = fmt.Sprintf("Recording session open: %s, waiting for arm to enter TEACHING mode (currently: %s)", name, state)
	}
	s.broadcastLog("info", msg)
	s.replyStatus(c)
}

func (s *Server) handleStopRecording(c *client, raw []byte) {
	if !s.recording {
		s.sendErrorResponse(c, "stop_recording", "Not recording")
		return
	}
	if s.session == nil {
		s.sendErrorResponse(c, "stop_recording", "Recording is still starting")
		return
	}

	sum, err := s.recorder.Close()
	s.session = nil
	s.recording = false
	metrics.SetActive("recording", false)
	if err != nil {
		slog.Warn("Recording closed with error", "file", sum.Filename, "error", err)
	}

	word := "segments"
	if sum.SegmentCount == 1 {
		word = "segment"
	}
	s.broadcastLog("info", fmt.Sprintf("Recording saved: %s (%d samples across %d teaching %s, %.1fs session)",
		sum.Filename, sum.SampleCount, sum.SegmentCount, word, sum.Duration.Seconds()))
	s.replyStatus(c)
}

// readRecording resolves and parses a recording, returning the error text
// for the client on failure.
func (s *Server) readRecording(name string) (*ppr.Recording, string) {
	path, err := s.library.Resolve(name)
	if err != nil {
		return nil, fmt.Sprintf("Recording not found: %s", name)
	}
	rec, err := ppr.Read(path)
	if err != nil {
		return nil, fmt.Sprintf("Failed to load recording %s: %v", name, err)
	}
	return rec, ""
}

func (s *Server) handleLoadRecording(c *client, raw []byte) {
	var req nameRequest
	if !s.decode(c, "load_recording", raw, &req) {
		return
	}
	if s.playing {
		s.sendErrorResponse(c, "load_recording", "Already playing")
		return
	}

	rec, msg := s.readRecording(req.Name)
	if rec == nil {
		s.sendErrorResponse(c, "load_recording", msg)
		return
	}
	info, err := s.engine.Load(req.Name, rec)
	if err != nil {
		s.sendErrorResponse(c, "load_recording", fmt.Sprintf("Failed to load recording %s: %v", req.Name, err))
		return
	}
	s.reply(c, recordingLoadedMessage{
		Type:     "recording_loaded",
		Name:     req.Name,
		Duration: round(info.DurationSec, 2),
		Samples:  info.SampleCount,
	})
}

// beginRun marks a playback as active and returns its id and context.
// Stopping the playback cancels the context.
func (s *Server) beginRun(mode playMode) (int, context.Context) {
	s.runID++
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelRun = cancel
	s.playing = true
	s.mode = mode
	s.started = mode == modeSequence
	metrics.SetActive("playback", true)
	return s.runID, ctx
}

func (s *Server) endRun() {
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.playing = false
	s.mode = modeNone
	s.started = false
	metrics.SetActive("playback", false)
}

// current reports whether id is still the active playback.
func (s *Server) current(id int) bool {
	return s.playing && id == s.runID
}

func (s *Server) handleStartPlayback(c *client, raw []byte) {
	var req startPlaybackRequest
	if !s.decode(c, "start_playback", raw, &req) {
		return
	}
	if s.recording {
		s.sendErrorResponse(c, "start_playback", "Cannot play while recording")
		return
	}
	if s.playing {
		s.sendErrorResponse(c, "start_playback", "Already playing")
		return
	}

	speed := req.speed()
	if err := s.engine.CheckSpeed(speed); err != nil {
		s.sendErrorResponse(c, "start_playback", err.Error())
		return
	}
	discipline := req.Discipline
	if discipline == "" {
		discipline = s.cfg.Playback.Discipline
	}
	d, err := player.ParseDiscipline(discipline)
	if err != nil {
		s.sendErrorResponse(c, "start_playback", err.Error())
		return
	}

	if req.Name != "" {
		rec, msg := s.readRecording(req.Name)
		if rec == nil {
			s.sendErrorResponse(c, "start_playback", msg)
			return
		}
		if _, err := s.engine.Load(req.Name, rec); err != nil {
			s.sendErrorResponse(c, "start_playback", fmt.Sprintf("Failed to load recording %s: %v", req.Name, err))
			return
		}
	}
	if !s.engine.IsLoaded() {
		s.sendErrorResponse(c, "start_playback", "No recording loaded")
		return
	}

	id, ctx := s.beginRun(modeSingle)
	opts := s.playbackOptions(d)
	handshake := s.cfg.Arm.Handshake()
	s.spawn(func() {
		err := arm.PrepareForPlayback(ctx, s.arm, handshake)
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = s.engine.Start(speed, opts)
		}
		s.post(func() { s.playbackStarted(c, id, speed, err) })
	})
}

func (s *Server) playbackStarted(c *client, id int, speed float64, err error) {
	if !s.current(id) {
		if err == nil {
			// Stopped while the handshake ran but the engine got going anyway.
			if stopErr := s.engine.Stop(); stopErr != nil {
				slog.Warn("Failed to stop playback", "error", stopErr)
			}
		}
		s.sendErrorResponse(c, "start_playback", "Playback stopped before it started")
		return
	}
	if err != nil {
		s.endRun()
		s.sendErrorResponse(c, "start_playback", fmt.Sprintf("Failed to start playback: %v", err))
		return
	}

	s.started = true
	s.broadcastLog("info", fmt.Sprintf("Playback started at %gx", speed))
	s.replyStatus(c)
}

func (s *Server) handleStopPlayback(c *client, raw []byte) {
	if s.playing {
		s.endRun()
		if err := s.engine.Stop(); err != nil {
			slog.Warn("Failed to stop playback", "error", err)
		}
	}
	s.broadcastLog("info", "Playback stopped")
	s.replyStatus(c)
}

func (s *Server) handlePausePlayback(c *client, raw []byte) {
	if !s.playing {
		s.sendErrorResponse(c, "pause_playback", "Not playing")
		return
	}
	if !s.engine.IsPlaying() {
		// A sequence is holding between entries, or the arm is still
		// being enabled; the engine has nothing to pause yet.
		msg := "Playback is still starting, try again in a moment"
		if s.mode == modeSequence {
			msg = "Between recordings, pause when the next one starts"
		}
		s.sendErrorResponse(c, "pause_playback", msg)
		return
	}
	if err := s.engine.Pause(); err != nil {
		s.sendErrorResponse(c, "pause_playback", fmt.Sprintf("Cannot pause: %v", err))
		return
	}
	s.broadcastLog("info", "Playback paused")
	s.replyStatus(c)
}

func (s *Server) handleResumePlayback(c *client, raw []byte) {
	if !s.playing || !s.engine.IsPaused() {
		s.sendErrorResponse(c, "resume_playback", "Playback is not paused")
		return
	}
	if err := s.engine.Resume(); err != nil {
		s.sendErrorResponse(c, "resume_playback", fmt.Sprintf("Cannot resume: %v", err))
		return
	}
	s.broadcastLog("info", "Playback resumed")
	s.replyStatus(c)
}

func (s *Server) handlePlayTimeline(c *client, raw []byte) {
	var req playTimelineRequest
	if !s.decode(c, "play_timeline", raw, &req) {
		return
	}
	if s.recording {
		s.sendErrorResponse(c, "play_timeline", "Cannot play while recording")
		return
	}
	if s.playing {
		s.sendErrorResponse(c, "play_timeline", "Already playing")
		return
	}
	speed := req.speed()
	if err := s.engine.CheckSpeed(speed); err != nil {
		s.sendErrorResponse(c, "play_timeline", err.Error())
		return
	}

	var payload timelinePayload
	if err := json.Unmarshal(req.Timeline, &payload); err != nil {
		s.sendErrorResponse(c, "play_timeline", fmt.Sprintf("Invalid timeline: %v", err))
		return
	}

	var (
		count int
		total float64
		run   func(ctx context.Context, hooks scheduler.Hooks) error
	)
	if payload.isClipTimeline() {
		tl, err := timeline.Decode(req.Timeline)
		if err != nil {
			s.sendErrorResponse(c, "play_timeline", fmt.Sprintf("Failed to read timeline: %v", err))
			return
		}
		count = len(tl.EnabledClips())
		if count == 0 {
			s.sendErrorResponse(c, "play_timeline", "No clips on timeline")
			return
		}
		for _, clip := range tl.EnabledClips() {
			if err := s.checkPlayable(clip.RecordingFile, scheduler.EffectiveSpeed(clip.Speed, speed)); err != nil {
				s.sendErrorResponse(c, "play_timeline", fmt.Sprintf("Clip %s: %v", clip.Label(), err))
				return
			}
		}
		total = tl.TotalDuration()
		run = func(ctx context.Context, hooks scheduler.Hooks) error {
			return s.runner.RunTimeline(ctx, tl, speed, hooks)
		}
	} else {
		if len(payload.Nodes) == 0 {
			s.sendErrorResponse(c, "play_timeline", "No recordings on canvas")
			return
		}
		if err := payload.Validate(); err != nil {
			s.sendErrorResponse(c, "play_timeline", fmt.Sprintf("Invalid timeline: %v", err))
			return
		}
		order := scheduler.Order(payload.Nodes, payload.Connections)
		if len(order) == 0 {
			s.sendErrorResponse(c, "play_timeline", "No recordings to play")
			return
		}
		for _, n := range order {
			if n.RecordingName == "" {
				continue
			}
			if err := s.checkPlayable(n.RecordingName, scheduler.EffectiveSpeed(n.Speed, speed)); err != nil {
				s.sendErrorResponse(c, "play_timeline", fmt.Sprintf("Node %s: %v", n.ID, err))
				return
			}
		}
		count = len(order)
		run = func(ctx context.Context, hooks scheduler.Hooks) error {
			return s.runner.RunNodes(ctx, order, speed, hooks)
		}
	}

	id, ctx := s.beginRun(modeSequence)
	hooks := scheduler.Hooks{
		OnNodeStart: func(nodeID string) {
			s.post(func() {
				s.broadcast(playbackProgressMessage{Type: "playback_progress", Status: "playing", CurrentNode: nodeID})
			})
		},
		OnClipStart: func(clip timeline.Clip) {
			label := clip.Label()
			s.post(func() {
				s.broadcast(playbackProgressMessage{Type: "playback_progress", Status: "playing", CurrentClip: label})
			})
		},
		OnSkip: func(name string, err error) {
			s.post(func() {
				s.broadcastLog("error", fmt.Sprintf("Skipped %s: %v", name, err))
			})
		},
		OnProgress: func(position float64) {
			pct := 0.0
			if total > 0 {
				pct = round(position/total*100, 1)
			}
			pos, dur := round(position, 2), round(total, 2)
			s.post(func() {
				s.broadcast(playbackProgressMessage{
					Type:            "playback_progress",
					Status:          "playing",
					Progress:        &pct,
					CurrentPosition: &pos,
					TotalDuration:   &dur,
				})
			})
		},
	}
	s.spawn(func() {
		var stopped bool
		hooks.OnComplete = func(st bool) { stopped = st }
		err := run(ctx, hooks)
		s.post(func() { s.sequenceFinished(id, stopped, err) })
	})

	s.broadcastLog("info", fmt.Sprintf("Playback started at %gx (%d recordings)", speed, count))
	s.replyStatus(c)
}

// checkPlayable rejects a sequence entry before the run starts so the
// client gets an error instead of a silently skipped entry.
func (s *Server) checkPlayable(ref string, speed float64) error {
	if !s.library.Exists(ref) {
		return fmt.Errorf("recording not found: %s", ref)
	}
	return s.engine.CheckSpeed(speed)
}

func (s *Server) sequenceFinished(id int, stopped bool, err error) {
	if !s.current(id) {
		return
	}
	s.endRun()
	if err != nil {
		s.broadcastLog("error", fmt.Sprintf("Playback error: %v", err))
	}
	if !stopped {
		s.broadcast(timelineCompleteMessage{Type: "timeline_complete"})
	}
	s.broadcast(s.status())
}

func (s *Server) handleSaveTimeline(c *client, raw []byte) {
	var req saveTimelineRequest
	if !s.decode(c, "save_timeline", raw, &req) {
		return
	}
	if _, err := s.timelines.SaveRaw(req.Name, req.Data); err != nil {
		s.sendErrorResponse(c, "save_timeline", fmt.Sprintf("Failed to save timeline: %v", err))
		return
	}
	slog.Info("Timeline saved", "name", req.Name)
	s.reply(c, logMessage{Type: "log", Level: "info", Message: fmt.Sprintf("Timeline saved: %s", req.Name)})
}

func (s *Server) handleLoadTimeline(c *client, raw []byte) {
	var req nameRequest
	if !s.decode(c, "load_timeline", raw, &req) {
		return
	}
	data, err := s.timelines.LoadRaw(req.Name)
	if errors.Is(err, timeline.ErrTimelineNotFound) {
		s.sendErrorResponse(c, "load_timeline", fmt.Sprintf("Timeline not found: %s", req.Name))
		return
	}
	if err != nil {
		s.sendErrorResponse(c, "load_timeline", fmt.Sprintf("Failed to load timeline: %v", err))
		return
	}
	s.reply(c, timelineLoadedMessage{Type: "timeline_loaded", Name: req.Name, Data: data})
}

func (s *Server) handleListTimelines(c *client, raw []byte) {
	names, err := s.timelines.Names()
	if err != nil {
		s.sendErrorResponse(c, "list_timelines", fmt.Sprintf("Failed to list timelines: %v", err))
		return
	}
	s.reply(c, timelinesListMessage{Type: "timelines_list", Timelines: names})
}

func (s *Server) handleDeleteRecording(c *client, raw []byte) {
	var req nameRequest
	if !s.decode(c, "delete_recording", raw, &req) {
		return
	}
	if s.session != nil && filepath.Base(s.session.Path()) == req.Name {
		s.sendErrorResponse(c, "delete_recording", "Cannot delete the recording in progress")
		return
	}
	if s.playing && s.engine.Info().Name == req.Name {
		s.sendErrorResponse(c, "delete_recording", "Cannot delete a recording while it is playing")
		return
	}

	if err := s.library.Delete(req.Name); err != nil {
		if errors.Is(err, library.ErrRecordingNotFound) {
			s.sendErrorResponse(c, "delete_recording", fmt.Sprintf("Recording not found: %s", req.Name))
		} else {
			s.sendErrorResponse(c, "delete_recording", fmt.Sprintf("Failed to delete recording: %v", err))
		}
		return
	}
	s.broadcastLog("info", fmt.Sprintf("Deleted recording: %s", req.Name))

	recordings, err := s.library.List()
	if err != nil {
		slog.Warn("Failed to list recordings after delete", "error", err)
		recordings = []library.RecordingInfo{}
	}
	s.reply(c, recordingsListMessage{Type: "recordings_list", Recordings: recordings})
}
