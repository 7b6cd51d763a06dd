package server

import (
	"log/slog"
)

// tick broadcasts live progress while a recording or playback is active
// and notices when a single-recording playback has run to its end.
func (s *Server) tick() {
	switch {
	case s.recording && s.session != nil:
		st := s.session.Stats()
		s.broadcast(recordingProgressMessage{
			Type:      "recording_progress",
			Samples:   st.SampleCount,
			Segments:  st.SegmentCount,
			Capturing: st.Capturing,
			Duration:  round(st.Duration.Seconds(), 2),
			Rate:      round(st.CurrentRate, 1),
		})

	case s.playing && s.mode == modeSingle && s.started:
		if s.engine.IsPlaying() {
			progress := round(s.engine.Progress(), 1)
			current, total := s.engine.CurrentSample(), s.engine.TotalSamples()
			s.broadcast(playbackProgressMessage{
				Type:          "playback_progress",
				Status:        "playing",
				Progress:      &progress,
				CurrentSample: &current,
				TotalSamples:  &total,
			})
			return
		}

		// The engine stopped on its own while the flag still says playing.
		outcome := s.engine.Outcome()
		s.endRun()
		slog.Info("Playback complete", "name", s.engine.Info().Name, "outcome", outcome)
		s.broadcast(timelineCompleteMessage{Type: "timeline_complete"})
		s.broadcast(s.status())
	}
}
