// Package server is the control server. A single event loop goroutine owns
// the recorder, the playback engine, the arm state monitor and all session
// flags; websocket readers, monitor callbacks, playback runners and the
// recordings watcher reach it only by posting closures onto the loop.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kevinboards/piperRobotAutoSystem/internal/arm"
	"github.com/kevinboards/piperRobotAutoSystem/internal/config"
	"github.com/kevinboards/piperRobotAutoSystem/internal/library"
	"github.com/kevinboards/piperRobotAutoSystem/internal/metrics"
	"github.com/kevinboards/piperRobotAutoSystem/internal/monitor"
	"github.com/kevinboards/piperRobotAutoSystem/internal/player"
	"github.com/kevinboards/piperRobotAutoSystem/internal/ppr"
	"github.com/kevinboards/piperRobotAutoSystem/internal/recorder"
	"github.com/kevinboards/piperRobotAutoSystem/internal/scheduler"
	"github.com/kevinboards/piperRobotAutoSystem/internal/timeline"
)

const (
	postBuffer  = 64
	joinTimeout = 2 * time.Second
)

type playMode int

const (
	modeNone playMode = iota
	// modeSingle is one loaded recording driven by the engine directly.
	modeSingle
	// modeSequence is a node graph or clip timeline driven by a runner.
	modeSequence
)

// Server is the control server.
type Server struct {
	cfg       *config.Config
	arm       arm.Arm
	library   *library.Library
	timelines *timeline.Store
	recorder  *recorder.Recorder
	engine    *player.Engine
	monitor   *monitor.Monitor
	runner    *scheduler.Runner
	upgrader  websocket.Upgrader

	posts   chan func()
	quit    chan struct{}
	ctx     context.Context
	workers sync.WaitGroup

	// Owned by the event loop.
	clients   map[*client]struct{}
	recording bool // a session is open or opening
	session   *recorder.Session
	playing   bool // a playback is running or starting
	mode      playMode
	started   bool // the single playback has left its handshake
	runID     int
	cancelRun context.CancelFunc
}

// New wires a server around a. The arm must be safe for concurrent use
// (see arm.Locked) since the monitor polls it while recording or playback
// goroutines drive it.
func New(cfg *config.Config, a arm.Arm) *Server {
	s := &Server{
		cfg:       cfg,
		arm:       a,
		library:   library.New(cfg.Storage.RecordingsDir),
		timelines: timeline.NewStore(cfg.Storage.TimelinesDir),
		recorder:  recorder.New(a),
		engine:    player.New(a, cfg.Playback.MinSpeed, cfg.Playback.MaxSpeed),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // the UI is served from any host on the LAN
			},
		},
		posts:   make(chan func(), postBuffer),
		quit:    make(chan struct{}),
		ctx:     context.Background(),
		clients: make(map[*client]struct{}),
	}

	s.runner = scheduler.NewRunner(s.engine, a, s.library, cfg.Arm.Handshake())
	s.runner.Options = s.playbackOptions(player.Discipline(cfg.Playback.Discipline))

	s.monitor = monitor.New(a, cfg.Monitor.Interval(), monitor.Callbacks{
		OnStateChange: func(old, new monitor.State) {
			metrics.ArmStateTransitions.WithLabelValues(string(new)).Inc()
			s.post(func() {
				s.broadcast(armStateMessage{Type: "arm_state", State: string(new), Previous: string(old)})
			})
		},
		OnEnterTeaching: func() {
			s.post(s.onEnterTeaching)
		},
		OnLeaveTeaching: func(new monitor.State) {
			s.post(func() { s.onLeaveTeaching(new) })
		},
	})
	return s
}

func (s *Server) playbackOptions(d player.Discipline) player.Options {
	return player.Options{
		Discipline: d,
		Interval:   s.cfg.Playback.FixedInterval(),
		LagWarn:    s.cfg.Playback.LagWarn(),
		OnFrame:    metrics.PlaybackFrames.Inc,
	}
}

// Run starts the arm state monitor and runs the event loop until ctx is
// cancelled. On return every background goroutine it started has exited,
// the open recording (if any) is closed and all clients are disconnected.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	defer s.shutdown(cancel)

	s.monitor.Start()

	ticker := time.NewTicker(s.cfg.Server.StatusInterval())
	defer ticker.Stop()

	slog.Info("Control loop started", "status_interval", s.cfg.Server.StatusInterval(), "recordings", s.library.Dir(), "timelines", s.timelines.Dir())
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-s.posts:
			f()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Server) shutdown(cancel context.CancelFunc) {
	cancel()
	close(s.quit)

	s.monitor.Stop()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	if !waitTimeout(&s.workers, joinTimeout) {
		slog.Warn("Background work did not finish in time")
	}
	if err := s.engine.Stop(); err != nil {
		slog.Warn("Failed to stop playback", "error", err)
	}
	if s.recorder.Session() != nil {
		sum, err := s.recorder.Close()
		if err != nil {
			slog.Error("Failed to close recording on shutdown", "error", err)
		} else {
			slog.Info("Recording closed on shutdown", "file", sum.Filename, "samples", sum.SampleCount)
		}
	}
	metrics.SetActive("recording", false)
	metrics.SetActive("playback", false)

	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
	metrics.ConnectedClients.Set(0)
	slog.Info("Control loop stopped")
}

// post schedules f on the event loop. It reports false once the loop has
// stopped, in which case f never runs.
func (s *Server) post(f func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.posts <- f:
		return true
	case <-s.quit:
		return false
	}
}

// spawn runs f on a tracked goroutine so shutdown can wait for it.
func (s *Server) spawn(f func()) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		f()
	}()
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

func (s *Server) addClient(c *client) {
	s.clients[c] = struct{}{}
	metrics.ConnectedClients.Set(float64(len(s.clients)))
	slog.Info("Websocket client connected", "client", c.id, "clients", len(s.clients))
	s.reply(c, s.status())
}

func (s *Server) removeClient(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	c.close()
	metrics.ConnectedClients.Set(float64(len(s.clients)))
	slog.Info("Websocket client disconnected", "client", c.id, "clients", len(s.clients))
}

func (s *Server) sendTo(c *client, data []byte) {
	if _, ok := s.clients[c]; !ok {
		return // disconnected while its request was in flight
	}
	if !c.enqueue(data) {
		slog.Warn("Client send buffer full, disconnecting", "client", c.id)
		s.removeClient(c)
	}
}

func encode(v any) ([]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode message", "error", err)
		return nil, false
	}
	return data, true
}

// reply sends v to one client.
func (s *Server) reply(c *client, v any) {
	if data, ok := encode(v); ok {
		s.sendTo(c, data)
	}
}

// broadcast sends v to every connected client.
func (s *Server) broadcast(v any) {
	s.broadcastExcept(nil, v)
}

func (s *Server) broadcastExcept(skip *client, v any) {
	if len(s.clients) == 0 {
		return
	}
	data, ok := encode(v)
	if !ok {
		return
	}
	for c := range s.clients {
		if c != skip {
			s.sendTo(c, data)
		}
	}
}

// broadcastLog sends a log event to every client and mirrors it to slog.
func (s *Server) broadcastLog(level, message string) {
	switch level {
	case "error":
		slog.Error(message)
	case "warning":
		slog.Warn(message)
	default:
		slog.Info(message)
	}
	s.broadcast(logMessage{Type: "log", Level: level, Message: message})
}

// replyStatus answers c with the current status and pushes the same status
// to every other client.
func (s *Server) replyStatus(c *client) {
	st := s.status()
	s.reply(c, st)
	s.broadcastExcept(c, st)
}

// sendErrorResponse logs the error and sends an error message to c.
func (s *Server) sendErrorResponse(c *client, msgType, errorMsg string, logContext ...any) {
	logFields := []any{"error_message", errorMsg, "request", msgType, "client", c.id}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)
	metrics.IncError(msgType)
	s.reply(c, errorMessage{Type: "error", Message: errorMsg})
}

func (s *Server) status() statusMessage {
	joints := make([]float64, len(ppr.Joints{}))
	j, ok := s.monitor.Joints()
	if ok {
		copy(joints, j[:])
	}
	return statusMessage{
		Type:      "status",
		Connected: ok,
		Driver:    s.cfg.Arm.Driver,
		Recording: s.recording,
		Capturing: s.session != nil && s.session.IsCapturing(),
		Playing:   s.playing,
		Paused:    s.playing && s.engine.IsPaused(),
		ArmState:  string(s.monitor.State()),
		Joints:    joints,
	}
}

func (s *Server) onEnterTeaching() {
	if s.session == nil || !s.session.ResumeCapture() {
		return
	}
	st := s.session.Stats()
	s.broadcastLog("info", fmt.Sprintf("Arm in TEACHING mode: recording segment %d", st.SegmentCount))
}

func (s *Server) onLeaveTeaching(new monitor.State) {
	if s.session == nil || !s.session.PauseCapture() {
		return
	}
	st := s.session.Stats()
	s.broadcastLog("info", fmt.Sprintf(
		"Arm left TEACHING for %s: capture paused (%d samples total, %d segment(s)). Waiting for next TEACHING segment or stop.",
		new, st.SampleCount, st.SegmentCount))
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
