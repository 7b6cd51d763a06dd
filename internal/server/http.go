package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kevinboards/piperRobotAutoSystem/internal/metrics"
)

const (
	readLimit       = 1 << 20
	healthTimeout   = time.Second
	shutdownTimeout = 5 * time.Second
)

// Handler returns the HTTP routes: the control websocket, health and
// metrics endpoints, read-only listings and the optional web UI.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/ws", s.handleWebsocket)

	r.Group(func(r chi.Router) {
		r.Use(metrics.HTTP)
		r.Get("/healthz", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/api/recordings", s.handleRecordings)
		r.Get("/api/timelines", s.handleTimelines)
		r.Get("/", s.handleIndex)
		if dir := s.cfg.Server.WebDir; dir != "" {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		}
	})
	return r
}

// Serve runs the event loop, the HTTP listener and the recordings watcher
// until ctx is cancelled or one of them fails.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Run(ctx)
	})
	g.Go(func() error {
		return s.ListenAndServe(ctx)
	})
	g.Go(func() error {
		return s.WatchRecordings(ctx)
	})
	return g.Wait()
}

// ListenAndServe serves Handler on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting Piper Control Server",
		"addr", addr,
		"local_url", fmt.Sprintf("http://%s:%d", localIP, s.cfg.Server.Port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.cfg.Server.Port),
		"websocket", fmt.Sprintf("ws://%s:%d/ws", localIP, s.cfg.Server.Port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve on %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
		slog.Info("HTTP server stopped")
		return nil
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	c := newClient(conn)
	go c.writePump()
	if !s.post(func() { s.addClient(c) }) {
		c.close()
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Debug("Websocket closed", "client", c.id, "error", err)
			} else {
				slog.Debug("Websocket read error", "client", c.id, "error", err)
			}
			break
		}
		if !s.post(func() { s.dispatch(c, data) }) {
			break
		}
	}

	if !s.post(func() { s.removeClient(c) }) {
		c.close()
	}
}

// handleHealth reports healthy when the event loop answers within a second.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	done := make(chan struct{})
	select {
	case s.posts <- func() { close(done) }:
	case <-s.quit:
		s.sendHTTPError(w, http.StatusServiceUnavailable, "control loop stopped")
		return
	case <-ctx.Done():
		s.sendHTTPError(w, http.StatusServiceUnavailable, "control loop busy")
		return
	}
	select {
	case <-done:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case <-ctx.Done():
		s.sendHTTPError(w, http.StatusServiceUnavailable, "control loop not responding")
	}
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	recordings, err := s.library.List()
	if err != nil {
		s.sendHTTPError(w, http.StatusInternalServerError, "Failed to list recordings", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recordings":  recordings,
		"total_count": len(recordings),
		"directory":   s.library.Dir(),
	})
}

func (s *Server) handleTimelines(w http.ResponseWriter, r *http.Request) {
	timelines, err := s.timelines.List()
	if err != nil {
		s.sendHTTPError(w, http.StatusInternalServerError, "Failed to list timelines", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timelines":   timelines,
		"total_count": len(timelines),
		"directory":   s.timelines.Dir(),
	})
}

// handleIndex serves the web UI entry page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var htmlContent []byte
	if dir := s.cfg.Server.WebDir; dir != "" {
		htmlContent, _ = os.ReadFile(filepath.Join(dir, "index.html"))
	}
	if htmlContent == nil {
		htmlContent = []byte(defaultHTML)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(htmlContent)
}

const defaultHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Piper Control</title>
</head>
<body>
    <h1>Piper Control Server</h1>
    <p>No web UI directory is configured (server.web_dir). The server is running.</p>
    <ul>
        <li>WS /ws - control protocol</li>
        <li>GET /api/recordings - list recordings</li>
        <li>GET /api/timelines - list timelines</li>
        <li>GET /healthz - health check</li>
        <li>GET /metrics - Prometheus metrics</li>
    </ul>
</body>
</html>`

// sendHTTPError logs the error and sends a JSON error response
func (s *Server) sendHTTPError(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...any) {
	logFields := []any{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]any{
		"success": false,
		"error":   errorMsg,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}
