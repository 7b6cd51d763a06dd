// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "piper_ws_clients",
		Help: "Number of connected control websocket clients",
	})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "piper_ws_messages_total",
		Help: "Control messages received by type",
	}, []string{"type"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "piper_ws_errors_total",
		Help: "Error replies sent by request type",
	}, []string{"type"})

	SamplesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "piper_samples_captured_total",
		Help: "Samples written to recordings",
	})

	PlaybackFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "piper_playback_frames_total",
		Help: "Frames sent to the arm during playback",
	})

	ArmStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "piper_arm_state_transitions_total",
		Help: "Arm state transitions by destination state",
	}, []string{"state"})

	ActiveOperation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "piper_active_operation",
		Help: "1 while the named operation (recording, playback) is active",
	}, []string{"operation"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "piper_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// IncMessage records a received control message.
func IncMessage(msgType string) {
	if msgType == "" {
		msgType = "unknown"
	}
	MessagesTotal.WithLabelValues(msgType).Inc()
}

// IncError records an error reply for the given request type.
func IncError(msgType string) {
	if msgType == "" {
		msgType = "unknown"
	}
	ErrorsTotal.WithLabelValues(msgType).Inc()
}

// SetActive flags an operation as running or idle.
func SetActive(operation string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	ActiveOperation.WithLabelValues(operation).Set(v)
}

// HTTP records request latency by chi route pattern. Do not wrap the
// websocket route with it: the upgraded connection outlives the request.
func HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestDuration.WithLabelValues(r.Method, path, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
