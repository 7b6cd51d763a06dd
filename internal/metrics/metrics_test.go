package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTP)
	r.Get("/api/recordings/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.CollectAndCount(httpRequestDuration)
	for _, name := range []string{"a.ppr", "b.ppr"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recordings/"+name, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	// Both requests share one series.
	assert.Equal(t, before+1, testutil.CollectAndCount(httpRequestDuration))
}

func TestCounters(t *testing.T) {
	IncMessage("get_status")
	IncMessage("")
	IncError("start_recording")

	assert.Equal(t, 1.0, testutil.ToFloat64(MessagesTotal.WithLabelValues("get_status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(MessagesTotal.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ErrorsTotal.WithLabelValues("start_recording")))

	SetActive("recording", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(ActiveOperation.WithLabelValues("recording")))
	SetActive("recording", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(ActiveOperation.WithLabelValues("recording")))
}
