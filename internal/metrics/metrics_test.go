package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/model"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveRun(t *testing.T) {
	m := New()

	m.ObserveRun(clearsky.Result{
		Samples:   100,
		Malformed: 3,
		Smoothed:  model.Curve{0, 480.5, 12},
		Stats:     clearsky.AggregateStats{EmptySlots: 40, Outliers: 7},
	}, 5*time.Millisecond, nil)
	m.ObserveRun(clearsky.Result{}, time.Millisecond, &clearsky.ParameterError{Name: "window", Value: 4, Reason: "must be odd"})
	m.ObserveRun(clearsky.Result{}, time.Millisecond, context.Canceled)
	m.ObserveRun(clearsky.Result{}, time.Millisecond, fmt.Errorf("boom"))

	body := scrape(t, m)
	assert.Contains(t, body, `clearsky_runs_total{outcome="ok"} 1`)
	assert.Contains(t, body, `clearsky_runs_total{outcome="invalid_parameter"} 1`)
	assert.Contains(t, body, `clearsky_runs_total{outcome="canceled"} 1`)
	assert.Contains(t, body, `clearsky_runs_total{outcome="error"} 1`)
	assert.Contains(t, body, "clearsky_samples_total 100")
	assert.Contains(t, body, "clearsky_malformed_samples_total 3")
	assert.Contains(t, body, "clearsky_outliers_total 7")
	assert.Contains(t, body, "clearsky_empty_slots 40")
	assert.Contains(t, body, "clearsky_peak_power_watts 480.5")
	assert.Contains(t, body, "clearsky_run_duration_seconds_count 4")
}

func TestWrapHandler(t *testing.T) {
	m := New()
	h := m.WrapHandler("/api/curve", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/curve", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := scrape(t, m)
	assert.Contains(t, body, `http_requests_total{route="/api/curve",status="400"} 1`)
}

func TestWebsocketClients(t *testing.T) {
	m := New()
	m.SetWebsocketClients(3)

	assert.Contains(t, scrape(t, m), "clearsky_websocket_clients 3")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(clearsky.Result{}, time.Second, nil)
		m.SetWebsocketClients(1)

		rec := httptest.NewRecorder()
		m.WrapHandler("x", http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestIndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
