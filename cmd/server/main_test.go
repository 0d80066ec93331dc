package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pv_clearsky/internal/clearsky"
	"pv_clearsky/internal/estimator"
	"pv_clearsky/internal/ingest"
	"pv_clearsky/internal/metrics"
	"pv_clearsky/internal/store"
	"pv_clearsky/internal/ws"
)

const haCSV = `entity_id,state,last_changed
sensor.pv_power,500,2024-06-21T12:00:00.000Z
sensor.pv_power,520,2024-06-22T12:00:00.000Z
sensor.pv_power,10,2024-06-23T12:00:00.000Z
sensor.pv_power,unavailable,2024-06-23T13:00:00.000Z
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadStore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pv_power.csv", haCSV)
	writeFile(t, dir, "notes.txt", "ignored")

	s, err := loadStore(context.Background(), dir, ingest.Options{})
	require.NoError(t, err)
	assert.True(t, s.HasSeries("sensor.pv_power"))
	assert.Equal(t, 3, s.SampleCount("sensor.pv_power"))
}

func TestLoadStore_Empty(t *testing.T) {
	_, err := loadStore(context.Background(), t.TempDir(), ingest.Options{})
	assert.ErrorContains(t, err, "no samples found")
}

func TestLoadStore_MissingDir(t *testing.T) {
	_, err := loadStore(context.Background(), filepath.Join(t.TempDir(), "missing"), ingest.Options{})
	assert.ErrorContains(t, err, "reading input directory")
}

func TestNewRouter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pv_power.csv", haCSV)
	s, err := loadStore(context.Background(), dir, ingest.Options{})
	require.NoError(t, err)

	frontend := t.TempDir()
	writeFile(t, frontend, "index.html", "<html>clearsky</html>")

	params := clearsky.Params{Granularity: 60, Window: 3, Order: 1}
	m := metrics.New()
	hub := ws.NewHub()
	engine := estimator.New(s, params, m, ws.NewBridge(hub))
	server := httptest.NewServer(newRouter(engine, m, hub, frontend))
	defer server.Close()

	t.Run("api", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/curve")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("frontend", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestNewRouter_NoFrontend(t *testing.T) {
	engine := estimator.New(store.New(), clearsky.DefaultParams, nil, nil)
	router := newRouter(engine, nil, ws.NewHub(), filepath.Join(t.TempDir(), "missing"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
