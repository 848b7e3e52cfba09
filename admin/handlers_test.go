package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oplogtail/oplogtail/telemetry"
)

func doRequest(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthOK(t *testing.T) {
	handlers := NewAdminHandlers(telemetry.NewStatsCollector(), PingerFunc(func(ctx context.Context) error {
		return nil
	}))

	rec := doRequest(t, NewRouter(handlers), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthDegraded(t *testing.T) {
	handlers := NewAdminHandlers(telemetry.NewStatsCollector(), PingerFunc(func(ctx context.Context) error {
		return errors.New("no reachable servers")
	}))

	rec := doRequest(t, NewRouter(handlers), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Contains(t, body["error"], "no reachable servers")
}

func TestHealthWithoutPinger(t *testing.T) {
	handlers := NewAdminHandlers(telemetry.NewStatsCollector(), nil)

	rec := doRequest(t, NewRouter(handlers), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStats(t *testing.T) {
	stats := telemetry.NewStatsCollector()
	stats.Record("app.users", "insert")
	handlers := NewAdminHandlers(stats, nil)

	rec := doRequest(t, NewRouter(handlers), "/stats")
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap telemetry.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Namespaces["app.users"].Inserts)
}

func TestUnknownRoute(t *testing.T) {
	handlers := NewAdminHandlers(telemetry.NewStatsCollector(), nil)

	rec := doRequest(t, NewRouter(handlers), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
