package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/core"
	"github.com/v1truv1us/fleettools-sub002/internal/log"
)

// newTestServer opens a core against a throwaway data dir and returns the
// assembled router plus the core handle for tests that need to reach behind
// the HTTP surface (clocks, direct queries).
func newTestServer(t *testing.T) (*gin.Engine, *core.Core) {
	t.Helper()
	cfg := &config.Config{
		DataDir:            t.TempDir(),
		LogLevel:           "info",
		ListenAddr:         "127.0.0.1:0",
		SweepInterval:      50 * time.Millisecond,
		HeartbeatThreshold: 2 * time.Minute,
		CaseFoldPaths:      config.PolicyPreserve,
	}
	c, err := core.Open(context.Background(), cfg, log.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return NewServer(c, log.Nop()).Router(), c
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
}

// decodeError unwraps the error envelope and returns its body.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	decode(t, rec, &env)
	return env.Error
}

func TestRequestIDPropagation(t *testing.T) {
	r, _ := newTestServer(t)

	t.Run("inbound id is echoed", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodGet, "/api/v1/health", nil,
			map[string]string{headerRequestID: "req-roundtrip"})
		assert.Equal(t, "req-roundtrip", rec.Header().Get(headerRequestID))
	})

	t.Run("missing id is minted", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodGet, "/api/v1/health", nil, nil)
		assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	})
}

func TestErrorEnvelopeShape(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/api/v1/missions/m-missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, "NOT_FOUND", body.Code)
	assert.Contains(t, body.Message, "m-missing")
	// request_id only accompanies server-side failures.
	assert.Empty(t, body.RequestID)
}

func TestValidationEnvelope(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions",
		map[string]interface{}{"title": ""}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", decodeError(t, rec).Code)
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var h healthResponse
	decode(t, rec, &h)
	assert.Equal(t, "ok", h.Status)
	assert.False(t, h.ReadOnly)
	assert.Empty(t, h.Error)
}

func TestStatsEndpoint(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions",
		map[string]interface{}{"title": "Count me"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats core.Stats
	decode(t, rec, &stats)
	assert.Equal(t, int64(1), stats.Missions.Total)
	assert.Equal(t, int64(1), stats.Missions.Pending)
	// fleet_initialized plus mission_created at minimum.
	assert.GreaterOrEqual(t, stats.Events, int64(2))
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions",
		map[string]interface{}{"title": "Instrumented"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "fleet_events_appended_total"),
		"exposition should include the append counter")
	assert.True(t, strings.Contains(body, "fleet_http_requests_total"),
		"exposition should include the request counter")
}

func TestUnknownRouteReturnsPlain404(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doRequest(t, r, http.MethodGet, "/api/v1/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
