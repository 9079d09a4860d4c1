package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func TestRegisterAndHeartbeat(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/specialists", map[string]interface{}{
		"id":           "spec-falcon",
		"name":         "Falcon",
		"capabilities": []string{"golang", "sql"},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var sp types.Specialist
	decode(t, rec, &sp)
	assert.Equal(t, "spec-falcon", sp.ID)
	assert.Equal(t, types.SpecialistActive, sp.Status)
	firstSeen := sp.LastSeen

	time.Sleep(5 * time.Millisecond)
	rec = doRequest(t, r, http.MethodPost, "/api/v1/specialists/spec-falcon/heartbeat",
		map[string]interface{}{"status": "busy"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	decode(t, rec, &sp)
	assert.Equal(t, types.SpecialistBusy, sp.Status)
	assert.True(t, sp.LastSeen.After(firstSeen), "heartbeat must bump last_seen")
}

func TestHeartbeatUnknownSpecialist(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doRequest(t, r, http.MethodPost, "/api/v1/specialists/spec-ghost/heartbeat", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}

func TestReRegisterRefreshesSpecialist(t *testing.T) {
	r, _ := newTestServer(t)
	registerSpecialist(t, r, "spec-redo", "Redo")

	rec := doRequest(t, r, http.MethodPost, "/api/v1/specialists", map[string]interface{}{
		"id":           "spec-redo",
		"name":         "Redo Mk2",
		"capabilities": []string{"rust"},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	rec = doRequest(t, r, http.MethodGet, "/api/v1/specialists/spec-redo", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sp types.Specialist
	decode(t, rec, &sp)
	assert.Equal(t, "Redo Mk2", sp.Name)
	assert.Equal(t, []string{"rust"}, sp.Capabilities)
}

func TestListSpecialistsStaleFilter(t *testing.T) {
	r, c := newTestServer(t)

	past := time.Now().Add(-10 * time.Minute)
	c.Fleet.SetNow(func() time.Time { return past })
	registerSpecialist(t, r, "spec-idle", "Idle")

	c.Fleet.SetNow(time.Now)
	registerSpecialist(t, r, "spec-live", "Live")

	type specialistList struct {
		Specialists []types.Specialist `json:"specialists"`
		Count       int                `json:"count"`
	}

	rec := doRequest(t, r, http.MethodGet, "/api/v1/specialists", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out specialistList
	decode(t, rec, &out)
	assert.Equal(t, 2, out.Count)

	// Harness threshold is two minutes; only the backdated registration
	// counts as stale.
	rec = doRequest(t, r, http.MethodGet, "/api/v1/specialists?stale=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &out)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "spec-idle", out.Specialists[0].ID)
}

func TestAdvanceCursorMonotonic(t *testing.T) {
	r, _ := newTestServer(t)
	m := createMission(t, r, "Tracked")

	advance := func(position int64) *httptest.ResponseRecorder {
		return doRequest(t, r, http.MethodPost, "/api/v1/cursors", map[string]interface{}{
			"cursor_id":   "cur-follower",
			"stream_type": "mission",
			"stream_id":   m.ID,
			"position":    position,
			"consumer_id": "spec-reader",
		}, nil)
	}

	var cur types.Cursor
	rec := advance(1)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	decode(t, rec, &cur)
	assert.Equal(t, "cur-follower", cur.ID)
	assert.Equal(t, int64(1), cur.Position)

	rec = advance(3)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &cur)
	assert.Equal(t, int64(3), cur.Position)

	// Same position is an idempotent no-op.
	rec = advance(3)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &cur)
	assert.Equal(t, int64(3), cur.Position)

	// Moving backward is stale, not an overwrite.
	rec = advance(2)
	require.Equal(t, http.StatusGone, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/cursors/cur-follower", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &cur)
	assert.Equal(t, int64(3), cur.Position)
	require.NotNil(t, cur.ConsumerID)
	assert.Equal(t, "spec-reader", *cur.ConsumerID)
}

func TestCursorStreamMismatch(t *testing.T) {
	r, _ := newTestServer(t)
	m := createMission(t, r, "Pinned")

	rec := doRequest(t, r, http.MethodPost, "/api/v1/cursors", map[string]interface{}{
		"cursor_id":   "cur-pinned",
		"stream_type": "mission",
		"stream_id":   m.ID,
		"position":    1,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/v1/cursors", map[string]interface{}{
		"cursor_id":   "cur-pinned",
		"stream_type": "squawk",
		"stream_id":   "spec-other",
		"position":    2,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", decodeError(t, rec).Code)
}
