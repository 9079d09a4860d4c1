package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gin-gonic/gin"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

type eventList struct {
	Events []types.Event `json:"events"`
	Count  int           `json:"count"`
}

func registerSpecialist(t *testing.T, r *gin.Engine, id, name string) {
	t.Helper()
	rec := doRequest(t, r, http.MethodPost, "/api/v1/specialists",
		map[string]interface{}{"id": id, "name": name, "capabilities": []string{"golang"}}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
}

func createMission(t *testing.T, r *gin.Engine, title string) types.Mission {
	t.Helper()
	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions",
		map[string]interface{}{"title": title}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var m types.Mission
	decode(t, rec, &m)
	return m
}

func createMissionSortie(t *testing.T, r *gin.Engine, missionID, title string) types.Sortie {
	t.Helper()
	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+missionID+"/sorties",
		map[string]interface{}{"title": title}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var s types.Sortie
	decode(t, rec, &s)
	return s
}

func missionEvents(t *testing.T, r *gin.Engine, missionID string) []types.Event {
	t.Helper()
	rec := doRequest(t, r, http.MethodGet,
		fmt.Sprintf("/api/v1/events?stream_type=mission&stream_id=%s", missionID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out eventList
	decode(t, rec, &out)
	return out.Events
}

// The canonical assignment flow leaves a dense, ordered trail on the mission
// stream: created, sortie created, assigned, started.
func TestMissionAssignmentEventTrail(t *testing.T) {
	r, _ := newTestServer(t)
	registerSpecialist(t, r, "spec-nova", "Nova")

	m := createMission(t, r, "Refit bay 3")
	assert.Equal(t, types.MissionPending, m.Status)
	assert.Equal(t, types.PriorityMedium, m.Priority)

	s := createMissionSortie(t, r, m.ID, "Inspect hull plating")
	require.NotNil(t, s.MissionID)
	assert.Equal(t, m.ID, *s.MissionID)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/sorties/"+s.ID+"/assign",
		map[string]interface{}{"specialist_id": "spec-nova"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	rec = doRequest(t, r, http.MethodPost, "/api/v1/sorties/"+s.ID+"/start",
		map[string]interface{}{"specialist_id": "spec-nova"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var started types.Sortie
	decode(t, rec, &started)
	assert.Equal(t, types.SortieInProgress, started.Status)

	events := missionEvents(t, r, m.ID)
	require.Len(t, events, 4)
	wantTypes := []string{
		types.EventMissionCreated,
		types.EventSortieCreated,
		types.EventSortieAssigned,
		types.EventSortieStarted,
	}
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.SequenceNumber, "event %d out of order", i)
		assert.Equal(t, wantTypes[i], ev.EventType)
		assert.Equal(t, types.StreamMission, ev.StreamType)
		assert.Equal(t, m.ID, ev.StreamID)
	}
}

func TestCausationHeaderThreadsCorrelation(t *testing.T) {
	r, _ := newTestServer(t)

	m := createMission(t, r, "Chart the debris field")
	created := missionEvents(t, r, m.ID)
	require.Len(t, created, 1)
	rootID := created[0].EventID
	// A root event correlates with itself.
	require.Equal(t, rootID, created[0].CorrelationID)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+m.ID+"/start", nil,
		map[string]string{headerCausationID: rootID})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	events := missionEvents(t, r, m.ID)
	require.Len(t, events, 2)
	startedEv := events[1]
	require.NotNil(t, startedEv.CausationID)
	assert.Equal(t, rootID, *startedEv.CausationID)
	assert.Equal(t, created[0].CorrelationID, startedEv.CorrelationID,
		"caused event should inherit the chain's correlation")
}

func TestCompleteMissionWithOpenSortiesRefused(t *testing.T) {
	r, _ := newTestServer(t)

	m := createMission(t, r, "Resupply run")
	createMissionSortie(t, r, m.ID, "Load cargo")

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+m.ID+"/start", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/v1/missions/"+m.ID+"/complete", nil, nil)
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "PRECONDITION_FAILED", body.Code)
	assert.Contains(t, body.Message, "open sorties")
}

func TestMissionCompletionFlow(t *testing.T) {
	r, _ := newTestServer(t)
	registerSpecialist(t, r, "spec-kestrel", "Kestrel")

	m := createMission(t, r, "Patrol the outer ring")
	s := createMissionSortie(t, r, m.ID, "Fly the circuit")

	for _, step := range []struct {
		path string
		body interface{}
	}{
		{"/api/v1/missions/" + m.ID + "/start", nil},
		{"/api/v1/sorties/" + s.ID + "/assign", map[string]interface{}{"specialist_id": "spec-kestrel"}},
		{"/api/v1/sorties/" + s.ID + "/start", map[string]interface{}{"specialist_id": "spec-kestrel"}},
		{"/api/v1/sorties/" + s.ID + "/complete", map[string]interface{}{"specialist_id": "spec-kestrel", "result": "all clear"}},
	} {
		rec := doRequest(t, r, http.MethodPost, step.path, step.body, nil)
		require.Equal(t, http.StatusOK, rec.Code, "step %s body: %s", step.path, rec.Body.String())
	}

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+m.ID+"/complete",
		map[string]interface{}{"result": "route secured"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var done types.Mission
	decode(t, rec, &done)
	assert.Equal(t, types.MissionCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "route secured", *done.Result)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/missions/"+m.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched types.Mission
	decode(t, rec, &fetched)
	assert.Equal(t, 1, fetched.TotalSorties)
	assert.Equal(t, 1, fetched.CompletedSorties)
}

func TestCancelMissionTwiceConflicts(t *testing.T) {
	r, _ := newTestServer(t)

	m := createMission(t, r, "Abort me")
	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+m.ID+"/cancel",
		map[string]interface{}{"reason": "weather"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	rec = doRequest(t, r, http.MethodPost, "/api/v1/missions/"+m.ID+"/cancel",
		map[string]interface{}{"reason": "again"}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decodeError(t, rec).Code)
}

func TestListMissionsByStatus(t *testing.T) {
	r, _ := newTestServer(t)

	first := createMission(t, r, "First")
	createMission(t, r, "Second")

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+first.ID+"/start", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/missions?status=pending", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Missions []types.Mission `json:"missions"`
		Count    int             `json:"count"`
	}
	decode(t, rec, &out)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "Second", out.Missions[0].Title)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/missions", nil, nil)
	decode(t, rec, &out)
	assert.Equal(t, 2, out.Count)
}

func TestNestedSortieMissionIDMismatch(t *testing.T) {
	r, _ := newTestServer(t)

	m := createMission(t, r, "Host mission")
	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+m.ID+"/sorties",
		map[string]interface{}{"title": "Stray", "mission_id": "m-other"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", decodeError(t, rec).Code)
}
