package api

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

type checkpointList struct {
	Checkpoints []types.Checkpoint `json:"checkpoints"`
	Count       int                `json:"count"`
}

// startedSortie stands up a mission with one in-progress sortie and returns
// both ids.
func startedSortie(t *testing.T, r *gin.Engine, specialist string) (missionID, sortieID string) {
	t.Helper()
	registerSpecialist(t, r, specialist, "Pilot "+specialist)
	m := createMission(t, r, "Mission for "+specialist)
	s := createMissionSortie(t, r, m.ID, "Sortie for "+specialist)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+m.ID+"/start", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, r, http.MethodPost, "/api/v1/sorties/"+s.ID+"/assign",
		map[string]interface{}{"specialist_id": specialist}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, r, http.MethodPost, "/api/v1/sorties/"+s.ID+"/start",
		map[string]interface{}{"specialist_id": specialist}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return m.ID, s.ID
}

func progressSortie(t *testing.T, r *gin.Engine, sortieID string, progress int) {
	t.Helper()
	rec := doRequest(t, r, http.MethodPost, "/api/v1/sorties/"+sortieID+"/progress",
		map[string]interface{}{"progress": progress}, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
}

func TestManualCheckpointLifecycle(t *testing.T) {
	r, _ := newTestServer(t)
	missionID, sortieID := startedSortie(t, r, "spec-cp")
	progressSortie(t, r, sortieID, 40)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+missionID+"/checkpoints",
		map[string]interface{}{"created_by": "ops", "trigger_details": "pre-handoff"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var cp types.Checkpoint
	decode(t, rec, &cp)
	assert.Equal(t, missionID, cp.MissionID)
	assert.Equal(t, types.TriggerManual, cp.Trigger)
	assert.Equal(t, "ops", cp.CreatedBy)
	assert.Equal(t, types.CheckpointVersion, cp.Version)
	require.Len(t, cp.Sorties, 1)
	assert.Equal(t, 40, cp.Sorties[0].Progress)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/checkpoints/"+cp.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched types.Checkpoint
	decode(t, rec, &fetched)
	assert.Equal(t, cp.ID, fetched.ID)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/missions/"+missionID+"/checkpoints", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out checkpointList
	decode(t, rec, &out)
	assert.Equal(t, 1, out.Count)
}

func TestProgressTriggerRefusedOverHTTP(t *testing.T) {
	r, _ := newTestServer(t)
	missionID, _ := startedSortie(t, r, "spec-refused")

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+missionID+"/checkpoints",
		map[string]interface{}{"trigger": "progress"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", decodeError(t, rec).Code)
}

// Completing the mission's only sortie crosses every progress threshold at
// once; the core cuts the checkpoint itself.
func TestThresholdCheckpointFiresOnCompletion(t *testing.T) {
	r, _ := newTestServer(t)
	missionID, sortieID := startedSortie(t, r, "spec-thresh")

	rec := doRequest(t, r, http.MethodPost, "/api/v1/sorties/"+sortieID+"/complete",
		map[string]interface{}{"specialist_id": "spec-thresh"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	rec = doRequest(t, r, http.MethodGet, "/api/v1/missions/"+missionID+"/checkpoints", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out checkpointList
	decode(t, rec, &out)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, types.TriggerProgress, out.Checkpoints[0].Trigger)
	assert.Equal(t, 100, out.Checkpoints[0].ProgressPercent)
}

func TestRestoreRevertsPostCheckpointProgress(t *testing.T) {
	r, _ := newTestServer(t)
	missionID, sortieID := startedSortie(t, r, "spec-restore")
	progressSortie(t, r, sortieID, 30)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+missionID+"/checkpoints",
		map[string]interface{}{"created_by": "spec-restore"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var cp types.Checkpoint
	decode(t, rec, &cp)

	progressSortie(t, r, sortieID, 80)

	// Dry run reports the work without touching anything.
	rec = doRequest(t, r, http.MethodPost, "/api/v1/checkpoints/"+cp.ID+"/restore?dry_run=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var dry types.RestoreResult
	decode(t, rec, &dry)
	assert.True(t, dry.DryRun)
	assert.True(t, dry.Success)
	assert.Equal(t, 1, dry.Restored.Sorties)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/sorties/"+sortieID, nil, nil)
	var s types.Sortie
	decode(t, rec, &s)
	assert.Equal(t, 80, s.Progress, "dry run must not restore")

	rec = doRequest(t, r, http.MethodPost, "/api/v1/checkpoints/"+cp.ID+"/restore", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var res types.RestoreResult
	decode(t, rec, &res)
	assert.True(t, res.Success)
	assert.False(t, res.DryRun)
	assert.Equal(t, 1, res.Restored.Sorties)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/sorties/"+sortieID, nil, nil)
	decode(t, rec, &s)
	assert.Equal(t, 30, s.Progress, "restore should rewind to the snapshot")
	assert.Equal(t, types.SortieInProgress, s.Status)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/checkpoints/"+cp.ID, nil, nil)
	var consumed types.Checkpoint
	decode(t, rec, &consumed)
	assert.NotNil(t, consumed.ConsumedAt, "restore marks the checkpoint consumed")
}

func TestPruneKeepsNewestPerMission(t *testing.T) {
	r, _ := newTestServer(t)
	missionID, _ := startedSortie(t, r, "spec-prune")

	for i := 0; i < 2; i++ {
		rec := doRequest(t, r, http.MethodPost, "/api/v1/missions/"+missionID+"/checkpoints",
			map[string]interface{}{"created_by": "ops"}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(t, r, http.MethodDelete,
		"/api/v1/checkpoints?older_than_days=0&keep_per_mission=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var out struct {
		Pruned int `json:"pruned"`
	}
	decode(t, rec, &out)
	assert.Equal(t, 1, out.Pruned)

	rec = doRequest(t, r, http.MethodGet, "/api/v1/missions/"+missionID+"/checkpoints", nil, nil)
	var list checkpointList
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)
}

func TestRestoreMissingCheckpoint(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doRequest(t, r, http.MethodPost, "/api/v1/checkpoints/cp-missing/restore", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}
