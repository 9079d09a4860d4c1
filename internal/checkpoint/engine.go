// Package checkpoint captures coherent snapshots of a mission's projections
// and persists them twice: as a row keyed into the event log and as a JSON
// file for disaster recovery. The database row is authoritative; files exist
// so an operator can salvage state even when the database is gone.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/eventlog"
	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/metrics"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// progressThresholds are checked highest first so a large jump lands on the
// most advanced threshold it crossed.
var progressThresholds = [...]int{100, 75, 50, 25}

// Engine creates, stores, and retrieves checkpoints.
type Engine struct {
	store *storage.Store
	log   *eventlog.Log
	ids   *ident.Generator
	dir   string
	lg    zerolog.Logger
	now   func() time.Time

	// fileCache holds checkpoints recovered from orphaned files: JSON
	// backups with no matching row. They are served read-only.
	mu        sync.RWMutex
	fileCache map[string]*types.Checkpoint
}

// NewEngine wires the checkpoint engine. dir is the checkpoint file
// directory, created lazily on first write.
func NewEngine(store *storage.Store, log *eventlog.Log, ids *ident.Generator, dir string, logger zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		log:       log,
		ids:       ids,
		dir:       dir,
		lg:        logger.With().Str("component", "checkpoint").Logger(),
		now:       time.Now,
		fileCache: make(map[string]*types.Checkpoint),
	}
}

// SetNow replaces the clock for tests.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// Dir returns the checkpoint file directory.
func (e *Engine) Dir() string { return e.dir }

// CreateRequest is the input for a checkpoint capture. ProgressPercent
// overrides the mission's computed percentage when set; TTLHours makes the
// checkpoint prunable after the given horizon.
type CreateRequest struct {
	MissionID       string
	Trigger         types.CheckpointTrigger
	TriggerDetails  *string
	CreatedBy       string
	ProgressPercent *int
	TTLHours        *int
	CausationID     *string
}

// Create captures a checkpoint. Every included list is read inside the same
// write transaction that appends the checkpoint_created event, so the
// snapshot observes exactly one event-log prefix. The JSON file backup and
// latest pointer are written after commit; a file failure logs loudly but
// never undoes the committed checkpoint.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*types.Checkpoint, error) {
	if req.MissionID == "" {
		return nil, types.Validationf("mission_id is required")
	}
	if !types.ValidCheckpointTrigger(req.Trigger) {
		return nil, types.Validationf("invalid trigger %q", req.Trigger)
	}
	if req.ProgressPercent != nil && (*req.ProgressPercent < 0 || *req.ProgressPercent > 100) {
		return nil, types.Validationf("progress_percent must be between 0 and 100, got %d", *req.ProgressPercent)
	}
	if req.TTLHours != nil && *req.TTLHours <= 0 {
		return nil, types.Validationf("ttl_hours must be positive")
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}

	checkpointID := e.ids.New(ident.PrefixCheckpoint)
	var cp *types.Checkpoint
	err := e.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		snap, err := e.buildSnapshot(ctx, tx, req.MissionID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		progress := snap.mission.ProgressPercent()
		if req.ProgressPercent != nil {
			progress = *req.ProgressPercent
		}
		var expiresAt *time.Time
		if req.TTLHours != nil {
			t := now.Add(time.Duration(*req.TTLHours) * time.Hour)
			expiresAt = &t
		}

		cp = &types.Checkpoint{
			ID:              checkpointID,
			MissionID:       req.MissionID,
			Timestamp:       now,
			Trigger:         req.Trigger,
			TriggerDetails:  req.TriggerDetails,
			ProgressPercent: progress,
			Mission:         snap.mission,
			Sorties:         snap.sorties,
			ActiveLocks:     snap.locks,
			PendingMessages: snap.messages,
			RecoveryContext: snap.recovery,
			CreatedBy:       createdBy,
			EventGlobalSeq:  snap.maxSeq,
			ExpiresAt:       expiresAt,
			Version:         types.CheckpointVersion,
		}
		raw, err := json.Marshal(cp)
		if err != nil {
			return types.WrapError(types.KindValidation, err, "checkpoint does not marshal")
		}
		_, err = e.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventCheckpointCreated,
			StreamType:  types.StreamCheckpoint,
			StreamID:    checkpointID,
			CausationID: req.CausationID,
			OccurredAt:  &now,
			Data: &types.CheckpointCreatedPayload{
				CheckpointID:    checkpointID,
				MissionID:       req.MissionID,
				Trigger:         req.Trigger,
				TriggerDetails:  req.TriggerDetails,
				ProgressPercent: progress,
				CreatedBy:       createdBy,
				EventGlobalSeq:  snap.maxSeq,
				ExpiresAt:       expiresAt,
				Snapshot:        raw,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.persistFile(cp)
	metrics.CheckpointsCreated.WithLabelValues(string(cp.Trigger)).Inc()
	e.lg.Info().
		Str("checkpoint_id", cp.ID).
		Str("mission_id", cp.MissionID).
		Str("trigger", string(cp.Trigger)).
		Int("progress", cp.ProgressPercent).
		Msg("checkpoint created")
	return cp, nil
}

// OnProgress fires a progress checkpoint when the mission first reaches a
// 25/50/75/100 threshold. The (mission, trigger, threshold) uniqueness lives
// in the database, so a repeat crossing rolls back quietly and returns nil.
func (e *Engine) OnProgress(ctx context.Context, missionID string, progress int) (*types.Checkpoint, error) {
	threshold := 0
	for _, t := range progressThresholds {
		if progress >= t {
			threshold = t
			break
		}
	}
	if threshold == 0 {
		return nil, nil
	}
	details := fmt.Sprintf("progress reached %d%%", threshold)
	cp, err := e.Create(ctx, CreateRequest{
		MissionID:       missionID,
		Trigger:         types.TriggerProgress,
		TriggerDetails:  &details,
		CreatedBy:       "system",
		ProgressPercent: &threshold,
	})
	if storage.IsUniqueViolation(err, "checkpoints.mission_id") {
		e.lg.Debug().
			Str("mission_id", missionID).
			Int("threshold", threshold).
			Msg("progress checkpoint already taken")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// OnError captures an error checkpoint so the mission can resume from just
// before the failure.
func (e *Engine) OnError(ctx context.Context, missionID, details string) (*types.Checkpoint, error) {
	return e.Create(ctx, CreateRequest{
		MissionID:      missionID,
		Trigger:        types.TriggerError,
		TriggerDetails: &details,
		CreatedBy:      "system",
	})
}
