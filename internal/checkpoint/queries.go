package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// GetByID loads a checkpoint, preferring the database row. A checkpoint
// known only from a re-ingested file is served from the cache as a
// read-only artifact.
func (e *Engine) GetByID(ctx context.Context, checkpointID string) (*types.Checkpoint, error) {
	cp, err := e.getByIDDB(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		return cp, nil
	}
	if cached := e.cacheGet(checkpointID); cached != nil {
		return cached, nil
	}
	return nil, types.NotFoundf("checkpoint %s not found", checkpointID)
}

// GetLatest returns a mission's newest checkpoint.
func (e *Engine) GetLatest(ctx context.Context, missionID string) (*types.Checkpoint, error) {
	cp, err := scanCheckpoint(e.store.ReadDB().QueryRowContext(ctx, `
		SELECT snapshot, consumed_at FROM checkpoints
		WHERE mission_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, missionID))
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("mission %s has no checkpoints", missionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return cp, nil
}

// ListByMission returns a mission's checkpoints, newest first.
func (e *Engine) ListByMission(ctx context.Context, missionID string) ([]*types.Checkpoint, error) {
	rows, err := e.store.ReadDB().QueryContext(ctx, `
		SELECT snapshot, consumed_at FROM checkpoints
		WHERE mission_id = ?
		ORDER BY created_at DESC, id DESC`, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()
	return collectCheckpoints(rows)
}

// GetPrunable selects checkpoints eligible for retention pruning: older
// than the cutoff and outside the newest keepPerMission of their mission,
// or past their own expires_at. Checkpoints of completed/cancelled missions
// are skipped entirely unless includeCompleted is set, in which case they
// are candidates with no keep floor.
func (e *Engine) GetPrunable(ctx context.Context, olderThanDays, keepPerMission int, includeCompleted bool) ([]*types.Checkpoint, error) {
	if olderThanDays < 0 {
		return nil, types.Validationf("older_than_days must not be negative")
	}
	if keepPerMission < 0 {
		return nil, types.Validationf("keep_per_mission must not be negative")
	}
	now := e.now().UTC()
	cutoff := now.AddDate(0, 0, -olderThanDays)

	rows, err := e.store.ReadDB().QueryContext(ctx, `
		SELECT c.snapshot, c.consumed_at, m.status
		FROM checkpoints c JOIN missions m ON m.id = c.mission_id
		ORDER BY c.mission_id, c.created_at DESC, c.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prunable checkpoints: %w", err)
	}
	defer rows.Close()

	var prunable []*types.Checkpoint
	rank := 0
	lastMission := ""
	for rows.Next() {
		var raw string
		var consumedAt sql.NullString
		var missionStatus types.MissionStatus
		if err := rows.Scan(&raw, &consumedAt, &missionStatus); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp, err := decodeCheckpoint(raw, consumedAt)
		if err != nil {
			return nil, err
		}
		if cp.MissionID != lastMission {
			lastMission = cp.MissionID
			rank = 0
		}
		rank++

		terminal := types.TerminalMission(missionStatus)
		if terminal && !includeCompleted {
			continue
		}
		expired := cp.ExpiresAt != nil && !cp.ExpiresAt.After(now)
		protected := rank <= keepPerMission && !(terminal && includeCompleted)
		if expired || (cp.Timestamp.Before(cutoff) && !protected) {
			prunable = append(prunable, cp)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return prunable, nil
}

// PruneRequest bounds one retention pass.
type PruneRequest struct {
	OlderThanDays    int
	KeepPerMission   int
	IncludeCompleted bool
	CausationID      *string
}

// Prune removes every prunable checkpoint in one transaction, one
// checkpoint_pruned event each, then deletes the file backups. Returns how
// many were pruned.
func (e *Engine) Prune(ctx context.Context, req PruneRequest) (int, error) {
	victims, err := e.GetPrunable(ctx, req.OlderThanDays, req.KeepPerMission, req.IncludeCompleted)
	if err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}
	reason := fmt.Sprintf("retention: older than %dd, keep %d per mission", req.OlderThanDays, req.KeepPerMission)

	err = e.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		now := e.now().UTC()
		for _, cp := range victims {
			_, err := e.log.AppendTx(ctx, tx, types.AppendInput{
				EventType:   types.EventCheckpointPruned,
				StreamType:  types.StreamCheckpoint,
				StreamID:    cp.ID,
				CausationID: req.CausationID,
				OccurredAt:  &now,
				Data: &types.CheckpointPrunedPayload{
					CheckpointID: cp.ID,
					MissionID:    cp.MissionID,
					Reason:       reason,
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, cp := range victims {
		e.cacheDelete(cp.ID)
		if err := os.Remove(e.FilePath(cp.ID)); err != nil && !os.IsNotExist(err) {
			e.lg.Warn().Err(err).Str("checkpoint_id", cp.ID).Msg("checkpoint file removal failed")
		}
	}
	e.dropDanglingLatest()
	e.lg.Info().Int("pruned", len(victims)).Msg("checkpoint retention pass")
	return len(victims), nil
}

// dropDanglingLatest removes latest.json when it is a symlink whose target
// was just pruned. Copies are left alone; the next checkpoint replaces them.
func (e *Engine) dropDanglingLatest() {
	latest := filepath.Join(e.dir, latestName)
	target, err := os.Readlink(latest)
	if err != nil {
		return
	}
	if _, err := os.Stat(filepath.Join(e.dir, target)); os.IsNotExist(err) {
		os.Remove(latest)
	}
}

// MarkConsumedTx appends the checkpoint_consumed event inside the caller's
// transaction. The projection stamps consumed_at from the event time.
func (e *Engine) MarkConsumedTx(ctx context.Context, tx *sql.Tx, checkpointID, missionID string, restored types.RestoredCounts, causationID *string) error {
	now := e.now().UTC()
	_, err := e.log.AppendTx(ctx, tx, types.AppendInput{
		EventType:   types.EventCheckpointConsumed,
		StreamType:  types.StreamCheckpoint,
		StreamID:    checkpointID,
		CausationID: causationID,
		OccurredAt:  &now,
		Data: &types.CheckpointConsumedPayload{
			CheckpointID: checkpointID,
			MissionID:    missionID,
			Restored:     restored,
		},
	})
	return err
}

// getByIDDB reads one checkpoint row, (nil, nil) when absent.
func (e *Engine) getByIDDB(ctx context.Context, checkpointID string) (*types.Checkpoint, error) {
	cp, err := scanCheckpoint(e.store.ReadDB().QueryRowContext(ctx,
		`SELECT snapshot, consumed_at FROM checkpoints WHERE id = ?`, checkpointID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint %s: %w", checkpointID, err)
	}
	return cp, nil
}

// rowExists reports whether a checkpoint row is present, on the read pool.
func (e *Engine) rowExists(ctx context.Context, checkpointID string) (bool, error) {
	var one int
	err := e.store.ReadDB().QueryRowContext(ctx,
		`SELECT 1 FROM checkpoints WHERE id = ?`, checkpointID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe checkpoint %s: %w", checkpointID, err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanCheckpoint rebuilds a Checkpoint from its stored snapshot, overlaying
// the row's consumed_at, which is written after creation.
func scanCheckpoint(row rowScanner) (*types.Checkpoint, error) {
	var raw string
	var consumedAt sql.NullString
	if err := row.Scan(&raw, &consumedAt); err != nil {
		return nil, err
	}
	return decodeCheckpoint(raw, consumedAt)
}

func decodeCheckpoint(raw string, consumedAt sql.NullString) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint snapshot: %w", err)
	}
	if consumedAt.Valid {
		t, err := types.ParseTime(consumedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse consumed_at: %w", err)
		}
		cp.ConsumedAt = &t
	}
	return &cp, nil
}

func collectCheckpoints(rows *sql.Rows) ([]*types.Checkpoint, error) {
	var cps []*types.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return cps, nil
}
