package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func applyCheckpointCreated(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.CheckpointCreatedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode checkpoint_created: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, mission_id, created_at, trigger_kind, trigger_details,
			progress_percent, snapshot, created_by, event_global_seq, expires_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		p.CheckpointID, p.MissionID, types.FormatTime(ev.OccurredAt), p.Trigger,
		nullStr(p.TriggerDetails), p.ProgressPercent, string(p.Snapshot), p.CreatedBy,
		p.EventGlobalSeq, nullTime(p.ExpiresAt), types.CheckpointVersion)
	if err != nil {
		return fmt.Errorf("failed to project checkpoint_created: %w", err)
	}
	return nil
}

func applyCheckpointConsumed(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.CheckpointConsumedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode checkpoint_consumed: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE checkpoints SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		types.FormatTime(ev.OccurredAt), p.CheckpointID)
	if err != nil {
		return fmt.Errorf("failed to project checkpoint_consumed: %w", err)
	}
	return nil
}

// applyCheckpointPruned removes the row. The event itself stays in the log,
// so pruning is auditable and replay converges to the same pruned state.
func applyCheckpointPruned(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.CheckpointPrunedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode checkpoint_pruned: %w", err)
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, p.CheckpointID)
	if err != nil {
		return fmt.Errorf("failed to project checkpoint_pruned: %w", err)
	}
	return nil
}
