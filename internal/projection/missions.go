package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func applyMissionCreated(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.MissionCreatedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode mission_created: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO missions (id, title, description, status, priority, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			priority = excluded.priority,
			metadata = excluded.metadata`,
		p.MissionID, p.Title, nullStr(p.Description), types.MissionPending, p.Priority,
		types.FormatTime(ev.OccurredAt), jsonColumn(p.Metadata, "{}"))
	if err != nil {
		return fmt.Errorf("failed to project mission_created: %w", err)
	}
	return nil
}

func applyMissionStarted(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.MissionStartedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode mission_started: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE missions SET status = ?, started_at = ? WHERE id = ?`,
		types.MissionInProgress, types.FormatTime(ev.OccurredAt), p.MissionID)
	if err != nil {
		return fmt.Errorf("failed to project mission_started: %w", err)
	}
	return nil
}

func applyMissionReviewRequested(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.MissionReviewRequestedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode mission_review_requested: %w", err)
	}
	_, err := tx.ExecContext(ctx, `UPDATE missions SET status = ? WHERE id = ?`,
		types.MissionReview, p.MissionID)
	if err != nil {
		return fmt.Errorf("failed to project mission_review_requested: %w", err)
	}
	return nil
}

func applyMissionCompleted(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.MissionCompletedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode mission_completed: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE missions SET status = ?, completed_at = ?, result = ? WHERE id = ?`,
		types.MissionCompleted, types.FormatTime(ev.OccurredAt), nullStr(p.Result), p.MissionID)
	if err != nil {
		return fmt.Errorf("failed to project mission_completed: %w", err)
	}
	return nil
}

func applyMissionCancelled(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.MissionCancelledPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode mission_cancelled: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE missions SET status = ?, completed_at = ?, result = ? WHERE id = ?`,
		types.MissionCancelled, types.FormatTime(ev.OccurredAt), nullStr(p.Reason), p.MissionID)
	if err != nil {
		return fmt.Errorf("failed to project mission_cancelled: %w", err)
	}
	return nil
}

// applyMissionRestored overwrites the row with the snapshot state. Counters
// are recomputed rather than trusted so the row stays consistent with the
// sortie rows restored alongside it.
func applyMissionRestored(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.MissionRestoredPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode mission_restored: %w", err)
	}
	m := p.Mission
	_, err := tx.ExecContext(ctx, `
		INSERT INTO missions (id, title, description, status, priority, created_at,
			started_at, completed_at, result, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			created_at = excluded.created_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			result = excluded.result,
			metadata = excluded.metadata`,
		m.ID, m.Title, nullStr(m.Description), m.Status, m.Priority,
		types.FormatTime(m.CreatedAt), nullTime(m.StartedAt), nullTime(m.CompletedAt),
		nullStr(m.Result), jsonColumn(m.Metadata, "{}"))
	if err != nil {
		return fmt.Errorf("failed to project mission_restored: %w", err)
	}
	return recountMission(ctx, tx, m.ID)
}

// recountMission recomputes the sortie counters from the sorties table.
// Recomputing instead of incrementing keeps replay idempotent.
func recountMission(ctx context.Context, tx *sql.Tx, missionID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE missions SET
			total_sorties = (SELECT COUNT(*) FROM sorties WHERE mission_id = ?),
			completed_sorties = (SELECT COUNT(*) FROM sorties WHERE mission_id = ? AND status = ?)
		WHERE id = ?`,
		missionID, missionID, types.SortieCompleted, missionID)
	if err != nil {
		return fmt.Errorf("failed to recount mission %s: %w", missionID, err)
	}
	return nil
}
