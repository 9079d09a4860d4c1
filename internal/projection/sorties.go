package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func applySortieCreated(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieCreatedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_created: %w", err)
	}
	files := p.Files
	if files == nil {
		files = []string{}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sorties (id, mission_id, title, description, status, priority, created_at, files, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			mission_id = excluded.mission_id,
			title = excluded.title,
			description = excluded.description,
			priority = excluded.priority,
			files = excluded.files,
			metadata = excluded.metadata`,
		p.SortieID, nullStr(p.MissionID), p.Title, nullStr(p.Description), types.SortiePending,
		p.Priority, types.FormatTime(ev.OccurredAt), jsonColumn(files, "[]"), jsonColumn(p.Metadata, "{}"))
	if err != nil {
		return fmt.Errorf("failed to project sortie_created: %w", err)
	}
	if p.MissionID != nil {
		return recountMission(ctx, tx, *p.MissionID)
	}
	return nil
}

func applySortieAssigned(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieAssignedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_assigned: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE sorties SET status = ?, assigned_to = ? WHERE id = ?`,
		types.SortieAssigned, p.SpecialistID, p.SortieID)
	if err != nil {
		return fmt.Errorf("failed to project sortie_assigned: %w", err)
	}
	return nil
}

func applySortieStarted(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieStartedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_started: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE sorties SET status = ?, started_at = ? WHERE id = ?`,
		types.SortieInProgress, types.FormatTime(ev.OccurredAt), p.SortieID)
	if err != nil {
		return fmt.Errorf("failed to project sortie_started: %w", err)
	}
	return nil
}

func applySortieProgressed(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieProgressedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_progressed: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE sorties SET progress = ?, progress_notes = COALESCE(?, progress_notes) WHERE id = ?`,
		p.Progress, nullStr(p.Notes), p.SortieID)
	if err != nil {
		return fmt.Errorf("failed to project sortie_progressed: %w", err)
	}
	return nil
}

func applySortieBlocked(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieBlockedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_blocked: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE sorties SET status = ?, blocked_by = ?, blocked_reason = ? WHERE id = ?`,
		types.SortieBlocked, nullStr(p.BlockedBy), p.Reason, p.SortieID)
	if err != nil {
		return fmt.Errorf("failed to project sortie_blocked: %w", err)
	}
	return nil
}

func applySortieUnblocked(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieUnblockedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_unblocked: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE sorties SET status = ?, blocked_by = NULL, blocked_reason = NULL WHERE id = ?`,
		types.SortieInProgress, p.SortieID)
	if err != nil {
		return fmt.Errorf("failed to project sortie_unblocked: %w", err)
	}
	return nil
}

func applySortieReviewRequested(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieReviewRequestedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_review_requested: %w", err)
	}
	_, err := tx.ExecContext(ctx, `UPDATE sorties SET status = ? WHERE id = ?`,
		types.SortieReview, p.SortieID)
	if err != nil {
		return fmt.Errorf("failed to project sortie_review_requested: %w", err)
	}
	return nil
}

func applySortieCompleted(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieCompletedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_completed: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE sorties SET status = ?, completed_at = ?, progress = 100, result = ? WHERE id = ?`,
		types.SortieCompleted, types.FormatTime(ev.OccurredAt), nullStr(p.Result), p.SortieID)
	if err != nil {
		return fmt.Errorf("failed to project sortie_completed: %w", err)
	}
	return recountSortieMission(ctx, tx, p.SortieID)
}

func applySortieFailed(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieFailedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_failed: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE sorties SET status = ?, completed_at = ?, result = ? WHERE id = ?`,
		types.SortieFailed, types.FormatTime(ev.OccurredAt), p.Reason, p.SortieID)
	if err != nil {
		return fmt.Errorf("failed to project sortie_failed: %w", err)
	}
	return recountSortieMission(ctx, tx, p.SortieID)
}

func applySortieCancelled(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieCancelledPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_cancelled: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE sorties SET status = ?, completed_at = ?, result = ? WHERE id = ?`,
		types.SortieCancelled, types.FormatTime(ev.OccurredAt), nullStr(p.Reason), p.SortieID)
	if err != nil {
		return fmt.Errorf("failed to project sortie_cancelled: %w", err)
	}
	return recountSortieMission(ctx, tx, p.SortieID)
}

// applySortieRestored overwrites the row with the snapshot state.
func applySortieRestored(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SortieRestoredPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode sortie_restored: %w", err)
	}
	s := p.Sortie
	files := s.Files
	if files == nil {
		files = []string{}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sorties (id, mission_id, title, description, status, priority, assigned_to,
			created_at, started_at, completed_at, progress, progress_notes,
			blocked_by, blocked_reason, files, result, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			mission_id = excluded.mission_id,
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			assigned_to = excluded.assigned_to,
			created_at = excluded.created_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			progress = excluded.progress,
			progress_notes = excluded.progress_notes,
			blocked_by = excluded.blocked_by,
			blocked_reason = excluded.blocked_reason,
			files = excluded.files,
			result = excluded.result,
			metadata = excluded.metadata`,
		s.ID, nullStr(s.MissionID), s.Title, nullStr(s.Description), s.Status, s.Priority,
		nullStr(s.AssignedTo), types.FormatTime(s.CreatedAt), nullTime(s.StartedAt),
		nullTime(s.CompletedAt), s.Progress, nullStr(s.ProgressNotes), nullStr(s.BlockedBy),
		nullStr(s.BlockedReason), jsonColumn(files, "[]"), nullStr(s.Result), jsonColumn(s.Metadata, "{}"))
	if err != nil {
		return fmt.Errorf("failed to project sortie_restored: %w", err)
	}
	if s.MissionID != nil {
		return recountMission(ctx, tx, *s.MissionID)
	}
	return nil
}

// recountSortieMission recounts the mission a sortie belongs to, if any.
func recountSortieMission(ctx context.Context, tx *sql.Tx, sortieID string) error {
	var missionID sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT mission_id FROM sorties WHERE id = ?`, sortieID).Scan(&missionID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up sortie %s: %w", sortieID, err)
	}
	if !missionID.Valid {
		return nil
	}
	return recountMission(ctx, tx, missionID.String)
}
