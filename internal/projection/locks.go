package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func applyLockAcquired(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.LockAcquiredPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode lock_acquired: %w", err)
	}
	// Replay is safe under the one-active-lock index because lock lifecycle
	// events arrive in global order: an earlier lock on the same path has
	// already been released or expired by the time this row goes active.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO locks (id, file, normalized_path, reserved_by, reserved_at,
			expires_at, purpose, checksum, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			expires_at = excluded.expires_at,
			checksum = excluded.checksum,
			status = excluded.status,
			released_at = NULL,
			release_reason = NULL`,
		p.LockID, p.File, p.NormalizedPath, p.ReservedBy, types.FormatTime(ev.OccurredAt),
		types.FormatTime(p.ExpiresAt), p.Purpose, nullStr(p.Checksum), types.LockActive)
	if err != nil {
		return fmt.Errorf("failed to project lock_acquired: %w", err)
	}
	return nil
}

func applyLockExtended(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.LockExtendedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode lock_extended: %w", err)
	}
	_, err := tx.ExecContext(ctx, `UPDATE locks SET expires_at = ? WHERE id = ?`,
		types.FormatTime(p.ExpiresAt), p.LockID)
	if err != nil {
		return fmt.Errorf("failed to project lock_extended: %w", err)
	}
	return nil
}

func applyLockReleased(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.LockReleasedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode lock_released: %w", err)
	}
	status := types.LockReleased
	if p.Force {
		status = types.LockForceReleased
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE locks SET status = ?, released_at = ?, release_reason = ? WHERE id = ?`,
		status, types.FormatTime(ev.OccurredAt), nullStr(p.Reason), p.LockID)
	if err != nil {
		return fmt.Errorf("failed to project lock_released: %w", err)
	}
	return nil
}

func applyLockExpired(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.LockExpiredPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode lock_expired: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE locks SET status = ?, released_at = ? WHERE id = ?`,
		types.LockExpired, types.FormatTime(p.ExpiredAt), p.LockID)
	if err != nil {
		return fmt.Errorf("failed to project lock_expired: %w", err)
	}
	return nil
}
