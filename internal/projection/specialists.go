package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func applySpecialistRegistered(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SpecialistRegisteredPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode specialist_registered: %w", err)
	}
	caps := p.Capabilities
	if caps == nil {
		caps = []string{}
	}
	// Re-registration refreshes everything except registered_at.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO specialists (id, name, status, capabilities, registered_at, last_seen, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			capabilities = excluded.capabilities,
			last_seen = excluded.last_seen,
			metadata = excluded.metadata`,
		p.SpecialistID, p.Name, p.Status, jsonColumn(caps, "[]"),
		types.FormatTime(ev.OccurredAt), types.FormatTime(ev.OccurredAt), jsonColumn(p.Metadata, "{}"))
	if err != nil {
		return fmt.Errorf("failed to project specialist_registered: %w", err)
	}
	return nil
}

func applySpecialistHeartbeat(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.SpecialistHeartbeatPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode specialist_heartbeat: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE specialists SET last_seen = ? WHERE id = ?`,
		types.FormatTime(ev.OccurredAt), p.SpecialistID); err != nil {
		return fmt.Errorf("failed to project specialist_heartbeat: %w", err)
	}
	if p.Status != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE specialists SET status = ? WHERE id = ?`,
			*p.Status, p.SpecialistID); err != nil {
			return fmt.Errorf("failed to project heartbeat status: %w", err)
		}
	}
	if p.CurrentSortie != nil {
		var sortie interface{}
		if *p.CurrentSortie != "" {
			sortie = *p.CurrentSortie
		}
		if _, err := tx.ExecContext(ctx, `UPDATE specialists SET current_sortie = ? WHERE id = ?`,
			sortie, p.SpecialistID); err != nil {
			return fmt.Errorf("failed to project heartbeat sortie: %w", err)
		}
	}
	return nil
}
