package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func applyCursorAdvanced(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.CursorAdvancedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode cursor_advanced: %w", err)
	}
	// Monotonicity is enforced at the command boundary; MAX keeps replay
	// safe even if events for one cursor interleave across streams.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cursors (id, stream_type, stream_id, position, consumer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			position = MAX(cursors.position, excluded.position),
			consumer_id = excluded.consumer_id,
			updated_at = excluded.updated_at`,
		p.CursorID, p.StreamType, p.StreamID, p.Position, nullStr(p.ConsumerID),
		types.FormatTime(ev.OccurredAt), types.FormatTime(ev.OccurredAt))
	if err != nil {
		return fmt.Errorf("failed to project cursor_advanced: %w", err)
	}
	return nil
}
