package fleet

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// AdvanceCursorRequest is the input for a cursor upsert. CursorID is
// caller-chosen; the core mints a cur- id when empty.
type AdvanceCursorRequest struct {
	CursorID    string
	StreamType  types.StreamType
	StreamID    string
	Position    int64
	ConsumerID  *string
	CausationID *string
}

// AdvanceCursor moves a consumer's position forward in one stream. A
// position behind the cursor is stale; the current position is a no-op.
func (m *Manager) AdvanceCursor(ctx context.Context, req AdvanceCursorRequest) (*types.Cursor, error) {
	if !types.ValidStreamType(req.StreamType) {
		return nil, types.Validationf("invalid stream type %q", req.StreamType)
	}
	if req.StreamID == "" {
		return nil, types.Validationf("stream_id is required")
	}
	if req.Position <= 0 {
		return nil, types.Validationf("position must be positive, got %d", req.Position)
	}
	cursorID := req.CursorID
	if cursorID == "" {
		cursorID = m.ids.New("cur")
	}

	var out *types.Cursor
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		cursor, err := cursorByIDTx(ctx, tx, cursorID)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		if cursor != nil {
			if cursor.StreamType != req.StreamType || cursor.StreamID != req.StreamID {
				return types.Validationf("cursor %s tracks %s/%s", cursorID, cursor.StreamType, cursor.StreamID)
			}
			if req.Position < cursor.Position {
				return types.Stalef("position %d is behind cursor %s at %d", req.Position, cursorID, cursor.Position)
			}
			if req.Position == cursor.Position {
				out = cursor
				return nil
			}
		}
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventCursorAdvanced,
			StreamType:  types.StreamSystem,
			StreamID:    cursorID,
			CausationID: req.CausationID,
			OccurredAt:  &now,
			Data: &types.CursorAdvancedPayload{
				CursorID:   cursorID,
				StreamType: req.StreamType,
				StreamID:   req.StreamID,
				Position:   req.Position,
				ConsumerID: req.ConsumerID,
			},
		})
		if err != nil {
			return err
		}
		createdAt := now
		if cursor != nil {
			createdAt = cursor.CreatedAt
		}
		out = &types.Cursor{
			ID:         cursorID,
			StreamType: req.StreamType,
			StreamID:   req.StreamID,
			Position:   req.Position,
			ConsumerID: req.ConsumerID,
			CreatedAt:  createdAt,
			UpdatedAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCursor loads one cursor.
func (m *Manager) GetCursor(ctx context.Context, cursorID string) (*types.Cursor, error) {
	cursor, err := scanCursor(m.store.ReadDB().QueryRowContext(ctx,
		`SELECT `+cursorColumns+` FROM cursors WHERE id = ?`, cursorID))
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("cursor %s not found", cursorID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor %s: %w", cursorID, err)
	}
	return cursor, nil
}
