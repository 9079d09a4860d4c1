package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func applyMessageSent(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.MessageSentPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode message_sent: %w", err)
	}
	// Mailboxes materialize on first delivery; the addressee owns it.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mailboxes (mailbox_id, owner_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (mailbox_id) DO NOTHING`,
		p.MailboxID, p.MailboxID, types.FormatTime(ev.OccurredAt)); err != nil {
		return fmt.Errorf("failed to project mailbox: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, mailbox_id, sender_id, thread_id, message_type, content,
			status, priority, sent_at, causation_id, insertion_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		p.MessageID, p.MailboxID, nullStr(p.SenderID), nullStr(p.ThreadID), p.MessageType,
		jsonColumn(p.Content, "{}"), types.MessagePending, p.Priority,
		types.FormatTime(ev.OccurredAt), nullStr(ev.CausationID), ev.GlobalSeq)
	if err != nil {
		return fmt.Errorf("failed to project message_sent: %w", err)
	}
	return nil
}

func applyMessageRead(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.MessageReadPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode message_read: %w", err)
	}
	// Forward-only: a message already acked stays acked on replay.
	_, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, read_at = ? WHERE id = ? AND status = ?`,
		types.MessageRead, types.FormatTime(ev.OccurredAt), p.MessageID, types.MessagePending)
	if err != nil {
		return fmt.Errorf("failed to project message_read: %w", err)
	}
	return nil
}

func applyMessageAcked(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.MessageAckedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode message_acked: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, acked_at = ? WHERE id = ? AND status IN (?, ?)`,
		types.MessageAcked, types.FormatTime(ev.OccurredAt), p.MessageID,
		types.MessagePending, types.MessageRead)
	if err != nil {
		return fmt.Errorf("failed to project message_acked: %w", err)
	}
	return nil
}

func applyMessageRequeued(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	var p types.MessageRequeuedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("failed to decode message_requeued: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, read_at = NULL, acked_at = NULL WHERE id = ?`,
		types.MessagePending, p.MessageID)
	if err != nil {
		return fmt.Errorf("failed to project message_requeued: %w", err)
	}
	return nil
}
