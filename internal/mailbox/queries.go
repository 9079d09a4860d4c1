package mailbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

const messageColumns = `id, mailbox_id, sender_id, thread_id, message_type,
	content, status, priority, sent_at, read_at, acked_at, causation_id`

// QueryOptions narrows a mailbox listing. Zero Limit means unbounded; the
// transport layer applies its own default.
type QueryOptions struct {
	Status types.MessageStatus
	Limit  int
	Offset int
}

// GetByID loads one message.
func (m *Manager) GetByID(ctx context.Context, messageID string) (*types.Message, error) {
	msg, err := scanMessage(m.store.ReadDB().QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID))
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("message %s not found", messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	return msg, nil
}

// GetByMailbox lists a mailbox's messages in delivery order: sent_at with
// the insertion counter as tiebreak.
func (m *Manager) GetByMailbox(ctx context.Context, mailboxID string, opts QueryOptions) ([]*types.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE mailbox_id = ?`
	args := []interface{}{mailboxID}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, opts.Status)
	}
	query += ` ORDER BY sent_at, insertion_seq`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}
	rows, err := m.store.ReadDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for %s: %w", mailboxID, err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// GetPending lists a mailbox's undelivered messages in order.
func (m *Manager) GetPending(ctx context.Context, mailboxID string) ([]*types.Message, error) {
	return m.GetByMailbox(ctx, mailboxID, QueryOptions{Status: types.MessagePending})
}

// GetMailbox loads a mailbox row.
func (m *Manager) GetMailbox(ctx context.Context, mailboxID string) (*types.Mailbox, error) {
	var mb types.Mailbox
	var createdAt string
	err := m.store.ReadDB().QueryRowContext(ctx,
		`SELECT mailbox_id, owner_id, created_at FROM mailboxes WHERE mailbox_id = ?`,
		mailboxID).Scan(&mb.MailboxID, &mb.OwnerID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, types.NotFoundf("mailbox %s not found", mailboxID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox %s: %w", mailboxID, err)
	}
	t, err := types.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	mb.CreatedAt = t
	return &mb, nil
}

// PendingByMailboxTx lists pending messages inside the caller's transaction.
// The checkpoint engine snapshots mailboxes through this so the capture is
// coherent with the rest of the snapshot.
func PendingByMailboxTx(ctx context.Context, tx *sql.Tx, mailboxID string) ([]*types.Message, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE mailbox_id = ? AND status = ?
		 ORDER BY sent_at, insertion_seq`, mailboxID, types.MessagePending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages for %s: %w", mailboxID, err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func getByIDTx(ctx context.Context, tx *sql.Tx, messageID string) (*types.Message, error) {
	msg, err := scanMessage(tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var msg types.Message
	var content, sentAt string
	var senderID, threadID, readAt, ackedAt, causationID sql.NullString
	err := row.Scan(&msg.ID, &msg.MailboxID, &senderID, &threadID, &msg.MessageType,
		&content, &msg.Status, &msg.Priority, &sentAt, &readAt, &ackedAt, &causationID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
		return nil, fmt.Errorf("failed to decode content: %w", err)
	}
	t, err := types.ParseTime(sentAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sent_at: %w", err)
	}
	msg.SentAt = t
	if readAt.Valid {
		t, err = types.ParseTime(readAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse read_at: %w", err)
		}
		msg.ReadAt = &t
	}
	if ackedAt.Valid {
		t, err = types.ParseTime(ackedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse acked_at: %w", err)
		}
		msg.AckedAt = &t
	}
	if senderID.Valid {
		msg.SenderID = &senderID.String
	}
	if threadID.Valid {
		msg.ThreadID = &threadID.String
	}
	if causationID.Valid {
		msg.CausationID = &causationID.String
	}
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]*types.Message, error) {
	var msgs []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return msgs, nil
}
