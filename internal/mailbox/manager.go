package mailbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/eventlog"
	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Manager owns mailboxes and message delivery state. A mailbox is nothing
// but a name until the first send; delivery state only moves forward
// (pending, read, acked), and only recovery may move it back.
type Manager struct {
	store *storage.Store
	log   *eventlog.Log
	ids   *ident.Generator
	lg    zerolog.Logger

	now func() time.Time
}

// NewManager wires a mailbox manager against the store and event log.
func NewManager(store *storage.Store, log *eventlog.Log, ids *ident.Generator, logger zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log,
		ids:   ids,
		lg:    logger.With().Str("component", "mailbox").Logger(),
		now:   time.Now,
	}
}

// SetNow replaces the clock for tests.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }

// SendRequest is one message to enqueue.
type SendRequest struct {
	MailboxID   string
	SenderID    *string
	ThreadID    *string
	MessageType string
	Content     map[string]interface{}
	Priority    types.MessagePriority
	CausationID *string
}

// Send enqueues a message, creating the mailbox on first use. The mailbox
// id is caller-owned; specialists address each other by id.
func (m *Manager) Send(ctx context.Context, req SendRequest) (*types.Message, error) {
	if req.MailboxID == "" {
		return nil, types.Validationf("mailbox_id is required")
	}
	if !ident.ValidExternal(req.MailboxID) {
		return nil, types.Validationf("invalid mailbox_id %q", req.MailboxID)
	}
	if req.MessageType == "" {
		return nil, types.Validationf("message_type is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = types.MsgPriorityNormal
	}
	if !types.ValidMessagePriority(priority) {
		return nil, types.Validationf("invalid priority %q", priority)
	}
	content := req.Content
	if content == nil {
		content = map[string]interface{}{}
	}

	msgID := m.ids.New(ident.PrefixMessage)
	var sent *types.Message
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		now := m.now().UTC()
		ev, err := m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventMessageSent,
			StreamType:  types.StreamSquawk,
			StreamID:    req.MailboxID,
			CausationID: req.CausationID,
			OccurredAt:  &now,
			Data: &types.MessageSentPayload{
				MessageID:   msgID,
				MailboxID:   req.MailboxID,
				SenderID:    req.SenderID,
				ThreadID:    req.ThreadID,
				MessageType: req.MessageType,
				Content:     content,
				Priority:    priority,
			},
		})
		if err != nil {
			return err
		}
		sent = &types.Message{
			ID:          msgID,
			MailboxID:   req.MailboxID,
			SenderID:    req.SenderID,
			ThreadID:    req.ThreadID,
			MessageType: req.MessageType,
			Content:     content,
			Status:      types.MessagePending,
			Priority:    priority,
			SentAt:      now,
			CausationID: ev.CausationID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sent, nil
}

// MarkRead advances a message to read. Calling it again, or on an already
// acked message, changes nothing and reports the current state.
func (m *Manager) MarkRead(ctx context.Context, messageID string, causationID *string) (*types.Message, error) {
	var out *types.Message
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		msg, err := getByIDTx(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if msg == nil {
			return types.NotFoundf("message %s not found", messageID)
		}
		if msg.Status != types.MessagePending {
			out = msg
			return nil
		}
		now := m.now().UTC()
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventMessageRead,
			StreamType:  types.StreamSquawk,
			StreamID:    msg.MailboxID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data:        &types.MessageReadPayload{MessageID: messageID, MailboxID: msg.MailboxID},
		})
		if err != nil {
			return err
		}
		msg.Status = types.MessageRead
		msg.ReadAt = &now
		out = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Acknowledge advances a message to acked, its terminal state. Repeat calls
// are no-ops.
func (m *Manager) Acknowledge(ctx context.Context, messageID string, causationID *string) (*types.Message, error) {
	var out *types.Message
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		msg, err := getByIDTx(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if msg == nil {
			return types.NotFoundf("message %s not found", messageID)
		}
		if msg.Status == types.MessageAcked {
			out = msg
			return nil
		}
		now := m.now().UTC()
		_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
			EventType:   types.EventMessageAcked,
			StreamType:  types.StreamSquawk,
			StreamID:    msg.MailboxID,
			CausationID: causationID,
			OccurredAt:  &now,
			Data:        &types.MessageAckedPayload{MessageID: messageID, MailboxID: msg.MailboxID},
		})
		if err != nil {
			return err
		}
		msg.Status = types.MessageAcked
		msg.AckedAt = &now
		out = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RequeueTx resets a message to pending inside the recovery engine's
// transaction. Nothing else may call it; requeue is the one legal backward
// move in a message's life.
func (m *Manager) RequeueTx(ctx context.Context, tx *sql.Tx, messageID string, checkpointID *string, causationID *string) (*types.Message, error) {
	msg, err := getByIDTx(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, types.NotFoundf("message %s not found", messageID)
	}
	if msg.Status == types.MessagePending {
		return msg, nil
	}
	now := m.now().UTC()
	_, err = m.log.AppendTx(ctx, tx, types.AppendInput{
		EventType:   types.EventMessageRequeued,
		StreamType:  types.StreamSquawk,
		StreamID:    msg.MailboxID,
		CausationID: causationID,
		OccurredAt:  &now,
		Data: &types.MessageRequeuedPayload{
			MessageID:    messageID,
			MailboxID:    msg.MailboxID,
			CheckpointID: checkpointID,
		},
	})
	if err != nil {
		return nil, err
	}
	msg.Status = types.MessagePending
	msg.ReadAt = nil
	msg.AckedAt = nil
	return msg, nil
}
