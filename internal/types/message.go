package types

import "time"

// MessageStatus advances strictly forward: pending → read → acked.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageRead    MessageStatus = "read"
	MessageAcked   MessageStatus = "acked"
)

// MessagePriority orders delivery hints; the core stores it verbatim.
type MessagePriority string

const (
	MsgPriorityLow    MessagePriority = "low"
	MsgPriorityNormal MessagePriority = "normal"
	MsgPriorityHigh   MessagePriority = "high"
	MsgPriorityUrgent MessagePriority = "urgent"
)

// ValidMessagePriority reports whether p is one of the known priorities.
func ValidMessagePriority(p MessagePriority) bool {
	switch p {
	case MsgPriorityLow, MsgPriorityNormal, MsgPriorityHigh, MsgPriorityUrgent:
		return true
	}
	return false
}

// Mailbox is a per-addressee message queue, auto-created on first send.
type Mailbox struct {
	MailboxID string    `json:"mailbox_id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry in a mailbox. Ordering within a mailbox is by SentAt
// with the insertion counter as tiebreak.
type Message struct {
	ID          string                 `json:"id"`
	MailboxID   string                 `json:"mailbox_id"`
	SenderID    *string                `json:"sender_id,omitempty"`
	ThreadID    *string                `json:"thread_id,omitempty"`
	MessageType string                 `json:"message_type"`
	Content     map[string]interface{} `json:"content"`
	Status      MessageStatus          `json:"status"`
	Priority    MessagePriority        `json:"priority"`
	SentAt      time.Time              `json:"sent_at"`
	ReadAt      *time.Time             `json:"read_at,omitempty"`
	AckedAt     *time.Time             `json:"acked_at,omitempty"`
	CausationID *string                `json:"causation_id,omitempty"`
}
