package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is implemented by every event payload schema. Validation runs
// before any transaction begins; the same structs hydrate projections and
// back the HTTP request schemas, so there is exactly one definition of what
// each event may carry.
type Payload interface {
	Validate() error
}

// MissionCreatedPayload carries the initial state of a mission.
type MissionCreatedPayload struct {
	MissionID   string                 `json:"mission_id"`
	Title       string                 `json:"title"`
	Description *string                `json:"description,omitempty"`
	Priority    Priority               `json:"priority"`
	CreatedBy   *string                `json:"created_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

func (p *MissionCreatedPayload) Validate() error {
	if p.MissionID == "" {
		return Validationf("mission_id is required")
	}
	if p.Title == "" {
		return Validationf("title is required")
	}
	if !ValidPriority(p.Priority) {
		return Validationf("invalid priority %q", p.Priority)
	}
	return nil
}

// MissionStartedPayload moves a mission to in_progress.
type MissionStartedPayload struct {
	MissionID string  `json:"mission_id"`
	StartedBy *string `json:"started_by,omitempty"`
}

func (p *MissionStartedPayload) Validate() error {
	if p.MissionID == "" {
		return Validationf("mission_id is required")
	}
	return nil
}

// MissionReviewRequestedPayload moves a mission to review.
type MissionReviewRequestedPayload struct {
	MissionID   string  `json:"mission_id"`
	RequestedBy *string `json:"requested_by,omitempty"`
}

func (p *MissionReviewRequestedPayload) Validate() error {
	if p.MissionID == "" {
		return Validationf("mission_id is required")
	}
	return nil
}

// MissionCompletedPayload moves a mission to completed.
type MissionCompletedPayload struct {
	MissionID   string  `json:"mission_id"`
	Result      *string `json:"result,omitempty"`
	CompletedBy *string `json:"completed_by,omitempty"`
}

func (p *MissionCompletedPayload) Validate() error {
	if p.MissionID == "" {
		return Validationf("mission_id is required")
	}
	return nil
}

// MissionCancelledPayload moves a mission to cancelled.
type MissionCancelledPayload struct {
	MissionID   string  `json:"mission_id"`
	Reason      *string `json:"reason,omitempty"`
	CancelledBy *string `json:"cancelled_by,omitempty"`
}

func (p *MissionCancelledPayload) Validate() error {
	if p.MissionID == "" {
		return Validationf("mission_id is required")
	}
	return nil
}

// MissionRestoredPayload carries the full mission state captured in a
// checkpoint. Projections overwrite the row with exactly this state.
type MissionRestoredPayload struct {
	CheckpointID string   `json:"checkpoint_id"`
	Mission      *Mission `json:"mission"`
}

func (p *MissionRestoredPayload) Validate() error {
	if p.CheckpointID == "" {
		return Validationf("checkpoint_id is required")
	}
	if p.Mission == nil || p.Mission.ID == "" {
		return Validationf("mission snapshot is required")
	}
	return nil
}

// SortieCreatedPayload carries the initial state of a sortie.
type SortieCreatedPayload struct {
	SortieID    string                 `json:"sortie_id"`
	MissionID   *string                `json:"mission_id,omitempty"`
	Title       string                 `json:"title"`
	Description *string                `json:"description,omitempty"`
	Priority    Priority               `json:"priority"`
	Files       []string               `json:"files,omitempty"`
	CreatedBy   *string                `json:"created_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

func (p *SortieCreatedPayload) Validate() error {
	if p.SortieID == "" {
		return Validationf("sortie_id is required")
	}
	if p.Title == "" {
		return Validationf("title is required")
	}
	if !ValidPriority(p.Priority) {
		return Validationf("invalid priority %q", p.Priority)
	}
	return nil
}

// SortieAssignedPayload hands a sortie to a specialist.
type SortieAssignedPayload struct {
	SortieID     string  `json:"sortie_id"`
	SpecialistID string  `json:"specialist_id"`
	AssignedBy   *string `json:"assigned_by,omitempty"`
}

func (p *SortieAssignedPayload) Validate() error {
	if p.SortieID == "" {
		return Validationf("sortie_id is required")
	}
	if p.SpecialistID == "" {
		return Validationf("specialist_id is required")
	}
	return nil
}

// SortieStartedPayload moves a sortie to in_progress. The starting
// specialist must match the assignee; that check runs at the command
// boundary, not here.
type SortieStartedPayload struct {
	SortieID     string `json:"sortie_id"`
	SpecialistID string `json:"specialist_id"`
}

func (p *SortieStartedPayload) Validate() error {
	if p.SortieID == "" {
		return Validationf("sortie_id is required")
	}
	if p.SpecialistID == "" {
		return Validationf("specialist_id is required")
	}
	return nil
}

// SortieProgressedPayload reports progress within an in_progress run.
type SortieProgressedPayload struct {
	SortieID string  `json:"sortie_id"`
	Progress int     `json:"progress"`
	Notes    *string `json:"notes,omitempty"`
}

func (p *SortieProgressedPayload) Validate() error {
	if p.SortieID == "" {
		return Validationf("sortie_id is required")
	}
	if p.Progress < 0 || p.Progress > 100 {
		return Validationf("progress must be between 0 and 100, got %d", p.Progress)
	}
	return nil
}

// SortieBlockedPayload marks a sortie blocked.
type SortieBlockedPayload struct {
	SortieID  string  `json:"sortie_id"`
	BlockedBy *string `json:"blocked_by,omitempty"`
	Reason    string  `json:"reason"`
}

func (p *SortieBlockedPayload) Validate() error {
	if p.SortieID == "" {
		return Validationf("sortie_id is required")
	}
	if p.Reason == "" {
		return Validationf("reason is required")
	}
	return nil
}

// SortieUnblockedPayload returns a blocked sortie to in_progress.
type SortieUnblockedPayload struct {
	SortieID string `json:"sortie_id"`
}

func (p *SortieUnblockedPayload) Validate() error {
	if p.SortieID == "" {
		return Validationf("sortie_id is required")
	}
	return nil
}

// SortieReviewRequestedPayload moves a sortie to review.
type SortieReviewRequestedPayload struct {
	SortieID string `json:"sortie_id"`
}

func (p *SortieReviewRequestedPayload) Validate() error {
	if p.SortieID == "" {
		return Validationf("sortie_id is required")
	}
	return nil
}

// SortieCompletedPayload moves a sortie to completed.
type SortieCompletedPayload struct {
	SortieID    string  `json:"sortie_id"`
	Result      *string `json:"result,omitempty"`
	CompletedBy *string `json:"completed_by,omitempty"`
}

func (p *SortieCompletedPayload) Validate() error {
	if p.SortieID == "" {
		return Validationf("sortie_id is required")
	}
	return nil
}

// SortieFailedPayload moves a sortie to failed.
type SortieFailedPayload struct {
	SortieID string `json:"sortie_id"`
	Reason   string `json:"reason"`
}

func (p *SortieFailedPayload) Validate() error {
	if p.SortieID == "" {
		return Validationf("sortie_id is required")
	}
	if p.Reason == "" {
		return Validationf("reason is required")
	}
	return nil
}

// SortieCancelledPayload moves a sortie to cancelled.
type SortieCancelledPayload struct {
	SortieID string  `json:"sortie_id"`
	Reason   *string `json:"reason,omitempty"`
}

func (p *SortieCancelledPayload) Validate() error {
	if p.SortieID == "" {
		return Validationf("sortie_id is required")
	}
	return nil
}

// SortieRestoredPayload carries the full sortie state captured in a
// checkpoint. Projections overwrite the row with exactly this state.
type SortieRestoredPayload struct {
	CheckpointID string  `json:"checkpoint_id"`
	Sortie       *Sortie `json:"sortie"`
}

func (p *SortieRestoredPayload) Validate() error {
	if p.CheckpointID == "" {
		return Validationf("checkpoint_id is required")
	}
	if p.Sortie == nil || p.Sortie.ID == "" {
		return Validationf("sortie snapshot is required")
	}
	return nil
}

// SpecialistRegisteredPayload registers or re-registers an agent identity.
type SpecialistRegisteredPayload struct {
	SpecialistID string                 `json:"specialist_id"`
	Name         string                 `json:"name"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Status       SpecialistStatus       `json:"status"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func (p *SpecialistRegisteredPayload) Validate() error {
	if p.SpecialistID == "" {
		return Validationf("specialist_id is required")
	}
	if p.Name == "" {
		return Validationf("name is required")
	}
	if !ValidSpecialistStatus(p.Status) {
		return Validationf("invalid status %q", p.Status)
	}
	return nil
}

// SpecialistHeartbeatPayload refreshes last_seen and optionally updates
// status or the sortie the specialist is working.
type SpecialistHeartbeatPayload struct {
	SpecialistID  string            `json:"specialist_id"`
	Status        *SpecialistStatus `json:"status,omitempty"`
	CurrentSortie *string           `json:"current_sortie,omitempty"`
}

func (p *SpecialistHeartbeatPayload) Validate() error {
	if p.SpecialistID == "" {
		return Validationf("specialist_id is required")
	}
	if p.Status != nil && !ValidSpecialistStatus(*p.Status) {
		return Validationf("invalid status %q", *p.Status)
	}
	return nil
}

// LockAcquiredPayload records a new file reservation. Reacquired is set
// when the recovery engine re-takes a lock from a checkpoint snapshot.
type LockAcquiredPayload struct {
	LockID         string      `json:"lock_id"`
	File           string      `json:"file"`
	NormalizedPath string      `json:"normalized_path"`
	ReservedBy     string      `json:"reserved_by"`
	Purpose        LockPurpose `json:"purpose"`
	ExpiresAt      time.Time   `json:"expires_at"`
	Checksum       *string     `json:"checksum,omitempty"`
	Reacquired     bool        `json:"reacquired,omitempty"`
	CheckpointID   *string     `json:"checkpoint_id,omitempty"`
}

func (p *LockAcquiredPayload) Validate() error {
	if p.LockID == "" {
		return Validationf("lock_id is required")
	}
	if p.NormalizedPath == "" {
		return Validationf("normalized_path is required")
	}
	if p.ReservedBy == "" {
		return Validationf("reserved_by is required")
	}
	if !ValidLockPurpose(p.Purpose) {
		return Validationf("invalid purpose %q", p.Purpose)
	}
	if p.ExpiresAt.IsZero() {
		return Validationf("expires_at is required")
	}
	return nil
}

// LockExtendedPayload pushes a lock's expiry forward.
type LockExtendedPayload struct {
	LockID         string    `json:"lock_id"`
	NormalizedPath string    `json:"normalized_path"`
	ExpiresAt      time.Time `json:"expires_at"`
	ExtendedBy     string    `json:"extended_by"`
}

func (p *LockExtendedPayload) Validate() error {
	if p.LockID == "" {
		return Validationf("lock_id is required")
	}
	if p.ExpiresAt.IsZero() {
		return Validationf("expires_at is required")
	}
	return nil
}

// LockReleasedPayload ends a reservation. Force marks administrative
// release; Reason explains forced and recovery-driven releases.
type LockReleasedPayload struct {
	LockID         string  `json:"lock_id"`
	NormalizedPath string  `json:"normalized_path"`
	ReleasedBy     *string `json:"released_by,omitempty"`
	Reason         *string `json:"reason,omitempty"`
	Force          bool    `json:"force,omitempty"`
}

func (p *LockReleasedPayload) Validate() error {
	if p.LockID == "" {
		return Validationf("lock_id is required")
	}
	return nil
}

// LockExpiredPayload records a sweeper reclaim.
type LockExpiredPayload struct {
	LockID         string    `json:"lock_id"`
	NormalizedPath string    `json:"normalized_path"`
	ExpiredAt      time.Time `json:"expired_at"`
}

func (p *LockExpiredPayload) Validate() error {
	if p.LockID == "" {
		return Validationf("lock_id is required")
	}
	return nil
}

// MessageSentPayload enqueues a message into a mailbox.
type MessageSentPayload struct {
	MessageID   string                 `json:"message_id"`
	MailboxID   string                 `json:"mailbox_id"`
	SenderID    *string                `json:"sender_id,omitempty"`
	ThreadID    *string                `json:"thread_id,omitempty"`
	MessageType string                 `json:"message_type"`
	Content     map[string]interface{} `json:"content"`
	Priority    MessagePriority        `json:"priority"`
}

func (p *MessageSentPayload) Validate() error {
	if p.MessageID == "" {
		return Validationf("message_id is required")
	}
	if p.MailboxID == "" {
		return Validationf("mailbox_id is required")
	}
	if p.MessageType == "" {
		return Validationf("message_type is required")
	}
	if !ValidMessagePriority(p.Priority) {
		return Validationf("invalid priority %q", p.Priority)
	}
	return nil
}

// MessageReadPayload advances a message to read.
type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	MailboxID string `json:"mailbox_id"`
}

func (p *MessageReadPayload) Validate() error {
	if p.MessageID == "" {
		return Validationf("message_id is required")
	}
	return nil
}

// MessageAckedPayload advances a message to acked.
type MessageAckedPayload struct {
	MessageID string `json:"message_id"`
	MailboxID string `json:"mailbox_id"`
}

func (p *MessageAckedPayload) Validate() error {
	if p.MessageID == "" {
		return Validationf("message_id is required")
	}
	return nil
}

// MessageRequeuedPayload resets a message to pending. Recovery only.
type MessageRequeuedPayload struct {
	MessageID    string  `json:"message_id"`
	MailboxID    string  `json:"mailbox_id"`
	CheckpointID *string `json:"checkpoint_id,omitempty"`
}

func (p *MessageRequeuedPayload) Validate() error {
	if p.MessageID == "" {
		return Validationf("message_id is required")
	}
	return nil
}

// CursorAdvancedPayload moves a consumer cursor forward.
type CursorAdvancedPayload struct {
	CursorID   string     `json:"cursor_id"`
	StreamType StreamType `json:"stream_type"`
	StreamID   string     `json:"stream_id"`
	Position   int64      `json:"position"`
	ConsumerID *string    `json:"consumer_id,omitempty"`
}

func (p *CursorAdvancedPayload) Validate() error {
	if p.CursorID == "" {
		return Validationf("cursor_id is required")
	}
	if !ValidStreamType(p.StreamType) {
		return Validationf("invalid stream_type %q", p.StreamType)
	}
	if p.StreamID == "" {
		return Validationf("stream_id is required")
	}
	if p.Position < 0 {
		return Validationf("position must be non-negative, got %d", p.Position)
	}
	return nil
}

// CheckpointCreatedPayload records that a checkpoint was captured. Snapshot
// carries the serialized Checkpoint so the checkpoints projection rebuilds
// from the log alone.
type CheckpointCreatedPayload struct {
	CheckpointID    string            `json:"checkpoint_id"`
	MissionID       string            `json:"mission_id"`
	Trigger         CheckpointTrigger `json:"trigger"`
	TriggerDetails  *string           `json:"trigger_details,omitempty"`
	ProgressPercent int               `json:"progress_percent"`
	CreatedBy       string            `json:"created_by"`
	EventGlobalSeq  int64             `json:"event_global_seq"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	Snapshot        json.RawMessage   `json:"snapshot"`
}

func (p *CheckpointCreatedPayload) Validate() error {
	if p.CheckpointID == "" {
		return Validationf("checkpoint_id is required")
	}
	if p.MissionID == "" {
		return Validationf("mission_id is required")
	}
	if !ValidCheckpointTrigger(p.Trigger) {
		return Validationf("invalid trigger %q", p.Trigger)
	}
	if p.ProgressPercent < 0 || p.ProgressPercent > 100 {
		return Validationf("progress_percent must be between 0 and 100, got %d", p.ProgressPercent)
	}
	if len(p.Snapshot) == 0 {
		return Validationf("snapshot is required")
	}
	return nil
}

// CheckpointConsumedPayload records that a restore used the checkpoint.
type CheckpointConsumedPayload struct {
	CheckpointID string         `json:"checkpoint_id"`
	MissionID    string         `json:"mission_id"`
	Restored     RestoredCounts `json:"restored"`
}

func (p *CheckpointConsumedPayload) Validate() error {
	if p.CheckpointID == "" {
		return Validationf("checkpoint_id is required")
	}
	return nil
}

// CheckpointPrunedPayload records retention-driven removal.
type CheckpointPrunedPayload struct {
	CheckpointID string `json:"checkpoint_id"`
	MissionID    string `json:"mission_id"`
	Reason       string `json:"reason"`
}

func (p *CheckpointPrunedPayload) Validate() error {
	if p.CheckpointID == "" {
		return Validationf("checkpoint_id is required")
	}
	return nil
}

// FleetInitializedPayload is appended exactly once, when the store is first
// created. It pins decisions that must never change for this database.
type FleetInitializedPayload struct {
	SchemaVersion int    `json:"schema_version"`
	PathPolicy    string `json:"path_policy"`
}

func (p *FleetInitializedPayload) Validate() error {
	if p.SchemaVersion < 1 {
		return Validationf("schema_version must be positive")
	}
	if p.PathPolicy == "" {
		return Validationf("path_policy is required")
	}
	return nil
}

// ServerStartedPayload and ServerStoppedPayload bracket one server run.
// Projections have no handler for them; they exercise the unknown-type
// tolerance path and leave an audit trail.
type ServerStartedPayload struct {
	Version    string `json:"version"`
	ListenAddr string `json:"listen_addr,omitempty"`
}

func (p *ServerStartedPayload) Validate() error {
	if p.Version == "" {
		return Validationf("version is required")
	}
	return nil
}

type ServerStoppedPayload struct {
	Version string `json:"version"`
	Uptime  int64  `json:"uptime_ms"`
}

func (p *ServerStoppedPayload) Validate() error {
	if p.Version == "" {
		return Validationf("version is required")
	}
	return nil
}

// payloadFactories maps each event type to a constructor for its payload
// schema. Event types absent from this map are accepted unvalidated; the
// store tolerates payloads newer than the code reading them.
var payloadFactories = map[string]func() Payload{
	EventMissionCreated:         func() Payload { return &MissionCreatedPayload{} },
	EventMissionStarted:         func() Payload { return &MissionStartedPayload{} },
	EventMissionReviewRequested: func() Payload { return &MissionReviewRequestedPayload{} },
	EventMissionCompleted:       func() Payload { return &MissionCompletedPayload{} },
	EventMissionCancelled:       func() Payload { return &MissionCancelledPayload{} },
	EventMissionRestored:        func() Payload { return &MissionRestoredPayload{} },
	EventSortieCreated:          func() Payload { return &SortieCreatedPayload{} },
	EventSortieAssigned:         func() Payload { return &SortieAssignedPayload{} },
	EventSortieStarted:          func() Payload { return &SortieStartedPayload{} },
	EventSortieProgressed:       func() Payload { return &SortieProgressedPayload{} },
	EventSortieBlocked:          func() Payload { return &SortieBlockedPayload{} },
	EventSortieUnblocked:        func() Payload { return &SortieUnblockedPayload{} },
	EventSortieReviewRequested:  func() Payload { return &SortieReviewRequestedPayload{} },
	EventSortieCompleted:        func() Payload { return &SortieCompletedPayload{} },
	EventSortieFailed:           func() Payload { return &SortieFailedPayload{} },
	EventSortieCancelled:        func() Payload { return &SortieCancelledPayload{} },
	EventSortieRestored:         func() Payload { return &SortieRestoredPayload{} },
	EventSpecialistRegistered:   func() Payload { return &SpecialistRegisteredPayload{} },
	EventSpecialistHeartbeat:    func() Payload { return &SpecialistHeartbeatPayload{} },
	EventLockAcquired:           func() Payload { return &LockAcquiredPayload{} },
	EventLockExtended:           func() Payload { return &LockExtendedPayload{} },
	EventLockReleased:           func() Payload { return &LockReleasedPayload{} },
	EventLockExpired:            func() Payload { return &LockExpiredPayload{} },
	EventMessageSent:            func() Payload { return &MessageSentPayload{} },
	EventMessageRead:            func() Payload { return &MessageReadPayload{} },
	EventMessageAcked:           func() Payload { return &MessageAckedPayload{} },
	EventMessageRequeued:        func() Payload { return &MessageRequeuedPayload{} },
	EventCursorAdvanced:         func() Payload { return &CursorAdvancedPayload{} },
	EventCheckpointCreated:      func() Payload { return &CheckpointCreatedPayload{} },
	EventCheckpointConsumed:     func() Payload { return &CheckpointConsumedPayload{} },
	EventCheckpointPruned:       func() Payload { return &CheckpointPrunedPayload{} },
	EventFleetInitialized:       func() Payload { return &FleetInitializedPayload{} },
	EventServerStarted:          func() Payload { return &ServerStartedPayload{} },
	EventServerStopped:          func() Payload { return &ServerStoppedPayload{} },
}

// KnownEventType reports whether the code ships a payload schema for t.
func KnownEventType(t string) bool {
	_, ok := payloadFactories[t]
	return ok
}

// ValidatePayload checks raw against the schema registered for eventType.
// Unknown event types pass: forward compatibility requires the store to
// accept payloads it cannot yet interpret.
func ValidatePayload(eventType string, raw json.RawMessage) error {
	factory, ok := payloadFactories[eventType]
	if !ok {
		return nil
	}
	p := factory()
	if err := json.Unmarshal(raw, p); err != nil {
		return Validationf("malformed %s payload: %v", eventType, err)
	}
	return p.Validate()
}

// DecodePayload unmarshals raw into the schema for eventType. It fails on
// unknown event types; callers that tolerate them must check KnownEventType
// first.
func DecodePayload(eventType string, raw json.RawMessage) (Payload, error) {
	factory, ok := payloadFactories[eventType]
	if !ok {
		return nil, fmt.Errorf("no payload schema for event type %q", eventType)
	}
	p := factory()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", eventType, err)
	}
	return p, nil
}
