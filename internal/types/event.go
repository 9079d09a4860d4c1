package types

import (
	"encoding/json"
	"time"
)

// TimeFormat is the canonical timestamp layout: RFC 3339 with millisecond
// precision, always UTC. Every persisted and wire timestamp uses it.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the canonical layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a canonical timestamp. It tolerates full RFC 3339 input
// so externally produced payloads with higher precision still load.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC(), err
}

// StreamType partitions the event log. The set is closed: appends with an
// unlisted stream type are rejected before any transaction begins.
type StreamType string

const (
	StreamSpecialist StreamType = "specialist"
	StreamSquawk     StreamType = "squawk"
	StreamCTK        StreamType = "ctk"
	StreamSortie     StreamType = "sortie"
	StreamMission    StreamType = "mission"
	StreamCheckpoint StreamType = "checkpoint"
	StreamFleet      StreamType = "fleet"
	StreamSystem     StreamType = "system"
)

// ValidStreamType reports whether s is one of the known stream types.
func ValidStreamType(s StreamType) bool {
	switch s {
	case StreamSpecialist, StreamSquawk, StreamCTK, StreamSortie,
		StreamMission, StreamCheckpoint, StreamFleet, StreamSystem:
		return true
	}
	return false
}

// Event type tags. Projections dispatch on these; unknown tags are accepted
// by the store and ignored by projections.
const (
	EventMissionCreated         = "mission_created"
	EventMissionStarted         = "mission_started"
	EventMissionReviewRequested = "mission_review_requested"
	EventMissionCompleted       = "mission_completed"
	EventMissionCancelled       = "mission_cancelled"
	EventMissionRestored        = "mission_restored"

	EventSortieCreated         = "sortie_created"
	EventSortieAssigned        = "sortie_assigned"
	EventSortieStarted         = "sortie_started"
	EventSortieProgressed      = "sortie_progressed"
	EventSortieBlocked         = "sortie_blocked"
	EventSortieUnblocked       = "sortie_unblocked"
	EventSortieReviewRequested = "sortie_review_requested"
	EventSortieCompleted       = "sortie_completed"
	EventSortieFailed          = "sortie_failed"
	EventSortieCancelled       = "sortie_cancelled"
	EventSortieRestored        = "sortie_restored"

	EventSpecialistRegistered = "specialist_registered"
	EventSpecialistHeartbeat  = "specialist_heartbeat"

	EventLockAcquired = "lock_acquired"
	EventLockExtended = "lock_extended"
	EventLockReleased = "lock_released"
	EventLockExpired  = "lock_expired"

	EventMessageSent     = "message_sent"
	EventMessageRead     = "message_read"
	EventMessageAcked    = "message_acked"
	EventMessageRequeued = "message_requeued"

	EventCursorAdvanced = "cursor_advanced"

	EventCheckpointCreated  = "checkpoint_created"
	EventCheckpointConsumed = "checkpoint_consumed"
	EventCheckpointPruned   = "checkpoint_pruned"

	EventFleetInitialized = "fleet_initialized"
	EventServerStarted    = "server_started"
	EventServerStopped    = "server_stopped"
)

// Event is one immutable entry in the append-only log.
// (StreamType, StreamID, SequenceNumber) is unique; GlobalSeq is the
// insertion counter that breaks RecordedAt ties for global ordering.
type Event struct {
	GlobalSeq      int64           `json:"global_seq"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	StreamType     StreamType      `json:"stream_type"`
	StreamID       string          `json:"stream_id"`
	SequenceNumber int64           `json:"sequence_number"`
	Data           json.RawMessage `json:"data"`
	CausationID    *string         `json:"causation_id,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
	RecordedAt     time.Time       `json:"recorded_at"`
	SchemaVersion  int             `json:"schema_version"`
}

// AppendInput describes one candidate event prior to sequencing.
//
// CorrelationID is honored only when CausationID is absent; a caused event
// always inherits the correlation of its cause.
type AppendInput struct {
	EventType     string
	StreamType    StreamType
	StreamID      string
	Data          interface{}
	CausationID   *string
	CorrelationID *string
	OccurredAt    *time.Time
}
