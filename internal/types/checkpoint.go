package types

import "time"

// CheckpointTrigger records why a checkpoint was taken.
type CheckpointTrigger string

const (
	TriggerProgress   CheckpointTrigger = "progress"
	TriggerError      CheckpointTrigger = "error"
	TriggerManual     CheckpointTrigger = "manual"
	TriggerCompaction CheckpointTrigger = "compaction"
)

// ValidCheckpointTrigger reports whether t is one of the known triggers.
func ValidCheckpointTrigger(t CheckpointTrigger) bool {
	switch t {
	case TriggerProgress, TriggerError, TriggerManual, TriggerCompaction:
		return true
	}
	return false
}

// CheckpointVersion is the structural version stamped into every checkpoint
// row and file. Loads reject versions the code does not understand.
const CheckpointVersion = 1

// RecoveryContext summarizes where a mission stood when the checkpoint was
// taken, derived from the mission's most recent events.
type RecoveryContext struct {
	LastAction     string    `json:"last_action"`
	NextSteps      []string  `json:"next_steps,omitempty"`
	Blockers       []string  `json:"blockers,omitempty"`
	FilesModified  []string  `json:"files_modified,omitempty"`
	MissionSummary string    `json:"mission_summary"`
	ElapsedTimeMS  int64     `json:"elapsed_time_ms"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Checkpoint is a coherent snapshot of one mission's projections plus the
// context needed to resume it. All captured lists reflect a single
// event-log prefix; EventGlobalSeq records that prefix's high-water mark.
type Checkpoint struct {
	ID              string            `json:"id"`
	MissionID       string            `json:"mission_id"`
	Timestamp       time.Time         `json:"timestamp"`
	Trigger         CheckpointTrigger `json:"trigger"`
	TriggerDetails  *string           `json:"trigger_details,omitempty"`
	ProgressPercent int               `json:"progress_percent"`
	Mission         *Mission          `json:"mission"`
	Sorties         []*Sortie         `json:"sorties"`
	ActiveLocks     []*Lock           `json:"active_locks"`
	PendingMessages []*Message        `json:"pending_messages"`
	RecoveryContext RecoveryContext   `json:"recovery_context"`
	CreatedBy       string            `json:"created_by"`
	EventGlobalSeq  int64             `json:"event_global_seq"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	ConsumedAt      *time.Time        `json:"consumed_at,omitempty"`
	Version         int               `json:"version"`
}

// RecoveryCandidate is one mission the recovery engine flagged as stale.
type RecoveryCandidate struct {
	MissionID          string    `json:"mission_id"`
	MissionTitle       string    `json:"mission_title"`
	LatestCheckpointID *string   `json:"latest_checkpoint_id,omitempty"`
	LatestEventID      string    `json:"latest_event_id"`
	LatestEventType    string    `json:"latest_event_type"`
	LatestEventAt      time.Time `json:"latest_event_at"`
	AgeSeconds         int64     `json:"age_seconds"`
	Confidence         float64   `json:"confidence"`
}

// RestoreConflict reports one snapshot item that could not be restored.
type RestoreConflict struct {
	Kind     string `json:"kind"`
	ItemID   string `json:"item_id"`
	Reason   string `json:"reason"`
	Existing string `json:"existing,omitempty"`
}

// RestoreResult is the outcome of replaying a checkpoint's intent.
type RestoreResult struct {
	Success      bool              `json:"success"`
	CheckpointID string            `json:"checkpoint_id"`
	DryRun       bool              `json:"dry_run"`
	Restored     RestoredCounts    `json:"restored"`
	Conflicts    []RestoreConflict `json:"conflicts,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// RestoredCounts tallies what a restore touched.
type RestoredCounts struct {
	Sorties  int `json:"sorties"`
	Locks    int `json:"locks"`
	Messages int `json:"messages"`
}
