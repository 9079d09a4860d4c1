package types

import "time"

// SortieStatus is the lifecycle state of a sortie.
type SortieStatus string

const (
	SortiePending    SortieStatus = "pending"
	SortieAssigned   SortieStatus = "assigned"
	SortieInProgress SortieStatus = "in_progress"
	SortieBlocked    SortieStatus = "blocked"
	SortieReview     SortieStatus = "review"
	SortieCompleted  SortieStatus = "completed"
	SortieFailed     SortieStatus = "failed"
	SortieCancelled  SortieStatus = "cancelled"
)

// TerminalSortie reports whether s admits no further transitions.
func TerminalSortie(s SortieStatus) bool {
	switch s {
	case SortieCompleted, SortieFailed, SortieCancelled:
		return true
	}
	return false
}

var sortieTransitions = map[SortieStatus][]SortieStatus{
	SortiePending:    {SortieAssigned, SortieCancelled},
	SortieAssigned:   {SortieAssigned, SortieInProgress, SortieCancelled},
	SortieInProgress: {SortieBlocked, SortieReview, SortieCompleted, SortieFailed, SortieCancelled},
	SortieBlocked:    {SortieInProgress, SortieFailed, SortieCancelled},
	SortieReview:     {SortieCompleted, SortieFailed, SortieCancelled},
}

// ValidSortieTransition reports whether from → to is a legal lifecycle move.
// Re-assignment (assigned → assigned) is permitted to hand a sortie to a
// different specialist before work starts.
func ValidSortieTransition(from, to SortieStatus) bool {
	for _, next := range sortieTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Sortie is a discrete work item, optionally attached to a mission and
// optionally assigned to a specialist.
type Sortie struct {
	ID            string                 `json:"id"`
	MissionID     *string                `json:"mission_id,omitempty"`
	Title         string                 `json:"title"`
	Description   *string                `json:"description,omitempty"`
	Status        SortieStatus           `json:"status"`
	Priority      Priority               `json:"priority"`
	AssignedTo    *string                `json:"assigned_to,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	Progress      int                    `json:"progress"`
	ProgressNotes *string                `json:"progress_notes,omitempty"`
	BlockedBy     *string                `json:"blocked_by,omitempty"`
	BlockedReason *string                `json:"blocked_reason,omitempty"`
	Files         []string               `json:"files,omitempty"`
	Result        *string                `json:"result,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}
