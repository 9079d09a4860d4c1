package types

import "time"

// MissionStatus is the lifecycle state of a mission.
type MissionStatus string

const (
	MissionPending    MissionStatus = "pending"
	MissionInProgress MissionStatus = "in_progress"
	MissionReview     MissionStatus = "review"
	MissionCompleted  MissionStatus = "completed"
	MissionCancelled  MissionStatus = "cancelled"
)

// TerminalMission reports whether s admits no further transitions.
func TerminalMission(s MissionStatus) bool {
	return s == MissionCompleted || s == MissionCancelled
}

var missionTransitions = map[MissionStatus][]MissionStatus{
	MissionPending:    {MissionInProgress, MissionCancelled},
	MissionInProgress: {MissionReview, MissionCompleted, MissionCancelled},
	MissionReview:     {MissionCompleted, MissionCancelled},
}

// ValidMissionTransition reports whether from → to is a legal lifecycle move.
func ValidMissionTransition(from, to MissionStatus) bool {
	for _, next := range missionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority orders missions and sorties for scheduling decisions made by
// callers; the core itself only validates and stores it.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is one of the known priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Mission is a top-level unit of work, composed of sorties.
type Mission struct {
	ID               string                 `json:"id"`
	Title            string                 `json:"title"`
	Description      *string                `json:"description,omitempty"`
	Status           MissionStatus          `json:"status"`
	Priority         Priority               `json:"priority"`
	CreatedAt        time.Time              `json:"created_at"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	TotalSorties     int                    `json:"total_sorties"`
	CompletedSorties int                    `json:"completed_sorties"`
	Result           *string                `json:"result,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ProgressPercent is completed sorties over total, floored to an integer.
// A mission with no sorties reports 0.
func (m *Mission) ProgressPercent() int {
	if m.TotalSorties == 0 {
		return 0
	}
	return m.CompletedSorties * 100 / m.TotalSorties
}
