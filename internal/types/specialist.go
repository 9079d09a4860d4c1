package types

import "time"

// SpecialistStatus describes what an external agent reports itself doing.
type SpecialistStatus string

const (
	SpecialistActive    SpecialistStatus = "active"
	SpecialistBusy      SpecialistStatus = "busy"
	SpecialistIdle      SpecialistStatus = "idle"
	SpecialistInactive  SpecialistStatus = "inactive"
	SpecialistCompleted SpecialistStatus = "completed"
)

// ValidSpecialistStatus reports whether s is one of the known statuses.
func ValidSpecialistStatus(s SpecialistStatus) bool {
	switch s {
	case SpecialistActive, SpecialistBusy, SpecialistIdle,
		SpecialistInactive, SpecialistCompleted:
		return true
	}
	return false
}

// Specialist is an external agent identity. The core never spawns one; it
// only records registrations and heartbeats.
type Specialist struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Status        SpecialistStatus       `json:"status"`
	Capabilities  []string               `json:"capabilities,omitempty"`
	RegisteredAt  time.Time              `json:"registered_at"`
	LastSeen      time.Time              `json:"last_seen"`
	CurrentSortie *string                `json:"current_sortie,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Stale reports whether the specialist's last heartbeat is older than the
// given threshold at the supplied instant.
func (s *Specialist) Stale(now time.Time, threshold time.Duration) bool {
	return s.LastSeen.Add(threshold).Before(now)
}
