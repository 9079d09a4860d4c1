package types

import "time"

// LockStatus is the lifecycle state of a file reservation.
type LockStatus string

const (
	LockActive        LockStatus = "active"
	LockReleased      LockStatus = "released"
	LockExpired       LockStatus = "expired"
	LockForceReleased LockStatus = "force_released"
)

// LockPurpose declares what the holder intends to do with the file.
// edit and delete are exclusive; read grants are shared among readers.
type LockPurpose string

const (
	PurposeEdit   LockPurpose = "edit"
	PurposeRead   LockPurpose = "read"
	PurposeDelete LockPurpose = "delete"
)

// ValidLockPurpose reports whether p is one of the known purposes.
func ValidLockPurpose(p LockPurpose) bool {
	return p == PurposeEdit || p == PurposeRead || p == PurposeDelete
}

// Exclusive reports whether the purpose forbids any coexisting claim.
func (p LockPurpose) Exclusive() bool {
	return p == PurposeEdit || p == PurposeDelete
}

// Lock is an advisory exclusive claim on a normalized file path with a TTL.
// At most one lock row per normalized path is active at any instant.
type Lock struct {
	ID             string      `json:"id"`
	File           string      `json:"file"`
	NormalizedPath string      `json:"normalized_path"`
	ReservedBy     string      `json:"reserved_by"`
	ReservedAt     time.Time   `json:"reserved_at"`
	ReleasedAt     *time.Time  `json:"released_at,omitempty"`
	ExpiresAt      time.Time   `json:"expires_at"`
	Purpose        LockPurpose `json:"purpose"`
	Checksum       *string     `json:"checksum,omitempty"`
	Status         LockStatus  `json:"status"`
	ReleaseReason  *string     `json:"release_reason,omitempty"`
}

// ExpiredAt reports whether the lock is past its TTL at the given instant.
// The boundary is inclusive: a lock expiring exactly at now is expired.
func (l *Lock) ExpiredAt(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
