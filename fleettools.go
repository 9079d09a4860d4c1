// Package fleettools provides a minimal public API for embedding the
// coordination core in custom orchestrators.
//
// Most integrations should talk to a running `fleet serve` over its HTTP
// API. This package exports only the essential types and the Open helper
// needed by Go programs that drive the core in-process: test harnesses,
// batch migrations, or orchestrators that bring their own transport.
package fleettools

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/checkpoint"
	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/core"
	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
	"github.com/v1truv1us/fleettools-sub002/internal/locks"
	"github.com/v1truv1us/fleettools-sub002/internal/mailbox"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Core bundles the store, event log, and managers behind one handle.
// Obtain one with Open and release it with Close.
type Core = core.Core

// Config carries the resolved flightline settings.
type Config = config.Config

// Stats is the aggregate state snapshot returned by Core.Stats.
type Stats = core.Stats

// LoadConfig resolves the data directory and reads config.yaml from it when
// present. Precedence: dataDir argument > FLEET_DATA_DIR > nearest
// .flightline/ walking up from the working directory > ./.flightline.
func LoadConfig(dataDir string) (*Config, error) {
	return config.Load(dataDir)
}

// ResolveDataDir applies the data directory precedence without reading any
// other configuration.
func ResolveDataDir(flag string) (string, error) {
	return config.ResolveDataDir(flag)
}

// Open loads configuration for dataDir and opens the core with logging
// disabled. The caller owns the returned handle and must Close it.
func Open(ctx context.Context, dataDir string) (*Core, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	return core.Open(ctx, cfg, zerolog.Nop())
}

// OpenWithLogger is Open with an explicit configuration and the embedder's
// logger threaded through to every component.
func OpenWithLogger(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Core, error) {
	return core.Open(ctx, cfg, logger)
}

// Request and filter inputs for the manager methods reachable from Core.
type (
	CreateMissionRequest      = fleet.CreateMissionRequest
	CreateSortieRequest       = fleet.CreateSortieRequest
	RegisterSpecialistRequest = fleet.RegisterSpecialistRequest
	AdvanceCursorRequest      = fleet.AdvanceCursorRequest
	MissionFilter             = fleet.MissionFilter
	SortieFilter              = fleet.SortieFilter
	SpecialistFilter          = fleet.SpecialistFilter
	AcquireLockRequest        = locks.AcquireRequest
	SendMessageRequest        = mailbox.SendRequest
	CreateCheckpointRequest   = checkpoint.CreateRequest
	PruneCheckpointsRequest   = checkpoint.PruneRequest
)

// Core types from internal/types
type (
	Mission           = types.Mission
	MissionStatus     = types.MissionStatus
	Priority          = types.Priority
	Sortie            = types.Sortie
	SortieStatus      = types.SortieStatus
	Specialist        = types.Specialist
	SpecialistStatus  = types.SpecialistStatus
	Lock              = types.Lock
	LockStatus        = types.LockStatus
	LockPurpose       = types.LockPurpose
	Mailbox           = types.Mailbox
	Message           = types.Message
	MessageStatus     = types.MessageStatus
	MessagePriority   = types.MessagePriority
	Cursor            = types.Cursor
	Event             = types.Event
	StreamType        = types.StreamType
	Checkpoint        = types.Checkpoint
	CheckpointTrigger = types.CheckpointTrigger
	RecoveryCandidate = types.RecoveryCandidate
	RestoreResult     = types.RestoreResult
	CoreError         = types.CoreError
	ErrorKind         = types.ErrorKind
)

// MissionStatus constants
const (
	MissionPending    = types.MissionPending
	MissionInProgress = types.MissionInProgress
	MissionReview     = types.MissionReview
	MissionCompleted  = types.MissionCompleted
	MissionCancelled  = types.MissionCancelled
)

// SortieStatus constants
const (
	SortiePending    = types.SortiePending
	SortieAssigned   = types.SortieAssigned
	SortieInProgress = types.SortieInProgress
	SortieBlocked    = types.SortieBlocked
	SortieReview     = types.SortieReview
	SortieCompleted  = types.SortieCompleted
	SortieFailed     = types.SortieFailed
	SortieCancelled  = types.SortieCancelled
)

// LockStatus and LockPurpose constants
const (
	LockActive        = types.LockActive
	LockReleased      = types.LockReleased
	LockExpired       = types.LockExpired
	LockForceReleased = types.LockForceReleased

	PurposeEdit   = types.PurposeEdit
	PurposeRead   = types.PurposeRead
	PurposeDelete = types.PurposeDelete
)

// MessageStatus constants
const (
	MessagePending = types.MessagePending
	MessageRead    = types.MessageRead
	MessageAcked   = types.MessageAcked
)

// CheckpointTrigger constants
const (
	TriggerProgress   = types.TriggerProgress
	TriggerError      = types.TriggerError
	TriggerManual     = types.TriggerManual
	TriggerCompaction = types.TriggerCompaction
)

// StreamType constants
const (
	StreamSpecialist = types.StreamSpecialist
	StreamSquawk     = types.StreamSquawk
	StreamCTK        = types.StreamCTK
	StreamSortie     = types.StreamSortie
	StreamMission    = types.StreamMission
	StreamCheckpoint = types.StreamCheckpoint
	StreamFleet      = types.StreamFleet
	StreamSystem     = types.StreamSystem
)

// ErrorKind constants
const (
	KindValidation   = types.KindValidation
	KindNotFound     = types.KindNotFound
	KindConflict     = types.KindConflict
	KindOwnership    = types.KindOwnership
	KindPrecondition = types.KindPrecondition
	KindStale        = types.KindStale
	KindTransient    = types.KindTransient
	KindCorruption   = types.KindCorruption
	KindInternal     = types.KindInternal
)

// KindOf extracts the ErrorKind from err's chain, defaulting to INTERNAL.
func KindOf(err error) ErrorKind { return types.KindOf(err) }

// IsKind reports whether err's chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool { return types.IsKind(err, kind) }
