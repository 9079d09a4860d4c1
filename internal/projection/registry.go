// Package projection derives the queryable tables from the event log. Every
// handler runs inside the transaction that appended its event, so reads
// issued after an append always see the derived rows. Handlers are
// deterministic and idempotent: replaying the log from scratch rebuilds
// every table to the same bytes.
package projection

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Version identifies the row-mapping logic. Bump it whenever a handler
// changes what it writes; a stored mismatch forces a rebuild at startup.
const Version = 1

// Handler applies one event to the projection tables.
type Handler func(ctx context.Context, tx *sql.Tx, ev *types.Event) error

// Registry dispatches events to handlers by event type.
type Registry struct {
	log      zerolog.Logger
	handlers map[string]Handler
}

// NewRegistry builds the registry with every shipped handler registered.
func NewRegistry(logger zerolog.Logger) *Registry {
	r := &Registry{log: logger}
	r.handlers = map[string]Handler{
		types.EventMissionCreated:         applyMissionCreated,
		types.EventMissionStarted:         applyMissionStarted,
		types.EventMissionReviewRequested: applyMissionReviewRequested,
		types.EventMissionCompleted:       applyMissionCompleted,
		types.EventMissionCancelled:       applyMissionCancelled,
		types.EventMissionRestored:        applyMissionRestored,

		types.EventSortieCreated:         applySortieCreated,
		types.EventSortieAssigned:        applySortieAssigned,
		types.EventSortieStarted:         applySortieStarted,
		types.EventSortieProgressed:      applySortieProgressed,
		types.EventSortieBlocked:         applySortieBlocked,
		types.EventSortieUnblocked:       applySortieUnblocked,
		types.EventSortieReviewRequested: applySortieReviewRequested,
		types.EventSortieCompleted:       applySortieCompleted,
		types.EventSortieFailed:          applySortieFailed,
		types.EventSortieCancelled:       applySortieCancelled,
		types.EventSortieRestored:        applySortieRestored,

		types.EventSpecialistRegistered: applySpecialistRegistered,
		types.EventSpecialistHeartbeat:  applySpecialistHeartbeat,

		types.EventLockAcquired: applyLockAcquired,
		types.EventLockExtended: applyLockExtended,
		types.EventLockReleased: applyLockReleased,
		types.EventLockExpired:  applyLockExpired,

		types.EventMessageSent:     applyMessageSent,
		types.EventMessageRead:     applyMessageRead,
		types.EventMessageAcked:    applyMessageAcked,
		types.EventMessageRequeued: applyMessageRequeued,

		types.EventCursorAdvanced: applyCursorAdvanced,

		types.EventCheckpointCreated:  applyCheckpointCreated,
		types.EventCheckpointConsumed: applyCheckpointConsumed,
		types.EventCheckpointPruned:   applyCheckpointPruned,
	}
	return r
}

// Apply routes ev to its handler. Event types without a handler are logged
// and ignored so newer writers can share the store with older readers.
func (r *Registry) Apply(ctx context.Context, tx *sql.Tx, ev *types.Event) error {
	h, ok := r.handlers[ev.EventType]
	if !ok {
		r.log.Debug().
			Str("event_type", ev.EventType).
			Str("event_id", ev.EventID).
			Msg("no projection handler for event type, ignoring")
		return nil
	}
	return h(ctx, tx, ev)
}
