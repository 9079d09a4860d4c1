package fleet

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/eventlog"
	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
)

// ProgressHook is notified after a commit that may have moved a mission's
// progress. The checkpoint engine hangs its threshold logic here; the hook
// runs outside the transaction and must tolerate being called repeatedly
// with the same percentage.
type ProgressHook func(ctx context.Context, missionID string, percent int)

// Manager owns missions, sorties, specialists and cursors. Every command
// validates against current projection state inside the write transaction,
// appends the lifecycle event, and lets the projection layer materialize
// the change; invalid transitions are rejected before anything is appended.
type Manager struct {
	store *storage.Store
	log   *eventlog.Log
	ids   *ident.Generator
	lg    zerolog.Logger

	now          func() time.Time
	progressHook ProgressHook
}

// NewManager wires a fleet manager against the store and event log.
func NewManager(store *storage.Store, log *eventlog.Log, ids *ident.Generator, logger zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log,
		ids:   ids,
		lg:    logger.With().Str("component", "fleet").Logger(),
		now:   time.Now,
	}
}

// SetNow replaces the clock for tests.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }

// SetProgressHook installs the post-commit progress listener.
func (m *Manager) SetProgressHook(h ProgressHook) { m.progressHook = h }

// fireProgress reloads the mission and notifies the hook. Called after a
// terminal sortie transition commits; failures only log, they never undo
// the committed command.
func (m *Manager) fireProgress(ctx context.Context, missionID *string) {
	if m.progressHook == nil || missionID == nil {
		return
	}
	mission, err := m.GetMission(ctx, *missionID)
	if err != nil {
		m.lg.Warn().Err(err).Str("mission_id", *missionID).Msg("progress hook skipped")
		return
	}
	m.progressHook(ctx, mission.ID, mission.ProgressPercent())
}
