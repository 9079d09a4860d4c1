package locks

import (
	"context"
	"time"

	"github.com/v1truv1us/fleettools-sub002/internal/metrics"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// RunSweeper reclaims expired locks on a fixed tick until ctx is cancelled.
// Run it in its own goroutine; it returns when the context ends or the
// store latches read-only.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.lg.Debug().Dur("interval", interval).Msg("lock sweeper started")
	for {
		select {
		case <-ctx.Done():
			m.lg.Debug().Msg("lock sweeper stopped")
			return
		case <-ticker.C:
			reclaimed, err := m.ReleaseExpired(ctx)
			if err != nil {
				if types.IsKind(err, types.KindCorruption) {
					m.lg.Error().Err(err).Msg("lock sweeper halting, store is read-only")
					return
				}
				m.lg.Warn().Err(err).Msg("lock sweep failed")
				continue
			}
			metrics.LocksReclaimed.Add(float64(reclaimed))
			if active, err := m.CountActive(ctx); err == nil {
				metrics.ActiveLocks.Set(float64(active))
			}
		}
	}
}
