package core

import (
	"context"
	"fmt"
	"time"
)

// Stats is the aggregate counts surface behind GET /stats.
type Stats struct {
	Missions struct {
		Total      int64 `json:"total"`
		Pending    int64 `json:"pending"`
		InProgress int64 `json:"in_progress"`
		Completed  int64 `json:"completed"`
		Cancelled  int64 `json:"cancelled"`
	} `json:"missions"`
	Sorties struct {
		Total      int64 `json:"total"`
		Pending    int64 `json:"pending"`
		InProgress int64 `json:"in_progress"`
		Blocked    int64 `json:"blocked"`
		Completed  int64 `json:"completed"`
		Failed     int64 `json:"failed"`
	} `json:"sorties"`
	Specialists     int64 `json:"specialists"`
	ActiveLocks     int64 `json:"active_locks"`
	PendingMessages int64 `json:"pending_messages"`
	Checkpoints     int64 `json:"checkpoints"`
	Events          int64 `json:"events"`
	UptimeMS        int64 `json:"uptime_ms"`
}

// CollectStats aggregates entity counts from the projections and the log.
func (c *Core) CollectStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	db := c.Store.ReadDB()

	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('in_progress', 'review') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0)
		FROM missions`,
	).Scan(&stats.Missions.Total, &stats.Missions.Pending, &stats.Missions.InProgress,
		&stats.Missions.Completed, &stats.Missions.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to count missions: %w", err)
	}

	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status IN ('pending', 'assigned') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('in_progress', 'review') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'blocked' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM sorties`,
	).Scan(&stats.Sorties.Total, &stats.Sorties.Pending, &stats.Sorties.InProgress,
		&stats.Sorties.Blocked, &stats.Sorties.Completed, &stats.Sorties.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to count sorties: %w", err)
	}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM specialists`, &stats.Specialists},
		{`SELECT COUNT(*) FROM locks WHERE status = 'active'`, &stats.ActiveLocks},
		{`SELECT COUNT(*) FROM messages WHERE status = 'pending'`, &stats.PendingMessages},
		{`SELECT COUNT(*) FROM checkpoints`, &stats.Checkpoints},
		{`SELECT COUNT(*) FROM events`, &stats.Events},
	}
	for _, cq := range counts {
		if err := db.QueryRowContext(ctx, cq.query).Scan(cq.dest); err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
	}

	if !c.startedAt.IsZero() {
		stats.UptimeMS = time.Since(c.startedAt).Milliseconds()
	}
	return stats, nil
}
