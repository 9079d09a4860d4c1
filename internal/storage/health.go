package storage

import (
	"context"
	"time"
)

// Health is the storage slice of the server health report.
type Health struct {
	Status       string `json:"status"` // ok, degraded, unavailable
	ReadOnly     bool   `json:"read_only"`
	WALSizeBytes int64  `json:"wal_size_bytes"`
	LatencyMS    int64  `json:"latency_ms"`
	Error        string `json:"error,omitempty"`
}

// CheckHealth probes the read pool and reports WAL pressure. It never
// returns an error; failures fold into the status so the health endpoint
// can always answer.
func (s *Store) CheckHealth(ctx context.Context) Health {
	h := Health{Status: "ok", ReadOnly: s.readOnly.Load()}

	start := time.Now()
	var one int
	if err := s.readDB.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		h.Status = "unavailable"
		h.Error = err.Error()
		return h
	}
	var n int64
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		h.Status = "unavailable"
		h.Error = err.Error()
		return h
	}
	h.LatencyMS = time.Since(start).Milliseconds()

	h.WALSizeBytes = s.WALSize()
	if h.ReadOnly {
		h.Status = "degraded"
	} else if s.walWarnBytes > 0 && h.WALSizeBytes > s.walWarnBytes {
		h.Status = "degraded"
	}
	return h
}
