package projection

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

const rebuildBatch = 500

// projectionTables in FK-safe delete order.
var projectionTables = []string{
	"messages", "mailboxes", "cursors", "locks", "checkpoints",
	"sorties", "specialists", "missions",
}

// NeedsRebuild decides whether the projections must be replayed from the
// log: the stored projection version differs from the code, or events exist
// while every projection table is empty (a wiped or freshly imported store).
func NeedsRebuild(ctx context.Context, store *storage.Store) (bool, string, error) {
	stored, err := store.Meta(ctx, storage.MetaProjectionVersion)
	if err != nil {
		return false, "", err
	}
	if stored != strconv.Itoa(Version) {
		if stored == "" {
			var events int64
			if err := store.ReadDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&events); err != nil {
				return false, "", fmt.Errorf("failed to count events: %w", err)
			}
			if events == 0 {
				return false, "", nil // fresh store, nothing to replay
			}
			return true, "projection version missing with a populated log", nil
		}
		return true, fmt.Sprintf("projection version %s != %d", stored, Version), nil
	}

	var events int64
	if err := store.ReadDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&events); err != nil {
		return false, "", fmt.Errorf("failed to count events: %w", err)
	}
	if events == 0 {
		return false, "", nil
	}
	for _, table := range projectionTables {
		var n int64
		// #nosec G201 - table names come from the fixed list above
		if err := store.ReadDB().QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n); err != nil {
			return false, "", fmt.Errorf("failed to count %s: %w", table, err)
		}
		if n > 0 {
			return false, "", nil
		}
	}
	return true, "event log is populated but projections are empty", nil
}

// EnsureCurrent rebuilds if needed, otherwise records the code's projection
// version so later startups can compare.
func (r *Registry) EnsureCurrent(ctx context.Context, store *storage.Store) error {
	needed, reason, err := NeedsRebuild(ctx, store)
	if err != nil {
		return err
	}
	if needed {
		r.log.Info().Str("reason", reason).Msg("rebuilding projections from event log")
		return r.Rebuild(ctx, store)
	}
	return store.WriteTxn(ctx, func(tx *sql.Tx) error {
		return storage.SetMeta(tx, storage.MetaProjectionVersion, strconv.Itoa(Version))
	})
}

// Rebuild truncates every projection table and replays the whole log in
// global order, all inside one transaction. Events are read in batches so
// the connection never interleaves an open cursor with handler writes.
func (r *Registry) Rebuild(ctx context.Context, store *storage.Store) error {
	var replayed int64
	err := store.WriteTxn(ctx, func(tx *sql.Tx) error {
		replayed = 0
		for _, table := range projectionTables {
			// #nosec G201 - table names come from the fixed list above
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		var after int64
		for {
			batch, err := readEventBatch(ctx, tx, after, rebuildBatch)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				if err := r.Apply(ctx, tx, ev); err != nil {
					return fmt.Errorf("replay of %s (global %d) failed: %w", ev.EventID, ev.GlobalSeq, err)
				}
			}
			after = batch[len(batch)-1].GlobalSeq
			replayed += int64(len(batch))
		}

		return storage.SetMeta(tx, storage.MetaProjectionVersion, strconv.Itoa(Version))
	})
	if err != nil {
		return fmt.Errorf("projection rebuild failed: %w", err)
	}
	r.log.Info().Int64("events", replayed).Msg("projection rebuild complete")
	return nil
}

// readEventBatch loads one page of events inside the rebuild transaction.
// The page is fully materialized before returning so the caller can issue
// writes on the same connection.
func readEventBatch(ctx context.Context, tx *sql.Tx, afterGlobal int64, limit int) ([]*types.Event, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT global_seq, event_id, event_type, stream_type, stream_id, sequence_number,
			data, causation_id, correlation_id, occurred_at, recorded_at, schema_version
		FROM events WHERE global_seq > ? ORDER BY global_seq ASC LIMIT ?`,
		afterGlobal, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read events for replay: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var (
			ev                     types.Event
			data                   string
			causation              sql.NullString
			occurredAt, recordedAt string
		)
		if err := rows.Scan(&ev.GlobalSeq, &ev.EventID, &ev.EventType, &ev.StreamType, &ev.StreamID,
			&ev.SequenceNumber, &data, &causation, &ev.CorrelationID,
			&occurredAt, &recordedAt, &ev.SchemaVersion); err != nil {
			return nil, fmt.Errorf("failed to scan event for replay: %w", err)
		}
		ev.Data = []byte(data)
		if causation.Valid {
			ev.CausationID = &causation.String
		}
		if ev.OccurredAt, err = types.ParseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("failed to parse occurred_at: %w", err)
		}
		if ev.RecordedAt, err = types.ParseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
