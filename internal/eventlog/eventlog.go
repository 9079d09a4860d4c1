// Package eventlog is the append-only source of truth. Every state change
// in the coordination core is an event appended here; projections derive
// rows from events inside the appending transaction. The log is the single
// writer for events: all appends funnel through the store's write lock, so
// per-stream sequence assignment never races within a process.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/metrics"
	"github.com/v1truv1us/fleettools-sub002/internal/storage"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// Projector receives each event inside the transaction that appended it.
type Projector interface {
	Apply(ctx context.Context, tx *sql.Tx, event *types.Event) error
}

// Log appends to and reads the event log.
type Log struct {
	store *storage.Store
	ids   *ident.Generator
	proj  Projector
	log   zerolog.Logger
	now   func() time.Time
}

// New builds a Log. proj may be nil during rebuild, where events are
// replayed into handlers directly.
func New(store *storage.Store, ids *ident.Generator, proj Projector, logger zerolog.Logger) *Log {
	return &Log{
		store: store,
		ids:   ids,
		proj:  proj,
		log:   logger,
		now:   time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (l *Log) SetNow(now func() time.Time) { l.now = now }

// Store exposes the underlying store for callers that compose their own
// transactions around AppendTx.
func (l *Log) Store() *storage.Store { return l.store }

// Append validates, sequences, and persists one event, running projections
// in the same transaction. A sequence collision (impossible under the write
// lock unless the database is damaged) gets one retry with a re-read max;
// a second collision latches the store read-only.
func (l *Log) Append(ctx context.Context, input types.AppendInput) (*types.Event, error) {
	events, err := l.AppendBatch(ctx, []types.AppendInput{input})
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

// AppendBatch appends all inputs in one transaction; either every event and
// its projection updates persist, or none do.
func (l *Log) AppendBatch(ctx context.Context, inputs []types.AppendInput) ([]*types.Event, error) {
	if len(inputs) == 0 {
		return nil, types.Validationf("append batch is empty")
	}
	raws := make([]json.RawMessage, len(inputs))
	for i := range inputs {
		raw, err := l.validateInput(&inputs[i])
		if err != nil {
			return nil, err
		}
		raws[i] = raw
	}

	var events []*types.Event
	appendAll := func(tx *sql.Tx) error {
		events = events[:0]
		for i := range inputs {
			ev, err := l.appendPrepared(ctx, tx, &inputs[i], raws[i])
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	}

	err := l.store.WriteTxn(ctx, appendAll)
	if storage.IsUniqueViolation(err, "events.stream_type") {
		// Re-reading MAX(sequence_number) happens naturally on re-run.
		l.log.Warn().Err(err).Msg("sequence collision on append, retrying once")
		err = l.store.WriteTxn(ctx, appendAll)
		if storage.IsUniqueViolation(err, "events.stream_type") {
			l.store.EnterReadOnly("sequence collision persisted across retry")
			return nil, types.WrapError(types.KindCorruption, err, "event log sequencing is damaged")
		}
	}
	if err != nil {
		return nil, err
	}
	return events, nil
}

// AppendTx appends one event inside a transaction the caller already holds.
// Managers use this to make their precondition checks and the resulting
// events atomic. The caller owns retry semantics.
func (l *Log) AppendTx(ctx context.Context, tx *sql.Tx, input types.AppendInput) (*types.Event, error) {
	raw, err := l.validateInput(&input)
	if err != nil {
		return nil, err
	}
	return l.appendPrepared(ctx, tx, &input, raw)
}

// validateInput checks the envelope and payload before any transaction
// begins. Returns the marshaled payload.
func (l *Log) validateInput(input *types.AppendInput) (json.RawMessage, error) {
	if input.EventType == "" {
		return nil, types.Validationf("event_type is required")
	}
	if !types.ValidStreamType(input.StreamType) {
		return nil, types.Validationf("unknown stream_type %q", input.StreamType)
	}
	if input.StreamID == "" {
		return nil, types.Validationf("stream_id is required")
	}

	var raw json.RawMessage
	switch data := input.Data.(type) {
	case nil:
		raw = json.RawMessage(`{}`)
	case json.RawMessage:
		raw = data
	case []byte:
		raw = json.RawMessage(data)
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, types.WrapError(types.KindValidation, err, "payload does not marshal")
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, types.Validationf("payload for %s is not valid JSON", input.EventType)
	}
	if err := types.ValidatePayload(input.EventType, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (l *Log) appendPrepared(ctx context.Context, tx *sql.Tx, input *types.AppendInput, raw json.RawMessage) (*types.Event, error) {
	var maxSeq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM events WHERE stream_type = ? AND stream_id = ?`,
		input.StreamType, input.StreamID,
	).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream position: %w", err)
	}

	eventID := l.ids.New(ident.PrefixEvent)

	correlationID := eventID
	if input.CausationID != nil {
		err := tx.QueryRowContext(ctx,
			`SELECT correlation_id FROM events WHERE event_id = ?`, *input.CausationID,
		).Scan(&correlationID)
		if err == sql.ErrNoRows {
			return nil, types.Validationf("causation_id %s does not reference a recorded event", *input.CausationID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve causation: %w", err)
		}
	} else if input.CorrelationID != nil && *input.CorrelationID != "" {
		correlationID = *input.CorrelationID
	}

	now := l.now().UTC()
	occurredAt := now
	if input.OccurredAt != nil {
		occurredAt = input.OccurredAt.UTC()
	}

	ev := &types.Event{
		EventID:        eventID,
		EventType:      input.EventType,
		StreamType:     input.StreamType,
		StreamID:       input.StreamID,
		SequenceNumber: maxSeq + 1,
		Data:           raw,
		CausationID:    input.CausationID,
		CorrelationID:  correlationID,
		OccurredAt:     occurredAt,
		RecordedAt:     now,
		SchemaVersion:  1,
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_id, event_type, stream_type, stream_id, sequence_number,
			data, causation_id, correlation_id, occurred_at, recorded_at, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.EventType, ev.StreamType, ev.StreamID, ev.SequenceNumber,
		string(ev.Data), ev.CausationID, ev.CorrelationID,
		types.FormatTime(ev.OccurredAt), types.FormatTime(ev.RecordedAt), ev.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	ev.GlobalSeq, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read global sequence: %w", err)
	}
	metrics.EventsAppended.Inc()

	if l.proj != nil {
		if err := l.proj.Apply(ctx, tx, ev); err != nil {
			return nil, fmt.Errorf("projection for %s failed: %w", ev.EventType, err)
		}
	}
	return ev, nil
}
