package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evidentia/syncplatform/domain/distribution"
)

// DistributionStore persists declarative sinks and the durable event
// outbox domain/distribution's pure retry logic operates over.
type DistributionStore struct {
	*BaseStore
}

func NewDistributionStore(db *sql.DB) *DistributionStore {
	return &DistributionStore{BaseStore: NewBaseStore(db, "distribution_sinks")}
}

func (s *DistributionStore) CreateSink(ctx context.Context, sink distribution.Sink) (distribution.Sink, error) {
	if sink.ID == "" {
		sink.ID = uuid.NewString()
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO distribution_sinks (id, kind, target, credentials, transform, active)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, sink.ID, sink.Kind, sink.Target, []byte(`{"secret":"`+sink.Secret+`"}`), sink.Transform, sink.Enabled)
	if err != nil {
		return sink, fmt.Errorf("create sink: %w", err)
	}
	return sink, nil
}

// Sinks returns every enabled sink, keyed by id for DispatchBatch.
func (s *DistributionStore) Sinks(ctx context.Context) (map[string]distribution.Sink, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, kind, target, transform, active FROM distribution_sinks WHERE active = true
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]distribution.Sink{}
	for rows.Next() {
		var sink distribution.Sink
		if err := rows.Scan(&sink.ID, &sink.Kind, &sink.Target, &sink.Transform, &sink.Enabled); err != nil {
			return nil, err
		}
		out[sink.ID] = sink
	}
	return out, rows.Err()
}

// Enqueue appends a new outbox event for fan-out.
func (s *DistributionStore) Enqueue(ctx context.Context, sinkID string, payload []byte) (distribution.Event, error) {
	e := distribution.Event{
		ID:        uuid.NewString(),
		SinkID:    sinkID,
		Payload:   payload,
		Status:    distribution.DeliveryPending,
		NextTryAt: time.Now().UTC(),
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO distribution_events (id, sink_id, payload, status, attempt, next_attempt)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.SinkID, e.Payload, e.Status, e.Attempt, e.NextTryAt)
	return e, err
}

// DueEvents returns pending/retrying events whose NextTryAt has elapsed,
// up to limit (the scheduled processor's dispatch batch size).
func (s *DistributionStore) DueEvents(ctx context.Context, now time.Time, limit int) ([]distribution.Event, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, sink_id, payload, status, attempt, next_attempt FROM distribution_events
		WHERE status IN ('pending','retrying') AND next_attempt <= $1
		ORDER BY created_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []distribution.Event
	for rows.Next() {
		var e distribution.Event
		if err := rows.Scan(&e.ID, &e.SinkID, &e.Payload, &e.Status, &e.Attempt, &e.NextTryAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveResult persists an event's post-dispatch state (delivered, retrying
// with backoff, or dead-lettered).
func (s *DistributionStore) SaveResult(ctx context.Context, e distribution.Event) error {
	_, err := s.ExecContext(ctx, `
		UPDATE distribution_events SET status = $2, attempt = $3, next_attempt = $4 WHERE id = $1
	`, e.ID, e.Status, e.Attempt, e.NextTryAt)
	return err
}
