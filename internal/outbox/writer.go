package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/YUJAEYUN/exercisemate/internal/events"
)

// DefaultTopic receives every exercise event unless configured otherwise.
const DefaultTopic = "exercise_events"

// Writer appends domain events to the outbox table for the dispatcher to deliver.
type Writer struct {
	pool  *pgxpool.Pool
	topic string
}

// NewWriter constructs a Writer publishing to topic.
func NewWriter(pool *pgxpool.Pool, topic string) *Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Writer{pool: pool, topic: topic}
}

// Emit stores the event. Every call adds a row: record and stats ids repeat
// after a leave or a goal change, and each of those emissions must notify.
func (w *Writer) Emit(ctx context.Context, event events.Event) error {
	meta, ok := schemaCatalog[event.EventType()]
	if !ok {
		return fmt.Errorf("no schema metadata for event_type=%s", event.EventType())
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = w.pool.Exec(ctx, stmt,
		meta.AggregateType,
		event.AggregateID(),
		event.EventType(),
		w.topic,
		SubjectFor(w.topic),
		event.PartitionKey(),
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", event.EventType(), err)
	}
	enqueuedCounter.WithLabelValues(event.EventType()).Inc()
	return nil
}

// SubjectFor returns the Schema Registry value subject for topic.
func SubjectFor(topic string) string {
	return topic + "-value"
}
