// Package outbox persists domain events and delivers them to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

// Kafka header names set on every delivered record.
const (
	HeaderEventType     = "event_type"
	HeaderSchemaSubject = "schema_subject"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message is a claimed outbox row.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// DispatcherConfig tunes the polling loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Logger       *log.Logger
}

// Dispatcher claims unpublished outbox rows and publishes them with Schema
// Registry framing. Rows that cannot be published go to the DLQ; either way a
// claimed row is marked published so the next poll moves on.
type Dispatcher struct {
	pool     *pgxpool.Pool
	producer messageWriter
	registry schemaRegistrar
	dlq      *DLQWriter
	cfg      DispatcherConfig
	schemas  sync.Map
	done     chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[outbox] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &Dispatcher{
		pool:     pool,
		producer: producer,
		registry: registry,
		dlq:      NewDLQWriter(pool),
		cfg:      cfg,
		done:     make(chan struct{}),
	}
}

// Start polls until ctx is cancelled. Run it in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer func() {
		ticker.Stop()
		close(d.done)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.cfg.Logger.Printf("batch failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// rejected pairs a message with the reason it was not published.
type rejected struct {
	msg    Message
	reason string
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.claim(ctx)
	if err != nil || len(messages) == 0 {
		return err
	}
	defer batchDuration.Observe(time.Since(start).Seconds())

	byTopic := make(map[string][]Message)
	records := make(map[string][]kafka.Message)
	var failed []rejected

	for _, msg := range messages {
		record, err := d.encode(ctx, msg)
		if err != nil {
			failed = append(failed, rejected{msg: msg, reason: err.Error()})
			continue
		}
		byTopic[msg.Topic] = append(byTopic[msg.Topic], msg)
		records[msg.Topic] = append(records[msg.Topic], record)
	}

	for topic, batch := range records {
		if err := d.producer.WriteMessages(ctx, topic, batch...); err != nil {
			d.cfg.Logger.Printf("publish %d events to %s: %v", len(batch), topic, err)
			for _, msg := range byTopic[topic] {
				failed = append(failed, rejected{msg: msg, reason: err.Error()})
			}
			continue
		}
		deliveredCounter.Add(float64(len(batch)))
	}

	if len(failed) > 0 {
		failedCounter.Add(float64(len(failed)))
		if err := d.deadLetter(ctx, failed); err != nil {
			return err
		}
	}
	return d.markPublished(ctx, messages)
}

func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`, d.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.EventID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Topic, &m.SchemaSubject, &m.PartitionKey, &m.Payload)
		return m, err
	})
	if err != nil || len(messages) == 0 {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// encode resolves the schema id for msg and builds its Kafka record.
// Records are keyed by group so one group's events stay ordered.
func (d *Dispatcher) encode(ctx context.Context, msg Message) (kafka.Message, error) {
	meta, ok := schemaCatalog[msg.EventType]
	if !ok {
		return kafka.Message{}, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	schemaID, err := d.schemaID(ctx, msg.SchemaSubject, meta.Schema)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("register schema %s: %w", msg.SchemaSubject, err)
	}
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(msg.EventType)},
			{Key: HeaderSchemaSubject, Value: []byte(msg.SchemaSubject)},
		},
	}, nil
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	key := subject + "::" + schema
	if cached, ok := d.schemas.Load(key); ok {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	d.schemas.Store(key, id)
	return id, nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, failed []rejected) error {
	for _, f := range failed {
		reason := fmt.Sprintf("%s (topic=%s)", f.reason, f.msg.Topic)
		if err := d.dlq.Write(ctx, f.msg, reason); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(f.msg.Topic).Inc()
	}
	return nil
}

func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages))
	return err
}

func eventIDs(messages []Message) []int64 {
	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.EventID
	}
	return ids
}

// encodeWireFormat prefixes payload with the Confluent magic byte and schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
