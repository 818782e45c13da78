// Package consumer reads exercise events from Kafka and turns them into
// notifications.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/YUJAEYUN/exercisemate/internal/outbox"
)

// Reader is the part of *kafka.Reader the processor uses.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded events.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is an outbox event as read back from Kafka.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	Key           string
	EventType     string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetry sets how many times a failing event is handled before it is
// dropped, and the pause that grows linearly between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(p *Processor) {
		if attempts > 0 {
			p.attempts = attempts
		}
		p.delay = delay
	}
}

// Processor fetches records, decodes the outbox framing and hands events to
// a Handler. Notifications are best-effort: an event that still fails after
// the last attempt is committed and counted as dropped so it cannot stall
// its partition.
type Processor struct {
	reader   Reader
	handler  Handler
	logger   *log.Logger
	attempts int
	delay    time.Duration
}

// NewProcessor constructs a Processor.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		handler:  handler,
		logger:   log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lmsgprefix),
		attempts: 3,
		delay:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes records until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Printf("fetch: %v", err)
			if err := sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		msg, err := decodeMessage(record)
		if err != nil {
			p.logger.Printf("undecodable record %s/%d@%d: %v", record.Topic, record.Partition, record.Offset, err)
			recordOutcome(Message{Topic: record.Topic}, outcomeUndecodable)
			p.commit(ctx, record)
			continue
		}

		if err := p.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Printf("dropping %s key=%s offset=%d after %d attempts: %v", msg.EventType, msg.Key, msg.Offset, p.attempts, err)
			recordOutcome(msg, outcomeDropped)
		} else {
			recordOutcome(msg, outcomeProcessed)
		}
		p.commit(ctx, record)
	}
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = p.handler.Handle(ctx, msg); err == nil {
			return nil
		}
		recordHandlerError(msg)
		if attempt < p.attempts {
			if sleepErr := sleep(ctx, time.Duration(attempt)*p.delay); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return err
}

func (p *Processor) commit(ctx context.Context, record kafka.Message) {
	if err := p.reader.CommitMessages(ctx, record); err != nil {
		p.logger.Printf("commit %s/%d@%d: %v", record.Topic, record.Partition, record.Offset, err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// decodeMessage strips the magic byte and schema id the dispatcher prepends.
func decodeMessage(record kafka.Message) (Message, error) {
	if len(record.Value) < 5 {
		return Message{}, fmt.Errorf("frame too short: %d bytes", len(record.Value))
	}
	if record.Value[0] != 0 {
		return Message{}, fmt.Errorf("unexpected magic byte %d", record.Value[0])
	}

	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	eventType := headers[outbox.HeaderEventType]
	if eventType == "" {
		return Message{}, errors.New("missing event_type header")
	}

	return Message{
		Topic:         record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		Timestamp:     record.Time,
		Key:           string(record.Key),
		EventType:     eventType,
		SchemaSubject: headers[outbox.HeaderSchemaSubject],
		SchemaID:      int(binary.BigEndian.Uint32(record.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), record.Value[5:]...)),
	}, nil
}
