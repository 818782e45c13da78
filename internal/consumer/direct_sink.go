package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/YUJAEYUN/exercisemate/internal/events"
)

// DirectTopic labels events handled in-process.
const DirectTopic = "direct"

// DirectSink hands events straight to a Handler without Kafka. It satisfies
// domain.EventSink.
type DirectSink struct {
	handler Handler
	now     func() time.Time
}

// NewDirectSink constructs a DirectSink.
func NewDirectSink(handler Handler) *DirectSink {
	return &DirectSink{handler: handler, now: time.Now}
}

// Emit encodes event the way the dispatcher does and handles it synchronously.
func (s *DirectSink) Emit(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}

	msg := Message{
		Topic:     DirectTopic,
		Timestamp: s.now().UTC(),
		Key:       event.PartitionKey(),
		EventType: event.EventType(),
		Payload:   payload,
	}
	if err := s.handler.Handle(ctx, msg); err != nil {
		recordHandlerError(msg)
		return err
	}
	recordOutcome(msg, outcomeProcessed)
	return nil
}
