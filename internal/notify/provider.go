package notify

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// ErrTokenUnregistered marks a token the provider reports as permanently invalid.
var ErrTokenUnregistered = errors.New("push token unregistered")

// Notification is a composed push payload.
type Notification struct {
	Title string
	Body  string
	// Link is opened when the notification is clicked.
	Link string
	Data map[string]string
}

// Message targets a single device token.
type Message struct {
	Token string
	Notification
}

// Multicast targets many device tokens with one payload.
type Multicast struct {
	Tokens []string
	Notification
}

// RecipientResult is the outcome for one token of a multicast.
type RecipientResult struct {
	Token     string
	MessageID string
	Err       error
}

// BatchResult tallies a multicast. SuccessCount+FailureCount equals the
// number of tokens submitted.
type BatchResult struct {
	SuccessCount int
	FailureCount int
	Responses    []RecipientResult
}

// Provider submits notifications to a push transport.
type Provider interface {
	Send(ctx context.Context, msg Message) (string, error)
	SendMulticast(ctx context.Context, msg Multicast) (BatchResult, error)
}

// LogProvider writes notifications to a logger instead of a push service.
// It is used when no push credentials are configured.
type LogProvider struct {
	logger *log.Logger
}

// NewLogProvider constructs a LogProvider. A nil logger uses the standard logger.
func NewLogProvider(logger *log.Logger) *LogProvider {
	if logger == nil {
		logger = log.New(log.Writer(), "[push] ", log.LstdFlags)
	}
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Send(_ context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	p.logger.Printf("send id=%s token=%s title=%q body=%q data=%v", id, abbreviate(msg.Token), msg.Title, msg.Body, msg.Data)
	return id, nil
}

func (p *LogProvider) SendMulticast(ctx context.Context, msg Multicast) (BatchResult, error) {
	result := BatchResult{Responses: make([]RecipientResult, 0, len(msg.Tokens))}
	for _, token := range msg.Tokens {
		id, err := p.Send(ctx, Message{Token: token, Notification: msg.Notification})
		result.Responses = append(result.Responses, RecipientResult{Token: token, MessageID: id, Err: err})
		if err != nil {
			result.FailureCount++
			continue
		}
		result.SuccessCount++
	}
	return result, nil
}

func abbreviate(token string) string {
	if len(token) <= 12 {
		return token
	}
	return fmt.Sprintf("%s...%s", token[:6], token[len(token)-4:])
}
