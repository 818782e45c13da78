// Package domain holds the exercise ledger, the weekly counter and group
// membership rules.
package domain

import (
	"context"
	"log"
	"time"

	"github.com/YUJAEYUN/exercisemate/internal/events"
)

const (
	// DefaultWeeklyGoal applies when a group has no readable goal.
	DefaultWeeklyGoal = 3
	// DefaultMaxMembers applies to groups created without an explicit limit.
	DefaultMaxMembers = 2
	// MaxGroupMembers is the ceiling an owner can raise the limit to.
	MaxGroupMembers = 10
)

// EventSink receives events after primary writes succeed. Emission is best-effort.
type EventSink interface {
	Emit(ctx context.Context, event events.Event) error
}

type noopSink struct{}

func (noopSink) Emit(context.Context, events.Event) error { return nil }

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLocation sets the zone in which calendar days and weeks are evaluated.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithEventSink routes domain events to sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger overrides the logger used for best-effort failures.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithInviteCodes overrides invite code generation.
func WithInviteCodes(gen func() (string, error)) Option {
	return func(s *Service) {
		s.newCode = gen
	}
}

// Service orchestrates ledger, counter, membership and user workflows.
type Service struct {
	repo    Repository
	sink    EventSink
	logger  *log.Logger
	now     func() time.Time
	loc     *time.Location
	newCode func() (string, error)
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		sink:    noopSink{},
		logger:  log.New(log.Writer(), "[domain] ", log.LstdFlags|log.Lshortfile),
		now:     time.Now,
		loc:     time.UTC,
		newCode: GenerateInviteCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current time in the service location.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// Location returns the zone used for calendar arithmetic.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	if err := s.sink.Emit(ctx, event); err != nil {
		s.logger.Printf("emit %s failed (aggregate=%s): %v", event.EventType(), event.AggregateID(), err)
	}
}
