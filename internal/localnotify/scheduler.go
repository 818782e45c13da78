// Package localnotify schedules notifications on local timers and shows them
// without a network round-trip. It is the fallback when push delivery is not
// available.
package localnotify

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// Kind groups local notifications for display customisation.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindGoal     Kind = "goal"
	KindPenalty  Kind = "penalty"
)

// Notification is what gets shown when a timer fires.
type Notification struct {
	ID     string
	Title  string
	Body   string
	Kind   Kind
	FireAt time.Time
	Data   map[string]string
}

// Display shows a notification locally.
type Display interface {
	Show(ctx context.Context, n Notification) error
}

// PendingStore persists the ids of armed timers.
type PendingStore interface {
	Load() ([]string, error)
	Save(ids []string) error
}

// Timer is the part of *time.Timer the scheduler relies on.
type Timer interface {
	Stop() bool
}

// AfterFunc arms f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

type pending struct {
	timer Timer
	n     Notification
	gen   uint64
}

// Scheduler keeps one pending timer per notification id.
type Scheduler struct {
	display   Display
	store     PendingStore
	logger    *log.Logger
	now       func() time.Time
	afterFunc AfterFunc

	mu      sync.Mutex
	pending map[string]pending
	gen     uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAfterFunc overrides time.AfterFunc.
func WithAfterFunc(fn AfterFunc) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.afterFunc = fn
		}
	}
}

// WithPendingStore persists pending ids after every change.
func WithPendingStore(store PendingStore) Option {
	return func(s *Scheduler) {
		s.store = store
	}
}

// NewScheduler constructs a Scheduler showing notifications on display.
func NewScheduler(display Display, opts ...Option) *Scheduler {
	s := &Scheduler{
		display: display,
		logger:  log.New(log.Writer(), "[localnotify] ", log.LstdFlags),
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		pending: make(map[string]pending),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms n to fire at n.FireAt, replacing any timer with the same id.
// A fire time that is not in the future shows the notification immediately.
func (s *Scheduler) Schedule(n Notification) {
	delay := n.FireAt.Sub(s.now())

	s.mu.Lock()
	s.cancelLocked(n.ID)
	if delay <= 0 {
		s.persistLocked()
		s.mu.Unlock()
		s.show(n)
		return
	}

	s.gen++
	gen := s.gen
	timer := s.afterFunc(delay, func() { s.fire(n.ID, gen) })
	s.pending[n.ID] = pending{timer: timer, n: n, gen: gen}
	s.persistLocked()
	s.mu.Unlock()

	s.logger.Printf("scheduled %s (%s) in %s", n.ID, n.Title, delay.Round(time.Second))
}

func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok || entry.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.persistLocked()
	s.mu.Unlock()

	s.show(entry.n)
}

func (s *Scheduler) show(n Notification) {
	if err := s.display.Show(context.Background(), n); err != nil {
		s.logger.Printf("show %s failed: %v", n.ID, err)
	}
}

// Cancel stops the timer for id and reports whether one was pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cancelLocked(id) {
		return false
	}
	s.persistLocked()
	return true
}

func (s *Scheduler) cancelLocked(id string) bool {
	entry, ok := s.pending[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.pending, id)
	return true
}

// CancelAll stops every pending timer.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.pending {
		s.cancelLocked(id)
	}
	s.persistLocked()
}

// Pending returns the ids of armed timers in sorted order.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idsLocked()
}

// FireTime returns when id is due to fire.
func (s *Scheduler) FireTime(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[id]
	return entry.n.FireAt, ok
}

func (s *Scheduler) idsLocked() []string {
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) persistLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.idsLocked()); err != nil {
		s.logger.Printf("persist pending ids: %v", err)
	}
}
