package jobs

import (
	"context"
	"time"

	"github.com/YUJAEYUN/exercisemate/internal/week"
)

// Scheduler drives a Runner from a ticker.
type Scheduler struct {
	runner      *Runner
	interval    time.Duration
	now         func() time.Time
	lastCleanup string
}

// NewScheduler constructs a Scheduler ticking every interval.
func NewScheduler(runner *Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{runner: runner, interval: interval, now: time.Now}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx, s.now())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs whatever is due at now: the daily reminder every tick, the
// penalty warning during its hour, token cleanup once per local day.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	logger := s.runner.logger

	if report, err := s.runner.DailyReminder(ctx, now); err != nil {
		logger.Printf("%s: %v", JobDailyReminder, err)
	} else if report.Notified > 0 {
		logger.Print(report)
	}

	if s.runner.PenaltyWarningDue(now) {
		if report, err := s.runner.WeeklyGoalReminder(ctx, now); err != nil {
			logger.Printf("%s: %v", JobWeeklyGoalReminder, err)
		} else if report.Notified > 0 {
			logger.Print(report)
		}
	}

	today := week.FormatDate(now.In(s.runner.svc.Location()))
	if s.lastCleanup != today {
		report, err := s.runner.CleanupTokens(ctx)
		if err != nil {
			logger.Printf("%s: %v", JobCleanupTokens, err)
			return
		}
		s.lastCleanup = today
		if report.Removed > 0 {
			logger.Print(report)
		}
	}
}
