// Package jobs holds the time-driven reminder and maintenance jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/notify"
	"github.com/YUJAEYUN/exercisemate/internal/week"
)

// Job names used in reports, logs and metrics.
const (
	JobDailyReminder      = "daily_reminder"
	JobWeeklyGoalReminder = "weekly_goal_reminder"
	JobCleanupTokens      = "cleanup_tokens"
)

// Defaults applied by NewRunner.
const (
	DefaultReminderWindow     = 30 * time.Minute
	DefaultPenaltyWarningHour = 18
)

// Notifier sends a notification to every device of one user.
type Notifier interface {
	SendToUser(ctx context.Context, req notify.UserNotification) (notify.Result, error)
}

// Config tunes the jobs.
type Config struct {
	// ReminderWindow is the tolerance around a user's reminder time.
	ReminderWindow time.Duration
	// PenaltyWarningHour is the local hour on Sunday at which the warning goes out.
	PenaltyWarningHour int
	TokenMaxAge        time.Duration
}

// Report summarises one job run.
type Report struct {
	Job        string
	Considered int
	Notified   int
	Skipped    int
	Failed     int
	Removed    int
}

func (r Report) String() string {
	return fmt.Sprintf("%s: considered=%d notified=%d skipped=%d failed=%d removed=%d",
		r.Job, r.Considered, r.Notified, r.Skipped, r.Failed, r.Removed)
}

// Runner executes the jobs against the domain service.
type Runner struct {
	svc      *domain.Service
	notifier Notifier
	cfg      Config
	logger   *log.Logger

	mu       sync.Mutex
	reminded map[string]string
	warned   map[string]string
}

// NewRunner constructs a Runner.
func NewRunner(svc *domain.Service, notifier Notifier, cfg Config, logger *log.Logger) *Runner {
	if cfg.ReminderWindow <= 0 {
		cfg.ReminderWindow = DefaultReminderWindow
	}
	if cfg.PenaltyWarningHour < 0 || cfg.PenaltyWarningHour > 23 {
		cfg.PenaltyWarningHour = DefaultPenaltyWarningHour
	}
	if cfg.TokenMaxAge <= 0 {
		cfg.TokenMaxAge = notify.DefaultTokenMaxAge
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[jobs] ", log.LstdFlags|log.Lshortfile)
	}
	return &Runner{
		svc:      svc,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		reminded: make(map[string]string),
		warned:   make(map[string]string),
	}
}

// markOnce records key for period and reports whether it was new.
func (r *Runner) markOnce(seen map[string]string, key, period string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seen[key] == period {
		return false
	}
	seen[key] = period
	return true
}

func withinWindow(local time.Time, hour, minute int, window time.Duration) bool {
	target := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, local.Location())
	diff := local.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

// DailyReminder nudges users whose reminder time is within the window of now
// on one of their reminder days, unless they already logged today. Each user
// is reminded at most once per local day by this Runner.
func (r *Runner) DailyReminder(ctx context.Context, now time.Time) (Report, error) {
	report := Report{Job: JobDailyReminder}
	local := now.In(r.svc.Location())
	today := week.FormatDate(local)

	users, err := r.svc.NotifiableUsers(ctx)
	if err != nil {
		recordRun(report, err)
		return report, err
	}

	var errs error
	for _, user := range users {
		report.Considered++
		settings := user.Notifications
		hour, minute := settings.ReminderClock()
		if !settings.RemindsOn(local.Weekday()) || !withinWindow(local, hour, minute, r.cfg.ReminderWindow) {
			report.Skipped++
			continue
		}

		record, err := r.svc.RecordOn(ctx, user.ID, today)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("lookup %s: %w", user.ID, err))
			report.Failed++
			continue
		}
		if record != nil || !r.markOnce(r.reminded, user.ID, today) {
			report.Skipped++
			continue
		}

		result, err := r.notifier.SendToUser(ctx, notify.UserNotification{
			UserID: user.ID,
			Title:  "🏃 Workout challenge",
			Body:   "Time to work out! Keep chasing your goal today! 💪",
			Kind:   notify.KindDailyReminder,
		})
		r.tally(&report, user.ID, result, err)
	}

	recordRun(report, errs)
	return report, errs
}

// WeeklyGoalReminder warns group members who are still below this week's
// goal. Rest weeks are exempt. Each user is warned at most once per week.
func (r *Runner) WeeklyGoalReminder(ctx context.Context, now time.Time) (Report, error) {
	report := Report{Job: JobWeeklyGoalReminder}
	local := now.In(r.svc.Location())
	weekStart := week.FormatDate(week.Start(local))

	users, err := r.svc.NotifiableUsers(ctx)
	if err != nil {
		recordRun(report, err)
		return report, err
	}

	var errs error
	for _, user := range users {
		report.Considered++
		if !user.Notifications.PenaltyWarning || user.GroupID == "" {
			report.Skipped++
			continue
		}

		stats, err := r.svc.WeeklyStats(ctx, user.ID, weekStart)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("stats %s: %w", user.ID, err))
			report.Failed++
			continue
		}
		if stats.IsRestWeek || stats.Met() || !r.markOnce(r.warned, user.ID, weekStart) {
			report.Skipped++
			continue
		}

		remaining := stats.Goal - stats.ExerciseCount
		result, err := r.notifier.SendToUser(ctx, notify.UserNotification{
			UserID: user.ID,
			Title:  "⚠️ Penalty warning!",
			Body:   fmt.Sprintf("%d more to go before this week's deadline! Don't get caught out! 😱", remaining),
			Kind:   notify.KindPenaltyWarning,
			Data: map[string]any{
				"remaining":     remaining,
				"exerciseCount": stats.ExerciseCount,
				"goal":          stats.Goal,
			},
		})
		r.tally(&report, user.ID, result, err)
	}

	recordRun(report, errs)
	return report, errs
}

// CleanupTokens removes push tokens unused for longer than the token max age.
func (r *Runner) CleanupTokens(ctx context.Context) (Report, error) {
	report := Report{Job: JobCleanupTokens}
	removed, err := r.svc.CleanupExpiredTokens(ctx, r.cfg.TokenMaxAge)
	report.Removed = removed
	recordRun(report, err)
	return report, err
}

// tally folds one send into the report. Send failures are logged, not returned.
func (r *Runner) tally(report *Report, userID string, result notify.Result, err error) {
	switch {
	case err != nil:
		report.Failed++
		r.logger.Printf("%s to %s failed: %v", report.Job, userID, err)
	case result.SuccessCount > 0:
		report.Notified++
	default:
		report.Skipped++
	}
}

// PenaltyWarningDue reports whether now is inside the weekly warning hour.
func (r *Runner) PenaltyWarningDue(now time.Time) bool {
	local := now.In(r.svc.Location())
	return local.Weekday() == time.Sunday && local.Hour() == r.cfg.PenaltyWarningHour
}
