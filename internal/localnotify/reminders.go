package localnotify

import (
	"fmt"
	"time"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
)

// Well-known notification ids.
const (
	DailyReminderID  = "daily-reminder"
	PenaltyWarningID = "penalty-warning"
	SnoozeID         = "snooze-reminder"
	GoalID           = "goal-achievement"
)

// SnoozeDelay is how long a snoozed reminder waits.
const SnoozeDelay = 30 * time.Minute

// PenaltyWarningHour is the local hour on Sunday when the warning fires.
const PenaltyWarningHour = 18

// NextReminderTime returns the next reminder time strictly after now: today
// if the reminder clock has not passed and today is enabled, otherwise the
// next enabled weekday. Disabled settings or an empty day list yield false.
func NextReminderTime(now time.Time, settings domain.NotificationSettings) (time.Time, bool) {
	if !settings.Enabled || len(settings.ReminderDays) == 0 {
		return time.Time{}, false
	}
	hour, minute := settings.ReminderClock()
	for offset := 0; offset <= 7; offset++ {
		day := now.AddDate(0, 0, offset)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		if !candidate.After(now) {
			continue
		}
		if settings.RemindsOn(candidate.Weekday()) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

// ScheduleNextReminder arms the daily reminder for the next qualifying time.
// Disabled settings cancel everything that is pending.
func (s *Scheduler) ScheduleNextReminder(settings domain.NotificationSettings) (time.Time, bool) {
	if !settings.Enabled {
		s.CancelAll()
		return time.Time{}, false
	}
	at, ok := NextReminderTime(s.now(), settings)
	if !ok {
		s.Cancel(DailyReminderID)
		return time.Time{}, false
	}
	s.Schedule(Notification{
		ID:     DailyReminderID,
		Title:  "🏃 Workout challenge",
		Body:   "Time to work out! Keep chasing your goal today! 💪",
		Kind:   KindReminder,
		FireAt: at,
	})
	return at, true
}

// SchedulePenaltyWarning arms the warning for this Sunday at
// PenaltyWarningHour, or next Sunday once that has passed.
func (s *Scheduler) SchedulePenaltyWarning(remaining int) time.Time {
	now := s.now()
	daysUntilSunday := (7 - int(now.Weekday())) % 7
	sunday := now.AddDate(0, 0, daysUntilSunday)
	at := time.Date(sunday.Year(), sunday.Month(), sunday.Day(), PenaltyWarningHour, 0, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 7)
	}
	s.Schedule(Notification{
		ID:     PenaltyWarningID,
		Title:  "⚠️ Penalty warning!",
		Body:   fmt.Sprintf("%d more to go before this week's deadline! Don't get caught out! 😱", remaining),
		Kind:   KindPenalty,
		FireAt: at,
		Data:   map[string]string{"remaining": fmt.Sprint(remaining)},
	})
	return at
}

// ScheduleSnooze re-arms a reminder SnoozeDelay from now.
func (s *Scheduler) ScheduleSnooze() time.Time {
	at := s.now().Add(SnoozeDelay)
	s.Schedule(Notification{
		ID:     SnoozeID,
		Title:  "🔔 Workout reminder",
		Body:   "30 minutes have passed! Time to work out! 💪",
		Kind:   KindReminder,
		FireAt: at,
	})
	return at
}

// ShowGoalAchievement shows the goal notification right away.
func (s *Scheduler) ShowGoalAchievement(count, goal int) {
	s.Schedule(Notification{
		ID:     GoalID,
		Title:  "🎉 Goal reached!",
		Body:   fmt.Sprintf("You reached this week's goal! %d/%d done! 🏆", count, goal),
		Kind:   KindGoal,
		FireAt: s.now(),
	})
}

// Restore reads the persisted pending ids. Only the daily reminder can be
// rebuilt from settings; every other id is dropped and returned.
func (s *Scheduler) Restore(settings domain.NotificationSettings) ([]string, error) {
	if s.store == nil {
		return nil, nil
	}
	ids, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var dropped []string
	for _, id := range ids {
		if id != DailyReminderID {
			dropped = append(dropped, id)
		}
	}
	s.ScheduleNextReminder(settings)
	return dropped, nil
}
