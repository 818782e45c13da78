package domain

import (
	"context"
	"fmt"

	"github.com/YUJAEYUN/exercisemate/internal/observability"
	"github.com/YUJAEYUN/exercisemate/internal/week"
)

// RecomputeWeeklyStats rebuilds the current week's counter for the user from the ledger.
func (s *Service) RecomputeWeeklyStats(ctx context.Context, userID, groupID string) (*WeeklyStats, error) {
	stats, _, err := s.recompute(ctx, userID, groupID, week.FormatDate(s.Now()))
	return stats, err
}

// recompute overwrites the stats row for the week containing date. The second
// return value is true when the count crossed the goal with this recompute.
func (s *Service) recompute(ctx context.Context, userID, groupID, date string) (*WeeklyStats, bool, error) {
	day, err := week.ParseDate(date, s.loc)
	if err != nil {
		return nil, false, err
	}
	cycle := week.Of(day)

	goal := s.groupGoal(ctx, groupID)

	records, err := s.repo.ListExerciseRecords(ctx, userID, cycle.StartDate(), cycle.EndDate())
	if err != nil {
		return nil, false, fmt.Errorf("list records: %w", err)
	}

	previous, err := s.repo.GetWeeklyStats(ctx, userID, cycle.StartDate())
	if err != nil {
		return nil, false, fmt.Errorf("load stats: %w", err)
	}

	now := s.Now().UTC()
	stats := WeeklyStats{
		ID:            StatsID(userID, cycle.StartDate()),
		UserID:        userID,
		WeekStart:     cycle.StartDate(),
		ExerciseCount: len(records),
		Goal:          goal,
		UpdatedAt:     now,
	}
	if previous != nil {
		stats.IsRestWeek = previous.IsRestWeek
	}

	if err := s.repo.UpsertWeeklyStats(ctx, stats); err != nil {
		return nil, false, fmt.Errorf("upsert stats: %w", err)
	}
	observability.RecordStatsRecomputed(now)

	achieved := stats.Met() && (previous == nil || !previous.Met())
	return &stats, achieved, nil
}

func (s *Service) groupGoal(ctx context.Context, groupID string) int {
	if groupID == "" {
		return DefaultWeeklyGoal
	}
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		s.logger.Printf("read group goal failed (group=%s): %v", groupID, err)
		return DefaultWeeklyGoal
	}
	if group == nil {
		return DefaultWeeklyGoal
	}
	return group.Goal()
}

// WeeklyStats returns the counter for the week containing weekStart (today when
// empty). A missing row is reported as zero progress against the group goal.
func (s *Service) WeeklyStats(ctx context.Context, userID, weekStart string) (WeeklyStats, error) {
	start, err := s.normaliseWeekStart(weekStart)
	if err != nil {
		return WeeklyStats{}, err
	}

	stats, err := s.repo.GetWeeklyStats(ctx, userID, start)
	if err != nil {
		return WeeklyStats{}, err
	}
	if stats != nil {
		return *stats, nil
	}

	goal := DefaultWeeklyGoal
	if user, err := s.repo.GetUser(ctx, userID); err == nil && user != nil {
		goal = s.groupGoal(ctx, user.GroupID)
	}
	return WeeklyStats{
		ID:        StatsID(userID, start),
		UserID:    userID,
		WeekStart: start,
		Goal:      goal,
	}, nil
}

// SetRestWeek flags or clears the rest-week exemption. The counter is rebuilt
// first so the row exists.
func (s *Service) SetRestWeek(ctx context.Context, userID, weekStart string, rest bool) (WeeklyStats, error) {
	start, err := s.normaliseWeekStart(weekStart)
	if err != nil {
		return WeeklyStats{}, err
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return WeeklyStats{}, err
	}
	if user == nil {
		return WeeklyStats{}, ErrUserNotFound
	}

	if _, _, err := s.recompute(ctx, userID, user.GroupID, start); err != nil {
		return WeeklyStats{}, err
	}
	if err := s.repo.SetRestWeek(ctx, userID, start, rest, s.Now().UTC()); err != nil {
		return WeeklyStats{}, err
	}
	return s.WeeklyStats(ctx, userID, start)
}

func (s *Service) normaliseWeekStart(value string) (string, error) {
	if value == "" {
		return week.Of(s.Now()).StartDate(), nil
	}
	start, err := week.StartOfDate(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return start, nil
}
