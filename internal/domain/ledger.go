package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/YUJAEYUN/exercisemate/internal/events"
	"github.com/YUJAEYUN/exercisemate/internal/observability"
	"github.com/YUJAEYUN/exercisemate/internal/week"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// LogExerciseInput captures a request to record today's workout.
type LogExerciseInput struct {
	UserID  string
	GroupID string
	Type    ExerciseType
	// Date defaults to today in the service location.
	Date string
}

// Validate ensures the input can be written.
func (in LogExerciseInput) Validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(in.GroupID) == "" {
		return fmt.Errorf("%w: %v", ErrValidation, ErrNoGroup)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown exercise type %q", ErrValidation, in.Type)
	}
	return nil
}

// LogExercise writes the day's record, then recomputes the weekly counter and
// emits events. Only the record write can fail the call.
func (s *Service) LogExercise(ctx context.Context, in LogExerciseInput) (*ExerciseRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.Now()
	today := week.FormatDate(now)
	date := in.Date
	if date == "" {
		date = today
	} else if _, err := week.ParseDate(date, s.loc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	} else if date > today {
		return nil, fmt.Errorf("%w: cannot log exercise for a future date", ErrValidation)
	}

	record := ExerciseRecord{
		ID:        RecordID(in.UserID, date),
		UserID:    in.UserID,
		GroupID:   in.GroupID,
		Date:      date,
		Type:      in.Type,
		CreatedAt: now.UTC(),
	}
	if err := s.repo.InsertExerciseRecord(ctx, record); err != nil {
		return nil, err
	}
	observability.RecordExerciseLogged(record.CreatedAt)

	stats, achieved, err := s.recompute(ctx, in.UserID, in.GroupID, date)
	if err != nil {
		s.logger.Printf("weekly stats recompute failed (user=%s, date=%s): %v", in.UserID, date, err)
	}

	name := s.displayName(ctx, in.UserID)
	s.emit(ctx, events.ExerciseLogged{
		RecordID:     record.ID,
		UserID:       record.UserID,
		UserName:     name,
		GroupID:      record.GroupID,
		ExerciseType: string(record.Type),
		Date:         record.Date,
		OccurredAt:   record.CreatedAt,
	})
	// A back-dated log can complete a past week; only the current week notifies.
	if achieved && stats.WeekStart == week.Of(now).StartDate() {
		s.emit(ctx, events.GoalAchieved{
			UserID:        in.UserID,
			UserName:      name,
			GroupID:       in.GroupID,
			WeekStart:     stats.WeekStart,
			ExerciseCount: stats.ExerciseCount,
			Goal:          stats.Goal,
			OccurredAt:    record.CreatedAt,
		})
	}

	return &record, nil
}

// TodayRecord returns the caller's record for today, or nil.
func (s *Service) TodayRecord(ctx context.Context, userID string) (*ExerciseRecord, error) {
	return s.RecordOn(ctx, userID, week.FormatDate(s.Now()))
}

// RecordOn returns the user's record for a YYYY-MM-DD date, or nil.
func (s *Service) RecordOn(ctx context.Context, userID, date string) (*ExerciseRecord, error) {
	return s.repo.GetExerciseRecord(ctx, RecordID(userID, date))
}

// RecordsInRange lists the user's records whose date lies in [from, to].
func (s *Service) RecordsInRange(ctx context.Context, userID, from, to string) ([]ExerciseRecord, error) {
	if _, err := week.ParseDate(from, s.loc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := week.ParseDate(to, s.loc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if from > to {
		return nil, fmt.Errorf("%w: start date after end date", ErrValidation)
	}
	return s.repo.ListExerciseRecords(ctx, userID, from, to)
}

// History pages through the user's records, newest first.
func (s *Service) History(ctx context.Context, userID string, cursor *Cursor, limit int) ([]ExerciseRecord, *Cursor, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.ListExerciseHistory(ctx, userID, cursor, limit)
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil || user == nil {
		return User{}.Name()
	}
	return user.Name()
}
