package domain

import (
	"context"

	"github.com/YUJAEYUN/exercisemate/internal/week"
)

// Dashboard assembles today's status, weekly progress and group mates' progress.
func (s *Service) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}

	now := s.Now()
	today, err := s.RecordOn(ctx, userID, week.FormatDate(now))
	if err != nil {
		return Dashboard{}, err
	}

	stats, err := s.WeeklyStats(ctx, userID, "")
	if err != nil {
		return Dashboard{}, err
	}

	dash := Dashboard{
		TodayExercised: today != nil,
		TodayRecord:    today,
		WeeklyProgress: Progress{
			Current:    stats.ExerciseCount,
			Goal:       stats.Goal,
			Percentage: WeeklyProgress(stats.ExerciseCount, stats.Goal),
		},
		FriendProgress:   []FriendProgress{},
		DaysUntilPenalty: week.DaysUntilDeadline(now),
		IsRestWeek:       stats.IsRestWeek,
		WeekStart:        stats.WeekStart,
	}

	if user.GroupID == "" {
		return dash, nil
	}
	group, err := s.repo.GetGroup(ctx, user.GroupID)
	if err != nil {
		return Dashboard{}, err
	}
	if group == nil {
		return dash, nil
	}

	for _, memberID := range group.Members {
		if memberID == userID {
			continue
		}
		member, err := s.repo.GetUser(ctx, memberID)
		if err != nil {
			return Dashboard{}, err
		}
		if member == nil {
			continue
		}
		memberStats, err := s.WeeklyStats(ctx, memberID, stats.WeekStart)
		if err != nil {
			return Dashboard{}, err
		}
		dash.FriendProgress = append(dash.FriendProgress, FriendProgress{
			UserID:      member.ID,
			DisplayName: member.Name(),
			Avatar:      member.Avatar,
			Progress: Progress{
				Current:    memberStats.ExerciseCount,
				Goal:       memberStats.Goal,
				Percentage: WeeklyProgress(memberStats.ExerciseCount, memberStats.Goal),
			},
			IsRestWeek: memberStats.IsRestWeek,
		})
	}
	return dash, nil
}
