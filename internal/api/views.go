package api

import (
	"time"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
)

// PushTokenView hides the token value itself.
type PushTokenView struct {
	DeviceID   string    `json:"deviceId"`
	DeviceType string    `json:"deviceType"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// UserView is the profile returned to its owner.
type UserView struct {
	ID                   string                      `json:"id"`
	DisplayName          string                      `json:"displayName"`
	Email                string                      `json:"email,omitempty"`
	Avatar               string                      `json:"avatar"`
	GroupID              string                      `json:"groupId,omitempty"`
	NotificationSettings domain.NotificationSettings `json:"notificationSettings"`
	PushTokens           []PushTokenView             `json:"pushTokens"`
	CreatedAt            time.Time                   `json:"createdAt"`
	UpdatedAt            time.Time                   `json:"updatedAt"`
}

func toUserView(u domain.User) UserView {
	view := UserView{
		ID:                   u.ID,
		DisplayName:          u.DisplayName,
		Email:                u.Email,
		Avatar:               string(u.Avatar),
		GroupID:              u.GroupID,
		NotificationSettings: u.Notifications,
		PushTokens:           make([]PushTokenView, 0, len(u.PushTokens)),
		CreatedAt:            u.CreatedAt,
		UpdatedAt:            u.UpdatedAt,
	}
	for _, t := range u.PushTokens {
		view.PushTokens = append(view.PushTokens, PushTokenView{DeviceID: t.DeviceID, DeviceType: string(t.DeviceType), LastUsedAt: t.LastUsedAt})
	}
	return view
}

// RecordView is one ledger entry.
type RecordView struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	GroupID      string    `json:"groupId"`
	Date         string    `json:"date"`
	ExerciseType string    `json:"exerciseType"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toRecordView(r domain.ExerciseRecord) RecordView {
	return RecordView{
		ID:           r.ID,
		UserID:       r.UserID,
		GroupID:      r.GroupID,
		Date:         r.Date,
		ExerciseType: string(r.Type),
		CreatedAt:    r.CreatedAt,
	}
}

func toRecordViews(records []domain.ExerciseRecord) []RecordView {
	out := make([]RecordView, 0, len(records))
	for _, r := range records {
		out = append(out, toRecordView(r))
	}
	return out
}

// HistoryResponse is a page of history.
type HistoryResponse struct {
	Items      []RecordView `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// StatsView is a weekly counter.
type StatsView struct {
	UserID        string          `json:"userId"`
	WeekStart     string          `json:"weekStart"`
	ExerciseCount int             `json:"exerciseCount"`
	Goal          int             `json:"goal"`
	IsRestWeek    bool            `json:"isRestWeek"`
	Progress      domain.Progress `json:"progress"`
}

func toStatsView(s domain.WeeklyStats) StatsView {
	return StatsView{
		UserID:        s.UserID,
		WeekStart:     s.WeekStart,
		ExerciseCount: s.ExerciseCount,
		Goal:          s.Goal,
		IsRestWeek:    s.IsRestWeek,
		Progress: domain.Progress{
			Current:    s.ExerciseCount,
			Goal:       s.Goal,
			Percentage: domain.WeeklyProgress(s.ExerciseCount, s.Goal),
		},
	}
}

// GroupView is a group as seen by one of its members.
type GroupView struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	OwnerID            string     `json:"ownerId"`
	Members            []string   `json:"members"`
	MaxMembers         int        `json:"maxMembers"`
	WeeklyGoal         int        `json:"weeklyGoal"`
	InviteCode         string     `json:"inviteCode"`
	LastGoalAchiever   string     `json:"lastGoalAchiever,omitempty"`
	LastGoalAchievedAt *time.Time `json:"lastGoalAchievedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func toGroupView(g domain.Group) GroupView {
	return GroupView{
		ID:                 g.ID,
		Name:               g.Name,
		OwnerID:            g.OwnerID,
		Members:            append([]string{}, g.Members...),
		MaxMembers:         g.Capacity(),
		WeeklyGoal:         g.Goal(),
		InviteCode:         g.InviteCode,
		LastGoalAchiever:   g.LastGoalAchiever,
		LastGoalAchievedAt: g.LastGoalAchievedAt,
		CreatedAt:          g.CreatedAt,
	}
}

// GroupProgressView is the group's goal bookkeeping.
type GroupProgressView struct {
	GroupID            string     `json:"groupId"`
	LastGoalAchiever   string     `json:"lastGoalAchiever,omitempty"`
	LastGoalAchievedAt *time.Time `json:"lastGoalAchievedAt,omitempty"`
	WeeklyGoal         int        `json:"weeklyGoal"`
	MemberCount        int        `json:"memberCount"`
}

// FriendProgressView is a group mate's weekly progress.
type FriendProgressView struct {
	UserID      string          `json:"userId"`
	DisplayName string          `json:"displayName"`
	Avatar      string          `json:"avatar"`
	Progress    domain.Progress `json:"progress"`
	IsRestWeek  bool            `json:"isRestWeek"`
}

// DashboardView is the home screen payload.
type DashboardView struct {
	TodayExercised   bool                 `json:"todayExercised"`
	TodayRecord      *RecordView          `json:"todayRecord,omitempty"`
	WeeklyProgress   domain.Progress      `json:"weeklyProgress"`
	FriendProgress   []FriendProgressView `json:"friendProgress"`
	DaysUntilPenalty int                  `json:"daysUntilPenalty"`
	IsRestWeek       bool                 `json:"isRestWeek"`
	WeekStart        string               `json:"weekStart"`
}

func toDashboardView(d domain.Dashboard) DashboardView {
	view := DashboardView{
		TodayExercised:   d.TodayExercised,
		WeeklyProgress:   d.WeeklyProgress,
		FriendProgress:   make([]FriendProgressView, 0, len(d.FriendProgress)),
		DaysUntilPenalty: d.DaysUntilPenalty,
		IsRestWeek:       d.IsRestWeek,
		WeekStart:        d.WeekStart,
	}
	if d.TodayRecord != nil {
		rec := toRecordView(*d.TodayRecord)
		view.TodayRecord = &rec
	}
	for _, f := range d.FriendProgress {
		view.FriendProgress = append(view.FriendProgress, FriendProgressView{
			UserID:      f.UserID,
			DisplayName: f.DisplayName,
			Avatar:      string(f.Avatar),
			Progress:    f.Progress,
			IsRestWeek:  f.IsRestWeek,
		})
	}
	return view
}
