package domain

import (
	"context"
	"time"
)

// UserPatch carries optional profile fields.
type UserPatch struct {
	DisplayName *string
	Avatar      *Avatar
}

// GroupPatch carries optional group fields.
type GroupPatch struct {
	Name       *string
	WeeklyGoal *int
	MaxMembers *int
}

// UserRepository persists users, their settings and their push tokens.
// Lookups return (nil, nil) when the row does not exist.
type UserRepository interface {
	// CreateUser inserts the user unless one already exists with the same id.
	// It returns the stored user and whether it was created.
	CreateUser(ctx context.Context, user User) (*User, bool, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	UpdateUser(ctx context.Context, userID string, patch UserPatch, at time.Time) error
	SaveNotificationSettings(ctx context.Context, userID string, settings NotificationSettings, at time.Time) error
	// ListNotifiableUsers returns users with notifications enabled.
	ListNotifiableUsers(ctx context.Context) ([]User, error)

	// UpsertPushToken stores the token, replacing any token held for the same device.
	UpsertPushToken(ctx context.Context, token PushToken) error
	DeletePushToken(ctx context.Context, userID, deviceID string) error
	// DeletePushTokenValue removes a token wherever it is registered.
	DeletePushTokenValue(ctx context.Context, token string) (int, error)
	ListPushTokens(ctx context.Context, userID string) ([]PushToken, error)
	DeletePushTokensUnusedSince(ctx context.Context, cutoff time.Time) (int, error)
}

// GroupRepository persists groups and membership. Join, leave and create
// must be atomic with respect to the roster and the user's group reference.
type GroupRepository interface {
	// CreateGroup stores the group and points the owner at it.
	// A colliding invite code yields ErrInviteCodeTaken.
	CreateGroup(ctx context.Context, group Group) error
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	// JoinGroup locks the group addressed by code, runs admit against the locked
	// state and appends userID when admit returns nil.
	JoinGroup(ctx context.Context, code, userID string, at time.Time, admit func(Group, User) error) (*Group, error)
	// LeaveGroup removes the member, deletes an emptied group and wipes the
	// user's records and stats. It reports whether the group was deleted.
	LeaveGroup(ctx context.Context, groupID, userID string) (bool, error)
	UpdateGroup(ctx context.Context, groupID string, patch GroupPatch, at time.Time) (*Group, error)
	RecordGoalAchiever(ctx context.Context, groupID, name string, at time.Time) error
}

// LedgerRepository persists exercise records.
type LedgerRepository interface {
	// InsertExerciseRecord creates the record if absent, otherwise ErrAlreadyLogged.
	InsertExerciseRecord(ctx context.Context, record ExerciseRecord) error
	GetExerciseRecord(ctx context.Context, recordID string) (*ExerciseRecord, error)
	// ListExerciseRecords returns the user's records with from <= date <= to.
	ListExerciseRecords(ctx context.Context, userID, from, to string) ([]ExerciseRecord, error)
	ListExerciseHistory(ctx context.Context, userID string, cursor *Cursor, limit int) ([]ExerciseRecord, *Cursor, error)
}

// StatsRepository persists the weekly aggregate.
type StatsRepository interface {
	GetWeeklyStats(ctx context.Context, userID, weekStart string) (*WeeklyStats, error)
	// UpsertWeeklyStats overwrites count and goal and leaves the rest-week flag alone.
	UpsertWeeklyStats(ctx context.Context, stats WeeklyStats) error
	SetRestWeek(ctx context.Context, userID, weekStart string, rest bool, at time.Time) error
}

// Repository is the full storage contract used by Service.
type Repository interface {
	UserRepository
	GroupRepository
	LedgerRepository
	StatsRepository
}
