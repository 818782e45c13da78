package domain

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// ExerciseType is the closed set of workout categories a record can carry.
type ExerciseType string

const (
	ExerciseUpper  ExerciseType = "upper"
	ExerciseLower  ExerciseType = "lower"
	ExerciseCardio ExerciseType = "cardio"
)

// Valid reports whether t is one of the known categories.
func (t ExerciseType) Valid() bool {
	switch t {
	case ExerciseUpper, ExerciseLower, ExerciseCardio:
		return true
	}
	return false
}

// Label is the human readable name used in notification copy.
func (t ExerciseType) Label() string {
	switch t {
	case ExerciseUpper:
		return "upper body"
	case ExerciseLower:
		return "lower body"
	case ExerciseCardio:
		return "cardio"
	}
	return string(t)
}

// Emoji decorates notification copy for the category.
func (t ExerciseType) Emoji() string {
	switch t {
	case ExerciseLower:
		return "🦵"
	case ExerciseCardio:
		return "🏃"
	}
	return "💪"
}

// Avatar is the character a user picks for their profile.
type Avatar string

const (
	AvatarCat Avatar = "cat"
	AvatarDog Avatar = "dog"
)

func (a Avatar) Valid() bool { return a == AvatarCat || a == AvatarDog }

// DeviceType classifies where a push token was registered.
type DeviceType string

const (
	DeviceWeb     DeviceType = "web"
	DeviceAndroid DeviceType = "android"
	DeviceIOS     DeviceType = "ios"
)

func (d DeviceType) Valid() bool {
	return d == DeviceWeb || d == DeviceAndroid || d == DeviceIOS
}

// PushToken is a device registration owned by a user. One token per device.
type PushToken struct {
	UserID     string
	Token      string
	DeviceID   string
	DeviceType DeviceType
	UserAgent  string
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// ActiveAt reports whether the token was used within maxAge of now.
func (t PushToken) ActiveAt(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return true
	}
	return now.Sub(t.LastUsedAt) <= maxAge
}

var reminderTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// NotificationSettings are the per-user reminder preferences.
// ReminderDays uses time.Weekday numbering (0 = Sunday).
type NotificationSettings struct {
	Enabled        bool   `json:"enabled"`
	ReminderTime   string `json:"reminderTime"`
	ReminderDays   []int  `json:"reminderDays"`
	GoalReminder   bool   `json:"goalReminder"`
	PenaltyWarning bool   `json:"penaltyWarning"`
}

// DefaultNotificationSettings is applied to newly created users.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:        false,
		ReminderTime:   "20:00",
		ReminderDays:   []int{1, 2, 3, 4, 5},
		GoalReminder:   true,
		PenaltyWarning: true,
	}
}

// Validate checks the time-of-day format and weekday range.
func (s NotificationSettings) Validate() error {
	if !reminderTimePattern.MatchString(s.ReminderTime) {
		return fmt.Errorf("%w: reminder time must be HH:MM", ErrValidation)
	}
	for _, d := range s.ReminderDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: reminder day %d out of range", ErrValidation, d)
		}
	}
	return nil
}

// RemindsOn reports whether reminders are configured for the weekday.
func (s NotificationSettings) RemindsOn(day time.Weekday) bool {
	for _, d := range s.ReminderDays {
		if d == int(day) {
			return true
		}
	}
	return false
}

// ReminderClock returns the reminder hour and minute. Invalid values fall back to 20:00.
func (s NotificationSettings) ReminderClock() (hour, minute int) {
	if _, err := fmt.Sscanf(s.ReminderTime, "%d:%d", &hour, &minute); err != nil || !reminderTimePattern.MatchString(s.ReminderTime) {
		return 20, 0
	}
	return hour, minute
}

// User is created on first authentication and never hard-deleted.
type User struct {
	ID            string
	DisplayName   string
	Email         string
	Avatar        Avatar
	GroupID       string
	Notifications NotificationSettings
	PushTokens    []PushToken
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Name returns the display name, or a neutral placeholder when unset.
func (u User) Name() string {
	if u.DisplayName == "" {
		return "A group member"
	}
	return u.DisplayName
}

// Group is a small roster of users sharing a weekly goal.
type Group struct {
	ID                 string
	Name               string
	OwnerID            string
	Members            []string
	MaxMembers         int
	WeeklyGoal         int
	InviteCode         string
	LastGoalAchiever   string
	LastGoalAchievedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Capacity returns the member limit, treating an unset limit as the legacy default.
func (g Group) Capacity() int {
	if g.MaxMembers <= 0 {
		return DefaultMaxMembers
	}
	return g.MaxMembers
}

// Goal returns the weekly goal, treating an unset goal as the default.
func (g Group) Goal() int {
	if g.WeeklyGoal <= 0 {
		return DefaultWeeklyGoal
	}
	return g.WeeklyGoal
}

// HasMember reports whether userID is on the roster.
func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// ExerciseRecord is the single ledger entry for a user and calendar day.
type ExerciseRecord struct {
	ID        string
	UserID    string
	GroupID   string
	Date      string
	Type      ExerciseType
	CreatedAt time.Time
}

// RecordID is the deterministic key that enforces one record per user per day.
func RecordID(userID, date string) string {
	return userID + "_" + date
}

// WeeklyStats is the rebuildable per-user aggregate for one week cycle.
type WeeklyStats struct {
	ID            string
	UserID        string
	WeekStart     string
	ExerciseCount int
	Goal          int
	IsRestWeek    bool
	UpdatedAt     time.Time
}

// StatsID keys a weekly stats row.
func StatsID(userID, weekStart string) string {
	return userID + "_" + weekStart
}

// Met reports whether the count reached the goal.
func (s WeeklyStats) Met() bool {
	return s.Goal > 0 && s.ExerciseCount >= s.Goal
}

// Cursor models the history pagination token.
type Cursor struct {
	Date string
	ID   string
}

// Progress is the clamped percentage view of a weekly counter.
type Progress struct {
	Current    int `json:"current"`
	Goal       int `json:"goal"`
	Percentage float64 `json:"percentage"`
}

// WeeklyProgress returns current/goal as a percentage clamped at 100.
// A zero goal yields 0.
func WeeklyProgress(current, goal int) float64 {
	if goal <= 0 || current <= 0 {
		return 0
	}
	return math.Min(float64(current)/float64(goal)*100, 100)
}

// FriendProgress is a group mate's view on the dashboard.
type FriendProgress struct {
	UserID      string
	DisplayName string
	Avatar      Avatar
	Progress    Progress
	IsRestWeek  bool
}

// Dashboard aggregates what the home screen shows for a user.
type Dashboard struct {
	TodayExercised   bool
	TodayRecord      *ExerciseRecord
	WeeklyProgress   Progress
	FriendProgress   []FriendProgress
	DaysUntilPenalty int
	IsRestWeek       bool
	WeekStart        string
}

// GroupProgress is the group-level goal bookkeeping view.
type GroupProgress struct {
	GroupID            string
	LastGoalAchiever   string
	LastGoalAchievedAt *time.Time
	WeeklyGoal         int
	MemberCount        int
}
