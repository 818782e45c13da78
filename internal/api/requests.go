package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. An empty body is
// treated as an empty object.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unable to parse body: %v", domain.ErrValidation, err)
	}
	return check(dst)
}

func check(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required", "required_without":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "datetime":
			msgs = append(msgs, fe.Field()+" must be a YYYY-MM-DD date")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
}

// EnsureUserRequest is the payload for POST /v1/users/me. Missing fields fall
// back to the token claims.
type EnsureUserRequest struct {
	DisplayName string `json:"displayName" validate:"max=30"`
	Email       string `json:"email" validate:"omitempty,email"`
}

// UpdateProfileRequest is the payload for PATCH /v1/users/me.
type UpdateProfileRequest struct {
	DisplayName *string `json:"displayName" validate:"omitempty,max=30"`
	Avatar      *string `json:"avatar" validate:"omitempty,oneof=cat dog"`
}

// NotificationSettingsRequest is the payload for PUT /v1/users/me/notification-settings.
type NotificationSettingsRequest struct {
	Enabled        bool   `json:"enabled"`
	ReminderTime   string `json:"reminderTime" validate:"required"`
	ReminderDays   []int  `json:"reminderDays" validate:"dive,min=0,max=6"`
	GoalReminder   bool   `json:"goalReminder"`
	PenaltyWarning bool   `json:"penaltyWarning"`
}

// RegisterPushTokenRequest is the payload for POST /v1/users/me/push-tokens.
type RegisterPushTokenRequest struct {
	Token      string `json:"token" validate:"required"`
	DeviceID   string `json:"deviceId" validate:"required,max=128"`
	DeviceType string `json:"deviceType" validate:"omitempty,oneof=web android ios"`
}

// LogExerciseRequest is the payload for POST /v1/exercises.
type LogExerciseRequest struct {
	ExerciseType string `json:"exerciseType" validate:"required,oneof=upper lower cardio"`
	Date         string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// RestWeekRequest is the payload for PUT /v1/stats/rest-week.
type RestWeekRequest struct {
	WeekStart  string `json:"weekStart" validate:"omitempty,datetime=2006-01-02"`
	IsRestWeek bool   `json:"isRestWeek"`
}

// CreateGroupRequest is the payload for POST /v1/groups.
type CreateGroupRequest struct {
	Name       string `json:"name" validate:"required,max=50"`
	WeeklyGoal int    `json:"weeklyGoal" validate:"omitempty,min=1,max=7"`
	MaxMembers int    `json:"maxMembers" validate:"omitempty,min=2,max=10"`
}

// JoinGroupRequest is the payload for POST /v1/groups/join.
type JoinGroupRequest struct {
	InviteCode string `json:"inviteCode" validate:"required"`
}

// UpdateGroupRequest is the payload for PATCH /v1/groups/{id}.
type UpdateGroupRequest struct {
	Name       *string `json:"name" validate:"omitempty,max=50"`
	WeeklyGoal *int    `json:"weeklyGoal" validate:"omitempty,min=1,max=7"`
	MaxMembers *int    `json:"maxMembers" validate:"omitempty,min=2,max=10"`
}

// SendNotificationRequest is the payload for POST /v1/notifications/send.
type SendNotificationRequest struct {
	TargetToken string         `json:"targetToken" validate:"required"`
	Title       string         `json:"title" validate:"required"`
	Body        string         `json:"body" validate:"required"`
	Data        map[string]any `json:"data"`
}

// SendToUserRequest is the payload for POST /v1/notifications/user.
type SendToUserRequest struct {
	TargetUserID string         `json:"targetUserId" validate:"required"`
	Title        string         `json:"title" validate:"required"`
	Body         string         `json:"body" validate:"required"`
	Type         string         `json:"type"`
	URL          string         `json:"url"`
	Data         map[string]any `json:"data"`
}

// NotifyFriendsRequest is the payload for POST /v1/notifications/friends.
type NotifyFriendsRequest struct {
	GroupID      string `json:"groupId"`
	ExerciseType string `json:"exerciseType" validate:"required,oneof=upper lower cardio"`
	UserName     string `json:"userName"`
}

// NotifyGroupGoalRequest is the payload for POST /v1/notifications/group-goal.
type NotifyGroupGoalRequest struct {
	GroupID       string `json:"groupId"`
	ExerciseCount int    `json:"exerciseCount" validate:"min=0"`
	Goal          int    `json:"goal" validate:"required,min=1"`
	UserName      string `json:"userName"`
}

// PersonalReminderRequest is the payload for POST /v1/notifications/reminder.
type PersonalReminderRequest struct {
	Title string `json:"title" validate:"required"`
	Body  string `json:"body" validate:"required"`
	Type  string `json:"type"`
}

// GroupMessageRequest is the payload for POST /v1/notifications/group-message.
type GroupMessageRequest struct {
	GroupID    string `json:"groupId"`
	TemplateID string `json:"templateId" validate:"required_without=Message"`
	Message    string `json:"message" validate:"max=200"`
}
