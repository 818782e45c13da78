package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/events"
	"github.com/YUJAEYUN/exercisemate/internal/notify"
)

// Notifier is the part of notify.Service driven by events.
type Notifier interface {
	NotifyFriends(ctx context.Context, ev notify.FriendExercise) (notify.Result, error)
	NotifyGroupGoal(ctx context.Context, ev notify.GoalAchievement) (notify.Result, error)
}

// NotificationHandler fans exercise events out to group members.
type NotificationHandler struct {
	notifier Notifier
	logger   *log.Logger
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(notifier Notifier, logger *log.Logger) *NotificationHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile)
	}
	return &NotificationHandler{notifier: notifier, logger: logger}
}

// Handle implements Handler. Events for groups or users that no longer exist
// and unknown event types are acknowledged without sending.
func (h *NotificationHandler) Handle(ctx context.Context, msg Message) error {
	var (
		result notify.Result
		err    error
	)

	switch msg.EventType {
	case events.TypeExerciseLogged:
		var ev events.ExerciseLogged
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		result, err = h.notifier.NotifyFriends(ctx, notify.FriendExercise{
			UserID:       ev.UserID,
			GroupID:      ev.GroupID,
			ExerciseType: domain.ExerciseType(ev.ExerciseType),
			UserName:     ev.UserName,
		})
	case events.TypeGoalAchieved:
		var ev events.GoalAchieved
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", msg.EventType, err)
		}
		result, err = h.notifier.NotifyGroupGoal(ctx, notify.GoalAchievement{
			UserID:        ev.UserID,
			GroupID:       ev.GroupID,
			ExerciseCount: ev.ExerciseCount,
			Goal:          ev.Goal,
			UserName:      ev.UserName,
		})
	default:
		recordSkipped(msg.EventType, "unknown_type")
		return nil
	}

	if err != nil {
		if domain.IsNotFound(err) || errors.Is(err, domain.ErrValidation) {
			h.logger.Printf("skipping %s: %v", msg.EventType, err)
			recordSkipped(msg.EventType, "rejected")
			return nil
		}
		return err
	}

	h.logger.Printf("%s delivered: state=%s sent=%d failed=%d", msg.EventType, result.State, result.SuccessCount, result.FailureCount)
	return nil
}
