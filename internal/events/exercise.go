// Package events defines the event payloads exchanged between the API, the
// outbox dispatcher and the notification consumer.
package events

import "time"

// Event types routed through the outbox and the consumer.
const (
	TypeExerciseLogged = "exercise.logged"
	TypeGoalAchieved   = "goal.achieved"
)

// Event is implemented by every payload that can be emitted by the domain.
type Event interface {
	EventType() string
	// AggregateID identifies the entity the event is about.
	AggregateID() string
	// PartitionKey keeps events of one group ordered on the topic.
	PartitionKey() string
}

// ExerciseLogged is emitted after a new exercise record has been written.
type ExerciseLogged struct {
	RecordID     string    `json:"record_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	GroupID      string    `json:"group_id"`
	ExerciseType string    `json:"exercise_type"`
	Date         string    `json:"date"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (ExerciseLogged) EventType() string      { return TypeExerciseLogged }
func (e ExerciseLogged) AggregateID() string  { return e.RecordID }
func (e ExerciseLogged) PartitionKey() string { return e.GroupID }

// GoalAchieved is emitted when a recompute moves a user's weekly count from
// below the goal to at or above it.
type GoalAchieved struct {
	UserID        string    `json:"user_id"`
	UserName      string    `json:"user_name"`
	GroupID       string    `json:"group_id"`
	WeekStart     string    `json:"week_start"`
	ExerciseCount int       `json:"exercise_count"`
	Goal          int       `json:"goal"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (GoalAchieved) EventType() string { return TypeGoalAchieved }

func (e GoalAchieved) AggregateID() string { return e.UserID + "_" + e.WeekStart }

func (e GoalAchieved) PartitionKey() string { return e.GroupID }
