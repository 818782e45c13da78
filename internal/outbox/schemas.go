package outbox

import "github.com/YUJAEYUN/exercisemate/internal/events"

// SchemaCatalogEntry maps an event type to its aggregate and JSON schema.
type SchemaCatalogEntry struct {
	AggregateType string
	Schema        string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeExerciseLogged: {
		AggregateType: "exercise_record",
		Schema:        exerciseLoggedSchema,
	},
	events.TypeGoalAchieved: {
		AggregateType: "weekly_stats",
		Schema:        goalAchievedSchema,
	},
}

const exerciseLoggedSchema = `{
  "type": "object",
  "title": "ExerciseLogged",
  "properties": {
    "record_id": {"type": "string"},
    "user_id": {"type": "string"},
    "user_name": {"type": "string"},
    "group_id": {"type": "string"},
    "exercise_type": {"type": "string", "enum": ["upper", "lower", "cardio"]},
    "date": {"type": "string", "format": "date"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["record_id", "user_id", "group_id", "exercise_type", "date", "occurred_at"],
  "additionalProperties": false
}`

const goalAchievedSchema = `{
  "type": "object",
  "title": "GoalAchieved",
  "properties": {
    "user_id": {"type": "string"},
    "user_name": {"type": "string"},
    "group_id": {"type": "string"},
    "week_start": {"type": "string", "format": "date"},
    "exercise_count": {"type": "integer"},
    "goal": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "group_id", "week_start", "exercise_count", "goal", "occurred_at"],
  "additionalProperties": false
}`
