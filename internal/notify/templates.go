package notify

import (
	"fmt"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
)

// Kind values carried in the "type" data field.
const (
	KindDirect           = "direct"
	KindFriendExercise   = "friend_exercise"
	KindGoalAchievement  = "goal_achievement"
	KindGroupMessage     = "group_message"
	KindDailyReminder    = "daily_reminder"
	KindPenaltyWarning   = "penalty_warning"
	KindPersonalReminder = "reminder"
)

// MaxCustomMessageLength bounds free-form group messages, in characters.
const MaxCustomMessageLength = 200

// Template is a canned group message.
type Template struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Emoji   string `json:"emoji"`
}

var templates = []Template{
	{ID: "workout_motivation", Title: "Workout nudge", Message: "Time to work out! 💪 Let's chase the goal together today!", Emoji: "💪"},
	{ID: "coffee_break", Title: "Break time", Message: "How about a coffee? ☕ Take a short break and recharge!", Emoji: "☕"},
	{ID: "energy_boost", Title: "Energy boost", Message: "You've got this! ⚡ Keep going today!", Emoji: "⚡"},
	{ID: "encouragement", Title: "Encouragement", Message: "You can do it! ❤️ Don't give up, see it through!", Emoji: "❤️"},
	{ID: "goal_reminder", Title: "Goal reminder", Message: "Don't forget the goal! 🎯 A little every day adds up!", Emoji: "🎯"},
	{ID: "celebration", Title: "Celebration", Message: "Congratulations! 🏆 Amazing work, keep it up!", Emoji: "🏆"},
}

// Templates returns the fixed group message set.
func Templates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}

// LookupTemplate finds a template by id.
func LookupTemplate(id string) (Template, bool) {
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

func friendExerciseCopy(userName string, exercise domain.ExerciseType) (string, string) {
	return "🎉 Your friend just worked out!",
		fmt.Sprintf("%s completed today's %s workout! %s", userName, exercise.Label(), exercise.Emoji())
}

func goalAchievedCopy(userName string, count, goal int) (string, string) {
	return "🎉 Goal reached!",
		fmt.Sprintf("%s reached this week's goal! %d/%d done! 🏆", userName, count, goal)
}

func groupMessageTitle(senderName string) string {
	return fmt.Sprintf("💬 Message from %s", senderName)
}
