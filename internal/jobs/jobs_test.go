package jobs_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/jobs"
	"github.com/YUJAEYUN/exercisemate/internal/notify"
	"github.com/YUJAEYUN/exercisemate/internal/persistence/memory"
)

var seoul = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		panic(err)
	}
	return loc
}()

// Sunday 19 October 2025, 18:05 in Seoul.
var sundayEvening = time.Date(2025, time.October, 19, 18, 5, 0, 0, seoul)

type stubNotifier struct {
	mu   sync.Mutex
	sent []notify.UserNotification
	fail map[string]error
}

func (n *stubNotifier) SendToUser(_ context.Context, req notify.UserNotification) (notify.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, req)
	if err := n.fail[req.UserID]; err != nil {
		return notify.Result{State: notify.StateSubmissionFailed}, err
	}
	return notify.Result{State: notify.StateDeliveredFull, Recipients: 1, SuccessCount: 1}, nil
}

func (n *stubNotifier) byKind(kind string) []notify.UserNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.UserNotification
	for _, s := range n.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	store    *memory.Store
	svc      *domain.Service
	notifier *stubNotifier
	runner   *jobs.Runner
}

// newFixture seeds a group with a weekly goal of 3:
//   - alice reminds at 18:00 on Sundays and logged once this week
//   - bob reminds at 18:00 on Sundays and already met the goal, today included
//   - carol reminds on Mondays only and is on a rest week
//   - dave has notifications switched off
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	svc := domain.NewService(store,
		domain.WithClock(func() time.Time { return sundayEvening }),
		domain.WithLocation(seoul),
		domain.WithLogger(log.New(io.Discard, "", 0)),
	)

	sunday := domain.NotificationSettings{Enabled: true, ReminderTime: "18:00", ReminderDays: []int{0}, GoalReminder: true, PenaltyWarning: true}
	monday := sunday
	monday.ReminderDays = []int{1}
	off := domain.DefaultNotificationSettings()

	for id, settings := range map[string]domain.NotificationSettings{"alice": sunday, "bob": sunday, "carol": monday, "dave": off} {
		_, _, err := store.CreateUser(ctx, domain.User{ID: id, DisplayName: id, Avatar: domain.AvatarCat, Notifications: settings, CreatedAt: sundayEvening, UpdatedAt: sundayEvening})
		require.NoError(t, err)
	}

	group := domain.Group{ID: "g1", Name: "crew", OwnerID: "alice", Members: []string{"alice"}, MaxMembers: 5, WeeklyGoal: 3, InviteCode: "ABC123", CreatedAt: sundayEvening, UpdatedAt: sundayEvening}
	require.NoError(t, store.CreateGroup(ctx, group))
	for _, id := range []string{"bob", "carol", "dave"} {
		_, err := store.JoinGroup(ctx, "ABC123", id, sundayEvening, func(domain.Group, domain.User) error { return nil })
		require.NoError(t, err)
	}

	logs := map[string][]string{
		"alice": {"2025-10-13"},
		"bob":   {"2025-10-17", "2025-10-18", "2025-10-19"},
	}
	for userID, dates := range logs {
		for _, date := range dates {
			_, err := svc.LogExercise(ctx, domain.LogExerciseInput{UserID: userID, GroupID: group.ID, Type: domain.ExerciseCardio, Date: date})
			require.NoError(t, err)
		}
	}
	_, err := svc.SetRestWeek(ctx, "carol", "2025-10-13", true)
	require.NoError(t, err)

	notifier := &stubNotifier{fail: map[string]error{}}
	runner := jobs.NewRunner(svc, notifier, jobs.Config{}, log.New(io.Discard, "", 0))
	return &fixture{store: store, svc: svc, notifier: notifier, runner: runner}
}

func TestDailyReminderTargetsDueUsersWithoutRecord(t *testing.T) {
	f := newFixture(t)

	report, err := f.runner.DailyReminder(context.Background(), sundayEvening)
	require.NoError(t, err)
	require.Equal(t, jobs.Report{Job: jobs.JobDailyReminder, Considered: 3, Notified: 1, Skipped: 2}, report)

	sent := f.notifier.byKind(notify.KindDailyReminder)
	require.Len(t, sent, 1)
	require.Equal(t, "alice", sent[0].UserID)
}

func TestDailyReminderOncePerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.runner.DailyReminder(ctx, sundayEvening)
	require.NoError(t, err)
	report, err := f.runner.DailyReminder(ctx, sundayEvening.Add(10*time.Minute))
	require.NoError(t, err)
	require.Zero(t, report.Notified)
	require.Len(t, f.notifier.byKind(notify.KindDailyReminder), 1)
}

func TestDailyReminderOutsideWindow(t *testing.T) {
	f := newFixture(t)

	report, err := f.runner.DailyReminder(context.Background(), sundayEvening.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Zero(t, report.Notified)
	require.Equal(t, 3, report.Skipped)
}

func TestDailyReminderCountsSendFailures(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail["alice"] = errors.New("provider down")

	report, err := f.runner.DailyReminder(context.Background(), sundayEvening)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Zero(t, report.Notified)
}

func TestWeeklyGoalReminderWarnsUsersBelowGoal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.runner.WeeklyGoalReminder(ctx, sundayEvening)
	require.NoError(t, err)
	require.Equal(t, 3, report.Considered)
	require.Equal(t, 1, report.Notified)

	sent := f.notifier.byKind(notify.KindPenaltyWarning)
	require.Len(t, sent, 1)
	require.Equal(t, "alice", sent[0].UserID)
	require.Contains(t, sent[0].Body, "2 more to go")
	require.Equal(t, 2, sent[0].Data["remaining"])

	again, err := f.runner.WeeklyGoalReminder(ctx, sundayEvening.Add(time.Minute))
	require.NoError(t, err)
	require.Zero(t, again.Notified)
}

func TestWeeklyGoalReminderRespectsOptOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateNotificationSettings(ctx, "alice", domain.NotificationSettings{Enabled: true, ReminderTime: "18:00", ReminderDays: []int{0}})
	require.NoError(t, err)

	report, err := f.runner.WeeklyGoalReminder(ctx, sundayEvening)
	require.NoError(t, err)
	require.Zero(t, report.Notified)
}

func TestCleanupTokensRemovesStaleDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for token, lastUsed := range map[string]time.Time{
		"fresh": sundayEvening.Add(-time.Hour),
		"stale": sundayEvening.Add(-31 * 24 * time.Hour),
	} {
		require.NoError(t, f.store.UpsertPushToken(ctx, domain.PushToken{
			UserID: "alice", Token: token, DeviceID: token, DeviceType: domain.DeviceWeb, LastUsedAt: lastUsed, CreatedAt: lastUsed,
		}))
	}

	report, err := f.runner.CleanupTokens(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Removed)

	tokens, err := f.store.ListPushTokens(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, "fresh", tokens[0].Token)
}

func TestPenaltyWarningDue(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.runner.PenaltyWarningDue(sundayEvening))
	require.True(t, f.runner.PenaltyWarningDue(sundayEvening.UTC()))
	require.False(t, f.runner.PenaltyWarningDue(sundayEvening.Add(time.Hour)))
	require.False(t, f.runner.PenaltyWarningDue(sundayEvening.AddDate(0, 0, -1)))
}

func TestSchedulerTickRunsDueJobs(t *testing.T) {
	f := newFixture(t)
	scheduler := jobs.NewScheduler(f.runner, time.Minute)

	scheduler.Tick(context.Background(), sundayEvening)
	require.Len(t, f.notifier.byKind(notify.KindDailyReminder), 1)
	require.Len(t, f.notifier.byKind(notify.KindPenaltyWarning), 1)

	scheduler.Tick(context.Background(), sundayEvening.Add(time.Minute))
	require.Len(t, f.notifier.sent, 2)
}
