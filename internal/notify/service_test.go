package notify_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/notify"
	"github.com/YUJAEYUN/exercisemate/internal/persistence/memory"
)

var now = time.Date(2025, 10, 13, 9, 0, 0, 0, time.UTC)

type stubProvider struct {
	mu         sync.Mutex
	sends      []notify.Message
	multicasts []notify.Multicast
	failures   map[string]error
	sendErr    error
	batchErr   error
}

func (p *stubProvider) Send(_ context.Context, msg notify.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, msg)
	if p.sendErr != nil {
		return "", p.sendErr
	}
	if err := p.failures[msg.Token]; err != nil {
		return "", err
	}
	return "msg-" + msg.Token, nil
}

func (p *stubProvider) SendMulticast(_ context.Context, msg notify.Multicast) (notify.BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.multicasts = append(p.multicasts, msg)
	if p.batchErr != nil {
		return notify.BatchResult{}, p.batchErr
	}
	var out notify.BatchResult
	for _, token := range msg.Tokens {
		if err := p.failures[token]; err != nil {
			out.FailureCount++
			out.Responses = append(out.Responses, notify.RecipientResult{Token: token, Err: err})
			continue
		}
		out.SuccessCount++
		out.Responses = append(out.Responses, notify.RecipientResult{Token: token, MessageID: "msg-" + token})
	}
	return out, nil
}

func (p *stubProvider) lastMulticast(t *testing.T) notify.Multicast {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.multicasts)
	return p.multicasts[len(p.multicasts)-1]
}

type fixture struct {
	store    *memory.Store
	provider *stubProvider
	svc      *notify.Service
	groupID  string
}

// newFixture builds a group of alice (owner), bob and carol. Alice and bob
// have tokens, carol has none.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	for _, id := range []string{"alice", "bob", "carol"} {
		_, _, err := store.CreateUser(ctx, domain.User{ID: id, DisplayName: id, Avatar: domain.AvatarCat, Notifications: domain.DefaultNotificationSettings(), CreatedAt: now, UpdatedAt: now})
		require.NoError(t, err)
	}
	group := domain.Group{ID: "g1", Name: "crew", OwnerID: "alice", Members: []string{"alice"}, MaxMembers: 5, WeeklyGoal: 3, InviteCode: "ABC123", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateGroup(ctx, group))
	for _, id := range []string{"bob", "carol"} {
		_, err := store.JoinGroup(ctx, "ABC123", id, now, func(domain.Group, domain.User) error { return nil })
		require.NoError(t, err)
	}

	addToken(t, store, "alice", "tok-alice", "phone", now)
	addToken(t, store, "bob", "tok-bob", "phone", now)
	addToken(t, store, "bob", "tok-bob-laptop", "laptop", now.Add(-40*24*time.Hour))

	provider := &stubProvider{failures: map[string]error{}}
	svc := notify.NewService(store, provider,
		notify.WithClock(func() time.Time { return now }),
		notify.WithLogger(log.New(io.Discard, "", 0)),
	)
	return &fixture{store: store, provider: provider, svc: svc, groupID: group.ID}
}

func addToken(t *testing.T, store *memory.Store, userID, token, device string, lastUsed time.Time) {
	t.Helper()
	require.NoError(t, store.UpsertPushToken(context.Background(), domain.PushToken{
		UserID: userID, Token: token, DeviceID: device, DeviceType: domain.DeviceWeb, LastUsedAt: lastUsed, CreatedAt: lastUsed,
	}))
}

func TestStringifyData(t *testing.T) {
	out, err := notify.StringifyData(map[string]any{
		"count": 3,
		"goal":  int64(5),
		"ratio": 0.5,
		"ok":    true,
		"name":  "alice",
		"skip":  nil,
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"count": "3", "goal": "5", "ratio": "0.5", "ok": "true", "name": "alice"}, out)

	_, err = notify.StringifyData(map[string]any{"nested": map[string]any{"a": 1}})
	require.ErrorIs(t, err, notify.ErrNonScalarData)

	_, err = notify.StringifyData(map[string]any{"list": []int{1}})
	require.ErrorIs(t, err, notify.ErrNonScalarData)
}

func TestResolveTargetsSkipsMembersWithoutActiveTokens(t *testing.T) {
	f := newFixture(t)

	targets, err := f.svc.ResolveTargets(context.Background(), f.groupID, "alice")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, "bob", targets[0].UserID)
	require.Equal(t, []string{"tok-bob"}, targets[0].Tokens, "expired laptop token must be excluded")

	all, err := f.svc.ResolveTargets(context.Background(), f.groupID, "")
	require.NoError(t, err)
	ids := []string{}
	for _, target := range all {
		ids = append(ids, target.UserID)
	}
	sort.Strings(ids)
	require.Equal(t, []string{"alice", "bob"}, ids)

	_, err = f.svc.ResolveTargets(context.Background(), "missing", "")
	require.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestMulticastEmptyTargetsSkipsProvider(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Multicast(context.Background(), nil, notify.Notification{Title: "t", Body: "b", Data: map[string]string{"type": "test"}})
	require.NoError(t, err)
	require.Equal(t, notify.StateTokensResolved, result.State)
	require.Zero(t, result.SuccessCount)
	require.Zero(t, result.FailureCount)
	require.Empty(t, f.provider.multicasts)
}

func TestMulticastTallyAndStaleTokenRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addToken(t, f.store, "carol", "tok-carol", "phone", now)

	f.provider.failures["tok-carol"] = fmt.Errorf("%w: gone", notify.ErrTokenUnregistered)
	f.provider.failures["tok-bob"] = errors.New("quota exceeded")

	result, err := f.svc.Multicast(ctx, []string{"tok-alice", "tok-bob", "tok-carol", "tok-alice"}, notify.Notification{Title: "t", Body: "b", Data: map[string]string{"type": "test"}})
	require.NoError(t, err)
	require.Equal(t, 3, result.Recipients)
	require.Equal(t, result.Recipients, result.SuccessCount+result.FailureCount)
	require.Equal(t, 1, result.SuccessCount)
	require.Equal(t, notify.StateDeliveredPartial, result.State)
	require.Equal(t, 1, result.StaleTokensRemoved)

	carolTokens, err := f.store.ListPushTokens(ctx, "carol")
	require.NoError(t, err)
	require.Empty(t, carolTokens)

	bobTokens, err := f.store.ListPushTokens(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobTokens, 2, "transient failures keep the token")
}

func TestMulticastProviderOutageCountsEveryRecipientAsFailed(t *testing.T) {
	f := newFixture(t)
	f.provider.batchErr = errors.New("unavailable")

	result, err := f.svc.Multicast(context.Background(), []string{"a", "b"}, notify.Notification{Title: "t", Body: "b"})
	require.Error(t, err)
	require.Equal(t, notify.StateSubmissionFailed, result.State)
	require.Equal(t, 2, result.FailureCount)
}

func TestNotifyFriendsExcludesActor(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.NotifyFriends(context.Background(), notify.FriendExercise{
		UserID: "alice", GroupID: f.groupID, ExerciseType: domain.ExerciseUpper, UserName: "Alice",
	})
	require.NoError(t, err)
	require.Equal(t, notify.StateDeliveredFull, result.State)

	sent := f.provider.lastMulticast(t)
	require.Equal(t, []string{"tok-bob"}, sent.Tokens)
	require.Equal(t, "Alice completed today's upper body workout! 💪", sent.Body)
	require.Equal(t, notify.KindFriendExercise, sent.Data["type"])
	require.Equal(t, "upper", sent.Data["exerciseType"])
	require.Equal(t, notify.DefaultLink, sent.Link)

	_, err = f.svc.NotifyFriends(context.Background(), notify.FriendExercise{UserID: "alice", GroupID: f.groupID, ExerciseType: "yoga"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestNotifyGroupGoalIncludesAchieverAndRecordsBookkeeping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.NotifyGroupGoal(ctx, notify.GoalAchievement{
		UserID: "bob", GroupID: f.groupID, ExerciseCount: 3, Goal: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Recipients)

	sent := f.provider.lastMulticast(t)
	require.ElementsMatch(t, []string{"tok-alice", "tok-bob"}, sent.Tokens)
	require.Equal(t, "3", sent.Data["exerciseCount"])
	require.Equal(t, "3", sent.Data["goal"])
	require.Equal(t, "bob reached this week's goal! 3/3 done! 🏆", sent.Body)

	group, err := f.store.GetGroup(ctx, f.groupID)
	require.NoError(t, err)
	require.Equal(t, "bob", group.LastGoalAchiever)
	require.NotNil(t, group.LastGoalAchievedAt)
}

func TestNotifyGroupGoalSkipsMembersWithGoalRemindersOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	settings := domain.DefaultNotificationSettings()
	settings.GoalReminder = false
	require.NoError(t, f.store.SaveNotificationSettings(ctx, "alice", settings, now))

	result, err := f.svc.NotifyGroupGoal(ctx, notify.GoalAchievement{UserID: "bob", GroupID: f.groupID, ExerciseCount: 3, Goal: 3})
	require.NoError(t, err)
	require.Equal(t, 1, result.Recipients)
	require.Equal(t, []string{"tok-bob"}, f.provider.lastMulticast(t).Tokens)

	// Friend notifications do not depend on the goal preference.
	_, err = f.svc.NotifyFriends(ctx, notify.FriendExercise{UserID: "bob", GroupID: f.groupID, ExerciseType: domain.ExerciseCardio})
	require.NoError(t, err)
	require.Equal(t, []string{"tok-alice"}, f.provider.lastMulticast(t).Tokens)
}

type failingBookkeeping struct {
	*memory.Store
}

func (failingBookkeeping) RecordGoalAchiever(context.Context, string, string, time.Time) error {
	return errors.New("write denied")
}

func TestNotifyGroupGoalBookkeepingFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	svc := notify.NewService(failingBookkeeping{f.store}, f.provider, notify.WithClock(func() time.Time { return now }), notify.WithLogger(log.New(io.Discard, "", 0)))

	result, err := svc.NotifyGroupGoal(context.Background(), notify.GoalAchievement{UserID: "bob", GroupID: f.groupID, ExerciseCount: 4, Goal: 3, UserName: "Bob"})
	require.NoError(t, err)
	require.Equal(t, notify.StateDeliveredFull, result.State)
}

func TestSendGroupMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.SendGroupMessage(ctx, notify.GroupMessage{SenderID: "bob", GroupID: f.groupID, TemplateID: "coffee_break"})
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)

	sent := f.provider.lastMulticast(t)
	require.Equal(t, []string{"tok-alice"}, sent.Tokens)
	tpl, ok := notify.LookupTemplate("coffee_break")
	require.True(t, ok)
	require.Equal(t, tpl.Message, sent.Body)
	require.Equal(t, "💬 Message from bob", sent.Title)

	_, err = f.svc.SendGroupMessage(ctx, notify.GroupMessage{SenderID: "bob", GroupID: f.groupID, Text: "  see you at the gym  "})
	require.NoError(t, err)
	require.Equal(t, "see you at the gym", f.provider.lastMulticast(t).Body)

	_, err = f.svc.SendGroupMessage(ctx, notify.GroupMessage{SenderID: "bob", GroupID: f.groupID, TemplateID: "nope"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.SendGroupMessage(ctx, notify.GroupMessage{SenderID: "mallory", GroupID: f.groupID, TemplateID: "celebration"})
	require.ErrorIs(t, err, domain.ErrNotMember)
}

func TestSendToTokenStaleTokenIsCorrectedNotPropagated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.failures["tok-bob"] = fmt.Errorf("%w: not found", notify.ErrTokenUnregistered)

	result, err := f.svc.SendToToken(ctx, "tok-bob", "hi", "there", map[string]any{"count": 2})
	require.NoError(t, err)
	require.Equal(t, notify.StateSubmissionFailed, result.State)
	require.Equal(t, 1, result.StaleTokensRemoved)

	tokens, err := f.store.ListPushTokens(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, "tok-bob-laptop", tokens[0].Token)

	result, err = f.svc.SendToToken(ctx, "tok-alice", "hi", "there", nil)
	require.NoError(t, err)
	require.Equal(t, "msg-tok-alice", result.MessageID)

	_, err = f.svc.SendToToken(ctx, "tok-alice", "hi", "there", map[string]any{"bad": []string{"x"}})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.ErrorIs(t, err, notify.ErrNonScalarData)
}

func TestSendToUserAndPersonalReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.SendToUser(ctx, notify.UserNotification{UserID: "carol", Title: "t", Body: "b"})
	require.NoError(t, err)
	require.Equal(t, notify.StateTokensResolved, result.State, "no tokens means no submission")

	_, err = f.svc.SendToUser(ctx, notify.UserNotification{UserID: "ghost", Title: "t", Body: "b"})
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	result, err = f.svc.SendPersonalReminder(ctx, "alice", "Workout time", "Let's go", "")
	require.NoError(t, err)
	require.Equal(t, notify.StateDeliveredFull, result.State)
	require.Equal(t, notify.KindPersonalReminder, f.provider.lastMulticast(t).Data["type"])
}
