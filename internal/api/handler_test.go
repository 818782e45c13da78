package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/YUJAEYUN/exercisemate/internal/auth"
	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/notify"
	"github.com/YUJAEYUN/exercisemate/internal/persistence/memory"
)

var authConfig = auth.Config{Secret: "api-test-secret", Issuer: "exercisemate.test"}

// Monday 13 October 2025, 09:00 UTC.
var monday = time.Date(2025, time.October, 13, 9, 0, 0, 0, time.UTC)

type stubProvider struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (p *stubProvider) Send(_ context.Context, msg notify.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.tokens = append(p.tokens, msg.Token)
	return "msg-1", nil
}

func (p *stubProvider) SendMulticast(_ context.Context, msg notify.Multicast) (notify.BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return notify.BatchResult{}, p.err
	}
	out := notify.BatchResult{SuccessCount: len(msg.Tokens)}
	for _, token := range msg.Tokens {
		p.tokens = append(p.tokens, token)
		out.Responses = append(out.Responses, notify.RecipientResult{Token: token, MessageID: "msg-" + token})
	}
	return out, nil
}

func (p *stubProvider) delivered() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tokens...)
}

type testServer struct {
	t        *testing.T
	handler  http.Handler
	provider *stubProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	quiet := log.New(io.Discard, "", 0)
	clock := func() time.Time { return monday }

	svc := domain.NewService(store, domain.WithClock(clock), domain.WithLocation(time.UTC), domain.WithLogger(quiet))
	provider := &stubProvider{}
	notifier := notify.NewService(store, provider, notify.WithClock(clock), notify.WithLogger(quiet))

	mux := http.NewServeMux()
	NewHandler(svc, notifier, quiet).RegisterRoutes(mux)
	return &testServer{
		t:        t,
		handler:  auth.NewMiddleware(authConfig, auth.PublicPaths).Wrap(mux),
		provider: provider,
	}
}

type result struct {
	status int
	body   Response
	raw    json.RawMessage
}

func (s *testServer) do(method, path, user string, body any, scopes ...string) result {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		token, err := auth.Sign(authConfig, user, user, scopes, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var envelope struct {
		Success bool            `json:"success"`
		Error   string          `json:"error"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return result{
		status: rec.Code,
		body:   Response{Success: envelope.Success, Error: envelope.Error},
		raw:    envelope.Data,
	}
}

func (r result) into(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.raw, dst))
}

// setupGroup creates alice (owner) and bob in a group with goal 3 and
// registers a token for bob.
func (s *testServer) setupGroup() GroupView {
	t := s.t
	t.Helper()
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/users/me", "alice", nil).status)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/users/me", "bob", nil).status)

	res := s.do(http.MethodPost, "/v1/groups", "alice", CreateGroupRequest{Name: "crew", WeeklyGoal: 3})
	require.Equal(t, http.StatusCreated, res.status, res.body.Error)
	var group GroupView
	res.into(t, &group)

	res = s.do(http.MethodPost, "/v1/groups/join", "bob", JoinGroupRequest{InviteCode: group.InviteCode})
	require.Equal(t, http.StatusOK, res.status, res.body.Error)
	res.into(t, &group)

	res = s.do(http.MethodPost, "/v1/users/me/push-tokens", "bob", RegisterPushTokenRequest{Token: "tok-bob", DeviceID: "phone"})
	require.Equal(t, http.StatusCreated, res.status, res.body.Error)
	return group
}

func TestHealthzIsPublic(t *testing.T) {
	s := newTestServer(t)
	res := s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.status)
	require.True(t, res.body.Success)
}

func TestRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)
	res := s.do(http.MethodGet, "/v1/dashboard", "", nil)
	require.Equal(t, http.StatusUnauthorized, res.status)
	require.False(t, res.body.Success)
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	s := newTestServer(t)

	res := s.do(http.MethodPost, "/v1/users/me", "alice", EnsureUserRequest{DisplayName: "Alice"})
	require.Equal(t, http.StatusCreated, res.status)
	var user UserView
	res.into(t, &user)
	require.Equal(t, "Alice", user.DisplayName)
	require.Equal(t, "cat", user.Avatar)
	require.False(t, user.NotificationSettings.Enabled)

	res = s.do(http.MethodPost, "/v1/users/me", "alice", EnsureUserRequest{DisplayName: "Other"})
	require.Equal(t, http.StatusOK, res.status)
	res.into(t, &user)
	require.Equal(t, "Alice", user.DisplayName)

	dog := "dog"
	res = s.do(http.MethodPatch, "/v1/users/me", "alice", UpdateProfileRequest{Avatar: &dog})
	require.Equal(t, http.StatusOK, res.status)
	res.into(t, &user)
	require.Equal(t, "dog", user.Avatar)

	bad := "fish"
	res = s.do(http.MethodPatch, "/v1/users/me", "alice", UpdateProfileRequest{Avatar: &bad})
	require.Equal(t, http.StatusBadRequest, res.status)
	require.Contains(t, res.body.Error, "avatar")
}

func TestNotificationSettingsValidation(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/v1/users/me", "alice", nil)

	res := s.do(http.MethodPut, "/v1/users/me/notification-settings", "alice", NotificationSettingsRequest{Enabled: true, ReminderTime: "25:00", ReminderDays: []int{1}})
	require.Equal(t, http.StatusBadRequest, res.status)

	res = s.do(http.MethodPut, "/v1/users/me/notification-settings", "alice", NotificationSettingsRequest{Enabled: true, ReminderTime: "07:30", ReminderDays: []int{7}})
	require.Equal(t, http.StatusBadRequest, res.status)

	res = s.do(http.MethodPut, "/v1/users/me/notification-settings", "alice", NotificationSettingsRequest{Enabled: true, ReminderTime: "07:30", ReminderDays: []int{0, 6}})
	require.Equal(t, http.StatusOK, res.status, res.body.Error)
	var settings domain.NotificationSettings
	res.into(t, &settings)
	require.Equal(t, "07:30", settings.ReminderTime)
}

func TestLogExerciseFlow(t *testing.T) {
	s := newTestServer(t)
	group := s.setupGroup()

	res := s.do(http.MethodPost, "/v1/exercises", "alice", LogExerciseRequest{ExerciseType: "upper"})
	require.Equal(t, http.StatusCreated, res.status, res.body.Error)
	var record RecordView
	res.into(t, &record)
	require.Equal(t, "alice_2025-10-13", record.ID)
	require.Equal(t, group.ID, record.GroupID)

	res = s.do(http.MethodPost, "/v1/exercises", "alice", LogExerciseRequest{ExerciseType: "cardio"})
	require.Equal(t, http.StatusConflict, res.status)
	require.False(t, res.body.Success)
	require.Equal(t, domain.ErrAlreadyLogged.Error(), res.body.Error)

	res = s.do(http.MethodPost, "/v1/exercises", "alice", LogExerciseRequest{ExerciseType: "yoga"})
	require.Equal(t, http.StatusBadRequest, res.status)

	res = s.do(http.MethodGet, "/v1/exercises/today", "alice", nil)
	require.Equal(t, http.StatusOK, res.status)
	res.into(t, &record)
	require.Equal(t, "upper", record.ExerciseType)

	res = s.do(http.MethodGet, "/v1/exercises", "alice", nil)
	var records []RecordView
	res.into(t, &records)
	require.Len(t, records, 1)

	res = s.do(http.MethodGet, "/v1/stats/weekly?week_start=2025-10-13", "alice", nil)
	require.Equal(t, http.StatusOK, res.status)
	var stats StatsView
	res.into(t, &stats)
	require.Equal(t, 1, stats.ExerciseCount)
	require.Equal(t, 3, stats.Goal)

	res = s.do(http.MethodGet, "/v1/dashboard", "bob", nil)
	require.Equal(t, http.StatusOK, res.status)
	var dash DashboardView
	res.into(t, &dash)
	require.False(t, dash.TodayExercised)
	require.Equal(t, 6, dash.DaysUntilPenalty)
	require.Len(t, dash.FriendProgress, 1)
	require.Equal(t, 1, dash.FriendProgress[0].Progress.Current)

	res = s.do(http.MethodGet, "/v1/exercises/history?limit=10", "alice", nil)
	require.Equal(t, http.StatusOK, res.status)
	var page HistoryResponse
	res.into(t, &page)
	require.Len(t, page.Items, 1)
	require.Empty(t, page.NextCursor)

	res = s.do(http.MethodGet, "/v1/exercises/history?cursor=@@@", "alice", nil)
	require.Equal(t, http.StatusBadRequest, res.status)
}

func TestLogExerciseWithoutGroup(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/v1/users/me", "alice", nil)

	res := s.do(http.MethodPost, "/v1/exercises", "alice", LogExerciseRequest{ExerciseType: "upper"})
	require.Equal(t, http.StatusBadRequest, res.status)
	require.Equal(t, domain.ErrNoGroup.Error(), res.body.Error)
}

func TestRestWeek(t *testing.T) {
	s := newTestServer(t)
	s.setupGroup()

	res := s.do(http.MethodPut, "/v1/stats/rest-week", "alice", RestWeekRequest{IsRestWeek: true})
	require.Equal(t, http.StatusOK, res.status, res.body.Error)
	var stats StatsView
	res.into(t, &stats)
	require.True(t, stats.IsRestWeek)
	require.Equal(t, "2025-10-13", stats.WeekStart)

	res = s.do(http.MethodPut, "/v1/stats/rest-week", "alice", RestWeekRequest{WeekStart: "13/10/2025"})
	require.Equal(t, http.StatusBadRequest, res.status)
}

func TestGroupMembershipErrors(t *testing.T) {
	s := newTestServer(t)
	group := s.setupGroup()
	s.do(http.MethodPost, "/v1/users/me", "carol", nil)

	res := s.do(http.MethodPost, "/v1/groups/join", "carol", JoinGroupRequest{InviteCode: group.InviteCode})
	require.Equal(t, http.StatusConflict, res.status)
	require.Contains(t, res.body.Error, domain.ErrGroupFull.Error())

	res = s.do(http.MethodPost, "/v1/groups/join", "carol", JoinGroupRequest{InviteCode: "zzzzzzz"})
	require.Equal(t, http.StatusNotFound, res.status)

	res = s.do(http.MethodPost, "/v1/groups/join", "bob", JoinGroupRequest{InviteCode: group.InviteCode})
	require.Equal(t, http.StatusConflict, res.status)

	res = s.do(http.MethodGet, "/v1/groups/"+group.ID, "carol", nil)
	require.Equal(t, http.StatusForbidden, res.status)

	res = s.do(http.MethodGet, "/v1/groups/"+group.ID, "bob", nil)
	require.Equal(t, http.StatusOK, res.status)

	res = s.do(http.MethodGet, "/v1/groups/missing", "bob", nil)
	require.Equal(t, http.StatusNotFound, res.status)

	five := 5
	res = s.do(http.MethodPatch, "/v1/groups/"+group.ID, "bob", UpdateGroupRequest{MaxMembers: &five})
	require.Equal(t, http.StatusOK, res.status, res.body.Error)
	var updated GroupView
	res.into(t, &updated)
	require.Equal(t, 5, updated.MaxMembers)

	res = s.do(http.MethodGet, "/v1/groups/"+group.ID+"/progress", "alice", nil)
	require.Equal(t, http.StatusOK, res.status)
	var progress GroupProgressView
	res.into(t, &progress)
	require.Equal(t, 2, progress.MemberCount)
	require.Equal(t, 3, progress.WeeklyGoal)
}

func TestLeaveGroup(t *testing.T) {
	s := newTestServer(t)
	group := s.setupGroup()

	res := s.do(http.MethodPost, "/v1/groups/"+group.ID+"/leave", "bob", nil)
	require.Equal(t, http.StatusOK, res.status)
	var out map[string]bool
	res.into(t, &out)
	require.False(t, out["groupDeleted"])

	res = s.do(http.MethodPost, "/v1/groups/"+group.ID+"/leave", "alice", nil)
	require.Equal(t, http.StatusOK, res.status)
	res.into(t, &out)
	require.True(t, out["groupDeleted"])

	res = s.do(http.MethodGet, "/v1/groups/"+group.ID, "alice", nil)
	require.Equal(t, http.StatusNotFound, res.status)
}

func TestSendNotificationRequiresAdminScope(t *testing.T) {
	s := newTestServer(t)
	req := SendNotificationRequest{TargetToken: "raw-token", Title: "hi", Body: "there", Data: map[string]any{"count": 2}}

	res := s.do(http.MethodPost, "/v1/notifications/send", "alice", req)
	require.Equal(t, http.StatusForbidden, res.status)

	res = s.do(http.MethodPost, "/v1/notifications/send", "alice", req, auth.ScopeNotificationsAdmin)
	require.Equal(t, http.StatusOK, res.status, res.body.Error)
	var out notify.Result
	res.into(t, &out)
	require.Equal(t, notify.StateDeliveredFull, out.State)
	require.Equal(t, "msg-1", out.MessageID)

	res = s.do(http.MethodPost, "/v1/notifications/send", "alice", SendNotificationRequest{TargetToken: "raw-token", Title: "hi", Body: "there", Data: map[string]any{"nested": map[string]any{"a": 1}}}, auth.ScopeNotificationsAdmin)
	require.Equal(t, http.StatusBadRequest, res.status)
}

func TestSendToUserAuthorization(t *testing.T) {
	s := newTestServer(t)
	s.setupGroup()
	req := SendToUserRequest{TargetUserID: "bob", Title: "hey", Body: "bob"}

	res := s.do(http.MethodPost, "/v1/notifications/user", "alice", req)
	require.Equal(t, http.StatusForbidden, res.status)

	res = s.do(http.MethodPost, "/v1/notifications/user", "alice", req, auth.ScopeNotificationsAdmin)
	require.Equal(t, http.StatusOK, res.status, res.body.Error)
	require.Equal(t, []string{"tok-bob"}, s.provider.delivered())

	res = s.do(http.MethodPost, "/v1/notifications/user", "alice", SendToUserRequest{TargetUserID: "nobody", Title: "a", Body: "b"}, auth.ScopeNotificationsAdmin)
	require.Equal(t, http.StatusNotFound, res.status)
}

func TestGroupNotifications(t *testing.T) {
	s := newTestServer(t)
	group := s.setupGroup()

	res := s.do(http.MethodPost, "/v1/notifications/friends", "alice", NotifyFriendsRequest{ExerciseType: "lower"})
	require.Equal(t, http.StatusOK, res.status, res.body.Error)
	var out notify.Result
	res.into(t, &out)
	require.Equal(t, 1, out.Recipients)
	require.Equal(t, 1, out.SuccessCount)

	res = s.do(http.MethodPost, "/v1/notifications/group-message", "alice", GroupMessageRequest{TemplateID: "coffee_break"})
	require.Equal(t, http.StatusOK, res.status, res.body.Error)

	res = s.do(http.MethodPost, "/v1/notifications/group-message", "alice", GroupMessageRequest{})
	require.Equal(t, http.StatusBadRequest, res.status)

	res = s.do(http.MethodPost, "/v1/notifications/group-goal", "bob", NotifyGroupGoalRequest{GroupID: group.ID, ExerciseCount: 3, Goal: 3})
	require.Equal(t, http.StatusOK, res.status, res.body.Error)

	res = s.do(http.MethodGet, "/v1/groups/"+group.ID+"/progress", "alice", nil)
	var progress GroupProgressView
	res.into(t, &progress)
	require.Equal(t, "bob", progress.LastGoalAchiever)

	s.do(http.MethodPost, "/v1/users/me", "carol", nil)
	res = s.do(http.MethodPost, "/v1/notifications/friends", "carol", NotifyFriendsRequest{GroupID: group.ID, ExerciseType: "upper"})
	require.Equal(t, http.StatusForbidden, res.status)

	res = s.do(http.MethodGet, "/v1/notifications/templates", "alice", nil)
	var templates []notify.Template
	res.into(t, &templates)
	require.Len(t, templates, 6)
}

func TestProviderOutageReturnsTally(t *testing.T) {
	s := newTestServer(t)
	s.setupGroup()
	s.provider.err = errors.New("fcm unavailable")

	res := s.do(http.MethodPost, "/v1/notifications/reminder", "bob", PersonalReminderRequest{Title: "move", Body: "now"})
	require.Equal(t, http.StatusBadGateway, res.status)
	require.False(t, res.body.Success)
	var out notify.Result
	res.into(t, &out)
	require.Equal(t, notify.StateSubmissionFailed, out.State)
	require.Equal(t, 1, out.FailureCount)
}

func TestUnregisterPushToken(t *testing.T) {
	s := newTestServer(t)
	s.setupGroup()

	res := s.do(http.MethodDelete, "/v1/users/me/push-tokens", "bob", nil)
	require.Equal(t, http.StatusBadRequest, res.status)

	res = s.do(http.MethodDelete, "/v1/users/me/push-tokens?device_id=phone", "bob", nil)
	require.Equal(t, http.StatusOK, res.status)

	res = s.do(http.MethodGet, "/v1/users/me", "bob", nil)
	var user UserView
	res.into(t, &user)
	require.Empty(t, user.PushTokens)
}
