// Package notify composes push notifications, resolves their recipients and
// submits them through a pluggable Provider.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
)

// DeliveryState is the lifecycle position of one notification.
type DeliveryState string

const (
	StateComposed         DeliveryState = "composed"
	StateTokensResolved   DeliveryState = "tokens-resolved"
	StateSubmitted        DeliveryState = "submitted"
	StateDeliveredPartial DeliveryState = "delivered-partial"
	StateDeliveredFull    DeliveryState = "delivered-full"
	StateSubmissionFailed DeliveryState = "submission-failed"
)

// DefaultTokenMaxAge is how long a token stays eligible after its last use.
const DefaultTokenMaxAge = 30 * 24 * time.Hour

// DefaultLink is opened when a notification without an explicit link is clicked.
const DefaultLink = "/dashboard"

// Result reports the outcome of a send. Sends are not idempotent: repeating
// a call delivers the notification again.
type Result struct {
	State              DeliveryState `json:"state"`
	Recipients         int           `json:"recipients"`
	SuccessCount       int           `json:"successCount"`
	FailureCount       int           `json:"failureCount"`
	MessageID          string        `json:"messageId,omitempty"`
	StaleTokensRemoved int           `json:"staleTokensRemoved,omitempty"`
}

// Directory is the read side of users and groups plus the two corrective
// writes the dispatcher performs.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
	ListPushTokens(ctx context.Context, userID string) ([]domain.PushToken, error)
	DeletePushTokenValue(ctx context.Context, token string) (int, error)
	RecordGoalAchiever(ctx context.Context, groupID, name string, at time.Time) error
}

// Target is a group member with at least one active token.
type Target struct {
	UserID string
	Tokens []string
}

// MemberFilter reports whether a group member should receive a notification.
type MemberFilter func(domain.User) bool

// WantsGoalNotifications keeps members who have not turned off goal reminders.
func WantsGoalNotifications(u domain.User) bool {
	return u.Notifications.GoalReminder
}

// Option configures a Service.
type Option func(*Service)

// WithLogger overrides the logger used to report best-effort failures.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenMaxAge sets the token activity window. Zero disables the check.
func WithTokenMaxAge(maxAge time.Duration) Option {
	return func(s *Service) { s.tokenMaxAge = maxAge }
}

// WithDefaultLink sets the click-through link used when none is given.
func WithDefaultLink(link string) Option {
	return func(s *Service) {
		if link != "" {
			s.link = link
		}
	}
}

// Service is the single dispatch path for every notification.
type Service struct {
	dir         Directory
	provider    Provider
	logger      *log.Logger
	now         func() time.Time
	tokenMaxAge time.Duration
	link        string
}

// NewService constructs a Service.
func NewService(dir Directory, provider Provider, opts ...Option) *Service {
	s := &Service{
		dir:         dir,
		provider:    provider,
		logger:      log.New(log.Writer(), "[notify] ", log.LstdFlags|log.Lshortfile),
		now:         time.Now,
		tokenMaxAge: DefaultTokenMaxAge,
		link:        DefaultLink,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

// compose builds the payload. Caller data overrides the type and url defaults.
func (s *Service) compose(kind, title, body, link string, data map[string]any) (Notification, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(body) == "" {
		return Notification{}, validationf("title and body are required")
	}
	extra, err := StringifyData(data)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if link == "" {
		link = s.link
	}

	merged := map[string]string{"type": kind, "url": link}
	for k, v := range extra {
		merged[k] = v
	}
	return Notification{Title: title, Body: body, Link: merged["url"], Data: merged}, nil
}

// activeTokens returns the distinct tokens of userID used within the activity window.
func (s *Service) activeTokens(ctx context.Context, userID string) ([]string, error) {
	tokens, err := s.dir.ListPushTokens(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tokens for %s: %w", userID, err)
	}
	now := s.now()
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !t.ActiveAt(now, s.tokenMaxAge) {
			continue
		}
		if _, dup := seen[t.Token]; dup {
			continue
		}
		seen[t.Token] = struct{}{}
		out = append(out, t.Token)
	}
	return out, nil
}

// ResolveTargets lists the group's members, minus excludeUserID, that hold at
// least one active token. Members without tokens, or rejected by any of
// filters, are skipped.
func (s *Service) ResolveTargets(ctx context.Context, groupID, excludeUserID string, filters ...MemberFilter) ([]Target, error) {
	group, err := s.dir.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, domain.ErrGroupNotFound
	}

	members := make([]string, 0, len(group.Members))
	for _, id := range group.Members {
		if id != excludeUserID {
			members = append(members, id)
		}
	}

	resolved := make([]Target, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, memberID := range members {
		g.Go(func() error {
			if len(filters) > 0 {
				keep, err := s.memberPasses(gctx, memberID, filters)
				if err != nil || !keep {
					return err
				}
			}
			tokens, err := s.activeTokens(gctx, memberID)
			if err != nil {
				return err
			}
			resolved[i] = Target{UserID: memberID, Tokens: tokens}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	targets := make([]Target, 0, len(resolved))
	for _, t := range resolved {
		if len(t.Tokens) > 0 {
			targets = append(targets, t)
		}
	}
	return targets, nil
}

func (s *Service) memberPasses(ctx context.Context, userID string, filters []MemberFilter) (bool, error) {
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil || user == nil {
		return false, err
	}
	for _, keep := range filters {
		if !keep(*user) {
			return false, nil
		}
	}
	return true, nil
}

func flatten(targets []Target) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Tokens...)
	}
	return out
}

// Multicast submits n to tokens and tallies per-recipient outcomes. An empty
// token list never reaches the provider.
func (s *Service) Multicast(ctx context.Context, tokens []string, n Notification) (Result, error) {
	kind := n.Data["type"]
	tokens = distinct(tokens)
	result := Result{State: StateTokensResolved, Recipients: len(tokens)}
	if len(tokens) == 0 {
		recordResult(kind, result)
		return result, nil
	}

	result.State = StateSubmitted
	multicastSize.Observe(float64(len(tokens)))
	batch, err := s.provider.SendMulticast(ctx, Multicast{Tokens: tokens, Notification: n})
	if err != nil {
		result.State = StateSubmissionFailed
		result.FailureCount = len(tokens)
		recordResult(kind, result)
		return result, fmt.Errorf("submit %s notification: %w", kind, err)
	}

	if len(batch.Responses) == len(tokens) {
		batch.SuccessCount, batch.FailureCount = 0, 0
		for _, r := range batch.Responses {
			if r.Err == nil {
				batch.SuccessCount++
			} else {
				batch.FailureCount++
			}
		}
	}
	result.SuccessCount = batch.SuccessCount
	result.FailureCount = len(tokens) - batch.SuccessCount

	stale := make([]string, 0)
	for _, r := range batch.Responses {
		if r.Err == nil {
			continue
		}
		if errors.Is(r.Err, ErrTokenUnregistered) {
			stale = append(stale, r.Token)
			continue
		}
		s.logger.Printf("%s delivery to %s failed: %v", kind, abbreviate(r.Token), r.Err)
	}
	result.StaleTokensRemoved = s.removeStale(ctx, stale)
	result.State = finalState(result)
	recordResult(kind, result)
	return result, nil
}

func finalState(r Result) DeliveryState {
	switch {
	case r.Recipients > 0 && r.SuccessCount == r.Recipients:
		return StateDeliveredFull
	case r.SuccessCount > 0:
		return StateDeliveredPartial
	default:
		return StateSubmissionFailed
	}
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// removeStale deletes unregistered tokens. Failures are logged only.
func (s *Service) removeStale(ctx context.Context, tokens []string) int {
	removed := 0
	for _, token := range tokens {
		n, err := s.dir.DeletePushTokenValue(ctx, token)
		if err != nil {
			s.logger.Printf("remove stale token %s: %v", abbreviate(token), err)
			continue
		}
		removed += n
	}
	if removed > 0 {
		staleTokensCounter.Add(float64(removed))
		s.logger.Printf("removed %d stale tokens", removed)
	}
	return removed
}

// SendToToken delivers one notification to a raw device token.
func (s *Service) SendToToken(ctx context.Context, token, title, body string, data map[string]any) (Result, error) {
	if strings.TrimSpace(token) == "" {
		return Result{}, validationf("target token is required")
	}
	n, err := s.compose(KindDirect, title, body, "", data)
	if err != nil {
		return Result{}, err
	}
	kind := n.Data["type"]

	result := Result{State: StateSubmitted, Recipients: 1}
	id, err := s.provider.Send(ctx, Message{Token: token, Notification: n})
	if err != nil {
		result.State = StateSubmissionFailed
		result.FailureCount = 1
		if errors.Is(err, ErrTokenUnregistered) {
			result.StaleTokensRemoved = s.removeStale(ctx, []string{token})
			recordResult(kind, result)
			return result, nil
		}
		recordResult(kind, result)
		return result, fmt.Errorf("submit %s notification: %w", kind, err)
	}

	result.MessageID = id
	result.SuccessCount = 1
	result.State = StateDeliveredFull
	recordResult(kind, result)
	return result, nil
}

// UserNotification addresses every active device of one user.
type UserNotification struct {
	UserID string
	Title  string
	Body   string
	Kind   string
	Link   string
	Data   map[string]any
}

// SendToUser delivers to all of a user's active tokens.
func (s *Service) SendToUser(ctx context.Context, req UserNotification) (Result, error) {
	if req.UserID == "" {
		return Result{}, validationf("target user is required")
	}
	kind := req.Kind
	if kind == "" {
		kind = KindDirect
	}
	n, err := s.compose(kind, req.Title, req.Body, req.Link, req.Data)
	if err != nil {
		return Result{}, err
	}

	user, err := s.dir.GetUser(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}
	if user == nil {
		return Result{}, domain.ErrUserNotFound
	}

	tokens, err := s.activeTokens(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}
	return s.Multicast(ctx, tokens, n)
}

// SendPersonalReminder sends a reminder to the user themself.
func (s *Service) SendPersonalReminder(ctx context.Context, userID, title, body, kind string) (Result, error) {
	if kind == "" {
		kind = KindPersonalReminder
	}
	return s.SendToUser(ctx, UserNotification{UserID: userID, Title: title, Body: body, Kind: kind})
}

// FriendExercise announces that a member logged a workout.
type FriendExercise struct {
	UserID       string
	GroupID      string
	ExerciseType domain.ExerciseType
	UserName     string
}

// NotifyFriends tells every other member of the group that UserID exercised.
func (s *Service) NotifyFriends(ctx context.Context, ev FriendExercise) (Result, error) {
	if ev.UserID == "" || ev.GroupID == "" {
		return Result{}, validationf("userId and groupId are required")
	}
	if !ev.ExerciseType.Valid() {
		return Result{}, validationf("unknown exercise type %q", ev.ExerciseType)
	}
	name := s.displayName(ctx, ev.UserID, ev.UserName)

	title, body := friendExerciseCopy(name, ev.ExerciseType)
	n, err := s.compose(KindFriendExercise, title, body, "", map[string]any{
		"userId":       ev.UserID,
		"groupId":      ev.GroupID,
		"exerciseType": string(ev.ExerciseType),
		"userName":     name,
	})
	if err != nil {
		return Result{}, err
	}

	targets, err := s.ResolveTargets(ctx, ev.GroupID, ev.UserID)
	if err != nil {
		return Result{}, err
	}
	return s.Multicast(ctx, flatten(targets), n)
}

// GoalAchievement announces that a member reached the weekly goal.
type GoalAchievement struct {
	UserID        string
	GroupID       string
	ExerciseCount int
	Goal          int
	UserName      string
}

// NotifyGroupGoal tells the whole group, achiever included, except members who
// turned goal reminders off, and records the achiever on the group. The
// bookkeeping write never fails the send.
func (s *Service) NotifyGroupGoal(ctx context.Context, ev GoalAchievement) (Result, error) {
	if ev.UserID == "" || ev.GroupID == "" {
		return Result{}, validationf("userId and groupId are required")
	}
	if ev.Goal <= 0 || ev.ExerciseCount < 0 {
		return Result{}, validationf("exerciseCount and goal must be positive")
	}
	name := s.displayName(ctx, ev.UserID, ev.UserName)

	title, body := goalAchievedCopy(name, ev.ExerciseCount, ev.Goal)
	n, err := s.compose(KindGoalAchievement, title, body, "", map[string]any{
		"userId":        ev.UserID,
		"groupId":       ev.GroupID,
		"exerciseCount": ev.ExerciseCount,
		"goal":          ev.Goal,
		"userName":      name,
	})
	if err != nil {
		return Result{}, err
	}

	targets, err := s.ResolveTargets(ctx, ev.GroupID, "", WantsGoalNotifications)
	if err != nil {
		return Result{}, err
	}
	result, sendErr := s.Multicast(ctx, flatten(targets), n)

	if err := s.dir.RecordGoalAchiever(ctx, ev.GroupID, name, s.now()); err != nil {
		s.logger.Printf("record goal achiever for group %s: %v", ev.GroupID, err)
	}
	return result, sendErr
}

// GroupMessage is a member-to-group message from a template or free text.
type GroupMessage struct {
	SenderID   string
	GroupID    string
	TemplateID string
	Text       string
}

// SendGroupMessage delivers a message to every member except the sender.
// Free text takes precedence over the template.
func (s *Service) SendGroupMessage(ctx context.Context, msg GroupMessage) (Result, error) {
	if msg.SenderID == "" || msg.GroupID == "" {
		return Result{}, validationf("senderId and groupId are required")
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" && msg.TemplateID != "" {
		tpl, ok := LookupTemplate(msg.TemplateID)
		if !ok {
			return Result{}, validationf("unknown template %q", msg.TemplateID)
		}
		text = tpl.Message
	}
	if text == "" {
		return Result{}, validationf("message text or template is required")
	}
	if utf8.RuneCountInString(text) > MaxCustomMessageLength {
		return Result{}, validationf("message exceeds %d characters", MaxCustomMessageLength)
	}

	group, err := s.dir.GetGroup(ctx, msg.GroupID)
	if err != nil {
		return Result{}, err
	}
	if group == nil {
		return Result{}, domain.ErrGroupNotFound
	}
	if !group.HasMember(msg.SenderID) {
		return Result{}, domain.ErrNotMember
	}

	name := s.displayName(ctx, msg.SenderID, "")
	n, err := s.compose(KindGroupMessage, groupMessageTitle(name), text, "", map[string]any{
		"senderId":   msg.SenderID,
		"senderName": name,
		"groupId":    msg.GroupID,
		"templateId": msg.TemplateID,
		"timestamp":  s.now(),
	})
	if err != nil {
		return Result{}, err
	}

	targets, err := s.ResolveTargets(ctx, msg.GroupID, msg.SenderID)
	if err != nil {
		return Result{}, err
	}
	return s.Multicast(ctx, flatten(targets), n)
}

// displayName prefers the supplied name, then the stored profile.
func (s *Service) displayName(ctx context.Context, userID, supplied string) string {
	if strings.TrimSpace(supplied) != "" {
		return supplied
	}
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		s.logger.Printf("lookup user %s: %v", userID, err)
	}
	if user == nil {
		return domain.User{}.Name()
	}
	return user.Name()
}
