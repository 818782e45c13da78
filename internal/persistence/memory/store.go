// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/YUJAEYUN/exercisemate/internal/domain"
)

// Store implements domain.Repository on maps guarded by a single mutex, which
// also serialises the join and create-if-absent paths.
type Store struct {
	mu      sync.RWMutex
	users   map[string]domain.User
	tokens  map[string]map[string]domain.PushToken // user -> device -> token
	groups  map[string]domain.Group
	codes   map[string]string // invite code -> group id
	records map[string]domain.ExerciseRecord
	stats   map[string]domain.WeeklyStats
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		users:   make(map[string]domain.User),
		tokens:  make(map[string]map[string]domain.PushToken),
		groups:  make(map[string]domain.Group),
		codes:   make(map[string]string),
		records: make(map[string]domain.ExerciseRecord),
		stats:   make(map[string]domain.WeeklyStats),
	}
}

var _ domain.Repository = (*Store)(nil)

func cloneUser(u domain.User) domain.User {
	u.Notifications.ReminderDays = slices.Clone(u.Notifications.ReminderDays)
	u.PushTokens = slices.Clone(u.PushTokens)
	return u
}

func cloneGroup(g domain.Group) domain.Group {
	g.Members = slices.Clone(g.Members)
	if g.LastGoalAchievedAt != nil {
		at := *g.LastGoalAchievedAt
		g.LastGoalAchievedAt = &at
	}
	return g
}

// CreateUser implements domain.UserRepository.
func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[user.ID]; ok {
		out := cloneUser(existing)
		return &out, false, nil
	}
	s.users[user.ID] = cloneUser(user)
	out := cloneUser(user)
	return &out, true, nil
}

// GetUser implements domain.UserRepository.
func (s *Store) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	out := cloneUser(user)
	out.PushTokens = s.tokensLocked(userID)
	return &out, nil
}

// UpdateUser implements domain.UserRepository.
func (s *Store) UpdateUser(_ context.Context, userID string, patch domain.UserPatch, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if patch.DisplayName != nil {
		user.DisplayName = *patch.DisplayName
	}
	if patch.Avatar != nil {
		user.Avatar = *patch.Avatar
	}
	user.UpdatedAt = at
	s.users[userID] = user
	return nil
}

// SaveNotificationSettings implements domain.UserRepository.
func (s *Store) SaveNotificationSettings(_ context.Context, userID string, settings domain.NotificationSettings, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	settings.ReminderDays = slices.Clone(settings.ReminderDays)
	user.Notifications = settings
	user.UpdatedAt = at
	s.users[userID] = user
	return nil
}

// ListNotifiableUsers implements domain.UserRepository.
func (s *Store) ListNotifiableUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0)
	for id, user := range s.users {
		if !user.Notifications.Enabled {
			continue
		}
		u := cloneUser(user)
		u.PushTokens = s.tokensLocked(id)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertPushToken implements domain.UserRepository.
func (s *Store) UpsertPushToken(_ context.Context, token domain.PushToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.tokens[token.UserID][token.DeviceID]; ok && existing.Token == token.Token {
		token.CreatedAt = existing.CreatedAt
	}
	// A token value belongs to one device at a time.
	s.deleteTokenValueLocked(token.Token)

	devices, ok := s.tokens[token.UserID]
	if !ok {
		devices = make(map[string]domain.PushToken)
		s.tokens[token.UserID] = devices
	}
	devices[token.DeviceID] = token
	return nil
}

// DeletePushToken implements domain.UserRepository.
func (s *Store) DeletePushToken(_ context.Context, userID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if devices, ok := s.tokens[userID]; ok {
		delete(devices, deviceID)
	}
	return nil
}

// DeletePushTokenValue implements domain.UserRepository.
func (s *Store) DeletePushTokenValue(_ context.Context, token string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteTokenValueLocked(token), nil
}

func (s *Store) deleteTokenValueLocked(token string) int {
	removed := 0
	for _, devices := range s.tokens {
		for deviceID, t := range devices {
			if t.Token == token {
				delete(devices, deviceID)
				removed++
			}
		}
	}
	return removed
}

// ListPushTokens implements domain.UserRepository.
func (s *Store) ListPushTokens(_ context.Context, userID string) ([]domain.PushToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokensLocked(userID), nil
}

func (s *Store) tokensLocked(userID string) []domain.PushToken {
	out := make([]domain.PushToken, 0, len(s.tokens[userID]))
	for _, t := range s.tokens[userID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out
}

// DeletePushTokensUnusedSince implements domain.UserRepository.
func (s *Store) DeletePushTokensUnusedSince(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, devices := range s.tokens {
		for deviceID, t := range devices {
			if t.LastUsedAt.Before(cutoff) {
				delete(devices, deviceID)
				removed++
			}
		}
	}
	return removed, nil
}

// CreateGroup implements domain.GroupRepository.
func (s *Store) CreateGroup(_ context.Context, group domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.codes[group.InviteCode]; taken {
		return domain.ErrInviteCodeTaken
	}
	owner, ok := s.users[group.OwnerID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if owner.GroupID != "" {
		return domain.ErrAlreadyInGroup
	}

	s.groups[group.ID] = cloneGroup(group)
	s.codes[group.InviteCode] = group.ID
	owner.GroupID = group.ID
	owner.UpdatedAt = group.CreatedAt
	s.users[owner.ID] = owner
	return nil
}

// GetGroup implements domain.GroupRepository.
func (s *Store) GetGroup(_ context.Context, groupID string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[groupID]
	if !ok {
		return nil, nil
	}
	out := cloneGroup(group)
	return &out, nil
}

// JoinGroup implements domain.GroupRepository.
func (s *Store) JoinGroup(_ context.Context, code, userID string, at time.Time, admit func(domain.Group, domain.User) error) (*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groupID, ok := s.codes[code]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	group := s.groups[groupID]
	user, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	if err := admit(cloneGroup(group), cloneUser(user)); err != nil {
		return nil, err
	}

	group.Members = append(slices.Clone(group.Members), userID)
	group.UpdatedAt = at
	s.groups[groupID] = group
	user.GroupID = groupID
	user.UpdatedAt = at
	s.users[userID] = user

	out := cloneGroup(group)
	return &out, nil
}

// LeaveGroup implements domain.GroupRepository.
func (s *Store) LeaveGroup(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[groupID]
	if !ok {
		return false, domain.ErrGroupNotFound
	}
	group.Members = slices.DeleteFunc(slices.Clone(group.Members), func(m string) bool { return m == userID })

	deleted := len(group.Members) == 0
	if deleted {
		delete(s.groups, groupID)
		delete(s.codes, group.InviteCode)
	} else {
		s.groups[groupID] = group
	}

	for id, rec := range s.records {
		if rec.UserID == userID {
			delete(s.records, id)
		}
	}
	for id, st := range s.stats {
		if st.UserID == userID {
			delete(s.stats, id)
		}
	}
	if user, ok := s.users[userID]; ok {
		user.GroupID = ""
		s.users[userID] = user
	}
	return deleted, nil
}

// UpdateGroup implements domain.GroupRepository.
func (s *Store) UpdateGroup(_ context.Context, groupID string, patch domain.GroupPatch, at time.Time) (*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[groupID]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	if patch.Name != nil {
		group.Name = *patch.Name
	}
	if patch.WeeklyGoal != nil {
		group.WeeklyGoal = *patch.WeeklyGoal
	}
	if patch.MaxMembers != nil {
		group.MaxMembers = *patch.MaxMembers
	}
	group.UpdatedAt = at
	s.groups[groupID] = group
	out := cloneGroup(group)
	return &out, nil
}

// RecordGoalAchiever implements domain.GroupRepository.
func (s *Store) RecordGoalAchiever(_ context.Context, groupID, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[groupID]
	if !ok {
		return domain.ErrGroupNotFound
	}
	group.LastGoalAchiever = name
	group.LastGoalAchievedAt = &at
	group.UpdatedAt = at
	s.groups[groupID] = group
	return nil
}

// InsertExerciseRecord implements domain.LedgerRepository.
func (s *Store) InsertExerciseRecord(_ context.Context, record domain.ExerciseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return domain.ErrAlreadyLogged
	}
	s.records[record.ID] = record
	return nil
}

// GetExerciseRecord implements domain.LedgerRepository.
func (s *Store) GetExerciseRecord(_ context.Context, recordID string) (*domain.ExerciseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListExerciseRecords implements domain.LedgerRepository.
func (s *Store) ListExerciseRecords(_ context.Context, userID, from, to string) ([]domain.ExerciseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ExerciseRecord, 0)
	for _, rec := range s.records {
		if rec.UserID == userID && rec.Date >= from && rec.Date <= to {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// ListExerciseHistory implements domain.LedgerRepository.
func (s *Store) ListExerciseHistory(_ context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ExerciseRecord, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.ExerciseRecord, 0)
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		if cursor != nil && !before(rec, *cursor) {
			continue
		}
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date > all[j].Date
		}
		return all[i].ID > all[j].ID
	})

	var next *domain.Cursor
	if limit > 0 && len(all) > limit {
		all = all[:limit]
		last := all[limit-1]
		next = &domain.Cursor{Date: last.Date, ID: last.ID}
	}
	return all, next, nil
}

// before reports whether rec sorts strictly after the cursor in descending order.
func before(rec domain.ExerciseRecord, c domain.Cursor) bool {
	if rec.Date != c.Date {
		return rec.Date < c.Date
	}
	return rec.ID < c.ID
}

// GetWeeklyStats implements domain.StatsRepository.
func (s *Store) GetWeeklyStats(_ context.Context, userID, weekStart string) (*domain.WeeklyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[domain.StatsID(userID, weekStart)]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// UpsertWeeklyStats implements domain.StatsRepository.
func (s *Store) UpsertWeeklyStats(_ context.Context, stats domain.WeeklyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.stats[stats.ID]; ok {
		stats.IsRestWeek = existing.IsRestWeek
	}
	s.stats[stats.ID] = stats
	return nil
}

// SetRestWeek implements domain.StatsRepository.
func (s *Store) SetRestWeek(_ context.Context, userID, weekStart string, rest bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := domain.StatsID(userID, weekStart)
	st, ok := s.stats[id]
	if !ok {
		st = domain.WeeklyStats{ID: id, UserID: userID, WeekStart: weekStart, Goal: domain.DefaultWeeklyGoal}
	}
	st.IsRestWeek = rest
	st.UpdatedAt = at
	s.stats[id] = st
	return nil
}
