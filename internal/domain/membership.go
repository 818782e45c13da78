package domain

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// InviteCodeLength is the exact length of generated invite codes.
	InviteCodeLength = 6
	inviteAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteAttempts   = 5
	maxGroupName     = 50
	maxWeeklyGoal    = 7
)

// GenerateInviteCode draws InviteCodeLength characters uniformly from A-Z0-9.
func GenerateInviteCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(inviteAlphabet)))
	for i := 0; i < InviteCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(inviteAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// CreateGroupInput captures the owner's choices for a new group.
type CreateGroupInput struct {
	OwnerID    string
	Name       string
	WeeklyGoal int
	MaxMembers int
}

func validateGoal(goal int) error {
	if goal < 1 || goal > maxWeeklyGoal {
		return fmt.Errorf("%w: weekly goal must be between 1 and %d", ErrValidation, maxWeeklyGoal)
	}
	return nil
}

func validateMaxMembers(max int) error {
	if max < DefaultMaxMembers || max > MaxGroupMembers {
		return fmt.Errorf("%w: max members must be between %d and %d", ErrValidation, DefaultMaxMembers, MaxGroupMembers)
	}
	return nil
}

func validateGroupName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: group name is required", ErrValidation)
	}
	if len([]rune(name)) > maxGroupName {
		return fmt.Errorf("%w: group name is too long", ErrValidation)
	}
	return nil
}

// CreateGroup creates a group with the owner as sole member. Invite codes are
// regenerated when the store reports a collision.
func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (*Group, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if err := validateGroupName(in.Name); err != nil {
		return nil, err
	}
	if in.WeeklyGoal == 0 {
		in.WeeklyGoal = DefaultWeeklyGoal
	}
	if err := validateGoal(in.WeeklyGoal); err != nil {
		return nil, err
	}
	if in.MaxMembers == 0 {
		in.MaxMembers = DefaultMaxMembers
	}
	if err := validateMaxMembers(in.MaxMembers); err != nil {
		return nil, err
	}

	owner, err := s.repo.GetUser(ctx, in.OwnerID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, ErrUserNotFound
	}
	if owner.GroupID != "" {
		return nil, ErrAlreadyInGroup
	}

	now := s.Now().UTC()
	for attempt := 0; attempt < inviteAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate invite code: %w", err)
		}
		group := Group{
			ID:         uuid.NewString(),
			Name:       strings.TrimSpace(in.Name),
			OwnerID:    in.OwnerID,
			Members:    []string{in.OwnerID},
			MaxMembers: in.MaxMembers,
			WeeklyGoal: in.WeeklyGoal,
			InviteCode: code,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err = s.repo.CreateGroup(ctx, group)
		if errors.Is(err, ErrInviteCodeTaken) {
			s.logger.Printf("invite code collision on attempt %d", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &group, nil
	}
	return nil, ErrInviteCodeExhausted
}

// JoinByInviteCode adds the user to the group addressed by code. The code is
// matched exactly as given.
func (s *Service) JoinByInviteCode(ctx context.Context, userID, code string) (*Group, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: invite code is required", ErrValidation)
	}
	return s.repo.JoinGroup(ctx, code, userID, s.Now().UTC(), admit)
}

// admit runs inside the store's lock on the group row.
func admit(group Group, user User) error {
	if len(group.Members) >= group.Capacity() {
		return fmt.Errorf("%w (max %d members)", ErrGroupFull, group.Capacity())
	}
	if group.HasMember(user.ID) {
		return ErrAlreadyMember
	}
	if user.GroupID != "" {
		return ErrAlreadyInGroup
	}
	return nil
}

// LeaveGroup removes the user from the group and wipes their exercise history
// and weekly stats. When groupID is empty the user's current group is used.
func (s *Service) LeaveGroup(ctx context.Context, userID, groupID string) (bool, error) {
	if groupID == "" {
		user, err := s.repo.GetUser(ctx, userID)
		if err != nil {
			return false, err
		}
		if user == nil {
			return false, ErrUserNotFound
		}
		if user.GroupID == "" {
			return false, ErrNoGroup
		}
		groupID = user.GroupID
	}

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	if !group.HasMember(userID) {
		return false, ErrNotMember
	}

	deleted, err := s.repo.LeaveGroup(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Printf("group %s deleted after last member left", groupID)
	}
	return deleted, nil
}

// UpdateGroup applies a partial update requested by a member of the group.
func (s *Service) UpdateGroup(ctx context.Context, actorID, groupID string, patch GroupPatch) (*Group, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(actorID) {
		return nil, ErrNotMember
	}

	if patch.Name != nil {
		if err := validateGroupName(*patch.Name); err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(*patch.Name)
		patch.Name = &trimmed
	}
	if patch.WeeklyGoal != nil {
		if err := validateGoal(*patch.WeeklyGoal); err != nil {
			return nil, err
		}
	}
	if patch.MaxMembers != nil {
		if err := validateMaxMembers(*patch.MaxMembers); err != nil {
			return nil, err
		}
		if *patch.MaxMembers < len(group.Members) {
			return nil, fmt.Errorf("%w: group already has %d members", ErrValidation, len(group.Members))
		}
	}

	return s.repo.UpdateGroup(ctx, groupID, patch, s.Now().UTC())
}

// GetGroup fetches a group by id.
func (s *Service) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, fmt.Errorf("%w: group id is required", ErrValidation)
	}
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

// GroupProgress summarises the group's goal bookkeeping.
func (s *Service) GroupProgress(ctx context.Context, groupID string) (GroupProgress, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return GroupProgress{}, err
	}
	return GroupProgress{
		GroupID:            group.ID,
		LastGoalAchiever:   group.LastGoalAchiever,
		LastGoalAchievedAt: group.LastGoalAchievedAt,
		WeeklyGoal:         group.Goal(),
		MemberCount:        len(group.Members),
	}, nil
}
