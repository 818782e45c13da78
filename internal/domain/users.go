package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const maxDisplayName = 30

// EnsureUserInput identifies an authenticated caller.
type EnsureUserInput struct {
	UserID      string
	DisplayName string
	Email       string
}

// EnsureUser creates the user on first authentication. Repeated calls return
// the stored user unchanged.
func (s *Service) EnsureUser(ctx context.Context, in EnsureUserInput) (*User, bool, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, false, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	now := s.Now().UTC()
	return s.repo.CreateUser(ctx, User{
		ID:            in.UserID,
		DisplayName:   strings.TrimSpace(in.DisplayName),
		Email:         strings.TrimSpace(in.Email),
		Avatar:        AvatarCat,
		Notifications: DefaultNotificationSettings(),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// GetUser fetches a user and their push tokens.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile changes the display name and/or avatar.
func (s *Service) UpdateProfile(ctx context.Context, userID string, patch UserPatch) (*User, error) {
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" || len([]rune(name)) > maxDisplayName {
			return nil, fmt.Errorf("%w: display name must be 1-%d characters", ErrValidation, maxDisplayName)
		}
		patch.DisplayName = &name
	}
	if patch.Avatar != nil && !patch.Avatar.Valid() {
		return nil, fmt.Errorf("%w: unknown avatar %q", ErrValidation, *patch.Avatar)
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateUser(ctx, userID, patch, s.Now().UTC()); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// UpdateNotificationSettings replaces the user's reminder preferences.
func (s *Service) UpdateNotificationSettings(ctx context.Context, userID string, settings NotificationSettings) (*User, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.repo.SaveNotificationSettings(ctx, userID, settings, s.Now().UTC()); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// RegisterPushTokenInput describes a device registration.
type RegisterPushTokenInput struct {
	UserID     string
	Token      string
	DeviceID   string
	DeviceType DeviceType
	UserAgent  string
}

// RegisterPushToken stores the token for the device, replacing the device's previous token.
func (s *Service) RegisterPushToken(ctx context.Context, in RegisterPushTokenInput) (PushToken, error) {
	if strings.TrimSpace(in.Token) == "" {
		return PushToken{}, fmt.Errorf("%w: token is required", ErrValidation)
	}
	if strings.TrimSpace(in.DeviceID) == "" {
		return PushToken{}, fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if in.DeviceType == "" {
		in.DeviceType = DeviceWeb
	}
	if !in.DeviceType.Valid() {
		return PushToken{}, fmt.Errorf("%w: unknown device type %q", ErrValidation, in.DeviceType)
	}
	if _, err := s.GetUser(ctx, in.UserID); err != nil {
		return PushToken{}, err
	}

	now := s.Now().UTC()
	token := PushToken{
		UserID:     in.UserID,
		Token:      in.Token,
		DeviceID:   in.DeviceID,
		DeviceType: in.DeviceType,
		UserAgent:  in.UserAgent,
		LastUsedAt: now,
		CreatedAt:  now,
	}
	if err := s.repo.UpsertPushToken(ctx, token); err != nil {
		return PushToken{}, err
	}
	return token, nil
}

// UnregisterPushToken removes the token held for the device.
func (s *Service) UnregisterPushToken(ctx context.Context, userID, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}
	return s.repo.DeletePushToken(ctx, userID, deviceID)
}

// CleanupExpiredTokens deletes tokens not used within maxAge.
func (s *Service) CleanupExpiredTokens(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("%w: max age must be positive", ErrValidation)
	}
	return s.repo.DeletePushTokensUnusedSince(ctx, s.Now().UTC().Add(-maxAge))
}

// NotifiableUsers lists users with notifications switched on.
func (s *Service) NotifiableUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListNotifiableUsers(ctx)
}
