package api

import (
	"net/http"
	"strings"

	"github.com/YUJAEYUN/exercisemate/internal/auth"
	"github.com/YUJAEYUN/exercisemate/internal/domain"
)

func (h *Handler) ensureUser(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req EnsureUserRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	name := req.DisplayName
	if strings.TrimSpace(name) == "" {
		name = claims.Name
	}
	email := req.Email
	if email == "" {
		email = claims.Email
	}

	user, created, err := h.service.EnsureUser(r.Context(), domain.EnsureUserInput{UserID: claims.Subject, DisplayName: name, Email: email})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeData(w, status, toUserView(*user))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	user, err := h.service.GetUser(r.Context(), claims.Subject)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toUserView(*user))
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req UpdateProfileRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	patch := domain.UserPatch{DisplayName: req.DisplayName}
	if req.Avatar != nil {
		avatar := domain.Avatar(*req.Avatar)
		patch.Avatar = &avatar
	}

	user, err := h.service.UpdateProfile(r.Context(), claims.Subject, patch)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toUserView(*user))
}

func (h *Handler) updateNotificationSettings(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req NotificationSettingsRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	days := req.ReminderDays
	if days == nil {
		days = []int{}
	}

	user, err := h.service.UpdateNotificationSettings(r.Context(), claims.Subject, domain.NotificationSettings{
		Enabled:        req.Enabled,
		ReminderTime:   req.ReminderTime,
		ReminderDays:   days,
		GoalReminder:   req.GoalReminder,
		PenaltyWarning: req.PenaltyWarning,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user.Notifications)
}

func (h *Handler) registerPushToken(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req RegisterPushTokenRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	token, err := h.service.RegisterPushToken(r.Context(), domain.RegisterPushTokenInput{
		UserID:     claims.Subject,
		Token:      req.Token,
		DeviceID:   req.DeviceID,
		DeviceType: domain.DeviceType(req.DeviceType),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, PushTokenView{DeviceID: token.DeviceID, DeviceType: string(token.DeviceType), LastUsedAt: token.LastUsedAt})
}

func (h *Handler) unregisterPushToken(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	deviceID := r.URL.Query().Get("device_id")
	if err := h.service.UnregisterPushToken(r.Context(), claims.Subject, deviceID); err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}
