// Package api exposes the HTTP handlers of the exercisemate service.
package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/YUJAEYUN/exercisemate/internal/auth"
	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/notify"
)

var (
	errUnauthenticated = errors.New("missing bearer token")
	errForbidden       = errors.New("forbidden")
)

// Handler coordinates HTTP requests with the domain and notification services.
type Handler struct {
	service  *domain.Service
	notifier *notify.Service
	logger   *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, notifier *notify.Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	return &Handler{service: service, notifier: notifier, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", healthz)

	mux.HandleFunc("POST /v1/users/me", h.authed(h.ensureUser))
	mux.HandleFunc("GET /v1/users/me", h.authed(h.getUser))
	mux.HandleFunc("PATCH /v1/users/me", h.authed(h.updateProfile))
	mux.HandleFunc("PUT /v1/users/me/notification-settings", h.authed(h.updateNotificationSettings))
	mux.HandleFunc("POST /v1/users/me/push-tokens", h.authed(h.registerPushToken))
	mux.HandleFunc("DELETE /v1/users/me/push-tokens", h.authed(h.unregisterPushToken))

	mux.HandleFunc("POST /v1/exercises", h.authed(h.logExercise))
	mux.HandleFunc("GET /v1/exercises", h.authed(h.recordsInRange))
	mux.HandleFunc("GET /v1/exercises/today", h.authed(h.todayRecord))
	mux.HandleFunc("GET /v1/exercises/history", h.authed(h.history))
	mux.HandleFunc("GET /v1/stats/weekly", h.authed(h.weeklyStats))
	mux.HandleFunc("PUT /v1/stats/rest-week", h.authed(h.setRestWeek))
	mux.HandleFunc("GET /v1/dashboard", h.authed(h.dashboard))

	mux.HandleFunc("POST /v1/groups", h.authed(h.createGroup))
	mux.HandleFunc("POST /v1/groups/join", h.authed(h.joinGroup))
	mux.HandleFunc("GET /v1/groups/{id}", h.authed(h.getGroup))
	mux.HandleFunc("PATCH /v1/groups/{id}", h.authed(h.updateGroup))
	mux.HandleFunc("POST /v1/groups/{id}/leave", h.authed(h.leaveGroup))
	mux.HandleFunc("GET /v1/groups/{id}/progress", h.authed(h.groupProgress))

	mux.HandleFunc("GET /v1/notifications/templates", h.authed(h.listTemplates))
	mux.HandleFunc("POST /v1/notifications/send", h.authed(h.sendNotification))
	mux.HandleFunc("POST /v1/notifications/user", h.authed(h.sendToUser))
	mux.HandleFunc("POST /v1/notifications/friends", h.authed(h.notifyFriends))
	mux.HandleFunc("POST /v1/notifications/group-goal", h.authed(h.notifyGroupGoal))
	mux.HandleFunc("POST /v1/notifications/reminder", h.authed(h.sendPersonalReminder))
	mux.HandleFunc("POST /v1/notifications/group-message", h.authed(h.sendGroupMessage))
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims *auth.Claims)

// authed resolves the caller's claims placed by the auth middleware.
func (h *Handler) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, errUnauthenticated.Error())
			return
		}
		next(w, r, claims)
	}
}
