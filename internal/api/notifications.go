package api

import (
	"net/http"

	"github.com/YUJAEYUN/exercisemate/internal/auth"
	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/notify"
)

// writeResult reports a send. A submission failure still carries the tally.
func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, result notify.Result, err error) {
	if err == nil {
		writeData(w, http.StatusOK, result)
		return
	}
	if result.State == notify.StateSubmissionFailed {
		h.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusBadGateway, Response{Success: false, Error: "push provider unavailable", Data: result})
		return
	}
	h.writeErr(w, r, err)
}

// callerGroup resolves groupID, defaulting to the caller's own group, and
// checks the caller belongs to it.
func (h *Handler) callerGroup(r *http.Request, claims *auth.Claims, groupID string) (string, error) {
	if groupID == "" {
		user, err := h.service.GetUser(r.Context(), claims.Subject)
		if err != nil {
			return "", err
		}
		if user.GroupID == "" {
			return "", domain.ErrNoGroup
		}
		return user.GroupID, nil
	}
	group, err := h.service.GetGroup(r.Context(), groupID)
	if err != nil {
		return "", err
	}
	if !group.HasMember(claims.Subject) {
		return "", domain.ErrNotMember
	}
	return group.ID, nil
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request, _ *auth.Claims) {
	writeData(w, http.StatusOK, notify.Templates())
}

func (h *Handler) sendNotification(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	if !claims.HasScope(auth.ScopeNotificationsAdmin) {
		writeError(w, http.StatusForbidden, "scope "+auth.ScopeNotificationsAdmin+" required")
		return
	}
	var req SendNotificationRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	result, err := h.notifier.SendToToken(r.Context(), req.TargetToken, req.Title, req.Body, req.Data)
	h.writeResult(w, r, result, err)
}

func (h *Handler) sendToUser(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req SendToUserRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if req.TargetUserID != claims.Subject && !claims.HasScope(auth.ScopeNotificationsAdmin) {
		writeError(w, http.StatusForbidden, "scope "+auth.ScopeNotificationsAdmin+" required to notify other users")
		return
	}
	result, err := h.notifier.SendToUser(r.Context(), notify.UserNotification{
		UserID: req.TargetUserID,
		Title:  req.Title,
		Body:   req.Body,
		Kind:   req.Type,
		Link:   req.URL,
		Data:   req.Data,
	})
	h.writeResult(w, r, result, err)
}

func (h *Handler) notifyFriends(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req NotifyFriendsRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	groupID, err := h.callerGroup(r, claims, req.GroupID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	result, err := h.notifier.NotifyFriends(r.Context(), notify.FriendExercise{
		UserID:       claims.Subject,
		GroupID:      groupID,
		ExerciseType: domain.ExerciseType(req.ExerciseType),
		UserName:     req.UserName,
	})
	h.writeResult(w, r, result, err)
}

func (h *Handler) notifyGroupGoal(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req NotifyGroupGoalRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	groupID, err := h.callerGroup(r, claims, req.GroupID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	result, err := h.notifier.NotifyGroupGoal(r.Context(), notify.GoalAchievement{
		UserID:        claims.Subject,
		GroupID:       groupID,
		ExerciseCount: req.ExerciseCount,
		Goal:          req.Goal,
		UserName:      req.UserName,
	})
	h.writeResult(w, r, result, err)
}

func (h *Handler) sendPersonalReminder(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req PersonalReminderRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	result, err := h.notifier.SendPersonalReminder(r.Context(), claims.Subject, req.Title, req.Body, req.Type)
	h.writeResult(w, r, result, err)
}

func (h *Handler) sendGroupMessage(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req GroupMessageRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	groupID, err := h.callerGroup(r, claims, req.GroupID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	result, err := h.notifier.SendGroupMessage(r.Context(), notify.GroupMessage{
		SenderID:   claims.Subject,
		GroupID:    groupID,
		TemplateID: req.TemplateID,
		Text:       req.Message,
	})
	h.writeResult(w, r, result, err)
}
