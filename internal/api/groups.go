package api

import (
	"net/http"

	"github.com/YUJAEYUN/exercisemate/internal/auth"
	"github.com/YUJAEYUN/exercisemate/internal/domain"
)

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req CreateGroupRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	group, err := h.service.CreateGroup(r.Context(), domain.CreateGroupInput{
		OwnerID:    claims.Subject,
		Name:       req.Name,
		WeeklyGoal: req.WeeklyGoal,
		MaxMembers: req.MaxMembers,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toGroupView(*group))
}

func (h *Handler) joinGroup(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req JoinGroupRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	group, err := h.service.JoinByInviteCode(r.Context(), claims.Subject, req.InviteCode)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toGroupView(*group))
}

// memberGroup loads the group in the path and checks the caller is on it.
func (h *Handler) memberGroup(r *http.Request, claims *auth.Claims) (*domain.Group, error) {
	group, err := h.service.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if !group.HasMember(claims.Subject) {
		return nil, domain.ErrNotMember
	}
	return group, nil
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	group, err := h.memberGroup(r, claims)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toGroupView(*group))
}

func (h *Handler) updateGroup(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req UpdateGroupRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	group, err := h.service.UpdateGroup(r.Context(), claims.Subject, r.PathValue("id"), domain.GroupPatch{
		Name:       req.Name,
		WeeklyGoal: req.WeeklyGoal,
		MaxMembers: req.MaxMembers,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toGroupView(*group))
}

func (h *Handler) leaveGroup(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	deleted, err := h.service.LeaveGroup(r.Context(), claims.Subject, r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"groupDeleted": deleted})
}

func (h *Handler) groupProgress(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	if _, err := h.memberGroup(r, claims); err != nil {
		h.writeErr(w, r, err)
		return
	}
	progress, err := h.service.GroupProgress(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, GroupProgressView{
		GroupID:            progress.GroupID,
		LastGoalAchiever:   progress.LastGoalAchiever,
		LastGoalAchievedAt: progress.LastGoalAchievedAt,
		WeeklyGoal:         progress.WeeklyGoal,
		MemberCount:        progress.MemberCount,
	})
}
