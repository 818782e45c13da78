package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/YUJAEYUN/exercisemate/internal/auth"
	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/persistence"
	"github.com/YUJAEYUN/exercisemate/internal/week"
)

func (h *Handler) logExercise(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req LogExerciseRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), claims.Subject)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if user.GroupID == "" {
		h.writeErr(w, r, domain.ErrNoGroup)
		return
	}

	record, err := h.service.LogExercise(r.Context(), domain.LogExerciseInput{
		UserID:  user.ID,
		GroupID: user.GroupID,
		Type:    domain.ExerciseType(req.ExerciseType),
		Date:    req.Date,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toRecordView(*record))
}

func (h *Handler) todayRecord(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	record, err := h.service.TodayRecord(r.Context(), claims.Subject)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if record == nil {
		writeJSON(w, http.StatusOK, Response{Success: true})
		return
	}
	writeData(w, http.StatusOK, toRecordView(*record))
}

// recordsInRange defaults to the current week when start or end is omitted.
func (h *Handler) recordsInRange(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	cycle := week.Of(h.service.Now())
	start := r.URL.Query().Get("start")
	if start == "" {
		start = cycle.StartDate()
	}
	end := r.URL.Query().Get("end")
	if end == "" {
		end = cycle.EndDate()
	}

	records, err := h.service.RecordsInRange(r.Context(), claims.Subject, start, end)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toRecordViews(records))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeErr(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation))
			return
		}
		limit = parsed
	}
	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		h.writeErr(w, r, fmt.Errorf("%w: invalid cursor", domain.ErrValidation))
		return
	}

	records, next, err := h.service.History(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, HistoryResponse{Items: toRecordViews(records), NextCursor: persistence.EncodeCursor(next)})
}

func (h *Handler) weeklyStats(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	stats, err := h.service.WeeklyStats(r.Context(), claims.Subject, r.URL.Query().Get("week_start"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toStatsView(stats))
}

func (h *Handler) setRestWeek(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req RestWeekRequest
	if err := decode(w, r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	stats, err := h.service.SetRestWeek(r.Context(), claims.Subject, req.WeekStart, req.IsRestWeek)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toStatsView(stats))
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	dash, err := h.service.Dashboard(r.Context(), claims.Subject)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toDashboardView(dash))
}
