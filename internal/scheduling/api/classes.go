package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-scheduling/internal/models"
)

func (h *Handler) UpsertClass(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "classId")

	var req models.UpsertClassRequest
	if err := h.decode(r, &req, false); err != nil {
		h.badRequest(w, r, "UpsertClass", err)
		return
	}

	class := req.ToClass(classID, time.Now())
	if err := h.Scheduling.SyncClass(r.Context(), class); err != nil {
		h.fail(w, r, "UpsertClass", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("UpsertClass: class %s stored", classID))
	h.ok(w, http.StatusOK, "Class updated", class)
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "classId")

	var req models.CreateSessionRequest
	if err := h.decode(r, &req, false); err != nil {
		h.badRequest(w, r, "CreateSession", err)
		return
	}

	session, err := h.Scheduling.CreateSession(r.Context(), classID, req.StartTime)
	if err != nil {
		h.fail(w, r, "CreateSession", err)
		return
	}
	h.ok(w, http.StatusCreated, "Session created", session)
}

func (h *Handler) CreateRecurrenceRule(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "classId")

	var req models.CreateRecurrenceRuleRequest
	if err := h.decode(r, &req, false); err != nil {
		h.badRequest(w, r, "CreateRecurrenceRule", err)
		return
	}
	rule, err := req.ToRule(classID)
	if err != nil {
		h.badRequest(w, r, "CreateRecurrenceRule", err)
		return
	}

	stored, result, err := h.Scheduling.CreateRecurrenceRule(r.Context(), rule)
	if err != nil {
		h.fail(w, r, "CreateRecurrenceRule", err)
		return
	}
	h.ok(w, http.StatusCreated, "Recurrence rule created", map[string]interface{}{
		"rule":      stored,
		"expansion": result,
	})
}

func (h *Handler) ExpandRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req models.ExpandRequest
	if err := h.decode(r, &req, true); err != nil {
		h.badRequest(w, r, "ExpandRule", err)
		return
	}

	result, err := h.Scheduling.ExpandRule(r.Context(), ruleID, time.Duration(req.HorizonDays)*24*time.Hour)
	if err != nil {
		h.fail(w, r, "ExpandRule", err)
		return
	}
	h.ok(w, http.StatusOK, "Rule expanded", result)
}
