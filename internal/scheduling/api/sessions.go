package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-scheduling/internal/models"
)

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.Scheduling.GetSession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.fail(w, r, "GetSession", err)
		return
	}
	h.ok(w, http.StatusOK, "Session", session)
}

func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	capacity, err := h.Scheduling.GetCapacity(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.fail(w, r, "GetCapacity", err)
		return
	}
	h.ok(w, http.StatusOK, "Capacity", capacity)
}

// StreamSession sends the current capacity and then live updates as server-sent events.
func (h *Handler) StreamSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if h.Streamer == nil {
		http.Error(w, "streaming disabled", http.StatusNotFound)
		return
	}

	capacity, err := h.Scheduling.GetCapacity(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, "StreamSession", err)
		return
	}
	h.Streamer.Stream(w, r, sessionID, &capacity)
}

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req models.BookRequest
	if err := h.decode(r, &req, true); err != nil {
		h.badRequest(w, r, "Book", err)
		return
	}
	memberID, ok := actingMember(r, req.MemberID)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	booking, err := h.Scheduling.Book(r.Context(), memberID, sessionID)
	if err != nil {
		h.fail(w, r, "Book", err)
		return
	}
	h.ok(w, http.StatusCreated, "Booking confirmed", booking)
}

func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req models.BookRequest
	if err := h.decode(r, &req, true); err != nil {
		h.badRequest(w, r, "JoinWaitlist", err)
		return
	}
	memberID, ok := actingMember(r, req.MemberID)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	entry, err := h.Scheduling.Join(r.Context(), memberID, sessionID)
	if err != nil {
		h.fail(w, r, "JoinWaitlist", err)
		return
	}
	h.ok(w, http.StatusCreated, "Joined waitlist", entry)
}

// LeaveWaitlist takes an optional member_id query parameter, honoured for staff only.
func (h *Handler) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	memberID, ok := actingMember(r, r.URL.Query().Get("member_id"))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.Scheduling.Leave(r.Context(), memberID, sessionID); err != nil {
		h.fail(w, r, "LeaveWaitlist", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListWaitlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Scheduling.ListWaitlist(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.fail(w, r, "ListWaitlist", err)
		return
	}
	if entries == nil {
		entries = []*models.WaitlistEntry{}
	}
	h.ok(w, http.StatusOK, "Waitlist", entries)
}

func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	var req models.CancelSessionRequest
	if err := h.decode(r, &req, true); err != nil {
		h.badRequest(w, r, "CancelSession", err)
		return
	}

	session, err := h.Scheduling.CancelSession(r.Context(), chi.URLParam(r, "sessionId"), req.Reason)
	if err != nil {
		h.fail(w, r, "CancelSession", err)
		return
	}
	h.ok(w, http.StatusOK, "Session cancelled", session)
}

// SetCapacity sets or, with a null capacity, clears the session's capacity override.
func (h *Handler) SetCapacity(w http.ResponseWriter, r *http.Request) {
	var req models.CapacityOverrideRequest
	if err := h.decode(r, &req, false); err != nil {
		h.badRequest(w, r, "SetCapacity", err)
		return
	}

	capacity, err := h.Scheduling.SetCapacityOverride(r.Context(), chi.URLParam(r, "sessionId"), req.Capacity)
	if err != nil {
		h.fail(w, r, "SetCapacity", err)
		return
	}
	h.ok(w, http.StatusOK, "Capacity updated", capacity)
}
