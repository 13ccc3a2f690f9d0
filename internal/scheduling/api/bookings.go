package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-scheduling/internal/auth"
	"ms-scheduling/internal/models"
	"ms-scheduling/internal/scheduling"
)

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")

	booking, err := h.Scheduling.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.fail(w, r, "GetBooking", err)
		return
	}
	if id, _ := auth.IdentityFrom(r.Context()); !id.Staff && booking.MemberID != id.MemberID {
		h.fail(w, r, "GetBooking", &scheduling.Error{Kind: scheduling.KindForbidden, BookingID: bookingID, Message: "booking belongs to another member"})
		return
	}
	h.ok(w, http.StatusOK, "Booking", booking)
}

// CancelOwnBooking is the member's self-service cancellation; the deadline applies.
func (h *Handler) CancelOwnBooking(w http.ResponseWriter, r *http.Request) {
	memberID := auth.UserID(r.Context())
	if memberID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.cancel(w, r, memberID)
}

func (h *Handler) CancelBookingAsStaff(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, "")
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, actingMemberID string) {
	bookingID := chi.URLParam(r, "bookingId")

	booking, err := h.Scheduling.Cancel(r.Context(), bookingID, actingMemberID)
	if err != nil {
		h.fail(w, r, "CancelBooking", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CancelBooking: booking %s cancelled by %s", bookingID, booking.CancelledBy))
	h.ok(w, http.StatusOK, "Booking cancelled", booking)
}

func (h *Handler) MarkAttended(w http.ResponseWriter, r *http.Request) {
	h.complete(w, r, models.BookingAttended)
}

func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.complete(w, r, models.BookingNoShow)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request, status models.BookingStatus) {
	bookingID := chi.URLParam(r, "bookingId")

	var (
		booking *models.Booking
		err     error
	)
	if status == models.BookingAttended {
		booking, err = h.Scheduling.MarkAttended(r.Context(), bookingID)
	} else {
		booking, err = h.Scheduling.MarkNoShow(r.Context(), bookingID)
	}
	if err != nil {
		h.fail(w, r, "CompleteBooking", err)
		return
	}
	h.ok(w, http.StatusOK, "Booking completed", booking)
}

// GetPass returns the booking's check-in QR code as a PNG. Members only get their own.
func (h *Handler) GetPass(w http.ResponseWriter, r *http.Request) {
	if h.CheckIn == nil {
		h.fail(w, r, "GetPass", &scheduling.Error{Kind: scheduling.KindFeatureDisabled, Message: "check-in passes are not configured"})
		return
	}
	bookingID := chi.URLParam(r, "bookingId")

	id, _ := auth.IdentityFrom(r.Context())
	requester := id.MemberID
	if id.Staff {
		requester = ""
	}

	png, err := h.CheckIn.IssuePass(r.Context(), bookingID, requester)
	if err != nil {
		h.fail(w, r, "GetPass", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetPass: failed to write response: %v", err))
	}
}

func (h *Handler) ScanPass(w http.ResponseWriter, r *http.Request) {
	if h.CheckIn == nil {
		h.fail(w, r, "CheckIn", &scheduling.Error{Kind: scheduling.KindFeatureDisabled, Message: "check-in passes are not configured"})
		return
	}

	var req models.CheckInRequest
	if err := h.decode(r, &req, false); err != nil {
		h.badRequest(w, r, "CheckIn", err)
		return
	}

	booking, err := h.CheckIn.CheckIn(r.Context(), req.Pass)
	if err != nil {
		h.fail(w, r, "CheckIn", err)
		return
	}
	h.ok(w, http.StatusOK, "Checked in", booking)
}
