package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"ms-scheduling/internal/auth"
	"ms-scheduling/internal/checkin"
	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/scheduling"
	"ms-scheduling/internal/sse"
	"ms-scheduling/internal/utils"
)

type Handler struct {
	Scheduling *scheduling.Service
	// CheckIn is nil when no check-in secret is configured.
	CheckIn  *checkin.Service
	Streamer *sse.Streamer
	Validate *validator.Validate
	Logger   *logger.Logger
}

func NewHandler(svc *scheduling.Service, checkIn *checkin.Service, streamer *sse.Streamer, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		Scheduling: svc,
		CheckIn:    checkIn,
		Streamer:   streamer,
		Validate:   validator.New(validator.WithRequiredStructEnabled()),
		Logger:     log,
	}
}

// Routes returns the scheduling API. authn must resolve an auth.Identity into the request context.
func (h *Handler) Routes(authn func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authn)

	r.Route("/sessions/{sessionId}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Get("/capacity", h.GetCapacity)
		r.Get("/stream", h.StreamSession)
		r.Post("/bookings", h.Book)
		r.Post("/waitlist", h.JoinWaitlist)
		r.Delete("/waitlist", h.LeaveWaitlist)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireStaff)
			r.Get("/waitlist", h.ListWaitlist)
			r.Post("/cancel", h.CancelSession)
			r.Put("/capacity", h.SetCapacity)
		})
	})

	r.Route("/bookings/{bookingId}", func(r chi.Router) {
		r.Get("/", h.GetBooking)
		r.Delete("/", h.CancelOwnBooking)
		r.Get("/pass", h.GetPass)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireStaff)
			r.Post("/cancel", h.CancelBookingAsStaff)
			r.Post("/attended", h.MarkAttended)
			r.Post("/no-show", h.MarkNoShow)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireStaff)
		r.Put("/classes/{classId}", h.UpsertClass)
		r.Post("/classes/{classId}/sessions", h.CreateSession)
		r.Post("/classes/{classId}/recurrence-rules", h.CreateRecurrenceRule)
		r.Post("/recurrence-rules/{ruleId}/expand", h.ExpandRule)
		r.Post("/checkin", h.ScanPass)
	})

	return r
}

var errEmptyBody = errors.New("request body is empty")

// decode reads a JSON body into v and validates it. An empty body is an error unless optional.
func (h *Handler) decode(r *http.Request, v interface{}, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		if !optional {
			return errEmptyBody
		}
	} else if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return h.Validate.Struct(v)
}

// actingMember resolves whose behalf a member-facing request acts on. Staff may name a member;
// everyone else acts as themselves.
func actingMember(r *http.Request, requested string) (string, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok || id.MemberID == "" {
		return "", false
	}
	if requested != "" && id.Staff {
		return requested, true
	}
	return id.MemberID, true
}

func (h *Handler) ok(w http.ResponseWriter, status int, message string, data interface{}) {
	utils.WriteJSON(w, status, utils.SuccessResponse(message, data))
}
