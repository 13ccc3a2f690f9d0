package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"ms-scheduling/internal/checkin"
	"ms-scheduling/internal/scheduling"
	"ms-scheduling/internal/utils"
)

var kindStatus = map[scheduling.Kind]int{
	scheduling.KindNotFound:                   http.StatusNotFound,
	scheduling.KindForbidden:                  http.StatusForbidden,
	scheduling.KindInvalidState:               http.StatusUnprocessableEntity,
	scheduling.KindBookingNotYetOpen:          http.StatusUnprocessableEntity,
	scheduling.KindBookingClosed:              http.StatusUnprocessableEntity,
	scheduling.KindCancellationDeadlinePassed: http.StatusUnprocessableEntity,
	scheduling.KindFeatureDisabled:            http.StatusUnprocessableEntity,
	scheduling.KindAlreadyExists:              http.StatusConflict,
	scheduling.KindSessionFull:                http.StatusConflict,
	scheduling.KindWaitlistFull:               http.StatusConflict,
	scheduling.KindConflict:                   http.StatusConflict,
	scheduling.KindEntitlementRequired:        http.StatusPaymentRequired,
	scheduling.KindMemberInactive:             http.StatusPaymentRequired,
	scheduling.KindInvalidRule:                http.StatusBadRequest,
}

// StatusFor maps an error to its HTTP status. Unclassified errors are 500s.
func StatusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, errEmptyBody), errors.Is(err, checkin.ErrInvalidPass):
		return http.StatusBadRequest
	}
	if status, ok := kindStatus[scheduling.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	resp := utils.ErrorResponse(op+" failed", err.Error())
	resp.Kind = string(scheduling.KindOf(err))

	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s %s: %s: %v", r.Method, r.URL.Path, op, err))
		resp.Error = "internal error"
	} else {
		h.Logger.Debug("API", fmt.Sprintf("%s %s: %s: %v", r.Method, r.URL.Path, op, err))
	}
	utils.WriteJSON(w, status, resp)
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.Logger.Debug("API", fmt.Sprintf("%s %s: %s: %v", r.Method, r.URL.Path, op, err))
	utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse(op+" failed", err.Error()))
}
