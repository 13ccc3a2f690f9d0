package api

import (
	"context"
	"net/http"
	"time"

	"ms-scheduling/internal/utils"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// Health answers 200 when every check passes and 503 naming the failures otherwise.
func Health(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{}
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}

		if !healthy {
			resp := utils.ErrorResponse("Unhealthy", "dependency check failed")
			resp.Data = status
			utils.WriteJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("OK", status))
	}
}
