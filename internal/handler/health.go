package handler

import (
	"encoding/json"
	"net/http"

	"github.com/whspr/klingfisher/internal/health"
)

// Health reports the health checker status as json.
// Unhealthy instances answer with 503 so load balancers take them out of rotation.
func Health(healthChecker *health.Checker) Handler {
	return func(w http.ResponseWriter, r *http.Request) *Error {
		status := healthChecker.Status()

		body, err := json.Marshal(status)
		if err != nil {
			return InternalServerError()
		}

		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Content-Type", "application/json")

		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}

		w.WriteHeader(code)
		w.Write(body)

		return nil
	}
}
