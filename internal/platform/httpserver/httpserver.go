package httpserver

import (
	"context"
	"net/http"
	"time"

	"crvs/pkg/platform/httputil"
)

// New builds an HTTP server with sane defaults for this project. WriteTimeout
// stays above the per-action timeout so handlers can still write a 504.
func New(addr string, handler http.Handler, actionTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      actionTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Check reports whether one backing dependency is reachable.
type Check func(ctx context.Context) error

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health runs every check with a short deadline. Any failure turns the
// response into a 503 naming the failing dependency.
func Health(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
