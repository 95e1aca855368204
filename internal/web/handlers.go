package web

import (
	"context"
	"net/http"
	"time"
)

// healthTimeout bounds the backend readiness check.
const healthTimeout = 2 * time.Second

// handleHealth reports liveness and, when a check is configured, backend
// readiness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := s.opts.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
