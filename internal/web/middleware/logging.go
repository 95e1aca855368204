// Package middleware provides HTTP middleware for the web server.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/shortlinks/internal/logging"
	"github.com/JonMunkholm/shortlinks/internal/metrics"
)

// unmatchedRoute labels requests no route matched, keeping label cardinality
// bounded when clients probe random paths.
const unmatchedRoute = "unmatched"

// Logger logs one structured line per request and records the request in
// the HTTP Prometheus collectors.
//
// Log fields:
//   - method, route (chi pattern), path
//   - status, duration_ms
//   - ip (after TrustedRealIP), user_agent
//
// Metrics are labeled by route pattern, never by raw path.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPInflightRequests.Inc()
		defer metrics.HTTPInflightRequests.Dec()

		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		route := routePattern(r)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.status)).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(duration.Seconds())

		logger := logging.FromContext(r.Context())
		args := []any{
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", duration.Milliseconds(),
			"ip", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}
		if ww.status >= http.StatusInternalServerError {
			logger.Error("request", args...)
		} else {
			logger.Info("request", args...)
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
