// Package web provides the JSON HTTP API and redirect endpoint for short links.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/shortlinks/internal/config"
	"github.com/JonMunkholm/shortlinks/internal/core"
	"github.com/JonMunkholm/shortlinks/internal/metrics"
	mw "github.com/JonMunkholm/shortlinks/internal/web/middleware"
)

// Options configures a Server. The zero value serves every route without
// rate limiting or a request timeout.
type Options struct {
	RequestTimeout time.Duration
	TrustedProxies []string
	RateLimit      config.RateLimitConfig
	MaxImportBytes int64

	// Health reports backend readiness for /healthz. Nil means always ready.
	Health func(ctx context.Context) error
}

// Server is the HTTP server for the short link API.
type Server struct {
	service  *core.Service
	opts     Options
	router   *chi.Mux
	server   *http.Server
	limiters []*rateLimiter
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, opts Options) *Server {
	if opts.MaxImportBytes <= 0 {
		opts.MaxImportBytes = core.DefaultMaxImportBytes
	}
	s := &Server{
		service: service,
		opts:    opts,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(requestMeta)
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
//
// Single-link routes share the general rate limit and the request timeout.
// Import and export have their own, lower limit and are bounded by the
// service's import timeout instead.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Group(func(r chi.Router) {
		if s.opts.RateLimit.Enabled {
			r.Use(s.newRateLimiter(s.opts.RateLimit.RequestsPerMinute).middleware)
		}
		if s.opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))
		}

		r.Get("/r/{code}", s.handleRedirect)

		r.Post("/api/links", s.handleCreateLink)
		r.Post("/api/links/batch-delete", s.handleBatchDelete)
		r.Get("/api/links/{code}", s.handleGetLink)
		r.Delete("/api/links/{code}", s.handleDeleteLink)
		r.Get("/api/owners/{ownerID}/links", s.handleListOwnerLinks)
		r.Get("/api/import/status", s.handleImportStatus)
	})

	s.router.Group(func(r chi.Router) {
		if s.opts.RateLimit.Enabled {
			r.Use(s.newRateLimiter(s.opts.RateLimit.BulkLimit).middleware)
		}

		r.Get("/api/export", s.handleExport)
		r.Post("/api/import", s.handleImport)
	})
}

func (s *Server) newRateLimiter(perMinute int) *rateLimiter {
	rl := newRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl
}

// Handler returns the root handler, for wrapping with instrumentation.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests on the configured address,
// serving h (usually Handler wrapped in otelhttp).
func (s *Server) Start(cfg config.ServerConfig, h http.Handler) error {
	if h == nil {
		h = s.router
	}
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	slog.Info("starting server", "addr", cfg.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Close stops the rate limiter cleanup goroutines.
func (s *Server) Close() {
	for _, rl := range s.limiters {
		rl.stop()
	}
	s.limiters = nil
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
