// Package core provides the API chassis for the SabiOps notification and
// usage service. It creates a chi router and enforces cross-cutting
// concerns before requests reach domain-specific handlers: panic recovery,
// request correlation, structured logging, CORS, and service-key
// authentication.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sabiops/internal/config"
)

// Server encapsulates the chassis dependencies, allowing injection during
// testing and distinct configuration per environment.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// V1RouteRegistrars is populated by the application entry point with
	// domain handler mounts. The indirection avoids import cycles between
	// core and handler packages.
	V1RouteRegistrars []func(chi.Router)

	// V1PublicRouteRegistrars mount /v1 routes that skip service-key and
	// account middleware. Used for provider callbacks (billing webhooks)
	// that authenticate by payload signature instead of headers.
	V1PublicRouteRegistrars []func(chi.Router)

	// closers run during Shutdown, registered by the entry point for
	// resources the chassis does not own (database pools).
	closers []func()

	router *chi.Mux
}

// NewServer initializes the chassis and prepares the router for route
// mounting. Fail-fast: nil critical dependencies are constructor errors,
// not runtime surprises.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function to run during Shutdown, in
// registration order.
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}

// Shutdown performs graceful termination of server-held resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	for _, fn := range s.closers {
		fn()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
