package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sabiops/internal/types"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in
// request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Service-Key",
}

// MountRoutes defines the top-level routing hierarchy: the global middleware
// chain, the /v1 API group, and the health check.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", s.mountV1)

	s.router.Get("/healthz", s.HandleHealth)
}

// registerGlobalMiddleware applies middleware in strict order.
//
// Ordering Rationale:
//  1. Recoverer        - Catches panics; outermost to catch all failures.
//  2. ContextTimeout   - Sets the soft request deadline.
//  3. RequestID        - Generates/propagates correlation ID for tracing.
//  4. SecurityHeaders  - Ensures all responses include security headers.
//  5. RequestLogger    - Structured logging (redacted headers).
//  6. CORS             - Browser security headers and preflight handling.
//  7. ServiceKey       - Authenticates the calling service (bcrypt compare).
//  8. Account          - Extracts the acting account into the context.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
}

// mountV1 registers all v1 endpoints. Public registrars (provider webhook
// callbacks, which carry their own signature auth) mount directly; domain
// handler routes mount inside a group behind service-key auth and account
// resolution. Both sets are populated by the application entry point.
func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1PublicRouteRegistrars {
		registrar(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.ServiceKeyMiddleware)
		r.Use(s.AccountMiddleware)

		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})
}

// corsAllowedOrigins returns the CORS allowed origins from configuration.
func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// HandleHealth reports process liveness. It deliberately checks nothing
// downstream: a healthy process with a broken dependency should degrade at
// the feature level, not flap the whole deployment.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.Config.Service,
	})
}

// ContextTimeoutMiddleware sets a deadline on the request context. On
// expiry, downstream handlers receive a cancelled context; the response is
// controlled by the handler's behavior on cancellation.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware generates or propagates a unique request ID for
// correlation across logs and traces. An incoming X-Request-Id header is
// reused; otherwise a new random ID is generated. The ID is stored in the
// context and echoed in the X-Request-Id response header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateRequestID produces a cryptographically random 32-hex-character
// correlation ID.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; here a non-empty
		// ID still beats an empty one.
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}
