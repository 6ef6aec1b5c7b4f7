// Package httpapi implements the External API Surface (C11): the JSON-
// over-HTTP front door described in SPEC_FULL.md §6.1. Grounded on
// services/jax-api/internal/infra/http/server.go's shape — a Server
// wrapping a plain net/http.ServeMux, a JWT manager, a rate limiter, and a
// CORS config, with RegisterX methods attaching each resource's handlers
// and a protect helper gating the ones that require a bearer token.
package httpapi

import (
	"net/http"

	"jax-advisor-core/internal/middleware"
)

// Server is the HTTP front door. Its collaborators are supplied by
// cmd/advisor's bootstrap, already narrowed to the interfaces above.
type Server struct {
	mux *http.ServeMux

	auth        AuthManager
	rateLimiter *middleware.RateLimiter
	corsConfig  middleware.CORSConfig

	supervisor Supervisor
	store      Store
	execution  Execution
	broker     Broker
	guard      GuardReporter
}

// New builds a Server. Any of auth/rateLimiter may be nil — a nil auth
// manager runs every endpoint unauthenticated (matching the teacher's
// explicit "development mode" fallback), and a nil rate limiter disables
// rate limiting entirely.
func New(auth AuthManager, rateLimiter *middleware.RateLimiter, cors middleware.CORSConfig, sup Supervisor, store Store, exec Execution, brk Broker, guardReporter GuardReporter) *Server {
	return &Server{
		mux:         http.NewServeMux(),
		auth:        auth,
		rateLimiter: rateLimiter,
		corsConfig:  cors,
		supervisor:  sup,
		store:       store,
		execution:   exec,
		broker:      brk,
		guard:       guardReporter,
	}
}

// RegisterRoutes attaches every handler in SPEC_FULL.md §6.1 to the
// server's mux.
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.HandleFunc("/signup", s.handleSignup)
	s.mux.HandleFunc("/chat", s.protect(s.handleChat))
	s.mux.HandleFunc("/portfolio", s.protect(s.handlePortfolio))
	s.mux.HandleFunc("/execute", s.protect(s.handleExecute))
	s.mux.HandleFunc("/profile", s.protect(s.handleProfile))
	s.mux.HandleFunc("/analytics", s.protect(s.handleAnalytics))
}

// protect wraps handler with JWT authentication, or runs it unauthenticated
// if no AuthManager was configured.
func (s *Server) protect(handler http.HandlerFunc) http.HandlerFunc {
	if s.auth == nil {
		return handler
	}
	return s.auth.Require(handler)
}

// Handler returns the fully wrapped HTTP handler: panic recovery, flow-id
// propagation, CORS, then rate limiting, outermost to innermost, matching
// the teacher's middleware ordering.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.rateLimiter != nil {
		h = s.rateLimiter.Middleware(h)
	}
	h = middleware.CORS(s.corsConfig)(h)
	h = middleware.FlowID(h)
	h = middleware.Recover(h)
	return h
}
