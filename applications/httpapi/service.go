package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/evidentia/syncplatform/infrastructure/logging"
	"github.com/evidentia/syncplatform/infrastructure/middleware"
)

// Service exposes the evidence platform's HTTP API and fits the same
// Start/Stop/Ready lifecycle shape the rest of the platform's long-running
// components use.
type Service struct {
	deps *Dependencies

	addr    string
	server  *http.Server
	handler http.Handler
	log     *logging.Logger

	corsConfig        *middleware.CORSConfig
	rateLimiterCfg    middleware.RouteClassConfig
	sessionAuthCfg    middleware.SessionAuthConfig
	protectedPrefixes []string

	mu      sync.Mutex
	running bool
	bound   string
}

// ServiceOption customizes the HTTP service before its middleware chain is
// assembled.
type ServiceOption func(*Service)

// WithCORSConfig overrides the default permissive CORS policy.
func WithCORSConfig(cfg *middleware.CORSConfig) ServiceOption {
	return func(s *Service) { s.corsConfig = cfg }
}

// WithRateLimiterConfig overrides the default per-route-class rate limiter
// configuration (§4.10): capacities/windows per RouteClass plus the
// classifier that assigns each request to one.
func WithRateLimiterConfig(cfg middleware.RouteClassConfig) ServiceOption {
	return func(s *Service) { s.rateLimiterCfg = cfg }
}

// WithSessionAuthConfig overrides the session auth middleware's secret and
// skip list.
func WithSessionAuthConfig(cfg middleware.SessionAuthConfig) ServiceOption {
	return func(s *Service) { s.sessionAuthCfg = cfg }
}

// WithProtectedPrefixes sets the path prefixes that require a bearer session
// token for mutating methods. Read methods (GET/HEAD) never require auth
// outside these prefixes per the uniform surface's auth contract.
func WithProtectedPrefixes(prefixes ...string) ServiceOption {
	return func(s *Service) { s.protectedPrefixes = prefixes }
}

// NewService builds the HTTP service: a mux.Router carrying every route
// registered in router.go, wrapped in the logging -> recovery -> CORS ->
// rate-limit -> session-auth -> metrics middleware chain. Order matters:
// logging and recovery must see every request including panics and
// malformed ones, CORS must short-circuit preflight OPTIONS before auth
// rejects it, and metrics wraps the fully-resolved handler so its route
// label reflects the matched mux route.
func NewService(deps *Dependencies, addr string, opts ...ServiceOption) *Service {
	log := deps.Logger
	if log == nil {
		log = logging.New("httpapi", "info", "json")
	}

	s := &Service{
		deps: deps,
		addr: addr,
		log:  log,
		corsConfig: &middleware.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		},
		protectedPrefixes: []string{"/documents", "/gaps", "/duplicates", "/corrections", "/provenance", "/sync", "/v2"},
	}
	s.rateLimiterCfg = middleware.DefaultRouteClassConfig(s.classifyRoute, log)
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.rateLimiterCfg.Classify == nil {
		s.rateLimiterCfg.Classify = s.classifyRoute
	}

	router := s.newRouter()

	rateLimiter := middleware.NewRateLimiterFromRouteClassConfig(s.rateLimiterCfg)
	middleware.StartCleanupFromRouteClassConfig(rateLimiter, s.rateLimiterCfg)

	var authMW *middleware.SessionAuthMiddleware
	if s.sessionAuthCfg.Secret != nil {
		cfg := s.sessionAuthCfg
		cfg.SkipPaths = append(cfg.SkipPaths, "/health")
		authMW = middleware.NewSessionAuthMiddleware(cfg)
	}

	var handler http.Handler = router
	if authMW != nil {
		handler = s.requireAuthForProtectedMutations(authMW, handler)
	}
	handler = rateLimiter.Handler(handler)
	handler = middleware.NewCORSMiddleware(s.corsConfig).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(log).Handler(handler)
	if deps.Metrics != nil {
		handler = middleware.MetricsMiddleware("httpapi", deps.Metrics)(handler)
	}
	handler = middleware.LoggingMiddleware(log)(handler)

	s.handler = handler
	return s
}

// requireAuthForProtectedMutations runs session auth only for mutating
// methods under a protected prefix, leaving health checks, GETs, and
// unrelated prefixes open, per the uniform surface's auth contract.
func (s *Service) requireAuthForProtectedMutations(authMW *middleware.SessionAuthMiddleware, next http.Handler) http.Handler {
	protected := authMW.Handler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range s.protectedPrefixes {
			if hasPrefix(r.URL.Path, prefix) {
				protected.ServeHTTP(w, r)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// classifyRoute assigns every inbound request to one of the platform's
// rate-limit route classes (§4.10). Health checks are exempt outright;
// evidence-ingest routes mint a new ChittyID through the pipeline's minting
// decision and get the most restrictive class; the capability-invocation
// surface under /v2 is generic tool-call dispatch; the remaining mutating
// REST routes are the core api class; everything else falls to default.
// A request carrying a verified caller identity is promoted from api or
// default to the looser authenticated_override class.
func (s *Service) classifyRoute(r *http.Request) middleware.RouteClass {
	path := r.URL.Path
	if path == "/health" {
		return middleware.ClassExempt
	}

	if hasPrefix(path, "/v2") {
		return middleware.ClassMCPToolsCall
	}

	if r.Method == http.MethodPost && (path == "/documents" || path == "/collect") {
		return middleware.ClassChittyIDMint
	}

	class := middleware.ClassDefault
	for _, prefix := range s.protectedPrefixes {
		if hasPrefix(path, prefix) {
			class = middleware.ClassAPI
			break
		}
	}

	if middleware.GetUserID(r.Context()) != "" {
		return middleware.ClassAuthenticatedOverride
	}
	return class
}

func hasPrefix(path, prefix string) bool {
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.running = true
	s.server = server
	s.bound = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server error")
		}
		s.mu.Lock()
		if s.server == server {
			s.running = false
			s.bound = ""
		}
		s.mu.Unlock()
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return nil
	}
	err := server.Shutdown(ctx)

	s.mu.Lock()
	if s.server == server {
		s.running = false
		s.bound = ""
	}
	s.mu.Unlock()

	return err
}

// Ready reports readiness based on the running flag.
func (s *Service) Ready(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return fmt.Errorf("httpapi: server not running")
	}
	return nil
}

// Addr returns the bound address (after Start) or the configured address
// when not yet bound.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.addr
}
