// Package middleware provides HTTP middleware for the evidence platform.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/evidentia/syncplatform/infrastructure/errors"
	internalhttputil "github.com/evidentia/syncplatform/infrastructure/httputil"
	"github.com/evidentia/syncplatform/infrastructure/logging"
	"github.com/evidentia/syncplatform/infrastructure/security"
	"github.com/evidentia/syncplatform/infrastructure/serviceauth"
)

// =============================================================================
// Session Authentication Constants
// =============================================================================

const (
	// ServiceTokenHeader is the header name for bearer session tokens.
	ServiceTokenHeader = serviceauth.ServiceTokenHeader

	// ServiceIDHeader identifies the calling integration/service account.
	ServiceIDHeader = serviceauth.ServiceIDHeader

	// UserIDHeader identifies the acting user.
	UserIDHeader = serviceauth.UserIDHeader

	// DefaultSessionTokenExpiry is the default lifetime for minted session tokens.
	DefaultSessionTokenExpiry = 12 * time.Hour
)

// =============================================================================
// Session Claims
// =============================================================================

// SessionClaims represents the JWT claims embedded in a bearer session token.
type SessionClaims struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// SessionTokenGenerator mints HMAC-signed bearer tokens for authenticated sessions.
type SessionTokenGenerator struct {
	secret []byte
	expiry time.Duration
}

// NewSessionTokenGenerator creates a generator signing tokens with the given secret.
func NewSessionTokenGenerator(secret []byte, expiry time.Duration) *SessionTokenGenerator {
	if expiry <= 0 {
		expiry = DefaultSessionTokenExpiry
	}
	return &SessionTokenGenerator{secret: secret, expiry: expiry}
}

// GenerateToken mints a signed session token for the given actor and role.
func (g *SessionTokenGenerator) GenerateToken(actorID, role string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		ActorID: actorID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.expiry)),
			Issuer:    "evidence-platform",
			Subject:   actorID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// =============================================================================
// Session Auth Middleware
// =============================================================================

// SessionAuthMiddleware authenticates bearer session tokens issued at login.
type SessionAuthMiddleware struct {
	secret          []byte
	logger          *logging.Logger
	requireUserID   bool
	skipPaths       map[string]bool
	mu              sync.RWMutex
	validatedTokens map[string]*cachedToken
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

type cachedToken struct {
	claims    *SessionClaims
	expiresAt time.Time
}

// SessionAuthConfig configures the session authentication middleware.
type SessionAuthConfig struct {
	Secret        []byte
	Logger        *logging.Logger
	RequireUserID bool
	SkipPaths     []string
}

// NewSessionAuthMiddleware creates a session authentication middleware.
func NewSessionAuthMiddleware(cfg SessionAuthConfig) *SessionAuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range cfg.SkipPaths {
		skip[path] = true
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("sessionauth", "info", "json")
	}

	m := &SessionAuthMiddleware{
		secret:          cfg.Secret,
		logger:          logger,
		requireUserID:   cfg.RequireUserID,
		skipPaths:       skip,
		validatedTokens: make(map[string]*cachedToken),
		stopCleanup:     make(chan struct{}),
	}

	m.startBackgroundCleanup()

	return m
}

// Handler returns the middleware handler function.
func (m *SessionAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			m.respondError(w, r, errors.Unauthorized("missing bearer session token"))
			return
		}

		claims, err := m.validateToken(token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("session token validation failed")
			m.respondError(w, r, err)
			return
		}

		if m.requireUserID && claims.ActorID == "" {
			m.respondError(w, r, errors.Unauthorized("token missing actor_id claim"))
			return
		}

		ctx := serviceauth.WithUserID(r.Context(), claims.ActorID)

		m.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"actor_id": claims.ActorID,
			"role":     claims.Role,
		}).Debug("session authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get(ServiceTokenHeader); h != "" {
		return h
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

func (m *SessionAuthMiddleware) validateToken(tokenString string) (*SessionClaims, error) {
	if len(m.secret) == 0 {
		return nil, errors.Internal("session authentication is not configured", nil)
	}

	if cached := m.getCachedToken(tokenString); cached != nil {
		return cached, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}

	if claims.Issuer != "evidence-platform" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid issuer")
	}

	m.cacheToken(tokenString, claims)

	return claims, nil
}

func (m *SessionAuthMiddleware) getCachedToken(tokenString string) *SessionClaims {
	m.mu.RLock()
	cached, ok := m.validatedTokens[tokenString]
	if !ok {
		m.mu.RUnlock()
		return nil
	}

	if time.Now().After(cached.expiresAt) {
		m.mu.RUnlock()
		m.mu.Lock()
		if current, ok := m.validatedTokens[tokenString]; ok && time.Now().After(current.expiresAt) {
			delete(m.validatedTokens, tokenString)
		}
		m.mu.Unlock()
		return nil
	}

	m.mu.RUnlock()
	return cached.claims
}

func (m *SessionAuthMiddleware) cacheToken(tokenString string, claims *SessionClaims) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cacheExpiry := time.Now().Add(5 * time.Minute)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(cacheExpiry) {
		cacheExpiry = claims.ExpiresAt.Time
	}

	m.validatedTokens[tokenString] = &cachedToken{
		claims:    claims,
		expiresAt: cacheExpiry,
	}

	if len(m.validatedTokens) > 1000 {
		m.cleanupCache()
	}
}

func (m *SessionAuthMiddleware) cleanupCache() {
	now := time.Now()
	for key, cached := range m.validatedTokens {
		if now.After(cached.expiresAt) {
			delete(m.validatedTokens, key)
		}
	}
}

func (m *SessionAuthMiddleware) startBackgroundCleanup() {
	m.cleanupOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(2 * time.Minute)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					m.mu.Lock()
					m.cleanupCache()
					m.mu.Unlock()
				case <-m.stopCleanup:
					return
				}
			}
		}()
	})
}

// StopCleanup stops the background cleanup goroutine.
func (m *SessionAuthMiddleware) StopCleanup() {
	select {
	case <-m.stopCleanup:
	default:
		close(m.stopCleanup)
	}
}

// InvalidateCache clears all cached tokens, e.g. after a secret rotation.
func (m *SessionAuthMiddleware) InvalidateCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validatedTokens = make(map[string]*cachedToken)
}

func (m *SessionAuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("session authentication failed", err)
	}

	sanitizedMessage := security.SanitizeString(serviceErr.Message)
	sanitizedDetails := security.SanitizeMap(serviceErr.Details)

	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), sanitizedMessage, sanitizedDetails)

	sanitizedErrMsg := security.SanitizeError(err)
	m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warnf("session authentication failed: %s", sanitizedErrMsg)
}

// =============================================================================
// Helper Functions
// =============================================================================

// GetUserID extracts the acting user ID from context, preferring the logging
// context (set by the gateway) over the serviceauth context.
func GetUserID(ctx context.Context) string {
	if userID := logging.GetUserID(ctx); userID != "" {
		return userID
	}
	return serviceauth.GetUserID(ctx)
}

// GetUserIDFromContext extracts user ID from context.
func GetUserIDFromContext(ctx context.Context) string {
	return GetUserID(ctx)
}

// WithUserID returns a new context with the user ID set.
func WithUserID(ctx context.Context, userID string) context.Context {
	return serviceauth.WithUserID(ctx, userID)
}

// GetUserRole extracts the user role from context when present.
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

// RequireSessionAuth is a simple middleware that requires an authenticated actor
// in context (set by SessionAuthMiddleware upstream, or by an API-key check).
func RequireSessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := GetUserID(r.Context())
		if userID == "" {
			internalhttputil.WriteErrorResponse(w, r, http.StatusUnauthorized, "AUTH_REQUIRED", "authenticated session required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
