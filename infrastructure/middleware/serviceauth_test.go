package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/evidentia/syncplatform/infrastructure/logging"
)

func testSecret() []byte { return []byte("test-signing-secret-32-bytes-long!!") }

func generateValidSessionToken(t *testing.T, secret []byte, actorID string, expiry time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := &SessionClaims{
		ActorID: actorID,
		Role:    "investigator",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			Issuer:    "evidence-platform",
			Subject:   actorID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return tokenString
}

func generateExpiredSessionToken(t *testing.T, secret []byte, actorID string) string {
	t.Helper()
	now := time.Now()
	claims := &SessionClaims{
		ActorID: actorID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-1 * time.Hour)),
			Issuer:    "evidence-platform",
			Subject:   actorID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return tokenString
}

func newTestSessionAuthMiddleware(t *testing.T, secret []byte, requireUserID bool) *SessionAuthMiddleware {
	t.Helper()
	logger := logging.New("test", "error", "text")
	return NewSessionAuthMiddleware(SessionAuthConfig{
		Secret:        secret,
		Logger:        logger,
		RequireUserID: requireUserID,
		SkipPaths:     []string{"/health"},
	})
}

func TestSessionAuthMiddleware_ValidToken(t *testing.T) {
	secret := testSecret()
	mw := newTestSessionAuthMiddleware(t, secret, false)

	token := generateValidSessionToken(t, secret, "actor-1", 2*time.Hour)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set(ServiceTokenHeader, token)

	rr := httptest.NewRecorder()
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetUserID(r.Context()); got != "actor-1" {
			t.Errorf("expected actor-1, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestSessionAuthMiddleware_BearerHeader(t *testing.T) {
	secret := testSecret()
	mw := newTestSessionAuthMiddleware(t, secret, false)

	token := generateValidSessionToken(t, secret, "actor-2", time.Hour)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rr := httptest.NewRecorder()
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestSessionAuthMiddleware_MissingToken(t *testing.T) {
	mw := newTestSessionAuthMiddleware(t, testSecret(), false)

	req := httptest.NewRequest("GET", "/api/test", nil)
	rr := httptest.NewRecorder()

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestSessionAuthMiddleware_InvalidToken(t *testing.T) {
	mw := newTestSessionAuthMiddleware(t, testSecret(), false)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set(ServiceTokenHeader, "not-a-token")

	rr := httptest.NewRecorder()
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestSessionAuthMiddleware_ExpiredToken(t *testing.T) {
	secret := testSecret()
	mw := newTestSessionAuthMiddleware(t, secret, false)

	token := generateExpiredSessionToken(t, secret, "actor-1")

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set(ServiceTokenHeader, token)

	rr := httptest.NewRecorder()
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestSessionAuthMiddleware_SkipPath(t *testing.T) {
	mw := newTestSessionAuthMiddleware(t, testSecret(), false)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()

	called := false
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(rr, req)

	if !called {
		t.Error("handler should be called for skip path")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestSessionAuthMiddleware_RequireUserID_Missing(t *testing.T) {
	secret := testSecret()
	mw := newTestSessionAuthMiddleware(t, secret, true)

	token := generateValidSessionToken(t, secret, "", time.Hour)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set(ServiceTokenHeader, token)

	rr := httptest.NewRecorder()
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestSessionTokenGenerator_GenerateToken(t *testing.T) {
	secret := testSecret()
	generator := NewSessionTokenGenerator(secret, time.Hour)

	tokenString, err := generator.GenerateToken("actor-9", "admin")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		t.Fatal("invalid claims type")
	}

	if claims.ActorID != "actor-9" {
		t.Errorf("expected actor_id 'actor-9', got %q", claims.ActorID)
	}
	if claims.Role != "admin" {
		t.Errorf("expected role 'admin', got %q", claims.Role)
	}
}

func TestSessionTokenGenerator_DefaultExpiry(t *testing.T) {
	secret := testSecret()
	generator := NewSessionTokenGenerator(secret, 0)

	tokenString, err := generator.GenerateToken("actor-1", "member")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}

	claims := token.Claims.(*SessionClaims)
	if got := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); got != DefaultSessionTokenExpiry {
		t.Errorf("expected default expiry %v, got %v", DefaultSessionTokenExpiry, got)
	}
}

func TestGetUserID(t *testing.T) {
	ctx := context.Background()

	if id := GetUserID(ctx); id != "" {
		t.Errorf("expected empty string, got %q", id)
	}

	ctx = WithUserID(ctx, "actor-123")
	if id := GetUserID(ctx); id != "actor-123" {
		t.Errorf("expected 'actor-123', got %q", id)
	}
}

func TestRequireSessionAuth_WithUserID(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/test", nil)
	ctx := WithUserID(req.Context(), "actor-1")
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	called := false
	handler := RequireSessionAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(rr, req)

	if !called {
		t.Error("handler should be called")
	}
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func TestRequireSessionAuth_WithoutUserID(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/test", nil)
	rr := httptest.NewRecorder()

	handler := RequireSessionAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestSessionAuthMiddleware_TokenCaching(t *testing.T) {
	secret := testSecret()
	mw := newTestSessionAuthMiddleware(t, secret, false)

	token := generateValidSessionToken(t, secret, "actor-1", time.Hour)

	req1 := httptest.NewRequest("GET", "/api/test", nil)
	req1.Header.Set(ServiceTokenHeader, token)
	rr1 := httptest.NewRecorder()

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(rr1, req1)
	if rr1.Code != http.StatusOK {
		t.Errorf("first request: expected status 200, got %d", rr1.Code)
	}

	req2 := httptest.NewRequest("GET", "/api/test", nil)
	req2.Header.Set(ServiceTokenHeader, token)
	rr2 := httptest.NewRecorder()

	handler.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Errorf("second request: expected status 200, got %d", rr2.Code)
	}

	mw.mu.RLock()
	_, cached := mw.validatedTokens[token]
	mw.mu.RUnlock()

	if !cached {
		t.Error("token should be cached")
	}
}

func TestSessionAuthMiddleware_CacheCleanup(t *testing.T) {
	secret := testSecret()
	mw := newTestSessionAuthMiddleware(t, secret, false)

	for i := 0; i < 1010; i++ {
		token := generateValidSessionToken(t, secret, fmt.Sprintf("actor-%d", i), time.Hour)
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.Header.Set(ServiceTokenHeader, token)
		rr := httptest.NewRecorder()

		handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		handler.ServeHTTP(rr, req)
	}

	mw.mu.RLock()
	cacheSize := len(mw.validatedTokens)
	mw.mu.RUnlock()

	if cacheSize == 0 {
		t.Error("cache should not be empty after cleanup")
	}
}

func TestSessionAuthMiddleware_WrongSigningKey(t *testing.T) {
	mw := newTestSessionAuthMiddleware(t, testSecret(), false)

	token := generateValidSessionToken(t, []byte("a-completely-different-secret!!"), "actor-1", time.Hour)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set(ServiceTokenHeader, token)

	rr := httptest.NewRecorder()
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestSessionAuthMiddleware_WrongSigningMethod(t *testing.T) {
	mw := newTestSessionAuthMiddleware(t, testSecret(), false)

	now := time.Now()
	claims := &SessionClaims{
		ActorID: "actor-1",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, _ := token.SignedString(jwt.UnsafeAllowNoneSignatureType)

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set(ServiceTokenHeader, tokenString)

	rr := httptest.NewRecorder()
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestConstants(t *testing.T) {
	if ServiceTokenHeader != "X-Service-Token" {
		t.Errorf("ServiceTokenHeader = %s, want X-Service-Token", ServiceTokenHeader)
	}
	if ServiceIDHeader != "X-Service-ID" {
		t.Errorf("ServiceIDHeader = %s, want X-Service-ID", ServiceIDHeader)
	}
	if UserIDHeader != "X-User-ID" {
		t.Errorf("UserIDHeader = %s, want X-User-ID", UserIDHeader)
	}
	if DefaultSessionTokenExpiry != 12*time.Hour {
		t.Errorf("DefaultSessionTokenExpiry = %v, want 12h", DefaultSessionTokenExpiry)
	}
}
