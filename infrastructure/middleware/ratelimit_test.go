package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/evidentia/syncplatform/infrastructure/logging"
)

func singleClassLimiter(capacity int, window time.Duration, logger *logging.Logger) *RateLimiter {
	return NewRouteClassLimiter(map[RouteClass]ClassLimit{
		ClassDefault: {Capacity: capacity, Window: window},
	}, nil, logger)
}

func TestNewRouteClassLimiter(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(20, time.Second, logger)

	if rl == nil {
		t.Fatal("NewRouteClassLimiter() returned nil")
	}
	if rl.logger != logger {
		t.Error("logger not set correctly")
	}
	if rl.buckets == nil {
		t.Error("buckets map not initialized")
	}
}

func TestRateLimiter_getBucket(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(20, time.Second, logger)

	b1 := rl.getBucket(ClassDefault, "key1")
	if b1 == nil {
		t.Fatal("getBucket() returned nil")
	}

	b2 := rl.getBucket(ClassDefault, "key1")
	if b1 != b2 {
		t.Error("getBucket() returned different bucket for same key")
	}

	b3 := rl.getBucket(ClassDefault, "key2")
	if b1 == b3 {
		t.Error("getBucket() returned same bucket for different keys")
	}

	if rl.LimiterCount() != 2 {
		t.Errorf("bucket count = %d, want 2", rl.LimiterCount())
	}
}

func TestRateLimiter_getBucket_SeparatesClasses(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := NewRouteClassLimiter(DefaultClassLimits(), nil, logger)

	mint := rl.getBucket(ClassChittyIDMint, "client-1")
	api := rl.getBucket(ClassAPI, "client-1")

	if mint == api {
		t.Error("getBucket() shared a bucket across route classes for the same identifier")
	}
	if mint.limit.Capacity != DefaultClassLimits()[ClassChittyIDMint].Capacity {
		t.Errorf("chittyid_mint capacity = %d, want %d", mint.limit.Capacity, DefaultClassLimits()[ClassChittyIDMint].Capacity)
	}
}

func TestRateLimiter_Handler_AllowsRequests(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(100, time.Second, logger)

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "100" {
		t.Errorf("X-RateLimit-Limit = %q, want 100", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimiter_Handler_BlocksExcessiveRequests(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(1, time.Second, logger) // burst of 1

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req1 := httptest.NewRequest("GET", "/api/test", nil)
	req1.RemoteAddr = "192.168.1.1:12345"
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)

	if rec1.Code != http.StatusOK {
		t.Errorf("First request status = %d, want %d", rec1.Code, http.StatusOK)
	}

	req2 := httptest.NewRequest("GET", "/api/test", nil)
	req2.RemoteAddr = "192.168.1.1:12345"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("Second request status = %d, want %d", rec2.Code, http.StatusTooManyRequests)
	}
	if rec2.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", rec2.Header().Get("X-RateLimit-Remaining"))
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on a denied request")
	}
}

func TestRateLimiter_Handler_UsesUserID(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(1, time.Second, logger)

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ctx := logging.WithUserID(context.Background(), "user-123")
	req1 := httptest.NewRequest("GET", "/api/test", nil)
	req1 = req1.WithContext(ctx)
	req1.RemoteAddr = "192.168.1.1:12345"
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)

	if rec1.Code != http.StatusOK {
		t.Errorf("First request status = %d, want %d", rec1.Code, http.StatusOK)
	}

	// Same user ID from a different IP still shares the bucket.
	req2 := httptest.NewRequest("GET", "/api/test", nil)
	req2 = req2.WithContext(ctx)
	req2.RemoteAddr = "192.168.1.2:12345"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("Second request status = %d, want %d", rec2.Code, http.StatusTooManyRequests)
	}
}

func TestRateLimiter_Handler_DifferentIPsIndependent(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(1, time.Second, logger)

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req1 := httptest.NewRequest("GET", "/api/test", nil)
	req1.RemoteAddr = "192.168.1.1:12345"
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)

	if rec1.Code != http.StatusOK {
		t.Errorf("IP1 first request status = %d, want %d", rec1.Code, http.StatusOK)
	}

	req2 := httptest.NewRequest("GET", "/api/test", nil)
	req2.RemoteAddr = "192.168.1.2:12345"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Errorf("IP2 first request status = %d, want %d", rec2.Code, http.StatusOK)
	}
}

func TestRateLimiter_Handler_BurstAllowance(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(3, time.Second, logger)

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Request %d status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	req4 := httptest.NewRequest("GET", "/api/test", nil)
	req4.RemoteAddr = "192.168.1.1:12345"
	rec4 := httptest.NewRecorder()
	handler.ServeHTTP(rec4, req4)

	if rec4.Code != http.StatusTooManyRequests {
		t.Errorf("4th request status = %d, want %d", rec4.Code, http.StatusTooManyRequests)
	}
}

// TestRateLimiter_ChittyIDMintScenario exercises the spec's restrictive-class
// scenario directly: capacity=10 over a 60s window, 11 requests from the
// same client in under a second. The first 10 succeed on the initial burst;
// the 11th is denied with Retry-After close to window/capacity (6s) and
// X-RateLimit-Remaining at 0.
func TestRateLimiter_ChittyIDMintScenario(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := NewRouteClassLimiter(map[RouteClass]ClassLimit{
		ClassChittyIDMint: {Capacity: 10, Window: 60 * time.Second},
	}, func(r *http.Request) RouteClass { return ClassChittyIDMint }, logger)

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var lastRec *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest("POST", "/documents", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i < 10 {
			if rec.Code != http.StatusOK {
				t.Fatalf("request %d status = %d, want %d", i+1, rec.Code, http.StatusOK)
			}
		}
		lastRec = rec
	}

	if lastRec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th request status = %d, want %d", lastRec.Code, http.StatusTooManyRequests)
	}
	if lastRec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", lastRec.Header().Get("X-RateLimit-Remaining"))
	}
	retryAfter, err := strconv.Atoi(lastRec.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After not an integer: %v", err)
	}
	if retryAfter < 4 || retryAfter > 8 {
		t.Errorf("Retry-After = %d, want roughly 6", retryAfter)
	}
}

func TestRateLimiter_Handler_ExemptClassBypassesLimiting(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := NewRouteClassLimiter(DefaultClassLimits(), func(r *http.Request) RouteClass {
		if r.URL.Path == "/health" {
			return ClassExempt
		}
		return ClassDefault
	}, logger)

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 500; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("exempt request %d status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(20, time.Second, logger)
	rl.SetMaxSize(10000)

	for i := 0; i < 15000; i++ {
		rl.getBucket(ClassDefault, string(rune(i)))
	}

	initialSize := rl.LimiterCount()
	if initialSize < 10000 {
		t.Errorf("Initial size = %d, expected > 10000", initialSize)
	}

	rl.Cleanup()

	finalSize := rl.LimiterCount()
	if finalSize != 0 {
		t.Errorf("Final size = %d, want 0 after exceeding max size", finalSize)
	}
}

func TestRateLimiter_Cleanup_NoResetIfSmall(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(20, time.Second, logger)
	rl.SetMaxSize(10000)

	for i := 0; i < 100; i++ {
		rl.getBucket(ClassDefault, string(rune(i)))
	}

	initialSize := rl.LimiterCount()

	rl.Cleanup()

	finalSize := rl.LimiterCount()
	if finalSize != initialSize {
		t.Errorf("Size changed from %d to %d, should remain unchanged", initialSize, finalSize)
	}
}

func TestRateLimiter_Cleanup_EvictsExpiredByTTL(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(20, time.Second, logger)
	rl.SetLimiterTTL(10 * time.Millisecond)

	rl.getBucket(ClassDefault, "stale-key")
	time.Sleep(20 * time.Millisecond)

	rl.Cleanup()

	if rl.LimiterCount() != 0 {
		t.Errorf("bucket count = %d, want 0 after TTL eviction", rl.LimiterCount())
	}
}

func TestRateLimiter_StartCleanup(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(20, time.Second, logger)
	rl.SetMaxSize(10000)

	for i := 0; i < 15000; i++ {
		rl.getBucket(ClassDefault, string(rune(i)))
	}

	stop := rl.StartCleanup(10 * time.Millisecond)
	t.Cleanup(stop)

	time.Sleep(50 * time.Millisecond)

	finalSize := rl.LimiterCount()
	if finalSize > 10000 {
		t.Errorf("Final size = %d, expected cleanup to have run", finalSize)
	}
}

func TestRateLimiter_Handler_ContentType(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(1, time.Second, logger)

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req1 := httptest.NewRequest("GET", "/api/test", nil)
	req1.RemoteAddr = "192.168.1.1:12345"
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)

	req2 := httptest.NewRequest("GET", "/api/test", nil)
	req2.RemoteAddr = "192.168.1.1:12345"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	contentType := rec2.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %v, want application/json", contentType)
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(100, time.Second, logger)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				rl.getBucket(ClassDefault, string(rune(id)))
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if rl.LimiterCount() != 10 {
		t.Errorf("bucket count = %d, want 10", rl.LimiterCount())
	}
}

func TestRateLimiter_Handler_PreservesContext(t *testing.T) {
	logger := logging.New("test", "info", "json")
	rl := singleClassLimiter(100, time.Second, logger)

	var capturedTraceID string
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedTraceID = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	ctx := logging.WithTraceID(context.Background(), "trace-789")
	req := httptest.NewRequest("GET", "/api/test", nil)
	req = req.WithContext(ctx)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if capturedTraceID != "trace-789" {
		t.Errorf("Trace ID = %v, want trace-789", capturedTraceID)
	}
}
