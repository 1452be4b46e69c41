// Package middleware provides HTTP middleware for the service layer
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/evidentia/syncplatform/infrastructure/errors"
	internalhttputil "github.com/evidentia/syncplatform/infrastructure/httputil"
	"github.com/evidentia/syncplatform/infrastructure/logging"
)

// RouteClass buckets requests into the rate-limit dimension the token
// buckets are keyed on, alongside the caller identifier. A request is
// classified before its bucket is looked up so distinct route shapes never
// share capacity.
type RouteClass string

const (
	// ClassMCPToolsCall covers the generic capability-invocation surface
	// (/v2/capabilities/{id}/invoke and friends), which dispatches
	// arbitrary tool-shaped work through one handler.
	ClassMCPToolsCall RouteClass = "mcp_tools_call"
	// ClassChittyIDMint covers routes that mint a new evidence identifier
	// (document ingest and bulk collection), the most restrictive class
	// since a minted identifier is a scarce, costly-to-revoke resource.
	ClassChittyIDMint RouteClass = "chittyid_mint"
	// ClassAPI covers the core mutating REST surface.
	ClassAPI RouteClass = "api"
	// ClassDefault covers everything else, read paths and any route not
	// otherwise classified.
	ClassDefault RouteClass = "default"
	// ClassAuthenticatedOverride replaces ClassAPI/ClassDefault for a
	// request carrying a verified caller identity, granting it a looser
	// budget than the same route gets from an anonymous client.
	ClassAuthenticatedOverride RouteClass = "authenticated_override"

	// ClassExempt is returned by a Classifier to skip rate limiting
	// entirely (health checks and other monitoring endpoints).
	ClassExempt RouteClass = ""
)

// ClassLimit is one route class's token bucket shape: capacity tokens,
// refilled at capacity/window tokens per second.
type ClassLimit struct {
	Capacity int
	Window   time.Duration
}

// DefaultClassLimits returns the platform's stock per-class budgets.
// ChittyIDMint is deliberately the tightest: minting is the one operation
// that creates a durable, globally-visible identifier.
func DefaultClassLimits() map[RouteClass]ClassLimit {
	return map[RouteClass]ClassLimit{
		ClassMCPToolsCall:          {Capacity: 60, Window: time.Minute},
		ClassChittyIDMint:          {Capacity: 10, Window: time.Minute},
		ClassAPI:                   {Capacity: 300, Window: time.Minute},
		ClassDefault:               {Capacity: 100, Window: time.Minute},
		ClassAuthenticatedOverride: {Capacity: 600, Window: time.Minute},
	}
}

// Classifier maps an inbound request to the route class its bucket lookup
// should use. Returning ClassExempt ("") skips rate limiting for that
// request entirely.
type Classifier func(r *http.Request) RouteClass

// RateLimiter provides per-(route class, identifier) token bucket rate
// limiting. Each class owns its own capacity/window; buckets are created
// lazily per identifier and refill continuously via golang.org/x/time/rate.
type RateLimiter struct {
	mu       sync.RWMutex
	buckets  map[string]*classBucket
	limits   map[RouteClass]ClassLimit
	classify Classifier
	logger   *logging.Logger

	maxSize    int
	limiterTTL time.Duration
}

type classBucket struct {
	limiter    *rate.Limiter
	limit      ClassLimit
	lastAccess time.Time
}

// NewRateLimiter creates a single-class rate limiter: every request shares
// one bucket per identifier regardless of route.
func NewRateLimiter(requestsPerSecond, burst int, logger *logging.Logger) *RateLimiter {
	window := time.Second
	capacity := burst
	if requestsPerSecond > 0 {
		window = time.Duration(float64(capacity) / float64(requestsPerSecond) * float64(time.Second))
		if window <= 0 {
			window = time.Second
		}
	}
	return NewRouteClassLimiter(map[RouteClass]ClassLimit{
		ClassDefault: {Capacity: capacity, Window: window},
	}, nil, logger)
}

// NewRateLimiterWithWindow creates a single-class rate limiter configured by
// a fixed window and request budget, e.g. 100 requests per 1 minute.
func NewRateLimiterWithWindow(limit int, window time.Duration, burst int, logger *logging.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	return NewRouteClassLimiter(map[RouteClass]ClassLimit{
		ClassDefault: {Capacity: limit, Window: window},
	}, nil, logger)
}

// NewRouteClassLimiter builds a RateLimiter with one token bucket config per
// RouteClass. classify assigns each request to a class; a nil classify
// always uses ClassDefault. limits missing a class fall back to
// ClassDefault's shape at lookup time.
func NewRouteClassLimiter(limits map[RouteClass]ClassLimit, classify Classifier, logger *logging.Logger) *RateLimiter {
	if classify == nil {
		classify = func(*http.Request) RouteClass { return ClassDefault }
	}
	return &RateLimiter{
		buckets:  make(map[string]*classBucket),
		limits:   limits,
		classify: classify,
		logger:   logger,
	}
}

// SetMaxSize bounds the number of distinct (class, identifier) buckets kept
// in memory; Cleanup resets the whole map once the bound is exceeded.
func (rl *RateLimiter) SetMaxSize(n int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.maxSize = n
}

// SetLimiterTTL sets how long an idle bucket is kept before Cleanup evicts
// it.
func (rl *RateLimiter) SetLimiterTTL(ttl time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiterTTL = ttl
}

// LimiterCount returns the number of active (class, identifier) buckets.
func (rl *RateLimiter) LimiterCount() int {
	if rl == nil {
		return 0
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

func bucketKey(class RouteClass, identifier string) string {
	return string(class) + "|" + identifier
}

// getBucket returns (creating if needed) the token bucket for a
// (class, identifier) pair, falling back to ClassDefault's shape for an
// unconfigured class so a classifier typo fails open rather than panicking.
func (rl *RateLimiter) getBucket(class RouteClass, identifier string) *classBucket {
	key := bucketKey(class, identifier)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, ok := rl.buckets[key]; ok {
		b.lastAccess = time.Now()
		return b
	}

	limit, ok := rl.limits[class]
	if !ok {
		limit = rl.limits[ClassDefault]
		if limit.Capacity <= 0 {
			limit = ClassLimit{Capacity: 100, Window: time.Minute}
		}
	}
	if limit.Window <= 0 {
		limit.Window = time.Minute
	}
	if limit.Capacity <= 0 {
		limit.Capacity = 1
	}

	refillPerSecond := float64(limit.Capacity) / limit.Window.Seconds()
	b := &classBucket{
		limiter:    rate.NewLimiter(rate.Limit(refillPerSecond), limit.Capacity),
		limit:      limit,
		lastAccess: time.Now(),
	}
	rl.buckets[key] = b
	return b
}

// identifierFor picks the bucket key per request: the authenticated
// caller's id when present, otherwise the client IP.
func identifierFor(r *http.Request) string {
	key := GetUserID(r.Context())
	if key == "" {
		key = internalhttputil.ClientIP(r)
	}
	if key == "" {
		key = "unknown"
	}
	return key
}

// Handler returns the rate limiting middleware handler. Requests the
// classifier exempts (ClassExempt) bypass limiting entirely; everything
// else is checked against its (class, identifier) bucket and, on success,
// carries X-RateLimit-* response headers. A denied request gets a 429 with
// Retry-After computed from the bucket's actual refill timing, not a fixed
// window.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := rl.classify(r)
		if class == ClassExempt {
			next.ServeHTTP(w, r)
			return
		}

		identifier := identifierFor(r)
		bucket := rl.getBucket(class, identifier)

		now := time.Now()
		reservation := bucket.limiter.ReserveN(now, 1)
		if !reservation.OK() {
			// Requested cost exceeds burst capacity outright; fail open
			// rather than block the caller on an unsatisfiable reservation.
			next.ServeHTTP(w, r)
			return
		}

		delay := reservation.DelayFrom(now)
		remaining := int(bucket.limiter.TokensAt(now))
		if remaining < 0 {
			remaining = 0
		}

		if delay > 0 {
			reservation.CancelAt(now)

			if rl.logger != nil {
				rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
					"identifier": identifier,
					"class":      string(class),
					"path":       r.URL.Path,
					"method":     r.Method,
				})
			}

			retryAfter := int(delay.Round(time.Second).Seconds())
			if retryAfter <= 0 {
				retryAfter = 1
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(bucket.limit.Capacity))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(delay).Unix(), 10))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			serviceErr := errors.RateLimitExceeded(bucket.limit.Capacity, bucket.limit.Window.String())
			internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(bucket.limit.Capacity))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(bucket.limit.Window).Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

// Cleanup removes stale buckets: any idle past LimiterTTL, or the whole map
// once MaxSize is exceeded (should be called periodically via
// StartCleanup).
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.limiterTTL > 0 {
		cutoff := time.Now().Add(-rl.limiterTTL)
		for key, b := range rl.buckets {
			if b.lastAccess.Before(cutoff) {
				delete(rl.buckets, key)
			}
		}
	}

	if rl.maxSize > 0 && len(rl.buckets) > rl.maxSize {
		rl.buckets = make(map[string]*classBucket)
	}
}

// StartCleanup starts a background goroutine to periodically cleanup old
// limiters.
func (rl *RateLimiter) StartCleanup(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
