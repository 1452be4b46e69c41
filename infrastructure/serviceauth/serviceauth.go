// Package serviceauth carries actor identity (user or service account) through
// request context and HTTP headers. It is intentionally narrow: bearer-token
// verification lives in applications/httpapi (JWT for user sessions, API-key
// hashes for integration callers); this package only defines the header names
// and context plumbing shared by every layer that needs to read or propagate
// "who is making this call".
package serviceauth

import "context"

const (
	// ServiceTokenHeader carries a bearer session token or API key.
	ServiceTokenHeader = "X-Service-Token"

	// ServiceIDHeader identifies the calling service account or integration.
	ServiceIDHeader = "X-Service-ID"

	// UserIDHeader identifies the acting user/session principal.
	UserIDHeader = "X-User-ID"

	// DefaultServiceTokenExpiry is the default lifetime for minted service tokens.
	DefaultServiceTokenExpiry = 0
)

type contextKey int

const (
	userIDKey contextKey = iota
	serviceIDKey
)

// WithUserID returns a context carrying the acting user's identifier.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the acting user's identifier from context, if present.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// WithServiceID returns a context carrying the calling service/integration identifier.
func WithServiceID(ctx context.Context, serviceID string) context.Context {
	return context.WithValue(ctx, serviceIDKey, serviceID)
}

// GetServiceID extracts the calling service/integration identifier from context.
func GetServiceID(ctx context.Context) string {
	v, _ := ctx.Value(serviceIDKey).(string)
	return v
}
