// Package identifier implements the pure validation and fallback-decoding
// logic for canonical platform identifiers ("ChittyID"s). Minting and
// remote validation live in infrastructure/identifierclient; this package
// never performs I/O.
package identifier

import (
	"regexp"
	"strings"
)

// ID is an opaque, authority-minted identifier string.
type ID string

// canonicalPattern matches the wire format:
// XX-X-XXX-XXXX-X-XXXXXX-X-X (case-insensitive).
var canonicalPattern = regexp.MustCompile(`^[A-Z0-9]{2}-[0-9]-[A-Z0-9]{3}-[0-9]{4}-[A-Z0-9]-[0-9]{6}-[0-9]-[0-9]$`)

// Reserved version spaces and command prefixes are never minted by client
// code; they are tagged as reserved rather than rejected outright.
const (
	ReservedVersionSystem = "00"
	ReservedVersionTest   = "99"
)

var reservedPrefixes = []string{"00-0-SYS", "00-0-ADM", "99-9-TST"}

var suspiciousSubstrings = []string{
	"--", ";", "'", "\"", "<script", "</script", "../", "..\\", "drop table",
	"select ", "union ", "%00", "%3c", "%3e", "\\x", "&#x",
}

// State models the incoming-identifier lifecycle:
// UNKNOWN -> FALLBACK?/RESERVED?/FORMAT_OK -> REMOTE_VALID -> USABLE.
type State int

const (
	StateUnknown State = iota
	StateFallback
	StateReserved
	StateFormatOK
	StateRemoteValid
	StateUsable
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateFallback:
		return "fallback"
	case StateReserved:
		return "reserved"
	case StateFormatOK:
		return "format_ok"
	case StateRemoteValid:
		return "remote_valid"
	case StateUsable:
		return "usable"
	default:
		return "invalid"
	}
}

// GateError reports why formatGate rejected a candidate identifier.
type GateError struct {
	Reason string
}

func (e *GateError) Error() string { return "invalid identifier format: " + e.Reason }

// FormatGate rejects non-canonical identifiers. Reserved patterns bypass
// the regex but are tagged as reserved by IsReserved, not accepted as
// generally usable.
func FormatGate(raw string) (State, error) {
	if raw == "" {
		return StateInvalid, &GateError{Reason: "empty"}
	}
	if len(raw) > 50 {
		return StateInvalid, &GateError{Reason: "too long"}
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return StateInvalid, &GateError{Reason: "control character"}
		}
	}
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "%") || strings.Contains(lower, "\\u") || strings.Contains(lower, "0x") {
		return StateInvalid, &GateError{Reason: "encoded payload"}
	}
	for _, sub := range suspiciousSubstrings {
		if strings.Contains(lower, sub) {
			return StateInvalid, &GateError{Reason: "suspicious substring"}
		}
	}

	upper := strings.ToUpper(raw)
	if IsReservedPrefix(upper) {
		return StateReserved, nil
	}
	if !canonicalPattern.MatchString(upper) {
		return StateInvalid, &GateError{Reason: "does not match canonical pattern"}
	}
	if version := versionSegment(upper); version == ReservedVersionSystem || version == ReservedVersionTest {
		return StateReserved, nil
	}
	return StateFormatOK, nil
}

func versionSegment(canonical string) string {
	parts := strings.Split(canonical, "-")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// IsReservedPrefix reports whether raw (upper-cased) begins with one of the
// reserved command prefixes.
func IsReservedPrefix(upper string) bool {
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// FallbackKind classifies the transport-layer condition a fallback sentinel
// represents.
type FallbackKind string

const (
	FallbackError     FallbackKind = "error"
	FallbackCircuit   FallbackKind = "circuit"
	FallbackDegraded  FallbackKind = "degraded"
	FallbackRecovery  FallbackKind = "recovery"
)

// FallbackAction is the suggested client behavior for a decoded fallback.
type FallbackAction string

const (
	ActionWaitAndRetry        FallbackAction = "wait_and_retry"
	ActionExponentialBackoff  FallbackAction = "exponential_backoff"
	ActionUseFallback         FallbackAction = "use_fallback"
	ActionUseCache            FallbackAction = "use_cache"
	ActionPromptAuthentication FallbackAction = "prompt_authentication"
	ActionFail                FallbackAction = "fail"
)

// Fallback is the decoded meaning of a sentinel fallback identifier.
type Fallback struct {
	Type       FallbackKind
	HTTPStatus int
	Name       string
	Action     FallbackAction
	Retryable  bool
	Message    string
}

// fallbackCatalogue is the fixed set of sentinel identifiers the remote
// authority may return in place of a minted id, encoding transport-layer
// states rather than entities.
var fallbackCatalogue = map[string]Fallback{
	"FB-0-SVC-0001-A-000000-0-0": {Type: FallbackError, HTTPStatus: 503, Name: "service_down", Action: ActionExponentialBackoff, Retryable: true, Message: "identifier service unavailable"},
	"FB-0-SVC-0002-A-000000-0-0": {Type: FallbackDegraded, HTTPStatus: 503, Name: "maintenance", Action: ActionUseCache, Retryable: true, Message: "identifier service in maintenance"},
	"FB-0-SVC-0003-A-000000-0-0": {Type: FallbackError, HTTPStatus: 429, Name: "rate_limited", Action: ActionWaitAndRetry, Retryable: true, Message: "identifier service rate limited"},
	"FB-0-CIR-0004-A-000000-0-0": {Type: FallbackCircuit, HTTPStatus: 503, Name: "circuit_open", Action: ActionUseFallback, Retryable: true, Message: "identifier service circuit open"},
	"FB-0-SVC-0005-A-000000-0-0": {Type: FallbackError, HTTPStatus: 401, Name: "unauthenticated", Action: ActionPromptAuthentication, Retryable: false, Message: "identifier service rejected credentials"},
	"FB-0-REC-0006-A-000000-0-0": {Type: FallbackRecovery, HTTPStatus: 200, Name: "recovered", Action: ActionUseCache, Retryable: false, Message: "identifier service recovering, using cached state"},
}

// DecodeFallback maps a well-known sentinel to its decoded meaning. ok is
// false when raw is not a recognized fallback sentinel.
func DecodeFallback(raw string) (Fallback, bool) {
	fb, ok := fallbackCatalogue[strings.ToUpper(raw)]
	return fb, ok
}

// IsFallback reports whether raw is a recognized fallback sentinel.
func IsFallback(raw string) bool {
	_, ok := DecodeFallback(raw)
	return ok
}
