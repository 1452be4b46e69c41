package httpapi

import (
	"net/http"
	"time"

	"github.com/evidentia/syncplatform/infrastructure/errors"
	"github.com/evidentia/syncplatform/infrastructure/httputil"
)

// envelope is the uniform response body described for the core routes:
// {success, data?, error?, timestamp}. The capability-wrapped /v2 surface
// uses capabilityEnvelope instead, which carries a provenance block.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *envelopeError `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// envelopeError is the {error, code} pair surfaced on failure, per §7:
// never a stack trace, only a human string and the enum code name.
type envelopeError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func writeOK(w http.ResponseWriter, status int, data interface{}) {
	httputil.WriteJSON(w, status, envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeErr maps err to its declared HTTP status (§7/§4.12: ACCESS_DENIED ->
// 403, validation -> 400, unknown resource -> 404, rate-limited -> 429,
// internal -> 500) and writes the uniform failure envelope.
func writeErr(w http.ResponseWriter, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("unexpected error", err)
	}
	httputil.WriteJSON(w, serviceErr.HTTPStatus, envelope{
		Success: false,
		Error: &envelopeError{
			Message: serviceErr.Message,
			Code:    string(serviceErr.Code),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// capabilityEnvelope is the response shape for /v2/* routes: the invocation
// result plus the provenance envelope threaded for chained calls.
type capabilityEnvelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      *envelopeError `json:"error,omitempty"`
	Provenance interface{} `json:"provenance"`
	Timestamp  string      `json:"timestamp"`
}

func writeCapabilityResult(w http.ResponseWriter, okStatus int, success bool, data, provenance interface{}, failErr *envelopeError, failStatus int) {
	status := okStatus
	if !success {
		status = failStatus
	}
	httputil.WriteJSON(w, status, capabilityEnvelope{
		Success:    success,
		Data:       data,
		Error:      failErr,
		Provenance: provenance,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// statusForCapabilityError maps a capability.ErrorCode to the HTTP status
// §4.12 declares for it.
func statusForCapabilityErrorCode(code string) int {
	switch code {
	case "ACCESS_DENIED", "CAPABILITY_QUARANTINED":
		return http.StatusForbidden
	case "HANDLER_FAILED":
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
