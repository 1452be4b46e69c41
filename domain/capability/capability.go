// Package capability implements the capability invocation framework: every
// domain operation is declared as a typed capability definition and invoked
// only through Invoke, which enforces context-grade access control and
// threads parent provenance into persisted invocation records.
package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Grade is an actor's trust grade, gating which capabilities it may invoke.
// Grades order A (highest trust) through F (lowest).
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

var gradeRank = map[Grade]int{GradeA: 5, GradeB: 4, GradeC: 3, GradeD: 2, GradeF: 1}

// Meets reports whether g satisfies a required grade (g is at least as
// trusted as required).
func (g Grade) Meets(required Grade) bool {
	return gradeRank[g] >= gradeRank[required]
}

// Status is a capability's lifecycle state.
type Status string

const (
	StatusExperimental Status = "experimental"
	StatusLimited      Status = "limited"
	StatusGeneral      Status = "general"
	StatusDeprecated   Status = "deprecated"
	StatusQuarantined  Status = "quarantined"
)

// ErrorCode identifies why an invocation failed.
type ErrorCode string

const (
	ErrorCodeAccessDenied         ErrorCode = "ACCESS_DENIED"
	ErrorCodeCapabilityQuarantined ErrorCode = "CAPABILITY_QUARANTINED"
	ErrorCodeHandlerFailed        ErrorCode = "HANDLER_FAILED"
)

// Definition is a capability's static declaration.
type Definition struct {
	ID                 string
	Name               string
	Version            string
	Domain             string
	Description        string
	Status             Status
	RequiredGrade      Grade
	Dependencies       []string // capability ids this one requires upstream provenance from
	RolloutRules       []RolloutRule
	Tags               []string
}

// Context is the invocation context: the calling actor's trust grade and
// any parent provenance envelopes already produced upstream in the same
// chain.
type Context struct {
	Grade            Grade
	ParentProvenance map[string]Provenance // keyed by upstream capability id
}

// Provenance is the envelope threaded between chained capability
// invocations, carrying enough to prove a successful upstream call.
type Provenance struct {
	CapabilityID string
	InvocationID string
	Success      bool
	OutputHash   string
}

// Result[T] is the sole return shape of a capability invocation.
// Downstream capabilities that declare an upstream Result[U] dependency can
// only be invoked with a capability.Result[U] value — never a bare U — so
// the anti-bypass rule is enforced by the Go type system itself rather
// than a runtime tag, which resolves the dynamic-language fallback
// mechanism as unnecessary in this implementation (see DESIGN.md).
type Result[T any] struct {
	Value      T
	Err        error
	ErrorCode  ErrorCode
	Provenance Provenance
	Recoverable bool
}

// Succeeded reports whether the invocation produced a usable value.
func (r Result[T]) Succeeded() bool {
	return r.Err == nil && r.Provenance.Success
}

// ErrAccessDenied is returned (wrapped with a reason) when canInvoke fails.
var ErrAccessDenied = errors.New("capability: access denied")

// Handler is a capability's implementation. input is the pre-hashed
// request payload.
type Handler[I, O any] func(ctx context.Context, cctx Context, input I) (O, error)

// CanInvoke evaluates the access-control gate: grade, status, and required
// parent provenance, in that order. It returns a non-nil error (wrapping
// ErrAccessDenied) and the error code to surface on failure.
func CanInvoke(def Definition, cctx Context) (ErrorCode, error) {
	if !cctx.Grade.Meets(def.RequiredGrade) {
		return ErrorCodeAccessDenied, errAccessDenied("context grade " + string(cctx.Grade) + " below required " + string(def.RequiredGrade))
	}
	if def.Status == StatusQuarantined {
		return ErrorCodeCapabilityQuarantined, errAccessDenied("capability " + def.ID + " is quarantined")
	}
	if def.Status == StatusDeprecated {
		return ErrorCodeAccessDenied, errAccessDenied("capability " + def.ID + " is deprecated")
	}
	for _, dep := range def.Dependencies {
		prov, ok := cctx.ParentProvenance[dep]
		if !ok || !prov.Success {
			return ErrorCodeAccessDenied, errAccessDenied("missing or failed parent provenance for dependency " + dep)
		}
	}
	return "", nil
}

func errAccessDenied(reason string) error {
	return errors.New(ErrAccessDenied.Error() + ": " + reason)
}

// Invocation is the persisted record of one capability call.
type Invocation struct {
	ID           string
	CapabilityID string
	InputHash    string
	OutputHash   string
	Success      bool
	ErrorCode    ErrorCode
	DurationMS   int64
	ParentIDs    []string
	StartedAt    time.Time
}

// HashPayload computes the SHA-256 of a sorted-key JSON serialization of
// any JSON-marshalable value, used for both inputHash and outputHash.
func HashPayload(v any) (string, error) {
	var generic any
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	sorted, err := json.Marshal(sortKeys(generic))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(sorted)
	return hex.EncodeToString(sum[:]), nil
}

func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]kv, 0, len(keys))
		for _, k := range keys {
			out = append(out, kv{K: k, V: sortKeys(t[k])})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sortKeys(item)
		}
		return out
	default:
		return t
	}
}

type kv struct {
	K string `json:"k"`
	V any    `json:"v"`
}

// Invoke runs the full invocation contract: canInvoke gate, input hashing,
// handler execution, output hashing on success, and delivery of the
// persisted invocation record via record before returning the result.
func Invoke[I, O any](ctx context.Context, def Definition, cctx Context, input I, handler Handler[I, O], newID func() string, record func(Invocation)) Result[O] {
	started := time.Now()

	if code, err := CanInvoke(def, cctx); err != nil {
		return Result[O]{
			Err:       err,
			ErrorCode: code,
			Provenance: Provenance{CapabilityID: def.ID, InvocationID: newID(), Success: false},
		}
	}

	inputHash, err := HashPayload(input)
	if err != nil {
		return Result[O]{Err: err, ErrorCode: ErrorCodeHandlerFailed}
	}

	invID := newID()
	value, handlerErr := handler(ctx, cctx, input)
	duration := time.Since(started)

	inv := Invocation{
		ID:           invID,
		CapabilityID: def.ID,
		InputHash:    inputHash,
		Success:      handlerErr == nil,
		DurationMS:   duration.Milliseconds(),
		StartedAt:    started,
	}
	for _, dep := range def.Dependencies {
		if prov, ok := cctx.ParentProvenance[dep]; ok {
			inv.ParentIDs = append(inv.ParentIDs, prov.InvocationID)
		}
	}

	if handlerErr != nil {
		inv.ErrorCode = ErrorCodeHandlerFailed
		if record != nil {
			record(inv)
		}
		return Result[O]{
			Err:         handlerErr,
			ErrorCode:   ErrorCodeHandlerFailed,
			Recoverable: true,
			Provenance:  Provenance{CapabilityID: def.ID, InvocationID: invID, Success: false},
		}
	}

	outputHash, err := HashPayload(value)
	if err != nil {
		return Result[O]{Err: err, ErrorCode: ErrorCodeHandlerFailed}
	}
	inv.OutputHash = outputHash
	if record != nil {
		record(inv)
	}

	return Result[O]{
		Value: value,
		Provenance: Provenance{
			CapabilityID: def.ID,
			InvocationID: invID,
			Success:      true,
			OutputHash:   outputHash,
		},
	}
}
