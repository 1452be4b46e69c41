// Package httpapi exposes the evidence platform's HTTP surface (§4.12):
// the core document/gap/duplicate/correction/provenance/sync routes plus
// the capability-wrapped /v2 surface, wired to the domain packages and
// their PostgreSQL-backed stores.
package httpapi

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/evidentia/syncplatform/domain/capability"
	"github.com/evidentia/syncplatform/domain/distribution"
	"github.com/evidentia/syncplatform/domain/pipeline"
	"github.com/evidentia/syncplatform/domain/sync"
	"github.com/evidentia/syncplatform/infrastructure/cache"
	"github.com/evidentia/syncplatform/infrastructure/identifierclient"
	"github.com/evidentia/syncplatform/infrastructure/logging"
	"github.com/evidentia/syncplatform/infrastructure/metrics"
	"github.com/evidentia/syncplatform/infrastructure/objectstore"
	"github.com/evidentia/syncplatform/infrastructure/state"
	"github.com/evidentia/syncplatform/storage/postgres"
)

// DynamicHandler is a capability implementation type-erased to a JSON
// object in, JSON object out, so the HTTP surface can dispatch any
// registered capability through a single generic capability.Invoke call
// without a per-capability handler signature.
type DynamicHandler = capability.Handler[map[string]any, map[string]any]

// CapabilityRegistry holds every registered capability definition keyed by
// id, the static table the rollout engine and CanInvoke gate both read,
// plus the dynamic handler each capability's route dispatches through.
type CapabilityRegistry struct {
	defs     map[string]capability.Definition
	handlers map[string]DynamicHandler
}

// NewCapabilityRegistry builds a registry from the platform's declared
// capabilities.
func NewCapabilityRegistry(defs ...capability.Definition) *CapabilityRegistry {
	r := &CapabilityRegistry{
		defs:     make(map[string]capability.Definition, len(defs)),
		handlers: make(map[string]DynamicHandler, len(defs)),
	}
	for _, d := range defs {
		r.defs[d.ID] = d
	}
	return r
}

// Get returns a capability definition by id.
func (r *CapabilityRegistry) Get(id string) (capability.Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// All returns every registered definition.
func (r *CapabilityRegistry) All() []capability.Definition {
	out := make([]capability.Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// Bind attaches the dynamic handler a capability id dispatches through.
func (r *CapabilityRegistry) Bind(id string, handler DynamicHandler) {
	r.handlers[id] = handler
}

// Handler returns the dynamic handler bound to id.
func (r *CapabilityRegistry) Handler(id string) (DynamicHandler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

// Dependencies bundles every collaborator the HTTP surface needs: stores,
// domain registries, and the pipeline orchestrator. Handlers take this as
// a single struct so construction stays in one place (cmd/server) and
// tests can substitute fakes per field.
type Dependencies struct {
	DB *sql.DB

	Documents   *postgres.DocumentStore
	Entities    *postgres.EntityStore
	Authorities *postgres.AuthorityGrantStore
	Gaps        *postgres.GapStore
	Duplicates  *postgres.DuplicateStore
	ScanStates  *postgres.ScanStateStore
	Corrections *postgres.CorrectionStore
	QueueItems  *postgres.QueueItemStore
	Capabilities *postgres.CapabilityStore
	Sessions    *postgres.SessionStore
	Projects    *postgres.ProjectStore
	Distribution *postgres.DistributionStore
	Provenance  *postgres.ProvenanceStore
	KV          *postgres.KVBackend

	Pipeline     *pipeline.Pipeline
	SessionRegistry *sync.Registry
	Consolidator *sync.Consolidator
	Lease        *state.Lease

	CapabilityRegistry *CapabilityRegistry
	IdentifierClient   *identifierclient.Client
	BlobStore          objectstore.Store
	DistributionSender  distribution.Sender

	Logger  *logging.Logger
	Metrics *metrics.Metrics

	NewID func() string
	Now   func() time.Time

	RetentionDays int // capability invocation prune window, default 90

	SearchCache *cache.TTLCache // optional; nil disables result caching
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *Dependencies) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

// contextGrade derives the invoking actor's capability.Grade from the
// authenticated session, defaulting to the lowest trust grade for
// unauthenticated or service-to-service calls that reach a capability
// route without a session role.
func contextGrade(ctx context.Context, role string) capability.Grade {
	switch role {
	case "admin":
		return capability.GradeA
	case "service":
		return capability.GradeB
	case "user":
		return capability.GradeC
	default:
		return capability.GradeD
	}
}
