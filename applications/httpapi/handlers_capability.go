package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/evidentia/syncplatform/domain/capability"
	"github.com/evidentia/syncplatform/infrastructure/errors"
	"github.com/evidentia/syncplatform/infrastructure/httputil"
	"github.com/evidentia/syncplatform/infrastructure/middleware"
)

// handleListCapabilities returns every registered capability's static
// declaration.
func (s *Service) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, s.deps.CapabilityRegistry.All())
}

// handleGetCapability returns one capability's declaration plus its
// rollout metrics over the default 168h window.
func (s *Service) handleGetCapability(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, ok := s.deps.CapabilityRegistry.Get(id)
	if !ok {
		writeErr(w, errors.NotFound("capability", id))
		return
	}
	now := s.deps.now()
	invocations, err := s.deps.Capabilities.InvocationsInWindow(r.Context(), id, int(capability.DefaultWindow.Hours()), now)
	if err != nil {
		writeErr(w, errors.DatabaseError("load invocation window", err))
		return
	}
	metrics := capability.ComputeMetrics(invocations)
	writeOK(w, http.StatusOK, map[string]interface{}{"definition": def, "metrics": metrics})
}

// handleInvokeCapability is the generic /v2 dispatch entry: it looks up
// the capability's bound dynamic handler, runs the full Invoke contract
// (CanInvoke gate, input/output hashing, invocation recording), and
// returns the provenance-wrapped envelope regardless of outcome.
func (s *Service) handleInvokeCapability(w http.ResponseWriter, r *http.Request) {
	s.invokeCapability(w, r, mux.Vars(r)["id"])
}

// invokeFixedCapability binds a literal capability id to a route, used by
// the /v2/provenance* aliases so the append/verify operations get the
// capability-wrapped envelope under their own familiar paths instead of
// only through the generic /v2/capabilities/{id}/invoke route.
func (s *Service) invokeFixedCapability(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.invokeCapability(w, r, id)
	}
}

func (s *Service) invokeCapability(w http.ResponseWriter, r *http.Request, id string) {
	def, ok := s.deps.CapabilityRegistry.Get(id)
	if !ok {
		writeErr(w, errors.NotFound("capability", id))
		return
	}
	handler, ok := s.deps.CapabilityRegistry.Handler(id)
	if !ok {
		writeErr(w, errors.NotFound("capability handler", id))
		return
	}

	var input map[string]any
	if !httputil.DecodeJSONOptional(w, r, &input) {
		return
	}

	cctx := capability.Context{Grade: contextGrade(r.Context(), middleware.GetUserRole(r.Context()))}

	result := capability.Invoke(r.Context(), def, cctx, input, handler, s.deps.newID, func(inv capability.Invocation) {
		_ = s.deps.Capabilities.RecordInvocation(r.Context(), inv)
	})

	if result.Err != nil {
		status := statusForCapabilityErrorCode(string(result.ErrorCode))
		writeCapabilityResult(w, http.StatusOK, false, nil, result.Provenance, &envelopeError{
			Message: result.Err.Error(),
			Code:    string(result.ErrorCode),
		}, status)
		return
	}
	writeCapabilityResult(w, http.StatusOK, true, result.Value, result.Provenance, nil, http.StatusOK)
}

// handleRolloutStatus evaluates a capability's rollout rules against its
// current invocation history and reports the transition that would fire,
// without applying it — applying transitions is the scheduled job's job
// (§4.8's hourly capability rollout sweep).
func (s *Service) handleRolloutStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, ok := s.deps.CapabilityRegistry.Get(id)
	if !ok {
		writeErr(w, errors.NotFound("capability", id))
		return
	}
	now := s.deps.now()
	metricsForWindow := func(hours int) capability.Metrics {
		invocations, err := s.deps.Capabilities.InvocationsInWindow(r.Context(), id, hours, now)
		if err != nil {
			return capability.Metrics{}
		}
		return capability.ComputeMetrics(invocations)
	}
	transition, fired := capability.EvaluateRollout(def, def.Status, metricsForWindow, now)
	if !fired {
		writeOK(w, http.StatusOK, map[string]interface{}{"transition": nil, "fired": false})
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"transition": transition, "fired": true})
}

// runRolloutSweep applies every capability's rollout transition that
// fires, called by scheduler.go's hourly job.
func (s *Service) runRolloutSweep(deadline time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	defs, err := s.deps.Capabilities.ListDefinitions(ctx)
	if err != nil {
		return 0, err
	}
	now := s.deps.now()
	applied := 0
	for _, def := range defs {
		metricsForWindow := func(hours int) capability.Metrics {
			invocations, err := s.deps.Capabilities.InvocationsInWindow(ctx, def.ID, hours, now)
			if err != nil {
				return capability.Metrics{}
			}
			return capability.ComputeMetrics(invocations)
		}
		transition, fired := capability.EvaluateRollout(def, def.Status, metricsForWindow, now)
		if !fired {
			continue
		}
		if err := s.deps.Capabilities.SetStatus(ctx, def.ID, transition); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
