package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/evidentia/syncplatform/domain/provenance"
	"github.com/evidentia/syncplatform/infrastructure/errors"
	"github.com/evidentia/syncplatform/infrastructure/httputil"
)

type appendProvenanceRequest struct {
	EntityType    string            `json:"entityType"`
	EntityID      string            `json:"entityId"`
	Action        string            `json:"action"`
	ActorID       string            `json:"actorId"`
	SessionID     string            `json:"sessionId"`
	PreviousState map[string]any    `json:"previousState"`
	NewState      map[string]any    `json:"newState"`
	Attestations  map[string]string `json:"attestations"`
}

// handleAppendProvenance hashes previous/new state and the delta between
// them, then appends a chain-linked record.
func (s *Service) handleAppendProvenance(w http.ResponseWriter, r *http.Request) {
	var req appendProvenanceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		writeErr(w, errors.MissingParameter("entityType/entityId"))
		return
	}

	prevHash, err := provenance.HashState(req.PreviousState)
	if err != nil {
		writeErr(w, errors.InvalidInput("previousState", err.Error()))
		return
	}
	newHash, err := provenance.HashState(req.NewState)
	if err != nil {
		writeErr(w, errors.InvalidInput("newState", err.Error()))
		return
	}
	delta, err := provenance.Delta(req.PreviousState, req.NewState)
	if err != nil {
		writeErr(w, errors.InvalidInput("state", err.Error()))
		return
	}

	record := provenance.Record{
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		Action:            req.Action,
		ActorID:           req.ActorID,
		SessionID:         req.SessionID,
		PreviousStateHash: prevHash,
		NewStateHash:      newHash,
		Delta:             delta,
		Attestations:      req.Attestations,
		RecordedAt:        s.deps.now(),
	}
	saved, err := s.deps.Provenance.Append(r.Context(), record)
	if err != nil {
		writeErr(w, errors.DatabaseError("append provenance record", err))
		return
	}
	writeOK(w, http.StatusCreated, saved)
}

func (s *Service) handleProvenanceChain(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chain, err := s.deps.Provenance.Chain(r.Context(), vars["entityType"], vars["entityId"])
	if err != nil {
		writeErr(w, errors.DatabaseError("load provenance chain", err))
		return
	}
	writeOK(w, http.StatusOK, chain)
}

// handleVerifyProvenance walks the chain for hash breaks and reports the
// first one found, if any.
func (s *Service) handleVerifyProvenance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := s.deps.Provenance.Verify(r.Context(), vars["entityType"], vars["entityId"])
	if err != nil {
		writeErr(w, errors.DatabaseError("verify provenance chain", err))
		return
	}
	writeOK(w, http.StatusOK, result)
}

type certifyProvenanceRequest struct {
	Notes string `json:"notes"`
}

func (s *Service) handleCertifyProvenance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req certifyProvenanceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	record, err := s.deps.Provenance.Certify(r.Context(), vars["entityType"], vars["entityId"], req.Notes)
	if err != nil {
		writeErr(w, errors.InvalidInput("chain", err.Error()))
		return
	}
	writeOK(w, http.StatusCreated, record)
}
