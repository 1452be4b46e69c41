package httpapi

import (
	"database/sql"
	"encoding/base64"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/evidentia/syncplatform/domain/pipeline"
	"github.com/evidentia/syncplatform/infrastructure/errors"
	"github.com/evidentia/syncplatform/infrastructure/httputil"
	"github.com/evidentia/syncplatform/storage/postgres"
)

// ingestRequest is the wire shape for POST /documents and POST /collect.
type ingestRequest struct {
	Identifier string         `json:"identifier"`
	FileName   string         `json:"fileName"`
	MimeType   string         `json:"mimeType"`
	Type       string         `json:"type"`
	Content    string         `json:"content"` // base64
	Metadata   map[string]any `json:"metadata"`
}

func (r ingestRequest) toDocument(id string) (pipeline.Document, error) {
	raw, err := base64.StdEncoding.DecodeString(r.Content)
	if err != nil {
		return pipeline.Document{}, errors.InvalidInput("content", "must be base64-encoded")
	}
	return pipeline.Document{
		ID:         id,
		Identifier: r.Identifier,
		Content:    raw,
		Metadata:   r.Metadata,
	}, nil
}

// handleIngestDocument runs the full seven-stage pipeline for a single
// document and, on a non-short-circuited completion, persists the document
// row keyed by content hash (P10: two ingests of the same bytes collapse
// to one id via FindByContentHash).
func (s *Service) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	id := s.deps.newID()
	doc, err := req.toDocument(id)
	if err != nil {
		writeErr(w, err)
		return
	}

	outcome := s.deps.Pipeline.Run(r.Context(), doc)

	status := postgres.DocumentProcessed
	if outcome.Execution.Status == pipeline.StatusFailed {
		status = postgres.DocumentFailed
	}

	record := postgres.Document{
		ID:          id,
		ContentHash: outcome.Ingestion.ContentHash,
		FileName:    req.FileName,
		MimeType:    req.MimeType,
		Type:        req.Type,
		Size:        int64(len(doc.Content)),
		Metadata:    req.Metadata,
		Status:      status,
	}

	if outcome.Ingestion.ShortCircuited {
		writeOK(w, http.StatusOK, map[string]interface{}{
			"documentId":    outcome.Ingestion.DuplicateOfID,
			"duplicate":     true,
			"executionId":   outcome.Execution.ID,
			"status":        string(outcome.Execution.Status),
		})
		return
	}

	if record.ContentHash != "" {
		if existing, err := s.deps.Documents.FindByContentHash(r.Context(), record.ContentHash); err == nil {
			writeOK(w, http.StatusOK, map[string]interface{}{
				"documentId":  existing.ID,
				"duplicate":   true,
				"executionId": outcome.Execution.ID,
				"status":      string(existing.Status),
			})
			return
		} else if err != sql.ErrNoRows {
			writeErr(w, errors.DatabaseError("find by content hash", err))
			return
		}
	}

	created, err := s.deps.Documents.Create(r.Context(), record)
	if err != nil {
		writeErr(w, errors.DatabaseError("create document", err))
		return
	}

	writeOK(w, http.StatusCreated, map[string]interface{}{
		"documentId":     created.ID,
		"status":         string(created.Status),
		"executionId":    outcome.Execution.ID,
		"mintingKind":    string(outcome.Decision.Kind),
		"criticalScore":  outcome.Decision.CriticalScore,
		"metrics":        outcome.Metrics,
	})
}

// handleGetDocument returns a previously ingested document's record.
func (s *Service) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, err := s.deps.Documents.Get(r.Context(), id)
	if err == sql.ErrNoRows {
		writeErr(w, errors.NotFound("document", id))
		return
	}
	if err != nil {
		writeErr(w, errors.DatabaseError("get document", err))
		return
	}
	writeOK(w, http.StatusOK, doc)
}

// handleCollect is the raw evidence-pipeline entry point (§6 "POST
// /collect*"): it runs the orchestrator and returns the full outcome
// without requiring the caller to separately inspect /documents/:id.
func (s *Service) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	doc, err := req.toDocument(s.deps.newID())
	if err != nil {
		writeErr(w, err)
		return
	}
	outcome := s.deps.Pipeline.Run(r.Context(), doc)
	writeOK(w, http.StatusOK, outcome)
}
