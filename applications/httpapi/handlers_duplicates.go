package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/evidentia/syncplatform/domain/duplicates"
	"github.com/evidentia/syncplatform/infrastructure/errors"
	"github.com/evidentia/syncplatform/infrastructure/httputil"
	"github.com/evidentia/syncplatform/storage/postgres"
)

type enqueueDuplicateRequest struct {
	DocumentID      string  `json:"documentId"`
	CandidateID     string  `json:"candidateId"`
	DetectionMethod string  `json:"detectionMethod"`
	SimilarityScore float64 `json:"similarityScore"`
}

// handleEnqueueDuplicate records a detected candidate pair, classifying its
// confidence from the similarity score and marking it auto-resolvable when
// the pair is an exact content-hash match or clears the high-confidence bar.
func (s *Service) handleEnqueueDuplicate(w http.ResponseWriter, r *http.Request) {
	var req enqueueDuplicateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.DocumentID == "" || req.CandidateID == "" {
		writeErr(w, errors.MissingParameter("documentId/candidateId"))
		return
	}

	confidence := duplicates.Classify(req.SimilarityScore)
	candidate := duplicates.Candidate{
		DocumentID:      req.DocumentID,
		CandidateID:     req.CandidateID,
		DetectionMethod: duplicates.Method(req.DetectionMethod),
		SimilarityScore: req.SimilarityScore,
		Confidence:      confidence,
		Status:          duplicates.StatusPending,
	}
	candidate.AutoResolved = duplicates.CanAutoResolve(candidate)
	if candidate.AutoResolved {
		candidate.Status = duplicates.StatusConfirmed
	}

	saved, err := s.deps.Duplicates.Enqueue(r.Context(), candidate)
	if err != nil {
		writeErr(w, errors.DatabaseError("enqueue duplicate", err))
		return
	}
	writeOK(w, http.StatusCreated, saved)
}

func (s *Service) handleDuplicateReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit := httputil.QueryInt(r, "limit", 50)
	candidates, err := s.deps.Duplicates.PendingReviewQueue(r.Context(), limit)
	if err != nil {
		writeErr(w, errors.DatabaseError("list review queue", err))
		return
	}
	writeOK(w, http.StatusOK, candidates)
}

type transitionDuplicateRequest struct {
	Status string `json:"status"`
}

// handleTransitionDuplicate moves a candidate to confirmed/rejected/merged,
// refusing a transition the state machine disallows.
func (s *Service) handleTransitionDuplicate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req transitionDuplicateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Duplicates.Transition(r.Context(), id, duplicates.Status(req.Status)); err != nil {
		writeErr(w, errors.InvalidInput("status", err.Error()))
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"id": id, "status": req.Status})
}

type startScanRequest struct {
	Mode string `json:"mode"`
}

// handleStartDuplicateScan claims the singleton scan slot for the requested
// mode (incremental, the hourly scheduled job; full, the weekly one),
// returning a conflict when a scan of that mode is already running.
func (s *Service) handleStartDuplicateScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	mode := postgres.ScanMode(req.Mode)
	if mode != postgres.ScanIncremental && mode != postgres.ScanFull {
		writeErr(w, errors.InvalidInput("mode", "must be incremental or full"))
		return
	}
	started, err := s.deps.ScanStates.TryStart(r.Context(), mode)
	if err != nil {
		writeErr(w, errors.DatabaseError("start duplicate scan", err))
		return
	}
	if !started {
		writeErr(w, errors.Conflict("a scan of this mode is already running"))
		return
	}
	writeOK(w, http.StatusAccepted, map[string]interface{}{"mode": req.Mode, "started": true})
}

func (s *Service) handleDuplicateScanState(w http.ResponseWriter, r *http.Request) {
	mode := postgres.ScanMode(mux.Vars(r)["mode"])
	state, err := s.deps.ScanStates.Load(r.Context(), mode)
	if err != nil {
		writeErr(w, errors.DatabaseError("load scan state", err))
		return
	}
	writeOK(w, http.StatusOK, state)
}
