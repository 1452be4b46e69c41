package httpapi

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/evidentia/syncplatform/domain/gaps"
	"github.com/evidentia/syncplatform/infrastructure/errors"
	"github.com/evidentia/syncplatform/infrastructure/httputil"
)

type recordGapRequest struct {
	GapType             string            `json:"gapType"`
	PartialValue        string            `json:"partialValue"`
	ContextClues        map[string]string `json:"contextClues"`
	ConfidenceThreshold float64           `json:"confidenceThreshold"`
	DocumentID          string            `json:"documentId"`
	PlaceholderText     string            `json:"placeholderText"`
}

// handleRecordGap records a knowledge gap occurrence, deduping on
// fingerprint(gapType, contextClues).
func (s *Service) handleRecordGap(w http.ResponseWriter, r *http.Request) {
	var req recordGapRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.GapType == "" {
		writeErr(w, errors.MissingParameter("gapType"))
		return
	}
	fp := gaps.Fingerprint(req.GapType, req.ContextClues)
	now := s.deps.now()

	existing, err := s.deps.Gaps.FindByFingerprint(r.Context(), fp)
	gap := gaps.Gap{
		ID:                  s.deps.newID(),
		Type:                req.GapType,
		Fingerprint:         fp,
		PartialValue:        req.PartialValue,
		ContextClues:        req.ContextClues,
		ConfidenceThreshold: req.ConfidenceThreshold,
		OccurrenceCount:     1,
		FirstSeen:           now,
		LastSeen:            now,
		Status:              gaps.StatusOpen,
	}
	switch {
	case err == nil:
		gap = existing
	case err != sql.ErrNoRows:
		writeErr(w, errors.DatabaseError("find gap", err))
		return
	}

	saved, err := s.deps.Gaps.Upsert(r.Context(), gap)
	if err != nil {
		writeErr(w, errors.DatabaseError("upsert gap", err))
		return
	}

	if req.DocumentID != "" {
		if _, err := s.deps.Gaps.AddOccurrence(r.Context(), gaps.Occurrence{
			ID:              s.deps.newID(),
			GapID:           saved.ID,
			DocumentID:      req.DocumentID,
			PlaceholderText: req.PlaceholderText,
			SeenAt:          now,
		}); err != nil {
			writeErr(w, errors.DatabaseError("add gap occurrence", err))
			return
		}
	}

	writeOK(w, http.StatusCreated, saved)
}

func (s *Service) handleGetGap(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	gap, err := s.deps.Gaps.Get(r.Context(), id)
	if err == sql.ErrNoRows {
		writeErr(w, errors.NotFound("gap", id))
		return
	}
	if err != nil {
		writeErr(w, errors.DatabaseError("get gap", err))
		return
	}
	writeOK(w, http.StatusOK, gap)
}

type proposeCandidateRequest struct {
	Value      string  `json:"value"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// handleProposeCandidate records a candidate resolution value for a gap,
// incrementing confirmations on a duplicate (gapId, value, source) triple.
func (s *Service) handleProposeCandidate(w http.ResponseWriter, r *http.Request) {
	gapID := mux.Vars(r)["id"]
	var req proposeCandidateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Value == "" {
		writeErr(w, errors.MissingParameter("value"))
		return
	}
	cand, err := s.deps.Gaps.Propose(r.Context(), gaps.Candidate{
		GapID:      gapID,
		Value:      req.Value,
		Source:     req.Source,
		Confidence: req.Confidence,
	})
	if err != nil {
		writeErr(w, errors.DatabaseError("propose candidate", err))
		return
	}
	writeOK(w, http.StatusCreated, cand)
}

func (s *Service) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	gapID := mux.Vars(r)["id"]
	candidates, err := s.deps.Gaps.Candidates(r.Context(), gapID)
	if err != nil {
		writeErr(w, errors.DatabaseError("list candidates", err))
		return
	}
	writeOK(w, http.StatusOK, candidates)
}

type resolveGapRequest struct {
	Value      string `json:"value"`
	ResolvedBy string `json:"resolvedBy"`
	Confidence float64 `json:"confidence"`
}

// handleResolveGap rewrites every recorded occurrence's placeholder text in
// place, capturing the previous text so Rollback can undo it later.
func (s *Service) handleResolveGap(w http.ResponseWriter, r *http.Request) {
	gapID := mux.Vars(r)["id"]
	var req resolveGapRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Value == "" {
		writeErr(w, errors.MissingParameter("value"))
		return
	}

	occurrences, err := s.deps.Gaps.Occurrences(r.Context(), gapID)
	if err != nil {
		writeErr(w, errors.DatabaseError("list occurrences", err))
		return
	}

	rollback := map[string]map[string]string{}
	for _, occ := range occurrences {
		doc, err := s.deps.Documents.Get(r.Context(), occ.DocumentID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			writeErr(w, errors.DatabaseError("get document for rewrite", err))
			return
		}
		previous := doc.OCRText
		rewritten := strings.ReplaceAll(previous, occ.PlaceholderText, req.Value)
		if err := s.deps.Documents.UpdateOCRText(r.Context(), doc.ID, rewritten); err != nil {
			writeErr(w, errors.DatabaseError("persist rewrite", err))
			return
		}
		if rollback[occ.DocumentID] == nil {
			rollback[occ.DocumentID] = map[string]string{}
		}
		rollback[occ.DocumentID][occ.ID] = previous
	}

	if err := s.deps.Gaps.Resolve(r.Context(), gapID, req.Value, req.ResolvedBy, req.Confidence, rollback); err != nil {
		writeErr(w, errors.DatabaseError("resolve gap", err))
		return
	}

	gap, err := s.deps.Gaps.Get(r.Context(), gapID)
	if err != nil {
		writeErr(w, errors.DatabaseError("reload gap", err))
		return
	}
	writeOK(w, http.StatusOK, gap)
}

// handleRollbackGap reverts a resolved gap's placeholder rewrites using the
// rollback data captured at resolution time.
func (s *Service) handleRollbackGap(w http.ResponseWriter, r *http.Request) {
	gapID := mux.Vars(r)["id"]
	if err := s.deps.Gaps.Rollback(r.Context(), gapID); err != nil {
		writeErr(w, errors.DatabaseError("rollback gap", err))
		return
	}
	gap, err := s.deps.Gaps.Get(r.Context(), gapID)
	if err != nil {
		writeErr(w, errors.DatabaseError("reload gap", err))
		return
	}
	writeOK(w, http.StatusOK, gap)
}
