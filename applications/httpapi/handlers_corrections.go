package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/evidentia/syncplatform/domain/corrections"
	"github.com/evidentia/syncplatform/infrastructure/errors"
	"github.com/evidentia/syncplatform/infrastructure/httputil"
)

type createRuleRequest struct {
	Name       string                      `json:"name"`
	Match      []corrections.MatchCriterion `json:"match"`
	Correction corrections.Correction       `json:"correction"`
}

// handleCreateCorrectionRule drafts a new rule; it must pass through
// approved/active before BulkApply will ever touch it.
func (s *Service) handleCreateCorrectionRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeErr(w, errors.MissingParameter("name"))
		return
	}
	rule := corrections.Rule{
		ID:         s.deps.newID(),
		Name:       req.Name,
		State:      corrections.RuleDraft,
		Match:      req.Match,
		Correction: req.Correction,
	}
	saved, err := s.deps.Corrections.CreateRule(r.Context(), rule)
	if err != nil {
		writeErr(w, errors.DatabaseError("create correction rule", err))
		return
	}
	writeOK(w, http.StatusCreated, saved)
}

type transitionRuleRequest struct {
	State string `json:"state"`
}

func (s *Service) handleTransitionCorrectionRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req transitionRuleRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Corrections.TransitionRule(r.Context(), id, corrections.RuleState(req.State)); err != nil {
		writeErr(w, errors.InvalidInput("state", err.Error()))
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"id": id, "state": req.State})
}

func (s *Service) handleListActiveCorrectionRules(w http.ResponseWriter, r *http.Request) {
	includeDryRun := httputil.QueryBool(r, "includeDryRun", false)
	rules, err := s.deps.Corrections.ActiveRules(r.Context(), includeDryRun)
	if err != nil {
		writeErr(w, errors.DatabaseError("list active correction rules", err))
		return
	}
	writeOK(w, http.StatusOK, rules)
}

type evaluateCorrectionRequest struct {
	RuleID     string `json:"ruleId"`
	DocumentID string `json:"documentId"`
}

// handleEvaluateCorrection matches a rule against a document's OCR text
// (treated as the document's JSON projection per the correction engine's
// gjson contract) and, on a match, enqueues a proposal.
func (s *Service) handleEvaluateCorrection(w http.ResponseWriter, r *http.Request) {
	var req evaluateCorrectionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	rules, err := s.deps.Corrections.ActiveRules(r.Context(), true)
	if err != nil {
		writeErr(w, errors.DatabaseError("load active rules", err))
		return
	}
	var rule *corrections.Rule
	for i := range rules {
		if rules[i].ID == req.RuleID {
			rule = &rules[i]
			break
		}
	}
	if rule == nil {
		writeErr(w, errors.NotFound("correction rule", req.RuleID))
		return
	}

	doc, err := s.deps.Documents.Get(r.Context(), req.DocumentID)
	if err != nil {
		writeErr(w, errors.NotFound("document", req.DocumentID))
		return
	}

	if !corrections.Matches(doc.OCRText, *rule) {
		writeOK(w, http.StatusOK, map[string]interface{}{"matched": false})
		return
	}

	proposed, rollback, err := corrections.Evaluate(r.Context(), doc.OCRText, *rule)
	if err != nil {
		writeErr(w, errors.Internal("evaluate correction", err))
		return
	}

	item := corrections.QueueItem{
		ID:             s.deps.newID(),
		RuleID:         rule.ID,
		DocumentID:     req.DocumentID,
		CurrentValue:   doc.OCRText,
		ProposedValue:  proposed,
		RollbackValue:  rollback,
		RequiresReview: rule.State == corrections.RuleApproved,
	}
	saved, err := s.deps.QueueItems.Enqueue(r.Context(), item)
	if err != nil {
		writeErr(w, errors.DatabaseError("enqueue correction item", err))
		return
	}
	writeOK(w, http.StatusCreated, map[string]interface{}{"matched": true, "item": saved})
}

func (s *Service) handlePendingCorrections(w http.ResponseWriter, r *http.Request) {
	requiresReview := httputil.QueryBool(r, "requiresReview", false)
	limit := httputil.QueryInt(r, "limit", 50)
	items, err := s.deps.QueueItems.Pending(r.Context(), requiresReview, limit)
	if err != nil {
		writeErr(w, errors.DatabaseError("list pending corrections", err))
		return
	}
	writeOK(w, http.StatusOK, items)
}

type bulkApplyRequest struct {
	RequiresApproval bool            `json:"requiresApproval"`
	Approved         map[string]bool `json:"approved"`
}

// handleBulkApplyCorrections runs every pending, non-review item through
// BulkApply, writing accepted values back to the document's OCR text and
// parking anything unapproved when the policy demands it.
func (s *Service) handleBulkApplyCorrections(w http.ResponseWriter, r *http.Request) {
	var req bulkApplyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	items, err := s.deps.QueueItems.Pending(r.Context(), false, 500)
	if err != nil {
		writeErr(w, errors.DatabaseError("list pending corrections", err))
		return
	}

	write := func(documentID, value string) error {
		return s.deps.Documents.UpdateOCRText(r.Context(), documentID, value)
	}

	applied, parked, err := corrections.BulkApply(items, corrections.BulkApplyPolicy{RequiresApproval: req.RequiresApproval}, req.Approved, write)
	if err != nil {
		writeErr(w, errors.Internal("bulk apply corrections", err))
		return
	}
	for _, item := range items {
		if err := s.deps.QueueItems.MarkApplied(r.Context(), item); err != nil {
			writeErr(w, errors.DatabaseError("mark correction applied", err))
			return
		}
	}

	writeOK(w, http.StatusOK, map[string]interface{}{"applied": applied, "parked": parked})
}
