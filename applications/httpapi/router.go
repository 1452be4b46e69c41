package httpapi

import (
	"github.com/gorilla/mux"
)

// newRouter mounts every handler onto a gorilla/mux router. The uniform
// envelope routes live at the root; the capability-wrapped surface lives
// under /v2, including the provenance aliases that route through the same
// capability.Invoke contract as the generic /v2/capabilities dispatch.
func (s *Service) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.StrictSlash(true)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	r.HandleFunc("/documents", s.handleIngestDocument).Methods("POST")
	r.HandleFunc("/documents/{id}", s.handleGetDocument).Methods("GET")
	r.HandleFunc("/collect", s.handleCollect).Methods("POST")
	r.HandleFunc("/search", s.handleSearch).Methods("POST")

	r.HandleFunc("/gaps", s.handleRecordGap).Methods("POST")
	r.HandleFunc("/gaps/{id}", s.handleGetGap).Methods("GET")
	r.HandleFunc("/gaps/{id}/candidates", s.handleProposeCandidate).Methods("POST")
	r.HandleFunc("/gaps/{id}/candidates", s.handleListCandidates).Methods("GET")
	r.HandleFunc("/gaps/{id}/resolve", s.handleResolveGap).Methods("POST")
	r.HandleFunc("/gaps/{id}/rollback", s.handleRollbackGap).Methods("POST")

	r.HandleFunc("/duplicates", s.handleEnqueueDuplicate).Methods("POST")
	r.HandleFunc("/duplicates/review-queue", s.handleDuplicateReviewQueue).Methods("GET")
	r.HandleFunc("/duplicates/{id}/transition", s.handleTransitionDuplicate).Methods("POST")
	r.HandleFunc("/duplicates/scans", s.handleStartDuplicateScan).Methods("POST")
	r.HandleFunc("/duplicates/scans/{mode}", s.handleDuplicateScanState).Methods("GET")

	r.HandleFunc("/corrections/rules", s.handleCreateCorrectionRule).Methods("POST")
	r.HandleFunc("/corrections/rules/{id}/transition", s.handleTransitionCorrectionRule).Methods("POST")
	r.HandleFunc("/corrections/rules/active", s.handleListActiveCorrectionRules).Methods("GET")
	r.HandleFunc("/corrections/evaluate", s.handleEvaluateCorrection).Methods("POST")
	r.HandleFunc("/corrections/pending", s.handlePendingCorrections).Methods("GET")
	r.HandleFunc("/corrections/bulk-apply", s.handleBulkApplyCorrections).Methods("POST")

	r.HandleFunc("/provenance", s.handleAppendProvenance).Methods("POST")
	r.HandleFunc("/provenance/{entityType}/{entityId}", s.handleProvenanceChain).Methods("GET")
	r.HandleFunc("/provenance/{entityType}/{entityId}/verify", s.handleVerifyProvenance).Methods("GET")
	r.HandleFunc("/provenance/{entityType}/{entityId}/certify", s.handleCertifyProvenance).Methods("POST")

	r.HandleFunc("/sync/sessions", s.handleRegisterSession).Methods("POST")
	r.HandleFunc("/sync/sessions/{id}/activity", s.handleSessionActivity).Methods("POST")
	r.HandleFunc("/sync/projects/{id}/sessions", s.handleProjectActiveSessions).Methods("GET")
	r.HandleFunc("/sync/projects/{id}/consolidate", s.handleConsolidateProject).Methods("POST")
	r.HandleFunc("/sync/projects/{id}/todos", s.handleProjectTodosByTopic).Methods("GET")
	r.HandleFunc("/sync/todos/{id}/classify", s.handleClassifyTodo).Methods("POST")

	v2 := r.PathPrefix("/v2").Subrouter()
	v2.HandleFunc("/capabilities", s.handleListCapabilities).Methods("GET")
	v2.HandleFunc("/capabilities/{id}", s.handleGetCapability).Methods("GET")
	v2.HandleFunc("/capabilities/{id}/invoke", s.handleInvokeCapability).Methods("POST")
	v2.HandleFunc("/capabilities/{id}/rollout-status", s.handleRolloutStatus).Methods("GET")

	v2.HandleFunc("/provenance/append", s.invokeFixedCapability("provenance.append")).Methods("POST")
	v2.HandleFunc("/provenance/verify", s.invokeFixedCapability("provenance.verify")).Methods("POST")
	v2.HandleFunc("/provenance/certify", s.invokeFixedCapability("provenance.certify")).Methods("POST")

	return r
}
