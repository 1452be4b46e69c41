package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/evidentia/syncplatform/domain/merge"
	"github.com/evidentia/syncplatform/domain/sync"
	"github.com/evidentia/syncplatform/infrastructure/errors"
	"github.com/evidentia/syncplatform/infrastructure/httputil"
)

type registerSessionRequest struct {
	ExternalSessionID string `json:"externalSessionId"`
	ProjectPath        string `json:"projectPath"`
	GitBranch          string `json:"gitBranch"`
}

// handleRegisterSession registers (or reactivates) a writer session,
// idempotent on ExternalSessionID per the registry's contract.
func (s *Service) handleRegisterSession(w http.ResponseWriter, r *http.Request) {
	var req registerSessionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.ExternalSessionID == "" || req.ProjectPath == "" {
		writeErr(w, errors.MissingParameter("externalSessionId/projectPath"))
		return
	}

	projectID, err := s.deps.Projects.EnsureProject(r.Context(), req.ProjectPath)
	if err != nil {
		writeErr(w, errors.DatabaseError("ensure project", err))
		return
	}

	now := s.deps.now()
	sess := s.deps.SessionRegistry.RegisterSession(req.ExternalSessionID, projectID, req.GitBranch, now)

	saved, err := s.deps.Sessions.Upsert(r.Context(), *sess)
	if err != nil {
		writeErr(w, errors.DatabaseError("upsert session", err))
		return
	}
	writeOK(w, http.StatusCreated, saved)
}

func (s *Service) handleSessionActivity(w http.ResponseWriter, r *http.Request) {
	externalID := mux.Vars(r)["id"]
	now := s.deps.now()
	if ok := s.deps.SessionRegistry.UpdateLastActive(externalID, now); !ok {
		writeErr(w, errors.NotFound("session", externalID))
		return
	}
	sess, err := s.deps.Sessions.Get(r.Context(), externalID)
	if err == sql.ErrNoRows {
		writeErr(w, errors.NotFound("session", externalID))
		return
	}
	if err != nil {
		writeErr(w, errors.DatabaseError("get session", err))
		return
	}
	sess.LastActiveAt = now
	sess.Status = sync.SessionActive
	saved, err := s.deps.Sessions.Upsert(r.Context(), sess)
	if err != nil {
		writeErr(w, errors.DatabaseError("upsert session", err))
		return
	}
	writeOK(w, http.StatusOK, saved)
}

func (s *Service) handleProjectActiveSessions(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]
	sessions, err := s.deps.Sessions.ActiveForProject(r.Context(), projectID)
	if err != nil {
		writeErr(w, errors.DatabaseError("list active sessions", err))
		return
	}
	writeOK(w, http.StatusOK, sessions)
}

type consolidateProjectRequest struct {
	Strategy      string                `json:"strategy"`
	Contributions []sync.SessionTodos `json:"contributions"`
}

// handleConsolidateProject merges every session's contributed todos
// against the project's prior canonical set and persists the result, per
// the per-project serialized consolidation contract.
func (s *Service) handleConsolidateProject(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]
	var req consolidateProjectRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	strategy := merge.Strategy(req.Strategy)
	if strategy == "" {
		strategy = merge.StrategyTimestamp
	}

	prior, err := s.deps.Projects.CanonicalTodos(r.Context(), projectID)
	if err != nil {
		writeErr(w, errors.DatabaseError("load canonical todos", err))
		return
	}

	result, err := s.deps.Consolidator.Consolidate(r.Context(), projectID, prior, req.Contributions, strategy)
	if err != nil {
		writeErr(w, errors.Internal("consolidate project", err))
		return
	}

	if err := s.deps.Projects.WriteCanonical(r.Context(), projectID, result.Canonical, result.ContributingSessions); err != nil {
		writeErr(w, errors.DatabaseError("write canonical todos", err))
		return
	}

	writeOK(w, http.StatusOK, map[string]interface{}{
		"result":        result,
		"commitMessage": result.CommitMessage("chore"),
	})
}

func (s *Service) handleProjectTodosByTopic(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]
	topic := httputil.QueryString(r, "topic", "")
	if topic == "" {
		writeErr(w, errors.MissingParameter("topic"))
		return
	}
	items, err := s.deps.Projects.TodosByTopic(r.Context(), projectID, topic)
	if err != nil {
		writeErr(w, errors.DatabaseError("list todos by topic", err))
		return
	}
	writeOK(w, http.StatusOK, items)
}

type classifyTodoRequest struct {
	Content    string `json:"content"`
	ActiveForm string `json:"activeForm"`
	FilePath   string `json:"filePath"`
}

// handleClassifyTodo tags a todo with topics via the default keyword
// classifier set and persists the classification.
func (s *Service) handleClassifyTodo(w http.ResponseWriter, r *http.Request) {
	todoID := mux.Vars(r)["id"]
	var req classifyTodoRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	classification := sync.Classify(req.Content, req.ActiveForm, req.FilePath)

	topics := make([]string, len(classification.Topics))
	for i, t := range classification.Topics {
		topics[i] = t.Topic
	}
	if err := s.deps.Projects.SetTopics(r.Context(), todoID, classification.Primary, topics); err != nil {
		writeErr(w, errors.DatabaseError("set topics", err))
		return
	}
	writeOK(w, http.StatusOK, classification)
}
