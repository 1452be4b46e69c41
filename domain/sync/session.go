// Package sync implements the three coordination tiers described for
// session, project, and topic synchronization: session lifecycle,
// per-project todo consolidation (via domain/merge), and topic
// classification.
package sync

import (
	"time"
)

// SessionStatus is a writer session's lifecycle state.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionInactive SessionStatus = "inactive"
	SessionArchived SessionStatus = "archived"
)

// DefaultArchiveAfter is how long a session may stay inactive before it
// archives.
const DefaultArchiveAfter = 7 * 24 * time.Hour

// Session is a writer attached to a (project, git branch) pair.
type Session struct {
	ID                 string
	ExternalSessionID  string
	ProjectID          string
	GitBranch          string
	Status             SessionStatus
	LastActiveAt       time.Time
	CreatedAt          time.Time
}

// Registry tracks sessions in memory keyed by external session id, giving
// registerSession its idempotency guarantee without requiring a store
// round-trip for the common case.
type Registry struct {
	byExternalID map[string]*Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{byExternalID: make(map[string]*Session)}
}

// RegisterSession is idempotent on externalSessionID: a repeat call for the
// same id returns the existing session (after reactivating it if it had
// gone inactive) rather than creating a duplicate.
func (r *Registry) RegisterSession(externalSessionID, projectID, gitBranch string, now time.Time) *Session {
	if existing, ok := r.byExternalID[externalSessionID]; ok {
		existing.Status = SessionActive
		existing.LastActiveAt = now
		return existing
	}
	s := &Session{
		ID:                externalSessionID,
		ExternalSessionID: externalSessionID,
		ProjectID:         projectID,
		GitBranch:         gitBranch,
		Status:            SessionActive,
		LastActiveAt:      now,
		CreatedAt:         now,
	}
	r.byExternalID[externalSessionID] = s
	return s
}

// UpdateLastActive stamps a session's LastActiveAt and reactivates it if it
// had been marked inactive.
func (r *Registry) UpdateLastActive(externalSessionID string, now time.Time) bool {
	s, ok := r.byExternalID[externalSessionID]
	if !ok {
		return false
	}
	s.LastActiveAt = now
	if s.Status == SessionInactive {
		s.Status = SessionActive
	}
	return true
}

// SweepInactive marks sessions inactive that haven't been touched within
// idleAfter, and archives sessions that have been inactive since before
// archiveAfter has elapsed since their last activity. Returns the ids
// transitioned in each direction.
func (r *Registry) SweepInactive(now time.Time, idleAfter, archiveAfter time.Duration) (markedInactive, archived []string) {
	for id, s := range r.byExternalID {
		if s.Status == SessionArchived {
			continue
		}
		age := now.Sub(s.LastActiveAt)
		switch {
		case age >= archiveAfter:
			s.Status = SessionArchived
			archived = append(archived, id)
		case age >= idleAfter && s.Status == SessionActive:
			s.Status = SessionInactive
			markedInactive = append(markedInactive, id)
		}
	}
	return markedInactive, archived
}

// ActiveSessions returns sessions currently in the active state for a
// project, used as consolidation's source set.
func (r *Registry) ActiveSessions(projectID string) []*Session {
	var out []*Session
	for _, s := range r.byExternalID {
		if s.ProjectID == projectID && s.Status == SessionActive {
			out = append(out, s)
		}
	}
	return out
}

// Get looks up a session by external id.
func (r *Registry) Get(externalSessionID string) (*Session, bool) {
	s, ok := r.byExternalID[externalSessionID]
	return s, ok
}
