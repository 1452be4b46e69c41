package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evidentia/syncplatform/domain/merge"
	"github.com/evidentia/syncplatform/domain/sync"
)

// SessionStore persists sync.Session rows, giving RegisterSession its
// idempotency guarantee a durable backing beyond the in-memory Registry.
type SessionStore struct {
	*BaseStore
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{BaseStore: NewBaseStore(db, "sync_sessions")}
}

// Upsert is idempotent on ExternalSessionID: a second registration of the
// same external session stamps LastActiveAt instead of creating a new row.
func (s *SessionStore) Upsert(ctx context.Context, sess sync.Session) (sync.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = now
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO sync_sessions (id, external_session_id, project_id, git_branch, status, started_at, last_active_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (external_session_id) DO UPDATE SET
			last_active_at = EXCLUDED.last_active_at, status = 'active'
	`, sess.ID, sess.ExternalSessionID, sess.ProjectID, sess.GitBranch, sync.SessionActive, now, sess.LastActiveAt)
	if err != nil {
		return sess, fmt.Errorf("upsert session: %w", err)
	}
	return s.Get(ctx, sess.ExternalSessionID)
}

func (s *SessionStore) Get(ctx context.Context, externalSessionID string) (sync.Session, error) {
	var sess sync.Session
	row := s.QueryRowContext(ctx, `
		SELECT id, external_session_id, project_id, git_branch, status, started_at, last_active_at
		FROM sync_sessions WHERE external_session_id = $1
	`, externalSessionID)
	err := row.Scan(&sess.ID, &sess.ExternalSessionID, &sess.ProjectID, &sess.GitBranch,
		&sess.Status, &sess.CreatedAt, &sess.LastActiveAt)
	return sess, err
}

// ActiveForProject returns every active session for a project, the
// contribution set consolidation reads.
func (s *SessionStore) ActiveForProject(ctx context.Context, projectID string) ([]sync.Session, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, external_session_id, project_id, git_branch, status, started_at, last_active_at
		FROM sync_sessions WHERE project_id = $1 AND status = 'active'
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sync.Session
	for rows.Next() {
		var sess sync.Session
		if err := rows.Scan(&sess.ID, &sess.ExternalSessionID, &sess.ProjectID, &sess.GitBranch,
			&sess.Status, &sess.CreatedAt, &sess.LastActiveAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SweepInactive archives sessions idle past archiveAfter, mirroring
// domain/sync.Registry.SweepInactive for the durable store.
func (s *SessionStore) SweepInactive(ctx context.Context, now time.Time, archiveAfter time.Duration) (int64, error) {
	res, err := s.ExecContext(ctx, `
		UPDATE sync_sessions SET status = 'archived', ended_at = $2
		WHERE status != 'archived' AND last_active_at < $3
	`, "archived", now, now.Add(-archiveAfter))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ProjectStore persists a project's canonical todo sequence.
type ProjectStore struct {
	*BaseStore
}

func NewProjectStore(db *sql.DB) *ProjectStore {
	return &ProjectStore{BaseStore: NewBaseStore(db, "sync_projects")}
}

// EnsureProject creates the project row if absent, returning its id.
func (s *ProjectStore) EnsureProject(ctx context.Context, projectPath string) (string, error) {
	id := uuid.NewString()
	_, err := s.ExecContext(ctx, `
		INSERT INTO sync_projects (id, project_path) VALUES ($1,$2)
		ON CONFLICT (project_path) DO NOTHING
	`, id, projectPath)
	if err != nil {
		return "", err
	}
	var existing string
	err = s.QueryRowContext(ctx, `SELECT id FROM sync_projects WHERE project_path = $1`, projectPath).Scan(&existing)
	return existing, err
}

// CanonicalTodos loads a project's current canonical set as merge.Items,
// the consolidator's prior-canonical base input.
func (s *ProjectStore) CanonicalTodos(ctx context.Context, projectID string) ([]merge.Item, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, content, status, active_form, clock, deleted, updated_at, metadata
		FROM sync_todos WHERE project_id = $1 AND deleted_at IS NULL
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []merge.Item
	for rows.Next() {
		var item merge.Item
		var clockJSON, metaJSON []byte
		if err := rows.Scan(&item.ID, &item.Content, &item.Status, &item.ActiveForm,
			&clockJSON, &item.Deleted, &item.UpdatedAt, &metaJSON); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(clockJSON, &item.Clock)
		_ = json.Unmarshal(metaJSON, &item.Metadata)
		out = append(out, item)
	}
	return out, rows.Err()
}

// WriteCanonical replaces a project's canonical todo rows and rebuilds the
// session-todo association table, the consolidation write-back step.
func (s *ProjectStore) WriteCanonical(ctx context.Context, projectID string, canonical []merge.Item, sessionIDs []string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		for _, item := range canonical {
			clockJSON, err := json.Marshal(item.Clock)
			if err != nil {
				return err
			}
			metaJSON, err := json.Marshal(item.Metadata)
			if err != nil {
				return err
			}
			_, err = s.ExecContext(ctx, `
				INSERT INTO sync_todos (id, project_id, content, status, active_form, clock, metadata, deleted, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				ON CONFLICT (id) DO UPDATE SET
					content = EXCLUDED.content, status = EXCLUDED.status, active_form = EXCLUDED.active_form,
					clock = EXCLUDED.clock, metadata = EXCLUDED.metadata, deleted = EXCLUDED.deleted,
					updated_at = EXCLUDED.updated_at
			`, item.ID, projectID, item.Content, item.Status, item.ActiveForm, clockJSON, metaJSON, item.Deleted, item.UpdatedAt)
			if err != nil {
				return fmt.Errorf("write canonical todo %s: %w", item.ID, err)
			}
		}
		if _, err := s.ExecContext(ctx, `
			DELETE FROM session_todo_links WHERE session_id IN (SELECT external_session_id FROM sync_sessions WHERE project_id = $1)
		`, projectID); err != nil {
			return err
		}
		for _, sessionID := range sessionIDs {
			for _, item := range canonical {
				if _, err := s.ExecContext(ctx, `
					INSERT INTO session_todo_links (session_id, todo_id) VALUES ($1,$2)
					ON CONFLICT DO NOTHING
				`, sessionID, item.ID); err != nil {
					return err
				}
			}
		}
		_, err := s.ExecContext(ctx, `UPDATE sync_projects SET last_consolidated_at = now() WHERE id = $1`, projectID)
		return err
	})
}

// SetTopics persists a todo's classification (primary topic + capped
// topic set) produced by domain/sync's topic classifier.
func (s *ProjectStore) SetTopics(ctx context.Context, todoID, primary string, topics []string) error {
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return err
	}
	_, err = s.ExecContext(ctx, `
		UPDATE sync_todos SET primary_topic = $2, topics = $3 WHERE id = $1
	`, todoID, primary, topicsJSON)
	return err
}

// TodosByTopic supports project-level grouping queries over the topic
// index.
func (s *ProjectStore) TodosByTopic(ctx context.Context, projectID, topic string) ([]merge.Item, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, content, status, active_form, clock, deleted, updated_at, metadata
		FROM sync_todos WHERE project_id = $1 AND topics @> $2::jsonb AND deleted_at IS NULL
	`, projectID, fmt.Sprintf(`[%q]`, topic))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []merge.Item
	for rows.Next() {
		var item merge.Item
		var clockJSON, metaJSON []byte
		if err := rows.Scan(&item.ID, &item.Content, &item.Status, &item.ActiveForm,
			&clockJSON, &item.Deleted, &item.UpdatedAt, &metaJSON); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(clockJSON, &item.Clock)
		_ = json.Unmarshal(metaJSON, &item.Metadata)
		out = append(out, item)
	}
	return out, rows.Err()
}
