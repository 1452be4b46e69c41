package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/evidentia/syncplatform/domain/corrections"
)

// CorrectionStore persists correction rules and their per-document queue
// items.
type CorrectionStore struct {
	*BaseStore
}

func NewCorrectionStore(db *sql.DB) *CorrectionStore {
	return &CorrectionStore{BaseStore: NewBaseStore(db, "correction_rules")}
}

// CreateRule inserts a new rule in the draft state.
func (s *CorrectionStore) CreateRule(ctx context.Context, r corrections.Rule) (corrections.Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.State == "" {
		r.State = corrections.RuleDraft
	}
	matchJSON, err := json.Marshal(r.Match)
	if err != nil {
		return r, err
	}
	corrJSON, err := json.Marshal(r.Correction)
	if err != nil {
		return r, err
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO correction_rules (id, name, state, match, correction) VALUES ($1,$2,$3,$4,$5)
	`, r.ID, r.Name, r.State, matchJSON, corrJSON)
	if err != nil {
		return r, fmt.Errorf("create correction rule: %w", err)
	}
	return r, nil
}

// ruleTransitions enumerates the allowed draft -> approved -> active ->
// (paused|retired) edges.
var ruleTransitions = map[corrections.RuleState][]corrections.RuleState{
	corrections.RuleDraft:    {corrections.RuleApproved},
	corrections.RuleApproved: {corrections.RuleActive, corrections.RuleDraft},
	corrections.RuleActive:   {corrections.RulePaused, corrections.RuleRetired},
	corrections.RulePaused:   {corrections.RuleActive, corrections.RuleRetired},
}

// TransitionRule moves a rule along its declared lifecycle, refusing
// transitions not reachable from the current state.
func (s *CorrectionStore) TransitionRule(ctx context.Context, id string, next corrections.RuleState) error {
	var current corrections.RuleState
	if err := s.QueryRowContext(ctx, `SELECT state FROM correction_rules WHERE id = $1`, id).Scan(&current); err != nil {
		return fmt.Errorf("load rule %s: %w", id, err)
	}
	allowed := false
	for _, candidate := range ruleTransitions[current] {
		if candidate == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("storage/postgres: invalid rule transition %s -> %s", current, next)
	}
	_, err := s.ExecContext(ctx, `UPDATE correction_rules SET state = $2 WHERE id = $1`, id, next)
	return err
}

// ActiveRules returns every rule eligible for application (state=active);
// includeDryRun also returns approved rules for dry-run evaluation.
func (s *CorrectionStore) ActiveRules(ctx context.Context, includeDryRun bool) ([]corrections.Rule, error) {
	query := `SELECT id, name, state, match, correction FROM correction_rules WHERE state = 'active'`
	if includeDryRun {
		query = `SELECT id, name, state, match, correction FROM correction_rules WHERE state IN ('active','approved')`
	}
	rows, err := s.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []corrections.Rule
	for rows.Next() {
		var r corrections.Rule
		var matchJSON, corrJSON []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.State, &matchJSON, &corrJSON); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(matchJSON, &r.Match)
		_ = json.Unmarshal(corrJSON, &r.Correction)
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueueItemStore persists per-document correction proposals.
type QueueItemStore struct {
	*BaseStore
}

func NewQueueItemStore(db *sql.DB) *QueueItemStore {
	return &QueueItemStore{BaseStore: NewBaseStore(db, "correction_queue_items")}
}

func (s *QueueItemStore) Enqueue(ctx context.Context, item corrections.QueueItem) (corrections.QueueItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO correction_queue_items (id, rule_id, document_id, current_value, proposed_value,
		                                     rollback_value, applied, requires_review)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, item.ID, item.RuleID, item.DocumentID, item.CurrentValue, item.ProposedValue,
		item.RollbackValue, item.Applied, item.RequiresReview)
	if err != nil {
		return item, fmt.Errorf("enqueue correction item: %w", err)
	}
	return item, nil
}

// Pending returns unapplied queue items, optionally filtered to those
// requiring review.
func (s *QueueItemStore) Pending(ctx context.Context, requiresReview bool, limit int) ([]*corrections.QueueItem, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, rule_id, document_id, current_value, proposed_value, rollback_value, applied, requires_review
		FROM correction_queue_items WHERE applied = false AND requires_review = $1 ORDER BY created_at ASC LIMIT $2
	`, requiresReview, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*corrections.QueueItem
	for rows.Next() {
		item := &corrections.QueueItem{}
		if err := rows.Scan(&item.ID, &item.RuleID, &item.DocumentID, &item.CurrentValue,
			&item.ProposedValue, &item.RollbackValue, &item.Applied, &item.RequiresReview); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkApplied persists the idempotent post-Apply state of an item.
func (s *QueueItemStore) MarkApplied(ctx context.Context, item *corrections.QueueItem) error {
	_, err := s.ExecContext(ctx, `
		UPDATE correction_queue_items SET applied = $2, requires_review = $3 WHERE id = $1
	`, item.ID, item.Applied, item.RequiresReview)
	return err
}
