package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evidentia/syncplatform/domain/capability"
)

// CapabilityStore persists capability definitions, append-only invocation
// records, and status-transition history.
type CapabilityStore struct {
	*BaseStore
}

func NewCapabilityStore(db *sql.DB) *CapabilityStore {
	return &CapabilityStore{BaseStore: NewBaseStore(db, "capability_definitions")}
}

// UpsertDefinition persists (or updates) a capability's static declaration.
func (s *CapabilityStore) UpsertDefinition(ctx context.Context, def capability.Definition) error {
	depsJSON, err := json.Marshal(def.Dependencies)
	if err != nil {
		return err
	}
	rulesJSON, err := json.Marshal(def.RolloutRules)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(def.Tags)
	if err != nil {
		return err
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO capability_definitions (id, name, version, domain, description, status,
		                                     required_grade, dependencies, rollout_rules, tags, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, version = EXCLUDED.version, domain = EXCLUDED.domain,
			description = EXCLUDED.description, status = EXCLUDED.status,
			required_grade = EXCLUDED.required_grade, dependencies = EXCLUDED.dependencies,
			rollout_rules = EXCLUDED.rollout_rules, tags = EXCLUDED.tags, updated_at = now()
	`, def.ID, def.Name, def.Version, def.Domain, def.Description, def.Status,
		def.RequiredGrade, depsJSON, rulesJSON, tagsJSON)
	if err != nil {
		return fmt.Errorf("upsert capability definition: %w", err)
	}
	return nil
}

// GetDefinition loads a capability's current declaration, including
// whatever status the rollout engine last set.
func (s *CapabilityStore) GetDefinition(ctx context.Context, id string) (capability.Definition, error) {
	var def capability.Definition
	var depsJSON, rulesJSON, tagsJSON []byte
	row := s.QueryRowContext(ctx, `
		SELECT id, name, version, domain, description, status, required_grade, dependencies, rollout_rules, tags
		FROM capability_definitions WHERE id = $1
	`, id)
	if err := row.Scan(&def.ID, &def.Name, &def.Version, &def.Domain, &def.Description, &def.Status,
		&def.RequiredGrade, &depsJSON, &rulesJSON, &tagsJSON); err != nil {
		return def, fmt.Errorf("get capability %s: %w", id, err)
	}
	_ = json.Unmarshal(depsJSON, &def.Dependencies)
	_ = json.Unmarshal(rulesJSON, &def.RolloutRules)
	_ = json.Unmarshal(tagsJSON, &def.Tags)
	return def, nil
}

// ListDefinitions returns every registered capability, for the rollout
// engine's periodic sweep and the GET /v2/capabilities surface.
func (s *CapabilityStore) ListDefinitions(ctx context.Context) ([]capability.Definition, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, name, version, domain, description, status, required_grade, dependencies, rollout_rules, tags
		FROM capability_definitions ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []capability.Definition
	for rows.Next() {
		var def capability.Definition
		var depsJSON, rulesJSON, tagsJSON []byte
		if err := rows.Scan(&def.ID, &def.Name, &def.Version, &def.Domain, &def.Description, &def.Status,
			&def.RequiredGrade, &depsJSON, &rulesJSON, &tagsJSON); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(depsJSON, &def.Dependencies)
		_ = json.Unmarshal(rulesJSON, &def.RolloutRules)
		_ = json.Unmarshal(tagsJSON, &def.Tags)
		out = append(out, def)
	}
	return out, rows.Err()
}

// SetStatus applies a rollout transition and appends the status-history
// entry recording the triggering rule gate.
func (s *CapabilityStore) SetStatus(ctx context.Context, capabilityID string, transition capability.StatusTransition) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.ExecContext(ctx, `
			UPDATE capability_definitions SET status = $2, updated_at = now() WHERE id = $1
		`, capabilityID, transition.ToStatus); err != nil {
			return err
		}
		_, err := s.ExecContext(ctx, `
			INSERT INTO capability_status_history (id, capability_id, from_status, to_status, rule_gate, triggered_at)
			VALUES ($1,$2,$3,$4,$5,now())
		`, uuid.NewString(), capabilityID, transition.FromStatus, transition.ToStatus, transition.TriggeringRule.Gate)
		return err
	})
}

// RecordInvocation appends an invocation record (called before the
// invoking capability's envelope returns, per the ordering guarantee).
func (s *CapabilityStore) RecordInvocation(ctx context.Context, inv capability.Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.StartedAt.IsZero() {
		inv.StartedAt = time.Now().UTC()
	}
	parentsJSON, err := json.Marshal(inv.ParentIDs)
	if err != nil {
		return err
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO capability_invocations (invocation_id, capability_id, input_hash, output_hash,
		                                     success, error_code, duration_ms, parent_ids, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, inv.ID, inv.CapabilityID, inv.InputHash, inv.OutputHash, inv.Success, inv.ErrorCode,
		inv.DurationMS, parentsJSON, inv.StartedAt)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// InvocationsInWindow returns every invocation for capabilityID within the
// last windowHours, for rollout metric computation.
func (s *CapabilityStore) InvocationsInWindow(ctx context.Context, capabilityID string, windowHours int, now time.Time) ([]capability.Invocation, error) {
	since := now.Add(-time.Duration(windowHours) * time.Hour)
	rows, err := s.QueryContext(ctx, `
		SELECT invocation_id, capability_id, input_hash, output_hash, success, error_code,
		       duration_ms, parent_ids, started_at
		FROM capability_invocations WHERE capability_id = $1 AND started_at >= $2
	`, capabilityID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []capability.Invocation
	for rows.Next() {
		var inv capability.Invocation
		var parentsJSON []byte
		if err := rows.Scan(&inv.ID, &inv.CapabilityID, &inv.InputHash, &inv.OutputHash, &inv.Success,
			&inv.ErrorCode, &inv.DurationMS, &parentsJSON, &inv.StartedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(parentsJSON, &inv.ParentIDs)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes invocation records older than the retention
// window (default 90 days), run by the same scheduled task as the rollout
// engine per §4.8.
func (s *CapabilityStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.ExecContext(ctx, `DELETE FROM capability_invocations WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
