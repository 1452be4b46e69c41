package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evidentia/syncplatform/domain/gaps"
)

// GapStore persists domain/gaps records. The registry in domain/gaps stays
// the pure, I/O-free model for fingerprinting and resolution bookkeeping;
// this store gives it durable backing.
type GapStore struct {
	*BaseStore
}

func NewGapStore(db *sql.DB) *GapStore {
	return &GapStore{BaseStore: NewBaseStore(db, "knowledge_gaps")}
}

// FindByFingerprint returns the existing gap for a fingerprint, or
// sql.ErrNoRows if none exists yet.
func (s *GapStore) FindByFingerprint(ctx context.Context, fingerprint string) (gaps.Gap, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, gap_type, fingerprint, partial_value, context_clues, confidence_threshold,
		       occurrence_count, first_seen, last_seen, status, COALESCE(resolved_value, ''),
		       COALESCE(resolved_by, ''), resolution_confidence, rollback_data
		FROM knowledge_gaps WHERE fingerprint = $1
	`, fingerprint)
	return scanGap(row)
}

func (s *GapStore) Get(ctx context.Context, id string) (gaps.Gap, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, gap_type, fingerprint, partial_value, context_clues, confidence_threshold,
		       occurrence_count, first_seen, last_seen, status, COALESCE(resolved_value, ''),
		       COALESCE(resolved_by, ''), resolution_confidence, rollback_data
		FROM knowledge_gaps WHERE id = $1
	`, id)
	return scanGap(row)
}

func scanGap(row *sql.Row) (gaps.Gap, error) {
	var g gaps.Gap
	var cluesJSON, rollbackJSON []byte
	var resConfidence sql.NullFloat64
	if err := row.Scan(&g.ID, &g.Type, &g.Fingerprint, &g.PartialValue, &cluesJSON, &g.ConfidenceThreshold,
		&g.OccurrenceCount, &g.FirstSeen, &g.LastSeen, &g.Status, &g.ResolvedValue, &g.ResolvedBy,
		&resConfidence, &rollbackJSON); err != nil {
		return g, err
	}
	_ = json.Unmarshal(cluesJSON, &g.ContextClues)
	_ = json.Unmarshal(rollbackJSON, &g.RollbackData)
	if resConfidence.Valid {
		g.ResolutionConfidence = resConfidence.Float64
	}
	return g, nil
}

// Upsert inserts a new gap or, when the fingerprint already exists, bumps
// occurrenceCount/lastSeen on the existing row — the record operation's
// dedupe contract.
func (s *GapStore) Upsert(ctx context.Context, g gaps.Gap) (gaps.Gap, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	cluesJSON, err := json.Marshal(g.ContextClues)
	if err != nil {
		return g, err
	}
	rollbackJSON, err := json.Marshal(g.RollbackData)
	if err != nil {
		return g, err
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO knowledge_gaps (id, gap_type, fingerprint, partial_value, context_clues,
		                            confidence_threshold, occurrence_count, first_seen, last_seen, status, rollback_data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (fingerprint) DO UPDATE SET
			occurrence_count = knowledge_gaps.occurrence_count + 1,
			last_seen = EXCLUDED.last_seen
	`, g.ID, g.Type, g.Fingerprint, g.PartialValue, cluesJSON, g.ConfidenceThreshold,
		g.OccurrenceCount, g.FirstSeen, g.LastSeen, g.Status, rollbackJSON)
	if err != nil {
		return g, fmt.Errorf("upsert gap: %w", err)
	}
	return s.FindByFingerprint(ctx, g.Fingerprint)
}

// Resolve transitions a gap open -> resolved, storing the resolution and
// rollback data atomically with this store's caller-supplied document
// rewrites (the caller runs RewriteFunc inside the same transaction via
// WithTx before calling Resolve).
func (s *GapStore) Resolve(ctx context.Context, id, value, resolvedBy string, confidence float64, rollbackData map[string]map[string]string) error {
	rollbackJSON, err := json.Marshal(rollbackData)
	if err != nil {
		return err
	}
	_, err = s.ExecContext(ctx, `
		UPDATE knowledge_gaps SET status = 'resolved', resolved_value = $2, resolved_by = $3,
		       resolution_confidence = $4, rollback_data = $5
		WHERE id = $1
	`, id, value, resolvedBy, confidence, rollbackJSON)
	return err
}

// Rollback transitions a gap resolved -> open, clearing the resolution.
func (s *GapStore) Rollback(ctx context.Context, id string) error {
	_, err := s.ExecContext(ctx, `
		UPDATE knowledge_gaps SET status = 'open', resolved_value = NULL, resolved_by = NULL,
		       resolution_confidence = NULL
		WHERE id = $1
	`, id)
	return err
}

// AddOccurrence records one place a gap's placeholder appears.
func (s *GapStore) AddOccurrence(ctx context.Context, occ gaps.Occurrence) (gaps.Occurrence, error) {
	if occ.ID == "" {
		occ.ID = uuid.NewString()
	}
	if occ.SeenAt.IsZero() {
		occ.SeenAt = time.Now().UTC()
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO gap_occurrences (id, gap_id, document_id, placeholder_text, seen_at)
		VALUES ($1,$2,$3,$4,$5)
	`, occ.ID, occ.GapID, occ.DocumentID, occ.PlaceholderText, occ.SeenAt)
	return occ, err
}

// Occurrences returns every occurrence recorded for a gap.
func (s *GapStore) Occurrences(ctx context.Context, gapID string) ([]gaps.Occurrence, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, gap_id, document_id, placeholder_text, seen_at FROM gap_occurrences WHERE gap_id = $1
	`, gapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gaps.Occurrence
	for rows.Next() {
		var o gaps.Occurrence
		if err := rows.Scan(&o.ID, &o.GapID, &o.DocumentID, &o.PlaceholderText, &o.SeenAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Propose inserts a new candidate proposal, or increments Confirmations
// when an identical (gapID, value, source) proposal already exists.
func (s *GapStore) Propose(ctx context.Context, c gaps.Candidate) (gaps.Candidate, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	var existingID string
	err := s.QueryRowContext(ctx, `
		SELECT id FROM gap_candidates WHERE gap_id = $1 AND value = $2 AND source = $3
	`, c.GapID, c.Value, c.Source).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.ExecContext(ctx, `
			INSERT INTO gap_candidates (id, gap_id, value, source, confidence, confirmations, rejections)
			VALUES ($1,$2,$3,$4,$5,1,0)
		`, c.ID, c.GapID, c.Value, c.Source, c.Confidence)
		return c, err
	case err != nil:
		return c, err
	default:
		_, err = s.ExecContext(ctx, `UPDATE gap_candidates SET confirmations = confirmations + 1 WHERE id = $1`, existingID)
		c.ID = existingID
		return c, err
	}
}

// Candidates returns every candidate proposed for a gap.
func (s *GapStore) Candidates(ctx context.Context, gapID string) ([]gaps.Candidate, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, gap_id, value, source, confidence, confirmations, rejections
		FROM gap_candidates WHERE gap_id = $1
	`, gapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gaps.Candidate
	for rows.Next() {
		var c gaps.Candidate
		if err := rows.Scan(&c.ID, &c.GapID, &c.Value, &c.Source, &c.Confidence, &c.Confirmations, &c.Rejections); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
