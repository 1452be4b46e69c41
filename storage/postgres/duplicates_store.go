package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evidentia/syncplatform/domain/duplicates"
)

// DuplicateStore persists duplicate candidates and the singleton scan
// cursors for the incremental/full scanning modes.
type DuplicateStore struct {
	*BaseStore
}

func NewDuplicateStore(db *sql.DB) *DuplicateStore {
	return &DuplicateStore{BaseStore: NewBaseStore(db, "duplicate_candidates")}
}

// Enqueue inserts a candidate, ignoring (document_id, candidate_id) pairs
// already queued — detection methods may fire more than once for the same
// ordered pair.
func (s *DuplicateStore) Enqueue(ctx context.Context, c duplicates.Candidate) (duplicates.Candidate, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = duplicates.StatusPending
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO duplicate_candidates (id, document_id, candidate_id, detection_method,
		                                   similarity_score, confidence, status, auto_resolved)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (document_id, candidate_id) DO NOTHING
	`, c.ID, c.DocumentID, c.CandidateID, c.DetectionMethod, c.SimilarityScore, c.Confidence, c.Status, c.AutoResolved)
	if err != nil {
		return c, fmt.Errorf("enqueue duplicate candidate: %w", err)
	}
	return c, nil
}

// Transition moves a candidate to a new status, refusing invalid
// transitions per the domain state machine.
func (s *DuplicateStore) Transition(ctx context.Context, id string, next duplicates.Status) error {
	var current duplicates.Status
	if err := s.QueryRowContext(ctx, `SELECT status FROM duplicate_candidates WHERE id = $1`, id).Scan(&current); err != nil {
		return fmt.Errorf("load candidate %s: %w", id, err)
	}
	if !duplicates.Transition(current, next) {
		return fmt.Errorf("storage/postgres: invalid duplicate transition %s -> %s", current, next)
	}
	_, err := s.ExecContext(ctx, `UPDATE duplicate_candidates SET status = $2 WHERE id = $1`, id, next)
	return err
}

// PendingReviewQueue returns candidates awaiting manual review (those not
// auto-resolved and still pending).
func (s *DuplicateStore) PendingReviewQueue(ctx context.Context, limit int) ([]duplicates.Candidate, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, document_id, candidate_id, detection_method, similarity_score, confidence, status, auto_resolved
		FROM duplicate_candidates WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []duplicates.Candidate
	for rows.Next() {
		var c duplicates.Candidate
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.CandidateID, &c.DetectionMethod, &c.SimilarityScore,
			&c.Confidence, &c.Status, &c.AutoResolved); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ScanMode names a duplicate-scanning mode.
type ScanMode string

const (
	ScanIncremental ScanMode = "incremental"
	ScanFull        ScanMode = "full"
)

// ScanState is a resumable cursor for one scan mode.
type ScanState struct {
	Mode      ScanMode
	Cursor    string
	Watermark time.Time
	Running   bool
}

// ScanStateStore persists per-mode scan cursors and enforces the
// singleton-per-mode invariant via a compare-and-swap on the running flag.
type ScanStateStore struct {
	*BaseStore
}

func NewScanStateStore(db *sql.DB) *ScanStateStore {
	return &ScanStateStore{BaseStore: NewBaseStore(db, "duplicate_scan_state")}
}

// TryStart attempts to claim the scan for mode, returning false if another
// scan of that mode is already running (the at-most-one-per-mode
// invariant).
func (s *ScanStateStore) TryStart(ctx context.Context, mode ScanMode) (bool, error) {
	res, err := s.ExecContext(ctx, `
		INSERT INTO duplicate_scan_state (scan_mode, running, updated_at)
		VALUES ($1, true, now())
		ON CONFLICT (scan_mode) DO UPDATE SET running = true, updated_at = now()
		WHERE duplicate_scan_state.running = false
	`, mode)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Finish releases the mode's running claim and persists the new cursor.
func (s *ScanStateStore) Finish(ctx context.Context, mode ScanMode, cursor string, watermark time.Time) error {
	_, err := s.ExecContext(ctx, `
		UPDATE duplicate_scan_state SET running = false, cursor = $2, watermark = $3, updated_at = now()
		WHERE scan_mode = $1
	`, mode, cursor, watermark)
	return err
}

// Load returns the current cursor state for a mode.
func (s *ScanStateStore) Load(ctx context.Context, mode ScanMode) (ScanState, error) {
	var st ScanState
	st.Mode = mode
	var watermark sql.NullTime
	err := s.QueryRowContext(ctx, `
		SELECT cursor, watermark, running FROM duplicate_scan_state WHERE scan_mode = $1
	`, mode).Scan(&st.Cursor, &watermark, &st.Running)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if watermark.Valid {
		st.Watermark = watermark.Time
	}
	return st, err
}
