package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus mirrors the §3 Document lifecycle.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentProcessed  DocumentStatus = "processed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is the persisted evidence document record.
type Document struct {
	ID            string
	ContentHash   string
	FileName      string
	Size          int64
	MimeType      string
	Type          string
	OCRText       string
	Metadata      map[string]any
	Status        DocumentStatus
	Supersedes    string
	SupersededBy  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DocumentStore persists documents and enforces content-hash uniqueness
// (P10: two ingests of byte-identical documents yield the same id).
type DocumentStore struct {
	*BaseStore
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{BaseStore: NewBaseStore(db, "documents")}
}

// FindByContentHash returns the existing document for an exact content
// match, or sql.ErrNoRows if none exists.
func (s *DocumentStore) FindByContentHash(ctx context.Context, hash string) (Document, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, content_hash, file_name, size_bytes, mime_type, doc_type, ocr_text,
		       metadata, status, COALESCE(supersedes, ''), COALESCE(superseded_by, ''),
		       created_at, updated_at
		FROM documents WHERE content_hash = $1
	`, hash)
	return scanDocument(row)
}

// Create inserts a new document, assigning an id if empty.
func (s *DocumentStore) Create(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	if doc.Status == "" {
		doc.Status = DocumentPending
	}
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return doc, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO documents (id, content_hash, file_name, size_bytes, mime_type, doc_type,
		                        ocr_text, metadata, status, supersedes, superseded_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),NULLIF($11,''),$12,$13)
	`, doc.ID, doc.ContentHash, doc.FileName, doc.Size, doc.MimeType, doc.Type,
		doc.OCRText, metaJSON, doc.Status, doc.Supersedes, doc.SupersededBy, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return doc, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// UpdateStatus moves a document through its processing lifecycle.
func (s *DocumentStore) UpdateStatus(ctx context.Context, id string, status DocumentStatus) error {
	_, err := s.ExecContext(ctx, `UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

// UpdateOCRText rewrites a document's extracted text, used by the
// knowledge gap registry to replace a resolved placeholder in place.
func (s *DocumentStore) UpdateOCRText(ctx context.Context, id, ocrText string) error {
	_, err := s.ExecContext(ctx, `UPDATE documents SET ocr_text = $2, updated_at = now() WHERE id = $1`, id, ocrText)
	return err
}

// Supersede links old with new via the soft-supersession pointer pair.
func (s *DocumentStore) Supersede(ctx context.Context, oldID, newID string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.ExecContext(ctx, `UPDATE documents SET superseded_by = $2, updated_at = now() WHERE id = $1`, oldID, newID); err != nil {
			return err
		}
		_, err := s.ExecContext(ctx, `UPDATE documents SET supersedes = $2, updated_at = now() WHERE id = $1`, newID, oldID)
		return err
	})
}

func (s *DocumentStore) Get(ctx context.Context, id string) (Document, error) {
	row := s.QueryRowContext(ctx, `
		SELECT id, content_hash, file_name, size_bytes, mime_type, doc_type, ocr_text,
		       metadata, status, COALESCE(supersedes, ''), COALESCE(superseded_by, ''),
		       created_at, updated_at
		FROM documents WHERE id = $1
	`, id)
	return scanDocument(row)
}

// Search runs a case-insensitive substring match over file name, document
// type, and extracted OCR text — the text-query half of the search
// surface (semantic ranking over embeddings is out of scope here).
func (s *DocumentStore) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, content_hash, file_name, size_bytes, mime_type, doc_type, ocr_text,
		       metadata, status, COALESCE(supersedes, ''), COALESCE(superseded_by, ''),
		       created_at, updated_at
		FROM documents
		WHERE file_name ILIKE '%' || $1 || '%'
		   OR doc_type ILIKE '%' || $1 || '%'
		   OR ocr_text ILIKE '%' || $1 || '%'
		ORDER BY updated_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var metaJSON []byte
		if err := rows.Scan(&d.ID, &d.ContentHash, &d.FileName, &d.Size, &d.MimeType, &d.Type, &d.OCRText,
			&metaJSON, &d.Status, &d.Supersedes, &d.SupersededBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(metaJSON, &d.Metadata)
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDocument(row *sql.Row) (Document, error) {
	var d Document
	var metaJSON []byte
	if err := row.Scan(&d.ID, &d.ContentHash, &d.FileName, &d.Size, &d.MimeType, &d.Type, &d.OCRText,
		&metaJSON, &d.Status, &d.Supersedes, &d.SupersededBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return d, err
	}
	_ = json.Unmarshal(metaJSON, &d.Metadata)
	return d, nil
}

// Entity is the persisted §3 Entity record. Queries follow MergedInto
// pointers to the canonical entity.
type Entity struct {
	ID             string
	Type           string
	Name           string
	NormalizedName string
	Identifiers    map[string]string
	MergedInto     string
}

// EntityStore persists entities and resolves merge pointers.
type EntityStore struct {
	*BaseStore
}

func NewEntityStore(db *sql.DB) *EntityStore {
	return &EntityStore{BaseStore: NewBaseStore(db, "entities")}
}

// maxMergeDepth caps pointer-following per the design notes' authority
// traversal bound, guarding against cyclic mergedInto graphs.
const maxMergeDepth = 5

// Canonical follows an entity's MergedInto chain up to maxMergeDepth hops
// and returns the terminal entity.
func (s *EntityStore) Canonical(ctx context.Context, id string) (Entity, error) {
	current := id
	for depth := 0; depth < maxMergeDepth; depth++ {
		e, err := s.get(ctx, current)
		if err != nil {
			return Entity{}, err
		}
		if e.MergedInto == "" || e.MergedInto == current {
			return e, nil
		}
		current = e.MergedInto
	}
	return Entity{}, fmt.Errorf("storage/postgres: entity merge chain exceeds depth %d starting at %s", maxMergeDepth, id)
}

func (s *EntityStore) get(ctx context.Context, id string) (Entity, error) {
	var e Entity
	var identJSON []byte
	var mergedInto sql.NullString
	row := s.QueryRowContext(ctx, `
		SELECT id, entity_type, name, normalized_name, identifiers, merged_into
		FROM entities WHERE id = $1
	`, id)
	if err := row.Scan(&e.ID, &e.Type, &e.Name, &e.NormalizedName, &identJSON, &mergedInto); err != nil {
		return e, fmt.Errorf("get entity %s: %w", id, err)
	}
	_ = json.Unmarshal(identJSON, &e.Identifiers)
	e.MergedInto = mergedInto.String
	return e, nil
}

// MergeInto records that id has been merged into canonicalID.
func (s *EntityStore) MergeInto(ctx context.Context, id, canonicalID string) error {
	_, err := s.ExecContext(ctx, `UPDATE entities SET merged_into = $2 WHERE id = $1`, id, canonicalID)
	return err
}

// AuthorityGrant is the persisted §3 AuthorityGrant record.
type AuthorityGrant struct {
	ID               string
	DocumentID       string
	GrantorEntityID  string
	GranteeEntityID  string
	AuthorityType    string
	Scope            string
	EffectiveAt      *time.Time
	ExpiresAt        *time.Time
	Active           bool
	RevokedBy        string
	RevokedAt        *time.Time
}

// AuthorityGrantStore persists authority grants and evaluates active/expiry
// invariants (effectiveAt <= expiresAt; active iff not revoked and not past
// expiry).
type AuthorityGrantStore struct {
	*BaseStore
}

func NewAuthorityGrantStore(db *sql.DB) *AuthorityGrantStore {
	return &AuthorityGrantStore{BaseStore: NewBaseStore(db, "authority_grants")}
}

func (s *AuthorityGrantStore) Create(ctx context.Context, g AuthorityGrant) (AuthorityGrant, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.EffectiveAt != nil && g.ExpiresAt != nil && g.EffectiveAt.After(*g.ExpiresAt) {
		return g, fmt.Errorf("authority grant: effectiveAt must be <= expiresAt")
	}
	g.Active = true
	_, err := s.ExecContext(ctx, `
		INSERT INTO authority_grants (id, document_id, grantor_entity_id, grantee_entity_id,
		                               authority_type, scope, effective_at, expires_at, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, g.ID, g.DocumentID, g.GrantorEntityID, g.GranteeEntityID, g.AuthorityType, g.Scope,
		PtrToNullTime(g.EffectiveAt), PtrToNullTime(g.ExpiresAt), g.Active)
	if err != nil {
		return g, fmt.Errorf("create authority grant: %w", err)
	}
	return g, nil
}

// Revoke marks a grant inactive and records who revoked it.
func (s *AuthorityGrantStore) Revoke(ctx context.Context, id, revokedBy string) error {
	_, err := s.ExecContext(ctx, `
		UPDATE authority_grants SET active = false, revoked_by = $2, revoked_at = now() WHERE id = $1
	`, id, revokedBy)
	return err
}

// ExpireStale flips active=false for any grant whose expiresAt has passed,
// used by the daily expiring-authority scheduled check.
func (s *AuthorityGrantStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.ExecContext(ctx, `
		UPDATE authority_grants SET active = false
		WHERE active = true AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
