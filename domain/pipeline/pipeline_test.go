package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/evidentia/syncplatform/domain/duplicates"
	"github.com/evidentia/syncplatform/infrastructure/objectstore"
)

func newTempObjectStore(t *testing.T) (objectstore.Store, error) {
	t.Helper()
	return objectstore.NewFSStore(t.TempDir())
}

// TestComputeCriticalScoreHardMint targets S2: AI confidence 98 with
// courtEvidence=true yields criticalScore = min(98+30, 100) = 100 and a
// hard-mint decision.
func TestComputeCriticalScoreHardMint(t *testing.T) {
	score := ComputeCriticalScore(98, false, true, false)
	if score != 100 {
		t.Fatalf("expected capped score 100, got %f", score)
	}
	decision := DecideMinting(score, false, true, false, "")
	if decision.Kind != MintHard {
		t.Fatalf("expected hard mint, got %s", decision.Kind)
	}
}

func TestComputeCriticalScoreCapsAtMax(t *testing.T) {
	score := ComputeCriticalScore(90, true, true, true)
	if score != 100 {
		t.Fatalf("expected cap at 100, got %f", score)
	}
}

func TestDecideMintingSoftByDefault(t *testing.T) {
	decision := DecideMinting(50, false, false, false, "general")
	if decision.Kind != MintSoft {
		t.Fatalf("expected soft mint for low score and no flags, got %s", decision.Kind)
	}
}

func TestDecideMintingLegalCategoryForcesHard(t *testing.T) {
	decision := DecideMinting(10, false, false, false, "legal")
	if decision.Kind != MintHard {
		t.Fatalf("expected legal classification to force hard mint, got %s", decision.Kind)
	}
}

type fakeBlobStore struct {
	uploaded map[string][]byte
}

func (f *fakeBlobStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[key] = data
	return nil
}

func TestRunValidationRejectsBadIdentifier(t *testing.T) {
	execCtx := NewExecutionContext("exec-1", "doc-1")
	doc := Document{ID: "doc-1", Identifier: "not a valid identifier!!"}

	_, err := RunValidation(context.Background(), execCtx, doc, nil)
	if err == nil {
		t.Fatal("expected validation to reject a malformed identifier")
	}
}

func TestRunValidationBlocksOnSecurityScan(t *testing.T) {
	execCtx := NewExecutionContext("exec-1", "doc-1")
	doc := Document{ID: "doc-1", Identifier: "EV-1-DOC-0001-A-000001-0-0"}
	scan := func(ctx context.Context, d Document) SecurityScanResult {
		return SecurityScanResult{Blocked: true, Reason: "injection detected"}
	}

	_, err := RunValidation(context.Background(), execCtx, doc, scan)
	if !errors.Is(err, ErrSecurityViolation) {
		t.Fatalf("expected ErrSecurityViolation, got %v", err)
	}
}

func TestRunIngestionShortCircuitsOnDuplicate(t *testing.T) {
	execCtx := NewExecutionContext("exec-1", "doc-1")
	doc := Document{ID: "doc-1", Content: []byte("hello world")}
	store := &fakeBlobStore{}
	lookup := func(ctx context.Context, hash string) (string, bool, error) {
		return "doc-0", true, nil
	}

	result, err := RunIngestion(context.Background(), execCtx, doc, "verified/doc-1/hash", store, lookup, duplicates.ContentHash)
	if err != nil {
		t.Fatalf("RunIngestion error: %v", err)
	}
	if !result.ShortCircuited || result.DuplicateOfID != "doc-0" {
		t.Fatalf("expected short-circuit on exact duplicate, got %+v", result)
	}
}

func TestRunEnrichmentTolerantOfPartialFailure(t *testing.T) {
	execCtx := NewExecutionContext("exec-1", "doc-1")
	doc := Document{ID: "doc-1"}
	enrichers := []Enricher{
		{Name: "web-capture", Run: func(ctx context.Context, d Document) (any, error) { return "captured", nil }},
		{Name: "pii-redaction", Run: func(ctx context.Context, d Document) (any, error) { return nil, errors.New("redactor unavailable") }},
	}

	result := RunEnrichment(context.Background(), execCtx, doc, enrichers)
	if result.ByName["web-capture"] != "captured" {
		t.Fatalf("expected successful branch recorded, got %+v", result.ByName)
	}
	if result.Errors == nil || result.Errors.Len() != 1 {
		t.Fatalf("expected one collected error, got %v", result.Errors)
	}
	// The run must still be recorded as complete, not aborted by the
	// failing branch.
	r, ok := execCtx.StageResult(StageEnrichment)
	if !ok {
		t.Fatal("expected enrichment stage result recorded despite partial failure")
	}
	if r.Err == nil {
		t.Fatal("expected stage error to surface the collected multierror")
	}
}

func TestPipelineRunEndToEndSoftMint(t *testing.T) {
	store := &fakeBlobStore{}
	p := &Pipeline{
		BlobStore:       store,
		ContentHashFunc: duplicates.ContentHash,
		DuplicateLookup: func(ctx context.Context, hash string) (string, bool, error) { return "", false, nil },
		Enrichers: []Enricher{
			{Name: "web-capture", Run: func(ctx context.Context, d Document) (any, error) { return "ok", nil }},
		},
		AI: func(ctx context.Context, doc Document, enrichment EnrichmentResult) AIResult {
			return AIResult{Confidence: 40, Classification: "general"}
		},
	}

	doc := Document{ID: "doc-1", Identifier: "EV-1-DOC-0001-A-000001-0-0", Content: []byte("evidence body")}
	outcome := p.Run(context.Background(), doc)

	if outcome.Decision.Kind != MintSoft {
		t.Fatalf("expected soft mint, got %s", outcome.Decision.Kind)
	}
	if outcome.Execution.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %s", outcome.Execution.Status)
	}
	if len(store.uploaded) == 0 {
		t.Fatal("expected blob uploaded during ingestion")
	}
}

func TestPipelineRunHardMintWithCourtEvidence(t *testing.T) {
	p := &Pipeline{
		BlobStore:       &fakeBlobStore{},
		ContentHashFunc: duplicates.ContentHash,
		DuplicateLookup: func(ctx context.Context, hash string) (string, bool, error) { return "", false, nil },
		AI: func(ctx context.Context, doc Document, enrichment EnrichmentResult) AIResult {
			return AIResult{Confidence: 98}
		},
	}

	doc := Document{
		ID:         "doc-2",
		Identifier: "EV-1-DOC-0002-A-000002-0-0",
		Content:    []byte("court filing"),
		Metadata:   map[string]any{"courtEvidence": true},
	}
	outcome := p.Run(context.Background(), doc)

	if outcome.Decision.Kind != MintHard {
		t.Fatalf("expected hard mint, got %s", outcome.Decision.Kind)
	}
	if outcome.Decision.CriticalScore != 100 {
		t.Fatalf("expected critical score 100, got %f", outcome.Decision.CriticalScore)
	}
}

func TestPipelineRunDeadLettersOnValidationFailure(t *testing.T) {
	store, err := newTempObjectStore(t)
	if err != nil {
		t.Fatalf("newTempObjectStore error: %v", err)
	}
	p := &Pipeline{DeadLetterStore: store}

	doc := Document{ID: "doc-3", Identifier: "!!invalid!!"}
	outcome := p.Run(context.Background(), doc)

	if outcome.Execution.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", outcome.Execution.Status)
	}
}
