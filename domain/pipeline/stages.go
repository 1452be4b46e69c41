package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/evidentia/syncplatform/domain/identifier"
)

// Document is a pipeline run's input unit.
type Document struct {
	ID         string
	Identifier string
	Content    []byte
	Metadata   map[string]any
}

// ErrSecurityViolation aborts the pipeline when validation's security scan
// returns a blocked result.
var ErrSecurityViolation = fmt.Errorf("pipeline: security violation")

// SecurityScanResult is the outcome of validation's security checks
// (injection, PII detection, malware placeholder).
type SecurityScanResult struct {
	Blocked bool
	Reason  string
}

// SecurityScanFunc runs the security checks validation requires beyond
// identifier format-gating.
type SecurityScanFunc func(ctx context.Context, doc Document) SecurityScanResult

// ValidationResult is stage 1's output.
type ValidationResult struct {
	IdentifierState identifier.State
	FallbackApplied bool
	Security        SecurityScanResult
}

// RunValidation format-gates the document's identifier (decoding a
// fallback sentinel first if present), then runs the injected security
// scan. Any blocked security result aborts the execution with
// ErrSecurityViolation.
func RunValidation(ctx context.Context, execCtx *ExecutionContext, doc Document, scan SecurityScanFunc) (ValidationResult, error) {
	started := time.Now()
	result := ValidationResult{}

	id := doc.Identifier
	if identifier.IsFallback(id) {
		result.FallbackApplied = true
	}

	state, gateErr := identifier.FormatGate(id)
	result.IdentifierState = state

	var stageErr error
	if gateErr != nil && !result.FallbackApplied {
		stageErr = gateErr
	} else if scan != nil {
		result.Security = scan(ctx, doc)
		if result.Security.Blocked {
			stageErr = fmt.Errorf("%w: %s", ErrSecurityViolation, result.Security.Reason)
		}
	}

	execCtx.SetStageResult(StageResult{Stage: StageValidation, Value: result, Err: stageErr, StartedAt: started, FinishedAt: time.Now()})
	return result, stageErr
}

// DuplicateLookupFunc finds an existing document whose content hash
// matches, short-circuiting downstream processing on an exact match.
type DuplicateLookupFunc func(ctx context.Context, contentHash string) (existingID string, found bool, err error)

// BlobStore is the subset of infrastructure/objectstore.Store the
// ingestion stage needs.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// IngestionResult is stage 2's output.
type IngestionResult struct {
	ContentHash      string
	BlobKey          string
	DuplicateOfID    string
	ShortCircuited   bool
}

// RunIngestion computes the content hash, persists the blob, and looks up
// an exact-match duplicate; an exact match short-circuits downstream
// stages (enrichment/AI/minting/distribution are skipped, only
// observation still runs).
func RunIngestion(ctx context.Context, execCtx *ExecutionContext, doc Document, blobKey string, store BlobStore, lookup DuplicateLookupFunc, contentHash func([]byte) string) (IngestionResult, error) {
	started := time.Now()
	hash := contentHash(doc.Content)
	result := IngestionResult{ContentHash: hash, BlobKey: blobKey}

	var stageErr error
	if store != nil {
		if err := store.Upload(ctx, blobKey, doc.Content, ""); err != nil {
			stageErr = err
		}
	}
	if stageErr == nil && lookup != nil {
		existingID, found, err := lookup(ctx, hash)
		if err != nil {
			stageErr = err
		} else if found {
			result.DuplicateOfID = existingID
			result.ShortCircuited = true
		}
	}

	execCtx.SetStageResult(StageResult{Stage: StageIngestion, Value: result, Err: stageErr, StartedAt: started, FinishedAt: time.Now()})
	return result, stageErr
}

// Enricher is one tolerant enrichment branch (web-capture, container-
// analysis, image-processing, PII-redaction, ...).
type Enricher struct {
	Name string
	Run  func(ctx context.Context, doc Document) (any, error)
}

// EnrichmentResult collects every enricher's output by name; failures are
// tolerated and collected rather than aborting the run.
type EnrichmentResult struct {
	ByName map[string]any
	Errors *multierror.Error
}

// RunEnrichment fans enrichers out in parallel via errgroup; each branch's
// result is written into a per-goroutine slot and only merged into the
// shared map after every branch has joined, so ExecutionContext.
// SetStageResult is called exactly once per run with no concurrent writers.
func RunEnrichment(ctx context.Context, execCtx *ExecutionContext, doc Document, enrichers []Enricher) EnrichmentResult {
	started := time.Now()

	type slot struct {
		name  string
		value any
		err   error
	}
	slots := make([]slot, len(enrichers))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range enrichers {
		i, e := i, e
		g.Go(func() error {
			value, err := e.Run(gctx, doc)
			slots[i] = slot{name: e.Name, value: value, err: err}
			return nil // tolerant: never abort sibling branches
		})
	}
	_ = g.Wait()

	result := EnrichmentResult{ByName: make(map[string]any, len(enrichers))}
	for _, s := range slots {
		if s.name == "" {
			continue
		}
		if s.err != nil {
			result.Errors = multierror.Append(result.Errors, fmt.Errorf("%s: %w", s.name, s.err))
			continue
		}
		result.ByName[s.name] = s.value
	}

	var resultErr error
	if result.Errors != nil {
		resultErr = result.Errors
	}
	execCtx.SetStageResult(StageResult{Stage: StageEnrichment, Value: result, Err: resultErr, StartedAt: started, FinishedAt: time.Now()})
	return result
}

// AIResult is stage 4's tolerant output.
type AIResult struct {
	Confidence     float64 // 0..100 scale, matching ComputeCriticalScore's input
	Classification string
	Vectorized     bool
	Err            error
}

// AIFunc runs analysis/vectorization/classification; failures are
// tolerated by the orchestrator.
type AIFunc func(ctx context.Context, doc Document, enrichment EnrichmentResult) AIResult

// RunAI executes the tolerant AI stage.
func RunAI(ctx context.Context, execCtx *ExecutionContext, doc Document, enrichment EnrichmentResult, run AIFunc) AIResult {
	started := time.Now()
	var result AIResult
	if run != nil {
		result = run(ctx, doc, enrichment)
	}
	execCtx.SetStageResult(StageResult{Stage: StageAI, Value: result, Err: result.Err, StartedAt: started, FinishedAt: time.Now()})
	return result
}
