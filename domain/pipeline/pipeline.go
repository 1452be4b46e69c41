package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evidentia/syncplatform/infrastructure/objectstore"
)

// Pipeline wires the seven-stage run together from injected stage
// dependencies, so tests and applications/httpapi can substitute fakes or
// concrete adapters without the orchestrator itself changing.
type Pipeline struct {
	SecurityScan    SecurityScanFunc
	BlobStore       BlobStore
	ContentHashFunc func([]byte) string
	DuplicateLookup DuplicateLookupFunc
	Enrichers       []Enricher
	AI              AIFunc
	Sinks           []Sink
	DeadLetterStore objectstore.Store
	NewID           func() string
	Now             func() int64 // epoch milliseconds, injected for deterministic dead-letter keys
}

// Outcome is a completed run's full record.
type Outcome struct {
	Execution  *ExecutionContext
	Validation ValidationResult
	Ingestion  IngestionResult
	Enrichment EnrichmentResult
	AI         AIResult
	Decision   MintDecision
	Metrics    ObservationMetrics
	Pointer    LastProcessedPointer
}

// Run executes all seven stages in order for doc. Validation and ingestion
// failures abort the run (recorded via Fail and dead-lettered); enrichment,
// AI, and distribution failures are tolerated and simply recorded.
// Ingestion's exact-match short-circuit skips enrichment/AI/minting/
// distribution but still runs observation.
func (p *Pipeline) Run(ctx context.Context, doc Document) Outcome {
	id := doc.ID
	if p.NewID != nil {
		id = p.NewID()
	}
	execCtx := NewExecutionContext(id, doc.ID)
	execCtx.Status = StatusRunning

	outcome := Outcome{Execution: execCtx}

	validation, err := RunValidation(ctx, execCtx, doc, p.SecurityScan)
	outcome.Validation = validation
	if err != nil {
		execCtx.Fail(err)
		p.deadLetter(ctx, execCtx)
		outcome.Metrics, outcome.Pointer = RunObservation(execCtx, MintDecision{Kind: MintSoft})
		return outcome
	}

	blobKey := objectstore.VerifiedKey(doc.Identifier, "")
	ingestion, err := RunIngestion(ctx, execCtx, doc, blobKey, p.BlobStore, p.DuplicateLookup, p.ContentHashFunc)
	outcome.Ingestion = ingestion
	if err != nil {
		execCtx.Fail(err)
		p.deadLetter(ctx, execCtx)
		outcome.Metrics, outcome.Pointer = RunObservation(execCtx, MintDecision{Kind: MintSoft})
		return outcome
	}
	if ingestion.ShortCircuited {
		execCtx.Complete()
		outcome.Metrics, outcome.Pointer = RunObservation(execCtx, MintDecision{Kind: MintSoft, Reason: "duplicate_short_circuit"})
		return outcome
	}

	enrichment := RunEnrichment(ctx, execCtx, doc, p.Enrichers)
	outcome.Enrichment = enrichment

	ai := RunAI(ctx, execCtx, doc, enrichment, p.AI)
	outcome.AI = ai

	legalBinding, _ := doc.Metadata["legalBinding"].(bool)
	courtEvidence, _ := doc.Metadata["courtEvidence"].(bool)
	contractual, _ := doc.Metadata["contractual"].(bool)
	classification := ai.Classification

	criticalScore := ComputeCriticalScore(ai.Confidence, legalBinding, courtEvidence, classification == "legal")
	decision := RunMintingDecision(execCtx, criticalScore, legalBinding, courtEvidence, contractual, classification)
	outcome.Decision = decision

	RunDistribution(ctx, execCtx, doc, decision, p.Sinks)

	execCtx.Complete()
	outcome.Metrics, outcome.Pointer = RunObservation(execCtx, decision)
	return outcome
}

// deadLetter persists a failed execution's full snapshot (including
// per-stage results) to "/errors/{epoch-ms}/{id}.json", plus nothing
// further here — the short-lived key-value error summary is written by
// the caller via infrastructure/state, which this package does not import
// to stay free of a persistence dependency.
func (p *Pipeline) deadLetter(ctx context.Context, execCtx *ExecutionContext) {
	if p.DeadLetterStore == nil {
		return
	}
	snap := execCtx.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	epochMS := time.Now().UnixMilli()
	if p.Now != nil {
		epochMS = p.Now()
	}
	key := objectstore.DeadLetterKey(epochMS, execCtx.ID)
	_ = p.DeadLetterStore.Upload(ctx, key, data, "application/json")
}
