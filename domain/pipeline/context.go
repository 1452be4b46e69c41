// Package pipeline implements the evidence pipeline orchestrator: a fixed
// seven-stage run (validation, ingestion, enrichment, AI, minting decision,
// distribution, observation) over a shared, append-only ExecutionContext.
package pipeline

import (
	"sync"
	"time"
)

// Status is an execution's overall lifecycle state.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Stage names the fixed pipeline stages, in execution order.
type Stage string

const (
	StageValidation      Stage = "validation"
	StageIngestion       Stage = "ingestion"
	StageEnrichment      Stage = "enrichment"
	StageAI              Stage = "ai"
	StageMintingDecision Stage = "minting_decision"
	StageDistribution    Stage = "distribution"
	StageObservation     Stage = "observation"
)

// StageResult is one stage's outcome, appended to the execution's record.
type StageResult struct {
	Stage      Stage
	Value      any
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// ExecutionContext tracks one pipeline run. Writes go through
// SetStageResult, which the fan-out stages call only after their
// goroutines have joined — so the struct underlying a run is never
// concurrently mutated by sibling goroutines, only sequentially appended to
// by the orchestrator.
type ExecutionContext struct {
	mu         sync.Mutex
	ID         string
	DocumentID string
	Status     Status
	Err        error
	startedAt  time.Time
	results    map[Stage]StageResult
	order      []Stage
}

// NewExecutionContext starts a new, empty execution record.
func NewExecutionContext(id, documentID string) *ExecutionContext {
	return &ExecutionContext{
		ID:         id,
		DocumentID: documentID,
		Status:     StatusStarting,
		startedAt:  time.Now(),
		results:    make(map[Stage]StageResult),
	}
}

// SetStageResult appends a stage's result to the execution record.
func (c *ExecutionContext) SetStageResult(result StageResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.results[result.Stage]; !exists {
		c.order = append(c.order, result.Stage)
	}
	c.results[result.Stage] = result
	if result.Err != nil {
		c.Err = result.Err
	}
}

// StageResult returns a named stage's recorded result, if any.
func (c *ExecutionContext) StageResult(stage Stage) (StageResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[stage]
	return r, ok
}

// Fail marks the execution failed with err, used by stages the contract
// marks non-tolerant (validation, ingestion).
func (c *ExecutionContext) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Status = StatusFailed
	c.Err = err
}

// Complete marks the execution finished successfully.
func (c *ExecutionContext) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status != StatusFailed {
		c.Status = StatusCompleted
	}
}

// Snapshot is the serializable, immutable view of an execution used for
// dead-letter storage and observation metrics.
type Snapshot struct {
	ID          string
	DocumentID  string
	Status      Status
	Error       string
	StartedAt   time.Time
	DurationMS  int64
	StageTimes  map[Stage]int64
	StageValues map[Stage]any
}

// Snapshot renders the current state of the execution as an immutable
// value safe to serialize for dead-letter storage.
func (c *ExecutionContext) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ID:          c.ID,
		DocumentID:  c.DocumentID,
		Status:      c.Status,
		StartedAt:   c.startedAt,
		DurationMS:  time.Since(c.startedAt).Milliseconds(),
		StageTimes:  make(map[Stage]int64, len(c.results)),
		StageValues: make(map[Stage]any, len(c.results)),
	}
	if c.Err != nil {
		snap.Error = c.Err.Error()
	}
	for _, stage := range c.order {
		r := c.results[stage]
		snap.StageTimes[stage] = r.FinishedAt.Sub(r.StartedAt).Milliseconds()
		snap.StageValues[stage] = r.Value
	}
	return snap
}
