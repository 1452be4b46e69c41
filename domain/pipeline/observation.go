package pipeline

import "time"

// ObservationMetrics is stage 7's emitted metrics record.
type ObservationMetrics struct {
	DurationMS    int64
	StageCount    int
	Status        Status
	MintingKind   MintingKind
	CriticalScore float64
}

// LastProcessedPointer is updated after every run to the most recently
// observed execution id, independent of outcome.
type LastProcessedPointer struct {
	ExecutionID string
	At          time.Time
}

// RunObservation emits the final metrics record and returns the updated
// "last processed" pointer.
func RunObservation(execCtx *ExecutionContext, decision MintDecision) (ObservationMetrics, LastProcessedPointer) {
	snap := execCtx.Snapshot()
	metrics := ObservationMetrics{
		DurationMS:    snap.DurationMS,
		StageCount:    len(snap.StageTimes),
		Status:        snap.Status,
		MintingKind:   decision.Kind,
		CriticalScore: decision.CriticalScore,
	}
	pointer := LastProcessedPointer{ExecutionID: execCtx.ID, At: time.Now()}
	execCtx.SetStageResult(StageResult{Stage: StageObservation, Value: metrics, StartedAt: pointer.At, FinishedAt: pointer.At})
	return metrics, pointer
}
