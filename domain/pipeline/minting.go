package pipeline

import "time"

// MintingKind is the decision stage's output: hard mints anchor evidence
// externally, soft mints are a TTL'd key-value entry. The platform
// expectation is roughly 1% hard, 99% soft.
type MintingKind string

const (
	MintHard MintingKind = "hard"
	MintSoft MintingKind = "soft"
)

// criticalScore weights, capped at 100.
const (
	weightLegalBinding  = 20.0
	weightCourtEvidence = 30.0
	weightLegalCategory = 15.0
	maxCriticalScore    = 100.0
)

// ComputeCriticalScore combines AI confidence with boolean metadata signals
// into a single capped score: aiConfidence (0..100 scale) plus +20 for
// legal-binding, +30 for court-evidence, +15 for a legal classification
// category, capped at 100.
func ComputeCriticalScore(aiConfidence float64, legalBinding, courtEvidence, legalCategory bool) float64 {
	score := aiConfidence
	if legalBinding {
		score += weightLegalBinding
	}
	if courtEvidence {
		score += weightCourtEvidence
	}
	if legalCategory {
		score += weightLegalCategory
	}
	if score > maxCriticalScore {
		score = maxCriticalScore
	}
	return score
}

// MintDecision is stage 5's output.
type MintDecision struct {
	Kind          MintingKind
	CriticalScore float64
	Reason        string
}

// DecideMinting implements the hard-mint trigger: criticalScore > 95 OR
// metadata.legalBinding OR metadata.courtEvidence OR metadata.contractual
// OR classification == "legal"; everything else soft mints.
func DecideMinting(criticalScore float64, legalBinding, courtEvidence, contractual bool, classification string) MintDecision {
	switch {
	case criticalScore > 95:
		return MintDecision{Kind: MintHard, CriticalScore: criticalScore, Reason: "critical_score_threshold"}
	case legalBinding:
		return MintDecision{Kind: MintHard, CriticalScore: criticalScore, Reason: "legal_binding"}
	case courtEvidence:
		return MintDecision{Kind: MintHard, CriticalScore: criticalScore, Reason: "court_evidence"}
	case contractual:
		return MintDecision{Kind: MintHard, CriticalScore: criticalScore, Reason: "contractual"}
	case classification == "legal":
		return MintDecision{Kind: MintHard, CriticalScore: criticalScore, Reason: "legal_category"}
	default:
		return MintDecision{Kind: MintSoft, CriticalScore: criticalScore, Reason: "default_soft"}
	}
}

// RunMintingDecision executes stage 5 and records it on the execution.
func RunMintingDecision(execCtx *ExecutionContext, criticalScore float64, legalBinding, courtEvidence, contractual bool, classification string) MintDecision {
	started := time.Now()
	decision := DecideMinting(criticalScore, legalBinding, courtEvidence, contractual, classification)
	execCtx.SetStageResult(StageResult{Stage: StageMintingDecision, Value: decision, StartedAt: started, FinishedAt: time.Now()})
	return decision
}
