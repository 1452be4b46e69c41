package capability

import (
	"sort"
	"time"
)

// DefaultWindow is the rollout engine's default metrics window.
const DefaultWindow = 168 * time.Hour

// InvocationRetention is how long invocation/status-history records are
// kept before the scheduled pruning task removes them.
const InvocationRetention = 90 * 24 * time.Hour

// Gate names the metric a rollout rule evaluates.
type Gate string

const (
	GateUsageCount   Gate = "usage_count"
	GateSuccessRate  Gate = "success_rate"
	GateFailureRate  Gate = "failure_rate"
	GateDurationMS   Gate = "duration_ms"
)

// Direction is whether a rule promotes or demotes on trigger.
type Direction string

const (
	DirectionPromote Direction = "promote"
	DirectionDemote  Direction = "demote"
)

// RolloutRule is one ordered evaluation step in a capability's rollout
// policy.
type RolloutRule struct {
	Gate         Gate
	Threshold    float64
	Direction    Direction
	TargetStatus Status
	WindowHours  int // 0 means use DefaultWindow
}

// Metrics summarizes a capability's invocation history over a window.
type Metrics struct {
	InvocationCount int
	SuccessCount    int
	FailureCount    int
	P50DurationMS   int64
	P95DurationMS   int64
	ErrorCodeCounts map[ErrorCode]int
}

// SuccessRate returns the fraction of invocations that succeeded, or 0 for
// an empty window.
func (m Metrics) SuccessRate() float64 {
	if m.InvocationCount == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.InvocationCount)
}

// FailureRate returns the fraction of invocations that failed, or 0 for an
// empty window.
func (m Metrics) FailureRate() float64 {
	if m.InvocationCount == 0 {
		return 0
	}
	return float64(m.FailureCount) / float64(m.InvocationCount)
}

// ComputeMetrics derives a Metrics summary from a slice of invocations
// already filtered to the evaluation window; metrics are always
// rederivable from the persisted invocation log rather than stored as the
// source of truth.
func ComputeMetrics(invocations []Invocation) Metrics {
	m := Metrics{ErrorCodeCounts: map[ErrorCode]int{}}
	durations := make([]int64, 0, len(invocations))
	for _, inv := range invocations {
		m.InvocationCount++
		if inv.Success {
			m.SuccessCount++
		} else {
			m.FailureCount++
			if inv.ErrorCode != "" {
				m.ErrorCodeCounts[inv.ErrorCode]++
			}
		}
		durations = append(durations, inv.DurationMS)
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	m.P50DurationMS = percentile(durations, 0.50)
	m.P95DurationMS = percentile(durations, 0.95)
	return m
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// promotionOrder is the status ordering valid for a promote direction.
var promotionOrder = []Status{StatusExperimental, StatusLimited, StatusGeneral}

// StatusTransition is one recorded rollout decision.
type StatusTransition struct {
	CapabilityID string
	FromStatus   Status
	ToStatus     Status
	TriggeringRule RolloutRule
	EvaluatedAt  time.Time
}

// EvaluateRollout runs a capability's rollout rules in order against
// metrics computed over each rule's window and returns the first
// triggered transition, or ok=false if no rule fired. Demotion may target
// quarantined directly, skipping the promotion ladder; promotion only
// moves one step along experimental -> limited -> general.
func EvaluateRollout(def Definition, currentStatus Status, metricsForWindow func(hours int) Metrics, now time.Time) (StatusTransition, bool) {
	for _, rule := range def.RolloutRules {
		hours := rule.WindowHours
		if hours == 0 {
			hours = int(DefaultWindow.Hours())
		}
		m := metricsForWindow(hours)

		value := gateValue(rule.Gate, m)
		triggered := false
		switch rule.Direction {
		case DirectionPromote:
			triggered = value >= rule.Threshold
		case DirectionDemote:
			triggered = value >= rule.Threshold
		}
		if !triggered {
			continue
		}

		target := rule.TargetStatus
		if rule.Direction == DirectionPromote && !validPromotion(currentStatus, target) {
			continue
		}

		return StatusTransition{
			CapabilityID:   def.ID,
			FromStatus:     currentStatus,
			ToStatus:       target,
			TriggeringRule: rule,
			EvaluatedAt:    now,
		}, true
	}
	return StatusTransition{}, false
}

func gateValue(gate Gate, m Metrics) float64 {
	switch gate {
	case GateUsageCount:
		return float64(m.InvocationCount)
	case GateSuccessRate:
		return m.SuccessRate()
	case GateFailureRate:
		return m.FailureRate()
	case GateDurationMS:
		return float64(m.P95DurationMS)
	default:
		return 0
	}
}

func validPromotion(current, target Status) bool {
	ci := indexOf(promotionOrder, current)
	ti := indexOf(promotionOrder, target)
	if ci < 0 || ti < 0 {
		return false
	}
	return ti == ci+1
}

func indexOf(statuses []Status, s Status) int {
	for i, v := range statuses {
		if v == s {
			return i
		}
	}
	return -1
}
