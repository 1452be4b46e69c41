package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/evidentia/syncplatform/domain/merge"
	"github.com/evidentia/syncplatform/infrastructure/state"
)

// ConsolidationLeaseTTL bounds how long a single consolidation run may hold
// the per-project lease before another worker may reclaim it.
const ConsolidationLeaseTTL = 2 * time.Minute

func consolidationLeaseKey(projectID string) string {
	return fmt.Sprintf("project:%s:consolidation", projectID)
}

// SessionTodos is one session's contribution of todo items to a
// consolidation run.
type SessionTodos struct {
	SessionID string
	Items     []merge.Item
}

// ConsolidationResult is the outcome of one per-project consolidation pass.
type ConsolidationResult struct {
	ProjectID            string
	Canonical             []merge.Item
	ContributingSessions  []string
	Mutated               []string // todo ids that changed vs. the prior canonical state
	Conflicts             []merge.Result
	CompletedCount        int
	InProgressCount       int
	PendingCount          int
}

// CommitMessage renders the generated git-commit hook message described for
// a consolidation pass.
func (r ConsolidationResult) CommitMessage(scope string) string {
	return fmt.Sprintf("%s(sync): Update project todos - %d completed, %d in progress, %d pending",
		scope, r.CompletedCount, r.InProgressCount, r.PendingCount)
}

// Consolidator runs per-project todo consolidation serialized by a
// project-scoped lease so at most one consolidation runs at a time; a
// session joining mid-consolidation simply sees the prior canonical set
// until its next sync, per the ordering contract.
type Consolidator struct {
	lease *state.Lease
	owner string
}

// NewConsolidator builds a Consolidator backed by a shared lease
// coordinator. owner identifies this worker process for lease ownership.
func NewConsolidator(lease *state.Lease, owner string) *Consolidator {
	return &Consolidator{lease: lease, owner: owner}
}

// Consolidate acquires the project's consolidation lease, merges every
// unique todo id seen across contributions against the prior canonical
// value as base, and releases the lease before returning.
func (c *Consolidator) Consolidate(ctx context.Context, projectID string, priorCanonical []merge.Item, contributions []SessionTodos, strategy merge.Strategy) (ConsolidationResult, error) {
	key := consolidationLeaseKey(projectID)
	if err := c.lease.Acquire(ctx, key, c.owner, ConsolidationLeaseTTL); err != nil {
		return ConsolidationResult{}, err
	}
	defer c.lease.Release(ctx, key, c.owner)

	baseByID := make(map[string]*merge.Item, len(priorCanonical))
	for i := range priorCanonical {
		item := priorCanonical[i]
		baseByID[item.ID] = &item
	}

	grouped := make(map[string][]merge.Item)
	var order []string
	sessionIDs := make([]string, 0, len(contributions))
	for _, contribution := range contributions {
		sessionIDs = append(sessionIDs, contribution.SessionID)
		for _, item := range contribution.Items {
			if _, seen := grouped[item.ID]; !seen {
				order = append(order, item.ID)
			}
			grouped[item.ID] = append(grouped[item.ID], item)
		}
	}
	sort.Strings(order)
	sort.Strings(sessionIDs)

	result := ConsolidationResult{ProjectID: projectID, ContributingSessions: sessionIDs}
	for _, id := range order {
		versions := grouped[id]
		base := baseByID[id]
		merged := versions[0]
		var conflicts []merge.Result
		for _, candidate := range versions[1:] {
			localCopy := merged
			mergeOutcome := merge.Merge(&localCopy, &candidate, base, strategy)
			if mergeOutcome.Merged != nil {
				merged = *mergeOutcome.Merged
			}
			if mergeOutcome.Conflict {
				conflicts = append(conflicts, mergeOutcome)
			}
		}
		if base != nil {
			against := merge.Merge(&merged, base, base, strategy)
			if against.Conflict {
				conflicts = append(conflicts, against)
			}
		}

		result.Canonical = append(result.Canonical, merged)
		if conflicts != nil {
			result.Conflicts = append(result.Conflicts, conflicts...)
		}
		if base == nil || !itemsEqualValue(*base, merged) {
			result.Mutated = append(result.Mutated, id)
		}
		switch merged.Status {
		case "completed", "done":
			result.CompletedCount++
		case "in_progress":
			result.InProgressCount++
		default:
			result.PendingCount++
		}
	}

	return result, nil
}

func itemsEqualValue(a, b merge.Item) bool {
	return a.Content == b.Content && a.Status == b.Status && a.ActiveForm == b.ActiveForm
}
