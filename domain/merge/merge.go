// Package merge implements the three-way merge engine used by the sync
// engine to reconcile concurrently edited todos. It is pure and performs no
// I/O so it stays trivially unit- and property-testable.
package merge

import (
	"fmt"
	"strings"
	"time"

	"github.com/evidentia/syncplatform/domain/vclock"
)

// Strategy names a conflict-resolution policy applied when two sides of a
// merge changed concurrently.
type Strategy string

const (
	StrategyTimestamp     Strategy = "timestamp"
	StrategyStatusPriority Strategy = "status_priority"
	StrategyKeepLocal     Strategy = "keep_local"
	StrategyKeepRemote    Strategy = "keep_remote"
	StrategyKeepBoth      Strategy = "keep_both"
	StrategyManual        Strategy = "manual"
	StrategyThreeWay      Strategy = "three_way"
)

// ConflictType classifies why a merge required conflict handling.
type ConflictType string

const (
	ConflictNone           ConflictType = ""
	ConflictContentDiff    ConflictType = "content_diff"
	ConflictStatusDiff     ConflictType = "status_diff"
	ConflictDeleteConflict ConflictType = "delete_conflict"
	ConflictConcurrentEdit ConflictType = "concurrent_edit"
)

// Item is the mergeable unit (a Todo projection). Equality for merge
// purposes only compares Content, Status, and ActiveForm — timestamps and
// metadata drift alone never create a conflict.
type Item struct {
	ID         string
	Content    string
	Status     string
	ActiveForm string
	UpdatedAt  time.Time
	Clock      vclock.Clock
	Deleted    bool
	Metadata   map[string]string
}

func (i *Item) equalValue(other *Item) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.Content == other.Content && i.Status == other.Status && i.ActiveForm == other.ActiveForm
}

func (i *Item) clone() *Item {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Clock = i.Clock.Clone()
	if i.Metadata != nil {
		cp.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Result is the outcome of a merge. Exactly one of Merged or MergedPair is
// populated: MergedPair only for strategy keep_both, which produces two
// surviving items.
type Result struct {
	Merged           *Item
	MergedPair       []*Item
	Conflict         bool
	ConflictType     ConflictType
	Strategy         Strategy
	AutoResolved     bool
	RequiresResolution bool
}

// statusRank orders lifecycle statuses for the status_priority strategy.
var statusRank = map[string]int{
	"completed":   3,
	"in_progress": 2,
	"pending":     1,
}

// Merge reconciles local and remote against their common base following the
// seven canonical cases from the merge specification.
func Merge(local, remote, base *Item, strategy Strategy) Result {
	switch {
	case local == nil && remote == nil:
		// Case 1: neither exists.
		return Result{Strategy: strategy}

	case local == nil || remote == nil:
		// Case 2: one-sided creation, or a delete-vs-unchanged situation.
		if base != nil {
			// One side deleted, other left unchanged relative to base: keep nothing.
			if local == nil && remote != nil && remote.equalValue(base) {
				return Result{Strategy: strategy}
			}
			if remote == nil && local != nil && local.equalValue(base) {
				return Result{Strategy: strategy}
			}
			// Case 7: delete conflict — one deleted, other modified vs base.
			surviving := local
			if surviving == nil {
				surviving = remote
			}
			return Result{
				Merged:       surviving.clone(),
				Conflict:     true,
				ConflictType: ConflictDeleteConflict,
				Strategy:     strategy,
			}
		}
		surviving := local
		if surviving == nil {
			surviving = remote
		}
		return Result{Merged: surviving.clone(), Strategy: strategy}
	}

	// Both sides exist.
	if local.equalValue(remote) {
		// Case 4: identical.
		return Result{Merged: local.clone(), Strategy: strategy}
	}

	localChanged := base == nil || !local.equalValue(base)
	remoteChanged := base == nil || !remote.equalValue(base)

	switch {
	case localChanged && !remoteChanged:
		// Case 3: local modified, remote unchanged.
		return Result{Merged: local.clone(), Strategy: strategy}
	case remoteChanged && !localChanged:
		return Result{Merged: remote.clone(), Strategy: strategy}
	}

	// Both changed.
	order := vclock.Compare(local.Clock, remote.Clock)
	if order == vclock.Before {
		// Case 5: clocks comparable, remote is later.
		return Result{Merged: remote.clone(), Strategy: strategy, AutoResolved: true}
	}
	if order == vclock.After {
		return Result{Merged: local.clone(), Strategy: strategy, AutoResolved: true}
	}

	// Case 6: concurrent — delegate to strategy.
	return resolveConcurrent(local, remote, strategy)
}

func resolveConcurrent(local, remote *Item, strategy Strategy) Result {
	conflictType := ConflictContentDiff
	if local.Status != remote.Status {
		conflictType = ConflictStatusDiff
	}

	switch strategy {
	case StrategyKeepLocal:
		return Result{Merged: local.clone(), Conflict: true, ConflictType: conflictType, Strategy: strategy}

	case StrategyKeepRemote:
		return Result{Merged: remote.clone(), Conflict: true, ConflictType: conflictType, Strategy: strategy}

	case StrategyKeepBoth:
		l := local.clone()
		l.Content = fmt.Sprintf("[LOCAL] %s", local.Content)
		if l.Metadata == nil {
			l.Metadata = map[string]string{}
		}
		l.Metadata["original_id"] = local.ID

		r := remote.clone()
		r.Content = fmt.Sprintf("[REMOTE] %s", remote.Content)
		if r.Metadata == nil {
			r.Metadata = map[string]string{}
		}
		r.Metadata["original_id"] = remote.ID

		return Result{MergedPair: []*Item{l, r}, Conflict: true, ConflictType: conflictType, Strategy: strategy}

	case StrategyManual:
		merged := local.clone()
		merged.Content = conflictMarkers(local.Content, remote.Content)
		merged.Status = "pending"
		return Result{
			Merged:             merged,
			Conflict:           true,
			ConflictType:       conflictType,
			Strategy:           strategy,
			RequiresResolution: true,
		}

	case StrategyStatusPriority:
		lr, lok := statusRank[local.Status]
		rr, rok := statusRank[remote.Status]
		if lok && rok && lr != rr {
			if lr > rr {
				return Result{Merged: local.clone(), Conflict: true, ConflictType: conflictType, Strategy: strategy}
			}
			return Result{Merged: remote.clone(), Conflict: true, ConflictType: conflictType, Strategy: strategy}
		}
		return resolveByTimestamp(local, remote, strategy, conflictType)

	case StrategyThreeWay:
		order := vclock.Compare(local.Clock, remote.Clock)
		if order != vclock.Concurrent {
			if order == vclock.Before {
				return Result{Merged: remote.clone(), Strategy: strategy, AutoResolved: true}
			}
			return Result{Merged: local.clone(), Strategy: strategy, AutoResolved: true}
		}
		return resolveByTimestamp(local, remote, strategy, conflictType)

	case StrategyTimestamp:
		fallthrough
	default:
		return resolveByTimestamp(local, remote, strategy, conflictType)
	}
}

func resolveByTimestamp(local, remote *Item, strategy Strategy, conflictType ConflictType) Result {
	if local.UpdatedAt.After(remote.UpdatedAt) {
		return Result{Merged: local.clone(), Conflict: true, ConflictType: conflictType, Strategy: strategy}
	}
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return Result{Merged: remote.clone(), Conflict: true, ConflictType: conflictType, Strategy: strategy}
	}
	// Equal timestamps: deterministic, argument-order-independent tiebreak.
	if strings.Compare(local.ID, remote.ID) <= 0 {
		return Result{Merged: local.clone(), Conflict: true, ConflictType: conflictType, Strategy: strategy}
	}
	return Result{Merged: remote.clone(), Conflict: true, ConflictType: conflictType, Strategy: strategy}
}

func conflictMarkers(local, remote string) string {
	var b strings.Builder
	b.WriteString("<<<<<<< local\n")
	b.WriteString(local)
	b.WriteString("\n=======\n")
	b.WriteString(remote)
	b.WriteString("\n>>>>>>> remote")
	return b.String()
}
