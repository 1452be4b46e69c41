// Package corrections implements the correction engine: declarative match
// rules evaluated with gjson over a document/entity's JSON projection, and
// typed corrections (set, transform, remove) applied to a per-document
// review queue with rollback metadata.
package corrections

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"
)

// RuleState is a correction rule's lifecycle status.
type RuleState string

const (
	RuleDraft    RuleState = "draft"
	RuleApproved RuleState = "approved"
	RuleActive   RuleState = "active"
	RulePaused   RuleState = "paused"
	RuleRetired  RuleState = "retired"
)

// CorrectionKind is the typed action a rule applies.
type CorrectionKind string

const (
	CorrectionSet       CorrectionKind = "set"
	CorrectionTransform CorrectionKind = "transform"
	CorrectionRemove    CorrectionKind = "remove"
)

// MatchCriterion is one gjson path equality/existence check.
type MatchCriterion struct {
	Path  string
	Value string // empty means "path must exist"
}

// Correction describes the typed action a rule performs on a matched path.
type Correction struct {
	Kind       CorrectionKind
	TargetPath string
	Value      string // used by CorrectionSet
	Script     string // used by CorrectionTransform: a goja expression
}

// Rule is a declarative correction: match criteria plus a typed correction.
type Rule struct {
	ID         string
	Name       string
	State      RuleState
	Match      []MatchCriterion
	Correction Correction
}

// QueueItem is a per-document proposal awaiting or having undergone
// application.
type QueueItem struct {
	ID             string
	RuleID         string
	DocumentID     string
	CurrentValue   string
	ProposedValue  string
	RollbackValue  string
	Applied        bool
	RequiresReview bool
}

// Matches reports whether json (a document/entity's JSON representation)
// satisfies every one of rule's match criteria.
func Matches(json string, rule Rule) bool {
	for _, crit := range rule.Match {
		result := gjson.Get(json, crit.Path)
		if crit.Value == "" {
			if !result.Exists() {
				return false
			}
			continue
		}
		if !result.Exists() || result.String() != crit.Value {
			return false
		}
	}
	return true
}

// Evaluate computes the proposed value for a matched document, running
// transform corrections through a sandboxed goja VM with a bounded
// execution timeout and no access to globals beyond `value` and `context`.
func Evaluate(ctx context.Context, doc string, rule Rule) (proposed string, rollback string, err error) {
	currentResult := gjson.Get(doc, rule.Correction.TargetPath)
	current := currentResult.String()

	switch rule.Correction.Kind {
	case CorrectionSet:
		return rule.Correction.Value, current, nil

	case CorrectionRemove:
		return "", current, nil

	case CorrectionTransform:
		value, err := runTransform(ctx, rule.Correction.Script, current, doc)
		if err != nil {
			return "", current, fmt.Errorf("corrections: transform failed: %w", err)
		}
		return value, current, nil

	default:
		return "", current, fmt.Errorf("corrections: unknown correction kind %q", rule.Correction.Kind)
	}
}

// transformTimeout bounds how long a sandboxed transform script may run.
const transformTimeout = 2 * time.Second

func runTransform(ctx context.Context, script, value, docJSON string) (string, error) {
	vm := goja.New()
	vm.Set("value", value)
	vm.Set("context", docJSON)

	done := make(chan struct{})
	var result goja.Value
	var runErr error

	go func() {
		defer close(done)
		result, runErr = vm.RunString(script)
	}()

	select {
	case <-done:
		if runErr != nil {
			return "", runErr
		}
		return result.String(), nil
	case <-time.After(transformTimeout):
		vm.Interrupt("transform timeout exceeded")
		<-done
		return "", fmt.Errorf("transform exceeded %s timeout", transformTimeout)
	case <-ctx.Done():
		vm.Interrupt("cancelled")
		<-done
		return "", ctx.Err()
	}
}

// Apply applies an item idempotently: re-applying an already-applied item
// is a no-op, matching the stated invariant.
func Apply(item *QueueItem, write func(documentID, value string) error) error {
	if item.Applied {
		return nil
	}
	if err := write(item.DocumentID, item.ProposedValue); err != nil {
		return err
	}
	item.Applied = true
	return nil
}

// BulkApplyPolicy controls whether items require explicit approval before
// application.
type BulkApplyPolicy struct {
	RequiresApproval bool
}

// BulkApply applies every item whose approval requirement (if any) is
// satisfied; unapproved items are parked (RequiresReview=true) and skipped.
func BulkApply(items []*QueueItem, policy BulkApplyPolicy, approved map[string]bool, write func(documentID, value string) error) (applied int, parked int, err error) {
	for _, item := range items {
		if policy.RequiresApproval && !approved[item.ID] {
			item.RequiresReview = true
			parked++
			continue
		}
		if err := Apply(item, write); err != nil {
			return applied, parked, err
		}
		applied++
	}
	return applied, parked, nil
}
