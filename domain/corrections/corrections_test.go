package corrections

import (
	"context"
	"testing"
)

func TestMatchesEqualityAndExistence(t *testing.T) {
	doc := `{"status":"done","todo":{"priority":"low"}}`

	rule := Rule{Match: []MatchCriterion{{Path: "status", Value: "done"}}}
	if !Matches(doc, rule) {
		t.Fatal("expected equality match on status=done")
	}

	existsRule := Rule{Match: []MatchCriterion{{Path: "todo.priority"}}}
	if !Matches(doc, existsRule) {
		t.Fatal("expected existence match on todo.priority")
	}

	missingRule := Rule{Match: []MatchCriterion{{Path: "todo.owner"}}}
	if Matches(doc, missingRule) {
		t.Fatal("expected no match for missing path")
	}
}

func TestEvaluateSet(t *testing.T) {
	doc := `{"status":"open"}`
	rule := Rule{Correction: Correction{Kind: CorrectionSet, TargetPath: "status", Value: "closed"}}

	proposed, rollback, err := Evaluate(context.Background(), doc, rule)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if proposed != "closed" {
		t.Fatalf("expected proposed=closed, got %q", proposed)
	}
	if rollback != "open" {
		t.Fatalf("expected rollback=open, got %q", rollback)
	}
}

func TestEvaluateRemove(t *testing.T) {
	doc := `{"priority":"high"}`
	rule := Rule{Correction: Correction{Kind: CorrectionRemove, TargetPath: "priority"}}

	proposed, rollback, err := Evaluate(context.Background(), doc, rule)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if proposed != "" {
		t.Fatalf("expected empty proposed value, got %q", proposed)
	}
	if rollback != "high" {
		t.Fatalf("expected rollback=high, got %q", rollback)
	}
}

func TestEvaluateTransform(t *testing.T) {
	doc := `{"title":"buy milk"}`
	rule := Rule{Correction: Correction{
		Kind:       CorrectionTransform,
		TargetPath: "title",
		Script:     `value.toUpperCase()`,
	}}

	proposed, rollback, err := Evaluate(context.Background(), doc, rule)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if proposed != "BUY MILK" {
		t.Fatalf("expected BUY MILK, got %q", proposed)
	}
	if rollback != "buy milk" {
		t.Fatalf("expected rollback=buy milk, got %q", rollback)
	}
}

func TestEvaluateTransformTimeout(t *testing.T) {
	doc := `{"title":"x"}`
	rule := Rule{Correction: Correction{
		Kind:       CorrectionTransform,
		TargetPath: "title",
		Script:     `while(true) {}`,
	}}

	_, _, err := Evaluate(context.Background(), doc, rule)
	if err == nil {
		t.Fatal("expected timeout error for runaway transform script")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	calls := 0
	item := &QueueItem{ID: "q1", DocumentID: "d1", ProposedValue: "closed"}
	write := func(documentID, value string) error {
		calls++
		return nil
	}

	if err := Apply(item, write); err != nil {
		t.Fatalf("first Apply error: %v", err)
	}
	if err := Apply(item, write); err != nil {
		t.Fatalf("second Apply error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected write called once, got %d", calls)
	}
	if !item.Applied {
		t.Fatal("expected item marked applied")
	}
}

func TestBulkApplyRequiresApproval(t *testing.T) {
	items := []*QueueItem{
		{ID: "a", DocumentID: "d1", ProposedValue: "x"},
		{ID: "b", DocumentID: "d2", ProposedValue: "y"},
	}
	approved := map[string]bool{"a": true}
	var written []string
	write := func(documentID, value string) error {
		written = append(written, documentID)
		return nil
	}

	applied, parked, err := BulkApply(items, BulkApplyPolicy{RequiresApproval: true}, approved, write)
	if err != nil {
		t.Fatalf("BulkApply error: %v", err)
	}
	if applied != 1 || parked != 1 {
		t.Fatalf("expected 1 applied, 1 parked, got applied=%d parked=%d", applied, parked)
	}
	if !items[1].RequiresReview {
		t.Fatal("expected unapproved item flagged for review")
	}
	if len(written) != 1 || written[0] != "d1" {
		t.Fatalf("expected only d1 written, got %v", written)
	}
}

func TestBulkApplyWithoutApprovalPolicy(t *testing.T) {
	items := []*QueueItem{
		{ID: "a", DocumentID: "d1", ProposedValue: "x"},
		{ID: "b", DocumentID: "d2", ProposedValue: "y"},
	}
	var written []string
	write := func(documentID, value string) error {
		written = append(written, documentID)
		return nil
	}

	applied, parked, err := BulkApply(items, BulkApplyPolicy{RequiresApproval: false}, nil, write)
	if err != nil {
		t.Fatalf("BulkApply error: %v", err)
	}
	if applied != 2 || parked != 0 {
		t.Fatalf("expected both applied, got applied=%d parked=%d", applied, parked)
	}
	if len(written) != 2 {
		t.Fatalf("expected both documents written, got %v", written)
	}
}
