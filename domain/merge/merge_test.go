package merge

import (
	"testing"
	"time"

	"github.com/evidentia/syncplatform/domain/vclock"
)

func item(id, content, status string, updatedAt time.Time, clock vclock.Clock) *Item {
	return &Item{ID: id, Content: content, Status: status, UpdatedAt: updatedAt, Clock: clock}
}

// TestMergeIdempotence exercises P4: merge(a, a, a) = a with conflict=false.
func TestMergeIdempotence(t *testing.T) {
	now := time.Now()
	a := item("t1", "Deploy", "pending", now, vclock.Clock{"p1": 1})

	res := Merge(a, a, a, StrategyTimestamp)
	if res.Conflict {
		t.Fatalf("expected no conflict, got %+v", res)
	}
	if res.Merged == nil || res.Merged.Content != a.Content || res.Merged.Status != a.Status {
		t.Fatalf("expected merged == a, got %+v", res.Merged)
	}
}

// TestMergeCommutativeOnConcurrentTimestamp exercises P5: when clocks are
// concurrent and strategy is timestamp, argument order does not change the
// outcome.
func TestMergeCommutativeOnConcurrentTimestamp(t *testing.T) {
	base := item("t1", "Deploy", "pending", time.Unix(1000, 0), vclock.Clock{"p1": 1, "p2": 1})
	local := item("t1", "Deploy", "pending", time.Unix(1000, 0), vclock.Clock{"p1": 2, "p2": 1})
	remote := item("t1", "Deploy", "completed", time.Unix(2000, 0), vclock.Clock{"p1": 1, "p2": 2})

	ab := Merge(local, remote, base, StrategyTimestamp)
	ba := Merge(remote, local, base, StrategyTimestamp)

	if ab.Merged == nil || ba.Merged == nil {
		t.Fatalf("expected both merges to produce a value: %+v / %+v", ab, ba)
	}
	if ab.Merged.Status != ba.Merged.Status || ab.Merged.Content != ba.Merged.Content {
		t.Fatalf("merge not commutative: %+v vs %+v", ab.Merged, ba.Merged)
	}
	if ab.Merged.Status != "completed" {
		t.Fatalf("expected later update (completed) to win, got %q", ab.Merged.Status)
	}
}

func TestMergeOneSidedCreation(t *testing.T) {
	now := time.Now()
	local := item("t1", "Deploy", "pending", now, vclock.Init("p1"))

	res := Merge(local, nil, nil, StrategyTimestamp)
	if res.Conflict {
		t.Fatalf("expected no conflict for one-sided creation, got %+v", res)
	}
	if res.Merged == nil || res.Merged.Content != "Deploy" {
		t.Fatalf("expected merged == local, got %+v", res.Merged)
	}
}

func TestMergeStatusPriority(t *testing.T) {
	base := item("t1", "Deploy", "pending", time.Unix(500, 0), vclock.Clock{"p1": 1, "p2": 1})
	local := item("t1", "Deploy", "pending", time.Unix(1000, 0), vclock.Clock{"p1": 2, "p2": 1})
	remote := item("t1", "Deploy", "completed", time.Unix(2000, 0), vclock.Clock{"p1": 1, "p2": 2})

	res := Merge(local, remote, base, StrategyStatusPriority)
	if !res.Conflict {
		t.Fatalf("expected conflict for concurrent edits, got none")
	}
	if res.Merged.Status != "completed" {
		t.Fatalf("expected completed to win under status_priority, got %q", res.Merged.Status)
	}
}

func TestMergeKeepBoth(t *testing.T) {
	base := item("t1", "Deploy", "pending", time.Unix(500, 0), vclock.Clock{"p1": 1, "p2": 1})
	local := item("t1", "Deploy to staging", "pending", time.Unix(1000, 0), vclock.Clock{"p1": 2, "p2": 1})
	remote := item("t1", "Deploy to prod", "pending", time.Unix(1000, 0), vclock.Clock{"p1": 1, "p2": 2})

	res := Merge(local, remote, base, StrategyKeepBoth)
	if len(res.MergedPair) != 2 {
		t.Fatalf("expected two surviving items, got %d", len(res.MergedPair))
	}
	if res.MergedPair[0].Metadata["original_id"] != "t1" {
		t.Fatalf("expected original_id metadata to be preserved")
	}
}

func TestMergeManualProducesConflictMarkers(t *testing.T) {
	base := item("t1", "Deploy", "pending", time.Unix(500, 0), vclock.Clock{"p1": 1, "p2": 1})
	local := item("t1", "Deploy to staging", "pending", time.Unix(1000, 0), vclock.Clock{"p1": 2, "p2": 1})
	remote := item("t1", "Deploy to prod", "pending", time.Unix(1000, 0), vclock.Clock{"p1": 1, "p2": 2})

	res := Merge(local, remote, base, StrategyManual)
	if !res.RequiresResolution {
		t.Fatalf("expected RequiresResolution=true")
	}
	if res.Merged.Status != "pending" {
		t.Fatalf("expected status reset to pending, got %q", res.Merged.Status)
	}
}

func TestMergeDeleteConflict(t *testing.T) {
	base := item("t1", "Deploy", "pending", time.Unix(500, 0), nil)
	remote := item("t1", "Deploy to prod", "in_progress", time.Unix(1000, 0), nil)

	res := Merge(nil, remote, base, StrategyTimestamp)
	if res.ConflictType != ConflictDeleteConflict {
		t.Fatalf("expected delete_conflict, got %q", res.ConflictType)
	}
	if res.Merged.Content != "Deploy to prod" {
		t.Fatalf("expected modified side to win, got %+v", res.Merged)
	}
}

func TestMergeEqualityIgnoresMetadataAndTimestamps(t *testing.T) {
	now := time.Now()
	local := item("t1", "Deploy", "pending", now, vclock.Clock{"p1": 1})
	local.Metadata = map[string]string{"source": "cli"}
	remote := item("t1", "Deploy", "pending", now.Add(time.Hour), vclock.Clock{"p1": 1})
	remote.Metadata = map[string]string{"source": "web"}

	res := Merge(local, remote, local, StrategyTimestamp)
	if res.Conflict {
		t.Fatalf("metadata/timestamp drift alone should not create a conflict, got %+v", res)
	}
}
