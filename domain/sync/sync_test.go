package sync

import (
	"context"
	"testing"
	"time"

	"github.com/evidentia/syncplatform/domain/merge"
	"github.com/evidentia/syncplatform/domain/vclock"
	"github.com/evidentia/syncplatform/infrastructure/state"
)

func TestRegisterSessionIsIdempotent(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	s1 := r.RegisterSession("ext-1", "proj-a", "main", now)
	s2 := r.RegisterSession("ext-1", "proj-a", "main", now.Add(time.Minute))

	if s1 != s2 {
		t.Fatal("expected registerSession to return the same session on repeat calls")
	}
	if len(r.ActiveSessions("proj-a")) != 1 {
		t.Fatalf("expected exactly one active session, got %d", len(r.ActiveSessions("proj-a")))
	}
}

func TestSweepInactiveAndArchive(t *testing.T) {
	r := NewRegistry()
	start := time.Now()
	r.RegisterSession("ext-1", "proj-a", "main", start)

	idle, archived := r.SweepInactive(start.Add(2*time.Hour), time.Hour, DefaultArchiveAfter)
	if len(idle) != 1 || len(archived) != 0 {
		t.Fatalf("expected one session marked inactive, got idle=%v archived=%v", idle, archived)
	}

	idle2, archived2 := r.SweepInactive(start.Add(8*24*time.Hour), time.Hour, DefaultArchiveAfter)
	if len(idle2) != 0 || len(archived2) != 1 {
		t.Fatalf("expected session archived after default window, got idle=%v archived=%v", idle2, archived2)
	}
}

func newTestConsolidator(t *testing.T) *Consolidator {
	t.Helper()
	ps, err := state.NewPersistentState(state.Config{Backend: state.NewMemoryBackend(0), KeyPrefix: "sync-test:"})
	if err != nil {
		t.Fatalf("NewPersistentState error: %v", err)
	}
	return NewConsolidator(state.NewLease(ps), "worker-1")
}

// TestConsolidateSingleCanonicalPerProject targets the project-canonical-
// singularity property: consolidating concurrent session contributions for
// the same todo id always yields exactly one canonical item for that id.
func TestConsolidateSingleCanonicalPerProject(t *testing.T) {
	c := newTestConsolidator(t)
	now := time.Now()

	base := []merge.Item{
		{ID: "t1", Content: "write docs", Status: "pending", UpdatedAt: now.Add(-time.Hour)},
	}

	clockA := vclock.Increment(vclock.Init("session-a"), "session-a")
	clockB := vclock.Increment(vclock.Init("session-b"), "session-b")

	contributions := []SessionTodos{
		{SessionID: "session-a", Items: []merge.Item{
			{ID: "t1", Content: "write docs", Status: "in_progress", UpdatedAt: now.Add(-30 * time.Minute), Clock: clockA},
		}},
		{SessionID: "session-b", Items: []merge.Item{
			{ID: "t1", Content: "write docs", Status: "completed", UpdatedAt: now, Clock: clockB},
		}},
	}

	result, err := c.Consolidate(context.Background(), "proj-a", base, contributions, merge.StrategyTimestamp)
	if err != nil {
		t.Fatalf("Consolidate error: %v", err)
	}
	if len(result.Canonical) != 1 {
		t.Fatalf("expected exactly one canonical item for t1, got %d", len(result.Canonical))
	}
	if result.Canonical[0].Status != "completed" {
		t.Fatalf("expected later timestamp (completed) to win, got %s", result.Canonical[0].Status)
	}
	if len(result.ContributingSessions) != 2 {
		t.Fatalf("expected both sessions recorded as contributing, got %v", result.ContributingSessions)
	}
	if len(result.Mutated) != 1 || result.Mutated[0] != "t1" {
		t.Fatalf("expected t1 recorded as mutated vs base, got %v", result.Mutated)
	}
}

func TestConsolidateSerializesPerProject(t *testing.T) {
	c := newTestConsolidator(t)
	ctx := context.Background()

	key := consolidationLeaseKey("proj-a")
	if err := c.lease.Acquire(ctx, key, "other-worker", time.Minute); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	_, err := c.Consolidate(ctx, "proj-a", nil, nil, merge.StrategyTimestamp)
	if err != state.ErrLeaseHeld {
		t.Fatalf("expected consolidation to be blocked while another worker holds the lease, got %v", err)
	}
}

func TestCommitMessageFormat(t *testing.T) {
	r := ConsolidationResult{CompletedCount: 2, InProgressCount: 1, PendingCount: 3}
	got := r.CommitMessage("feat")
	want := "feat(sync): Update project todos - 2 completed, 1 in progress, 3 pending"
	if got != want {
		t.Fatalf("unexpected commit message: %q", got)
	}
}

func TestClassifyCapsAndPicksPrimary(t *testing.T) {
	result := Classify("fix crash in auth module and add test coverage", "fixing auth crash", "auth/login.go")
	if len(result.Topics) == 0 {
		t.Fatal("expected at least one topic")
	}
	if len(result.Topics) > MaxTopicsPerItem {
		t.Fatalf("expected at most %d topics, got %d", MaxTopicsPerItem, len(result.Topics))
	}
	if result.Primary != result.Topics[0].Topic {
		t.Fatalf("expected primary to be the highest scoring topic, got %s vs %s", result.Primary, result.Topics[0].Topic)
	}
	if result.Primary != "security" && result.Primary != "bugfix" {
		t.Fatalf("expected security or bugfix to be the top topic, got %s", result.Primary)
	}
}

func TestClassifyNoMatch(t *testing.T) {
	result := Classify("", "", "")
	if result.Primary != "" {
		t.Fatalf("expected no primary topic for empty input, got %s", result.Primary)
	}
	if len(result.Topics) != 0 {
		t.Fatalf("expected no topics for empty input, got %v", result.Topics)
	}
}
