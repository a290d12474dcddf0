package branch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/George-Strauch/Chorus/internal/agentloop"
	"github.com/George-Strauch/Chorus/internal/tools"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// scriptedRunner returns a fixed result on each call and reports the
// branch id it was given back on a channel so tests can synchronize
// without sleeping.
func scriptedRunner(result agentloop.Result) (Runner, <-chan int64) {
	seen := make(chan int64, 8)
	run := func(ctx context.Context, b *models.ExecutionBranch, messages []models.Message) agentloop.Result {
		seen <- tools.BranchFromContext(ctx)
		return result
	}
	return run, seen
}

func waitFor(t *testing.T, ch <-chan int64, want int64) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("runner invoked for branch %d, want %d", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for runner invocation")
	}
}

func TestCreateBranchSeedsAndRunsToCompletion(t *testing.T) {
	run, seen := scriptedRunner(agentloop.Result{Text: "done"})
	m := NewManager("alice", run)

	b := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "hello there"})
	if b.ID == 0 {
		t.Fatal("expected a nonzero branch id")
	}
	if b.Status != models.BranchRunning {
		t.Fatalf("status = %v, want RUNNING", b.Status)
	}
	waitFor(t, seen, b.ID)

	deadline := time.After(time.Second)
	for {
		got, _ := m.Get(b.ID)
		if got.Status == models.BranchCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("branch never reached COMPLETED, last status %v", got.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSummaryTruncatesTo50Runes(t *testing.T) {
	run, seen := scriptedRunner(agentloop.Result{Text: "ok"})
	m := NewManager("alice", run)

	long := strings.Repeat("x", 80)
	b := m.CreateBranch(models.Message{Role: models.RoleUser, Content: long})
	waitFor(t, seen, b.ID)

	if got := []rune(b.Summary); len(got) != summaryRunes {
		t.Fatalf("summary length = %d, want %d", len(got), summaryRunes)
	}
}

func TestRouteInjectsIntoLiveBranch(t *testing.T) {
	block := make(chan struct{})
	run := func(ctx context.Context, b *models.ExecutionBranch, messages []models.Message) agentloop.Result {
		<-block
		return agentloop.Result{Text: "finished"}
	}
	m := NewManager("alice", run)

	b := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "seed"})
	m.RegisterOutbound(b.ID, "msg-1")

	ok := m.Route("msg-1", models.Message{Role: models.RoleUser, Content: "follow up"})
	if !ok {
		t.Fatal("expected Route to find the outbound id")
	}
	injected := m.DrainInjected(b.ID)
	if len(injected) != 1 || injected[0].Content != "follow up" {
		t.Fatalf("unexpected injected messages: %+v", injected)
	}
	close(block)
}

func TestRouteResumesStoppedBranch(t *testing.T) {
	run, seen := scriptedRunner(agentloop.Result{Text: "first"})
	m := NewManager("alice", run)

	b := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "seed"})
	m.RegisterOutbound(b.ID, "msg-1")
	waitFor(t, seen, b.ID)

	deadline := time.After(time.Second)
	for {
		got, _ := m.Get(b.ID)
		if got.Status == models.BranchCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("branch never completed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	ok := m.Route("msg-1", models.Message{Role: models.RoleUser, Content: "are you there"})
	if !ok {
		t.Fatal("expected Route to resume the branch")
	}
	waitFor(t, seen, b.ID)

	got, _ := m.Get(b.ID)
	if got.EndedAt == nil {
		t.Fatal("resumed branch should have ended again once the runner returned")
	}
}

func TestRouteUnknownOutboundIDReturnsFalse(t *testing.T) {
	run, _ := scriptedRunner(agentloop.Result{})
	m := NewManager("alice", run)
	if m.Route("nope", models.Message{}) {
		t.Fatal("expected Route to report false for an unknown outbound id")
	}
}

func TestKillCancelsContextAndMarksCancelled(t *testing.T) {
	started := make(chan struct{})
	run := func(ctx context.Context, b *models.ExecutionBranch, messages []models.Message) agentloop.Result {
		close(started)
		<-ctx.Done()
		return agentloop.Result{Text: "killed mid-flight"}
	}
	m := NewManager("alice", run)

	b := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "loop forever"})
	<-started

	if !m.Kill(b.ID) {
		t.Fatal("expected Kill to succeed")
	}
	got, _ := m.Get(b.ID)
	if got.Status != models.BranchCancelled {
		t.Fatalf("status = %v, want CANCELLED", got.Status)
	}
	if m.Kill(b.ID) {
		t.Fatal("expected a second Kill on an already-terminal branch to return false")
	}
}

func TestKillAllStopsEveryLiveBranch(t *testing.T) {
	run := func(ctx context.Context, b *models.ExecutionBranch, messages []models.Message) agentloop.Result {
		<-ctx.Done()
		return agentloop.Result{}
	}
	m := NewManager("alice", run)

	b1 := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "one"})
	b2 := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "two"})

	deadline := time.After(time.Second)
	for {
		if len(m.ListActive()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("branches never became active")
		case <-time.After(5 * time.Millisecond):
		}
	}

	killed := m.KillAll()
	if killed != 2 {
		t.Fatalf("killed = %d, want 2", killed)
	}
	got1, _ := m.Get(b1.ID)
	got2, _ := m.Get(b2.ID)
	if got1.Status != models.BranchCancelled || got2.Status != models.BranchCancelled {
		t.Fatalf("expected both branches cancelled, got %v and %v", got1.Status, got2.Status)
	}
}

func TestAcquireFileLockTimesOutWhenHeld(t *testing.T) {
	run, _ := scriptedRunner(agentloop.Result{})
	m := NewManager("alice", run)

	ctx := tools.WithBranch(context.Background(), 1)
	if !m.AcquireFileLock(ctx, "a.txt", time.Second) {
		t.Fatal("expected first acquire to succeed")
	}
	defer m.ReleaseFileLock("a.txt")

	start := time.Now()
	if m.AcquireFileLock(context.Background(), "a.txt", 20*time.Millisecond) {
		t.Fatal("expected second acquire to time out while held")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("acquire returned before the timeout elapsed")
	}
}

func TestReleaseFileLockAllowsNextAcquire(t *testing.T) {
	run, _ := scriptedRunner(agentloop.Result{})
	m := NewManager("alice", run)

	ctx := tools.WithBranch(context.Background(), 1)
	if !m.AcquireFileLock(ctx, "b.txt", time.Second) {
		t.Fatal("expected first acquire to succeed")
	}
	m.ReleaseFileLock("b.txt")

	if !m.AcquireFileLock(context.Background(), "b.txt", time.Second) {
		t.Fatal("expected acquire after release to succeed")
	}
	m.ReleaseFileLock("b.txt")
}

func TestKillReleasesLocksOwnedByTheKilledBranch(t *testing.T) {
	started := make(chan struct{})
	run := func(ctx context.Context, b *models.ExecutionBranch, messages []models.Message) agentloop.Result {
		close(started)
		<-ctx.Done()
		return agentloop.Result{}
	}
	m := NewManager("alice", run)

	b := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "holds a lock"})
	<-started

	ctx := tools.WithBranch(context.Background(), b.ID)
	if !m.AcquireFileLock(ctx, "c.txt", time.Second) {
		t.Fatal("expected lock acquire to succeed")
	}

	got, _ := m.Get(b.ID)
	if len(got.LockedPaths) != 1 || got.LockedPaths[0] != "c.txt" {
		t.Fatalf("expected branch to report the held lock, got %+v", got.LockedPaths)
	}

	m.Kill(b.ID)

	if !m.AcquireFileLock(context.Background(), "c.txt", 50*time.Millisecond) {
		t.Fatal("expected kill to force-release the lock")
	}
}

func TestRecordStepDrivesWaitingForPermissionTransition(t *testing.T) {
	run, _ := scriptedRunner(agentloop.Result{})
	m := NewManager("alice", run)
	b := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "seed"})

	m.RecordStep(b.ID, models.StepRecord{Decision: "awaiting_permission", At: time.Now()})
	got, _ := m.Get(b.ID)
	if got.Status != models.BranchWaitingForPermission {
		t.Fatalf("status = %v, want WAITING_FOR_PERMISSION", got.Status)
	}

	m.RecordStep(b.ID, models.StepRecord{Decision: "calling_llm", At: time.Now()})
	got, _ = m.Get(b.ID)
	if got.Status != models.BranchRunning {
		t.Fatalf("status = %v, want RUNNING", got.Status)
	}
}

func TestInjectPushesIntoLiveBranchQueue(t *testing.T) {
	run, _ := scriptedRunner(agentloop.Result{})
	m := NewManager("alice", run)
	b := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "seed"})

	if !m.Inject(b.ID, "build finished") {
		t.Fatal("expected Inject to succeed on a live branch")
	}
	drained := m.DrainInjected(b.ID)
	if len(drained) != 1 || drained[0].Content != "build finished" {
		t.Fatalf("drained = %+v", drained)
	}
}

func TestInjectFailsOnUnknownOrTerminalBranch(t *testing.T) {
	run, _ := scriptedRunner(agentloop.Result{})
	m := NewManager("alice", run)

	if m.Inject(999, "nope") {
		t.Fatal("expected Inject to fail for an unknown branch")
	}

	b := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "seed"})
	m.Kill(b.ID)
	if m.Inject(b.ID, "too late") {
		t.Fatal("expected Inject to fail on a killed (terminal) branch")
	}
}

func TestCreateChildBranchRecordsParentAndDepth(t *testing.T) {
	run, seen := scriptedRunner(agentloop.Result{Text: "done"})
	m := NewManager("alice", run)
	parent := m.CreateBranch(models.Message{Role: models.RoleUser, Content: "seed"})

	child := m.CreateChildBranch(models.Message{Role: models.RoleUser, Content: "hook seed"}, parent.ID, 1)
	waitFor(t, seen, parent.ID)
	waitFor(t, seen, child.ID)

	if child.ParentID != parent.ID {
		t.Fatalf("parent id = %d, want %d", child.ParentID, parent.ID)
	}
	if child.RecursionDepth != 1 {
		t.Fatalf("recursion depth = %d, want 1", child.RecursionDepth)
	}
	if m.BranchRecursionDepth(child.ID) != 1 {
		t.Fatalf("BranchRecursionDepth(child) = %d, want 1", m.BranchRecursionDepth(child.ID))
	}
}
