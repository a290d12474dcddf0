package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/George-Strauch/Chorus/pkg/models"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	spawns  int
	outputs []string
	exits   []*models.TrackedProcess
}

func (d *recordingDispatcher) OnSpawn(proc *models.TrackedProcess) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spawns++
}

func (d *recordingDispatcher) OnOutput(proc *models.TrackedProcess, line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputs = append(d.outputs, line)
}

func (d *recordingDispatcher) OnExit(proc *models.TrackedProcess) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exits = append(d.exits, proc)
}

func (d *recordingDispatcher) exitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.exits)
}

type stubDepths struct{ depth int }

func (s stubDepths) BranchRecursionDepth(branchID int64) int { return s.depth }

func waitUntilTerminal(t *testing.T, m *Manager, id string, timeout time.Duration) *models.TrackedProcess {
	t.Helper()
	deadline := time.After(timeout)
	for {
		proc, ok := m.Get(id)
		if ok && proc.IsTerminal() {
			return proc
		}
		select {
		case <-deadline:
			t.Fatalf("process %s did not reach a terminal state in time", id)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSpawnConcurrentCapturesOutputAndExitCode(t *testing.T) {
	m := NewManager("", nil, nil)
	proc, err := m.SpawnConcurrent(context.Background(), "alice", 1, "echo hello", time.Second)
	if err != nil {
		t.Fatalf("SpawnConcurrent: %v", err)
	}
	if proc.Status != models.ProcessExited {
		t.Fatalf("status = %v, want exited", proc.Status)
	}
	if proc.ExitCode == nil || *proc.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", proc.ExitCode)
	}
	if len(proc.OutputTail) == 0 || proc.OutputTail[len(proc.OutputTail)-1] != "hello" {
		t.Fatalf("output tail = %v, want to end with hello", proc.OutputTail)
	}
}

func TestSpawnConcurrentTimeoutKillsProcess(t *testing.T) {
	m := NewManager("", nil, nil)
	proc, err := m.SpawnConcurrent(context.Background(), "alice", 1, "sleep 5", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("SpawnConcurrent: %v", err)
	}
	if proc.Status != models.ProcessTimedOut {
		t.Fatalf("status = %v, want timed_out", proc.Status)
	}
}

func TestSpawnBackgroundReturnsImmediatelyAndRuns(t *testing.T) {
	m := NewManager("", nil, nil)
	proc, err := m.SpawnBackground(context.Background(), "alice", 1, "sleep 1", nil)
	if err != nil {
		t.Fatalf("SpawnBackground: %v", err)
	}
	if proc.Status != models.ProcessRunning {
		t.Fatalf("status = %v, want running", proc.Status)
	}
	if proc.PID == 0 {
		t.Fatal("expected a nonzero pid")
	}
	final := waitUntilTerminal(t, m, proc.ID, 3*time.Second)
	if final.Status != models.ProcessExited {
		t.Fatalf("final status = %v, want exited", final.Status)
	}
}

func TestKillUnknownIDReturnsFalse(t *testing.T) {
	m := NewManager("", nil, nil)
	if m.Kill("does-not-exist") {
		t.Fatal("expected Kill on an unknown id to return false")
	}
}

func TestKillTerminalProcessReturnsFalse(t *testing.T) {
	m := NewManager("", nil, nil)
	proc, err := m.SpawnBackground(context.Background(), "alice", 1, "true", nil)
	if err != nil {
		t.Fatalf("SpawnBackground: %v", err)
	}
	waitUntilTerminal(t, m, proc.ID, 2*time.Second)
	if m.Kill(proc.ID) {
		t.Fatal("expected Kill on an already-terminal process to return false")
	}
}

func TestKillSendsTermAndMarksKilled(t *testing.T) {
	m := NewManager("", nil, nil)
	proc, err := m.SpawnBackground(context.Background(), "alice", 1, "sleep 5", nil)
	if err != nil {
		t.Fatalf("SpawnBackground: %v", err)
	}
	if !m.Kill(proc.ID) {
		t.Fatal("expected Kill to succeed on a running process")
	}
	final := waitUntilTerminal(t, m, proc.ID, 2*time.Second)
	if final.Status != models.ProcessKilled {
		t.Fatalf("status = %v, want killed", final.Status)
	}
}

func TestListFiltersByAgent(t *testing.T) {
	m := NewManager("", nil, nil)
	if _, err := m.SpawnBackground(context.Background(), "alice", 1, "true", nil); err != nil {
		t.Fatalf("SpawnBackground: %v", err)
	}
	if _, err := m.SpawnBackground(context.Background(), "bob", 1, "true", nil); err != nil {
		t.Fatalf("SpawnBackground: %v", err)
	}
	got := m.List("alice")
	if len(got) != 1 || got[0].Agent != "alice" {
		t.Fatalf("List(alice) = %+v", got)
	}
	if len(m.List("")) != 2 {
		t.Fatalf("List(\"\") should return every process")
	}
}

func TestDispatcherReceivesOutputAndExit(t *testing.T) {
	disp := &recordingDispatcher{}
	m := NewManager("", nil, disp)
	proc, err := m.SpawnConcurrent(context.Background(), "alice", 1, "echo one; echo two", time.Second)
	if err != nil {
		t.Fatalf("SpawnConcurrent: %v", err)
	}
	if proc.Status != models.ProcessExited {
		t.Fatalf("status = %v", proc.Status)
	}
	disp.mu.Lock()
	outputs := append([]string(nil), disp.outputs...)
	disp.mu.Unlock()
	if len(outputs) != 2 || outputs[0] != "one" || outputs[1] != "two" {
		t.Fatalf("outputs = %v", outputs)
	}
	if disp.exitCount() != 1 {
		t.Fatalf("exit count = %d, want 1", disp.exitCount())
	}
}

func TestBranchRecursionDepthStampedOnSpawn(t *testing.T) {
	m := NewManager("", stubDepths{depth: 2}, nil)
	proc, err := m.SpawnBackground(context.Background(), "alice", 7, "true", nil)
	if err != nil {
		t.Fatalf("SpawnBackground: %v", err)
	}
	if proc.RecursionDepth != 2 {
		t.Fatalf("recursion depth = %d, want 2", proc.RecursionDepth)
	}
}

func TestRecoverOnStartupMarksDeadPidExited(t *testing.T) {
	disp := &recordingDispatcher{}
	m := NewManager("", nil, disp)
	row := &models.TrackedProcess{
		ID:     "ghost",
		Agent:  "alice",
		PID:    1 << 30, // astronomically unlikely to be a live pid
		Status: models.ProcessRunning,
	}
	m.RecoverOnStartup([]*models.TrackedProcess{row})
	if row.Status != models.ProcessExited {
		t.Fatalf("status = %v, want exited", row.Status)
	}
	if row.ExitCode == nil || *row.ExitCode != -1 {
		t.Fatalf("exit code = %v, want -1 (lost)", row.ExitCode)
	}
	if disp.exitCount() != 1 {
		t.Fatalf("expected OnExit to fire for a dead reattach, got %d", disp.exitCount())
	}
}

func TestRecoverOnStartupSkipsNonRunningRows(t *testing.T) {
	m := NewManager("", nil, nil)
	row := &models.TrackedProcess{ID: "done", Status: models.ProcessExited}
	m.RecoverOnStartup([]*models.TrackedProcess{row})
	if row.Status != models.ProcessExited {
		t.Fatalf("status changed unexpectedly: %v", row.Status)
	}
}
