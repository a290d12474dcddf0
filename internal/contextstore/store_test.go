package contextstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/George-Strauch/Chorus/pkg/models"
)

type stubSummarizer struct {
	text string
	err  error
}

func (s stubSummarizer) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	return s.text, s.err
}

func TestGetWindowExcludesMessagesOlderThanWindow(t *testing.T) {
	store := NewStore(nil)
	store.SetWindow("alice", time.Hour)

	old := models.Message{Agent: "alice", Branch: 1, Content: "old", Timestamp: time.Now().Add(-2 * time.Hour)}
	recent := models.Message{Agent: "alice", Branch: 1, Content: "recent", Timestamp: time.Now().Add(-time.Minute)}
	store.Persist(old)
	store.Persist(recent)

	window := store.GetWindow("alice", 1)
	if len(window) != 1 || window[0].Content != "recent" {
		t.Fatalf("unexpected window: %+v", window)
	}
}

func TestGetWindowFiltersByBranch(t *testing.T) {
	store := NewStore(nil)
	store.SetWindow("alice", time.Hour)

	store.Persist(models.Message{Agent: "alice", Branch: 1, Content: "branch one"})
	store.Persist(models.Message{Agent: "alice", Branch: 2, Content: "branch two"})

	window := store.GetWindow("alice", 2)
	if len(window) != 1 || window[0].Content != "branch two" {
		t.Fatalf("unexpected window: %+v", window)
	}
}

func TestClearAdvancesMarkerWithoutDeletingRows(t *testing.T) {
	store := NewStore(nil)
	store.SetWindow("alice", 24*time.Hour)

	store.Persist(models.Message{Agent: "alice", Branch: 1, Content: "before clear"})
	store.Clear("alice")
	time.Sleep(time.Millisecond)
	store.Persist(models.Message{Agent: "alice", Branch: 1, Content: "after clear"})

	window := store.GetWindow("alice", 1)
	if len(window) != 1 || window[0].Content != "after clear" {
		t.Fatalf("expected only the post-clear message, got %+v", window)
	}

	// Raw storage is untouched by clear.
	store.mu.RLock()
	total := len(store.messages["alice"])
	store.mu.RUnlock()
	if total != 2 {
		t.Fatalf("expected clear to preserve both rows, found %d", total)
	}
}

func TestSnapshotUsesSummarizerAndRestoreReentersWindow(t *testing.T) {
	store := NewStore(stubSummarizer{text: "a short recap"})
	store.SetWindow("alice", time.Hour)

	store.Persist(models.Message{Agent: "alice", Branch: 1, Content: "hello"})
	store.Persist(models.Message{Agent: "alice", Branch: 1, Content: "world"})

	snap := store.Snapshot(context.Background(), "alice", "checkpoint")
	if snap.Summary != "a short recap" {
		t.Fatalf("summary = %q", snap.Summary)
	}
	if snap.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2", snap.MessageCount)
	}

	store.Clear("alice")
	if len(store.GetWindow("alice", 1)) != 0 {
		t.Fatal("expected window to be empty after clear")
	}

	restored, err := store.Restore("alice", snap.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != 2 {
		t.Fatalf("restored = %d, want 2", restored)
	}
	if len(store.GetWindow("alice", 1)) != 2 {
		t.Fatal("expected restored messages to re-enter the window")
	}
}

func TestSnapshotFallsBackOnSummarizerFailure(t *testing.T) {
	store := NewStore(stubSummarizer{err: errors.New("model unavailable")})
	store.Persist(models.Message{Agent: "alice", Branch: 1, Content: "hi"})

	snap := store.Snapshot(context.Background(), "alice", "")
	if snap.Summary != failedSummaryPlaceholder {
		t.Fatalf("summary = %q, want placeholder", snap.Summary)
	}
}

func TestRestoreUnknownSnapshotErrors(t *testing.T) {
	store := NewStore(nil)
	if _, err := store.Restore("alice", "nope"); err == nil {
		t.Fatal("expected an error for an unknown snapshot id")
	}
}

func TestListSnapshotsCapsToLimit(t *testing.T) {
	store := NewStore(nil)
	for i := 0; i < 5; i++ {
		store.Snapshot(context.Background(), "alice", "")
	}
	if got := store.ListSnapshots("alice", 2); len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got := store.ListSnapshots("alice", 0); len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
}
