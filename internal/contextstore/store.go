// Package contextstore implements the rolling context window of spec §4.8:
// append-only message persistence per agent, a windowed view bounded by a
// per-agent rolling duration and a marker-based clear, and named snapshots
// that can later be restored back into the window.
//
// Grounded on nexus's internal/sessions/memory.go (in-memory Store shape:
// an RWMutex-guarded map plus deep-copy-on-read) for Persist/GetWindow, and
// internal/sessions/compaction.go's Summarizer seam for the snapshot
// summary ("on failure, save with a placeholder and do not fail the
// snapshot" is the same fallback compaction.go uses when its summarizer
// errors).
package contextstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/George-Strauch/Chorus/pkg/models"
)

// Summarizer generates a short snapshot summary via a cheap model call.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// Snapshot is a persisted, self-contained copy of an agent's rolling window
// at the moment it was taken, matching spec's session snapshot file shape.
type Snapshot struct {
	ID           string
	Agent        string
	Timestamp    time.Time
	Description  string
	Summary      string
	MessageCount int
	WindowStart  time.Time
	WindowEnd    time.Time
	Messages     []models.Message
}

const failedSummaryPlaceholder = "(summary generation failed)"

// Store is the per-process context store. One Store serves every agent;
// state is partitioned by agent name.
type Store struct {
	mu sync.RWMutex

	messages  map[string][]models.Message
	window    map[string]time.Duration
	lastClear map[string]time.Time
	snapshots map[string][]*Snapshot

	summarizer Summarizer
}

// NewStore builds an empty store. summarizer may be nil, in which case
// every snapshot gets the failure placeholder summary.
func NewStore(summarizer Summarizer) *Store {
	return &Store{
		messages:   make(map[string][]models.Message),
		window:     make(map[string]time.Duration),
		lastClear:  make(map[string]time.Time),
		snapshots:  make(map[string][]*Snapshot),
		summarizer: summarizer,
	}
}

// SetWindow configures an agent's rolling-window duration. Must be called
// before GetWindow/Snapshot are meaningful for that agent; an agent with no
// configured window sees an empty window (cutoff defaults to "now").
func (s *Store) SetWindow(agent string, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window[agent] = window
}

// Persist appends msg to the agent's message log, assigning an id and
// timestamp if absent, and returns the stored copy.
func (s *Store) Persist(msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.messages[msg.Agent] = append(s.messages[msg.Agent], msg)
	return msg
}

// SetBranch stamps the branch id onto an already-persisted message.
// Branch assignment (branch.Manager.CreateBranch/CreateChildBranch/Route)
// happens after the message is first persisted, since the branch id isn't
// known until the branch manager mints or resolves it; callers correct the
// stored copy here once they have it, so GetWindow's per-branch filter sees
// the right id from the branch's very first turn.
func (s *Store) SetBranch(agent, messageID string, branch int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages[agent] {
		if m.ID == messageID {
			s.messages[agent][i].Branch = branch
			return
		}
	}
}

// GetWindow returns agent/branch's current rolling window, ordered
// ascending by timestamp: messages newer than max(last_clear, now-window).
func (s *Store) GetWindow(agent string, branch int64) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.cutoffLocked(agent, time.Now())
	var out []models.Message
	for _, m := range s.messages[agent] {
		if m.Branch != branch {
			continue
		}
		if m.Timestamp.After(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

// cutoffLocked computes max(last_clear, at-window) for agent. Callers must
// hold s.mu.
func (s *Store) cutoffLocked(agent string, at time.Time) time.Time {
	windowStart := at.Add(-s.window[agent])
	last := s.lastClear[agent]
	if windowStart.After(last) {
		return windowStart
	}
	return last
}

// Clear advances agent's last-clear marker to now. It never deletes rows —
// old messages simply fall outside the window from this point on.
func (s *Store) Clear(agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastClear[agent] = time.Now()
}

// Snapshot writes a named copy of agent's current window (across every
// branch) and returns it. If a summarizer is configured it is called
// outside the store's lock; a failure or nil summarizer never fails the
// snapshot, it just records the placeholder summary.
func (s *Store) Snapshot(ctx context.Context, agent, description string) *Snapshot {
	s.mu.RLock()
	cutoff := s.cutoffLocked(agent, time.Now())
	window := s.window[agent]
	var messages []models.Message
	for _, m := range s.messages[agent] {
		if m.Timestamp.After(cutoff) {
			messages = append(messages, m)
		}
	}
	s.mu.RUnlock()

	now := time.Now()
	summary := failedSummaryPlaceholder
	if s.summarizer != nil {
		if text, err := s.summarizer.Summarize(ctx, messages); err == nil && text != "" {
			summary = text
		}
	}

	snap := &Snapshot{
		ID:           uuid.NewString(),
		Agent:        agent,
		Timestamp:    now,
		Description:  description,
		Summary:      summary,
		MessageCount: len(messages),
		WindowStart:  now.Add(-window),
		WindowEnd:    now,
		Messages:     messages,
	}

	s.mu.Lock()
	s.snapshots[agent] = append(s.snapshots[agent], snap)
	s.mu.Unlock()
	return snap
}

// Restore re-inserts a snapshot's messages with fresh, strictly ascending
// timestamps so they re-enter the current window, and returns how many
// messages were restored.
func (s *Store) Restore(agent, sessionID string) (int, error) {
	s.mu.RLock()
	var snap *Snapshot
	for _, sn := range s.snapshots[agent] {
		if sn.ID == sessionID {
			snap = sn
			break
		}
	}
	s.mu.RUnlock()
	if snap == nil {
		return 0, fmt.Errorf("snapshot %s not found for agent %s", sessionID, agent)
	}

	now := time.Now()
	for i, m := range snap.Messages {
		m.ID = uuid.NewString()
		m.Timestamp = now.Add(time.Duration(i) * time.Millisecond)
		s.Persist(m)
	}
	return len(snap.Messages), nil
}

// ListSnapshots returns agent's snapshots, most recent last, capped to the
// most recent limit entries (limit <= 0 means unbounded).
func (s *Store) ListSnapshots(agent string, limit int) []*Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.snapshots[agent]
	if limit <= 0 || limit >= len(all) {
		out := make([]*Snapshot, len(all))
		copy(out, all)
		return out
	}
	out := make([]*Snapshot, limit)
	copy(out, all[len(all)-limit:])
	return out
}
