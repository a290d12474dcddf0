package models

import "time"

// BranchStatus is the lifecycle state of an execution branch.
type BranchStatus string

const (
	BranchRunning             BranchStatus = "running"
	BranchWaitingForPermission BranchStatus = "waiting_for_permission"
	BranchIdle                BranchStatus = "idle"
	BranchCompleted           BranchStatus = "completed"
	BranchCancelled           BranchStatus = "cancelled"
	BranchErrored             BranchStatus = "errored"
)

// StepRecord is one iteration of a branch's tool loop, kept for the
// branch's status view and for audit.
type StepRecord struct {
	Iteration  int       `json:"iteration"`
	ToolName   string    `json:"tool_name,omitempty"`
	Decision   string    `json:"decision,omitempty"` // allow|ask|deny
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// BranchMetrics accumulates counters over a branch's lifetime.
type BranchMetrics struct {
	Iterations     int `json:"iterations"`
	ToolCalls      int `json:"tool_calls"`
	ToolCallsAsked int `json:"tool_calls_asked"`
	ToolCallsDenied int `json:"tool_calls_denied"`
	InputTokens    int `json:"input_tokens"`
	OutputTokens   int `json:"output_tokens"`
}

// ExecutionBranch is one independently running tool-loop thread for an
// agent. Branches form a tree: SPAWN_BRANCH creates a child with
// RecursionDepth = parent.RecursionDepth + 1; every other spawn path keeps
// the parent's depth.
type ExecutionBranch struct {
	ID    int64  `json:"id"`
	Agent string `json:"agent"`

	// ParentID is 0 for a root branch.
	ParentID int64 `json:"parent_id,omitempty"`

	// RecursionDepth bounds SPAWN_BRANCH chains; see spec §4.9.
	RecursionDepth int `json:"recursion_depth"`

	Status BranchStatus `json:"status"`

	// Summary is a short operator-facing description of what the branch is
	// doing, updated as the loop progresses.
	Summary string `json:"summary,omitempty"`

	// LockedPaths is the set of canonical workspace paths this branch
	// currently holds write locks on.
	LockedPaths []string `json:"locked_paths,omitempty"`

	Steps   []StepRecord  `json:"steps,omitempty"`
	Metrics BranchMetrics `json:"metrics"`

	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// IsTerminal reports whether the branch has stopped running.
func (b *ExecutionBranch) IsTerminal() bool {
	switch b.Status {
	case BranchCompleted, BranchCancelled, BranchErrored:
		return true
	default:
		return false
	}
}

// IsRoot reports whether the branch has no parent.
func (b *ExecutionBranch) IsRoot() bool {
	return b.ParentID == 0
}
