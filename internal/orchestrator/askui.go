package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// pendingAsk is one outstanding approval prompt, resolvable only by the
// user it was scoped to.
type pendingAsk struct {
	userID   string
	action   string
	resultCh chan bool
}

// askRegistry is Chorus's ask-UI. gateway.Gateway exposes no button or
// reaction primitive, so approve/deny is read as a plain-text yes/no reply
// from the invoking user instead of a clickable control. Each channel
// holds at most one outstanding ask at a time — the "conceptual per-channel
// semaphore of 1" — and the first recognized reply from the right user
// resolves it; buttons disabled afterward becomes "further replies are
// ordinary chat again".
type askRegistry struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingAsk // channelID -> outstanding ask
}

func newAskRegistry(timeout time.Duration) *askRegistry {
	return &askRegistry{timeout: timeout, pending: make(map[string]*pendingAsk)}
}

// ask posts an approval prompt to channelID, restricted to userID, and
// blocks until a reply resolves it, the registry's timeout elapses, or ctx
// is done. Either timeout (agentloop also wraps every ask in one) denies.
func (r *askRegistry) ask(ctx context.Context, o *Orchestrator, channelID, userID, agent string, branchID int64, action string) (bool, error) {
	entry := &pendingAsk{userID: userID, action: action, resultCh: make(chan bool, 1)}

	r.mu.Lock()
	if _, busy := r.pending[channelID]; busy {
		r.mu.Unlock()
		return false, fmt.Errorf("orchestrator: channel %s already has a pending approval", channelID)
	}
	r.pending[channelID] = entry
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.pending[channelID] == entry {
			delete(r.pending, channelID)
		}
		r.mu.Unlock()
	}()

	prompt := fmt.Sprintf("%s wants to run `%s`. Reply yes or no (times out in %s).", agent, action, r.timeout)
	if _, err := o.limiter.Send(ctx, channelID, branchID, prompt); err != nil {
		return false, fmt.Errorf("orchestrator: posting approval prompt: %w", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case approved := <-entry.resultCh:
		return approved, nil
	case <-timer.C:
		return false, fmt.Errorf("orchestrator: approval for %q timed out after %s", action, r.timeout)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// resolve consumes content as a reply to channelID's pending ask, if there
// is one, it came from the user it is scoped to, and it parses as yes/no.
// Returns true when the message was consumed this way and must not be
// routed as an ordinary chat message.
func (r *askRegistry) resolve(channelID, userID, content string) bool {
	r.mu.Lock()
	entry, ok := r.pending[channelID]
	if ok {
		delete(r.pending, channelID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if entry.userID != userID {
		r.restore(channelID, entry)
		return false
	}

	approved, recognized := parseApproval(content)
	if !recognized {
		r.restore(channelID, entry)
		return false
	}

	entry.resultCh <- approved
	return true
}

func (r *askRegistry) restore(channelID string, entry *pendingAsk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[channelID]; !exists {
		r.pending[channelID] = entry
	}
}

func parseApproval(content string) (approved bool, recognized bool) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "yes", "y", "approve", "approved":
		return true, true
	case "no", "n", "deny", "denied":
		return false, true
	default:
		return false, false
	}
}
