package outbound

import (
	"context"
	"sync"
	"time"
)

const (
	statusEditInterval = 1500 * time.Millisecond
	presenceDebounce   = 5 * time.Second
)

// StatusSender posts and edits a single live status message on a channel.
type StatusSender interface {
	PostStatus(ctx context.Context, channelID, text string) (messageID string, err error)
	EditStatus(ctx context.Context, channelID, messageID, text string) error
}

// StatusUpdater throttles one branch's live status embed to spec's ≈1.5s
// edit cadence, batching any updates that arrive inside the window down to
// the most recent, and always flushing immediately on Finish regardless of
// the throttle.
//
// New machinery rather than lifted from an existing nexus file — nexus's
// internal/status/builder.go only formats a status message's text, it has
// no equivalent throttled-edit scheduler — but follows the same debounce
// shape this package's own PresenceAggregator and the hook dispatcher's
// output-match window both use: a pending value plus a single
// time.AfterFunc guarding when it actually gets applied.
type StatusUpdater struct {
	mu        sync.Mutex
	sender    StatusSender
	channelID string
	messageID string
	interval  time.Duration
	lastEdit  time.Time
	pending   string
	timer     *time.Timer
	done      bool
}

// NewStatusUpdater builds an updater bound to one branch's status message.
func NewStatusUpdater(sender StatusSender) *StatusUpdater {
	return &StatusUpdater{sender: sender, interval: statusEditInterval}
}

// Start posts the initial status embed for a branch at branch start.
func (u *StatusUpdater) Start(ctx context.Context, channelID, text string) (string, error) {
	id, err := u.sender.PostStatus(ctx, channelID, text)
	if err != nil {
		return "", err
	}
	u.mu.Lock()
	u.channelID = channelID
	u.messageID = id
	u.lastEdit = time.Now()
	u.mu.Unlock()
	return id, nil
}

// Update requests an edit to text. If the throttle window has elapsed it
// edits immediately; otherwise it replaces whatever edit is already
// pending and lets the scheduled flush pick up the latest value.
func (u *StatusUpdater) Update(ctx context.Context, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done || u.messageID == "" {
		return
	}

	u.pending = text
	since := time.Since(u.lastEdit)
	if since >= u.interval {
		u.flushLocked(ctx)
		return
	}
	if u.timer == nil {
		u.timer = time.AfterFunc(u.interval-since, func() {
			u.mu.Lock()
			defer u.mu.Unlock()
			u.flushLocked(context.Background())
		})
	}
}

func (u *StatusUpdater) flushLocked(ctx context.Context) {
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	if u.pending == "" {
		return
	}
	text := u.pending
	u.pending = ""
	u.lastEdit = time.Now()
	_ = u.sender.EditStatus(ctx, u.channelID, u.messageID, text)
}

// Finish edits the status embed to its terminal text immediately,
// bypassing the throttle, and disables further Update calls. Spec calls
// this out explicitly: "a final edit on terminal state always happens
// regardless of throttle".
func (u *StatusUpdater) Finish(ctx context.Context, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	if u.done || u.messageID == "" {
		u.done = true
		return
	}
	u.done = true
	u.pending = ""
	u.lastEdit = time.Now()
	_ = u.sender.EditStatus(ctx, u.channelID, u.messageID, text)
}

// PresenceAggregator debounces a single process-wide presence update (e.g.
// "3 agents working") to at most once per spec's 5s window, across every
// agent's running branches rather than per-branch.
type PresenceAggregator struct {
	mu       sync.Mutex
	render   func() string
	publish  func(ctx context.Context, text string)
	interval time.Duration
	lastSent time.Time
	timer    *time.Timer
}

// NewPresenceAggregator builds an aggregator. render computes the current
// presence text on demand (called only when actually publishing); publish
// delivers it to the chat service.
func NewPresenceAggregator(render func() string, publish func(ctx context.Context, text string)) *PresenceAggregator {
	return &PresenceAggregator{render: render, publish: publish, interval: presenceDebounce}
}

// Touch signals that presence-relevant state changed (a branch started,
// finished, or is still running). Publishes immediately if the debounce
// window has elapsed, otherwise schedules one publish at the window's end.
func (p *PresenceAggregator) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()

	since := time.Since(p.lastSent)
	if since >= p.interval {
		p.lastSent = time.Now()
		p.publish(context.Background(), p.render())
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.interval-since, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.lastSent = time.Now()
			p.timer = nil
			p.publish(context.Background(), p.render())
		})
	}
}
