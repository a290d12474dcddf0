package outbound

import (
	"context"
	"sync"
	"time"
)

// Sender delivers one already-chunked piece of outbound text to a channel
// and returns the chat-service message id a later reply can route against.
type Sender interface {
	Send(ctx context.Context, channelID, text string) (messageID string, err error)
}

// BucketConfig configures one channel's rate limit.
type BucketConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultBucketConfig matches spec's "≤5 messages per 5 s" external channel
// limit.
func DefaultBucketConfig() BucketConfig {
	return BucketConfig{RequestsPerSecond: 1.0, BurstSize: 5}
}

// bucket is a token bucket refilled lazily on read, grounded verbatim on
// nexus's internal/ratelimit/limiter.go Bucket.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(cfg BucketConfig) *bucket {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1.0
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 5
	}
	return &bucket{
		tokens:     float64(cfg.BurstSize),
		maxTokens:  float64(cfg.BurstSize),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

func (b *bucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

func (b *bucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *bucket) waitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		return 0
	}
	needed := 1 - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

type outcome struct {
	id  string
	err error
}

type pending struct {
	branch int64
	text   string
	result chan outcome
}

// channelQueue fairly round-robins outbound delivery across a channel's
// branches, gated by its rate limit bucket. The branch→lane map is grounded
// on internal/process/command_queue.go's lazily-created, never-removed lane
// map, applied here to delivery fairness instead of task scheduling.
type channelQueue struct {
	mu     sync.Mutex
	lanes  map[int64][]*pending
	order  []int64
	cursor int

	bucket *bucket
	sender Sender
	wake   chan struct{}
	cancel context.CancelFunc
}

func newChannelQueue(sender Sender, cfg BucketConfig) *channelQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &channelQueue{
		lanes:  make(map[int64][]*pending),
		bucket: newBucket(cfg),
		sender: sender,
		wake:   make(chan struct{}, 1),
		cancel: cancel,
	}
	go q.loop(ctx)
	return q
}

func (q *channelQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *channelQueue) enqueue(channelID string, branch int64, text string) *pending {
	p := &pending{branch: branch, text: text, result: make(chan outcome, 1)}

	q.mu.Lock()
	if _, ok := q.lanes[branch]; !ok {
		q.order = append(q.order, branch)
	}
	q.lanes[branch] = append(q.lanes[branch], p)
	q.mu.Unlock()

	q.signal()
	return p
}

// next pops the next pending message in round-robin order across non-empty
// lanes, or returns ok=false if every lane is empty.
func (q *channelQueue) next() (*pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.order)
	for i := 0; i < n; i++ {
		idx := (q.cursor + i) % n
		branch := q.order[idx]
		lane := q.lanes[branch]
		if len(lane) == 0 {
			continue
		}
		p := lane[0]
		q.lanes[branch] = lane[1:]
		q.cursor = (idx + 1) % n
		return p, true
	}
	return nil, false
}

func (q *channelQueue) loop(ctx context.Context) {
	for {
		p, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		wait := q.bucket.waitTime()
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				p.result <- outcome{err: ctx.Err()}
				return
			}
		}
		q.bucket.take()

		id, err := q.sender.Send(ctx, "", p.text)
		p.result <- outcome{id: id, err: err}
	}
}

func (q *channelQueue) isEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, lane := range q.lanes {
		if len(lane) > 0 {
			return false
		}
	}
	return true
}

// Limiter is the process-wide outbound rate limiter: one channelQueue per
// channel, each enforcing spec's ≤5-per-5s external limit with fair
// round-robin delivery across that channel's branches.
type Limiter struct {
	mu       sync.Mutex
	channels map[string]*channelQueue
	sender   Sender
	cfg      BucketConfig
}

// NewLimiter builds a limiter. cfg is applied to every channel's bucket;
// zero value resolves to DefaultBucketConfig.
func NewLimiter(sender Sender, cfg BucketConfig) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg = DefaultBucketConfig()
	}
	return &Limiter{channels: make(map[string]*channelQueue), sender: sender, cfg: cfg}
}

func (l *Limiter) queueFor(channelID string) *channelQueue {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.channels[channelID]
	if !ok {
		q = newChannelQueue(channelSender{channelID: channelID, sender: l.sender}, l.cfg)
		l.channels[channelID] = q
	}
	return q
}

// channelSender binds a channel id to the shared Sender so channelQueue's
// loop doesn't need to thread it through separately.
type channelSender struct {
	channelID string
	sender    Sender
}

func (s channelSender) Send(ctx context.Context, _ string, text string) (string, error) {
	return s.sender.Send(ctx, s.channelID, text)
}

// Send queues text for branch on channelID and blocks until it is actually
// delivered (respecting the channel's rate limit and its turn in the
// round-robin), or ctx is canceled first.
func (l *Limiter) Send(ctx context.Context, channelID string, branch int64, text string) (string, error) {
	p := l.queueFor(channelID).enqueue(channelID, branch, text)
	select {
	case res := <-p.result:
		return res.id, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Shutdown drains every channel's queue (best effort, bounded by ctx) and
// then cancels each channel's delivery loop, per spec's "drain + cancel"
// process-wide singleton shutdown phase.
func (l *Limiter) Shutdown(ctx context.Context) {
	l.mu.Lock()
	queues := make([]*channelQueue, 0, len(l.channels))
	for _, q := range l.channels {
		queues = append(queues, q)
	}
	l.mu.Unlock()

	for _, q := range queues {
		for !q.isEmpty() {
			select {
			case <-ctx.Done():
				q.cancel()
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
		q.cancel()
	}
}
