package outbound

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	count int64
}

func (s *recordingSender) Send(ctx context.Context, channelID, text string) (string, error) {
	n := atomic.AddInt64(&s.count, 1)
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	return fmt.Sprintf("msg-%d", n), nil
}

func TestLimiterDeliversWithinBurst(t *testing.T) {
	sender := &recordingSender{}
	limiter := NewLimiter(sender, BucketConfig{RequestsPerSecond: 1, BurstSize: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		id, err := limiter.Send(ctx, "chan-1", 1, fmt.Sprintf("msg %d", i))
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if id == "" {
			t.Fatal("expected a non-empty message id")
		}
	}
}

func TestLimiterRoundRobinsAcrossBranches(t *testing.T) {
	sender := &recordingSender{}
	limiter := NewLimiter(sender, BucketConfig{RequestsPerSecond: 1000, BurstSize: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for branch := int64(1); branch <= 3; branch++ {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(b int64, n int) {
				defer wg.Done()
				if _, err := limiter.Send(ctx, "chan-1", b, fmt.Sprintf("b%d-%d", b, n)); err != nil {
					t.Errorf("Send: %v", err)
				}
			}(branch, i)
		}
	}
	wg.Wait()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 6 {
		t.Fatalf("sent = %d, want 6", len(sender.sent))
	}
}

func TestLimiterRespectsContextCancellation(t *testing.T) {
	sender := &recordingSender{}
	// One token available, second send has to wait behind a very slow
	// refill rate, giving the cancellation a chance to win the race.
	limiter := NewLimiter(sender, BucketConfig{RequestsPerSecond: 0.01, BurstSize: 1})

	ctx := context.Background()
	if _, err := limiter.Send(ctx, "chan-1", 1, "first"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := limiter.Send(shortCtx, "chan-1", 1, "second"); err == nil {
		t.Fatal("expected the second send to be canceled while waiting on the rate limit")
	}
}

func TestSeparateChannelsDoNotShareABucket(t *testing.T) {
	sender := &recordingSender{}
	limiter := NewLimiter(sender, BucketConfig{RequestsPerSecond: 1, BurstSize: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := limiter.Send(ctx, "chan-a", 1, "a"); err != nil {
		t.Fatalf("Send chan-a: %v", err)
	}
	if _, err := limiter.Send(ctx, "chan-b", 1, "b"); err != nil {
		t.Fatalf("Send chan-b should not be gated by chan-a's bucket: %v", err)
	}
}
