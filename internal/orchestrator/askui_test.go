package orchestrator

import (
	"context"
	"testing"
	"time"
)

func TestAskRegistryResolveApproves(t *testing.T) {
	h := newTestHarness(t, "ask-agent-one", "ok")

	r := newAskRegistry(2 * time.Second)
	done := make(chan struct {
		approved bool
		err      error
	}, 1)
	go func() {
		approved, err := r.ask(context.Background(), h.o, h.cfg.ChannelID, "user-1", "ask-agent-one", 1, "rm file.txt")
		done <- struct {
			approved bool
			err      error
		}{approved, err}
	}()

	// Give ask() a moment to register the pending entry before resolving it.
	time.Sleep(20 * time.Millisecond)
	if !r.resolve(h.cfg.ChannelID, "user-1", "yes") {
		t.Fatal("expected resolve to consume the pending ask")
	}

	select {
	case result := <-done:
		if result.err != nil {
			t.Fatalf("ask: %v", result.err)
		}
		if !result.approved {
			t.Fatal("expected a yes reply to approve")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ask to resolve")
	}
}

func TestAskRegistryResolveIgnoresWrongUser(t *testing.T) {
	h := newTestHarness(t, "ask-agent-two", "ok")

	r := newAskRegistry(200 * time.Millisecond)
	done := make(chan bool, 1)
	go func() {
		approved, _ := r.ask(context.Background(), h.o, h.cfg.ChannelID, "user-1", "ask-agent-two", 1, "rm file.txt")
		done <- approved
	}()

	time.Sleep(20 * time.Millisecond)
	if r.resolve(h.cfg.ChannelID, "user-2", "yes") {
		t.Fatal("expected a reply from the wrong user not to be consumed")
	}

	// Still pending for the right user.
	if !r.resolve(h.cfg.ChannelID, "user-1", "no") {
		t.Fatal("expected the right user's reply to resolve the ask")
	}

	if approved := <-done; approved {
		t.Fatal("expected a no reply to deny")
	}
}

func TestAskRegistryResolveIgnoresUnrecognizedReply(t *testing.T) {
	h := newTestHarness(t, "ask-agent-three", "ok")

	r := newAskRegistry(200 * time.Millisecond)
	done := make(chan error, 1)
	go func() {
		_, err := r.ask(context.Background(), h.o, h.cfg.ChannelID, "user-1", "ask-agent-three", 1, "rm file.txt")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if r.resolve(h.cfg.ChannelID, "user-1", "maybe later") {
		t.Fatal("expected an unrecognized reply not to be consumed")
	}

	// Times out since nothing else resolves it.
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected the ask to time out and return an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ask to give up")
	}
}

func TestAskRegistryRejectsConcurrentAsksOnSameChannel(t *testing.T) {
	h := newTestHarness(t, "ask-agent-four", "ok")

	r := newAskRegistry(time.Second)
	go r.ask(context.Background(), h.o, h.cfg.ChannelID, "user-1", "ask-agent-four", 1, "first")
	time.Sleep(20 * time.Millisecond)

	if _, err := r.ask(context.Background(), h.o, h.cfg.ChannelID, "user-1", "ask-agent-four", 2, "second"); err == nil {
		t.Fatal("expected a second concurrent ask on the same channel to fail")
	}
}

func TestParseApproval(t *testing.T) {
	cases := []struct {
		in         string
		approved   bool
		recognized bool
	}{
		{"yes", true, true},
		{"Y", true, true},
		{"approved", true, true},
		{"no", false, true},
		{"N", false, true},
		{"denied", false, true},
		{"  YES  ", true, true},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, c := range cases {
		approved, recognized := parseApproval(c.in)
		if approved != c.approved || recognized != c.recognized {
			t.Errorf("parseApproval(%q) = (%v, %v), want (%v, %v)", c.in, approved, recognized, c.approved, c.recognized)
		}
	}
}
