// Package slack implements gateway.Gateway over github.com/slack-go/slack's
// Socket Mode client.
package slack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/George-Strauch/Chorus/internal/gateway"
)

// Config holds the bot and app-level tokens Socket Mode requires.
type Config struct {
	BotToken string // xoxb-
	AppToken string // xapp-
}

// Adapter is a gateway.Gateway bound to one Slack workspace app.
type Adapter struct {
	client *slack.Client
	socket *socketmode.Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	inbound chan gateway.InboundMessage
}

// NewAdapter constructs an Adapter from its Socket Mode credentials.
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: bot token and app token are both required")
	}
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socket := socketmode.New(client)
	return &Adapter{
		client:  client,
		socket:  socket,
		inbound: make(chan gateway.InboundMessage, 256),
	}, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("slack: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(2)
	go a.handleEvents(runCtx)
	go func() {
		defer a.wg.Done()
		_ = a.socket.Run()
	}()

	a.started = true
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.cancel()
	a.started = false
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	close(a.inbound)
	return nil
}

func (a *Adapter) Inbound() <-chan gateway.InboundMessage {
	return a.inbound
}

func (a *Adapter) Send(ctx context.Context, channelID, text string) (string, error) {
	_, timestamp, err := a.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack: send: %w", err)
	}
	return timestamp, nil
}

func (a *Adapter) PostStatus(ctx context.Context, channelID, text string) (string, error) {
	return a.Send(ctx, channelID, text)
}

func (a *Adapter) EditStatus(ctx context.Context, channelID, messageID, text string) error {
	_, _, _, err := a.client.UpdateMessageContext(ctx, channelID, messageID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: edit status: %w", err)
	}
	return nil
}

func (a *Adapter) handleEvents(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.handleEvent(evt)
		}
	}
}

func (a *Adapter) handleEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.BotID != "" {
			return
		}
		a.deliver(ev.Channel, ev.User, ev.Text, ev.TimeStamp)
	case *slackevents.AppMentionEvent:
		a.deliver(ev.Channel, ev.User, ev.Text, ev.TimeStamp)
	}
}

func (a *Adapter) deliver(channelID, userID, text, ts string) {
	timestamp := time.Now()
	if parsed, err := parseSlackTimestamp(ts); err == nil {
		timestamp = parsed
	}
	msg := gateway.InboundMessage{
		ChannelID: channelID,
		UserID:    userID,
		Content:   text,
		Timestamp: timestamp,
	}
	select {
	case a.inbound <- msg:
	default:
	}
}

// parseSlackTimestamp decodes Slack's "<seconds>.<micros>" event timestamp.
func parseSlackTimestamp(ts string) (time.Time, error) {
	var sec, micro int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &micro); err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, micro*1000).UTC(), nil
}
