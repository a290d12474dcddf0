package slack

import (
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/George-Strauch/Chorus/internal/gateway"
)

func TestNewAdapterRequiresBothTokens(t *testing.T) {
	if _, err := NewAdapter(Config{BotToken: "xoxb-1"}); err == nil {
		t.Fatal("expected an error when the app token is missing")
	}
	if _, err := NewAdapter(Config{AppToken: "xapp-1"}); err == nil {
		t.Fatal("expected an error when the bot token is missing")
	}
	if _, err := NewAdapter(Config{BotToken: "xoxb-1", AppToken: "xapp-1"}); err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	got, err := parseSlackTimestamp("1700000000.000100")
	if err != nil {
		t.Fatalf("parseSlackTimestamp: %v", err)
	}
	want := time.Unix(1700000000, 100000).UTC()
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := parseSlackTimestamp("not-a-timestamp"); err == nil {
		t.Fatal("expected an error for a malformed timestamp")
	}
}

func TestAdapterHandleEventDeliversMessageEvents(t *testing.T) {
	a, err := NewAdapter(Config{BotToken: "xoxb-1", AppToken: "xapp-1"})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	evt := socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{
					Channel:   "C1",
					User:      "U1",
					Text:      "hello there",
					TimeStamp: "1700000000.000100",
				},
			},
		},
	}
	a.handleEvent(evt)

	select {
	case msg := <-a.inbound:
		if msg.ChannelID != "C1" || msg.UserID != "U1" || msg.Content != "hello there" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	default:
		t.Fatal("expected a delivered inbound message")
	}
}

func TestAdapterHandleEventIgnoresBotMessages(t *testing.T) {
	a, _ := NewAdapter(Config{BotToken: "xoxb-1", AppToken: "xapp-1"})

	evt := socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{Channel: "C1", BotID: "B1", Text: "ignored"},
			},
		},
	}
	a.handleEvent(evt)

	select {
	case <-a.inbound:
		t.Fatal("expected bot messages to be dropped")
	default:
	}
}

func TestAdapterHandleEventIgnoresNonEventsAPITypes(t *testing.T) {
	a, _ := NewAdapter(Config{BotToken: "xoxb-1", AppToken: "xapp-1"})
	a.handleEvent(socketmode.Event{Type: socketmode.EventTypeConnecting})

	select {
	case <-a.inbound:
		t.Fatal("expected non-EventsAPI events to be ignored")
	default:
	}
}

var _ gateway.Gateway = (*Adapter)(nil)
