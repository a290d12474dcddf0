package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type mockSession struct {
	openErr      error
	closeCalled  bool
	addedHandler interface{}
	sendFn       func(channelID, content string) (*discordgo.Message, error)
	editFn       func(channelID, messageID, content string) (*discordgo.Message, error)
}

func (m *mockSession) Open() error {
	return m.openErr
}

func (m *mockSession) Close() error {
	m.closeCalled = true
	return nil
}

func (m *mockSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.sendFn != nil {
		return m.sendFn(channelID, content)
	}
	return &discordgo.Message{ID: "msg-1", ChannelID: channelID, Content: content}, nil
}

func (m *mockSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.editFn != nil {
		return m.editFn(channelID, messageID, content)
	}
	return &discordgo.Message{ID: messageID, ChannelID: channelID, Content: content}, nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.addedHandler = handler
	return func() {}
}

func TestNewAdapterRequiresToken(t *testing.T) {
	if _, err := NewAdapter(Config{}); err == nil {
		t.Fatal("expected an error for an empty bot token")
	}
}

func TestAdapterStartOpensSessionAndRegistersHandler(t *testing.T) {
	a, err := NewAdapter(Config{BotToken: "x"})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	mock := &mockSession{}
	a.session = mock

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if mock.addedHandler == nil {
		t.Fatal("expected a message handler to be registered")
	}
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("expected starting twice to fail")
	}
}

func TestAdapterStartPropagatesOpenError(t *testing.T) {
	a, _ := NewAdapter(Config{BotToken: "x"})
	a.session = &mockSession{openErr: errors.New("boom")}

	if err := a.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when session.Open fails")
	}
}

func TestAdapterSendReturnsMessageID(t *testing.T) {
	a, _ := NewAdapter(Config{BotToken: "x"})
	mock := &mockSession{}
	a.session = mock

	id, err := a.Send(context.Background(), "chan-1", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("id = %q", id)
	}
}

func TestAdapterEditStatusEditsExistingMessage(t *testing.T) {
	a, _ := NewAdapter(Config{BotToken: "x"})
	var edited string
	a.session = &mockSession{editFn: func(channelID, messageID, content string) (*discordgo.Message, error) {
		edited = content
		return &discordgo.Message{ID: messageID}, nil
	}}

	if err := a.EditStatus(context.Background(), "chan-1", "msg-1", "updated"); err != nil {
		t.Fatalf("EditStatus: %v", err)
	}
	if edited != "updated" {
		t.Fatalf("edited = %q", edited)
	}
}

func TestAdapterHandleMessageCreateIgnoresBots(t *testing.T) {
	a, _ := NewAdapter(Config{BotToken: "x"})
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{ID: "u1", Bot: true}, Content: "hi", ChannelID: "c1",
	}})

	select {
	case <-a.inbound:
		t.Fatal("expected bot messages to be dropped")
	default:
	}
}

func TestAdapterHandleMessageCreateDeliversUserMessages(t *testing.T) {
	a, _ := NewAdapter(Config{BotToken: "x"})
	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{ID: "u1", Username: "alice"}, Content: "hi", ChannelID: "c1",
	}})

	select {
	case msg := <-a.inbound:
		if msg.ChannelID != "c1" || msg.UserID != "u1" || msg.Content != "hi" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	default:
		t.Fatal("expected a delivered inbound message")
	}
}

func TestAdapterStopClosesSessionAndInboundChannel(t *testing.T) {
	a, _ := NewAdapter(Config{BotToken: "x"})
	mock := &mockSession{}
	a.session = mock

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !mock.closeCalled {
		t.Fatal("expected session.Close to be called")
	}
	if _, ok := <-a.inbound; ok {
		t.Fatal("expected inbound channel to be closed")
	}
}
