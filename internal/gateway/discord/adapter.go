// Package discord implements gateway.Gateway over github.com/bwmarrin/discordgo.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/George-Strauch/Chorus/internal/gateway"
)

// session is the subset of *discordgo.Session the adapter depends on,
// narrowed so tests can substitute a fake.
type session interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// Config holds the bot token used to authenticate with Discord.
type Config struct {
	BotToken string
}

// Adapter is a gateway.Gateway bound to one Discord bot identity.
type Adapter struct {
	token   string
	session session

	mu      sync.RWMutex
	started bool

	inbound chan gateway.InboundMessage
}

var _ gateway.Gateway = (*Adapter)(nil)

// NewAdapter constructs an Adapter. The discordgo session is created lazily
// in Start so tests can inject a fake session beforehand.
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	return &Adapter{
		token:   cfg.BotToken,
		inbound: make(chan gateway.InboundMessage, 256),
	}, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("discord: already started")
	}

	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.token)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.session = dg
	}

	a.session.AddHandler(a.handleMessageCreate)

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	a.started = true
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	err := a.session.Close()
	a.started = false
	close(a.inbound)
	return err
}

func (a *Adapter) Inbound() <-chan gateway.InboundMessage {
	return a.inbound
}

func (a *Adapter) Send(ctx context.Context, channelID, text string) (string, error) {
	msg, err := a.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return "", fmt.Errorf("discord: send: %w", err)
	}
	return msg.ID, nil
}

func (a *Adapter) PostStatus(ctx context.Context, channelID, text string) (string, error) {
	return a.Send(ctx, channelID, text)
}

func (a *Adapter) EditStatus(ctx context.Context, channelID, messageID, text string) error {
	if _, err := a.session.ChannelMessageEdit(channelID, messageID, text); err != nil {
		return fmt.Errorf("discord: edit status: %w", err)
	}
	return nil
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	msg := gateway.InboundMessage{
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		Content:   m.Content,
		Timestamp: ts,
	}

	select {
	case a.inbound <- msg:
	default:
	}
}
