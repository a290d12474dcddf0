// Package gateway defines the narrow boundary between Chorus's agent
// execution core and the chat service it is bound to. Spec §1 treats the
// chat-service gateway as an external collaborator; this package is that
// collaborator's contract, satisfied by outbound.Sender/outbound.StatusSender
// on the send side and consumed directly by internal/orchestrator on the
// receive side.
package gateway

import (
	"context"
	"time"
)

// InboundMessage is one user message arriving on a bound channel, normalized
// across chat services.
type InboundMessage struct {
	ChannelID string
	UserID    string
	Username  string
	Content   string
	Timestamp time.Time
}

// Gateway is a connected chat-service session: one bot identity able to
// receive messages from and send messages to whatever channels it has been
// invited into. Send/PostStatus/EditStatus match outbound.Sender and
// outbound.StatusSender exactly, so a Gateway plugs directly into
// outbound.Limiter and outbound.StatusUpdater without an adapter layer.
type Gateway interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Inbound streams messages as they arrive. Closed after Stop returns.
	Inbound() <-chan InboundMessage

	Send(ctx context.Context, channelID, text string) (messageID string, err error)
	PostStatus(ctx context.Context, channelID, text string) (messageID string, err error)
	EditStatus(ctx context.Context, channelID, messageID, text string) error
}
