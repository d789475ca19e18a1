package port

import (
	"context"

	"github.com/Wyydra/peercall/internal/core/domain"
)

type LinkState string

const (
	LinkUp   LinkState = "up"
	LinkDown LinkState = "down"
)

// ChannelEvent is either an inbound message or a change of the relay link.
// Both arrive on one stream, in order.
type ChannelEvent struct {
	Message domain.Message

	Link LinkState
	// Reconnected is set on LinkUp events that follow an unexpected drop.
	Reconnected bool
}

type SignalingChannel interface {
	// Connect announces identity to the relay and keeps the channel up until Close.
	Connect(ctx context.Context, identity domain.UserID) error
	// Send fails with domain.ErrTransportClosed while the channel is down.
	Send(ctx context.Context, msg domain.Message) error
	Events() <-chan ChannelEvent
	Close() error
}
