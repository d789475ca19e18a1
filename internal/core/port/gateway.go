package port

import (
	"context"

	"github.com/Wyydra/peercall/internal/core/domain"
)

// PresenceRegistry tracks which identities are reachable and routes messages to them.
type PresenceRegistry interface {
	Register(c Client)
	Unregister(c Client)
	// Deliver fails with domain.ErrPeerOffline when no client holds the identity.
	Deliver(ctx context.Context, to domain.UserID, msg domain.Message) error
	Broadcast(ctx context.Context, msg domain.Message)
	Online() []domain.UserID
	// OnChange is called after every membership change.
	OnChange(fn func())
}
