package port

import "github.com/Wyydra/peercall/internal/core/domain"

// Client is one relay connection as seen by the relay service.
type Client interface {
	ID() domain.ClientID
	UserID() domain.UserID
	// Username is the display name offered when connecting, possibly empty.
	Username() string
	Send(msg domain.Message) error
	Close() error
}
