package port

import (
	"context"

	"github.com/Wyydra/peercall/internal/core/domain"
)

// Directory resolves display names for identities.
type Directory interface {
	// Lookup fails with domain.ErrUnknownUser for identities without an entry.
	Lookup(ctx context.Context, id domain.UserID) (domain.PresenceEntry, error)
	Save(ctx context.Context, entry domain.PresenceEntry) error
}
