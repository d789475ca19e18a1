package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/samber/lo"
)

// Directory keeps display names in memory, seeded from configuration and
// extended with the names clients announce.
type Directory struct {
	mu      sync.RWMutex
	entries map[domain.UserID]domain.PresenceEntry
}

func NewDirectory(entries []domain.PresenceEntry) *Directory {
	return &Directory{
		entries: lo.KeyBy(entries, func(e domain.PresenceEntry) domain.UserID { return e.UserID }),
	}
}

func (d *Directory) Lookup(ctx context.Context, id domain.UserID) (domain.PresenceEntry, error) {
	if id.IsZero() {
		return domain.PresenceEntry{}, domain.ErrInvalidPeer
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[id]
	if !ok {
		return domain.PresenceEntry{}, domain.ErrUnknownUser
	}
	if entry.Username == "" {
		entry.Username = id.String()
	}
	return entry, nil
}

func (d *Directory) Save(ctx context.Context, entry domain.PresenceEntry) error {
	if entry.UserID.IsZero() {
		return domain.ErrInvalidPeer
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[entry.UserID] = entry
	return nil
}
