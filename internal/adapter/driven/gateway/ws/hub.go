package ws

import (
	"context"
	"slices"
	"sync"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Hub implements port.PresenceRegistry. Membership changes go through Run,
// lookups read the map under the lock.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.UserID]port.Client

	register   chan port.Client
	unregister chan port.Client
	quit       chan struct{}
	stopOnce   sync.Once

	listenersMu sync.Mutex
	listeners   []func()
}

var _ port.PresenceRegistry = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.UserID]port.Client),
		register:   make(chan port.Client),
		unregister: make(chan port.Client),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			previous, replaced := h.clients[client.UserID()]
			h.clients[client.UserID()] = client
			h.mu.Unlock()
			if replaced && previous.ID() != client.ID() {
				// the newest connection of an identity wins
				previous.Close()
				log.Info().Str("user_id", client.UserID().String()).Str("client_id", previous.ID().String()).Msg("Client replaced")
			}
			log.Info().Str("user_id", client.UserID().String()).Str("client_id", client.ID().String()).Msg("Client registered")
			h.changed()

		case client := <-h.unregister:
			h.mu.Lock()
			current, ok := h.clients[client.UserID()]
			owned := ok && current.ID() == client.ID()
			if owned {
				delete(h.clients, client.UserID())
			}
			h.mu.Unlock()
			client.Close()
			if owned {
				log.Info().Str("user_id", client.UserID().String()).Str("client_id", client.ID().String()).Msg("Client unregistered")
				h.changed()
			}
		}
	}
}

func (h *Hub) Register(c port.Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.Close()
	}
}

func (h *Hub) Unregister(c port.Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) OnChange(fn func()) {
	h.listenersMu.Lock()
	h.listeners = append(h.listeners, fn)
	h.listenersMu.Unlock()
}

func (h *Hub) changed() {
	h.listenersMu.Lock()
	listeners := slices.Clone(h.listeners)
	h.listenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (h *Hub) Deliver(ctx context.Context, to domain.UserID, msg domain.Message) error {
	h.mu.RLock()
	client, ok := h.clients[to]
	h.mu.RUnlock()
	if !ok {
		return domain.ErrPeerOffline
	}
	if err := client.Send(msg); err != nil {
		log.Error().Err(err).Str("client_id", client.ID().String()).Msg("Error sending message")
		return err
	}
	return nil
}

func (h *Hub) Broadcast(ctx context.Context, msg domain.Message) {
	h.mu.RLock()
	clients := make([]port.Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.Send(msg.Addressed(domain.Route{Target: client.UserID()})); err != nil {
			log.Error().Err(err).Str("client_id", client.ID().String()).Msg("Error sending message")
		}
	}
}

// Online lists connected identities in a stable order.
func (h *Hub) Online() []domain.UserID {
	h.mu.RLock()
	ids := make([]domain.UserID, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	slices.Sort(ids)
	return ids
}
