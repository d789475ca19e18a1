package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// RelayService forwards call signaling between connected identities and
// keeps every client's presence view current.
type RelayService struct {
	registry  port.PresenceRegistry
	directory port.Directory
}

func NewRelayService(registry port.PresenceRegistry, directory port.Directory) *RelayService {
	s := &RelayService{
		registry:  registry,
		directory: directory,
	}
	registry.OnChange(func() {
		s.registry.Broadcast(context.Background(), domain.PresenceSnapshot{Users: s.Presence(context.Background())})
	})
	return s
}

// Connect greets c and then makes it reachable, which pushes a fresh presence
// snapshot to everyone. The username c offers is recorded only for identities
// the directory does not know yet.
func (s *RelayService) Connect(ctx context.Context, c port.Client) error {
	entry := s.remember(ctx, c)
	if err := c.Send(domain.ConnectionEstablished{Route: domain.Route{Target: c.UserID()}, Username: entry.Username}); err != nil {
		return err
	}
	s.registry.Register(c)
	return nil
}

func (s *RelayService) Disconnect(c port.Client) {
	s.registry.Unregister(c)
}

// Route handles one message from a client. Peer messages are stamped with the
// sender identity before delivery.
func (s *RelayService) Route(ctx context.Context, from port.Client, msg domain.Message) error {
	if msg.Kind() == domain.KindPresenceRequest {
		return from.Send(domain.PresenceSnapshot{Route: domain.Route{Target: from.UserID()}, Users: s.Presence(ctx)})
	}
	if !domain.IsPeerMessage(msg) {
		return fmt.Errorf("%w: clients may not send %s", domain.ErrRelayProtocol, msg.Kind())
	}

	target := msg.Routing().Target
	if target.IsZero() {
		return fmt.Errorf("%w: %s without targetUserId", domain.ErrRelayProtocol, msg.Kind())
	}
	if target == from.UserID() {
		return fmt.Errorf("%w: %s addressed to sender", domain.ErrRelayProtocol, msg.Kind())
	}

	err := s.registry.Deliver(ctx, target, msg.Addressed(domain.Route{From: from.UserID(), Target: target}))
	if !errors.Is(err, domain.ErrPeerOffline) {
		return err
	}

	log.Info().Str("from", from.UserID().String()).Str("target", target.String()).Str("type", string(msg.Kind())).Msg("Target not online")
	switch msg.Kind() {
	case domain.KindCallOffer, domain.KindCallAnswer:
		return from.Send(domain.CallError{
			Route:  domain.Route{Target: from.UserID()},
			Reason: fmt.Sprintf("user %s is not online", target),
		})
	}
	return nil
}

func (s *RelayService) Presence(ctx context.Context) []domain.PresenceEntry {
	return lo.Map(s.registry.Online(), func(id domain.UserID, _ int) domain.PresenceEntry {
		return s.lookup(ctx, id)
	})
}

func (s *RelayService) lookup(ctx context.Context, id domain.UserID) domain.PresenceEntry {
	entry, err := s.directory.Lookup(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrUnknownUser) {
			log.Warn().Err(err).Str("user_id", id.String()).Msg("Directory lookup failed")
		}
		return domain.PresenceEntry{UserID: id, Username: id.String()}
	}
	return entry
}

func (s *RelayService) remember(ctx context.Context, c port.Client) domain.PresenceEntry {
	id := c.UserID()
	_, err := s.directory.Lookup(ctx, id)
	if !errors.Is(err, domain.ErrUnknownUser) || c.Username() == "" {
		return s.lookup(ctx, id)
	}
	entry := domain.PresenceEntry{UserID: id, Username: c.Username()}
	if err := s.directory.Save(ctx, entry); err != nil {
		log.Warn().Err(err).Str("user_id", id.String()).Msg("Failed to record username")
		return s.lookup(ctx, id)
	}
	log.Debug().Str("user_id", id.String()).Str("username", entry.Username).Msg("Username recorded")
	return entry
}
