package service

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	id       domain.ClientID
	userID   domain.UserID
	username string

	mu  sync.Mutex
	got []domain.Message
}

func newRecordingClient(user domain.UserID) *recordingClient {
	return &recordingClient{id: domain.NewClientID(), userID: user}
}

func (c *recordingClient) ID() domain.ClientID   { return c.id }
func (c *recordingClient) UserID() domain.UserID { return c.userID }
func (c *recordingClient) Username() string      { return c.username }
func (c *recordingClient) Close() error          { return nil }

func (c *recordingClient) Send(m domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, m)
	return nil
}

func (c *recordingClient) received() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Message(nil), c.got...)
}

// syncRegistry is a PresenceRegistry without a run loop.
type syncRegistry struct {
	mu        sync.Mutex
	clients   map[domain.UserID]port.Client
	listeners []func()
}

func newSyncRegistry() *syncRegistry {
	return &syncRegistry{clients: map[domain.UserID]port.Client{}}
}

func (r *syncRegistry) Register(c port.Client) {
	r.mu.Lock()
	r.clients[c.UserID()] = c
	r.mu.Unlock()
	r.changed()
}

func (r *syncRegistry) Unregister(c port.Client) {
	r.mu.Lock()
	delete(r.clients, c.UserID())
	r.mu.Unlock()
	r.changed()
}

func (r *syncRegistry) changed() {
	for _, fn := range r.listeners {
		fn()
	}
}

func (r *syncRegistry) Deliver(ctx context.Context, to domain.UserID, msg domain.Message) error {
	r.mu.Lock()
	c, ok := r.clients[to]
	r.mu.Unlock()
	if !ok {
		return domain.ErrPeerOffline
	}
	return c.Send(msg)
}

func (r *syncRegistry) Broadcast(ctx context.Context, msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		_ = c.Send(msg)
	}
}

func (r *syncRegistry) Online() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []domain.UserID
	for id := range r.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *syncRegistry) OnChange(fn func()) {
	r.listeners = append(r.listeners, fn)
}

type staticDirectory map[domain.UserID]domain.PresenceEntry

func (d staticDirectory) Lookup(ctx context.Context, id domain.UserID) (domain.PresenceEntry, error) {
	if e, ok := d[id]; ok {
		return e, nil
	}
	return domain.PresenceEntry{}, domain.ErrUnknownUser
}

func (d staticDirectory) Save(ctx context.Context, e domain.PresenceEntry) error {
	d[e.UserID] = e
	return nil
}

func newRelay() (*RelayService, *syncRegistry) {
	reg := newSyncRegistry()
	dir := staticDirectory{"alice": {UserID: "alice", Username: "alice", FullName: "Alice A."}}
	return NewRelayService(reg, dir), reg
}

func kindsOf(msgs []domain.Message) []domain.MessageKind {
	var kinds []domain.MessageKind
	for _, m := range msgs {
		kinds = append(kinds, m.Kind())
	}
	return kinds
}

func TestRelayService_ConnectGreetsThenBroadcastsPresence(t *testing.T) {
	relay, _ := newRelay()
	alice := newRecordingClient("alice")

	require.NoError(t, relay.Connect(context.Background(), alice))

	got := alice.received()
	require.Equal(t, []domain.MessageKind{domain.KindConnectionEstablished, domain.KindPresenceSnapshot}, kindsOf(got))
	assert.Equal(t, "alice", got[0].(domain.ConnectionEstablished).Username)
	assert.Equal(t, []domain.PresenceEntry{{UserID: "alice", Username: "alice", FullName: "Alice A."}}, got[1].(domain.PresenceSnapshot).Users)
}

func TestRelayService_ConnectRecordsOfferedUsername(t *testing.T) {
	dir := staticDirectory{"alice": {UserID: "alice", Username: "alice", FullName: "Alice A."}}
	relay := NewRelayService(newSyncRegistry(), dir)

	carol := newRecordingClient("carol")
	carol.username = "caroline"
	require.NoError(t, relay.Connect(context.Background(), carol))
	assert.Equal(t, "caroline", carol.received()[0].(domain.ConnectionEstablished).Username)
	assert.Equal(t, domain.PresenceEntry{UserID: "carol", Username: "caroline"}, dir["carol"])

	alice := newRecordingClient("alice")
	alice.username = "impostor"
	require.NoError(t, relay.Connect(context.Background(), alice))
	assert.Equal(t, "alice", alice.received()[0].(domain.ConnectionEstablished).Username, "configured names win")
	assert.Equal(t, "Alice A.", dir["alice"].FullName)

	dave := newRecordingClient("dave")
	require.NoError(t, relay.Connect(context.Background(), dave))
	assert.Equal(t, "dave", dave.received()[0].(domain.ConnectionEstablished).Username)
	assert.NotContains(t, dir, domain.UserID("dave"))

	names := lo.Map(relay.Presence(context.Background()), func(e domain.PresenceEntry, _ int) string { return e.Username })
	assert.ElementsMatch(t, []string{"caroline", "alice", "dave"}, names)
}

func TestRelayService_RouteStampsSender(t *testing.T) {
	relay, _ := newRelay()
	alice, bob := newRecordingClient("alice"), newRecordingClient("bob")
	require.NoError(t, relay.Connect(context.Background(), alice))
	require.NoError(t, relay.Connect(context.Background(), bob))

	offer := domain.CallOffer{Route: domain.Route{From: "mallory", Target: "bob"}, Offer: domain.Description(`{}`)}
	require.NoError(t, relay.Route(context.Background(), alice, offer))

	got := bob.received()
	last := got[len(got)-1].(domain.CallOffer)
	assert.Equal(t, domain.UserID("alice"), last.From)
	assert.Equal(t, domain.UserID("bob"), last.Target)
}

func TestRelayService_OfferToOfflineUserRepliesError(t *testing.T) {
	relay, _ := newRelay()
	alice := newRecordingClient("alice")
	require.NoError(t, relay.Connect(context.Background(), alice))

	err := relay.Route(context.Background(), alice, domain.CallOffer{Route: domain.Route{Target: "carol"}, Offer: domain.Description(`{}`)})
	require.NoError(t, err)

	got := alice.received()
	reply, ok := got[len(got)-1].(domain.CallError)
	require.True(t, ok)
	assert.Equal(t, "user carol is not online", reply.Reason)

	before := len(alice.received())
	require.NoError(t, relay.Route(context.Background(), alice, domain.IceCandidate{Route: domain.Route{Target: "carol"}, Candidate: domain.Candidate(`{}`)}))
	assert.Len(t, alice.received(), before, "candidates to offline users are dropped silently")
}

func TestRelayService_PresenceRequest(t *testing.T) {
	relay, _ := newRelay()
	alice, bob := newRecordingClient("alice"), newRecordingClient("bob")
	require.NoError(t, relay.Connect(context.Background(), alice))
	require.NoError(t, relay.Connect(context.Background(), bob))

	require.NoError(t, relay.Route(context.Background(), bob, domain.PresenceRequest{}))

	got := bob.received()
	snap := got[len(got)-1].(domain.PresenceSnapshot)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, []domain.UserID{snap.Users[0].UserID, snap.Users[1].UserID})
}

func TestRelayService_RejectsInvalidMessages(t *testing.T) {
	relay, _ := newRelay()
	alice := newRecordingClient("alice")

	assert.ErrorIs(t, relay.Route(context.Background(), alice, domain.CallEnd{}), domain.ErrRelayProtocol)
	assert.ErrorIs(t, relay.Route(context.Background(), alice, domain.PresenceSnapshot{}), domain.ErrRelayProtocol)
	assert.ErrorIs(t, relay.Route(context.Background(), alice, domain.ConnectionEstablished{}), domain.ErrRelayProtocol)
	assert.ErrorIs(t, relay.Route(context.Background(), alice, domain.CallEnd{Route: domain.Route{Target: "alice"}}), domain.ErrRelayProtocol)
}

func TestRelayService_DisconnectUpdatesPresence(t *testing.T) {
	relay, _ := newRelay()
	alice, bob := newRecordingClient("alice"), newRecordingClient("bob")
	require.NoError(t, relay.Connect(context.Background(), alice))
	require.NoError(t, relay.Connect(context.Background(), bob))

	relay.Disconnect(bob)

	got := alice.received()
	snap := got[len(got)-1].(domain.PresenceSnapshot)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, domain.UserID("alice"), snap.Users[0].UserID)
}
