package service

import (
	"context"
	"errors"
	"sync"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
)

type fakeSignaling struct {
	mu      sync.Mutex
	sent    []domain.Message
	sendErr error
	events  chan port.ChannelEvent
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{events: make(chan port.ChannelEvent, 32)}
}

func (f *fakeSignaling) Connect(ctx context.Context, identity domain.UserID) error { return nil }

func (f *fakeSignaling) Send(ctx context.Context, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignaling) Events() <-chan port.ChannelEvent { return f.events }

func (f *fakeSignaling) Close() error { return nil }

func (f *fakeSignaling) deliver(m domain.Message) {
	f.events <- port.ChannelEvent{Message: m}
}

func (f *fakeSignaling) Sent() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.sent...)
}

func (f *fakeSignaling) SentKinds() []domain.MessageKind {
	var kinds []domain.MessageKind
	for _, m := range f.Sent() {
		kinds = append(kinds, m.Kind())
	}
	return kinds
}

type fakeStream struct {
	id string
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Kinds() []domain.TrackKind {
	return []domain.TrackKind{domain.TrackAudio, domain.TrackVideo}
}

type fakeMedia struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{}
	acquired int
	released int
	toggles  []string
}

func (m *fakeMedia) Acquire(ctx context.Context, c domain.MediaConstraints) (port.LocalStream, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.acquired++
	return &fakeStream{id: "local"}, nil
}

func (m *fakeMedia) Release(stream port.LocalStream) {
	if stream == nil {
		return
	}
	m.mu.Lock()
	m.released++
	m.mu.Unlock()
}

func (m *fakeMedia) SetTrackEnabled(stream port.LocalStream, kind domain.TrackKind, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled {
		m.toggles = append(m.toggles, string(kind)+":on")
	} else {
		m.toggles = append(m.toggles, string(kind)+":off")
	}
	return nil
}

func (m *fakeMedia) counts() (acquired, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.released
}

type fakeTransport struct {
	mu     sync.Mutex
	events port.TransportEvents
	ops    []string
	closed bool
	// earlyCandidate is reported while the offer or answer is created.
	earlyCandidate domain.Candidate
	candidateErr   error
}

func (t *fakeTransport) record(op string) {
	t.mu.Lock()
	t.ops = append(t.ops, op)
	t.mu.Unlock()
}

func (t *fakeTransport) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ops...)
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) AddLocalTracks(stream port.LocalStream) error {
	t.record("tracks")
	return nil
}

func (t *fakeTransport) CreateOffer(ctx context.Context) (domain.Description, error) {
	t.record("offer")
	if t.earlyCandidate != nil {
		t.events.OnLocalCandidate(t.earlyCandidate)
	}
	return domain.Description(`{"type":"offer","sdp":"o"}`), nil
}

func (t *fakeTransport) CreateAnswer(ctx context.Context, offer domain.Description) (domain.Description, error) {
	t.record("remote:" + string(offer))
	t.record("answer")
	if t.earlyCandidate != nil {
		t.events.OnLocalCandidate(t.earlyCandidate)
	}
	return domain.Description(`{"type":"answer","sdp":"a"}`), nil
}

func (t *fakeTransport) SetLocalDescription(d domain.Description) error {
	t.record("local")
	return nil
}

func (t *fakeTransport) SetRemoteDescription(d domain.Description) error {
	t.record("remote:" + string(d))
	return nil
}

func (t *fakeTransport) AddICECandidate(c domain.Candidate) error {
	t.record("candidate:" + string(c))
	return t.candidateErr
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) connectivity(state domain.Connectivity) {
	t.events.OnConnectivityChange(state)
}

type fakeFactory struct {
	mu         sync.Mutex
	err        error
	early      domain.Candidate
	transports []*fakeTransport
}

func (f *fakeFactory) Create(ctx context.Context, id domain.SessionID, events port.TransportEvents) (port.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := &fakeTransport{events: events, earlyCandidate: f.early}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

var errDenied = errors.New("permission denied")
