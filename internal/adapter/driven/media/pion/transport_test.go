package pion

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVNetEngines(t *testing.T) (*Engine, *Engine) {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: LoggerFactory{Logger: zerolog.Nop()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	require.NoError(t, err)
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	require.NoError(t, err)
	require.NoError(t, router.AddNet(netA))
	require.NoError(t, router.AddNet(netB))
	require.NoError(t, router.Start())

	a, err := NewEngine(EngineOptions{Net: netA}, nil)
	require.NoError(t, err)
	b, err := NewEngine(EngineOptions{Net: netB}, nil)
	require.NoError(t, err)
	return a, b
}

type peerEvents struct {
	candidates chan domain.Candidate
	connected  chan struct{}
	once       sync.Once
}

func newPeerEvents() *peerEvents {
	return &peerEvents{candidates: make(chan domain.Candidate, 64), connected: make(chan struct{})}
}

func (p *peerEvents) events() port.TransportEvents {
	return port.TransportEvents{
		OnLocalCandidate: func(c domain.Candidate) { p.candidates <- c },
		OnConnectivityChange: func(c domain.Connectivity) {
			if c == domain.ConnectivityConnected {
				p.once.Do(func() { close(p.connected) })
			}
		},
	}
}

// forward starts once both descriptions are set, so nothing needs buffering.
func forward(from *peerEvents, to port.PeerTransport, stop <-chan struct{}) {
	for {
		select {
		case c := <-from.candidates:
			_ = to.AddICECandidate(c)
		case <-stop:
			return
		}
	}
}

func TestTransport_OfferAnswerConnectsOverVNet(t *testing.T) {
	engineA, engineB := newVNetEngines(t)
	ctx := context.Background()
	evA, evB := newPeerEvents(), newPeerEvents()

	a, err := engineA.Create(ctx, domain.NewSessionID(), evA.events())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := engineB.Create(ctx, domain.NewSessionID(), evB.events())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "peercall")
	require.NoError(t, err)
	require.NoError(t, a.AddLocalTracks(newLocalStream([]webrtc.TrackLocal{video}, nil)))
	require.NoError(t, b.AddLocalTracks(nil))

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(offer))
	assert.Contains(t, string(offer), `"type":"offer"`)
	assert.Contains(t, string(offer), "m=audio")
	assert.Contains(t, string(offer), "m=video")

	answer, err := b.CreateAnswer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, b.SetLocalDescription(answer))
	require.NoError(t, a.SetRemoteDescription(answer))
	assert.True(t, strings.Contains(string(answer), `"type":"answer"`))

	stop := make(chan struct{})
	defer close(stop)
	go forward(evA, b, stop)
	go forward(evB, a, stop)

	for name, ch := range map[string]chan struct{}{"caller": evA.connected, "callee": evB.connected} {
		select {
		case <-ch:
		case <-time.After(15 * time.Second):
			t.Fatalf("%s never connected", name)
		}
	}
}

func TestTransport_CloseIsIdempotentAndSilent(t *testing.T) {
	engine, err := NewEngine(EngineOptions{}, nil)
	require.NoError(t, err)
	var reported []domain.Connectivity
	var mu sync.Mutex
	tr, err := engine.Create(context.Background(), domain.NewSessionID(), port.TransportEvents{
		OnConnectivityChange: func(c domain.Connectivity) {
			mu.Lock()
			reported = append(reported, c)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, reported)
}

func TestTransport_RejectsMalformedPayloads(t *testing.T) {
	engine, err := NewEngine(EngineOptions{}, nil)
	require.NoError(t, err)
	tr, err := engine.Create(context.Background(), domain.NewSessionID(), port.TransportEvents{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	assert.ErrorIs(t, tr.SetRemoteDescription(domain.Description(`not json`)), domain.ErrRelayProtocol)
	assert.ErrorIs(t, tr.SetRemoteDescription(domain.Description(`{"type":"offer"}`)), domain.ErrRelayProtocol)
	assert.ErrorIs(t, tr.AddICECandidate(domain.Candidate(`[`)), domain.ErrRelayProtocol)
	assert.ErrorIs(t, tr.AddLocalTracks(foreignStream{}), errForeignStream)
}

func TestEngine_CreateHonoursCancelledContext(t *testing.T) {
	engine, err := NewEngine(EngineOptions{ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.Create(ctx, domain.NewSessionID(), port.TransportEvents{})

	assert.ErrorIs(t, err, context.Canceled)
}

type foreignStream struct{}

func (foreignStream) ID() string                { return "foreign" }
func (foreignStream) Kinds() []domain.TrackKind { return nil }
