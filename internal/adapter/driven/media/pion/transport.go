package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	jsoniter "github.com/json-iterator/go"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const pliInterval = 3 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errForeignStream = errors.New("stream was not captured by this adapter")

// transport is one peer connection. Descriptions and candidates cross the
// port as the JSON a browser would produce for them.
type transport struct {
	id     domain.SessionID
	pc     *webrtc.PeerConnection
	events port.TransportEvents
	log    zerolog.Logger

	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

var _ port.PeerTransport = (*transport)(nil)

func newTransport(id domain.SessionID, pc *webrtc.PeerConnection, events port.TransportEvents, log zerolog.Logger) *transport {
	t := &transport{id: id, pc: pc, events: events, log: log, done: make(chan struct{})}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || t.closing.Load() || events.OnLocalCandidate == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			t.log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		events.OnLocalCandidate(domain.Candidate(data))
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.log.Debug().Str("state", s.String()).Msg("Peer connection state changed")
		c, ok := connectivity(s)
		if !ok || t.closing.Load() || events.OnConnectivityChange == nil {
			return
		}
		events.OnConnectivityChange(c)
	})

	pc.OnTrack(t.receive)
	return t
}

func connectivity(s webrtc.PeerConnectionState) (domain.Connectivity, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectivityConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectivityConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectivityDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectivityFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectivityClosed, true
	}
	return "", false
}

// AddLocalTracks sends every track of stream and adds a receive-only
// transceiver for each kind it lacks, so offers always carry audio and video.
func (t *transport) AddLocalTracks(stream port.LocalStream) error {
	s, ok := stream.(*localStream)
	if stream != nil && !ok {
		return errForeignStream
	}

	have := map[webrtc.RTPCodecType]bool{}
	if s != nil {
		for _, track := range s.tracks {
			sender, err := t.pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("add %s track: %w", track.kind, err)
			}
			have[track.Kind()] = true
			go t.drainRTCP(sender)
		}
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := t.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// drainRTCP keeps the sender's interceptors running until the sender stops.
func (t *transport) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *transport) CreateOffer(ctx context.Context) (domain.Description, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (t *transport) CreateAnswer(ctx context.Context, remoteOffer domain.Description) (domain.Description, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.SetRemoteDescription(remoteOffer); err != nil {
		return nil, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (t *transport) SetLocalDescription(d domain.Description) error {
	desc, err := parseDescription(d)
	if err != nil {
		return err
	}
	return t.pc.SetLocalDescription(desc)
}

func (t *transport) SetRemoteDescription(d domain.Description) error {
	desc, err := parseDescription(d)
	if err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(desc)
}

func (t *transport) AddICECandidate(c domain.Candidate) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(c, &init); err != nil {
		return fmt.Errorf("%w: candidate: %w", domain.ErrRelayProtocol, err)
	}
	return t.pc.AddICECandidate(init)
}

// Close is idempotent. No events are reported once it started.
func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		t.closing.Store(true)
		close(t.done)
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

func parseDescription(d domain.Description) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(d, &desc); err != nil {
		return desc, fmt.Errorf("%w: description: %w", domain.ErrRelayProtocol, err)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("%w: description without sdp", domain.ErrRelayProtocol)
	}
	return desc, nil
}

// receive consumes a remote track. Video gets a keyframe request right away
// and again every few seconds so a late decoder can start.
func (t *transport) receive(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	t.log.Info().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("Remote track started")

	stop := make(chan struct{})
	defer close(stop)
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go t.requestKeyframes(uint32(track.SSRC()), stop)
	}

	var packets int
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			t.log.Info().Str("kind", track.Kind().String()).Int("packets", packets).Msg("Remote track ended")
			return
		}
		packets++
	}
}

func (t *transport) requestKeyframes(ssrc uint32, stop <-chan struct{}) {
	pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		if err := t.pc.WriteRTCP(pli); err != nil {
			t.log.Debug().Err(err).Msg("Keyframe request failed")
		}
		select {
		case <-stop:
			return
		case <-t.done:
			return
		case <-ticker.C:
		}
	}
}
