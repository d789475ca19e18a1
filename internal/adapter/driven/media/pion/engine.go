// Package pion implements media capture and peer transports on pion/webrtc.
package pion

import (
	"context"
	"time"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EngineOptions struct {
	ICEServers []webrtc.ICEServer

	// Zero values keep pion's defaults of 5s, 25s and 2s.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	PortMin uint16
	PortMax uint16

	// Net replaces the host network, tests pass a vnet.
	Net transport.Net
}

// CodecRegistrar fills the media engine with the codecs local capture encodes to.
type CodecRegistrar interface {
	RegisterCodecs(m *webrtc.MediaEngine) error
}

// Engine builds one peer connection per call session.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
	log    zerolog.Logger
}

var _ port.PeerTransportFactory = (*Engine)(nil)

// NewEngine registers codecs from codecs, or pion's defaults when nil.
func NewEngine(opts EngineOptions, codecs CodecRegistrar) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if codecs != nil {
		if err := codecs.RegisterCodecs(mediaEngine); err != nil {
			return nil, err
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "webrtc").Logger()
	se := webrtc.SettingEngine{LoggerFactory: LoggerFactory{Logger: logger}}
	if opts.DisconnectedTimeout > 0 || opts.FailedTimeout > 0 || opts.KeepAliveInterval > 0 {
		se.SetICETimeouts(
			orDefault(opts.DisconnectedTimeout, 5*time.Second),
			orDefault(opts.FailedTimeout, 25*time.Second),
			orDefault(opts.KeepAliveInterval, 2*time.Second),
		)
	}
	if opts.PortMin > 0 && opts.PortMax >= opts.PortMin {
		if err := se.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, err
		}
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		config: webrtc.Configuration{ICEServers: opts.ICEServers},
		log:    logger,
	}, nil
}

func (e *Engine) Create(ctx context.Context, id domain.SessionID, events port.TransportEvents) (port.PeerTransport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, err
	}
	return newTransport(id, pc, events, e.log.With().Str("session_id", id.String()).Logger()), nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
