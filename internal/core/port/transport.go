package port

import (
	"context"

	"github.com/Wyydra/peercall/internal/core/domain"
)

// TransportEvents are invoked from transport goroutines.
type TransportEvents struct {
	OnLocalCandidate     func(domain.Candidate)
	OnConnectivityChange func(domain.Connectivity)
}

type PeerTransportFactory interface {
	Create(ctx context.Context, sessionID domain.SessionID, events TransportEvents) (PeerTransport, error)
}

type PeerTransport interface {
	AddLocalTracks(stream LocalStream) error
	CreateOffer(ctx context.Context) (domain.Description, error)
	// CreateAnswer applies remoteOffer as the remote description and returns the answer.
	CreateAnswer(ctx context.Context, remoteOffer domain.Description) (domain.Description, error)
	SetLocalDescription(desc domain.Description) error
	SetRemoteDescription(desc domain.Description) error
	AddICECandidate(c domain.Candidate) error
	Close() error
}
