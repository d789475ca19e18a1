package domain

import "errors"

var (
	// ErrMediaUnavailable means camera or microphone access was denied or no device exists.
	ErrMediaUnavailable = errors.New("media unavailable")
	// ErrTransportClosed means the relay channel was not open when a send was attempted.
	ErrTransportClosed = errors.New("relay channel closed")
	// ErrNegotiationRejected means the remote party is busy or declined.
	ErrNegotiationRejected = errors.New("negotiation rejected")
	// ErrPeerConnectivityFailed means the peer transport reported failed or disconnected.
	ErrPeerConnectivityFailed = errors.New("peer connectivity failed")
	// ErrRelayProtocol means a relay message was malformed or unexpected.
	ErrRelayProtocol = errors.New("relay protocol error")

	ErrSessionBusy    = errors.New("session busy")
	ErrNoIncomingCall = errors.New("no incoming call")
	ErrInvalidPeer    = errors.New("invalid peer identity")
	ErrNegotiation    = errors.New("negotiation failed")
	ErrTimeout        = errors.New("negotiation timed out")
	ErrStopped        = errors.New("call service stopped")
	ErrPeerOffline    = errors.New("peer not online")
	ErrUnknownUser    = errors.New("unknown user")
)
