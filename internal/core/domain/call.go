package domain

import "time"

type CallState string

const (
	StateIdle       CallState = "idle"
	StateCalling    CallState = "calling"
	StateIncoming   CallState = "incoming"
	StateConnecting CallState = "connecting"
	StateActive     CallState = "active"
	StateEnding     CallState = "ending"
	StateError      CallState = "error"
)

// CallStatus is the reduced, user-visible view of the call service.
type CallStatus string

const (
	StatusIdle         CallStatus = "idle"
	StatusCalling      CallStatus = "calling"
	StatusIncoming     CallStatus = "incoming"
	StatusConnecting   CallStatus = "connecting"
	StatusActive       CallStatus = "active"
	StatusError        CallStatus = "error"
	StatusDisconnected CallStatus = "disconnected"
)

// Connectivity is the peer transport state as reported by the transport adapter.
type Connectivity string

const (
	ConnectivityConnecting   Connectivity = "connecting"
	ConnectivityConnected    Connectivity = "connected"
	ConnectivityDisconnected Connectivity = "disconnected"
	ConnectivityFailed       Connectivity = "failed"
	ConnectivityClosed       Connectivity = "closed"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

func ParseTrackKind(s string) (TrackKind, bool) {
	switch TrackKind(s) {
	case TrackAudio, TrackVideo:
		return TrackKind(s), true
	}
	return "", false
}

type MediaConstraints struct {
	Audio        bool
	Video        bool
	Width        int
	Height       int
	FrameRate    float64
	VideoBitRate int
}

// Description is an offer or answer exactly as the transport produced it.
type Description []byte

// Candidate is a network-path candidate exactly as the transport produced it.
type Candidate []byte

// CallSession is the single pending or active call of a local identity.
// Remote identity and id are fixed at creation.
type CallSession struct {
	ID     SessionID
	Local  UserID
	Remote UserID
	State  CallState

	LocalDescription  Description
	RemoteDescription Description
	// RemoteOffer is the offer received while Incoming, applied on accept.
	RemoteOffer Description

	Candidates CandidateBuffer

	CreatedAt        time.Time
	LastTransitionAt time.Time
}

func NewCallSession(local, remote UserID, state CallState, now time.Time) *CallSession {
	return &CallSession{
		ID:               NewSessionID(),
		Local:            local,
		Remote:           remote,
		State:            state,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
}

func (s *CallSession) Transition(to CallState, now time.Time) {
	s.State = to
	s.LastTransitionAt = now
}
