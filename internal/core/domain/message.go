package domain

type MessageKind string

const (
	KindConnectionEstablished MessageKind = "connection-established"
	KindCallOffer             MessageKind = "call-offer"
	KindCallAnswer            MessageKind = "call-answer"
	KindIceCandidate          MessageKind = "ice-candidate"
	KindCallEnd               MessageKind = "call-end"
	KindCallError             MessageKind = "call-error"
	KindPresenceRequest       MessageKind = "get-online-users"
	KindPresenceSnapshot      MessageKind = "online-users"
)

// Route is the relay addressing of a message. Target is set by the sender,
// From is stamped by the relay.
type Route struct {
	From   UserID
	Target UserID
}

func (r Route) Routing() Route {
	return r
}

// Message is the closed set of relay messages. Adding a variant means adding
// a method to MessageHandler, so every handler has to deal with it.
type Message interface {
	Kind() MessageKind
	Routing() Route
	// Addressed returns a copy of the message carrying r.
	Addressed(r Route) Message
	Accept(h MessageHandler)
}

type MessageHandler interface {
	HandleConnectionEstablished(ConnectionEstablished)
	HandleCallOffer(CallOffer)
	HandleCallAnswer(CallAnswer)
	HandleIceCandidate(IceCandidate)
	HandleCallEnd(CallEnd)
	HandleCallError(CallError)
	HandlePresenceRequest(PresenceRequest)
	HandlePresenceSnapshot(PresenceSnapshot)
}

type ConnectionEstablished struct {
	Route
	Username string
}

type CallOffer struct {
	Route
	Offer Description
}

type CallAnswer struct {
	Route
	Answer Description
}

type IceCandidate struct {
	Route
	Candidate Candidate
}

type CallEnd struct {
	Route
}

type CallError struct {
	Route
	Reason string
}

type PresenceRequest struct {
	Route
}

type PresenceSnapshot struct {
	Route
	Users []PresenceEntry
}

func (ConnectionEstablished) Kind() MessageKind { return KindConnectionEstablished }
func (CallOffer) Kind() MessageKind             { return KindCallOffer }
func (CallAnswer) Kind() MessageKind            { return KindCallAnswer }
func (IceCandidate) Kind() MessageKind          { return KindIceCandidate }
func (CallEnd) Kind() MessageKind               { return KindCallEnd }
func (CallError) Kind() MessageKind             { return KindCallError }
func (PresenceRequest) Kind() MessageKind       { return KindPresenceRequest }
func (PresenceSnapshot) Kind() MessageKind      { return KindPresenceSnapshot }

func (m ConnectionEstablished) Addressed(r Route) Message { m.Route = r; return m }
func (m CallOffer) Addressed(r Route) Message             { m.Route = r; return m }
func (m CallAnswer) Addressed(r Route) Message            { m.Route = r; return m }
func (m IceCandidate) Addressed(r Route) Message          { m.Route = r; return m }
func (m CallEnd) Addressed(r Route) Message               { m.Route = r; return m }
func (m CallError) Addressed(r Route) Message             { m.Route = r; return m }
func (m PresenceRequest) Addressed(r Route) Message       { m.Route = r; return m }
func (m PresenceSnapshot) Addressed(r Route) Message      { m.Route = r; return m }

func (m ConnectionEstablished) Accept(h MessageHandler) { h.HandleConnectionEstablished(m) }
func (m CallOffer) Accept(h MessageHandler)             { h.HandleCallOffer(m) }
func (m CallAnswer) Accept(h MessageHandler)            { h.HandleCallAnswer(m) }
func (m IceCandidate) Accept(h MessageHandler)          { h.HandleIceCandidate(m) }
func (m CallEnd) Accept(h MessageHandler)               { h.HandleCallEnd(m) }
func (m CallError) Accept(h MessageHandler)             { h.HandleCallError(m) }
func (m PresenceRequest) Accept(h MessageHandler)       { h.HandlePresenceRequest(m) }
func (m PresenceSnapshot) Accept(h MessageHandler)      { h.HandlePresenceSnapshot(m) }

// IsPeerMessage reports whether the relay forwards m to another user.
func IsPeerMessage(m Message) bool {
	switch m.Kind() {
	case KindCallOffer, KindCallAnswer, KindIceCandidate, KindCallEnd, KindCallError:
		return true
	}
	return false
}
