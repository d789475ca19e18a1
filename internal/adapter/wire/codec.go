// Package wire converts relay messages to and from their JSON envelope.
package wire

import (
	"fmt"

	"github.com/Wyydra/peercall/internal/core/domain"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type user struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	FullName string `json:"fullName,omitempty"`
}

type envelope struct {
	Type         string              `json:"type"`
	TargetUserID string              `json:"targetUserId,omitempty"`
	FromUserID   string              `json:"fromUserId,omitempty"`
	Offer        jsoniter.RawMessage `json:"offer,omitempty"`
	Answer       jsoniter.RawMessage `json:"answer,omitempty"`
	Candidate    jsoniter.RawMessage `json:"candidate,omitempty"`
	Message      string              `json:"message,omitempty"`
	Username     string              `json:"username,omitempty"`
	Users        *[]user             `json:"users,omitempty"`
}

func Encode(m domain.Message) ([]byte, error) {
	var enc encoder
	m.Accept(&enc)
	if enc.err != nil {
		return nil, enc.err
	}
	r := m.Routing()
	enc.env.Type = string(m.Kind())
	enc.env.TargetUserID = r.Target.String()
	enc.env.FromUserID = r.From.String()
	return json.Marshal(enc.env)
}

// Decode parses one envelope. Unknown types and missing payloads are
// reported as domain.ErrRelayProtocol.
func Decode(data []byte) (domain.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRelayProtocol, err)
	}
	route := domain.Route{From: domain.UserID(env.FromUserID), Target: domain.UserID(env.TargetUserID)}

	switch domain.MessageKind(env.Type) {
	case domain.KindConnectionEstablished:
		return domain.ConnectionEstablished{Route: route, Username: env.Username}, nil
	case domain.KindCallOffer:
		if missing(env.Offer) {
			return nil, payloadError(env.Type, "offer")
		}
		return domain.CallOffer{Route: route, Offer: domain.Description(env.Offer)}, nil
	case domain.KindCallAnswer:
		if missing(env.Answer) {
			return nil, payloadError(env.Type, "answer")
		}
		return domain.CallAnswer{Route: route, Answer: domain.Description(env.Answer)}, nil
	case domain.KindIceCandidate:
		if missing(env.Candidate) {
			return nil, payloadError(env.Type, "candidate")
		}
		return domain.IceCandidate{Route: route, Candidate: domain.Candidate(env.Candidate)}, nil
	case domain.KindCallEnd:
		return domain.CallEnd{Route: route}, nil
	case domain.KindCallError:
		return domain.CallError{Route: route, Reason: env.Message}, nil
	case domain.KindPresenceRequest:
		return domain.PresenceRequest{Route: route}, nil
	case domain.KindPresenceSnapshot:
		var users []domain.PresenceEntry
		if env.Users != nil {
			users = make([]domain.PresenceEntry, 0, len(*env.Users))
			for _, u := range *env.Users {
				users = append(users, domain.PresenceEntry{UserID: domain.UserID(u.UserID), Username: u.Username, FullName: u.FullName})
			}
		}
		return domain.PresenceSnapshot{Route: route, Users: users}, nil
	}
	return nil, fmt.Errorf("%w: unknown message type %q", domain.ErrRelayProtocol, env.Type)
}

func missing(raw jsoniter.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func payloadError(kind, field string) error {
	return fmt.Errorf("%w: %s without %s", domain.ErrRelayProtocol, kind, field)
}

type encoder struct {
	env envelope
	err error
}

func (e *encoder) raw(field string, b []byte) jsoniter.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		e.err = fmt.Errorf("%w: %s is not valid JSON", domain.ErrRelayProtocol, field)
		return nil
	}
	return jsoniter.RawMessage(b)
}

func (e *encoder) HandleConnectionEstablished(m domain.ConnectionEstablished) {
	e.env.Username = m.Username
}

func (e *encoder) HandleCallOffer(m domain.CallOffer) {
	e.env.Offer = e.raw("offer", m.Offer)
}

func (e *encoder) HandleCallAnswer(m domain.CallAnswer) {
	e.env.Answer = e.raw("answer", m.Answer)
}

func (e *encoder) HandleIceCandidate(m domain.IceCandidate) {
	e.env.Candidate = e.raw("candidate", m.Candidate)
}

func (e *encoder) HandleCallEnd(domain.CallEnd) {}

func (e *encoder) HandleCallError(m domain.CallError) {
	e.env.Message = m.Reason
}

func (e *encoder) HandlePresenceRequest(domain.PresenceRequest) {}

func (e *encoder) HandlePresenceSnapshot(m domain.PresenceSnapshot) {
	users := make([]user, 0, len(m.Users))
	for _, u := range m.Users {
		users = append(users, user{UserID: u.UserID.String(), Username: u.Username, FullName: u.FullName})
	}
	e.env.Users = &users
}
