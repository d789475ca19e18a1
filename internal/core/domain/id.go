package domain

import (
	"strings"

	"github.com/google/uuid"
)

// UserID is the stable identity a user announces to the relay ("alice", "bob").
type UserID string

func NewUserIDFromString(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidPeer
	}
	return UserID(s), nil
}

func (id UserID) String() string {
	return string(id)
}

func (id UserID) IsZero() bool {
	return id == ""
}

type SessionID uuid.UUID

func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

func (id SessionID) String() string {
	return uuid.UUID(id).String()
}

// ClientID identifies one relay connection. A user reconnecting gets a new one.
type ClientID uuid.UUID

func NewClientID() ClientID {
	return ClientID(uuid.New())
}

func (id ClientID) String() string {
	return uuid.UUID(id).String()
}
