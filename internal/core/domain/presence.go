package domain

// PresenceEntry is one reachable identity as reported by the relay.
type PresenceEntry struct {
	UserID   UserID
	Username string
	FullName string
}
