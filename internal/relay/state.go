package relay

import "time"

// State is the broker connection lifecycle state.
type State int

// Connection lifecycle:
//
//	Disconnected → Connecting → Connected → (Reconnecting | Disconnected)
//	Reconnecting → Connected
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a consistent snapshot of the connection state.
type Status struct {
	Connected       bool       `json:"connected"`
	State           State      `json:"state"`
	Endpoint        string     `json:"endpoint"`
	SubscribedTopic string     `json:"subscribedTopic"`
	PublishTopic    string     `json:"publishTopic"`
	Subscribed      bool       `json:"subscribed"`
	ConnectedSince  *time.Time `json:"connectedSince,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	Reconnects      uint64     `json:"reconnects"`
}
