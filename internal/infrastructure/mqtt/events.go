package mqtt

import "time"

// EventKind identifies what happened on the broker connection.
type EventKind int

// Connection and delivery events posted by Client.
const (
	// EventConnected is posted after every successful connect, including reconnects.
	EventConnected EventKind = iota + 1

	// EventConnectionLost is posted when an established connection drops.
	EventConnectionLost

	// EventReconnecting is posted before each automatic reconnect attempt.
	EventReconnecting

	// EventFrame carries one inbound PUBLISH from a subscription.
	EventFrame
)

// String returns a short lowercase name for logs.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectionLost:
		return "connection_lost"
	case EventReconnecting:
		return "reconnecting"
	case EventFrame:
		return "frame"
	default:
		return "unknown"
	}
}

// Event is a single notification from the transport.
//
// Frames carry Topic and Payload; ConnectionLost carries Err.
// Payload is a private copy and may be retained by the receiver.
type Event struct {
	Kind       EventKind
	Topic      string
	Payload    []byte
	Err        error
	ReceivedAt time.Time
}
