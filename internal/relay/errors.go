package relay

import (
	"errors"
	"fmt"
)

// Domain-specific errors for relay operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing while the broker connection is down.
	// No transmission is attempted.
	ErrNotConnected = errors.New("relay: not connected")

	// ErrPublishFailed is returned when the transport rejects or times out a publish.
	ErrPublishFailed = errors.New("relay: publish failed")

	// ErrInvalidRequest is returned for requests rejected before reaching the transport.
	ErrInvalidRequest = errors.New("relay: invalid request")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("relay: already started")
)

// PublishError describes a failed publish with the attempted topic and payload.
//
// Err is ErrNotConnected or ErrPublishFailed, optionally wrapping the
// transport's cause, so both errors.Is and errors.As work:
//
//	var pe *relay.PublishError
//	if errors.As(err, &pe) { log(pe.Topic) }
//	if errors.Is(err, relay.ErrNotConnected) { ... }
type PublishError struct {
	Topic   string
	Payload string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
