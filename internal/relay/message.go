package relay

import (
	"time"

	"github.com/goccy/go-json"
)

// Message is one frame received from the broker.
//
// Message is an immutable value: fields are unexported and accessors hand
// out copies, so a Message returned from the store cannot be used to change
// what other readers see. The zero Message is the "nothing received" marker.
type Message struct {
	seq        uint64
	topic      string
	raw        string
	payload    Payload
	receivedAt time.Time
}

// NewMessage builds a Message from a raw frame. The payload is parsed once,
// here; malformed JSON becomes a Text payload and is never rejected.
func NewMessage(seq uint64, topic string, raw []byte, receivedAt time.Time) Message {
	return Message{
		seq:        seq,
		topic:      topic,
		raw:        string(raw),
		payload:    ParsePayload(raw),
		receivedAt: receivedAt,
	}
}

// Seq is the per-process ingestion sequence number, starting at 1.
func (m Message) Seq() uint64 { return m.seq }

// Topic is the topic the frame arrived on.
func (m Message) Topic() string { return m.topic }

// Raw is the frame payload as text.
func (m Message) Raw() string { return m.raw }

// Payload is the parsed payload.
func (m Message) Payload() Payload { return m.payload }

// ReceivedAt is when the transport delivered the frame.
func (m Message) ReceivedAt() time.Time { return m.receivedAt }

// IsZero reports whether m is the empty marker.
func (m Message) IsZero() bool { return m.seq == 0 }

type messageJSON struct {
	Seq       uint64    `json:"seq"`
	Topic     string    `json:"topic"`
	Payload   Payload   `json:"payload"`
	Raw       string    `json:"raw"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON renders {seq, topic, payload, raw, timestamp}.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Seq:       m.seq,
		Topic:     m.topic,
		Payload:   m.payload,
		Raw:       m.raw,
		Timestamp: m.receivedAt.UTC(),
	})
}
