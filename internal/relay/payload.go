package relay

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// PayloadKind tags which variant a Payload holds.
type PayloadKind int

const (
	// PayloadText is a payload that did not parse as JSON; the raw text is kept.
	PayloadText PayloadKind = iota

	// PayloadStructured is a payload that parsed as a JSON value.
	PayloadStructured
)

// String returns "text" or "structured".
func (k PayloadKind) String() string {
	if k == PayloadStructured {
		return "structured"
	}
	return "text"
}

// Payload is the parsed form of an inbound frame: Structured(value) or Text(string).
//
// Structured values use the shapes produced by JSON decoding with numbers kept
// as json.Number: map[string]any, []any, string, json.Number, bool and nil.
// The zero Payload is Text("").
type Payload struct {
	kind  PayloadKind
	text  string
	value any
}

// TextPayload returns a Text payload.
func TextPayload(s string) Payload {
	return Payload{kind: PayloadText, text: s}
}

// ParsePayload interprets raw as a single JSON value, falling back to Text.
// It never fails.
func ParsePayload(raw []byte) Payload {
	value, err := decodeJSON(raw)
	if err != nil {
		return TextPayload(string(raw))
	}
	return Payload{kind: PayloadStructured, value: value}
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	// Reject trailing data such as `{} x`.
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return value, nil
}

// Kind returns which variant the payload holds.
func (p Payload) Kind() PayloadKind {
	return p.kind
}

// IsStructured reports whether the payload parsed as JSON.
func (p Payload) IsStructured() bool {
	return p.kind == PayloadStructured
}

// Text returns the text of a Text payload, or "" for a structured one.
func (p Payload) Text() string {
	return p.text
}

// Value returns a deep copy of the structured value, or nil for Text.
func (p Payload) Value() any {
	if p.kind != PayloadStructured {
		return nil
	}
	return deepCopyValue(p.value)
}

// Field returns a copy of a top-level object field when the payload is a
// structured JSON object.
func (p Payload) Field(name string) (any, bool) {
	obj, ok := p.value.(map[string]any)
	if !ok || p.kind != PayloadStructured {
		return nil, false
	}
	v, ok := obj[name]
	if !ok {
		return nil, false
	}
	return deepCopyValue(v), true
}

// MarshalJSON renders a structured payload as its JSON value and a text
// payload as a JSON string.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.kind == PayloadStructured {
		return json.Marshal(p.value)
	}
	return json.Marshal(p.text)
}

// Canonical serializes an outbound value to the text sent on the wire.
//
// Strings are sent as-is so plain text commands such as "MODE:quiet" reach
// the device unquoted. Everything else is compact JSON with object keys in
// sorted order and <, > and & escaped as \u003c, \u003e and \u0026, the same
// bytes encoding/json produces.
func Canonical(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	return string(b), nil
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies decoded JSON, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// strings, json.Number, bool and nil are immutable
		return v
	}
}
