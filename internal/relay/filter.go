package relay

import "strings"

const (
	// ControlPrefix marks a device control command such as "MODE:quiet".
	ControlPrefix = "MODE:"

	// ContentField is the object field carrying chat text in structured payloads.
	ContentField = "msg"
)

// IsControl reports whether msg is control traffic to hide from chat history.
//
// First match wins:
//  1. the raw text starts with ControlPrefix
//  2. the payload is a JSON object whose ContentField is a string starting
//     with ControlPrefix; numbers, booleans and nested values never match
//  3. otherwise it is content
//
// The result depends only on msg.
func IsControl(msg Message) bool {
	if strings.HasPrefix(msg.raw, ControlPrefix) {
		return true
	}
	obj, ok := msg.payload.value.(map[string]any)
	if !ok || !msg.payload.IsStructured() {
		return false
	}
	text, ok := obj[ContentField].(string)
	return ok && strings.HasPrefix(text, ControlPrefix)
}

// IsContent is the negation of IsControl, usable as a History predicate.
func IsContent(msg Message) bool {
	return !IsControl(msg)
}
