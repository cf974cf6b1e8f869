package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/webiot/relay/internal/relay"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Topic   string `json:"topic,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeNotConnected = "not_connected"
	ErrCodePublish      = "publish_failed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeValidationError writes a 400 error response for rejected field values.
func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writePublishError maps a relay publish failure onto a response.
//
//	ErrInvalidRequest -> 400 validation_error
//	ErrNotConnected   -> 503 not_connected
//	ErrPublishFailed  -> 502 publish_failed
func writePublishError(w http.ResponseWriter, err error) {
	var pe *relay.PublishError
	topic := ""
	if errors.As(err, &pe) {
		topic = pe.Topic
	}

	switch {
	case errors.Is(err, relay.ErrInvalidRequest):
		writeValidationError(w, err.Error())
	case errors.Is(err, relay.ErrNotConnected):
		writeJSON(w, http.StatusServiceUnavailable, Error{
			Status:  http.StatusServiceUnavailable,
			Code:    ErrCodeNotConnected,
			Message: "broker not connected",
			Topic:   topic,
		})
	case errors.Is(err, relay.ErrPublishFailed):
		writeJSON(w, http.StatusBadGateway, Error{
			Status:  http.StatusBadGateway,
			Code:    ErrCodePublish,
			Message: "publish failed",
			Topic:   topic,
		})
	default:
		writeInternalError(w, "publish failed")
	}
}
