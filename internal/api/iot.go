package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/webiot/relay/internal/audit"
	"github.com/webiot/relay/internal/relay"
)

// messageView is the wire form of a retained message.
type messageView struct {
	Seq       uint64        `json:"seq"`
	Topic     string        `json:"topic"`
	Payload   relay.Payload `json:"payload"`
	Raw       string        `json:"raw"`
	Timestamp time.Time     `json:"timestamp"`
	Control   bool          `json:"control"`
}

func newMessageView(msg relay.Message, control bool) messageView {
	return messageView{
		Seq:       msg.Seq(),
		Topic:     msg.Topic(),
		Payload:   msg.Payload(),
		Raw:       msg.Raw(),
		Timestamp: msg.ReceivedAt().UTC(),
		Control:   control,
	}
}

// latestResponse is returned by GET /api/iot/latest.
type latestResponse struct {
	Connected       bool         `json:"connected"`
	SubscribedTopic string       `json:"subscribedTopic"`
	Last            *messageView `json:"last"`
}

// historyResponse is returned by GET /api/iot/history and /api/chat/messages.
type historyResponse struct {
	Connected bool          `json:"connected"`
	Messages  []messageView `json:"messages"`
}

// publishRequest is the body of POST /api/iot/publish.
type publishRequest struct {
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// publishResponse is returned by a successful publish.
type publishResponse struct {
	Success   bool   `json:"success"`
	Topic     string `json:"topic"`
	Published string `json:"published"`
}

// handleLatest returns the connection flag and the most recent message.
func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	status := s.relay.Status()
	resp := latestResponse{
		Connected:       status.Connected,
		SubscribedTopic: status.SubscribedTopic,
	}
	if latest := s.relay.PeekLatest(); latest.Found {
		view := newMessageView(latest.Message, latest.Control)
		resp.Last = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHistory returns retained messages with control messages removed.
func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	history := s.relay.VisibleHistory()
	views := make([]messageView, 0, len(history))
	for _, msg := range history {
		views = append(views, newMessageView(msg, false))
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Connected: s.relay.Connected(),
		Messages:  views,
	})
}

// handlePublish forwards a message to the broker.
//
// A string message is sent verbatim; any other JSON value is sent as its
// canonical encoding. A missing message sends "{}".
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	message, err := decodeMessage(req.Message)
	if err != nil {
		writeBadRequest(w, "invalid message")
		return
	}

	receipt, err := s.relay.Publish(r.Context(), relay.PublishRequest{
		Topic:   req.Topic,
		Message: message,
	})
	if err != nil {
		writePublishError(w, err)
		return
	}

	id, _ := identityFromContext(r.Context())
	s.auditLog(audit.ActionPublish, id, receipt.Topic, map[string]any{"bytes": len(receipt.Published)})

	writeJSON(w, http.StatusOK, publishResponse{
		Success:   true,
		Topic:     receipt.Topic,
		Published: receipt.Published,
	})
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// decodeMessage turns the raw "message" field into a publishable value.
// Absent and null both become nil.
func decodeMessage(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
