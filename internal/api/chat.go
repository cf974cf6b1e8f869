package api

import (
	"net/http"

	"github.com/webiot/relay/internal/audit"
)

// sendRequest is the body of POST /api/iot/send and /api/chat/send.
type sendRequest struct {
	Message string `json:"message"`
}

// sentView echoes what was published, without the timestamp.
type sentView struct {
	From string `json:"from"`
	User string `json:"user"`
	Msg  string `json:"msg"`
}

// sendResponse is returned by a successful send.
type sendResponse struct {
	Success bool     `json:"success"`
	Sent    sentView `json:"sent"`
	Topic   string   `json:"topic"`
}

// handleSend publishes chat text on behalf of the signed-in user.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	chat, receipt, err := s.relay.SendChat(r.Context(), id.Username, req.Message)
	if err != nil {
		writePublishError(w, err)
		return
	}
	s.auditLog(audit.ActionChat, id, receipt.Topic, nil)

	writeJSON(w, http.StatusOK, sendResponse{
		Success: true,
		Sent: sentView{
			From: chat.From,
			User: chat.User,
			Msg:  chat.Msg,
		},
		Topic: receipt.Topic,
	})
}
