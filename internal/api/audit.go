package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/webiot/relay/internal/audit"
	"github.com/webiot/relay/internal/auth"
)

// auditChanSize is the buffer size for the async audit channel. Entries
// beyond this are dropped so requests never wait on SQLite.
const auditChanSize = 256

// auditLog enqueues an entry for asynchronous write (best-effort).
func (s *Server) auditLog(action string, id auth.Identity, topic string, details map[string]any) {
	if s.auditRepo == nil {
		return
	}

	entry := &audit.Entry{
		Action:   action,
		UserID:   id.ID,
		Username: id.Username,
		Topic:    topic,
		Source:   "api",
		Details:  details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry", "action", action)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled,
// then flushes whatever is still queued.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"error", err,
		)
	}
}

// handleListAudit returns the caller's own activity, newest first.
//
// Query parameters:
//   - action: register, login, logout, publish, chat
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "activity log not enabled")
		return
	}
	id, _ := identityFromContext(r.Context())

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		UserID: id.ID,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs failed", "error", err)
		writeInternalError(w, "failed to list activity")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
