package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/openrgb-bridge/internal/audit"
)

// AuditLog records API commands and serves the audit trail.
// *audit.Recorder implements it.
type AuditLog interface {
	RecordCommand(ctx context.Context, c audit.Command)
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// auditCommand records a command issued through the API. It is a no-op
// without an audit log.
func (s *Server) auditCommand(r *http.Request, action, key string, details map[string]any, err error) {
	if s.audit == nil {
		return
	}
	if id := requestID(r.Context()); id != "" {
		if details == nil {
			details = make(map[string]any, 1)
		}
		details["request_id"] = id
	}
	s.audit.RecordCommand(r.Context(), audit.Command{
		Source:  audit.SourceAPI,
		Action:  action,
		Key:     key,
		Details: details,
		Err:     err,
	})
}

// handleListAudit returns paginated audit entries with optional filters.
//
// Query parameters:
//   - action: filter by action (turn_on, turn_off, service, entity_added, ...)
//   - key: filter by light key
//   - source: filter by source (mqtt, api, sync)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Key:    q.Get("key"),
		Source: q.Get("source"),
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

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
