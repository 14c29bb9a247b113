package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-lightlink/internal/audit"
)

// recordAudit writes an audit entry for a successful control action.
// Failures are logged and never fail the request.
func (s *Server) recordAudit(r *http.Request, action, target string, details map[string]any) {
	if s.audit == nil {
		return
	}
	entry := &audit.AuditLog{
		Action:  action,
		Target:  target,
		Subject: subjectOf(r),
		Source:  audit.SourceAPI,
		Details: details,
	}
	if err := s.audit.Create(r.Context(), entry); err != nil {
		s.logger.Warn("writing audit log", "action", action, "error", err)
	}
}

// handleListAudit returns audit entries, newest first.
// Query parameters: action, subject, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		Subject: q.Get("subject"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeValidation(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs", "error", err)
		writeInternalError(w, "failed to load audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
