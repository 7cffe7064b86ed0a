package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-zones/internal/audit"
)

// auditSource marks entries written by the API.
const auditSource = "api"

const auditWriteTimeout = 2 * time.Second

// recordAudit writes an audit entry for the authenticated caller. A failed
// write is logged and never fails the request.
func (s *Server) recordAudit(r *http.Request, action, target, outcome string, details map[string]any) {
	if s.audit == nil {
		return
	}

	e := &audit.Entry{
		Action:  action,
		Target:  target,
		Source:  auditSource,
		Outcome: outcome,
		Details: details,
	}
	if claims := claimsFrom(r.Context()); claims != nil {
		e.Subject = claims.Subject
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
	defer cancel()
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Warn("audit write failed", "action", action, "target", target, "error", err)
	}
}

// handleListAudit returns audit entries, newest first.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		Target:  q.Get("target"),
		Subject: q.Get("subject"),
	}
	var err error
	if filter.Limit, err = parseHistoryLimit(q.Get("limit")); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if raw := q.Get("offset"); raw != "" {
		if filter.Offset, err = strconv.Atoi(raw); err != nil || filter.Offset < 0 {
			writeBadRequest(w, "invalid offset")
			return
		}
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
