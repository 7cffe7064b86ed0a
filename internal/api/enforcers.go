package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-zones/internal/audit"
	"github.com/nerrad567/gray-logic-zones/internal/enforcer"
)

// handleListEnforcers returns the status of every enforcer.
func (s *Server) handleListEnforcers(w http.ResponseWriter, _ *http.Request) {
	if s.enforcers == nil {
		writeUnavailable(w, "state enforcement not configured")
		return
	}
	statuses := s.enforcers.Statuses()
	writeJSON(w, http.StatusOK, map[string]any{
		"enforcers": statuses,
		"count":     len(statuses),
	})
}

// handleGetEnforcer returns the status of one enforcer.
func (s *Server) handleGetEnforcer(w http.ResponseWriter, r *http.Request) {
	if s.enforcers == nil {
		writeUnavailable(w, "state enforcement not configured")
		return
	}
	e, err := s.enforcers.Get(chi.URLParam(r, "entity"))
	if err != nil {
		writeNotFound(w, "enforcer not found")
		return
	}
	writeJSON(w, http.StatusOK, e.Status())
}

// handleEnforcerCommand sets a new target for an enforcer. The entity in
// the path is authoritative; a conflicting entity_id in the body is rejected.
func (s *Server) handleEnforcerCommand(w http.ResponseWriter, r *http.Request) {
	if s.enforcers == nil {
		writeUnavailable(w, "state enforcement not configured")
		return
	}
	entityID := chi.URLParam(r, "entity")

	var cmd enforcer.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cmd.EntityID != "" && cmd.EntityID != entityID {
		writeBadRequest(w, "entity_id does not match path")
		return
	}
	cmd.EntityID = entityID

	details := map[string]any{"service": cmd.Service, "state": cmd.State}
	if err := s.enforcers.Command(cmd); err != nil {
		details["error"] = err.Error()
		switch {
		case errors.Is(err, enforcer.ErrEnforcerNotFound):
		case errors.Is(err, enforcer.ErrInvalidCommand):
			s.recordAudit(r, audit.ActionEnforcerCommand, entityID, audit.OutcomeRejected, details)
		default:
			s.recordAudit(r, audit.ActionEnforcerCommand, entityID, audit.OutcomeFailed, details)
		}
		if !writeDomainError(w, err, "enforcement command failed") {
			s.logger.Error("enforcement command failed", "entity_id", entityID, "error", err)
		}
		return
	}
	s.recordAudit(r, audit.ActionEnforcerCommand, entityID, audit.OutcomeOK, details)

	e, err := s.enforcers.Get(entityID)
	if err != nil {
		writeNotFound(w, "enforcer not found")
		return
	}
	writeJSON(w, http.StatusAccepted, e.Status())
}
