package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-zones/internal/audit"
	"github.com/nerrad567/gray-logic-zones/internal/zone"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// eventTimeout bounds how long POST /events waits for the controller.
	eventTimeout = 10 * time.Second
)

// ControllerView is the API representation of a controller.
type ControllerView struct {
	Name         string `json:"name"`
	EntityID     string `json:"entity_id"`
	State        string `json:"state"`
	Mode         string `json:"mode"`
	Overrides    int    `json:"overrides"`
	TimerPending bool   `json:"timer_pending"`
}

// eventRequest is the body of POST /controllers/{name}/events.
type eventRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *Server) controllerView(ctx context.Context, c *zone.Controller) ControllerView {
	base := c.Config().Base
	mode := base.Type
	if mode == "" {
		mode = zone.ModeDummy
	}

	v := ControllerView{
		Name:         c.Name(),
		EntityID:     c.EntityID(),
		Mode:         mode,
		Overrides:    len(base.Overrides),
		TimerPending: c.TimerPending(),
	}
	st, err := c.State(ctx)
	if err != nil {
		s.logger.Warn("reading controller state failed", "controller", c.Name(), "error", err)
		return v
	}
	v.State = string(st)
	return v
}

// handleListControllers returns every controller with its current state.
func (s *Server) handleListControllers(w http.ResponseWriter, r *http.Request) {
	controllers := s.zones.List()
	views := make([]ControllerView, 0, len(controllers))
	for _, c := range controllers {
		views = append(views, s.controllerView(r.Context(), c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"controllers": views,
		"count":       len(views),
	})
}

// lookupController writes a 404 and returns nil when the named controller
// does not exist.
func (s *Server) lookupController(w http.ResponseWriter, r *http.Request) *zone.Controller {
	c, err := s.zones.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeNotFound(w, "controller not found")
		return nil
	}
	return c
}

// handleGetController returns one controller.
func (s *Server) handleGetController(w http.ResponseWriter, r *http.Request) {
	c := s.lookupController(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.controllerView(r.Context(), c))
}

// handleControllerHistory returns recorded state writes of a controller,
// newest first.
func (s *Server) handleControllerHistory(w http.ResponseWriter, r *http.Request) {
	c := s.lookupController(w, r)
	if c == nil {
		return
	}
	if s.history == nil {
		writeUnavailable(w, "state history unavailable")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.History(r.Context(), c.EntityID(), limit)
	if err != nil {
		s.logger.Error("loading controller history failed", "controller", c.Name(), "error", err)
		writeInternalError(w, "failed to load controller history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"controller": c.Name(),
		"entity_id":  c.EntityID(),
		"history":    entries,
		"count":      len(entries),
	})
}

// handlePostEvent delivers an event and waits for the controller to process
// it. The response carries the resulting controller state.
func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	eventType, err := zone.ParseEventType(req.Type)
	if err != nil {
		writeDomainError(w, err, "invalid event type")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), eventTimeout)
	defer cancel()

	err = s.zones.Deliver(ctx, name, zone.NewEvent(eventType, req.Payload))
	if err != nil {
		// Unknown targets are not audited.
		if !errors.Is(err, zone.ErrControllerNotFound) {
			s.recordAudit(r, audit.ActionZoneEvent, name, audit.OutcomeFailed,
				map[string]any{"event": string(eventType), "error": err.Error()})
		}
		if !writeDomainError(w, err, "event processing failed") {
			s.logger.Error("zone event failed", "controller", name, "event", req.Type, "error", err)
		}
		return
	}
	s.recordAudit(r, audit.ActionZoneEvent, name, audit.OutcomeOK, map[string]any{"event": string(eventType)})

	c, err := s.zones.Get(name)
	if err != nil {
		// Destroyed by a concurrent reload after the event was processed.
		writeNotFound(w, "controller not found")
		return
	}
	writeJSON(w, http.StatusOK, s.controllerView(r.Context(), c))
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum of %d", maxHistoryLimit)
	}
	return limit, nil
}
