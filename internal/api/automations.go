package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-rules/internal/audit"
	"github.com/nerrad567/gray-logic-rules/internal/automation"
)

// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
const maxQueryParamLen = 100

// maxExecutionLimit caps the limit query parameter on execution listings.
const maxExecutionLimit = 1000

// isValidationError reports whether err came from automation validation.
func isValidationError(err error) bool {
	return errors.Is(err, automation.ErrInvalidAutomation) ||
		errors.Is(err, automation.ErrInvalidName) ||
		errors.Is(err, automation.ErrNoActions) ||
		errors.Is(err, automation.ErrInvalidAction) ||
		errors.Is(err, automation.ErrInvalidCondition)
}

// automationID extracts and checks the {id} path parameter.
func automationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid automation ID")
		return "", false
	}
	return id, true
}

// handleListAutomations returns all automations in evaluation order.
//
// Query parameters:
//   - enabled: "true" or "false" to filter by enabled state
func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List(r.Context())

	if raw := r.URL.Query().Get("enabled"); raw != "" {
		want, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "enabled must be true or false")
			return
		}
		filtered := list[:0]
		for _, a := range list {
			if a.Enabled == want {
				filtered = append(filtered, a)
			}
		}
		list = filtered
	}

	if list == nil {
		list = []automation.Automation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"automations": list, "count": len(list)})
}

// handleGetAutomation returns a single automation by ID.
func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := automationID(w, r)
	if !ok {
		return
	}

	a, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrAutomationNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to get automation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"automation": a,
		"running":    s.registry.InFlight(id),
	})
}

// handleCreateAutomation creates a new automation. The ID is generated
// when the body omits it.
func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var a automation.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(a.ID) > maxQueryParamLen {
		writeValidationError(w, "id exceeds maximum length")
		return
	}

	if err := s.registry.Create(r.Context(), &a); err != nil {
		if isValidationError(err) {
			writeValidationError(w, err.Error())
			return
		}
		if errors.Is(err, automation.ErrAutomationExists) {
			writeConflict(w, err.Error())
			return
		}
		s.logger.Error("failed to create automation", "error", err)
		writeInternalError(w, "failed to create automation")
		return
	}

	s.auditLog(audit.ActionCreate, a.ID, map[string]any{"name": a.Name})
	writeJSON(w, http.StatusCreated, a)
}

// handleUpdateAutomation replaces an automation's definition. Position,
// creation time and last-fired time are kept by the registry.
func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := automationID(w, r)
	if !ok {
		return
	}

	var a automation.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	a.ID = id // path wins over body

	if err := s.registry.Update(r.Context(), &a); err != nil {
		if errors.Is(err, automation.ErrAutomationNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		if isValidationError(err) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("failed to update automation", "id", id, "error", err)
		writeInternalError(w, "failed to update automation")
		return
	}

	s.auditLog(audit.ActionUpdate, id, map[string]any{"name": a.Name})

	updated, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to get automation")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteAutomation removes an automation, cancelling any run in flight.
func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := automationID(w, r)
	if !ok {
		return
	}

	if err := s.registry.Delete(r.Context(), id); err != nil {
		if errors.Is(err, automation.ErrAutomationNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		s.logger.Error("failed to delete automation", "id", id, "error", err)
		writeInternalError(w, "failed to delete automation")
		return
	}

	s.auditLog(audit.ActionDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// enabledRequest is the request body for PUT /automations/{id}/enabled.
type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleSetEnabled enables or disables an automation.
func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := automationID(w, r)
	if !ok {
		return
	}

	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	if err := s.registry.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		if errors.Is(err, automation.ErrAutomationNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		s.logger.Error("failed to set automation enabled", "id", id, "error", err)
		writeInternalError(w, "failed to update automation")
		return
	}

	action := audit.ActionDisable
	if *req.Enabled {
		action = audit.ActionEnable
	}
	s.auditLog(action, id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *req.Enabled})
}

// handleTriggerAutomation fires an automation without evaluating its
// condition. The response is 202 Accepted when a run started; delayed
// actions complete after the response is written.
func (s *Server) handleTriggerAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := automationID(w, r)
	if !ok {
		return
	}

	fired, err := s.registry.Trigger(r.Context(), id, s.snapshot())
	if err != nil {
		if errors.Is(err, automation.ErrAutomationNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		if errors.Is(err, automation.ErrAutomationDisabled) {
			writeConflict(w, "automation is disabled")
			return
		}
		writeInternalError(w, "failed to trigger automation")
		return
	}

	if !fired {
		writeJSON(w, http.StatusConflict, map[string]any{
			"id":     id,
			"status": "skipped",
			"reason": "already running",
		})
		return
	}

	s.auditLog(audit.ActionTrigger, id, nil)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"status": "accepted",
	})
}

// handleListAutomationExecutions returns the execution log for one automation.
func (s *Server) handleListAutomationExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := automationID(w, r)
	if !ok {
		return
	}
	if _, err := s.registry.Get(r.Context(), id); err != nil {
		if errors.Is(err, automation.ErrAutomationNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		writeInternalError(w, "failed to get automation")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries := s.registry.Log().ForAutomation(id, limit)
	if entries == nil {
		entries = []automation.ExecutionLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": entries, "count": len(entries)})
}

// parseLimit reads the optional limit query parameter. Zero means no limit.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 || limit > maxExecutionLimit {
		writeBadRequest(w, "limit must be between 0 and 1000")
		return 0, false
	}
	return limit, true
}
