package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/audit"
	"github.com/nerrad567/gray-logic-rules/internal/automation"
)

// cycleResponse is the body returned by POST /evaluate.
type cycleResponse struct {
	Reason     string   `json:"reason"`
	StartedAt  string   `json:"started_at"`
	DurationMS int64    `json:"duration_ms"`
	Evaluated  int      `json:"evaluated"`
	Fired      []string `json:"fired"`
	Skipped    []string `json:"skipped"`
}

// handleEvaluate runs one evaluation cycle against the current home state.
// It waits for any scheduled cycle in progress.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "scheduler not available")
		return
	}

	cycle := s.scheduler.RunNow(r.Context())
	fired, skipped := cycle.Report.Fired, cycle.Report.Skipped
	if fired == nil {
		fired = []string{}
	}
	if skipped == nil {
		skipped = []string{}
	}

	writeJSON(w, http.StatusOK, cycleResponse{
		Reason:     string(cycle.Reason),
		StartedAt:  cycle.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMS: cycle.Duration.Milliseconds(),
		Evaluated:  cycle.Report.Evaluated,
		Fired:      fired,
		Skipped:    skipped,
	})
}

// handleListExecutions returns the execution log, newest first.
//
// Query parameters:
//   - automation_id: only entries for this automation
//   - limit: maximum number of entries (0 or absent for all)
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	var entries []automation.ExecutionLogEntry
	if id := r.URL.Query().Get("automation_id"); id != "" {
		if len(id) > maxQueryParamLen {
			writeBadRequest(w, "automation_id exceeds maximum length")
			return
		}
		entries = s.registry.Log().ForAutomation(id, limit)
	} else {
		entries = s.registry.Log().Entries()
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
	}

	if entries == nil {
		entries = []automation.ExecutionLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": entries,
		"count":      len(entries),
		"capacity":   s.registry.Log().Capacity(),
	})
}

// stateResponse is the JSON form of an evaluation context.
type stateResponse struct {
	Now              time.Time                 `json:"now"`
	Home             automation.Coordinate     `json:"home"`
	Location         *automation.Coordinate    `json:"location"`
	PreviousLocation *automation.Coordinate    `json:"previous_location"`
	Sensors          map[string]map[string]any `json:"sensors"`
	Devices          map[string]bool           `json:"devices"`
	Weather          *string                   `json:"weather"`
	Occupied         bool                      `json:"occupied"`
}

// handleGetState returns the context the next cycle would see.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	ctx := s.snapshot()
	writeJSON(w, http.StatusOK, stateResponse{
		Now:              ctx.Now.UTC(),
		Home:             ctx.Home,
		Location:         ctx.Location,
		PreviousLocation: ctx.PreviousLocation,
		Sensors:          ctx.Sensors,
		Devices:          ctx.Devices,
		Weather:          ctx.Weather,
		Occupied:         ctx.Occupied,
	})
}

// handleExport returns the registry as a downloadable JSON document.
func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	data, err := s.registry.Serialize()
	if err != nil {
		s.logger.Error("failed to serialize registry", "error", err)
		writeInternalError(w, "failed to export automations")
		return
	}

	filename := fmt.Sprintf("automations-%s.json", s.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(data)
}

// handleImport replaces the registry with an exported document. Runs in
// flight are cancelled.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}

	if err := s.registry.Deserialize(r.Context(), data); err != nil {
		if errors.Is(err, automation.ErrInvalidDocument) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("failed to import automations", "error", err)
		writeInternalError(w, "failed to import automations")
		return
	}

	s.auditLog(audit.ActionImport, "", map[string]any{"automations": s.registry.Count()})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "imported",
		"automations": s.registry.Count(),
		"executions":  s.registry.Log().Len(),
	})
}

// parseRequest is the request body for POST /conditions/parse and
// POST /conditions/evaluate.
type parseRequest struct {
	Expression string `json:"expression"`
}

// handleParseCondition compiles a condition expression without storing it,
// so clients can check what an expression means before saving it.
func (s *Server) handleParseCondition(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	group, err := automation.ParseCondition(req.Expression)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	warnings := automation.ConditionWarnings(group)
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"condition": group,
		"warnings":  warnings,
		"matches":   automation.Evaluate(group, s.snapshot()),
	})
}

// handleEvaluateCondition evaluates an expression against the current home
// state. A malformed expression is not an error here: it fails closed and
// reports matches=false, as a stored rule would.
func (s *Server) handleEvaluateCondition(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"expression": req.Expression,
		"matches":    s.registry.EvaluateExpression(req.Expression, s.snapshot()),
	})
}
