package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
)

// Measurement names.
const (
	measurementAutomationRuns = "automation_runs"
	measurementCycles         = "evaluation_cycles"
)

// Outcome tag values for automation_runs.
const (
	outcomeSuccess   = "success"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
	outcomeCancelled = "cancelled"
)

// WriteAutomationRun records one execution log entry. It matches the
// func(automation.ExecutionLogEntry) signature of Registry.OnExecution.
//
// Tags stay low-cardinality (automation and outcome); the error text is
// a field.
func (c *Client) WriteAutomationRun(entry automation.ExecutionLogEntry) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(automationRunPoint(c.location, entry))
}

// WriteCycle records the counts from one evaluation cycle.
func (c *Client) WriteCycle(report automation.CycleReport, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(cyclePoint(c.location, report, at))
}

func automationRunPoint(site string, entry automation.ExecutionLogEntry) *write.Point {
	fields := map[string]any{
		"executed_count": entry.ExecutedCount,
		"duration_ms":    entry.DurationMS,
		"success":        entry.Success,
	}
	if entry.Error != nil {
		fields["error"] = *entry.Error
	}

	return write.NewPoint(measurementAutomationRuns,
		map[string]string{
			"site":          site,
			"automation_id": entry.AutomationID,
			"outcome":       outcome(entry),
		},
		fields,
		entry.Timestamp,
	)
}

func cyclePoint(site string, report automation.CycleReport, at time.Time) *write.Point {
	return write.NewPoint(measurementCycles,
		map[string]string{"site": site},
		map[string]any{
			"evaluated": report.Evaluated,
			"fired":     len(report.Fired),
			"skipped":   len(report.Skipped),
		},
		at,
	)
}

func outcome(entry automation.ExecutionLogEntry) string {
	switch {
	case entry.Skipped:
		return outcomeSkipped
	case entry.Cancelled:
		return outcomeCancelled
	case entry.Success:
		return outcomeSuccess
	default:
		return outcomeFailed
	}
}
