package influxdb

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
)

// fakeWriter captures points instead of sending them.
type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.points = append(w.points, p)
	w.mu.Unlock()
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writer: w, location: "site-1", connected: true}, w
}

func tags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := make(map[string]any)
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestWriteAutomationRun(t *testing.T) {
	c, w := newTestClient()
	msg := "set_device lamp: offline"
	ts := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

	c.WriteAutomationRun(automation.ExecutionLogEntry{
		ID:            "e1",
		AutomationID:  "a1",
		Timestamp:     ts,
		Success:       false,
		ExecutedCount: 3,
		Error:         &msg,
		DurationMS:    42,
	})

	if len(w.points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(w.points))
	}
	p := w.points[0]
	if p.Name() != measurementAutomationRuns {
		t.Errorf("Name() = %q", p.Name())
	}
	if !p.Time().Equal(ts) {
		t.Errorf("Time() = %v, want entry timestamp %v", p.Time(), ts)
	}

	gotTags := tags(p)
	if gotTags["automation_id"] != "a1" || gotTags["outcome"] != outcomeFailed || gotTags["site"] != "site-1" {
		t.Errorf("tags = %v", gotTags)
	}
	gotFields := fields(p)
	if gotFields["executed_count"] != int64(3) {
		t.Errorf("executed_count = %v (%T)", gotFields["executed_count"], gotFields["executed_count"])
	}
	if gotFields["error"] != msg {
		t.Errorf("error field = %v, want %q", gotFields["error"], msg)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name  string
		entry automation.ExecutionLogEntry
		want  string
	}{
		{"success", automation.ExecutionLogEntry{Success: true}, outcomeSuccess},
		{"failed", automation.ExecutionLogEntry{}, outcomeFailed},
		{"skipped", automation.ExecutionLogEntry{Skipped: true}, outcomeSkipped},
		{"cancelled", automation.ExecutionLogEntry{Cancelled: true}, outcomeCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outcome(tt.entry); got != tt.want {
				t.Errorf("outcome() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteCycle(t *testing.T) {
	c, w := newTestClient()
	c.WriteCycle(automation.CycleReport{Evaluated: 4, Fired: []string{"a"}, Skipped: []string{"b", "c"}}, time.Now())

	if len(w.points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(w.points))
	}
	got := fields(w.points[0])
	if got["evaluated"] != int64(4) || got["fired"] != int64(1) || got["skipped"] != int64(2) {
		t.Errorf("fields = %v", got)
	}
}

func TestWritesDroppedWhenDisconnected(t *testing.T) {
	c, w := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("Close() should flush once, got %d", w.flushes)
	}

	c.WriteAutomationRun(automation.ExecutionLogEntry{AutomationID: "a1"})
	c.WriteCycle(automation.CycleReport{}, time.Now())
	c.Flush()

	if len(w.points) != 0 {
		t.Errorf("expected no points after Close, got %d", len(w.points))
	}
	if w.flushes != 1 {
		t.Errorf("Flush() after Close should be a no-op, got %d flushes", w.flushes)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newTestClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("bucket not found")
	close(errs)
	c.handleWriteErrors(errs)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("error callback not invoked")
	}
}
