package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
)

// countingEvaluator records every cycle's context.
type countingEvaluator struct {
	mu       sync.Mutex
	contexts []*automation.EvalContext
	active   int
	overlap  bool
	hold     time.Duration
}

func (e *countingEvaluator) EvaluateAll(_ context.Context, evalCtx *automation.EvalContext) automation.CycleReport {
	e.mu.Lock()
	e.active++
	if e.active > 1 {
		e.overlap = true
	}
	e.contexts = append(e.contexts, evalCtx)
	e.mu.Unlock()

	time.Sleep(e.hold)

	e.mu.Lock()
	e.active--
	e.mu.Unlock()
	return automation.CycleReport{Evaluated: 2, Fired: []string{"a"}}
}

func (e *countingEvaluator) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.contexts)
}

type fixedState struct{ occupied bool }

func (f fixedState) Snapshot(now time.Time) *automation.EvalContext {
	return &automation.EvalContext{Now: now, Occupied: f.occupied}
}

func newTestScheduler(t *testing.T, eval Evaluator, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(eval, fixedState{occupied: true}, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(&countingEvaluator{}, fixedState{}, Config{Schedule: "whenever"})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestRunNow(t *testing.T) {
	eval := &countingEvaluator{}
	s := newTestScheduler(t, eval, Config{})
	fixed := time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	var observed []Cycle
	s.OnCycle(func(c Cycle) { observed = append(observed, c) })

	cycle := s.RunNow(context.Background())

	assert.Equal(t, ReasonManual, cycle.Reason)
	assert.Equal(t, fixed, cycle.StartedAt)
	assert.Equal(t, 2, cycle.Report.Evaluated)
	assert.Equal(t, []string{"a"}, cycle.Report.Fired)
	require.Len(t, observed, 1)
	assert.Equal(t, cycle, observed[0])
	assert.Equal(t, uint64(1), s.Cycles())

	require.Equal(t, 1, eval.calls())
	assert.Equal(t, fixed, eval.contexts[0].Now, "snapshot is taken at cycle start")
	assert.True(t, eval.contexts[0].Occupied)
}

func TestRunNow_CancelledContext(t *testing.T) {
	eval := &countingEvaluator{}
	s := newTestScheduler(t, eval, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunNow(ctx)

	assert.Zero(t, eval.calls())
	assert.Zero(t, s.Cycles())
}

func TestRequestEvaluation_Coalesces(t *testing.T) {
	eval := &countingEvaluator{}
	s := newTestScheduler(t, eval, Config{Debounce: 100 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))

	for _i := 0; _i < 20; _i++ {
		s.RequestEvaluation()
	}

	require.Eventually(t, func() bool { return eval.calls() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, eval.calls(), "a burst produces one cycle")

	s.RequestEvaluation()
	require.Eventually(t, func() bool { return eval.calls() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestRequestEvaluation_BeforeStart(t *testing.T) {
	eval := &countingEvaluator{}
	s := newTestScheduler(t, eval, Config{})

	s.RequestEvaluation()
	assert.Zero(t, eval.calls())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return eval.calls() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduleRunsCycles(t *testing.T) {
	eval := &countingEvaluator{}
	s := newTestScheduler(t, eval, Config{Schedule: "@every 1s", Location: time.UTC})

	var mu sync.Mutex
	var reasons []Reason
	s.OnCycle(func(c Cycle) {
		mu.Lock()
		reasons = append(reasons, c.Reason)
		mu.Unlock()
	})

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.NextRun().IsZero())

	require.Eventually(t, func() bool { return eval.calls() >= 1 }, 3*time.Second, 20*time.Millisecond)
	mu.Lock()
	assert.Equal(t, ReasonSchedule, reasons[0])
	mu.Unlock()
}

func TestCyclesNeverOverlap(t *testing.T) {
	eval := &countingEvaluator{hold: 30 * time.Millisecond}
	s := newTestScheduler(t, eval, Config{})
	require.NoError(t, s.Start(context.Background()))

	var wg sync.WaitGroup
	for _i := 0; _i < 5; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunNow(context.Background())
		}()
		s.RequestEvaluation()
	}
	wg.Wait()

	eval.mu.Lock()
	defer eval.mu.Unlock()
	assert.False(t, eval.overlap)
}

func TestStartStop(t *testing.T) {
	eval := &countingEvaluator{}
	s := newTestScheduler(t, eval, Config{Debounce: 50 * time.Millisecond})

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	s.Stop()
	s.Stop()

	s.RequestEvaluation()
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, eval.calls(), "no event cycles after Stop")
}

func TestNextRun_NoSchedule(t *testing.T) {
	s := newTestScheduler(t, &countingEvaluator{}, Config{})
	assert.True(t, s.NextRun().IsZero())
}
