package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
)

// Evaluator runs one evaluation cycle. *automation.Registry satisfies it.
type Evaluator interface {
	EvaluateAll(ctx context.Context, evalCtx *automation.EvalContext) automation.CycleReport
}

// StateSource builds the context for a cycle. *homestate.Store satisfies it.
type StateSource interface {
	Snapshot(now time.Time) *automation.EvalContext
}

// Logger is the logging surface the scheduler uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Reason records what started a cycle.
type Reason string

// Cycle reasons.
const (
	ReasonSchedule Reason = "schedule"
	ReasonEvent    Reason = "event"
	ReasonManual   Reason = "manual"
)

// Cycle is the outcome of one evaluation pass.
type Cycle struct {
	Reason    Reason
	StartedAt time.Time
	Duration  time.Duration
	Report    automation.CycleReport
}

// Config controls when cycles run.
type Config struct {
	// Schedule is a standard cron spec or descriptor ("@every 30s").
	// Empty disables periodic cycles.
	Schedule string

	// Debounce delays event-triggered cycles so bursts coalesce.
	Debounce time.Duration

	// Location is the timezone cron specs are interpreted in.
	Location *time.Location
}

// Scheduler serializes evaluation cycles from all sources.
type Scheduler struct {
	eval     Evaluator
	state    StateSource
	cron     *cron.Cron
	entryID  cron.EntryID
	debounce time.Duration
	logger   Logger
	now      func() time.Time

	cycleMu  sync.Mutex
	requests chan struct{}
	cycles   atomic.Uint64

	observerMu sync.RWMutex
	observers  []func(Cycle)

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	wg          sync.WaitGroup
}

// New creates a scheduler. It does not run anything until Start.
func New(eval Evaluator, state StateSource, cfg Config) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	s := &Scheduler{
		eval:     eval,
		state:    state,
		cron:     cron.New(cron.WithLocation(loc)),
		debounce: cfg.Debounce,
		logger:   noopLogger{},
		now:      time.Now,
		requests: make(chan struct{}, 1),
		ctx:      context.Background(),
	}

	if cfg.Schedule != "" {
		id, err := s.cron.AddFunc(cfg.Schedule, func() {
			s.runCycle(s.runContext(), ReasonSchedule)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, cfg.Schedule, err)
		}
		s.entryID = id
	}

	return s, nil
}

// SetLogger replaces the logger. Call before Start.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// OnCycle registers fn to be called after every completed cycle.
func (s *Scheduler) OnCycle(fn func(Cycle)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Start begins the cron schedule and the event loop. Both stop when ctx
// is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.eventLoop(s.ctx)
	s.cron.Start()

	s.logger.Info("scheduler started", "next_run", s.NextRun())
	return nil
}

// Stop halts the schedule and waits for any running cycle to finish.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	if !s.started {
		s.lifecycleMu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.lifecycleMu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped", "cycles", s.cycles.Load())
}

// RequestEvaluation asks for an event-triggered cycle. It never blocks;
// requests made while one is pending are merged into it.
func (s *Scheduler) RequestEvaluation() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// RunNow runs a cycle immediately, waiting for any cycle in progress.
func (s *Scheduler) RunNow(ctx context.Context) Cycle {
	return s.runCycle(ctx, ReasonManual)
}

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

// NextRun returns the next scheduled cycle time, or zero when there is no
// schedule or the scheduler is not running.
func (s *Scheduler) NextRun() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) runContext() context.Context {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.ctx
}

func (s *Scheduler) eventLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.requests:
		}

		if s.debounce > 0 {
			timer := time.NewTimer(s.debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		// Requests that arrived during the debounce window are covered
		// by this cycle.
		select {
		case <-s.requests:
		default:
		}

		s.runCycle(ctx, ReasonEvent)
	}
}

func (s *Scheduler) runCycle(ctx context.Context, reason Reason) Cycle {
	s.cycleMu.Lock()
	started := s.now()
	cycle := Cycle{Reason: reason, StartedAt: started}
	if ctx.Err() != nil {
		s.cycleMu.Unlock()
		return cycle
	}

	cycle.Report = s.eval.EvaluateAll(ctx, s.state.Snapshot(started))
	cycle.Duration = time.Since(started)
	s.cycleMu.Unlock()

	s.cycles.Add(1)
	s.logger.Debug("evaluation cycle complete",
		"reason", string(reason),
		"evaluated", cycle.Report.Evaluated,
		"fired", len(cycle.Report.Fired),
		"skipped", len(cycle.Report.Skipped),
		"duration_ms", cycle.Duration.Milliseconds(),
	)

	s.observerMu.RLock()
	observers := s.observers
	s.observerMu.RUnlock()
	for _, fn := range observers {
		fn(cycle)
	}
	return cycle
}
