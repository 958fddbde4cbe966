package automation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry and Executor.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// errAlreadyRunning is the message recorded for firings skipped because
// the automation still has a run in flight.
const errAlreadyRunning = "already running"

// persistTimeout bounds repository writes made from run completions,
// which have no caller context.
const persistTimeout = 5 * time.Second

// CycleReport summarises one EvaluateAll pass.
type CycleReport struct {
	Evaluated int      `json:"evaluated"`
	Fired     []string `json:"fired"`
	Skipped   []string `json:"skipped"`
}

// Registry owns the canonical list of automations, fires them through an
// Executor and records every run in an ExecutionLog.
//
// Automations are kept in insertion order, which is also evaluation order.
// Create, Update, Delete, SetEnabled, EvaluateAll, Trigger and Deserialize
// are serialized by a single mutex. In-flight markers are guarded by a
// separate lock so that runs finishing on timer goroutines never wait for
// an evaluation in progress.
//
// Runs are bound to the Registry's lifetime, not to the context of the
// call that fired them; Close cancels any that are still pending.
//
// All public methods are thread-safe.
type Registry struct {
	repo     Repository // optional
	executor *Executor
	log      *ExecutionLog
	logger   Logger
	now      func() time.Time

	mu          sync.RWMutex
	automations []*Automation
	index       map[string]*Automation

	flightMu sync.Mutex
	inflight map[string]*Run // nil value: reserved, run starting

	observerMu sync.RWMutex
	observers  []func(ExecutionLogEntry)

	runCtx  context.Context
	stopAll context.CancelFunc
}

// NewRegistry creates a new automation registry.
//
// Parameters:
//   - repo: Persistence; nil for a purely in-memory registry
//   - executor: Runs fired action lists; nil creates one with no actuator
//   - log: Execution log; nil creates one with DefaultLogCapacity
//
// Returns:
//   - *Registry: Empty registry; call RefreshCache to load from repo
func NewRegistry(repo Repository, executor *Executor, log *ExecutionLog) *Registry {
	if executor == nil {
		executor = NewExecutor(nil, nil)
	}
	if log == nil {
		log = NewExecutionLog(DefaultLogCapacity)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		repo:     repo,
		executor: executor,
		log:      log,
		logger:   noopLogger{},
		now:      time.Now,
		index:    make(map[string]*Automation),
		inflight: make(map[string]*Run),
		runCtx:   ctx,
		stopAll:  cancel,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetClock replaces the clock used for creation and firing timestamps.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// OnExecution registers fn to receive every entry appended to the
// execution log. Observers run on the goroutine that finished the run and
// must not block.
func (r *Registry) OnExecution(fn func(ExecutionLogEntry)) {
	r.observerMu.Lock()
	r.observers = append(r.observers, fn)
	r.observerMu.Unlock()
}

// Log returns the registry's execution log.
func (r *Registry) Log() *ExecutionLog {
	return r.log
}

// RefreshCache reloads automations and recent log entries from the
// repository. This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	list, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}
	entries, err := r.repo.ListExecutions(ctx, "", r.log.Capacity())
	if err != nil {
		return fmt.Errorf("loading execution log: %w", err)
	}

	r.mu.Lock()
	r.cancelAll()
	r.replaceLocked(list)
	r.mu.Unlock()
	r.log.Replace(entries)

	r.logger.Info("automation cache refreshed", "count", len(list), "executions", len(entries))
	return nil
}

// Get retrieves an automation by ID.
// The returned automation is a deep copy; callers can safely modify it.
func (r *Registry) Get(_ context.Context, id string) (*Automation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.index[id]
	if !ok {
		return nil, ErrAutomationNotFound
	}
	return a.DeepCopy(), nil
}

// List returns deep copies of all automations in evaluation order.
func (r *Registry) List(_ context.Context) []Automation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Automation, 0, len(r.automations))
	for _, a := range r.automations {
		out = append(out, *a.DeepCopy())
	}
	return out
}

// Count returns the number of automations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.automations)
}

// InFlight reports whether the automation has a run that has not finished.
func (r *Registry) InFlight(id string) bool {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	_, ok := r.inflight[id]
	return ok
}

// Create validates, persists and registers a new automation.
//
// A missing ID is generated and written back to a. When ConditionExpr is
// set it is compiled and replaces Condition. LastFiredAt is always cleared:
// only the Registry records firings.
func (r *Registry) Create(ctx context.Context, a *Automation) error {
	if a == nil {
		return ErrInvalidAutomation
	}
	if a.ID == "" {
		a.ID = GenerateID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now().UTC()
	}
	a.LastFiredAt = nil

	if err := r.prepare(a); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[a.ID]; exists {
		return ErrAutomationExists
	}
	if r.repo != nil {
		if err := r.repo.Create(ctx, a); err != nil {
			return err
		}
	}

	stored := a.DeepCopy()
	r.automations = append(r.automations, stored)
	r.index[stored.ID] = stored

	r.logger.Info("automation created", "id", a.ID, "name", a.Name)
	return nil
}

// Update replaces an automation's definition, keeping its position,
// creation time and last-fired time. A run in flight keeps the actions
// it started with; disabling through Update cancels it.
func (r *Registry) Update(ctx context.Context, a *Automation) error {
	if a == nil {
		return ErrInvalidAutomation
	}
	if err := r.prepare(a); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.index[a.ID]
	if !ok {
		return ErrAutomationNotFound
	}
	a.CreatedAt = current.CreatedAt
	a.LastFiredAt = nil
	if current.LastFiredAt != nil {
		t := *current.LastFiredAt
		a.LastFiredAt = &t
	}

	if r.repo != nil {
		if err := r.repo.Update(ctx, a); err != nil {
			return err
		}
	}
	*current = *a.DeepCopy()

	if !a.Enabled {
		r.cancelRun(a.ID)
	}

	r.logger.Info("automation updated", "id", a.ID, "name", a.Name)
	return nil
}

// Delete removes an automation, cancelling any run in flight.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; !ok {
		return ErrAutomationNotFound
	}
	if r.repo != nil {
		if err := r.repo.Delete(ctx, id); err != nil {
			return err
		}
	}

	r.cancelRun(id)
	delete(r.index, id)
	r.automations = slices.DeleteFunc(r.automations, func(a *Automation) bool { return a.ID == id })

	r.logger.Info("automation deleted", "id", id)
	return nil
}

// SetEnabled toggles an automation. Disabling cancels a run in flight and
// releases its marker immediately.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.index[id]
	if !ok {
		return ErrAutomationNotFound
	}
	if current.Enabled == enabled {
		return nil
	}

	updated := current.DeepCopy()
	updated.Enabled = enabled
	if r.repo != nil {
		if err := r.repo.Update(ctx, updated); err != nil {
			return err
		}
	}
	current.Enabled = enabled

	if !enabled {
		r.cancelRun(id)
	}

	r.logger.Info("automation toggled", "id", id, "enabled", enabled)
	return nil
}

// EvaluateAll runs one evaluation cycle: every enabled automation whose
// condition holds for evalCtx is fired, in insertion order. A firing for
// an automation that is still running is skipped and logged.
//
// EvaluateAll returns once every fired run has completed or suspended on
// a Delay; it never waits for delays to elapse. A failure in one
// automation never stops evaluation of the others.
//
// Parameters:
//   - ctx: Passed to repository writes
//   - evalCtx: Snapshot of home state; nil evaluates nothing
//
// Returns:
//   - CycleReport: IDs fired and skipped, in evaluation order
func (r *Registry) EvaluateAll(ctx context.Context, evalCtx *EvalContext) CycleReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := CycleReport{Fired: []string{}, Skipped: []string{}}
	if evalCtx == nil {
		return report
	}

	for _, a := range r.automations {
		if !a.Enabled {
			continue
		}
		report.Evaluated++
		if !Evaluate(a.Condition, evalCtx) {
			continue
		}
		if r.fireLocked(ctx, a, evalCtx) {
			report.Fired = append(report.Fired, a.ID)
		} else {
			report.Skipped = append(report.Skipped, a.ID)
		}
	}

	if len(report.Fired) > 0 || len(report.Skipped) > 0 {
		r.logger.Debug("evaluation cycle complete",
			"evaluated", report.Evaluated,
			"fired", len(report.Fired),
			"skipped", len(report.Skipped),
		)
	}
	return report
}

// Trigger fires an automation without evaluating its condition. Single
// flight still applies: it reports false when the firing was skipped.
func (r *Registry) Trigger(ctx context.Context, id string, evalCtx *EvalContext) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.index[id]
	if !ok {
		return false, ErrAutomationNotFound
	}
	if !a.Enabled {
		return false, ErrAutomationDisabled
	}
	if evalCtx == nil {
		evalCtx = &EvalContext{Now: r.now()}
	}
	return r.fireLocked(ctx, a, evalCtx), nil
}

// Serialize encodes the automations and execution log as a JSON Document.
func (r *Registry) Serialize() ([]byte, error) {
	return MarshalDocument(r.Snapshot())
}

// Snapshot returns the registry state as a Document.
func (r *Registry) Snapshot() Document {
	return Document{
		Version:     DocumentVersion,
		Automations: r.List(context.Background()),
		Executions:  r.log.Entries(),
	}
}

// Deserialize replaces the registry state with a serialized Document.
// Runs in flight are cancelled first. When a repository is configured the
// restored state is persisted as well.
func (r *Registry) Deserialize(ctx context.Context, data []byte) error {
	doc, err := UnmarshalDocument(data)
	if err != nil {
		return err
	}
	return r.Restore(ctx, doc)
}

// Restore replaces the registry state with doc.
//
// Pending runs are cancelled while r.mu is held, so no firing can slip in
// between the cancellation and the swap.
func (r *Registry) Restore(ctx context.Context, doc Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelAll()

	if r.repo != nil {
		if err := r.repo.ReplaceAll(ctx, doc.Automations, doc.Executions); err != nil {
			return fmt.Errorf("persisting document: %w", err)
		}
	}
	r.replaceLocked(doc.Automations)
	r.log.Replace(doc.Executions)

	r.logger.Info("automation registry restored",
		"automations", len(doc.Automations),
		"executions", len(doc.Executions),
	)
	return nil
}

// Close cancels every pending run. The registry must not be used after.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelAll()
	r.stopAll()
}

// EvaluateExpression compiles and evaluates a condition expression
// against evalCtx. A malformed expression is logged and evaluates false.
func (r *Registry) EvaluateExpression(expr string, evalCtx *EvalContext) bool {
	ok, err := EvaluateExpression(expr, evalCtx)
	if err != nil {
		r.logger.Warn("condition expression rejected", "expression", expr, "error", err)
		return false
	}
	return ok
}

// prepare compiles ConditionExpr and validates a.
func (r *Registry) prepare(a *Automation) error {
	if a.ConditionExpr != "" {
		group, err := ParseCondition(a.ConditionExpr)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCondition, err)
		}
		a.Condition = group
	}
	NormalizeValues(a)
	if err := ValidateAutomation(a); err != nil {
		return err
	}
	for _, w := range AutomationWarnings(a) {
		r.logger.Warn("ambiguous automation condition", "id", a.ID, "name", a.Name, "warning", w)
	}
	return nil
}

// replaceLocked swaps the automation list. r.mu must be held.
func (r *Registry) replaceLocked(list []Automation) {
	r.automations = make([]*Automation, 0, len(list))
	r.index = make(map[string]*Automation, len(list))
	for i := range list {
		a := list[i].DeepCopy()
		r.automations = append(r.automations, a)
		r.index[a.ID] = a
	}
}

// fireLocked dispatches a's actions unless a run is already in flight.
// r.mu must be held. It reports whether a run was started.
func (r *Registry) fireLocked(ctx context.Context, a *Automation, evalCtx *EvalContext) bool {
	now := r.now().UTC()

	r.flightMu.Lock()
	if _, busy := r.inflight[a.ID]; busy {
		r.flightMu.Unlock()
		r.logger.Info("automation already running, firing skipped", "id", a.ID, "name", a.Name)
		r.record(ExecutionLogEntry{
			AutomationID:   a.ID,
			AutomationName: a.Name,
			Timestamp:      now,
			Success:        false,
			ExecutedCount:  0,
			Error:          stringPtr(errAlreadyRunning),
			Skipped:        true,
		})
		return false
	}
	r.inflight[a.ID] = nil
	r.flightMu.Unlock()

	a.LastFiredAt = &now
	if r.repo != nil {
		if err := r.repo.UpdateLastFired(ctx, a.ID, now); err != nil {
			r.logger.Warn("persisting last fired time", "id", a.ID, "error", err)
		}
	}

	id, name := a.ID, a.Name
	r.logger.Info("automation fired", "id", id, "name", name)

	run := r.executor.Start(r.runCtx, id, copyActions(a.Actions), evalCtx, func(res ExecutionResult) {
		r.flightMu.Lock()
		delete(r.inflight, id)
		r.flightMu.Unlock()

		r.record(ExecutionLogEntry{
			AutomationID:   id,
			AutomationName: name,
			Timestamp:      now,
			Success:        res.Success,
			ExecutedCount:  res.ExecutedCount,
			Error:          res.Error,
			Cancelled:      res.Cancelled,
			DurationMS:     r.now().UTC().Sub(now).Milliseconds(),
		})
	})

	// The run may already have finished and released its marker.
	r.flightMu.Lock()
	if _, reserved := r.inflight[id]; reserved {
		r.inflight[id] = run
	}
	r.flightMu.Unlock()
	return true
}

// record appends an entry to the log, persists it and notifies observers.
// It never takes r.mu: completions arrive from timer goroutines.
func (r *Registry) record(entry ExecutionLogEntry) {
	entry.ID = GenerateID()
	r.log.Append(entry)

	if r.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := r.repo.AppendExecution(ctx, &entry, r.log.Capacity()); err != nil {
			r.logger.Warn("persisting execution log entry", "automation_id", entry.AutomationID, "error", err)
		}
		cancel()
	}

	r.observerMu.RLock()
	observers := slices.Clone(r.observers)
	r.observerMu.RUnlock()
	for _, fn := range observers {
		fn(entry)
	}
}

// cancelRun cancels the run for id, if any. The cancellation completes
// synchronously, so the marker is released when cancelRun returns.
func (r *Registry) cancelRun(id string) {
	r.flightMu.Lock()
	run := r.inflight[id]
	r.flightMu.Unlock()

	if run != nil {
		run.Cancel()
	}
}

// cancelAll cancels every run in flight. Callers hold r.mu so that no
// firing is between reserving its marker and publishing its Run.
func (r *Registry) cancelAll() {
	r.flightMu.Lock()
	runs := make([]*Run, 0, len(r.inflight))
	for _, run := range r.inflight {
		if run != nil {
			runs = append(runs, run)
		}
	}
	r.flightMu.Unlock()

	for _, run := range runs {
		run.Cancel()
	}
}
