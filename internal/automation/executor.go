package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MaxActionDepth bounds how deeply Conditional actions may nest.
const MaxActionDepth = 8

// errCancelled is the message recorded for runs stopped before completion.
const errCancelled = "cancelled"

// ErrNoActuator is reported for emitting actions when no actuator is configured.
var ErrNoActuator = errors.New("automation: no actuator configured")

// Actuator is the external collaborator that turns requests into device,
// scene and notification effects.
//
// Calls are fire-and-forget: a nil error means the request was accepted
// for delivery, not that the device acted on it. Implementations must not
// block waiting for the device.
type Actuator interface {
	SetDevice(ctx context.Context, deviceID string, on bool) error
	ActivateScene(ctx context.Context, sceneID string) error
	Notify(ctx context.Context, message string) error
}

// Executor interprets action lists.
//
// Actions run strictly in order. A Delay never blocks the caller: the rest
// of the list is scheduled as a timer continuation and Start returns.
//
// Thread Safety: Executor is stateless apart from its collaborators and is
// safe for concurrent use. Each Run guards its own state.
type Executor struct {
	actuator Actuator
	logger   Logger
}

// NewExecutor creates an executor emitting requests to actuator.
func NewExecutor(actuator Actuator, logger Logger) *Executor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{actuator: actuator, logger: logger}
}

// frame is one level of the action stack. Conditional actions push a
// frame for their nested list.
type frame struct {
	actions []Action
	next    int
	depth   int
}

// Run is a single, possibly suspended, execution of an action list.
type Run struct {
	exec         *Executor
	automationID string
	evalCtx      *EvalContext
	ctx          context.Context
	cancel       context.CancelFunc
	stopWatch    func() bool
	onDone       func(ExecutionResult)
	started      time.Time

	mu       sync.Mutex
	stack    []frame
	executed int
	failures []string
	timer    *time.Timer
	finished bool
	result   ExecutionResult

	done chan struct{}
}

// Start begins executing actions and returns once the run completes or
// reaches its first Delay. onDone (optional) is called exactly once with
// the final result, before Wait returns.
//
// Cancelling ctx, or calling Run.Cancel, stops a suspended run.
func (e *Executor) Start(ctx context.Context, automationID string, actions []Action, evalCtx *EvalContext, onDone func(ExecutionResult)) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		exec:         e,
		automationID: automationID,
		evalCtx:      evalCtx,
		ctx:          runCtx,
		cancel:       cancel,
		onDone:       onDone,
		started:      time.Now(),
		stack:        []frame{{actions: actions, depth: 1}},
		done:         make(chan struct{}),
	}
	r.stopWatch = context.AfterFunc(runCtx, r.Cancel)
	r.advance()
	return r
}

// Execute runs actions to completion and returns the result. Delays
// suspend only this call, never a shared worker.
func (e *Executor) Execute(ctx context.Context, actions []Action, evalCtx *EvalContext) ExecutionResult {
	return e.Start(ctx, "", actions, evalCtx, nil).Wait()
}

// Wait blocks until the run finishes and returns its result.
func (r *Run) Wait() ExecutionResult {
	<-r.done
	return r.Result()
}

// Done is closed once the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result returns the final result. It is only meaningful after Done.
func (r *Run) Result() ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.result
	res.Error = cloneStringPtr(r.result.Error)
	return res
}

// Elapsed returns the time since the run started.
func (r *Run) Elapsed() time.Duration {
	return time.Since(r.started)
}

// Cancel stops the run if it has not finished. The cancelled result is
// delivered synchronously, so any bookkeeping in onDone has happened by
// the time Cancel returns. A run that is finishing on another goroutine
// is waited for. Cancel must not be called from onDone.
func (r *Run) Cancel() {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		<-r.done
		return
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.finished = true
	r.result = ExecutionResult{
		Success:       false,
		ExecutedCount: r.executed,
		Error:         stringPtr(errCancelled),
		Cancelled:     true,
	}
	r.mu.Unlock()

	r.exec.logger.Info("automation run cancelled",
		"automation_id", r.automationID,
		"executed", r.executed,
	)
	r.complete()
}

// advance runs actions until the list is exhausted or a Delay suspends.
func (r *Run) advance() {
	r.mu.Lock()
	finished := r.step()
	r.mu.Unlock()

	if finished {
		r.complete()
	}
}

// step must be called with r.mu held. It reports whether this call
// finished the run.
func (r *Run) step() bool { //nolint:gocognit // action dispatch: one case per kind
	if r.finished {
		return false
	}
	r.timer = nil

	for len(r.stack) > 0 {
		if r.ctx.Err() != nil {
			// The context watcher delivers the cancelled result.
			return false
		}

		top := &r.stack[len(r.stack)-1]
		if top.next >= len(top.actions) {
			r.stack = r.stack[:len(r.stack)-1]
			continue
		}
		action := top.actions[top.next]
		top.next++
		depth := top.depth

		switch action.Kind {
		case ActionDelay:
			if action.Delay == nil || action.Delay.DurationMS < 0 {
				r.fail(action.Kind, "missing or negative duration")
				continue
			}
			r.executed++
			if d := action.Delay.Duration(); d > 0 {
				r.timer = time.AfterFunc(d, r.advance)
				r.exec.logger.Debug("automation run suspended",
					"automation_id", r.automationID,
					"delay_ms", action.Delay.DurationMS,
				)
				return false
			}

		case ActionConditional:
			r.executed++
			if action.Conditional == nil {
				r.fail(action.Kind, "missing payload")
				continue
			}
			if depth >= MaxActionDepth {
				r.fail(action.Kind, fmt.Sprintf("nesting exceeds %d levels", MaxActionDepth))
				continue
			}
			if Evaluate(action.Conditional.Condition, r.evalCtx) {
				r.stack = append(r.stack, frame{actions: action.Conditional.Actions, depth: depth + 1})
			}

		case ActionSetDevice, ActionActivateScene, ActionNotify:
			r.executed++
			if err := r.emit(action); err != nil {
				r.fail(action.Kind, err.Error())
			}

		default:
			r.executed++
			r.fail(action.Kind, "unsupported action kind")
			r.exec.logger.Warn("skipping unsupported action",
				"automation_id", r.automationID,
				"kind", string(action.Kind),
			)
		}
	}

	r.finished = true
	r.result = ExecutionResult{
		Success:       len(r.failures) == 0,
		ExecutedCount: r.executed,
	}
	if len(r.failures) > 0 {
		r.result.Error = stringPtr(strings.Join(r.failures, "; "))
	}
	return true
}

// emit sends one request to the actuator. It does not wait for the device.
func (r *Run) emit(action Action) error {
	act := r.exec.actuator
	if act == nil {
		return ErrNoActuator
	}

	switch action.Kind {
	case ActionSetDevice:
		if action.SetDevice == nil || action.SetDevice.DeviceID == "" {
			return errors.New("missing device_id")
		}
		if err := act.SetDevice(r.ctx, action.SetDevice.DeviceID, action.SetDevice.On); err != nil {
			return fmt.Errorf("device %q: %w", action.SetDevice.DeviceID, err)
		}
		r.exec.logger.Debug("device command emitted",
			"automation_id", r.automationID,
			"device_id", action.SetDevice.DeviceID,
			"on", action.SetDevice.On,
		)

	case ActionActivateScene:
		if action.ActivateScene == nil || action.ActivateScene.SceneID == "" {
			return errors.New("missing scene_id")
		}
		if err := act.ActivateScene(r.ctx, action.ActivateScene.SceneID); err != nil {
			return fmt.Errorf("scene %q: %w", action.ActivateScene.SceneID, err)
		}
		r.exec.logger.Debug("scene request emitted",
			"automation_id", r.automationID,
			"scene_id", action.ActivateScene.SceneID,
		)

	case ActionNotify:
		if action.Notify == nil {
			return errors.New("missing message")
		}
		if err := act.Notify(r.ctx, action.Notify.Message); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}
	return nil
}

func (r *Run) fail(kind ActionKind, msg string) {
	r.failures = append(r.failures, fmt.Sprintf("%s: %s", kind, msg))
	r.exec.logger.Warn("automation action failed",
		"automation_id", r.automationID,
		"kind", string(kind),
		"error", msg,
	)
}

// complete releases the run's resources and reports the result. It runs
// without r.mu held so onDone may take other locks.
func (r *Run) complete() {
	r.stopWatch()
	r.cancel()
	if r.onDone != nil {
		r.onDone(r.Result())
	}
	close(r.done)
}
