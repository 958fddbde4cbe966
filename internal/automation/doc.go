// Package automation provides the rule engine for Gray Logic Rules.
//
// An Automation pairs a condition tree with an ordered action list. Each
// evaluation cycle the driving loop builds a fresh EvalContext and calls
// Registry.EvaluateAll; every enabled automation whose condition holds is
// handed to the Executor and its run is recorded in the ExecutionLog.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                 Registry (registry.go)                │
//	│  Owns automations, single-flight markers, log         │
//	│  ┌──────────────┐    ┌───────────────┐                │
//	│  │  Evaluator   │    │  Repository   │                │
//	│  │(evaluator.go)│    │(repository.go)│                │
//	│  └──────────────┘    └───────────────┘                │
//	│        │                                              │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐     │
//	│  │  Executor (executor.go)                      │     │
//	│  │  1. Run actions in order                     │     │
//	│  │  2. Emit requests to the Actuator            │     │
//	│  │  3. Delay: resume on a timer, never block    │     │
//	│  │  4. Conditional: evaluate, run nested inline │     │
//	│  │  5. Report ExecutionResult to the Registry   │     │
//	│  └──────────────────────────────────────────────┘     │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Automation: rule definition (condition tree + actions)
//   - ConditionGroup / Condition: AND/OR/NOT tree of typed leaf predicates
//   - Action: typed step (set device, scene, delay, notify, conditional)
//   - EvalContext: immutable per-cycle snapshot of the home
//   - ExecutionLogEntry: record of one run or skipped firing
//
// Conditions may also be written as text (see ParseCondition); the text is
// compiled once into a ConditionGroup.
//
// # Thread Safety
//
// Registry, Executor and ExecutionLog are safe for concurrent use.
// Evaluate is a pure function.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	exec := automation.NewExecutor(actuator, log)
//	registry := automation.NewRegistry(repo, exec, automation.NewExecutionLog(1000))
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	report := registry.EvaluateAll(ctx, store.Snapshot(time.Now()))
package automation
