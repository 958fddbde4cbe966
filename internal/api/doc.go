// Package api implements the HTTP REST API and WebSocket event stream for
// the Gray Logic rule engine.
//
// This package provides:
//   - REST endpoints for automation CRUD, enable/disable and manual trigger
//   - On-demand evaluation cycles and the execution log
//   - Whole-registry export and import as a JSON document
//   - An audit trail of automation changes (GET /audit)
//   - A WebSocket hub that streams execution, cycle and state events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API is a thin layer over automation.Registry. Writes go through the
// registry so validation, persistence and cache updates stay in one place.
// Evaluation requests go through the scheduler so they never overlap with
// a scheduled cycle.
//
// # Graceful Degradation
//
// The scheduler, home state store and metrics sources are optional. Without
// a scheduler, POST /evaluate returns 503; without a state store, triggers
// run against an empty context; without an audit repository, changes are
// not recorded and GET /audit returns 503.
package api
