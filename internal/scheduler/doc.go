// Package scheduler drives automation evaluation cycles.
//
// Cycles start from three places: a cron schedule (periodic time-window
// checks), state change events (debounced so a burst of MQTT updates
// produces one cycle), and explicit RunNow calls from the API. All three
// paths funnel through one mutex, so the registry never sees two
// EvaluateAll calls at once.
//
// Each cycle takes a fresh homestate snapshot; contexts are never reused
// between cycles.
package scheduler
