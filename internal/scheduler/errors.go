package scheduler

import "errors"

var (
	// ErrInvalidSchedule is returned when the cron spec cannot be parsed.
	ErrInvalidSchedule = errors.New("scheduler: invalid schedule")

	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler: already started")
)
