package actuator

import "errors"

var (
	// ErrQueueFull is returned when the publish queue has no room.
	ErrQueueFull = errors.New("actuator: command queue full")

	// ErrStopped is returned for requests made after Stop.
	ErrStopped = errors.New("actuator: stopped")

	// ErrRateLimited is returned when a notification exceeds the
	// configured rate.
	ErrRateLimited = errors.New("actuator: notification rate limit exceeded")
)
