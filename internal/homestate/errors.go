package homestate

import "errors"

var (
	// ErrInvalidPayload is returned for messages that cannot be decoded.
	ErrInvalidPayload = errors.New("homestate: invalid payload")

	// ErrUnknownTopic is returned for topics the store does not handle.
	ErrUnknownTopic = errors.New("homestate: unknown topic")
)
