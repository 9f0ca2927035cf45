package model

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyClaimed    = errors.New("message already claimed")
	ErrLockUnavailable   = errors.New("lock unavailable")

	// ErrConfiguration is fatal for a send and is never retried.
	ErrConfiguration = errors.New("router configuration error")

	ErrTransport        = errors.New("gateway transport error")
	ErrGatewayRejection = errors.New("gateway rejected message")
)

// Retryable reports whether a send failure counts against the attempt budget
// instead of failing the message permanently.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrConfiguration)
}
