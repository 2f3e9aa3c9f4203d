package models

import "errors"

// Application-wide standard errors
var (
	// Validation
	ErrInvalidInput   = errors.New("invalid input data")
	ErrEmptyMessage   = errors.New("message content is empty")
	ErrMessageTooLong = errors.New("message content is too long")

	// Access
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrConversationNotFound = errors.New("conversation not found")

	// Infrastructure
	ErrCoordinationUnavailable = errors.New("coordination store unavailable")
	ErrDurableStoreUnavailable = errors.New("durable message store unavailable")
	ErrDispatchUnavailable     = errors.New("generation could not be scheduled")

	// Token Errors
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")
)

// Sanitized messages stored in Task.Error. Provider error text never leaves the worker.
const (
	TaskErrorGenerationFailed = "generation failed"
	TaskErrorNotScheduled     = "generation could not be scheduled"
)
