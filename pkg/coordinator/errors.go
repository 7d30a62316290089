package coordinator

import (
	"errors"
	"fmt"
)

// Boundary error taxonomy. Input and state errors surface before any
// state mutation; coordination errors are transient and never retried
// internally; persistence errors mean the store is unusable.
var (
	// ErrAgentNotFound is returned when an external agent id does not resolve.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrOrganizationNotFound is returned when an external organization id does not resolve.
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrSessionState is returned when a session is not in the state an operation requires.
	ErrSessionState = errors.New("invalid session state")

	// ErrLockUnavailable is returned when a session or meeting is locked by another caller.
	ErrLockUnavailable = errors.New("lock unavailable")

	// ErrNoHandlerRegistered is returned when an operation requires a handler that is not registered.
	ErrNoHandlerRegistered = errors.New("no handler registered")

	// ErrHandlerTimeout is returned when a handler invocation misses its deadline.
	ErrHandlerTimeout = errors.New("handler timed out")

	// ErrTimeout is returned when a blocking wait expires.
	ErrTimeout = errors.New("timed out waiting for response")

	// ErrMeetingNotFound is returned when a meeting id does not resolve.
	ErrMeetingNotFound = errors.New("meeting not found")

	// ErrMeetingState is returned when a meeting is not in the state an operation requires.
	ErrMeetingState = errors.New("invalid meeting state")

	// ErrMeetingNotActive is returned when speaking into a meeting that is not active.
	ErrMeetingNotActive = errors.New("meeting is not active")

	// ErrNotYourTurn is returned when a participant speaks out of turn.
	ErrNotYourTurn = errors.New("not your turn to speak")

	// ErrMeetingPermission is returned when a non-host invokes a host-only command.
	ErrMeetingPermission = errors.New("operation requires the meeting host")

	// ErrPersistence wraps store failures surfaced at the boundary.
	ErrPersistence = errors.New("persistence error")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// persistenceErr tags a store failure with the boundary sentinel.
func persistenceErr(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
