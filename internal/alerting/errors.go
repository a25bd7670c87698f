package alerting

import "errors"

// ErrInvalidTransition indicates a state machine violation: the alert exists
// but its current status does not permit the requested transition. Surfaced
// distinctly from database.ErrNotFound so callers can report "already
// resolved" instead of "not found".
var ErrInvalidTransition = errors.New("invalid alert state transition")

// ValidationError indicates malformed input rejected before any persistence
// call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(msg string) error {
	return &ValidationError{Message: msg}
}
