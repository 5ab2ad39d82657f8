package workflow

import "errors"

// Transition errors.
var (
	ErrInvalidTransition     = errors.New("invalid workflow transition")
	ErrPhaseValidationFailed = errors.New("phase validation failed")
	ErrMaxAttemptsExceeded   = errors.New("max attempts exceeded")
)

// Snapshot and storage errors.
var (
	ErrCorruptState           = errors.New("corrupt workflow state")
	ErrNotFound               = errors.New("workflow state not found")
	ErrConcurrentModification = errors.New("workflow state modified concurrently")
	ErrPersistenceFailure     = errors.New("workflow state persistence failed")
)

// Construction errors.
var (
	ErrInvalidContext = errors.New("invalid workflow context")
)
