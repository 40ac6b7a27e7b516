package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// Engine errors. Each one maps to a distinct client-facing code.
var (
	ErrInstanceNotFound       = errors.New("workflow instance not found")
	ErrDefinitionNotFound     = errors.New("workflow definition not found")
	ErrInstanceTerminal       = errors.New("workflow instance is in a terminal state")
	ErrNoCurrentNode          = errors.New("workflow instance has no current approval step")
	ErrNotAuthorized          = errors.New("actor is not authorized for this step")
	ErrGraphInvalid           = errors.New("workflow definition graph is invalid")
	ErrConcurrentModification = errors.New("workflow instance was modified concurrently")
	ErrStepFailed             = errors.New("workflow step failed")
)

// Collaborator lookups
var (
	ErrPaymentRequestNotFound = errors.New("payment request not found")
	ErrUserNotFound           = errors.New("user not found")
)
