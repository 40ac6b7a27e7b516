package workflow

import "github.com/garyjia/payment-approval/internal/domain/entity"

// State represents an instance-level state in the approval lifecycle
type State string

const (
	StatePending   State = entity.StatusPending
	StateRunning   State = entity.StatusRunning
	StateApproved  State = entity.StatusApproved
	StateRejected  State = entity.StatusRejected
	StateCompleted State = entity.StatusCompleted
	StateCancelled State = entity.StatusCancelled
	StateFailed    State = entity.StatusFailed
)

var validStates = map[State]bool{
	StatePending:   true,
	StateRunning:   true,
	StateApproved:  true,
	StateRejected:  true,
	StateCompleted: true,
	StateCancelled: true,
	StateFailed:    true,
}

var terminalStates = map[State]bool{
	StateRejected:  true,
	StateCompleted: true,
	StateCancelled: true,
	StateFailed:    true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
