package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowStarted   Type = "workflow.started"
	TypeStepStarted       Type = "step.started"
	TypeStepCompleted     Type = "step.completed"
	TypeWorkflowRejected  Type = "workflow.rejected"
	TypeWorkflowFailed    Type = "workflow.failed"
	TypeWorkflowCancelled Type = "workflow.cancelled"
	TypeWorkflowCompleted Type = "workflow.completed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowStarted,
		TypeStepStarted,
		TypeStepCompleted,
		TypeWorkflowRejected,
		TypeWorkflowFailed,
		TypeWorkflowCancelled,
		TypeWorkflowCompleted:
		return true
	default:
		return false
	}
}
