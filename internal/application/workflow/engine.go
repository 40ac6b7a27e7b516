package workflow

import (
	"context"

	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// TransitionEngine is the only component that mutates workflow instances
type TransitionEngine interface {
	// Start creates an instance for the payment request and advances it to the
	// first approval step (or END). Starting a payment request that already
	// has an active instance returns that instance.
	Start(ctx context.Context, def *entity.WorkflowDefinition, paymentRequestID string) (*entity.WorkflowInstance, error)

	// Apply applies an approver's decision to the instance's current step
	Apply(ctx context.Context, instanceID string, decision entity.Decision) (*entity.WorkflowInstance, error)

	// Cancel stops a non-terminal instance on behalf of an administrator
	Cancel(ctx context.Context, instanceID string, actor entity.Identity) (*entity.WorkflowInstance, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
