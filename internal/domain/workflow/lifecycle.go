package workflow

import "context"

type endReachedKey struct{}

// WithEndReached marks ctx as firing from the END node. APPROVE and
// COMPLETE are only permitted under such a context.
func WithEndReached(ctx context.Context) context.Context {
	return context.WithValue(ctx, endReachedKey{}, true)
}

func endReached(ctx context.Context) bool {
	reached, _ := ctx.Value(endReachedKey{}).(bool)
	return reached
}

// BuildInstanceStateMachine creates the instance lifecycle machine:
// PENDING → RUNNING → {APPROVED → COMPLETED | REJECTED | FAILED}, with
// CANCELLED reachable from PENDING and RUNNING.
func BuildInstanceStateMachine(initialState State) StateMachine {
	builder := NewBuilder()

	builder.Configure(StatePending).
		Permit(TriggerStart, StateRunning).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerCancel, StateCancelled)

	builder.Configure(StateRunning).
		PermitIf(TriggerApprove, StateApproved, endReached).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerCancel, StateCancelled)

	// APPROVED is transient: the END node completes in the same call
	builder.Configure(StateApproved).
		PermitIf(TriggerComplete, StateCompleted, endReached).
		Permit(TriggerFail, StateFailed)

	// REJECTED, COMPLETED, CANCELLED and FAILED are terminal

	return builder.Build(initialState)
}
