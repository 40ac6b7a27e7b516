package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateRunning, false},
		{StateApproved, false},
		{StateRejected, true},
		{StateCompleted, true},
		{StateCancelled, true},
		{StateFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.IsTerminal())
		})
	}
}

func TestState_IsValid(t *testing.T) {
	assert.True(t, StateRunning.IsValid())
	assert.True(t, StateFailed.IsValid())
	assert.False(t, State("INVALID").IsValid())
	assert.False(t, State("").IsValid())
}

func TestTrigger_String(t *testing.T) {
	assert.Equal(t, "CANCEL", TriggerCancel.String())
}

func TestBuilder_InvalidStatePanics(t *testing.T) {
	builder := NewBuilder()
	assert.Panics(t, func() { builder.Configure(State("BOGUS")) })
	assert.Panics(t, func() { builder.Configure(StatePending).Permit(TriggerStart, State("BOGUS")) })
	assert.Panics(t, func() { builder.Build(State("")) })
}

func TestBuilder_BuildCopiesConfiguration(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).Permit(TriggerStart, StateRunning)
	sm := builder.Build(StatePending)

	builder.Configure(StatePending).Permit(TriggerCancel, StateCancelled)

	assert.False(t, sm.CanFire(TriggerCancel))
	assert.True(t, sm.CanFire(TriggerStart))
}

func TestStateMachine_Guard(t *testing.T) {
	allow := false
	builder := NewBuilder()
	builder.Configure(StateRunning).
		PermitIf(TriggerApprove, StateApproved, func(ctx context.Context) bool { return allow })
	sm := builder.Build(StateRunning)

	err := sm.Fire(context.Background(), TriggerApprove)
	assert.True(t, errors.Is(err, ErrGuardFailed))
	assert.Equal(t, StateRunning, sm.State())

	allow = true
	require.NoError(t, sm.Fire(context.Background(), TriggerApprove))
	assert.Equal(t, StateApproved, sm.State())
}

func TestInstanceStateMachine_HappyPath(t *testing.T) {
	ctx := context.Background()
	sm := BuildInstanceStateMachine(StatePending)

	require.NoError(t, sm.Fire(ctx, TriggerStart))
	assert.ErrorIs(t, sm.Fire(ctx, TriggerApprove), ErrGuardFailed)
	assert.Equal(t, StateRunning, sm.State())

	endCtx := WithEndReached(ctx)
	require.NoError(t, sm.Fire(endCtx, TriggerApprove))
	assert.Equal(t, StateApproved, sm.State())
	assert.ErrorIs(t, sm.Fire(ctx, TriggerComplete), ErrGuardFailed)
	require.NoError(t, sm.Fire(endCtx, TriggerComplete))
	assert.Equal(t, StateCompleted, sm.State())
	assert.Empty(t, sm.PermittedTriggers())
}

func TestInstanceStateMachine_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		trigger Trigger
		atEnd   bool
		to      State
		wantErr error
	}{
		{"pending start", StatePending, TriggerStart, false, StateRunning, nil},
		{"pending cancel", StatePending, TriggerCancel, false, StateCancelled, nil},
		{"pending fail", StatePending, TriggerFail, false, StateFailed, nil},
		{"pending approve", StatePending, TriggerApprove, true, StatePending, ErrInvalidTransition},
		{"running approve at end", StateRunning, TriggerApprove, true, StateApproved, nil},
		{"running approve before end", StateRunning, TriggerApprove, false, StateRunning, ErrGuardFailed},
		{"running reject", StateRunning, TriggerReject, false, StateRejected, nil},
		{"running fail", StateRunning, TriggerFail, false, StateFailed, nil},
		{"running cancel", StateRunning, TriggerCancel, false, StateCancelled, nil},
		{"running complete", StateRunning, TriggerComplete, true, StateRunning, ErrInvalidTransition},
		{"approved complete", StateApproved, TriggerComplete, true, StateCompleted, nil},
		{"approved complete before end", StateApproved, TriggerComplete, false, StateApproved, ErrGuardFailed},
		{"approved cancel", StateApproved, TriggerCancel, false, StateApproved, ErrInvalidTransition},
		{"rejected cancel", StateRejected, TriggerCancel, false, StateRejected, ErrInvalidTransition},
		{"completed cancel", StateCompleted, TriggerCancel, false, StateCompleted, ErrInvalidTransition},
		{"cancelled start", StateCancelled, TriggerStart, false, StateCancelled, ErrInvalidTransition},
		{"failed cancel", StateFailed, TriggerCancel, false, StateFailed, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.atEnd {
				ctx = WithEndReached(ctx)
			}
			sm := BuildInstanceStateMachine(tt.from)
			err := sm.Fire(ctx, tt.trigger)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.to, sm.State())
		})
	}
}

func TestInstanceStateMachine_PermittedTriggersSorted(t *testing.T) {
	sm := BuildInstanceStateMachine(StateRunning)
	assert.Equal(t, []Trigger{TriggerApprove, TriggerCancel, TriggerFail, TriggerReject}, sm.PermittedTriggers())
}
