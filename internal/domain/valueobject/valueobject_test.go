package valueobject

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name   string
		state  WorkflowState
		action Action
		role   Role
		want   WorkflowState
	}{
		{"helper accepts", StateRequested, ActionAccept, RoleHelper, StateAccepted},
		{"helper declines", StateRequested, ActionDecline, RoleHelper, StateDeclined},
		{"helper starts", StateAccepted, ActionStart, RoleHelper, StateInProgress},
		{"helper completes", StateInProgress, ActionComplete, RoleHelper, StateCompleted},
		{"requester confirms", StateCompleted, ActionConfirm, RoleRequester, StateConfirmed},
		{"requester cancels open", StateRequested, ActionCancel, RoleRequester, StateCancelled},
		{"requester cancels in progress", StateInProgress, ActionCancel, RoleRequester, StateCancelled},
		{"requester relists declined", StateDeclined, ActionRelist, RoleRequester, StateRequested},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Next(tt.state, tt.action, tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestNext_Forbidden(t *testing.T) {
	tests := []struct {
		name   string
		state  WorkflowState
		action Action
		role   Role
	}{
		{"requester cannot accept", StateRequested, ActionAccept, RoleRequester},
		{"helper cannot confirm", StateCompleted, ActionConfirm, RoleHelper},
		{"no cancel after completion", StateCompleted, ActionCancel, RoleRequester},
		{"no cancel after confirmation", StateConfirmed, ActionCancel, RoleRequester},
		{"admin does not drive workflow", StateRequested, ActionAccept, RoleAdmin},
		{"system does not drive workflow", StateAccepted, ActionStart, RoleSystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Next(tt.state, tt.action, tt.role)
			assert.True(t, apperror.Is(err, apperror.ErrCodeForbidden))
		})
	}
}

func TestCanDispute(t *testing.T) {
	assert.True(t, CanDispute(StateRequested, RoleRequester))
	assert.False(t, CanDispute(StateRequested, RoleHelper))
	assert.True(t, CanDispute(StateCompleted, RoleHelper))
	assert.False(t, CanDispute(StateConfirmed, RoleRequester))
	assert.False(t, CanDispute(StateCancelled, RoleHelper))
	assert.False(t, CanDispute(StateInProgress, RoleAdmin))
}

func TestAvailableActions(t *testing.T) {
	assert.Equal(t, []Action{ActionAccept, ActionDecline}, AvailableActions(StateRequested, RoleHelper))
	assert.Equal(t, []Action{ActionCancel, ActionDispute}, AvailableActions(StateRequested, RoleRequester))
	assert.Equal(t, []Action{ActionCancel, ActionRelist}, AvailableActions(StateDeclined, RoleRequester))
	assert.Equal(t, []Action{ActionConfirm, ActionDispute}, AvailableActions(StateCompleted, RoleRequester))
	assert.Empty(t, AvailableActions(StateConfirmed, RoleHelper))
	assert.Equal(t, []Action{ActionRefund, ActionRelease}, AvailableActions(StateCancelled, RoleAdmin))
}

func TestRoleMay(t *testing.T) {
	assert.True(t, RoleMay(ActionAccept, RoleHelper))
	assert.False(t, RoleMay(ActionAccept, RoleRequester))
	assert.True(t, RoleMay(ActionDispute, RoleHelper))
	assert.True(t, RoleMay(ActionRelease, RoleAdmin))
	assert.False(t, RoleMay(ActionRelease, RoleRequester))
	assert.False(t, RoleMay(ActionCancel, RoleSystem))
}

func TestEscrowState_CanTransitionTo(t *testing.T) {
	assert.True(t, EscrowNone.CanTransitionTo(EscrowHeld))
	assert.False(t, EscrowNone.CanTransitionTo(EscrowReleased))
	assert.True(t, EscrowHeld.CanTransitionTo(EscrowReleased))
	assert.True(t, EscrowHeld.CanTransitionTo(EscrowRefunded))
	assert.False(t, EscrowReleased.CanTransitionTo(EscrowRefunded))
	assert.False(t, EscrowRefunded.CanTransitionTo(EscrowHeld))
	assert.True(t, EscrowReleased.IsTerminal())
	assert.False(t, EscrowHeld.IsTerminal())
}

func TestSplitAmount(t *testing.T) {
	tests := []struct {
		amount int64
		share  int64
		fee    int64
	}{
		{amount: 100000, share: 90000, fee: 10000},
		{amount: 1, share: 0, fee: 1},
		{amount: 15, share: 13, fee: 2},
		{amount: 99999, share: 89999, fee: 10000},
	}

	for _, tt := range tests {
		share, fee := SplitAmount(tt.amount)
		assert.Equal(t, tt.share, share, "amount %d", tt.amount)
		assert.Equal(t, tt.fee, fee, "amount %d", tt.amount)
		assert.Equal(t, tt.amount, share+fee)
	}
}

func TestNewAmount(t *testing.T) {
	_, err := NewAmount(0)
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)
	_, err = NewAmount(-5)
	assert.ErrorIs(t, err, apperror.ErrInvalidAmount)

	a, err := NewAmount(500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), a.Int64())
}

func TestNewActor(t *testing.T) {
	actor, err := NewActor(uuid.New(), "helper")
	require.NoError(t, err)
	assert.True(t, actor.Is(RoleHelper))

	_, err = NewActor(uuid.Nil, "helper")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = NewActor(uuid.New(), "system")
	assert.True(t, apperror.Is(err, apperror.ErrCodeForbidden))

	_, err = NewActor(uuid.New(), "superuser")
	assert.True(t, apperror.Is(err, apperror.ErrCodeForbidden))
}

func TestNewRail(t *testing.T) {
	rail, err := NewRail("manual_transfer")
	require.NoError(t, err)
	assert.Equal(t, TrustLow, rail.DefaultTrust())
	assert.Equal(t, TrustStandard, RailCard.DefaultTrust())

	_, err = NewRail("crypto")
	assert.True(t, apperror.IsValidation(err))
}
