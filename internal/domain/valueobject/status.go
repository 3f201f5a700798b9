package valueobject

import "github.com/ignatzorin/helper-escrow/internal/pkg/apperror"

// WorkflowState положение заявки в процессе выполнения.
type WorkflowState string

const (
	StateRequested  WorkflowState = "requested"
	StateAccepted   WorkflowState = "accepted"
	StateDeclined   WorkflowState = "declined"
	StateInProgress WorkflowState = "in_progress"
	StateCompleted  WorkflowState = "completed_by_helper"
	StateConfirmed  WorkflowState = "confirmed_by_requester"
	StateDisputed   WorkflowState = "disputed"
	StateCancelled  WorkflowState = "cancelled"
)

func (s WorkflowState) IsValid() bool {
	switch s {
	case StateRequested, StateAccepted, StateDeclined, StateInProgress,
		StateCompleted, StateConfirmed, StateDisputed, StateCancelled:
		return true
	}
	return false
}

// IsTerminal: после этих состояний заявка больше не движется по workflow.
func (s WorkflowState) IsTerminal() bool {
	return s == StateConfirmed || s == StateCancelled
}

// HasHelper сообщает, должен ли в этом состоянии быть назначен исполнитель.
func (s WorkflowState) HasHelper() bool {
	switch s {
	case StateAccepted, StateInProgress, StateCompleted, StateConfirmed:
		return true
	}
	return false
}

func NewWorkflowState(state string) (WorkflowState, error) {
	s := WorkflowState(state)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус заявки")
	}
	return s, nil
}

// EscrowState положение платежа в цикле удержания.
type EscrowState string

const (
	EscrowNone     EscrowState = "none"
	EscrowHeld     EscrowState = "held"
	EscrowReleased EscrowState = "released"
	EscrowRefunded EscrowState = "refunded"
)

func (s EscrowState) IsValid() bool {
	switch s {
	case EscrowNone, EscrowHeld, EscrowReleased, EscrowRefunded:
		return true
	}
	return false
}

func (s EscrowState) IsTerminal() bool {
	return s == EscrowReleased || s == EscrowRefunded
}

// CanTransitionTo: none -> held -> released|refunded, без пропусков.
func (s EscrowState) CanTransitionTo(next EscrowState) bool {
	transitions := map[EscrowState][]EscrowState{
		EscrowNone:     {EscrowHeld},
		EscrowHeld:     {EscrowReleased, EscrowRefunded},
		EscrowReleased: {},
		EscrowRefunded: {},
	}

	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func NewEscrowState(state string) (EscrowState, error) {
	s := EscrowState(state)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус удержания")
	}
	return s, nil
}
