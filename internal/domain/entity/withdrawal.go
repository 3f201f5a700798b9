package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalRejected  WithdrawalStatus = "rejected"
)

// Withdrawal запрос исполнителя на вывод выплаченных средств.
type Withdrawal struct {
	ID          uuid.UUID
	HelperID    uuid.UUID
	Amount      int64
	Status      WithdrawalStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

func NewWithdrawal(helperID uuid.UUID, amount int64, now time.Time) (*Withdrawal, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount
	}
	return &Withdrawal{
		ID:        uuid.New(),
		HelperID:  helperID,
		Amount:    amount,
		Status:    WithdrawalPending,
		CreatedAt: now,
	}, nil
}

// Counts: отклонённые выводы не уменьшают доступный баланс.
func (w *Withdrawal) Counts() bool {
	return w.Status != WithdrawalRejected
}

func (w *Withdrawal) Process(approve bool, now time.Time) error {
	if w.Status != WithdrawalPending {
		return apperror.New(apperror.ErrCodeInvalidTransition, "заявка на вывод уже обработана")
	}
	if approve {
		w.Status = WithdrawalCompleted
	} else {
		w.Status = WithdrawalRejected
	}
	w.ProcessedAt = &now
	return nil
}
