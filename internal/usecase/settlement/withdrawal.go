package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/repository"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/logger"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// WithdrawalService выводы исполнителя в пределах доступного баланса.
type WithdrawalService struct {
	tx          repository.Transactor
	payments    repository.PaymentRepository
	withdrawals repository.WithdrawalRepository
	cache       Cache
	now         func() time.Time
}

func NewWithdrawalService(
	tx repository.Transactor,
	payments repository.PaymentRepository,
	withdrawals repository.WithdrawalRepository,
	c Cache,
) *WithdrawalService {
	return &WithdrawalService{
		tx:          tx,
		payments:    payments,
		withdrawals: withdrawals,
		cache:       c,
		now:         time.Now,
	}
}

// Request создаёт вывод. Баланс пересчитывается под блокировкой исполнителя,
// поэтому параллельные выводы не превышают доступную сумму.
func (s *WithdrawalService) Request(ctx context.Context, actor valueobject.Actor, amount int64) (*entity.Withdrawal, error) {
	if !actor.Is(valueobject.RoleHelper) {
		return nil, apperror.ErrForbidden
	}
	w, err := entity.NewWithdrawal(actor.ID, amount, s.now())
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.withdrawals.LockHelper(ctx, actor.ID); err != nil {
			return err
		}
		earnings, err := helperEarnings(ctx, s.payments, s.withdrawals, actor.ID)
		if err != nil {
			return err
		}
		if amount > earnings.Available {
			return apperror.New(apperror.ErrCodeValidation, "сумма превышает доступный баланс")
		}
		return s.withdrawals.Create(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateUser(actor.ID)
	logger.Log.WithFields(map[string]interface{}{
		"helper_id":     actor.ID,
		"withdrawal_id": w.ID,
		"amount":        w.Amount,
	}).Info("Создан запрос на вывод")
	return w, nil
}

func (s *WithdrawalService) List(ctx context.Context, actor valueobject.Actor, limit, offset int) ([]*entity.Withdrawal, error) {
	if !actor.Is(valueobject.RoleHelper) {
		return nil, apperror.ErrForbidden
	}
	return s.withdrawals.ListByHelper(ctx, actor.ID, limit, offset)
}

// Process подтверждает или отклоняет вывод. Отклонённый вывод возвращает сумму в доступный баланс.
func (s *WithdrawalService) Process(ctx context.Context, actor valueobject.Actor, id uuid.UUID, approve bool) (*entity.Withdrawal, error) {
	if !actor.Is(valueobject.RoleAdmin) {
		return nil, apperror.ErrForbidden
	}

	var w *entity.Withdrawal
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		w, err = s.withdrawals.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := w.Process(approve, s.now()); err != nil {
			return err
		}
		return s.withdrawals.UpdateStatus(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateUser(w.HelperID)
	return w, nil
}
