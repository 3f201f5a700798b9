package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
)

type WithdrawalRepository interface {
	// LockHelper сериализует выводы одного исполнителя внутри транзакции.
	LockHelper(ctx context.Context, helperID uuid.UUID) error
	Create(ctx context.Context, w *entity.Withdrawal) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Withdrawal, error)
	UpdateStatus(ctx context.Context, w *entity.Withdrawal) error
	ListByHelper(ctx context.Context, helperID uuid.UUID, limit, offset int) ([]*entity.Withdrawal, error)
	SumCounted(ctx context.Context, helperID uuid.UUID) (int64, error)
}
