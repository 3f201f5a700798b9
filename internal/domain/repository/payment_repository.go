package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error)
	// FindLiveByRequestID возвращает невозвращённый платёж заявки или NotFound.
	FindLiveByRequestID(ctx context.Context, requestID uuid.UUID) (*entity.Payment, error)
	// FindLatestByRequestID возвращает последний платёж заявки в любом состоянии.
	FindLatestByRequestID(ctx context.Context, requestID uuid.UUID) (*entity.Payment, error)

	// CompareAndSwapState сохраняет платёж, если в базе всё ещё expected.
	CompareAndSwapState(ctx context.Context, payment *entity.Payment, expected valueobject.EscrowState) error
	UpdateIntent(ctx context.Context, payment *entity.Payment) error
	SetReceipt(ctx context.Context, id uuid.UUID, path string) error
	SetProviderRefundPending(ctx context.Context, id uuid.UUID, pending bool) error

	ListByHelper(ctx context.Context, helperID uuid.UUID) ([]*entity.Payment, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]*entity.Payment, error)
	Totals(ctx context.Context) (PaymentTotals, error)

	ListHeldByRequestState(ctx context.Context, state valueobject.WorkflowState, heldBefore time.Time) ([]*entity.Payment, error)
	ListProviderRefundPending(ctx context.Context) ([]*entity.Payment, error)
}

// PaymentTotals агрегаты для панели администратора.
type PaymentTotals struct {
	Held        int64 `db:"held"`
	Released    int64 `db:"released"`
	PlatformFee int64 `db:"platform_fee"`
	Refunded    int64 `db:"refunded"`
}
