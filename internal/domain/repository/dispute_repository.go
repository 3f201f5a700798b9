package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
)

type DisputeRepository interface {
	// Create возвращает Conflict, если по заявке уже есть открытый спор.
	Create(ctx context.Context, flag *entity.DisputeFlag) error
	// FindOpenByRequestID возвращает nil без ошибки, если открытого спора нет.
	FindOpenByRequestID(ctx context.Context, requestID uuid.UUID) (*entity.DisputeFlag, error)
	Resolve(ctx context.Context, flag *entity.DisputeFlag) error
	ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*entity.DisputeFlag, error)
	CountOpen(ctx context.Context) (int, error)
}
