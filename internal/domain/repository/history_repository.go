package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
)

type HistoryRepository interface {
	Append(ctx context.Context, entry *entity.HistoryEntry) error
	ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*entity.HistoryEntry, error)
}
