package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
)

type RequestRepository interface {
	Create(ctx context.Context, req *entity.Request) error
	// CompareAndSwap сохраняет заявку, только если в базе всё ещё expectedState и версия req.Version.
	// При проигранной гонке возвращает Conflict, при успехе увеличивает req.Version.
	CompareAndSwap(ctx context.Context, req *entity.Request, expectedState valueobject.WorkflowState) error
	MarkViewed(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Request, error)
	List(ctx context.Context, filter RequestFilter) ([]*entity.Request, int, error)

	AddDecline(ctx context.Context, requestID, helperID uuid.UUID, at time.Time) error
	HasDeclined(ctx context.Context, requestID, helperID uuid.UUID) (bool, error)
}

type RequestFilter struct {
	RequesterID *uuid.UUID
	HelperID    *uuid.UUID
	// OpenOrHelperID: открытые заявки плюс назначенные этому исполнителю.
	OpenOrHelperID *uuid.UUID
	State          string
	Category       string
	Limit          int
	Offset         int
}
