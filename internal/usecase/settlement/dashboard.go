package settlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/repository"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/cache"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// Cache кеш сводок, сбрасываемый денежными событиями.
type Cache interface {
	GetOrSet(key string, fn func() (interface{}, error)) (interface{}, error)
	InvalidateUser(userID uuid.UUID)
}

type DashboardService struct {
	payments    repository.PaymentRepository
	disputes    repository.DisputeRepository
	withdrawals repository.WithdrawalRepository
	cache       Cache
}

func NewDashboardService(
	payments repository.PaymentRepository,
	disputes repository.DisputeRepository,
	withdrawals repository.WithdrawalRepository,
	c Cache,
) *DashboardService {
	return &DashboardService{
		payments:    payments,
		disputes:    disputes,
		withdrawals: withdrawals,
		cache:       c,
	}
}

func (s *DashboardService) Helper(ctx context.Context, actor valueobject.Actor) (HelperEarnings, error) {
	if !actor.Is(valueobject.RoleHelper) {
		return HelperEarnings{}, apperror.ErrForbidden
	}
	value, err := s.cache.GetOrSet(cache.UserKey(string(actor.Role), actor.ID), func() (interface{}, error) {
		return helperEarnings(ctx, s.payments, s.withdrawals, actor.ID)
	})
	if err != nil {
		return HelperEarnings{}, err
	}
	return value.(HelperEarnings), nil
}

func (s *DashboardService) Requester(ctx context.Context, actor valueobject.Actor) (RequesterSummary, error) {
	if !actor.Is(valueobject.RoleRequester) {
		return RequesterSummary{}, apperror.ErrForbidden
	}
	value, err := s.cache.GetOrSet(cache.UserKey(string(actor.Role), actor.ID), func() (interface{}, error) {
		payments, err := s.payments.ListByRequester(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		return SummarizeRequester(payments), nil
	})
	if err != nil {
		return RequesterSummary{}, err
	}
	return value.(RequesterSummary), nil
}

func (s *DashboardService) Admin(ctx context.Context, actor valueobject.Actor) (AdminSummary, error) {
	if !actor.Is(valueobject.RoleAdmin) {
		return AdminSummary{}, apperror.ErrForbidden
	}
	value, err := s.cache.GetOrSet(cache.AdminKey(), func() (interface{}, error) {
		totals, err := s.payments.Totals(ctx)
		if err != nil {
			return nil, err
		}
		open, err := s.disputes.CountOpen(ctx)
		if err != nil {
			return nil, err
		}
		return AdminSummary{
			Held:         totals.Held,
			Released:     totals.Released,
			PlatformFee:  totals.PlatformFee,
			Refunded:     totals.Refunded,
			OpenDisputes: open,
		}, nil
	})
	if err != nil {
		return AdminSummary{}, err
	}
	return value.(AdminSummary), nil
}

func helperEarnings(ctx context.Context, payments repository.PaymentRepository, withdrawals repository.WithdrawalRepository, helperID uuid.UUID) (HelperEarnings, error) {
	list, err := payments.ListByHelper(ctx, helperID)
	if err != nil {
		return HelperEarnings{}, err
	}
	withdrawn, err := withdrawals.SumCounted(ctx, helperID)
	if err != nil {
		return HelperEarnings{}, err
	}
	return Summarize(list, withdrawn), nil
}
