package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/http/middleware"
	"github.com/ignatzorin/helper-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/helper-escrow/internal/usecase/lifecycle"
	"github.com/ignatzorin/helper-escrow/internal/usecase/payment"
	"github.com/ignatzorin/helper-escrow/internal/usecase/reconcile"
)

var fixedNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

// withActor подменяет AuthMiddleware в тестах.
func withActor(actor valueobject.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextActorKey, actor)
		c.Next()
	}
}

type mockLifecycle struct {
	mock.Mock
}

func (m *mockLifecycle) request(args mock.Arguments) (*entity.Request, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Request), args.Error(1)
}

func (m *mockLifecycle) Create(ctx context.Context, actor valueobject.Actor, in lifecycle.CreateRequestInput) (*entity.Request, error) {
	return m.request(m.Called(ctx, actor, in))
}

func (m *mockLifecycle) Get(ctx context.Context, actor valueobject.Actor, id uuid.UUID) (*entity.Request, error) {
	return m.request(m.Called(ctx, actor, id))
}

func (m *mockLifecycle) List(ctx context.Context, actor valueobject.Actor, in lifecycle.ListInput) ([]*entity.Request, int, error) {
	args := m.Called(ctx, actor, in)
	return args.Get(0).([]*entity.Request), args.Int(1), args.Error(2)
}

func (m *mockLifecycle) History(ctx context.Context, actor valueobject.Actor, id uuid.UUID) ([]*entity.HistoryEntry, error) {
	args := m.Called(ctx, actor, id)
	return args.Get(0).([]*entity.HistoryEntry), args.Error(1)
}

func (m *mockLifecycle) AvailableActions(ctx context.Context, actor valueobject.Actor, id uuid.UUID) ([]valueobject.Action, error) {
	args := m.Called(ctx, actor, id)
	return args.Get(0).([]valueobject.Action), args.Error(1)
}

func (m *mockLifecycle) Accept(ctx context.Context, actor valueobject.Actor, id uuid.UUID) (*entity.Request, error) {
	return m.request(m.Called(ctx, actor, id))
}

func (m *mockLifecycle) Decline(ctx context.Context, actor valueobject.Actor, id uuid.UUID) (*entity.Request, error) {
	return m.request(m.Called(ctx, actor, id))
}

func (m *mockLifecycle) Relist(ctx context.Context, actor valueobject.Actor, id uuid.UUID) (*entity.Request, error) {
	return m.request(m.Called(ctx, actor, id))
}

func (m *mockLifecycle) Start(ctx context.Context, actor valueobject.Actor, id uuid.UUID) (*entity.Request, error) {
	return m.request(m.Called(ctx, actor, id))
}

func (m *mockLifecycle) MarkCompleted(ctx context.Context, actor valueobject.Actor, id uuid.UUID) (*entity.Request, error) {
	return m.request(m.Called(ctx, actor, id))
}

func (m *mockLifecycle) Confirm(ctx context.Context, actor valueobject.Actor, id uuid.UUID) (*entity.Request, error) {
	return m.request(m.Called(ctx, actor, id))
}

func (m *mockLifecycle) Cancel(ctx context.Context, actor valueobject.Actor, id uuid.UUID) (*entity.Request, error) {
	return m.request(m.Called(ctx, actor, id))
}

func (m *mockLifecycle) MarkViewed(ctx context.Context, actor valueobject.Actor, id uuid.UUID) (*entity.Request, error) {
	return m.request(m.Called(ctx, actor, id))
}

func (m *mockLifecycle) RaiseDispute(ctx context.Context, actor valueobject.Actor, id uuid.UUID, reason string) (*entity.DisputeFlag, error) {
	args := m.Called(ctx, actor, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.DisputeFlag), args.Error(1)
}

type mockPayments struct {
	mock.Mock
}

func (m *mockPayments) payment(args mock.Arguments) (*entity.Payment, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Payment), args.Error(1)
}

func (m *mockPayments) CreateIntent(ctx context.Context, actor valueobject.Actor, id uuid.UUID, in payment.IntentRequest) (*payment.IntentResult, error) {
	args := m.Called(ctx, actor, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.IntentResult), args.Error(1)
}

func (m *mockPayments) Confirm(ctx context.Context, actor valueobject.Actor, id uuid.UUID, proof map[string]string) (*entity.Payment, error) {
	return m.payment(m.Called(ctx, actor, id, proof))
}

func (m *mockPayments) Verify(ctx context.Context, actor valueobject.Actor, id uuid.UUID, ref, payerID string) (*entity.Payment, error) {
	return m.payment(m.Called(ctx, actor, id, ref, payerID))
}

func (m *mockPayments) AttachReceipt(ctx context.Context, actor valueobject.Actor, id uuid.UUID, r io.Reader) (*entity.Payment, error) {
	body, _ := io.ReadAll(r)
	return m.payment(m.Called(ctx, actor, id, string(body)))
}

func (m *mockPayments) Get(ctx context.Context, actor valueobject.Actor, id uuid.UUID) (*entity.Payment, error) {
	return m.payment(m.Called(ctx, actor, id))
}

func (m *mockPayments) HandleCardWebhook(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, string(payload), signature).Error(0)
}

func (m *mockPayments) HandleRegionalNotification(ctx context.Context, body []byte) error {
	return m.Called(ctx, string(body)).Error(0)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Release(ctx context.Context, actor valueobject.Actor, id uuid.UUID, opts escrow.ReleaseOptions) (*entity.Payment, error) {
	args := m.Called(ctx, actor, id, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Payment), args.Error(1)
}

func (m *mockLedger) Refund(ctx context.Context, actor valueobject.Actor, id uuid.UUID, opts escrow.RefundOptions) (*entity.Payment, error) {
	args := m.Called(ctx, actor, id, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Payment), args.Error(1)
}

func (m *mockLedger) ResolveDispute(ctx context.Context, actor valueobject.Actor, id uuid.UUID, reason string) (*entity.DisputeFlag, error) {
	args := m.Called(ctx, actor, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.DisputeFlag), args.Error(1)
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Sweep(ctx context.Context) (*reconcile.Report, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconcile.Report), args.Error(1)
}
