package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/helper-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/helper-escrow/internal/usecase/reconcile"
	"github.com/ignatzorin/helper-escrow/internal/usecase/settlement"
)

func TestAdminHandler_Release(t *testing.T) {
	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	id := uuid.New()
	released := samplePayment(id, valueobject.RailCard, valueobject.EscrowReleased)
	share, fee := int64(449), int64(50)
	released.HelperShare, released.PlatformFee = &share, &fee

	ledger := new(mockLedger)
	ledger.On("Release", mock.Anything, admin, id, escrow.ReleaseOptions{Reason: "работа принята", ResolveDispute: true}).
		Return(released, nil)

	h := NewAdminHandler(ledger, new(mockReconciler))
	r := gin.New()
	r.Use(withActor(admin))
	r.POST("/admin/requests/:id/payment/release", h.Release)

	w := doJSON(r, http.MethodPost, "/admin/requests/"+id.String()+"/payment/release", map[string]any{
		"reason":          "работа принята",
		"resolve_dispute": true,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"helper_share":449`)
	assert.Contains(t, w.Body.String(), `"platform_fee":50`)
	ledger.AssertExpectations(t)
}

func TestAdminHandler_ResolveDispute(t *testing.T) {
	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	id := uuid.New()
	now := fixedNow
	dismissed := entity.ResolutionDismissed
	flag := &entity.DisputeFlag{
		ID:           uuid.New(),
		RequestID:    id,
		RaisedByRole: valueobject.RoleRequester,
		Reason:       "исполнитель не выходит на связь",
		RaisedAt:     now,
		Resolved:     true,
		Resolution:   &dismissed,
		ResolvedBy:   &admin.ID,
		ResolvedAt:   &now,
	}

	ledger := new(mockLedger)
	ledger.On("ResolveDispute", mock.Anything, admin, id, "связались, заявка актуальна").Return(flag, nil)

	h := NewAdminHandler(ledger, new(mockReconciler))
	r := gin.New()
	r.Use(withActor(admin))
	r.POST("/admin/requests/:id/dispute/resolve", h.ResolveDispute)

	w := doJSON(r, http.MethodPost, "/admin/requests/"+id.String()+"/dispute/resolve", map[string]any{
		"reason": "связались, заявка актуальна",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"resolution":"dismissed"`)

	w = doJSON(r, http.MethodPost, "/admin/requests/"+id.String()+"/dispute/resolve", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ledger.AssertExpectations(t)
}

func TestAdminHandler_RefundWithoutBody(t *testing.T) {
	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	id := uuid.New()
	ledger := new(mockLedger)
	ledger.On("Refund", mock.Anything, admin, id, escrow.RefundOptions{}).
		Return(nil, apperror.New(apperror.ErrCodeInvalidTransition, "вернуть можно только удержанные средства"))

	h := NewAdminHandler(ledger, new(mockReconciler))
	r := gin.New()
	r.Use(withActor(admin))
	r.POST("/admin/requests/:id/payment/refund", h.Refund)

	w := doJSON(r, http.MethodPost, "/admin/requests/"+id.String()+"/payment/refund", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(apperror.ErrCodeInvalidTransition), decode(t, w).Error.Kind)
}

func TestAdminHandler_Reconcile(t *testing.T) {
	admin := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	rec := new(mockReconciler)
	rec.On("Sweep", mock.Anything).Return(&reconcile.Report{
		Checked: 3,
		Divergences: []reconcile.Divergence{{
			Kind:      reconcile.CancelledStillHeld,
			RequestID: uuid.New(),
			PaymentID: uuid.New(),
			Amount:    499,
			Repaired:  true,
		}},
		Repaired: 1,
	}, nil)

	h := NewAdminHandler(new(mockLedger), rec)
	r := gin.New()
	r.Use(withActor(admin))
	r.POST("/admin/reconcile", h.Reconcile)

	w := doJSON(r, http.MethodPost, "/admin/reconcile", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"cancelled_still_held"`)
	assert.Contains(t, w.Body.String(), `"repaired":1`)
}

type fakeDashboards struct {
	helper settlement.HelperEarnings
	err    error
}

func (f *fakeDashboards) Helper(ctx context.Context, actor valueobject.Actor) (settlement.HelperEarnings, error) {
	if !actor.Is(valueobject.RoleHelper) {
		return settlement.HelperEarnings{}, apperror.ErrForbidden
	}
	return f.helper, f.err
}

func (f *fakeDashboards) Requester(ctx context.Context, actor valueobject.Actor) (settlement.RequesterSummary, error) {
	return settlement.RequesterSummary{Held: 499}, f.err
}

func (f *fakeDashboards) Admin(ctx context.Context, actor valueobject.Actor) (settlement.AdminSummary, error) {
	return settlement.AdminSummary{PlatformFee: 50, OpenDisputes: 1}, f.err
}

func TestDashboardHandler(t *testing.T) {
	dashboards := &fakeDashboards{helper: settlement.HelperEarnings{Pending: 0, Released: 449, Withdrawn: 100, Available: 349}}
	h := NewDashboardHandler(dashboards)

	helper := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleHelper}
	r := gin.New()
	r.Use(withActor(helper))
	r.GET("/helper/dashboard", h.Helper)
	r.GET("/admin/dashboard", h.Admin)

	w := doJSON(r, http.MethodGet, "/helper/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"available":349`)

	requester := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	r2 := gin.New()
	r2.Use(withActor(requester))
	r2.GET("/helper/dashboard", h.Helper)
	r2.GET("/requester/dashboard", h.Requester)

	assert.Equal(t, http.StatusForbidden, doJSON(r2, http.MethodGet, "/helper/dashboard", nil).Code)
	w = doJSON(r2, http.MethodGet, "/requester/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"held":499`)

	dashboards.err = errors.New("boom")
	w = doJSON(r, http.MethodGet, "/admin/dashboard", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type fakeWithdrawals struct {
	available int64
	created   []*entity.Withdrawal
}

func (f *fakeWithdrawals) Request(ctx context.Context, actor valueobject.Actor, amount int64) (*entity.Withdrawal, error) {
	if amount > f.available {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма превышает доступный остаток")
	}
	w, err := entity.NewWithdrawal(actor.ID, amount, fixedNow)
	if err != nil {
		return nil, err
	}
	f.available -= amount
	f.created = append(f.created, w)
	return w, nil
}

func (f *fakeWithdrawals) List(ctx context.Context, actor valueobject.Actor, limit, offset int) ([]*entity.Withdrawal, error) {
	return f.created, nil
}

func (f *fakeWithdrawals) Process(ctx context.Context, actor valueobject.Actor, id uuid.UUID, approve bool) (*entity.Withdrawal, error) {
	for _, w := range f.created {
		if w.ID == id {
			w.Status = entity.WithdrawalRejected
			if approve {
				w.Status = entity.WithdrawalCompleted
			}
			return w, nil
		}
	}
	return nil, apperror.ErrWithdrawalNotFound
}

func TestWithdrawalHandler(t *testing.T) {
	helper := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleHelper}
	withdrawals := &fakeWithdrawals{available: 449}
	h := NewWithdrawalHandler(withdrawals)

	r := gin.New()
	r.Use(withActor(helper))
	r.POST("/withdrawals", h.Create)
	r.GET("/withdrawals", h.List)
	r.POST("/admin/withdrawals/:id/process", h.Process)

	w := doJSON(r, http.MethodPost, "/withdrawals", map[string]any{"amount": 500})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/withdrawals", map[string]any{"amount": 400})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"pending"`)

	w = doJSON(r, http.MethodGet, "/withdrawals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"amount":400`)

	id := withdrawals.created[0].ID
	w = doJSON(r, http.MethodPost, "/admin/withdrawals/"+id.String()+"/process", map[string]any{"approve": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)

	w = doJSON(r, http.MethodPost, "/admin/withdrawals/"+uuid.NewString()+"/process", map[string]any{"approve": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakePinger struct {
	err error
}

func (f fakePinger) PingContext(ctx context.Context) error {
	return f.err
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"healthy", nil, http.StatusOK, `"status":"healthy"`},
		{"database down", errors.New("dial tcp: refused"), http.StatusServiceUnavailable, `"status":"unhealthy"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(fakePinger{err: tt.err}, nil, []string{"card", "manual_transfer"})
			r := gin.New()
			r.GET("/health", h.Health)

			req, _ := http.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
			assert.NotContains(t, w.Body.String(), "refused")
		})
	}
}
