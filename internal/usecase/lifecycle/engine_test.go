package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/policy"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/events"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/gateway"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/helper-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/helper-escrow/internal/usecase/lifecycle"
	"github.com/ignatzorin/helper-escrow/internal/usecase/usecasetest"
)

type env struct {
	store  *usecasetest.Store
	events *usecasetest.Recorder
	card   *usecasetest.Gateway
	clock  *usecasetest.Clock
	ledger *escrow.Ledger
	engine *lifecycle.Engine

	requester valueobject.Actor
	helper    valueobject.Actor
	admin     valueobject.Actor
}

func newEnv() *env {
	store := usecasetest.NewStore()
	recorder := &usecasetest.Recorder{}
	card := usecasetest.NewGateway(valueobject.RailCard)
	clock := usecasetest.NewClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	ledger := escrow.NewLedger(store, store.Requests(), store.Payments(), store.Disputes(), store.History(),
		gateway.NewRegistry(card), recorder).WithClock(clock.Now)
	engine := lifecycle.NewEngine(store, store.Requests(), store.Disputes(), store.History(),
		ledger, recorder, policy.NewCancellationPolicy(2*time.Hour)).WithClock(clock.Now)

	return &env{
		store:     store,
		events:    recorder,
		card:      card,
		clock:     clock,
		ledger:    ledger,
		engine:    engine,
		requester: valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester},
		helper:    valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleHelper},
		admin:     valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin},
	}
}

func (e *env) create(t *testing.T, amount int64) *entity.Request {
	t.Helper()
	req, err := e.engine.Create(context.Background(), e.requester, lifecycle.CreateRequestInput{
		ServiceCategory: "cleaning",
		Location:        "Jl. Sudirman 1",
		ScheduledAt:     e.clock.Now().Add(24 * time.Hour),
		Amount:          &amount,
	})
	require.NoError(t, err)
	return req
}

func (e *env) hold(t *testing.T, req *entity.Request) *entity.Payment {
	t.Helper()
	ctx := context.Background()
	p, err := entity.NewPayment(req.ID, *req.Amount, "usd", valueobject.RailCard, e.clock.Now())
	require.NoError(t, err)
	require.NoError(t, e.store.Payments().Create(ctx, p))

	held, err := e.ledger.Capture(ctx, escrow.CaptureInput{
		PaymentID: p.ID,
		RequestID: req.ID,
		Amount:    p.Amount,
		Reference: "pi_" + p.ID.String(),
		Actor:     e.requester,
	})
	require.NoError(t, err)
	return held
}

func (e *env) accept(t *testing.T, id uuid.UUID) {
	t.Helper()
	_, err := e.engine.Accept(context.Background(), e.helper, id)
	require.NoError(t, err)
}

func (e *env) complete(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	e.accept(t, id)
	_, err := e.engine.Start(ctx, e.helper, id)
	require.NoError(t, err)
	_, err = e.engine.MarkCompleted(ctx, e.helper, id)
	require.NoError(t, err)
}

func codeOf(err error) apperror.ErrorCode {
	return apperror.CodeOf(err)
}

func TestHappyPathReleasesHelperShare(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	req := e.create(t, 499)
	e.hold(t, req)
	e.complete(t, req.ID)

	confirmed, err := e.engine.Confirm(ctx, e.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.StateConfirmed, confirmed.State)

	p, err := e.ledger.Release(ctx, e.admin, req.ID, escrow.ReleaseOptions{})
	require.NoError(t, err)
	assert.Equal(t, valueobject.EscrowReleased, p.EscrowState)
	require.NotNil(t, p.HelperShare)
	require.NotNil(t, p.PlatformFee)
	assert.Equal(t, int64(449), *p.HelperShare)
	assert.Equal(t, int64(50), *p.PlatformFee)

	stored := e.store.Request(req.ID)
	assert.NotNil(t, stored.ArchivedAt)
	assert.Equal(t, valueobject.StateConfirmed, stored.State)

	types := e.events.Types()
	assert.Contains(t, types, events.RequestCreated)
	assert.Contains(t, types, events.RequestAccepted)
	assert.Contains(t, types, events.PaymentHeld)
	assert.Contains(t, types, events.PaymentReleased)

	history, err := e.engine.History(ctx, e.requester, req.ID)
	require.NoError(t, err)
	actions := make([]string, 0, len(history))
	for _, h := range history {
		actions = append(actions, h.Action)
	}
	assert.Equal(t, []string{"create", "capture", "accept", "start", "complete", "confirm", "release"}, actions)
}

func TestEscrowFollowsHeldThenTerminal(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	req := e.create(t, 1000)
	e.hold(t, req)
	e.complete(t, req.ID)
	_, err := e.engine.Confirm(ctx, e.requester, req.ID)
	require.NoError(t, err)
	_, err = e.ledger.Release(ctx, e.admin, req.ID, escrow.ReleaseOptions{})
	require.NoError(t, err)

	var money []events.Type
	for _, typ := range e.events.Types() {
		if typ == events.PaymentHeld || typ == events.PaymentReleased || typ == events.PaymentRefunded {
			money = append(money, typ)
		}
	}
	assert.Equal(t, []events.Type{events.PaymentHeld, events.PaymentReleased}, money)

	_, err = e.ledger.Refund(ctx, e.admin, req.ID, escrow.RefundOptions{Override: true, Reason: "поздняя жалоба"})
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeInvalidTransition, codeOf(err))
}

func TestDisputeFreezesWorkflowUntilRefund(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	req := e.create(t, 499)
	e.hold(t, req)
	e.complete(t, req.ID)

	flag, err := e.engine.RaiseDispute(ctx, e.requester, req.ID, "работа не выполнена")
	require.NoError(t, err)
	assert.Equal(t, valueobject.StateCompleted, e.store.Request(req.ID).State)

	_, err = e.engine.Confirm(ctx, e.requester, req.ID)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err))

	_, err = e.engine.RaiseDispute(ctx, e.helper, req.ID, "встречная жалоба")
	assert.Equal(t, apperror.ErrCodeConflict, codeOf(err))

	_, err = e.ledger.Release(ctx, e.admin, req.ID, escrow.ReleaseOptions{})
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err))

	p, err := e.ledger.Refund(ctx, e.admin, req.ID, escrow.RefundOptions{ResolveDispute: true, Reason: "исполнитель не пришёл"})
	require.NoError(t, err)
	assert.Equal(t, valueobject.EscrowRefunded, p.EscrowState)
	assert.False(t, p.ProviderRefundPending)
	assert.Equal(t, 1, e.card.RefundCount())

	open, err := e.store.Disputes().FindOpenByRequestID(ctx, req.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	flags, err := e.store.Disputes().ListByRequestID(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, flag.ID, flags[0].ID)
	require.NotNil(t, flags[0].Resolution)
	assert.Equal(t, entity.ResolutionRefunded, *flags[0].Resolution)

	stored := e.store.Request(req.ID)
	assert.Equal(t, valueobject.StateCompleted, stored.State)
	assert.NotNil(t, stored.ArchivedAt)
	assert.Contains(t, e.events.Types(), events.DisputeResolved)
}

func TestCancelAfterWindowKeepsFundsHeld(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	req := e.create(t, 300)
	e.hold(t, req)
	e.clock.Advance(3 * time.Hour)

	_, err := e.engine.Cancel(ctx, e.requester, req.ID)
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeWindowExpired, codeOf(err))

	payments := e.store.PaymentsOf(req.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, valueobject.EscrowHeld, payments[0].EscrowState)
	assert.Equal(t, valueobject.StateRequested, e.store.Request(req.ID).State)
	assert.Equal(t, 0, e.card.RefundCount())
}

func TestCancelWithinWindowRefundsHeldFunds(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	req := e.create(t, 300)
	e.hold(t, req)
	e.accept(t, req.ID)

	cancelled, err := e.engine.Cancel(ctx, e.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.StateCancelled, cancelled.State)
	assert.NotNil(t, cancelled.ArchivedAt)

	payments := e.store.PaymentsOf(req.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, valueobject.EscrowRefunded, payments[0].EscrowState)
	assert.False(t, payments[0].ProviderRefundPending)
	assert.Equal(t, 1, e.card.RefundCount())
	assert.Contains(t, e.events.Types(), events.PaymentRefunded)
	assert.Contains(t, e.events.Types(), events.RequestCanceled)
}

func TestCancelKeepsRefundPendingWhenProviderFails(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	e.card.RefundErr = apperror.ErrGatewayUnavailable

	req := e.create(t, 300)
	e.hold(t, req)

	_, err := e.engine.Cancel(ctx, e.requester, req.ID)
	require.NoError(t, err)

	payments := e.store.PaymentsOf(req.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, valueobject.EscrowRefunded, payments[0].EscrowState)
	assert.True(t, payments[0].ProviderRefundPending)
}

func TestCancelWithoutPaymentOnlyCancels(t *testing.T) {
	e := newEnv()

	req := e.create(t, 300)
	cancelled, err := e.engine.Cancel(context.Background(), e.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.StateCancelled, cancelled.State)
	assert.Empty(t, e.store.PaymentsOf(req.ID))
}

func TestCancelGuards(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	req := e.create(t, 300)

	stranger := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleRequester}
	_, err := e.engine.Cancel(ctx, stranger, req.ID)
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err))

	_, err = e.engine.Cancel(ctx, e.helper, req.ID)
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err))

	e.complete(t, req.ID)
	_, err = e.engine.Cancel(ctx, e.requester, req.ID)
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err), "отмена после выполнения отсутствует в таблице")
}

func TestConcurrentAcceptHasSingleWinner(t *testing.T) {
	e := newEnv()
	req := e.create(t, 200)

	const helpers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []uuid.UUID
		conflicts int
	)
	for i := 0; i < helpers; i++ {
		actor := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleHelper}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.engine.Accept(context.Background(), actor, req.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, actor.ID)
			case apperror.IsConflict(err):
				conflicts++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, helpers-1, conflicts)

	stored := e.store.Request(req.ID)
	assert.Equal(t, valueobject.StateAccepted, stored.State)
	require.NotNil(t, stored.HelperID)
	assert.Equal(t, winners[0], *stored.HelperID)
}

func TestDeclinedHelperCannotAcceptAfterRelist(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	req := e.create(t, 200)

	declined, err := e.engine.Decline(ctx, e.helper, req.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.StateDeclined, declined.State)

	e.clock.Advance(3 * time.Hour)
	relisted, err := e.engine.Relist(ctx, e.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.StateRequested, relisted.State)
	assert.Nil(t, relisted.HelperID)
	assert.Equal(t, e.clock.Now().Add(2*time.Hour), relisted.CancelDeadline)

	_, err = e.engine.Accept(ctx, e.helper, req.ID)
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err))

	other := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleHelper}
	accepted, err := e.engine.Accept(ctx, other, req.ID)
	require.NoError(t, err)
	assert.True(t, accepted.IsAssignedTo(other.ID))
}

func TestTransitionsOutsideTable(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	req := e.create(t, 200)

	_, err := e.engine.Confirm(ctx, e.helper, req.ID)
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err))

	_, err = e.engine.Start(ctx, e.requester, req.ID)
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err))

	e.accept(t, req.ID)
	_, err = e.engine.MarkCompleted(ctx, e.helper, req.ID)
	assert.Equal(t, apperror.ErrCodeInvalidTransition, codeOf(err))

	other := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleHelper}
	_, err = e.engine.Start(ctx, other, req.ID)
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err))

	_, err = e.engine.Accept(ctx, other, req.ID)
	assert.Equal(t, apperror.ErrCodeConflict, codeOf(err))
}

func TestRaiseDisputeRules(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	req := e.create(t, 200)

	_, err := e.engine.RaiseDispute(ctx, e.helper, req.ID, "нет доступа")
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err))

	_, err = e.engine.RaiseDispute(ctx, e.requester, req.ID, "   ")
	assert.Equal(t, apperror.ErrCodeValidation, codeOf(err))

	_, err = e.engine.RaiseDispute(ctx, e.requester, req.ID, "исполнитель не отвечает")
	require.NoError(t, err)

	_, err = e.engine.Accept(ctx, e.helper, req.ID)
	assert.True(t, errors.Is(err, apperror.ErrDisputeOpen))
}

func TestAvailableActions(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	req := e.create(t, 200)

	actions, err := e.engine.AvailableActions(ctx, e.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []valueobject.Action{valueobject.ActionCancel, valueobject.ActionDispute}, actions)

	actions, err = e.engine.AvailableActions(ctx, e.helper, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []valueobject.Action{valueobject.ActionAccept, valueobject.ActionDecline}, actions)

	e.clock.Advance(3 * time.Hour)
	actions, err = e.engine.AvailableActions(ctx, e.requester, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []valueobject.Action{valueobject.ActionDispute}, actions)

	actions, err = e.engine.AvailableActions(ctx, e.admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []valueobject.Action{valueobject.ActionRefund, valueobject.ActionRelease}, actions)
}

func TestListAndVisibility(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	open := e.create(t, 100)
	taken := e.create(t, 150)

	other := valueobject.Actor{ID: uuid.New(), Role: valueobject.RoleHelper}
	_, err := e.engine.Accept(ctx, other, taken.ID)
	require.NoError(t, err)

	list, total, err := e.engine.List(ctx, e.helper, lifecycle.ListInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, open.ID, list[0].ID)

	_, err = e.engine.Get(ctx, e.helper, taken.ID)
	assert.Equal(t, apperror.ErrCodeForbidden, codeOf(err))

	_, total, err = e.engine.List(ctx, e.requester, lifecycle.ListInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	viewed, err := e.engine.MarkViewed(ctx, e.helper, open.ID)
	require.NoError(t, err)
	assert.True(t, viewed.ViewedByHelper)
	assert.Equal(t, valueobject.StateRequested, e.store.Request(open.ID).State)
}

// racingDisputes выполняет before один раз, сразу после первого чтения открытого спора.
type racingDisputes struct {
	*usecasetest.Disputes
	once   sync.Once
	before func()
}

func (d *racingDisputes) FindOpenByRequestID(ctx context.Context, requestID uuid.UUID) (*entity.DisputeFlag, error) {
	flag, err := d.Disputes.FindOpenByRequestID(ctx, requestID)
	d.once.Do(d.before)
	return flag, err
}

func (e *env) racingEngine(disputes *racingDisputes) *lifecycle.Engine {
	return lifecycle.NewEngine(e.store, e.store.Requests(), disputes, e.store.History(),
		e.ledger, e.events, policy.NewCancellationPolicy(2*time.Hour)).WithClock(e.clock.Now)
}

func TestConfirmLosesToDisputeRaisedMeanwhile(t *testing.T) {
	t.Run("dispute committed between read and write", func(t *testing.T) {
		e := newEnv()
		ctx := context.Background()
		req := e.create(t, 300)
		e.hold(t, req)
		e.complete(t, req.ID)

		engine := e.racingEngine(&racingDisputes{
			Disputes: e.store.Disputes(),
			before: func() {
				_, err := e.engine.RaiseDispute(ctx, e.helper, req.ID, "заказчик тянет с подтверждением")
				require.NoError(t, err)
			},
		})

		_, err := engine.Confirm(ctx, e.requester, req.ID)
		assert.Equal(t, apperror.ErrCodeConflict, codeOf(err))

		stored := e.store.Request(req.ID)
		assert.Equal(t, valueobject.StateCompleted, stored.State)
		open, err := e.store.Disputes().FindOpenByRequestID(ctx, req.ID)
		require.NoError(t, err)
		assert.NotNil(t, open)

		// Повтор видит спор и упирается в заморозку.
		_, err = e.engine.Confirm(ctx, e.requester, req.ID)
		assert.True(t, errors.Is(err, apperror.ErrDisputeOpen))
	})

	t.Run("flag visible only inside transaction", func(t *testing.T) {
		e := newEnv()
		ctx := context.Background()
		req := e.create(t, 300)
		e.complete(t, req.ID)

		engine := e.racingEngine(&racingDisputes{
			Disputes: e.store.Disputes(),
			before: func() {
				flag, err := entity.NewDisputeFlag(req.ID, e.helper, "заказчик тянет с подтверждением", e.clock.Now())
				require.NoError(t, err)
				require.NoError(t, e.store.Disputes().Create(ctx, flag))
			},
		})

		_, err := engine.Confirm(ctx, e.requester, req.ID)
		assert.True(t, errors.Is(err, apperror.ErrDisputeOpen))
		assert.Equal(t, valueobject.StateCompleted, e.store.Request(req.ID).State)
	})
}

func TestDismissedDisputeUnfreezesUnpaidRequest(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	req := e.create(t, 200)

	_, err := e.engine.RaiseDispute(ctx, e.requester, req.ID, "исполнитель не отвечает")
	require.NoError(t, err)
	_, err = e.engine.Accept(ctx, e.helper, req.ID)
	require.True(t, errors.Is(err, apperror.ErrDisputeOpen))

	flag, err := e.ledger.ResolveDispute(ctx, e.admin, req.ID, "заказчик отозвал жалобу")
	require.NoError(t, err)
	assert.Equal(t, entity.ResolutionDismissed, *flag.Resolution)

	accepted, err := e.engine.Accept(ctx, e.helper, req.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.StateAccepted, accepted.State)
}
