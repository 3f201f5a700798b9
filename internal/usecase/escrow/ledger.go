package escrow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/policy"
	"github.com/ignatzorin/helper-escrow/internal/domain/repository"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/events"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/gateway"
	"github.com/ignatzorin/helper-escrow/internal/logger"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// Gateways источник адаптеров для возврата средств у провайдера.
type Gateways interface {
	Get(rail valueobject.Rail) (gateway.Adapter, error)
}

type CaptureInput struct {
	// PaymentID, если известен. Иначе берётся действующий платёж заявки.
	PaymentID   uuid.UUID
	RequestID   uuid.UUID
	Amount      int64
	Reference   string
	Trust       valueobject.TrustLevel
	Fingerprint string
	Actor       valueobject.Actor
	Metadata    map[string]any
}

type ReleaseOptions struct {
	Override       bool
	Reason         string
	ResolveDispute bool
}

type RefundOptions struct {
	Override       bool
	Reason         string
	ResolveDispute bool
}

// Outcome результат денежной операции внутри транзакции. Settle выполняет то, что
// можно делать только после фиксации: возврат у провайдера и публикацию событий.
type Outcome struct {
	Payment        *entity.Payment
	Events         []events.Event
	providerRefund bool
}

type Ledger struct {
	tx        repository.Transactor
	requests  repository.RequestRepository
	payments  repository.PaymentRepository
	disputes  repository.DisputeRepository
	history   repository.HistoryRepository
	gateways  Gateways
	publisher events.Publisher
	now       func() time.Time
}

func NewLedger(
	tx repository.Transactor,
	requests repository.RequestRepository,
	payments repository.PaymentRepository,
	disputes repository.DisputeRepository,
	history repository.HistoryRepository,
	gateways Gateways,
	publisher events.Publisher,
) *Ledger {
	return &Ledger{
		tx:        tx,
		requests:  requests,
		payments:  payments,
		disputes:  disputes,
		history:   history,
		gateways:  gateways,
		publisher: publisher,
		now:       time.Now,
	}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func participants(req *entity.Request) []uuid.UUID {
	ids := []uuid.UUID{req.RequesterID}
	if req.HelperID != nil {
		ids = append(ids, *req.HelperID)
	}
	return ids
}

func paymentData(p *entity.Payment) map[string]any {
	data := map[string]any{
		"payment_id":   p.ID,
		"amount":       p.Amount,
		"currency":     p.Currency,
		"gateway":      p.Rail,
		"escrow_state": p.EscrowState,
		"trust_level":  p.TrustLevel,
	}
	if p.HelperShare != nil {
		data["helper_share"] = *p.HelperShare
		data["platform_fee"] = *p.PlatformFee
	}
	return data
}

func logMoneyGuard(err error, p *entity.Payment, fields logrus.Fields) {
	if !apperror.MoneyGuard(err) {
		return
	}
	entry := logger.Log.WithFields(fields)
	if p != nil {
		entry = logger.ForPayment(p.RequestID, p.ID).WithFields(fields).WithFields(logrus.Fields{
			"gateway":         p.Rail,
			"expected_amount": p.Amount,
			"escrow_state":    p.EscrowState,
		})
	}
	entry.WithError(err).Error("Нарушение денежного инварианта")
}

// Capture переводит платёж none -> held. Повтор с той же ссылкой и суммой возвращает платёж без изменений.
func (l *Ledger) Capture(ctx context.Context, in CaptureInput) (*entity.Payment, error) {
	fields := logrus.Fields{
		"request_id":    in.RequestID,
		"actual_amount": in.Amount,
		"reference":     in.Reference,
		"actor":         in.Actor.Role,
	}
	if in.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount
	}

	var (
		payment *entity.Payment
		emitted []events.Event
	)
	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		p, err := l.findForCapture(ctx, in)
		if err != nil {
			return err
		}
		payment = p

		if p.IsCaptured() && p.GatewayReference != nil && *p.GatewayReference == in.Reference && p.Amount == in.Amount {
			return nil
		}

		req, err := l.requests.FindByID(ctx, p.RequestID)
		if err != nil {
			return err
		}

		now := l.now()
		from := p.EscrowState
		if err := p.Capture(in.Amount, in.Reference, in.Trust, now); err != nil {
			return err
		}
		if in.Fingerprint != "" {
			p.MarkVerified(in.Fingerprint, now)
		}
		if err := l.payments.CompareAndSwapState(ctx, p, from); err != nil {
			return err
		}

		metadata := paymentData(p)
		metadata["reference"] = in.Reference
		for k, v := range in.Metadata {
			metadata[k] = v
		}
		entry := entity.NewHistoryEntry(req.ID, in.Actor, "capture", string(from), string(p.EscrowState), metadata, now)
		if err := l.history.Append(ctx, entry); err != nil {
			return err
		}

		if req.State == valueobject.StateCancelled {
			logger.ForPayment(req.ID, p.ID).Warn("Средства удержаны по отменённой заявке, сверка вернёт их")
		}
		emitted = append(emitted, events.New(events.PaymentHeld, req.ID, participants(req), paymentData(p)))
		return nil
	})
	if err != nil {
		logMoneyGuard(err, payment, fields)
		return nil, err
	}

	l.publisher.Publish(ctx, emitted...)
	return payment, nil
}

func (l *Ledger) findForCapture(ctx context.Context, in CaptureInput) (*entity.Payment, error) {
	if in.PaymentID != uuid.Nil {
		return l.payments.FindByID(ctx, in.PaymentID)
	}
	return l.payments.FindLiveByRequestID(ctx, in.RequestID)
}

// Release выплачивает удержанные средства исполнителю.
func (l *Ledger) Release(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, opts ReleaseOptions) (*entity.Payment, error) {
	if !actor.Is(valueobject.RoleAdmin) {
		return nil, apperror.ErrForbidden
	}
	if opts.Override && strings.TrimSpace(opts.Reason) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "для ручной выплаты укажите причину")
	}

	var outcome *Outcome
	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		req, err := l.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		p, err := l.payments.FindLiveByRequestID(ctx, requestID)
		if err != nil {
			return err
		}
		flag, err := l.disputes.FindOpenByRequestID(ctx, requestID)
		if err != nil {
			return err
		}
		if err := policy.LedgerDisputeGuard(flag, opts.ResolveDispute); err != nil {
			return err
		}
		if req.State != valueobject.StateConfirmed && !opts.Override && flag == nil {
			return apperror.New(apperror.ErrCodeInvalidTransition, "выплата возможна после подтверждения заказчиком")
		}

		now := l.now()
		from := p.EscrowState
		if err := p.Release(now); err != nil {
			return err
		}
		if err := l.payments.CompareAndSwapState(ctx, p, from); err != nil {
			return err
		}

		outcome = &Outcome{Payment: p}
		if err := l.finish(ctx, actor, req, p, flag, entity.ResolutionReleased, from, opts.Override, opts.Reason, now, outcome); err != nil {
			return err
		}
		outcome.Events = append(outcome.Events, events.New(events.PaymentReleased, req.ID, participants(req), paymentData(p)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opts.Override {
		logger.ForPayment(requestID, outcome.Payment.ID).WithFields(logrus.Fields{
			"admin_id": actor.ID,
			"reason":   opts.Reason,
		}).Warn("Выплата по решению администратора без подтверждения заказчика")
	}
	l.Settle(ctx, outcome)
	return outcome.Payment, nil
}

// Refund возвращает удержанные средства заказчику.
func (l *Ledger) Refund(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, opts RefundOptions) (*entity.Payment, error) {
	var outcome *Outcome
	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		req, err := l.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		outcome, err = l.RefundWithin(ctx, actor, req, opts)
		if err != nil {
			return err
		}
		if outcome == nil {
			return apperror.New(apperror.ErrCodeInvalidTransition, "вернуть можно только удержанные средства")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opts.Override {
		logger.ForPayment(requestID, outcome.Payment.ID).WithFields(logrus.Fields{
			"admin_id": actor.ID,
			"reason":   opts.Reason,
		}).Warn("Возврат по решению администратора")
	}
	l.Settle(ctx, outcome)
	return outcome.Payment, nil
}

// RefundWithin выполняет возврат в уже открытой транзакции вызывающего.
// Если удержанных средств нет, возвращает nil без ошибки. Settle вызывается после фиксации.
func (l *Ledger) RefundWithin(ctx context.Context, actor valueobject.Actor, req *entity.Request, opts RefundOptions) (*Outcome, error) {
	switch actor.Role {
	case valueobject.RoleAdmin, valueobject.RoleSystem:
	default:
		return nil, apperror.ErrForbidden
	}
	if opts.Override && strings.TrimSpace(opts.Reason) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "для ручного возврата укажите причину")
	}

	p, err := l.payments.FindLiveByRequestID(ctx, req.ID)
	if apperror.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.EscrowState != valueobject.EscrowHeld {
		if actor.Is(valueobject.RoleSystem) {
			return nil, nil
		}
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "вернуть можно только удержанные средства")
	}

	flag, err := l.disputes.FindOpenByRequestID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if actor.Is(valueobject.RoleAdmin) {
		if err := policy.LedgerDisputeGuard(flag, opts.ResolveDispute); err != nil {
			return nil, err
		}
		workDone := req.State == valueobject.StateCompleted || req.State == valueobject.StateConfirmed
		if !workDone && flag == nil && !opts.Override {
			return nil, apperror.New(apperror.ErrCodeInvalidTransition, "возврат администратором возможен после выполнения работ, по спору или с ручным решением")
		}
	}

	now := l.now()
	from := p.EscrowState
	if err := p.Refund(now); err != nil {
		return nil, err
	}
	if err := l.payments.CompareAndSwapState(ctx, p, from); err != nil {
		return nil, err
	}
	// Флаг снимается после успешного возврата у провайдера.
	p.ProviderRefundPending = true
	if err := l.payments.SetProviderRefundPending(ctx, p.ID, true); err != nil {
		return nil, err
	}

	outcome := &Outcome{Payment: p, providerRefund: true}
	if err := l.finish(ctx, actor, req, p, flag, entity.ResolutionRefunded, from, opts.Override, opts.Reason, now, outcome); err != nil {
		return nil, err
	}
	outcome.Events = append(outcome.Events, events.New(events.PaymentRefunded, req.ID, participants(req), paymentData(p)))
	return outcome, nil
}

// ResolveDispute закрывает спор без выплаты и возврата. Нужен, когда по заявке нет
// удержанных средств: иначе спор закрывается через Release или Refund.
func (l *Ledger) ResolveDispute(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, reason string) (*entity.DisputeFlag, error) {
	if !actor.Is(valueobject.RoleAdmin) {
		return nil, apperror.ErrForbidden
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "для закрытия спора укажите причину")
	}

	var (
		flag    *entity.DisputeFlag
		emitted []events.Event
	)
	err := l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		req, err := l.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		flag, err = l.disputes.FindOpenByRequestID(ctx, requestID)
		if err != nil {
			return err
		}
		if flag == nil {
			return apperror.ErrDisputeNotFound
		}

		p, err := l.payments.FindLiveByRequestID(ctx, requestID)
		if err != nil && !apperror.IsNotFound(err) {
			return err
		}
		if p != nil && p.EscrowState == valueobject.EscrowHeld {
			return apperror.New(apperror.ErrCodeInvalidTransition, "по заявке удержаны средства, спор закрывается выплатой или возвратом")
		}

		now := l.now()
		if err := flag.Resolve(entity.ResolutionDismissed, actor.ID, now); err != nil {
			return err
		}
		if err := l.disputes.Resolve(ctx, flag); err != nil {
			return err
		}
		req.UpdatedAt = now
		if err := l.requests.CompareAndSwap(ctx, req, req.State); err != nil {
			return err
		}

		entry := entity.NewHistoryEntry(req.ID, actor, "resolve_dispute", string(req.State), string(req.State), map[string]any{
			"dispute_id":         flag.ID,
			"dispute_resolution": entity.ResolutionDismissed,
			"reason":             reason,
		}, now)
		if err := l.history.Append(ctx, entry); err != nil {
			return err
		}
		emitted = append(emitted, events.New(events.DisputeResolved, req.ID, participants(req), map[string]any{
			"dispute_id": flag.ID,
			"resolution": entity.ResolutionDismissed,
			"reason":     reason,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"request_id": requestID,
		"dispute_id": flag.ID,
		"admin_id":   actor.ID,
		"reason":     reason,
	}).Warn("Спор закрыт администратором без движения средств")
	l.publisher.Publish(ctx, emitted...)
	return flag, nil
}

// finish общие шаги release/refund: закрыть спор, архивировать заявку, записать историю.
func (l *Ledger) finish(
	ctx context.Context,
	actor valueobject.Actor,
	req *entity.Request,
	p *entity.Payment,
	flag *entity.DisputeFlag,
	resolution entity.DisputeResolution,
	from valueobject.EscrowState,
	override bool,
	reason string,
	now time.Time,
	outcome *Outcome,
) error {
	metadata := paymentData(p)
	if override {
		metadata["override"] = true
	}
	if reason != "" {
		metadata["reason"] = reason
	}

	if flag != nil && !flag.Resolved {
		if err := flag.Resolve(resolution, actor.ID, now); err != nil {
			return err
		}
		if err := l.disputes.Resolve(ctx, flag); err != nil {
			return err
		}
		metadata["dispute_id"] = flag.ID
		metadata["dispute_resolution"] = resolution
		outcome.Events = append(outcome.Events, events.New(events.DisputeResolved, req.ID, participants(req), map[string]any{
			"dispute_id": flag.ID,
			"resolution": resolution,
		}))
	}

	// CAS по версии выполняется всегда: спор, открытый после чтения заявки, поднял версию,
	// и операция откатывается с Conflict.
	expected := req.State
	req.Archive(now)
	req.UpdatedAt = now
	if err := l.requests.CompareAndSwap(ctx, req, expected); err != nil {
		return err
	}

	action := string(valueobject.ActionRelease)
	if resolution == entity.ResolutionRefunded {
		action = string(valueobject.ActionRefund)
	}
	entry := entity.NewHistoryEntry(req.ID, actor, action, string(from), string(p.EscrowState), metadata, now)
	return l.history.Append(ctx, entry)
}

// Settle выполняет шаги после фиксации транзакции. Ошибки провайдера не возвращаются:
// платёж остаётся с provider_refund_pending и будет повторён сверкой.
func (l *Ledger) Settle(ctx context.Context, outcome *Outcome) {
	if outcome == nil {
		return
	}
	if outcome.providerRefund {
		_ = l.RetryProviderRefund(ctx, outcome.Payment)
	}
	l.publisher.Publish(ctx, outcome.Events...)
}

// RetryProviderRefund возвращает деньги через провайдера и снимает флаг ожидания.
func (l *Ledger) RetryProviderRefund(ctx context.Context, p *entity.Payment) error {
	log := logger.ForPayment(p.RequestID, p.ID).WithField("gateway", p.Rail)

	adapter, err := l.gateways.Get(p.Rail)
	if err != nil {
		log.WithError(err).Error("Нет адаптера для возврата у провайдера")
		return err
	}

	reference := ""
	if p.GatewayReference != nil {
		reference = *p.GatewayReference
	}
	err = adapter.Refund(ctx, gateway.RefundInput{
		PaymentID: p.ID,
		Reference: reference,
		Amount:    p.Amount,
		Reason:    "requested_by_customer",
	})
	if err != nil {
		log.WithError(err).Error("Возврат у провайдера не выполнен, будет повторён сверкой")
		return err
	}

	if err := l.payments.SetProviderRefundPending(ctx, p.ID, false); err != nil {
		log.WithError(err).Error("Не удалось снять флаг ожидания возврата")
		return err
	}
	p.ProviderRefundPending = false
	return nil
}
