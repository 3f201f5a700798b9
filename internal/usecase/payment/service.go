package payment

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/repository"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/gateway"
	"github.com/ignatzorin/helper-escrow/internal/logger"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/helper-escrow/internal/usecase/escrow"
)

type Gateways interface {
	Get(rail valueobject.Rail) (gateway.Adapter, error)
}

// Capturer часть журнала удержаний, нужная платежам.
type Capturer interface {
	Capture(ctx context.Context, in escrow.CaptureInput) (*entity.Payment, error)
}

type ReceiptStorage interface {
	Save(ctx context.Context, paymentID uuid.UUID, r io.Reader) (string, int64, error)
}

type cardWebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*gateway.Notification, error)
}

type regionalNotificationParser interface {
	ParseNotification(body []byte) (*gateway.Notification, error)
}

type payeeProvider interface {
	Payee() (account, name string)
}

type IntentRequest struct {
	Amount int64
	Rail   valueobject.Rail
}

// IntentResult платёж и данные для оплаты. Existing означает, что вернули уже созданный платёж.
type IntentResult struct {
	Payment  *entity.Payment
	Intent   *gateway.Intent
	Existing bool
}

type Service struct {
	requests repository.RequestRepository
	payments repository.PaymentRepository
	gateways Gateways
	ledger   Capturer
	receipts ReceiptStorage
	currency string
	now      func() time.Time
}

func NewService(
	requests repository.RequestRepository,
	payments repository.PaymentRepository,
	gateways Gateways,
	ledger Capturer,
	receipts ReceiptStorage,
	currency string,
) *Service {
	return &Service{
		requests: requests,
		payments: payments,
		gateways: gateways,
		ledger:   ledger,
		receipts: receipts,
		currency: currency,
		now:      time.Now,
	}
}

func (s *Service) ownedRequest(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Request, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.Is(valueobject.RoleRequester) || !req.IsOwnedBy(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	return req, nil
}

// CreateIntent создаёт платёж и намерение у провайдера. Повтор безопасен:
// удержанный или выплаченный платёж возвращается как есть, как и неоплаченный с теми же каналом и суммой.
func (s *Service) CreateIntent(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, in IntentRequest) (*IntentResult, error) {
	req, err := s.ownedRequest(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	if !in.Rail.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный платёжный канал")
	}

	amount := in.Amount
	if amount == 0 && req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount
	}
	if req.Amount != nil && *req.Amount != amount {
		logger.Log.WithFields(map[string]interface{}{
			"request_id":      req.ID,
			"expected_amount": *req.Amount,
			"actual_amount":   amount,
		}).Error("Сумма намерения не совпадает с ценой заявки")
		return nil, apperror.ErrAmountMismatch
	}

	existing, err := s.payments.FindLiveByRequestID(ctx, requestID)
	if err != nil && !apperror.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		if result, err := s.reuse(existing, in.Rail, amount); result != nil || err != nil {
			return result, err
		}
	}

	switch req.State {
	case valueobject.StateCancelled, valueobject.StateDeclined, valueobject.StateConfirmed:
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "оплата недоступна в текущем статусе заявки")
	}

	adapter, err := s.gateways.Get(in.Rail)
	if err != nil {
		return nil, err
	}

	p := existing
	if p == nil {
		p, err = entity.NewPayment(req.ID, amount, s.currency, in.Rail, s.now())
		if err != nil {
			return nil, err
		}
		err = s.payments.Create(ctx, p)
		if errors.Is(err, apperror.ErrDuplicateIntent) {
			// Параллельный запрос успел создать платёж первым, продолжаем с ним.
			existing, err = s.payments.FindLiveByRequestID(ctx, requestID)
			if err != nil {
				return nil, err
			}
			if result, err := s.reuse(existing, in.Rail, amount); result != nil || err != nil {
				return result, err
			}
			p = existing
		} else if err != nil {
			return nil, err
		}
	}

	// Вызов провайдера вне транзакции. При сбое платёж остаётся в none, повтор дозапросит намерение.
	intent, err := adapter.CreateIntent(ctx, gateway.IntentInput{
		PaymentID: p.ID,
		RequestID: req.ID,
		Amount:    p.Amount,
		Currency:  p.Currency,
	})
	if err != nil {
		return nil, err
	}

	reference := intent.Reference
	secret := intent.Secret()
	p.GatewayReference = &reference
	p.IntentSecret = &secret
	p.UpdatedAt = s.now()
	if err := s.payments.UpdateIntent(ctx, p); err != nil {
		return nil, err
	}

	return &IntentResult{Payment: p, Intent: intent, Existing: existing != nil}, nil
}

// reuse решает судьбу уже существующего платежа. nil, nil означает, что намерение
// для этого платежа ещё нужно запросить у провайдера.
func (s *Service) reuse(existing *entity.Payment, rail valueobject.Rail, amount int64) (*IntentResult, error) {
	if existing.IsCaptured() {
		return &IntentResult{Payment: existing, Intent: s.storedIntent(existing), Existing: true}, nil
	}
	if existing.Rail != rail || existing.Amount != amount {
		return nil, apperror.ErrDuplicateIntent
	}
	if existing.IntentSecret != nil {
		return &IntentResult{Payment: existing, Intent: s.storedIntent(existing), Existing: true}, nil
	}
	return nil, nil
}

func (s *Service) storedIntent(p *entity.Payment) *gateway.Intent {
	intent := &gateway.Intent{}
	if p.GatewayReference != nil {
		intent.Reference = *p.GatewayReference
	}
	if p.IntentSecret == nil {
		return intent
	}
	if p.Rail == valueobject.RailManual {
		intent.ReferenceCode = *p.IntentSecret
		if adapter, err := s.gateways.Get(p.Rail); err == nil {
			if payee, ok := adapter.(payeeProvider); ok {
				intent.PayeeAccount, intent.PayeeName = payee.Payee()
			}
		}
		return intent
	}
	intent.ClientSecret = *p.IntentSecret
	return intent
}

// Confirm проверяет подтверждение у провайдера и удерживает средства.
func (s *Service) Confirm(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, proof map[string]string) (*entity.Payment, error) {
	if _, err := s.ownedRequest(ctx, actor, requestID); err != nil {
		return nil, err
	}
	p, err := s.payments.FindLiveByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if p.IsCaptured() {
		return p, nil
	}

	adapter, err := s.gateways.Get(p.Rail)
	if err != nil {
		return nil, err
	}
	reference := ""
	if p.GatewayReference != nil {
		reference = *p.GatewayReference
	}
	confirmation, err := adapter.Confirm(ctx, gateway.ConfirmInput{
		PaymentID: p.ID,
		Reference: reference,
		Amount:    p.Amount,
		Proof:     proof,
	})
	if err != nil {
		return nil, err
	}

	return s.ledger.Capture(ctx, escrow.CaptureInput{
		PaymentID: p.ID,
		RequestID: requestID,
		Amount:    confirmation.Amount,
		Reference: confirmation.Reference,
		Trust:     confirmation.Trust,
		Actor:     actor,
	})
}

// Verify подтверждение банковского перевода по номеру операции. Платёж помечается пониженным доверием.
func (s *Service) Verify(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, transactionRef, userSuppliedID string) (*entity.Payment, error) {
	if _, err := s.ownedRequest(ctx, actor, requestID); err != nil {
		return nil, err
	}
	p, err := s.payments.FindLiveByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	adapter, err := s.gateways.Get(p.Rail)
	if err != nil {
		return nil, err
	}
	confirmation, err := adapter.Verify(ctx, gateway.VerifyInput{
		PaymentID:      p.ID,
		Amount:         p.Amount,
		TransactionRef: transactionRef,
		UserSuppliedID: userSuppliedID,
	})
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{}
	if userSuppliedID != "" {
		metadata["payer_id"] = userSuppliedID
	}
	return s.ledger.Capture(ctx, escrow.CaptureInput{
		PaymentID:   p.ID,
		RequestID:   requestID,
		Amount:      confirmation.Amount,
		Reference:   confirmation.Reference,
		Trust:       confirmation.Trust,
		Fingerprint: confirmation.Fingerprint,
		Actor:       actor,
		Metadata:    metadata,
	})
}

// HandleCardWebhook подтверждение оплаты картой, присланное провайдером.
func (s *Service) HandleCardWebhook(ctx context.Context, payload []byte, signature string) error {
	adapter, err := s.gateways.Get(valueobject.RailCard)
	if err != nil {
		return err
	}
	parser, ok := adapter.(cardWebhookParser)
	if !ok {
		return apperror.New(apperror.ErrCodeGatewayUnavailable, "webhook карточного канала не поддерживается")
	}
	n, err := parser.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	return s.captureNotification(ctx, n)
}

// HandleRegionalNotification уведомление регионального шлюза.
func (s *Service) HandleRegionalNotification(ctx context.Context, body []byte) error {
	adapter, err := s.gateways.Get(valueobject.RailRegional)
	if err != nil {
		return err
	}
	parser, ok := adapter.(regionalNotificationParser)
	if !ok {
		return apperror.New(apperror.ErrCodeGatewayUnavailable, "уведомления регионального канала не поддерживаются")
	}
	n, err := parser.ParseNotification(body)
	if err != nil {
		return err
	}
	return s.captureNotification(ctx, n)
}

// captureNotification: повторная доставка уже учтённой оплаты не является ошибкой для провайдера.
func (s *Service) captureNotification(ctx context.Context, n *gateway.Notification) error {
	if n == nil {
		return nil
	}
	_, err := s.ledger.Capture(ctx, escrow.CaptureInput{
		PaymentID: n.PaymentID,
		Amount:    n.Amount,
		Reference: n.Reference,
		Trust:     valueobject.TrustStandard,
		Actor:     valueobject.SystemActor(),
		Metadata:  map[string]any{"source": "webhook"},
	})
	if apperror.Is(err, apperror.ErrCodeAlreadyCaptured) {
		logger.Log.WithField("payment_id", n.PaymentID).Info("Повторное уведомление об оплате пропущено")
		return nil
	}
	return err
}

// AttachReceipt сохраняет чек банковского перевода для разбора спорных оплат.
func (s *Service) AttachReceipt(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, r io.Reader) (*entity.Payment, error) {
	if _, err := s.ownedRequest(ctx, actor, requestID); err != nil {
		return nil, err
	}
	p, err := s.payments.FindLiveByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if p.Rail != valueobject.RailManual {
		return nil, apperror.New(apperror.ErrCodeValidation, "чек прикладывается только к банковскому переводу")
	}

	path, _, err := s.receipts.Save(ctx, p.ID, r)
	if err != nil {
		return nil, err
	}
	if err := s.payments.SetReceipt(ctx, p.ID, path); err != nil {
		return nil, err
	}
	p.ReceiptPath = &path
	return p, nil
}

// Get последний платёж заявки для её участников и администратора.
func (s *Service) Get(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID) (*entity.Payment, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.Is(valueobject.RoleAdmin) && !req.IsParticipant(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	return s.payments.FindLatestByRequestID(ctx, requestID)
}
