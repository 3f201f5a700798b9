package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

const paymentIDMetadataKey = "payment_id"

// cardAPI часть stripe-клиента, которой пользуется адаптер.
type cardAPI interface {
	NewIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetIntent(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	NewRefund(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeAPI struct {
	sc *client.API
}

func (s stripeAPI) NewIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.sc.PaymentIntents.New(params)
}

func (s stripeAPI) GetIntent(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.sc.PaymentIntents.Get(id, params)
}

func (s stripeAPI) NewRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	return s.sc.Refunds.New(params)
}

type CardAdapter struct {
	api           cardAPI
	webhookSecret string
}

// NewCardAdapter строит stripe-клиент без автоматических повторов, повтор решает вызывающий.
func NewCardAdapter(secretKey, webhookSecret string, timeout time.Duration) *CardAdapter {
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	})
	sc := &client.API{}
	sc.Init(secretKey, backends)

	return &CardAdapter{api: stripeAPI{sc: sc}, webhookSecret: webhookSecret}
}

func newCardAdapterWithAPI(api cardAPI, webhookSecret string) *CardAdapter {
	return &CardAdapter{api: api, webhookSecret: webhookSecret}
}

func (a *CardAdapter) Rail() valueobject.Rail {
	return valueobject.RailCard
}

func (a *CardAdapter) CreateIntent(ctx context.Context, in IntentInput) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(in.Amount),
		Currency:      stripe.String(in.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			paymentIDMetadataKey: in.PaymentID.String(),
			"request_id":         in.RequestID.String(),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("intent-" + in.PaymentID.String())

	pi, err := a.api.NewIntent(params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	return &Intent{
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

// Confirm запрашивает намерение у stripe, клиентскому подтверждению не доверяем.
func (a *CardAdapter) Confirm(ctx context.Context, in ConfirmInput) (*Confirmation, error) {
	if in.Reference == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "у платежа нет намерения в stripe")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := a.api.GetIntent(in.Reference, params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction:
		return nil, apperror.New(apperror.ErrCodeGatewayUnavailable, "оплата ещё обрабатывается, повторите позже")
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "оплата не прошла")
	}

	return &Confirmation{
		Reference: pi.ID,
		Amount:    pi.AmountReceived,
		Trust:     valueobject.TrustStandard,
	}, nil
}

func (a *CardAdapter) Verify(ctx context.Context, in VerifyInput) (*Confirmation, error) {
	return nil, apperror.New(apperror.ErrCodeInvalidTransition, "ручная проверка доступна только для банковского перевода")
}

func (a *CardAdapter) Refund(ctx context.Context, in RefundInput) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(in.Reference),
		Amount:        stripe.Int64(in.Amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + in.PaymentID.String())
	if in.Reason != "" {
		params.Metadata = map[string]string{"reason": in.Reason}
	}

	if _, err := a.api.NewRefund(params); err != nil {
		return mapStripeError(err)
	}
	return nil
}

// ParseWebhook проверяет подпись и извлекает успешную оплату. Прочие события возвращают nil.
func (a *CardAdapter) ParseWebhook(payload []byte, signature string) (*Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, rejected(err, "неверная подпись webhook")
	}
	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, rejected(err, "некорректное тело события")
	}
	paymentID, err := uuid.Parse(pi.Metadata[paymentIDMetadataKey])
	if err != nil {
		return nil, rejected(err, "в событии нет идентификатора платежа")
	}

	return &Notification{
		PaymentID: paymentID,
		Reference: pi.ID,
		Amount:    pi.AmountReceived,
	}, nil
}

// mapStripeError: сеть, 429 и 5xx считаются временной недоступностью.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return unavailable(err)
	}
	if stripeErr.HTTPStatusCode == 0 || stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500 {
		return unavailable(err)
	}
	return rejected(err, "платёж отклонён платёжной системой")
}
