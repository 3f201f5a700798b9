package gateway

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// Adapter единый контракт платёжного канала. Форматы провайдеров не выходят за пределы пакета.
type Adapter interface {
	Rail() valueobject.Rail
	CreateIntent(ctx context.Context, in IntentInput) (*Intent, error)
	Confirm(ctx context.Context, in ConfirmInput) (*Confirmation, error)
	Verify(ctx context.Context, in VerifyInput) (*Confirmation, error)
	Refund(ctx context.Context, in RefundInput) error
}

type IntentInput struct {
	PaymentID uuid.UUID
	RequestID uuid.UUID
	Amount    int64
	Currency  string
}

// Intent то, что клиент получает для оплаты.
type Intent struct {
	Reference     string
	ClientSecret  string
	RedirectURL   string
	PayeeAccount  string
	PayeeName     string
	ReferenceCode string
}

// Secret значение, сохраняемое в payments.intent_secret.
func (i *Intent) Secret() string {
	switch {
	case i.ClientSecret != "":
		return i.ClientSecret
	case i.ReferenceCode != "":
		return i.ReferenceCode
	default:
		return i.RedirectURL
	}
}

type ConfirmInput struct {
	PaymentID uuid.UUID
	Reference string
	Amount    int64
	// Proof подписанные поля подтверждения от провайдера, если клиент их передал.
	Proof map[string]string
}

type VerifyInput struct {
	PaymentID      uuid.UUID
	Amount         int64
	TransactionRef string
	UserSuppliedID string
}

// Confirmation результат проверки оплаты.
type Confirmation struct {
	Reference   string
	Amount      int64
	Trust       valueobject.TrustLevel
	Fingerprint string
}

type RefundInput struct {
	PaymentID uuid.UUID
	Reference string
	Amount    int64
	Reason    string
}

// Notification подтверждение, присланное провайдером на webhook.
type Notification struct {
	PaymentID uuid.UUID
	Reference string
	Amount    int64
}

type Registry struct {
	adapters map[valueobject.Rail]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[valueobject.Rail]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Rail()] = a
		}
	}
	return r
}

// Get: незарегистрированный канал считается недоступным шлюзом.
func (r *Registry) Get(rail valueobject.Rail) (Adapter, error) {
	if !rail.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный платёжный канал")
	}
	a, ok := r.adapters[rail]
	if !ok {
		return nil, apperror.New(apperror.ErrCodeGatewayUnavailable, "платёжный канал не настроен")
	}
	return a, nil
}

func (r *Registry) Rails() []valueobject.Rail {
	rails := make([]valueobject.Rail, 0, len(r.adapters))
	for rail := range r.adapters {
		rails = append(rails, rail)
	}
	sort.Slice(rails, func(i, j int) bool { return rails[i] < rails[j] })
	return rails
}

func unavailable(err error) error {
	return apperror.Wrap(err, apperror.ErrCodeGatewayUnavailable, apperror.ErrGatewayUnavailable.Message)
}

func rejected(err error, message string) error {
	return apperror.Wrap(err, apperror.ErrCodeValidation, message)
}
