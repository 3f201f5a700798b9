package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

// Payment денежная часть заявки. Сумма и канал неизменны после удержания.
type Payment struct {
	ID                    uuid.UUID
	RequestID             uuid.UUID
	Amount                int64
	Currency              string
	Rail                  valueobject.Rail
	EscrowState           valueobject.EscrowState
	GatewayReference      *string
	IntentSecret          *string
	TrustLevel            valueobject.TrustLevel
	ReferenceFingerprint  *string
	ReceiptPath           *string
	VerifiedAt            *time.Time
	HelperShare           *int64
	PlatformFee           *int64
	ProviderRefundPending bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
	HeldAt                *time.Time
	ReleasedAt            *time.Time
	RefundedAt            *time.Time
}

func NewPayment(requestID uuid.UUID, amount int64, currency string, rail valueobject.Rail, now time.Time) (*Payment, error) {
	if _, err := valueobject.NewAmount(amount); err != nil {
		return nil, err
	}
	if !rail.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный платёжный канал")
	}
	if currency == "" {
		currency = "usd"
	}

	return &Payment{
		ID:          uuid.New(),
		RequestID:   requestID,
		Amount:      amount,
		Currency:    currency,
		Rail:        rail,
		EscrowState: valueobject.EscrowNone,
		TrustLevel:  rail.DefaultTrust(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsLive платёж блокирует создание нового, пока не возвращён.
func (p *Payment) IsLive() bool {
	return p.EscrowState != valueobject.EscrowRefunded
}

// IsCaptured средства удержаны или уже выплачены.
func (p *Payment) IsCaptured() bool {
	return p.EscrowState == valueobject.EscrowHeld || p.EscrowState == valueobject.EscrowReleased
}

// Capture переводит платёж none -> held.
func (p *Payment) Capture(amount int64, reference string, trust valueobject.TrustLevel, now time.Time) error {
	if amount <= 0 {
		return apperror.ErrInvalidAmount
	}
	if !p.EscrowState.CanTransitionTo(valueobject.EscrowHeld) {
		return apperror.ErrAlreadyCaptured
	}
	if amount != p.Amount {
		return apperror.ErrAmountMismatch
	}

	p.EscrowState = valueobject.EscrowHeld
	if reference != "" {
		p.GatewayReference = &reference
	}
	if trust != "" {
		p.TrustLevel = trust
	}
	p.HeldAt = &now
	p.UpdatedAt = now
	return nil
}

// Release переводит held -> released и фиксирует раздел суммы.
func (p *Payment) Release(now time.Time) error {
	if !p.EscrowState.CanTransitionTo(valueobject.EscrowReleased) {
		return apperror.New(apperror.ErrCodeInvalidTransition, "выплатить можно только удержанные средства")
	}
	share, fee := valueobject.SplitAmount(p.Amount)
	p.EscrowState = valueobject.EscrowReleased
	p.HelperShare = &share
	p.PlatformFee = &fee
	p.ReleasedAt = &now
	p.UpdatedAt = now
	return nil
}

// Refund переводит held -> refunded.
func (p *Payment) Refund(now time.Time) error {
	if !p.EscrowState.CanTransitionTo(valueobject.EscrowRefunded) {
		return apperror.New(apperror.ErrCodeInvalidTransition, "вернуть можно только удержанные средства")
	}
	p.EscrowState = valueobject.EscrowRefunded
	p.RefundedAt = &now
	p.UpdatedAt = now
	return nil
}

func (p *Payment) MarkVerified(fingerprint string, now time.Time) {
	p.VerifiedAt = &now
	if fingerprint != "" {
		p.ReferenceFingerprint = &fingerprint
	}
}
