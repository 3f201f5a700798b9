package dto

import (
	"time"
)

// CreateRequestRequest тело POST /api/requests.
type CreateRequestRequest struct {
	ServiceCategory string    `json:"service_category" binding:"required"`
	Location        string    `json:"location" binding:"required"`
	Notes           string    `json:"notes"`
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	Amount          *int64    `json:"amount"`
}

type RaiseDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CreateIntentRequest: amount 0 означает сумму из заявки.
type CreateIntentRequest struct {
	Rail   string `json:"rail" binding:"required"`
	Amount int64  `json:"amount"`
}

// ConfirmPaymentRequest подписанные поля, которые клиент получил от провайдера.
type ConfirmPaymentRequest struct {
	Proof map[string]string `json:"proof"`
}

type VerifyPaymentRequest struct {
	TransactionRef string `json:"transaction_ref" binding:"required"`
	PayerID        string `json:"payer_id"`
}

// LedgerActionRequest тело release/refund администратора.
type LedgerActionRequest struct {
	Reason         string `json:"reason"`
	Override       bool   `json:"override"`
	ResolveDispute bool   `json:"resolve_dispute"`
}

type ResolveDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type CreateWithdrawalRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

type ProcessWithdrawalRequest struct {
	Approve bool `json:"approve"`
}
