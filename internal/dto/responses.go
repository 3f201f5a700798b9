package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/gateway"
)

type RequestResponse struct {
	ID              uuid.UUID  `json:"id"`
	RequesterID     uuid.UUID  `json:"requester_id"`
	HelperID        *uuid.UUID `json:"helper_id,omitempty"`
	ServiceCategory string     `json:"service_category"`
	Location        string     `json:"location"`
	Notes           string     `json:"notes,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	Amount          *int64     `json:"amount,omitempty"`
	State           string     `json:"state"`
	CancelDeadline  time.Time  `json:"cancel_deadline"`
	ViewedByHelper  bool       `json:"viewed_by_helper"`
	Version         int        `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
}

func NewRequestResponse(r *entity.Request) *RequestResponse {
	return &RequestResponse{
		ID:              r.ID,
		RequesterID:     r.RequesterID,
		HelperID:        r.HelperID,
		ServiceCategory: r.ServiceCategory,
		Location:        r.Location,
		Notes:           r.Notes,
		ScheduledAt:     r.ScheduledAt,
		Amount:          r.Amount,
		State:           string(r.State),
		CancelDeadline:  r.CancelDeadline,
		ViewedByHelper:  r.ViewedByHelper,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ArchivedAt:      r.ArchivedAt,
	}
}

func NewRequestList(requests []*entity.Request) []*RequestResponse {
	result := make([]*RequestResponse, 0, len(requests))
	for _, r := range requests {
		result = append(result, NewRequestResponse(r))
	}
	return result
}

// PaymentResponse: секрет интента и путь к чеку клиенту не отдаются.
type PaymentResponse struct {
	ID                    uuid.UUID  `json:"id"`
	RequestID             uuid.UUID  `json:"request_id"`
	Amount                int64      `json:"amount"`
	Currency              string     `json:"currency"`
	Rail                  string     `json:"rail"`
	EscrowState           string     `json:"escrow_state"`
	GatewayReference      *string    `json:"gateway_reference,omitempty"`
	TrustLevel            string     `json:"trust_level"`
	HasReceipt            bool       `json:"has_receipt"`
	VerifiedAt            *time.Time `json:"verified_at,omitempty"`
	HelperShare           *int64     `json:"helper_share,omitempty"`
	PlatformFee           *int64     `json:"platform_fee,omitempty"`
	ProviderRefundPending bool       `json:"provider_refund_pending"`
	HeldAt                *time.Time `json:"held_at,omitempty"`
	ReleasedAt            *time.Time `json:"released_at,omitempty"`
	RefundedAt            *time.Time `json:"refunded_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

func NewPaymentResponse(p *entity.Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:                    p.ID,
		RequestID:             p.RequestID,
		Amount:                p.Amount,
		Currency:              p.Currency,
		Rail:                  string(p.Rail),
		EscrowState:           string(p.EscrowState),
		GatewayReference:      p.GatewayReference,
		TrustLevel:            string(p.TrustLevel),
		HasReceipt:            p.ReceiptPath != nil,
		VerifiedAt:            p.VerifiedAt,
		HelperShare:           p.HelperShare,
		PlatformFee:           p.PlatformFee,
		ProviderRefundPending: p.ProviderRefundPending,
		HeldAt:                p.HeldAt,
		ReleasedAt:            p.ReleasedAt,
		RefundedAt:            p.RefundedAt,
		CreatedAt:             p.CreatedAt,
	}
}

type IntentResponse struct {
	Payment       *PaymentResponse `json:"payment"`
	Existing      bool             `json:"existing"`
	ClientSecret  string           `json:"client_secret,omitempty"`
	RedirectURL   string           `json:"redirect_url,omitempty"`
	PayeeAccount  string           `json:"payee_account,omitempty"`
	PayeeName     string           `json:"payee_name,omitempty"`
	ReferenceCode string           `json:"reference_code,omitempty"`
}

func NewIntentResponse(p *entity.Payment, intent *gateway.Intent, existing bool) *IntentResponse {
	resp := &IntentResponse{
		Payment:  NewPaymentResponse(p),
		Existing: existing,
	}
	if intent != nil {
		resp.ClientSecret = intent.ClientSecret
		resp.RedirectURL = intent.RedirectURL
		resp.PayeeAccount = intent.PayeeAccount
		resp.PayeeName = intent.PayeeName
		resp.ReferenceCode = intent.ReferenceCode
	}
	return resp
}

type DisputeResponse struct {
	ID           uuid.UUID  `json:"id"`
	RequestID    uuid.UUID  `json:"request_id"`
	RaisedByRole string     `json:"raised_by_role"`
	Reason       string     `json:"reason"`
	RaisedAt     time.Time  `json:"raised_at"`
	Resolved     bool       `json:"resolved"`
	Resolution   *string    `json:"resolution,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

func NewDisputeResponse(d *entity.DisputeFlag) *DisputeResponse {
	resp := &DisputeResponse{
		ID:           d.ID,
		RequestID:    d.RequestID,
		RaisedByRole: string(d.RaisedByRole),
		Reason:       d.Reason,
		RaisedAt:     d.RaisedAt,
		Resolved:     d.Resolved,
		ResolvedAt:   d.ResolvedAt,
	}
	if d.Resolution != nil {
		resolution := string(*d.Resolution)
		resp.Resolution = &resolution
	}
	return resp
}

type HistoryResponse struct {
	ID        uuid.UUID       `json:"id"`
	ActorID   *uuid.UUID      `json:"actor_id,omitempty"`
	ActorRole string          `json:"actor_role"`
	Action    string          `json:"action"`
	FromState string          `json:"from_state,omitempty"`
	ToState   string          `json:"to_state,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewHistoryList(entries []*entity.HistoryEntry) []*HistoryResponse {
	result := make([]*HistoryResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, &HistoryResponse{
			ID:        e.ID,
			ActorID:   e.ActorID,
			ActorRole: string(e.ActorRole),
			Action:    e.Action,
			FromState: e.FromState,
			ToState:   e.ToState,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	return result
}

type ActionsResponse struct {
	Actions []valueobject.Action `json:"actions"`
}

type WithdrawalResponse struct {
	ID          uuid.UUID  `json:"id"`
	HelperID    uuid.UUID  `json:"helper_id"`
	Amount      int64      `json:"amount"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func NewWithdrawalResponse(w *entity.Withdrawal) *WithdrawalResponse {
	return &WithdrawalResponse{
		ID:          w.ID,
		HelperID:    w.HelperID,
		Amount:      w.Amount,
		Status:      string(w.Status),
		CreatedAt:   w.CreatedAt,
		ProcessedAt: w.ProcessedAt,
	}
}

func NewWithdrawalList(withdrawals []*entity.Withdrawal) []*WithdrawalResponse {
	result := make([]*WithdrawalResponse, 0, len(withdrawals))
	for _, w := range withdrawals {
		result = append(result, NewWithdrawalResponse(w))
	}
	return result
}
