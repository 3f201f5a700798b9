package gateway

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

type snapAPI interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type coreAPI interface {
	CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
	RefundTransaction(orderID string, req *coreapi.RefundReq) (*coreapi.RefundResponse, *midtrans.Error)
}

// regionalStatus поля уведомления midtrans, участвующие в проверке.
type regionalStatus struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	TransactionID     string `json:"transaction_id"`
	FraudStatus       string `json:"fraud_status"`
}

type RegionalAdapter struct {
	serverKey string
	snap      snapAPI
	core      coreAPI
}

func NewRegionalAdapter(serverKey string, production bool, timeout time.Duration) *RegionalAdapter {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}
	midtrans.DefaultGoHttpClient = &http.Client{Timeout: timeout}

	var sClient snap.Client
	sClient.New(serverKey, env)
	var cClient coreapi.Client
	cClient.New(serverKey, env)

	return &RegionalAdapter{serverKey: serverKey, snap: &sClient, core: &cClient}
}

func newRegionalAdapterWithAPI(serverKey string, s snapAPI, c coreAPI) *RegionalAdapter {
	return &RegionalAdapter{serverKey: serverKey, snap: s, core: c}
}

func (a *RegionalAdapter) Rail() valueobject.Rail {
	return valueobject.RailRegional
}

// CreateIntent заводит заказ Snap. Идентификатор заказа совпадает с идентификатором платежа.
func (a *RegionalAdapter) CreateIntent(ctx context.Context, in IntentInput) (*Intent, error) {
	resp, midErr := a.snap.CreateTransaction(&snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  in.PaymentID.String(),
			GrossAmt: in.Amount,
		},
		CreditCard: &snap.CreditCardDetails{
			Secure: true,
		},
		EnabledPayments: snap.AllSnapPaymentType,
	})
	if midErr != nil {
		return nil, mapMidtransError(midErr)
	}

	return &Intent{
		Reference:    in.PaymentID.String(),
		ClientSecret: resp.Token,
		RedirectURL:  resp.RedirectURL,
	}, nil
}

// Confirm принимает подписанное уведомление, а без него спрашивает статус у midtrans.
func (a *RegionalAdapter) Confirm(ctx context.Context, in ConfirmInput) (*Confirmation, error) {
	var status regionalStatus
	if len(in.Proof) > 0 {
		status = regionalStatus{
			OrderID:           in.Proof["order_id"],
			StatusCode:        in.Proof["status_code"],
			GrossAmount:       in.Proof["gross_amount"],
			SignatureKey:      in.Proof["signature_key"],
			TransactionStatus: in.Proof["transaction_status"],
			TransactionID:     in.Proof["transaction_id"],
			FraudStatus:       in.Proof["fraud_status"],
		}
		if err := a.verifySignature(status); err != nil {
			return nil, err
		}
	} else {
		resp, midErr := a.core.CheckTransaction(in.PaymentID.String())
		if midErr != nil {
			return nil, mapMidtransError(midErr)
		}
		status = regionalStatus{
			OrderID:           resp.OrderID,
			StatusCode:        resp.StatusCode,
			GrossAmount:       resp.GrossAmount,
			TransactionStatus: resp.TransactionStatus,
			TransactionID:     resp.TransactionID,
			FraudStatus:       resp.FraudStatus,
		}
	}

	if status.OrderID != in.PaymentID.String() {
		return nil, apperror.New(apperror.ErrCodeValidation, "подтверждение относится к другому платежу")
	}
	return a.confirmation(status)
}

func (a *RegionalAdapter) Verify(ctx context.Context, in VerifyInput) (*Confirmation, error) {
	return nil, apperror.New(apperror.ErrCodeInvalidTransition, "ручная проверка доступна только для банковского перевода")
}

func (a *RegionalAdapter) Refund(ctx context.Context, in RefundInput) error {
	_, midErr := a.core.RefundTransaction(in.PaymentID.String(), &coreapi.RefundReq{
		RefundKey: "refund-" + in.PaymentID.String(),
		Amount:    in.Amount,
		Reason:    in.Reason,
	})
	if midErr != nil {
		return mapMidtransError(midErr)
	}
	return nil
}

// ParseNotification разбирает HTTP-уведомление midtrans.
// Ожидающие оплаты возвращают nil без ошибки: подтверждение придёт позже.
func (a *RegionalAdapter) ParseNotification(body []byte) (*Notification, error) {
	var status regionalStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, rejected(err, "некорректное уведомление")
	}
	if err := a.verifySignature(status); err != nil {
		return nil, err
	}

	paymentID, err := uuid.Parse(status.OrderID)
	if err != nil {
		return nil, rejected(err, "некорректный идентификатор заказа")
	}

	confirmation, err := a.confirmation(status)
	if apperror.Is(err, apperror.ErrCodeGatewayUnavailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &Notification{
		PaymentID: paymentID,
		Reference: confirmation.Reference,
		Amount:    confirmation.Amount,
	}, nil
}

// verifySignature: SHA512(order_id + status_code + gross_amount + server_key).
func (a *RegionalAdapter) verifySignature(s regionalStatus) error {
	sum := sha512.Sum512([]byte(s.OrderID + s.StatusCode + s.GrossAmount + a.serverKey))
	expected := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(s.SignatureKey))) != 1 {
		return apperror.New(apperror.ErrCodeValidation, "неверная подпись уведомления")
	}
	return nil
}

func (a *RegionalAdapter) confirmation(s regionalStatus) (*Confirmation, error) {
	switch s.TransactionStatus {
	case "capture":
		if s.FraudStatus == "challenge" {
			return nil, apperror.New(apperror.ErrCodeGatewayUnavailable, "оплата на проверке у банка, повторите позже")
		}
	case "settlement":
	case "pending":
		return nil, apperror.New(apperror.ErrCodeGatewayUnavailable, "оплата ещё не завершена, повторите позже")
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "оплата не прошла")
	}

	amount, err := parseGrossAmount(s.GrossAmount)
	if err != nil {
		return nil, err
	}

	reference := s.TransactionID
	if reference == "" {
		reference = s.OrderID
	}
	return &Confirmation{
		Reference: reference,
		Amount:    amount,
		Trust:     valueobject.TrustStandard,
	}, nil
}

// parseGrossAmount: midtrans присылает сумму строкой вида "499.00".
func parseGrossAmount(raw string) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, rejected(err, "некорректная сумма в уведомлении")
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, apperror.ErrAmountMismatch
	}
	return d.IntPart(), nil
}

func mapMidtransError(err *midtrans.Error) error {
	if err.StatusCode == 0 || err.StatusCode == http.StatusTooManyRequests || err.StatusCode >= 500 {
		return unavailable(err)
	}
	return rejected(err, "платёж отклонён платёжной системой")
}
