package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/logger"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
)

const (
	minTransactionRefLength = 5
	referenceCodePrefix     = "HLP-"
	referenceCodeLength     = 8
	referenceAlphabet       = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// ManualAdapter банковский перевод на реквизиты платформы без провайдера.
type ManualAdapter struct {
	payeeAccount string
	payeeName    string
}

func NewManualAdapter(payeeAccount, payeeName string) *ManualAdapter {
	return &ManualAdapter{payeeAccount: payeeAccount, payeeName: payeeName}
}

func (a *ManualAdapter) Rail() valueobject.Rail {
	return valueobject.RailManual
}

func (a *ManualAdapter) CreateIntent(ctx context.Context, in IntentInput) (*Intent, error) {
	code, err := newReferenceCode()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сгенерировать код перевода")
	}
	return &Intent{
		Reference:     code,
		PayeeAccount:  a.payeeAccount,
		PayeeName:     a.payeeName,
		ReferenceCode: code,
	}, nil
}

func (a *ManualAdapter) Confirm(ctx context.Context, in ConfirmInput) (*Confirmation, error) {
	return nil, apperror.New(apperror.ErrCodeInvalidTransition, "перевод подтверждается через проверку номера операции")
}

// Verify принимает номер операции, введённый пользователем. Доверие к такому платежу понижено.
func (a *ManualAdapter) Verify(ctx context.Context, in VerifyInput) (*Confirmation, error) {
	ref := strings.TrimSpace(in.TransactionRef)
	if utf8.RuneCountInString(ref) < minTransactionRefLength {
		return nil, apperror.New(apperror.ErrCodeValidation, "номер операции должен содержать не менее 5 символов")
	}
	return &Confirmation{
		Reference:   ref,
		Amount:      in.Amount,
		Trust:       valueobject.TrustLow,
		Fingerprint: Fingerprint(ref),
	}, nil
}

// Refund по переводу выполняется вручную, адаптер только фиксирует это в логе.
func (a *ManualAdapter) Refund(ctx context.Context, in RefundInput) error {
	logger.Log.WithFields(logrus.Fields{
		"payment_id": in.PaymentID,
		"amount":     in.Amount,
		"reference":  in.Reference,
	}).Warn("Возврат по банковскому переводу требует ручной выплаты")
	return nil
}

// Fingerprint нормализует номер операции и хеширует его для поиска повторов.
func Fingerprint(ref string) string {
	normalized := strings.ToUpper(strings.Join(strings.Fields(ref), ""))
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func newReferenceCode() (string, error) {
	buf := make([]byte, referenceCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return referenceCodePrefix + string(buf), nil
}

func (a *ManualAdapter) Payee() (account, name string) {
	return a.payeeAccount, a.payeeName
}
