package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/helper-escrow/internal/domain/entity"
	"github.com/ignatzorin/helper-escrow/internal/domain/repository"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/infrastructure/events"
	"github.com/ignatzorin/helper-escrow/internal/logger"
	"github.com/ignatzorin/helper-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/helper-escrow/internal/usecase/escrow"
)

type DivergenceKind string

const (
	// ConfirmedNotReleased подтверждённая работа, деньги по которой слишком долго не выплачены.
	ConfirmedNotReleased DivergenceKind = "confirmed_not_released"
	// CancelledStillHeld отменённая заявка с удержанными средствами.
	CancelledStillHeld DivergenceKind = "cancelled_still_held"
)

type Divergence struct {
	Kind      DivergenceKind `json:"kind"`
	RequestID uuid.UUID      `json:"request_id"`
	PaymentID uuid.UUID      `json:"payment_id"`
	Amount    int64          `json:"amount"`
	Repaired  bool           `json:"repaired"`
}

type Report struct {
	Checked       int          `json:"checked"`
	Divergences   []Divergence `json:"divergences"`
	Repaired      int          `json:"repaired"`
	RefundRetries int          `json:"refund_retries"`
}

type Ledger interface {
	Refund(ctx context.Context, actor valueobject.Actor, requestID uuid.UUID, opts escrow.RefundOptions) (*entity.Payment, error)
	RetryProviderRefund(ctx context.Context, p *entity.Payment) error
}

// Sweeper сверяет состояние заявок и удержаний и чинит то, что можно починить автоматически.
type Sweeper struct {
	payments  repository.PaymentRepository
	ledger    Ledger
	publisher events.Publisher
	grace     time.Duration
	now       func() time.Time
}

func NewSweeper(payments repository.PaymentRepository, ledger Ledger, publisher events.Publisher, grace time.Duration) *Sweeper {
	return &Sweeper{
		payments:  payments,
		ledger:    ledger,
		publisher: publisher,
		grace:     grace,
		now:       time.Now,
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{Divergences: []Divergence{}}
	now := s.now()

	stale, err := s.payments.ListHeldByRequestState(ctx, valueobject.StateConfirmed, now.Add(-s.grace))
	if err != nil {
		return nil, err
	}
	for _, p := range stale {
		report.Checked++
		s.diverged(ctx, report, Divergence{
			Kind:      ConfirmedNotReleased,
			RequestID: p.RequestID,
			PaymentID: p.ID,
			Amount:    p.Amount,
		})
	}

	cancelled, err := s.payments.ListHeldByRequestState(ctx, valueobject.StateCancelled, now)
	if err != nil {
		return nil, err
	}
	for _, p := range cancelled {
		report.Checked++
		d := Divergence{
			Kind:      CancelledStillHeld,
			RequestID: p.RequestID,
			PaymentID: p.ID,
			Amount:    p.Amount,
		}
		_, err := s.ledger.Refund(ctx, valueobject.SystemActor(), p.RequestID, escrow.RefundOptions{Reason: "reconcile_cancelled"})
		if err != nil {
			logger.ForPayment(p.RequestID, p.ID).WithError(err).Error("Не удалось вернуть средства по отменённой заявке")
		} else {
			d.Repaired = true
			report.Repaired++
		}
		s.diverged(ctx, report, d)
	}

	pending, err := s.payments.ListProviderRefundPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		report.Checked++
		if err := s.ledger.RetryProviderRefund(ctx, p); err == nil {
			report.RefundRetries++
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"checked":        report.Checked,
		"divergences":    len(report.Divergences),
		"repaired":       report.Repaired,
		"refund_retries": report.RefundRetries,
	}).Info("Сверка удержаний завершена")
	return report, nil
}

func (s *Sweeper) diverged(ctx context.Context, report *Report, d Divergence) {
	report.Divergences = append(report.Divergences, d)

	err := apperror.New(apperror.ErrCodeDivergence, string(d.Kind))
	logger.ForPayment(d.RequestID, d.PaymentID).WithFields(logrus.Fields{
		"kind":     d.Kind,
		"amount":   d.Amount,
		"repaired": d.Repaired,
	}).WithError(err).Error("Расхождение статуса заявки и удержания")

	s.publisher.Publish(ctx, events.New(events.Divergence, d.RequestID, nil, map[string]any{
		"kind":       d.Kind,
		"payment_id": d.PaymentID,
		"amount":     d.Amount,
		"repaired":   d.Repaired,
	}))
}
