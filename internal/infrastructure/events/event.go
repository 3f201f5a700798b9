package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	RequestCreated  Type = "request.created"
	RequestAccepted Type = "request.accepted"
	RequestDeclined Type = "request.declined"
	RequestRelisted Type = "request.relisted"
	RequestUpdated  Type = "request.updated"
	RequestCanceled Type = "request.cancelled"
	DisputeRaised   Type = "dispute.raised"
	DisputeResolved Type = "dispute.resolved"
	PaymentHeld     Type = "payment.held"
	PaymentReleased Type = "payment.released"
	PaymentRefunded Type = "payment.refunded"
	Divergence      Type = "reconciliation.divergence"
)

// Event доменное событие. Participants получают уведомление в реальном времени.
type Event struct {
	ID           uuid.UUID      `json:"id"`
	Type         Type           `json:"type"`
	RequestID    uuid.UUID      `json:"request_id"`
	Participants []uuid.UUID    `json:"participants,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

func New(t Type, requestID uuid.UUID, participants []uuid.UUID, data map[string]any) Event {
	return Event{
		ID:           uuid.New(),
		Type:         t,
		RequestID:    requestID,
		Participants: participants,
		Data:         data,
		OccurredAt:   time.Now().UTC(),
	}
}

// IsMoney события, меняющие денежные агрегаты.
func (e Event) IsMoney() bool {
	switch e.Type {
	case PaymentHeld, PaymentReleased, PaymentRefunded, DisputeRaised, DisputeResolved:
		return true
	}
	return false
}

// Publisher публикует события. Ошибки доставки не возвращаются вызывающему.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// Handler обработчик подписчика шины.
type Handler func(ctx context.Context, e Event) error

// BrokerPublisher внешний брокер, куда пересылаются события.
type BrokerPublisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Nop используется, когда шина не нужна (утилиты, тесты).
type Nop struct{}

func (Nop) Publish(ctx context.Context, events ...Event) {}
