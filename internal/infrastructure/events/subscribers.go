package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// UserNotifier доставка события пользователю (websocket хаб).
type UserNotifier interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// Forwarder пересылает события во внешний брокер.
func Forwarder(broker BrokerPublisher) Handler {
	return func(ctx context.Context, e Event) error {
		return broker.Publish(ctx, e)
	}
}

// Notifier рассылает событие всем участникам заявки.
func Notifier(n UserNotifier) Handler {
	return func(ctx context.Context, e Event) error {
		var errs []error
		for _, userID := range e.Participants {
			if userID == uuid.Nil {
				continue
			}
			if err := n.BroadcastToUser(userID, string(e.Type), e); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
