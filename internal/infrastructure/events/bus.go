package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/helper-escrow/internal/goroutine"
	"github.com/ignatzorin/helper-escrow/internal/logger"
)

const topic = "helper-escrow.events"

// Bus внутрипроцессная шина на watermill gochannel.
type Bus struct {
	pubsub   *gochannel.GoChannel
	recovery *goroutine.RecoveryHandler
}

func NewBus() *Bus {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		NewLogrusAdapter(logger.Log),
	)
	return &Bus{
		pubsub:   pubsub,
		recovery: goroutine.NewRecoveryHandler(logger.Log),
	}
}

// Publish отправляет события подписчикам. Ошибки только логируются.
func (b *Bus) Publish(ctx context.Context, events ...Event) {
	msgs := make([]*message.Message, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			logger.Log.WithError(err).WithField("event", e.Type).Warn("Не удалось сериализовать событие")
			continue
		}
		msg := message.NewMessage(e.ID.String(), payload)
		msg.Metadata.Set("type", string(e.Type))
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}
	if err := b.pubsub.Publish(topic, msgs...); err != nil {
		logger.Log.WithError(err).Warn("Не удалось опубликовать события")
	}
}

// Subscribe регистрирует обработчик. Сообщение подтверждается всегда: повтор доставки не нужен.
func (b *Bus) Subscribe(ctx context.Context, name string, h Handler) error {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	b.recovery.Go(ctx, "bus:"+name, func(ctx context.Context) {
		for msg := range msgs {
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				logger.Log.WithError(err).WithField("subscriber", name).Warn("Некорректное событие в шине")
				msg.Ack()
				continue
			}
			// panic одного подписчика не останавливает его цикл чтения.
			b.recovery.Run("bus:"+name+":"+string(e.Type), func() {
				if err := h(ctx, e); err != nil {
					logger.Log.WithFields(logrus.Fields{
						"subscriber": name,
						"event":      e.Type,
						"request_id": e.RequestID,
					}).WithError(err).Warn("Подписчик не обработал событие")
				}
			})
			msg.Ack()
		}
	})
	return nil
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// logrusAdapter подключает логи watermill к общему логгеру.
type logrusAdapter struct {
	entry *logrus.Entry
}

func NewLogrusAdapter(log *logrus.Logger) watermill.LoggerAdapter {
	return &logrusAdapter{entry: logrus.NewEntry(log).WithField("component", "watermill")}
}

func (l *logrusAdapter) fields(fields watermill.LogFields) *logrus.Entry {
	return l.entry.WithFields(logrus.Fields(fields))
}

func (l *logrusAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.fields(fields).WithError(err).Error(msg)
}

func (l *logrusAdapter) Info(msg string, fields watermill.LogFields) {
	l.fields(fields).Info(msg)
}

func (l *logrusAdapter) Debug(msg string, fields watermill.LogFields) {
	l.fields(fields).Debug(msg)
}

func (l *logrusAdapter) Trace(msg string, fields watermill.LogFields) {
	l.fields(fields).Trace(msg)
}

func (l *logrusAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &logrusAdapter{entry: l.fields(fields)}
}
