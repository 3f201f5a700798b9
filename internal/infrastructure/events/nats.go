package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ignatzorin/helper-escrow/internal/logger"
)

const streamName = "HELPER_ESCROW_EVENTS"

// NATSPublisher публикует события в JetStream, тема events.<тип>.
type NATSPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("не удалось создать JetStream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		// Поток мог быть создан другим экземпляром с иными настройками.
		logger.Log.WithError(err).Warn("Не удалось создать поток JetStream")
	}

	return &NATSPublisher{nc: nc, js: js}, nil
}

func subjectFor(e Event) string {
	return "events." + string(e.Type)
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	subject := subjectFor(e)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(e.ID.String())); err != nil {
		return fmt.Errorf("не удалось опубликовать событие в %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
