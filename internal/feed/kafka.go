package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/therafiali/internal-app-sub002/internal/domain"
)

// Kafka publishes change events to a topic, keyed by the changed row
// so per-row ordering survives partitioning. Used where the console
// feeds downstream reporting instead of (or alongside) the UI pub/sub.
type Kafka struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewKafka(brokers []string, topic string, log *slog.Logger) *Kafka {
	if log == nil {
		log = slog.Default()
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		log: log,
	}
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func (k *Kafka) publish(ctx context.Context, key string, ev Event) {
	ev.At = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		k.log.Error("feed_marshal_failed", "type", ev.Type, "error", err)
		return
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  ev.At,
	})
	if err != nil {
		k.log.Warn("feed_publish_failed", "topic", k.writer.Topic, "type", ev.Type, "error", err)
	}
}

func (k *Kafka) RequestChanged(ctx context.Context, kind domain.Kind, requestID string) {
	k.publish(ctx, string(kind)+":"+requestID, Event{Type: EventRequestChanged, Kind: kind, RequestID: requestID})
}

func (k *Kafka) AccountChanged(ctx context.Context, accountID string) {
	k.publish(ctx, "account:"+accountID, Event{Type: EventAccountChanged, AccountID: accountID})
}

func (k *Kafka) ClaimReleased(ctx context.Context, kind domain.Kind, requestID, actor string) {
	k.publish(ctx, string(kind)+":"+requestID, Event{Type: EventClaimReleased, Kind: kind, RequestID: requestID, Actor: actor})
}
