package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therafiali/internal-app-sub002/internal/domain"
)

// Channel names. Request events are fanned out per kind so the UI can
// subscribe to just the tab it renders; claim releases get their own
// channel so blocked operators can wait for a specific request.
const (
	ChannelRequests = "console:requests"
	ChannelAccounts = "console:accounts"
	ChannelClaims   = "console:claims"
)

// Redis publishes change events on pub/sub channels.
type Redis struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedis(client *redis.Client, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, log: log}
}

func (r *Redis) publish(ctx context.Context, channel string, ev Event) {
	ev.At = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("feed_marshal_failed", "type", ev.Type, "error", err)
		return
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		r.log.Warn("feed_publish_failed", "channel", channel, "type", ev.Type, "error", err)
	}
}

func (r *Redis) RequestChanged(ctx context.Context, kind domain.Kind, requestID string) {
	r.publish(ctx, ChannelRequests, Event{Type: EventRequestChanged, Kind: kind, RequestID: requestID})
}

func (r *Redis) AccountChanged(ctx context.Context, accountID string) {
	r.publish(ctx, ChannelAccounts, Event{Type: EventAccountChanged, AccountID: accountID})
}

func (r *Redis) ClaimReleased(ctx context.Context, kind domain.Kind, requestID, actor string) {
	r.publish(ctx, ChannelClaims, Event{Type: EventClaimReleased, Kind: kind, RequestID: requestID, Actor: actor})
}

// SubscribeClaimReleases delivers claim-release events until ctx ends.
// Desks blocked on an AlreadyClaimed conflict use this instead of
// polling; duplicates and reordering are expected, so handlers re-read
// the request before acting.
func (r *Redis) SubscribeClaimReleases(ctx context.Context, handle func(Event)) error {
	sub := r.client.Subscribe(ctx, ChannelClaims)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Warn("feed_decode_failed", "channel", ChannelClaims, "error", err)
				continue
			}
			handle(ev)
		}
	}
}
