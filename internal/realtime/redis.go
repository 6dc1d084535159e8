package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sbt-vault/engine/pkg/logger"
	"go.uber.org/zap"
)

// Channel is the Redis pub/sub channel change events travel on.
const Channel = "vault:changes"

// RedisBroker relays events through Redis so every API instance's hub sees
// every change. Local delivery happens when the event comes back from Redis.
type RedisBroker struct {
	rdb *redis.Client
	hub *Hub
}

var _ Publisher = (*RedisBroker)(nil)

func NewRedisBroker(rdb *redis.Client, hub *Hub) *RedisBroker {
	return &RedisBroker{rdb: rdb, hub: hub}
}

func (b *RedisBroker) Publish(ctx context.Context, events ...Event) {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			logger.L().Error("marshal change event failed", zap.String("table", e.Table), zap.Error(err))
			continue
		}
		if err := b.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
			logger.L().Warn("redis publish failed, delivering locally", zap.String("table", e.Table), zap.Error(err))
			b.hub.Publish(ctx, e)
		}
	}
}

// Run forwards events from Redis to the local hub until ctx is done.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	logger.L().Info("realtime broker subscribed", zap.String("channel", Channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				logger.L().Warn("discarding malformed change event", zap.Error(err))
				continue
			}
			b.hub.Publish(ctx, e)
		}
	}
}
