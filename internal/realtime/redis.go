package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"spark/internal/observability"

	"github.com/redis/go-redis/v9"
)

const changeChannelPrefix = "changes:"

// ChangeChannel derives the Redis channel name for a table.
func ChangeChannel(table Table) string {
	return changeChannelPrefix + string(table)
}

// RedisBroker publishes change events into Redis channels and forwards them
// from Redis into a local bus.
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker creates a broker using the provided Redis client.
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

// Publish sends ev to its table channel. A nil client is a no-op.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	if b.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	return b.rdb.Publish(ctx, ChangeChannel(ev.Table), payload).Err()
}

// Forward subscribes to every change channel and republishes each event into
// dst until ctx is cancelled. It returns once the subscription is confirmed.
func (b *RedisBroker) Forward(ctx context.Context, dst Publisher) error {
	if b.rdb == nil {
		return nil
	}
	sub := b.rdb.PSubscribe(ctx, changeChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe change channels: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.forward(ctx, dst, msg)
			}
		}
	}()

	return nil
}

func (b *RedisBroker) forward(ctx context.Context, dst Publisher, msg *redis.Message) {
	defer func() {
		if r := recover(); r != nil {
			observability.Logger.Error("PANIC in change forwarder",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		observability.Logger.WarnContext(ctx, "invalid change payload",
			slog.String("channel", msg.Channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if ev.Table == "" {
		ev.Table = Table(strings.TrimPrefix(msg.Channel, changeChannelPrefix))
	}
	if err := dst.Publish(ctx, ev); err != nil {
		observability.Logger.WarnContext(ctx, "forward change event failed",
			slog.String("channel", msg.Channel),
			slog.String("error", err.Error()),
		)
	}
}
