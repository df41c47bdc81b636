package redis

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// DefaultBacklog is how many events each channel keeps for late joiners.
const DefaultBacklog int64 = 500

// SignalBus implements domain.SignalBus. Publish sends on Redis Pub/Sub and
// appends to a capped stream named "<channel>:log" in the same pipeline, so
// WebSocket clients and other processes can catch up on recent decisions,
// verdicts and cycles.
type SignalBus struct {
	rdb     *redis.Client
	backlog int64
}

// NewSignalBus creates a SignalBus backed by the given Client. A backlog of
// zero or less selects DefaultBacklog.
func NewSignalBus(c *Client, backlog int64) *SignalBus {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &SignalBus{rdb: c.Underlying(), backlog: backlog}
}

func logStream(channel string) string { return channel + ":log" }

// Publish delivers payload to subscribers of channel and records it in the
// channel backlog.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := sb.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, channel, payload)
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: logStream(channel),
			MaxLen: sb.backlog,
			Approx: true,
			Values: map[string]any{"payload": payload},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel (a glob
// pattern selects PSUBSCRIBE). The returned channel is closed when ctx is
// cancelled or the subscription drops.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Recent returns up to n of the latest payloads published on channel,
// oldest first.
func (sb *SignalBus) Recent(ctx context.Context, channel string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	entries, err := sb.rdb.XRevRangeN(ctx, logStream(channel), "+", "-", int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent %s: %w", channel, err)
	}
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if p, ok := streamPayload(e.Values); ok {
			out = append(out, p)
		}
	}
	slices.Reverse(out)
	return out, nil
}

func streamPayload(values map[string]any) ([]byte, bool) {
	switch v := values["payload"].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	}
	return nil, false
}

var _ domain.SignalBus = (*SignalBus)(nil)
