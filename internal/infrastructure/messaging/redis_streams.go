package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStreamConfig configures the Redis Streams transport.
type RedisStreamConfig struct {
	// Block is how long XREADGROUP waits for new entries; go-redis omits
	// BLOCK for negative values.
	Block time.Duration `mapstructure:"block"`
	// PayloadField is the entry field holding the envelope JSON.
	PayloadField string `mapstructure:"payload_field"`
}

// RedisTransport implements Transport on Redis Streams consumer groups.
type RedisTransport struct {
	rdb          redis.UniversalClient
	block        time.Duration
	payloadField string
	logger       *zap.Logger
}

// NewRedisTransport wraps a connected Redis client.
func NewRedisTransport(rdb redis.UniversalClient, config RedisStreamConfig, logger *zap.Logger) *RedisTransport {
	if config.Block == 0 {
		config.Block = 2 * time.Second
	}
	if config.PayloadField == "" {
		config.PayloadField = "data"
	}
	return &RedisTransport{
		rdb:          rdb,
		block:        config.Block,
		payloadField: config.PayloadField,
		logger:       logger,
	}
}

// EnsureGroup creates the consumer group (and the stream) when missing.
func (t *RedisTransport) EnsureGroup(ctx context.Context, stream, group string) error {
	err := t.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}
	t.logger.Info("Consumer group ready", zap.String("stream", stream), zap.String("group", group))
	return nil
}

// ReadBatch implements Transport.
func (t *RedisTransport) ReadBatch(ctx context.Context, stream, group, consumer string, count int64) ([]StreamMessage, error) {
	res, err := t.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    t.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}

	var out []StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			msg := t.toStreamMessage(s.Stream, m)
			msg.DeliveryCount = 1
			out = append(out, msg)
		}
	}
	return out, nil
}

// Ack implements Transport.
func (t *RedisTransport) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := t.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", stream, err)
	}
	return nil
}

// Claim implements Transport.
func (t *RedisTransport) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, id string) (*StreamMessage, error) {
	msgs, err := t.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: []string{id},
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xclaim %s %s: %w", stream, id, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	msg := t.toStreamMessage(stream, msgs[0])
	return &msg, nil
}

// Pending implements Transport.
func (t *RedisTransport) Pending(ctx context.Context, stream, group, start, end string, count int64) ([]PendingClaim, error) {
	res, err := t.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  start,
		End:    end,
		Count:  count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xpending %s: %w", stream, err)
	}
	return toPendingClaims(res), nil
}

// RangeByID implements Transport.
func (t *RedisTransport) RangeByID(ctx context.Context, stream, id string) (*StreamMessage, error) {
	res, err := t.rdb.XRangeN(ctx, stream, id, id, 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xrange %s %s: %w", stream, id, err)
	}
	if len(res) == 0 {
		return nil, ErrMessageNotFound
	}
	msg := t.toStreamMessage(stream, res[0])
	return &msg, nil
}

func (t *RedisTransport) toStreamMessage(stream string, m redis.XMessage) StreamMessage {
	return StreamMessage{
		ID:      m.ID,
		Stream:  stream,
		Payload: fieldBytes(m.Values, t.payloadField),
	}
}

func fieldBytes(values map[string]interface{}, field string) []byte {
	switch v := values[field].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func toPendingClaims(res []redis.XPendingExt) []PendingClaim {
	out := make([]PendingClaim, len(res))
	for i, p := range res {
		out[i] = PendingClaim{
			MessageID:     p.ID,
			Idle:          p.Idle,
			Consumer:      p.Consumer,
			DeliveryCount: p.RetryCount,
		}
	}
	return out
}
