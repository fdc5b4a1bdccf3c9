package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/radiusdt/vector-promo/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOrderLog keeps the live order window in a sorted set scored by the
// order timestamp in milliseconds. Members are JSON-encoded orders.
type RedisOrderLog struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisOrderLog creates an order log under key. The whole set expires
// after ttl without writes.
func NewRedisOrderLog(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisOrderLog {
	return &RedisOrderLog{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

func (l *RedisOrderLog) AppendAndRead(ctx context.Context, order *models.Order, cutoff time.Time) ([]*models.Order, error) {
	member, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	cutoffMs := strconv.FormatInt(cutoff.UnixMilli(), 10)
	var rangeCmd *redis.StringSliceCmd

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, l.key, redis.Z{
			Score:  float64(order.Timestamp.UnixMilli()),
			Member: member,
		})
		pipe.ZRemRangeByScore(ctx, l.key, "-inf", cutoffMs)
		if l.ttl > 0 {
			pipe.Expire(ctx, l.key, l.ttl)
		}
		rangeCmd = pipe.ZRangeByScore(ctx, l.key, &redis.ZRangeBy{Min: "(" + cutoffMs, Max: "+inf"})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append order: %w", err)
	}

	return l.decode(rangeCmd.Val()), nil
}

func (l *RedisOrderLog) Read(ctx context.Context, cutoff time.Time) ([]*models.Order, error) {
	cutoffMs := strconv.FormatInt(cutoff.UnixMilli(), 10)

	members, err := l.client.ZRangeByScore(ctx, l.key, &redis.ZRangeBy{Min: "(" + cutoffMs, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	return l.decode(members), nil
}

// decode skips members that are not valid orders.
func (l *RedisOrderLog) decode(members []string) []*models.Order {
	orders := make([]*models.Order, 0, len(members))
	for _, m := range members {
		var o models.Order
		if err := json.Unmarshal([]byte(m), &o); err != nil || o.Timestamp.IsZero() {
			l.logger.Warn("skipping malformed order log entry",
				zap.String("key", l.key),
				zap.String("member", truncate(m, 128)),
			)
			continue
		}
		orders = append(orders, &o)
	}
	return orders
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
