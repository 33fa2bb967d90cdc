package live

import (
	"context"
	"encoding/json"
	"fmt"

	"klinewatch/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes each record as JSON on "<prefix>:<SYMBOL>:<interval>".
type RedisPublisher struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisPublisher(rdb redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "klines"
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

func (p *RedisPublisher) Name() string { return "redis" }

// Channel returns the pub/sub channel of key.
func (p *RedisPublisher) Channel(key model.Key) string {
	return fmt.Sprintf("%s:%s:%s", p.prefix, key.Symbol, key.Interval)
}

func (p *RedisPublisher) Write(ctx context.Context, rec model.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.Channel(rec.Key()), string(payload)).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", rec.Key(), err)
	}
	return nil
}

// Ping checks the connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
