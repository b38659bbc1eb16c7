// Package notify publishes live-artifact changes and run outcomes to external systems.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/goal-calibrator/internal/config"
	"github.com/yourusername/goal-calibrator/internal/promotion"
)

const defaultLastUpdateKey = "last_update"

type redisSetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisLastUpdatePublisher writes the time of the last live change to a Redis
// key read by the prediction API's meta endpoint
type RedisLastUpdatePublisher struct {
	client redisSetter
	closer func() error
	key    string
	logger logrus.FieldLogger
}

// NewRedisLastUpdatePublisher connects to Redis. An unreachable server is
// logged and not fatal since publishing is best-effort.
func NewRedisLastUpdatePublisher(ctx context.Context, cfg config.RedisConfig, logger logrus.FieldLogger) *RedisLastUpdatePublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		logger.WithError(err).WithField("addr", cfg.Addr).Warn("Redis not reachable, last-update publishing may fail")
	}

	p := newRedisPublisher(client, cfg.Key, logger)
	p.closer = client.Close
	return p
}

func newRedisPublisher(client redisSetter, key string, logger logrus.FieldLogger) *RedisLastUpdatePublisher {
	if key == "" {
		key = defaultLastUpdateKey
	}
	return &RedisLastUpdatePublisher{
		client: client,
		key:    key,
		logger: logger.WithField("component", "redis_publisher"),
	}
}

// LiveUpdated stores the event time in RFC3339
func (p *RedisLastUpdatePublisher) LiveUpdated(ctx context.Context, event promotion.Event) error {
	value := event.At.UTC().Format(time.RFC3339)
	if err := p.client.Set(ctx, p.key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", p.key, err)
	}
	p.logger.WithFields(logrus.Fields{
		"key":   p.key,
		"value": value,
		"kind":  event.Kind,
	}).Debug("Published last update")
	return nil
}

// Close closes the Redis connection
func (p *RedisLastUpdatePublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
