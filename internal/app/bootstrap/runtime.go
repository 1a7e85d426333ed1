package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/lumen-clinic/internal/config"
	"github.com/wolfman30/lumen-clinic/internal/realtime"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildBroker picks the change feed. Without Redis, changes only reach
// subscribers connected to this process.
func BuildBroker(redisClient *redis.Client, clinicID string, logger *logging.Logger) (realtime.Broker, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if redisClient == nil {
		logger.Warn("redis not configured; live subscriptions limited to this instance")
		return realtime.NewMemoryBroker(logger), "memory"
	}
	return realtime.NewRedisBroker(redisClient, clinicID, logger), "redis"
}
