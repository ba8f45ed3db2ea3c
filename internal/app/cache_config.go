package app

import (
	"strings"

	"github.com/charlesng35/ticketdesk/internal/cache"
)

// RedisClientConfig converts cache.redis into the client settings shared by the change relay,
// the rate limit store and the readiness probe.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// RedisRequired reports whether startup must fail when redis is unreachable. Only the redis
// change relay depends on it; the other consumers fall back to in-process state.
func (c Config) RedisRequired() bool {
	return c.Cache.Redis.Enabled && c.ChangeFeed.SourceName() == FeedSourceRedis
}
