package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ticketdesk/internal/auth"
	"github.com/charlesng35/ticketdesk/internal/changefeed"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 20, cfg.Server.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Server.RateLimit.Window)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 5*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.Equal(t, FeedSourcePostgres, cfg.ChangeFeed.SourceName())
	require.Equal(t, "desk_changes", cfg.ChangeFeed.Channel)
	require.Equal(t, changefeed.Backoff{Min: 2 * time.Second, Max: time.Minute}, cfg.ChangeFeed.Backoff())

	require.True(t, cfg.Push.Enabled)
	require.Equal(t, 12*time.Hour, cfg.Push.TTL)
	require.Equal(t, "@hourly", cfg.Push.PruneSchedule)
	require.Equal(t, 3, cfg.Push.MaxFailures)

	require.Equal(t, "maintenance-lead", cfg.Workflow.DefaultResolver)
	require.Equal(t, "Closed by maintenance.", cfg.Workflow.CompletionNote)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, FeedSourceLocal, cfg.ChangeFeed.SourceName())
	require.Equal(t, "Work completed.", cfg.Workflow.CompletionNote)
	require.Equal(t, 168*time.Hour, cfg.Push.PruneAfter)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{ChangeFeed: ChangeFeedConfig{Source: "kafka"}}
	require.ErrorContains(t, cfg.Validate(), "unknown changefeed.source")

	cfg = Config{ChangeFeed: ChangeFeedConfig{Source: FeedSourceRedis}}
	require.ErrorContains(t, cfg.Validate(), "cache.redis.enabled")

	cfg = Config{ChangeFeed: ChangeFeedConfig{Source: FeedSourcePostgres}, Database: DatabaseConfig{Driver: "sqlite"}}
	require.ErrorContains(t, cfg.Validate(), "database.driver postgres")

	cfg = Config{ChangeFeed: ChangeFeedConfig{Source: FeedSourcePostgres}, Database: DatabaseConfig{Driver: "postgresql"}}
	require.NoError(t, cfg.Validate())
}

func TestConfigAdapters(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{JWT: JWTSettings{Secret: "secret", Issuer: "issuer", TTL: 30 * time.Minute}},
		Database: DatabaseConfig{
			Driver: "MariaDB",
			MySQL:  DBAuthConfig{Host: " db ", Port: 3307, Database: "desk", Username: "u", Password: "p"},
		},
		Push: PushConfig{VAPIDPublicKey: " pub ", VAPIDPrivateKey: "priv", Subscriber: "mailto:x@y.z", TTL: time.Hour},
	}

	require.Equal(t, auth.JWTConfig{Secret: "secret", Issuer: "issuer", AccessTokenTTL: 30 * time.Minute}, cfg.Auth.JWTServiceConfig())
	require.Equal(t, auth.DefaultAccessTokenTTL, AuthConfig{}.JWTServiceConfig().AccessTokenTTL)
	require.Equal(t, DefaultJWTIssuer, AuthConfig{}.JWTServiceConfig().Issuer)

	conn := cfg.Database.Connection()
	require.Equal(t, "mysql", conn.Driver)
	require.Equal(t, "db", conn.Host)
	require.Equal(t, 3307, conn.Port)
	require.Equal(t, "desk", conn.Name)

	sender := cfg.Push.SenderConfig()
	require.Equal(t, "pub", sender.PublicKey)
	require.Equal(t, time.Hour, sender.TTL)

	require.Equal(t, "redis:1", CacheConfig{Redis: RedisCacheConfig{Address: " redis:1 "}}.RedisClientConfig().Address)

	relay := Config{Cache: CacheConfig{Redis: RedisCacheConfig{Enabled: true}}, ChangeFeed: ChangeFeedConfig{Source: "Redis"}}
	require.True(t, relay.RedisRequired())
	relay.ChangeFeed.Source = FeedSourceLocal
	require.False(t, relay.RedisRequired())
}
