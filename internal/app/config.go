package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/charlesng35/ticketdesk/internal/database"
)

// Config represents the runtime configuration of the ticket desk backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Auth       AuthConfig       `mapstructure:"auth"`
	ChangeFeed ChangeFeedConfig `mapstructure:"changefeed"`
	Push       PushConfig       `mapstructure:"push"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests per caller and route.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures token validation settings. Identities are issued elsewhere.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// Change feed sources.
const (
	FeedSourceLocal    = "local"
	FeedSourcePostgres = "postgres"
	FeedSourceRedis    = "redis"
)

// ChangeFeedConfig selects where row change events come from.
type ChangeFeedConfig struct {
	// Source is local (in-process capture), postgres (LISTEN on trigger notifications) or
	// redis (capture plus cross-instance relay).
	Source       string        `mapstructure:"source"`
	Channel      string        `mapstructure:"channel"`
	Buffer       int           `mapstructure:"buffer"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

// PushConfig holds the web push identity and housekeeping settings.
type PushConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	VAPIDPublicKey  string        `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string        `mapstructure:"vapid_private_key"`
	Subscriber      string        `mapstructure:"subscriber"`
	TTL             time.Duration `mapstructure:"ttl"`
	PruneSchedule   string        `mapstructure:"prune_schedule"`
	PruneAfter      time.Duration `mapstructure:"prune_after"`
	MaxFailures     int           `mapstructure:"max_failures"`
}

// WorkflowConfig tunes ticket assignment and resolution.
type WorkflowConfig struct {
	DefaultResolver string `mapstructure:"default_resolver"`
	CompletionNote  string `mapstructure:"completion_note"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("TICKETDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	source := strings.ToLower(strings.TrimSpace(c.ChangeFeed.Source))
	switch source {
	case FeedSourceLocal, FeedSourcePostgres:
	case FeedSourceRedis:
		if !c.Cache.Redis.Enabled {
			return errors.New("config: changefeed.source redis requires cache.redis.enabled")
		}
	default:
		return fmt.Errorf("config: unknown changefeed.source %q", c.ChangeFeed.Source)
	}
	if source == FeedSourcePostgres && database.NormalizeDriver(c.Database.Driver) != "postgres" {
		return errors.New("config: changefeed.source postgres requires database.driver postgres")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/ticketdesk.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.issuer", DefaultJWTIssuer)
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("changefeed.source", FeedSourceLocal)
	v.SetDefault("changefeed.channel", "ticketdesk_changes")
	v.SetDefault("changefeed.buffer", 256)
	v.SetDefault("changefeed.reconnect_min", "1s")
	v.SetDefault("changefeed.reconnect_max", "30s")

	v.SetDefault("push.enabled", true)
	v.SetDefault("push.subscriber", "mailto:ops@ticketdesk.local")
	v.SetDefault("push.ttl", "24h")
	v.SetDefault("push.prune_schedule", "@daily")
	v.SetDefault("push.prune_after", "168h")
	v.SetDefault("push.max_failures", 5)

	v.SetDefault("workflow.default_resolver", "")
	v.SetDefault("workflow.completion_note", "Work completed.")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
