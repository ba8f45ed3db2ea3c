package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/ticketdesk/internal/api"
	"github.com/charlesng35/ticketdesk/internal/app"
	"github.com/charlesng35/ticketdesk/internal/app/maintenance"
	iauth "github.com/charlesng35/ticketdesk/internal/auth"
	"github.com/charlesng35/ticketdesk/internal/cache"
	"github.com/charlesng35/ticketdesk/internal/changefeed"
	"github.com/charlesng35/ticketdesk/internal/database"
	"github.com/charlesng35/ticketdesk/internal/desk"
	"github.com/charlesng35/ticketdesk/internal/middleware"
	"github.com/charlesng35/ticketdesk/internal/monitoring"
	"github.com/charlesng35/ticketdesk/internal/push"
	"github.com/charlesng35/ticketdesk/internal/realtime"
	"github.com/charlesng35/ticketdesk/internal/security"
	"github.com/charlesng35/ticketdesk/internal/services"
)

// runner is a background loop that blocks until its context is done.
type runner struct {
	name string
	run  func(context.Context) error
}

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Feed       *changefeed.Feed
	Hub        *realtime.Hub
	Dispatcher *services.PushDispatcher
	Cleaner    *maintenance.Cleaner
	RateStore  middleware.RateStore
	Router     *gin.Engine

	runners []runner
}

// bootstrapRuntime initialises the database, the change feed, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{Feed: changefeed.New()}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial bootstrap cleanup failed", zap.Error(shutdownErr))
			}
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	source := cfg.ChangeFeed.SourceName()
	if cfg.Cache.Redis.Enabled {
		stack.Redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisClientConfig())
		switch {
		case err != nil && cfg.RedisRequired():
			return nil, fmt.Errorf("connect redis change relay: %w", err)
		case err != nil:
			log.Warn("redis unavailable; falling back to in-process rate limiting", zap.Error(err))
			stack.Redis = nil
		default:
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	conn := cfg.Database.Connection()
	stack.DB, err = database.Open(conn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := stack.wireChangeFeed(cfg, conn, source); err != nil {
		return nil, err
	}

	if err := database.Migrate(ctx, stack.DB); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info("database ready", zap.String("driver", conn.Driver), zap.String("changefeed", source))

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	tickets, err := services.NewTicketService(stack.DB,
		services.WithDefaultResolver(cfg.Workflow.DefaultResolver),
		services.WithCompletionNote(cfg.Workflow.CompletionNote))
	if err != nil {
		return nil, fmt.Errorf("initialise ticket service: %w", err)
	}
	chat, err := services.NewChatService(stack.DB, tickets)
	if err != nil {
		return nil, fmt.Errorf("initialise chat service: %w", err)
	}
	profiles, err := services.NewProfileService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise profile service: %w", err)
	}

	pushOpts := []services.PushServiceOption{services.WithMaxFailures(cfg.Push.MaxFailures)}
	if cfg.Push.Enabled {
		generated, err := app.ResolveVAPIDKeys(ctx, stack.DB, cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve vapid keys: %w", err)
		}
		if generated {
			log.Info("generated vapid key pair", zap.String("public_key", cfg.Push.VAPIDPublicKey))
		}
		sender, err := push.NewWebPushSender(cfg.Push.SenderConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise push sender: %w", err)
		}
		pushOpts = append(pushOpts, services.WithPushSender(sender), services.WithPublicKey(cfg.Push.VAPIDPublicKey))
	}
	pushSvc, err := services.NewPushService(stack.DB, pushOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise push service: %w", err)
	}

	var pruner maintenance.PushPruner
	if cfg.Push.Enabled {
		stack.Dispatcher = services.NewPushDispatcher(stack.Feed, pushSvc, tickets)
		if err := stack.Dispatcher.Start(); err != nil {
			return nil, err
		}
		pruner = pushSvc
	}

	stack.Hub = realtime.NewHub(stack.Feed, realtime.WithBufferSize(cfg.ChangeFeed.Buffer))

	stack.Cleaner = maintenance.NewCleaner(pruner,
		maintenance.WithPushSchedule(cfg.Push.PruneSchedule),
		maintenance.WithPushRetention(cfg.Push.PruneAfter))
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	if stack.Redis != nil {
		stack.RateStore = middleware.NewRedisRateStore(stack.Redis)
	} else {
		stack.RateStore = middleware.NewMemoryRateStore()
	}

	health := monitoring.NewHealthManager(0)
	health.RegisterLiveness(monitoring.Realtime(stack.Hub))
	health.RegisterReadiness(monitoring.Database(stack.DB))
	health.RegisterReadiness(monitoring.ChangeFeed(stack.Feed))
	if stack.Redis != nil {
		client := stack.Redis
		health.RegisterReadiness(monitoring.Redis(monitoring.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})))
	}

	svc := api.Services{Tickets: tickets, Chat: chat, Profiles: profiles, Push: pushSvc, Hub: stack.Hub, Health: health}
	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, cfg, svc, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	logAudit(log, security.NewAuditService(stack.DB, cfg).Run(ctx))

	success = true
	return stack, nil
}

func logAudit(log *zap.Logger, result security.Result) {
	for _, check := range result.Checks {
		fields := []zap.Field{zap.String("check", check.ID), zap.String("message", check.Message)}
		if check.Remediation != "" {
			fields = append(fields, zap.String("remediation", check.Remediation))
		}
		switch check.Status {
		case security.StatusFail:
			log.Error("security audit failed", fields...)
		case security.StatusWarn:
			log.Warn("security audit warning", fields...)
		}
	}
}

// wireChangeFeed connects the row change source selected by the configuration to the feed.
func (s *runtimeStack) wireChangeFeed(cfg *app.Config, conn database.Config, source string) error {
	tables := desk.ObservedTables()
	backoff := cfg.ChangeFeed.Backoff()

	switch source {
	case app.FeedSourceLocal:
		return s.DB.Use(changefeed.NewCapture(s.Feed, tables...))
	case app.FeedSourceRedis:
		if s.Redis == nil {
			return errors.New("changefeed.source redis requires a redis connection")
		}
		relay := changefeed.NewRedisRelay(s.Redis, cfg.ChangeFeed.Channel, s.Feed, backoff)
		s.runners = append(s.runners, runner{name: "redis-relay", run: relay.Run})
		return s.DB.Use(changefeed.NewCapture(relay, tables...))
	case app.FeedSourcePostgres:
		dsn, err := database.PostgresDSN(conn)
		if err != nil {
			return fmt.Errorf("change listener dsn: %w", err)
		}
		listener := changefeed.NewPostgresSource(dsn, database.ChangeChannel, s.Feed, nil, backoff)
		s.runners = append(s.runners, runner{name: "postgres-listener", run: listener.Run})
		return nil
	default:
		return fmt.Errorf("unsupported change feed source %q", source)
	}
}

// Shutdown stops background jobs and releases resources in reverse start order.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("maintenance stop: %w", ctx.Err()))
		}
	}
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.Dispatcher != nil {
		s.Dispatcher.Stop()
	}
	if s.Feed != nil {
		s.Feed.Close()
	}
	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		errs = multierr.Append(errs, closeDatabase(s.DB))
	}
	return errs
}

func closeDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql db: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
