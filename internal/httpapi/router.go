package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/wanz-bot/Api/internal/accounts"
	"github.com/wanz-bot/Api/internal/config"
	"github.com/wanz-bot/Api/internal/gateway"
	"github.com/wanz-bot/Api/internal/ledger"
	"github.com/wanz-bot/Api/internal/logging"
	"github.com/wanz-bot/Api/internal/middleware"
	"github.com/wanz-bot/Api/internal/moderation"
	"github.com/wanz-bot/Api/internal/notify"
	"github.com/wanz-bot/Api/internal/providers"
	"github.com/wanz-bot/Api/internal/queue"
	"github.com/wanz-bot/Api/internal/ratelimit"
	"github.com/wanz-bot/Api/internal/scheduler"
	"github.com/wanz-bot/Api/internal/storage"
	"github.com/wanz-bot/Api/internal/utils"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Config    *config.Config
	Store     storage.Store
	Accounts  *accounts.Registry
	Ledger    *ledger.Ledger
	Blocklist *moderation.Blocklist
	Activity  *moderation.ActivityLog
	Gateway   *gateway.Service
	Provider  providers.Provider
	Notifier  notify.Notifier
	RateLimit ratelimit.Limiter

	// IPs resolves client addresses; nil trusts no proxy headers.
	IPs *middleware.IPResolver

	// Background workers, nil when not started
	Dispatcher    *notify.Dispatcher
	Scheduler     *scheduler.Scheduler
	RequestLogger *logging.AccessLogger

	notifyQueue queue.Queue
	logger      *utils.Logger
}

// NewRouter builds every component from cfg, starts the background workers
// and returns the HTTP handler.
func NewRouter(ctx context.Context, cfg *config.Config) (http.Handler, *Dependencies, error) {
	logger := utils.NewLogger("httpapi")

	store, redisClient, err := newStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	deps := &Dependencies{Config: cfg, Store: store, logger: logger}
	fail := func(err error) (http.Handler, *Dependencies, error) {
		deps.Close(context.Background())
		return nil, nil, err
	}

	deps.Ledger = ledger.New(store, ledger.Config{
		RecentLogSize: cfg.Ledger.RecentLogSize,
		CASRetries:    cfg.Ledger.CASRetries,
	})
	deps.Accounts = accounts.NewRegistry(store, deps.Ledger, cfg.Accounts.DefaultDailyLimit)
	deps.Blocklist = moderation.NewBlocklist(store)
	deps.Activity = moderation.NewActivityLog(store)

	deps.Provider, err = providers.New(ctx, cfg.Provider)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize provider: %w", err))
	}

	// Notifications
	deps.Notifier = notify.Noop{}
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken, cfg.Telegram.AdminChatID)
		if err != nil {
			return fail(err)
		}
		deps.Notifier = tg

		queueCfg := queue.DefaultConfig("notify")
		queueCfg.Capacity = cfg.Telegram.QueueSize
		if redisClient != nil {
			deps.notifyQueue, err = queue.NewRedisQueue(redisClient, queueCfg)
			if err != nil {
				return fail(err)
			}
		} else {
			deps.notifyQueue = queue.NewMemoryQueue(queueCfg)
		}
		deps.Dispatcher = notify.NewDispatcher(deps.notifyQueue, tg, queueCfg)
		deps.Dispatcher.Start(context.Background())
	}

	// Activity archive
	var archiver gateway.Archiver
	if cfg.Archive.Enabled {
		arch, err := logging.NewS3Archiver(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Region, cfg.Archive.S3Prefix, cfg.Archive.PodName)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize archive: %w", err))
		}
		archiver = arch
	}

	gwDeps := gateway.Dependencies{
		Keys:      deps.Accounts,
		Ledger:    deps.Ledger,
		Blocklist: deps.Blocklist,
		Activity:  deps.Activity,
		Provider:  deps.Provider,
		Archiver:  archiver,
	}
	if deps.Dispatcher != nil {
		gwDeps.Publisher = deps.Dispatcher
	}
	deps.Gateway = gateway.NewService(gwDeps, gateway.Config{
		RequireAPIKey:    cfg.Gateway.RequireAPIKey,
		BlocklistEnabled: cfg.Gateway.BlocklistEnabled,
		DefaultModel:     cfg.Provider.DefaultModel,
		Timeout:          cfg.Provider.RequestTimeout,
	})

	deps.IPs, err = middleware.NewIPResolver(cfg.Proxy.TrustedProxies)
	if err != nil {
		return fail(err)
	}

	// Per-IP throttle
	switch {
	case cfg.RateLimit.PerMinute <= 0:
		deps.RateLimit = ratelimit.NewNoopLimiter()
	case redisClient != nil:
		deps.RateLimit = ratelimit.NewRateLimiter(redisClient)
	default:
		deps.RateLimit = ratelimit.NewMemoryLimiter()
	}

	deps.Scheduler, err = scheduler.New(deps.Ledger, cfg.Ledger.ResetSchedule)
	if err != nil {
		return fail(err)
	}
	deps.Scheduler.Start()

	if cfg.RequestLogger.Enabled {
		deps.RequestLogger, err = logging.NewAccessLogger(
			cfg.RequestLogger.FilePathTemplate,
			cfg.RequestLogger.MaxSize,
			cfg.RequestLogger.MaxFiles,
			cfg.RequestLogger.BufferSize,
			cfg.RequestLogger.FlushInterval,
		)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize request logger: %w", err))
		}
	}

	return NewHandler(deps), deps, nil
}

// newStore opens the configured backend. The Redis client is returned so
// the queue and rate limiter can share it; it is nil for other backends.
func newStore(ctx context.Context, cfg *config.Config) (storage.Store, *redis.Client, error) {
	var (
		store       storage.Store
		redisClient *redis.Client
	)

	switch cfg.Store.Backend {
	case config.BackendRedis:
		client, err := storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		store = storage.NewRedisStore(client, "")
		redisClient = client
	case config.BackendPostgres:
		pg, err := storage.NewPostgresStore(ctx, storage.DBConfig{
			DSN:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		store = pg
	case config.BackendMemory:
		store = storage.NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	// API key lookups dominate reads; the index is cached in process.
	if cfg.Cache.APIKeyCacheSize > 0 {
		cache := storage.NewLRUCache[[]byte](cfg.Cache.APIKeyCacheSize, cfg.Cache.APIKeyCacheTTL)
		store = storage.WithCache(store, accounts.IndexPrefix, cache)
	}
	return store, redisClient, nil
}

// NewHandler registers all routes on a new mux and wraps it with client IP
// resolution and the access log.
func NewHandler(deps *Dependencies) http.Handler {
	if deps.logger == nil {
		deps.logger = utils.NewLogger("httpapi")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	mux := http.NewServeMux()
	registerRoutes(mux, deps)
	return middleware.RealIP(deps.IPs)(middleware.AccessLog(deps.RequestLogger)(mux))
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	cfg := deps.Config
	throttle := middleware.RateLimit(deps.RateLimit, cfg.RateLimit.PerMinute)

	// Public
	mux.HandleFunc("/", deps.handleIndex)
	mux.HandleFunc("/health", deps.handleHealth)

	// Accounts
	mux.Handle("/register", throttle(http.HandlerFunc(deps.handleRegister)))
	mux.Handle("/login", throttle(http.HandlerFunc(deps.handleLogin)))
	mux.Handle("/reset-key", throttle(http.HandlerFunc(deps.handleResetKey)))
	mux.HandleFunc("/me", deps.handleMe)

	// Inference; /api is kept as an alias for older clients
	mux.Handle("/ai", throttle(http.HandlerFunc(deps.handleAI)))
	mux.Handle("/api", throttle(http.HandlerFunc(deps.handleAI)))

	// Admin, gated by ?secret=
	admin := middleware.AdminSecret(cfg.Admin.Secret)
	mux.Handle("/admin", admin(http.HandlerFunc(deps.handleAdminDashboard)))
	mux.Handle("/admin/logs", admin(http.HandlerFunc(deps.handleAdminLogs)))
	mux.Handle("/admin/blocklist", admin(http.HandlerFunc(deps.handleAdminBlocklist)))
	mux.Handle("/admin/block", admin(http.HandlerFunc(deps.handleAdminBlock)))
	mux.Handle("/admin/unblock", admin(http.HandlerFunc(deps.handleAdminUnblock)))
	mux.Handle("/admin/reset", admin(http.HandlerFunc(deps.handleAdminReset)))

	// Telegram bot webhook
	mux.HandleFunc("/telegram", deps.handleTelegram)
}

// Close stops background workers and releases the store. Safe to call on a
// partially built Dependencies.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error

	if d.Scheduler != nil {
		d.Scheduler.Stop(ctx)
	}
	if d.Dispatcher != nil {
		_ = d.Dispatcher.Stop()
	}
	if d.notifyQueue != nil {
		if err := d.notifyQueue.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.RequestLogger != nil {
		d.RequestLogger.Shutdown()
	}
	if d.Provider != nil {
		if err := d.Provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close provider: %w", err))
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
