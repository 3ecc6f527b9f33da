// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/api"
	"github.com/JakeFAU/link-preview/internal/browser"
	"github.com/JakeFAU/link-preview/internal/cache"
	"github.com/JakeFAU/link-preview/internal/cache/memory"
	redisstore "github.com/JakeFAU/link-preview/internal/cache/redis"
	"github.com/JakeFAU/link-preview/internal/config"
	"github.com/JakeFAU/link-preview/internal/service"
	"github.com/JakeFAU/link-preview/internal/telemetry"
)

const tracerShutdownTimeout = 5 * time.Second

// App holds the shared, long-lived services: the cache manager, the preview
// service, and the HTTP server built on top of them.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	cache   *cache.Manager
	service *service.Service
	server  *api.Server
	tracer  *sdktrace.TracerProvider
}

// Option overrides a dependency App would otherwise build from config.
type Option func(*options)

type options struct {
	store    cache.Store
	launcher browser.Launcher
}

// WithStore replaces the configured cache store.
func WithStore(s cache.Store) Option {
	return func(o *options) { o.store = s }
}

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l browser.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// New builds the application services. It fails fast when the cache does not
// become ready within cfg.Cache.ConnectTimeout.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var tp *sdktrace.TracerProvider
	if cfg.Tracing.Enabled {
		var err error
		tp, err = telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	store := o.store
	if store == nil {
		var err error
		store, err = NewStore(cfg.Cache)
		if err != nil {
			shutdownTracer(tp, logger)
			return nil, err
		}
	}
	mgr := cache.NewManager(store, cache.Options{
		TTL:               cfg.Cache.TTL(),
		ReadyPollInterval: cfg.Cache.ReadyPollInterval,
	}, logger)

	readyCtx := ctx
	if cfg.Cache.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, cfg.Cache.ConnectTimeout)
		defer cancel()
	}
	if err := mgr.WaitReady(readyCtx); err != nil {
		if cerr := mgr.Close(); cerr != nil {
			logger.Warn("close cache after failed connect", zap.Error(cerr))
		}
		shutdownTracer(tp, logger)
		return nil, fmt.Errorf("connect cache: %w", err)
	}

	launcher := o.launcher
	if launcher == nil {
		launcher = browser.NewChromeLauncher(BrowserOptions(cfg.Browser), logger)
	}

	svc := service.New(mgr, launcher, service.Config{
		TTL:            cfg.Cache.TTL(),
		RefreshTimeout: cfg.Cache.RefreshTimeout,
		MaxBatch:       cfg.Preview.MaxBatch,
		SingleFlight:   cfg.Preview.SingleFlight,
	}, logger)

	logger.Info("application services initialized",
		zap.String("cache_store", cfg.Cache.Store),
		zap.Duration("cache_ttl", cfg.Cache.TTL()),
		zap.Bool("tracing", tp != nil),
	)

	return &App{
		cfg:     cfg,
		logger:  logger,
		cache:   mgr,
		service: svc,
		server:  api.NewServer(svc, mgr, cfg, logger),
		tracer:  tp,
	}, nil
}

// NewStore builds the cache store selected by cfg.Store.
func NewStore(cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Store {
	case config.StoreRedis:
		s, err := redisstore.NewFromURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		return s, nil
	case config.StoreMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown cache store: %q", cfg.Store)
	}
}

// BrowserOptions maps config onto launcher options.
func BrowserOptions(cfg config.BrowserConfig) browser.Options {
	return browser.Options{
		ExecPath:       cfg.ExecPath,
		UserAgent:      cfg.UserAgent,
		Referer:        cfg.Referer,
		LaunchTimeout:  cfg.LaunchTimeout,
		NavTimeout:     cfg.NavTimeout,
		NavAttempts:    cfg.NavAttempts,
		RetryDelay:     cfg.RetryDelay,
		ReadyTimeout:   cfg.ReadyTimeout,
		ReadyMinChars:  cfg.ReadyMinChars,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		ViewportJitter: cfg.ViewportJitter,
		DomainQPS:      cfg.DomainQPS,
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Cache exposes the cache manager for admin commands.
func (a *App) Cache() *cache.Manager {
	return a.cache
}

// Service returns the preview service.
func (a *App) Service() *service.Service {
	return a.service
}

// Handler returns the HTTP handler for use with http.Server.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Close waits for background cache refreshes, then closes the cache and
// flushes pending spans.
func (a *App) Close() {
	a.service.Wait()
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("error closing cache", zap.Error(err))
	}
	shutdownTracer(a.tracer, a.logger)
}

func shutdownTracer(tp *sdktrace.TracerProvider, logger *zap.Logger) {
	if tp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		logger.Warn("error shutting down tracer provider", zap.Error(err))
	}
}
