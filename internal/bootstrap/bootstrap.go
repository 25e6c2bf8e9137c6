// Package bootstrap assembles the exchange runtime from configuration. It is
// shared by the server and exchangectl so both run imports the same way.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/infrastructure/cache"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/erp/exchange/internal/infrastructure/config"
	"github.com/erp/exchange/internal/infrastructure/event"
	"github.com/erp/exchange/internal/infrastructure/lock"
	"github.com/erp/exchange/internal/infrastructure/logger"
	"github.com/erp/exchange/internal/infrastructure/persistence"
	"github.com/erp/exchange/internal/infrastructure/scheduler"
	"github.com/erp/exchange/internal/infrastructure/storage"
	"github.com/erp/exchange/internal/infrastructure/telemetry"
	"github.com/erp/exchange/internal/interfaces/http/handler"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// App holds the long-lived infrastructure of one process
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Telemetry *telemetry.Providers
	DB        *persistence.Database
	Redis     *redis.Client
	Repos     *persistence.GormRepositories
	Sessions  exchange.ServerSessionStore
	Layout    *storage.Layout
	Publisher *event.FanoutPublisher
	Metrics   *telemetry.ExchangeMetrics
	Parser    *commerceml.Parser
	Runner    *appexchange.ImportRunner

	closers []func(ctx context.Context) error
}

// NewLogger builds the process logger. Extra cores receive every entry too.
func NewLogger(cfg config.LogConfig, extra ...zapcore.Core) (*zap.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, extra...)
}

// New connects every backend named by cfg and wires the import runner.
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config) (app *App, err error) {
	log, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app = &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			app.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := app.setupTelemetry(ctx); err != nil {
		return nil, err
	}
	if err := app.openDatabase(); err != nil {
		return nil, err
	}
	if err := app.connectRedis(ctx); err != nil {
		return nil, err
	}

	factory := cache.NewSessionStoreFactory(cfg.Exchange.SessionTTL,
		cache.WithRedisClient(app.Redis),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
		cache.WithLogger(app.Logger),
	)
	if app.Sessions, err = factory.CreateStore(); err != nil {
		return nil, err
	}
	if closer, ok := app.Sessions.(io.Closer); ok && app.Redis == nil {
		app.onClose(func(context.Context) error { return closer.Close() })
	}

	app.Layout = storage.NewLayout(cfg.Exchange.Root)
	if app.Publisher, err = event.NewPublisher(cfg.Kafka, app.Logger); err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}
	app.onClose(func(context.Context) error { return app.Publisher.Close() })

	if app.Metrics, err = telemetry.NewExchangeMetrics(app.Telemetry.Meter("exchange")); err != nil {
		return nil, fmt.Errorf("failed to create exchange metrics: %w", err)
	}

	app.Parser = commerceml.NewParser(
		commerceml.WithMaxSize(cfg.Exchange.MaxXMLFileSize),
		commerceml.WithLogger(app.Logger),
	)
	if err := app.buildRunner(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	tc := a.Config.Telemetry
	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		SamplingRatio:     tc.SamplingRatio,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
		MetricsEnabled:    tc.MetricsEnabled,
		MetricsInterval:   tc.MetricsInterval,
		LogsEnabled:       tc.LogsEnabled,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	a.Telemetry = providers
	a.onClose(providers.Shutdown)

	if tc.Enabled && tc.LogsEnabled {
		level := logger.ParseLevel(a.Config.Log.Level)
		log, err := NewLogger(a.Config.Log, providers.LogCore(level))
		if err != nil {
			return fmt.Errorf("failed to attach log exporter: %w", err)
		}
		a.Logger = log
	}
	return nil
}

func (a *App) openDatabase() error {
	gormLog := logger.NewGormLogger(a.Logger, logger.MapGormLogLevel(a.Config.Log.Level))
	db, err := persistence.Open(&a.Config.Database, persistence.WithGormLogger(gormLog))
	if err != nil {
		return err
	}
	a.DB = db
	a.onClose(func(context.Context) error { return db.Close() })

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:  a.Config.Telemetry.Enabled && a.Config.Telemetry.DBTraceEnabled,
		DBSystem: dbSystem(a.Config.Database.Driver),
	}, a.Logger); err != nil {
		return fmt.Errorf("failed to register database tracing: %w", err)
	}

	// sqlite is for local runs; postgres schemas come from cmd/migrate
	if a.Config.Database.Driver == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			return err
		}
	}
	a.Repos = persistence.NewRepositories(db.DB)
	a.Logger.Info("Database connected", zap.String("driver", a.Config.Database.Driver))
	return nil
}

func (a *App) connectRedis(ctx context.Context) error {
	client, err := cache.Connect(ctx, a.Config.Redis)
	switch {
	case errors.Is(err, cache.ErrRedisNotConfigured):
		return nil
	case err != nil && a.Config.App.Env == "production":
		return err
	case err != nil:
		a.Logger.Warn("Redis unreachable, continuing without it", zap.Error(err))
		return nil
	}
	a.Redis = client
	a.onClose(func(context.Context) error { return client.Close() })
	a.Logger.Info("Redis connected", zap.String("addr", a.Config.Redis.Addr()))
	return nil
}

func (a *App) buildRunner(ctx context.Context) error {
	cfg := a.Config
	importLock := lock.New(cfg.Lock, a.Redis, a.Logger)
	guard := appexchange.NewImportGuard(importLock, a.Repos.Sessions(), cfg.Lock.TTL, a.Logger)

	images, err := storage.NewImageStore(ctx, cfg.Storage, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create image storage: %w", err)
	}

	scope := persistence.NewGormTransactionScope(a.DB.DB)
	chunk := cfg.Exchange.ChunkSize
	brands := appexchange.NewBrandResolver(a.Metrics, a.Logger)

	a.Runner = appexchange.NewImportRunner(a.Repos.Sessions(), guard, a.Layout, a.Logger,
		appexchange.WithMetrics(a.Metrics),
		appexchange.WithPublisher(a.Publisher),
		appexchange.WithArchiveLimit(cfg.Exchange.MaxXMLFileSize),
	)
	a.Runner.Register(appexchange.NewCatalogProcessor(a.Parser, scope, brands, chunk, a.Logger),
		exchange.ImportTypeCatalog, exchange.ImportTypePrices, exchange.ImportTypeStocks)
	a.Runner.Register(appexchange.NewCustomerProcessor(a.Parser, scope, chunk, a.Logger),
		exchange.ImportTypeCustomers)
	a.Runner.Register(appexchange.NewImageProcessor(images, scope, chunk, a.Logger),
		exchange.ImportTypeImages)
	return nil
}

// NewTaskQueue creates the worker pool running the import runner
func (a *App) NewTaskQueue() (*scheduler.TaskQueue, error) {
	w := a.Config.Worker
	return scheduler.NewTaskQueue(scheduler.TaskQueueConfig{
		Concurrency:    w.Concurrency,
		QueueSize:      w.QueueSize,
		JobTimeout:     w.JobTimeout,
		RetryAttempts:  w.RetryAttempts,
		RetryBaseDelay: w.RetryBaseDelay,
		RetryMaxDelay:  w.RetryMaxDelay,
	}, a.Runner, a.Logger, scheduler.WithObserver(a.Metrics))
}

// NewReaper creates the stale session reaper. enqueuer may be nil when no
// worker pool runs in this process.
func (a *App) NewReaper(enqueuer appexchange.TaskEnqueuer) *appexchange.SessionReaper {
	return appexchange.NewSessionReaper(a.Repos.Sessions(), enqueuer, a.Publisher, a.Metrics, a.Config.Reaper.StaleAfter, a.Logger)
}

// NewGateway creates the exchange protocol service feeding enqueuer
func (a *App) NewGateway(enqueuer appexchange.TaskEnqueuer) *appexchange.GatewayService {
	cfg := a.Config.Exchange
	return appexchange.NewGatewayService(
		appexchange.GatewayConfig{FileLimit: cfg.FileLimit, ZipEnabled: cfg.ZipEnabled},
		appexchange.GatewayDeps{
			Accounts: a.Repos.Accounts(),
			Sessions: a.Repos.Sessions(),
			Orders:   a.Repos.Orders(),
			Store:    a.Sessions,
			Layout:   a.Layout,
			Enqueuer: enqueuer,
			Exporter: appexchange.NewOrderExporter(a.Repos.Orders(), a.Repos.Accounts(), cfg.ExportPageSize, cfg.EmailSalt, a.Logger),
			Statuses: appexchange.NewOrderStatusImporter(a.Parser, a.Repos.Orders(), a.Publisher, a.Logger),
		},
		a.Logger,
	)
}

// HealthChecks checks the database and, when connected, Redis
func (a *App) HealthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"database": a.DB.PingContext,
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything in reverse order of opening
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Logger.Warn("Error during shutdown", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}

func dbSystem(driver string) string {
	if driver == "sqlite" {
		return "sqlite"
	}
	return "postgresql"
}
