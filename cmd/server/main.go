package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/bootstrap"
	"github.com/erp/exchange/internal/infrastructure/config"
	"github.com/erp/exchange/internal/infrastructure/scheduler"
	"github.com/erp/exchange/internal/interfaces/http/handler"
	"github.com/erp/exchange/internal/interfaces/http/middleware"
	"github.com/erp/exchange/internal/interfaces/http/router"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		panic("Failed to initialize application: " + err.Error())
	}
	log := app.Logger

	log.Info("Starting exchange server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	queue, err := app.NewTaskQueue()
	if err != nil {
		log.Fatal("Failed to create task queue", zap.Error(err))
	}
	if err := queue.Start(ctx); err != nil {
		log.Fatal("Failed to start task queue", zap.Error(err))
	}

	// Sessions left running by a previous process are retried or failed
	// before new uploads are accepted.
	reaper := app.NewReaper(queue)
	if n, err := reaper.Recover(ctx); err != nil {
		log.Error("Failed to recover import sessions", zap.Error(err))
	} else if n > 0 {
		log.Info("Recovered import sessions", zap.Int("count", n))
	}

	var reaperTrigger *scheduler.PeriodicTrigger
	if cfg.Reaper.Enabled {
		reaperTrigger = scheduler.NewPeriodicTrigger("session-reaper", cfg.Reaper.Interval, func(ctx context.Context) error {
			_, err := reaper.Reap(ctx)
			return err
		}, log)
		if err := reaperTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start session reaper", zap.Error(err))
		}
	}

	engine, err := newEngine(app, queue)
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if reaperTrigger != nil {
		if err := reaperTrigger.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping session reaper", zap.Error(err))
		}
	}
	// Running imports finish or time out here; queued ones are picked up
	// by Recover on the next start.
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping task queue", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	app.Close(shutdownCtx)
}

func newEngine(app *bootstrap.App, enqueuer appexchange.TaskEnqueuer) (http.Handler, error) {
	cfg := app.Config

	authLimiter := middleware.NewRateLimiter(cfg.HTTP.AuthRateLimit, cfg.HTTP.AuthRateLimitBurst, 10*time.Minute)
	exchangeHandler := handler.NewExchangeHandler(app.NewGateway(enqueuer), handler.ExchangeHandlerConfig{
		CookieName: cfg.Exchange.CookieName,
		SessionTTL: cfg.Exchange.SessionTTL,
		Secure:     cfg.App.Env == "production",
		Spool:      app.Layout.CreateSpool,
	}, authLimiter, app.Logger)

	return router.NewEngine(router.EngineConfig{
		TrustedProxies:    cfg.HTTP.TrustedProxies,
		MaxBodySize:       cfg.HTTP.MaxBodySize,
		FileLimit:         cfg.Exchange.FileLimit,
		APIRateLimit:      cfg.HTTP.APIRateLimit,
		APIRateLimitBurst: cfg.HTTP.APIRateLimitBurst,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
		Meter:          app.Telemetry.Meter("http"),
		MetricsEnabled: cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
	}, router.EngineDeps{
		Exchange: exchangeHandler,
		Sessions: handler.NewImportSessionHandler(appexchange.NewImportSessionService(app.Repos.Sessions())),
		System:   handler.NewSystemHandler(version, app.HealthChecks()),
		Accounts: app.Repos.Accounts(),
	}, app.Logger)
}
