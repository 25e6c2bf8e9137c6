package router

import (
	"net/http"

	"github.com/erp/exchange/internal/infrastructure/logger"
	"github.com/erp/exchange/internal/interfaces/http/dto"
	"github.com/erp/exchange/internal/interfaces/http/handler"
	"github.com/erp/exchange/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ExchangePath is the single endpoint polled by 1C
const ExchangePath = "/exchange/1c"

// EngineConfig holds the HTTP settings of the engine
type EngineConfig struct {
	TrustedProxies []string
	// MaxBodySize limits operator API requests
	MaxBodySize int64
	// FileLimit limits exchange uploads; it is announced to 1C by mode=init
	FileLimit int64
	// APIRateLimit is requests per second per client IP on the operator API
	APIRateLimit      float64
	APIRateLimitBurst int
	Tracing           middleware.TracingConfig
	Meter             metric.Meter
	MetricsEnabled    bool
}

// EngineDeps are the handlers and collaborators mounted on the engine
type EngineDeps struct {
	Exchange *handler.ExchangeHandler
	Sessions *handler.ImportSessionHandler
	System   *handler.SystemHandler
	Accounts middleware.AccountFinder
}

// NewEngine builds the gin engine with the middleware stack and every route:
//
//	GET|POST /exchange/1c
//	GET      /api/v1/exchange/sessions
//	GET      /api/v1/exchange/sessions/:id
//	GET      /health
func NewEngine(cfg EngineConfig, deps EngineDeps, log *zap.Logger) (*gin.Engine, error) {
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	metrics, err := middleware.HTTPMetricsWithMeter(cfg.Meter, cfg.MetricsEnabled)
	if err != nil {
		return nil, err
	}

	// Order: request id first so every later middleware can log it; recovery
	// before the logger so a panic still produces an access line
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log, recoveryResponder))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(cfg.Tracing)...)
	engine.Use(metrics)
	engine.Use(middleware.Secure())

	engine.GET("/health", deps.System.Health)

	exchangeBody := middleware.BodyLimitWith(cfg.FileLimit,
		handler.ExchangeFailure(http.StatusRequestEntityTooLarge, "File too large"))
	engine.GET(ExchangePath, deps.Exchange.Handle)
	engine.POST(ExchangePath, exchangeBody, deps.Exchange.Handle)

	r := NewRouter(engine, WithAPIVersion("v1"))
	sessions := NewDomainGroup("exchange", "/exchange").Use(middleware.BodyLimit(cfg.MaxBodySize))
	if cfg.APIRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.APIRateLimit, cfg.APIRateLimitBurst, 0)
		sessions.Use(middleware.RateLimitByKey(limiter, middleware.ClientIPKey, tooManyRequests))
	}
	sessions.Use(middleware.StaffBasicAuth(deps.Accounts, log))
	sessions.GET("/sessions", deps.Sessions.List)
	sessions.GET("/sessions/:id", deps.Sessions.Get)
	r.Register(sessions)
	r.Setup()

	return engine, nil
}

// recoveryResponder answers a recovered panic in the dialect of the route:
// plain text on the exchange endpoint, JSON elsewhere
func recoveryResponder(c *gin.Context) {
	if c.FullPath() == ExchangePath {
		handler.ExchangeFailure(http.StatusInternalServerError, "Internal error")(c)
		return
	}
	c.JSON(http.StatusInternalServerError, dto.Failure(
		dto.ErrCodeInternal, "An unexpected error occurred", c.GetString(middleware.RequestIDKey)))
}

func tooManyRequests(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, dto.Failure(
		dto.ErrCodeRateLimited, "Too many requests. Please try again later.", c.GetString(middleware.RequestIDKey)))
}
