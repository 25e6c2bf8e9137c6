package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ginLoggerKey = "logger"

// GinMiddleware attaches a request-scoped logger to the gin and request
// contexts and writes one access line per request. 1C exchange calls also
// carry their type and mode.
func GinMiddleware(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request

		log := base.With(
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
		)
		if mode := c.Query("mode"); mode != "" {
			log = log.With(zap.String("type", c.Query("type")), zap.String("mode", mode))
		}
		c.Set(ginLoggerKey, log)

		ctx := WithContext(req.Context(), log)
		if id := c.GetString("request_id"); id != "" {
			ctx = WithRequestID(ctx, id)
		}
		c.Request = req.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		if ce := log.Check(accessLevel(status), "HTTP Request"); ce != nil {
			fields := []zap.Field{
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("client_ip", c.ClientIP()),
				zap.String("user_agent", req.UserAgent()),
				zap.Int("body_size", c.Writer.Size()),
			}
			if errs := c.Errors.Errors(); len(errs) > 0 {
				fields = append(fields, zap.Strings("errors", errs))
			}
			ce.Write(fields...)
		}
	}
}

func accessLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

// Recovery turns a handler panic into a logged error. respond writes the
// answer the client sees; without it the request ends with a bare 500.
func Recovery(base *zap.Logger, respond gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			base.Error("Panic recovered",
				zap.String("request_id", c.GetString("request_id")),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("error", rec),
				zap.Stack("stacktrace"),
			)
			if respond == nil {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			respond(c)
			c.Abort()
		}()
		c.Next()
	}
}

// GetGinLogger returns the request logger set by GinMiddleware, or a no-op
func GetGinLogger(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return zap.NewNop()
}
