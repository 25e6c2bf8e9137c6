// Package middleware provides HTTP middleware for the exchange server.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestIDLength caps the request id copied into span attributes.
const MaxRequestIDLength = 128

// Gin context keys filled by the exchange handler for tracing and logging.
const (
	// ExchangeUserKey holds the authenticated 1C account name
	ExchangeUserKey = "exchange_user"
	// ExchangeFailureKey holds the reason of a protocol level "failure" reply.
	// The reply itself may carry status 200.
	ExchangeFailureKey = "exchange_failure"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// TracingWithConfig returns otelgin followed by a handler adding the exchange
// attributes to its span:
//   - request_id
//   - exchange.type and exchange.mode from the query string
//   - exchange.user once the handler authenticated the caller
//
// Responses with status >= 500 and protocol failures mark the span as failed.
// A disabled config yields an empty chain.
func TracingWithConfig(cfg TracingConfig) gin.HandlersChain {
	if !cfg.Enabled {
		return nil
	}
	return gin.HandlersChain{otelgin.Middleware(cfg.ServiceName), spanEnricher}
}

// spanEnricher runs inside the otelgin span, which ends once otelgin returns
func spanEnricher(c *gin.Context) {
	c.Next()

	span := trace.SpanFromContext(c.Request.Context())
	if !span.IsRecording() {
		return
	}
	enrichSpan(c, span)
	markSpanStatus(c, span)
}

func enrichSpan(c *gin.Context, span trace.Span) {
	if requestID := getRequestID(c); requestID != "" {
		span.SetAttributes(attribute.String("request_id", requestID))
	}
	if mode := c.Query("mode"); mode != "" {
		span.SetAttributes(
			attribute.String("exchange.mode", mode),
			attribute.String("exchange.type", c.Query("type")),
		)
	}
	if user := c.GetString(ExchangeUserKey); user != "" {
		span.SetAttributes(attribute.String("exchange.user", user))
	}
}

func markSpanStatus(c *gin.Context, span trace.Span) {
	status := c.Writer.Status()
	switch {
	case status >= http.StatusInternalServerError:
		span.SetStatus(codes.Error, "Internal Server Error")
	case c.GetString(ExchangeFailureKey) != "":
		span.SetStatus(codes.Error, c.GetString(ExchangeFailureKey))
	}
}

// getRequestID retrieves the request ID from the gin context or header.
func getRequestID(c *gin.Context) string {
	id := c.GetString(requestIDContextKey)
	if id == "" {
		id = c.GetHeader(RequestIDKey)
	}
	if len(id) > MaxRequestIDLength {
		return id[:MaxRequestIDLength]
	}
	return id
}
