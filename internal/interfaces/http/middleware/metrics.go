package middleware

import (
	"strconv"
	"time"

	"github.com/erp/exchange/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type httpMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	in := telemetry.NewInstruments(meter)
	m := &httpMetrics{
		requests: in.Counter("http_server_request_total", "Total number of HTTP requests", "{request}"),
		duration: in.Histogram("http_server_request_duration_seconds",
			"HTTP request latency distribution in seconds", "s", telemetry.HTTPDurationBuckets),
		size: in.Histogram("http_server_request_size_bytes",
			"HTTP request body size distribution in bytes", "By", telemetry.SizeBuckets),
		inFlight: in.UpDownCounter("http_server_active_requests", "Number of currently active HTTP requests", "{request}"),
	}
	return m, in.Err()
}

// HTTPMetricsWithMeter returns a middleware recording request count, latency,
// body size and in-flight requests. Exchange requests are labelled by mode;
// a nil meter or disabled flag yields a pass-through.
func HTTPMetricsWithMeter(meter metric.Meter, enabled bool) (gin.HandlerFunc, error) {
	if !enabled || meter == nil {
		return func(c *gin.Context) { c.Next() }, nil
	}
	m, err := newHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()
		m.inFlight.Add(ctx, 1)
		defer m.inFlight.Add(ctx, -1)

		c.Next()

		route := routePattern(c)
		attrs := []attribute.KeyValue{
			attribute.String("method", c.Request.Method),
			attribute.String("route", route),
			attribute.String("exchange_mode", c.Query("mode")),
		}
		m.duration.Record(ctx, time.Since(start).Seconds(), telemetry.Attrs(attrs...))
		if size := c.Request.ContentLength; size > 0 {
			m.size.Record(ctx, float64(size), telemetry.Attrs(attrs...))
		}
		status := c.Writer.Status()
		m.requests.Add(ctx, 1, telemetry.Attrs(append(attrs,
			attribute.String("status_code", strconv.Itoa(status)),
			attribute.String("status_group", StatusGroup(status)),
		)...))
	}, nil
}

// routePattern keeps label cardinality bounded
func routePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// StatusGroup returns the status class label, 2xx for 204
func StatusGroup(statusCode int) string {
	class := statusCode / 100
	if class < 1 || class > 5 {
		class = 1
	}
	return strconv.Itoa(class) + "xx"
}
