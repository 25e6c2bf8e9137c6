package middleware

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/erp/exchange/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
	})
	return mp, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func attrValue(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.Emit()
}

func TestHTTPMetricsWithMeter_Disabled(t *testing.T) {
	mp, reader := setupTestMeter(t)

	mw, err := HTTPMetricsWithMeter(mp.Meter("http.server"), false)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(mw)
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	testutil.Do(t, engine, testutil.Request{Path: "/ping"})

	assert.Nil(t, findMetricByName(collectMetrics(t, reader), "http_server_request_total"))
}

func TestHTTPMetricsWithMeter_NilMeter(t *testing.T) {
	mw, err := HTTPMetricsWithMeter(nil, true)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(mw)
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	w := testutil.Do(t, engine, testutil.Request{Path: "/ping"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPMetricsWithMeter_ExchangeRequests(t *testing.T) {
	mp, reader := setupTestMeter(t)

	mw, err := HTTPMetricsWithMeter(mp.Meter("http.server"), true)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(mw)
	engine.POST("/exchange/1c", func(c *gin.Context) {
		if c.Query("mode") == "file" {
			c.String(http.StatusOK, "success\n")
			return
		}
		c.String(http.StatusUnauthorized, "failure\nNo session\n")
	})

	testutil.Do(t, engine, testutil.Request{
		Method: http.MethodPost,
		Path:   "/exchange/1c?type=catalog&mode=file&filename=import.xml",
		Body:   strings.NewReader("<КоммерческаяИнформация/>"),
	})
	testutil.Do(t, engine, testutil.Request{Method: http.MethodPost, Path: "/exchange/1c?type=catalog&mode=init"})
	testutil.Do(t, engine, testutil.Request{Path: "/nowhere"})

	rm := collectMetrics(t, reader)

	total := findMetricByName(rm, "http_server_request_total")
	require.NotNil(t, total)
	sum, ok := total.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byMode := map[string]metricdata.DataPoint[int64]{}
	for _, dp := range sum.DataPoints {
		byMode[attrValue(dp.Attributes, "route")+"|"+attrValue(dp.Attributes, "exchange_mode")] = dp
	}
	file := byMode["/exchange/1c|file"]
	assert.Equal(t, int64(1), file.Value)
	assert.Equal(t, "2xx", attrValue(file.Attributes, "status_group"))

	initDP := byMode["/exchange/1c|init"]
	assert.Equal(t, int64(1), initDP.Value)
	assert.Equal(t, "401", attrValue(initDP.Attributes, "status_code"))

	assert.Equal(t, int64(1), byMode["unmatched|"].Value)

	size := findMetricByName(rm, "http_server_request_size_bytes")
	require.NotNil(t, size)
	hist, ok := size.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	require.NotNil(t, findMetricByName(rm, "http_server_request_duration_seconds"))
	require.NotNil(t, findMetricByName(rm, "http_server_active_requests"))
}

func TestStatusGroup(t *testing.T) {
	tests := map[int]string{
		101: "1xx",
		200: "2xx",
		304: "3xx",
		413: "4xx",
		503: "5xx",
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusGroup(code), code)
	}
}
