package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew(t *testing.T) {
	t.Run("console to stdout", func(t *testing.T) {
		l, err := New(DefaultConfig())
		require.NoError(t, err)
		assert.NotNil(t, l)
	})

	t.Run("json to file with extra core", func(t *testing.T) {
		core, recorded := observer.New(zapcore.InfoLevel)
		path := filepath.Join(t.TempDir(), "app.log")
		l, err := New(&Config{Level: "debug", Format: "json", Output: path}, core)
		require.NoError(t, err)
		l.Info("hello")
		assert.Equal(t, 1, recorded.Len())
	})

	t.Run("unwritable output", func(t *testing.T) {
		_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "app.log")})
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestL_EnrichesFromContext(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	ctx := WithContext(context.Background(), zap.New(core))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "sess-1")

	L(ctx).Info("processing")

	require.Equal(t, 1, recorded.Len())
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "sess-1", fields["session_id"])
}

func TestFromContext_NoLogger(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
	assert.Equal(t, "", GetRequestID(context.Background()))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, recorded := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("request_id", "test-req-123")
		c.Next()
	})
	router.Use(GinMiddleware(zap.New(core)))
	router.GET("/exchange/1c", func(c *gin.Context) {
		assert.Equal(t, "test-req-123", GetRequestID(c.Request.Context()))
		c.String(http.StatusNotFound, "failure")
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/exchange/1c?type=catalog&mode=init", nil)
	router.ServeHTTP(w, req)

	logs := recorded.FilterMessage("HTTP Request").All()
	require.Len(t, logs, 1)
	assert.Equal(t, zapcore.WarnLevel, logs[0].Level)
	fields := logs[0].ContextMap()
	assert.Equal(t, "init", fields["mode"])
	assert.Equal(t, "catalog", fields["type"])
	assert.Equal(t, "test-req-123", fields["request_id"])
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, recorded := observer.New(zapcore.ErrorLevel)

	router := gin.New()
	router.Use(Recovery(zap.New(core), func(c *gin.Context) {
		c.String(http.StatusInternalServerError, "failure\nInternal error")
	}))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/panic", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failure\nInternal error", w.Body.String())
	assert.Equal(t, 1, recorded.FilterMessage("Panic recovered").Len())
}

func TestGormLogger_Trace(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Warn, WithSlowThreshold(10*time.Millisecond))

	sql := func() (string, int64) { return "SELECT 1", 1 }

	gl.Trace(context.Background(), time.Now(), sql, nil)
	assert.Equal(t, 0, recorded.Len(), "fast queries are not logged at warn level")

	gl.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	assert.Equal(t, 1, recorded.Len())

	gl.Trace(context.Background(), time.Now(), sql, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 1, recorded.Len(), "record not found is ignored")

	gl.Trace(WithSessionID(context.Background(), "s-1"), time.Now(), sql, errors.New("broken"))
	require.Equal(t, 2, recorded.Len())
	assert.Equal(t, "s-1", recorded.All()[1].ContextMap()["session_id"])

	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("unknown"))
}

func TestGormLogger_TruncatesLongStatements(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Info, WithMaxSQLLength(16), WithSlowThreshold(0))

	long := "INSERT INTO products VALUES (?,?,?),(?,?,?),(?,?,?)"
	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return long, -1 }, nil)

	require.Equal(t, 1, recorded.Len())
	entry := recorded.All()[0]
	assert.Equal(t, zapcore.DebugLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "INSERT INTO prod... (51 bytes)", fields["sql"])
	assert.NotContains(t, fields, "rows", "unknown row counts are omitted")
}
