package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// recordSpans installs a recording tracer provider for the duration of the test
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func attrMap(attrs []attribute.KeyValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestStartSpan_RecordsFailure(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "import.catalog",
		SpanImportType.String("catalog"),
		SpanSessionID.String("s-1"),
	)
	assert.True(t, span.SpanContext().IsValid())
	_, phase := StartSpan(ctx, "import.phase", SpanPhase.String("offers"))
	End(phase, nil)
	End(span, errors.New("broken feed"))

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	assert.Equal(t, "import.phase", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Equal(t, "offers", attrMap(ended[0].Attributes())[string(SpanPhase)])
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())

	got := ended[1]
	assert.Equal(t, "import.catalog", got.Name())
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Equal(t, "broken feed", got.Status().Description)
	attrs := attrMap(got.Attributes())
	assert.Equal(t, "catalog", attrs[string(SpanImportType)])
	assert.Equal(t, "s-1", attrs[string(SpanSessionID)])
	require.Len(t, got.Events(), 1, "the error is recorded as an event")
}

func TestRecord_LeavesSpanOpen(t *testing.T) {
	recorder := recordSpans(t)
	_, span := StartSpan(context.Background(), "exchange.query")
	Record(span, nil)
	assert.Empty(t, recorder.Ended())
	span.End()
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, codes.Ok, recorder.Ended()[0].Status().Code)
}

type tracedRow struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestRegisterDBTracing(t *testing.T) {
	recorder := recordSpans(t)
	core, logs := observer.New(zapcore.WarnLevel)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{
		Enabled:         true,
		SlowQueryThresh: time.Nanosecond,
		DBSystem:        "sqlite",
	}, zap.New(core)))
	require.NoError(t, db.AutoMigrate(&tracedRow{}))

	ctx, parent := StartSpan(context.Background(), "test")
	require.NoError(t, db.WithContext(ctx).Create(&tracedRow{Name: "a"}).Error)
	parent.End()

	assert.NotEmpty(t, recorder.Ended(), "statements produce spans")
	slow := logs.FilterMessage("slow query").All()
	require.NotEmpty(t, slow)
	assert.Equal(t, "traced_rows", slow[len(slow)-1].ContextMap()["table"])
}

func TestRegisterDBTracing_Disabled(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, RegisterDBTracing(db, DefaultDBTracingConfig(), zap.NewNop()))
	assert.Nil(t, db.Callback().Create().Get("slow_query:after_create"))
}
