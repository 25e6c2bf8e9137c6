package exchange

import (
	"context"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
)

// TaskEnqueuer hands import tasks to the async worker pool and returns the task handle
type TaskEnqueuer interface {
	Enqueue(task exchange.ImportTask) (string, error)
}

// ProgressFunc pushes merged stats and a report milestone into the running session
type ProgressFunc func(ctx context.Context, stats exchange.ImportStats, milestone string) error

// Metrics receives exchange measurements. Implemented by the telemetry layer.
type Metrics interface {
	SessionFinished(ctx context.Context, session *exchange.ImportSession)
	PhaseFinished(ctx context.Context, importType exchange.ImportType, phase string, duration time.Duration, stats exchange.ImportStats)
	BrandFallback(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) SessionFinished(context.Context, *exchange.ImportSession) {}

func (noopMetrics) PhaseFinished(context.Context, exchange.ImportType, string, time.Duration, exchange.ImportStats) {
}

func (noopMetrics) BrandFallback(context.Context) {}

// NoopMetrics discards every measurement
func NoopMetrics() Metrics {
	return noopMetrics{}
}
