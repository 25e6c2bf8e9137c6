package telemetry

import (
	"context"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/infrastructure/scheduler"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Job outcomes reported by the task queue
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// ExchangeMetrics records import session, phase and queue measurements
type ExchangeMetrics struct {
	sessionsTotal   metric.Int64Counter
	sessionDuration metric.Float64Histogram
	phaseDuration   metric.Float64Histogram
	phaseItems      metric.Int64Counter
	brandFallbacks  metric.Int64Counter
	jobsTotal       metric.Int64Counter
	jobDuration     metric.Float64Histogram
}

// NewExchangeMetrics registers the exchange instruments on meter
func NewExchangeMetrics(meter metric.Meter) (*ExchangeMetrics, error) {
	in := NewInstruments(meter)
	m := &ExchangeMetrics{
		sessionsTotal: in.Counter("exchange_import_sessions_total",
			"Import sessions that reached a terminal state", "{sessions}"),
		sessionDuration: in.Histogram("exchange_import_session_duration_seconds",
			"Wall time from start to finish of an import session", "s", ImportDurationBuckets),
		phaseDuration: in.Histogram("exchange_import_phase_duration_seconds",
			"Duration of one import phase", "s", ImportDurationBuckets),
		phaseItems: in.Counter("exchange_import_items_total",
			"Records handled by import phases, by outcome", "{items}"),
		brandFallbacks: in.Counter("exchange_brand_fallbacks_total",
			"Products assigned the fallback brand", "{products}"),
		jobsTotal: in.Counter("exchange_queue_jobs_total",
			"Task queue attempts by outcome", "{jobs}"),
		jobDuration: in.Histogram("exchange_queue_job_duration_seconds",
			"Duration of one task queue attempt", "s", ImportDurationBuckets),
	}
	if err := in.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// SessionFinished counts a terminal session and records its duration
func (m *ExchangeMetrics) SessionFinished(ctx context.Context, session *exchange.ImportSession) {
	attrs := []attribute.KeyValue{
		AttrImportType.String(string(session.ImportType)),
		AttrStatus.String(string(session.Status)),
	}
	m.sessionsTotal.Add(ctx, 1, Attrs(append(attrs, AttrFailureCategory.String(string(session.FailureCategory)))...))
	if session.StartedAt != nil && session.FinishedAt != nil {
		m.sessionDuration.Record(ctx, session.FinishedAt.Sub(*session.StartedAt).Seconds(), Attrs(attrs...))
	}
}

// PhaseFinished records the duration and the non-zero counters of a phase
func (m *ExchangeMetrics) PhaseFinished(ctx context.Context, importType exchange.ImportType, phase string, duration time.Duration, stats exchange.ImportStats) {
	base := []attribute.KeyValue{
		AttrImportType.String(string(importType)),
		AttrPhase.String(phase),
	}
	m.phaseDuration.Record(ctx, duration.Seconds(), Attrs(base...))
	for key, n := range stats {
		if n == 0 || key == exchange.StatBrandFallbacks {
			continue
		}
		m.phaseItems.Add(ctx, int64(n), Attrs(append(base[:2:2], AttrOutcome.String(key))...))
	}
}

// BrandFallback counts one product assigned the fallback brand
func (m *ExchangeMetrics) BrandFallback(ctx context.Context) {
	m.brandFallbacks.Add(ctx, 1)
}

// JobFinished records one task queue attempt
func (m *ExchangeMetrics) JobFinished(job *scheduler.Job, duration time.Duration, err error) {
	ctx := context.Background()
	outcome := OutcomeSucceeded
	switch {
	case err == nil:
	case exchange.IsRetryable(err):
		outcome = OutcomeRetried
	default:
		outcome = OutcomeFailed
	}
	attrs := []attribute.KeyValue{
		AttrImportType.String(string(job.Task.ImportType)),
		AttrOutcome.String(outcome),
	}
	m.jobsTotal.Add(ctx, 1, Attrs(attrs...))
	m.jobDuration.Record(ctx, duration.Seconds(), Attrs(attrs...))
}
