package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool          // include query variables in spans
	SlowQueryThresh time.Duration // default: 200ms
	DBSystem        string        // default: "postgresql"
}

// DefaultDBTracingConfig returns the secure defaults
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "postgresql",
	}
}

type queryStartKey struct{}

// RegisterDBTracing installs the otelgorm plugin plus callbacks that flag
// slow statements on the current span and in the log.
// Bulk upserts of the catalog import are the usual suspects.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = DefaultDBTracingConfig().SlowQueryThresh
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	before := func(tx *gorm.DB) {
		if tx.Statement.Context != nil {
			tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey{}, time.Now())
		}
	}
	after := func(tx *gorm.DB) { slowQueryCallback(tx, cfg.SlowQueryThresh, logger) }

	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("slow_query:before_create", before); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("slow_query:after_create", after); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("slow_query:before_query", before); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("slow_query:after_query", after); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("slow_query:before_update", before); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("slow_query:after_update", after); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("slow_query:before_delete", before); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("slow_query:after_delete", after); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("slow_query:before_raw", before); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("slow_query:after_raw", after); err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
		zap.String("db_system", cfg.DBSystem),
	)
	return nil
}

func slowQueryCallback(tx *gorm.DB, threshold time.Duration, logger *zap.Logger) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	started, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	elapsed := time.Since(started)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		if tx.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
		}
		span.SetAttributes(attribute.Int64("db.rows_affected", tx.Statement.RowsAffected))
		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			Record(span, tx.Error)
		}
	}

	if elapsed <= threshold {
		return
	}
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
	}
	logger.Warn("slow query",
		zap.String("table", tx.Statement.Table),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", tx.Statement.RowsAffected),
	)
}
