package logger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultSlowThreshold = 200 * time.Millisecond
	// Chunked upserts render thousands of placeholders into one statement
	defaultMaxSQLLength = 2048
)

// GormLogger routes GORM statements to zap. Statements carry the request
// and import session of their context.
type GormLogger struct {
	logger        *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	maxSQLLength  int
}

// GormLoggerOption configures a GormLogger
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the duration above which a statement is logged as slow. 0 disables.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) {
		l.slowThreshold = threshold
	}
}

// WithMaxSQLLength truncates logged statements to n bytes. 0 keeps them whole.
func WithMaxSQLLength(n int) GormLoggerOption {
	return func(l *GormLogger) {
		l.maxSQLLength = n
	}
}

func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	gl := &GormLogger{
		logger:        zapLogger.Named("gorm"),
		level:         level,
		slowThreshold: defaultSlowThreshold,
		maxSQLLength:  defaultMaxSQLLength,
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		Enrich(ctx, l.logger).Sugar().Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		Enrich(ctx, l.logger).Sugar().Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		Enrich(ctx, l.logger).Sugar().Errorf(msg, data...)
	}
}

// Trace logs one statement. Failures log at error, slow statements at warn
// and everything else at debug. Record-not-found is an expected outcome of
// the import lookups and is never logged.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	failed := err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound)
	elapsed := time.Since(begin)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold

	var msg string
	switch {
	case failed && l.level >= gormlogger.Error:
		msg = "SQL error"
	case slow && l.level >= gormlogger.Warn:
		msg = "Slow SQL"
	case !failed && l.level >= gormlogger.Info:
		msg = "SQL"
	default:
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", l.truncate(sql)),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows", rows))
	}
	log := Enrich(ctx, l.logger)
	switch msg {
	case "SQL error":
		log.Error(msg, append(fields, zap.Error(err))...)
	case "Slow SQL":
		log.Warn(msg, append(fields, zap.Duration("threshold", l.slowThreshold))...)
	default:
		log.Debug(msg, fields...)
	}
}

func (l *GormLogger) truncate(sql string) string {
	if l.maxSQLLength <= 0 || len(sql) <= l.maxSQLLength {
		return sql
	}
	return sql[:l.maxSQLLength] + "... (" + strconv.Itoa(len(sql)) + " bytes)"
}

// MapGormLogLevel maps the application log level onto GORM's. Statements
// are only traced at debug and info.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
