package exchange

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/infrastructure/storage"
	"github.com/erp/exchange/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const finishTimeout = 10 * time.Second

// ImportRunner drives an import session through its state machine. It is the
// task handler of the worker pool and the engine behind exchangectl run.
type ImportRunner struct {
	sessions     exchange.ImportSessionRepository
	guard        *ImportGuard
	layout       *storage.Layout
	processors   map[exchange.ImportType]Processor
	publisher    shared.EventPublisher
	metrics      Metrics
	archiveLimit int64
	logger       *zap.Logger
}

// ImportRunnerOption is a functional option for ImportRunner
type ImportRunnerOption func(*ImportRunner)

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) ImportRunnerOption {
	return func(r *ImportRunner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithPublisher sets the notification publisher
func WithPublisher(p shared.EventPublisher) ImportRunnerOption {
	return func(r *ImportRunner) {
		r.publisher = p
	}
}

// WithArchiveLimit caps the unpacked size of an uploaded archive
func WithArchiveLimit(limit int64) ImportRunnerOption {
	return func(r *ImportRunner) {
		r.archiveLimit = limit
	}
}

// NewImportRunner creates a runner
func NewImportRunner(sessions exchange.ImportSessionRepository, guard *ImportGuard, layout *storage.Layout, logger *zap.Logger, opts ...ImportRunnerOption) *ImportRunner {
	r := &ImportRunner{
		sessions:   sessions,
		guard:      guard,
		layout:     layout,
		processors: make(map[exchange.ImportType]Processor),
		metrics:    NoopMetrics(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register routes the import types to a processor
func (r *ImportRunner) Register(p Processor, types ...exchange.ImportType) {
	for _, t := range types {
		r.processors[t] = p
	}
}

// Run executes the task. On return the session is terminal, or still pending
// when the import lock could not be taken.
func (r *ImportRunner) Run(ctx context.Context, task exchange.ImportTask) error {
	session, err := r.sessions.FindByID(ctx, task.SessionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("import session %s: %w", task.SessionID, err)
		}
		return exchange.NewTransientError("SESSION_LOAD_FAILED", "failed to load import session", err)
	}
	return r.RunSession(ctx, session)
}

// RunSession executes a pending session
func (r *ImportRunner) RunSession(ctx context.Context, session *exchange.ImportSession) error {
	logger := r.logger.With(
		zap.String("session_id", session.ID.String()),
		zap.String("import_type", string(session.ImportType)),
		zap.Int("attempt", session.Attempt),
	)
	if session.Status != exchange.SessionStatusPending {
		logger.Warn("import session is not pending, task ignored", zap.String("status", string(session.Status)))
		return nil
	}

	processor, ok := r.processors[session.ImportType]
	if !ok {
		err := fmt.Errorf("no processor for %s imports", session.ImportType)
		_ = session.Fail(exchange.FailureUnexpected, err.Error())
		r.finish(ctx, session, logger)
		return err
	}

	release, err := r.guard.Acquire(ctx, session.ImportType)
	if err != nil {
		logger.Info("import lock not acquired, session stays pending", zap.Error(err))
		session.AppendReport("waiting: another import of this type is running")
		if saveErr := r.sessions.Save(ctx, session); saveErr != nil {
			logger.Warn("failed to save pending session", zap.Error(saveErr))
		}
		return err
	}
	defer release()

	return r.execute(ctx, session, processor, logger)
}

func (r *ImportRunner) execute(ctx context.Context, session *exchange.ImportSession, processor Processor, logger *zap.Logger) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "import."+string(session.ImportType),
		telemetry.SpanSessionID.String(session.ID.String()),
		telemetry.SpanImportType.String(string(session.ImportType)),
	)
	defer span.End()

	if err := session.Start(); err != nil {
		return err
	}
	if err := r.sessions.Save(ctx, session); err != nil {
		return exchange.NewTransientError("SESSION_SAVE_FAILED", "failed to save import session", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("import panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("import panicked: %v", rec)
		}
		if !session.Status.IsTerminal() {
			if err == nil {
				err = errors.New("import ended without a result")
			}
			_ = session.Fail(exchange.CategoryOf(err), err.Error())
		}
		telemetry.Record(span, err)
		r.finish(ctx, session, logger)
	}()

	if session.ArchiveName != "" {
		files, err := r.layout.Unpack(session.SessionKey, session.ArchiveName, r.archiveLimit)
		if err != nil {
			return &exchange.ExchangeError{
				Kind:    exchange.KindValidation,
				Code:    "ARCHIVE_INVALID",
				Message: fmt.Sprintf("failed to unpack %s", session.ArchiveName),
				Err:     err,
			}
		}
		session.AppendReport(fmt.Sprintf("unpacked %d files from %s", len(files), session.ArchiveName))
	}

	if err := Precheck(session.ImportType, session.DataDir); err != nil {
		return err
	}
	if err := session.BeginProcessing(); err != nil {
		return err
	}
	if err := r.save(ctx, session); err != nil {
		return err
	}

	run := Run{SessionID: session.ID, ImportType: session.ImportType, DataDir: session.DataDir}
	phases, err := processor.Phases(ctx, run)
	if err != nil {
		return err
	}

	total := exchange.NewImportStats()
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		base := total
		run.Progress = func(ctx context.Context, stats exchange.ImportStats, milestone string) error {
			return r.progress(ctx, session, base.Merge(stats), milestone)
		}

		started := time.Now()
		phaseCtx, phaseSpan := telemetry.StartSpan(ctx, "import.phase", telemetry.SpanPhase.String(phase.Name))
		stats, err := phase.Run(phaseCtx, run)
		telemetry.End(phaseSpan, err)
		if err != nil {
			return fmt.Errorf("phase %s: %w", phase.Name, err)
		}
		r.metrics.PhaseFinished(ctx, session.ImportType, phase.Name, time.Since(started), stats)
		total = total.Merge(stats)
		if err := r.progress(ctx, session, total, fmt.Sprintf("phase %s done: %s", phase.Name, stats.Summary())); err != nil {
			return err
		}
		logger.Info("import phase finished",
			zap.String("phase", phase.Name),
			zap.Duration("duration", time.Since(started)),
			zap.String("stats", stats.Summary()),
		)
	}

	return session.Complete(total)
}

// Validate parses and checks an import directory without writing anything.
// No session is created and no lock is taken.
func (r *ImportRunner) Validate(ctx context.Context, importType exchange.ImportType, dataDir string) (exchange.ImportStats, error) {
	processor, ok := r.processors[importType]
	if !ok {
		return nil, fmt.Errorf("no processor for %s imports", importType)
	}
	if err := Precheck(importType, dataDir); err != nil {
		return nil, err
	}

	run := Run{ImportType: importType, DataDir: dataDir, DryRun: true}
	phases, err := processor.Phases(ctx, run)
	if err != nil {
		return nil, err
	}
	total := exchange.NewImportStats()
	for _, phase := range phases {
		stats, err := phase.Run(ctx, run)
		if err != nil {
			return total, fmt.Errorf("phase %s: %w", phase.Name, err)
		}
		total = total.Merge(stats)
	}
	return total, nil
}

func (r *ImportRunner) progress(ctx context.Context, session *exchange.ImportSession, stats exchange.ImportStats, milestone string) error {
	if err := session.RecordProgress(stats, milestone); err != nil {
		return err
	}
	return r.save(ctx, session)
}

func (r *ImportRunner) save(ctx context.Context, session *exchange.ImportSession) error {
	if err := r.sessions.Save(ctx, session); err != nil {
		return exchange.NewTransientError("SESSION_SAVE_FAILED", "failed to save import session", err)
	}
	return nil
}

// finish persists the terminal state even when ctx already expired, then
// reports and publishes it
func (r *ImportRunner) finish(ctx context.Context, session *exchange.ImportSession, logger *zap.Logger) {
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := r.sessions.Save(finishCtx, session); err != nil {
		logger.Error("failed to save finished import session", zap.Error(err))
	}
	r.metrics.SessionFinished(finishCtx, session)

	if session.Status == exchange.SessionStatusFailed {
		logger.Error("import failed",
			zap.String("category", string(session.FailureCategory)),
			zap.String("error", session.ErrorMessage),
			zap.Duration("duration", session.Duration()),
		)
	} else {
		logger.Info("import completed",
			zap.String("stats", session.Stats.Summary()),
			zap.Duration("duration", session.Duration()),
		)
	}

	events := session.GetDomainEvents()
	session.ClearDomainEvents()
	if r.publisher != nil && len(events) > 0 {
		if err := r.publisher.Publish(finishCtx, events...); err != nil {
			logger.Warn("failed to publish import events", zap.Error(err))
		}
	}
}

// Abandon fails a session left pending by its last attempt. Sessions that
// already reached a terminal state are left alone.
func (r *ImportRunner) Abandon(ctx context.Context, task exchange.ImportTask, cause error) {
	logger := r.logger.With(
		zap.String("session_id", task.SessionID.String()),
		zap.String("import_type", string(task.ImportType)),
	)
	session, err := r.sessions.FindByID(ctx, task.SessionID)
	if err != nil {
		logger.Warn("failed to load abandoned import session", zap.Error(err))
		return
	}
	if session.Status.IsTerminal() {
		return
	}
	message := fmt.Sprintf("import abandoned: %v", cause)
	if errors.Is(cause, exchange.ErrLockNotAcquired) {
		message = "import lock not acquired: retries exhausted"
	}
	if err := session.Fail(exchange.CategoryOf(cause), message); err != nil {
		logger.Warn("failed to fail abandoned import session", zap.Error(err))
		return
	}
	r.finish(ctx, session, logger)
}

// PrepareRetry returns the task for the next attempt. A session still pending
// (lock contention) is retried as is; a failed one gets a follow-up session.
func (r *ImportRunner) PrepareRetry(ctx context.Context, task exchange.ImportTask, cause error) (exchange.ImportTask, error) {
	session, err := r.sessions.FindByID(ctx, task.SessionID)
	if err != nil {
		return task, err
	}
	switch session.Status {
	case exchange.SessionStatusPending:
		return task, nil
	case exchange.SessionStatusFailed:
		next, err := session.NewRetry()
		if err != nil {
			return task, err
		}
		next.AppendReport(fmt.Sprintf("previous attempt failed: %v", cause))
		if err := r.sessions.Save(ctx, next); err != nil {
			return task, err
		}
		r.logger.Info("follow-up import session created",
			zap.String("session_id", next.ID.String()),
			zap.String("retry_of", session.ID.String()),
			zap.Int("attempt", next.Attempt),
		)
		return next.Task(), nil
	}
	return task, fmt.Errorf("import session %s cannot be retried from %s", session.ID, session.Status)
}
