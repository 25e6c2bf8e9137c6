package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/domain/shared"
	"go.uber.org/zap"
)

// SessionReaper force-fails sessions whose worker stopped reporting and
// re-enqueues pending sessions whose task was lost
type SessionReaper struct {
	sessions   exchange.ImportSessionRepository
	enqueuer   TaskEnqueuer
	publisher  shared.EventPublisher
	metrics    Metrics
	staleAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewSessionReaper creates a reaper. enqueuer and publisher may be nil.
func NewSessionReaper(sessions exchange.ImportSessionRepository, enqueuer TaskEnqueuer, publisher shared.EventPublisher, metrics Metrics, staleAfter time.Duration, logger *zap.Logger) *SessionReaper {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &SessionReaper{
		sessions:   sessions,
		enqueuer:   enqueuer,
		publisher:  publisher,
		metrics:    metrics,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// Reap fails every started or in-progress session not updated within staleAfter
func (r *SessionReaper) Reap(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	stale, err := r.sessions.FindStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale sessions: %w", err)
	}

	reaped := 0
	for i := range stale {
		s := &stale[i]
		message := fmt.Sprintf("no progress since %s, reaped after %s", s.UpdatedAt.Format(time.RFC3339), r.staleAfter)
		if err := s.Fail(exchange.FailureTimeout, message); err != nil {
			r.logger.Warn("stale session could not be failed", zap.String("session_id", s.ID.String()), zap.Error(err))
			continue
		}
		if err := r.sessions.Save(ctx, s); err != nil {
			return reaped, fmt.Errorf("failed to save reaped session %s: %w", s.ID, err)
		}
		reaped++
		r.metrics.SessionFinished(ctx, s)
		r.logger.Warn("stale import session reaped",
			zap.String("session_id", s.ID.String()),
			zap.String("import_type", string(s.ImportType)),
			zap.Time("updated_at", s.UpdatedAt),
		)
		events := s.GetDomainEvents()
		s.ClearDomainEvents()
		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, events...); err != nil {
				r.logger.Warn("failed to publish reaped session", zap.Error(err))
			}
		}
	}
	return reaped, nil
}

// Recover re-enqueues pending sessions. Called once at startup, before the
// gateway accepts new triggers.
func (r *SessionReaper) Recover(ctx context.Context) (int, error) {
	if r.enqueuer == nil {
		return 0, nil
	}
	pending, err := r.sessions.FindPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to find pending sessions: %w", err)
	}

	recovered := 0
	for i := range pending {
		s := &pending[i]
		handle, err := r.enqueuer.Enqueue(s.Task())
		if err != nil {
			return recovered, fmt.Errorf("failed to re-enqueue session %s: %w", s.ID, err)
		}
		if err := s.MarkQueued(handle); err != nil {
			return recovered, err
		}
		s.AppendReport("re-enqueued after restart")
		if err := r.sessions.Save(ctx, s); err != nil {
			return recovered, err
		}
		recovered++
		r.logger.Info("pending import session re-enqueued",
			zap.String("session_id", s.ID.String()),
			zap.String("handle", handle),
		)
	}
	return recovered, nil
}
