package exchange

import (
	"context"
	"time"

	"github.com/erp/exchange/internal/domain/exchange"
	"go.uber.org/zap"
)

const releaseTimeout = 5 * time.Second

// ImportGuard keeps imports of one type exclusive. The database check catches
// sessions left active by other instances; the lock closes the window between
// the check and the state change.
type ImportGuard struct {
	lock     exchange.ImportLock
	sessions exchange.ImportSessionRepository
	ttl      time.Duration
	logger   *zap.Logger
}

// NewImportGuard creates a guard
func NewImportGuard(lock exchange.ImportLock, sessions exchange.ImportSessionRepository, ttl time.Duration, logger *zap.Logger) *ImportGuard {
	return &ImportGuard{lock: lock, sessions: sessions, ttl: ttl, logger: logger}
}

// Acquire takes the lock of the import type without blocking. Contention and
// an already active session both return ErrLockNotAcquired.
func (g *ImportGuard) Acquire(ctx context.Context, importType exchange.ImportType) (release func(), err error) {
	key := string(importType)
	token, ok, err := g.lock.TryAcquire(ctx, key, g.ttl)
	if err != nil {
		return nil, exchange.NewTransientError("LOCK_UNAVAILABLE", "import lock backend unavailable", err)
	}
	if !ok {
		return nil, exchange.ErrLockNotAcquired
	}
	release = func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := g.lock.Release(releaseCtx, key, token); err != nil {
			g.logger.Warn("failed to release import lock", zap.String("import_type", key), zap.Error(err))
		}
	}

	active, err := g.sessions.ExistsActive(ctx, importType)
	if err != nil {
		release()
		return nil, exchange.NewTransientError("EXCLUSIVITY_CHECK_FAILED", "failed to check running imports", err)
	}
	if active {
		release()
		return nil, exchange.ErrLockNotAcquired
	}
	return release, nil
}
