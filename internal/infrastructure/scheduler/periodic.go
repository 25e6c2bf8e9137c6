package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeriodicTrigger runs a function on a fixed interval, used for the stale session reaper
type PeriodicTrigger struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewPeriodicTrigger creates a trigger
func NewPeriodicTrigger(name string, interval time.Duration, fn func(ctx context.Context) error, logger *zap.Logger) *PeriodicTrigger {
	return &PeriodicTrigger{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
	}
}

// Start starts the trigger loop
func (p *PeriodicTrigger) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.runLoop(ctx)

	p.logger.Info("Periodic trigger started",
		zap.String("trigger", p.name),
		zap.Duration("interval", p.interval),
	)
	return nil
}

// Stop stops the trigger
func (p *PeriodicTrigger) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Periodic trigger stopped", zap.String("trigger", p.name))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PeriodicTrigger) runLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.fn(ctx); err != nil {
				p.logger.Error("Periodic trigger run failed", zap.String("trigger", p.name), zap.Error(err))
			}
		}
	}
}
