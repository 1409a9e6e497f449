package resources

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Malasakit/internal/logging"
)

// Refresher is what the Scheduler drives; *Cache satisfies it.
type Refresher interface {
	Refresh(ctx context.Context)
}

// Scheduler re-checks cached resources on a fixed interval.
type Scheduler struct {
	log       *zap.Logger
	refresher Refresher
	interval  time.Duration

	wg sync.WaitGroup
}

// NewScheduler returns a scheduler that refreshes every interval (DefaultValidity when zero).
func NewScheduler(refresher Refresher, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultValidity
	}
	return &Scheduler{
		log:       logging.OrNop(log).Named("scheduler"),
		refresher: refresher,
		interval:  interval,
	}
}

// Start runs the scheduler in a goroutine until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("Starting resource refresh scheduler...", zap.Duration("interval", s.interval))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.log.Debug("resource refresh scheduler stopped")
				return
			case <-ticker.C:
				s.log.Debug("running scheduled resource refresh")
				s.refresher.Refresh(ctx)
			}
		}
	}()
}

// Wait blocks until the scheduler goroutine has exited.
func (s *Scheduler) Wait() { s.wg.Wait() }
