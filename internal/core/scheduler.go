package core

// scheduler.go runs periodic maintenance for the import service.
//
// Each cycle evicts finished import tasks whose TTL has elapsed from the
// task store. The scheduler is long-running and context-aware for graceful
// shutdown; a failed cycle is logged and never stops the loop.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the task store is swept.
const DefaultSweepInterval = 5 * time.Minute

// StartMaintenance sweeps the task store every interval until ctx is
// cancelled. It runs one sweep immediately and always returns nil, so it
// can run under an errgroup next to the HTTP server.
func (s *Service) StartMaintenance(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("maintenance scheduler started", "sweep_interval", interval)

	s.runMaintenance(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance scheduler stopped")
			return nil
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

// runMaintenance performs one sweep cycle.
func (s *Service) runMaintenance(ctx context.Context) {
	start := time.Now()

	removed := s.tasks.Sweep(ctx, s.now())

	status := s.limiter.Status()
	slog.Debug("maintenance cycle completed",
		"tasks_evicted", removed,
		"imports_active", status.Active,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if removed > 0 {
		slog.Info("evicted expired import tasks", "count", removed)
	}
}
