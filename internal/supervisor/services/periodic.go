// Package services holds the suture.Service implementations run by the supervisor tree.
package services

import (
	"context"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/logging"
	"github.com/abiolaogu/VoxGuard-sub001/internal/metrics"
)

// Periodic runs a task on a fixed interval. A failing run is logged and
// retried on the next tick; it does not restart the service.
type Periodic struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
}

// NewPeriodic creates a periodic service. interval must be positive.
func NewPeriodic(name string, interval time.Duration, task func(ctx context.Context) error) *Periodic {
	return &Periodic{name: name, interval: interval, task: task}
}

// Serve runs until ctx is cancelled.
func (p *Periodic) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.task(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Str("service", p.name).Msg("Periodic task failed")
			}
		}
	}
}

func (p *Periodic) String() string { return p.name }

// BlacklistCleaner removes expired blacklist entries.
type BlacklistCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// NewBlacklistCleanup deletes expired blacklist entries every interval.
func NewBlacklistCleanup(cleaner BlacklistCleaner, interval time.Duration) *Periodic {
	return NewPeriodic("blacklist-cleanup", interval, func(ctx context.Context) error {
		n, err := cleaner.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logging.Info().Int("removed", n).Msg("Expired blacklist entries removed")
		}
		return nil
	})
}

// WindowCompactor is a detection window that can drop cold destinations.
type WindowCompactor interface {
	Compact(idle time.Duration) int
	Len() int
}

// CooldownPruner forgets elapsed alert cooldowns.
type CooldownPruner interface {
	Prune(now time.Time) int
}

// NewCompactor drops destinations idle for idleTTL from the window and
// prunes elapsed cooldowns every interval. window may be nil when the
// configured cache keeps no local state.
func NewCompactor(window WindowCompactor, cooldown CooldownPruner, idleTTL, interval time.Duration, now func() time.Time) *Periodic {
	return NewPeriodic("window-compactor", interval, func(context.Context) error {
		if window != nil {
			if n := window.Compact(idleTTL); n > 0 {
				metrics.WindowCompacted.Add(float64(n))
				logging.Debug().Int("dropped", n).Msg("Compacted detection window")
			}
			metrics.WindowKeys.Set(float64(window.Len()))
		}
		if cooldown != nil {
			cooldown.Prune(now())
		}
		return nil
	})
}
