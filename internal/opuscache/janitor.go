package opuscache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// defaultSweepInterval is how often the janitor prunes expired artifacts.
// A sweep is one ReadDir plus stat calls, so hourly keeps the directory
// bounded without touching any hot path.
const defaultSweepInterval = time.Hour

// LeaseHolder reports whether this process currently holds a leadership
// lease. Satisfied by *leadership.Election.
type LeaseHolder interface {
	IsLeader() bool
}

// Janitor sweeps expired cache entries on an interval. Wired to a lease
// it only sweeps while this instance is leader, so exactly one process
// prunes a shared cache volume at a time.
type Janitor struct {
	cache    *Cache
	lease    LeaseHolder
	interval time.Duration
	logger   zerolog.Logger
}

// NewJanitor builds a janitor over the cache. A nil lease means sweep
// unconditionally (single-instance mode).
func NewJanitor(cache *Cache, lease LeaseHolder, interval time.Duration, logger zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Janitor{
		cache:    cache,
		lease:    lease,
		interval: interval,
		logger:   logger.With().Str("component", "cache_janitor").Logger(),
	}
}

// Run sweeps once at startup and then on every tick until the context is
// cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	j.logger.Info().
		Dur("interval", j.interval).
		Bool("leader_gated", j.lease != nil).
		Msg("cache janitor started")

	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("cache janitor stopped")
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	if j.lease != nil && !j.lease.IsLeader() {
		j.logger.Debug().Msg("not leader, skipping sweep")
		return
	}
	if _, err := j.cache.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Warn().Err(err).Msg("cache sweep failed")
	}
}
