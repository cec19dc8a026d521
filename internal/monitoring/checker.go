// Package monitoring runs background health checks for the serve command.
package monitoring

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hogarfamiliar/catastro-cli/internal/metrics"
)

// Pinger is anything whose liveness can be checked. store.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker periodically pings the cache backend and publishes the result.
type Checker struct {
	target   Pinger
	metrics  *metrics.Metrics
	interval time.Duration
	timeout  time.Duration

	healthy atomic.Bool
	// checked is only touched by the Run goroutine.
	checked bool
}

// NewChecker creates a background health checker for target.
func NewChecker(target Pinger, m *metrics.Metrics, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := 5 * time.Second
	if interval < timeout {
		timeout = interval
	}
	return &Checker{
		target:   target,
		metrics:  m,
		interval: interval,
		timeout:  timeout,
	}
}

// Run checks once immediately and then on every tick. It blocks until ctx
// is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting cache backend checker", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.check(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("cache backend checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// Healthy reports the result of the last check.
func (c *Checker) Healthy() bool {
	return c.healthy.Load()
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.target.Ping(pctx)
	healthy := err == nil
	was := c.healthy.Load()
	c.metrics.SetBackendUp(healthy)

	switch {
	case !healthy && (was || !c.checked):
		log.Warn("monitoring: cache backend unreachable, lookups will bypass the cache", zap.Error(err))
	case healthy && !was && c.checked:
		log.Info("monitoring: cache backend recovered")
	default:
		log.Debug("monitoring: cache backend check", zap.Bool("healthy", healthy))
	}
	c.healthy.Store(healthy)
	c.checked = true
}
