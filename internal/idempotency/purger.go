package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPurgeInterval runs the purge once a day.
const DefaultPurgeInterval = 24 * time.Hour

// Purger periodically deletes expired idempotency records.
type Purger struct {
	guard    *Guard
	interval time.Duration
	logger   *slog.Logger
}

// NewPurger creates a Purger. A non-positive interval uses DefaultPurgeInterval.
func NewPurger(guard *Guard, interval time.Duration, logger *slog.Logger) *Purger {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{guard: guard, interval: interval, logger: logger}
}

// Run purges once immediately and then on every tick until ctx is done.
func (p *Purger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.purgeOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Purger) purgeOnce(ctx context.Context) {
	start := time.Now()
	n, err := p.guard.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("idempotency purge failed", "error", err)
		}
		return
	}
	p.logger.Info("idempotency purge complete", "deleted", n, "duration_ms", time.Since(start).Milliseconds())
}
