package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/pricewatch-mailer/internal/clock"
	"github.com/unclebandit/pricewatch-mailer/internal/metrics"
	"github.com/unclebandit/pricewatch-mailer/internal/repository"
)

// StuckMonitor reports delivery logs that stayed pending longer than a send
// can take.
type StuckMonitor struct {
	store    repository.LogStore
	clock    clock.Clock
	after    time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewStuckMonitor(store repository.LogStore, c clock.Clock, after, interval time.Duration, m *metrics.Metrics, log *zap.Logger) *StuckMonitor {
	if c == nil {
		c = clock.NewRealClock()
	}
	if after <= 0 {
		after = 5 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StuckMonitor{
		store:    store,
		clock:    c,
		after:    after,
		interval: interval,
		metrics:  m,
		log:      log.Named("stuck_monitor"),
	}
}

func (m *StuckMonitor) Check(ctx context.Context) (int, error) {
	cutoff := m.clock.Now().Add(-m.after)
	n, err := m.store.CountStuckPending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	m.metrics.SetStuckPending(n)
	if n > 0 {
		m.log.Warn("delivery logs stuck in pending",
			zap.Int("count", n),
			zap.Duration("older_than", m.after),
		)
	}
	return n, nil
}

// Run checks on every interval until ctx is cancelled.
func (m *StuckMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
				m.log.Error("stuck pending check failed", zap.Error(err))
			}
		}
	}
}
