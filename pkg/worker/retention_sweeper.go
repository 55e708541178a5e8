package worker

import (
	"context"
	"time"

	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/internal/service/audit"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/metrics"
)

// RetentionSweeper enforces data retention: audit events older than the
// retention window are purged (through the audit service, so the purge itself
// is recorded) and expired one-time credentials are cleared out.
type RetentionSweeper struct {
	auditor   *audit.Service
	creds     repository.CredentialRepository
	clk       clock.Clock
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewRetentionSweeper(
	auditor *audit.Service,
	creds repository.CredentialRepository,
	clk clock.Clock,
	retention, interval time.Duration,
	log *logger.Logger,
	m *metrics.Metrics,
) *RetentionSweeper {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionSweeper{
		auditor:   auditor,
		creds:     creds,
		clk:       clk,
		retention: retention,
		interval:  interval,
		logger:    log,
		metrics:   m,
	}
}

func (w *RetentionSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting retention sweeper",
		"retention", w.retention.String(), "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down retention sweeper")
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.metrics.SweeperRuns.WithLabelValues("retention", "error").Inc()
				w.logger.Error(err, "Retention sweep failed")
				continue
			}
			w.metrics.SweeperRuns.WithLabelValues("retention", "ok").Inc()
		}
	}
}

func (w *RetentionSweeper) sweep(ctx context.Context) error {
	now := w.clk.Now()

	start := time.Now()
	purged, err := w.auditor.Purge(ctx, now.Add(-w.retention))
	w.metrics.DatabaseLatency.WithLabelValues("purge_audit_events").Observe(time.Since(start).Seconds())
	if err != nil {
		w.metrics.DatabaseOperations.WithLabelValues("purge_audit_events", "error").Inc()
		return err
	}
	w.metrics.DatabaseOperations.WithLabelValues("purge_audit_events", "success").Inc()
	if purged > 0 {
		w.logger.Info("Purged audit events", "count", purged)
	}

	start = time.Now()
	cleared, err := w.creds.DeleteExpiredBefore(ctx, now)
	w.metrics.DatabaseLatency.WithLabelValues("clear_expired_credentials").Observe(time.Since(start).Seconds())
	if err != nil {
		w.metrics.DatabaseOperations.WithLabelValues("clear_expired_credentials", "error").Inc()
		return err
	}
	w.metrics.DatabaseOperations.WithLabelValues("clear_expired_credentials", "success").Inc()
	if cleared > 0 {
		w.logger.Info("Cleared expired credentials", "count", cleared)
	}
	return nil
}
