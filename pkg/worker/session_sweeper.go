package worker

import (
	"context"
	"time"

	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/messaging"
	"github.com/meditrust/records-api/pkg/metrics"
)

// SessionSweeper periodically flips overdue ACTIVE sessions to EXPIRED.
// Correctness does not depend on it; the decision engine expires lazily on
// read. The sweeper keeps listings honest and emits expiry events for
// sessions nobody touches again.
type SessionSweeper struct {
	repo     repository.SessionRepository
	broker   messaging.Broker
	clk      clock.Clock
	interval time.Duration
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewSessionSweeper(
	repo repository.SessionRepository,
	broker messaging.Broker,
	clk clock.Clock,
	interval time.Duration,
	log *logger.Logger,
	m *metrics.Metrics,
) *SessionSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionSweeper{
		repo:     repo,
		broker:   broker,
		clk:      clk,
		interval: interval,
		logger:   log,
		metrics:  m,
	}
}

func (w *SessionSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting session sweeper", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down session sweeper")
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.metrics.SweeperRuns.WithLabelValues("session", "error").Inc()
				w.logger.Error(err, "Session sweep failed")
				continue
			}
			w.metrics.SweeperRuns.WithLabelValues("session", "ok").Inc()
		}
	}
}

func (w *SessionSweeper) sweep(ctx context.Context) error {
	start := time.Now()
	expired, err := w.repo.ExpireOverdue(ctx, w.clk.Now())
	w.metrics.DatabaseLatency.WithLabelValues("expire_overdue").Observe(time.Since(start).Seconds())
	if err != nil {
		w.metrics.DatabaseOperations.WithLabelValues("expire_overdue", "error").Inc()
		return err
	}
	w.metrics.DatabaseOperations.WithLabelValues("expire_overdue", "success").Inc()
	if len(expired) == 0 {
		return nil
	}

	w.metrics.SweptSessions.Add(float64(len(expired)))
	w.metrics.SessionsExpired.Add(float64(len(expired)))
	w.logger.Info("Expired overdue sessions", "count", len(expired))

	if w.broker == nil {
		return nil
	}
	for _, id := range expired {
		msg := messaging.Message{Type: messaging.TopicEmergencyExpired, Payload: map[string]string{"session_id": id.String()}}
		if err := w.broker.Publish(ctx, messaging.TopicEmergencyExpired, msg); err != nil {
			w.logger.Error(err, "Failed to publish expiry event", "session_id", id.String())
		}
	}
	return nil
}
