package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/metrics"
)

// Service is the append-only audit trail. Record never propagates a write
// failure to the operation being audited; failures are escalated to the
// operational log and a failure counter instead.
type Service struct {
	repo    repository.AuditRepository
	clk     clock.Clock
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(repo repository.AuditRepository, clk clock.Clock, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		clk:     clk,
		logger:  log,
		metrics: m,
	}
}

// NewEvent builds an audit event with a marshalled detail payload. Detail
// must be one of the typed payloads in the model package.
func NewEvent(actorID *uuid.UUID, actorRole model.Role, targetID *uuid.UUID, eventType model.AuditEventType, detail interface{}) *model.AuditEvent {
	var raw json.RawMessage
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			raw = b
		}
	}
	return &model.AuditEvent{
		ID:        uuid.New(),
		ActorID:   actorID,
		ActorRole: actorRole,
		TargetID:  targetID,
		EventType: eventType,
		Detail:    raw,
	}
}

// Record appends the event synchronously so security-relevant outcomes are
// durable before the caller responds. A failed write is swallowed: an
// emergency grant must not fail because the audit write failed.
func (s *Service) Record(ctx context.Context, event *model.AuditEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clk.Now()
	}

	if err := s.repo.Create(ctx, event); err != nil {
		s.metrics.AuditWriteFailures.Inc()
		s.logger.Error(err, "audit write failed",
			"event_type", string(event.EventType))
		return
	}
	s.metrics.AuditEventsWritten.Inc()
}

func (s *Service) Query(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditEvent, int64, error) {
	filters.Normalize()
	return s.repo.ListWithPagination(ctx, filters)
}

func (s *Service) Stats(ctx context.Context, filters *model.AuditFilters) (*model.AuditStats, error) {
	return s.repo.Stats(ctx, filters)
}

// Export writes the filtered events as CSV. Pages through the repository so
// an unbounded filter does not load the whole trail at once.
func (s *Service) Export(ctx context.Context, filters *model.AuditFilters, w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"ID", "Actor ID", "Actor Role", "Target ID", "Event Type", "Detail", "Created At"}); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}

	filters.Page = 1
	filters.PageSize = 500
	for {
		events, total, err := s.repo.ListWithPagination(ctx, filters)
		if err != nil {
			return fmt.Errorf("failed to export audit events: %w", err)
		}

		for _, event := range events {
			actor := ""
			if event.ActorID != nil {
				actor = event.ActorID.String()
			}
			target := ""
			if event.TargetID != nil {
				target = event.TargetID.String()
			}
			if err := writer.Write([]string{
				event.ID.String(),
				actor,
				string(event.ActorRole),
				target,
				string(event.EventType),
				string(event.Detail),
				event.CreatedAt.Format(time.RFC3339),
			}); err != nil {
				return fmt.Errorf("failed to write export row: %w", err)
			}
		}

		if int64(filters.Page*filters.PageSize) >= total || len(events) == 0 {
			break
		}
		filters.Page++
	}

	writer.Flush()
	return writer.Error()
}

// Purge removes events older than cutoff and records the purge itself.
// Retention is an out-of-band administrative operation, not part of the
// query/record interface.
func (s *Service) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	purged, err := s.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}

	s.Record(ctx, NewEvent(nil, "", nil, model.EventRetentionPurged, model.PurgeDetail{
		Before: cutoff,
		Purged: purged,
	}))
	s.metrics.PurgedEvents.Add(float64(purged))

	return purged, nil
}
