package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("audit_test")

type fakeAuditRepo struct {
	events    []*model.AuditEvent
	createErr error
	deleted   int64
}

func (f *fakeAuditRepo) Create(_ context.Context, event *model.AuditEvent) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditRepo) ListWithPagination(_ context.Context, filters *model.AuditFilters) ([]*model.AuditEvent, int64, error) {
	start := filters.Offset()
	if start >= len(f.events) {
		return nil, int64(len(f.events)), nil
	}
	end := start + filters.PageSize
	if end > len(f.events) {
		end = len(f.events)
	}
	return f.events[start:end], int64(len(f.events)), nil
}

func (f *fakeAuditRepo) Stats(_ context.Context, _ *model.AuditFilters) (*model.AuditStats, error) {
	stats := &model.AuditStats{
		Total:  int64(len(f.events)),
		ByType: map[model.AuditEventType]int64{},
		ByRole: map[model.Role]int64{},
		ByHour: map[int]int64{},
	}
	for _, e := range f.events {
		stats.ByType[e.EventType]++
	}
	return stats, nil
}

func (f *fakeAuditRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []*model.AuditEvent
	var purged int64
	for _, e := range f.events {
		if e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	f.events = kept
	f.deleted = purged
	return purged, nil
}

func newTestService(repo *fakeAuditRepo, clk clock.Clock) *Service {
	return NewService(repo, clk, logger.NewLogger(nil), testMetrics)
}

func TestRecordAppendsEvent(t *testing.T) {
	repo := &fakeAuditRepo{}
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(repo, clk)

	actorID := uuid.New()
	svc.Record(context.Background(), NewEvent(&actorID, model.RoleDoctor, nil, model.EventCodeIssued, model.CodeDetail{
		Identifier: "+15551234567",
		Purpose:    model.PurposeEmergencyAccess,
	}))

	require.Len(t, repo.events, 1)
	event := repo.events[0]
	assert.Equal(t, model.EventCodeIssued, event.EventType)
	assert.Equal(t, clk.Now(), event.CreatedAt)
	assert.Contains(t, string(event.Detail), "+15551234567")
}

func TestRecordSwallowsWriteFailure(t *testing.T) {
	repo := &fakeAuditRepo{createErr: errors.New("db down")}
	svc := newTestService(repo, clock.NewFake(time.Now()))

	// Must not panic or propagate; the operation being audited goes on.
	svc.Record(context.Background(), NewEvent(nil, "", nil, model.EventEmergencyGranted, nil))
	assert.Empty(t, repo.events)
}

func TestQueryNormalizesPagination(t *testing.T) {
	repo := &fakeAuditRepo{}
	svc := newTestService(repo, clock.NewFake(time.Now()))
	for i := 0; i < 3; i++ {
		svc.Record(context.Background(), NewEvent(nil, "", nil, model.EventAccessAllowed, nil))
	}

	filters := &model.AuditFilters{}
	events, total, err := svc.Query(context.Background(), filters)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, events, 3)
	assert.Equal(t, 1, filters.Page)
	assert.NotZero(t, filters.PageSize)
}

func TestExportWritesCSV(t *testing.T) {
	repo := &fakeAuditRepo{}
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(repo, clk)

	target := uuid.New()
	svc.Record(context.Background(), NewEvent(nil, model.RoleDoctor, &target, model.EventEmergencyGranted, model.GrantDetail{
		SessionID: uuid.New(),
		Method:    model.MethodOTP,
		Reason:    "unconscious in ER",
	}))

	var buf bytes.Buffer
	require.NoError(t, svc.Export(context.Background(), &model.AuditFilters{}, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Event Type")
	assert.Contains(t, lines[1], string(model.EventEmergencyGranted))
	assert.Contains(t, lines[1], target.String())
}

func TestPurgeRecordsItsOwnEvent(t *testing.T) {
	repo := &fakeAuditRepo{}
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(repo, clk)

	old := NewEvent(nil, "", nil, model.EventAccessAllowed, nil)
	old.CreatedAt = clk.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, repo.Create(context.Background(), old))

	purged, err := svc.Purge(context.Background(), clk.Now().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	require.Len(t, repo.events, 1)
	assert.Equal(t, model.EventRetentionPurged, repo.events[0].EventType)
}
