package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/internal/service/audit"
	"github.com/meditrust/records-api/internal/service/directory"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("session_test")

type fakeIdentityRepo struct {
	identities map[uuid.UUID]*model.Identity
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{identities: make(map[uuid.UUID]*model.Identity)}
}

func (f *fakeIdentityRepo) Create(_ context.Context, identity *model.Identity) error {
	f.identities[identity.ID] = identity
	return nil
}

func (f *fakeIdentityRepo) Get(_ context.Context, id uuid.UUID) (*model.Identity, error) {
	identity, ok := f.identities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return identity, nil
}

func (f *fakeIdentityRepo) GetByIdentifier(_ context.Context, identifier string) (*model.Identity, error) {
	for _, identity := range f.identities {
		if identity.Phone == identifier || identity.Email == identifier {
			return identity, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeIdentityRepo) UpdateContact(_ context.Context, id uuid.UUID, phone, email string) error {
	identity, ok := f.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.Phone, identity.Email = phone, email
	return nil
}

func (f *fakeIdentityRepo) Retire(_ context.Context, id uuid.UUID) error {
	identity, ok := f.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.Status = model.IdentityStatusRetired
	return nil
}

type noopBiometricRepo struct{}

func (noopBiometricRepo) Enroll(_ context.Context, _ *model.BiometricReference) error { return nil }
func (noopBiometricRepo) Get(_ context.Context, _ uuid.UUID, _ model.BiometricModality) (*model.BiometricReference, error) {
	return nil, repository.ErrNotFound
}
func (noopBiometricRepo) FindByReference(_ context.Context, _ model.BiometricModality, _ string) (*model.BiometricReference, error) {
	return nil, repository.ErrNotFound
}
func (noopBiometricRepo) DeleteForIdentity(_ context.Context, _ uuid.UUID) error { return nil }

type fakeSessionRepo struct {
	sessions map[uuid.UUID]*model.EmergencySession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*model.EmergencySession)}
}

func (f *fakeSessionRepo) Create(_ context.Context, session *model.EmergencySession) (*model.EmergencySession, error) {
	for _, existing := range f.sessions {
		if existing.RequesterID == session.RequesterID &&
			existing.TargetID == session.TargetID &&
			existing.Status == model.SessionActive &&
			session.CreatedAt.Before(existing.ExpiresAt) {
			return existing, repository.ErrDuplicateActiveSession
		}
	}
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeSessionRepo) Get(_ context.Context, id uuid.UUID) (*model.EmergencySession, error) {
	session, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	session, ok := f.sessions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if session.Status != model.SessionActive {
		return false, nil
	}
	session.Status = model.SessionRevoked
	session.RevokedAt = &at
	return true, nil
}

func (f *fakeSessionRepo) MarkExpired(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	session, ok := f.sessions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if session.Status != model.SessionActive || now.Before(session.ExpiresAt) {
		return false, nil
	}
	session.Status = model.SessionExpired
	return true, nil
}

func (f *fakeSessionRepo) ActiveFor(_ context.Context, requesterID uuid.UUID, now time.Time) ([]*model.EmergencySession, error) {
	var out []*model.EmergencySession
	for _, session := range f.sessions {
		if session.RequesterID == requesterID && session.Live(now) {
			out = append(out, session)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) HistoryFor(_ context.Context, targetID uuid.UUID) ([]*model.EmergencySession, error) {
	var out []*model.EmergencySession
	for _, session := range f.sessions {
		if session.TargetID == targetID {
			out = append(out, session)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) ExpireOverdue(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id, session := range f.sessions {
		if session.Status == model.SessionActive && !now.Before(session.ExpiresAt) {
			session.Status = model.SessionExpired
			out = append(out, id)
		}
	}
	return out, nil
}

type memAuditRepo struct {
	events []*model.AuditEvent
}

func (m *memAuditRepo) Create(_ context.Context, event *model.AuditEvent) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAuditRepo) ListWithPagination(_ context.Context, _ *model.AuditFilters) ([]*model.AuditEvent, int64, error) {
	return m.events, int64(len(m.events)), nil
}

func (m *memAuditRepo) Stats(_ context.Context, _ *model.AuditFilters) (*model.AuditStats, error) {
	return &model.AuditStats{Total: int64(len(m.events))}, nil
}

func (m *memAuditRepo) DeleteBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (m *memAuditRepo) count(eventType model.AuditEventType) int {
	n := 0
	for _, e := range m.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type captureBroker struct {
	published []string
}

func (b *captureBroker) Publish(_ context.Context, channel string, _ interface{}) error {
	b.published = append(b.published, channel)
	return nil
}

func (b *captureBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (b *captureBroker) Close() error { return nil }

type fixture struct {
	svc       *Service
	repo      *fakeSessionRepo
	audits    *memAuditRepo
	broker    *captureBroker
	clk       *clock.Fake
	doctor    *model.Identity
	patient   *model.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   newFakeSessionRepo(),
		audits: &memAuditRepo{},
		broker: &captureBroker{},
		clk:    clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}

	identities := newFakeIdentityRepo()
	f.doctor = &model.Identity{
		Base:   model.Base{ID: uuid.New()},
		Role:   model.RoleDoctor,
		Status: model.IdentityStatusActive,
	}
	f.patient = &model.Identity{
		Base:   model.Base{ID: uuid.New()},
		Role:   model.RolePatient,
		Status: model.IdentityStatusActive,
	}
	require.NoError(t, identities.Create(context.Background(), f.doctor))
	require.NoError(t, identities.Create(context.Background(), f.patient))

	log := logger.NewLogger(nil)
	dir := directory.NewService(identities, noopBiometricRepo{})
	auditor := audit.NewService(f.audits, f.clk, log, testMetrics)
	f.svc = NewService(f.repo, dir, f.clk, Config{TTL: 15 * time.Minute}, auditor, testMetrics, f.broker, log)
	return f
}

func (f *fixture) create(t *testing.T) *model.EmergencySession {
	t.Helper()
	session, reused, err := f.svc.Create(context.Background(), f.doctor.ID, f.patient.ID, model.MethodOTP, "unconscious in ER", "st-marys")
	require.NoError(t, err)
	require.False(t, reused)
	return session
}

func TestCreateSetsTTL(t *testing.T) {
	f := newFixture(t)
	session := f.create(t)

	assert.Equal(t, model.SessionActive, session.Status)
	assert.Equal(t, f.clk.Now().Add(15*time.Minute), session.ExpiresAt)
}

func TestCreateReusesLiveDuplicate(t *testing.T) {
	f := newFixture(t)
	first := f.create(t)

	second, reused, err := f.svc.Create(context.Background(), f.doctor.ID, f.patient.ID, model.MethodOTP, "still in ER", "st-marys")
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, first.ID, second.ID)
	// The original expiry stands; reuse never extends a session.
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
}

func TestCreateAfterExpiryStartsFresh(t *testing.T) {
	f := newFixture(t)
	first := f.create(t)

	f.clk.Advance(16 * time.Minute)

	second, reused, err := f.svc.Create(context.Background(), f.doctor.ID, f.patient.ID, model.MethodOTP, "back in ER", "st-marys")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateRejectsNonDoctorRequester(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Create(context.Background(), f.patient.ID, f.patient.ID, model.MethodOTP, "reason long enough", "")
	assert.ErrorIs(t, err, ErrRequesterNotFound)
}

func TestCreateRejectsRetiredTarget(t *testing.T) {
	f := newFixture(t)
	f.patient.Status = model.IdentityStatusRetired

	_, _, err := f.svc.Create(context.Background(), f.doctor.ID, f.patient.ID, model.MethodOTP, "reason long enough", "")
	assert.ErrorIs(t, err, ErrTargetInactive)
}

func TestRevokeIsTerminal(t *testing.T) {
	f := newFixture(t)
	session := f.create(t)

	require.NoError(t, f.svc.Revoke(context.Background(), session.ID, "PATIENT"))

	got, err := f.svc.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionRevoked, got.Status)
	require.NotNil(t, got.RevokedAt)

	// Second revoke reports terminality, state does not change.
	assert.ErrorIs(t, f.svc.Revoke(context.Background(), session.ID, "PATIENT"), ErrSessionTerminal)
	assert.Equal(t, 1, f.audits.count(model.EventEmergencyRevoked))
	assert.Contains(t, f.broker.published, "emergency.revoked")
}

func TestRevokeUnknownSession(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.Revoke(context.Background(), uuid.New(), "OPERATOR"), ErrSessionNotFound)
}

func TestIsLiveLazyExpiry(t *testing.T) {
	f := newFixture(t)
	session := f.create(t)

	live, err := f.svc.IsLive(context.Background(), session.ID)
	require.NoError(t, err)
	assert.True(t, live)

	f.clk.Advance(16 * time.Minute)

	live, err = f.svc.IsLive(context.Background(), session.ID)
	require.NoError(t, err)
	assert.False(t, live)

	got, err := f.svc.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionExpired, got.Status)

	// The expiry event fires exactly once.
	_, err = f.svc.IsLive(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.audits.count(model.EventEmergencyExpired))
}

func TestRevokedSessionNeverRevives(t *testing.T) {
	f := newFixture(t)
	session := f.create(t)

	require.NoError(t, f.svc.Revoke(context.Background(), session.ID, "PATIENT"))

	live, err := f.svc.IsLive(context.Background(), session.ID)
	require.NoError(t, err)
	assert.False(t, live)

	got, err := f.svc.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionRevoked, got.Status)
}

func TestActiveForAndHistoryFor(t *testing.T) {
	f := newFixture(t)
	session := f.create(t)

	active, err := f.svc.ActiveFor(context.Background(), f.doctor.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, session.ID, active[0].ID)

	require.NoError(t, f.svc.Revoke(context.Background(), session.ID, "PATIENT"))

	active, err = f.svc.ActiveFor(context.Background(), f.doctor.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := f.svc.HistoryFor(context.Background(), f.patient.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
