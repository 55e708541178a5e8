package access

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
	"github.com/meditrust/records-api/internal/service/session"
	"github.com/meditrust/records-api/internal/service/token"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("access_test")

type fakeIdentityRepo struct {
	identities map[uuid.UUID]*model.Identity
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

func (f *fakeIdentityRepo) UpdateContact(_ context.Context, _ uuid.UUID, _, _ string) error {
	return nil
}

func (f *fakeIdentityRepo) Retire(_ context.Context, _ uuid.UUID) error { return nil }

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

func (f *fakeSessionRepo) Create(_ context.Context, s *model.EmergencySession) (*model.EmergencySession, error) {
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessionRepo) Get(_ context.Context, id uuid.UUID) (*model.EmergencySession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessionRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s, ok := f.sessions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if s.Status != model.SessionActive {
		return false, nil
	}
	s.Status = model.SessionRevoked
	s.RevokedAt = &at
	return true, nil
}

func (f *fakeSessionRepo) MarkExpired(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s, ok := f.sessions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if s.Status != model.SessionActive || now.Before(s.ExpiresAt) {
		return false, nil
	}
	s.Status = model.SessionExpired
	return true, nil
}

func (f *fakeSessionRepo) ActiveFor(_ context.Context, _ uuid.UUID, _ time.Time) ([]*model.EmergencySession, error) {
	return nil, nil
}

func (f *fakeSessionRepo) HistoryFor(_ context.Context, _ uuid.UUID) ([]*model.EmergencySession, error) {
	return nil, nil
}

func (f *fakeSessionRepo) ExpireOverdue(_ context.Context, _ time.Time) ([]uuid.UUID, error) {
	return nil, nil
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

type fixture struct {
	svc      *Service
	tokens   *token.Service
	sessions *session.Service
	repo     *fakeSessionRepo
	audits   *memAuditRepo
	clk      *clock.Fake
	doctor   *model.Identity
	patient  *model.Identity
	operator *model.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   &fakeSessionRepo{sessions: make(map[uuid.UUID]*model.EmergencySession)},
		audits: &memAuditRepo{},
		clk:    clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}

	identities := &fakeIdentityRepo{identities: make(map[uuid.UUID]*model.Identity)}
	f.doctor = &model.Identity{Base: model.Base{ID: uuid.New()}, Role: model.RoleDoctor, Status: model.IdentityStatusActive}
	f.patient = &model.Identity{Base: model.Base{ID: uuid.New()}, Role: model.RolePatient, Status: model.IdentityStatusActive, Hospital: "st-marys"}
	f.operator = &model.Identity{Base: model.Base{ID: uuid.New()}, Role: model.RoleOperator, Status: model.IdentityStatusActive, Hospital: "st-marys"}
	require.NoError(t, identities.Create(context.Background(), f.doctor))
	require.NoError(t, identities.Create(context.Background(), f.patient))
	require.NoError(t, identities.Create(context.Background(), f.operator))

	log := logger.NewLogger(nil)
	dir := directory.NewService(identities, noopBiometricRepo{})
	auditor := audit.NewService(f.audits, f.clk, log, testMetrics)
	f.tokens = token.NewService(token.Config{Secret: "test-secret"}, f.clk)
	f.sessions = session.NewService(f.repo, dir, f.clk, session.Config{TTL: 15 * time.Minute}, auditor, testMetrics, nil, log)
	f.svc = NewService(f.tokens, f.sessions, auditor, f.clk, testMetrics)
	return f
}

func (f *fixture) regularToken(t *testing.T, identity *model.Identity) string {
	t.Helper()
	signed, _, err := f.tokens.MintRegularToken(identity)
	require.NoError(t, err)
	return signed
}

func (f *fixture) emergencySession(t *testing.T) (*model.EmergencySession, string) {
	t.Helper()
	sess, reused, err := f.sessions.Create(context.Background(), f.doctor.ID, f.patient.ID, model.MethodOTP, "unconscious in ER", "st-marys")
	require.NoError(t, err)
	require.False(t, reused)
	signed, _, err := f.tokens.MintEmergencyToken(sess)
	require.NoError(t, err)
	return sess, signed
}

func TestPatientSelfAccessAllowed(t *testing.T) {
	f := newFixture(t)

	decision := f.svc.Authorize(context.Background(), f.regularToken(t, f.patient), f.patient.ID)
	assert.True(t, decision.Allow)
	assert.Equal(t, 1, f.audits.count(model.EventAccessAllowed))
}

func TestPatientCrossAccessDenied(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()

	decision := f.svc.Authorize(context.Background(), f.regularToken(t, f.patient), other)
	assert.False(t, decision.Allow)
	assert.Equal(t, DenyInsufficientPermissions, decision.Reason)
	assert.Equal(t, 1, f.audits.count(model.EventAccessDenied))
}

func TestDoctorWithoutSessionDenied(t *testing.T) {
	f := newFixture(t)

	decision := f.svc.Authorize(context.Background(), f.regularToken(t, f.doctor), f.patient.ID)
	assert.False(t, decision.Allow)
	assert.Equal(t, DenyInsufficientPermissions, decision.Reason)
}

func TestEmergencyTokenAllowsItsPatient(t *testing.T) {
	f := newFixture(t)
	_, signed := f.emergencySession(t)

	decision := f.svc.Authorize(context.Background(), signed, f.patient.ID)
	assert.True(t, decision.Allow)
}

func TestEmergencyTokenWrongPatientDenied(t *testing.T) {
	f := newFixture(t)
	_, signed := f.emergencySession(t)

	decision := f.svc.Authorize(context.Background(), signed, uuid.New())
	assert.False(t, decision.Allow)
	assert.Equal(t, DenyWrongPatientForSession, decision.Reason)
}

func TestRevokedSessionDeniedDespiteValidToken(t *testing.T) {
	f := newFixture(t)
	sess, signed := f.emergencySession(t)

	require.NoError(t, f.sessions.Revoke(context.Background(), sess.ID, "PATIENT"))

	// Token signature and expiry are still fine; the session is not.
	decision := f.svc.Authorize(context.Background(), signed, f.patient.ID)
	assert.False(t, decision.Allow)
	assert.Equal(t, DenySessionExpiredOrRevoked, decision.Reason)
}

func TestExpiredSessionDenied(t *testing.T) {
	f := newFixture(t)
	_, signed := f.emergencySession(t)

	f.clk.Advance(16 * time.Minute)

	decision := f.svc.Authorize(context.Background(), signed, f.patient.ID)
	assert.False(t, decision.Allow)
	// Token expiry and session expiry land together; either way access is gone.
	assert.Contains(t, []DenyReason{DenySessionExpiredOrRevoked, DenyInvalidToken}, decision.Reason)
}

func TestInvalidTokenDenied(t *testing.T) {
	f := newFixture(t)

	decision := f.svc.Authorize(context.Background(), "garbage", f.patient.ID)
	assert.False(t, decision.Allow)
	assert.Equal(t, DenyInvalidToken, decision.Reason)
}

func TestOperatorHospitalPredicate(t *testing.T) {
	f := newFixture(t)
	signed := f.regularToken(t, f.operator)

	assert.True(t, f.svc.AuthorizeHospital(context.Background(), signed, "st-marys").Allow)

	decision := f.svc.AuthorizeHospital(context.Background(), signed, "county-general")
	assert.False(t, decision.Allow)
	assert.Equal(t, DenyInsufficientPermissions, decision.Reason)

	// Doctors never pass the hospital predicate.
	assert.False(t, f.svc.AuthorizeHospital(context.Background(), f.regularToken(t, f.doctor), "st-marys").Allow)
}

func TestEveryDecisionIsAudited(t *testing.T) {
	f := newFixture(t)
	_, signed := f.emergencySession(t)

	f.svc.Authorize(context.Background(), signed, f.patient.ID)
	f.svc.Authorize(context.Background(), signed, uuid.New())

	assert.Equal(t, 1, f.audits.count(model.EventAccessAllowed))
	assert.Equal(t, 1, f.audits.count(model.EventAccessDenied))
}
