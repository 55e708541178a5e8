package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/internal/service/audit"
	"github.com/meditrust/records-api/internal/service/credential"
	"github.com/meditrust/records-api/internal/service/directory"
	"github.com/meditrust/records-api/internal/service/token"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/metrics"
	"github.com/meditrust/records-api/pkg/security"
)

var testMetrics = metrics.NewMetrics("auth_handler_test")

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

type fakeCredRepo struct {
	creds map[string]*model.OneTimeCredential
}

func credKey(identifier string, purpose model.CredentialPurpose) string {
	return identifier + "|" + string(purpose)
}

func (f *fakeCredRepo) Replace(_ context.Context, cred *model.OneTimeCredential) error {
	f.creds[credKey(cred.Identifier, cred.Purpose)] = cred
	return nil
}

func (f *fakeCredRepo) GetLive(_ context.Context, identifier string, purpose model.CredentialPurpose) (*model.OneTimeCredential, error) {
	cred, ok := f.creds[credKey(identifier, purpose)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *cred
	return &copied, nil
}

func (f *fakeCredRepo) IncrementAttempts(_ context.Context, id uuid.UUID) error {
	for _, cred := range f.creds {
		if cred.ID == id {
			cred.Attempts++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeCredRepo) Delete(_ context.Context, id uuid.UUID) error {
	for key, cred := range f.creds {
		if cred.ID == id {
			delete(f.creds, key)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeCredRepo) DeleteExpiredBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeRateCounter struct {
	counts map[string]int64
}

func (f *fakeRateCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.counts[key]++
	return f.counts[key], nil
}

type noopNotifier struct{}

func (noopNotifier) Send(_ context.Context, _, _ string) error { return nil }

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

type fixture struct {
	engine *gin.Engine
	creds  *fakeCredRepo
}

const registeredPhone = "+15550001111"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{creds: &fakeCredRepo{creds: make(map[string]*model.OneTimeCredential)}}

	identities := &fakeIdentityRepo{identities: make(map[uuid.UUID]*model.Identity)}
	require.NoError(t, identities.Create(context.Background(), &model.Identity{
		Base:   model.Base{ID: uuid.New()},
		Phone:  registeredPhone,
		Role:   model.RolePatient,
		Status: model.IdentityStatusActive,
	}))

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := logger.NewLogger(nil)
	auditor := audit.NewService(&memAuditRepo{}, clk, log, testMetrics)
	dir := directory.NewService(identities, noopBiometricRepo{})
	creds := credential.NewService(
		f.creds, noopBiometricRepo{}, &fakeRateCounter{counts: make(map[string]int64)},
		security.NewBcryptHasher(4),
		credential.NewPlaceholderMatcher(),
		noopNotifier{},
		clk,
		credential.Config{CodeLength: 6, CodeTTL: 5 * time.Minute, MaxAttempts: 3, RateLimit: 5, RateWindow: time.Minute},
		auditor, testMetrics, log,
	)
	tokens := token.NewService(token.Config{Secret: "test-secret"}, clk)

	h := NewHandler(creds, dir, tokens)
	f.engine = gin.New()
	h.RegisterRoutes(f.engine.Group("/api/v1"))
	return f
}

func (f *fixture) issueCode(t *testing.T, identifier string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"identifier":"` + identifier + `","purpose":"LOGIN"}`
	req, err := http.NewRequest(http.MethodPost, "/api/v1/auth/otp", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestIssueCodeResponseUniformAcrossIdentifiers(t *testing.T) {
	f := newFixture(t)

	known := f.issueCode(t, registeredPhone)
	unknown := f.issueCode(t, "+15559998888")

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, http.StatusOK, unknown.Code)

	// Byte-for-byte identical bodies, so the endpoint cannot be used to
	// enumerate registered identifiers.
	assert.JSONEq(t, known.Body.String(), unknown.Body.String())
	assert.NotContains(t, known.Body.String(), "expires_at")

	// The code was still issued for the registered identifier only.
	assert.Len(t, f.creds.creds, 1)
	assert.Contains(t, f.creds.creds, credKey(registeredPhone, model.PurposeLogin))
}
