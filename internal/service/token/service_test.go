package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/pkg/clock"
)

func testIdentity() *model.Identity {
	return &model.Identity{
		Base:     model.Base{ID: uuid.New()},
		Role:     model.RolePatient,
		Hospital: "st-marys",
	}
}

func testSession(clk clock.Clock, ttl time.Duration) *model.EmergencySession {
	return &model.EmergencySession{
		ID:          uuid.New(),
		RequesterID: uuid.New(),
		TargetID:    uuid.New(),
		Status:      model.SessionActive,
		CreatedAt:   clk.Now(),
		ExpiresAt:   clk.Now().Add(ttl),
	}
}

func TestMintAndValidateRegularToken(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Config{Secret: "test-secret"}, clk)

	identity := testIdentity()
	signed, claims, err := svc.MintRegularToken(identity)
	require.NoError(t, err)
	assert.Equal(t, model.TokenRegular, claims.Kind)
	assert.Equal(t, clk.Now().Add(24*time.Hour), claims.ExpiresAt.Time)

	parsed, err := svc.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, parsed.IdentityID)
	assert.Equal(t, model.RolePatient, parsed.Role)
	assert.Equal(t, "st-marys", parsed.Hospital)
	assert.Nil(t, parsed.SessionID)
}

func TestEmergencyTokenBoundToSessionExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Config{Secret: "test-secret"}, clk)

	session := testSession(clk, 15*time.Minute)
	signed, claims, err := svc.MintEmergencyToken(session)
	require.NoError(t, err)
	assert.Equal(t, model.TokenEmergency, claims.Kind)
	assert.Equal(t, session.ExpiresAt, claims.ExpiresAt.Time)
	require.NotNil(t, claims.SessionID)
	assert.Equal(t, session.ID, *claims.SessionID)
	require.NotNil(t, claims.TargetID)
	assert.Equal(t, session.TargetID, *claims.TargetID)

	_, err = svc.Validate(signed)
	assert.NoError(t, err)
}

func TestMintEmergencyTokenRejectsExpiredSession(t *testing.T) {
	clk := clock.NewFake(time.Now())
	svc := NewService(Config{Secret: "test-secret"}, clk)

	session := testSession(clk, 15*time.Minute)
	clk.Advance(16 * time.Minute)

	_, _, err := svc.MintEmergencyToken(session)
	assert.Error(t, err)
}

func TestValidateExpiredToken(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Config{Secret: "test-secret"}, clk)

	signed, _, err := svc.MintEmergencyToken(testSession(clk, 15*time.Minute))
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)

	_, err = svc.Validate(signed)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	clk := clock.NewFake(time.Now())
	minter := NewService(Config{Secret: "secret-a"}, clk)
	verifier := NewService(Config{Secret: "secret-b"}, clk)

	signed, _, err := minter.MintRegularToken(testIdentity())
	require.NoError(t, err)

	_, err = verifier.Validate(signed)
	assert.ErrorIs(t, err, ErrTokenSignature)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := NewService(Config{Secret: "test-secret"}, clock.NewFake(time.Now()))

	_, err := svc.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}
