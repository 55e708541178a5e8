package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/pkg/clock"
)

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
)

type Config struct {
	Secret     string
	RegularTTL time.Duration
}

// Service mints and validates signed bearer tokens. Validation is a
// signature/expiry check only: liveness of an embedded emergency session is
// deliberately not this service's concern.
type Service struct {
	secret     []byte
	regularTTL time.Duration
	clk        clock.Clock
}

func NewService(cfg Config, clk clock.Clock) *Service {
	ttl := cfg.RegularTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		secret:     []byte(cfg.Secret),
		regularTTL: ttl,
		clk:        clk,
	}
}

// MintRegularToken issues an identity token with the standard 24h TTL.
func (s *Service) MintRegularToken(identity *model.Identity) (string, *model.TokenClaims, error) {
	now := s.clk.Now()
	claims := &model.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.regularTTL)),
		},
		Kind:       model.TokenRegular,
		IdentityID: identity.ID,
		Role:       identity.Role,
		Hospital:   identity.Hospital,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// MintEmergencyToken issues a session-bound token whose TTL is exactly the
// session's remaining lifetime at mint time.
func (s *Service) MintEmergencyToken(session *model.EmergencySession) (string, *model.TokenClaims, error) {
	now := s.clk.Now()
	if !session.ExpiresAt.After(now) {
		return "", nil, fmt.Errorf("session %s already expired", session.ID)
	}

	sessionID := session.ID
	targetID := session.TargetID
	claims := &model.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.RequesterID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		Kind:       model.TokenEmergency,
		IdentityID: session.RequesterID,
		Role:       model.RoleDoctor,
		Hospital:   session.Hospital,
		SessionID:  &sessionID,
		TargetID:   &targetID,
	}

	signed, err := s.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Validate checks signature and expiry. A valid result is necessary but not
// sufficient for emergency access; the decision engine re-checks session
// liveness on every use.
func (s *Service) Validate(raw string) (*model.TokenClaims, error) {
	claims := &model.TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clk.Now), jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		default:
			return nil, ErrTokenMalformed
		}
	}

	return claims, nil
}

func (s *Service) sign(claims *model.TokenClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
