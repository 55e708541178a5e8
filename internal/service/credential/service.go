package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/internal/service/audit"
	"github.com/meditrust/records-api/internal/service/notification"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/metrics"
	"github.com/meditrust/records-api/pkg/security"
)

var (
	ErrCodeNotFound         = errors.New("no live code for identifier and purpose")
	ErrCodeExpired          = errors.New("code expired")
	ErrTooManyAttempts      = errors.New("verification attempts exhausted")
	ErrCodeMismatch         = errors.New("code does not match")
	ErrNoBiometricReference = errors.New("no biometric reference enrolled")
	ErrBiometricMismatch    = errors.New("biometric verification failed")
	ErrRateLimited          = errors.New("too many code requests")
)

type Config struct {
	CodeLength  int
	CodeTTL     time.Duration
	MaxAttempts int
	RateLimit   int64
	RateWindow  time.Duration
}

func (c *Config) defaults() {
	if c.CodeLength <= 0 {
		c.CodeLength = 6
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 5
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 15 * time.Minute
	}
}

// Matcher compares an enrolled biometric reference against a presented
// proof. No real matcher ships with this repository.
type Matcher interface {
	Match(ref *model.BiometricReference, proof string) bool
}

// placeholderMatcher accepts any non-empty proof. It exists so the
// verification contract is exercisable end to end; it MUST be replaced by a
// real matcher before production use.
type placeholderMatcher struct{}

func NewPlaceholderMatcher() Matcher {
	return placeholderMatcher{}
}

func (placeholderMatcher) Match(_ *model.BiometricReference, proof string) bool {
	return proof != ""
}

// Service validates single proofs of identity. It has no knowledge of
// emergency sessions.
type Service struct {
	creds      repository.CredentialRepository
	biometrics repository.BiometricRepository
	rates      repository.RateCounter
	hasher     security.CodeHasher
	matcher    Matcher
	notifier   notification.Sender
	clk        clock.Clock
	cfg        Config
	auditor    *audit.Service
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

func NewService(
	creds repository.CredentialRepository,
	biometrics repository.BiometricRepository,
	rates repository.RateCounter,
	hasher security.CodeHasher,
	matcher Matcher,
	notifier notification.Sender,
	clk clock.Clock,
	cfg Config,
	auditor *audit.Service,
	m *metrics.Metrics,
	log *logger.Logger,
) *Service {
	cfg.defaults()
	return &Service{
		creds:      creds,
		biometrics: biometrics,
		rates:      rates,
		hasher:     hasher,
		matcher:    matcher,
		notifier:   notifier,
		clk:        clk,
		cfg:        cfg,
		auditor:    auditor,
		metrics:    m,
		logger:     log,
	}
}

// IssueOneTimeCode creates a fresh code for (identifier, purpose),
// invalidating any prior live one, and dispatches it out-of-band. Delivery
// failure does not invalidate the issued credential: availability of
// emergency access wins over delivery-channel reliability.
func (s *Service) IssueOneTimeCode(ctx context.Context, identifier string, purpose model.CredentialPurpose) (*model.IssueCodeResponse, error) {
	rateKey := fmt.Sprintf("otp:%s:%s", identifier, purpose)
	count, err := s.rates.Incr(ctx, rateKey, s.cfg.RateWindow)
	if err != nil {
		// A broken counter must not block a legitimate emergency request.
		s.logger.Error(err, "rate counter unavailable", "identifier", identifier)
	} else if count > s.cfg.RateLimit {
		return nil, ErrRateLimited
	}

	code, err := security.GenerateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	now := s.clk.Now()
	cred := &model.OneTimeCredential{
		ID:          uuid.New(),
		Identifier:  identifier,
		Purpose:     purpose,
		CodeHash:    hash,
		Attempts:    0,
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.CodeTTL),
	}

	if err := s.creds.Replace(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	s.metrics.CodesIssued.WithLabelValues(string(purpose)).Inc()

	if err := s.notifier.Send(ctx, identifier, fmt.Sprintf("Your verification code is %s", code)); err != nil {
		// The code stays valid if the caller learns it through another channel.
		s.logger.Error(err, "code delivery failed", "identifier", identifier, "purpose", string(purpose))
	}

	s.auditor.Record(ctx, audit.NewEvent(nil, "", nil, model.EventCodeIssued, model.CodeDetail{
		Identifier: identifier,
		Purpose:    purpose,
	}))

	return &model.IssueCodeResponse{ExpiresAt: cred.ExpiresAt}, nil
}

// VerifyOneTimeCode checks a presented code. Success consumes the
// credential; a mismatch burns an attempt; exhaustion is fail-closed even
// for a later correct code.
func (s *Service) VerifyOneTimeCode(ctx context.Context, identifier, code string, purpose model.CredentialPurpose) error {
	cred, err := s.creds.GetLive(ctx, identifier, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.verdict(ctx, identifier, purpose, "not_found", ErrCodeNotFound)
		}
		return fmt.Errorf("failed to load credential: %w", err)
	}

	now := s.clk.Now()
	if cred.Expired(now) {
		if err := s.creds.Delete(ctx, cred.ID); err != nil {
			s.logger.Error(err, "failed to delete expired credential")
		}
		return s.verdict(ctx, identifier, purpose, "expired", ErrCodeExpired)
	}

	if cred.Exhausted() {
		return s.verdict(ctx, identifier, purpose, "exhausted", ErrTooManyAttempts)
	}

	if err := s.hasher.Compare(cred.CodeHash, code); err != nil {
		if err := s.creds.IncrementAttempts(ctx, cred.ID); err != nil {
			s.logger.Error(err, "failed to increment attempts")
		}
		if cred.Attempts+1 >= cred.MaxAttempts {
			return s.verdict(ctx, identifier, purpose, "exhausted", ErrTooManyAttempts)
		}
		return s.verdict(ctx, identifier, purpose, "mismatch", ErrCodeMismatch)
	}

	// Single use: success deletes the credential.
	if err := s.creds.Delete(ctx, cred.ID); err != nil {
		return fmt.Errorf("failed to consume credential: %w", err)
	}

	s.metrics.CodeVerdicts.WithLabelValues(string(purpose), "verified").Inc()
	s.auditor.Record(ctx, audit.NewEvent(nil, "", nil, model.EventCodeVerified, model.CodeDetail{
		Identifier: identifier,
		Purpose:    purpose,
		Verdict:    "verified",
	}))
	return nil
}

// VerifyBiometric checks an enrolled reference exists and runs the match
// step. The match is a placeholder contract (see Matcher).
func (s *Service) VerifyBiometric(ctx context.Context, identityID uuid.UUID, modality model.BiometricModality, proof string) error {
	ref, err := s.biometrics.Get(ctx, identityID, modality)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.auditor.Record(ctx, audit.NewEvent(&identityID, "", nil, model.EventBiometricFailed, model.BiometricDetail{
				Modality: modality,
				Reason:   "no_reference",
			}))
			return ErrNoBiometricReference
		}
		return fmt.Errorf("failed to load biometric reference: %w", err)
	}

	if !s.matcher.Match(ref, proof) {
		s.auditor.Record(ctx, audit.NewEvent(&identityID, "", nil, model.EventBiometricFailed, model.BiometricDetail{
			Modality: modality,
			Reason:   "mismatch",
		}))
		return ErrBiometricMismatch
	}

	s.auditor.Record(ctx, audit.NewEvent(&identityID, "", nil, model.EventBiometricVerified, model.BiometricDetail{
		Modality: modality,
	}))
	return nil
}

func (s *Service) verdict(ctx context.Context, identifier string, purpose model.CredentialPurpose, verdict string, err error) error {
	s.metrics.CodeVerdicts.WithLabelValues(string(purpose), verdict).Inc()
	s.auditor.Record(ctx, audit.NewEvent(nil, "", nil, model.EventCodeFailed, model.CodeDetail{
		Identifier: identifier,
		Purpose:    purpose,
		Verdict:    verdict,
	}))
	return err
}
