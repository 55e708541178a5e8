package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/internal/service/audit"
	"github.com/meditrust/records-api/internal/service/directory"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/messaging"
	"github.com/meditrust/records-api/pkg/metrics"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionTerminal   = errors.New("session already terminal")
	ErrRequesterNotFound = errors.New("requester not found")
	ErrTargetNotFound    = errors.New("target not found")
	ErrTargetInactive    = errors.New("target account is retired")
)

type Config struct {
	TTL time.Duration
}

// Service owns the emergency-session lifecycle and is the single source of
// truth for "is this override still valid".
type Service struct {
	repo      repository.SessionRepository
	directory *directory.Service
	clk       clock.Clock
	ttl       time.Duration
	auditor   *audit.Service
	metrics   *metrics.Metrics
	broker    messaging.Broker
	logger    *logger.Logger
}

func NewService(
	repo repository.SessionRepository,
	dir *directory.Service,
	clk clock.Clock,
	cfg Config,
	auditor *audit.Service,
	m *metrics.Metrics,
	broker messaging.Broker,
	log *logger.Logger,
) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{
		repo:      repo,
		directory: dir,
		clk:       clk,
		ttl:       ttl,
		auditor:   auditor,
		metrics:   m,
		broker:    broker,
		logger:    log,
	}
}

// Create grants a new session for (requester, target), or returns the
// existing live one with reused=true. The duplicate check and insert run in
// one transaction in the repository.
func (s *Service) Create(ctx context.Context, requesterID, targetID uuid.UUID, method model.AuthMethod, reason, hospital string) (*model.EmergencySession, bool, error) {
	requester, err := s.directory.Get(ctx, requesterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, ErrRequesterNotFound
		}
		return nil, false, err
	}
	if requester.Role != model.RoleDoctor {
		return nil, false, ErrRequesterNotFound
	}

	target, err := s.directory.Get(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, ErrTargetNotFound
		}
		return nil, false, err
	}
	if target.Role != model.RolePatient {
		return nil, false, ErrTargetNotFound
	}
	if target.Retired() {
		return nil, false, ErrTargetInactive
	}

	now := s.clk.Now()
	session := &model.EmergencySession{
		ID:          uuid.New(),
		RequesterID: requesterID,
		TargetID:    targetID,
		Method:      method,
		Reason:      reason,
		Hospital:    hospital,
		Status:      model.SessionActive,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	created, err := s.repo.Create(ctx, session)
	if errors.Is(err, repository.ErrDuplicateActiveSession) {
		// Retrying the same pair while a session is live is
		// idempotent-by-reuse, not an error.
		return created, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}
	return created, false, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.EmergencySession, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// Revoke flips an ACTIVE session to REVOKED. Terminal sessions stay put.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, by string) error {
	revoked, err := s.repo.Revoke(ctx, id, s.clk.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if !revoked {
		return ErrSessionTerminal
	}

	s.metrics.SessionsRevoked.Inc()
	session, err := s.repo.Get(ctx, id)
	if err == nil {
		s.auditor.Record(ctx, audit.NewEvent(nil, "", &session.TargetID, model.EventEmergencyRevoked, model.SessionLifecycleDetail{
			SessionID: id,
			By:        by,
		}))
	}
	s.publish(ctx, messaging.TopicEmergencyRevoked, id)
	return nil
}

// IsLive reports whether the session still grants access. If the session is
// ACTIVE but past its expiry, it is flipped to EXPIRED here — lazy expiry
// needs no background sweep for correctness.
func (s *Service) IsLive(ctx context.Context, id uuid.UUID) (bool, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrSessionNotFound
		}
		return false, err
	}

	now := s.clk.Now()
	if session.Status == model.SessionActive && !now.Before(session.ExpiresAt) {
		flipped, err := s.repo.MarkExpired(ctx, id, now)
		if err != nil {
			return false, err
		}
		if flipped {
			s.metrics.SessionsExpired.Inc()
			s.auditor.Record(ctx, audit.NewEvent(nil, "", &session.TargetID, model.EventEmergencyExpired, model.SessionLifecycleDetail{
				SessionID: id,
				By:        "lazy",
			}))
			s.publish(ctx, messaging.TopicEmergencyExpired, id)
		}
		return false, nil
	}

	return session.Live(now), nil
}

func (s *Service) ActiveFor(ctx context.Context, requesterID uuid.UUID) ([]*model.EmergencySession, error) {
	return s.repo.ActiveFor(ctx, requesterID, s.clk.Now())
}

// HistoryFor lists every session ever opened against a patient, terminal or
// not, for the patient-facing transparency view.
func (s *Service) HistoryFor(ctx context.Context, targetID uuid.UUID) ([]*model.EmergencySession, error) {
	return s.repo.HistoryFor(ctx, targetID)
}

func (s *Service) publish(ctx context.Context, topic string, sessionID uuid.UUID) {
	if s.broker == nil {
		return
	}
	msg := messaging.Message{Type: topic, Payload: map[string]string{"session_id": sessionID.String()}}
	if err := s.broker.Publish(ctx, topic, msg); err != nil {
		s.logger.Error(err, "failed to publish session event", "topic", topic)
	}
}
