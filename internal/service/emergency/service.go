package emergency

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/internal/service/audit"
	"github.com/meditrust/records-api/internal/service/credential"
	"github.com/meditrust/records-api/internal/service/directory"
	"github.com/meditrust/records-api/internal/service/session"
	"github.com/meditrust/records-api/internal/service/token"
	"github.com/meditrust/records-api/pkg/logger"
	"github.com/meditrust/records-api/pkg/messaging"
	"github.com/meditrust/records-api/pkg/metrics"
)

const minReasonLength = 10

var (
	ErrRequesterNotAuthorized = errors.New("requester is not an authorized doctor")
	ErrPatientNotIdentified   = errors.New("patient could not be identified")
	ErrTargetInactive         = errors.New("patient account is retired")
	ErrReasonTooShort         = errors.New("access reason too short")
	ErrInvalidMethod          = errors.New("unknown authentication method")
	ErrAuthenticationFailed   = errors.New("authentication failed")
)

// Service orchestrates the break-glass flow: identify the patient, verify the
// doctor's proof of identity, open (or reuse) a session, mint its token.
// Every terminal outcome is audited before it is returned.
type Service struct {
	directory   *directory.Service
	credentials *credential.Service
	sessions    *session.Service
	tokens      *token.Service
	auditor     *audit.Service
	metrics     *metrics.Metrics
	broker      messaging.Broker
	logger      *logger.Logger
}

func NewService(
	dir *directory.Service,
	creds *credential.Service,
	sessions *session.Service,
	tokens *token.Service,
	auditor *audit.Service,
	m *metrics.Metrics,
	broker messaging.Broker,
	log *logger.Logger,
) *Service {
	return &Service{
		directory:   dir,
		credentials: creds,
		sessions:    sessions,
		tokens:      tokens,
		auditor:     auditor,
		metrics:     m,
		broker:      broker,
		logger:      log,
	}
}

// RequestAccess runs the full authorization flow for one emergency request.
func (s *Service) RequestAccess(ctx context.Context, req *model.EmergencyAccessRequest) (*model.EmergencyAccessResponse, error) {
	if len(req.Reason) < minReasonLength {
		// Input validation, not a security event.
		return nil, ErrReasonTooShort
	}
	if !req.Method.Valid() {
		return nil, ErrInvalidMethod
	}

	requester, err := s.directory.Resolve(ctx, req.RequesterIdentifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequesterNotAuthorized
		}
		return nil, fmt.Errorf("failed to resolve requester: %w", err)
	}
	if requester.Role != model.RoleDoctor || requester.Retired() {
		return nil, ErrRequesterNotAuthorized
	}

	target, err := s.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}
	if target.Retired() {
		return nil, s.deny(ctx, requester, target, req, "target_check", "target retired", ErrTargetInactive)
	}

	if err := s.authenticate(ctx, requester, req); err != nil {
		return nil, s.deny(ctx, requester, target, req, "authentication", err.Error(),
			fmt.Errorf("%w: %v", ErrAuthenticationFailed, err))
	}

	sess, reused, err := s.sessions.Create(ctx, requester.ID, target.ID, req.Method, req.Reason, req.Hospital)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	signed, _, err := s.tokens.MintEmergencyToken(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to mint emergency token: %w", err)
	}

	s.metrics.EmergencyGrants.Inc()
	s.auditor.Record(ctx, audit.NewEvent(&requester.ID, requester.Role, &target.ID, model.EventEmergencyGranted, model.GrantDetail{
		SessionID: sess.ID,
		Method:    req.Method,
		Reason:    req.Reason,
		Hospital:  req.Hospital,
		ExpiresAt: sess.ExpiresAt,
		Reused:    reused,
	}))
	s.publishGrant(ctx, sess, reused)

	return &model.EmergencyAccessResponse{
		SessionID: sess.ID,
		Token:     signed,
		ExpiresAt: sess.ExpiresAt,
		Reused:    reused,
	}, nil
}

// resolveTarget identifies the patient either by explicit identifier or, for
// the unconscious-patient path, by biometric scan lookup. Lookup misses are
// collapsed into one generic error so the endpoint cannot be used to probe
// which patients exist.
func (s *Service) resolveTarget(ctx context.Context, req *model.EmergencyAccessRequest) (*model.Identity, error) {
	var target *model.Identity
	var err error

	switch {
	case req.TargetIdentifier != "":
		target, err = s.directory.Resolve(ctx, req.TargetIdentifier)
	case req.ScanReference != "":
		target, err = s.directory.IdentifyByScan(ctx, req.ScanModality, req.ScanReference)
	default:
		return nil, ErrPatientNotIdentified
	}

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPatientNotIdentified
		}
		return nil, fmt.Errorf("failed to identify patient: %w", err)
	}
	if target.Role != model.RolePatient {
		return nil, ErrPatientNotIdentified
	}
	return target, nil
}

func (s *Service) authenticate(ctx context.Context, requester *model.Identity, req *model.EmergencyAccessRequest) error {
	switch req.Method {
	case model.MethodOTP:
		return s.credentials.VerifyOneTimeCode(ctx, req.RequesterIdentifier, req.Proof, model.PurposeEmergencyAccess)
	case model.MethodFingerprint:
		return s.credentials.VerifyBiometric(ctx, requester.ID, model.ModalityFingerprint, req.Proof)
	case model.MethodIris:
		return s.credentials.VerifyBiometric(ctx, requester.ID, model.ModalityIris, req.Proof)
	default:
		return ErrInvalidMethod
	}
}

func (s *Service) deny(ctx context.Context, requester, target *model.Identity, req *model.EmergencyAccessRequest, stage, reason string, err error) error {
	s.metrics.EmergencyDenials.WithLabelValues(stage).Inc()
	var targetID *uuid.UUID
	if target != nil {
		targetID = &target.ID
	}
	s.auditor.Record(ctx, audit.NewEvent(&requester.ID, requester.Role, targetID, model.EventEmergencyDenied, model.DenialDetail{
		Stage:  stage,
		Reason: reason,
		Method: req.Method,
	}))
	return err
}

func (s *Service) publishGrant(ctx context.Context, sess *model.EmergencySession, reused bool) {
	if s.broker == nil || reused {
		return
	}
	msg := messaging.Message{Type: messaging.TopicEmergencyGranted, Payload: map[string]string{
		"session_id":   sess.ID.String(),
		"requester_id": sess.RequesterID.String(),
		"target_id":    sess.TargetID.String(),
	}}
	if err := s.broker.Publish(ctx, messaging.TopicEmergencyGranted, msg); err != nil {
		s.logger.Error(err, "failed to publish grant event")
	}
}
