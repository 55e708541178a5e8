package access

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/service/audit"
	"github.com/meditrust/records-api/internal/service/session"
	"github.com/meditrust/records-api/internal/service/token"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/metrics"
)

// DenyReason classifies why an access decision came back negative.
type DenyReason string

const (
	DenyInvalidToken            DenyReason = "InvalidToken"
	DenySessionExpiredOrRevoked DenyReason = "SessionExpiredOrRevoked"
	DenyWrongPatientForSession  DenyReason = "WrongPatientForSession"
	DenyInsufficientPermissions DenyReason = "InsufficientPermissions"
)

// Decision is the outcome of one authorization check.
type Decision struct {
	Allow  bool
	Reason DenyReason
	Claims *model.TokenClaims
}

// Service is the single choke point deciding whether a bearer token grants
// read access to a patient-scoped resource. The token is treated as a claim,
// not as proof: emergency tokens are re-checked against live session state on
// every call, so revocation takes effect immediately regardless of token
// expiry.
type Service struct {
	tokens   *token.Service
	sessions *session.Service
	auditor  *audit.Service
	clk      clock.Clock
	metrics  *metrics.Metrics
}

func NewService(tokens *token.Service, sessions *session.Service, auditor *audit.Service, clk clock.Clock, m *metrics.Metrics) *Service {
	return &Service{
		tokens:   tokens,
		sessions: sessions,
		auditor:  auditor,
		clk:      clk,
		metrics:  m,
	}
}

// Authorize decides whether rawToken may read the record of targetPatientID.
// Exactly one audit event is written per call.
func (s *Service) Authorize(ctx context.Context, rawToken string, targetPatientID uuid.UUID) *Decision {
	timer := s.clk.Now()
	decision := s.evaluate(ctx, rawToken, targetPatientID)
	s.metrics.AuthorizeLatency.Observe(s.clk.Now().Sub(timer).Seconds())

	s.record(ctx, decision, targetPatientID, "patient_record")
	return decision
}

func (s *Service) evaluate(ctx context.Context, rawToken string, targetPatientID uuid.UUID) *Decision {
	claims, err := s.tokens.Validate(rawToken)
	if err != nil {
		return &Decision{Allow: false, Reason: DenyInvalidToken}
	}

	switch claims.Kind {
	case model.TokenEmergency:
		return s.evaluateEmergency(ctx, claims, targetPatientID)
	case model.TokenRegular:
		if claims.Role == model.RolePatient && claims.IdentityID == targetPatientID {
			return &Decision{Allow: true, Claims: claims}
		}
		return &Decision{Allow: false, Reason: DenyInsufficientPermissions, Claims: claims}
	default:
		return &Decision{Allow: false, Reason: DenyInsufficientPermissions, Claims: claims}
	}
}

func (s *Service) evaluateEmergency(ctx context.Context, claims *model.TokenClaims, targetPatientID uuid.UUID) *Decision {
	if claims.SessionID == nil || claims.TargetID == nil {
		return &Decision{Allow: false, Reason: DenyInvalidToken, Claims: claims}
	}

	live, err := s.sessions.IsLive(ctx, *claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return &Decision{Allow: false, Reason: DenySessionExpiredOrRevoked, Claims: claims}
		}
		// Fail closed on store errors.
		return &Decision{Allow: false, Reason: DenySessionExpiredOrRevoked, Claims: claims}
	}
	if !live {
		return &Decision{Allow: false, Reason: DenySessionExpiredOrRevoked, Claims: claims}
	}
	if *claims.TargetID != targetPatientID {
		return &Decision{Allow: false, Reason: DenyWrongPatientForSession, Claims: claims}
	}
	return &Decision{Allow: true, Claims: claims}
}

// AuthorizeHospital decides whether rawToken may read hospital-scoped data
// labelled with resourceHospital. Only operator tokens carry that privilege,
// and only within their own hospital.
func (s *Service) AuthorizeHospital(ctx context.Context, rawToken, resourceHospital string) *Decision {
	claims, err := s.tokens.Validate(rawToken)
	if err != nil {
		decision := &Decision{Allow: false, Reason: DenyInvalidToken}
		s.record(ctx, decision, uuid.Nil, "hospital_data")
		return decision
	}

	decision := &Decision{Claims: claims}
	if claims.Kind == model.TokenRegular && claims.Role == model.RoleOperator &&
		claims.Hospital != "" && claims.Hospital == resourceHospital {
		decision.Allow = true
	} else {
		decision.Reason = DenyInsufficientPermissions
	}

	s.record(ctx, decision, uuid.Nil, "hospital_data")
	return decision
}

func (s *Service) record(ctx context.Context, decision *Decision, targetPatientID uuid.UUID, resource string) {
	eventType := model.EventAccessAllowed
	outcome := "allow"
	if !decision.Allow {
		eventType = model.EventAccessDenied
		outcome = "deny"
	}
	s.metrics.AccessDecisions.WithLabelValues(outcome, string(decision.Reason)).Inc()

	var actorID *uuid.UUID
	var actorRole model.Role
	var sessionID *uuid.UUID
	if decision.Claims != nil {
		id := decision.Claims.IdentityID
		actorID = &id
		actorRole = decision.Claims.Role
		sessionID = decision.Claims.SessionID
	}
	var targetID *uuid.UUID
	if targetPatientID != uuid.Nil {
		targetID = &targetPatientID
	}

	s.auditor.Record(ctx, audit.NewEvent(actorID, actorRole, targetID, eventType, model.AccessDetail{
		Resource:  resource,
		Outcome:   outcome,
		Reason:    string(decision.Reason),
		SessionID: sessionID,
	}))
}
