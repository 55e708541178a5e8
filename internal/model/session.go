package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus transitions are one-directional: ACTIVE -> EXPIRED (time) or
// ACTIVE -> REVOKED (explicit). Terminal states never return to ACTIVE.
type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionExpired SessionStatus = "EXPIRED"
	SessionRevoked SessionStatus = "REVOKED"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionExpired || s == SessionRevoked
}

// AuthMethod is the requester-selected authentication method for an
// emergency access request.
type AuthMethod string

const (
	MethodOTP         AuthMethod = "OTP"
	MethodFingerprint AuthMethod = "FINGERPRINT"
	MethodIris        AuthMethod = "IRIS"
)

func (m AuthMethod) Valid() bool {
	switch m {
	case MethodOTP, MethodFingerprint, MethodIris:
		return true
	}
	return false
}

// EmergencySession is a time-bound override of normal ownership rules
// granting one doctor read access to one patient's record. Sessions are
// never physically deleted.
type EmergencySession struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	RequesterID uuid.UUID     `json:"requester_id" db:"requester_id"`
	TargetID    uuid.UUID     `json:"target_id" db:"target_id"`
	Method      AuthMethod    `json:"method" db:"method"`
	Reason      string        `json:"reason" db:"reason"`
	Hospital    string        `json:"hospital,omitempty" db:"hospital"`
	Status      SessionStatus `json:"status" db:"status"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at" db:"expires_at"`
	RevokedAt   *time.Time    `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Live reports whether the session grants access at instant now. Callers
// that need the lazy-expiry side effect go through the session service.
func (s *EmergencySession) Live(now time.Time) bool {
	return s.Status == SessionActive && now.Before(s.ExpiresAt)
}

// EmergencyAccessRequest is the inbound break-glass request. TargetIdentifier
// may be blank when the patient is identified by biometric scan instead
// (the unconscious-patient path).
type EmergencyAccessRequest struct {
	RequesterIdentifier string            `json:"requester_identifier" binding:"required"`
	TargetIdentifier    string            `json:"target_identifier"`
	ScanModality        BiometricModality `json:"scan_modality,omitempty"`
	ScanReference       string            `json:"scan_reference,omitempty"`
	Reason              string            `json:"reason" binding:"required,accessreason"`
	Method              AuthMethod        `json:"method" binding:"required,oneof=OTP FINGERPRINT IRIS"`
	Proof               string            `json:"proof" binding:"required"`
	Hospital            string            `json:"hospital"`
}

type EmergencyAccessResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Reused    bool      `json:"reused"`
}
