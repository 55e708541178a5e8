package model

import (
	"time"

	"github.com/google/uuid"
)

// CredentialPurpose tags what a one-time code may be used for. At most one
// live credential exists per (identifier, purpose) pair.
type CredentialPurpose string

const (
	PurposeLogin           CredentialPurpose = "LOGIN"
	PurposeRegistration    CredentialPurpose = "REGISTRATION"
	PurposeEmergencyAccess CredentialPurpose = "EMERGENCY_ACCESS"
	PurposeOperatorLogin   CredentialPurpose = "OPERATOR_LOGIN"
)

func (p CredentialPurpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposeRegistration, PurposeEmergencyAccess, PurposeOperatorLogin:
		return true
	}
	return false
}

// OneTimeCredential is an ephemeral proof of identity. The secret is stored
// salted-and-hashed; the row is deleted on successful verification or by the
// retention sweep after expiry. An exhausted row is kept so later attempts
// keep failing closed instead of looking like a missing code.
type OneTimeCredential struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	Identifier  string            `json:"identifier" db:"identifier"`
	Purpose     CredentialPurpose `json:"purpose" db:"purpose"`
	CodeHash    string            `json:"-" db:"code_hash"`
	Attempts    int               `json:"attempts" db:"attempts"`
	MaxAttempts int               `json:"max_attempts" db:"max_attempts"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at" db:"expires_at"`
}

func (c *OneTimeCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c *OneTimeCredential) Exhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

type IssueCodeRequest struct {
	Identifier string            `json:"identifier" binding:"required"`
	Purpose    CredentialPurpose `json:"purpose" binding:"required,oneof=LOGIN REGISTRATION EMERGENCY_ACCESS OPERATOR_LOGIN"`
}

type IssueCodeResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

type VerifyCodeRequest struct {
	Identifier string            `json:"identifier" binding:"required"`
	Code       string            `json:"code" binding:"required"`
	Purpose    CredentialPurpose `json:"purpose" binding:"required,oneof=LOGIN REGISTRATION EMERGENCY_ACCESS OPERATOR_LOGIN"`
}
