package model

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes the two claim shapes a bearer token can carry.
type TokenKind string

const (
	TokenRegular   TokenKind = "regular"
	TokenEmergency TokenKind = "emergency"
)

// TokenClaims is the signed claim set. A token is a claim, not a source of
// truth: emergency claims must be re-checked against the session store on
// every use.
type TokenClaims struct {
	jwt.RegisteredClaims
	Kind       TokenKind  `json:"kind"`
	IdentityID uuid.UUID  `json:"identity_id"`
	Role       Role       `json:"role"`
	Hospital   string     `json:"hospital,omitempty"`
	SessionID  *uuid.UUID `json:"session_id,omitempty"`
	TargetID   *uuid.UUID `json:"target_id,omitempty"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      Role      `json:"role,omitempty"`
}
