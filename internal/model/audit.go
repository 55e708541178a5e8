package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEventType is the closed taxonomy of authorization-relevant events.
type AuditEventType string

const (
	EventCodeIssued        AuditEventType = "otp.issued"
	EventCodeVerified      AuditEventType = "otp.verified"
	EventCodeFailed        AuditEventType = "otp.failed"
	EventBiometricVerified AuditEventType = "biometric.verified"
	EventBiometricFailed   AuditEventType = "biometric.failed"
	EventEmergencyGranted  AuditEventType = "emergency.granted"
	EventEmergencyDenied   AuditEventType = "emergency.denied"
	EventEmergencyRevoked  AuditEventType = "emergency.revoked"
	EventEmergencyExpired  AuditEventType = "emergency.expired"
	EventAccessAllowed     AuditEventType = "access.allowed"
	EventAccessDenied      AuditEventType = "access.denied"
	EventRetentionPurged   AuditEventType = "audit.retention_purged"
)

// AuditEvent is an append-only record of an authorization decision. No update
// or delete operation exists on this entity; retention purge is an
// administrative operation that writes its own event.
type AuditEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	ActorID   *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole Role            `json:"actor_role" db:"actor_role"`
	TargetID  *uuid.UUID      `json:"target_id,omitempty" db:"target_id"`
	EventType AuditEventType  `json:"event_type" db:"event_type"`
	Detail    json.RawMessage `json:"detail" db:"detail"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Detail payloads, one shape per event type.

type GrantDetail struct {
	SessionID uuid.UUID  `json:"session_id"`
	Method    AuthMethod `json:"method"`
	Reason    string     `json:"reason"`
	Hospital  string     `json:"hospital,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	Reused    bool       `json:"reused,omitempty"`
}

type DenialDetail struct {
	Stage  string     `json:"stage"`
	Reason string     `json:"reason"`
	Method AuthMethod `json:"method,omitempty"`
}

type AccessDetail struct {
	Resource  string     `json:"resource"`
	Outcome   string     `json:"outcome"`
	Reason    string     `json:"reason,omitempty"`
	SessionID *uuid.UUID `json:"session_id,omitempty"`
}

type CodeDetail struct {
	Identifier string            `json:"identifier"`
	Purpose    CredentialPurpose `json:"purpose"`
	Verdict    string            `json:"verdict,omitempty"`
}

type BiometricDetail struct {
	Modality BiometricModality `json:"modality"`
	Reason   string            `json:"reason,omitempty"`
}

type SessionLifecycleDetail struct {
	SessionID uuid.UUID `json:"session_id"`
	By        string    `json:"by,omitempty"`
}

type PurgeDetail struct {
	Before time.Time `json:"before"`
	Purged int64     `json:"purged"`
}

// AuditFilters narrows Query/Stats/Export.
type AuditFilters struct {
	TargetID  *uuid.UUID     `form:"target_id"`
	ActorID   *uuid.UUID     `form:"actor_id"`
	ActorRole Role           `form:"actor_role"`
	EventType AuditEventType `form:"event_type"`
	Start     *time.Time     `form:"start"`
	End       *time.Time     `form:"end"`
	Pagination
}

// AuditStats aggregates event counts for dashboards.
type AuditStats struct {
	Total  int64                    `json:"total"`
	ByType map[AuditEventType]int64 `json:"by_type"`
	ByRole map[Role]int64           `json:"by_role"`
	ByHour map[int]int64            `json:"by_hour"`
}
