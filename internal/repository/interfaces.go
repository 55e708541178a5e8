package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/model"
)

// Sentinel errors shared by all repository implementations.
var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateActiveSession is returned by SessionRepository.Create when a
	// live session already exists for the (requester, target) pair. The
	// existing session accompanies the error.
	ErrDuplicateActiveSession = errors.New("active session already exists for pair")

	// ErrAlreadyEnrolled is returned by BiometricRepository.Enroll when a
	// reference already exists for the (identity, modality) pair. References
	// are immutable; they only go away when the owning identity is retired.
	ErrAlreadyEnrolled = errors.New("biometric reference already enrolled")
)

// All repository interfaces in one file
type (
	// IdentityRepository resolves and maintains identities. This is the narrow
	// contract the core holds against the record store's user directory.
	IdentityRepository interface {
		Create(ctx context.Context, identity *model.Identity) error
		Get(ctx context.Context, id uuid.UUID) (*model.Identity, error)
		// GetByIdentifier looks an identity up by phone or email interchangeably.
		GetByIdentifier(ctx context.Context, identifier string) (*model.Identity, error)
		UpdateContact(ctx context.Context, id uuid.UUID, phone, email string) error
		Retire(ctx context.Context, id uuid.UUID) error
	}

	// CredentialRepository persists one-time credentials. Replace is the only
	// write path for new codes so the one-live-credential-per-pair invariant
	// holds at the storage layer.
	CredentialRepository interface {
		// Replace deletes any prior credential for (identifier, purpose) and
		// inserts cred, atomically.
		Replace(ctx context.Context, cred *model.OneTimeCredential) error
		GetLive(ctx context.Context, identifier string, purpose model.CredentialPurpose) (*model.OneTimeCredential, error)
		IncrementAttempts(ctx context.Context, id uuid.UUID) error
		Delete(ctx context.Context, id uuid.UUID) error
		DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	BiometricRepository interface {
		// Enroll inserts a new reference. Re-enrollment for the same
		// (identity, modality) pair returns ErrAlreadyEnrolled.
		Enroll(ctx context.Context, ref *model.BiometricReference) error
		Get(ctx context.Context, identityID uuid.UUID, modality model.BiometricModality) (*model.BiometricReference, error)
		// FindByReference supports identifying an unconscious patient from a scan.
		FindByReference(ctx context.Context, modality model.BiometricModality, reference string) (*model.BiometricReference, error)
		DeleteForIdentity(ctx context.Context, identityID uuid.UUID) error
	}

	// SessionRepository is the single source of truth for emergency sessions.
	SessionRepository interface {
		// Create inserts the session after a duplicate check executed in the
		// same transaction. On a live duplicate it returns the existing session
		// together with ErrDuplicateActiveSession.
		Create(ctx context.Context, session *model.EmergencySession) (*model.EmergencySession, error)
		Get(ctx context.Context, id uuid.UUID) (*model.EmergencySession, error)
		// Revoke flips ACTIVE to REVOKED. Returns ErrNotFound for unknown ids
		// and false when the session was already terminal.
		Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
		// MarkExpired is the lazy-expiry compare-and-set: flips ACTIVE to
		// EXPIRED iff expires_at <= now. Reports whether this call did the flip.
		MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
		ActiveFor(ctx context.Context, requesterID uuid.UUID, now time.Time) ([]*model.EmergencySession, error)
		HistoryFor(ctx context.Context, targetID uuid.UUID) ([]*model.EmergencySession, error)
		// ExpireOverdue flips every overdue ACTIVE session, returning the ids
		// flipped. Used by the housekeeping sweeper only.
		ExpireOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, event *model.AuditEvent) error
		ListWithPagination(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditEvent, int64, error)
		Stats(ctx context.Context, filters *model.AuditFilters) (*model.AuditStats, error)
		DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	RecordRepository interface {
		GetSummary(ctx context.Context, patientID uuid.UUID) (*model.RecordSummary, error)
		TouchEncounter(ctx context.Context, patientID uuid.UUID, at time.Time) error
	}

	// RateCounter is the shared fixed-window counter behind OTP issuance
	// rate limiting. Counters live in the shared store, not process memory.
	RateCounter interface {
		Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	}
)
