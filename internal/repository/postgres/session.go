package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
)

type sessionRepository struct {
	BaseRepository
}

func NewSessionRepository(base BaseRepository) repository.SessionRepository {
	return &sessionRepository{base}
}

// pairLockKey hashes a (requester, target) pair into the advisory lock key
// that serializes session creation for that pair.
func pairLockKey(requesterID, targetID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(requesterID[:])
	h.Write(targetID[:])
	return int64(h.Sum64())
}

// Create enforces the at-most-one-active-session-per-pair invariant inside a
// single transaction. The advisory transaction lock serializes concurrent
// creations for the same pair even when no session row exists yet (a row lock
// over zero rows locks nothing); the loser blocks until the winner commits
// and then observes the winner's row in the duplicate check.
func (r *sessionRepository) Create(ctx context.Context, session *model.EmergencySession) (*model.EmergencySession, error) {
	var existing *model.EmergencySession

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`,
			pairLockKey(session.RequesterID, session.TargetID)); err != nil {
			return fmt.Errorf("failed to lock session pair: %w", err)
		}

		dupQuery := `
			SELECT * FROM emergency_sessions
			WHERE requester_id = $1 AND target_id = $2
			  AND status = $3 AND expires_at > $4
		`
		var dup model.EmergencySession
		err := tx.GetContext(ctx, &dup, dupQuery,
			session.RequesterID, session.TargetID, model.SessionActive, session.CreatedAt)
		if err == nil {
			existing = &dup
			return repository.ErrDuplicateActiveSession
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check for duplicate session: %w", err)
		}

		insQuery := `
			INSERT INTO emergency_sessions (
				id, requester_id, target_id, method, reason, hospital,
				status, created_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err = tx.ExecContext(ctx, insQuery,
			session.ID,
			session.RequesterID,
			session.TargetID,
			session.Method,
			session.Reason,
			session.Hospital,
			session.Status,
			session.CreatedAt,
			session.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})

	if errors.Is(err, repository.ErrDuplicateActiveSession) {
		return existing, repository.ErrDuplicateActiveSession
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.EmergencySession, error) {
	query := `SELECT * FROM emergency_sessions WHERE id = $1`

	var session model.EmergencySession
	if err := r.GetDB().GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE emergency_sessions
		SET status = $2, revoked_at = $3
		WHERE id = $1 AND status = $4
	`
	result, err := r.GetDB().ExecContext(ctx, query, id, model.SessionRevoked, at, model.SessionActive)
	if err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// Distinguish unknown id from already-terminal.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// MarkExpired is the lazy-expiry compare-and-set. Losing a race here is
// harmless: the flip happens exactly once and never reverses.
func (r *sessionRepository) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE emergency_sessions
		SET status = $2
		WHERE id = $1 AND status = $3 AND expires_at <= $4
	`
	result, err := r.GetDB().ExecContext(ctx, query, id, model.SessionExpired, model.SessionActive, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark session expired: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *sessionRepository) ActiveFor(ctx context.Context, requesterID uuid.UUID, now time.Time) ([]*model.EmergencySession, error) {
	query := `
		SELECT * FROM emergency_sessions
		WHERE requester_id = $1 AND status = $2 AND expires_at > $3
		ORDER BY created_at DESC
	`
	var sessions []*model.EmergencySession
	if err := r.GetDB().SelectContext(ctx, &sessions, query, requesterID, model.SessionActive, now); err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return sessions, nil
}

func (r *sessionRepository) HistoryFor(ctx context.Context, targetID uuid.UUID) ([]*model.EmergencySession, error) {
	query := `
		SELECT * FROM emergency_sessions
		WHERE target_id = $1
		ORDER BY created_at DESC
	`
	var sessions []*model.EmergencySession
	if err := r.GetDB().SelectContext(ctx, &sessions, query, targetID); err != nil {
		return nil, fmt.Errorf("failed to list session history: %w", err)
	}
	return sessions, nil
}

func (r *sessionRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE emergency_sessions
		SET status = $1
		WHERE status = $2 AND expires_at <= $3
		RETURNING id
	`
	var ids []uuid.UUID
	if err := r.GetDB().SelectContext(ctx, &ids, query, model.SessionExpired, model.SessionActive, now); err != nil {
		return nil, fmt.Errorf("failed to expire overdue sessions: %w", err)
	}
	return ids, nil
}
