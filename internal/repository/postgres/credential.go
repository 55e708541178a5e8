package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
)

type credentialRepository struct {
	BaseRepository
}

func NewCredentialRepository(base BaseRepository) repository.CredentialRepository {
	return &credentialRepository{base}
}

// Replace runs delete-then-insert in one transaction so at most one
// credential exists per (identifier, purpose) at any instant.
func (r *credentialRepository) Replace(ctx context.Context, cred *model.OneTimeCredential) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		delQuery := `DELETE FROM one_time_credentials WHERE identifier = $1 AND purpose = $2`
		if _, err := tx.ExecContext(ctx, delQuery, cred.Identifier, cred.Purpose); err != nil {
			return fmt.Errorf("failed to invalidate prior credentials: %w", err)
		}

		insQuery := `
			INSERT INTO one_time_credentials (
				id, identifier, purpose, code_hash, attempts, max_attempts, created_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := tx.ExecContext(ctx, insQuery,
			cred.ID,
			cred.Identifier,
			cred.Purpose,
			cred.CodeHash,
			cred.Attempts,
			cred.MaxAttempts,
			cred.CreatedAt,
			cred.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
		return nil
	})
}

func (r *credentialRepository) GetLive(ctx context.Context, identifier string, purpose model.CredentialPurpose) (*model.OneTimeCredential, error) {
	query := `
		SELECT * FROM one_time_credentials
		WHERE identifier = $1 AND purpose = $2
	`

	var cred model.OneTimeCredential
	if err := r.GetDB().GetContext(ctx, &cred, query, identifier, purpose); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

func (r *credentialRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE one_time_credentials SET attempts = attempts + 1 WHERE id = $1`

	result, err := r.GetDB().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *credentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM one_time_credentials WHERE id = $1`

	_, err := r.GetDB().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (r *credentialRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM one_time_credentials WHERE expires_at < $1`

	result, err := r.GetDB().ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired credentials: %w", err)
	}
	return result.RowsAffected()
}
