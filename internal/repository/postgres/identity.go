package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
)

type identityRepository struct {
	BaseRepository
}

func NewIdentityRepository(base BaseRepository) repository.IdentityRepository {
	return &identityRepository{base}
}

func (r *identityRepository) Create(ctx context.Context, identity *model.Identity) error {
	query := `
		INSERT INTO identities (id, role, name, phone, email, hospital, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.GetDB().ExecContext(ctx, query,
		identity.ID,
		identity.Role,
		identity.Name,
		identity.Phone,
		identity.Email,
		identity.Hospital,
		identity.Status,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

func (r *identityRepository) Get(ctx context.Context, id uuid.UUID) (*model.Identity, error) {
	query := `SELECT * FROM identities WHERE id = $1`

	var identity model.Identity
	if err := r.GetDB().GetContext(ctx, &identity, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &identity, nil
}

func (r *identityRepository) GetByIdentifier(ctx context.Context, identifier string) (*model.Identity, error) {
	query := `SELECT * FROM identities WHERE phone = $1 OR email = $1 LIMIT 1`

	var identity model.Identity
	if err := r.GetDB().GetContext(ctx, &identity, query, identifier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get identity by identifier: %w", err)
	}
	return &identity, nil
}

func (r *identityRepository) UpdateContact(ctx context.Context, id uuid.UUID, phone, email string) error {
	query := `
		UPDATE identities
		SET phone = $2, email = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.GetDB().ExecContext(ctx, query, id, phone, email)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
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

func (r *identityRepository) Retire(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE identities
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND role = $3
	`
	result, err := r.GetDB().ExecContext(ctx, query, id, model.IdentityStatusRetired, model.RolePatient)
	if err != nil {
		return fmt.Errorf("failed to retire identity: %w", err)
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
