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

type biometricRepository struct {
	BaseRepository
}

func NewBiometricRepository(base BaseRepository) repository.BiometricRepository {
	return &biometricRepository{base}
}

// Enroll is insert-only. References never change once enrolled; retiring the
// identity is the only way a reference leaves the table.
func (r *biometricRepository) Enroll(ctx context.Context, ref *model.BiometricReference) error {
	query := `
		INSERT INTO biometric_references (id, identity_id, modality, reference, enrolled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity_id, modality) DO NOTHING
	`
	result, err := r.GetDB().ExecContext(ctx, query,
		ref.ID,
		ref.IdentityID,
		ref.Modality,
		ref.Reference,
		ref.EnrolledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enroll biometric reference: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to enroll biometric reference: %w", err)
	}
	if rows == 0 {
		return repository.ErrAlreadyEnrolled
	}
	return nil
}

func (r *biometricRepository) Get(ctx context.Context, identityID uuid.UUID, modality model.BiometricModality) (*model.BiometricReference, error) {
	query := `SELECT * FROM biometric_references WHERE identity_id = $1 AND modality = $2`

	var ref model.BiometricReference
	if err := r.GetDB().GetContext(ctx, &ref, query, identityID, modality); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get biometric reference: %w", err)
	}
	return &ref, nil
}

func (r *biometricRepository) FindByReference(ctx context.Context, modality model.BiometricModality, reference string) (*model.BiometricReference, error) {
	query := `SELECT * FROM biometric_references WHERE modality = $1 AND reference = $2`

	var ref model.BiometricReference
	if err := r.GetDB().GetContext(ctx, &ref, query, modality, reference); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find biometric reference: %w", err)
	}
	return &ref, nil
}

func (r *biometricRepository) DeleteForIdentity(ctx context.Context, identityID uuid.UUID) error {
	query := `DELETE FROM biometric_references WHERE identity_id = $1`

	_, err := r.GetDB().ExecContext(ctx, query, identityID)
	if err != nil {
		return fmt.Errorf("failed to delete biometric references: %w", err)
	}
	return nil
}
