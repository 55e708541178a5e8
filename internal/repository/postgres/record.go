package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
)

type recordRepository struct {
	BaseRepository
}

func NewRecordRepository(base BaseRepository) repository.RecordRepository {
	return &recordRepository{base}
}

func (r *recordRepository) GetSummary(ctx context.Context, patientID uuid.UUID) (*model.RecordSummary, error) {
	query := `SELECT * FROM record_summaries WHERE patient_id = $1`

	var summary model.RecordSummary
	if err := r.GetDB().GetContext(ctx, &summary, query, patientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record summary: %w", err)
	}
	return &summary, nil
}

func (r *recordRepository) TouchEncounter(ctx context.Context, patientID uuid.UUID, at time.Time) error {
	query := `
		UPDATE record_summaries
		SET encounter_count = encounter_count + 1, last_encounter_at = $2
		WHERE patient_id = $1
	`
	_, err := r.GetDB().ExecContext(ctx, query, patientID, at)
	if err != nil {
		return fmt.Errorf("failed to touch encounter: %w", err)
	}
	return nil
}
