package record

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/pkg/clock"
	"github.com/meditrust/records-api/pkg/security"
)

// Service serves the minimal patient record summary. Notes are stored
// encrypted and decrypted only for callers that already passed the access
// decision engine.
type Service struct {
	repo      repository.RecordRepository
	encryptor security.Encryptor
	clk       clock.Clock
}

func NewService(repo repository.RecordRepository, encryptor security.Encryptor, clk clock.Clock) *Service {
	return &Service{repo: repo, encryptor: encryptor, clk: clk}
}

func (s *Service) GetSummary(ctx context.Context, patientID uuid.UUID) (*model.RecordSummaryView, error) {
	summary, err := s.repo.GetSummary(ctx, patientID)
	if err != nil {
		return nil, err
	}

	view := &model.RecordSummaryView{
		PatientID:       summary.PatientID,
		Name:            summary.Name,
		Hospital:        summary.Hospital,
		EncounterCount:  summary.EncounterCount,
		LastEncounterAt: summary.LastEncounterAt,
	}
	if len(summary.Notes) > 0 {
		plain, err := s.encryptor.Decrypt(summary.Notes)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt record notes: %w", err)
		}
		view.Notes = string(plain)
	}
	return view, nil
}

// TouchEncounter bumps the encounter counters when an emergency read lands.
func (s *Service) TouchEncounter(ctx context.Context, patientID uuid.UUID) error {
	return s.repo.TouchEncounter(ctx, patientID, s.clk.Now())
}
