package model

import (
	"time"

	"github.com/google/uuid"
)

// RecordSummary is the minimal patient-scoped resource served through the
// access decision middleware. Clinical detail lives in the record store and
// is outside this core; Notes is encrypted at rest.
type RecordSummary struct {
	PatientID       uuid.UUID  `json:"patient_id" db:"patient_id"`
	Name            string     `json:"name" db:"name"`
	Hospital        string     `json:"hospital,omitempty" db:"hospital"`
	EncounterCount  int        `json:"encounter_count" db:"encounter_count"`
	LastEncounterAt *time.Time `json:"last_encounter_at,omitempty" db:"last_encounter_at"`
	Notes           []byte     `json:"-" db:"notes"`
}

// RecordSummaryView is the API shape of a record summary, with notes
// decrypted for the authorized reader.
type RecordSummaryView struct {
	PatientID       uuid.UUID  `json:"patient_id"`
	Name            string     `json:"name"`
	Hospital        string     `json:"hospital,omitempty"`
	EncounterCount  int        `json:"encounter_count"`
	LastEncounterAt *time.Time `json:"last_encounter_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}
