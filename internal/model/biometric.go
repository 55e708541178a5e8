package model

import (
	"time"

	"github.com/google/uuid"
)

type BiometricModality string

const (
	ModalityFingerprint BiometricModality = "fingerprint"
	ModalityIris        BiometricModality = "iris"
)

func (m BiometricModality) Valid() bool {
	return m == ModalityFingerprint || m == ModalityIris
}

// BiometricReference is an opaque enrollment marker per (patient, modality).
// The reference is never compared bit-for-bit; its presence gates the
// placeholder match step.
type BiometricReference struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	IdentityID uuid.UUID         `json:"identity_id" db:"identity_id"`
	Modality   BiometricModality `json:"modality" db:"modality"`
	Reference  string            `json:"-" db:"reference"`
	EnrolledAt time.Time         `json:"enrolled_at" db:"enrolled_at"`
}

type VerifyBiometricRequest struct {
	IdentityID uuid.UUID         `json:"identity_id" binding:"required"`
	Modality   BiometricModality `json:"modality" binding:"required,oneof=fingerprint iris"`
	Proof      string            `json:"proof" binding:"required"`
}
