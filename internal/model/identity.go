package model

// Role is the actor class of an identity.
type Role string

const (
	RolePatient  Role = "PATIENT"
	RoleDoctor   Role = "DOCTOR"
	RoleOperator Role = "OPERATOR"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleOperator:
		return true
	}
	return false
}

type IdentityStatus string

const (
	IdentityStatusActive  IdentityStatus = "active"
	IdentityStatusRetired IdentityStatus = "retired"
)

// Identity is a user of the platform. Identities are never deleted; patients
// may be soft-retired, which blocks them as emergency-access targets.
type Identity struct {
	Base
	Role     Role           `json:"role" db:"role"`
	Name     string         `json:"name" db:"name"`
	Phone    string         `json:"phone" db:"phone"`
	Email    string         `json:"email" db:"email"`
	Hospital string         `json:"hospital,omitempty" db:"hospital"`
	Status   IdentityStatus `json:"status" db:"status"`
}

func (i *Identity) Retired() bool {
	return i.Status == IdentityStatusRetired
}

type RegisterIdentityRequest struct {
	Role     Role   `json:"role" binding:"required,oneof=PATIENT DOCTOR OPERATOR"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone" binding:"required,phone"`
	Email    string `json:"email" binding:"required,email"`
	Hospital string `json:"hospital"`
}
