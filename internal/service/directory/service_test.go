package directory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
)

type fakeIdentityRepo struct {
	identities map[uuid.UUID]*model.Identity
}

func (f *fakeIdentityRepo) Create(_ context.Context, identity *model.Identity) error {
	f.identities[identity.ID] = identity
	return nil
}

func (f *fakeIdentityRepo) Get(_ context.Context, id uuid.UUID) (*model.Identity, error) {
	identity, ok := f.identities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return identity, nil
}

func (f *fakeIdentityRepo) GetByIdentifier(_ context.Context, identifier string) (*model.Identity, error) {
	for _, identity := range f.identities {
		if identity.Phone == identifier || identity.Email == identifier {
			return identity, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeIdentityRepo) UpdateContact(_ context.Context, _ uuid.UUID, _, _ string) error {
	return nil
}

func (f *fakeIdentityRepo) Retire(_ context.Context, id uuid.UUID) error {
	identity, ok := f.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	identity.Status = model.IdentityStatusRetired
	return nil
}

type fakeBiometricRepo struct {
	refs map[string]*model.BiometricReference
}

func bioKey(id uuid.UUID, modality model.BiometricModality) string {
	return id.String() + "|" + string(modality)
}

func (f *fakeBiometricRepo) Enroll(_ context.Context, ref *model.BiometricReference) error {
	key := bioKey(ref.IdentityID, ref.Modality)
	if _, ok := f.refs[key]; ok {
		return repository.ErrAlreadyEnrolled
	}
	f.refs[key] = ref
	return nil
}

func (f *fakeBiometricRepo) Get(_ context.Context, identityID uuid.UUID, modality model.BiometricModality) (*model.BiometricReference, error) {
	ref, ok := f.refs[bioKey(identityID, modality)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ref, nil
}

func (f *fakeBiometricRepo) FindByReference(_ context.Context, modality model.BiometricModality, reference string) (*model.BiometricReference, error) {
	for _, ref := range f.refs {
		if ref.Modality == modality && ref.Reference == reference {
			return ref, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeBiometricRepo) DeleteForIdentity(_ context.Context, identityID uuid.UUID) error {
	for key, ref := range f.refs {
		if ref.IdentityID == identityID {
			delete(f.refs, key)
		}
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *model.Identity, *fakeBiometricRepo) {
	t.Helper()
	identities := &fakeIdentityRepo{identities: make(map[uuid.UUID]*model.Identity)}
	bios := &fakeBiometricRepo{refs: make(map[string]*model.BiometricReference)}

	patient := &model.Identity{
		Base:   model.Base{ID: uuid.New()},
		Role:   model.RolePatient,
		Status: model.IdentityStatusActive,
	}
	require.NoError(t, identities.Create(context.Background(), patient))

	return NewService(identities, bios), patient, bios
}

func TestEnrollBiometricRejectsReenrollment(t *testing.T) {
	svc, patient, _ := newTestService(t)
	ctx := context.Background()

	ref, err := svc.EnrollBiometric(ctx, patient.ID, model.ModalityFingerprint, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, patient.ID, ref.IdentityID)

	// References are immutable; a second enrollment for the same modality
	// must not overwrite the first.
	_, err = svc.EnrollBiometric(ctx, patient.ID, model.ModalityFingerprint, "scan-2")
	assert.ErrorIs(t, err, repository.ErrAlreadyEnrolled)

	kept, err := svc.GetBiometric(ctx, patient.ID, model.ModalityFingerprint)
	require.NoError(t, err)
	assert.Equal(t, "scan-1", kept.Reference)

	// A different modality is a fresh enrollment, not a conflict.
	_, err = svc.EnrollBiometric(ctx, patient.ID, model.ModalityIris, "scan-3")
	assert.NoError(t, err)
}

func TestEnrollBiometricUnknownIdentity(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.EnrollBiometric(context.Background(), uuid.New(), model.ModalityFingerprint, "scan-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestIdentifyByScan(t *testing.T) {
	svc, patient, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.EnrollBiometric(ctx, patient.ID, model.ModalityIris, "iris-blob")
	require.NoError(t, err)

	found, err := svc.IdentifyByScan(ctx, model.ModalityIris, "iris-blob")
	require.NoError(t, err)
	assert.Equal(t, patient.ID, found.ID)

	_, err = svc.IdentifyByScan(ctx, model.ModalityIris, "unknown-blob")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
