package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
)

const (
	cacheTTL     = 30 * time.Second
	cacheCleanup = 5 * time.Minute
)

// Service is the narrow identity-directory contract the core holds against
// the record store: resolve an identity, check its role and retired status,
// manage biometric enrollment. The authorization flow resolves the same
// identity several times per request, so lookups go through a short-lived
// cache.
type Service struct {
	identities repository.IdentityRepository
	biometrics repository.BiometricRepository
	cache      *cache.Cache
}

func NewService(identities repository.IdentityRepository, biometrics repository.BiometricRepository) *Service {
	return &Service{
		identities: identities,
		biometrics: biometrics,
		cache:      cache.New(cacheTTL, cacheCleanup),
	}
}

func (s *Service) Register(ctx context.Context, req *model.RegisterIdentityRequest) (*model.Identity, error) {
	now := time.Now()
	identity := &model.Identity{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		Role:     req.Role,
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Hospital: req.Hospital,
		Status:   model.IdentityStatusActive,
	}

	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to register identity: %w", err)
	}
	return identity, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Identity, error) {
	key := "id:" + id.String()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.Identity), nil
	}

	identity, err := s.identities.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, identity, cache.DefaultExpiration)
	return identity, nil
}

// Resolve accepts an opaque id, phone, or email interchangeably.
func (s *Service) Resolve(ctx context.Context, identifier string) (*model.Identity, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		return s.Get(ctx, id)
	}

	key := "ident:" + identifier
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.Identity), nil
	}

	identity, err := s.identities.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, identity, cache.DefaultExpiration)
	return identity, nil
}

func (s *Service) UpdateContact(ctx context.Context, id uuid.UUID, phone, email string) error {
	if err := s.identities.UpdateContact(ctx, id, phone, email); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

// Retire soft-retires a patient and removes their biometric references.
func (s *Service) Retire(ctx context.Context, id uuid.UUID) error {
	if err := s.identities.Retire(ctx, id); err != nil {
		return err
	}
	if err := s.biometrics.DeleteForIdentity(ctx, id); err != nil {
		return fmt.Errorf("failed to remove biometric references: %w", err)
	}
	s.invalidate(id)
	return nil
}

func (s *Service) EnrollBiometric(ctx context.Context, identityID uuid.UUID, modality model.BiometricModality, reference string) (*model.BiometricReference, error) {
	if _, err := s.Get(ctx, identityID); err != nil {
		return nil, err
	}

	ref := &model.BiometricReference{
		ID:         uuid.New(),
		IdentityID: identityID,
		Modality:   modality,
		Reference:  reference,
		EnrolledAt: time.Now(),
	}
	if err := s.biometrics.Enroll(ctx, ref); err != nil {
		return nil, err
	}
	return ref, nil
}

func (s *Service) GetBiometric(ctx context.Context, identityID uuid.UUID, modality model.BiometricModality) (*model.BiometricReference, error) {
	return s.biometrics.Get(ctx, identityID, modality)
}

// IdentifyByScan resolves an identity from an enrolled biometric reference.
// This is the unconscious-patient path: no explicit identifier is available.
func (s *Service) IdentifyByScan(ctx context.Context, modality model.BiometricModality, reference string) (*model.Identity, error) {
	ref, err := s.biometrics.FindByReference(ctx, modality, reference)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ref.IdentityID)
}

func (s *Service) invalidate(id uuid.UUID) {
	s.cache.Delete("id:" + id.String())
}
