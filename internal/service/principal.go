package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/repository"
	"github.com/openclaw/crm-sync-server/internal/util"
)

type PrincipalService struct {
	principalRepo repository.PrincipalRepository
}

func NewPrincipalService(principalRepo repository.PrincipalRepository) *PrincipalService {
	return &PrincipalService{principalRepo: principalRepo}
}

// EnsureAdmin provisions the single admin from configuration.
func (s *PrincipalService) EnsureAdmin(ctx context.Context, username, passwordHash string) (*model.Principal, error) {
	admin, err := s.principalRepo.EnsureAdmin(ctx, model.EnsureAdminParams{
		Username:     username,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure admin: %w", err)
	}
	log.Info().Str("username", username).Msg("admin principal provisioned")
	return admin, nil
}

func (s *PrincipalService) List(ctx context.Context, filter model.PrincipalFilter) ([]model.Principal, int, error) {
	principals, total, err := s.principalRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.Persistence(fmt.Errorf("list principals: %w", err))
	}
	return principals, total, nil
}

// Directory lists active sales principals with contact fields only.
func (s *PrincipalService) Directory(ctx context.Context, limit, offset int) ([]model.DirectoryEntry, int, error) {
	entries, total, err := s.principalRepo.ListDirectory(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Persistence(fmt.Errorf("list directory: %w", err))
	}
	return entries, total, nil
}

func (s *PrincipalService) Get(ctx context.Context, id string) (*model.Principal, error) {
	principal, err := s.principalRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Persistence(fmt.Errorf("find principal: %w", err))
	}
	if principal == nil {
		return nil, apperrors.NotFound("principal")
	}
	return principal, nil
}

// SetActive toggles a sales principal. Deactivation ends its session.
func (s *PrincipalService) SetActive(ctx context.Context, id string, active bool) (*model.Principal, error) {
	principal, err := s.principalRepo.SetActive(ctx, id, active)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("sales principal")
	}
	if err != nil {
		return nil, apperrors.Persistence(fmt.Errorf("set active: %w", err))
	}
	return principal, nil
}

// ResetPassword sets a principal's password on an admin's behalf and ends
// the principal's session. A principal without a username gets the given
// one, or its email.
func (s *PrincipalService) ResetPassword(ctx context.Context, id string, username *string, password string) (*model.Principal, error) {
	if len(password) < util.MinPasswordLength {
		return nil, apperrors.InvalidInput("password", fmt.Sprintf("must be at least %d characters", util.MinPasswordLength))
	}

	principal, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if username == nil && principal.Username == nil {
		if principal.Email == "" {
			return nil, apperrors.MissingRequired("username")
		}
		username = &principal.Email
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, apperrors.Internal("failed to hash password").WithCause(err)
	}

	err = s.principalRepo.SetCredentials(ctx, id, username, hash)
	if errors.Is(err, repository.ErrConflict) {
		return nil, apperrors.Conflict("username already taken")
	}
	if err != nil {
		return nil, apperrors.Persistence(fmt.Errorf("set credentials: %w", err))
	}
	if err := s.principalRepo.ClearSessionByID(ctx, id); err != nil {
		return nil, apperrors.Persistence(fmt.Errorf("clear session: %w", err))
	}

	return s.Get(ctx, id)
}

// ChangeOwnPassword requires the current password. The caller keeps its
// session.
func (s *PrincipalService) ChangeOwnPassword(ctx context.Context, principal *model.Principal, currentPassword, newPassword string) error {
	if principal.PasswordHash == nil || !util.CheckPasswordHash(currentPassword, *principal.PasswordHash) {
		return apperrors.InvalidInput("currentPassword", "does not match")
	}
	if len(newPassword) < util.MinPasswordLength {
		return apperrors.InvalidInput("newPassword", fmt.Sprintf("must be at least %d characters", util.MinPasswordLength))
	}

	hash, err := util.HashPassword(newPassword)
	if err != nil {
		return apperrors.Internal("failed to hash password").WithCause(err)
	}
	if err := s.principalRepo.SetCredentials(ctx, principal.ID, nil, hash); err != nil {
		return apperrors.Persistence(fmt.Errorf("set credentials: %w", err))
	}
	return nil
}
