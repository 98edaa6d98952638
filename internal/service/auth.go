package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/repository"
	"github.com/openclaw/crm-sync-server/internal/util"
)

type LoginResult struct {
	Principal *model.Principal
	Session   *IssuedSession
}

type AuthService struct {
	principalRepo repository.PrincipalRepository
	sessions      *SessionService
}

func NewAuthService(principalRepo repository.PrincipalRepository, sessions *SessionService) *AuthService {
	return &AuthService{
		principalRepo: principalRepo,
		sessions:      sessions,
	}
}

// Login checks credentials and issues a fresh session, ending any earlier
// one. Unknown users, wrong passwords and inactive accounts all fail the
// same way.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	principal, err := s.principalRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, apperrors.Persistence(fmt.Errorf("find principal: %w", err))
	}

	if principal == nil || principal.PasswordHash == nil {
		util.BurnPasswordCheck(password)
		return nil, apperrors.InvalidLogin()
	}
	if !util.CheckPasswordHash(password, *principal.PasswordHash) {
		return nil, apperrors.InvalidLogin()
	}
	if !principal.CanLogin() {
		log.Debug().Str("principalId", principal.ID).Msg("login rejected for inactive principal")
		return nil, apperrors.InvalidLogin()
	}

	session, err := s.sessions.Issue(ctx, principal.ID)
	if err != nil {
		return nil, apperrors.Persistence(err)
	}

	return &LoginResult{Principal: principal, Session: session}, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return apperrors.Persistence(err)
	}
	return nil
}
