package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/repository"
	"github.com/openclaw/crm-sync-server/internal/util"
)

// ErrSessionNotFound and ErrSessionExpired are distinct for logging only;
// the access gate reports both as unauthenticated.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

type IssuedSession struct {
	Token     string
	ExpiresAt time.Time
}

// SessionService issues and validates opaque session tokens. Each principal
// holds at most one token; only its SHA-256 hash is stored.
type SessionService struct {
	principalRepo repository.PrincipalRepository
	ttl           time.Duration
	now           func() time.Time
}

func NewSessionService(principalRepo repository.PrincipalRepository, ttl time.Duration) *SessionService {
	return &SessionService{
		principalRepo: principalRepo,
		ttl:           ttl,
		now:           time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Issue creates a token for the principal, replacing any earlier one.
func (s *SessionService) Issue(ctx context.Context, principalID string) (*IssuedSession, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	expiresAt := s.now().Add(s.ttl)
	if err := s.principalRepo.SetSession(ctx, principalID, util.HashToken(token), expiresAt); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	log.Debug().
		Str("principalId", principalID).
		Time("expiresAt", expiresAt).
		Msg("session issued")

	return &IssuedSession{Token: token, ExpiresAt: expiresAt}, nil
}

// Validate resolves a token to its principal. A token is valid strictly
// before its expiry instant.
func (s *SessionService) Validate(ctx context.Context, token string) (*model.Principal, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	principal, err := s.principalRepo.FindBySessionTokenHash(ctx, util.HashToken(token))
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if principal == nil || principal.SessionExpiresAt == nil {
		return nil, ErrSessionNotFound
	}
	if !s.now().Before(*principal.SessionExpiresAt) {
		return nil, ErrSessionExpired
	}
	if !principal.CanLogin() {
		return nil, ErrSessionNotFound
	}

	return principal, nil
}

// Revoke clears the token wherever it is held. Unknown tokens are a no-op.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.principalRepo.ClearSession(ctx, util.HashToken(token)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
