package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/openclaw/crm-sync-server/internal/crm"
	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/repository"
)

const credentialFlightKey = "crm-credential"

type TokenExchanger interface {
	Exchange(ctx context.Context) (*crm.Token, error)
}

// CredentialCache hands out the shared CRM bearer token, exchanging a new
// one only when the stored token is older than the freshness window or the
// CRM has rejected it. Concurrent refreshes in this process collapse into
// one exchange; across processes the conditional upsert keeps the newest.
type CredentialCache struct {
	repo            repository.CredentialRepository
	exchanger       TokenExchanger
	window          time.Duration
	exchangeTimeout time.Duration
	now             func() time.Time
	flight          singleflight.Group
}

func NewCredentialCache(
	repo repository.CredentialRepository,
	exchanger TokenExchanger,
	window, exchangeTimeout time.Duration,
) *CredentialCache {
	return &CredentialCache{
		repo:            repo,
		exchanger:       exchanger,
		window:          window,
		exchangeTimeout: exchangeTimeout,
		now:             time.Now,
	}
}

func (c *CredentialCache) WithClock(now func() time.Time) *CredentialCache {
	c.now = now
	return c
}

// Acquire returns a usable credential, refreshing it if stale.
func (c *CredentialCache) Acquire(ctx context.Context) (*model.ExternalCredential, error) {
	cred, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if cred.FreshAt(c.now(), c.window) {
		return cred, nil
	}
	return c.refresh(ctx, cred)
}

// Do calls fn with a credential. If the CRM rejects the token, the cache
// refreshes regardless of the local window and calls fn exactly once more.
func (c *CredentialCache) Do(ctx context.Context, fn func(ctx context.Context, cred model.ExternalCredential) error) error {
	cred, err := c.Acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, *cred)
	if !errors.Is(err, crm.ErrUnauthorized) {
		return err
	}

	log.Warn().
		Time("fetchedAt", cred.FetchedAt).
		Msg("crm rejected cached token before freshness window ended, refreshing")

	cred, err = c.refresh(ctx, cred)
	if err != nil {
		return err
	}
	return fn(ctx, *cred)
}

// refresh replaces rejected (which may be nil). The stored row is re-read
// inside the flight so a token refreshed meanwhile by another request or
// instance is reused instead of exchanged again.
func (c *CredentialCache) refresh(ctx context.Context, rejected *model.ExternalCredential) (*model.ExternalCredential, error) {
	v, err, shared := c.flight.Do(credentialFlightKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.exchangeTimeout)
		defer cancel()

		current, err := c.load(fctx)
		if err != nil {
			return nil, err
		}
		if current.FreshAt(c.now(), c.window) && (rejected == nil || current.AccessToken != rejected.AccessToken) {
			return current, nil
		}

		token, err := c.exchanger.Exchange(fctx)
		if err != nil {
			log.Error().Err(err).Msg("crm credential exchange failed")
			return nil, apperrors.ExternalAuth(err)
		}

		fresh := &model.ExternalCredential{
			AccessToken: token.AccessToken,
			InstanceURL: token.InstanceURL,
			FetchedAt:   c.now(),
		}
		saved, err := c.repo.Save(fctx, *fresh)
		if err != nil {
			return nil, apperrors.Persistence(fmt.Errorf("save credential: %w", err))
		}
		if !saved {
			log.Debug().Msg("newer crm credential already stored, keeping it")
			if stored, err := c.load(fctx); err == nil && stored != nil {
				return stored, nil
			}
		}

		log.Info().Str("instanceUrl", fresh.InstanceURL).Msg("crm credential refreshed")
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Msg("crm credential refresh shared with concurrent caller")
	}
	return v.(*model.ExternalCredential), nil
}

// load reads the stored credential. A row that no longer decrypts is only
// a stale cache entry, so it reads as absent and the next exchange
// overwrites it.
func (c *CredentialCache) load(ctx context.Context) (*model.ExternalCredential, error) {
	cred, err := c.repo.Get(ctx)
	if errors.Is(err, repository.ErrUndecryptable) {
		log.Warn().Err(err).Msg("stored crm credential cannot be decrypted, exchanging a new one")
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Persistence(fmt.Errorf("load credential: %w", err))
	}
	return cred, nil
}
