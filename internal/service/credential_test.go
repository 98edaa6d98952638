package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/crm-sync-server/internal/crm"
	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/repository"
)

// memCredentialRepo mirrors the conditional upsert of the real repository.
type memCredentialRepo struct {
	mu     sync.Mutex
	cred   *model.ExternalCredential
	getErr error
	// undecryptable makes Get fail to open the row until it is overwritten.
	undecryptable bool
}

func (r *memCredentialRepo) Get(context.Context) (*model.ExternalCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	if r.undecryptable {
		return nil, fmt.Errorf("%w: access token: cipher: message authentication failed", repository.ErrUndecryptable)
	}
	if r.cred == nil {
		return nil, nil
	}
	c := *r.cred
	return &c, nil
}

func (r *memCredentialRepo) Save(_ context.Context, cred model.ExternalCredential) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cred != nil && r.cred.FetchedAt.After(cred.FetchedAt) {
		return false, nil
	}
	r.cred = &cred
	r.undecryptable = false
	return true, nil
}

type countingExchanger struct {
	calls  atomic.Int32
	err    error
	delay  time.Duration
	prefix string
}

func (e *countingExchanger) Exchange(ctx context.Context) (*crm.Token, error) {
	n := e.calls.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return nil, e.err
	}
	return &crm.Token{
		AccessToken: e.prefix + string(rune('0'+n)),
		InstanceURL: "https://example.my.salesforce.com",
	}, nil
}

func TestCredentialCache_Acquire(t *testing.T) {
	ctx := context.Background()
	window := 12 * time.Minute

	t.Run("two acquires within window exchange once", func(t *testing.T) {
		repo := &memCredentialRepo{}
		exchanger := &countingExchanger{prefix: "tok-"}
		now, advance := fixedClock(testNow)
		cache := NewCredentialCache(repo, exchanger, window, time.Second).WithClock(now)

		first, err := cache.Acquire(ctx)
		require.NoError(t, err)

		advance(5 * time.Minute)
		second, err := cache.Acquire(ctx)
		require.NoError(t, err)

		assert.Equal(t, int32(1), exchanger.calls.Load())
		assert.Equal(t, first.AccessToken, second.AccessToken)
		assert.Equal(t, testNow, second.FetchedAt)
	})

	t.Run("stale credential is refreshed", func(t *testing.T) {
		repo := &memCredentialRepo{cred: &model.ExternalCredential{
			AccessToken: "old",
			InstanceURL: "https://old.example.com",
			FetchedAt:   testNow.Add(-window),
		}}
		exchanger := &countingExchanger{prefix: "new-"}
		now, _ := fixedClock(testNow)
		cache := NewCredentialCache(repo, exchanger, window, time.Second).WithClock(now)

		cred, err := cache.Acquire(ctx)
		require.NoError(t, err)

		assert.Equal(t, "new-1", cred.AccessToken)
		assert.Equal(t, testNow, repo.cred.FetchedAt)
	})

	t.Run("exchange failure leaves stored row untouched", func(t *testing.T) {
		stored := &model.ExternalCredential{AccessToken: "old", FetchedAt: testNow.Add(-time.Hour)}
		repo := &memCredentialRepo{cred: stored}
		exchanger := &countingExchanger{err: crm.ErrExchangeRejected}
		now, _ := fixedClock(testNow)
		cache := NewCredentialCache(repo, exchanger, window, time.Second).WithClock(now)

		cred, err := cache.Acquire(ctx)
		assert.Nil(t, cred)
		assert.Equal(t, apperrors.ErrCodeExternalAuth, apperrors.GetCode(err))
		assert.ErrorIs(t, err, crm.ErrExchangeRejected)
		assert.Equal(t, "old", repo.cred.AccessToken)
	})

	t.Run("store read failure", func(t *testing.T) {
		repo := &memCredentialRepo{getErr: errors.New("db down")}
		exchanger := &countingExchanger{}
		cache := NewCredentialCache(repo, exchanger, window, time.Second)

		_, err := cache.Acquire(ctx)
		assert.Equal(t, apperrors.ErrCodePersistence, apperrors.GetCode(err))
		assert.Zero(t, exchanger.calls.Load())
	})

	t.Run("undecryptable row is replaced by a fresh exchange", func(t *testing.T) {
		repo := &memCredentialRepo{
			cred:          &model.ExternalCredential{AccessToken: "sealed-under-old-key", FetchedAt: testNow},
			undecryptable: true,
		}
		exchanger := &countingExchanger{prefix: "new-"}
		now, _ := fixedClock(testNow)
		cache := NewCredentialCache(repo, exchanger, window, time.Second).WithClock(now)

		for i := 0; i < 3; i++ {
			cred, err := cache.Acquire(ctx)
			require.NoError(t, err)
			assert.Equal(t, "new-1", cred.AccessToken)
		}
		assert.Equal(t, int32(1), exchanger.calls.Load())
		assert.False(t, repo.undecryptable)
		assert.Equal(t, "new-1", repo.cred.AccessToken)
	})

	t.Run("concurrent acquires share one exchange", func(t *testing.T) {
		repo := &memCredentialRepo{}
		exchanger := &countingExchanger{prefix: "tok-", delay: 20 * time.Millisecond}
		now, _ := fixedClock(testNow)
		cache := NewCredentialCache(repo, exchanger, window, time.Second).WithClock(now)

		var wg sync.WaitGroup
		tokens := make([]string, 10)
		for i := range tokens {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				cred, err := cache.Acquire(ctx)
				if assert.NoError(t, err) {
					tokens[i] = cred.AccessToken
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), exchanger.calls.Load())
		for _, tok := range tokens {
			assert.Equal(t, "tok-1", tok)
		}
	})

	t.Run("newer credential from another instance wins", func(t *testing.T) {
		credRepo := new(mockCredentialRepo)
		exchanger := &countingExchanger{prefix: "mine-"}
		now, _ := fixedClock(testNow)
		cache := NewCredentialCache(credRepo, exchanger, window, time.Second).WithClock(now)

		theirs := &model.ExternalCredential{AccessToken: "theirs", FetchedAt: testNow.Add(time.Second)}
		credRepo.On("Get", mock.Anything).Return(nil, nil).Twice()
		credRepo.On("Save", mock.Anything, mock.Anything).Return(false, nil).Once()
		credRepo.On("Get", mock.Anything).Return(theirs, nil).Once()

		cred, err := cache.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, "theirs", cred.AccessToken)
		credRepo.AssertExpectations(t)
	})

	t.Run("save failure", func(t *testing.T) {
		credRepo := new(mockCredentialRepo)
		cache := NewCredentialCache(credRepo, &countingExchanger{prefix: "t"}, window, time.Second)

		credRepo.On("Get", mock.Anything).Return(nil, nil)
		credRepo.On("Save", mock.Anything, mock.Anything).Return(false, errors.New("disk full"))

		_, err := cache.Acquire(ctx)
		assert.Equal(t, apperrors.ErrCodePersistence, apperrors.GetCode(err))
	})
}

func TestCredentialCache_Do(t *testing.T) {
	ctx := context.Background()
	window := 12 * time.Minute

	t.Run("retries once after unauthorized with a new token", func(t *testing.T) {
		repo := &memCredentialRepo{cred: &model.ExternalCredential{AccessToken: "revoked", FetchedAt: testNow}}
		exchanger := &countingExchanger{prefix: "tok-"}
		now, _ := fixedClock(testNow.Add(time.Minute))
		cache := NewCredentialCache(repo, exchanger, window, time.Second).WithClock(now)

		var seen []string
		err := cache.Do(ctx, func(_ context.Context, cred model.ExternalCredential) error {
			seen = append(seen, cred.AccessToken)
			if cred.AccessToken == "revoked" {
				return crm.ErrUnauthorized
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"revoked", "tok-1"}, seen)
		assert.Equal(t, int32(1), exchanger.calls.Load())
	})

	t.Run("gives up after second unauthorized", func(t *testing.T) {
		repo := &memCredentialRepo{}
		exchanger := &countingExchanger{prefix: "tok-"}
		now, _ := fixedClock(testNow)
		cache := NewCredentialCache(repo, exchanger, window, time.Second).WithClock(now)

		calls := 0
		err := cache.Do(ctx, func(context.Context, model.ExternalCredential) error {
			calls++
			return crm.ErrUnauthorized
		})

		assert.ErrorIs(t, err, crm.ErrUnauthorized)
		assert.Equal(t, 2, calls)
		assert.Equal(t, int32(2), exchanger.calls.Load())
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		repo := &memCredentialRepo{cred: &model.ExternalCredential{AccessToken: "ok", FetchedAt: testNow}}
		exchanger := &countingExchanger{}
		now, _ := fixedClock(testNow)
		cache := NewCredentialCache(repo, exchanger, window, time.Second).WithClock(now)

		calls := 0
		err := cache.Do(ctx, func(context.Context, model.ExternalCredential) error {
			calls++
			return crm.ErrUnexpectedStatus
		})

		assert.ErrorIs(t, err, crm.ErrUnexpectedStatus)
		assert.Equal(t, 1, calls)
		assert.Zero(t, exchanger.calls.Load())
	})
}
