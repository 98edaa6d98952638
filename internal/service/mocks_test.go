package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/openclaw/crm-sync-server/internal/crm"
	"github.com/openclaw/crm-sync-server/internal/model"
)

type mockPrincipalRepo struct {
	mock.Mock
}

func (m *mockPrincipalRepo) FindByID(ctx context.Context, id string) (*model.Principal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Principal), args.Error(1)
}

func (m *mockPrincipalRepo) FindByUsername(ctx context.Context, username string) (*model.Principal, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Principal), args.Error(1)
}

func (m *mockPrincipalRepo) FindBySessionTokenHash(ctx context.Context, tokenHash string) (*model.Principal, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Principal), args.Error(1)
}

func (m *mockPrincipalRepo) List(ctx context.Context, filter model.PrincipalFilter) ([]model.Principal, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]model.Principal), args.Int(1), args.Error(2)
}

func (m *mockPrincipalRepo) ListDirectory(ctx context.Context, limit, offset int) ([]model.DirectoryEntry, int, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]model.DirectoryEntry), args.Int(1), args.Error(2)
}

func (m *mockPrincipalRepo) SetSession(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, id, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *mockPrincipalRepo) ClearSession(ctx context.Context, tokenHash string) error {
	args := m.Called(ctx, tokenHash)
	return args.Error(0)
}

func (m *mockPrincipalRepo) ClearSessionByID(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockPrincipalRepo) UpsertFromExternal(ctx context.Context, params model.UpsertExternalParams) (model.MergeOutcome, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(model.MergeOutcome), args.Error(1)
}

func (m *mockPrincipalRepo) SetActive(ctx context.Context, id string, active bool) (*model.Principal, error) {
	args := m.Called(ctx, id, active)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Principal), args.Error(1)
}

func (m *mockPrincipalRepo) SetCredentials(ctx context.Context, id string, username *string, passwordHash string) error {
	args := m.Called(ctx, id, username, passwordHash)
	return args.Error(0)
}

func (m *mockPrincipalRepo) EnsureAdmin(ctx context.Context, params model.EnsureAdminParams) (*model.Principal, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Principal), args.Error(1)
}

type mockCredentialRepo struct {
	mock.Mock
}

func (m *mockCredentialRepo) Get(ctx context.Context) (*model.ExternalCredential, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ExternalCredential), args.Error(1)
}

func (m *mockCredentialRepo) Save(ctx context.Context, cred model.ExternalCredential) (bool, error) {
	args := m.Called(ctx, cred)
	return args.Bool(0), args.Error(1)
}

type mockSyncRunRepo struct {
	mock.Mock
}

func (m *mockSyncRunRepo) Create(ctx context.Context, params model.CreateSyncRunParams) (*model.SyncRun, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncRun), args.Error(1)
}

func (m *mockSyncRunRepo) List(ctx context.Context, limit, offset int) ([]model.SyncRun, int, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]model.SyncRun), args.Int(1), args.Error(2)
}

type mockExchanger struct {
	mock.Mock
}

func (m *mockExchanger) Exchange(ctx context.Context) (*crm.Token, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*crm.Token), args.Error(1)
}

type mockRecordSource struct {
	mock.Mock
}

func (m *mockRecordSource) FetchEligible(ctx context.Context, cred model.ExternalCredential) ([]model.SyncRecord, error) {
	args := m.Called(ctx, cred)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SyncRecord), args.Error(1)
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// fixedClock returns a clock whose time can be moved by the test.
func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	return func() time.Time { return current }, func(d time.Duration) { current = current.Add(d) }
}
