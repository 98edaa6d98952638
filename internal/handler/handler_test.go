package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/crm-sync-server/internal/middleware"
	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/service"
)

const (
	adminToken = "admin-token"
	salesToken = "sales-token"
	adminID    = "6b1f3d0e-2c4a-4a8e-9f61-1d2b3c4d5e6f"
	salesID    = "0c9a7e55-8d3b-4f21-a6c4-7e8f9a0b1c2d"
)

var (
	testAdmin = &model.Principal{ID: adminID, Role: model.RoleAdmin, Active: true, Username: strPtr("admin")}
	testSales = &model.Principal{ID: salesID, Role: model.RoleSales, Active: true, Email: "kim@example.com"}
)

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Login(ctx context.Context, username, password string) (*service.LoginResult, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LoginResult), args.Error(1)
}

func (m *mockAuthenticator) Logout(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

type mockPrincipalManager struct {
	mock.Mock
}

func (m *mockPrincipalManager) List(ctx context.Context, filter model.PrincipalFilter) ([]model.Principal, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]model.Principal), args.Int(1), args.Error(2)
}

func (m *mockPrincipalManager) Directory(ctx context.Context, limit, offset int) ([]model.DirectoryEntry, int, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]model.DirectoryEntry), args.Int(1), args.Error(2)
}

func (m *mockPrincipalManager) Get(ctx context.Context, id string) (*model.Principal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Principal), args.Error(1)
}

func (m *mockPrincipalManager) SetActive(ctx context.Context, id string, active bool) (*model.Principal, error) {
	args := m.Called(ctx, id, active)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Principal), args.Error(1)
}

func (m *mockPrincipalManager) ResetPassword(ctx context.Context, id string, username *string, password string) (*model.Principal, error) {
	args := m.Called(ctx, id, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Principal), args.Error(1)
}

func (m *mockPrincipalManager) ChangeOwnPassword(ctx context.Context, principal *model.Principal, currentPassword, newPassword string) error {
	args := m.Called(ctx, principal, currentPassword, newPassword)
	return args.Error(0)
}

type mockSynchronizer struct {
	mock.Mock
}

func (m *mockSynchronizer) Sync(ctx context.Context, trigger model.SyncTrigger, triggeredBy *string) (*model.SyncSummary, error) {
	args := m.Called(ctx, trigger, triggeredBy)
	var summary *model.SyncSummary
	if args.Get(0) != nil {
		summary = args.Get(0).(*model.SyncSummary)
	}
	return summary, args.Error(1)
}

func (m *mockSynchronizer) ListRuns(ctx context.Context, limit, offset int) ([]model.SyncRun, int, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]model.SyncRun), args.Int(1), args.Error(2)
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

type tokenTable map[string]*model.Principal

func (t tokenTable) Validate(_ context.Context, token string) (*model.Principal, error) {
	if p, ok := t[token]; ok {
		return p, nil
	}
	return nil, service.ErrSessionNotFound
}

type testServer struct {
	auth       *mockAuthenticator
	principals *mockPrincipalManager
	sync       *mockSynchronizer
	router     http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		auth:       new(mockAuthenticator),
		principals: new(mockPrincipalManager),
		sync:       new(mockSynchronizer),
	}
	sessions := tokenTable{adminToken: testAdmin, salesToken: testSales}

	s.router = NewRouter(RouterDeps{
		Health:          NewHealthHandler(stubPinger{}),
		Auth:            NewAuthHandler(s.auth, s.principals),
		Users:           NewUsersHandler(s.principals),
		Sync:            NewSyncHandler(s.sync),
		AuthMiddleware:  middleware.NewAuthMiddleware(sessions),
		LoginRateLimit:  middleware.NewIPRateLimitMiddleware(service.NewMemoryRateLimiter(100, time.Minute)),
		SecurityHeaders: middleware.NewSecurityHeadersMiddleware(false),
		BodyLimit:       middleware.NewBodyLimitMiddleware(0),
	})
	return s
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func strPtr(s string) *string {
	return &s
}
