package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/crm-sync-server/internal/errors"
	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/util"
)

func hashed(t *testing.T, password string) *string {
	t.Helper()
	h, err := util.HashPassword(password)
	require.NoError(t, err)
	return &h
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	passwordHash := hashed(t, "correct-horse")

	t.Run("admin login issues a session", func(t *testing.T) {
		repo := new(mockPrincipalRepo)
		now, _ := fixedClock(testNow)
		sessions := NewSessionService(repo, 15*time.Minute).WithClock(now)
		svc := NewAuthService(repo, sessions)

		admin := &model.Principal{ID: "a1", Role: model.RoleAdmin, Username: strPtr("admin"), PasswordHash: passwordHash}
		repo.On("FindByUsername", ctx, "admin").Return(admin, nil)
		repo.On("SetSession", ctx, "a1", mock.Anything, testNow.Add(15*time.Minute)).Return(nil)

		result, err := svc.Login(ctx, "admin", "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, result.Principal.Role)
		assert.NotEmpty(t, result.Session.Token)
		assert.Equal(t, testNow.Add(15*time.Minute), result.Session.ExpiresAt)
	})

	tests := []struct {
		name      string
		principal *model.Principal
		password  string
	}{
		{
			name:     "unknown user",
			password: "whatever",
		},
		{
			name:      "wrong password",
			principal: &model.Principal{ID: "a1", Role: model.RoleAdmin, PasswordHash: passwordHash},
			password:  "wrong",
		},
		{
			name:      "principal without password",
			principal: &model.Principal{ID: "s1", Role: model.RoleSales, Active: true},
			password:  "correct-horse",
		},
		{
			name:      "inactive sales principal",
			principal: &model.Principal{ID: "s1", Role: model.RoleSales, Active: false, PasswordHash: passwordHash},
			password:  "correct-horse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockPrincipalRepo)
			svc := NewAuthService(repo, NewSessionService(repo, time.Minute))

			if tt.principal != nil {
				repo.On("FindByUsername", ctx, "user").Return(tt.principal, nil)
			} else {
				repo.On("FindByUsername", ctx, "user").Return(nil, nil)
			}

			result, err := svc.Login(ctx, "user", tt.password)
			assert.Nil(t, result)
			assert.Equal(t, apperrors.ErrCodeInvalidLogin, apperrors.GetCode(err))
			repo.AssertNotCalled(t, "SetSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("store failure", func(t *testing.T) {
		repo := new(mockPrincipalRepo)
		svc := NewAuthService(repo, NewSessionService(repo, time.Minute))
		repo.On("FindByUsername", ctx, "admin").Return(nil, errors.New("db down"))

		_, err := svc.Login(ctx, "admin", "x")
		assert.Equal(t, apperrors.ErrCodePersistence, apperrors.GetCode(err))
	})
}

func TestAuthService_Logout(t *testing.T) {
	ctx := context.Background()
	repo := new(mockPrincipalRepo)
	svc := NewAuthService(repo, NewSessionService(repo, time.Minute))

	repo.On("ClearSession", ctx, util.HashToken("tok")).Return(nil).Once()
	require.NoError(t, svc.Logout(ctx, "tok"))

	repo.On("ClearSession", ctx, util.HashToken("bad")).Return(errors.New("db down")).Once()
	err := svc.Logout(ctx, "bad")
	assert.Equal(t, apperrors.ErrCodePersistence, apperrors.GetCode(err))
}
