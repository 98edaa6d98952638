package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/crm-sync-server/internal/database"
	"github.com/openclaw/crm-sync-server/internal/model"
)

type PrincipalRepository interface {
	FindByID(ctx context.Context, id string) (*model.Principal, error)
	FindByUsername(ctx context.Context, username string) (*model.Principal, error)
	FindBySessionTokenHash(ctx context.Context, tokenHash string) (*model.Principal, error)
	List(ctx context.Context, filter model.PrincipalFilter) ([]model.Principal, int, error)
	ListDirectory(ctx context.Context, limit, offset int) ([]model.DirectoryEntry, int, error)
	SetSession(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ClearSession(ctx context.Context, tokenHash string) error
	ClearSessionByID(ctx context.Context, id string) error
	UpsertFromExternal(ctx context.Context, params model.UpsertExternalParams) (model.MergeOutcome, error)
	SetActive(ctx context.Context, id string, active bool) (*model.Principal, error)
	SetCredentials(ctx context.Context, id string, username *string, passwordHash string) error
	EnsureAdmin(ctx context.Context, params model.EnsureAdminParams) (*model.Principal, error)
}

type principalRepo struct {
	db database.DBTX
}

func NewPrincipalRepository(db *sqlx.DB) PrincipalRepository {
	return &principalRepo{db: db}
}

func (r *principalRepo) FindByID(ctx context.Context, id string) (*model.Principal, error) {
	var p model.Principal
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM principals WHERE id = $1
	`, id)
	return optionalRow(&p, err)
}

func (r *principalRepo) FindByUsername(ctx context.Context, username string) (*model.Principal, error) {
	var p model.Principal
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM principals WHERE username = $1
	`, username)
	return optionalRow(&p, err)
}

// FindBySessionTokenHash returns the holder of the token regardless of
// expiry; callers compare session_expires_at against their own clock.
func (r *principalRepo) FindBySessionTokenHash(ctx context.Context, tokenHash string) (*model.Principal, error) {
	var p model.Principal
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM principals WHERE session_token_hash = $1
	`, tokenHash)
	return optionalRow(&p, err)
}

func (r *principalRepo) List(ctx context.Context, filter model.PrincipalFilter) ([]model.Principal, int, error) {
	var role *string
	if filter.Role != nil {
		s := string(*filter.Role)
		role = &s
	}

	var total int
	err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM principals
		WHERE ($1::text IS NULL OR role = $1)
		AND ($2::boolean IS NULL OR active = $2)
	`, role, filter.Active)
	if err != nil {
		return nil, 0, err
	}

	principals := []model.Principal{}
	err = r.db.SelectContext(ctx, &principals, `
		SELECT * FROM principals
		WHERE ($1::text IS NULL OR role = $1)
		AND ($2::boolean IS NULL OR active = $2)
		ORDER BY last_name, first_name, id
		LIMIT $3 OFFSET $4
	`, role, filter.Active, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	return principals, total, nil
}

func (r *principalRepo) ListDirectory(ctx context.Context, limit, offset int) ([]model.DirectoryEntry, int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM principals WHERE role = 'sales' AND active = TRUE
	`)
	if err != nil {
		return nil, 0, err
	}

	entries := []model.DirectoryEntry{}
	err = r.db.SelectContext(ctx, &entries, `
		SELECT id, first_name, last_name, email, phone FROM principals
		WHERE role = 'sales' AND active = TRUE
		ORDER BY last_name, first_name, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// SetSession overwrites the principal's token and expiry in one statement,
// which revokes any token issued earlier.
func (r *principalRepo) SetSession(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE principals SET
			session_token_hash = $2,
			session_expires_at = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id, tokenHash, expiresAt)
	return requireRow(result, err)
}

func (r *principalRepo) ClearSession(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE principals SET
			session_token_hash = NULL,
			session_expires_at = NULL,
			updated_at = NOW()
		WHERE session_token_hash = $1
	`, tokenHash)
	return err
}

func (r *principalRepo) ClearSessionByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE principals SET
			session_token_hash = NULL,
			session_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND session_token_hash IS NOT NULL
	`, id)
	return err
}

// UpsertFromExternal merges one CRM record keyed by external_id. New rows
// start as inactive sales principals without login credentials. Existing
// rows only get their CRM-owned columns refreshed, and only when one of
// them changed; role, activation, credentials and session are never touched.
func (r *principalRepo) UpsertFromExternal(ctx context.Context, params model.UpsertExternalParams) (model.MergeOutcome, error) {
	var inserted bool
	err := r.db.GetContext(ctx, &inserted, `
		INSERT INTO principals (external_id, first_name, last_name, email, phone, role, active, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, 'sales', FALSE, NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			last_synced_at = NOW(),
			updated_at = NOW()
		WHERE (principals.first_name, principals.last_name, principals.email, principals.phone)
			IS DISTINCT FROM (EXCLUDED.first_name, EXCLUDED.last_name, EXCLUDED.email, EXCLUDED.phone)
		RETURNING (xmax = 0) AS inserted
	`, params.ExternalID, params.FirstName, params.LastName, params.Email, params.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MergeUnchanged, nil
	}
	if err != nil {
		return "", fmt.Errorf("upsert principal %s: %w", params.ExternalID, err)
	}
	if inserted {
		return model.MergeInserted, nil
	}
	return model.MergeUpdated, nil
}

// SetActive toggles a sales principal. Deactivation also drops the live
// session so the change takes effect on the next request.
func (r *principalRepo) SetActive(ctx context.Context, id string, active bool) (*model.Principal, error) {
	var p model.Principal
	err := r.db.GetContext(ctx, &p, `
		UPDATE principals SET
			active = $2,
			session_token_hash = CASE WHEN $2 THEN session_token_hash ELSE NULL END,
			session_expires_at = CASE WHEN $2 THEN session_expires_at ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1 AND role = 'sales'
		RETURNING *
	`, id, active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetCredentials stores a new password hash. A nil username keeps the
// current one.
func (r *principalRepo) SetCredentials(ctx context.Context, id string, username *string, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE principals SET
			username = COALESCE($2, username),
			password_hash = $3,
			updated_at = NOW()
		WHERE id = $1
	`, id, username, passwordHash)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return requireRow(result, err)
}

// EnsureAdmin provisions the single admin principal, or re-keys its
// credentials when the configured username or hash changed.
func (r *principalRepo) EnsureAdmin(ctx context.Context, params model.EnsureAdminParams) (*model.Principal, error) {
	var p model.Principal
	err := r.db.GetContext(ctx, &p, `
		INSERT INTO principals (first_name, last_name, role, active, username, password_hash)
		VALUES ('Admin', '', 'admin', TRUE, $1, $2)
		ON CONFLICT (role) WHERE role = 'admin' DO UPDATE SET
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			active = TRUE,
			updated_at = NOW()
		RETURNING *
	`, params.Username, params.PasswordHash)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func requireRow(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
