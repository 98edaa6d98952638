package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/crm-sync-server/internal/model"
	"github.com/openclaw/crm-sync-server/internal/util"
)

type CredentialRepository interface {
	Get(ctx context.Context) (*model.ExternalCredential, error)
	// Save replaces the stored credential unless a newer one is already
	// present. It reports whether the row was written.
	Save(ctx context.Context, cred model.ExternalCredential) (bool, error)
}

// credentialTokenAD binds the sealed token to its column.
const credentialTokenAD = "external_credentials.access_token"

type credentialRepo struct {
	db  *sqlx.DB
	box *util.SecretBox
}

// NewCredentialRepository stores the access token sealed by box. A nil box
// stores it in the clear.
func NewCredentialRepository(db *sqlx.DB, box *util.SecretBox) CredentialRepository {
	return &credentialRepo{db: db, box: box}
}

func (r *credentialRepo) Get(ctx context.Context) (*model.ExternalCredential, error) {
	var row model.ExternalCredential
	err := r.db.GetContext(ctx, &row, `
		SELECT access_token, instance_url, fetched_at FROM external_credentials WHERE id = 1
	`)
	cred, err := optionalRow(&row, err)
	if cred == nil || err != nil {
		return nil, err
	}

	token, err := r.box.Open(cred.AccessToken, credentialTokenAD)
	if err != nil {
		return nil, fmt.Errorf("%w: access token: %v", ErrUndecryptable, err)
	}
	cred.AccessToken = token
	return cred, nil
}

func (r *credentialRepo) Save(ctx context.Context, cred model.ExternalCredential) (bool, error) {
	token, err := r.box.Seal(cred.AccessToken, credentialTokenAD)
	if err != nil {
		return false, fmt.Errorf("encrypt access token: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO external_credentials (id, access_token, instance_url, fetched_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			instance_url = EXCLUDED.instance_url,
			fetched_at = EXCLUDED.fetched_at
		WHERE external_credentials.fetched_at <= EXCLUDED.fetched_at
	`, token, cred.InstanceURL, cred.FetchedAt)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
