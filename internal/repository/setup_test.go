package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openclaw/crm-sync-server/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, url)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx))
	_, err = db.ExecContext(ctx, `TRUNCATE sync_runs, external_credentials, principals`)
	require.NoError(t, err)
	return db
}
