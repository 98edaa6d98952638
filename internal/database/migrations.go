package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrate creates the schema. Every statement is idempotent so it runs on
// each startup inside a single transaction.
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationExtensions,
		migrationPrincipals,
		migrationExternalCredentials,
		migrationSyncRuns,
	}

	return db.InTx(ctx, func(tx *sqlx.Tx) error {
		// Serializes concurrent startups of several instances.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(7261)`); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		for i, m := range migrations {
			if _, err := tx.ExecContext(ctx, m); err != nil {
				return fmt.Errorf("migration %d: %w", i, err)
			}
		}
		return nil
	})
}

const migrationExtensions = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;
`

const migrationPrincipals = `
CREATE TABLE IF NOT EXISTS principals (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    external_id TEXT UNIQUE,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'sales' CHECK (role IN ('admin', 'sales')),
    active BOOLEAN NOT NULL DEFAULT FALSE,
    username TEXT UNIQUE,
    password_hash TEXT,
    session_token_hash TEXT UNIQUE,
    session_expires_at TIMESTAMPTZ,
    last_synced_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_single_admin ON principals(role) WHERE role = 'admin';
CREATE INDEX IF NOT EXISTS idx_principals_role_active ON principals(role, active);
`

const migrationExternalCredentials = `
CREATE TABLE IF NOT EXISTS external_credentials (
    id SMALLINT PRIMARY KEY CHECK (id = 1),
    access_token TEXT NOT NULL,
    instance_url TEXT NOT NULL,
    fetched_at TIMESTAMPTZ NOT NULL
);
`

const migrationSyncRuns = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id UUID PRIMARY KEY,
    trigger_source TEXT NOT NULL,
    triggered_by UUID REFERENCES principals(id),
    status TEXT NOT NULL,
    fetched INTEGER NOT NULL DEFAULT 0,
    inserted INTEGER NOT NULL DEFAULT 0,
    updated INTEGER NOT NULL DEFAULT 0,
    unchanged INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at DESC);
`
