package db

import (
	"context"
	"database/sql"
)

type DB struct {
	*sql.DB
}

const bootstrapMigration = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS identities (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    email text NOT NULL,
    display_name text NOT NULL DEFAULT '',
    timezone text NOT NULL DEFAULT 'America/New_York',
    calendar_account_id text NOT NULL DEFAULT 'primary',

    credential bytea,
    credential_expiry timestamptz,
    credential_state text NOT NULL DEFAULT 'absent',

    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS identities_email_lower_unique
ON identities (LOWER(email));
`

// RunBootstrapMigration creates the identity schema. The statement is
// idempotent so it runs unconditionally at startup.
func RunBootstrapMigration(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, bootstrapMigration)
	return err
}
