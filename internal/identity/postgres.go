package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"calendar-proxy/internal/db"
)

// PostgresStore is the canonical identity store.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(db *db.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const identityColumns = `
	id, email, display_name, timezone, calendar_account_id,
	credential_state, COALESCE(credential_expiry, 'epoch'::timestamptz),
	created_at, updated_at
`

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE id = $1
	`, id)
	return scanIdentity(row)
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE LOWER(email) = LOWER($1)
	`, email)
	return scanIdentity(row)
}

// Upsert runs the profile upsert and the credential write in one
// transaction. The sealing callback needs the row's id (the ciphertext
// is bound to it), which for a brand-new identity only exists after the
// first statement; the transaction keeps the pair atomic to observers.
func (s *PostgresStore) Upsert(
	ctx context.Context,
	p Profile,
	seal SealFunc,
	expiry time.Time,
) (*Identity, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("identity upsert: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO identities (email, display_name, timezone, calendar_account_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (LOWER(email)) DO UPDATE SET
			display_name        = EXCLUDED.display_name,
			timezone            = EXCLUDED.timezone,
			calendar_account_id = EXCLUDED.calendar_account_id,
			updated_at          = NOW()
		RETURNING id
	`,
		p.Email,
		p.DisplayName,
		p.Timezone,
		p.CalendarAccountID,
	)

	var id string
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("identity upsert: %w", err)
	}

	sealed, err := seal(id)
	if err != nil {
		return nil, fmt.Errorf("identity upsert: sealing credential: %w", err)
	}

	fullRow := tx.QueryRowContext(ctx, `
		UPDATE identities
		SET credential        = $2,
		    credential_expiry = $3,
		    credential_state  = $4
		WHERE id = $1
		RETURNING `+identityColumns+`
	`, id, sealed, expiry, StateValid)

	ident, err := scanIdentity(fullRow)
	if err != nil {
		return nil, fmt.Errorf("identity upsert: storing credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("identity upsert: commit: %w", err)
	}
	return ident, nil
}

func (s *PostgresStore) Credential(ctx context.Context, id string) (*CredentialRecord, error) {
	var rec CredentialRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(credential, ''::bytea),
		       COALESCE(credential_expiry, 'epoch'::timestamptz),
		       credential_state
		FROM identities
		WHERE id = $1
	`, id).Scan(&rec.Sealed, &rec.Expiry, &rec.State)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) ReplaceCredential(
	ctx context.Context,
	id string,
	sealed []byte,
	expiry time.Time,
) error {
	// The state guard makes the swap a compare-and-set: a revocation
	// that landed after the caller read the row wins, and the stale
	// renewal is refused instead of resurrecting the credential.
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET credential        = $2,
		    credential_expiry = $3,
		    credential_state  = $4,
		    updated_at        = NOW()
		WHERE id = $1 AND credential_state <> $5
	`, id, sealed, expiry, StateValid, StateRevoked)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var state CredentialState
	err = s.db.QueryRowContext(ctx, `
		SELECT credential_state FROM identities WHERE id = $1
	`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if state == StateRevoked {
		return ErrRevoked
	}
	return ErrNotFound
}

func (s *PostgresStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET credential        = NULL,
		    credential_expiry = NULL,
		    credential_state  = $2,
		    updated_at        = NOW()
		WHERE id = $1
	`, id, StateRevoked)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var ident Identity
	err := row.Scan(
		&ident.ID,
		&ident.Email,
		&ident.DisplayName,
		&ident.Timezone,
		&ident.CalendarAccountID,
		&ident.CredentialState,
		&ident.CredentialExpiry,
		&ident.CreatedAt,
		&ident.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}
