package identity

import (
	"context"
	"errors"
	"time"
)

// CredentialState tracks the lifecycle of the custody-held external
// credential. Revoked is terminal until a new authorization completes.
type CredentialState string

const (
	StateAbsent  CredentialState = "absent"
	StateValid   CredentialState = "valid"
	StateExpired CredentialState = "expired"
	StateRevoked CredentialState = "revoked"
)

var (
	ErrNotFound = errors.New("identity not found")

	// ErrRevoked means a credential write lost to a revocation: the
	// row's state is revoked and only a new authorization (Upsert) may
	// clear it.
	ErrRevoked = errors.New("identity credential revoked")
)

// Identity is a doctor account. It custody-holds one external calendar
// credential; the sealed blob itself is only reachable through the vault.
type Identity struct {
	ID                string
	Email             string
	DisplayName       string
	Timezone          string
	CalendarAccountID string
	CredentialState   CredentialState
	CredentialExpiry  time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Profile carries the provider-asserted identity facts written on every
// completed authorization.
type Profile struct {
	Email             string
	DisplayName       string
	Timezone          string
	CalendarAccountID string
}

// SealFunc encrypts a credential bound to the identity id it will be
// stored under.
type SealFunc func(identityID string) ([]byte, error)

// CredentialRecord is the persisted form of a credential: the sealed
// ciphertext plus the plaintext bookkeeping columns.
type CredentialRecord struct {
	Sealed []byte
	Expiry time.Time
	State  CredentialState
}

// Store persists identities keyed by id and by unique email.
type Store interface {
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// Upsert writes profile fields and the credential in one atomic
	// unit. An existing row for the email is overwritten; otherwise a
	// new identity is created. seal is called with the row's identity
	// id (ciphertext is bound to it) inside the same transaction, so
	// no observer can see the profile updated without the credential.
	// The credential state is always reset to valid.
	Upsert(ctx context.Context, p Profile, seal SealFunc, expiry time.Time) (*Identity, error)

	// Credential returns the stored credential record for an identity.
	Credential(ctx context.Context, id string) (*CredentialRecord, error)

	// ReplaceCredential atomically swaps the sealed blob and expiry,
	// resetting the state to valid. The swap is conditional: a row
	// whose state is revoked is left untouched and ErrRevoked is
	// returned, so a renewal racing a revocation can never resurrect
	// the credential.
	ReplaceCredential(ctx context.Context, id string, sealed []byte, expiry time.Time) error

	// MarkRevoked clears the sealed blob and sets the revoked state.
	MarkRevoked(ctx context.Context, id string) error
}
