package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calendar-proxy/internal/identity"
)

var (
	// ErrNotFound means the identity has no stored credential.
	ErrNotFound = errors.New("credential not found")

	// ErrCredentialRevoked means the external grant was revoked. The
	// state is terminal until a new authorization completes.
	ErrCredentialRevoked = errors.New("credential revoked")
)

// Store is the persistence the vault needs; the identity stores satisfy
// it. The credential column travels only as sealed ciphertext here.
type Store interface {
	Credential(ctx context.Context, id string) (*identity.CredentialRecord, error)
	ReplaceCredential(ctx context.Context, id string, sealed []byte, expiry time.Time) error
	MarkRevoked(ctx context.Context, id string) error
}

// Vault holds one external credential per identity, encrypted at rest.
type Vault struct {
	store  Store
	cipher Cipher
}

func New(store Store, cipher Cipher) *Vault {
	return &Vault{store: store, cipher: cipher}
}

func (v *Vault) Get(ctx context.Context, identityID string) (*Credential, error) {
	rec, err := v.store.Credential(ctx, identityID)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: reading credential: %w", err)
	}

	switch rec.State {
	case identity.StateRevoked:
		return nil, ErrCredentialRevoked
	case identity.StateAbsent:
		return nil, ErrNotFound
	}
	if len(rec.Sealed) == 0 {
		return nil, ErrNotFound
	}

	plaintext, err := v.cipher.Open(rec.Sealed, []byte(identityID))
	if err != nil {
		return nil, fmt.Errorf("vault: opening credential: %w", err)
	}

	cred, err := decodeCredential(plaintext)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding credential: %w", err)
	}
	return cred, nil
}

// Put atomically replaces the stored credential. A revocation that
// landed since the caller read the credential wins the race: the write
// is refused with ErrCredentialRevoked and the revoked state stands.
func (v *Vault) Put(ctx context.Context, identityID string, cred *Credential) error {
	sealed, err := v.Seal(identityID, cred)
	if err != nil {
		return err
	}
	if err := v.store.ReplaceCredential(ctx, identityID, sealed, cred.Expiry); err != nil {
		if errors.Is(err, identity.ErrRevoked) {
			return ErrCredentialRevoked
		}
		if errors.Is(err, identity.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("vault: replacing credential: %w", err)
	}
	return nil
}

// Seal encrypts a credential bound to the given identity id. Exposed so
// the authorization exchange can seal before its single-statement
// identity+credential upsert.
func (v *Vault) Seal(identityID string, cred *Credential) ([]byte, error) {
	plaintext, err := encodeCredential(cred)
	if err != nil {
		return nil, fmt.Errorf("vault: encoding credential: %w", err)
	}
	sealed, err := v.cipher.Seal(plaintext, []byte(identityID))
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

func (v *Vault) MarkRevoked(ctx context.Context, identityID string) error {
	if err := v.store.MarkRevoked(ctx, identityID); err != nil &&
		!errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("vault: marking revoked: %w", err)
	}
	return nil
}
