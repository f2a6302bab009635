package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"calendar-proxy/internal/identity"

	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) (*Vault, *identity.MemoryStore, string) {
	t.Helper()

	store := identity.NewMemoryStore()
	cipher, err := NewAEADCipher(testKey())
	require.NoError(t, err)
	v := New(store, cipher)

	ident, err := store.Upsert(context.Background(), identity.Profile{
		Email:       "doctor@clinic.example",
		DisplayName: "Dr. Example",
	}, func(id string) ([]byte, error) {
		return v.Seal(id, &Credential{
			AccessSecret:  "access-initial",
			RenewalSecret: "renewal-initial",
			Expiry:        time.Now().Add(time.Hour),
		})
	}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	return v, store, ident.ID
}

func TestVaultGetPut(t *testing.T) {
	ctx := context.Background()
	v, _, identityID := newTestVault(t)

	t.Run("round trip", func(t *testing.T) {
		cred, err := v.Get(ctx, identityID)
		require.NoError(t, err)
		require.Equal(t, "access-initial", cred.AccessSecret)
		require.Equal(t, "renewal-initial", cred.RenewalSecret)
	})

	t.Run("put replaces atomically", func(t *testing.T) {
		expiry := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
		err := v.Put(ctx, identityID, &Credential{
			AccessSecret:  "access-new",
			RenewalSecret: "renewal-new",
			Expiry:        expiry,
		})
		require.NoError(t, err)

		cred, err := v.Get(ctx, identityID)
		require.NoError(t, err)
		require.Equal(t, "access-new", cred.AccessSecret)
		require.Equal(t, "renewal-new", cred.RenewalSecret)
		require.True(t, cred.Expiry.Equal(expiry))
	})

	t.Run("unknown identity", func(t *testing.T) {
		_, err := v.Get(ctx, "no-such-identity")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestVaultRevocationTerminality(t *testing.T) {
	ctx := context.Background()
	v, store, identityID := newTestVault(t)

	require.NoError(t, v.MarkRevoked(ctx, identityID))

	_, err := v.Get(ctx, identityID)
	require.ErrorIs(t, err, ErrCredentialRevoked)

	// Still revoked on repeat reads.
	_, err = v.Get(ctx, identityID)
	require.ErrorIs(t, err, ErrCredentialRevoked)

	ident, err := store.GetByID(ctx, identityID)
	require.NoError(t, err)
	require.Equal(t, identity.StateRevoked, ident.CredentialState)

	// A new completed authorization clears the state.
	_, err = store.Upsert(ctx, identity.Profile{
		Email: "doctor@clinic.example",
	}, func(id string) ([]byte, error) {
		return v.Seal(id, &Credential{
			AccessSecret:  "access-after-reauth",
			RenewalSecret: "renewal-after-reauth",
			Expiry:        time.Now().Add(time.Hour),
		})
	}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	cred, err := v.Get(ctx, identityID)
	require.NoError(t, err)
	require.Equal(t, "access-after-reauth", cred.AccessSecret)
}

func TestCredentialRedaction(t *testing.T) {
	cred := Credential{
		AccessSecret:  "super-secret-access",
		RenewalSecret: "super-secret-renewal",
		Expiry:        time.Now().Add(time.Hour),
		AccountEmail:  "doctor@clinic.example",
	}

	t.Run("String", func(t *testing.T) {
		s := cred.String()
		require.NotContains(t, s, "super-secret-access")
		require.NotContains(t, s, "super-secret-renewal")
	})

	t.Run("fmt verbs", func(t *testing.T) {
		for _, s := range []string{
			fmt.Sprintf("%v", cred),
			fmt.Sprintf("%s", cred),
			fmt.Sprintf("%#v", cred),
			fmt.Sprintf("%#v", &cred),
		} {
			require.NotContains(t, s, "super-secret-access")
			require.NotContains(t, s, "super-secret-renewal")
		}
	})

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(cred)
		require.NoError(t, err)
		require.NotContains(t, string(data), "super-secret-access")
		require.NotContains(t, string(data), "super-secret-renewal")
	})

	t.Run("json of embedding struct", func(t *testing.T) {
		wrapper := struct {
			Credential Credential `json:"credential"`
		}{Credential: cred}
		data, err := json.Marshal(wrapper)
		require.NoError(t, err)
		require.NotContains(t, string(data), "super-secret-access")
	})
}

func TestVaultTamperedBlob(t *testing.T) {
	ctx := context.Background()
	v, store, identityID := newTestVault(t)

	rec, err := store.Credential(ctx, identityID)
	require.NoError(t, err)

	tampered := append([]byte(nil), rec.Sealed...)
	tampered[len(tampered)-1] ^= 0x01
	require.NoError(t, store.ReplaceCredential(ctx, identityID, tampered, rec.Expiry))

	_, err = v.Get(ctx, identityID)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestPutLosesToRevocation(t *testing.T) {
	ctx := context.Background()
	v, _, identityID := newTestVault(t)

	require.NoError(t, v.MarkRevoked(ctx, identityID))

	// A writer holding a stale read of the credential must not be able
	// to clear the revoked state.
	err := v.Put(ctx, identityID, &Credential{
		AccessSecret:  "access-stale-renewal",
		RenewalSecret: "renewal-stale-renewal",
		Expiry:        time.Now().Add(time.Hour),
	})
	require.ErrorIs(t, err, ErrCredentialRevoked)

	_, err = v.Get(ctx, identityID)
	require.ErrorIs(t, err, ErrCredentialRevoked)
}
