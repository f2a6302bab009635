package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"calendar-proxy/internal/exchange"
	"calendar-proxy/internal/identity"
	"calendar-proxy/internal/refresher"
	"calendar-proxy/internal/schedule"
	"calendar-proxy/internal/session"
	"calendar-proxy/internal/vault"

	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	refreshErr error
}

func (p *staticProvider) AuthCodeURL(state string) string { return "" }

func (p *staticProvider) ExchangeCode(ctx context.Context, code string) (*exchange.Token, error) {
	return nil, exchange.ErrInvalidGrant
}

func (p *staticProvider) UserInfo(ctx context.Context, accessSecret string) (*exchange.Profile, error) {
	return nil, exchange.ErrProviderUnavailable
}

func (p *staticProvider) Refresh(ctx context.Context, renewalSecret string) (*exchange.Token, error) {
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &exchange.Token{
		AccessSecret: "access-renewed",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

type harness struct {
	dispatcher *Dispatcher
	vault      *vault.Vault
	store      *identity.MemoryStore
	issuer     *session.Issuer
	identityID string
	token      string
}

// newHarness wires a dispatcher over in-memory stores, a stub provider,
// and the given upstream, with one connected identity already seeded.
func newHarness(t *testing.T, upstreamURL string) *harness {
	t.Helper()
	ctx := context.Background()

	store := identity.NewMemoryStore()
	cipher, err := vault.NewAEADCipher(make([]byte, vault.KeySize))
	require.NoError(t, err)
	v := vault.New(store, cipher)

	expiry := time.Now().Add(time.Hour)
	ident, err := store.Upsert(ctx, identity.Profile{
		Email:       "doctor@clinic.example",
		DisplayName: "Dr. Example",
	}, func(id string) ([]byte, error) {
		return v.Seal(id, &vault.Credential{
			AccessSecret:  "access-secret-1",
			RenewalSecret: "renewal-secret-1",
			Expiry:        expiry,
			AccountEmail:  "doctor@clinic.example",
		})
	}, expiry)
	require.NoError(t, err)

	codec := session.NewTokenCodec([]byte("dispatch-test-secret"), 30*time.Minute)
	issuer := session.NewIssuer(session.NewMemoryStore(), codec, 7*24*time.Hour)

	grant, err := issuer.Issue(ctx, ident.ID)
	require.NoError(t, err)

	ref := refresher.New(v, &staticProvider{}, 5*time.Minute)
	d := New(issuer, ref, store, v, schedule.NewClient(upstreamURL))

	return &harness{
		dispatcher: d,
		vault:      v,
		store:      store,
		issuer:     issuer,
		identityID: ident.ID,
		token:      grant.Token,
	}
}

func availabilityUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer access-secret-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(schedule.Availability{
			Date: "2026-03-02",
			Slots: []schedule.Slot{{
				Start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
				End:   time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
			}},
		})
	}))
}

func TestDispatchHappyPath(t *testing.T) {
	ctx := context.Background()
	upstream := availabilityUpstream(t)
	defer upstream.Close()

	h := newHarness(t, upstream.URL)

	result, err := h.dispatcher.Dispatch(ctx, h.token, OpCheckAvailability,
		json.RawMessage(`{"date":"2026-03-02"}`))
	require.NoError(t, err)

	// The serialized response carries no custody-held secret material.
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "access-secret-1")
	require.NotContains(t, string(raw), "renewal-secret-1")

	avail, ok := result.(*schedule.Availability)
	require.True(t, ok)
	require.Len(t, avail.Slots, 1)
}

func TestDispatchRejectsBadToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "http://127.0.0.1:0")

	_, err := h.dispatcher.Dispatch(ctx, "not-a-token", OpCheckAvailability,
		json.RawMessage(`{"date":"2026-03-02"}`))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestDispatchRevokedCredential(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "http://127.0.0.1:0")

	require.NoError(t, h.vault.MarkRevoked(ctx, h.identityID))

	_, err := h.dispatcher.Dispatch(ctx, h.token, OpCheckAvailability,
		json.RawMessage(`{"date":"2026-03-02"}`))
	require.ErrorIs(t, err, ErrReauthorizationRequired)
}

func TestDispatchValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "http://127.0.0.1:0")

	t.Run("missing date", func(t *testing.T) {
		_, err := h.dispatcher.Dispatch(ctx, h.token, OpCheckAvailability,
			json.RawMessage(`{}`))
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing booking fields", func(t *testing.T) {
		_, err := h.dispatcher.Dispatch(ctx, h.token, OpCreateAppointment,
			json.RawMessage(`{"patient_name":"Ada"}`))
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("malformed params", func(t *testing.T) {
		_, err := h.dispatcher.Dispatch(ctx, h.token, OpCheckAvailability,
			json.RawMessage(`{"date":7}`))
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown operation", func(t *testing.T) {
		_, err := h.dispatcher.Dispatch(ctx, h.token, Operation("delete_everything"), nil)
		require.ErrorIs(t, err, ErrUnknownOperation)
	})
}

func TestDispatchUpstreamFailures(t *testing.T) {
	ctx := context.Background()
	params := json.RawMessage(`{"date":"2026-03-02"}`)

	t.Run("server error passes through", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer upstream.Close()

		h := newHarness(t, upstream.URL)
		_, err := h.dispatcher.Dispatch(ctx, h.token, OpCheckAvailability, params)
		require.ErrorIs(t, err, schedule.ErrUpstream)
	})

	t.Run("upstream rejection maps to validation", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))
		defer upstream.Close()

		h := newHarness(t, upstream.URL)
		_, err := h.dispatcher.Dispatch(ctx, h.token, OpCheckAvailability, params)
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("credential rejection revokes custody", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer upstream.Close()

		h := newHarness(t, upstream.URL)
		_, err := h.dispatcher.Dispatch(ctx, h.token, OpCheckAvailability, params)
		require.ErrorIs(t, err, ErrReauthorizationRequired)

		// The out-of-band revocation is now recorded locally.
		_, err = h.vault.Get(ctx, h.identityID)
		require.ErrorIs(t, err, vault.ErrCredentialRevoked)
	})
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "http://127.0.0.1:0")

	t.Run("connected", func(t *testing.T) {
		st, err := h.dispatcher.Status(ctx, h.token)
		require.NoError(t, err)
		require.True(t, st.Connected)
		require.Equal(t, "doctor@clinic.example", st.Email)
		require.Equal(t, string(identity.StateValid), st.CredentialState)
	})

	t.Run("after disconnect", func(t *testing.T) {
		require.NoError(t, h.dispatcher.Disconnect(ctx, h.token))

		st, err := h.dispatcher.Status(ctx, h.token)
		require.NoError(t, err)
		require.False(t, st.Connected)
		require.Empty(t, st.Email)
		require.Equal(t, string(identity.StateRevoked), st.CredentialState)
	})

	t.Run("bad token", func(t *testing.T) {
		_, err := h.dispatcher.Status(ctx, "nope")
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestDisconnectBlocksProxying(t *testing.T) {
	ctx := context.Background()
	upstream := availabilityUpstream(t)
	defer upstream.Close()

	h := newHarness(t, upstream.URL)
	require.NoError(t, h.dispatcher.Disconnect(ctx, h.token))

	_, err := h.dispatcher.Dispatch(ctx, h.token, OpCheckAvailability,
		json.RawMessage(`{"date":"2026-03-02"}`))
	require.ErrorIs(t, err, ErrReauthorizationRequired)
}
