package vault

import (
	"encoding/json"
	"time"
)

// Credential is the custody-held external credential: the provider's
// access/renewal secret pair plus expiry bookkeeping. Both secrets are
// redacted from every generic serialization path; only the vault's
// sealing codec writes them out, and only into AEAD ciphertext.
type Credential struct {
	AccessSecret  string
	RenewalSecret string
	Expiry        time.Time
	Scopes        []string
	AccountEmail  string
}

// Fresh reports whether the access secret is still usable at now, with a
// safety margin subtracted so a secret is renewed before it actually
// lapses mid-request.
func (c *Credential) Fresh(now time.Time, margin time.Duration) bool {
	return now.Before(c.Expiry.Add(-margin))
}

func (c Credential) String() string {
	return "vault.Credential{access:REDACTED renewal:REDACTED expiry:" +
		c.Expiry.UTC().Format(time.RFC3339) + "}"
}

// GoString keeps %#v from dumping the raw struct fields.
func (c Credential) GoString() string {
	return c.String()
}

// MarshalJSON redacts both secrets. Handlers can therefore never leak
// them by serializing a struct that happens to embed a Credential.
func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AccessSecret  string    `json:"access_secret"`
		RenewalSecret string    `json:"renewal_secret"`
		Expiry        time.Time `json:"expiry"`
		Scopes        []string  `json:"scopes,omitempty"`
		AccountEmail  string    `json:"account_email,omitempty"`
	}{
		AccessSecret:  "REDACTED",
		RenewalSecret: "REDACTED",
		Expiry:        c.Expiry,
		Scopes:        c.Scopes,
		AccountEmail:  c.AccountEmail,
	})
}

// credentialWire is the sealed on-disk form. It exists so the redacting
// MarshalJSON above never applies to the ciphertext path.
type credentialWire struct {
	AccessSecret  string    `json:"access_secret"`
	RenewalSecret string    `json:"renewal_secret"`
	Expiry        time.Time `json:"expiry"`
	Scopes        []string  `json:"scopes,omitempty"`
	AccountEmail  string    `json:"account_email,omitempty"`
}

func encodeCredential(c *Credential) ([]byte, error) {
	return json.Marshal(credentialWire{
		AccessSecret:  c.AccessSecret,
		RenewalSecret: c.RenewalSecret,
		Expiry:        c.Expiry,
		Scopes:        c.Scopes,
		AccountEmail:  c.AccountEmail,
	})
}

func decodeCredential(data []byte) (*Credential, error) {
	var w credentialWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &Credential{
		AccessSecret:  w.AccessSecret,
		RenewalSecret: w.RenewalSecret,
		Expiry:        w.Expiry,
		Scopes:        w.Scopes,
		AccountEmail:  w.AccountEmail,
	}, nil
}
