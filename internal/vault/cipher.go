package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Cipher seals and opens credential blobs. Encryption at rest is a
// pluggable capability: deployments can substitute an envelope scheme
// backed by an external KMS without touching the vault contract.
type Cipher interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(blob, aad []byte) ([]byte, error)
}

// KeySize is the required master key length in bytes.
const KeySize = 32

// blobVersion is prepended to every sealed blob and authenticated as
// part of the AAD, so tampering with it fails decryption.
const blobVersion byte = 0x01

// blobOverhead: 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (tag).
const blobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfo domain-separates the vault's derived key from any other use
// of the same master key material.
var hkdfInfo = []byte("calendar-proxy.vault.credential.v1")

// AEADCipher is the default Cipher: XChaCha20-Poly1305 under a key
// derived from the configured master key via HKDF-SHA256.
type AEADCipher struct {
	key []byte
}

func NewAEADCipher(masterKey []byte) (*AEADCipher, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("vault: master key must be %d bytes, got %d", KeySize, len(masterKey))
	}

	reader := hkdf.New(sha256.New, masterKey, nil, hkdfInfo)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("vault: key derivation failed: %w", err)
	}

	return &AEADCipher{key: derived}, nil
}

// Seal produces [version: 1 byte][nonce: 24 bytes][ciphertext+tag]. The
// version byte and caller-supplied aad are authenticated, binding the
// blob to the identity row it belongs to.
func (c *AEADCipher) Seal(plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("vault: generating nonce: %w", err)
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, blobOverhead+len(plaintext))
	out[0] = blobVersion
	copy(out[1:], nonce[:])

	return aead.Seal(out, nonce[:], plaintext, buildAAD(blobVersion, aad)), nil
}

func (c *AEADCipher) Open(blob, aad []byte) ([]byte, error) {
	if len(blob) < blobOverhead {
		return nil, fmt.Errorf("vault: sealed blob is %d bytes, minimum is %d", len(blob), blobOverhead)
	}

	version := blob[0]
	if version != blobVersion {
		return nil, fmt.Errorf("vault: unsupported blob version %d", version)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, buildAAD(version, aad))
	if err != nil {
		return nil, fmt.Errorf("vault: decryption failed: %w", err)
	}
	return plaintext, nil
}

func buildAAD(version byte, aad []byte) []byte {
	out := make([]byte, 1+len(aad))
	out[0] = version
	copy(out[1:], aad)
	return out
}
