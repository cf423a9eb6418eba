// Package vault encrypts tenant secrets (platform access tokens, webhook
// shared secrets) at rest using a versioned AEAD envelope.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// envelopePrefix marks a value as a vault-encrypted envelope. Anything not
// carrying this prefix is treated as legacy plaintext and returned by
// Decrypt unchanged; nothing in this package re-encrypts it.
const envelopePrefix = "v1:"

// Vault encrypts and decrypts secret strings with a single process-wide key.
type Vault struct {
	aead Cipher
}

// Cipher is the minimal AEAD surface the vault depends on, satisfied by
// the cipher.AEAD that chacha20poly1305.New returns.
type Cipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// New builds a Vault from raw key material. The key may be supplied as hex
// or base64; either form must decode to exactly 32 bytes.
func New(keyMaterial string) (*Vault, error) {
	key, err := decodeKey(keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("vault: building cipher: %w", err)
	}
	return &Vault{aead: aead}, nil
}

func decodeKey(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty encryption key")
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	return nil, fmt.Errorf("encryption key must decode (hex or base64) to %d bytes", chacha20poly1305.KeySize)
}

// Encrypt returns a "v1:"-prefixed, base64-encoded envelope of nonce|ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	payload := append(nonce, sealed...)
	return envelopePrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt. Values without the envelope prefix are returned
// unchanged, to tolerate secrets written before the vault existed.
func (v *Vault) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if !strings.HasPrefix(stored, envelopePrefix) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, envelopePrefix))
	if err != nil {
		return "", fmt.Errorf("vault: decoding envelope: %w", err)
	}
	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("vault: envelope too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypting envelope: %w", err)
	}
	return string(plaintext), nil
}

// IsEnvelope reports whether a stored value is vault-encrypted, as opposed
// to legacy plaintext.
func IsEnvelope(stored string) bool {
	return strings.HasPrefix(stored, envelopePrefix)
}
