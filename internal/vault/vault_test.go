package vault

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
)

func testKey() string {
	key := make([]byte, chacha20poly1305.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	envelope, err := v.Encrypt("glpat-super-secret-token")
	require.NoError(t, err)
	assert.True(t, IsEnvelope(envelope))
	assert.NotContains(t, envelope, "glpat-super-secret-token")

	plain, err := v.Decrypt(envelope)
	require.NoError(t, err)
	assert.Equal(t, "glpat-super-secret-token", plain)
}

func TestDecrypt_LegacyPlaintextPassthrough(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	plain, err := v.Decrypt("glpat-legacy-unencrypted")
	require.NoError(t, err)
	assert.Equal(t, "glpat-legacy-unencrypted", plain)
}

func TestEncrypt_EmptyString(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	envelope, err := v.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", envelope)
}

func TestNew_RejectsBadKey(t *testing.T) {
	_, err := New("too-short")
	assert.Error(t, err)

	_, err = New("")
	assert.Error(t, err)
}

func TestDecrypt_TamperedEnvelopeFails(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	envelope, err := v.Encrypt("secret-value")
	require.NoError(t, err)

	tampered := envelope[:len(envelope)-2] + "zz"
	_, err = v.Decrypt(tampered)
	assert.Error(t, err)
}

func TestTwoVaultsDifferentKeysCannotDecryptEachOther(t *testing.T) {
	v1, err := New(testKey())
	require.NoError(t, err)

	key2 := make([]byte, chacha20poly1305.KeySize)
	for i := range key2 {
		key2[i] = byte(255 - i)
	}
	v2, err := New(base64.StdEncoding.EncodeToString(key2))
	require.NoError(t, err)

	envelope, err := v1.Encrypt("secret-value")
	require.NoError(t, err)

	_, err = v2.Decrypt(envelope)
	assert.Error(t, err)
}
