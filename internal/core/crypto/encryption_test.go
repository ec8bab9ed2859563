package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := DeriveKey("correct horse battery staple")
	require.NoError(t, err)
	return key
}

// =============================================================================
// DeriveKey Tests
// =============================================================================

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey("passphrase")
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	k2, err := DeriveKey("passphrase")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveKey("passphrase2")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKey("")
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

// =============================================================================
// Encrypt/Decrypt Tests
// =============================================================================

func TestEncryptDecrypt(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("ghp_0123456789abcdef")

	sealed, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, plaintext))

	opened, err := Decrypt(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEncrypt_FreshNonce(t *testing.T) {
	key := testKey(t)
	a, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_Failures(t *testing.T) {
	key := testKey(t)
	sealed, err := Encrypt([]byte("secret"), key)
	require.NoError(t, err)

	other, err := DeriveKey("other")
	require.NoError(t, err)
	_, err = Decrypt(sealed, other)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	sealed[len(sealed)-1] ^= 0xff
	_, err = Decrypt(sealed, key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = Decrypt([]byte("short"), key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = Encrypt([]byte("x"), []byte("too short"))
	assert.ErrorIs(t, err, ErrKeyLength)
}

// =============================================================================
// Token Tests
// =============================================================================

func TestSealOpenToken(t *testing.T) {
	key := testKey(t)

	sealed, err := SealToken("ghp_token", key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))
	assert.NotContains(t, sealed, "ghp_token")

	token, err := OpenToken(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "ghp_token", token)
}

func TestSealToken_Empty(t *testing.T) {
	key := testKey(t)
	sealed, err := SealToken("", key)
	require.NoError(t, err)
	assert.Empty(t, sealed)

	token, err := OpenToken("", key)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestOpenToken_Malformed(t *testing.T) {
	key := testKey(t)
	_, err := OpenToken("plaintext-token", key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
	_, err = OpenToken("v1:!!!", key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
