// Package crypto seals repository access tokens for storage.
// All functions are pure apart from reading nonces from crypto/rand.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrKeyLength         = errors.New("encryption key must be 32 bytes")
	ErrEmptyPassphrase   = errors.New("passphrase is empty")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed: authentication tag mismatch")
)

// KeySize is the AES-256 key length.
const KeySize = 32

// tokenPrefix versions the sealed-token text format.
const tokenPrefix = "v1:"

var hkdfInfo = []byte("mercel access token sealing")

// =============================================================================
// Key Derivation
// =============================================================================

// DeriveKey stretches an operator passphrase into an AES-256 key with
// HKDF-SHA256. The derivation is deterministic so tokens sealed by one process
// can be opened by the next.
func DeriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, []byte(passphrase), nil, hkdfInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// =============================================================================
// AES-256-GCM
// =============================================================================

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext. The output is nonce || ciphertext || tag.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens output produced by Encrypt.
func Decrypt(sealed, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// =============================================================================
// Token Sealing
// =============================================================================

// SealToken encrypts token into a printable string for a text column. An
// empty token seals to "".
func SealToken(token string, key []byte) (string, error) {
	if token == "" {
		return "", nil
	}
	sealed, err := Encrypt([]byte(token), key)
	if err != nil {
		return "", err
	}
	return tokenPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// OpenToken reverses SealToken.
func OpenToken(sealed string, key []byte) (string, error) {
	if sealed == "" {
		return "", nil
	}
	encoded, ok := strings.CutPrefix(sealed, tokenPrefix)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := Decrypt(raw, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
