// Package cipher provides authenticated symmetric encryption for
// secret values at rest. It uses AES-256-GCM with a random 96-bit
// nonce per call and no associated data.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/cruxvault/cruxvault/vaulterrors"
)

// KeySize is the required master key length in bytes.
const KeySize = 32

// Encryptor encrypts and decrypts value strings under a single
// 32-byte master key. An Encryptor is safe for concurrent use.
type Encryptor struct {
	gcm gocipher.AEAD
}

// New builds an Encryptor from a 32-byte key. Returns a Cipher error
// if the key is not exactly KeySize bytes or cannot seed an AES block.
func New(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, vaulterrors.Newf(vaulterrors.Cipher, "invalid key length: got %d bytes, want %d", len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, vaulterrors.Wrap(err, vaulterrors.Cipher, "failed to construct AES cipher")
	}

	gcm, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, vaulterrors.Wrap(err, vaulterrors.Cipher, "failed to construct GCM mode")
	}

	return &Encryptor{gcm: gcm}, nil
}

// GenerateKey returns a fresh 32-byte key drawn from a cryptographic RNG.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, vaulterrors.Wrap(err, vaulterrors.Cipher, "failed to generate master key")
	}
	return key, nil
}

// KeyToString encodes a key as base64 for handoff to the key collaborator.
func KeyToString(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// StringToKey decodes a base64-encoded key. Returns a Cipher error if
// the string is not valid base64 or does not decode to KeySize bytes.
func StringToKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, vaulterrors.Wrap(err, vaulterrors.Cipher, "failed to decode master key")
	}
	if len(key) != KeySize {
		return nil, vaulterrors.Newf(vaulterrors.Cipher, "invalid decoded key length: got %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}

// Encrypt seals plaintext under the master key with a fresh random
// nonce and returns base64(nonce ‖ ciphertext ‖ tag). Two calls with
// the same plaintext never produce the same output.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", vaulterrors.Wrap(err, vaulterrors.Cipher, "failed to generate nonce")
	}

	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt is the inverse of Encrypt. Returns a Cipher error for
// malformed base64, a truncated payload, or an authentication tag
// mismatch.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", vaulterrors.Wrap(err, vaulterrors.Cipher, "failed to decode ciphertext")
	}

	nonceSize := e.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", vaulterrors.New(vaulterrors.Cipher, "ciphertext shorter than nonce")
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", vaulterrors.Wrap(err, vaulterrors.Cipher, "failed to decrypt value")
	}

	return string(plaintext), nil
}
