package cipher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruxvault/cruxvault/cipher"
	"github.com/cruxvault/cruxvault/vaulterrors"
)

func mustEncryptor(t *testing.T) *cipher.Encryptor {
	t.Helper()
	key, err := cipher.GenerateKey()
	require.NoError(t, err)
	enc, err := cipher.New(key)
	require.NoError(t, err)
	return enc
}

func TestNewRejectsInvalidKeyLength(t *testing.T) {
	_, err := cipher.New([]byte("too-short"))
	require.Error(t, err)
	assert.True(t, vaulterrors.Is(err, vaulterrors.Cipher))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc := mustEncryptor(t)

	ciphertext, err := enc.Encrypt("p@ss")
	require.NoError(t, err)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "p@ss", plaintext)
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	enc := mustEncryptor(t)

	a, err := enc.Encrypt("same-value")
	require.NoError(t, err)
	b, err := enc.Encrypt("same-value")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "two encryptions of the same plaintext must differ")
}

func TestDecryptFailsUnderDifferentKey(t *testing.T) {
	enc1 := mustEncryptor(t)
	enc2 := mustEncryptor(t)

	ciphertext, err := enc1.Encrypt("secret-value")
	require.NoError(t, err)

	_, err = enc2.Decrypt(ciphertext)
	require.Error(t, err)
	assert.True(t, vaulterrors.Is(err, vaulterrors.Cipher))
}

func TestDecryptRejectsMalformedBase64(t *testing.T) {
	enc := mustEncryptor(t)
	_, err := enc.Decrypt("not-valid-base64!!!")
	require.Error(t, err)
	assert.True(t, vaulterrors.Is(err, vaulterrors.Cipher))
}

func TestDecryptRejectsTruncatedInput(t *testing.T) {
	enc := mustEncryptor(t)
	_, err := enc.Decrypt("YQ==") // decodes to a single byte, shorter than the nonce
	require.Error(t, err)
	assert.True(t, vaulterrors.Is(err, vaulterrors.Cipher))
}

func TestKeyStringRoundTrip(t *testing.T) {
	key, err := cipher.GenerateKey()
	require.NoError(t, err)

	encoded := cipher.KeyToString(key)
	decoded, err := cipher.StringToKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
}

func TestStringToKeyRejectsWrongLength(t *testing.T) {
	_, err := cipher.StringToKey("c2hvcnQ=") // base64 for "short", not 32 bytes
	require.Error(t, err)
	assert.True(t, vaulterrors.Is(err, vaulterrors.Cipher))
}
