package security

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptor(t *testing.T) Encryptor {
	t.Helper()
	enc, err := NewCBCEncryptor(MessageKey("test-secret"))
	require.NoError(t, err)
	return enc
}

func TestMessageKeyLength(t *testing.T) {
	key := MessageKey("anything")
	assert.Len(t, key, 16)
	assert.Equal(t, MessageKey("anything"), key)
	assert.NotEqual(t, MessageKey("other"), key)
}

func TestRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	for _, msg := range []string{"", "a", "Hello, patient", "exactly16bytes!!", "a longer message spanning several AES blocks ~!@#$%^&*()"} {
		encoded, err := EncryptString(enc, msg)
		require.NoError(t, err)

		decoded, err := DecryptString(enc, encoded)
		require.NoError(t, err)
		assert.Equal(t, msg, decoded)
	}
}

func TestCiphertextFraming(t *testing.T) {
	enc := newTestEncryptor(t)

	encoded, err := EncryptString(enc, "Hello, patient")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	// ceil((14+1)/16)*16 + 16
	assert.Len(t, raw, 32)

	encoded16, err := EncryptString(enc, "exactly16bytes!!")
	require.NoError(t, err)
	raw16, err := base64.StdEncoding.DecodeString(encoded16)
	require.NoError(t, err)
	assert.Len(t, raw16, 48)
}

func TestRandomIV(t *testing.T) {
	enc := newTestEncryptor(t)

	a, err := EncryptString(enc, "same")
	require.NoError(t, err)
	b, err := EncryptString(enc, "same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc := newTestEncryptor(t)

	_, err := DecryptString(enc, "not base64!")
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = DecryptString(enc, base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	enc := newTestEncryptor(t)
	other, err := NewCBCEncryptor(MessageKey("another-secret"))
	require.NoError(t, err)

	encoded, err := EncryptString(enc, "Hello, patient")
	require.NoError(t, err)

	decoded, err := DecryptString(other, encoded)
	if err == nil {
		assert.NotEqual(t, "Hello, patient", decoded)
	}
}

func TestIdentityHasherDeterministic(t *testing.T) {
	h := NewIdentityHasher("salt-value")

	assert.Equal(t, h.Hash("Jane"), h.Hash(" jane "))
	assert.NotEqual(t, h.Hash("Jane"), h.Hash("John"))
	assert.Empty(t, h.Hash("  "))
	assert.NotEqual(t, h.Hash("Jane"), NewIdentityHasher("other").Hash("Jane"))
}
