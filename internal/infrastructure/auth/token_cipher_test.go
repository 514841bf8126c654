package auth

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

func newTestCipher(t *testing.T) *TokenCipher {
	t.Helper()
	c, err := NewTokenCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return c
}

func TestTokenCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Encrypt("refresh-token-value")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "refresh-token-value")

	again, err := c.Encrypt("refresh-token-value")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "each seal uses a fresh nonce")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-value", plain)
}

func TestTokenCipher_Empty(t *testing.T) {
	c := newTestCipher(t)
	sealed, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	plain, err := c.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestTokenCipher_Tampered(t *testing.T) {
	c := newTestCipher(t)
	sealed, err := c.Encrypt("secret")
	require.NoError(t, err)

	raw := []byte(sealed)
	raw[len(raw)-3] ^= 0x01
	_, err = c.Decrypt(string(raw))
	assert.ErrorIs(t, err, ledgersync.ErrTokenCipherFailed)

	_, err = c.Decrypt("%%%")
	assert.ErrorIs(t, err, ledgersync.ErrTokenCipherFailed)

	_, err = c.Decrypt("AAAA")
	assert.ErrorIs(t, err, ledgersync.ErrTokenCipherFailed)

	other, err := NewTokenCipher(bytes.Repeat([]byte{8}, 32))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ledgersync.ErrTokenCipherFailed, "wrong key cannot open")
}

func TestNewTokenCipher_KeySize(t *testing.T) {
	_, err := NewTokenCipher([]byte("short"))
	assert.ErrorIs(t, err, ledgersync.ErrTokenCipherFailed)
}
