package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/buildops/backend/internal/domain/ledgersync"
)

// TokenCipher seals OAuth tokens with XChaCha20-Poly1305 before they are stored.
// The output is base64(nonce || ciphertext).
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher creates a cipher from a 32-byte key
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledgersync.ErrTokenCipherFailed, err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext; an empty plaintext stays empty
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ledgersync.ErrTokenCipherFailed, err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ledgersync.ErrTokenCipherFailed, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ledgersync.ErrTokenCipherFailed)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ledgersync.ErrTokenCipherFailed, err)
	}
	return string(plain), nil
}

var _ ledgersync.TokenCipher = (*TokenCipher)(nil)
