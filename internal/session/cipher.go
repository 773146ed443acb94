package session

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"guardian/pkg/platform/sentinel"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	recordVersion byte = 1

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var keySalt = []byte("guardian/session-at-rest/v1")

// Cipher seals session records with XChaCha20-Poly1305. Sealed layout:
// version byte, 24-byte nonce, ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the record key from secret with scrypt. secret is an
// operator-provided key, never a login password.
func NewCipher(secret []byte) (*Cipher, error) {
	if len(secret) == 0 {
		return nil, errors.New("session key is empty")
	}
	key, err := scrypt.Key(secret, keySalt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return newCipher(key)
}

// RandomCipher uses a fresh key. Records sealed by it are unreadable after
// the process exits.
func RandomCipher() (*Cipher, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return newCipher(key)
}

func newCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext bound to aad.
func (c *Cipher) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, recordVersion)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, aad), nil
}

// Open decrypts a sealed record. Any failure is sentinel.ErrCorrupt.
func (c *Cipher) Open(sealed, aad []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < 1+ns+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: record too short", sentinel.ErrCorrupt)
	}
	if sealed[0] != recordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %d", sentinel.ErrCorrupt, sealed[0])
	}
	nonce := sealed[1 : 1+ns]
	plain, err := c.aead.Open(nil, nonce, sealed[1+ns:], aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrCorrupt, err)
	}
	return plain, nil
}
