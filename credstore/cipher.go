package credstore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/nacl/secretbox"
)

// EncryptedPrefix marks a stored token as ciphertext. Values without it are
// legacy plaintext.
const EncryptedPrefix = "enc:v1:"

const (
	keySize   = 32
	nonceSize = 24

	// KeyringService and KeyringUser locate the token key in the OS keychain.
	KeyringService = "agentdesk"
	KeyringUser    = "provider-token-key"
)

var (
	// ErrEncryptionUnavailable is returned when no key can be obtained.
	ErrEncryptionUnavailable = errors.New("token encryption unavailable")
	// ErrCorruptCiphertext is returned when a prefixed value fails to open.
	ErrCorruptCiphertext = errors.New("token ciphertext is corrupt or was sealed with another key")
)

// Cipher seals and opens provider tokens.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(value string) (string, error)
}

// IsEncrypted reports whether value carries EncryptedPrefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// SecretboxCipher seals tokens with NaCl secretbox under a fixed key.
type SecretboxCipher struct {
	key [keySize]byte
}

// NewSecretboxCipher returns a cipher for a 32-byte key.
func NewSecretboxCipher(key []byte) (*SecretboxCipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	c := &SecretboxCipher{}
	copy(c.key[:], key)
	return c, nil
}

// Encrypt returns EncryptedPrefix + base64(nonce || box).
func (c *SecretboxCipher) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the prefix are
// returned unchanged.
func (c *SecretboxCipher) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrCorruptCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	opened, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", ErrCorruptCiphertext
	}
	return string(opened), nil
}

// KeyringCipher keeps its key in the OS keychain, creating one on first use.
type KeyringCipher struct {
	service string
	user    string

	mu    sync.Mutex
	inner *SecretboxCipher
}

// NewKeyringCipher returns a cipher backed by the default keychain entry.
func NewKeyringCipher() *KeyringCipher {
	return &KeyringCipher{service: KeyringService, user: KeyringUser}
}

func (c *KeyringCipher) cipher() (*SecretboxCipher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inner != nil {
		return c.inner, nil
	}

	encoded, err := keyring.Get(c.service, c.user)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		key := make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
		}
		encoded = base64.StdEncoding.EncodeToString(key)
		if err := keyring.Set(c.service, c.user, encoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: keychain entry is not a valid key", ErrEncryptionUnavailable)
	}
	inner, err := NewSecretboxCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionUnavailable, err)
	}
	c.inner = inner
	return inner, nil
}

// Encrypt seals plaintext with the keychain key.
func (c *KeyringCipher) Encrypt(plaintext string) (string, error) {
	inner, err := c.cipher()
	if err != nil {
		return "", err
	}
	return inner.Encrypt(plaintext)
}

// Decrypt opens value with the keychain key. Plaintext passes through.
func (c *KeyringCipher) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	inner, err := c.cipher()
	if err != nil {
		return "", err
	}
	return inner.Decrypt(value)
}
