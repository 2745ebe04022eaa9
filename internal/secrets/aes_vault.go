package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/planweave/planweave/pkg/schema"
)

const keySize = 32

// AESVault encrypts credential payloads with AES-256-GCM before they
// reach the store. Each value carries its own random nonce prefix.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

// NewAESVault creates a vault over a raw 32-byte key. Use KeyFromHex or
// KeyFromPassphrase to produce one.
func NewAESVault(s SecretStore, key []byte) (*AESVault, error) {
	if len(key) != keySize {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "vault key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

// KeyFromHex decodes a 64-character hex string into a vault key.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeVault, "vault key is not valid hex").WithCause(err)
	}
	if len(key) != keySize {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "vault key must be %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// KeyFromPassphrase derives a vault key from a passphrase via PBKDF2.
// The salt must stay stable across restarts or stored values become
// unreadable.
func KeyFromPassphrase(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "passphrase is empty")
	}
	if len(salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with a passphrase")
	}
	return pbkdf2.Key([]byte(passphrase), salt, 100_000, keySize, sha256.New), nil
}

func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, value, nil)
	return v.store.StoreSecret(ctx, key, sealed)
}

func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	plaintext, err := v.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}

func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
