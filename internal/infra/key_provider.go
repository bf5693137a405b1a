package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rheahq/rhea/internal/domain"
)

// The secret store's cipher key lives next to the database it unlocks,
// base64-encoded, readable by the owner only.
const (
	secretKeyFile = "secrets.key"
	secretKeyLen  = 32
)

// FileKeyProvider implements domain.KeyProvider over a file under the work
// root.
type FileKeyProvider struct {
	path string
}

// NewFileKeyProvider creates a provider rooted at the given work directory.
func NewFileKeyProvider(workRoot string) *FileKeyProvider {
	return &FileKeyProvider{path: filepath.Join(workRoot, secretKeyFile)}
}

// GetKey reads and decodes the stored key.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("key file %s is not valid base64: %w", p.path, err)
	}
	if len(key) != secretKeyLen {
		return nil, fmt.Errorf("key must be %d bytes, got %d", secretKeyLen, len(key))
	}
	return key, nil
}

// StoreKey writes the key with owner-only permissions, creating the work
// directory on first use.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != secretKeyLen {
		return fmt.Errorf("key must be %d bytes, got %d", secretKeyLen, len(key))
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(p.path, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// KeyExists reports whether a key has been stored.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// GenerateKey draws a fresh random key of the required length.
func GenerateKey() ([]byte, error) {
	key := make([]byte, secretKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the stored key, generating and storing one on first use.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Ensure FileKeyProvider implements domain.KeyProvider.
var _ domain.KeyProvider = (*FileKeyProvider)(nil)
