package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerateKey verifies key generation produces distinct 256-bit keys
func TestGenerateKey(t *testing.T) {
	key1, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key1, secretKeyLen)

	key2, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2)
}

// TestStoreAndGetKey verifies the round trip through the key file
func TestStoreAndGetKey(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())

	key, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, provider.StoreKey(key))

	got, err := provider.GetKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

// TestStoreKey_RestrictsPermissions verifies the key file is private
func TestStoreKey_RestrictsPermissions(t *testing.T) {
	dir := t.TempDir()
	provider := NewFileKeyProvider(dir)

	key, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, provider.StoreKey(key))

	info, err := os.Stat(filepath.Join(dir, secretKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

// TestStoreKey_RejectsWrongSize verifies the key length invariant
func TestStoreKey_RejectsWrongSize(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())

	assert.Error(t, provider.StoreKey([]byte("short")))
}

// TestKeyExists verifies existence reporting
func TestKeyExists(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())
	assert.False(t, provider.KeyExists())

	key, err := GenerateKey()
	require.NoError(t, err)
	require.NoError(t, provider.StoreKey(key))
	assert.True(t, provider.KeyExists())
}

// TestEnsureKey verifies first-use generation and subsequent reuse
func TestEnsureKey(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())

	first, err := EnsureKey(provider)
	require.NoError(t, err)
	assert.Len(t, first, secretKeyLen)

	second, err := EnsureKey(provider)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
