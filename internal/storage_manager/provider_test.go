package storage_manager

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileProviderRoundTrip(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())
	ctx := context.Background()

	exists, err := provider.Exists(ctx, "vectors.bin")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, provider.Write(ctx, "vectors.bin", []byte{0x01, 0x02}))

	exists, err = provider.Exists(ctx, "vectors.bin")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := provider.Read(ctx, "vectors.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, data)
}

func TestLocalFileProviderCreatesParentDirs(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())
	ctx := context.Background()

	path := filepath.Join("nested", "deep", "metadata.json")
	require.NoError(t, provider.Write(ctx, path, []byte("{}")))

	data, err := provider.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), data)
}

func TestLocalFileProviderDeleteMissingIsNoop(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())
	assert.NoError(t, provider.Delete(context.Background(), "never-written"))
}

func TestPrefixedFileProviderIsolatesNamespaces(t *testing.T) {
	base := NewLocalFileProvider(t.TempDir())
	memory := NewPrefixedFileProvider(base, "memory")
	other := NewPrefixedFileProvider(base, "other")
	ctx := context.Background()

	require.NoError(t, memory.Write(ctx, "metadata.json", []byte("mem")))

	exists, err := other.Exists(ctx, "metadata.json")
	require.NoError(t, err)
	assert.False(t, exists)

	data, err := base.Read(ctx, "memory/metadata.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("mem"), data)
}

func TestStorageManagerValidation(t *testing.T) {
	_, err := New(Config{Backend: BackendLocal})
	assert.Error(t, err)

	_, err = New(Config{Backend: BackendS3, S3Config: &S3Config{}})
	assert.Error(t, err)

	_, err = New(Config{Backend: "ftp"})
	assert.Error(t, err)

	mgr, err := New(Config{
		Backend:     BackendLocal,
		LocalConfig: &LocalConfig{BaseDir: t.TempDir()},
	})
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, mgr.Backend())
	assert.NotNil(t, mgr.GetProvider("memory"))
}
