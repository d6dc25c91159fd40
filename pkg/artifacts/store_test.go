package artifacts

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	return map[string]Store{
		"fs":     fs,
		"memory": NewMemoryStore(),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte("\x00asm guest bytes")
			hash, err := s.Store(ctx, data)
			require.NoError(t, err)
			assert.Equal(t, HashOf(data), hash)

			again, err := s.Store(ctx, data)
			require.NoError(t, err)
			assert.Equal(t, hash, again)

			ok, err := s.Exists(ctx, hash)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.Get(ctx, hash)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			require.NoError(t, s.Delete(ctx, hash))
			ok, err = s.Exists(ctx, hash)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Get(ctx, hash)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.NoError(t, s.Delete(ctx, hash), "deleting a missing blob is a no-op")
		})
	}
}

func TestStore_InvalidHash(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, h := range []string{"", "deadbeef", "sha256:zz", "md5:" + HashOf(nil)[7:], "sha256:../../etc/passwd"} {
				_, err := s.Get(ctx, h)
				assert.ErrorIs(t, err, ErrInvalidHash, h)
				_, err = s.Exists(ctx, h)
				assert.ErrorIs(t, err, ErrInvalidHash, h)
			}
		})
	}
}

func TestFileStore_Sharded(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	hash, err := s.Store(context.Background(), []byte("x"))
	require.NoError(t, err)
	raw := hash[len(hashPrefix):]
	_, err = os.Stat(filepath.Join(dir, raw[:2], raw+".blob"))
	assert.NoError(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Type: StoreTypeFS, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, Config{Type: StoreTypeMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, Config{Type: StoreTypeFS})
	assert.ErrorContains(t, err, "dir is required")

	_, err = Open(ctx, Config{Type: StoreTypeS3})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = Open(ctx, Config{Type: StoreTypeGCS})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = Open(ctx, Config{Type: "ftp"})
	assert.ErrorContains(t, err, "unsupported")
}

func TestReadBlob(t *testing.T) {
	data := []byte("guest image bytes")
	hash := HashOf(data)

	got, err := readBlob(bytes.NewReader(data), hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = readBlob(bytes.NewReader([]byte("tampered")), hash)
	assert.ErrorIs(t, err, ErrCorrupt)
}
