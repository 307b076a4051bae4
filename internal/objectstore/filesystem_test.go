package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStore_PutImmutable_WritesOnFirstCall(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	body := []byte(`{"a":1}`)
	checksum := checksumOf(body)

	err = store.PutImmutable(context.Background(), "artifacts/v1/foo.json", body, checksum)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), "artifacts/v1/foo.json")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFilesystemStore_PutImmutable_SameChecksumIsNoOp(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	body := []byte(`{"a":1}`)
	checksum := checksumOf(body)

	require.NoError(t, store.PutImmutable(context.Background(), "k", body, checksum))
	err = store.PutImmutable(context.Background(), "k", body, checksum)
	assert.NoError(t, err)
}

func TestFilesystemStore_PutImmutable_DifferentChecksumFails(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	first := []byte(`{"a":1}`)
	require.NoError(t, store.PutImmutable(context.Background(), "k", first, checksumOf(first)))

	second := []byte(`{"a":2}`)
	err = store.PutImmutable(context.Background(), "k", second, checksumOf(second))
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	got, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, first, got, "mismatched write must not overwrite the existing object")
}

func TestFilesystemStore_PutPointer_LastWriterWins(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.PutPointer(context.Background(), "pointer.json", []byte(`{"v":1}`)))
	require.NoError(t, store.PutPointer(context.Background(), "pointer.json", []byte(`{"v":2}`)))

	got, err := store.Get(context.Background(), "pointer.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func TestFilesystemStore_URI_IsFileScheme(t *testing.T) {
	root := t.TempDir()
	store, err := NewFilesystemStore(root)
	require.NoError(t, err)

	uri := store.URI("a/b.json")
	assert.Equal(t, "file://"+filepath.Join(root, "a/b.json"), uri)
}

func TestFilesystemStore_Get_MissingKeyErrors(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "does/not/exist.json")
	assert.Error(t, err)
	assert.True(t, os.IsNotExist(unwrapPathError(err)))
}

// unwrapPathError peels back every Unwrap layer (the fmt.Errorf %w wrap Get
// adds, then the *os.PathError) down to the underlying errno, which
// os.IsNotExist recognizes.
func unwrapPathError(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		err = u.Unwrap()
	}
}
