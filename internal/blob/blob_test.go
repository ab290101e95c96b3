package blob

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_RoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("hashes.gob", []byte("payload")))

	data, err := store.Read("hashes.gob")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.True(t, store.Exists("hashes.gob"))
}

func TestFSStore_ReadMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read("absent.bin")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, store.Exists("absent.bin"))
}

func TestFSStore_OverwriteReplacesContents(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("snap", []byte("old")))
	require.NoError(t, store.Write("snap", []byte("new")))

	data, err := store.Read("snap")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}
