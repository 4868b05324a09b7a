package offsets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "offsets.dat")
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	store := NewFileStore(storePath(t))
	require.NoError(t, store.Start())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStageFlushLoadRoundTrip(t *testing.T) {
	path := storePath(t)
	store := NewFileStore(path)
	require.NoError(t, store.Start())

	store.Stage([]byte(`{"server":"a"}`), []byte(`{"file":"bin.1","pos":100}`))
	store.Stage([]byte(`{"server":"b"}`), []byte(`{"file":"bin.9","pos":5}`))
	require.NoError(t, store.Flush(context.Background()))
	assert.Zero(t, store.StagedCount())

	// A fresh process sees exactly the committed set.
	fresh := NewFileStore(path)
	require.NoError(t, fresh.Start())
	loaded, err := fresh.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, []byte(`{"file":"bin.1","pos":100}`), loaded[`{"server":"a"}`])
	assert.Equal(t, []byte(`{"file":"bin.9","pos":5}`), loaded[`{"server":"b"}`])
}

func TestLastWriteWinsPerPartition(t *testing.T) {
	store := NewFileStore(storePath(t))
	require.NoError(t, store.Start())

	store.Stage([]byte("p"), []byte("1"))
	store.Stage([]byte("p"), []byte("2"))
	require.NoError(t, store.Flush(context.Background()))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), loaded["p"])
}

func TestFlushFailureKeepsStagedSet(t *testing.T) {
	// A path inside a missing directory makes the tempfile creation fail.
	store := NewFileStore(filepath.Join(t.TempDir(), "missing", "offsets.dat"))
	require.NoError(t, store.Start())

	store.Stage([]byte("p"), []byte("1"))
	err := store.Flush(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 1, store.StagedCount())
}

func TestFlushExpiredDeadline(t *testing.T) {
	store := NewFileStore(storePath(t))
	require.NoError(t, store.Start())
	store.Stage([]byte("p"), []byte("1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.Flush(ctx)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 1, store.StagedCount())

	// The retry with a live context succeeds with the kept staged set.
	require.NoError(t, store.Flush(context.Background()))
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), loaded["p"])
}

func TestFlushIsAtomicReplace(t *testing.T) {
	path := storePath(t)
	store := NewFileStore(path)
	require.NoError(t, store.Start())

	store.Stage([]byte("p"), []byte("1"))
	require.NoError(t, store.Flush(context.Background()))
	store.Stage([]byte("q"), []byte("2"))
	require.NoError(t, store.Flush(context.Background()))

	// No leftover temp files once the rename landed.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())

	loaded, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestEmptyFlushIsNoop(t *testing.T) {
	path := storePath(t)
	store := NewFileStore(path)
	require.NoError(t, store.Start())
	require.NoError(t, store.Flush(context.Background()))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
