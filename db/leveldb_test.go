package db

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
)

func TestLevelDB_GetMissingKeyReturnsNil(t *testing.T) {
	store, err := NewMemoryDB()
	require.NoError(t, err)
	defer store.Close()

	value, err := store.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, value)
}

func TestLevelDB_PutGetDelete(t *testing.T) {
	require := require.New(t)
	store, err := NewMemoryDB()
	require.NoError(err)
	defer store.Close()

	require.NoError(store.Put([]byte("k"), []byte("v")))
	value, err := store.Get([]byte("k"))
	require.NoError(err)
	require.Equal([]byte("v"), value)

	has, err := store.Has([]byte("k"))
	require.NoError(err)
	require.True(has)

	require.NoError(store.Delete([]byte("k")))
	value, err = store.Get([]byte("k"))
	require.NoError(err)
	require.Nil(value)
}

func TestLevelDB_WriteBatch(t *testing.T) {
	require := require.New(t)
	store, err := NewMemoryDB()
	require.NoError(err)
	defer store.Close()

	require.NoError(store.Put([]byte("gone"), []byte("x")))
	batch := new(leveldb.Batch)
	batch.Put([]byte("a"), []byte("1"))
	batch.Delete([]byte("gone"))
	require.NoError(store.Write(batch))

	value, err := store.Get([]byte("a"))
	require.NoError(err)
	require.Equal([]byte("1"), value)
	value, err = store.Get([]byte("gone"))
	require.NoError(err)
	require.Nil(value)
}

func TestLevelDB_CanKeepDataPersistent(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(err)
	require.NoError(store.Put([]byte("height"), []byte{7}))
	require.NoError(store.Close())

	store, err = Open(dir)
	require.NoError(err)
	defer store.Close()
	value, err := store.Get([]byte("height"))
	require.NoError(err)
	require.Equal([]byte{7}, value)
}

func TestLevelDB_ClosedStoreFails(t *testing.T) {
	store, err := NewMemoryDB()
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Get([]byte("k"))
	require.ErrorIs(t, err, ErrClosed)
}
