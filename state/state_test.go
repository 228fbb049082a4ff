package state

import (
	"testing"

	"github.com/airchains-network/simnode/db"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) (*Journal, db.DB) {
	t.Helper()
	store, err := db.NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewJournal(store), store
}

func TestJournal_WritesGoStraightToStoreWithoutCheckpoint(t *testing.T) {
	j, store := newTestJournal(t)

	require.NoError(t, j.Put([]byte("a"), []byte("1")))
	value, err := store.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)
	require.Equal(t, 0, j.Depth())
}

func TestJournal_RevertDiscardsCheckpoint(t *testing.T) {
	require := require.New(t)
	j, store := newTestJournal(t)
	require.NoError(j.Put([]byte("a"), []byte("1")))

	require.Equal(1, j.Checkpoint())
	require.NoError(j.Put([]byte("a"), []byte("2")))
	require.NoError(j.Put([]byte("b"), []byte("3")))
	require.NoError(j.Delete([]byte("a")))

	value, err := j.Get([]byte("a"))
	require.NoError(err)
	require.Nil(value)

	require.NoError(j.Revert())
	value, err = j.Get([]byte("a"))
	require.NoError(err)
	require.Equal([]byte("1"), value)
	value, err = j.Get([]byte("b"))
	require.NoError(err)
	require.Nil(value)

	stored, err := store.Get([]byte("b"))
	require.NoError(err)
	require.Nil(stored)
}

func TestJournal_CommitFoldsIntoParentThenStore(t *testing.T) {
	require := require.New(t)
	j, store := newTestJournal(t)

	j.Checkpoint()
	require.NoError(j.Put([]byte("a"), []byte("1")))
	j.Checkpoint()
	require.NoError(j.Put([]byte("b"), []byte("2")))
	require.NoError(j.Commit())
	require.Equal(1, j.Depth())

	stored, err := store.Get([]byte("b"))
	require.NoError(err)
	require.Nil(stored, "inner commit must not reach the store")

	require.NoError(j.Commit())
	for k, v := range map[string]string{"a": "1", "b": "2"} {
		stored, err := store.Get([]byte(k))
		require.NoError(err)
		require.Equal([]byte(v), stored)
	}
}

func TestJournal_CommitAndRevertWithoutCheckpoint(t *testing.T) {
	j, _ := newTestJournal(t)
	require.ErrorIs(t, j.Commit(), ErrNoCheckpoint)
	require.ErrorIs(t, j.Revert(), ErrNoCheckpoint)
}

func TestJournal_CopyIsIndependent(t *testing.T) {
	require := require.New(t)
	j, store := newTestJournal(t)
	require.NoError(j.Put([]byte("a"), []byte("1")))
	j.Checkpoint()
	require.NoError(j.Put([]byte("b"), []byte("2")))

	c := j.Copy()
	value, err := c.Get([]byte("b"))
	require.NoError(err)
	require.Equal([]byte("2"), value, "copy sees open checkpoints")

	require.NoError(c.Put([]byte("a"), []byte("changed")))
	require.NoError(c.Put([]byte("c"), []byte("3")))
	c.Checkpoint()
	require.NoError(c.Put([]byte("d"), []byte("4")))
	require.NoError(c.Commit())

	value, err = j.Get([]byte("a"))
	require.NoError(err)
	require.Equal([]byte("1"), value)
	value, err = j.Get([]byte("c"))
	require.NoError(err)
	require.Nil(value)
	stored, err := store.Get([]byte("d"))
	require.NoError(err)
	require.Nil(stored)

	// Reverting the original leaves the copy untouched.
	require.NoError(j.Revert())
	value, err = c.Get([]byte("b"))
	require.NoError(err)
	require.Equal([]byte("2"), value)
}

func TestJournal_GetReturnsCopies(t *testing.T) {
	j, _ := newTestJournal(t)
	j.Checkpoint()
	require.NoError(t, j.Put([]byte("a"), []byte("1")))

	value, err := j.Get([]byte("a"))
	require.NoError(t, err)
	value[0] = 'x'

	again, err := j.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), again)
}
