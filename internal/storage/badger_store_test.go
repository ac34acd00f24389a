package storage

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerStore(t *testing.T) {
	db := setupTestDB(t)
	store := NewBadgerStore(db, "docstate")
	other := NewBadgerStore(db, "other")

	t.Run("Put and Get", func(t *testing.T) {
		require.NoError(t, store.Put("current", []byte("v1")))
		got, err := store.Get("current")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		_, err = other.Get("current")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutAll", func(t *testing.T) {
		require.NoError(t, store.PutAll(map[string][]byte{
			"history:2": []byte("b"),
			"history:1": []byte("a"),
			"current":   []byte("v2"),
		}))

		keys, err := store.Keys("history:")
		require.NoError(t, err)
		assert.Equal(t, []string{"history:1", "history:2"}, keys)

		got, err := store.Get("current")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)

		assert.Error(t, store.PutAll(map[string][]byte{"": nil}))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete("history:1"))
		assert.ErrorIs(t, store.Delete("history:1"), ErrNotFound)
	})
}
