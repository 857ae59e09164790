// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package kv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var _ Store = (*LevelDB)(nil)
var _ Store = (*Memory)(nil)
var _ Source = (*Batch)(nil)
var _ TxIndexReporter = (*Batch)(nil)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	levelDb, err := OpenLevelDB(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = levelDb.Close() })
	return map[string]Store{
		"leveldb": levelDb,
		"memory":  NewMemory(),
	}
}

func TestLevelDB_CanKeepDataPersistent(t *testing.T) {
	key1 := []byte("key1")
	value1 := []byte("value1")
	key2 := []byte("key2")
	value2 := []byte("value2")

	dir := t.TempDir()

	store, err := OpenLevelDB(dir, 1<<20)
	require.NoError(t, err)

	require.NoError(t, store.Put(key1, value1))
	require.NoError(t, store.WriteBatch(NewBatch().Put(key2, value2).Entries()))
	require.NoError(t, store.Close())

	store2, err := OpenLevelDB(dir, 1<<20)
	require.NoError(t, err)

	val, err := store2.Get(key1)
	require.NoError(t, err)
	require.Equal(t, value1, val)

	val, err = store2.Get(key2)
	require.NoError(t, err)
	require.Equal(t, value2, val)

	require.NoError(t, store2.Close())
}

func TestStore_ReturnsNotFoundForMissingKey(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get([]byte("nonexistent"))
			require.ErrorIs(t, err, ErrNotFound)

			value, found, err := GetOptional(store, []byte("nonexistent"))
			require.NoError(t, err)
			require.False(t, found)
			require.Nil(t, value)
		})
	}
}

func TestStore_WriteBatchAppliesPutsAndDeletesInOrder(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			require.NoError(store.Put([]byte("key0"), []byte("value0")))
			require.NoError(store.Put([]byte("key3"), []byte("value3")))

			batch := NewBatch().
				Put([]byte("key0"), []byte("new0")).
				Delete([]byte("key1")).
				Put([]byte("key2"), []byte("value2")).
				Put([]byte("key3"), []byte("overwritten")).
				Delete([]byte("key3")).
				Put([]byte("key4"), []byte{})
			require.NoError(store.WriteBatch(batch.Entries()))

			content, err := ReadAll(store)
			require.NoError(err)
			require.Equal(map[string][]byte{
				"key0": []byte("new0"),
				"key2": []byte("value2"),
				"key4": {},
			}, content)

			value, found, err := GetOptional(store, []byte("key4"))
			require.NoError(err)
			require.True(found)
			require.Empty(value)
		})
	}
}

func TestStore_FailingSequenceWritesNothing(t *testing.T) {
	injected := errors.New("injected")
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			failing := func(yield func(Entry, error) bool) {
				if !yield(Put([]byte("a"), []byte("b")), nil) {
					return
				}
				yield(Entry{}, injected)
			}
			require.ErrorIs(t, store.WriteBatch(failing), injected)
			_, err := store.Get([]byte("a"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ForEachVisitsKeysInOrder(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"c", "a", "b"} {
				require.NoError(t, store.Put([]byte(key), []byte(key)))
			}
			var keys []string
			require.NoError(t, store.ForEach(func(key, value []byte) error {
				keys = append(keys, string(key))
				return nil
			}))
			require.Equal(t, []string{"a", "b", "c"}, keys)
		})
	}
}

func TestMemory_ClosedStoreRejectsAccess(t *testing.T) {
	store := NewMemory()
	require.NoError(t, store.Close())
	_, err := store.Get([]byte("a"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, store.Put([]byte("a"), nil), ErrClosed)
}

func TestBatch_KeysAreDistinctInFirstOccurrenceOrder(t *testing.T) {
	batch := NewBatch().
		Put([]byte("b"), []byte("1")).
		Delete([]byte("a")).
		Put([]byte("b"), []byte("2"))
	require.Equal(t, [][]byte{[]byte("b"), []byte("a")}, batch.Keys())
	require.Equal(t, 3, batch.Len())
}

func TestBatch_LastTxIndexIsReportedAfterIteration(t *testing.T) {
	batch := NewBatch().
		PutTx(3, []byte("a"), []byte("1")).
		Put([]byte("b"), []byte("2")).
		PutTx(7, []byte("c"), []byte("3")).
		PutTx(5, []byte("d"), []byte("4"))

	_, found := batch.LastTxIndex()
	require.False(t, found)

	entries, err := Collect(batch.Entries())
	require.NoError(t, err)
	require.Len(t, entries, 4)

	index, found := batch.LastTxIndex()
	require.True(t, found)
	require.Equal(t, uint32(7), index)
}

func TestBatch_PartialIterationDoesNotReportTxIndex(t *testing.T) {
	batch := NewBatch().PutTx(3, []byte("a"), []byte("1")).PutTx(4, []byte("b"), []byte("1"))
	for range batch.Entries() {
		break
	}
	_, found := batch.LastTxIndex()
	require.False(t, found)
}

func TestEntry_PutNormalizesNilValues(t *testing.T) {
	entry := Put([]byte("k"), nil)
	require.NotNil(t, entry.Value)
	require.False(t, entry.Deleted)
	require.False(t, entry.Equal(Delete([]byte("k"))))
	require.True(t, Delete([]byte("k")).Equal(Delete([]byte("k"))))
}
