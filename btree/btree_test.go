package btree

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahyudedik/qubedb/storage"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	pager, err := storage.OpenPager(filepath.Join(t.TempDir(), "pages.qdb"), storage.DefaultPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pager.Close() })
	pool := storage.NewPool(pager, nil)
	return New(pool, pager, 0)
}

func TestInsertGet(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Insert([]byte("b"), []byte("2"), 1))
	require.NoError(t, tree.Insert([]byte("a"), []byte("1"), 2))
	require.NoError(t, tree.Insert([]byte("c"), []byte("3"), 3))

	v, ok, err := tree.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	_, ok, err = tree.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertOverwrites(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Insert([]byte("k"), []byte("old"), 1))
	require.NoError(t, tree.Insert([]byte("k"), []byte("new"), 2))

	v, ok, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), v)
}

func TestDelete(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Insert([]byte("a"), []byte("1"), 1))
	require.NoError(t, tree.Insert([]byte("b"), []byte("2"), 2))

	found, err := tree.Delete([]byte("a"), 3)
	require.NoError(t, err)
	assert.True(t, found)

	_, ok, err := tree.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	found, err = tree.Delete([]byte("a"), 4)
	require.NoError(t, err)
	assert.False(t, found, "deleting a missing key reports not found")

	v, ok, err := tree.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestDeleteAllEmptiesTree(t *testing.T) {
	tree := newTestTree(t)

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, tree.Insert(key, []byte("v"), uint64(i+1)))
	}
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		found, err := tree.Delete(key, uint64(200+i))
		require.NoError(t, err)
		require.True(t, found, "key %s", key)
	}
	assert.Equal(t, storage.PageID(0), tree.Root())
}

func TestManyKeysSplitAndStaySorted(t *testing.T) {
	tree := newTestTree(t)

	const n = 2000
	perm := rand.New(rand.NewSource(42)).Perm(n)
	for lsn, i := range perm {
		key := []byte(fmt.Sprintf("key-%06d", i))
		val := []byte(fmt.Sprintf("value-%d-padding-padding-padding", i))
		require.NoError(t, tree.Insert(key, val, uint64(lsn+1)))
	}

	// Point lookups.
	for i := 0; i < n; i += 97 {
		key := []byte(fmt.Sprintf("key-%06d", i))
		v, ok, err := tree.Get(key)
		require.NoError(t, err)
		require.True(t, ok, "key %s", key)
		assert.Equal(t, []byte(fmt.Sprintf("value-%d-padding-padding-padding", i)), v)
	}

	// Full scan must be in ascending key order and complete.
	it := tree.NewIterator(nil, nil)
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Err())
	require.Len(t, keys, n)
	assert.True(t, sort.StringsAreSorted(keys))
}

func TestRangeIterator(t *testing.T) {
	tree := newTestTree(t)

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		require.NoError(t, tree.Insert(key, []byte("v"), uint64(i+1)))
	}

	it := tree.NewIterator([]byte("k10"), []byte("k20"))
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Err())
	require.Len(t, keys, 10)
	assert.Equal(t, "k10", keys[0])
	assert.Equal(t, "k19", keys[9])
}

func TestRangeIteratorEmptyRange(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert([]byte("a"), []byte("1"), 1))

	it := tree.NewIterator([]byte("x"), []byte("z"))
	assert.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestRejectsOversizedKey(t *testing.T) {
	tree := newTestTree(t)
	err := tree.Insert(make([]byte, MaxKeySize+1), []byte("v"), 1)
	assert.ErrorIs(t, err, ErrKeyTooLarge)
}

func TestRootSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pages.qdb")

	pager, err := storage.OpenPager(path, storage.DefaultPageSize)
	require.NoError(t, err)
	pool := storage.NewPool(pager, nil)
	tree := New(pool, pager, 0)

	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, tree.Insert(key, []byte("v"), uint64(i+1)))
	}
	root := tree.Root()
	require.NotEqual(t, storage.PageID(0), root)
	require.NoError(t, pool.FlushAll(context.Background()))
	require.NoError(t, pager.Close())

	pager2, err := storage.OpenPager(path, storage.DefaultPageSize)
	require.NoError(t, err)
	defer pager2.Close()
	tree2 := New(storage.NewPool(pager2, nil), pager2, root)

	v, ok, err := tree2.Get([]byte("key-0250"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}
