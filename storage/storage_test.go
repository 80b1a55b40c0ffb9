package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPager(t *testing.T) *Pager {
	t.Helper()
	p, err := OpenPager(filepath.Join(t.TempDir(), "pages.qdb"), DefaultPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPageRoundTrip(t *testing.T) {
	p := openTestPager(t)

	id := p.Allocate()
	require.Equal(t, PageID(1), id)

	page := &Page{ID: id, Type: PageTypeLeaf, LSN: 7, Data: []byte("hello")}
	require.NoError(t, p.WritePage(page))

	got, err := p.ReadPage(id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, PageTypeLeaf, got.Type)
	assert.Equal(t, uint64(7), got.LSN)
	assert.Equal(t, []byte("hello"), got.Data[:5])
}

func TestPageChecksumDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pages.qdb")
	p, err := OpenPager(path, DefaultPageSize)
	require.NoError(t, err)

	id := p.Allocate()
	require.NoError(t, p.WritePage(&Page{ID: id, Type: PageTypeLeaf, Data: []byte("payload")}))
	require.NoError(t, p.Sync())

	// Flip a byte in the page body on disk.
	f := p.file
	_, err = f.WriteAt([]byte{0xFF}, int64(id)*int64(DefaultPageSize)+pageHeaderSize+2)
	require.NoError(t, err)

	_, err = p.ReadPage(id)
	assert.ErrorIs(t, err, ErrChecksum)
	require.NoError(t, p.Close())
}

func TestFreePagesReusedAfterCheckpoint(t *testing.T) {
	p := openTestPager(t)

	a := p.Allocate()
	b := p.Allocate()
	p.Free(a)

	// Still pending: allocation must not hand back a.
	c := p.Allocate()
	assert.NotEqual(t, a, c)

	p.ReleaseFreed(p.TakePendingFree())
	d := p.Allocate()
	assert.Equal(t, a, d, "freed page becomes reusable after checkpoint")
	assert.NotEqual(t, b, d)
}

func TestTakePendingFreeDetaches(t *testing.T) {
	p := openTestPager(t)

	a := p.Allocate()
	p.Free(a)
	taken := p.TakePendingFree()

	// A page freed after the take stays pending for the next cycle.
	b := p.Allocate()
	p.Free(b)

	p.ReleaseFreed(taken)
	assert.Equal(t, a, p.Allocate(), "only the detached set is released")
	c := p.Allocate()
	assert.NotEqual(t, b, c, "late free must not be reusable yet")
}

func TestFreeSetSurvivesSerialization(t *testing.T) {
	p := openTestPager(t)

	a := p.Allocate()
	p.Allocate()
	p.Free(a)
	p.ReleaseFreed(p.TakePendingFree())

	data, err := p.FreeSetBytes()
	require.NoError(t, err)

	p2 := openTestPager(t)
	p2.Allocate()
	p2.Allocate()
	require.NoError(t, p2.LoadFreeSet(data))
	assert.Equal(t, a, p2.Allocate())
}

func TestReopenKeepsPageSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pages.qdb")

	p, err := OpenPager(path, 4096)
	require.NoError(t, err)
	id := p.Allocate()
	require.NoError(t, p.WritePage(&Page{ID: id, Type: PageTypeLeaf, Data: []byte("x")}))
	require.NoError(t, p.Close())

	p2, err := OpenPager(path, DefaultPageSize)
	require.NoError(t, err)
	defer p2.Close()
	assert.Equal(t, 4096, p2.PageSize())

	got, err := p2.ReadPage(id)
	require.NoError(t, err)
	assert.Equal(t, byte('x'), got.Data[0])
}

type stubSyncer struct {
	syncedTo uint64
}

func (s *stubSyncer) SyncTo(lsn uint64) error {
	if lsn > s.syncedTo {
		s.syncedTo = lsn
	}
	return nil
}

func TestPoolGetPinsAndCaches(t *testing.T) {
	pager := openTestPager(t)
	pool := NewPool(pager, nil)

	id := pager.Allocate()
	require.NoError(t, pager.WritePage(&Page{ID: id, Type: PageTypeLeaf, Data: []byte("v")}))

	pg1, err := pool.Get(id)
	require.NoError(t, err)
	pg2, err := pool.Get(id)
	require.NoError(t, err)
	assert.Same(t, pg1, pg2, "second Get must hit the cache")

	pool.Unpin(id, false, 0)
	pool.Unpin(id, false, 0)
	_, entries := pool.Stats()
	assert.Equal(t, 1, entries)
}

func TestPoolEvictsUnderPressure(t *testing.T) {
	pager := openTestPager(t)
	pool := NewPool(pager, nil, func(o *PoolOptions) {
		o.Capacity = 2 * int64(DefaultPageSize)
	})

	for i := 0; i < 5; i++ {
		id := pager.Allocate()
		require.NoError(t, pager.WritePage(&Page{ID: id, Type: PageTypeLeaf, Data: []byte("v")}))
		_, err := pool.Get(id)
		require.NoError(t, err)
		pool.Unpin(id, false, 0)
	}

	used, entries := pool.Stats()
	assert.LessOrEqual(t, entries, 2)
	assert.LessOrEqual(t, used, 2*int64(DefaultPageSize))
}

func TestPoolFlushSyncsJournalFirst(t *testing.T) {
	pager := openTestPager(t)
	syncer := &stubSyncer{}
	pool := NewPool(pager, syncer)

	id := pager.Allocate()
	page := &Page{ID: id, Type: PageTypeLeaf, Data: make([]byte, BodySize(DefaultPageSize))}
	copy(page.Data, "dirty")
	pool.Put(page)
	pool.Unpin(id, true, 99)

	require.NoError(t, pool.FlushAll(context.Background()))
	assert.Equal(t, uint64(99), syncer.syncedTo, "journal must be durable before the page flush")

	got, err := pager.ReadPage(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("dirty"), got.Data[:5])
	assert.Equal(t, uint64(99), got.LSN)
}
