package storage

import (
	"container/list"
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// WALSyncer is the slice of the journal the pool needs: before a dirty page
// reaches disk, the journal must be durable up to that page's LSN.
type WALSyncer interface {
	SyncTo(lsn uint64) error
}

// PoolOptions configures the buffer pool.
type PoolOptions struct {
	// Capacity is the pool budget in bytes. Pinned pages can push usage
	// above it temporarily; eviction resumes as pins drop.
	Capacity int64

	// FlushParallelism caps concurrent page writes during FlushAll.
	// Defaults to GOMAXPROCS.
	FlushParallelism int

	// FlushRate limits FlushAll to this many pages per second so a large
	// checkpoint does not starve foreground IO. Zero means unlimited.
	FlushRate rate.Limit
}

// DefaultPoolOptions are the defaults used by NewPool.
var DefaultPoolOptions = PoolOptions{
	Capacity: 64 << 20,
}

type poolEntry struct {
	page  *Page
	pins  int
	dirty bool
}

// Pool is a byte-budgeted page cache with pin counts and LRU eviction.
// Concurrent misses for the same page are collapsed into one disk read.
type Pool struct {
	mu      sync.Mutex
	pager   *Pager
	wal     WALSyncer
	opts    PoolOptions
	used    int64
	entries map[PageID]*list.Element
	lru     *list.List // front is most recently used
	group   singleflight.Group
	limiter *rate.Limiter
}

// NewPool creates a buffer pool over pager. wal may be nil for read-only
// use; flushing a dirty page then skips the journal barrier.
func NewPool(pager *Pager, wal WALSyncer, optFns ...func(o *PoolOptions)) *Pool {
	opts := DefaultPoolOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FlushParallelism <= 0 {
		opts.FlushParallelism = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		pager:   pager,
		wal:     wal,
		opts:    opts,
		entries: make(map[PageID]*list.Element),
		lru:     list.New(),
	}
	if opts.FlushRate > 0 {
		p.limiter = rate.NewLimiter(opts.FlushRate, 1)
	}
	return p
}

// entrySize is the accounting charge per resident page. Bodies are fixed
// size, so the page size is the honest cost.
func (p *Pool) entrySize() int64 {
	return int64(p.pager.PageSize())
}

// Get returns the page pinned. Callers must Unpin when done.
func (p *Pool) Get(id PageID) (*Page, error) {
	p.mu.Lock()
	if el, ok := p.entries[id]; ok {
		ent := el.Value.(*poolEntry)
		ent.pins++
		p.lru.MoveToFront(el)
		p.mu.Unlock()
		return ent.page, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(fmt.Sprintf("%d", id), func() (any, error) {
		// Re-check: another caller may have inserted while we queued.
		p.mu.Lock()
		if el, ok := p.entries[id]; ok {
			page := el.Value.(*poolEntry).page
			p.mu.Unlock()
			return page, nil
		}
		p.mu.Unlock()

		page, err := p.pager.ReadPage(id)
		if err != nil {
			return nil, err
		}
		p.insert(page, false)
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	page := v.(*Page)

	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.entries[id]
	if !ok {
		// Evicted between the load and now; reinsert.
		p.insertLocked(page, false)
		el = p.entries[id]
	}
	el.Value.(*poolEntry).pins++
	p.lru.MoveToFront(el)
	return page, nil
}

// Put registers a freshly allocated page as resident, dirty and pinned.
func (p *Pool) Put(page *Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.entries[page.ID]; ok {
		ent := el.Value.(*poolEntry)
		ent.page = page
		ent.dirty = true
		ent.pins++
		p.lru.MoveToFront(el)
		return
	}
	p.insertLocked(page, true)
	p.entries[page.ID].Value.(*poolEntry).pins++
}

func (p *Pool) insert(page *Page, dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertLocked(page, dirty)
}

func (p *Pool) insertLocked(page *Page, dirty bool) {
	if _, ok := p.entries[page.ID]; ok {
		return
	}
	ent := &poolEntry{page: page, dirty: dirty}
	p.entries[page.ID] = p.lru.PushFront(ent)
	p.used += p.entrySize()
	p.evictLocked()
}

// Unpin releases one pin. dirty marks the page modified with its new LSN.
func (p *Pool) Unpin(id PageID, dirty bool, lsn uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.entries[id]
	if !ok {
		return
	}
	ent := el.Value.(*poolEntry)
	if ent.pins > 0 {
		ent.pins--
	}
	if dirty {
		ent.dirty = true
		if lsn > ent.page.LSN {
			ent.page.LSN = lsn
		}
	}
	p.evictLocked()
}

// Drop removes a page from the pool without writing it, used when the page
// has been freed and its contents no longer matter.
func (p *Pool) Drop(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.entries[id]
	if !ok {
		return
	}
	ent := el.Value.(*poolEntry)
	if ent.pins > 0 {
		return
	}
	p.lru.Remove(el)
	delete(p.entries, id)
	p.used -= p.entrySize()
}

// evictLocked walks the LRU tail until usage fits the budget, skipping
// pinned pages. Dirty victims are flushed behind the journal barrier.
func (p *Pool) evictLocked() {
	for p.used > p.opts.Capacity {
		var victim *list.Element
		for el := p.lru.Back(); el != nil; el = el.Prev() {
			if el.Value.(*poolEntry).pins == 0 {
				victim = el
				break
			}
		}
		if victim == nil {
			return // everything pinned, try again on the next Unpin
		}
		ent := victim.Value.(*poolEntry)
		if ent.dirty {
			if err := p.flushEntry(ent); err != nil {
				// Keep the page resident rather than lose the write; the
				// next FlushAll will surface the error.
				return
			}
		}
		p.lru.Remove(victim)
		delete(p.entries, ent.page.ID)
		p.used -= p.entrySize()
	}
}

func (p *Pool) flushEntry(ent *poolEntry) error {
	if p.wal != nil && ent.page.LSN > 0 {
		if err := p.wal.SyncTo(ent.page.LSN); err != nil {
			return err
		}
	}
	if err := p.pager.WritePage(ent.page); err != nil {
		return err
	}
	ent.dirty = false
	return nil
}

// FlushAll writes every dirty page and fsyncs the page file. Writes run in
// parallel under the configured rate limit. The journal is synced once up
// front to the highest dirty LSN.
func (p *Pool) FlushAll(ctx context.Context) error {
	p.mu.Lock()
	var dirty []*poolEntry
	var maxLSN uint64
	for _, el := range p.entries {
		ent := el.Value.(*poolEntry)
		if ent.dirty {
			dirty = append(dirty, ent)
			if ent.page.LSN > maxLSN {
				maxLSN = ent.page.LSN
			}
		}
	}
	p.mu.Unlock()

	if len(dirty) == 0 {
		return nil
	}
	if p.wal != nil && maxLSN > 0 {
		if err := p.wal.SyncTo(maxLSN); err != nil {
			return fmt.Errorf("failed to sync journal before flush: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.FlushParallelism)
	for _, ent := range dirty {
		ent := ent
		g.Go(func() error {
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			if err := p.pager.WritePage(ent.page); err != nil {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to flush pages: %w", err)
	}
	if err := p.pager.Sync(); err != nil {
		return err
	}

	p.mu.Lock()
	for _, ent := range dirty {
		ent.dirty = false
	}
	p.mu.Unlock()
	return nil
}

// Stats reports resident bytes and entry count.
func (p *Pool) Stats() (usedBytes int64, entries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used, len(p.entries)
}
