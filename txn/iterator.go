package txn

import (
	"bytes"
	"sort"

	"github.com/wahyudedik/qubedb/btree"
)

// overlayEntry is a key whose visible value differs from (or shadows) the
// tree: a chained version or one of the transaction's own writes.
type overlayEntry struct {
	key     []byte
	val     []byte
	deleted bool
}

// Iterator walks [start, end) in ascending key order as seen by the
// transaction's snapshot, merging the B+Tree with version chains and the
// transaction's buffered writes.
type Iterator struct {
	mgr      *Manager
	snapshot uint64
	tree     *btree.Iterator
	overlay  []overlayEntry
	oi       int
	key      []byte
	val      []byte
	err      error

	treeKey []byte
	treeVal []byte
	treeOK  bool
}

// NewIterator opens a snapshot-consistent range iterator. The overlay is
// captured eagerly; chains and write buffers are small relative to the
// tree.
func (t *Txn) NewIterator(start, end []byte) *Iterator {
	if t.done {
		return &Iterator{err: ErrTxnDone}
	}
	m := t.mgr

	inRange := func(k []byte) bool {
		if start != nil && bytes.Compare(k, start) < 0 {
			return false
		}
		if end != nil && bytes.Compare(k, end) >= 0 {
			return false
		}
		return true
	}

	seen := make(map[string]struct{})
	var overlay []overlayEntry

	for k, w := range t.writes {
		if !inRange([]byte(k)) {
			continue
		}
		overlay = append(overlay, overlayEntry{key: []byte(k), val: w.val, deleted: w.deleted})
		seen[k] = struct{}{}
	}

	m.mu.Lock()
	for k, c := range m.chains {
		if _, shadowed := seen[k]; shadowed {
			continue
		}
		if !inRange([]byte(k)) {
			continue
		}
		val, live := c.visibleAt(t.snapshot)
		overlay = append(overlay, overlayEntry{key: []byte(k), val: val, deleted: !live})
	}
	m.mu.Unlock()

	sort.Slice(overlay, func(i, j int) bool {
		return bytes.Compare(overlay[i].key, overlay[j].key) < 0
	})

	it := &Iterator{
		mgr:      m,
		snapshot: t.snapshot,
		tree:     m.tree.NewIterator(start, end),
		overlay:  overlay,
	}
	it.stepTree()
	return it
}

// resolveTree re-checks the chains for a key about to be emitted from the
// tree. A commit that started after the overlay was captured seeds its
// pre-image chains before rewriting the tree, so a mid-apply tree value is
// always shadowed by a chain found here.
func (it *Iterator) resolveTree(key, val []byte) ([]byte, bool) {
	it.mgr.mu.Lock()
	defer it.mgr.mu.Unlock()
	if c, ok := it.mgr.chains[string(key)]; ok {
		return c.visibleAt(it.snapshot)
	}
	return val, true
}

func (it *Iterator) stepTree() {
	if it.tree.Next() {
		it.treeKey = it.tree.Key()
		it.treeVal = it.tree.Value()
		it.treeOK = true
		return
	}
	it.treeOK = false
	if err := it.tree.Err(); err != nil {
		it.err = err
	}
}

// Next advances to the next visible key. It returns false at the end of
// the range or on error.
func (it *Iterator) Next() bool {
	for it.err == nil {
		haveOverlay := it.oi < len(it.overlay)
		if !haveOverlay && !it.treeOK {
			return false
		}

		// Pick the smaller key; the overlay wins ties because it reflects
		// the snapshot (or the transaction's own write) for that key.
		useOverlay := haveOverlay &&
			(!it.treeOK || bytes.Compare(it.overlay[it.oi].key, it.treeKey) <= 0)

		if useOverlay {
			e := it.overlay[it.oi]
			it.oi++
			if it.treeOK && bytes.Equal(e.key, it.treeKey) {
				it.stepTree()
			}
			if e.deleted {
				continue
			}
			it.key = e.key
			it.val = e.val
			return true
		}

		key, treeVal := it.treeKey, it.treeVal
		it.stepTree()
		val, live := it.resolveTree(key, treeVal)
		if !live {
			continue
		}
		it.key = key
		it.val = val
		return true
	}
	return false
}

// Key returns the current key. Valid after Next returns true.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.val }

// Err returns the first error the iterator hit.
func (it *Iterator) Err() error { return it.err }
