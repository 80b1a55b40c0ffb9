// Package btree implements a copy-on-write B+Tree over the page store.
//
// Every mutation writes new pages and frees the replaced ones through the
// pager's deferred free list, so the tree rooted at the last checkpoint
// stays readable on disk until the next checkpoint completes. The caller
// tracks the current root page id and persists it in the manifest.
package btree

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/wahyudedik/qubedb/storage"
)

const (
	// MaxKeySize bounds encoded keys.
	MaxKeySize = 1024
)

// ErrKeyTooLarge is returned for keys over MaxKeySize bytes.
var ErrKeyTooLarge = fmt.Errorf("key exceeds %d bytes", MaxKeySize)

// Tree is a single-keyspace copy-on-write B+Tree. Mutations are serialized
// internally; reads may run concurrently with each other but not with
// mutations of the same Tree value.
type Tree struct {
	mu    sync.RWMutex
	pool  *storage.Pool
	pager *storage.Pager
	root  storage.PageID // 0 means empty
	body  int            // usable bytes per page
}

// entry is a (smallest key, child) pair produced by a copy-on-write
// rewrite of a subtree. One entry means the subtree stayed a single node.
type entry struct {
	key []byte
	pid storage.PageID
}

// New creates a Tree over pool with the given root (0 for an empty tree).
func New(pool *storage.Pool, pager *storage.Pager, root storage.PageID) *Tree {
	return &Tree{
		pool:  pool,
		pager: pager,
		root:  root,
		body:  storage.BodySize(pager.PageSize()),
	}
}

// Root returns the current root page id, 0 if the tree is empty.
func (t *Tree) Root() storage.PageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// SetRoot installs a root, used when loading a manifest.
func (t *Tree) SetRoot(root storage.PageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = root
}

// MaxValueSize returns the largest value the tree accepts: one cell must
// always fit a page alongside the header.
func (t *Tree) MaxValueSize() int {
	return t.body - 2 - cellOverhead - MaxKeySize
}

func (t *Tree) loadNode(pid storage.PageID) (*node, error) {
	page, err := t.pool.Get(pid)
	if err != nil {
		return nil, err
	}
	defer t.pool.Unpin(pid, false, 0)
	n, err := unmarshalNode(page.Type, page.Data)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", pid, err)
	}
	return n, nil
}

// writeNode allocates a page for n and registers it dirty in the pool.
func (t *Tree) writeNode(n *node, lsn uint64) (storage.PageID, error) {
	pid := t.pager.Allocate()
	page := &storage.Page{
		ID:   pid,
		Type: n.typ,
		LSN:  lsn,
		Data: make([]byte, t.body),
	}
	if err := n.marshal(page.Data); err != nil {
		return 0, err
	}
	t.pool.Put(page)
	t.pool.Unpin(pid, true, lsn)
	return pid, nil
}

// freeNode retires a superseded page. The slot is reused only after the
// next checkpoint.
func (t *Tree) freeNode(pid storage.PageID) {
	t.pager.Free(pid)
	t.pool.Drop(pid)
}

// Get returns the value stored under key.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	t.mu.RLock()
	pid := t.root
	t.mu.RUnlock()

	for pid != 0 {
		n, err := t.loadNode(pid)
		if err != nil {
			return nil, false, err
		}
		if n.typ == storage.PageTypeLeaf {
			i := lookupGE(n.keys, key)
			if i < n.nkeys() && bytesEqual(n.keys[i], key) {
				return n.vals[i], true, nil
			}
			return nil, false, nil
		}
		if n.nkeys() == 0 {
			return nil, false, nil
		}
		pid = n.child(n.seekChild(key))
	}
	return nil, false, nil
}

// Insert stores val under key, replacing any existing value. lsn tags the
// new pages with the journal position of the mutation.
func (t *Tree) Insert(key, val []byte, lsn uint64) error {
	if len(key) == 0 {
		return fmt.Errorf("empty key")
	}
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	if len(val) > t.MaxValueSize() {
		return fmt.Errorf("value of %d bytes exceeds maximum %d", len(val), t.MaxValueSize())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == 0 {
		leaf := &node{typ: storage.PageTypeLeaf}
		leaf.insertCell(0, key, val)
		pid, err := t.writeNode(leaf, lsn)
		if err != nil {
			return err
		}
		t.root = pid
		return nil
	}

	entries, err := t.insertRec(t.root, key, val, lsn)
	if err != nil {
		return err
	}
	return t.installRoot(entries, lsn)
}

// installRoot makes entries the new top of the tree, growing a new root
// node when a split propagated all the way up.
func (t *Tree) installRoot(entries []entry, lsn uint64) error {
	switch len(entries) {
	case 0:
		t.root = 0
		return nil
	case 1:
		t.root = entries[0].pid
		return nil
	default:
		root := &node{typ: storage.PageTypeInternal}
		for i, e := range entries {
			root.insertCell(i, e.key, childVal(e.pid))
		}
		pid, err := t.writeNode(root, lsn)
		if err != nil {
			return err
		}
		t.root = pid
		return nil
	}
}

func (t *Tree) insertRec(pid storage.PageID, key, val []byte, lsn uint64) ([]entry, error) {
	n, err := t.loadNode(pid)
	if err != nil {
		return nil, err
	}

	if n.typ == storage.PageTypeLeaf {
		i := lookupGE(n.keys, key)
		if i < n.nkeys() && bytesEqual(n.keys[i], key) {
			n.vals[i] = val
		} else {
			n.insertCell(i, key, val)
		}
		return t.rewrite(pid, n, lsn)
	}

	ci := n.seekChild(key)
	children, err := t.insertRec(n.child(ci), key, val, lsn)
	if err != nil {
		return nil, err
	}
	n.replaceCells(ci, children)
	return t.rewrite(pid, n, lsn)
}

// rewrite persists the modified node copy-on-write, splitting when it no
// longer fits one page, and retires the old page.
func (t *Tree) rewrite(old storage.PageID, n *node, lsn uint64) ([]entry, error) {
	parts := n.split(t.body)
	entries := make([]entry, 0, len(parts))
	for _, part := range parts {
		pid, err := t.writeNode(part, lsn)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{key: part.keys[0], pid: pid})
	}
	t.freeNode(old)
	return entries, nil
}

// Delete removes key. It reports whether the key was present.
//
// Underfull nodes are never merged or rebalanced; only a node emptied
// completely is unlinked and freed. Delete-heavy ranges therefore keep
// sparse pages until their keys are rewritten, trading space for the
// simplicity of the copy-on-write path.
func (t *Tree) Delete(key []byte, lsn uint64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == 0 {
		return false, nil
	}
	entries, found, err := t.deleteRec(t.root, key, lsn)
	if err != nil || !found {
		return found, err
	}
	if err := t.installRoot(entries, lsn); err != nil {
		return false, err
	}
	// Collapse a root that degenerated to a single internal child chain.
	for t.root != 0 {
		n, err := t.loadNode(t.root)
		if err != nil {
			return false, err
		}
		if n.typ != storage.PageTypeInternal || n.nkeys() != 1 {
			break
		}
		old := t.root
		t.root = n.child(0)
		t.freeNode(old)
	}
	return true, nil
}

func (t *Tree) deleteRec(pid storage.PageID, key []byte, lsn uint64) ([]entry, bool, error) {
	n, err := t.loadNode(pid)
	if err != nil {
		return nil, false, err
	}

	if n.typ == storage.PageTypeLeaf {
		i := lookupGE(n.keys, key)
		if i >= n.nkeys() || !bytesEqual(n.keys[i], key) {
			return []entry{{key: firstKey(n), pid: pid}}, false, nil
		}
		n.removeCell(i)
		if n.nkeys() == 0 {
			t.freeNode(pid)
			return nil, true, nil
		}
		entries, err := t.rewrite(pid, n, lsn)
		return entries, true, err
	}

	ci := n.seekChild(key)
	children, found, err := t.deleteRec(n.child(ci), key, lsn)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return []entry{{key: firstKey(n), pid: pid}}, false, nil
	}
	n.replaceCells(ci, children)
	if n.nkeys() == 0 {
		t.freeNode(pid)
		return nil, true, nil
	}
	entries, err := t.rewrite(pid, n, lsn)
	return entries, true, err
}

func firstKey(n *node) []byte {
	if n.nkeys() == 0 {
		return nil
	}
	return n.keys[0]
}

// lookupGE returns the index of the first key >= target.
func lookupGE(keys [][]byte, target []byte) int {
	return sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(keys[i], target) >= 0
	})
}

func bytesEqual(a, b []byte) bool { return bytes.Equal(a, b) }
