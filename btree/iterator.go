package btree

import (
	"bytes"

	"github.com/wahyudedik/qubedb/storage"
)

// Iterator walks keys in ascending order over [start, end). A nil start
// begins at the smallest key; a nil end runs to the largest. The iterator
// holds decoded node copies, not page pins, so it stays valid while other
// readers run; interleaved writes to the same Tree are not supported.
type Iterator struct {
	tree  *Tree
	end   []byte
	stack []iterFrame
	key   []byte
	val   []byte
	err   error
	done  bool
}

type iterFrame struct {
	n   *node
	idx int
}

// NewIterator positions an iterator at the first key >= start.
func (t *Tree) NewIterator(start, end []byte) *Iterator {
	it := &Iterator{tree: t, end: end}

	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	if root == 0 {
		it.done = true
		return it
	}
	it.seek(root, start)
	return it
}

// seek descends toward the first key >= start, building the frame stack.
func (it *Iterator) seek(pid storage.PageID, start []byte) {
	for {
		n, err := it.tree.loadNode(pid)
		if err != nil {
			it.err = err
			it.done = true
			return
		}
		if n.nkeys() == 0 {
			it.done = true
			return
		}
		if n.typ == storage.PageTypeLeaf {
			idx := 0
			if start != nil {
				idx = lookupGE(n.keys, start)
			}
			it.stack = append(it.stack, iterFrame{n: n, idx: idx})
			if idx >= n.nkeys() {
				it.advance()
			}
			return
		}
		idx := 0
		if start != nil {
			idx = n.seekChild(start)
		}
		it.stack = append(it.stack, iterFrame{n: n, idx: idx})
		pid = n.child(idx)
	}
}

// advance moves to the next leaf position, popping exhausted frames and
// descending into the following subtree.
func (it *Iterator) advance() {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		top.idx++
		if top.idx < top.n.nkeys() {
			if top.n.typ == storage.PageTypeLeaf {
				return
			}
			it.descendFirst(top.n.child(top.idx))
			return
		}
		it.stack = it.stack[:len(it.stack)-1]
	}
	it.done = true
}

// descendFirst pushes the leftmost path of the subtree at pid.
func (it *Iterator) descendFirst(pid storage.PageID) {
	for {
		n, err := it.tree.loadNode(pid)
		if err != nil {
			it.err = err
			it.done = true
			return
		}
		if n.nkeys() == 0 {
			it.advance()
			return
		}
		it.stack = append(it.stack, iterFrame{n: n, idx: 0})
		if n.typ == storage.PageTypeLeaf {
			return
		}
		pid = n.child(0)
	}
}

// Next moves to the next key. It returns false at the end of the range or
// on error; check Err afterwards.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	// The stack is positioned at the element to emit; emit then step.
	top := it.stack[len(it.stack)-1]
	if top.idx >= top.n.nkeys() || top.n.typ != storage.PageTypeLeaf {
		it.done = true
		return false
	}
	it.key = top.n.keys[top.idx]
	it.val = top.n.vals[top.idx]
	if it.end != nil && bytes.Compare(it.key, it.end) >= 0 {
		it.done = true
		return false
	}
	it.advance()
	return true
}

// Key returns the key at the current position. Valid after Next returns
// true, until the following Next call.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the value at the current position.
func (it *Iterator) Value() []byte { return it.val }

// Err returns the first error the iterator encountered.
func (it *Iterator) Err() error { return it.err }
