package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/wahyudedik/qubedb/storage"
)

// Node layout inside a page body, little-endian:
//
//	[nkeys:2] then per cell [klen:2][vlen:2][key][val]
//
// Leaf cells carry user values. Internal cells carry an 8-byte child page
// id; the cell key is the smallest key in that child's subtree, so an
// internal node with n cells has n children.

const cellOverhead = 4 // klen + vlen

type node struct {
	typ  storage.PageType
	keys [][]byte
	vals [][]byte // leaf payloads, or 8-byte child ids for internal nodes
}

func (n *node) nkeys() int { return len(n.keys) }

func (n *node) child(i int) storage.PageID {
	return storage.PageID(binary.LittleEndian.Uint64(n.vals[i]))
}

func childVal(pid storage.PageID) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(pid))
	return buf[:]
}

// size returns the serialized byte size of the node.
func (n *node) size() int {
	total := 2
	for i := range n.keys {
		total += cellOverhead + len(n.keys[i]) + len(n.vals[i])
	}
	return total
}

func (n *node) cellSize(i int) int {
	return cellOverhead + len(n.keys[i]) + len(n.vals[i])
}

// insertCell places key/val at index i, shifting later cells right.
func (n *node) insertCell(i int, key, val []byte) {
	n.keys = append(n.keys, nil)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key
	n.vals = append(n.vals, nil)
	copy(n.vals[i+1:], n.vals[i:])
	n.vals[i] = val
}

// removeCell deletes the cell at index i.
func (n *node) removeCell(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.vals = append(n.vals[:i], n.vals[i+1:]...)
}

// replaceCells substitutes the cell at index i with the given entries.
func (n *node) replaceCells(i int, entries []entry) {
	n.removeCell(i)
	for j, e := range entries {
		n.insertCell(i+j, e.key, childVal(e.pid))
	}
}

func (n *node) marshal(body []byte) error {
	if n.size() > len(body) {
		return fmt.Errorf("node of %d bytes exceeds page body %d", n.size(), len(body))
	}
	binary.LittleEndian.PutUint16(body, uint16(len(n.keys)))
	off := 2
	for i := range n.keys {
		binary.LittleEndian.PutUint16(body[off:], uint16(len(n.keys[i])))
		binary.LittleEndian.PutUint16(body[off+2:], uint16(len(n.vals[i])))
		off += 4
		off += copy(body[off:], n.keys[i])
		off += copy(body[off:], n.vals[i])
	}
	// Zero the remainder so page images are deterministic.
	for i := off; i < len(body); i++ {
		body[i] = 0
	}
	return nil
}

func unmarshalNode(typ storage.PageType, body []byte) (*node, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("node body too short")
	}
	nkeys := int(binary.LittleEndian.Uint16(body))
	n := &node{
		typ:  typ,
		keys: make([][]byte, 0, nkeys),
		vals: make([][]byte, 0, nkeys),
	}
	off := 2
	for i := 0; i < nkeys; i++ {
		if off+cellOverhead > len(body) {
			return nil, fmt.Errorf("truncated cell header at %d", off)
		}
		klen := int(binary.LittleEndian.Uint16(body[off:]))
		vlen := int(binary.LittleEndian.Uint16(body[off+2:]))
		off += cellOverhead
		if off+klen+vlen > len(body) {
			return nil, fmt.Errorf("cell overruns body at %d", off)
		}
		key := make([]byte, klen)
		copy(key, body[off:])
		val := make([]byte, vlen)
		copy(val, body[off+klen:])
		n.keys = append(n.keys, key)
		n.vals = append(n.vals, val)
		off += klen + vlen
	}
	if typ == storage.PageTypeInternal {
		for _, v := range n.vals {
			if len(v) != 8 {
				return nil, fmt.Errorf("internal cell with %d-byte child pointer", len(v))
			}
		}
	}
	return n, nil
}

// split partitions the node's cells greedily into the fewest nodes that
// each fit maxBody bytes. A single oversized cell has already been rejected
// by the size limits, so every partition makes progress.
func (n *node) split(maxBody int) []*node {
	if n.size() <= maxBody {
		return []*node{n}
	}
	var out []*node
	cur := &node{typ: n.typ}
	curSize := 2
	for i := range n.keys {
		cs := n.cellSize(i)
		if curSize+cs > maxBody && cur.nkeys() > 0 {
			out = append(out, cur)
			cur = &node{typ: n.typ}
			curSize = 2
		}
		cur.keys = append(cur.keys, n.keys[i])
		cur.vals = append(cur.vals, n.vals[i])
		curSize += cs
	}
	if cur.nkeys() > 0 {
		out = append(out, cur)
	}
	return out
}

// seekChild returns the index of the child whose subtree covers key: the
// last cell whose key is <= key, clamped to 0 for keys below the minimum.
func (n *node) seekChild(key []byte) int {
	i := lookupGE(n.keys, key)
	if i < n.nkeys() && bytesEqual(n.keys[i], key) {
		return i
	}
	if i == 0 {
		return 0
	}
	return i - 1
}
