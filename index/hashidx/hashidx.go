// Package hashidx provides an in-memory exact-match index: O(1) average
// insert, search and delete over opaque byte keys. The SQL executor builds
// one per hash join; unlike the B+Tree it gives no ordering, so it never
// serves range scans.
package hashidx

import (
	"sync"

	"github.com/wahyudedik/qubedb/internal/hash"
)

const shardCount = 16

type shard struct {
	mu sync.RWMutex
	m  map[string][][]byte
}

// Index maps byte keys to one or more values. Multi-value keys make it
// usable as a join build side, where several rows can share a key.
type Index struct {
	shards [shardCount]*shard
}

// New creates an empty index.
func New() *Index {
	idx := &Index{}
	for i := range idx.shards {
		idx.shards[i] = &shard{m: make(map[string][][]byte)}
	}
	return idx
}

func (idx *Index) shardFor(key []byte) *shard {
	return idx.shards[hash.Checksum(key)%shardCount]
}

// Insert appends val under key.
func (idx *Index) Insert(key, val []byte) {
	s := idx.shardFor(key)
	s.mu.Lock()
	s.m[string(key)] = append(s.m[string(key)], val)
	s.mu.Unlock()
}

// Search returns every value stored under key, in insertion order.
func (idx *Index) Search(key []byte) [][]byte {
	s := idx.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[string(key)]
}

// Delete removes all values under key. It reports whether the key existed.
func (idx *Index) Delete(key []byte) bool {
	s := idx.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[string(key)]; !ok {
		return false
	}
	delete(s.m, string(key))
	return true
}

// Len returns the number of distinct keys.
func (idx *Index) Len() int {
	total := 0
	for _, s := range idx.shards {
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}
