// Package vector implements the exact brute-force vector index backing
// vector collections. Entries keep their insertion order, which breaks
// distance ties deterministically; deletions tombstone positions in a
// roaring bitmap and reinsertion of an id tombstones the old position.
package vector

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// ErrInvalidK is returned by Search for k <= 0.
var ErrInvalidK = fmt.Errorf("k must be positive")

// ErrDimensionMismatch reports a vector of the wrong length for its
// collection.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: collection expects %d, got %d", e.Expected, e.Actual)
}

// SearchResult is one Search hit. Distance follows the collection metric;
// smaller is closer.
type SearchResult struct {
	ID       string
	Distance float32
}

// Flat is an exact, insertion-ordered vector index for one collection.
// It is safe for concurrent use.
type Flat struct {
	mu      sync.RWMutex
	dim     int
	metric  Metric
	ids     []string
	vecs    [][]float32
	byID    map[string]uint32 // live position per id
	deleted *roaring.Bitmap   // tombstoned positions
}

// NewFlat creates an index for vectors of the given fixed dimension.
func NewFlat(dim int, metric Metric) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	return &Flat{
		dim:     dim,
		metric:  metric,
		byID:    make(map[string]uint32),
		deleted: roaring.New(),
	}, nil
}

// Dimension returns the fixed vector length.
func (f *Flat) Dimension() int { return f.dim }

// MetricKind returns the collection's distance metric.
func (f *Flat) MetricKind() Metric { return f.metric }

// Insert adds or replaces the vector stored under id. Replacement keeps the
// new insertion position for tie breaking.
func (f *Flat) Insert(id string, vec []float32) error {
	if len(vec) != f.dim {
		return &ErrDimensionMismatch{Expected: f.dim, Actual: len(vec)}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if pos, ok := f.byID[id]; ok {
		f.deleted.Add(pos)
	}
	pos := uint32(len(f.ids))
	f.ids = append(f.ids, id)
	f.vecs = append(f.vecs, vec)
	f.byID[id] = pos
	return nil
}

// Delete tombstones id. It reports whether the id was present.
func (f *Flat) Delete(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.byID[id]
	if !ok {
		return false
	}
	f.deleted.Add(pos)
	delete(f.byID, id)
	return true
}

// Get returns the vector stored under id.
func (f *Flat) Get(id string) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	pos, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	return f.vecs[pos], true
}

// Len returns the number of live entries.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.byID)
}

// Search returns the k nearest live entries to q, ascending by distance
// with ties broken by insertion order.
func (f *Flat) Search(q []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(q) != f.dim {
		return nil, &ErrDimensionMismatch{Expected: f.dim, Actual: len(q)}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	// Bounded max-heap: the worst candidate sits on top and is displaced by
	// any strictly better hit.
	h := &resultHeap{}
	heap.Init(h)
	for pos := range f.vecs {
		if f.deleted.Contains(uint32(pos)) {
			continue
		}
		d := f.metric.Distance(q, f.vecs[pos])
		c := candidate{pos: uint32(pos), dist: d}
		if h.Len() < k {
			heap.Push(h, c)
			continue
		}
		if c.less((*h)[0]) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}

	out := make([]SearchResult, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		c := heap.Pop(h).(candidate)
		out[i] = SearchResult{ID: f.ids[c.pos], Distance: c.dist}
	}
	return out, nil
}

type candidate struct {
	pos  uint32
	dist float32
}

// less orders candidates best-first: smaller distance wins, earlier
// insertion breaks ties.
func (c candidate) less(o candidate) bool {
	if c.dist != o.dist {
		return c.dist < o.dist
	}
	return c.pos < o.pos
}

// resultHeap is a max-heap by candidate order (worst on top).
type resultHeap []candidate

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[j].less(h[i]) }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)         { *h = append(*h, x.(candidate)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
