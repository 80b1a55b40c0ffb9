// Package txn implements snapshot-isolated transactions over the B+Tree
// and the WAL.
//
// The B+Tree always holds the latest committed value of every key. Older
// versions needed by in-flight snapshots live in in-memory version chains
// keyed by the storage key; a chain is seeded with the pre-image on the
// first overlapping write and garbage collected once no active snapshot
// can still see a superseded version. Conflicts resolve first-committer-
// wins: a commit fails if any written key has a committed version newer
// than the transaction's snapshot.
package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/wahyudedik/qubedb/btree"
	"github.com/wahyudedik/qubedb/wal"
)

// ConflictError reports a write-write conflict under first-committer-wins.
type ConflictError struct {
	Key []byte
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("transaction conflict on key %x", e.Key)
}

// ErrTxnDone is returned for operations on a committed or rolled back
// transaction.
var ErrTxnDone = fmt.Errorf("transaction already finished")

type version struct {
	commitTS uint64
	val      []byte
	deleted  bool
}

// chain holds the committed history of one key since the GC floor. base is
// the value visible to snapshots older than the first chained version.
type chain struct {
	base     []byte
	baseLive bool
	versions []version
}

// visibleAt returns the chain's value as of snapshot ts.
func (c *chain) visibleAt(ts uint64) (val []byte, live bool) {
	for i := len(c.versions) - 1; i >= 0; i-- {
		if c.versions[i].commitTS <= ts {
			return c.versions[i].val, !c.versions[i].deleted
		}
	}
	return c.base, c.baseLive
}

func (c *chain) newestTS() uint64 {
	if len(c.versions) == 0 {
		return 0
	}
	return c.versions[len(c.versions)-1].commitTS
}

// Manager owns the commit clock, the active snapshot set and the version
// chains. One Manager serves one open database.
type Manager struct {
	mu       sync.Mutex // guards clock, ids, active, chains
	commitMu sync.Mutex // serializes validate+journal+apply
	clock    uint64
	nextID   uint64
	active   map[uint64]uint64 // txn id -> snapshot ts
	chains   map[string]*chain

	tree *btree.Tree
	wal  *wal.WAL
}

// NewManager creates a Manager over the tree and journal. Transaction ids
// continue past the highest id the journal has ever seen, so records left
// by a run that crashed mid-commit can never be claimed by a later run's
// commit marker.
func NewManager(tree *btree.Tree, w *wal.WAL) *Manager {
	return &Manager{
		active: make(map[uint64]uint64),
		chains: make(map[string]*chain),
		nextID: w.LastTxID(),
		tree:   tree,
		wal:    w,
	}
}

type write struct {
	val     []byte
	deleted bool
}

// Txn is one transaction. Not safe for concurrent use by multiple
// goroutines.
type Txn struct {
	mgr      *Manager
	id       uint64
	snapshot uint64
	writes     map[string]write
	order      []string // first-write order, keeps journal records deterministic
	onCommit   []func()
	onRollback []func()
	done       bool
}

// Begin starts a transaction whose snapshot is the current commit clock.
func (m *Manager) Begin() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &Txn{
		mgr:      m,
		id:       m.nextID,
		snapshot: m.clock,
		writes:   make(map[string]write),
	}
	m.active[t.id] = t.snapshot
	return t
}

// Snapshot returns the transaction's snapshot timestamp.
func (t *Txn) Snapshot() uint64 { return t.snapshot }

// PauseCommits blocks commits until ResumeCommits. Checkpoints hold the
// gate while flushing pages and rotating the journal so the captured root
// covers every applied commit.
func (m *Manager) PauseCommits() { m.commitMu.Lock() }

// ResumeCommits releases the gate taken by PauseCommits.
func (m *Manager) ResumeCommits() { m.commitMu.Unlock() }

// readCommitted resolves key as of snapshot ts. The tree is read first and
// the chains second: a committing writer seeds a pre-image chain before it
// touches the tree, so any mid-apply value this read can observe is
// shadowed by a chain entry found in the second step.
func (m *Manager) readCommitted(key []byte, ts uint64) ([]byte, bool, error) {
	val, ok, err := m.tree.Get(key)
	if err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	if c, chained := m.chains[string(key)]; chained {
		cv, live := c.visibleAt(ts)
		m.mu.Unlock()
		return cv, live, nil
	}
	m.mu.Unlock()
	return val, ok, nil
}

// Get returns the value of key as seen by the transaction, including its
// own uncommitted writes.
func (t *Txn) Get(key []byte) ([]byte, bool, error) {
	if t.done {
		return nil, false, ErrTxnDone
	}
	if w, ok := t.writes[string(key)]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return w.val, true, nil
	}
	return t.mgr.readCommitted(key, t.snapshot)
}

// Put buffers a write. Nothing reaches the journal or the tree before
// Commit.
func (t *Txn) Put(key, val []byte) error {
	if t.done {
		return ErrTxnDone
	}
	t.record(key, write{val: val})
	return nil
}

// Delete buffers a removal.
func (t *Txn) Delete(key []byte) error {
	if t.done {
		return ErrTxnDone
	}
	t.record(key, write{deleted: true})
	return nil
}

func (t *Txn) record(key []byte, w write) {
	k := string(key)
	if _, seen := t.writes[k]; !seen {
		t.order = append(t.order, k)
	}
	t.writes[k] = w
}

// OnCommit registers fn to run after the transaction commits durably.
// Index maintenance hangs off this hook.
func (t *Txn) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// OnRollback registers fn to run if the transaction rolls back or fails to
// commit. Hooks run in reverse registration order; catalog compensation
// for DDL hangs off this hook.
func (t *Txn) OnRollback(fn func()) {
	t.onRollback = append(t.onRollback, fn)
}

func (t *Txn) runRollbackHooks() {
	for i := len(t.onRollback) - 1; i >= 0; i-- {
		t.onRollback[i]()
	}
}

// Rollback discards the transaction. Safe to call after Commit; it then
// does nothing.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.mgr.mu.Lock()
	delete(t.mgr.active, t.id)
	t.mgr.mu.Unlock()
	t.runRollbackHooks()
}

// Commit validates, journals and applies the write set, then waits for
// durability. On conflict every write is discarded and ConflictError is
// returned; the transaction is finished either way.
func (t *Txn) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	m := t.mgr

	defer func() {
		m.mu.Lock()
		delete(m.active, t.id)
		m.mu.Unlock()
	}()

	if len(t.writes) == 0 {
		for _, fn := range t.onCommit {
			fn()
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		t.runRollbackHooks()
		return err
	}

	m.commitMu.Lock()

	// First committer wins: any key with a committed version newer than
	// our snapshot fails the whole transaction.
	m.mu.Lock()
	for _, k := range t.order {
		if c, ok := m.chains[k]; ok && c.newestTS() > t.snapshot {
			m.mu.Unlock()
			m.commitMu.Unlock()
			t.runRollbackHooks()
			return &ConflictError{Key: []byte(k)}
		}
	}
	m.mu.Unlock()

	// Capture pre-images before touching the tree.
	pre := make(map[string]write, len(t.order))
	for _, k := range t.order {
		val, live, err := m.readCommitted([]byte(k), ^uint64(0))
		if err != nil {
			m.commitMu.Unlock()
			t.runRollbackHooks()
			return fmt.Errorf("failed to read pre-image: %w", err)
		}
		pre[k] = write{val: val, deleted: !live}
	}

	recs := make([]*wal.Record, 0, len(t.order)+2)
	recs = append(recs, &wal.Record{TxID: t.id, Op: wal.OpBegin})
	for _, k := range t.order {
		w := t.writes[k]
		rec := &wal.Record{TxID: t.id, Key: []byte(k), Before: pre[k].val}
		if w.deleted {
			rec.Op = wal.OpDelete
		} else {
			rec.Op = wal.OpPut
			rec.After = w.val
		}
		recs = append(recs, rec)
	}
	recs = append(recs, &wal.Record{TxID: t.id, Op: wal.OpCommit})

	lsn, err := m.wal.AppendBatch(recs)
	if err != nil {
		m.commitMu.Unlock()
		t.runRollbackHooks()
		return fmt.Errorf("failed to journal transaction: %w", err)
	}

	// Seed pre-image chains before the tree changes. A concurrent reader
	// whose snapshot predates this commit then resolves every written key
	// through its chain instead of falling through to a tree mid-apply.
	m.mu.Lock()
	for _, k := range t.order {
		if _, ok := m.chains[k]; !ok {
			p := pre[k]
			m.chains[k] = &chain{base: p.val, baseLive: !p.deleted}
		}
	}
	m.mu.Unlock()

	// Apply to the tree. The journal already holds the commit record, so a
	// crash from here on replays these writes.
	for _, k := range t.order {
		w := t.writes[k]
		if w.deleted {
			if _, err := m.tree.Delete([]byte(k), lsn); err != nil {
				m.commitMu.Unlock()
				return fmt.Errorf("failed to apply delete: %w", err)
			}
		} else {
			if err := m.tree.Insert([]byte(k), w.val, lsn); err != nil {
				m.commitMu.Unlock()
				return fmt.Errorf("failed to apply write: %w", err)
			}
		}
	}

	// Publish versions under a fresh commit timestamp.
	m.mu.Lock()
	m.clock++
	commitTS := m.clock
	for _, k := range t.order {
		w := t.writes[k]
		c := m.chains[k]
		c.versions = append(c.versions, version{commitTS: commitTS, val: w.val, deleted: w.deleted})
	}
	m.mu.Unlock()
	m.commitMu.Unlock()

	if err := m.wal.WaitDurable(lsn); err != nil {
		return fmt.Errorf("failed to make transaction durable: %w", err)
	}
	for _, fn := range t.onCommit {
		fn()
	}
	return nil
}

// GC prunes version chains no active snapshot can still observe. Called
// periodically and after checkpoints.
func (m *Manager) GC() {
	m.mu.Lock()
	defer m.mu.Unlock()

	floor := m.clock
	for _, snap := range m.active {
		if snap < floor {
			floor = snap
		}
	}

	for k, c := range m.chains {
		if len(c.versions) == 0 {
			// A mid-commit seed; the owning commit publishes its version
			// once the write set lands.
			continue
		}
		if c.newestTS() <= floor {
			// Every active snapshot sees the newest version, which is
			// exactly the tree's value.
			delete(m.chains, k)
			continue
		}
		// Advance the base past versions nobody can read anymore.
		idx := -1
		for i, v := range c.versions {
			if v.commitTS <= floor {
				idx = i
			}
		}
		if idx >= 0 {
			v := c.versions[idx]
			c.base = v.val
			c.baseLive = !v.deleted
			c.versions = append([]version(nil), c.versions[idx+1:]...)
		}
	}
}

// ChainCount reports the number of live version chains, for tests and
// stats.
func (m *Manager) ChainCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chains)
}

// Clock returns the current commit timestamp counter.
func (m *Manager) Clock() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}
