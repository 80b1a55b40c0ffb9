package qubedb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/wahyudedik/qubedb/btree"
	"github.com/wahyudedik/qubedb/catalog"
	"github.com/wahyudedik/qubedb/graph"
	"github.com/wahyudedik/qubedb/index/vector"
	"github.com/wahyudedik/qubedb/manifest"
	"github.com/wahyudedik/qubedb/sql"
	"github.com/wahyudedik/qubedb/storage"
	"github.com/wahyudedik/qubedb/table"
	"github.com/wahyudedik/qubedb/txn"
	"github.com/wahyudedik/qubedb/value"
	"github.com/wahyudedik/qubedb/wal"
)

// Result is the outcome of one SQL statement.
type Result = sql.Result

// SearchResult is one vector search hit.
type SearchResult = vector.SearchResult

const (
	pagesFileName   = "pages.qdb"
	walDirName      = "wal"
	lockFileName    = "LOCK"
	vecSnapshotExt  = ".vec.lz4"
	checkpointProbe = time.Second
)

// DB is an open database handle. Safe for concurrent use.
type DB struct {
	dir  string
	opts Options
	log  *Logger

	lock       *os.File
	store      *manifest.Store
	instanceID string

	pager *storage.Pager
	pool  *storage.Pool
	wal   *wal.WAL
	tree  *btree.Tree
	cat   *catalog.Catalog
	mgr   *txn.Manager
	eng   *sql.Engine

	vecMu   sync.RWMutex
	vectors map[string]*vector.Flat

	ckMu   sync.Mutex // one checkpoint at a time
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open opens (creating if necessary) the database in the given directory.
// The directory is locked for exclusive use until Close.
func Open(dir string, optFns ...func(o *Options)) (*DB, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, translateError(err)
	}
	lock, err := acquireLock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}

	db := &DB{
		dir:     dir,
		opts:    opts,
		log:     opts.Logger,
		lock:    lock,
		vectors: make(map[string]*vector.Flat),
	}
	if err := db.boot(); err != nil {
		db.releaseLock()
		return nil, translateError(err)
	}

	db.stopCh = make(chan struct{})
	db.wg.Add(1)
	go db.checkpointLoop()

	db.log.logOpen(dir, db.instanceID)
	return db, nil
}

func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, translateError(err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return f, nil
}

func (db *DB) releaseLock() {
	if db.lock != nil {
		_ = syscall.Flock(int(db.lock.Fd()), syscall.LOCK_UN)
		_ = db.lock.Close()
	}
}

// boot wires the storage stack, replays the journal and rebuilds the
// in-memory indexes.
func (db *DB) boot() error {
	store, err := manifest.OpenStore(db.dir)
	if err != nil {
		return err
	}
	db.store = store

	pageSize := db.opts.PageSize
	var m *manifest.Manifest
	if store.Exists() {
		if m, err = store.Load(); err != nil {
			return fmt.Errorf("failed to load manifest: %w", err)
		}
		pageSize = m.PageSize
		db.instanceID = m.InstanceID
	}

	if db.pager, err = storage.OpenPager(filepath.Join(db.dir, pagesFileName), pageSize); err != nil {
		return err
	}
	if m != nil && len(m.FreeSet) > 0 {
		if err := db.pager.LoadFreeSet(m.FreeSet); err != nil {
			return err
		}
	}

	db.wal, err = wal.Open(filepath.Join(db.dir, walDirName), func(o *wal.Options) {
		o.Durability = db.opts.Durability
		o.GroupCommitInterval = db.opts.GroupCommitInterval
	})
	if err != nil {
		_ = db.pager.Close()
		return err
	}

	db.pool = storage.NewPool(db.pager, db.wal, func(o *storage.PoolOptions) {
		o.Capacity = db.opts.BufferPoolBytes
	})

	var root storage.PageID
	checkpointLSN := uint64(0)
	db.cat = catalog.New()
	if m != nil {
		root = storage.PageID(m.Root)
		checkpointLSN = m.CheckpointLSN
		if m.Catalog != nil {
			db.cat.Load(m.Catalog)
		}
	}
	db.tree = btree.New(db.pool, db.pager, root)
	db.mgr = txn.NewManager(db.tree, db.wal)
	db.eng = sql.NewEngine(db.cat)

	replayed, err := db.replay(checkpointLSN)
	if err != nil {
		_ = db.wal.Close()
		_ = db.pager.Close()
		return err
	}

	if err := db.rebuildMemoryState(replayed == 0); err != nil {
		_ = db.wal.Close()
		_ = db.pager.Close()
		return err
	}

	// Replayed effects live only in the buffer pool; checkpoint so the next
	// open starts from a clean slate.
	if replayed > 0 {
		if err := db.Checkpoint(context.Background()); err != nil {
			_ = db.wal.Close()
			_ = db.pager.Close()
			return err
		}
	}
	return nil
}

// replay applies committed journal records newer than the checkpoint to the
// tree, and folds schema updates back into the catalog.
func (db *DB) replay(fromLSN uint64) (int, error) {
	start := time.Now()
	schemaKey := sql.SchemaStateKey()
	replayed := 0
	err := db.wal.ReplayCommitted(fromLSN, func(rec *wal.Record) error {
		replayed++
		switch rec.Op {
		case wal.OpPut:
			if err := db.tree.Insert(rec.Key, rec.After, rec.LSN); err != nil {
				return err
			}
			if bytes.Equal(rec.Key, schemaKey) {
				var snap catalog.Snapshot
				if err := json.Unmarshal(rec.After, &snap); err != nil {
					return fmt.Errorf("failed to decode schema record: %w", err)
				}
				db.cat.Load(&snap)
			}
		case wal.OpDelete:
			if _, err := db.tree.Delete(rec.Key, rec.LSN); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recovery failed: %w", err)
	}
	db.log.logRecovery(replayed, fromLSN, time.Since(start))
	return replayed, nil
}

// rebuildMemoryState recomputes what the manifest does not carry: auto-id
// floors, row count estimates and the vector indexes. Vector snapshots are
// trusted only after a clean shutdown; any replayed record forces a rebuild
// from the stored rows.
func (db *DB) rebuildMemoryState(cleanShutdown bool) error {
	boot := db.mgr.Begin()
	defer boot.Rollback()

	for _, t := range db.cat.Tables() {
		if err := db.rescanTable(boot, t); err != nil {
			return err
		}
	}

	for _, col := range db.cat.Collections() {
		idx, err := db.loadVectorIndex(boot, col, cleanShutdown)
		if err != nil {
			return err
		}
		db.vectors[col.Name] = idx
	}
	return nil
}

func (db *DB) rescanTable(boot *txn.Txn, t *catalog.Table) error {
	intPK := false
	switch t.PrimaryKeyColumn().Kind {
	case value.KindInt32, value.KindInt64:
		intPK = true
	}

	prefix := value.TablePrefix(t.ID)
	it := boot.NewIterator(prefix, value.PrefixSuccessor(prefix))
	count := int64(0)
	maxID := int64(0)
	seen := false
	for it.Next() {
		count++
		if !intPK {
			continue
		}
		id, _, err := value.DecodeKeyInt(it.Key()[4:])
		if err != nil {
			return fmt.Errorf("table %q: %w", t.Name, err)
		}
		if !seen || id > maxID {
			maxID, seen = id, true
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	db.cat.BumpRowCount(t.Name, count-t.RowCount)
	if seen {
		db.cat.ObserveAutoID(t.Name, maxID)
	}
	return nil
}

func (db *DB) loadVectorIndex(boot *txn.Txn, col *catalog.Collection, trustSnapshot bool) (*vector.Flat, error) {
	path := filepath.Join(db.dir, col.Name+vecSnapshotExt)
	if trustSnapshot {
		if idx, err := vector.LoadSnapshotFile(path); err == nil && idx.Dimension() == col.Dimension {
			return idx, nil
		}
	}

	idx, err := vector.NewFlat(col.Dimension, vector.ParseMetric(col.Metric))
	if err != nil {
		return nil, err
	}
	prefix, err := value.TableKey(catalog.VectorTableID, value.String(col.Name))
	if err != nil {
		return nil, err
	}
	it := boot.NewIterator(prefix, value.PrefixSuccessor(prefix))
	for it.Next() {
		id, err := vectorEntryID(it.Key())
		if err != nil {
			return nil, err
		}
		vec, err := value.DecodeVector(it.Value())
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", col.Name, err)
		}
		if err := idx.Insert(id, vec); err != nil {
			return nil, fmt.Errorf("collection %q: %w", col.Name, err)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

// vectorEntryID extracts the entry id from a vector table key
// (collection, id).
func vectorEntryID(key []byte) (string, error) {
	rest := key[4:]
	_, n, err := value.DecodeKeyString(rest)
	if err != nil {
		return "", fmt.Errorf("malformed vector key: %w", err)
	}
	id, _, err := value.DecodeKeyString(rest[n:])
	if err != nil {
		return "", fmt.Errorf("malformed vector key: %w", err)
	}
	return id, nil
}

func (db *DB) checkpointLoop() {
	defer db.wg.Done()
	ticker := time.NewTicker(checkpointProbe)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-db.stopCh:
			return
		case <-ticker.C:
			due := time.Since(last) >= db.opts.CheckpointInterval ||
				db.wal.Size() >= db.opts.CheckpointWALBytes
			if !due {
				continue
			}
			if err := db.Checkpoint(context.Background()); err != nil {
				db.log.logCheckpointError(err)
			}
			last = time.Now()
		}
	}
}

// Checkpoint flushes all dirty pages, truncates the journal and persists a
// new manifest. Committed state before the checkpoint no longer needs
// replay at the next open.
func (db *DB) Checkpoint(ctx context.Context) error {
	db.ckMu.Lock()
	defer db.ckMu.Unlock()
	start := time.Now()

	db.mgr.PauseCommits()
	err := db.pool.FlushAll(ctx)
	var (
		root          storage.PageID
		checkpointLSN uint64
		freeSet       []byte
		catSnap       *catalog.Snapshot
	)
	var pendingFree *roaring64.Bitmap
	if err == nil {
		root = db.tree.Root()
		checkpointLSN, err = db.wal.Checkpoint()
	}
	if err == nil {
		freeSet, err = db.pager.FreeSetBytes()
		catSnap = db.cat.Snapshot()
		// Detach the pending frees under the gate: pages freed by commits
		// after the resume belong to the root being saved and must wait for
		// the next checkpoint.
		pendingFree = db.pager.TakePendingFree()
	}
	db.mgr.ResumeCommits()
	if err != nil {
		return translateError(err)
	}

	m := &manifest.Manifest{
		InstanceID:    db.instanceID,
		PageSize:      db.pager.PageSize(),
		Root:          uint64(root),
		CheckpointLSN: checkpointLSN,
		FreeSet:       freeSet,
		Catalog:       catSnap,
	}
	if err := db.store.Save(m); err != nil {
		return translateError(err)
	}
	db.instanceID = m.InstanceID

	// Only now that the manifest naming the new root is durable may the
	// journal lose its segments and superseded pages become reusable. A
	// crash before the save recovers from the previous manifest, whose
	// replay range is still fully on disk.
	if err := db.wal.TruncateThrough(checkpointLSN); err != nil {
		return translateError(err)
	}
	db.pager.ReleaseFreed(pendingFree)

	db.mgr.GC()
	db.log.logCheckpoint(checkpointLSN, time.Since(start))
	return nil
}

// Close checkpoints, snapshots the vector indexes and releases the data
// directory. Further calls on the handle return ErrClosed.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	close(db.stopCh)
	db.wg.Wait()

	errs := []error{db.Checkpoint(context.Background())}

	db.vecMu.RLock()
	for name, idx := range db.vectors {
		if err := idx.SaveSnapshotFile(filepath.Join(db.dir, name+vecSnapshotExt)); err != nil {
			errs = append(errs, fmt.Errorf("failed to snapshot collection %q: %w", name, err))
		}
	}
	db.vecMu.RUnlock()

	errs = append(errs, db.wal.Close(), db.pager.Close())
	db.releaseLock()
	db.log.logClose(db.dir)
	return translateError(errors.Join(errs...))
}

func (db *DB) guard() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Execute runs one SQL statement in its own transaction.
func (db *DB) Execute(ctx context.Context, query string) (*Result, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	tx := db.mgr.Begin()
	res, err := db.eng.Execute(ctx, tx, query)
	if err != nil {
		tx.Rollback()
		return nil, translateError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateError(err)
	}
	return res, nil
}

// Txn is an explicit transaction handle. Operations see the snapshot taken
// at Begin plus the transaction's own writes.
type Txn struct {
	db *DB
	tx *txn.Txn
}

// Begin starts an explicit transaction.
func (db *DB) Begin() (*Txn, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	return &Txn{db: db, tx: db.mgr.Begin()}, nil
}

// Execute runs one SQL statement inside the transaction.
func (t *Txn) Execute(ctx context.Context, query string) (*Result, error) {
	res, err := t.db.eng.Execute(ctx, t.tx, query)
	return res, translateError(err)
}

// Insert writes a row, generating the primary key when the row omits it.
func (t *Txn) Insert(tableName string, row value.Row) (int64, error) {
	id, err := t.db.eng.InsertRow(t.tx, tableName, row)
	return id, translateError(err)
}

// Get reads the row stored under pk.
func (t *Txn) Get(tableName string, pk value.Value) (value.Row, error) {
	tbl, err := t.db.cat.Table(tableName)
	if err != nil {
		return nil, kindError(KindNotFound, err)
	}
	row, ok, err := table.Get(t.tx, tbl, pk)
	if err != nil {
		return nil, translateError(err)
	}
	if !ok {
		return nil, kindErrorf(KindNotFound, "row %s in table %q", pk, tableName)
	}
	return row, nil
}

// Update merges changes into the row stored under pk.
func (t *Txn) Update(tableName string, pk value.Value, changes value.Row) error {
	row, err := t.Get(tableName, pk)
	if err != nil {
		return err
	}
	tbl, _ := t.db.cat.Table(tableName)
	for name, v := range changes {
		if name == tbl.PrimaryKey && !v.Equal(pk) {
			return kindErrorf(KindConstraint, "cannot change primary key of table %q", tableName)
		}
		row[name] = v
	}
	return translateError(table.Put(t.tx, tbl, row))
}

// Delete removes the row stored under pk.
func (t *Txn) Delete(tableName string, pk value.Value) error {
	tbl, err := t.db.cat.Table(tableName)
	if err != nil {
		return kindError(KindNotFound, err)
	}
	existed, err := table.Delete(t.tx, tbl, pk)
	if err != nil {
		return translateError(err)
	}
	if !existed {
		return kindErrorf(KindNotFound, "row %s in table %q", pk, tableName)
	}
	name := tbl.Name
	t.tx.OnCommit(func() { t.db.cat.BumpRowCount(name, -1) })
	return nil
}

// Commit makes the transaction's writes durable, failing with a conflict
// error when another transaction committed an overlapping write first.
func (t *Txn) Commit(ctx context.Context) error {
	return translateError(t.tx.Commit(ctx))
}

// Rollback discards the transaction. Safe to call after Commit.
func (t *Txn) Rollback() {
	t.tx.Rollback()
}

// autocommit runs fn in its own transaction.
func (db *DB) autocommit(ctx context.Context, fn func(t *Txn) error) error {
	if err := db.guard(); err != nil {
		return err
	}
	t := &Txn{db: db, tx: db.mgr.Begin()}
	if err := fn(t); err != nil {
		t.Rollback()
		return err
	}
	return t.Commit(ctx)
}

// Insert writes a row, generating the primary key when the row omits it.
func (db *DB) Insert(ctx context.Context, tableName string, row value.Row) (int64, error) {
	var id int64
	err := db.autocommit(ctx, func(t *Txn) error {
		var err error
		id, err = t.Insert(tableName, row)
		return err
	})
	return id, err
}

// Get reads the row stored under pk.
func (db *DB) Get(ctx context.Context, tableName string, pk value.Value) (value.Row, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	t := &Txn{db: db, tx: db.mgr.Begin()}
	defer t.Rollback()
	return t.Get(tableName, pk)
}

// Update merges changes into the row stored under pk.
func (db *DB) Update(ctx context.Context, tableName string, pk value.Value, changes value.Row) error {
	return db.autocommit(ctx, func(t *Txn) error {
		return t.Update(tableName, pk, changes)
	})
}

// Delete removes the row stored under pk.
func (db *DB) Delete(ctx context.Context, tableName string, pk value.Value) error {
	return db.autocommit(ctx, func(t *Txn) error {
		return t.Delete(tableName, pk)
	})
}

// StoreVector upserts a vector into a collection. The first write to a
// collection creates it, fixing the dimension; later writes must match.
func (db *DB) StoreVector(ctx context.Context, collection, id string, vec []float32) error {
	if err := db.guard(); err != nil {
		return err
	}
	if len(vec) == 0 {
		return kindErrorf(KindDimension, "vector must not be empty")
	}

	db.vecMu.Lock()
	defer db.vecMu.Unlock()

	idx := db.vectors[collection]
	newCollection := false
	if idx == nil {
		if _, err := db.cat.CreateCollection(collection, len(vec), vector.MetricL2.String()); err != nil {
			return translateError(err)
		}
		newCollection = true
		var err error
		if idx, err = vector.NewFlat(len(vec), vector.MetricL2); err != nil {
			return translateError(err)
		}
	}
	if idx.Dimension() != len(vec) {
		return kindError(KindDimension,
			&vector.ErrDimensionMismatch{Expected: idx.Dimension(), Actual: len(vec)})
	}

	key, err := value.TableKey(catalog.VectorTableID, value.String(collection), value.String(id))
	if err != nil {
		return translateError(err)
	}

	tx := db.mgr.Begin()
	if newCollection {
		name := collection
		tx.OnRollback(func() { db.cat.DropCollection(name) })
	}
	if err := tx.Put(key, value.EncodeVector(vec)); err != nil {
		tx.Rollback()
		return translateError(err)
	}
	if newCollection {
		if err := db.persistSchema(tx); err != nil {
			tx.Rollback()
			return translateError(err)
		}
	}
	cp := append([]float32(nil), vec...)
	tx.OnCommit(func() { _ = idx.Insert(id, cp) })
	if err := tx.Commit(ctx); err != nil {
		return translateError(err)
	}
	db.vectors[collection] = idx
	return nil
}

// GetVector reads a stored vector.
func (db *DB) GetVector(ctx context.Context, collection, id string) ([]float32, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	key, err := value.TableKey(catalog.VectorTableID, value.String(collection), value.String(id))
	if err != nil {
		return nil, translateError(err)
	}
	tx := db.mgr.Begin()
	defer tx.Rollback()
	data, ok, err := tx.Get(key)
	if err != nil {
		return nil, translateError(err)
	}
	if !ok {
		return nil, kindErrorf(KindNotFound, "vector %q in collection %q", id, collection)
	}
	vec, err := value.DecodeVector(data)
	return vec, translateError(err)
}

// DeleteVector removes a vector from a collection.
func (db *DB) DeleteVector(ctx context.Context, collection, id string) error {
	if err := db.guard(); err != nil {
		return err
	}
	db.vecMu.RLock()
	idx, ok := db.vectors[collection]
	db.vecMu.RUnlock()
	if !ok {
		return kindErrorf(KindNotFound, "collection %q", collection)
	}
	key, err := value.TableKey(catalog.VectorTableID, value.String(collection), value.String(id))
	if err != nil {
		return translateError(err)
	}
	tx := db.mgr.Begin()
	_, ok, err = tx.Get(key)
	if err != nil || !ok {
		tx.Rollback()
		if err != nil {
			return translateError(err)
		}
		return kindErrorf(KindNotFound, "vector %q in collection %q", id, collection)
	}
	if err := tx.Delete(key); err != nil {
		tx.Rollback()
		return translateError(err)
	}
	tx.OnCommit(func() { idx.Delete(id) })
	return translateError(tx.Commit(ctx))
}

// VectorSearch returns the k nearest stored vectors to q, ascending by
// distance, ties broken by insertion order.
func (db *DB) VectorSearch(ctx context.Context, collection string, q []float32, k int) ([]SearchResult, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	db.vecMu.RLock()
	idx, ok := db.vectors[collection]
	db.vecMu.RUnlock()
	if !ok {
		return nil, kindErrorf(KindNotFound, "collection %q", collection)
	}
	res, err := idx.Search(q, k)
	if err != nil {
		if errors.Is(err, vector.ErrInvalidK) {
			return nil, kindError(KindPlan, err)
		}
		return nil, translateError(err)
	}
	return res, nil
}

// StoreNode upserts a graph node with its properties.
func (db *DB) StoreNode(ctx context.Context, graphName, id string, props map[string]any) error {
	key, err := graph.NodeKey(graphName, id)
	if err != nil {
		return translateError(err)
	}
	data, err := marshalProps(props)
	if err != nil {
		return err
	}
	return db.autocommit(ctx, func(t *Txn) error {
		return translateError(t.tx.Put(key, data))
	})
}

// GetNode reads a node's properties.
func (db *DB) GetNode(ctx context.Context, graphName, id string) (map[string]any, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	key, err := graph.NodeKey(graphName, id)
	if err != nil {
		return nil, translateError(err)
	}
	tx := db.mgr.Begin()
	defer tx.Rollback()
	data, ok, err := tx.Get(key)
	if err != nil {
		return nil, translateError(err)
	}
	if !ok {
		return nil, kindErrorf(KindNotFound, "node %q in graph %q", id, graphName)
	}
	var props map[string]any
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("failed to decode node %q: %w", id, err)
	}
	return props, nil
}

// StoreEdge upserts a directed edge under a relation. Both endpoints must
// already exist; symmetric relations are stored as two edges.
func (db *DB) StoreEdge(ctx context.Context, graphName, from, to, relation string, props map[string]any) error {
	key, err := graph.EdgeKey(graphName, from, relation, to)
	if err != nil {
		return translateError(err)
	}
	data, err := marshalProps(props)
	if err != nil {
		return err
	}
	return db.autocommit(ctx, func(t *Txn) error {
		for _, node := range []string{from, to} {
			nk, err := graph.NodeKey(graphName, node)
			if err != nil {
				return translateError(err)
			}
			if _, ok, err := t.tx.Get(nk); err != nil {
				return translateError(err)
			} else if !ok {
				return kindErrorf(KindNotFound, "node %q in graph %q", node, graphName)
			}
		}
		return translateError(t.tx.Put(key, data))
	})
}

// Neighbors returns the ids of nodes reachable from id over one edge of
// the given relation, in key order.
func (db *DB) Neighbors(ctx context.Context, graphName, id, relation string) ([]string, error) {
	if err := db.guard(); err != nil {
		return nil, err
	}
	prefix, err := graph.RelationPrefix(graphName, id, relation)
	if err != nil {
		return nil, translateError(err)
	}
	tx := db.mgr.Begin()
	defer tx.Rollback()

	var out []string
	it := tx.NewIterator(prefix, value.PrefixSuccessor(prefix))
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target, err := graph.EdgeTarget(it.Key())
		if err != nil {
			return nil, translateError(err)
		}
		out = append(out, target)
	}
	if err := it.Err(); err != nil {
		return nil, translateError(err)
	}
	return out, nil
}

func marshalProps(props map[string]any) ([]byte, error) {
	if props == nil {
		props = map[string]any{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}
	return data, nil
}

// persistSchema writes the catalog snapshot into the transaction so the
// change replays from the journal.
func (db *DB) persistSchema(tx *txn.Txn) error {
	data, err := json.Marshal(db.cat.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to serialize schema: %w", err)
	}
	return tx.Put(sql.SchemaStateKey(), data)
}

// Info is a point-in-time description of the open database.
type Info struct {
	InstanceID  string
	PageSize    int
	Tables      []string
	Collections []string
	WALBytes    int64
	PoolBytes   int64
	PoolPages   int
}

// Info reports the database's current shape.
func (db *DB) Info() Info {
	info := Info{
		InstanceID: db.instanceID,
		PageSize:   db.pager.PageSize(),
		WALBytes:   db.wal.Size(),
	}
	info.PoolBytes, info.PoolPages = db.pool.Stats()
	for _, t := range db.cat.Tables() {
		info.Tables = append(info.Tables, t.Name)
	}
	for _, c := range db.cat.Collections() {
		info.Collections = append(info.Collections, c.Name)
	}
	return info
}
