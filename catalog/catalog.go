// Package catalog holds the schema: tables, columns, primary keys, vector
// collections and the id allocator. The catalog lives in memory and is
// persisted as part of the manifest at every checkpoint; between
// checkpoints DDL is recovered from the WAL like any other write.
package catalog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wahyudedik/qubedb/value"
)

// Table ids below FirstUserTableID are reserved for system tables.
const (
	// VectorTableID keys vector collection entries (collection, id).
	VectorTableID uint32 = 1
	// GraphNodeTableID keys graph nodes (graph, id).
	GraphNodeTableID uint32 = 2
	// GraphEdgeTableID keys graph edges (graph, from, relation, to).
	GraphEdgeTableID uint32 = 3
	// SchemaTableID keys the serialized catalog snapshot, written on every
	// DDL statement so schema changes replay from the WAL.
	SchemaTableID uint32 = 4

	// FirstUserTableID is the first id handed to CREATE TABLE.
	FirstUserTableID uint32 = 16
)

var (
	ErrTableExists        = errors.New("table already exists")
	ErrTableNotFound      = errors.New("table not found")
	ErrColumnExists       = errors.New("column already exists")
	ErrColumnNotFound     = errors.New("column not found")
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
)

// Table describes one user table.
type Table struct {
	ID         uint32            `json:"id"`
	Name       string            `json:"name"`
	Columns    []value.ColumnDef `json:"columns"`
	PrimaryKey string            `json:"primary_key"`

	// NextAutoID feeds primary keys for inserts that omit one. Recomputed
	// at recovery from the highest stored key, so it only has to be
	// monotonic within a run.
	NextAutoID int64 `json:"next_auto_id"`

	// RowCount is a maintained estimate used by the planner for join
	// ordering. It is advisory, not transactional.
	RowCount int64 `json:"row_count"`
}

// Column returns the definition of the named column.
func (t *Table) Column(name string) (value.ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return value.ColumnDef{}, false
}

// PrimaryKeyColumn returns the primary key column definition.
func (t *Table) PrimaryKeyColumn() value.ColumnDef {
	c, _ := t.Column(t.PrimaryKey)
	return c
}

// Collection describes one vector collection.
type Collection struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

// Catalog is the in-memory schema registry. Safe for concurrent use.
type Catalog struct {
	mu          sync.RWMutex
	nextTableID uint32
	tables      map[string]*Table
	byID        map[uint32]*Table
	collections map[string]*Collection
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		nextTableID: FirstUserTableID,
		tables:      make(map[string]*Table),
		byID:        make(map[uint32]*Table),
		collections: make(map[string]*Collection),
	}
}

func keyableKind(k value.Kind) bool {
	switch k {
	case value.KindBool, value.KindInt32, value.KindInt64, value.KindFloat64,
		value.KindString, value.KindBinary, value.KindTimestamp:
		return true
	default:
		return false
	}
}

// CreateTable registers a table. The primary key column must exist and
// carry an orderable, key-encodable kind.
func (c *Catalog) CreateTable(name string, cols []value.ColumnDef, primaryKey string) (*Table, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q needs at least one column", name)
	}
	seen := make(map[string]struct{}, len(cols))
	for _, col := range cols {
		if _, dup := seen[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", col.Name)
		}
		seen[col.Name] = struct{}{}
	}

	var pkDef *value.ColumnDef
	for i := range cols {
		if cols[i].Name == primaryKey {
			pkDef = &cols[i]
			break
		}
	}
	if pkDef == nil {
		return nil, fmt.Errorf("%w: primary key %q", ErrColumnNotFound, primaryKey)
	}
	if !keyableKind(pkDef.Kind) {
		return nil, fmt.Errorf("kind %s cannot be a primary key", pkDef.Kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrTableExists, name)
	}

	t := &Table{
		ID:         c.nextTableID,
		Name:       name,
		Columns:    append([]value.ColumnDef(nil), cols...),
		PrimaryKey: primaryKey,
		NextAutoID: 1,
	}
	c.nextTableID++
	c.tables[name] = t
	c.byID[t.ID] = t
	return t, nil
}

// DropTable removes a table definition and returns it, so the caller can
// purge its key range.
func (c *Catalog) DropTable(name string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	delete(c.tables, name)
	delete(c.byID, t.ID)
	return t, nil
}

// RestoreTable reinstates a table definition removed by a DROP TABLE whose
// transaction rolled back. The id allocator never rewinds, so the table's
// id is still unique.
func (c *Catalog) RestoreTable(t *Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[t.Name] = t
	c.byID[t.ID] = t
}

// Table returns the definition of the named table.
func (c *Catalog) Table(name string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return t, nil
}

// TableByID returns the definition with the given id.
func (c *Catalog) TableByID(id uint32) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	return t, ok
}

// Tables returns all table definitions in unspecified order.
func (c *Catalog) Tables() []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	return out
}

// AddColumn appends a column to a table. Existing rows decode the new
// column as NULL, so NOT NULL additions are rejected.
func (c *Catalog) AddColumn(table string, col value.ColumnDef) error {
	if col.NotNull {
		return fmt.Errorf("cannot add NOT NULL column %q to existing rows", col.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	if _, exists := t.Column(col.Name); exists {
		return fmt.Errorf("%w: %q", ErrColumnExists, col.Name)
	}
	t.Columns = append(t.Columns, col)
	return nil
}

// DropColumn removes a column definition. The caller rewrites stored rows.
func (c *Catalog) DropColumn(table, column string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	if column == t.PrimaryKey {
		return fmt.Errorf("cannot drop primary key column %q", column)
	}
	for i, col := range t.Columns {
		if col.Name == column {
			t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrColumnNotFound, column)
}

// RestoreColumn reinserts a column definition at its original position,
// undoing a rolled-back DROP COLUMN. Row encoding is positional, so the
// index matters.
func (c *Catalog) RestoreColumn(table string, col value.ColumnDef, idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		return
	}
	if idx < 0 || idx > len(t.Columns) {
		idx = len(t.Columns)
	}
	cols := make([]value.ColumnDef, 0, len(t.Columns)+1)
	cols = append(cols, t.Columns[:idx]...)
	cols = append(cols, col)
	cols = append(cols, t.Columns[idx:]...)
	t.Columns = cols
}

// DropCollection removes a collection definition, undoing a rolled-back
// implicit create.
func (c *Catalog) DropCollection(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.collections, name)
}

// CreateCollection registers a vector collection.
func (c *Catalog) CreateCollection(name string, dimension int, metric string) (*Collection, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("collection %q: dimension must be positive", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.collections[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionExists, name)
	}
	col := &Collection{Name: name, Dimension: dimension, Metric: metric}
	c.collections[name] = col
	return col, nil
}

// Collection returns the named collection definition.
func (c *Catalog) Collection(name string) (*Collection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	col, ok := c.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	return col, nil
}

// Collections returns all collection definitions.
func (c *Catalog) Collections() []*Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Collection, 0, len(c.collections))
	for _, col := range c.collections {
		out = append(out, col)
	}
	return out
}

// NextAutoID hands out the next auto primary key for a table.
func (c *Catalog) NextAutoID(table string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	id := t.NextAutoID
	t.NextAutoID++
	return id, nil
}

// ObserveAutoID raises the auto-id floor above an explicitly inserted key.
func (c *Catalog) ObserveAutoID(table string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[table]; ok && id >= t.NextAutoID {
		t.NextAutoID = id + 1
	}
}

// BumpRowCount adjusts the planner's cardinality estimate.
func (c *Catalog) BumpRowCount(table string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[table]; ok {
		t.RowCount += delta
		if t.RowCount < 0 {
			t.RowCount = 0
		}
	}
}

// Snapshot is the serializable form of the catalog stored in the manifest.
type Snapshot struct {
	NextTableID uint32        `json:"next_table_id"`
	Tables      []*Table      `json:"tables"`
	Collections []*Collection `json:"collections"`
}

// Snapshot captures the catalog for persistence.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := &Snapshot{NextTableID: c.nextTableID}
	for _, t := range c.tables {
		cp := *t
		cp.Columns = append([]value.ColumnDef(nil), t.Columns...)
		s.Tables = append(s.Tables, &cp)
	}
	for _, col := range c.collections {
		cp := *col
		s.Collections = append(s.Collections, &cp)
	}
	return s
}

// Load replaces the catalog's contents with a snapshot.
func (c *Catalog) Load(s *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTableID = s.NextTableID
	if c.nextTableID < FirstUserTableID {
		c.nextTableID = FirstUserTableID
	}
	c.tables = make(map[string]*Table, len(s.Tables))
	c.byID = make(map[uint32]*Table, len(s.Tables))
	for _, t := range s.Tables {
		cp := *t
		c.tables[cp.Name] = &cp
		c.byID[cp.ID] = &cp
	}
	c.collections = make(map[string]*Collection, len(s.Collections))
	for _, col := range s.Collections {
		cp := *col
		c.collections[cp.Name] = &cp
	}
}
