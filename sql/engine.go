// Package sql parses, plans and executes the engine's SQL dialect on top
// of the transactional key/value layer.
package sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wahyudedik/qubedb/catalog"
	"github.com/wahyudedik/qubedb/table"
	"github.com/wahyudedik/qubedb/txn"
	"github.com/wahyudedik/qubedb/value"
)

// ErrDuplicateKey reports an INSERT that collides with an existing
// primary key.
var ErrDuplicateKey = errors.New("duplicate primary key")

// Result is the outcome of one executed statement.
type Result struct {
	// Columns names the output columns of a SELECT, in projection order.
	Columns []string
	// Rows holds the result set of a SELECT.
	Rows []value.Row
	// RowsAffected counts rows written by INSERT, UPDATE or DELETE.
	RowsAffected int64
	// LastInsertID is the auto-assigned primary key of the last inserted
	// row, when the table generated one.
	LastInsertID int64
}

// Engine executes SQL statements inside caller-provided transactions.
type Engine struct {
	cat *catalog.Catalog
}

// NewEngine creates an engine over the given catalog.
func NewEngine(cat *catalog.Catalog) *Engine {
	return &Engine{cat: cat}
}

// SchemaStateKey is the storage key holding the serialized catalog. Every
// DDL statement rewrites it inside the executing transaction, so schema
// changes reach the WAL and replay on recovery.
func SchemaStateKey() []byte {
	return value.TablePrefix(catalog.SchemaTableID)
}

// Execute parses and runs a single statement.
func (e *Engine) Execute(ctx context.Context, tx *txn.Txn, query string) (*Result, error) {
	stmt, err := Parse(query)
	if err != nil {
		return nil, err
	}
	switch s := stmt.(type) {
	case *SelectStmt:
		return e.executeSelect(ctx, tx, s)
	case *InsertStmt:
		return e.executeInsert(tx, s)
	case *UpdateStmt:
		return e.executeUpdate(ctx, tx, s)
	case *DeleteStmt:
		return e.executeDelete(ctx, tx, s)
	case *CreateTableStmt:
		return e.executeCreateTable(tx, s)
	case *DropTableStmt:
		return e.executeDropTable(tx, s)
	case *AlterTableStmt:
		return e.executeAlterTable(ctx, tx, s)
	default:
		return nil, planErrf("unsupported statement %T", stmt)
	}
}

func (e *Engine) executeSelect(ctx context.Context, tx *txn.Txn, stmt *SelectStmt) (*Result, error) {
	plan, err := planSelect(e.cat, stmt)
	if err != nil {
		return nil, err
	}
	cols, err := e.selectColumns(stmt)
	if err != nil {
		return nil, err
	}
	op, err := buildOperator(plan)
	if err != nil {
		return nil, err
	}
	ec := &execCtx{ctx: ctx, tx: tx, cat: e.cat}
	if err := op.open(ec); err != nil {
		return nil, err
	}
	defer op.close()

	res := &Result{Columns: cols}
	for {
		row, ok, err := op.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return res, nil
		}
		res.Rows = append(res.Rows, row)
	}
}

// selectColumns resolves the output column names in projection order,
// expanding stars against the schema.
func (e *Engine) selectColumns(stmt *SelectStmt) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	add := func(name string) {
		out = append(out, name)
		seen[name] = struct{}{}
	}
	expandStar := func() error {
		base, err := e.cat.Table(stmt.Table)
		if err != nil {
			return planErrf("%v", err)
		}
		for _, col := range base.Columns {
			add(col.Name)
		}
		for _, jc := range stmt.Joins {
			jt, err := e.cat.Table(jc.Table)
			if err != nil {
				return planErrf("%v", err)
			}
			qualifier := jc.Alias
			if qualifier == "" {
				qualifier = jt.Name
			}
			for _, col := range jt.Columns {
				if _, taken := seen[col.Name]; taken {
					add(qualifier + "." + col.Name)
				} else {
					add(col.Name)
				}
			}
		}
		return nil
	}

	for i, item := range stmt.Items {
		if item.Star {
			if err := expandStar(); err != nil {
				return nil, err
			}
			continue
		}
		add(itemName(item, i))
	}
	return out, nil
}

func (e *Engine) executeInsert(tx *txn.Txn, stmt *InsertStmt) (*Result, error) {
	t, err := e.cat.Table(stmt.Table)
	if err != nil {
		return nil, planErrf("%v", err)
	}

	cols := stmt.Columns
	if len(cols) == 0 {
		cols = make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name
		}
	}
	for _, name := range cols {
		if _, ok := t.Column(name); !ok {
			return nil, planErrf("table %q has no column %q", t.Name, name)
		}
	}

	res := &Result{}
	for _, exprs := range stmt.Rows {
		if len(exprs) != len(cols) {
			return nil, planErrf("INSERT has %d values for %d columns", len(exprs), len(cols))
		}
		row := make(value.Row, len(cols))
		for i, ex := range exprs {
			v, err := evalExpr(ex, value.Row{})
			if err != nil {
				return nil, err
			}
			row[cols[i]] = v
		}
		id, generated, err := e.insertRow(tx, t, row)
		if err != nil {
			return nil, err
		}
		if generated {
			res.LastInsertID = id
		}
		res.RowsAffected++
	}

	affected := res.RowsAffected
	name := t.Name
	tx.OnCommit(func() { e.cat.BumpRowCount(name, affected) })
	return res, nil
}

// InsertRow writes one already-materialized row into the named table,
// generating the primary key when the row omits it. It returns the integer
// primary key when one applies.
func (e *Engine) InsertRow(tx *txn.Txn, tableName string, row value.Row) (int64, error) {
	t, err := e.cat.Table(tableName)
	if err != nil {
		return 0, planErrf("%v", err)
	}
	id, _, err := e.insertRow(tx, t, row.Clone())
	if err != nil {
		return 0, err
	}
	name := t.Name
	tx.OnCommit(func() { e.cat.BumpRowCount(name, 1) })
	return id, nil
}

func (e *Engine) insertRow(tx *txn.Txn, t *catalog.Table, row value.Row) (id int64, generated bool, err error) {
	pk, hasPK := row[t.PrimaryKey]
	if !hasPK || pk.IsNull() {
		auto, err := e.autoPrimaryKey(t)
		if err != nil {
			return 0, false, err
		}
		row[t.PrimaryKey] = auto
		pk, generated = auto, true
	} else if pk.IsNumeric() {
		e.cat.ObserveAutoID(t.Name, pk.AsInt())
	}

	key, err := table.Key(t, pk)
	if err != nil {
		return 0, false, err
	}
	if _, exists, err := tx.Get(key); err != nil {
		return 0, false, err
	} else if exists {
		return 0, false, fmt.Errorf("%w: %s in table %q", ErrDuplicateKey, pk, t.Name)
	}
	if err := table.Put(tx, t, row); err != nil {
		return 0, false, err
	}
	if pk.IsNumeric() {
		id = pk.AsInt()
	}
	return id, generated, nil
}

// autoPrimaryKey draws the next generated key for an integer primary key.
func (e *Engine) autoPrimaryKey(t *catalog.Table) (value.Value, error) {
	switch t.PrimaryKeyColumn().Kind {
	case value.KindInt32, value.KindInt64:
	default:
		return value.Value{}, planErrf("table %q requires an explicit %s primary key",
			t.Name, t.PrimaryKeyColumn().Kind)
	}
	id, err := e.cat.NextAutoID(t.Name)
	if err != nil {
		return value.Value{}, err
	}
	return value.Int64(id), nil
}

func (e *Engine) executeUpdate(ctx context.Context, tx *txn.Txn, stmt *UpdateStmt) (*Result, error) {
	t, err := e.cat.Table(stmt.Table)
	if err != nil {
		return nil, planErrf("%v", err)
	}
	for _, as := range stmt.Set {
		if as.Column == t.PrimaryKey {
			return nil, planErrf("cannot update primary key column %q", as.Column)
		}
		if _, ok := t.Column(as.Column); !ok {
			return nil, planErrf("table %q has no column %q", t.Name, as.Column)
		}
	}

	rows, err := e.matchingRows(ctx, tx, t, stmt.Where)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, row := range rows {
		updated := row.Clone()
		for _, as := range stmt.Set {
			v, err := evalExpr(as.Value, row)
			if err != nil {
				return nil, err
			}
			updated[as.Column] = v
		}
		if err := table.Put(tx, t, updated); err != nil {
			return nil, err
		}
		res.RowsAffected++
	}
	return res, nil
}

func (e *Engine) executeDelete(ctx context.Context, tx *txn.Txn, stmt *DeleteStmt) (*Result, error) {
	t, err := e.cat.Table(stmt.Table)
	if err != nil {
		return nil, planErrf("%v", err)
	}
	rows, err := e.matchingRows(ctx, tx, t, stmt.Where)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, row := range rows {
		if _, err := table.Delete(tx, t, row[t.PrimaryKey]); err != nil {
			return nil, err
		}
		res.RowsAffected++
	}

	affected := res.RowsAffected
	name := t.Name
	tx.OnCommit(func() { e.cat.BumpRowCount(name, -affected) })
	return res, nil
}

// matchingRows materializes the rows a WHERE clause selects, using the
// same scan narrowing as SELECT. UPDATE and DELETE materialize before
// writing so the mutation never chases its own iterator.
func (e *Engine) matchingRows(ctx context.Context, tx *txn.Txn, t *catalog.Table, where Expr) ([]value.Row, error) {
	scan := &scanNode{table: t}
	residual := narrowScan(scan, where)
	var node planNode = scan
	if residual != nil {
		if err := validateExpr(residual, true); err != nil {
			return nil, err
		}
		node = &filterNode{input: scan, cond: residual}
	}
	op, err := buildOperator(node)
	if err != nil {
		return nil, err
	}
	if err := op.open(&execCtx{ctx: ctx, tx: tx, cat: e.cat}); err != nil {
		return nil, err
	}
	defer op.close()

	var rows []value.Row
	for {
		row, ok, err := op.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, row)
	}
}

func (e *Engine) executeCreateTable(tx *txn.Txn, stmt *CreateTableStmt) (*Result, error) {
	cols := make([]value.ColumnDef, len(stmt.Columns))
	primaryKey := ""
	for i, spec := range stmt.Columns {
		cols[i] = value.ColumnDef{
			Name:      spec.Name,
			Kind:      spec.Kind,
			NotNull:   spec.NotNull || spec.PrimaryKey,
			VectorDim: spec.VectorDim,
		}
		if spec.PrimaryKey {
			if primaryKey != "" {
				return nil, planErrf("table %q declares multiple primary keys", stmt.Name)
			}
			primaryKey = spec.Name
		}
	}
	if primaryKey == "" {
		return nil, planErrf("table %q needs a PRIMARY KEY column", stmt.Name)
	}

	if _, err := e.cat.CreateTable(stmt.Name, cols, primaryKey); err != nil {
		return nil, planErrf("%v", err)
	}
	// The catalog change is visible to the session immediately; if the
	// transaction never commits, the table must vanish with it.
	name := stmt.Name
	tx.OnRollback(func() { _, _ = e.cat.DropTable(name) })
	if err := e.persistSchema(tx); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (e *Engine) executeDropTable(tx *txn.Txn, stmt *DropTableStmt) (*Result, error) {
	t, err := e.cat.DropTable(stmt.Name)
	if err != nil {
		return nil, planErrf("%v", err)
	}
	tx.OnRollback(func() { e.cat.RestoreTable(t) })

	// Purge the table's key range.
	prefix := value.TablePrefix(t.ID)
	it := tx.NewIterator(prefix, value.PrefixSuccessor(prefix))
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return nil, err
		}
	}

	if err := e.persistSchema(tx); err != nil {
		return nil, err
	}
	return &Result{RowsAffected: int64(len(keys))}, nil
}

func (e *Engine) executeAlterTable(ctx context.Context, tx *txn.Txn, stmt *AlterTableStmt) (*Result, error) {
	switch {
	case stmt.AddColumn != nil:
		spec := stmt.AddColumn
		col := value.ColumnDef{Name: spec.Name, Kind: spec.Kind, NotNull: spec.NotNull, VectorDim: spec.VectorDim}
		if err := e.cat.AddColumn(stmt.Table, col); err != nil {
			return nil, planErrf("%v", err)
		}
		tableName := stmt.Table
		tx.OnRollback(func() { _ = e.cat.DropColumn(tableName, col.Name) })
		if err := e.persistSchema(tx); err != nil {
			return nil, err
		}
		return &Result{}, nil

	case stmt.DropColumn != "":
		return e.executeDropColumn(ctx, tx, stmt)

	default:
		return nil, planErrf("ALTER TABLE without an action")
	}
}

// executeDropColumn rewrites every stored row without the dropped cell
// before the schema loses the column, so old rows never decode against a
// shorter schema.
func (e *Engine) executeDropColumn(ctx context.Context, tx *txn.Txn, stmt *AlterTableStmt) (*Result, error) {
	t, err := e.cat.Table(stmt.Table)
	if err != nil {
		return nil, planErrf("%v", err)
	}
	if stmt.DropColumn == t.PrimaryKey {
		return nil, planErrf("cannot drop primary key column %q", stmt.DropColumn)
	}
	if _, ok := t.Column(stmt.DropColumn); !ok {
		return nil, planErrf("table %q has no column %q", t.Name, stmt.DropColumn)
	}

	rows, err := e.matchingRows(ctx, tx, t, nil)
	if err != nil {
		return nil, err
	}
	dropped, _ := t.Column(stmt.DropColumn)
	droppedIdx := -1
	for i, col := range t.Columns {
		if col.Name == stmt.DropColumn {
			droppedIdx = i
			break
		}
	}
	if err := e.cat.DropColumn(stmt.Table, stmt.DropColumn); err != nil {
		return nil, planErrf("%v", err)
	}
	tableName := stmt.Table
	tx.OnRollback(func() { e.cat.RestoreColumn(tableName, dropped, droppedIdx) })
	for _, row := range rows {
		delete(row, stmt.DropColumn)
		if err := table.Put(tx, t, row); err != nil {
			return nil, err
		}
	}
	if err := e.persistSchema(tx); err != nil {
		return nil, err
	}
	return &Result{RowsAffected: int64(len(rows))}, nil
}

// persistSchema writes the catalog snapshot into the transaction, putting
// the DDL on the same durability path as the data it governs.
func (e *Engine) persistSchema(tx *txn.Txn) error {
	data, err := json.Marshal(e.cat.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to serialize schema: %w", err)
	}
	return tx.Put(SchemaStateKey(), data)
}
