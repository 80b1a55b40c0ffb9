package sql

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahyudedik/qubedb/btree"
	"github.com/wahyudedik/qubedb/catalog"
	"github.com/wahyudedik/qubedb/storage"
	"github.com/wahyudedik/qubedb/txn"
	"github.com/wahyudedik/qubedb/wal"
)

func newTestEngine(t *testing.T) (*Engine, *txn.Manager) {
	t.Helper()
	dir := t.TempDir()
	pager, err := storage.OpenPager(filepath.Join(dir, "pages.qdb"), storage.DefaultPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pager.Close() })

	w, err := wal.Open(filepath.Join(dir, "wal"), func(o *wal.Options) {
		o.Durability = wal.DurabilityAsync
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	pool := storage.NewPool(pager, w)
	return NewEngine(catalog.New()), txn.NewManager(btree.New(pool, pager, 0), w)
}

// exec runs one statement in its own transaction and commits it.
func exec(t *testing.T, e *Engine, m *txn.Manager, query string) *Result {
	t.Helper()
	tx := m.Begin()
	res, err := e.Execute(context.Background(), tx, query)
	require.NoError(t, err, "query %q", query)
	require.NoError(t, tx.Commit(context.Background()))
	return res
}

func execErr(t *testing.T, e *Engine, m *txn.Manager, query string) error {
	t.Helper()
	tx := m.Begin()
	defer tx.Rollback()
	_, err := e.Execute(context.Background(), tx, query)
	require.Error(t, err, "query %q", query)
	return err
}

func seedUsers(t *testing.T, e *Engine, m *txn.Manager) {
	t.Helper()
	exec(t, e, m, "CREATE TABLE users (id INT PRIMARY KEY, name STRING, age INT, city STRING)")
	exec(t, e, m, `INSERT INTO users VALUES
		(1, 'alice', 34, 'Jakarta'),
		(2, 'bob', 25, 'Bandung'),
		(3, 'carol', 41, 'Jakarta'),
		(4, 'dave', 25, 'Surabaya')`)
}

func TestExecutePointLookup(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	res := exec(t, e, m, "SELECT name, age FROM users WHERE id = 2")
	assert.Equal(t, []string{"name", "age"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "bob", res.Rows[0]["name"].AsString())
	assert.Equal(t, int64(25), res.Rows[0]["age"].AsInt())
}

func TestExecuteRangeScan(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	res := exec(t, e, m, "SELECT id FROM users WHERE id >= 2 AND id < 4")
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int64(2), res.Rows[0]["id"].AsInt())
	assert.Equal(t, int64(3), res.Rows[1]["id"].AsInt())
}

func TestExecuteStarColumnsInSchemaOrder(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	res := exec(t, e, m, "SELECT * FROM users WHERE id = 1")
	assert.Equal(t, []string{"id", "name", "age", "city"}, res.Columns)
}

func TestExecuteExpressionsAndAliases(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	res := exec(t, e, m, "SELECT name, age * 2 AS doubled FROM users WHERE id = 2")
	assert.Equal(t, []string{"name", "doubled"}, res.Columns)
	assert.Equal(t, int64(50), res.Rows[0]["doubled"].AsInt())
}

func TestExecuteOrderLimitOffset(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	res := exec(t, e, m, "SELECT name FROM users ORDER BY age DESC, name ASC LIMIT 2 OFFSET 1")
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "alice", res.Rows[0]["name"].AsString())
	assert.Equal(t, "bob", res.Rows[1]["name"].AsString())
}

func TestExecuteGroupByAggregates(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	res := exec(t, e, m, `SELECT city, COUNT(*), AVG(age), MIN(name)
		FROM users GROUP BY city ORDER BY city`)
	assert.Equal(t, []string{"city", "count(*)", "avg(age)", "min(name)"}, res.Columns)
	require.Len(t, res.Rows, 3)

	jakarta := res.Rows[1]
	assert.Equal(t, "Jakarta", jakarta["city"].AsString())
	assert.Equal(t, int64(2), jakarta["count(*)"].AsInt())
	assert.Equal(t, 37.5, jakarta["avg(age)"].AsFloat())
	assert.Equal(t, "alice", jakarta["min(name)"].AsString())
}

func TestExecuteGlobalAggregateOnEmptyTable(t *testing.T) {
	e, m := newTestEngine(t)
	exec(t, e, m, "CREATE TABLE empty (id INT PRIMARY KEY)")

	res := exec(t, e, m, "SELECT COUNT(*), SUM(id) FROM empty")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(0), res.Rows[0]["count(*)"].AsInt())
	assert.True(t, res.Rows[0]["sum(id)"].IsNull())
}

func TestExecuteHashJoin(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)
	exec(t, e, m, "CREATE TABLE orders (id INT PRIMARY KEY, user_id INT, amount DOUBLE)")
	exec(t, e, m, `INSERT INTO orders VALUES
		(10, 1, 12.5), (11, 1, 7.5), (12, 3, 99.0), (13, 9, 1.0)`)

	res := exec(t, e, m, `SELECT name, amount FROM orders
		JOIN users ON user_id = users.id ORDER BY amount`)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "alice", res.Rows[0]["name"].AsString())
	assert.Equal(t, 7.5, res.Rows[0]["amount"].AsFloat())
	assert.Equal(t, "carol", res.Rows[2]["name"].AsString())
}

func TestExecuteJoinQualifiesCollidingColumns(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)
	exec(t, e, m, "CREATE TABLE orders (id INT PRIMARY KEY, user_id INT, amount DOUBLE)")
	exec(t, e, m, "INSERT INTO orders VALUES (10, 1, 12.5)")

	res := exec(t, e, m, "SELECT * FROM orders JOIN users ON user_id = users.id")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(10), res.Rows[0]["id"].AsInt())
	assert.Equal(t, int64(1), res.Rows[0]["users.id"].AsInt())
	assert.Contains(t, res.Columns, "users.id")
}

func TestExecuteUpdate(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	res := exec(t, e, m, "UPDATE users SET age = age + 1 WHERE city = 'Jakarta'")
	assert.Equal(t, int64(2), res.RowsAffected)

	check := exec(t, e, m, "SELECT age FROM users WHERE id = 1")
	assert.Equal(t, int64(35), check.Rows[0]["age"].AsInt())
}

func TestExecuteUpdateRejectsPrimaryKey(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	err := execErr(t, e, m, "UPDATE users SET id = 99 WHERE id = 1")
	var pe *PlanError
	assert.ErrorAs(t, err, &pe)
}

func TestExecuteDelete(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	res := exec(t, e, m, "DELETE FROM users WHERE age = 25")
	assert.Equal(t, int64(2), res.RowsAffected)

	left := exec(t, e, m, "SELECT COUNT(*) FROM users")
	assert.Equal(t, int64(2), left.Rows[0]["count(*)"].AsInt())
}

func TestExecuteInsertAutoID(t *testing.T) {
	e, m := newTestEngine(t)
	exec(t, e, m, "CREATE TABLE notes (id BIGINT PRIMARY KEY, body STRING)")

	res := exec(t, e, m, "INSERT INTO notes (body) VALUES ('first')")
	assert.Equal(t, int64(1), res.LastInsertID)

	// An explicit key raises the generator floor.
	exec(t, e, m, "INSERT INTO notes VALUES (10, 'pinned')")
	res = exec(t, e, m, "INSERT INTO notes (body) VALUES ('after')")
	assert.Equal(t, int64(11), res.LastInsertID)
}

func TestExecuteDuplicateKeyRejected(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	err := execErr(t, e, m, "INSERT INTO users VALUES (1, 'imposter', 1, 'Nowhere')")
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestExecuteNotNullEnforced(t *testing.T) {
	e, m := newTestEngine(t)
	exec(t, e, m, "CREATE TABLE strict (id INT PRIMARY KEY, req STRING NOT NULL)")

	execErr(t, e, m, "INSERT INTO strict (id) VALUES (1)")
	execErr(t, e, m, "INSERT INTO strict VALUES (1, NULL)")
}

func TestExecuteVectorColumn(t *testing.T) {
	e, m := newTestEngine(t)
	exec(t, e, m, "CREATE TABLE docs (id INT PRIMARY KEY, embedding VECTOR(3))")
	exec(t, e, m, "INSERT INTO docs VALUES (1, [0.1, 0.2, 0.3])")

	res := exec(t, e, m, "SELECT embedding FROM docs WHERE id = 1")
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, res.Rows[0]["embedding"].AsVector())

	execErr(t, e, m, "INSERT INTO docs VALUES (2, [0.1, 0.2])")
}

func TestExecuteAlterTable(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	exec(t, e, m, "ALTER TABLE users ADD COLUMN email STRING")
	res := exec(t, e, m, "SELECT email FROM users WHERE id = 1")
	assert.True(t, res.Rows[0]["email"].IsNull())

	exec(t, e, m, "ALTER TABLE users DROP COLUMN city")
	res = exec(t, e, m, "SELECT * FROM users WHERE id = 1")
	assert.Equal(t, []string{"id", "name", "age", "email"}, res.Columns)
	_, hasCity := res.Rows[0]["city"]
	assert.False(t, hasCity)
}

func TestExecuteDropTablePurgesRows(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	res := exec(t, e, m, "DROP TABLE users")
	assert.Equal(t, int64(4), res.RowsAffected)

	err := execErr(t, e, m, "SELECT * FROM users")
	var pe *PlanError
	assert.ErrorAs(t, err, &pe)
}

func TestExecuteDDLWritesSchemaState(t *testing.T) {
	e, m := newTestEngine(t)
	exec(t, e, m, "CREATE TABLE t (id INT PRIMARY KEY)")

	tx := m.Begin()
	defer tx.Rollback()
	data, ok, err := tx.Get(SchemaStateKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(data), `"name":"t"`)
}

func TestExecutePlanErrorBeforeSideEffects(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	execErr(t, e, m, "INSERT INTO missing VALUES (1)")
	execErr(t, e, m, "INSERT INTO users (nope) VALUES (1)")
	execErr(t, e, m, "INSERT INTO users (id) VALUES (1, 2)")

	res := exec(t, e, m, "SELECT COUNT(*) FROM users")
	assert.Equal(t, int64(4), res.Rows[0]["count(*)"].AsInt())
}

func TestCreateTableRollbackRemovesTable(t *testing.T) {
	e, m := newTestEngine(t)

	tx := m.Begin()
	_, err := e.Execute(context.Background(), tx, "CREATE TABLE ghosts (id INT PRIMARY KEY, name STRING)")
	require.NoError(t, err)
	tx.Rollback()

	err = execErr(t, e, m, "INSERT INTO ghosts VALUES (1, 'boo')")
	var pe *PlanError
	assert.ErrorAs(t, err, &pe, "rolled-back table must not accept rows")
	err = execErr(t, e, m, "SELECT * FROM ghosts")
	assert.ErrorAs(t, err, &pe)
}

func TestDropTableRollbackRestoresTable(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	tx := m.Begin()
	_, err := e.Execute(context.Background(), tx, "DROP TABLE users")
	require.NoError(t, err)
	tx.Rollback()

	res := exec(t, e, m, "SELECT COUNT(*) FROM users")
	assert.Equal(t, int64(4), res.Rows[0]["count(*)"].AsInt(), "table and rows survive the rollback")
}

func TestAlterTableRollbackRevertsSchema(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	tx := m.Begin()
	_, err := e.Execute(context.Background(), tx, "ALTER TABLE users ADD COLUMN email STRING")
	require.NoError(t, err)
	tx.Rollback()
	err = execErr(t, e, m, "SELECT email FROM users")
	var pe *PlanError
	assert.ErrorAs(t, err, &pe, "added column must vanish with the rollback")

	tx = m.Begin()
	_, err = e.Execute(context.Background(), tx, "ALTER TABLE users DROP COLUMN name")
	require.NoError(t, err)
	tx.Rollback()

	// The column returns at its original position, so stored rows still
	// decode against the schema.
	res := exec(t, e, m, "SELECT * FROM users WHERE id = 1")
	assert.Equal(t, []string{"id", "name", "age", "city"}, res.Columns)
	assert.Equal(t, "alice", res.Rows[0]["name"].AsString())
}

func TestExecuteSelectHonorsContext(t *testing.T) {
	e, m := newTestEngine(t)
	seedUsers(t, e, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tx := m.Begin()
	defer tx.Rollback()
	_, err := e.Execute(ctx, tx, "SELECT * FROM users")
	assert.ErrorIs(t, err, context.Canceled)
}
