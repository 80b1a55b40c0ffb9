package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahyudedik/qubedb/value"
)

func mustParse(t *testing.T, query string) Statement {
	t.Helper()
	stmt, err := Parse(query)
	require.NoError(t, err)
	return stmt
}

func TestParseCreateTable(t *testing.T) {
	stmt := mustParse(t, `CREATE TABLE users (
		id INT PRIMARY KEY,
		name STRING NOT NULL,
		embedding VECTOR(3)
	)`).(*CreateTableStmt)

	assert.Equal(t, "users", stmt.Name)
	require.Len(t, stmt.Columns, 3)
	assert.True(t, stmt.Columns[0].PrimaryKey)
	assert.Equal(t, value.KindInt32, stmt.Columns[0].Kind)
	assert.True(t, stmt.Columns[1].NotNull)
	assert.Equal(t, value.KindVector, stmt.Columns[2].Kind)
	assert.Equal(t, 3, stmt.Columns[2].VectorDim)
}

func TestParseSelectFullShape(t *testing.T) {
	stmt := mustParse(t, `SELECT name, COUNT(*) AS n FROM users u
		JOIN orders o ON u.id = o.user_id
		WHERE age >= 21 AND city = 'Jakarta'
		GROUP BY name
		ORDER BY name DESC
		LIMIT 10 OFFSET 5;`).(*SelectStmt)

	assert.Equal(t, "users", stmt.Table)
	assert.Equal(t, "u", stmt.Alias)
	require.Len(t, stmt.Items, 2)
	assert.Equal(t, "n", stmt.Items[1].Alias)

	require.Len(t, stmt.Joins, 1)
	assert.Equal(t, "orders", stmt.Joins[0].Table)
	assert.Equal(t, "o", stmt.Joins[0].Alias)
	assert.Equal(t, &ColumnRef{Table: "u", Name: "id"}, stmt.Joins[0].Left)

	where, ok := stmt.Where.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "AND", where.Op)

	assert.Equal(t, []string{"name"}, stmt.GroupBy)
	require.Len(t, stmt.OrderBy, 1)
	assert.True(t, stmt.OrderBy[0].Desc)
	require.NotNil(t, stmt.Limit)
	assert.Equal(t, int64(10), *stmt.Limit)
	require.NotNil(t, stmt.Offset)
	assert.Equal(t, int64(5), *stmt.Offset)
}

func TestParsePrecedence(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM t WHERE a = 1 + 2 * 3 OR b = 4").(*SelectStmt)

	or := stmt.Where.(*BinaryExpr)
	assert.Equal(t, "OR", or.Op)

	eq := or.Left.(*BinaryExpr)
	assert.Equal(t, "=", eq.Op)
	add := eq.Right.(*BinaryExpr)
	assert.Equal(t, "+", add.Op)
	mul := add.Right.(*BinaryExpr)
	assert.Equal(t, "*", mul.Op)
}

func TestParseUnaryMinusFoldsLiterals(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM t WHERE a = -5 AND b = -1.5").(*SelectStmt)

	and := stmt.Where.(*BinaryExpr)
	left := and.Left.(*BinaryExpr).Right.(*Literal)
	assert.Equal(t, int64(-5), left.Val.AsInt())
	right := and.Right.(*BinaryExpr).Right.(*Literal)
	assert.Equal(t, -1.5, right.Val.AsFloat())
}

func TestParseInsertMultiRow(t *testing.T) {
	stmt := mustParse(t, `INSERT INTO users (id, name) VALUES (1, 'a'), (2, 'b')`).(*InsertStmt)

	assert.Equal(t, []string{"id", "name"}, stmt.Columns)
	require.Len(t, stmt.Rows, 2)
	require.Len(t, stmt.Rows[0], 2)
	assert.Equal(t, "a", stmt.Rows[0][1].(*Literal).Val.AsString())
}

func TestParseVectorLiteral(t *testing.T) {
	stmt := mustParse(t, "INSERT INTO docs VALUES (1, [0.1, -0.2, 0.3])").(*InsertStmt)

	lit := stmt.Rows[0][1].(*Literal)
	assert.Equal(t, []float32{0.1, -0.2, 0.3}, lit.Val.AsVector())
}

func TestParseAlterTable(t *testing.T) {
	add := mustParse(t, "ALTER TABLE users ADD COLUMN age INT").(*AlterTableStmt)
	require.NotNil(t, add.AddColumn)
	assert.Equal(t, "age", add.AddColumn.Name)

	drop := mustParse(t, "ALTER TABLE users DROP COLUMN age").(*AlterTableStmt)
	assert.Equal(t, "age", drop.DropColumn)
}

func TestParseErrors(t *testing.T) {
	for _, query := range []string{
		"",
		"SELECT",
		"SELECT * FROM",
		"SELECT * FROM t WHERE",
		"INSERT INTO t",
		"CREATE TABLE t ()",
		"SELECT * FROM t; SELECT * FROM t",
		"SELECT SUM(*) FROM t",
		"ALTER TABLE t ADD COLUMN id INT PRIMARY KEY",
	} {
		_, err := Parse(query)
		var syn *SyntaxError
		assert.ErrorAs(t, err, &syn, "query %q", query)
	}
}
