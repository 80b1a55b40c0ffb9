package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahyudedik/qubedb/value"
)

func userCols() []value.ColumnDef {
	return []value.ColumnDef{
		{Name: "id", Kind: value.KindInt64},
		{Name: "name", Kind: value.KindString},
		{Name: "age", Kind: value.KindInt32},
	}
}

func TestCreateTable(t *testing.T) {
	c := New()

	tbl, err := c.CreateTable("users", userCols(), "id")
	require.NoError(t, err)
	assert.Equal(t, FirstUserTableID, tbl.ID)
	assert.Equal(t, int64(1), tbl.NextAutoID)

	_, err = c.CreateTable("users", userCols(), "id")
	assert.ErrorIs(t, err, ErrTableExists)

	tbl2, err := c.CreateTable("orders", userCols(), "id")
	require.NoError(t, err)
	assert.Equal(t, FirstUserTableID+1, tbl2.ID)
}

func TestCreateTableValidatesPrimaryKey(t *testing.T) {
	c := New()

	_, err := c.CreateTable("t", userCols(), "missing")
	assert.ErrorIs(t, err, ErrColumnNotFound)

	_, err = c.CreateTable("t", []value.ColumnDef{
		{Name: "doc", Kind: value.KindJSON},
	}, "doc")
	assert.Error(t, err, "JSON cannot be key-encoded")
}

func TestDropTable(t *testing.T) {
	c := New()
	tbl, err := c.CreateTable("users", userCols(), "id")
	require.NoError(t, err)

	dropped, err := c.DropTable("users")
	require.NoError(t, err)
	assert.Equal(t, tbl.ID, dropped.ID)

	_, err = c.Table("users")
	assert.ErrorIs(t, err, ErrTableNotFound)
	_, err = c.DropTable("users")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestAddDropColumn(t *testing.T) {
	c := New()
	_, err := c.CreateTable("users", userCols(), "id")
	require.NoError(t, err)

	require.NoError(t, c.AddColumn("users", value.ColumnDef{Name: "email", Kind: value.KindString}))
	err = c.AddColumn("users", value.ColumnDef{Name: "email", Kind: value.KindString})
	assert.ErrorIs(t, err, ErrColumnExists)

	err = c.AddColumn("users", value.ColumnDef{Name: "req", Kind: value.KindString, NotNull: true})
	assert.Error(t, err, "NOT NULL additions are rejected")

	require.NoError(t, c.DropColumn("users", "age"))
	err = c.DropColumn("users", "age")
	assert.ErrorIs(t, err, ErrColumnNotFound)

	err = c.DropColumn("users", "id")
	assert.Error(t, err, "primary key column cannot be dropped")

	tbl, err := c.Table("users")
	require.NoError(t, err)
	names := make([]string, 0, len(tbl.Columns))
	for _, col := range tbl.Columns {
		names = append(names, col.Name)
	}
	assert.Equal(t, []string{"id", "name", "email"}, names)
}

func TestAutoID(t *testing.T) {
	c := New()
	_, err := c.CreateTable("users", userCols(), "id")
	require.NoError(t, err)

	id, err := c.NextAutoID("users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	c.ObserveAutoID("users", 100)
	id, err = c.NextAutoID("users")
	require.NoError(t, err)
	assert.Equal(t, int64(101), id)

	c.ObserveAutoID("users", 50) // lower ids never rewind the floor
	id, err = c.NextAutoID("users")
	require.NoError(t, err)
	assert.Equal(t, int64(102), id)
}

func TestCollections(t *testing.T) {
	c := New()

	col, err := c.CreateCollection("emb", 3, "l2")
	require.NoError(t, err)
	assert.Equal(t, 3, col.Dimension)

	_, err = c.CreateCollection("emb", 3, "l2")
	assert.ErrorIs(t, err, ErrCollectionExists)
	_, err = c.CreateCollection("bad", 0, "l2")
	assert.Error(t, err)

	got, err := c.Collection("emb")
	require.NoError(t, err)
	assert.Equal(t, "emb", got.Name)
	_, err = c.Collection("nope")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := New()
	_, err := c.CreateTable("users", userCols(), "id")
	require.NoError(t, err)
	_, err = c.CreateCollection("emb", 4, "cosine")
	require.NoError(t, err)
	c.ObserveAutoID("users", 41)
	c.BumpRowCount("users", 42)

	c2 := New()
	c2.Load(c.Snapshot())

	tbl, err := c2.Table("users")
	require.NoError(t, err)
	assert.Equal(t, FirstUserTableID, tbl.ID)
	assert.Equal(t, int64(42), tbl.NextAutoID)
	assert.Equal(t, int64(42), tbl.RowCount)

	col, err := c2.Collection("emb")
	require.NoError(t, err)
	assert.Equal(t, "cosine", col.Metric)

	// Fresh ids continue past the loaded allocator position.
	next, err := c2.CreateTable("orders", userCols(), "id")
	require.NoError(t, err)
	assert.Equal(t, FirstUserTableID+1, next.ID)
}
