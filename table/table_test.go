package table

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahyudedik/qubedb/btree"
	"github.com/wahyudedik/qubedb/catalog"
	"github.com/wahyudedik/qubedb/storage"
	"github.com/wahyudedik/qubedb/txn"
	"github.com/wahyudedik/qubedb/value"
	"github.com/wahyudedik/qubedb/wal"
)

func newTestTable(t *testing.T) (*txn.Manager, *catalog.Table) {
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
	m := txn.NewManager(btree.New(pool, pager, 0), w)

	cat := catalog.New()
	tbl, err := cat.CreateTable("events", []value.ColumnDef{
		{Name: "id", Kind: value.KindInt64, NotNull: true},
		{Name: "kind", Kind: value.KindString},
		{Name: "score", Kind: value.KindFloat64},
	}, "id")
	require.NoError(t, err)
	return m, tbl
}

func TestPutGetDelete(t *testing.T) {
	m, tbl := newTestTable(t)

	tx := m.Begin()
	defer tx.Rollback()
	row := value.Row{
		"id":    value.Int64(1),
		"kind":  value.String("click"),
		"score": value.Float64(0.5),
	}
	require.NoError(t, Put(tx, tbl, row))

	got, ok, err := Get(tx, tbl, value.Int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "click", got["kind"].AsString())

	existed, err := Delete(tx, tbl, value.Int64(1))
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = Delete(tx, tbl, value.Int64(1))
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestPutRejectsBadRows(t *testing.T) {
	m, tbl := newTestTable(t)

	tx := m.Begin()
	defer tx.Rollback()

	// Missing primary key.
	err := Put(tx, tbl, value.Row{"kind": value.String("x")})
	assert.Error(t, err)

	// Unknown column.
	err = Put(tx, tbl, value.Row{"id": value.Int64(1), "bogus": value.Int64(2)})
	assert.Error(t, err)

	// Uncoercible kind.
	err = Put(tx, tbl, value.Row{"id": value.Int64(1), "kind": value.Bool(true)})
	assert.Error(t, err)
}

func TestNormalizeCoercesAndFillsNulls(t *testing.T) {
	_, tbl := newTestTable(t)

	row, err := Normalize(tbl, value.Row{"id": value.Int32(7)})
	require.NoError(t, err)
	assert.Equal(t, value.KindInt64, row["id"].Kind())
	assert.True(t, row["kind"].IsNull())
	assert.True(t, row["score"].IsNull())
}

func TestScannerOrderAndBounds(t *testing.T) {
	m, tbl := newTestTable(t)

	tx := m.Begin()
	defer tx.Rollback()
	for _, id := range []int64{5, 1, 3, 2, 4} {
		require.NoError(t, Put(tx, tbl, value.Row{"id": value.Int64(id)}))
	}

	sc, err := NewScanner(tx, tbl, nil, nil)
	require.NoError(t, err)
	var ids []int64
	for sc.Next() {
		ids = append(ids, sc.Row()["id"].AsInt())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)

	// [2, 4) in primary key order.
	lo, hi := value.Int64(2), value.Int64(4)
	sc, err = NewScanner(tx, tbl, &lo, &hi)
	require.NoError(t, err)
	ids = ids[:0]
	for sc.Next() {
		ids = append(ids, sc.Row()["id"].AsInt())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []int64{2, 3}, ids)
}
