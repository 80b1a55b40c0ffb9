package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahyudedik/qubedb/catalog"
	"github.com/wahyudedik/qubedb/value"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	_, err := cat.CreateTable("users", []value.ColumnDef{
		{Name: "id", Kind: value.KindInt64, NotNull: true},
		{Name: "name", Kind: value.KindString},
		{Name: "age", Kind: value.KindInt32},
	}, "id")
	require.NoError(t, err)
	_, err = cat.CreateTable("orders", []value.ColumnDef{
		{Name: "id", Kind: value.KindInt64, NotNull: true},
		{Name: "user_id", Kind: value.KindInt64},
		{Name: "amount", Kind: value.KindFloat64},
	}, "id")
	require.NoError(t, err)
	return cat
}

func planFor(t *testing.T, cat *catalog.Catalog, query string) planNode {
	t.Helper()
	stmt := mustParse(t, query).(*SelectStmt)
	plan, err := planSelect(cat, stmt)
	require.NoError(t, err)
	return plan
}

func baseScan(t *testing.T, n planNode) *scanNode {
	t.Helper()
	for {
		switch x := n.(type) {
		case *scanNode:
			return x
		case *filterNode:
			n = x.input
		case *projectNode:
			n = x.input
		case *sortNode:
			n = x.input
		case *limitNode:
			n = x.input
		default:
			t.Fatalf("unexpected node %T", n)
		}
	}
}

func TestPlanPointLookup(t *testing.T) {
	cat := newTestCatalog(t)
	scan := baseScan(t, planFor(t, cat, "SELECT * FROM users WHERE id = 7"))

	require.NotNil(t, scan.point)
	assert.Equal(t, int64(7), scan.point.AsInt())
	assert.Nil(t, scan.lower)
	assert.Nil(t, scan.upper)
}

func TestPlanRangeBounds(t *testing.T) {
	cat := newTestCatalog(t)
	scan := baseScan(t, planFor(t, cat, "SELECT * FROM users WHERE id >= 10 AND id < 20"))

	require.NotNil(t, scan.lower)
	assert.True(t, scan.lower.inclusive)
	assert.Equal(t, int64(10), scan.lower.val.AsInt())
	require.NotNil(t, scan.upper)
	assert.False(t, scan.upper.inclusive)
	assert.Equal(t, int64(20), scan.upper.val.AsInt())
}

func TestPlanFlippedComparison(t *testing.T) {
	cat := newTestCatalog(t)
	scan := baseScan(t, planFor(t, cat, "SELECT * FROM users WHERE 10 < id"))

	require.NotNil(t, scan.lower)
	assert.False(t, scan.lower.inclusive)
	assert.Equal(t, int64(10), scan.lower.val.AsInt())
}

func TestPlanResidualFilterSurvives(t *testing.T) {
	cat := newTestCatalog(t)
	plan := planFor(t, cat, "SELECT * FROM users WHERE id = 1 AND age > 30")

	project, ok := plan.(*projectNode)
	require.True(t, ok)
	filter, ok := project.input.(*filterNode)
	require.True(t, ok)
	scan, ok := filter.input.(*scanNode)
	require.True(t, ok)
	require.NotNil(t, scan.point)

	be := filter.cond.(*BinaryExpr)
	assert.Equal(t, ">", be.Op)
}

func TestPlanHashJoinUnderThreshold(t *testing.T) {
	cat := newTestCatalog(t)
	plan := planFor(t, cat, "SELECT name FROM orders JOIN users ON user_id = users.id")

	project := plan.(*projectNode)
	join, ok := project.input.(*joinNode)
	require.True(t, ok)
	assert.True(t, join.hash)
	assert.Equal(t, "users", join.right.(*scanNode).table.Name)
}

func TestPlanNestedLoopForLargeBuild(t *testing.T) {
	cat := newTestCatalog(t)
	cat.BumpRowCount("users", hashJoinMaxBuild+1)
	plan := planFor(t, cat, "SELECT name FROM orders JOIN users ON user_id = users.id")

	join := plan.(*projectNode).input.(*joinNode)
	assert.False(t, join.hash)
}

func TestPlanJoinOrderBySmallestBuild(t *testing.T) {
	cat := newTestCatalog(t)
	_, err := cat.CreateTable("tiny", []value.ColumnDef{
		{Name: "id", Kind: value.KindInt64},
		{Name: "user_id", Kind: value.KindInt64},
	}, "id")
	require.NoError(t, err)
	cat.BumpRowCount("users", 1000)

	plan := planFor(t, cat, `SELECT * FROM orders
		JOIN users ON user_id = users.id
		JOIN tiny ON user_id = tiny.user_id`)

	// The outer join probes the larger table; tiny builds first.
	outer := plan.(*projectNode).input.(*joinNode)
	assert.Equal(t, "users", outer.right.(*scanNode).table.Name)
	inner := outer.left.(*joinNode)
	assert.Equal(t, "tiny", inner.right.(*scanNode).table.Name)
}

func TestPlanRejectsUnknownTable(t *testing.T) {
	cat := newTestCatalog(t)
	_, err := planSelect(cat, mustParse(t, "SELECT * FROM missing").(*SelectStmt))
	var pe *PlanError
	assert.ErrorAs(t, err, &pe)
}

func TestPlanRejectsBadAggregateShapes(t *testing.T) {
	cat := newTestCatalog(t)
	for _, query := range []string{
		"SELECT *, COUNT(*) FROM users",
		"SELECT name, COUNT(*) FROM users",
		"SELECT * FROM users LIMIT -1",
	} {
		_, err := planSelect(cat, mustParse(t, query).(*SelectStmt))
		var pe *PlanError
		assert.ErrorAs(t, err, &pe, "query %q", query)
	}
}
