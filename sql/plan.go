package sql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wahyudedik/qubedb/catalog"
	"github.com/wahyudedik/qubedb/value"
)

// PlanError reports a statement the planner rejects before any side
// effect: unknown tables or columns, unsupported constructs, shape errors.
type PlanError struct {
	Msg string
}

func (e *PlanError) Error() string { return "plan error: " + e.Msg }

func planErrf(format string, args ...any) error {
	return &PlanError{Msg: fmt.Sprintf(format, args...)}
}

// hashJoinMaxBuild caps the estimated build-side cardinality for a hash
// join; larger builds fall back to a nested loop to bound memory.
const hashJoinMaxBuild = 100_000

type planNode interface{ plan() }

// bound is one end of a primary key range.
type bound struct {
	val       value.Value
	inclusive bool
}

// scanNode reads a table. The optimizer narrows it to a point lookup or a
// key range when the WHERE clause pins the primary key.
type scanNode struct {
	table *catalog.Table
	alias string
	point *value.Value
	lower *bound
	upper *bound
}

type filterNode struct {
	input planNode
	cond  Expr
}

type projectNode struct {
	input planNode
	items []SelectItem
}

// joinNode joins input rows against a scanned table on column equality.
// When hash is set the right side is built into a hash index and probed;
// otherwise the right side is materialized and nested-looped.
type joinNode struct {
	left     planNode
	right    planNode
	leftKey  *ColumnRef
	rightKey *ColumnRef
	hash     bool
}

type aggregateNode struct {
	input   planNode
	groupBy []string
	items   []SelectItem
}

type sortNode struct {
	input planNode
	by    []OrderItem
}

type limitNode struct {
	input  planNode
	limit  int64 // -1 means no limit
	offset int64
}

func (*scanNode) plan()      {}
func (*filterNode) plan()    {}
func (*projectNode) plan()   {}
func (*joinNode) plan()      {}
func (*aggregateNode) plan() {}
func (*sortNode) plan()      {}
func (*limitNode) plan()     {}

// planSelect builds and optimizes the plan for a SELECT.
func planSelect(cat *catalog.Catalog, stmt *SelectStmt) (planNode, error) {
	tbl, err := cat.Table(stmt.Table)
	if err != nil {
		return nil, planErrf("%v", err)
	}

	var node planNode
	base := &scanNode{table: tbl, alias: stmt.Alias}
	node = base
	where := stmt.Where

	if len(stmt.Joins) == 0 {
		// Pull primary key constraints out of the WHERE conjuncts so the
		// scan becomes a point lookup or a bounded range.
		where = narrowScan(base, where)
	}

	if len(stmt.Joins) > 0 {
		node, err = planJoins(cat, node, stmt)
		if err != nil {
			return nil, err
		}
	}

	if where != nil {
		if err := validateExpr(where, true); err != nil {
			return nil, err
		}
		node = &filterNode{input: node, cond: where}
	}

	hasAgg := false
	for _, item := range stmt.Items {
		if _, ok := item.Expr.(*FuncCall); ok {
			hasAgg = true
		}
	}
	if hasAgg || len(stmt.GroupBy) > 0 {
		if err := validateAggregateItems(stmt); err != nil {
			return nil, err
		}
		node = &aggregateNode{input: node, groupBy: stmt.GroupBy, items: stmt.Items}
	}

	if len(stmt.OrderBy) > 0 {
		node = &sortNode{input: node, by: stmt.OrderBy}
	}
	if stmt.Limit != nil || stmt.Offset != nil {
		ln := &limitNode{input: node, limit: -1}
		if stmt.Limit != nil {
			if *stmt.Limit < 0 {
				return nil, planErrf("negative LIMIT")
			}
			ln.limit = *stmt.Limit
		}
		if stmt.Offset != nil {
			if *stmt.Offset < 0 {
				return nil, planErrf("negative OFFSET")
			}
			ln.offset = *stmt.Offset
		}
		node = ln
	}

	if !hasAgg && len(stmt.GroupBy) == 0 {
		node = &projectNode{input: node, items: stmt.Items}
	}
	return node, nil
}

// planJoins builds a left-deep join tree. Smaller build sides (by the
// catalog's row count estimate) join first, and each join hashes its build
// side when the estimate stays under hashJoinMaxBuild.
func planJoins(cat *catalog.Catalog, left planNode, stmt *SelectStmt) (planNode, error) {
	joins := append([]JoinClause(nil), stmt.Joins...)
	sort.SliceStable(joins, func(i, j int) bool {
		ti, erri := cat.Table(joins[i].Table)
		tj, errj := cat.Table(joins[j].Table)
		if erri != nil || errj != nil {
			return false
		}
		return ti.RowCount < tj.RowCount
	})

	node := left
	for _, jc := range joins {
		rt, err := cat.Table(jc.Table)
		if err != nil {
			return nil, planErrf("%v", err)
		}
		if _, ok := rt.Column(jc.Right.Name); jc.Right.Table == "" && !ok {
			// The ON clause may list the sides in either order; swap so
			// rightKey addresses the joined table.
			jc.Left, jc.Right = jc.Right, jc.Left
		}
		node = &joinNode{
			left:     node,
			right:    &scanNode{table: rt, alias: jc.Alias},
			leftKey:  jc.Left,
			rightKey: jc.Right,
			hash:     rt.RowCount <= hashJoinMaxBuild,
		}
	}
	return node, nil
}

// narrowScan strips primary key comparisons out of the WHERE clause and
// turns them into scan bounds. It returns the residual filter.
func narrowScan(scan *scanNode, where Expr) Expr {
	conjuncts := splitConjuncts(where)
	var residual []Expr

	pk := scan.table.PrimaryKey
	for _, c := range conjuncts {
		be, ok := c.(*BinaryExpr)
		if !ok {
			residual = append(residual, c)
			continue
		}
		lit, op, ok := pkComparison(be, pk, scan.table.Name, scan.alias)
		if !ok {
			residual = append(residual, c)
			continue
		}
		switch op {
		case "=":
			v := lit
			scan.point = &v
		case ">":
			scan.lower = &bound{val: lit}
		case ">=":
			scan.lower = &bound{val: lit, inclusive: true}
		case "<":
			scan.upper = &bound{val: lit}
		case "<=":
			scan.upper = &bound{val: lit, inclusive: true}
		default:
			residual = append(residual, c)
		}
	}
	return joinConjuncts(residual)
}

// pkComparison recognizes `pk OP literal` or `literal OP pk` against the
// scanned table, normalizing the operator to put the column on the left.
func pkComparison(be *BinaryExpr, pk, tableName, alias string) (value.Value, string, bool) {
	matches := func(e Expr) bool {
		ref, ok := e.(*ColumnRef)
		if !ok || ref.Name != pk {
			return false
		}
		return ref.Table == "" || ref.Table == tableName || ref.Table == alias
	}
	if matches(be.Left) {
		if lit, ok := be.Right.(*Literal); ok {
			return lit.Val, be.Op, true
		}
		return value.Value{}, "", false
	}
	if matches(be.Right) {
		if lit, ok := be.Left.(*Literal); ok {
			return lit.Val, flipOp(be.Op), true
		}
	}
	return value.Value{}, "", false
}

func flipOp(op string) string {
	switch op {
	case "<":
		return ">"
	case "<=":
		return ">="
	case ">":
		return "<"
	case ">=":
		return "<="
	default:
		return op
	}
}

func splitConjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if be, ok := e.(*BinaryExpr); ok && be.Op == "AND" {
		return append(splitConjuncts(be.Left), splitConjuncts(be.Right)...)
	}
	return []Expr{e}
}

func joinConjuncts(es []Expr) Expr {
	if len(es) == 0 {
		return nil
	}
	out := es[0]
	for _, e := range es[1:] {
		out = &BinaryExpr{Op: "AND", Left: out, Right: e}
	}
	return out
}

// validateExpr rejects expression shapes the executor cannot run; column
// existence is checked at runtime against the flowing row, which already
// carries join qualifiers.
func validateExpr(e Expr, allowColumns bool) error {
	switch x := e.(type) {
	case *Literal:
		return nil
	case *ColumnRef:
		if !allowColumns {
			return planErrf("column %q not allowed here", x.displayName())
		}
		return nil
	case *BinaryExpr:
		if err := validateExpr(x.Left, allowColumns); err != nil {
			return err
		}
		return validateExpr(x.Right, allowColumns)
	case *FuncCall:
		return planErrf("aggregate %s not allowed here", x.Name)
	case nil:
		return nil
	default:
		return planErrf("unsupported expression")
	}
}

// validateAggregateItems enforces the GROUP BY shape: every projection is
// either an aggregate or a grouped column.
func validateAggregateItems(stmt *SelectStmt) error {
	grouped := make(map[string]struct{}, len(stmt.GroupBy))
	for _, g := range stmt.GroupBy {
		grouped[g] = struct{}{}
	}
	for _, item := range stmt.Items {
		if item.Star {
			return planErrf("SELECT * cannot be combined with aggregates")
		}
		switch x := item.Expr.(type) {
		case *FuncCall:
			continue
		case *ColumnRef:
			if _, ok := grouped[x.Name]; !ok {
				if _, ok := grouped[x.displayName()]; !ok {
					return planErrf("column %q must appear in GROUP BY", x.displayName())
				}
			}
		default:
			return planErrf("projection in aggregate query must be an aggregate or grouped column")
		}
	}
	return nil
}

// itemName is the output column name of a projection.
func itemName(item SelectItem, idx int) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch x := item.Expr.(type) {
	case *ColumnRef:
		return x.Name
	case *FuncCall:
		if x.Star {
			return strings.ToLower(x.Name) + "(*)"
		}
		return strings.ToLower(x.Name) + "(" + x.Arg.Name + ")"
	default:
		return fmt.Sprintf("column%d", idx+1)
	}
}
