package sql

import (
	"context"
	"fmt"
	"sort"

	"github.com/wahyudedik/qubedb/catalog"
	"github.com/wahyudedik/qubedb/index/hashidx"
	"github.com/wahyudedik/qubedb/table"
	"github.com/wahyudedik/qubedb/txn"
	"github.com/wahyudedik/qubedb/value"
)

// execCtx carries everything the operators need.
type execCtx struct {
	ctx context.Context
	tx  *txn.Txn
	cat *catalog.Catalog
}

// operator is a pull iterator over rows. open is called once before the
// first next; close is idempotent.
type operator interface {
	open(ec *execCtx) error
	next() (value.Row, bool, error)
	close() error
}

// buildOperator lowers a plan node into its operator.
func buildOperator(n planNode) (operator, error) {
	switch x := n.(type) {
	case *scanNode:
		return &scanOp{node: x}, nil
	case *filterNode:
		in, err := buildOperator(x.input)
		if err != nil {
			return nil, err
		}
		return &filterOp{input: in, cond: x.cond}, nil
	case *projectNode:
		in, err := buildOperator(x.input)
		if err != nil {
			return nil, err
		}
		return &projectOp{input: in, items: x.items}, nil
	case *joinNode:
		l, err := buildOperator(x.left)
		if err != nil {
			return nil, err
		}
		r, err := buildOperator(x.right)
		if err != nil {
			return nil, err
		}
		if x.hash {
			return &hashJoinOp{left: l, right: r, leftKey: x.leftKey, rightKey: x.rightKey,
				rightScan: x.right.(*scanNode)}, nil
		}
		return &nestedJoinOp{left: l, right: r, leftKey: x.leftKey, rightKey: x.rightKey,
			rightScan: x.right.(*scanNode)}, nil
	case *aggregateNode:
		in, err := buildOperator(x.input)
		if err != nil {
			return nil, err
		}
		return &aggregateOp{input: in, groupBy: x.groupBy, items: x.items}, nil
	case *sortNode:
		in, err := buildOperator(x.input)
		if err != nil {
			return nil, err
		}
		return &sortOp{input: in, by: x.by}, nil
	case *limitNode:
		in, err := buildOperator(x.input)
		if err != nil {
			return nil, err
		}
		return &limitOp{input: in, limit: x.limit, offset: x.offset}, nil
	default:
		return nil, planErrf("unsupported plan node %T", n)
	}
}

// scanOp streams a table in primary key order, narrowed by the optimizer's
// point or range bounds.
type scanOp struct {
	node    *scanNode
	ec      *execCtx
	scanner *table.Scanner
	point   value.Row // single-row result for point lookups
	done    bool
}

func (o *scanOp) open(ec *execCtx) error {
	o.ec = ec
	t := o.node.table

	if o.node.point != nil {
		row, ok, err := table.Get(ec.tx, t, *o.node.point)
		if err != nil {
			return err
		}
		if ok {
			o.point = row
		} else {
			o.done = true
		}
		return nil
	}

	start := value.TablePrefix(t.ID)
	end := value.PrefixSuccessor(start)
	if o.node.lower != nil {
		k, err := table.Key(t, o.node.lower.val)
		if err != nil {
			return err
		}
		if !o.node.lower.inclusive {
			k = append(k, 0)
		}
		start = k
	}
	if o.node.upper != nil {
		k, err := table.Key(t, o.node.upper.val)
		if err != nil {
			return err
		}
		if o.node.upper.inclusive {
			k = append(k, 0)
		}
		end = k
	}
	o.scanner = table.NewRawScanner(ec.tx, t, start, end)
	return nil
}

func (o *scanOp) next() (value.Row, bool, error) {
	if err := o.ec.ctx.Err(); err != nil {
		return nil, false, err
	}
	if o.point != nil {
		if o.done {
			return nil, false, nil
		}
		o.done = true
		return o.point, true, nil
	}
	if o.done || o.scanner == nil {
		return nil, false, nil
	}
	if !o.scanner.Next() {
		o.done = true
		return nil, false, o.scanner.Err()
	}
	return o.scanner.Row(), true, nil
}

func (o *scanOp) close() error { return nil }

type filterOp struct {
	input operator
	cond  Expr
}

func (o *filterOp) open(ec *execCtx) error { return o.input.open(ec) }

func (o *filterOp) next() (value.Row, bool, error) {
	for {
		row, ok, err := o.input.next()
		if err != nil || !ok {
			return nil, false, err
		}
		v, err := evalExpr(o.cond, row)
		if err != nil {
			return nil, false, err
		}
		if truthy(v) {
			return row, true, nil
		}
	}
}

func (o *filterOp) close() error { return o.input.close() }

type projectOp struct {
	input operator
	items []SelectItem
}

func (o *projectOp) open(ec *execCtx) error { return o.input.open(ec) }

func (o *projectOp) next() (value.Row, bool, error) {
	row, ok, err := o.input.next()
	if err != nil || !ok {
		return nil, false, err
	}
	return projectRow(o.items, row)
}

func projectRow(items []SelectItem, row value.Row) (value.Row, bool, error) {
	if len(items) == 1 && items[0].Star {
		return row, true, nil
	}
	out := make(value.Row, len(items))
	for i, item := range items {
		if item.Star {
			for k, v := range row {
				out[k] = v
			}
			continue
		}
		v, err := evalExpr(item.Expr, row)
		if err != nil {
			return nil, false, err
		}
		out[itemName(item, i)] = v
	}
	return out, true, nil
}

func (o *projectOp) close() error { return o.input.close() }

// hashJoinOp drains the right side into a hash index keyed on the join
// column, then streams the left side probing for matches.
type hashJoinOp struct {
	left      operator
	right     operator
	leftKey   *ColumnRef
	rightKey  *ColumnRef
	rightScan *scanNode

	idx      *hashidx.Index
	cols     []value.ColumnDef
	pending  []value.Row
	leftRow  value.Row
}

func (o *hashJoinOp) open(ec *execCtx) error {
	if err := o.left.open(ec); err != nil {
		return err
	}
	if err := o.right.open(ec); err != nil {
		return err
	}

	o.idx = hashidx.New()
	o.cols = o.rightScan.table.Columns
	for {
		row, ok, err := o.right.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		key, ok, err := joinKeyBytes(o.rightKey, row)
		if err != nil {
			return err
		}
		if !ok {
			continue // NULL join keys never match
		}
		data, err := value.EncodeRow(nil, row, o.cols)
		if err != nil {
			return err
		}
		o.idx.Insert(key, data)
	}
	return nil
}

func joinKeyBytes(ref *ColumnRef, row value.Row) ([]byte, bool, error) {
	v, err := evalExpr(ref, row)
	if err != nil {
		return nil, false, err
	}
	if v.IsNull() {
		return nil, false, nil
	}
	key, err := value.EncodeKey(nil, v)
	if err != nil {
		return nil, false, fmt.Errorf("join key: %w", err)
	}
	return key, true, nil
}

func (o *hashJoinOp) next() (value.Row, bool, error) {
	for {
		if len(o.pending) > 0 {
			right := o.pending[0]
			o.pending = o.pending[1:]
			return mergeRows(o.leftRow, right, o.rightScan), true, nil
		}
		row, ok, err := o.left.next()
		if err != nil || !ok {
			return nil, false, err
		}
		key, ok, err := joinKeyBytes(o.leftKey, row)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		matches := o.idx.Search(key)
		if len(matches) == 0 {
			continue
		}
		o.leftRow = row
		o.pending = o.pending[:0]
		for _, data := range matches {
			r, err := value.DecodeRow(data, o.cols)
			if err != nil {
				return nil, false, err
			}
			o.pending = append(o.pending, r)
		}
	}
}

func (o *hashJoinOp) close() error {
	_ = o.left.close()
	return o.right.close()
}

// mergeRows combines a left row with a right-table row, qualifying right
// columns that would collide.
func mergeRows(left, right value.Row, rightScan *scanNode) value.Row {
	out := left.Clone()
	qualifier := rightScan.alias
	if qualifier == "" {
		qualifier = rightScan.table.Name
	}
	for k, v := range right {
		if _, taken := out[k]; taken {
			out[qualifier+"."+k] = v
		} else {
			out[k] = v
		}
	}
	return out
}

// nestedJoinOp materializes the right side once and loops it per left row.
type nestedJoinOp struct {
	left      operator
	right     operator
	leftKey   *ColumnRef
	rightKey  *ColumnRef
	rightScan *scanNode

	rightRows []value.Row
	leftRow   value.Row
	ri        int
	haveLeft  bool
}

func (o *nestedJoinOp) open(ec *execCtx) error {
	if err := o.left.open(ec); err != nil {
		return err
	}
	if err := o.right.open(ec); err != nil {
		return err
	}
	for {
		row, ok, err := o.right.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		o.rightRows = append(o.rightRows, row)
	}
}

func (o *nestedJoinOp) next() (value.Row, bool, error) {
	for {
		if !o.haveLeft {
			row, ok, err := o.left.next()
			if err != nil || !ok {
				return nil, false, err
			}
			o.leftRow = row
			o.ri = 0
			o.haveLeft = true
		}
		for o.ri < len(o.rightRows) {
			right := o.rightRows[o.ri]
			o.ri++
			lv, err := evalExpr(o.leftKey, o.leftRow)
			if err != nil {
				return nil, false, err
			}
			rv, err := evalExpr(o.rightKey, right)
			if err != nil {
				return nil, false, err
			}
			if lv.IsNull() || rv.IsNull() || !lv.Equal(rv) {
				continue
			}
			return mergeRows(o.leftRow, right, o.rightScan), true, nil
		}
		o.haveLeft = false
	}
}

func (o *nestedJoinOp) close() error {
	_ = o.left.close()
	return o.right.close()
}

// aggregateOp drains its input into per-group accumulators.
type aggregateOp struct {
	input   operator
	groupBy []string
	items   []SelectItem

	out []value.Row
	oi  int
}

type aggState struct {
	count   int64
	sum     float64
	sumInt  int64
	intOnly bool
	min     value.Value
	max     value.Value
	seen    bool
}

func (o *aggregateOp) open(ec *execCtx) error {
	if err := o.input.open(ec); err != nil {
		return err
	}

	type group struct {
		key    string
		byCol  value.Row
		states []*aggState
	}
	groups := make(map[string]*group)
	var order []string

	newStates := func() []*aggState {
		ss := make([]*aggState, len(o.items))
		for i := range ss {
			ss[i] = &aggState{intOnly: true}
		}
		return ss
	}

	for {
		row, ok, err := o.input.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		key := ""
		byCol := value.Row{}
		for _, g := range o.groupBy {
			v, err := evalExpr(&ColumnRef{Name: g}, row)
			if err != nil {
				return err
			}
			key += v.String() + "\x00"
			byCol[g] = v
		}

		grp, ok := groups[key]
		if !ok {
			grp = &group{key: key, byCol: byCol, states: newStates()}
			groups[key] = grp
			order = append(order, key)
		}
		for i, item := range o.items {
			fc, ok := item.Expr.(*FuncCall)
			if !ok {
				continue
			}
			if err := grp.states[i].observe(fc, row); err != nil {
				return err
			}
		}
	}

	// A global aggregate over an empty input still yields one row.
	if len(groups) == 0 && len(o.groupBy) == 0 {
		groups[""] = &group{states: newStates(), byCol: value.Row{}}
		order = append(order, "")
	}

	for _, key := range order {
		grp := groups[key]
		row := grp.byCol.Clone()
		for i, item := range o.items {
			fc, ok := item.Expr.(*FuncCall)
			if !ok {
				continue
			}
			row[itemName(item, i)] = grp.states[i].result(fc)
		}
		o.out = append(o.out, row)
	}
	return nil
}

func (s *aggState) observe(fc *FuncCall, row value.Row) error {
	if fc.Star {
		s.count++
		return nil
	}
	v, err := evalExpr(fc.Arg, row)
	if err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}
	s.count++
	if v.IsNumeric() {
		s.sum += v.Float()
		if v.Kind() == value.KindFloat64 {
			s.intOnly = false
		} else {
			s.sumInt += v.AsInt()
		}
	} else if fc.Name == "SUM" || fc.Name == "AVG" {
		return fmt.Errorf("%s over non-numeric column %q", fc.Name, fc.Arg.Name)
	}
	if !s.seen {
		s.min, s.max, s.seen = v, v, true
		return nil
	}
	if c, err := value.Compare(v, s.min); err == nil && c < 0 {
		s.min = v
	}
	if c, err := value.Compare(v, s.max); err == nil && c > 0 {
		s.max = v
	}
	return nil
}

func (s *aggState) result(fc *FuncCall) value.Value {
	switch fc.Name {
	case "COUNT":
		return value.Int64(s.count)
	case "SUM":
		if s.count == 0 {
			return value.Null()
		}
		if s.intOnly {
			return value.Int64(s.sumInt)
		}
		return value.Float64(s.sum)
	case "AVG":
		if s.count == 0 {
			return value.Null()
		}
		return value.Float64(s.sum / float64(s.count))
	case "MIN":
		if !s.seen {
			return value.Null()
		}
		return s.min
	default: // MAX
		if !s.seen {
			return value.Null()
		}
		return s.max
	}
}

func (o *aggregateOp) next() (value.Row, bool, error) {
	if o.oi >= len(o.out) {
		return nil, false, nil
	}
	row := o.out[o.oi]
	o.oi++
	return row, true, nil
}

func (o *aggregateOp) close() error { return o.input.close() }

// sortOp materializes and orders its input.
type sortOp struct {
	input operator
	by    []OrderItem

	rows []value.Row
	ri   int
}

func (o *sortOp) open(ec *execCtx) error {
	if err := o.input.open(ec); err != nil {
		return err
	}
	for {
		row, ok, err := o.input.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		o.rows = append(o.rows, row)
	}

	var sortErr error
	sort.SliceStable(o.rows, func(i, j int) bool {
		for _, item := range o.by {
			a := o.rows[i][item.Column]
			b := o.rows[j][item.Column]
			c, err := value.Compare(a, b)
			if err != nil {
				if sortErr == nil {
					sortErr = err
				}
				return false
			}
			if c == 0 {
				continue
			}
			if item.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}

func (o *sortOp) next() (value.Row, bool, error) {
	if o.ri >= len(o.rows) {
		return nil, false, nil
	}
	row := o.rows[o.ri]
	o.ri++
	return row, true, nil
}

func (o *sortOp) close() error { return o.input.close() }

type limitOp struct {
	input   operator
	limit   int64
	offset  int64
	skipped int64
	emitted int64
}

func (o *limitOp) open(ec *execCtx) error { return o.input.open(ec) }

func (o *limitOp) next() (value.Row, bool, error) {
	for {
		if o.limit >= 0 && o.emitted >= o.limit {
			return nil, false, nil
		}
		row, ok, err := o.input.next()
		if err != nil || !ok {
			return nil, false, err
		}
		if o.skipped < o.offset {
			o.skipped++
			continue
		}
		o.emitted++
		return row, true, nil
	}
}

func (o *limitOp) close() error { return o.input.close() }
