package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wahyudedik/qubedb/value"
)

// Parse turns one SQL statement into its AST. A trailing semicolon is
// allowed; multiple statements are not.
func Parse(input string) (Statement, error) {
	toks, err := newLexer(input).lexAll()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.accept(tokSymbol, ";")
	if p.peek().typ != tokEOF {
		return nil, p.errorf("unexpected %s after statement", p.peek())
	}
	return stmt, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

// accept consumes the next token if it matches, reporting whether it did.
func (p *parser) accept(typ tokenType, lit string) bool {
	t := p.peek()
	if t.typ == typ && t.lit == lit {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(typ tokenType, lit string) error {
	if !p.accept(typ, lit) {
		return p.errorf("expected %s, found %s", lit, p.peek())
	}
	return nil
}

func (p *parser) expectKeyword(kw string) error { return p.expect(tokKeyword, kw) }

func (p *parser) expectIdent() (string, error) {
	t := p.peek()
	if t.typ != tokIdent {
		return "", p.errorf("expected identifier, found %s", t)
	}
	p.advance()
	return t.lit, nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.peek().pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseStatement() (Statement, error) {
	t := p.peek()
	if t.typ != tokKeyword {
		return nil, p.errorf("expected statement, found %s", t)
	}
	switch t.lit {
	case "SELECT":
		return p.parseSelect()
	case "INSERT":
		return p.parseInsert()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "CREATE":
		return p.parseCreateTable()
	case "DROP":
		return p.parseDropTable()
	case "ALTER":
		return p.parseAlterTable()
	default:
		return nil, p.errorf("unsupported statement %s", t.lit)
	}
}

func (p *parser) parseCreateTable() (Statement, error) {
	p.advance() // CREATE
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokSymbol, "("); err != nil {
		return nil, err
	}

	stmt := &CreateTableStmt{Name: name}
	for {
		col, err := p.parseColumnSpec()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}
	if err := p.expect(tokSymbol, ")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseColumnSpec() (ColumnSpec, error) {
	name, err := p.expectIdent()
	if err != nil {
		return ColumnSpec{}, err
	}
	kind, dim, err := p.parseType()
	if err != nil {
		return ColumnSpec{}, err
	}
	col := ColumnSpec{Name: name, Kind: kind, VectorDim: dim}
	for {
		switch {
		case p.accept(tokKeyword, "PRIMARY"):
			if err := p.expectKeyword("KEY"); err != nil {
				return ColumnSpec{}, err
			}
			col.PrimaryKey = true
		case p.accept(tokKeyword, "NOT"):
			if err := p.expectKeyword("NULL"); err != nil {
				return ColumnSpec{}, err
			}
			col.NotNull = true
		default:
			return col, nil
		}
	}
}

func (p *parser) parseType() (value.Kind, int, error) {
	t := p.peek()
	if t.typ != tokKeyword {
		return 0, 0, p.errorf("expected type, found %s", t)
	}
	p.advance()
	switch t.lit {
	case "BOOL":
		return value.KindBool, 0, nil
	case "INT":
		return value.KindInt32, 0, nil
	case "BIGINT":
		return value.KindInt64, 0, nil
	case "DOUBLE", "FLOAT":
		return value.KindFloat64, 0, nil
	case "STRING", "TEXT":
		return value.KindString, 0, nil
	case "BINARY":
		return value.KindBinary, 0, nil
	case "JSON":
		return value.KindJSON, 0, nil
	case "TIMESTAMP":
		return value.KindTimestamp, 0, nil
	case "VECTOR":
		if err := p.expect(tokSymbol, "("); err != nil {
			return 0, 0, err
		}
		dimTok := p.peek()
		if dimTok.typ != tokNumber {
			return 0, 0, p.errorf("expected vector dimension, found %s", dimTok)
		}
		p.advance()
		dim, err := strconv.Atoi(dimTok.lit)
		if err != nil || dim <= 0 {
			return 0, 0, p.errorf("invalid vector dimension %s", dimTok.lit)
		}
		if err := p.expect(tokSymbol, ")"); err != nil {
			return 0, 0, err
		}
		return value.KindVector, dim, nil
	default:
		return 0, 0, p.errorf("unknown type %s", t.lit)
	}
}

func (p *parser) parseDropTable() (Statement, error) {
	p.advance() // DROP
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return &DropTableStmt{Name: name}, nil
}

func (p *parser) parseAlterTable() (Statement, error) {
	p.advance() // ALTER
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	tbl, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	switch {
	case p.accept(tokKeyword, "ADD"):
		p.accept(tokKeyword, "COLUMN") // optional
		col, err := p.parseColumnSpec()
		if err != nil {
			return nil, err
		}
		if col.PrimaryKey {
			return nil, p.errorf("cannot add a PRIMARY KEY column")
		}
		return &AlterTableStmt{Table: tbl, AddColumn: &col}, nil
	case p.accept(tokKeyword, "DROP"):
		p.accept(tokKeyword, "COLUMN")
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &AlterTableStmt{Table: tbl, DropColumn: name}, nil
	default:
		return nil, p.errorf("expected ADD or DROP, found %s", p.peek())
	}
}

func (p *parser) parseInsert() (Statement, error) {
	p.advance() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	tbl, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStmt{Table: tbl}

	if p.accept(tokSymbol, "(") {
		for {
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.accept(tokSymbol, ",") {
				continue
			}
			break
		}
		if err := p.expect(tokSymbol, ")"); err != nil {
			return nil, err
		}
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expect(tokSymbol, "("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.accept(tokSymbol, ",") {
				continue
			}
			break
		}
		if err := p.expect(tokSymbol, ")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}
	return stmt, nil
}

func (p *parser) parseUpdate() (Statement, error) {
	p.advance() // UPDATE
	tbl, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	stmt := &UpdateStmt{Table: tbl}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokSymbol, "="); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, Assignment{Column: col, Value: e})
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}
	if p.accept(tokKeyword, "WHERE") {
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseDelete() (Statement, error) {
	p.advance() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	tbl, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{Table: tbl}
	if p.accept(tokKeyword, "WHERE") {
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) parseSelect() (Statement, error) {
	p.advance() // SELECT
	stmt := &SelectStmt{}

	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		stmt.Items = append(stmt.Items, item)
		if p.accept(tokSymbol, ",") {
			continue
		}
		break
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	tbl, alias, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	stmt.Table, stmt.Alias = tbl, alias

	for p.accept(tokKeyword, "JOIN") {
		jc, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, jc)
	}

	if p.accept(tokKeyword, "WHERE") {
		if stmt.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}

	if p.accept(tokKeyword, "GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.parseColumnName()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, col)
			if p.accept(tokSymbol, ",") {
				continue
			}
			break
		}
	}

	if p.accept(tokKeyword, "ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.parseColumnName()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Column: col}
			if p.accept(tokKeyword, "DESC") {
				item.Desc = true
			} else {
				p.accept(tokKeyword, "ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, item)
			if p.accept(tokSymbol, ",") {
				continue
			}
			break
		}
	}

	if p.accept(tokKeyword, "LIMIT") {
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}
	if p.accept(tokKeyword, "OFFSET") {
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}
	return stmt, nil
}

// parseColumnName reads a possibly qualified column and returns its bare
// name with the qualifier folded in as "table.column".
func (p *parser) parseColumnName() (string, error) {
	name, err := p.expectIdent()
	if err != nil {
		return "", err
	}
	if p.accept(tokSymbol, ".") {
		col, err := p.expectIdent()
		if err != nil {
			return "", err
		}
		return name + "." + col, nil
	}
	return name, nil
}

func (p *parser) parseTableRef() (name, alias string, err error) {
	name, err = p.expectIdent()
	if err != nil {
		return "", "", err
	}
	if p.accept(tokKeyword, "AS") {
		alias, err = p.expectIdent()
		return name, alias, err
	}
	if p.peek().typ == tokIdent {
		alias = p.advance().lit
	}
	return name, alias, nil
}

func (p *parser) parseJoin() (JoinClause, error) {
	tbl, alias, err := p.parseTableRef()
	if err != nil {
		return JoinClause{}, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return JoinClause{}, err
	}
	left, err := p.parseColumnRef()
	if err != nil {
		return JoinClause{}, err
	}
	if err := p.expect(tokSymbol, "="); err != nil {
		return JoinClause{}, err
	}
	right, err := p.parseColumnRef()
	if err != nil {
		return JoinClause{}, err
	}
	return JoinClause{Table: tbl, Alias: alias, Left: left, Right: right}, nil
}

func (p *parser) parseColumnRef() (*ColumnRef, error) {
	first, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if p.accept(tokSymbol, ".") {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &ColumnRef{Table: first, Name: col}, nil
	}
	return &ColumnRef{Name: first}, nil
}

func (p *parser) parseSelectItem() (SelectItem, error) {
	if p.accept(tokSymbol, "*") {
		return SelectItem{Star: true}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return SelectItem{}, err
	}
	item := SelectItem{Expr: e}
	if p.accept(tokKeyword, "AS") {
		item.Alias, err = p.expectIdent()
		if err != nil {
			return SelectItem{}, err
		}
	}
	return item, nil
}

func (p *parser) parseIntLiteral() (int64, error) {
	t := p.peek()
	if t.typ != tokNumber {
		return 0, p.errorf("expected number, found %s", t)
	}
	p.advance()
	n, err := strconv.ParseInt(t.lit, 10, 64)
	if err != nil {
		return 0, p.errorf("invalid number %s", t.lit)
	}
	return n, nil
}

// Expression grammar, loosest to tightest:
//
//	expr    = andExpr { OR andExpr }
//	andExpr = cmpExpr { AND cmpExpr }
//	cmpExpr = addExpr [ (= != < <= > >=) addExpr ]
//	addExpr = mulExpr { (+ -) mulExpr }
//	mulExpr = unary { (* /) unary }
//	unary   = [-] primary
//	primary = literal | column | aggregate | ( expr ) | [ vector ]
func (p *parser) parseExpr() (Expr, error) {
	return p.parseBinary(0)
}

var precedence = [][]string{
	{"OR"},
	{"AND"},
	{"=", "!=", "<", "<=", ">", ">="},
	{"+", "-"},
	{"*", "/"},
}

func (p *parser) parseBinary(level int) (Expr, error) {
	if level >= len(precedence) {
		return p.parseUnary()
	}
	left, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp(precedence[level])
		if !ok {
			return left, nil
		}
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) matchOp(ops []string) (string, bool) {
	t := p.peek()
	for _, op := range ops {
		if (t.typ == tokSymbol || t.typ == tokKeyword) && t.lit == op {
			p.advance()
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseUnary() (Expr, error) {
	if p.accept(tokSymbol, "-") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		// Fold negation into numeric literals; anything else becomes 0-x.
		if lit, ok := inner.(*Literal); ok && lit.Val.IsNumeric() {
			if lit.Val.Kind() == value.KindFloat64 {
				return &Literal{Val: value.Float64(-lit.Val.AsFloat())}, nil
			}
			return &Literal{Val: value.Int64(-lit.Val.AsInt())}, nil
		}
		return &BinaryExpr{Op: "-", Left: &Literal{Val: value.Int64(0)}, Right: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.typ {
	case tokNumber:
		p.advance()
		if strings.Contains(t.lit, ".") {
			f, err := strconv.ParseFloat(t.lit, 64)
			if err != nil {
				return nil, p.errorf("invalid number %s", t.lit)
			}
			return &Literal{Val: value.Float64(f)}, nil
		}
		n, err := strconv.ParseInt(t.lit, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid number %s", t.lit)
		}
		return &Literal{Val: value.Int64(n)}, nil

	case tokString:
		p.advance()
		return &Literal{Val: value.String(t.lit)}, nil

	case tokKeyword:
		switch t.lit {
		case "TRUE":
			p.advance()
			return &Literal{Val: value.Bool(true)}, nil
		case "FALSE":
			p.advance()
			return &Literal{Val: value.Bool(false)}, nil
		case "NULL":
			p.advance()
			return &Literal{Val: value.Null()}, nil
		}
		return nil, p.errorf("unexpected %s in expression", t)

	case tokIdent:
		upper := strings.ToUpper(t.lit)
		if isAggregate(upper) && p.toks[p.pos+1].typ == tokSymbol && p.toks[p.pos+1].lit == "(" {
			return p.parseAggregate(upper)
		}
		p.advance()
		if p.accept(tokSymbol, ".") {
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			return &ColumnRef{Table: t.lit, Name: col}, nil
		}
		return &ColumnRef{Name: t.lit}, nil

	case tokSymbol:
		switch t.lit {
		case "(":
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokSymbol, ")"); err != nil {
				return nil, err
			}
			return e, nil
		case "[":
			return p.parseVectorLiteral()
		}
	}
	return nil, p.errorf("unexpected %s in expression", t)
}

func isAggregate(name string) bool {
	switch name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	default:
		return false
	}
}

func (p *parser) parseAggregate(name string) (Expr, error) {
	p.advance() // function name
	p.advance() // (
	fc := &FuncCall{Name: name}
	if p.accept(tokSymbol, "*") {
		if name != "COUNT" {
			return nil, p.errorf("%s(*) is not supported", name)
		}
		fc.Star = true
	} else {
		ref, err := p.parseColumnRef()
		if err != nil {
			return nil, err
		}
		fc.Arg = ref
	}
	if err := p.expect(tokSymbol, ")"); err != nil {
		return nil, err
	}
	return fc, nil
}

// parseVectorLiteral reads [f, f, ...] into a VECTOR literal.
func (p *parser) parseVectorLiteral() (Expr, error) {
	p.advance() // [
	var vec []float32
	if !p.accept(tokSymbol, "]") {
		for {
			neg := p.accept(tokSymbol, "-")
			t := p.peek()
			if t.typ != tokNumber {
				return nil, p.errorf("expected number in vector literal, found %s", t)
			}
			p.advance()
			f, err := strconv.ParseFloat(t.lit, 32)
			if err != nil {
				return nil, p.errorf("invalid number %s", t.lit)
			}
			if neg {
				f = -f
			}
			vec = append(vec, float32(f))
			if p.accept(tokSymbol, ",") {
				continue
			}
			break
		}
		if err := p.expect(tokSymbol, "]"); err != nil {
			return nil, err
		}
	}
	return &Literal{Val: value.Vector(vec)}, nil
}
