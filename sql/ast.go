package sql

import "github.com/wahyudedik/qubedb/value"

// Statement is any parsed SQL statement.
type Statement interface{ stmt() }

// ColumnSpec is one column definition in CREATE TABLE or ALTER TABLE ADD.
type ColumnSpec struct {
	Name       string
	Kind       value.Kind
	VectorDim  int
	NotNull    bool
	PrimaryKey bool
}

// CreateTableStmt is CREATE TABLE name (col TYPE [PRIMARY KEY] [NOT NULL], ...).
type CreateTableStmt struct {
	Name    string
	Columns []ColumnSpec
}

// DropTableStmt is DROP TABLE name.
type DropTableStmt struct {
	Name string
}

// AlterTableStmt is ALTER TABLE name ADD COLUMN ... or DROP COLUMN name.
type AlterTableStmt struct {
	Table      string
	AddColumn  *ColumnSpec
	DropColumn string
}

// InsertStmt is INSERT INTO table [(cols)] VALUES (...), (...).
type InsertStmt struct {
	Table   string
	Columns []string // empty means schema order
	Rows    [][]Expr
}

// Assignment is one SET clause of UPDATE.
type Assignment struct {
	Column string
	Value  Expr
}

// UpdateStmt is UPDATE table SET ... [WHERE ...].
type UpdateStmt struct {
	Table string
	Set   []Assignment
	Where Expr // nil means all rows
}

// DeleteStmt is DELETE FROM table [WHERE ...].
type DeleteStmt struct {
	Table string
	Where Expr
}

// SelectItem is one projection: an expression with an optional alias, or
// the bare star.
type SelectItem struct {
	Star  bool
	Expr  Expr
	Alias string
}

// JoinClause is JOIN table ON left = right.
type JoinClause struct {
	Table string
	Alias string
	Left  *ColumnRef
	Right *ColumnRef
}

// OrderItem is one ORDER BY term.
type OrderItem struct {
	Column string
	Desc   bool
}

// SelectStmt is the full SELECT shape the dialect supports.
type SelectStmt struct {
	Items   []SelectItem
	Table   string
	Alias   string
	Joins   []JoinClause
	Where   Expr
	GroupBy []string
	OrderBy []OrderItem
	Limit   *int64
	Offset  *int64
}

func (*CreateTableStmt) stmt() {}
func (*DropTableStmt) stmt()   {}
func (*AlterTableStmt) stmt()  {}
func (*InsertStmt) stmt()      {}
func (*UpdateStmt) stmt()      {}
func (*DeleteStmt) stmt()      {}
func (*SelectStmt) stmt()      {}

// Expr is a scalar expression.
type Expr interface{ expr() }

// Literal wraps a constant value.
type Literal struct {
	Val value.Value
}

// ColumnRef names a column, optionally qualified by table or alias.
type ColumnRef struct {
	Table string
	Name  string
}

// BinaryExpr applies an operator to two operands. Op is one of
// = != < <= > >= AND OR + - * /.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// FuncCall is an aggregate call: COUNT(*) or COUNT/SUM/AVG/MIN/MAX(col).
type FuncCall struct {
	Name string // uppercased
	Star bool
	Arg  *ColumnRef
}

func (*Literal) expr()    {}
func (*ColumnRef) expr()  {}
func (*BinaryExpr) expr() {}
func (*FuncCall) expr()   {}
