package sql

import (
	"fmt"

	"github.com/wahyudedik/qubedb/value"
)

// evalExpr evaluates e against row. Column refs try the qualified name
// first ("t.col"), then the bare name.
func evalExpr(e Expr, row value.Row) (value.Value, error) {
	switch x := e.(type) {
	case *Literal:
		return x.Val, nil

	case *ColumnRef:
		if x.Table != "" {
			if v, ok := row[x.Table+"."+x.Name]; ok {
				return v, nil
			}
		}
		if v, ok := row[x.Name]; ok {
			return v, nil
		}
		return value.Value{}, fmt.Errorf("unknown column %q", x.displayName())

	case *BinaryExpr:
		return evalBinary(x, row)

	case *FuncCall:
		return value.Value{}, fmt.Errorf("aggregate %s outside GROUP BY context", x.Name)

	default:
		return value.Value{}, fmt.Errorf("unsupported expression")
	}
}

func (c *ColumnRef) displayName() string {
	if c.Table != "" {
		return c.Table + "." + c.Name
	}
	return c.Name
}

func evalBinary(e *BinaryExpr, row value.Row) (value.Value, error) {
	l, err := evalExpr(e.Left, row)
	if err != nil {
		return value.Value{}, err
	}

	// Short-circuit booleans.
	switch e.Op {
	case "AND":
		if !truthy(l) {
			return value.Bool(false), nil
		}
		r, err := evalExpr(e.Right, row)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(truthy(r)), nil
	case "OR":
		if truthy(l) {
			return value.Bool(true), nil
		}
		r, err := evalExpr(e.Right, row)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(truthy(r)), nil
	}

	r, err := evalExpr(e.Right, row)
	if err != nil {
		return value.Value{}, err
	}

	switch e.Op {
	case "=", "!=":
		// NULL never equals anything, including NULL.
		if l.IsNull() || r.IsNull() {
			return value.Bool(false), nil
		}
		eq := l.Equal(r)
		if e.Op == "!=" {
			eq = !eq
		}
		return value.Bool(eq), nil

	case "<", "<=", ">", ">=":
		if l.IsNull() || r.IsNull() {
			return value.Bool(false), nil
		}
		c, err := value.Compare(l, r)
		if err != nil {
			return value.Value{}, err
		}
		switch e.Op {
		case "<":
			return value.Bool(c < 0), nil
		case "<=":
			return value.Bool(c <= 0), nil
		case ">":
			return value.Bool(c > 0), nil
		default:
			return value.Bool(c >= 0), nil
		}

	case "+", "-", "*", "/":
		return evalArith(e.Op, l, r)

	default:
		return value.Value{}, fmt.Errorf("unsupported operator %q", e.Op)
	}
}

func evalArith(op string, l, r value.Value) (value.Value, error) {
	if l.IsNull() || r.IsNull() {
		return value.Null(), nil
	}
	if !l.IsNumeric() || !r.IsNumeric() {
		return value.Value{}, fmt.Errorf("operator %q needs numeric operands, got %s and %s", op, l.Kind(), r.Kind())
	}

	if l.Kind() == value.KindFloat64 || r.Kind() == value.KindFloat64 || op == "/" {
		lf, rf := l.Float(), r.Float()
		switch op {
		case "+":
			return value.Float64(lf + rf), nil
		case "-":
			return value.Float64(lf - rf), nil
		case "*":
			return value.Float64(lf * rf), nil
		default:
			if rf == 0 {
				return value.Value{}, fmt.Errorf("division by zero")
			}
			return value.Float64(lf / rf), nil
		}
	}

	li, ri := l.AsInt(), r.AsInt()
	switch op {
	case "+":
		return value.Int64(li + ri), nil
	case "-":
		return value.Int64(li - ri), nil
	default:
		return value.Int64(li * ri), nil
	}
}

// truthy is the WHERE-clause interpretation of a value: only TRUE passes.
func truthy(v value.Value) bool {
	return v.Kind() == value.KindBool && v.AsBool()
}
