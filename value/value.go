// Package value defines the tagged-union cell representation shared by every
// layer of the engine: the storage codec, the indexes, the transaction
// manager and the SQL executor all speak Value and Row.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the shape held by a Value. The set is closed; every
// consumer switches exhaustively over it.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindFloat64
	KindString
	KindBinary
	KindJSON
	KindVector
	KindTimestamp
)

// String returns the SQL-facing name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBool:
		return "BOOL"
	case KindInt32:
		return "INT"
	case KindInt64:
		return "BIGINT"
	case KindFloat64:
		return "DOUBLE"
	case KindString:
		return "STRING"
	case KindBinary:
		return "BINARY"
	case KindJSON:
		return "JSON"
	case KindVector:
		return "VECTOR"
	case KindTimestamp:
		return "TIMESTAMP"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is an immutable tagged union over the supported cell shapes.
// The zero Value is NULL.
type Value struct {
	kind Kind
	b    bool
	i    int64 // Int32, Int64, Timestamp
	f    float64
	s    string    // String
	raw  []byte    // Binary, JSON (raw JSON text)
	vec  []float32 // Vector
}

// Null returns the NULL value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a BOOL value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int32 returns an INT value.
func Int32(v int32) Value { return Value{kind: KindInt32, i: int64(v)} }

// Int64 returns a BIGINT value.
func Int64(v int64) Value { return Value{kind: KindInt64, i: v} }

// Float64 returns a DOUBLE value.
func Float64(v float64) Value { return Value{kind: KindFloat64, f: v} }

// String returns a STRING value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Binary returns a BINARY value. The slice is not copied; callers must not
// mutate it afterwards.
func Binary(v []byte) Value { return Value{kind: KindBinary, raw: v} }

// JSON returns a JSON value holding raw JSON text. The text is validated.
func JSON(raw []byte) (Value, error) {
	if !json.Valid(raw) {
		return Value{}, fmt.Errorf("invalid JSON document")
	}
	return Value{kind: KindJSON, raw: raw}, nil
}

// MustJSON is JSON for literals known to be valid; it panics otherwise.
func MustJSON(raw string) Value {
	v, err := JSON([]byte(raw))
	if err != nil {
		panic(err)
	}
	return v
}

// Vector returns a VECTOR value. The slice is not copied; callers must not
// mutate it afterwards.
func Vector(v []float32) Value { return Value{kind: KindVector, vec: v} }

// Timestamp returns a TIMESTAMP value holding epoch microseconds.
func Timestamp(epoch int64) Value { return Value{kind: KindTimestamp, i: epoch} }

// Kind returns the tag of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the BOOL payload. It is only meaningful for KindBool.
func (v Value) AsBool() bool { return v.b }

// AsInt returns the integer payload (Int32, Int64, Timestamp).
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the DOUBLE payload.
func (v Value) AsFloat() float64 { return v.f }

// AsString returns the STRING payload.
func (v Value) AsString() string { return v.s }

// AsBytes returns the BINARY or raw JSON payload.
func (v Value) AsBytes() []byte { return v.raw }

// AsVector returns the VECTOR payload.
func (v Value) AsVector() []float32 { return v.vec }

// IsNumeric reports whether the value can participate in arithmetic.
func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindInt32, KindInt64, KindFloat64, KindTimestamp:
		return true
	default:
		return false
	}
}

// Float returns the numeric payload widened to float64.
func (v Value) Float() float64 {
	if v.kind == KindFloat64 {
		return v.f
	}
	return float64(v.i)
}

// Equal reports value equality. Column order and integer width matter:
// Int32(1) equals Int64(1) numerically but not structurally; Equal is
// structural except that numeric kinds compare by numeric value.
func (v Value) Equal(o Value) bool {
	if v.IsNumeric() && o.IsNumeric() {
		c, _ := Compare(v, o)
		return c == 0
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindBinary, KindJSON:
		return bytes.Equal(v.raw, o.raw)
	case KindVector:
		if len(v.vec) != len(o.vec) {
			return false
		}
		for i := range v.vec {
			if v.vec[i] != o.vec[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two values. NULL sorts before everything; numeric kinds
// compare cross-width; strings and binary compare bytewise. Incomparable
// kind pairs return an error.
func Compare(a, b Value) (int, error) {
	if a.kind == KindNull || b.kind == KindNull {
		switch {
		case a.kind == b.kind:
			return 0, nil
		case a.kind == KindNull:
			return -1, nil
		default:
			return 1, nil
		}
	}
	if a.IsNumeric() && b.IsNumeric() {
		if a.kind != KindFloat64 && b.kind != KindFloat64 {
			switch {
			case a.i < b.i:
				return -1, nil
			case a.i > b.i:
				return 1, nil
			default:
				return 0, nil
			}
		}
		af, bf := a.Float(), b.Float()
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.kind != b.kind {
		return 0, fmt.Errorf("cannot compare %s with %s", a.kind, b.kind)
	}
	switch a.kind {
	case KindBool:
		switch {
		case !a.b && b.b:
			return -1, nil
		case a.b && !b.b:
			return 1, nil
		default:
			return 0, nil
		}
	case KindString:
		return strings.Compare(a.s, b.s), nil
	case KindBinary:
		return bytes.Compare(a.raw, b.raw), nil
	default:
		return 0, fmt.Errorf("kind %s is not ordered", a.kind)
	}
}

// String renders the value for logs and the CLI.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt32, KindInt64, KindTimestamp:
		return strconv.FormatInt(v.i, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindBinary:
		return fmt.Sprintf("0x%x", v.raw)
	case KindJSON:
		return string(v.raw)
	case KindVector:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, f := range v.vec {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		return fmt.Sprintf("Value(%d)", uint8(v.kind))
	}
}

// Row maps column names to values. On-disk column order comes from the
// table schema, not from the map.
type Row map[string]Value

// Clone returns a shallow copy of the row. Values are immutable, so a
// shallow copy is sufficient.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Equal reports whether two rows hold equal values under the same names.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for k, v := range r {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// ColumnDef describes one column of a table schema.
type ColumnDef struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	NotNull bool   `json:"not_null,omitempty"`

	// VectorDim is the fixed dimension for KindVector columns.
	VectorDim int `json:"vector_dim,omitempty"`
}

// CoerceTo converts v to the column kind where a lossless conversion
// exists (integer widening/narrowing within range, int to double).
func (v Value) CoerceTo(k Kind) (Value, error) {
	if v.kind == k || v.kind == KindNull {
		return v, nil
	}
	switch k {
	case KindInt32:
		if v.kind == KindInt64 && v.i >= math.MinInt32 && v.i <= math.MaxInt32 {
			return Int32(int32(v.i)), nil
		}
	case KindInt64:
		if v.kind == KindInt32 {
			return Int64(v.i), nil
		}
	case KindFloat64:
		if v.kind == KindInt32 || v.kind == KindInt64 {
			return Float64(float64(v.i)), nil
		}
	case KindTimestamp:
		if v.kind == KindInt32 || v.kind == KindInt64 {
			return Timestamp(v.i), nil
		}
	case KindJSON:
		if v.kind == KindString {
			return JSON([]byte(v.s))
		}
	case KindBinary:
		if v.kind == KindString {
			return Binary([]byte(v.s)), nil
		}
	}
	return Value{}, fmt.Errorf("cannot coerce %s to %s", v.kind, k)
}
