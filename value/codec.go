package value

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Row codec: rows are stored as a little-endian sequence of tagged cells in
// schema column order. A stored row may have fewer cells than the current
// schema (columns added later decode as NULL); it never has more, because
// DROP COLUMN rewrites surviving rows.
//
//	[ncols:2] then per cell: [kind:1][payload]
//
// Payloads: BOOL 1 byte; INT 4; BIGINT/TIMESTAMP 8; DOUBLE 8 (IEEE bits);
// STRING/BINARY/JSON u32 length + bytes; VECTOR u32 count + count*4 bytes.

// EncodeRow appends the binary encoding of row under cols to dst.
func EncodeRow(dst []byte, row Row, cols []ColumnDef) ([]byte, error) {
	if len(cols) > math.MaxUint16 {
		return nil, fmt.Errorf("too many columns: %d", len(cols))
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(cols)))
	for _, col := range cols {
		v, ok := row[col.Name]
		if !ok {
			v = Null()
		}
		var err error
		dst, err = appendCell(dst, v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode column %q: %w", col.Name, err)
		}
	}
	return dst, nil
}

func appendCell(dst []byte, v Value) ([]byte, error) {
	dst = append(dst, byte(v.Kind()))
	switch v.Kind() {
	case KindNull:
		return dst, nil
	case KindBool:
		if v.AsBool() {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case KindInt32:
		return binary.LittleEndian.AppendUint32(dst, uint32(int32(v.AsInt()))), nil
	case KindInt64, KindTimestamp:
		return binary.LittleEndian.AppendUint64(dst, uint64(v.AsInt())), nil
	case KindFloat64:
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.AsFloat())), nil
	case KindString:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.AsString())))
		return append(dst, v.AsString()...), nil
	case KindBinary, KindJSON:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.AsBytes())))
		return append(dst, v.AsBytes()...), nil
	case KindVector:
		vec := v.AsVector()
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(vec)))
		for _, f := range vec {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", v.Kind())
	}
}

// DecodeRow decodes a stored row under the current schema. Columns beyond
// the stored cell count decode as NULL.
func DecodeRow(data []byte, cols []ColumnDef) (Row, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("row too short: %d bytes", len(data))
	}
	stored := int(binary.LittleEndian.Uint16(data))
	data = data[2:]

	if stored > len(cols) {
		return nil, fmt.Errorf("stored row has %d cells, schema has %d columns", stored, len(cols))
	}

	row := make(Row, len(cols))
	for i, col := range cols {
		if i >= stored {
			row[col.Name] = Null()
			continue
		}
		v, n, err := decodeCell(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode column %q: %w", col.Name, err)
		}
		row[col.Name] = v
		data = data[n:]
	}
	return row, nil
}

func decodeCell(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, fmt.Errorf("truncated cell")
	}
	kind := Kind(data[0])
	body := data[1:]
	switch kind {
	case KindNull:
		return Null(), 1, nil
	case KindBool:
		if len(body) < 1 {
			return Value{}, 0, fmt.Errorf("truncated BOOL")
		}
		return Bool(body[0] != 0), 2, nil
	case KindInt32:
		if len(body) < 4 {
			return Value{}, 0, fmt.Errorf("truncated INT")
		}
		return Int32(int32(binary.LittleEndian.Uint32(body))), 5, nil
	case KindInt64, KindTimestamp:
		if len(body) < 8 {
			return Value{}, 0, fmt.Errorf("truncated BIGINT")
		}
		i := int64(binary.LittleEndian.Uint64(body))
		if kind == KindTimestamp {
			return Timestamp(i), 9, nil
		}
		return Int64(i), 9, nil
	case KindFloat64:
		if len(body) < 8 {
			return Value{}, 0, fmt.Errorf("truncated DOUBLE")
		}
		return Float64(math.Float64frombits(binary.LittleEndian.Uint64(body))), 9, nil
	case KindString, KindBinary, KindJSON:
		if len(body) < 4 {
			return Value{}, 0, fmt.Errorf("truncated length")
		}
		n := int(binary.LittleEndian.Uint32(body))
		if len(body) < 4+n {
			return Value{}, 0, fmt.Errorf("truncated payload: want %d bytes", n)
		}
		payload := make([]byte, n)
		copy(payload, body[4:4+n])
		switch kind {
		case KindString:
			return String(string(payload)), 5 + n, nil
		case KindBinary:
			return Binary(payload), 5 + n, nil
		default:
			return Value{kind: KindJSON, raw: payload}, 5 + n, nil
		}
	case KindVector:
		if len(body) < 4 {
			return Value{}, 0, fmt.Errorf("truncated vector length")
		}
		n := int(binary.LittleEndian.Uint32(body))
		if len(body) < 4+4*n {
			return Value{}, 0, fmt.Errorf("truncated vector: want %d floats", n)
		}
		vec := make([]float32, n)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4+4*i:]))
		}
		return Vector(vec), 5 + 4*n, nil
	default:
		return Value{}, 0, fmt.Errorf("unknown cell kind %d", kind)
	}
}

// EncodeVector encodes a bare float32 slice, used for vector collection
// entries that bypass the row codec.
func EncodeVector(vec []float32) []byte {
	out := make([]byte, 0, 4+4*len(vec))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(vec)))
	for _, f := range vec {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}

// DecodeVector decodes a bare vector encoded by EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("truncated vector")
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) < 4+4*n {
		return nil, fmt.Errorf("truncated vector: want %d floats", n)
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vec, nil
}
