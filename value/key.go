package value

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Key encoding is order-preserving: the bytewise order of encoded keys
// matches the logical order of the source values, so the B+Tree can compare
// keys with bytes.Compare and a prefix of encoded components bounds a range
// scan.
//
// Layout per component:
//
//	integers   8 bytes big-endian with the sign bit flipped
//	doubles    8 bytes big-endian, sign-transformed (negatives inverted)
//	booleans   1 byte (0x00 false, 0x01 true)
//	strings    raw bytes with 0x00 escaped as 0x00 0x01, terminated 0x00 0x00
//	binary     same as strings

// EncodeKey appends the order-preserving encoding of vals to dst.
func EncodeKey(dst []byte, vals ...Value) ([]byte, error) {
	for _, v := range vals {
		var err error
		dst, err = appendKeyComponent(dst, v)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func appendKeyComponent(dst []byte, v Value) ([]byte, error) {
	switch v.Kind() {
	case KindInt32, KindInt64, KindTimestamp:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.AsInt())^(1<<63))
		return append(dst, buf[:]...), nil
	case KindFloat64:
		bits := math.Float64bits(v.AsFloat())
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], bits)
		return append(dst, buf[:]...), nil
	case KindBool:
		if v.AsBool() {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case KindString:
		return appendEscaped(dst, []byte(v.AsString())), nil
	case KindBinary:
		return appendEscaped(dst, v.AsBytes()), nil
	default:
		return nil, fmt.Errorf("kind %s cannot be used in a key", v.Kind())
	}
}

func appendEscaped(dst, src []byte) []byte {
	for _, b := range src {
		if b == 0x00 {
			dst = append(dst, 0x00, 0x01)
		} else {
			dst = append(dst, b)
		}
	}
	return append(dst, 0x00, 0x00)
}

// DecodeKeyString decodes one string component starting at key[0] and
// returns the string together with the number of bytes consumed.
func DecodeKeyString(key []byte) (string, int, error) {
	var out []byte
	i := 0
	for i < len(key) {
		b := key[i]
		if b != 0x00 {
			out = append(out, b)
			i++
			continue
		}
		if i+1 >= len(key) {
			return "", 0, fmt.Errorf("truncated key component")
		}
		switch key[i+1] {
		case 0x00:
			return string(out), i + 2, nil
		case 0x01:
			out = append(out, 0x00)
			i += 2
		default:
			return "", 0, fmt.Errorf("malformed key escape at offset %d", i)
		}
	}
	return "", 0, fmt.Errorf("unterminated key component")
}

// DecodeKeyInt decodes one integer component starting at key[0].
func DecodeKeyInt(key []byte) (int64, int, error) {
	if len(key) < 8 {
		return 0, 0, fmt.Errorf("truncated key component")
	}
	u := binary.BigEndian.Uint64(key[:8])
	return int64(u ^ (1 << 63)), 8, nil
}

// TableKey builds the full storage key for a row: a 4-byte big-endian table
// id prefix followed by the encoded primary key components.
func TableKey(tableID uint32, vals ...Value) ([]byte, error) {
	dst := make([]byte, 4, 4+16*len(vals))
	binary.BigEndian.PutUint32(dst, tableID)
	return EncodeKey(dst, vals...)
}

// TablePrefix returns the 4-byte key prefix owned by a table.
func TablePrefix(tableID uint32) []byte {
	dst := make([]byte, 4)
	binary.BigEndian.PutUint32(dst, tableID)
	return dst
}

// PrefixSuccessor returns the smallest key greater than every key that has
// prefix p, or nil if no such key exists (p is all 0xFF). The result is a
// fresh slice.
func PrefixSuccessor(p []byte) []byte {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] != 0xFF {
			out := make([]byte, i+1)
			copy(out, p[:i+1])
			out[i]++
			return out
		}
	}
	return nil
}
