package value

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, vals ...Value) []byte {
	t.Helper()
	key, err := EncodeKey(nil, vals...)
	require.NoError(t, err)
	return key
}

func TestKeyOrderMatchesValueOrder(t *testing.T) {
	cases := []struct {
		name   string
		sorted []Value
	}{
		{"ints", []Value{
			Int64(-1 << 62), Int64(-42), Int64(-1), Int64(0), Int64(1), Int64(42), Int64(1 << 62),
		}},
		{"doubles", []Value{
			Float64(-1e18), Float64(-2.5), Float64(-0.0001), Float64(0), Float64(0.0001), Float64(2.5), Float64(1e18),
		}},
		{"strings", []Value{
			String(""), String("a"), String("a\x00"), String("a\x00b"), String("aa"), String("b"),
		}},
		{"bools", []Value{Bool(false), Bool(true)}},
		{"timestamps", []Value{Timestamp(-5), Timestamp(0), Timestamp(1700000000)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 1; i < len(tc.sorted); i++ {
				a := encode(t, tc.sorted[i-1])
				b := encode(t, tc.sorted[i])
				assert.Negative(t, bytes.Compare(a, b),
					"%s should encode below %s", tc.sorted[i-1], tc.sorted[i])
			}
		})
	}
}

func TestKeyCompositeOrder(t *testing.T) {
	// Composite keys sort by the first component, then the next. A short
	// string must never sort after a longer one it prefixes.
	keys := [][]byte{
		encode(t, String("a"), Int64(9)),
		encode(t, String("a"), Int64(10)),
		encode(t, String("aa"), Int64(1)),
		encode(t, String("b"), Int64(0)),
	}
	sorted := make([][]byte, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	assert.Equal(t, keys, sorted)
}

func TestKeyStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "plain", "with\x00nul", "\x00", "\x00\x01\x00"} {
		key := encode(t, String(s), String("next"))
		got, n, err := DecodeKeyString(key)
		require.NoError(t, err)
		assert.Equal(t, s, got)

		rest, _, err := DecodeKeyString(key[n:])
		require.NoError(t, err)
		assert.Equal(t, "next", rest)
	}
}

func TestKeyIntRoundTrip(t *testing.T) {
	for _, v := range []int64{-1 << 63, -1, 0, 1, 1<<63 - 1} {
		key := encode(t, Int64(v))
		got, n, err := DecodeKeyInt(key)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, 8, n)
	}
}

func TestKeyRejectsUnorderableKinds(t *testing.T) {
	_, err := EncodeKey(nil, Vector([]float32{1}))
	assert.Error(t, err)
	_, err = EncodeKey(nil, MustJSON(`{}`))
	assert.Error(t, err)
	_, err = EncodeKey(nil, Null())
	assert.Error(t, err)
}

func TestTableKeyPrefixing(t *testing.T) {
	key, err := TableKey(7, Int64(1))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 7}, key[:4])
	assert.True(t, bytes.HasPrefix(key, TablePrefix(7)))

	// Rows of table 7 sort strictly inside [prefix, successor).
	succ := PrefixSuccessor(TablePrefix(7))
	assert.Equal(t, []byte{0, 0, 0, 8}, succ)
	assert.Negative(t, bytes.Compare(key, succ))
}

func TestPrefixSuccessorCarries(t *testing.T) {
	assert.Equal(t, []byte{0x01}, PrefixSuccessor([]byte{0x00, 0xFF}))
	assert.Equal(t, []byte{0xAB, 0xCE}, PrefixSuccessor([]byte{0xAB, 0xCD}))
	assert.Nil(t, PrefixSuccessor([]byte{0xFF, 0xFF}))
}

func TestRowSchemaEvolution(t *testing.T) {
	oldCols := []ColumnDef{{Name: "id", Kind: KindInt64}, {Name: "name", Kind: KindString}}
	row := Row{"id": Int64(1), "name": String("alice")}
	data, err := EncodeRow(nil, row, oldCols)
	require.NoError(t, err)

	// A column added after the row was written decodes as NULL.
	newCols := append(oldCols, ColumnDef{Name: "age", Kind: KindInt64})
	got, err := DecodeRow(data, newCols)
	require.NoError(t, err)
	assert.Equal(t, Int64(1), got["id"])
	assert.True(t, got["age"].IsNull())

	// The reverse (more cells than columns) is corruption.
	_, err = DecodeRow(data, oldCols[:1])
	assert.Error(t, err)
}
