package hashidx

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertSearchDelete(t *testing.T) {
	idx := New()

	idx.Insert([]byte("k1"), []byte("v1"))
	idx.Insert([]byte("k1"), []byte("v2"))
	idx.Insert([]byte("k2"), []byte("v3"))

	vals := idx.Search([]byte("k1"))
	require.Len(t, vals, 2)
	assert.Equal(t, []byte("v1"), vals[0])
	assert.Equal(t, []byte("v2"), vals[1])

	assert.Nil(t, idx.Search([]byte("missing")))
	assert.Equal(t, 2, idx.Len())

	assert.True(t, idx.Delete([]byte("k1")))
	assert.False(t, idx.Delete([]byte("k1")))
	assert.Nil(t, idx.Search([]byte("k1")))
	assert.Equal(t, 1, idx.Len())
}

func TestManyKeysAcrossShards(t *testing.T) {
	idx := New()
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		idx.Insert(key, []byte(fmt.Sprintf("val-%d", i)))
	}
	assert.Equal(t, 1000, idx.Len())
	for i := 0; i < 1000; i += 37 {
		vals := idx.Search([]byte(fmt.Sprintf("key-%d", i)))
		require.Len(t, vals, 1)
		assert.Equal(t, []byte(fmt.Sprintf("val-%d", i)), vals[0])
	}
}
