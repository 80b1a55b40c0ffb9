package vector

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetDelete(t *testing.T) {
	f, err := NewFlat(3, MetricL2)
	require.NoError(t, err)

	require.NoError(t, f.Insert("a", []float32{1, 0, 0}))
	require.NoError(t, f.Insert("b", []float32{0, 1, 0}))
	assert.Equal(t, 2, f.Len())

	v, ok := f.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0}, v)

	assert.True(t, f.Delete("a"))
	assert.False(t, f.Delete("a"))
	_, ok = f.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, f.Len())
}

func TestInsertDimensionMismatch(t *testing.T) {
	f, err := NewFlat(3, MetricL2)
	require.NoError(t, err)

	err = f.Insert("a", []float32{1, 2})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
}

func TestSearchNearest(t *testing.T) {
	f, err := NewFlat(3, MetricL2)
	require.NoError(t, err)
	require.NoError(t, f.Insert("doc1", []float32{0.1, 0.2, 0.3}))
	require.NoError(t, f.Insert("doc2", []float32{0.9, 0.8, 0.7}))

	res, err := f.Search([]float32{0.1, 0.2, 0.31}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "doc1", res[0].ID)
	assert.InDelta(t, 0.0001, res[0].Distance, 0.001)
}

func TestSearchOrderingAndTieBreak(t *testing.T) {
	f, err := NewFlat(2, MetricL2)
	require.NoError(t, err)

	// b and c are equidistant from the query; b was inserted first.
	require.NoError(t, f.Insert("a", []float32{0, 0}))
	require.NoError(t, f.Insert("b", []float32{1, 0}))
	require.NoError(t, f.Insert("c", []float32{0, 1}))
	require.NoError(t, f.Insert("d", []float32{5, 5}))

	res, err := f.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "a", res[0].ID)
	assert.Equal(t, "b", res[1].ID)
	assert.Equal(t, "c", res[2].ID)
	assert.LessOrEqual(t, res[0].Distance, res[1].Distance)
	assert.LessOrEqual(t, res[1].Distance, res[2].Distance)
}

func TestSearchSkipsDeleted(t *testing.T) {
	f, err := NewFlat(2, MetricL2)
	require.NoError(t, err)
	require.NoError(t, f.Insert("near", []float32{0, 0}))
	require.NoError(t, f.Insert("far", []float32{9, 9}))
	f.Delete("near")

	res, err := f.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "far", res[0].ID)
}

func TestSearchKLargerThanIndex(t *testing.T) {
	f, err := NewFlat(2, MetricL2)
	require.NoError(t, err)
	require.NoError(t, f.Insert("only", []float32{1, 1}))

	res, err := f.Search([]float32{0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestSearchInvalidK(t *testing.T) {
	f, err := NewFlat(2, MetricL2)
	require.NoError(t, err)
	_, err = f.Search([]float32{0, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestReplacementUsesNewPosition(t *testing.T) {
	f, err := NewFlat(2, MetricL2)
	require.NoError(t, err)
	require.NoError(t, f.Insert("a", []float32{0, 0}))
	require.NoError(t, f.Insert("b", []float32{1, 1}))
	require.NoError(t, f.Insert("a", []float32{2, 2}))
	assert.Equal(t, 2, f.Len())

	v, ok := f.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{2, 2}, v)

	res, err := f.Search([]float32{2, 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", res[0].ID)
}

func TestCosineMetric(t *testing.T) {
	f, err := NewFlat(2, MetricCosine)
	require.NoError(t, err)
	require.NoError(t, f.Insert("same-dir", []float32{2, 0}))
	require.NoError(t, f.Insert("orthogonal", []float32{0, 3}))

	res, err := f.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "same-dir", res[0].ID)
	assert.InDelta(t, 0, res[0].Distance, 1e-6)
	assert.InDelta(t, 1, res[1].Distance, 1e-6)
}

func TestSnapshotRoundTrip(t *testing.T) {
	f, err := NewFlat(4, MetricCosine)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("vec-%03d", i)
		require.NoError(t, f.Insert(id, []float32{float32(i), 1, 2, 3}))
	}
	f.Delete("vec-050")

	var buf bytes.Buffer
	require.NoError(t, f.WriteSnapshot(&buf))

	loaded, err := LoadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, 99, loaded.Len())
	assert.Equal(t, 4, loaded.Dimension())
	assert.Equal(t, MetricCosine, loaded.MetricKind())

	_, ok := loaded.Get("vec-050")
	assert.False(t, ok)
	v, ok := loaded.Get("vec-099")
	require.True(t, ok)
	assert.Equal(t, []float32{99, 1, 2, 3}, v)
}
