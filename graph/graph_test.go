package graph

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeKeyOrderGroupsByRelation(t *testing.T) {
	mk := func(from, rel, to string) []byte {
		k, err := EdgeKey("g", from, rel, to)
		require.NoError(t, err)
		return k
	}

	keys := [][]byte{
		mk("alice", "FRIENDS", "bob"),
		mk("alice", "FRIENDS", "carol"),
		mk("alice", "WORKS_WITH", "dave"),
		mk("bob", "FRIENDS", "alice"),
	}
	sorted := make([][]byte, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	assert.Equal(t, keys, sorted, "edge keys must already sort by (from, relation, to)")

	prefix, err := RelationPrefix("g", "alice", "FRIENDS")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(keys[0], prefix))
	assert.True(t, bytes.HasPrefix(keys[1], prefix))
	assert.False(t, bytes.HasPrefix(keys[2], prefix))
	assert.False(t, bytes.HasPrefix(keys[3], prefix))
}

func TestEdgeTarget(t *testing.T) {
	key, err := EdgeKey("social", "alice", "FRIENDS", "bob")
	require.NoError(t, err)

	to, err := EdgeTarget(key)
	require.NoError(t, err)
	assert.Equal(t, "bob", to)
}

func TestEdgeTargetWithEscapedBytes(t *testing.T) {
	key, err := EdgeKey("g", "a\x00b", "rel", "c\x00d")
	require.NoError(t, err)

	to, err := EdgeTarget(key)
	require.NoError(t, err)
	assert.Equal(t, "c\x00d", to)
}

func TestNodeID(t *testing.T) {
	key, err := NodeKey("g", "alice")
	require.NoError(t, err)

	id, err := NodeID(key)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
}

func TestNodeAndEdgeKeyspacesDisjoint(t *testing.T) {
	nk, err := NodeKey("g", "alice")
	require.NoError(t, err)
	ek, err := EdgeKey("g", "alice", "r", "bob")
	require.NoError(t, err)
	assert.NotEqual(t, nk[:4], ek[:4])
}
