// Package graph encodes property-graph nodes and edges as rows in hidden
// system tables. Adjacency is purely a key encoding: edges are keyed
// (graph, from, relation, to), so the neighbors of a node under a relation
// are one contiguous key range in the B+Tree: a lazy, restartable prefix
// scan rather than a materialized adjacency list.
package graph

import (
	"fmt"

	"github.com/wahyudedik/qubedb/catalog"
	"github.com/wahyudedik/qubedb/value"
)

// NodeKey returns the storage key of a node row.
func NodeKey(graph, id string) ([]byte, error) {
	return value.TableKey(catalog.GraphNodeTableID, value.String(graph), value.String(id))
}

// NodePrefix returns the key prefix covering every node of a graph.
func NodePrefix(graph string) ([]byte, error) {
	return value.TableKey(catalog.GraphNodeTableID, value.String(graph))
}

// EdgeKey returns the storage key of a directed edge. Symmetric relations
// are stored as two edges.
func EdgeKey(graph, from, relation, to string) ([]byte, error) {
	return value.TableKey(catalog.GraphEdgeTableID,
		value.String(graph), value.String(from), value.String(relation), value.String(to))
}

// EdgePrefix returns the prefix covering all outgoing edges of a node.
func EdgePrefix(graph, from string) ([]byte, error) {
	return value.TableKey(catalog.GraphEdgeTableID, value.String(graph), value.String(from))
}

// RelationPrefix returns the prefix covering a node's outgoing edges under
// one relation.
func RelationPrefix(graph, from, relation string) ([]byte, error) {
	return value.TableKey(catalog.GraphEdgeTableID,
		value.String(graph), value.String(from), value.String(relation))
}

// EdgeTarget extracts the destination node id from an edge key produced by
// EdgeKey.
func EdgeTarget(key []byte) (string, error) {
	if len(key) < 4 {
		return "", fmt.Errorf("edge key too short")
	}
	rest := key[4:]
	// graph, from, relation, then the target.
	for i := 0; i < 3; i++ {
		_, n, err := value.DecodeKeyString(rest)
		if err != nil {
			return "", fmt.Errorf("malformed edge key: %w", err)
		}
		rest = rest[n:]
	}
	to, _, err := value.DecodeKeyString(rest)
	if err != nil {
		return "", fmt.Errorf("malformed edge key: %w", err)
	}
	return to, nil
}

// NodeID extracts the node id from a node key produced by NodeKey.
func NodeID(key []byte) (string, error) {
	if len(key) < 4 {
		return "", fmt.Errorf("node key too short")
	}
	rest := key[4:]
	_, n, err := value.DecodeKeyString(rest)
	if err != nil {
		return "", fmt.Errorf("malformed node key: %w", err)
	}
	id, _, err := value.DecodeKeyString(rest[n:])
	if err != nil {
		return "", fmt.Errorf("malformed node key: %w", err)
	}
	return id, nil
}
