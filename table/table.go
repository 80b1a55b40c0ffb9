// Package table maps schema-described rows onto transactional key/value
// operations: primary keys become order-preserving storage keys under the
// table's id prefix, rows become tagged binary cells. Both the SQL
// executor and the direct row API go through this layer, so they see
// identical semantics.
package table

import (
	"errors"
	"fmt"

	"github.com/wahyudedik/qubedb/catalog"
	"github.com/wahyudedik/qubedb/txn"
	"github.com/wahyudedik/qubedb/value"
)

// ErrConstraint marks schema constraint violations: missing primary keys,
// NOT NULL columns, dimension mismatches.
var ErrConstraint = errors.New("constraint violation")

// Key builds the storage key for a primary key value.
func Key(t *catalog.Table, pk value.Value) ([]byte, error) {
	coerced, err := pk.CoerceTo(t.PrimaryKeyColumn().Kind)
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}
	return value.TableKey(t.ID, coerced)
}

// Put validates row against the schema and writes it under its primary
// key.
func Put(tx *txn.Txn, t *catalog.Table, row value.Row) error {
	pk, ok := row[t.PrimaryKey]
	if !ok || pk.IsNull() {
		return fmt.Errorf("%w: row is missing primary key %q", ErrConstraint, t.PrimaryKey)
	}
	normalized, err := Normalize(t, row)
	if err != nil {
		return err
	}
	key, err := Key(t, pk)
	if err != nil {
		return err
	}
	data, err := value.EncodeRow(nil, normalized, t.Columns)
	if err != nil {
		return err
	}
	return tx.Put(key, data)
}

// Normalize coerces row values to their column kinds and enforces NOT
// NULL, vector dimensions and unknown-column rejection.
func Normalize(t *catalog.Table, row value.Row) (value.Row, error) {
	out := make(value.Row, len(t.Columns))
	for name := range row {
		if _, ok := t.Column(name); !ok {
			return nil, fmt.Errorf("table %q has no column %q", t.Name, name)
		}
	}
	for _, col := range t.Columns {
		v, ok := row[col.Name]
		if !ok || v.IsNull() {
			if col.NotNull {
				return nil, fmt.Errorf("%w: column %q is NOT NULL", ErrConstraint, col.Name)
			}
			out[col.Name] = value.Null()
			continue
		}
		coerced, err := v.CoerceTo(col.Kind)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		if col.Kind == value.KindVector && col.VectorDim > 0 && len(coerced.AsVector()) != col.VectorDim {
			return nil, fmt.Errorf("%w: column %q holds vectors of dimension %d, got %d",
				ErrConstraint, col.Name, col.VectorDim, len(coerced.AsVector()))
		}
		out[col.Name] = coerced
	}
	return out, nil
}

// Get reads the row stored under pk.
func Get(tx *txn.Txn, t *catalog.Table, pk value.Value) (value.Row, bool, error) {
	key, err := Key(t, pk)
	if err != nil {
		return nil, false, err
	}
	data, ok, err := tx.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	row, err := value.DecodeRow(data, t.Columns)
	if err != nil {
		return nil, false, fmt.Errorf("table %q: %w", t.Name, err)
	}
	return row, true, nil
}

// Delete removes the row stored under pk, reporting whether it existed.
func Delete(tx *txn.Txn, t *catalog.Table, pk value.Value) (bool, error) {
	key, err := Key(t, pk)
	if err != nil {
		return false, err
	}
	_, ok, err := tx.Get(key)
	if err != nil || !ok {
		return false, err
	}
	return true, tx.Delete(key)
}

// Scanner iterates a table's rows in primary key order.
type Scanner struct {
	it  *txn.Iterator
	t   *catalog.Table
	row value.Row
	err error
}

// NewScanner opens a scanner over the whole table, or over
// [startPK, endPK) when bounds are non-nil.
func NewScanner(tx *txn.Txn, t *catalog.Table, startPK, endPK *value.Value) (*Scanner, error) {
	start := value.TablePrefix(t.ID)
	end := value.PrefixSuccessor(start)
	if startPK != nil {
		k, err := Key(t, *startPK)
		if err != nil {
			return nil, err
		}
		start = k
	}
	if endPK != nil {
		k, err := Key(t, *endPK)
		if err != nil {
			return nil, err
		}
		end = k
	}
	return &Scanner{it: tx.NewIterator(start, end), t: t}, nil
}

// NewRawScanner opens a scanner over explicit byte bounds inside the
// table's keyspace. The SQL executor uses it to realize half-open and
// inclusive ranges the primary key API cannot express.
func NewRawScanner(tx *txn.Txn, t *catalog.Table, start, end []byte) *Scanner {
	return &Scanner{it: tx.NewIterator(start, end), t: t}
}

// Next advances to the next row.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.it.Next() {
		s.err = s.it.Err()
		return false
	}
	row, err := value.DecodeRow(s.it.Value(), s.t.Columns)
	if err != nil {
		s.err = fmt.Errorf("table %q: %w", s.t.Name, err)
		return false
	}
	s.row = row
	return true
}

// Row returns the current row. Valid after Next returns true.
func (s *Scanner) Row() value.Row { return s.row }

// Err returns the first error the scanner hit.
func (s *Scanner) Err() error { return s.err }
