package qubedb

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/wahyudedik/qubedb/btree"
	"github.com/wahyudedik/qubedb/catalog"
	"github.com/wahyudedik/qubedb/index/vector"
	"github.com/wahyudedik/qubedb/sql"
	"github.com/wahyudedik/qubedb/storage"
	"github.com/wahyudedik/qubedb/table"
	"github.com/wahyudedik/qubedb/txn"
	"github.com/wahyudedik/qubedb/wal"
)

// ErrorKind classifies every error the facade returns. Conflict is the only
// kind the caller should retry; Corruption at open is fatal for the data
// directory.
type ErrorKind uint8

const (
	KindIO ErrorKind = iota + 1
	KindCorruption
	KindConflict
	KindConstraint
	KindSyntax
	KindPlan
	KindNotFound
	KindCapacity
	KindDimension
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io error"
	case KindCorruption:
		return "corruption"
	case KindConflict:
		return "transaction conflict"
	case KindConstraint:
		return "constraint violation"
	case KindSyntax:
		return "syntax error"
	case KindPlan:
		return "plan error"
	case KindNotFound:
		return "not found"
	case KindCapacity:
		return "capacity exceeded"
	case KindDimension:
		return "dimension mismatch"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Error wraps an engine error with its public classification.
type Error struct {
	Kind  ErrorKind
	cause error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.cause.Error() }

func (e *Error) Unwrap() error { return e.cause }

// ErrClosed reports use of a closed database handle.
var ErrClosed = errors.New("database is closed")

// ErrLocked reports a data directory already opened by another process.
var ErrLocked = errors.New("data directory is locked")

// KindOf returns the classification of err, or zero for unclassified
// errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsConflict reports whether err is a commit-time write conflict the caller
// can retry.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotFound reports whether err names a missing table, row, collection or
// graph element.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

func kindError(kind ErrorKind, err error) error {
	return &Error{Kind: kind, cause: err}
}

func kindErrorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, cause: fmt.Errorf(format, args...)}
}

// translateError maps internal errors onto the public taxonomy.
// Unrecognized errors pass through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var (
		alreadyTyped *Error
		syntaxErr    *sql.SyntaxError
		planErr      *sql.PlanError
		conflictErr  *txn.ConflictError
		dimErr       *vector.ErrDimensionMismatch
		pathErr      *fs.PathError
	)
	switch {
	case errors.As(err, &alreadyTyped):
		return err
	case errors.As(err, &syntaxErr):
		return kindError(KindSyntax, err)
	case errors.As(err, &planErr):
		return kindError(KindPlan, err)
	case errors.As(err, &conflictErr):
		return kindError(KindConflict, err)
	case errors.As(err, &dimErr):
		return kindError(KindDimension, err)
	case errors.Is(err, sql.ErrDuplicateKey), errors.Is(err, table.ErrConstraint):
		return kindError(KindConstraint, err)
	case errors.Is(err, catalog.ErrTableNotFound),
		errors.Is(err, catalog.ErrColumnNotFound),
		errors.Is(err, catalog.ErrCollectionNotFound):
		return kindError(KindNotFound, err)
	case errors.Is(err, wal.ErrCorrupt), errors.Is(err, storage.ErrChecksum):
		return kindError(KindCorruption, err)
	case errors.Is(err, btree.ErrKeyTooLarge):
		return kindError(KindCapacity, err)
	case errors.As(err, &pathErr):
		return kindError(KindIO, err)
	default:
		return err
	}
}
