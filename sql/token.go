package sql

import "fmt"

type tokenType int

const (
	tokEOF tokenType = iota
	tokIdent
	tokKeyword
	tokNumber
	tokString
	tokSymbol // punctuation and operators
)

type token struct {
	typ tokenType
	lit string // keywords are uppercased, idents keep their case
	pos int    // byte offset in the input
}

func (t token) String() string {
	switch t.typ {
	case tokEOF:
		return "end of input"
	case tokString:
		return fmt.Sprintf("'%s'", t.lit)
	default:
		return t.lit
	}
}

// keywords recognized by the lexer. Anything else alphabetic is an
// identifier.
var keywords = map[string]struct{}{
	"SELECT": {}, "FROM": {}, "WHERE": {}, "INSERT": {}, "INTO": {},
	"VALUES": {}, "UPDATE": {}, "SET": {}, "DELETE": {}, "CREATE": {},
	"DROP": {}, "ALTER": {}, "TABLE": {}, "ADD": {}, "COLUMN": {},
	"PRIMARY": {}, "KEY": {}, "NOT": {}, "NULL": {}, "AND": {}, "OR": {},
	"JOIN": {}, "ON": {}, "GROUP": {}, "BY": {}, "ORDER": {}, "ASC": {},
	"DESC": {}, "LIMIT": {}, "OFFSET": {}, "TRUE": {}, "FALSE": {},
	"AS": {},
	"BOOL": {}, "INT": {}, "BIGINT": {}, "DOUBLE": {}, "FLOAT": {},
	"STRING": {}, "TEXT": {}, "BINARY": {}, "JSON": {}, "VECTOR": {},
	"TIMESTAMP": {},
}
