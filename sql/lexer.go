package sql

import (
	"fmt"
	"strings"
	"unicode"
)

// SyntaxError reports a lexing or parsing failure with its byte offset.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

// lexAll tokenizes the whole input up front; statements are short enough
// that streaming buys nothing.
func (l *lexer) lexAll() ([]token, error) {
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.typ == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.input) {
		return token{typ: tokEOF, pos: start}, nil
	}

	c := l.input[l.pos]
	switch {
	case isLetter(c):
		return l.lexWord(start), nil
	case isDigit(c):
		return l.lexNumber(start)
	case c == '\'':
		return l.lexString(start)
	default:
		return l.lexSymbol(start)
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

func (l *lexer) lexWord(start int) token {
	for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
		l.pos++
	}
	word := l.input[start:l.pos]
	upper := strings.ToUpper(word)
	if _, ok := keywords[upper]; ok {
		return token{typ: tokKeyword, lit: upper, pos: start}
	}
	return token{typ: tokIdent, lit: word, pos: start}
}

func (l *lexer) lexNumber(start int) (token, error) {
	seenDot := false
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '.' {
			if seenDot {
				return token{}, &SyntaxError{Pos: l.pos, Msg: "malformed number"}
			}
			seenDot = true
			l.pos++
			continue
		}
		if !isDigit(c) {
			break
		}
		l.pos++
	}
	return token{typ: tokNumber, lit: l.input[start:l.pos], pos: start}, nil
}

func (l *lexer) lexString(start int) (token, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\'' {
			// '' escapes a quote inside the literal.
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '\'' {
				sb.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return token{typ: tokString, lit: sb.String(), pos: start}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, &SyntaxError{Pos: start, Msg: "unterminated string literal"}
}

func (l *lexer) lexSymbol(start int) (token, error) {
	two := ""
	if l.pos+2 <= len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}
	switch two {
	case "<=", ">=", "!=", "<>":
		l.pos += 2
		if two == "<>" {
			two = "!="
		}
		return token{typ: tokSymbol, lit: two, pos: start}, nil
	}

	c := l.input[l.pos]
	switch c {
	case '(', ')', ',', '*', '=', '<', '>', '+', '-', '/', '.', ';', '[', ']':
		l.pos++
		return token{typ: tokSymbol, lit: string(c), pos: start}, nil
	default:
		return token{}, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected character %q", c)}
	}
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordChar(c byte) bool { return isLetter(c) || isDigit(c) }
