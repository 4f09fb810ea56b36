package parser

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokNumber
	tokString
	tokSymbol
	tokParam // $1, $2, ...
)

type token struct {
	kind tokenKind
	text string // keywords uppercased, idents lowercased, strings unquoted
	pos  int
}

// keywords are matched case-insensitively; everything else that looks
// like a word is an identifier.
var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "INSERT": true, "INTO": true,
	"VALUES": true, "UPDATE": true, "SET": true, "DELETE": true, "CREATE": true,
	"TABLE": true, "DROP": true, "ALTER": true, "ADD": true, "COLUMN": true,
	"RENAME": true, "TO": true, "OWNER": true, "IF": true, "EXISTS": true,
	"NOT": true, "NULL": true, "PRIMARY": true, "KEY": true, "UNIQUE": true,
	"REFERENCES": true, "DEFAULT": true, "INDEX": true, "ON": true, "USING": true,
	"VIEW": true, "AS": true, "TYPE": true, "ENUM": true, "ROLE": true,
	"SUPERUSER": true, "LOGIN": true, "PASSWORD": true, "GRANT": true,
	"REVOKE": true, "AND": true, "OR": true, "IN": true, "IS": true,
	"BETWEEN": true, "LIKE": true, "ILIKE": true, "CASE": true, "WHEN": true,
	"THEN": true, "ELSE": true, "END": true, "JOIN": true, "INNER": true,
	"LEFT": true, "RIGHT": true, "OUTER": true, "GROUP": true, "BY": true,
	"HAVING": true, "ORDER": true, "ASC": true, "DESC": true, "LIMIT": true,
	"OFFSET": true, "DISTINCT": true, "UNION": true, "ALL": true,
	"INTERSECT": true, "EXCEPT": true, "BEGIN": true, "COMMIT": true,
	"ROLLBACK": true, "TRANSACTION": true, "WORK": true, "EXPLAIN": true,
	"VACUUM": true, "COPY": true, "STDIN": true, "STDOUT": true, "WITH": true,
	"FORMAT": true, "TRUE": true, "FALSE": true, "CAST": true, "OVER": true,
	"PARTITION": true,
}

// two-character operators, checked before single characters
var doubleSymbols = map[string]bool{
	"<>": true, "!=": true, "<=": true, ">=": true, "||": true, "::": true,
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) errf(pos int, format string, args ...any) error {
	return fmt.Errorf("syntax error at position %d: %s", pos, fmt.Sprintf(format, args...))
}

// lex tokenizes the whole statement up front; the parser works over
// the slice.
func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	ch := l.src[l.pos]

	switch {
	case ch == '\'':
		s, err := l.lexString()
		if err != nil {
			return token{}, err
		}
		return token{kind: tokString, text: s, pos: start}, nil

	case ch == '"':
		s, err := l.lexQuotedIdent()
		if err != nil {
			return token{}, err
		}
		return token{kind: tokIdent, text: s, pos: start}, nil

	case ch == '$':
		l.pos++
		ds := l.pos
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
		if l.pos == ds {
			return token{}, l.errf(start, "expected parameter number after '$'")
		}
		return token{kind: tokParam, text: l.src[ds:l.pos], pos: start}, nil

	case isDigit(ch) || (ch == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil

	case isIdentStart(rune(ch)):
		for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
			l.pos++
		}
		word := l.src[start:l.pos]
		if up := strings.ToUpper(word); keywords[up] {
			return token{kind: tokKeyword, text: up, pos: start}, nil
		}
		return token{kind: tokIdent, text: strings.ToLower(word), pos: start}, nil

	default:
		if l.pos+2 <= len(l.src) && doubleSymbols[l.src[l.pos:l.pos+2]] {
			l.pos += 2
			return token{kind: tokSymbol, text: l.src[start:l.pos], pos: start}, nil
		}
		if strings.ContainsRune("()<>=+-*/%,.;", rune(ch)) {
			l.pos++
			return token{kind: tokSymbol, text: string(ch), pos: start}, nil
		}
		return token{}, l.errf(start, "unexpected character %q", ch)
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			l.pos++
			continue
		}
		// -- line comment
		if ch == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '-' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		return
	}
}

// lexString reads a single-quoted literal; '' escapes a quote.
func (l *lexer) lexString() (string, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == '\'' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'' {
				sb.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return sb.String(), nil
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return "", l.errf(start, "unterminated string literal")
}

func (l *lexer) lexQuotedIdent() (string, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == '"' {
			l.pos++
			return sb.String(), nil
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return "", l.errf(start, "unterminated quoted identifier")
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
