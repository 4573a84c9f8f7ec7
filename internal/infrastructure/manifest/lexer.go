// Package manifest reads the PowerShell module manifest (.psd1) subset that
// dependency resolution needs. A manifest is a single hashtable literal;
// this package tokenizes and parses just that grammar: hashtables @{...},
// arrays @(...), quoted strings, numbers, bare words, $true/$false, line and
// block comments.
package manifest

import "fmt"

// TokenType represents the kind of token.
type TokenType int

const (
	// Special
	EOF TokenType = iota
	ILLEGAL
	NEWLINE

	// Punctuation
	HASHTABLE // "@{"
	ARRAY     // "@("
	RCURLY    // "}"
	RROUND    // ")"
	ASSIGN    // "="
	SEMI      // ";"
	COMMA     // ","

	// Literals & identifiers
	IDENT
	STRING
	NUMBER
	VARIABLE // "$true", "$false", "$null"
)

// Token is a lexical token with optional literal value.
type Token struct {
	Type    TokenType
	Lexeme  string      // raw text slice
	Literal interface{} // parsed value for literals
	Line    int
	Col     int
}

// Lexer scans manifest source into tokens. Newlines are significant: they
// separate hashtable entries just like semicolons.
type Lexer struct {
	src    string
	start  int // start index of current token
	cur    int // current index
	line   int // 1-based
	col    int // 0-based column within line
	tokens []Token

	tokStartLine int
	tokStartCol  int
}

// NewLexer creates a new lexer for the given source.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1}
}

func (l *Lexer) isAtEnd() bool { return l.cur >= len(l.src) }

func (l *Lexer) peek() (byte, bool) {
	if l.isAtEnd() {
		return 0, false
	}
	return l.src[l.cur], true
}

func (l *Lexer) peekN(n int) (byte, bool) {
	idx := l.cur + n
	if idx >= len(l.src) {
		return 0, false
	}
	return l.src[idx], true
}

func (l *Lexer) advance() (byte, bool) {
	if l.isAtEnd() {
		return 0, false
	}
	ch := l.src[l.cur]
	l.cur++
	if ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
	return ch, true
}

func (l *Lexer) addToken(tt TokenType, lit interface{}) {
	lex := l.src[l.start:l.cur]
	l.tokens = append(l.tokens, Token{
		Type:    tt,
		Lexeme:  lex,
		Literal: lit,
		Line:    l.tokStartLine,
		Col:     l.tokStartCol,
	})
	l.start = l.cur
}

func (l *Lexer) markStart() {
	l.start = l.cur
	l.tokStartLine = l.line
	l.tokStartCol = l.col
}

// Scan tokenizes the whole source.
func (l *Lexer) Scan() ([]Token, error) {
	for {
		l.skipBlanks()
		l.markStart()
		ch, ok := l.advance()
		if !ok {
			l.addToken(EOF, nil)
			return l.tokens, nil
		}

		switch {
		case ch == '\n':
			l.addToken(NEWLINE, nil)
		case ch == '@':
			next, _ := l.peek()
			switch next {
			case '{':
				l.advance()
				l.addToken(HASHTABLE, nil)
			case '(':
				l.advance()
				l.addToken(ARRAY, nil)
			case '\'', '"':
				if err := l.scanHereString(next); err != nil {
					return nil, err
				}
			default:
				return nil, l.errorf("unexpected '@'")
			}
		case ch == '}':
			l.addToken(RCURLY, nil)
		case ch == ')':
			l.addToken(RROUND, nil)
		case ch == '=':
			l.addToken(ASSIGN, nil)
		case ch == ';':
			l.addToken(SEMI, nil)
		case ch == ',':
			l.addToken(COMMA, nil)
		case ch == '#':
			l.skipLineComment()
		case ch == '<':
			next, _ := l.peek()
			if next != '#' {
				return nil, l.errorf("unexpected '<'")
			}
			if err := l.skipBlockComment(); err != nil {
				return nil, err
			}
		case ch == '\'' || ch == '"':
			if err := l.scanString(ch); err != nil {
				return nil, err
			}
		case ch == '$':
			l.scanVariable()
		case isDigit(ch):
			l.scanNumber()
		case isAlpha(ch):
			l.scanIdent()
		default:
			return nil, l.errorf("unexpected character %q", ch)
		}
	}
}

// skipBlanks consumes spaces, tabs, carriage returns, and backtick line
// continuations. Newlines stay: they terminate entries.
func (l *Lexer) skipBlanks() {
	for !l.isAtEnd() {
		ch, _ := l.peek()
		switch ch {
		case ' ', '\t', '\r':
			l.advance()
		case '`':
			// Backtick before a newline continues the line.
			if next, ok := l.peekN(1); ok && (next == '\n' || next == '\r') {
				l.advance()
				for !l.isAtEnd() {
					c, _ := l.peek()
					if c == '\r' || c == '\n' {
						l.advance()
						if c == '\n' {
							break
						}
						continue
					}
					break
				}
				continue
			}
			return
		default:
			return
		}
	}
}

func (l *Lexer) skipLineComment() {
	for !l.isAtEnd() {
		ch, _ := l.peek()
		if ch == '\n' {
			return
		}
		l.advance()
	}
}

func (l *Lexer) skipBlockComment() error {
	l.advance() // consume '#'
	for !l.isAtEnd() {
		ch, _ := l.advance()
		if ch == '#' {
			if next, ok := l.peek(); ok && next == '>' {
				l.advance()
				return nil
			}
		}
	}
	return l.errorf("unterminated block comment")
}

func (l *Lexer) scanString(quote byte) error {
	var value []byte
	for {
		ch, ok := l.advance()
		if !ok {
			return l.errorf("unterminated string")
		}
		if ch == quote {
			// Doubled quote inside a quoted string escapes itself.
			if next, ok := l.peek(); ok && next == quote {
				l.advance()
				value = append(value, quote)
				continue
			}
			break
		}
		if quote == '"' && ch == '`' {
			if esc, ok := l.advance(); ok {
				value = append(value, unescape(esc))
				continue
			}
			return l.errorf("unterminated escape")
		}
		value = append(value, ch)
	}
	l.addToken(STRING, string(value))
	return nil
}

// scanHereString reads @'...'@ and @"..."@ blocks.
func (l *Lexer) scanHereString(quote byte) error {
	l.advance() // consume quote
	var value []byte
	for {
		ch, ok := l.advance()
		if !ok {
			return l.errorf("unterminated here-string")
		}
		if ch == quote {
			if next, ok := l.peek(); ok && next == '@' {
				l.advance()
				break
			}
		}
		value = append(value, ch)
	}
	l.addToken(STRING, string(value))
	return nil
}

func (l *Lexer) scanVariable() {
	for !l.isAtEnd() {
		ch, _ := l.peek()
		if !isAlphaNum(ch) {
			break
		}
		l.advance()
	}
	l.addToken(VARIABLE, l.src[l.start:l.cur])
}

func (l *Lexer) scanNumber() {
	for !l.isAtEnd() {
		ch, _ := l.peek()
		if !isDigit(ch) && ch != '.' {
			break
		}
		l.advance()
	}
	l.addToken(NUMBER, l.src[l.start:l.cur])
}

func (l *Lexer) scanIdent() {
	for !l.isAtEnd() {
		ch, _ := l.peek()
		if !isAlphaNum(ch) && ch != '.' && ch != '-' {
			break
		}
		l.advance()
	}
	l.addToken(IDENT, l.src[l.start:l.cur])
}

func (l *Lexer) errorf(format string, args ...interface{}) error {
	return &ParseError{Line: l.tokStartLine, Col: l.tokStartCol, Msg: fmt.Sprintf(format, args...)}
}

func unescape(ch byte) byte {
	switch ch {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case '0':
		return 0
	default:
		return ch
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isAlpha(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_' }
func isAlphaNum(b byte) bool {
	return isAlpha(b) || isDigit(b)
}
