package compiler

import (
	"fmt"
	"unicode"
)

// MaxSourceLen caps the size of one compilation unit. Oversized or empty
// sources are rejected before any scanning happens.
const MaxSourceLen = 1 << 20

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"int":      INT,
	"char":     CHAR,
	"void":     VOID,
	"struct":   STRUCT,
	"enum":     ENUM,
	"typedef":  TYPEDEF,
	"if":       IF,
	"else":     ELSE,
	"while":    WHILE,
	"do":       DO,
	"for":      FOR,
	"switch":   SWITCH,
	"case":     CASE,
	"default":  DEFAULT,
	"break":    BREAK,
	"continue": CONTINUE,
	"return":   RETURN,
	"sizeof":   SIZEOF,
	"asm":      ASM,
}

// Lexer scans one source buffer and hands out tokens on demand. Next consumes
// a token; Peek fills a single lookahead slot and is idempotent. Once the end
// of input is reached every further request keeps returning the EOF token.
type Lexer struct {
	src  []rune
	pos  int // index of the next rune to consume
	line int // current 1-based source line

	peeked    Token
	hasPeeked bool
}

// Checkpoint is an opaque snapshot of the full lexer position, including the
// lookahead slot. Restore resets all of it atomically.
type Checkpoint struct {
	pos       int
	line      int
	peeked    Token
	hasPeeked bool
}

func NewLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), line: 1}
}

// Next consumes and returns the next token.
func (l *Lexer) Next() (Token, error) {
	if l.hasPeeked {
		l.hasPeeked = false
		return l.peeked, nil
	}
	return l.scan()
}

// Peek returns the next token without consuming it.
func (l *Lexer) Peek() (Token, error) {
	if !l.hasPeeked {
		tok, err := l.scan()
		if err != nil {
			return tok, err
		}
		l.peeked = tok
		l.hasPeeked = true
	}
	return l.peeked, nil
}

// Mark snapshots the lexer so a caller can scan ahead and rewind.
func (l *Lexer) Mark() Checkpoint {
	return Checkpoint{pos: l.pos, line: l.line, peeked: l.peeked, hasPeeked: l.hasPeeked}
}

// Restore rewinds the lexer to a previously taken checkpoint.
func (l *Lexer) Restore(cp Checkpoint) {
	l.pos = cp.pos
	l.line = cp.line
	l.peeked = cp.peeked
	l.hasPeeked = cp.hasPeeked
}

func (l *Lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peekRune2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
	}
	return r
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.peekRune()) {
		l.advance()
	}
}

// skipLineComment discards everything up to end-of-line. The opening "//"
// must already have been consumed.
func (l *Lexer) skipLineComment() {
	for l.pos < len(l.src) && l.peekRune() != '\n' {
		l.advance()
	}
}

// skipBlockComment discards everything up to and including the closing "*/".
func (l *Lexer) skipBlockComment() error {
	startLine := l.line
	for l.pos < len(l.src) {
		if l.peekRune() == '*' && l.peekRune2() == '/' {
			l.advance()
			l.advance()
			return nil
		}
		l.advance()
	}
	return fmt.Errorf("line %d: unterminated block comment", startLine)
}

// scanIdent collects a full identifier or keyword token.
func (l *Lexer) scanIdent() Token {
	line := l.line
	start := l.pos
	for l.pos < len(l.src) {
		r := l.peekRune()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	tt := IDENTIFIER
	if kw, ok := keywords[lexeme]; ok {
		tt = kw
	}
	return Token{Type: tt, Lexeme: lexeme, Line: line}
}

// scanInt collects a decimal or 0x-prefixed hex integer literal, accumulating
// the numeric value in the same scan that collects the text.
func (l *Lexer) scanInt() Token {
	line := l.line
	start := l.pos
	var val int64

	if l.peekRune() == '0' && (l.peekRune2() == 'x' || l.peekRune2() == 'X') {
		l.advance()
		l.advance()
		for l.pos < len(l.src) {
			r := l.peekRune()
			var digit int64
			switch {
			case r >= '0' && r <= '9':
				digit = int64(r - '0')
			case r >= 'a' && r <= 'f':
				digit = int64(r-'a') + 10
			case r >= 'A' && r <= 'F':
				digit = int64(r-'A') + 10
			default:
				lexeme := string(l.src[start:l.pos])
				return Token{Type: INTEGER, Lexeme: lexeme, Value: int32(val), Line: line}
			}
			val = val<<4 | digit
			l.advance()
		}
	} else {
		for l.pos < len(l.src) && unicode.IsDigit(l.peekRune()) {
			val = val*10 + int64(l.peekRune()-'0')
			l.advance()
		}
	}

	return Token{Type: INTEGER, Lexeme: string(l.src[start:l.pos]), Value: int32(val), Line: line}
}

// unescape maps the character after a backslash to its value.
func unescape(r rune) (rune, bool) {
	switch r {
	case 'n':
		return '\n', true
	case 't':
		return '\t', true
	case 'r':
		return '\r', true
	case '0':
		return 0, true
	case '\\':
		return '\\', true
	case '\'':
		return '\'', true
	case '"':
		return '"', true
	}
	return 0, false
}

// scanChar collects a character literal 'c' and emits it as an INTEGER token.
func (l *Lexer) scanChar() (Token, error) {
	line := l.line
	l.advance() // opening '

	r := l.peekRune()
	var val rune

	if r == '\'' {
		return Token{}, fmt.Errorf("line %d: empty character literal", line)
	}
	if r == 0 {
		return Token{}, fmt.Errorf("line %d: unterminated character literal", line)
	}

	if r == '\\' {
		l.advance()
		esc, ok := unescape(l.peekRune())
		if !ok {
			return Token{}, fmt.Errorf("line %d: unknown escape sequence \\%c", line, l.peekRune())
		}
		val = esc
		l.advance()
	} else {
		val = r
		l.advance()
	}

	if l.peekRune() != '\'' {
		return Token{}, fmt.Errorf("line %d: unterminated character literal", line)
	}
	l.advance() // closing '

	return Token{Type: INTEGER, Lexeme: string(val), Value: int32(val), Line: line}, nil
}

// scanString collects a string literal "...".
func (l *Lexer) scanString() (Token, error) {
	line := l.line
	l.advance() // opening "
	var val []rune

	for l.pos < len(l.src) {
		r := l.peekRune()
		if r == '"' {
			l.advance()
			return Token{Type: STRING, Lexeme: string(val), Line: line}, nil
		}
		if r == '\n' {
			break
		}
		if r == '\\' {
			l.advance()
			esc, ok := unescape(l.peekRune())
			if !ok {
				return Token{}, fmt.Errorf("line %d: unknown escape sequence \\%c", line, l.peekRune())
			}
			val = append(val, esc)
			l.advance()
			continue
		}
		val = append(val, r)
		l.advance()
	}
	return Token{}, fmt.Errorf("line %d: unterminated string literal", line)
}

// scan skips whitespace/comments and produces the next token.
func (l *Lexer) scan() (Token, error) {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			return Token{Type: EOF, Line: l.line}, nil
		}
		if l.peekRune() == '/' && l.peekRune2() == '/' {
			l.advance()
			l.advance()
			l.skipLineComment()
			continue
		}
		if l.peekRune() == '/' && l.peekRune2() == '*' {
			l.advance()
			l.advance()
			if err := l.skipBlockComment(); err != nil {
				return Token{}, err
			}
			continue
		}
		break
	}

	ch := l.peekRune()
	line := l.line

	if unicode.IsLetter(ch) || ch == '_' {
		return l.scanIdent(), nil
	}
	if unicode.IsDigit(ch) {
		return l.scanInt(), nil
	}
	if ch == '"' {
		return l.scanString()
	}
	if ch == '\'' {
		return l.scanChar()
	}

	l.advance() // consume the character before the switch
	switch ch {
	case '{':
		return Token{LBRACE, "{", 0, line}, nil
	case '}':
		return Token{RBRACE, "}", 0, line}, nil
	case '(':
		return Token{LPAREN, "(", 0, line}, nil
	case ')':
		return Token{RPAREN, ")", 0, line}, nil
	case '[':
		return Token{LBRACKET, "[", 0, line}, nil
	case ']':
		return Token{RBRACKET, "]", 0, line}, nil
	case '.':
		return Token{DOT, ".", 0, line}, nil
	case ';':
		return Token{SEMICOLON, ";", 0, line}, nil
	case ',':
		return Token{COMMA, ",", 0, line}, nil
	case ':':
		return Token{COLON, ":", 0, line}, nil
	case '?':
		return Token{QUESTION, "?", 0, line}, nil

	case '+':
		if l.peekRune() == '+' {
			l.advance()
			return Token{PLUS_PLUS, "++", 0, line}, nil
		}
		if l.peekRune() == '=' {
			l.advance()
			return Token{PLUS_ASSIGN, "+=", 0, line}, nil
		}
		return Token{PLUS, "+", 0, line}, nil
	case '-':
		if l.peekRune() == '-' {
			l.advance()
			return Token{MINUS_MINUS, "--", 0, line}, nil
		}
		if l.peekRune() == '=' {
			l.advance()
			return Token{MINUS_ASSIGN, "-=", 0, line}, nil
		}
		if l.peekRune() == '>' {
			l.advance()
			return Token{ARROW, "->", 0, line}, nil
		}
		return Token{MINUS, "-", 0, line}, nil
	case '*':
		if l.peekRune() == '=' {
			l.advance()
			return Token{STAR_ASSIGN, "*=", 0, line}, nil
		}
		return Token{STAR, "*", 0, line}, nil
	case '/':
		if l.peekRune() == '=' {
			l.advance()
			return Token{SLASH_ASSIGN, "/=", 0, line}, nil
		}
		return Token{SLASH, "/", 0, line}, nil
	case '%':
		if l.peekRune() == '=' {
			l.advance()
			return Token{PERCENT_ASSIGN, "%=", 0, line}, nil
		}
		return Token{PERCENT, "%", 0, line}, nil
	case '&':
		if l.peekRune() == '&' {
			l.advance()
			return Token{AND_LOGICAL, "&&", 0, line}, nil
		}
		if l.peekRune() == '=' {
			l.advance()
			return Token{AND_ASSIGN, "&=", 0, line}, nil
		}
		return Token{AND, "&", 0, line}, nil
	case '|':
		if l.peekRune() == '|' {
			l.advance()
			return Token{OR_LOGICAL, "||", 0, line}, nil
		}
		if l.peekRune() == '=' {
			l.advance()
			return Token{OR_ASSIGN, "|=", 0, line}, nil
		}
		return Token{PIPE, "|", 0, line}, nil
	case '^':
		if l.peekRune() == '=' {
			l.advance()
			return Token{XOR_ASSIGN, "^=", 0, line}, nil
		}
		return Token{CARET, "^", 0, line}, nil
	case '~':
		return Token{TILDE, "~", 0, line}, nil
	case '!':
		if l.peekRune() == '=' {
			l.advance()
			return Token{NOT_EQ, "!=", 0, line}, nil
		}
		return Token{NOT, "!", 0, line}, nil
	case '<':
		if l.peekRune() == '=' {
			l.advance()
			return Token{LESS_EQ, "<=", 0, line}, nil
		}
		if l.peekRune() == '<' {
			l.advance()
			// check the longer form before falling back: <<= vs <<
			if l.peekRune() == '=' {
				l.advance()
				return Token{SHL_ASSIGN, "<<=", 0, line}, nil
			}
			return Token{SHL_OP, "<<", 0, line}, nil
		}
		return Token{LESS, "<", 0, line}, nil
	case '>':
		if l.peekRune() == '=' {
			l.advance()
			return Token{GREATER_EQ, ">=", 0, line}, nil
		}
		if l.peekRune() == '>' {
			l.advance()
			if l.peekRune() == '=' {
				l.advance()
				return Token{SHR_ASSIGN, ">>=", 0, line}, nil
			}
			return Token{SHR_OP, ">>", 0, line}, nil
		}
		return Token{GREATER, ">", 0, line}, nil
	case '=':
		if l.peekRune() == '=' {
			l.advance()
			return Token{EQUALS, "==", 0, line}, nil
		}
		return Token{ASSIGN, "=", 0, line}, nil
	default:
		return Token{}, fmt.Errorf("line %d: unexpected character %q", line, ch)
	}
}
