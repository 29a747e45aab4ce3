package compiler

import (
	"strings"
	"testing"
)

func tokenStream(t *testing.T, src string) []Token {
	t.Helper()
	lex := NewLexer(src)
	var out []Token
	for {
		tok, err := lex.Next()
		if err != nil {
			t.Fatalf("lexing %q: %v", src, err)
		}
		out = append(out, tok)
		if tok.Type == EOF {
			return out
		}
	}
}

func TestLexBasicProgram(t *testing.T) {
	toks := tokenStream(t, "int main() { return 42; }")
	want := []TokenType{INT, IDENTIFIER, LPAREN, RPAREN, LBRACE, RETURN, INTEGER, SEMICOLON, RBRACE, EOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d = %s, want %s", i, toks[i].Type, w)
		}
	}
	if toks[1].Lexeme != "main" {
		t.Errorf("identifier lexeme = %q", toks[1].Lexeme)
	}
	if toks[6].Value != 42 {
		t.Errorf("integer value = %d", toks[6].Value)
	}
}

func TestLexIntegerForms(t *testing.T) {
	tests := []struct {
		src  string
		want int32
	}{
		{"0", 0},
		{"123", 123},
		{"0x10", 16},
		{"0xFF", 255},
		{"0xDeadBeef", -559038737},
		{"'A'", 65},
		{`'\n'`, 10},
		{`'\0'`, 0},
		{`'\\'`, 92},
		{`'\''`, 39},
	}
	for _, tt := range tests {
		toks := tokenStream(t, tt.src)
		if toks[0].Type != INTEGER {
			t.Errorf("%q lexed as %s", tt.src, toks[0].Type)
			continue
		}
		if toks[0].Value != tt.want {
			t.Errorf("%q = %d, want %d", tt.src, toks[0].Value, tt.want)
		}
	}
}

func TestLexStringEscapes(t *testing.T) {
	toks := tokenStream(t, `"a\tb\n"`)
	if toks[0].Type != STRING || toks[0].Lexeme != "a\tb\n" {
		t.Errorf("string token = %s %q", toks[0].Type, toks[0].Lexeme)
	}
}

func TestLexCompoundOperators(t *testing.T) {
	toks := tokenStream(t, "<<= << <= < >>= >> >= > == = != ! && & || | ++ + -- - -> .")
	want := []TokenType{
		SHL_ASSIGN, SHL_OP, LESS_EQ, LESS,
		SHR_ASSIGN, SHR_OP, GREATER_EQ, GREATER,
		EQUALS, ASSIGN, NOT_EQ, NOT,
		AND_LOGICAL, AND, OR_LOGICAL, PIPE,
		PLUS_PLUS, PLUS, MINUS_MINUS, MINUS,
		ARROW, DOT, EOF,
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d = %s, want %s", i, toks[i].Type, w)
		}
	}
}

func TestLexKeywordsVersusIdentifiers(t *testing.T) {
	toks := tokenStream(t, "while whileish if iffy struct structure")
	want := []TokenType{WHILE, IDENTIFIER, IF, IDENTIFIER, STRUCT, IDENTIFIER, EOF}
	for i, w := range want {
		if toks[i].Type != w {
			t.Errorf("token %d = %s, want %s", i, toks[i].Type, w)
		}
	}
}

func TestLexComments(t *testing.T) {
	toks := tokenStream(t, `
// line comment
1 /* block
   comment */ 2
`)
	if len(toks) != 3 || toks[0].Value != 1 || toks[1].Value != 2 {
		t.Errorf("tokens around comments = %+v", toks)
	}
}

func TestLexLineNumbers(t *testing.T) {
	toks := tokenStream(t, "a\nb\n\nc")
	lines := []int{1, 2, 4}
	for i, want := range lines {
		if toks[i].Line != want {
			t.Errorf("token %d on line %d, want %d", i, toks[i].Line, want)
		}
	}
}

func TestLexPeekIsIdempotent(t *testing.T) {
	lex := NewLexer("1 2")
	a, err := lex.Peek()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := lex.Peek()
	if a != b {
		t.Errorf("two peeks disagree: %+v vs %+v", a, b)
	}
	got, _ := lex.Next()
	if got != a {
		t.Errorf("Next after Peek = %+v, want %+v", got, a)
	}
}

func TestLexMarkRestore(t *testing.T) {
	lex := NewLexer("1 2 3")
	lex.Next()
	cp := lex.Mark()
	two, _ := lex.Next()
	lex.Next()
	lex.Restore(cp)
	again, _ := lex.Next()
	if again != two {
		t.Errorf("after restore Next = %+v, want %+v", again, two)
	}
}

func TestLexEOFIsSticky(t *testing.T) {
	lex := NewLexer("1")
	lex.Next()
	for i := 0; i < 3; i++ {
		tok, err := lex.Next()
		if err != nil || tok.Type != EOF {
			t.Fatalf("read past end = %+v, %v", tok, err)
		}
	}
}

func TestLexErrors(t *testing.T) {
	bad := []struct {
		src  string
		want string
	}{
		{`"unterminated`, "unterminated string"},
		{"'a", "unterminated character"},
		{"''", "empty character"},
		{`'\q'`, "escape"},
		{"/* open", "unterminated block comment"},
		{"@", "unexpected character"},
	}
	for _, tt := range bad {
		lex := NewLexer(tt.src)
		var err error
		for i := 0; i < 8 && err == nil; i++ {
			var tok Token
			tok, err = lex.Next()
			if err == nil && tok.Type == EOF {
				break
			}
		}
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("lexing %q: error %v, want mention of %q", tt.src, err, tt.want)
		}
	}
}
