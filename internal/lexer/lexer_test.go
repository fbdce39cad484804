package lexer

import (
	"testing"

	"capy/internal/diag"
	"capy/internal/source"
	"capy/internal/token"
)

func tokenize(t *testing.T, src string) ([]token.Token, *diag.Bag) {
	t.Helper()
	fs := source.NewFileSet()
	id := fs.AddVirtual("test.capy", []byte(src))
	bag := diag.NewBag(16)
	toks := Tokenize(fs.Get(id), diag.BagReporter{Bag: bag})
	return toks, bag
}

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, 0, len(toks))
	for _, tk := range toks {
		out = append(out, tk.Kind)
	}
	return out
}

func TestLexConstBinding(t *testing.T) {
	toks, bag := tokenize(t, "x :: comptime { 5 * 2 }")
	if bag.HasErrors() {
		t.Fatalf("unexpected diagnostics: %+v", bag.Items())
	}
	want := []token.Kind{
		token.Ident, token.ColonColon, token.KwComptime, token.LBrace,
		token.IntLit, token.Star, token.IntLit, token.RBrace, token.EOF,
	}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("token count = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexDotForms(t *testing.T) {
	toks, _ := tokenize(t, "i32.[4, 8] Point.{x = 3} i64.(v) a.b")
	want := []token.Kind{
		token.Ident, token.DotBracket, token.IntLit, token.Comma, token.IntLit, token.RBracket,
		token.Ident, token.DotBrace, token.Ident, token.Eq, token.IntLit, token.RBrace,
		token.Ident, token.DotParen, token.Ident, token.RParen,
		token.Ident, token.Dot, token.Ident,
		token.EOF,
	}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("kinds = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexNumbers(t *testing.T) {
	toks, bag := tokenize(t, "0xFF 0b1010 1_000 3.14 1e-3 42")
	if bag.HasErrors() {
		t.Fatalf("unexpected diagnostics: %+v", bag.Items())
	}
	want := []token.Kind{
		token.IntLit, token.IntLit, token.IntLit,
		token.FloatLit, token.FloatLit, token.IntLit, token.EOF,
	}
	got := kinds(toks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %v (%s), want %v", i, got[i], toks[i].Text, want[i])
		}
	}
}

func TestLexMemberAccessOnInt(t *testing.T) {
	// "1.x" must not eat the dot into a float.
	toks, _ := tokenize(t, "arr[0].y 1.x")
	want := []token.Kind{
		token.Ident, token.LBracket, token.IntLit, token.RBracket,
		token.Dot, token.Ident, token.IntLit, token.Dot, token.Ident, token.EOF,
	}
	got := kinds(toks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexDirectives(t *testing.T) {
	toks, _ := tokenize(t, `core :: #mod("core")`)
	want := []token.Kind{
		token.Ident, token.ColonColon, token.Directive,
		token.LParen, token.StringLit, token.RParen, token.EOF,
	}
	got := kinds(toks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
	if string(toks[2].Text) != "#mod" {
		t.Fatalf("directive text = %q", toks[2].Text)
	}
}

func TestLexPointerSigils(t *testing.T) {
	toks, _ := tokenize(t, "^mut list p^")
	want := []token.Kind{
		token.Caret, token.KwMut, token.Ident,
		token.Ident, token.Caret, token.EOF,
	}
	got := kinds(toks)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexUnterminatedString(t *testing.T) {
	_, bag := tokenize(t, `s :: "oops`)
	if !bag.HasErrors() {
		t.Fatal("expected a diagnostic for unterminated string")
	}
	if bag.Items()[0].Code != diag.LexUnterminatedString {
		t.Fatalf("code = %v", bag.Items()[0].Code)
	}
}

func TestLexCommentsAreTrivia(t *testing.T) {
	toks, bag := tokenize(t, "a // line\n/* block /* nested */ */ b")
	if bag.HasErrors() {
		t.Fatalf("unexpected diagnostics: %+v", bag.Items())
	}
	got := kinds(toks)
	want := []token.Kind{token.Ident, token.Ident, token.EOF}
	if len(got) != len(want) {
		t.Fatalf("kinds = %v", got)
	}
}
