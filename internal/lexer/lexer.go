// Package lexer turns Capy source bytes into tokens.
package lexer

import (
	"fmt"

	"capy/internal/diag"
	"capy/internal/source"
	"capy/internal/token"
)

// Lexer scans one source.File. Comments and whitespace are consumed as
// trivia and never surface as tokens.
type Lexer struct {
	file     *source.File
	reporter diag.Reporter
	pos      uint32
	look     *token.Token // 1-token lookahead buffer
}

func New(file *source.File, reporter diag.Reporter) *Lexer {
	if reporter == nil {
		reporter = diag.NopReporter{}
	}
	return &Lexer{file: file, reporter: reporter}
}

// Tokenize scans the whole file including the trailing EOF token.
func Tokenize(file *source.File, reporter diag.Reporter) []token.Token {
	lx := New(file, reporter)
	var toks []token.Token
	for {
		tok := lx.Next()
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks
		}
	}
}

// Next returns the next significant token. After EOF it keeps
// returning EOF.
func (lx *Lexer) Next() token.Token {
	if lx.look != nil {
		tok := *lx.look
		lx.look = nil
		return tok
	}
	lx.skipTrivia()
	if lx.eof() {
		sp := source.Span{File: lx.file.ID, Start: lx.pos, End: lx.pos}
		return token.Token{Kind: token.EOF, Span: sp}
	}

	ch := lx.peek()
	switch {
	case isIdentStart(ch):
		return lx.scanIdentOrKeyword()
	case isDec(ch):
		return lx.scanNumber()
	case ch == '"':
		return lx.scanString()
	case ch == '\'':
		return lx.scanChar()
	case ch == '#':
		return lx.scanDirective()
	default:
		return lx.scanOperator()
	}
}

// Peek returns the next token without consuming it.
func (lx *Lexer) Peek() token.Token {
	if lx.look == nil {
		tok := lx.Next()
		lx.look = &tok
	}
	return *lx.look
}

func (lx *Lexer) eof() bool { return int(lx.pos) >= len(lx.file.Content) }

func (lx *Lexer) peek() byte {
	if lx.eof() {
		return 0
	}
	return lx.file.Content[lx.pos]
}

func (lx *Lexer) peekAt(n uint32) byte {
	if int(lx.pos+n) >= len(lx.file.Content) {
		return 0
	}
	return lx.file.Content[lx.pos+n]
}

func (lx *Lexer) bump() { lx.pos++ }

func (lx *Lexer) spanFrom(start uint32) source.Span {
	return source.Span{File: lx.file.ID, Start: start, End: lx.pos}
}

func (lx *Lexer) make(kind token.Kind, start uint32) token.Token {
	sp := lx.spanFrom(start)
	return token.Token{Kind: kind, Span: sp, Text: lx.file.Content[sp.Start:sp.End]}
}

func (lx *Lexer) report(code diag.Code, sp source.Span, msg string) {
	lx.reporter.Report(code, diag.SevError, sp, msg, nil)
}

func (lx *Lexer) skipTrivia() {
	for !lx.eof() {
		switch {
		case lx.peek() == ' ' || lx.peek() == '\t' || lx.peek() == '\n' || lx.peek() == '\r':
			lx.bump()
		case lx.peek() == '/' && lx.peekAt(1) == '/':
			for !lx.eof() && lx.peek() != '\n' {
				lx.bump()
			}
		case lx.peek() == '/' && lx.peekAt(1) == '*':
			start := lx.pos
			lx.bump()
			lx.bump()
			depth := 1
			for !lx.eof() && depth > 0 {
				if lx.peek() == '/' && lx.peekAt(1) == '*' {
					depth++
					lx.bump()
					lx.bump()
				} else if lx.peek() == '*' && lx.peekAt(1) == '/' {
					depth--
					lx.bump()
					lx.bump()
				} else {
					lx.bump()
				}
			}
			if depth > 0 {
				lx.report(diag.LexUnterminatedBlockComment, lx.spanFrom(start), "unterminated block comment")
			}
		default:
			return
		}
	}
}

func (lx *Lexer) scanIdentOrKeyword() token.Token {
	start := lx.pos
	for !lx.eof() && isIdentContinue(lx.peek()) {
		lx.bump()
	}
	tok := lx.make(token.Ident, start)
	if kind, ok := token.LookupKeyword(string(tok.Text)); ok {
		tok.Kind = kind
	}
	return tok
}

// scanNumber accepts 0b/0o/0x prefixes, '_' separators, and decimal
// floats with an optional exponent.
func (lx *Lexer) scanNumber() token.Token {
	start := lx.pos
	kind := token.IntLit

	if lx.peek() == '0' && (lx.peekAt(1) == 'x' || lx.peekAt(1) == 'X' ||
		lx.peekAt(1) == 'b' || lx.peekAt(1) == 'B' ||
		lx.peekAt(1) == 'o' || lx.peekAt(1) == 'O') {
		base := lx.peekAt(1)
		lx.bump()
		lx.bump()
		digits := 0
		for !lx.eof() && (isBaseDigit(lx.peek(), base) || lx.peek() == '_') {
			if lx.peek() != '_' {
				digits++
			}
			lx.bump()
		}
		if digits == 0 {
			sp := lx.spanFrom(start)
			lx.report(diag.LexBadNumber, sp, fmt.Sprintf("missing digits after base prefix %q", string(lx.file.Content[sp.Start:sp.End])))
			return token.Token{Kind: token.Invalid, Span: sp, Text: lx.file.Content[sp.Start:sp.End]}
		}
		return lx.make(kind, start)
	}

	for !lx.eof() && (isDec(lx.peek()) || lx.peek() == '_') {
		lx.bump()
	}
	// Fraction only when '.' is followed by a digit; '.' alone belongs
	// to member access or `.{`/`.[`/`.(` forms.
	if lx.peek() == '.' && isDec(lx.peekAt(1)) {
		kind = token.FloatLit
		lx.bump()
		for !lx.eof() && (isDec(lx.peek()) || lx.peek() == '_') {
			lx.bump()
		}
	}
	if lx.peek() == 'e' || lx.peek() == 'E' {
		next := lx.peekAt(1)
		if isDec(next) || ((next == '+' || next == '-') && isDec(lx.peekAt(2))) {
			kind = token.FloatLit
			lx.bump()
			if lx.peek() == '+' || lx.peek() == '-' {
				lx.bump()
			}
			for !lx.eof() && (isDec(lx.peek()) || lx.peek() == '_') {
				lx.bump()
			}
		}
	}
	return lx.make(kind, start)
}

func (lx *Lexer) scanString() token.Token {
	start := lx.pos
	lx.bump() // opening quote
	for !lx.eof() && lx.peek() != '"' && lx.peek() != '\n' {
		if lx.peek() == '\\' {
			lx.bump()
			if lx.eof() {
				break
			}
		}
		lx.bump()
	}
	if lx.eof() || lx.peek() != '"' {
		sp := lx.spanFrom(start)
		lx.report(diag.LexUnterminatedString, sp, "unterminated string literal")
		return token.Token{Kind: token.Invalid, Span: sp, Text: lx.file.Content[sp.Start:sp.End]}
	}
	lx.bump() // closing quote
	return lx.make(token.StringLit, start)
}

func (lx *Lexer) scanChar() token.Token {
	start := lx.pos
	lx.bump() // opening quote
	for !lx.eof() && lx.peek() != '\'' && lx.peek() != '\n' {
		if lx.peek() == '\\' {
			lx.bump()
			if lx.eof() {
				break
			}
		}
		lx.bump()
	}
	if lx.eof() || lx.peek() != '\'' {
		sp := lx.spanFrom(start)
		lx.report(diag.LexUnterminatedChar, sp, "unterminated character literal")
		return token.Token{Kind: token.Invalid, Span: sp, Text: lx.file.Content[sp.Start:sp.End]}
	}
	lx.bump()
	return lx.make(token.CharLit, start)
}

func (lx *Lexer) scanDirective() token.Token {
	start := lx.pos
	lx.bump() // '#'
	for !lx.eof() && isIdentContinue(lx.peek()) {
		lx.bump()
	}
	return lx.make(token.Directive, start)
}

func (lx *Lexer) scanOperator() token.Token {
	start := lx.pos
	ch := lx.peek()
	lx.bump()

	two := func(next byte, kind token.Kind, fallback token.Kind) token.Token {
		if lx.peek() == next {
			lx.bump()
			return lx.make(kind, start)
		}
		return lx.make(fallback, start)
	}

	switch ch {
	case '(':
		return lx.make(token.LParen, start)
	case ')':
		return lx.make(token.RParen, start)
	case '{':
		return lx.make(token.LBrace, start)
	case '}':
		return lx.make(token.RBrace, start)
	case '[':
		return lx.make(token.LBracket, start)
	case ']':
		return lx.make(token.RBracket, start)
	case ',':
		return lx.make(token.Comma, start)
	case ';':
		return lx.make(token.Semi, start)
	case '+':
		return lx.make(token.Plus, start)
	case '%':
		return lx.make(token.Percent, start)
	case '/':
		return lx.make(token.Slash, start)
	case '*':
		return lx.make(token.Star, start)
	case '^':
		return lx.make(token.Caret, start)
	case '~':
		return lx.make(token.Tilde, start)
	case ':':
		switch lx.peek() {
		case ':':
			lx.bump()
			return lx.make(token.ColonColon, start)
		case '=':
			lx.bump()
			return lx.make(token.ColonEq, start)
		}
		return lx.make(token.Colon, start)
	case '.':
		switch lx.peek() {
		case '{':
			lx.bump()
			return lx.make(token.DotBrace, start)
		case '[':
			lx.bump()
			return lx.make(token.DotBracket, start)
		case '(':
			lx.bump()
			return lx.make(token.DotParen, start)
		}
		return lx.make(token.Dot, start)
	case '-':
		return two('>', token.Arrow, token.Minus)
	case '=':
		switch lx.peek() {
		case '=':
			lx.bump()
			return lx.make(token.EqEq, start)
		case '>':
			lx.bump()
			return lx.make(token.FatArrow, start)
		}
		return lx.make(token.Eq, start)
	case '!':
		return two('=', token.BangEq, token.Bang)
	case '<':
		switch lx.peek() {
		case '=':
			lx.bump()
			return lx.make(token.LtEq, start)
		case '<':
			lx.bump()
			return lx.make(token.Shl, start)
		}
		return lx.make(token.Lt, start)
	case '>':
		switch lx.peek() {
		case '=':
			lx.bump()
			return lx.make(token.GtEq, start)
		case '>':
			lx.bump()
			return lx.make(token.Shr, start)
		}
		return lx.make(token.Gt, start)
	case '&':
		return two('&', token.AmpAmp, token.Amp)
	case '|':
		return two('|', token.PipePipe, token.Pipe)
	}

	sp := lx.spanFrom(start)
	lx.report(diag.LexUnknownChar, sp, fmt.Sprintf("unknown character %q", ch))
	return token.Token{Kind: token.Invalid, Span: sp, Text: lx.file.Content[sp.Start:sp.End]}
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentContinue(b byte) bool {
	return isIdentStart(b) || isDec(b)
}

func isDec(b byte) bool { return b >= '0' && b <= '9' }

func isBaseDigit(b, base byte) bool {
	switch base {
	case 'b', 'B':
		return b == '0' || b == '1'
	case 'o', 'O':
		return b >= '0' && b <= '7'
	default:
		return isDec(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
	}
}
