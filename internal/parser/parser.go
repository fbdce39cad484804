// Package parser builds the ast for Capy source files.
package parser

import (
	"fmt"

	"capy/internal/ast"
	"capy/internal/diag"
	"capy/internal/lexer"
	"capy/internal/source"
	"capy/internal/token"
)

// Parser consumes a pre-lexed token slice. Keeping the whole slice
// around makes the paren-form disambiguation (lambda vs function type
// vs grouping) a cheap save/restore of the position.
type Parser struct {
	file     *source.File
	toks     []token.Token
	pos      int
	interner *source.Interner
	reporter diag.Reporter
}

// ParseFile lexes and parses one file. Errors are reported through
// reporter; parsing continues past them where recovery is possible.
func ParseFile(file *source.File, interner *source.Interner, reporter diag.Reporter) *ast.File {
	if reporter == nil {
		reporter = diag.NopReporter{}
	}
	p := &Parser{
		file:     file,
		toks:     lexer.Tokenize(file, reporter),
		interner: interner,
		reporter: reporter,
	}
	return p.parseFile()
}

func (p *Parser) at() token.Token { return p.toks[p.pos] }

func (p *Parser) peek(n int) token.Token {
	i := p.pos + n
	if i >= len(p.toks) {
		return p.toks[len(p.toks)-1] // EOF
	}
	return p.toks[i]
}

func (p *Parser) advance() token.Token {
	tok := p.toks[p.pos]
	if tok.Kind != token.EOF {
		p.pos++
	}
	return tok
}

func (p *Parser) eat(kind token.Kind) bool {
	if p.at().Kind == kind {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(kind token.Kind) (token.Token, bool) {
	if p.at().Kind == kind {
		return p.advance(), true
	}
	p.errorf(diag.SynUnexpectedToken, p.at().Span, "expected %s, found %s", kind, p.at().Kind)
	return p.at(), false
}

func (p *Parser) errorf(code diag.Code, sp source.Span, format string, args ...any) {
	p.reporter.Report(code, diag.SevError, sp, fmt.Sprintf(format, args...), nil)
}

// syncTo skips tokens until one of kinds (or EOF) is at the cursor.
func (p *Parser) syncTo(kinds ...token.Kind) {
	for {
		tok := p.at()
		if tok.Kind == token.EOF || tok.Is(kinds...) {
			return
		}
		p.advance()
	}
}

func (p *Parser) parseFile() *ast.File {
	f := &ast.File{FileID: p.file.ID}
	for p.at().Kind != token.EOF {
		if p.eat(token.Semi) {
			continue
		}
		bind := p.parseTopBinding()
		if bind == nil {
			// Recovery: drop tokens to the next plausible item start.
			p.syncTo(token.Semi, token.Ident)
			if p.at().Kind == token.Semi {
				p.advance()
			} else if p.at().Kind == token.Ident && !p.atBindingStart() {
				p.advance()
			}
			continue
		}
		f.Items = append(f.Items, bind)
	}
	return f
}

// atBindingStart reports whether the cursor sits on `name ::`,
// `name :=` or `name :`.
func (p *Parser) atBindingStart() bool {
	if p.at().Kind != token.Ident {
		return false
	}
	next := p.peek(1).Kind
	return next == token.ColonColon || next == token.ColonEq || next == token.Colon
}

func (p *Parser) parseTopBinding() *ast.Binding {
	if !p.atBindingStart() {
		p.errorf(diag.SynUnexpectedToken, p.at().Span, "expected a top-level binding, found %s", p.at().Kind)
		return nil
	}
	return p.parseBinding()
}

// parseBinding handles all declaration forms:
//
//	name :: init
//	name := init
//	name : T = init
//	name : T : init
//	name : T
func (p *Parser) parseBinding() *ast.Binding {
	nameTok := p.advance()
	name := p.interner.InternBytes(nameTok.Text)
	b := &ast.Binding{
		Name:     name,
		NameSpan: nameTok.Span,
		Span:     nameTok.Span,
	}

	switch p.at().Kind {
	case token.ColonColon:
		p.advance()
		b.Kind = ast.BindConst
		b.Init = p.parseExpr(0)
	case token.ColonEq:
		p.advance()
		b.Kind = ast.BindVar
		b.Init = p.parseExpr(0)
	case token.Colon:
		p.advance()
		b.Type = p.parseExpr(0)
		switch p.at().Kind {
		case token.Eq:
			p.advance()
			b.Kind = ast.BindVar
			b.Init = p.parseExpr(0)
		case token.Colon:
			p.advance()
			b.Kind = ast.BindConst
			b.Init = p.parseExpr(0)
		default:
			b.Kind = ast.BindDecl
		}
	default:
		p.errorf(diag.SynUnexpectedToken, p.at().Span, "expected '::', ':=' or ':' after binding name")
		return nil
	}

	end := b.NameSpan
	if b.Init != nil {
		end = b.Init.Span()
	} else if b.Type != nil {
		end = b.Type.Span()
	}
	b.Span = b.NameSpan.Cover(end)
	return b
}
