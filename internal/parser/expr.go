package parser

import (
	"strconv"
	"strings"

	"capy/internal/ast"
	"capy/internal/diag"
	"capy/internal/source"
	"capy/internal/token"
)

// Binding powers for infix operators; higher binds tighter. The `|`
// discriminant override inside enum declarations is parsed by
// parseEnumType with a floor above bpBitOr, so payload types never
// swallow the override.
const (
	bpOr     = 10
	bpAnd    = 20
	bpCmp    = 30
	bpBitOr  = 40
	bpBitAnd = 45
	bpShift  = 50
	bpAdd    = 60
	bpMul    = 70
)

func infixBP(kind token.Kind) (int, ast.BinOp, bool) {
	switch kind {
	case token.PipePipe:
		return bpOr, ast.OpOr, true
	case token.AmpAmp:
		return bpAnd, ast.OpAnd, true
	case token.EqEq:
		return bpCmp, ast.OpEq, true
	case token.BangEq:
		return bpCmp, ast.OpNe, true
	case token.Lt:
		return bpCmp, ast.OpLt, true
	case token.LtEq:
		return bpCmp, ast.OpLe, true
	case token.Gt:
		return bpCmp, ast.OpGt, true
	case token.GtEq:
		return bpCmp, ast.OpGe, true
	case token.Pipe:
		return bpBitOr, ast.OpBitOr, true
	case token.Amp:
		return bpBitAnd, ast.OpBitAnd, true
	case token.Shl:
		return bpShift, ast.OpShl, true
	case token.Shr:
		return bpShift, ast.OpShr, true
	case token.Plus:
		return bpAdd, ast.OpAdd, true
	case token.Minus:
		return bpAdd, ast.OpSub, true
	case token.Star:
		return bpMul, ast.OpMul, true
	case token.Slash:
		return bpMul, ast.OpDiv, true
	case token.Percent:
		return bpMul, ast.OpRem, true
	}
	return 0, 0, false
}

// parseExpr is the Pratt loop.
func (p *Parser) parseExpr(minBP int) ast.Expr {
	lhs := p.parseUnary()
	if lhs == nil {
		return nil
	}
	for {
		bp, op, ok := infixBP(p.at().Kind)
		if !ok || bp < minBP {
			return lhs
		}
		p.advance()
		rhs := p.parseExpr(bp + 1)
		if rhs == nil {
			return lhs
		}
		bin := &ast.Binary{Op: op, Lhs: lhs, Rhs: rhs}
		bin.Sp = lhs.Span().Cover(rhs.Span())
		lhs = bin
	}
}

func (p *Parser) parseUnary() ast.Expr {
	switch p.at().Kind {
	case token.Minus:
		tok := p.advance()
		x := p.parseUnary()
		if x == nil {
			return nil
		}
		u := &ast.Unary{Op: ast.OpNeg, X: x}
		u.Sp = tok.Span.Cover(x.Span())
		return u
	case token.Bang:
		tok := p.advance()
		x := p.parseUnary()
		if x == nil {
			return nil
		}
		u := &ast.Unary{Op: ast.OpNot, X: x}
		u.Sp = tok.Span.Cover(x.Span())
		return u
	case token.Tilde:
		tok := p.advance()
		x := p.parseUnary()
		if x == nil {
			return nil
		}
		u := &ast.Unary{Op: ast.OpBitNot, X: x}
		u.Sp = tok.Span.Cover(x.Span())
		return u
	case token.Caret:
		tok := p.advance()
		mut := p.eat(token.KwMut)
		x := p.parseUnary()
		if x == nil {
			return nil
		}
		a := &ast.AddrOf{Mut: mut, X: x}
		a.Sp = tok.Span.Cover(x.Span())
		return a
	case token.KwDistinct:
		tok := p.advance()
		base := p.parseUnary()
		if base == nil {
			return nil
		}
		d := &ast.DistinctType{Base: base}
		d.Sp = tok.Span.Cover(base.Span())
		return d
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expr {
	x := p.parsePrimary()
	if x == nil {
		return nil
	}
	for {
		switch p.at().Kind {
		case token.LParen:
			x = p.parseCall(x)
		case token.LBracket:
			open := p.advance()
			idx := p.parseExpr(0)
			closeTok, _ := p.expect(token.RBracket)
			node := &ast.Index{X: x, Index: idx}
			node.Sp = x.Span().Cover(closeTok.Span)
			_ = open
			x = node
		case token.Dot:
			p.advance()
			nameTok, ok := p.expect(token.Ident)
			if !ok {
				return x
			}
			node := &ast.Member{
				X:        x,
				Name:     p.interner.InternBytes(nameTok.Text),
				NameSpan: nameTok.Span,
			}
			node.Sp = x.Span().Cover(nameTok.Span)
			x = node
		case token.DotParen:
			p.advance()
			value := p.parseExpr(0)
			closeTok, _ := p.expect(token.RParen)
			node := &ast.Cast{Type: x, Value: value}
			node.Sp = x.Span().Cover(closeTok.Span)
			x = node
		case token.DotBrace:
			x = p.parseStructLit(x)
		case token.DotBracket:
			x = p.parseArrayLit(x)
		case token.Caret:
			tok := p.advance()
			node := &ast.Deref{X: x}
			node.Sp = x.Span().Cover(tok.Span)
			x = node
		default:
			return x
		}
	}
}

func (p *Parser) parseCall(callee ast.Expr) ast.Expr {
	p.advance() // '('
	call := &ast.Call{Callee: callee}
	for p.at().Kind != token.RParen && p.at().Kind != token.EOF {
		arg := p.parseExpr(0)
		if arg == nil {
			break
		}
		call.Args = append(call.Args, arg)
		if !p.eat(token.Comma) {
			break
		}
	}
	closeTok, _ := p.expect(token.RParen)
	call.Sp = callee.Span().Cover(closeTok.Span)
	return call
}

func (p *Parser) parseStructLit(ty ast.Expr) ast.Expr {
	p.advance() // '.{'
	lit := &ast.StructLit{Type: ty}
	seen := map[source.StringID]bool{}
	for p.at().Kind != token.RBrace && p.at().Kind != token.EOF {
		nameTok, ok := p.expect(token.Ident)
		if !ok {
			p.syncTo(token.Comma, token.RBrace)
			continue
		}
		name := p.interner.InternBytes(nameTok.Text)
		if seen[name] {
			p.errorf(diag.SynDuplicateField, nameTok.Span, "field %q initialized twice", nameTok.Text)
		}
		seen[name] = true
		if _, ok := p.expect(token.Eq); !ok {
			p.syncTo(token.Comma, token.RBrace)
			continue
		}
		value := p.parseExpr(0)
		lit.Fields = append(lit.Fields, ast.FieldInit{Name: name, NameSpan: nameTok.Span, Value: value})
		if !p.eat(token.Comma) {
			break
		}
	}
	closeTok, _ := p.expect(token.RBrace)
	lit.Sp = ty.Span().Cover(closeTok.Span)
	return lit
}

func (p *Parser) parseArrayLit(elem ast.Expr) ast.Expr {
	p.advance() // '.['
	lit := &ast.ArrayLit{Elem: elem}
	for p.at().Kind != token.RBracket && p.at().Kind != token.EOF {
		e := p.parseExpr(0)
		if e == nil {
			break
		}
		lit.Elems = append(lit.Elems, e)
		if !p.eat(token.Comma) {
			break
		}
	}
	closeTok, _ := p.expect(token.RBracket)
	lit.Sp = elem.Span().Cover(closeTok.Span)
	return lit
}

func (p *Parser) parsePrimary() ast.Expr {
	tok := p.at()
	switch tok.Kind {
	case token.Ident:
		p.advance()
		id := &ast.Ident{Name: p.interner.InternBytes(tok.Text)}
		id.Sp = tok.Span
		return id
	case token.IntLit:
		p.advance()
		lit := &ast.IntLit{Text: string(tok.Text)}
		lit.Sp = tok.Span
		return lit
	case token.FloatLit:
		p.advance()
		lit := &ast.FloatLit{Text: string(tok.Text)}
		lit.Sp = tok.Span
		return lit
	case token.StringLit:
		p.advance()
		lit := &ast.StringLit{Value: p.unescape(tok)}
		lit.Sp = tok.Span
		return lit
	case token.CharLit:
		p.advance()
		lit := &ast.CharLit{Value: p.unescapeChar(tok)}
		lit.Sp = tok.Span
		return lit
	case token.KwTrue, token.KwFalse:
		p.advance()
		lit := &ast.BoolLit{Value: tok.Kind == token.KwTrue}
		lit.Sp = tok.Span
		return lit
	case token.LParen:
		return p.parseParenForm()
	case token.LBracket:
		return p.parseArrayType()
	case token.LBrace:
		return p.parseBlock()
	case token.KwIf:
		return p.parseIf()
	case token.KwComptime:
		kw := p.advance()
		body := p.parseBlock()
		node := &ast.Comptime{Body: body}
		node.Sp = kw.Span.Cover(body.Sp)
		return node
	case token.KwStruct:
		return p.parseStructType()
	case token.KwEnum:
		return p.parseEnumType()
	case token.KwExtern:
		return p.parseExternFn()
	case token.KwMut:
		// `mut rawptr`, including cast position (`mut rawptr.(x)`):
		// postfix forms attach to the MutType node.
		p.advance()
		baseTok, ok := p.expect(token.Ident)
		if !ok {
			return nil
		}
		base := &ast.Ident{Name: p.interner.InternBytes(baseTok.Text)}
		base.Sp = baseTok.Span
		m := &ast.MutType{Base: base}
		m.Sp = tok.Span.Cover(baseTok.Span)
		return m
	case token.Directive:
		return p.parseImport()
	}
	p.errorf(diag.SynExpectExpression, tok.Span, "expected an expression, found %s", tok.Kind)
	return nil
}

func (p *Parser) parseIf() ast.Expr {
	kw := p.advance()
	cond := p.parseExpr(0)
	then := p.parseBlock()
	node := &ast.If{Cond: cond, Then: then}
	node.Sp = kw.Span.Cover(then.Sp)
	if p.eat(token.KwElse) {
		if p.at().Kind == token.KwIf {
			node.Else = p.parseIf()
		} else {
			node.Else = p.parseBlock()
		}
		node.Sp = node.Sp.Cover(node.Else.Span())
	}
	return node
}

// parseParenForm disambiguates between a lambda, a function type, and
// a parenthesized expression. Lambdas open with `()`, `(name: T`; a
// result arrow after the close decides between lambda and fn type.
func (p *Parser) parseParenForm() ast.Expr {
	if p.looksLikeFnLike() {
		return p.parseFnLike(false)
	}
	open := p.advance() // '('
	inner := p.parseExpr(0)
	closeTok, _ := p.expect(token.RParen)
	if inner == nil {
		return nil
	}
	// Grouping carries the wider span on the inner node.
	switch n := inner.(type) {
	case *ast.Binary:
		n.Sp = open.Span.Cover(closeTok.Span)
	}
	return inner
}

// looksLikeFnLike peeks past '(' for `)` , `name: T` or a type-list
// followed by `) ->`.
func (p *Parser) looksLikeFnLike() bool {
	if p.at().Kind != token.LParen {
		return false
	}
	if p.peek(1).Kind == token.RParen {
		after := p.peek(2).Kind
		return after == token.Arrow || after == token.LBrace
	}
	if p.peek(1).Kind == token.Ident && p.peek(2).Kind == token.Colon {
		return true
	}
	// Type list form: scan to the matching ')' and look for '->'.
	depth := 0
	for i := 0; p.pos+i < len(p.toks); i++ {
		switch p.peek(i).Kind {
		case token.LParen:
			depth++
		case token.RParen:
			depth--
			if depth == 0 {
				return p.peek(i + 1).Kind == token.Arrow
			}
		case token.EOF, token.LBrace, token.Semi:
			return false
		}
	}
	return false
}

// parseFnLike parses `(params) -> R { body }` (lambda) or
// `(types) -> R` (function type). extern declarations have no body.
func (p *Parser) parseFnLike(extern bool) ast.Expr {
	open := p.advance() // '('
	var params []ast.Param
	var paramTypes []ast.Expr
	named := p.at().Kind == token.Ident && p.peek(1).Kind == token.Colon

	for p.at().Kind != token.RParen && p.at().Kind != token.EOF {
		if named {
			nameTok, ok := p.expect(token.Ident)
			if !ok {
				break
			}
			if _, ok := p.expect(token.Colon); !ok {
				break
			}
			ty := p.parseExpr(0)
			params = append(params, ast.Param{
				Name:     p.interner.InternBytes(nameTok.Text),
				NameSpan: nameTok.Span,
				Type:     ty,
			})
		} else {
			ty := p.parseExpr(0)
			if ty == nil {
				break
			}
			paramTypes = append(paramTypes, ty)
		}
		if !p.eat(token.Comma) {
			break
		}
	}
	closeTok, _ := p.expect(token.RParen)

	var result ast.Expr
	if p.eat(token.Arrow) {
		result = p.parseExpr(0)
	}

	if p.at().Kind == token.LBrace && !extern {
		body := p.parseBlock()
		fn := &ast.Lambda{Params: params, Result: result, Body: body}
		fn.Sp = open.Span.Cover(body.Sp)
		if !named && len(paramTypes) > 0 {
			p.errorf(diag.SynExpectIdentifier, open.Span, "function parameters must be named")
		}
		return fn
	}

	if extern {
		fn := &ast.Lambda{Params: params, Result: result, Extern: true}
		end := closeTok.Span
		if result != nil {
			end = result.Span()
		}
		fn.Sp = open.Span.Cover(end)
		return fn
	}

	// No body: this is a function type.
	if named {
		for _, prm := range params {
			paramTypes = append(paramTypes, prm.Type)
		}
	}
	ft := &ast.FuncType{Params: paramTypes, Result: result}
	end := closeTok.Span
	if result != nil {
		end = result.Span()
	}
	ft.Sp = open.Span.Cover(end)
	return ft
}

func (p *Parser) parseExternFn() ast.Expr {
	kw := p.advance() // extern
	if p.at().Kind != token.LParen {
		p.errorf(diag.SynUnexpectedToken, p.at().Span, "expected '(' after extern")
		return nil
	}
	fn := p.parseFnLike(true)
	if lambda, ok := fn.(*ast.Lambda); ok {
		lambda.Sp = kw.Span.Cover(lambda.Sp)
	}
	return fn
}

// parseArrayType parses `[N]T` and `[]T`.
func (p *Parser) parseArrayType() ast.Expr {
	open := p.advance() // '['
	node := &ast.ArrayType{}
	if p.at().Kind != token.RBracket {
		node.Len = p.parseExpr(0)
	}
	p.expect(token.RBracket)
	node.Elem = p.parseUnary()
	if node.Elem == nil {
		p.errorf(diag.SynExpectType, p.at().Span, "expected element type")
		return nil
	}
	node.Sp = open.Span.Cover(node.Elem.Span())
	return node
}

func (p *Parser) parseStructType() ast.Expr {
	kw := p.advance() // struct
	node := &ast.StructType{}
	if _, ok := p.expect(token.LBrace); !ok {
		return node
	}
	for p.at().Kind != token.RBrace && p.at().Kind != token.EOF {
		nameTok, ok := p.expect(token.Ident)
		if !ok {
			p.syncTo(token.Comma, token.RBrace)
			continue
		}
		if _, ok := p.expect(token.Colon); !ok {
			p.syncTo(token.Comma, token.RBrace)
			continue
		}
		ty := p.parseExpr(0)
		node.Fields = append(node.Fields, ast.FieldDecl{
			Name:     p.interner.InternBytes(nameTok.Text),
			NameSpan: nameTok.Span,
			Type:     ty,
		})
		if !p.eat(token.Comma) {
			break
		}
	}
	closeTok, _ := p.expect(token.RBrace)
	node.Sp = kw.Span.Cover(closeTok.Span)
	return node
}

// parseEnumType parses `enum { A: T, B: U | 4, C }`. The payload is
// parsed with a floor above `|` so the discriminant override stays
// outside the payload expression.
func (p *Parser) parseEnumType() ast.Expr {
	kw := p.advance() // enum
	node := &ast.EnumType{}
	if _, ok := p.expect(token.LBrace); !ok {
		return node
	}
	for p.at().Kind != token.RBrace && p.at().Kind != token.EOF {
		nameTok, ok := p.expect(token.Ident)
		if !ok {
			p.syncTo(token.Comma, token.RBrace)
			continue
		}
		variant := ast.VariantDecl{
			Name:         p.interner.InternBytes(nameTok.Text),
			NameSpan:     nameTok.Span,
			Discriminant: -1,
		}
		if p.eat(token.Colon) {
			variant.Payload = p.parseExpr(bpBitOr + 1)
		}
		if p.eat(token.Pipe) {
			discTok, ok := p.expect(token.IntLit)
			if ok {
				n, err := strconv.ParseUint(cleanIntText(string(discTok.Text)), 0, 8)
				if err != nil {
					p.errorf(diag.SynUnexpectedToken, discTok.Span, "enum discriminant must fit in u8")
				} else {
					variant.Discriminant = int16(n)
					variant.DiscSpan = discTok.Span
				}
			}
		}
		node.Variants = append(node.Variants, variant)
		if !p.eat(token.Comma) {
			break
		}
	}
	closeTok, _ := p.expect(token.RBrace)
	node.Sp = kw.Span.Cover(closeTok.Span)
	return node
}

// parseImport parses `#mod("name")` and `#import("path")`.
func (p *Parser) parseImport() ast.Expr {
	tok := p.advance()
	var kind ast.ImportKind
	switch string(tok.Text) {
	case "#mod":
		kind = ast.ImportMod
	case "#import":
		kind = ast.ImportFile
	default:
		p.errorf(diag.SynBadDirective, tok.Span, "unknown directive %s", tok.Text)
		return nil
	}
	if _, ok := p.expect(token.LParen); !ok {
		return nil
	}
	pathTok, ok := p.expect(token.StringLit)
	if !ok {
		p.syncTo(token.RParen, token.Semi)
		p.eat(token.RParen)
		return nil
	}
	closeTok, _ := p.expect(token.RParen)
	node := &ast.Import{Kind: kind, Path: p.unescape(pathTok)}
	node.Sp = tok.Span.Cover(closeTok.Span)
	return node
}

// unescape strips quotes and resolves escapes in a string literal.
func (p *Parser) unescape(tok token.Token) string {
	text := string(tok.Text)
	if len(text) >= 2 {
		text = text[1 : len(text)-1]
	}
	if !strings.ContainsRune(text, '\\') {
		return text
	}
	var sb strings.Builder
	for i := 0; i < len(text); i++ {
		if text[i] != '\\' || i+1 == len(text) {
			sb.WriteByte(text[i])
			continue
		}
		i++
		switch text[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '0':
			sb.WriteByte(0)
		case '\\', '"', '\'':
			sb.WriteByte(text[i])
		default:
			p.errorf(diag.LexBadEscape, tok.Span, "unknown escape \\%c", text[i])
			sb.WriteByte(text[i])
		}
	}
	return sb.String()
}

func (p *Parser) unescapeChar(tok token.Token) rune {
	s := p.unescape(tok)
	if s == "" {
		return 0
	}
	return []rune(s)[0]
}

// cleanIntText drops '_' separators for strconv.
func cleanIntText(s string) string {
	return strings.ReplaceAll(s, "_", "")
}
