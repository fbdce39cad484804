package parser

import (
	"capy/internal/ast"
	"capy/internal/diag"
	"capy/internal/source"
	"capy/internal/token"
)

// parseBlock parses `{ stmts...; tail? }`. An expression not followed
// by a semicolon at the end of the block becomes the block's value.
func (p *Parser) parseBlock() *ast.Block {
	open, ok := p.expect(token.LBrace)
	if !ok {
		return &ast.Block{}
	}
	block := &ast.Block{}
	block.Sp = open.Span

	for p.at().Kind != token.RBrace && p.at().Kind != token.EOF {
		if p.eat(token.Semi) {
			continue
		}
		stmt, tail := p.parseStmt()
		if tail != nil {
			if p.at().Kind == token.RBrace {
				block.Tail = tail
				break
			}
			// Expression in statement position.
			stmt = &ast.ExprStmt{X: tail}
			stmt.(*ast.ExprStmt).Sp = tail.Span()
		}
		if stmt != nil {
			block.Stmts = append(block.Stmts, stmt)
		} else if tail == nil {
			// Parse made no progress; recover.
			p.syncTo(token.Semi, token.RBrace)
		}
	}
	close, _ := p.expect(token.RBrace)
	block.Sp = open.Span.Cover(close.Span)
	return block
}

// parseStmt returns either a statement or a bare expression; the
// caller decides whether a trailing expression is the block tail.
func (p *Parser) parseStmt() (ast.Stmt, ast.Expr) {
	switch p.at().Kind {
	case token.KwReturn:
		kw := p.advance()
		stmt := &ast.ReturnStmt{}
		stmt.Sp = kw.Span
		if !p.at().Is(token.Semi, token.RBrace) {
			stmt.Value = p.parseExpr(0)
			stmt.Sp = kw.Span.Cover(stmt.Value.Span())
		}
		return stmt, nil
	case token.KwBreak:
		kw := p.advance()
		stmt := &ast.BreakStmt{}
		stmt.Sp = kw.Span
		return stmt, nil
	case token.KwContinue:
		kw := p.advance()
		stmt := &ast.ContinueStmt{}
		stmt.Sp = kw.Span
		return stmt, nil
	case token.KwDefer:
		kw := p.advance()
		stmt := &ast.DeferStmt{X: p.parseExpr(0)}
		stmt.Sp = kw.Span.Cover(stmt.X.Span())
		return stmt, nil
	case token.KwWhile:
		kw := p.advance()
		cond := p.parseExpr(0)
		body := p.parseBlock()
		stmt := &ast.WhileStmt{Cond: cond, Body: body}
		stmt.Sp = kw.Span.Cover(body.Sp)
		return stmt, nil
	case token.KwSwitch:
		return p.parseSwitch(), nil
	case token.Ident:
		if p.atBindingStart() {
			bind := p.parseBinding()
			if bind == nil {
				return nil, nil
			}
			stmt := &ast.BindStmt{Bind: bind}
			stmt.Sp = bind.Span
			return stmt, nil
		}
	}

	expr := p.parseExpr(0)
	if expr == nil {
		return nil, nil
	}
	if p.at().Kind == token.Eq {
		p.advance()
		value := p.parseExpr(0)
		stmt := &ast.AssignStmt{Target: expr, Value: value}
		stmt.Sp = expr.Span().Cover(value.Span())
		return stmt, nil
	}
	return nil, expr
}

// parseSwitch parses
//
//	switch payload in subject { E.A => { ... }, _ => { ... } }
//	switch subject { ... }
func (p *Parser) parseSwitch() ast.Stmt {
	kw := p.advance()
	stmt := &ast.SwitchStmt{}
	stmt.Sp = kw.Span

	first := p.parseExpr(0)
	if p.at().Kind == token.KwIn {
		binder, ok := first.(*ast.Ident)
		if !ok {
			p.errorf(diag.SynExpectIdentifier, first.Span(), "switch payload binder must be an identifier")
		} else {
			stmt.Binder = binder.Name
			stmt.BinderSpan = binder.Span()
		}
		p.advance() // in
		stmt.Subject = p.parseExpr(0)
	} else {
		stmt.Subject = first
	}

	if _, ok := p.expect(token.LBrace); !ok {
		return stmt
	}
	for p.at().Kind != token.RBrace && p.at().Kind != token.EOF {
		if p.eat(token.Comma) {
			continue
		}
		arm := ast.SwitchArm{}
		if p.at().Kind == token.Ident && string(p.at().Text) == "_" {
			armTok := p.advance()
			arm.Span = armTok.Span
		} else {
			arm.Variant = p.parseExpr(0)
			arm.Span = arm.Variant.Span()
		}
		if _, ok := p.expect(token.FatArrow); !ok {
			p.syncTo(token.Comma, token.RBrace)
			continue
		}
		arm.Body = p.parseBlock()
		arm.Span = arm.Span.Cover(arm.Body.Sp)
		stmt.Arms = append(stmt.Arms, arm)
	}
	closeTok, _ := p.expect(token.RBrace)
	stmt.Sp = kw.Span.Cover(closeTok.Span)
	return stmt
}

func spanOf(e ast.Expr) source.Span {
	if e == nil {
		return source.Span{}
	}
	return e.Span()
}
