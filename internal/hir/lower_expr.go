package hir

import (
	"capy/internal/ast"
	"capy/internal/diag"
	"capy/internal/source"
)

func (lw *Lowerer) lowerExpr(e ast.Expr) ExprID {
	if e == nil {
		return NoExprID
	}
	mod := lw.mod
	switch n := e.(type) {
	case *ast.IntLit:
		v, err := parseIntText(n.Text)
		if err != nil {
			lw.errorf(diag.LexBadNumber, n.Span(), "integer literal %s does not fit in 64 bits", n.Text)
		}
		return mod.addExpr(Expr{Kind: ExprIntLit, Span: n.Span(), Int: v, Str: n.Text})
	case *ast.FloatLit:
		v, err := parseFloatText(n.Text)
		if err != nil {
			lw.errorf(diag.LexBadNumber, n.Span(), "malformed float literal %s", n.Text)
		}
		return mod.addExpr(Expr{Kind: ExprFloatLit, Span: n.Span(), Float: v})
	case *ast.StringLit:
		return mod.addExpr(Expr{Kind: ExprStringLit, Span: n.Span(), Str: n.Value})
	case *ast.CharLit:
		return mod.addExpr(Expr{Kind: ExprCharLit, Span: n.Span(), Int: uint64(n.Value)})
	case *ast.BoolLit:
		v := uint64(0)
		if n.Value {
			v = 1
		}
		return mod.addExpr(Expr{Kind: ExprBoolLit, Span: n.Span(), Int: v})
	case *ast.Ident:
		return lw.lowerIdent(n)
	case *ast.Binary:
		x := lw.lowerExpr(n.Lhs)
		y := lw.lowerExpr(n.Rhs)
		return mod.addExpr(Expr{Kind: ExprBinary, Span: n.Span(), BinOp: n.Op, X: x, Y: y})
	case *ast.Unary:
		return mod.addExpr(Expr{Kind: ExprUnary, Span: n.Span(), UnOp: n.Op, X: lw.lowerExpr(n.X)})
	case *ast.AddrOf:
		return mod.addExpr(Expr{Kind: ExprAddrOf, Span: n.Span(), Mut: n.Mut, X: lw.lowerExpr(n.X)})
	case *ast.Deref:
		return mod.addExpr(Expr{Kind: ExprDeref, Span: n.Span(), X: lw.lowerExpr(n.X)})
	case *ast.Call:
		callee := lw.lowerExpr(n.Callee)
		args := make([]ExprID, 0, len(n.Args))
		for _, a := range n.Args {
			args = append(args, lw.lowerExpr(a))
		}
		return mod.addExpr(Expr{Kind: ExprCall, Span: n.Span(), X: callee, List: args})
	case *ast.Index:
		return mod.addExpr(Expr{Kind: ExprIndex, Span: n.Span(), X: lw.lowerExpr(n.X), Y: lw.lowerExpr(n.Index)})
	case *ast.Member:
		return mod.addExpr(Expr{Kind: ExprMember, Span: n.Span(), X: lw.lowerExpr(n.X), Name: n.Name})
	case *ast.Cast:
		return mod.addExpr(Expr{Kind: ExprCast, Span: n.Span(), X: lw.lowerExpr(n.Type), Y: lw.lowerExpr(n.Value)})
	case *ast.StructLit:
		fields := make([]FieldInit, 0, len(n.Fields))
		for _, f := range n.Fields {
			fields = append(fields, FieldInit{Name: f.Name, NameSpan: f.NameSpan, Value: lw.lowerExpr(f.Value)})
		}
		return mod.addExpr(Expr{Kind: ExprStructLit, Span: n.Span(), X: lw.lowerExpr(n.Type), Fields: fields})
	case *ast.ArrayLit:
		elems := make([]ExprID, 0, len(n.Elems))
		for _, el := range n.Elems {
			elems = append(elems, lw.lowerExpr(el))
		}
		return mod.addExpr(Expr{Kind: ExprArrayLit, Span: n.Span(), X: lw.lowerExpr(n.Elem), List: elems})
	case *ast.Block:
		return lw.lowerBlock(n)
	case *ast.If:
		x := lw.lowerExpr(n.Cond)
		y := lw.lowerBlock(n.Then)
		z := NoExprID
		if n.Else != nil {
			z = lw.lowerExpr(n.Else)
		}
		return mod.addExpr(Expr{Kind: ExprIf, Span: n.Span(), X: x, Y: y, Z: z})
	case *ast.Comptime:
		body := lw.lowerBlock(n.Body)
		return mod.addExpr(Expr{Kind: ExprComptime, Span: n.Span(), X: body})
	case *ast.Lambda:
		return lw.liftLambda(n)
	case *ast.FuncType:
		params := make([]ExprID, 0, len(n.Params))
		for _, p := range n.Params {
			params = append(params, lw.lowerExpr(p))
		}
		return mod.addExpr(Expr{Kind: ExprFuncType, Span: n.Span(), List: params, X: lw.lowerExpr(n.Result)})
	case *ast.ArrayType:
		return mod.addExpr(Expr{
			Kind: ExprArrayType,
			Span: n.Span(),
			X:    lw.lowerExpr(n.Len),
			Y:    lw.lowerExpr(n.Elem),
		})
	case *ast.DistinctType:
		return mod.addExpr(Expr{Kind: ExprDistinctType, Span: n.Span(), X: lw.lowerExpr(n.Base)})
	case *ast.MutType:
		base := lw.lowerExpr(n.Base)
		if b := mod.Expr(base); b.Kind == ExprBuiltin && b.Builtin == BuiltinRawPtr {
			return mod.addExpr(Expr{Kind: ExprBuiltin, Span: n.Span(), Builtin: BuiltinMutRawPtr, Name: b.Name})
		}
		lw.errorf(diag.SynExpectType, n.Span(), "`mut` applies to rawptr only in type position")
		return mod.addExpr(Expr{Kind: ExprInvalid, Span: n.Span()})
	case *ast.StructType:
		fields := make([]FieldInit, 0, len(n.Fields))
		for _, f := range n.Fields {
			fields = append(fields, FieldInit{Name: f.Name, NameSpan: f.NameSpan, Value: lw.lowerExpr(f.Type)})
		}
		return mod.addExpr(Expr{Kind: ExprStructType, Span: n.Span(), Fields: fields})
	case *ast.EnumType:
		variants := make([]VariantDecl, 0, len(n.Variants))
		for _, v := range n.Variants {
			variants = append(variants, VariantDecl{
				Name:         v.Name,
				NameSpan:     v.NameSpan,
				Payload:      lw.lowerExpr(v.Payload),
				Discriminant: v.Discriminant,
			})
		}
		return mod.addExpr(Expr{Kind: ExprEnumType, Span: n.Span(), Variants: variants})
	case *ast.Import:
		return lw.lowerImport(n)
	}
	lw.errorf(diag.Internal, e.Span(), "unhandled expression form during lowering")
	return mod.addExpr(Expr{Kind: ExprInvalid, Span: e.Span()})
}

func (lw *Lowerer) lowerIdent(n *ast.Ident) ExprID {
	mod := lw.mod
	if local, inFunc, ok := lw.lookupLocal(n.Name); ok {
		if !inFunc {
			name, _ := lw.world.Strings.Lookup(n.Name)
			lw.errorf(diag.TypeMutCapture, n.Span(), "%q is declared in an enclosing function; anonymous functions do not capture", name)
			return mod.addExpr(Expr{Kind: ExprUnresolved, Span: n.Span(), Name: n.Name})
		}
		return mod.addExpr(Expr{Kind: ExprLocal, Span: n.Span(), Local: local})
	}
	if _, bid, ok := mod.Binding(n.Name); ok {
		return mod.addExpr(Expr{
			Kind:   ExprGlobal,
			Span:   n.Span(),
			Global: GlobalRef{Module: mod.ID, Binding: bid},
			Name:   n.Name,
		})
	}
	if b, ok := lw.builtins.lookup(n.Name); ok {
		return mod.addExpr(Expr{Kind: ExprBuiltin, Span: n.Span(), Builtin: b, Name: n.Name})
	}
	name, _ := lw.world.Strings.Lookup(n.Name)
	lw.errorf(diag.NameUnresolved, n.Span(), "unresolved name %q", name)
	return mod.addExpr(Expr{Kind: ExprUnresolved, Span: n.Span(), Name: n.Name})
}

func (lw *Lowerer) lowerImport(n *ast.Import) ExprID {
	mod := lw.mod
	resolved := NoModuleID
	if lw.resolver != nil {
		if id, ok := lw.resolver(n.Kind, n.Path, n.Span()); ok {
			resolved = id
		}
	}
	if resolved == NoModuleID {
		lw.errorf(diag.NameNotAModule, n.Span(), "cannot resolve module %q", n.Path)
	}
	mod.Imports = append(mod.Imports, Import{
		Kind:     n.Kind,
		Path:     n.Path,
		Span:     n.Span(),
		Resolved: resolved,
	})
	return mod.addExpr(Expr{Kind: ExprImportRef, Span: n.Span(), Module: resolved})
}

func (lw *Lowerer) lowerBlock(b *ast.Block) ExprID {
	mod := lw.mod
	lw.pushScope()
	defer lw.popScope()

	node := Expr{Kind: ExprBlock, Span: b.Span()}
	for _, s := range b.Stmts {
		switch sn := s.(type) {
		case *ast.DeferStmt:
			// Defer lowers into the scope's trailer list, flushed in
			// LIFO order on every exit edge.
			node.Defers = append(node.Defers, lw.lowerExpr(sn.X))
		default:
			if id, ok := lw.lowerStmt(s); ok {
				node.Stmts = append(node.Stmts, id)
			}
		}
	}
	if b.Tail != nil {
		// The block's value lives in Z; X and Y stay free for the
		// enclosing node kinds that reuse blocks.
		node.Z = lw.lowerExpr(b.Tail)
	}
	return mod.addExpr(node)
}

// Tail returns a block node's value expression, NoExprID when void.
func (e *Expr) Tail() ExprID {
	if e.Kind != ExprBlock {
		return NoExprID
	}
	return e.Z
}

func (lw *Lowerer) lowerStmt(s ast.Stmt) (StmtID, bool) {
	mod := lw.mod
	switch n := s.(type) {
	case *ast.BindStmt:
		b := n.Bind
		local := mod.addLocal(Local{
			Name:    b.Name,
			Span:    b.NameSpan,
			Mutable: b.Kind == ast.BindVar,
			Type:    lw.lowerExpr(b.Type),
		})
		var init ExprID
		if b.Init != nil {
			init = lw.lowerExpr(b.Init)
		}
		// The name is visible to subsequent statements only.
		lw.declare(b.Name, local)
		return mod.addStmt(Stmt{Kind: StmtLocal, Span: n.Span(), Local: local, X: init}), true
	case *ast.ExprStmt:
		return mod.addStmt(Stmt{Kind: StmtExpr, Span: n.Span(), X: lw.lowerExpr(n.X)}), true
	case *ast.AssignStmt:
		x := lw.lowerExpr(n.Target)
		y := lw.lowerExpr(n.Value)
		return mod.addStmt(Stmt{Kind: StmtAssign, Span: n.Span(), X: x, Y: y}), true
	case *ast.WhileStmt:
		x := lw.lowerExpr(n.Cond)
		y := lw.lowerBlock(n.Body)
		return mod.addStmt(Stmt{Kind: StmtWhile, Span: n.Span(), X: x, Y: y}), true
	case *ast.ReturnStmt:
		var x ExprID
		if n.Value != nil {
			x = lw.lowerExpr(n.Value)
		}
		return mod.addStmt(Stmt{Kind: StmtReturn, Span: n.Span(), X: x}), true
	case *ast.BreakStmt:
		return mod.addStmt(Stmt{Kind: StmtBreak, Span: n.Span()}), true
	case *ast.ContinueStmt:
		return mod.addStmt(Stmt{Kind: StmtContinue, Span: n.Span()}), true
	case *ast.SwitchStmt:
		return lw.lowerSwitch(n)
	}
	lw.errorf(diag.Internal, s.Span(), "unhandled statement form during lowering")
	return 0, false
}

func (lw *Lowerer) lowerSwitch(n *ast.SwitchStmt) (StmtID, bool) {
	mod := lw.mod
	subject := lw.lowerExpr(n.Subject)
	arms := make([]SwitchArm, 0, len(n.Arms))
	for _, arm := range n.Arms {
		var variant ExprID
		if arm.Variant != nil {
			variant = lw.lowerExpr(arm.Variant)
		}
		binder := NoLocalID
		lw.pushScope()
		if n.Binder != source.NoStringID {
			binder = mod.addLocal(Local{
				Name:    n.Binder,
				Span:    n.BinderSpan,
				Mutable: false,
			})
			lw.declare(n.Binder, binder)
		}
		body := lw.lowerBlock(arm.Body)
		lw.popScope()
		arms = append(arms, SwitchArm{Variant: variant, Body: body, Binder: binder, Span: arm.Span})
	}
	return mod.addStmt(Stmt{Kind: StmtSwitch, Span: n.Span(), X: subject, Arms: arms}), true
}
