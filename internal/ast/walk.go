package ast

// Inspect calls fn for every expression in the file, in syntactic
// order. fn returning false prunes the subtree.
func Inspect(f *File, fn func(Expr) bool) {
	for _, item := range f.Items {
		walkExpr(item.Type, fn)
		walkExpr(item.Init, fn)
	}
}

func walkExpr(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Binary:
		walkExpr(n.Lhs, fn)
		walkExpr(n.Rhs, fn)
	case *Unary:
		walkExpr(n.X, fn)
	case *AddrOf:
		walkExpr(n.X, fn)
	case *Deref:
		walkExpr(n.X, fn)
	case *Call:
		walkExpr(n.Callee, fn)
		for _, a := range n.Args {
			walkExpr(a, fn)
		}
	case *Index:
		walkExpr(n.X, fn)
		walkExpr(n.Index, fn)
	case *Member:
		walkExpr(n.X, fn)
	case *Cast:
		walkExpr(n.Type, fn)
		walkExpr(n.Value, fn)
	case *StructLit:
		walkExpr(n.Type, fn)
		for _, f := range n.Fields {
			walkExpr(f.Value, fn)
		}
	case *ArrayLit:
		walkExpr(n.Elem, fn)
		for _, el := range n.Elems {
			walkExpr(el, fn)
		}
	case *Block:
		for _, s := range n.Stmts {
			walkStmt(s, fn)
		}
		walkExpr(n.Tail, fn)
	case *If:
		walkExpr(n.Cond, fn)
		walkExpr(n.Then, fn)
		walkExpr(n.Else, fn)
	case *Comptime:
		walkExpr(n.Body, fn)
	case *Lambda:
		for _, p := range n.Params {
			walkExpr(p.Type, fn)
		}
		walkExpr(n.Result, fn)
		if n.Body != nil {
			walkExpr(n.Body, fn)
		}
	case *FuncType:
		for _, p := range n.Params {
			walkExpr(p, fn)
		}
		walkExpr(n.Result, fn)
	case *ArrayType:
		walkExpr(n.Len, fn)
		walkExpr(n.Elem, fn)
	case *DistinctType:
		walkExpr(n.Base, fn)
	case *MutType:
		walkExpr(n.Base, fn)
	case *StructType:
		for _, f := range n.Fields {
			walkExpr(f.Type, fn)
		}
	case *EnumType:
		for _, v := range n.Variants {
			walkExpr(v.Payload, fn)
		}
	}
}

func walkStmt(s Stmt, fn func(Expr) bool) {
	switch n := s.(type) {
	case *BindStmt:
		walkExpr(n.Bind.Type, fn)
		walkExpr(n.Bind.Init, fn)
	case *ExprStmt:
		walkExpr(n.X, fn)
	case *AssignStmt:
		walkExpr(n.Target, fn)
		walkExpr(n.Value, fn)
	case *WhileStmt:
		walkExpr(n.Cond, fn)
		walkExpr(n.Body, fn)
	case *ReturnStmt:
		walkExpr(n.Value, fn)
	case *DeferStmt:
		walkExpr(n.X, fn)
	case *SwitchStmt:
		walkExpr(n.Subject, fn)
		for _, arm := range n.Arms {
			walkExpr(arm.Variant, fn)
			walkExpr(arm.Body, fn)
		}
	}
}
