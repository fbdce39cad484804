package sema

import (
	"capy/internal/diag"
	"capy/internal/hir"
)

// checkComptimeCaptures rejects comptime blocks that read runtime
// locals of the enclosing function. Const locals fold through their
// initializers and stay legal.
func (ck *checker) checkComptimeCaptures(block hir.ExprID) {
	declared := make(map[hir.LocalID]bool)

	var visitExpr func(e hir.ExprID)
	var visitStmt func(s hir.StmtID)

	visitExpr = func(e hir.ExprID) {
		if e == hir.NoExprID {
			return
		}
		expr := ck.mod.Expr(e)
		switch expr.Kind {
		case hir.ExprLocal:
			if declared[expr.Local] {
				return
			}
			consts := ck.info.localConst[ck.mod.ID]
			if int(expr.Local) < len(consts) && consts[expr.Local] {
				return
			}
			name, _ := ck.strs().Lookup(ck.mod.Local(expr.Local).Name)
			ck.errorf(diag.ComptimeLimitation, expr.Span,
				"comptime block cannot read the runtime binding %q", name)
			return
		case hir.ExprFunc:
			// Lifted functions have an empty capture set; nothing of
			// the enclosing frame is visible inside.
			return
		}
		// A block's statements declare its locals before its tail (Z)
		// reads them.
		for _, sid := range expr.Stmts {
			visitStmt(sid)
		}
		visitExpr(expr.X)
		visitExpr(expr.Y)
		visitExpr(expr.Z)
		for _, id := range expr.List {
			visitExpr(id)
		}
		for _, f := range expr.Fields {
			visitExpr(f.Value)
		}
		for _, v := range expr.Variants {
			visitExpr(v.Payload)
		}
		for _, d := range expr.Defers {
			visitExpr(d)
		}
	}

	visitStmt = func(sid hir.StmtID) {
		stmt := ck.mod.Stmt(sid)
		switch stmt.Kind {
		case hir.StmtLocal:
			visitExpr(stmt.X)
			declared[stmt.Local] = true
		case hir.StmtSwitch:
			visitExpr(stmt.X)
			for _, arm := range stmt.Arms {
				visitExpr(arm.Variant)
				if arm.Binder != hir.NoLocalID {
					declared[arm.Binder] = true
				}
				visitExpr(arm.Body)
			}
		default:
			visitExpr(stmt.X)
			visitExpr(stmt.Y)
		}
	}

	visitExpr(block)
}
