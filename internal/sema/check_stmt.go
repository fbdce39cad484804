package sema

import (
	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/types"
)

func (ck *checker) checkStmt(sid hir.StmtID) {
	stmt := ck.mod.Stmt(sid)
	b := ck.b()
	switch stmt.Kind {
	case hir.StmtLocal:
		local := ck.mod.Local(stmt.Local)
		declared := types.NoTypeID
		if local.Type != hir.NoExprID {
			declared = ck.resolveType(local.Type)
		}
		got := types.NoTypeID
		if stmt.X != hir.NoExprID {
			got = ck.check(stmt.X, declared, coerceOpts{atDecl: true})
		}
		t := declared
		if t == types.NoTypeID {
			t = got
		}
		ck.setLocalType(stmt.Local, t)
		if consts, ok := ck.info.localConst[ck.mod.ID]; ok && int(stmt.Local) < len(consts) {
			consts[stmt.Local] = !local.Mutable && stmt.X != hir.NoExprID && ck.constShape(stmt.X)
		}
		if inits, ok := ck.info.localInit[ck.mod.ID]; ok && int(stmt.Local) < len(inits) {
			inits[stmt.Local] = stmt.X
		}
	case hir.StmtExpr:
		ck.check(stmt.X, types.NoTypeID, coerceOpts{})
	case hir.StmtAssign:
		target := ck.check(stmt.X, types.NoTypeID, coerceOpts{})
		if !ck.isLValue(stmt.X) {
			ck.errorf(diag.SynBadAssignTarget, stmt.Span, "cannot assign to this expression")
		} else if !ck.isMutableLValue(stmt.X) {
			ck.errorf(diag.TypeImmutableWrite, stmt.Span, "cannot assign to an immutable binding")
		}
		ck.check(stmt.Y, target, coerceOpts{})
	case hir.StmtWhile:
		ck.check(stmt.X, b.Bool, coerceOpts{})
		ck.loopDepth++
		ck.check(stmt.Y, types.NoTypeID, coerceOpts{})
		ck.loopDepth--
	case hir.StmtReturn:
		want := ck.fnResult
		if want == types.NoTypeID {
			want = b.Void
		}
		if stmt.X == hir.NoExprID {
			if want != b.Void {
				ck.errorf(diag.TypeMismatch, stmt.Span, "return needs a %s value", ck.fmtType(want))
			}
			return
		}
		ck.check(stmt.X, want, coerceOpts{})
	case hir.StmtBreak, hir.StmtContinue:
		if ck.loopDepth == 0 {
			ck.errorf(diag.TypeMismatch, stmt.Span, "break/continue outside of a loop")
		}
	case hir.StmtSwitch:
		ck.checkSwitch(stmt)
	}
}

func (ck *checker) checkSwitch(stmt *hir.Stmt) {
	ty := ck.info.Types
	subjT := ck.check(stmt.X, types.NoTypeID, coerceOpts{})
	enumID := types.NoTypeID
	t, ok := ty.Lookup(ty.Underlying(subjT))
	switch {
	case ok && t.Kind == types.KindEnum:
		enumID = ty.Underlying(subjT)
	case ok && t.Kind == types.KindVariant:
		if ref, ok := ty.VariantRef(ty.Underlying(subjT)); ok {
			enumID = ref.Enum
		}
	default:
		if subjT != types.NoTypeID {
			ck.errorf(diag.TypeMismatch, stmt.Span, "switch subject must be an enum, found %s", ck.fmtType(subjT))
		}
	}

	for _, arm := range stmt.Arms {
		payload := types.NoTypeID
		if arm.Variant != hir.NoExprID {
			vt := ck.resolveType(arm.Variant)
			if vt != types.NoTypeID {
				ref, ok := ty.VariantRef(vt)
				if !ok || (enumID != types.NoTypeID && ref.Enum != enumID) {
					ck.errorf(diag.TypeMismatch, ck.mod.Expr(arm.Variant).Span,
						"%s is not a variant of the switch subject", ck.fmtType(vt))
				} else if info, ok := ty.VariantInfo(vt); ok {
					payload = info.Payload
				}
			}
		}
		if arm.Binder != hir.NoLocalID {
			ck.setLocalType(arm.Binder, payload)
		}
		ck.check(arm.Body, types.NoTypeID, coerceOpts{})
	}
}
