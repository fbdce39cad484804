package mir

import (
	"capy/internal/hir"
	"capy/internal/source"
	"capy/internal/types"
)

// lowerBlockExpr lowers a block, running its defer trailers on the
// fall-through edge. Return/break/continue flush them through the
// defer stack instead.
func (fl *funcLowerer) lowerBlockExpr(e hir.ExprID) val {
	expr := fl.hmod.Expr(e)
	fl.defers = append(fl.defers, deferScope{exprs: expr.Defers})

	for _, sid := range expr.Stmts {
		fl.lowerStmt(sid)
	}
	var v val
	if tail := expr.Tail(); tail != hir.NoExprID {
		v = fl.lower(tail)
		// The tail value may point into a slot this scope's defers can
		// observe; defers run after the value is computed.
	} else {
		v = val{ty: fl.lw.Types.Builtins().Void}
	}
	fl.flushDefers(len(fl.defers)-1, expr.Span)
	fl.defers = fl.defers[:len(fl.defers)-1]
	return v
}

// flushDefers runs trailer expressions from the innermost scope down
// to (and including) scope index `down`, each scope LIFO.
func (fl *funcLowerer) flushDefers(down int, _ source.Span) {
	for i := len(fl.defers) - 1; i >= down; i-- {
		scope := fl.defers[i]
		for j := len(scope.exprs) - 1; j >= 0; j-- {
			fl.lower(scope.exprs[j])
		}
	}
}

func (fl *funcLowerer) emitReturn(v val, sp source.Span) {
	fl.flushDefers(0, sp)
	if fl.f.SRet {
		if v.ty != types.NoTypeID && v.ty != fl.lw.Types.Builtins().Void && v.op.Kind != OpNone {
			size, _ := fl.lw.sizeAlign(fl.f.Result, sp)
			fl.emit(Instr{Kind: InstrMemCopy, Span: sp, Addr: sretParam(), Val: fl.addrOf(v, sp), Size: size})
		}
		fl.setTerm(Terminator{Kind: TermRet, Span: sp})
		return
	}
	if fl.f.ResultClass == CNone {
		fl.setTerm(Terminator{Kind: TermRet, Span: sp})
		return
	}
	out := Operand{Kind: OpConstInt, Class: fl.f.ResultClass}
	if v.op.Kind != OpNone {
		out = fl.scalarOf(v, sp)
	}
	fl.setTerm(Terminator{Kind: TermRet, Span: sp, HasVal: true, Val: out})
}

// sretParam is the hidden aggregate-return pointer. It is addressed as
// a pseudo-operand the consumers map to their convention: the VM binds
// it to the caller buffer, the LLVM emitter to the sret argument.
func sretParam() Operand {
	return Operand{Kind: OpLocalAddr, Class: CPtr, Local: SRetLocal}
}

// SRetLocal is the reserved pseudo-local naming the hidden return
// pointer of sret functions.
const SRetLocal LocalID = ^LocalID(0)

func (fl *funcLowerer) lowerStmt(sid hir.StmtID) {
	stmt := fl.hmod.Stmt(sid)
	sp := stmt.Span
	switch stmt.Kind {
	case hir.StmtLocal:
		slot := fl.slotFor(stmt.Local, sp)
		if stmt.X != hir.NoExprID {
			v := fl.lower(stmt.X)
			fl.store(LocalAddr(slot), v, sp)
		}
	case hir.StmtExpr:
		fl.lower(stmt.X)
	case hir.StmtAssign:
		target := fl.lower(stmt.X)
		v := fl.lower(stmt.Y)
		if target.addr {
			fl.store(target.op, v, sp)
		}
	case hir.StmtWhile:
		fl.lowerWhile(stmt, sp)
	case hir.StmtReturn:
		var v val
		if stmt.X != hir.NoExprID {
			v = fl.lower(stmt.X)
		}
		fl.emitReturn(v, sp)
		// Statements after a return in the same block are dead; a
		// fresh block keeps the builder consistent.
		fl.seal(fl.f.NewBlock())
	case hir.StmtBreak:
		if len(fl.loops) > 0 {
			frame := fl.loops[len(fl.loops)-1]
			fl.flushDefers(frame.deferDepth, sp)
			fl.br(frame.breakBB, sp)
			fl.seal(fl.f.NewBlock())
		}
	case hir.StmtContinue:
		if len(fl.loops) > 0 {
			frame := fl.loops[len(fl.loops)-1]
			fl.flushDefers(frame.deferDepth, sp)
			fl.br(frame.continueBB, sp)
			fl.seal(fl.f.NewBlock())
		}
	case hir.StmtSwitch:
		fl.lowerSwitch(stmt, sp)
	}
}

func (fl *funcLowerer) lowerWhile(stmt *hir.Stmt, sp source.Span) {
	condBB := fl.f.NewBlock()
	bodyBB := fl.f.NewBlock()
	exitBB := fl.f.NewBlock()

	fl.br(condBB, sp)
	fl.seal(condBB)
	cond := fl.scalarOf(fl.lower(stmt.X), sp)
	fl.setTerm(Terminator{Kind: TermCondBr, Span: sp, Cond: cond, Target: bodyBB, Else: exitBB})

	fl.loops = append(fl.loops, loopFrame{
		breakBB:    exitBB,
		continueBB: condBB,
		deferDepth: len(fl.defers),
	})
	fl.seal(bodyBB)
	fl.lowerBlockExpr(stmt.Y)
	fl.br(condBB, sp)
	fl.loops = fl.loops[:len(fl.loops)-1]

	fl.seal(exitBB)
}

// lowerSwitch compiles discriminant dispatch: load the tag byte, then
// a compare chain over the arms.
func (fl *funcLowerer) lowerSwitch(stmt *hir.Stmt, sp source.Span) {
	ty := fl.lw.Types
	subjT := fl.typeOf(stmt.X)
	subj := fl.lower(stmt.X)

	u := ty.Underlying(subjT)
	ut, _ := ty.Lookup(u)

	var disc Operand
	switch ut.Kind {
	case types.KindEnum:
		l, err := fl.lw.Lay.Of(u)
		if err != nil {
			return
		}
		addr := fl.addrOf(subj, sp)
		discAddr := fl.ptrAdd(addr, ConstInt(int64(l.DiscOffset), C64), sp)
		d := fl.f.NewTemp()
		fl.emit(Instr{Kind: InstrLoad, Span: sp, Dst: d, HasDst: true, Class: C8, Addr: discAddr})
		disc = TempOp(d, C8)
	case types.KindVariant:
		if info, ok := ty.VariantInfo(u); ok {
			disc = ConstInt(int64(info.Discriminant), C8)
		}
	default:
		return
	}

	subjAddr := fl.addrOf(subj, sp)
	exitBB := fl.f.NewBlock()

	for _, arm := range stmt.Arms {
		bodyBB := fl.f.NewBlock()
		nextBB := exitBB
		if arm.Variant != hir.NoExprID {
			nextBB = fl.f.NewBlock()
			want := int64(0)
			var payloadT types.TypeID
			if v, ok := fl.lw.Info.ConstValueOfExpr(fl.hmod.ID, arm.Variant); ok {
				variantT := typeIDFromBytes(v.Bytes)
				if info, ok := ty.VariantInfo(variantT); ok {
					want = int64(info.Discriminant)
					payloadT = info.Payload
				}
			}
			match := fl.f.NewTemp()
			fl.emit(Instr{Kind: InstrCmp, Span: arm.Span, Dst: match, HasDst: true, Class: C8,
				Cmp: CmpEq, A: disc, B: ConstInt(want, C8)})
			fl.setTerm(Terminator{Kind: TermCondBr, Span: arm.Span, Cond: TempOp(match, C8),
				Target: bodyBB, Else: nextBB})
			fl.seal(bodyBB)
			if arm.Binder != hir.NoLocalID && payloadT != types.NoTypeID {
				binderSlot := fl.slotFor(arm.Binder, arm.Span)
				size, _ := fl.lw.sizeAlign(payloadT, arm.Span)
				if size > 0 {
					// The payload union starts at offset 0.
					fl.emit(Instr{Kind: InstrMemCopy, Span: arm.Span,
						Addr: LocalAddr(binderSlot), Val: subjAddr, Size: size})
				}
			}
		} else {
			// Wildcard arm.
			fl.br(bodyBB, arm.Span)
			fl.seal(bodyBB)
		}
		fl.lowerBlockExpr(arm.Body)
		fl.br(exitBB, arm.Span)
		if arm.Variant != hir.NoExprID {
			fl.seal(nextBB)
		} else {
			fl.seal(exitBB)
			return
		}
	}
	fl.br(exitBB, sp)
	fl.seal(exitBB)
}
