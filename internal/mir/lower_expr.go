package mir

import (
	"fmt"
	"math"

	"capy/internal/ast"
	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/sema"
	"capy/internal/source"
	"capy/internal/types"
)

// val is a lowered expression result: either a scalar operand or the
// address of an in-memory value.
type val struct {
	op   Operand
	addr bool
	ty   types.TypeID
}

type loopFrame struct {
	breakBB    BlockID
	continueBB BlockID
	deferDepth int
}

type deferScope struct {
	exprs []hir.ExprID
}

type funcLowerer struct {
	lw       *Lowerer
	hmod     *hir.Module
	f        *Func
	cur      BlockID
	localMap map[hir.LocalID]LocalID
	loops    []loopFrame
	defers   []deferScope
}

func newFuncLowerer(lw *Lowerer, hmod *hir.Module, f *Func) *funcLowerer {
	fl := &funcLowerer{
		lw:       lw,
		hmod:     hmod,
		f:        f,
		localMap: make(map[hir.LocalID]LocalID),
	}
	fl.cur = f.NewBlock()
	f.Entry = fl.cur
	return fl
}

func (fl *funcLowerer) emit(i Instr) {
	b := fl.f.Block(fl.cur)
	if b.Terminated() {
		return
	}
	b.Instrs = append(b.Instrs, i)
}

func (fl *funcLowerer) setTerm(t Terminator) {
	b := fl.f.Block(fl.cur)
	if b.Terminated() {
		return
	}
	b.Term = t
}

func (fl *funcLowerer) br(target BlockID, sp source.Span) {
	fl.setTerm(Terminator{Kind: TermBr, Target: target, Span: sp})
}

func (fl *funcLowerer) seal(bb BlockID) {
	fl.cur = bb
}

func (fl *funcLowerer) typeOf(e hir.ExprID) types.TypeID {
	return fl.lw.Info.TypeOf(fl.hmod.ID, e)
}

func (fl *funcLowerer) newTempOp(c Class) Operand {
	return TempOp(fl.f.NewTemp(), c)
}

func (fl *funcLowerer) newSlot(name string, t types.TypeID, sp source.Span) LocalID {
	size, align := fl.lw.sizeAlign(t, sp)
	return fl.f.AddLocal(Local{Name: name, Type: t, Size: size, Align: align})
}

// scalarOf materializes a val as a scalar operand, loading from memory
// when it is an address.
func (fl *funcLowerer) scalarOf(v val, sp source.Span) Operand {
	if !v.addr {
		return v.op
	}
	class, aggregate := fl.lw.ClassOf(v.ty)
	if aggregate || class == CNone {
		return v.op // aggregates stay as addresses
	}
	dst := fl.f.NewTemp()
	fl.emit(Instr{Kind: InstrLoad, Span: sp, Dst: dst, HasDst: true, Class: class, Addr: v.op})
	return TempOp(dst, class)
}

// addrOf materializes a val in memory and returns its address.
func (fl *funcLowerer) addrOf(v val, sp source.Span) Operand {
	if v.addr {
		return v.op
	}
	class, _ := fl.lw.ClassOf(v.ty)
	slot := fl.newSlot("spill", v.ty, sp)
	fl.emit(Instr{Kind: InstrStore, Span: sp, Addr: LocalAddr(slot), Val: v.op, Class: class})
	return LocalAddr(slot)
}

// store writes v into addr, by class or by memcpy.
func (fl *funcLowerer) store(addr Operand, v val, sp source.Span) {
	class, aggregate := fl.lw.ClassOf(v.ty)
	if aggregate {
		size, _ := fl.lw.sizeAlign(v.ty, sp)
		fl.emit(Instr{Kind: InstrMemCopy, Span: sp, Addr: addr, Val: fl.addrOf(v, sp), Size: size})
		return
	}
	if class == CNone {
		return
	}
	fl.emit(Instr{Kind: InstrStore, Span: sp, Addr: addr, Val: fl.scalarOf(v, sp), Class: class})
}

// lower lowers an expression and applies the implicit-conversion
// materializations the checker recorded.
func (fl *funcLowerer) lower(e hir.ExprID) val {
	raw := fl.lw.Info.RawTypeOf(fl.hmod.ID, e)
	final := fl.typeOf(e)
	v := fl.lowerRaw(e, raw)
	if raw == final || raw == types.NoTypeID || final == types.NoTypeID {
		return v
	}
	return fl.applyCoercion(v, raw, final, fl.hmod.Expr(e).Span)
}

func (fl *funcLowerer) applyCoercion(v val, raw, final types.TypeID, sp source.Span) val {
	ty := fl.lw.Types
	rt, ok1 := ty.Lookup(raw)
	ft, ok2 := ty.Lookup(final)
	if !ok1 || !ok2 {
		return v
	}
	// [N]T → []T: build the {ptr, len} header.
	if rt.Kind == types.KindArray && ft.Kind == types.KindSlice {
		arrAddr := fl.addrOf(v, sp)
		slot := fl.newSlot("slice", final, sp)
		fl.emit(Instr{Kind: InstrStore, Span: sp, Addr: LocalAddr(slot), Val: arrAddr, Class: CPtr})
		lenAddr := fl.ptrAdd(LocalAddr(slot), ConstInt(int64(fl.lw.Lay.Target.PtrSize), C64), sp)
		fl.emit(Instr{Kind: InstrStore, Span: sp, Addr: lenAddr, Val: ConstInt(int64(rt.Len), C64), Class: C64})
		return val{op: LocalAddr(slot), addr: true, ty: final}
	}
	// Variant → owning enum: copy the payload, write the discriminant.
	if rt.Kind == types.KindVariant && ft.Kind == types.KindEnum {
		return fl.wrapVariant(v, raw, final, sp)
	}
	// T → any: pair the value's address with its type id.
	if ft.Kind == types.KindAny && rt.Kind != types.KindAny {
		addr := fl.addrOf(v, sp)
		slot := fl.newSlot("any", final, sp)
		fl.emit(Instr{Kind: InstrStore, Span: sp, Addr: LocalAddr(slot), Val: ConstInt(int64(raw), C32), Class: C32})
		dataAddr := fl.ptrAdd(LocalAddr(slot), ConstInt(int64(fl.lw.Lay.Target.PtrSize), C64), sp)
		fl.emit(Instr{Kind: InstrStore, Span: sp, Addr: dataAddr, Val: addr, Class: CPtr})
		return val{op: LocalAddr(slot), addr: true, ty: final}
	}
	// ^mut T → ^T and distinct adjustments share the layout; just
	// retag the type.
	v.ty = final
	return v
}

func (fl *funcLowerer) wrapVariant(v val, variantT, enumT types.TypeID, sp source.Span) val {
	ty := fl.lw.Types
	info, ok := ty.VariantInfo(ty.Underlying(variantT))
	if !ok {
		return v
	}
	enumLayout, err := fl.lw.Lay.Of(enumT)
	if err != nil {
		return v
	}
	slot := fl.newSlot("enum", enumT, sp)
	payloadSize, _ := fl.lw.sizeAlign(info.Payload, sp)
	if payloadSize > 0 {
		fl.emit(Instr{Kind: InstrMemCopy, Span: sp, Addr: LocalAddr(slot), Val: fl.addrOf(v, sp), Size: payloadSize})
	}
	discAddr := fl.ptrAdd(LocalAddr(slot), ConstInt(int64(enumLayout.DiscOffset), C64), sp)
	fl.emit(Instr{Kind: InstrStore, Span: sp, Addr: discAddr, Val: ConstInt(int64(info.Discriminant), C8), Class: C8})
	return val{op: LocalAddr(slot), addr: true, ty: enumT}
}

func (fl *funcLowerer) ptrAdd(base, offset Operand, sp source.Span) Operand {
	dst := fl.f.NewTemp()
	fl.emit(Instr{Kind: InstrPtrAdd, Span: sp, Dst: dst, HasDst: true, Class: CPtr, A: base, B: offset})
	return TempOp(dst, CPtr)
}

func (fl *funcLowerer) lowerRaw(e hir.ExprID, t types.TypeID) val {
	expr := fl.hmod.Expr(e)
	sp := expr.Span
	class, aggregate := fl.lw.ClassOf(t)

	switch expr.Kind {
	case hir.ExprIntLit, hir.ExprBoolLit, hir.ExprCharLit:
		if aggregate {
			return fl.constDataVal(e, t, sp)
		}
		if class.IsFloat() {
			return val{op: Operand{Kind: OpConstFloat, Class: class, Float: float64(int64(expr.Int))}, ty: t}
		}
		return val{op: ConstInt(int64(expr.Int), class), ty: t}
	case hir.ExprFloatLit:
		return val{op: Operand{Kind: OpConstFloat, Class: class, Float: expr.Float}, ty: t}
	case hir.ExprStringLit:
		g := fl.lw.EnsureString(expr.Str)
		return val{op: GlobalAddr(g), ty: t}
	case hir.ExprLocal:
		// A const local declared outside the lowered region (comptime
		// blocks reference enclosing consts) folds through its value.
		if _, have := fl.localMap[expr.Local]; !have &&
			fl.lw.Info.LocalIsConst(fl.hmod.ID, expr.Local) {
			init := fl.lw.Info.LocalInit(fl.hmod.ID, expr.Local)
			if v, ok := fl.lw.Info.ConstValue(fl.hmod, init, t); ok {
				return fl.valueFromBytes(v, t, e, sp)
			}
		}
		return val{op: LocalAddr(fl.slotFor(expr.Local, sp)), addr: true, ty: t}
	case hir.ExprGlobal:
		return fl.lowerGlobal(sema.GlobalKey{Module: expr.Global.Module, Binding: expr.Global.Binding}, t, sp)
	case hir.ExprBuiltin:
		return fl.lowerBuiltinRef(e, expr, t, sp)
	case hir.ExprUnresolved:
		return val{op: ConstInt(0, class), ty: t}
	case hir.ExprBinary:
		return fl.lowerBinary(e, expr, t)
	case hir.ExprUnary:
		return fl.lowerUnary(expr, t)
	case hir.ExprAddrOf:
		return fl.lowerAddrOf(e, expr, t, sp)
	case hir.ExprDeref:
		ptr := fl.scalarOf(fl.lower(expr.X), sp)
		return val{op: ptr, addr: true, ty: t}
	case hir.ExprCall:
		return fl.lowerCall(e, expr, t)
	case hir.ExprIndex:
		return fl.lowerIndex(expr, t)
	case hir.ExprMember:
		return fl.lowerMember(e, expr, t)
	case hir.ExprCast:
		return fl.lowerCast(expr, t)
	case hir.ExprStructLit:
		return fl.lowerStructLit(expr, t)
	case hir.ExprArrayLit:
		return fl.lowerArrayLit(expr, t)
	case hir.ExprBlock:
		return fl.lowerBlockExpr(e)
	case hir.ExprIf:
		return fl.lowerIf(expr, t)
	case hir.ExprComptime:
		return fl.lowerComptime(e, expr, t, sp)
	case hir.ExprFunc:
		fid := fl.lw.EnsureFunc(fl.hmod, expr.Func)
		return val{op: FuncAddr(fid), ty: t}
	case hir.ExprFuncType, hir.ExprArrayType, hir.ExprDistinctType,
		hir.ExprStructType, hir.ExprEnumType:
		return fl.constDataVal(e, t, sp)
	case hir.ExprImportRef:
		return val{ty: t}
	}
	fl.lw.Reporter.Report(diag.Internal, diag.SevError, sp,
		fmt.Sprintf("unhandled expression kind %d in lowering", expr.Kind), nil)
	return val{op: ConstInt(0, class), ty: t}
}

// constDataVal lowers an expression whose value the checker computed:
// type values become immediate ids, larger constants become read-only
// globals.
func (fl *funcLowerer) constDataVal(e hir.ExprID, t types.TypeID, sp source.Span) val {
	v, ok := fl.lw.Info.ConstValueOfExpr(fl.hmod.ID, e)
	if !ok {
		class, _ := fl.lw.ClassOf(t)
		return val{op: ConstInt(0, class), ty: t}
	}
	return fl.valueFromBytes(v, t, e, sp)
}

// valueFromBytes turns evaluated bytes into an operand: scalars become
// immediates, aggregates become read-only data globals.
func (fl *funcLowerer) valueFromBytes(v sema.Value, t types.TypeID, e hir.ExprID, sp source.Span) val {
	class, aggregate := fl.lw.ClassOf(t)
	if !aggregate && class != CNone && len(v.Bytes) <= 8 {
		if class.IsFloat() {
			bits := readLE(v.Bytes)
			var f float64
			if class == CF32 {
				f = float64(math.Float32frombits(uint32(bits)))
			} else {
				f = math.Float64frombits(bits)
			}
			return val{op: Operand{Kind: OpConstFloat, Class: class, Float: f}, ty: t}
		}
		return val{op: ConstInt(int64(readLE(v.Bytes)), class), ty: t}
	}
	g := fl.lw.EnsureDataGlobal(fmt.Sprintf("%s.const.%d", fl.f.Name, e), t, v.Bytes, sp)
	return val{op: GlobalAddr(g), addr: true, ty: t}
}

func (fl *funcLowerer) slotFor(l hir.LocalID, sp source.Span) LocalID {
	if id, ok := fl.localMap[l]; ok {
		return id
	}
	t := fl.lw.Info.LocalType(fl.hmod.ID, l)
	name, _ := fl.lw.Info.World.Strings.Lookup(fl.hmod.Local(l).Name)
	id := fl.newSlot(name, t, sp)
	fl.localMap[l] = id
	return id
}

func (fl *funcLowerer) lowerGlobal(key sema.GlobalKey, t types.TypeID, sp source.Span) val {
	hmod := fl.lw.Info.World.Module(key.Module)
	b := &hmod.Bindings[key.Binding]
	if b.Init != hir.NoExprID {
		init := hmod.Expr(b.Init)
		switch init.Kind {
		case hir.ExprFunc:
			fid := fl.lw.EnsureFunc(hmod, init.Func)
			return val{op: FuncAddr(fid), ty: t}
		case hir.ExprStringLit:
			if !b.Mutable {
				g := fl.lw.EnsureString(init.Str)
				return val{op: GlobalAddr(g), ty: t}
			}
		case hir.ExprImportRef:
			return val{ty: t}
		}
	}
	gid, _ := fl.lw.EnsureBindingGlobal(key, sp)
	return val{op: GlobalAddr(gid), addr: true, ty: t}
}

func (fl *funcLowerer) lowerBuiltinRef(e hir.ExprID, expr *hir.Expr, t types.TypeID, sp source.Span) val {
	if expr.Builtin == hir.BuiltinArgs {
		return val{op: GlobalAddr(fl.lw.ArgsGlobal()), addr: true, ty: t}
	}
	// Type names carry their id as a Meta_Type immediate.
	return fl.constDataVal(e, t, sp)
}

func (fl *funcLowerer) lowerAddrOf(e hir.ExprID, expr *hir.Expr, t types.TypeID, sp source.Span) val {
	if t == fl.lw.Types.Builtins().MetaType {
		return fl.constDataVal(e, t, sp)
	}
	inner := fl.lower(expr.X)
	addr := fl.addrOf(inner, sp)
	return val{op: addr, ty: t}
}

func (fl *funcLowerer) lowerBinary(e hir.ExprID, expr *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	switch expr.BinOp {
	case ast.OpAnd, ast.OpOr:
		return fl.lowerShortCircuit(expr, t)
	}

	operandT := fl.typeOf(expr.X)
	class, aggregate := fl.lw.ClassOf(operandT)
	if aggregate || class == CNone {
		fl.lw.Reporter.Report(diag.CodegenUnsupported, diag.SevError, sp,
			fmt.Sprintf("operator %s is not supported for %s", expr.BinOp,
				fl.lw.Types.Format(operandT, fl.lw.Info.World.Strings)), nil)
		rc, _ := fl.lw.ClassOf(t)
		return val{op: ConstInt(0, rc), ty: t}
	}
	a := fl.scalarOf(fl.lower(expr.X), sp)
	b := fl.scalarOf(fl.lower(expr.Y), sp)
	signed := fl.isSigned(operandT)

	if kind, isCmp := cmpKindFor(expr.BinOp, class, signed); isCmp {
		dst := fl.f.NewTemp()
		fl.emit(Instr{Kind: InstrCmp, Span: sp, Dst: dst, HasDst: true, Class: class, Cmp: kind, A: a, B: b})
		return val{op: TempOp(dst, C8), ty: t}
	}

	bin := binKindFor(expr.BinOp, class, signed)
	if bin == BinSDiv || bin == BinUDiv || bin == BinSRem || bin == BinURem {
		fl.emitDivZeroCheck(b, class, sp)
	}
	dst := fl.f.NewTemp()
	fl.emit(Instr{Kind: InstrBin, Span: sp, Dst: dst, HasDst: true, Class: class, Bin: bin, A: a, B: b})
	return val{op: TempOp(dst, class), ty: t}
}

func (fl *funcLowerer) emitDivZeroCheck(b Operand, class Class, sp source.Span) {
	if b.Kind == OpConstInt && b.Int != 0 {
		return
	}
	isZero := fl.f.NewTemp()
	fl.emit(Instr{Kind: InstrCmp, Span: sp, Dst: isZero, HasDst: true, Class: class, Cmp: CmpEq, A: b, B: ConstInt(0, class)})
	trapBB := fl.f.NewBlock()
	okBB := fl.f.NewBlock()
	fl.setTerm(Terminator{Kind: TermCondBr, Span: sp, Cond: TempOp(isZero, C8), Target: trapBB, Else: okBB})
	fl.seal(trapBB)
	fl.setTerm(Terminator{Kind: TermTrap, Span: sp, Trap: TrapDivZero})
	fl.seal(okBB)
}

func (fl *funcLowerer) lowerShortCircuit(expr *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	slot := fl.newSlot("sc", t, sp)
	rhsBB := fl.f.NewBlock()
	joinBB := fl.f.NewBlock()

	a := fl.scalarOf(fl.lower(expr.X), sp)
	fl.emit(Instr{Kind: InstrStore, Span: sp, Addr: LocalAddr(slot), Val: a, Class: C8})
	if expr.BinOp == ast.OpAnd {
		fl.setTerm(Terminator{Kind: TermCondBr, Span: sp, Cond: a, Target: rhsBB, Else: joinBB})
	} else {
		fl.setTerm(Terminator{Kind: TermCondBr, Span: sp, Cond: a, Target: joinBB, Else: rhsBB})
	}
	fl.seal(rhsBB)
	b := fl.scalarOf(fl.lower(expr.Y), sp)
	fl.emit(Instr{Kind: InstrStore, Span: sp, Addr: LocalAddr(slot), Val: b, Class: C8})
	fl.br(joinBB, sp)
	fl.seal(joinBB)

	dst := fl.f.NewTemp()
	fl.emit(Instr{Kind: InstrLoad, Span: sp, Dst: dst, HasDst: true, Class: C8, Addr: LocalAddr(slot)})
	return val{op: TempOp(dst, C8), ty: t}
}

func (fl *funcLowerer) lowerUnary(expr *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	class, _ := fl.lw.ClassOf(t)
	x := fl.scalarOf(fl.lower(expr.X), sp)
	dst := fl.f.NewTemp()
	switch expr.UnOp {
	case ast.OpNeg:
		if class.IsFloat() {
			fl.emit(Instr{Kind: InstrBin, Span: sp, Dst: dst, HasDst: true, Class: class, Bin: BinFSub,
				A: Operand{Kind: OpConstFloat, Class: class, Float: 0}, B: x})
		} else {
			fl.emit(Instr{Kind: InstrBin, Span: sp, Dst: dst, HasDst: true, Class: class, Bin: BinSub,
				A: ConstInt(0, class), B: x})
		}
	case ast.OpNot:
		fl.emit(Instr{Kind: InstrBin, Span: sp, Dst: dst, HasDst: true, Class: C8, Bin: BinXor,
			A: x, B: ConstInt(1, C8)})
	case ast.OpBitNot:
		fl.emit(Instr{Kind: InstrBin, Span: sp, Dst: dst, HasDst: true, Class: class, Bin: BinXor,
			A: x, B: ConstInt(-1, class)})
	}
	return val{op: TempOp(dst, class), ty: t}
}

func (fl *funcLowerer) isSigned(t types.TypeID) bool {
	tt, ok := fl.lw.Types.Lookup(fl.lw.Types.Underlying(t))
	if !ok {
		return true
	}
	if tt.Kind == types.KindInt {
		return tt.Signed
	}
	return false
}

func binKindFor(op ast.BinOp, class Class, signed bool) BinKind {
	if class.IsFloat() {
		switch op {
		case ast.OpAdd:
			return BinFAdd
		case ast.OpSub:
			return BinFSub
		case ast.OpMul:
			return BinFMul
		default:
			return BinFDiv
		}
	}
	switch op {
	case ast.OpAdd:
		return BinAdd
	case ast.OpSub:
		return BinSub
	case ast.OpMul:
		return BinMul
	case ast.OpDiv:
		if signed {
			return BinSDiv
		}
		return BinUDiv
	case ast.OpRem:
		if signed {
			return BinSRem
		}
		return BinURem
	case ast.OpBitAnd:
		return BinAnd
	case ast.OpBitOr:
		return BinOr
	case ast.OpShl:
		return BinShl
	case ast.OpShr:
		if signed {
			return BinAShr
		}
		return BinLShr
	}
	return BinAdd
}

func cmpKindFor(op ast.BinOp, class Class, signed bool) (CmpKind, bool) {
	if class.IsFloat() {
		switch op {
		case ast.OpEq:
			return CmpFEq, true
		case ast.OpNe:
			return CmpFNe, true
		case ast.OpLt:
			return CmpFLt, true
		case ast.OpLe:
			return CmpFLe, true
		case ast.OpGt:
			return CmpFGt, true
		case ast.OpGe:
			return CmpFGe, true
		}
		return 0, false
	}
	switch op {
	case ast.OpEq:
		return CmpEq, true
	case ast.OpNe:
		return CmpNe, true
	case ast.OpLt:
		if signed {
			return CmpSLt, true
		}
		return CmpULt, true
	case ast.OpLe:
		if signed {
			return CmpSLe, true
		}
		return CmpULe, true
	case ast.OpGt:
		if signed {
			return CmpSGt, true
		}
		return CmpUGt, true
	case ast.OpGe:
		if signed {
			return CmpSGe, true
		}
		return CmpUGe, true
	}
	return 0, false
}
