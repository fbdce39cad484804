package mir

import (
	"fmt"

	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/source"
	"capy/internal/types"
)

// autoDeref follows the checker's implicit pointer chain: while the
// value is pointer-typed, load it and continue at the pointee.
func (fl *funcLowerer) autoDeref(v val, sp source.Span) val {
	ty := fl.lw.Types
	for {
		tt, ok := ty.Lookup(ty.Underlying(v.ty))
		if !ok || tt.Kind != types.KindPointer {
			return v
		}
		ptr := fl.scalarOf(v, sp)
		v = val{op: ptr, addr: true, ty: tt.Elem}
	}
}

func (fl *funcLowerer) lowerIndex(expr *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	ty := fl.lw.Types
	base := fl.autoDeref(fl.lower(expr.X), sp)
	idx := fl.scalarOf(fl.lower(expr.Y), sp)
	idx = fl.widenIndex(idx, sp)

	bt, _ := ty.Lookup(ty.Underlying(base.ty))
	var dataPtr Operand
	var length Operand
	switch bt.Kind {
	case types.KindArray:
		dataPtr = fl.addrOf(base, sp)
		length = ConstInt(int64(bt.Len), C64)
	case types.KindSlice:
		sliceAddr := fl.addrOf(base, sp)
		p := fl.f.NewTemp()
		fl.emit(Instr{Kind: InstrLoad, Span: sp, Dst: p, HasDst: true, Class: CPtr, Addr: sliceAddr})
		dataPtr = TempOp(p, CPtr)
		lenAddr := fl.ptrAdd(sliceAddr, ConstInt(int64(fl.lw.Lay.Target.PtrSize), C64), sp)
		l := fl.f.NewTemp()
		fl.emit(Instr{Kind: InstrLoad, Span: sp, Dst: l, HasDst: true, Class: C64, Addr: lenAddr})
		length = TempOp(l, C64)
	default:
		class, _ := fl.lw.ClassOf(t)
		return val{op: ConstInt(0, class), ty: t}
	}

	fl.emitBoundsCheck(idx, length, sp)
	stride, err := fl.lw.Lay.StrideOf(bt.Elem)
	if err != nil {
		stride = 1
	}
	scaled := fl.f.NewTemp()
	fl.emit(Instr{Kind: InstrBin, Span: sp, Dst: scaled, HasDst: true, Class: C64, Bin: BinMul,
		A: idx, B: ConstInt(int64(stride), C64)})
	addr := fl.ptrAdd(dataPtr, TempOp(scaled, C64), sp)
	return val{op: addr, addr: true, ty: t}
}

func (fl *funcLowerer) widenIndex(idx Operand, sp source.Span) Operand {
	if idx.Class == C64 || idx.Class == CPtr {
		return idx
	}
	dst := fl.f.NewTemp()
	fl.emit(Instr{Kind: InstrConvert, Span: sp, Dst: dst, HasDst: true, Class: C64,
		Conv: ConvSExt, A: idx})
	return TempOp(dst, C64)
}

func (fl *funcLowerer) emitBoundsCheck(idx, length Operand, sp source.Span) {
	bad := fl.f.NewTemp()
	fl.emit(Instr{Kind: InstrCmp, Span: sp, Dst: bad, HasDst: true, Class: C64, Cmp: CmpUGe, A: idx, B: length})
	trapBB := fl.f.NewBlock()
	okBB := fl.f.NewBlock()
	fl.setTerm(Terminator{Kind: TermCondBr, Span: sp, Cond: TempOp(bad, C8), Target: trapBB, Else: okBB})
	fl.seal(trapBB)
	fl.setTerm(Terminator{Kind: TermTrap, Span: sp, Trap: TrapBounds})
	fl.seal(okBB)
}

func (fl *funcLowerer) lowerMember(e hir.ExprID, expr *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	ty := fl.lw.Types

	// file.binding resolved by the checker.
	if key, ok := fl.lw.Info.MemberGlobal(fl.hmod.ID, e); ok {
		return fl.lowerGlobal(key, t, sp)
	}
	// E.B variant reference: a Meta_Type immediate.
	if t == ty.Builtins().MetaType {
		return fl.constDataVal(e, t, sp)
	}

	base := fl.autoDeref(fl.lower(expr.X), sp)
	structT := ty.Underlying(base.ty)

	if ut, _ := ty.Lookup(structT); ut.Kind == types.KindAny {
		addr := fl.addrOf(base, sp)
		name, _ := fl.lw.Info.World.Strings.Lookup(expr.Name)
		if name == "data" {
			addr = fl.ptrAdd(addr, ConstInt(int64(fl.lw.Lay.Target.PtrSize), C64), sp)
		}
		return val{op: addr, addr: true, ty: t}
	}

	info, ok := ty.StructInfo(structT)
	if !ok {
		class, _ := fl.lw.ClassOf(t)
		return val{op: ConstInt(0, class), ty: t}
	}
	for i, f := range info.Fields {
		if f.Name == expr.Name {
			offset, err := fl.lw.Lay.FieldOffset(structT, i)
			if err != nil {
				break
			}
			addr := fl.addrOf(base, sp)
			if offset != 0 {
				addr = fl.ptrAdd(addr, ConstInt(int64(offset), C64), sp)
			}
			return val{op: addr, addr: true, ty: t}
		}
	}
	class, _ := fl.lw.ClassOf(t)
	return val{op: ConstInt(0, class), ty: t}
}

func (fl *funcLowerer) lowerCast(expr *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	ty := fl.lw.Types
	from := fl.typeOf(expr.Y)
	v := fl.lower(expr.Y)

	uf, _ := ty.Lookup(ty.Underlying(from))
	ut, _ := ty.Lookup(ty.Underlying(t))

	switch {
	case ty.Underlying(from) == ty.Underlying(t):
		// distinct ↔ underlying and exact: layout-identical.
		v.ty = t
		return v
	case uf.Kind == types.KindVariant && ut.Kind == types.KindEnum:
		return fl.wrapVariant(v, ty.Underlying(from), t, sp)
	case uf.Kind == types.KindEnum && ut.Kind == types.KindVariant:
		// Narrowing: the payload sits at offset 0; copy it out.
		slot := fl.newSlot("variant", t, sp)
		size, _ := fl.lw.sizeAlign(t, sp)
		if size > 0 {
			fl.emit(Instr{Kind: InstrMemCopy, Span: sp, Addr: LocalAddr(slot), Val: fl.addrOf(v, sp), Size: size})
		}
		return val{op: LocalAddr(slot), addr: true, ty: t}
	case ut.Kind == types.KindVariant && ty.Underlying(from) == variantPayload(ty, ty.Underlying(t)):
		// Construction from the payload: same layout.
		v.ty = t
		return v
	case uf.Kind == types.KindArray && ut.Kind == types.KindSlice:
		return fl.applyCoercion(v, ty.Underlying(from), t, sp)
	case uf.Kind == types.KindSlice && ut.Kind == types.KindArray:
		sliceAddr := fl.addrOf(v, sp)
		p := fl.f.NewTemp()
		fl.emit(Instr{Kind: InstrLoad, Span: sp, Dst: p, HasDst: true, Class: CPtr, Addr: sliceAddr})
		slot := fl.newSlot("arr", t, sp)
		size, _ := fl.lw.sizeAlign(t, sp)
		fl.emit(Instr{Kind: InstrMemCopy, Span: sp, Addr: LocalAddr(slot), Val: TempOp(p, CPtr), Size: size})
		return val{op: LocalAddr(slot), addr: true, ty: t}
	}

	// Scalar conversions.
	fromClass, _ := fl.lw.ClassOf(from)
	toClass, _ := fl.lw.ClassOf(t)
	x := fl.scalarOf(v, sp)
	if fromClass == toClass && fromClass != CNone {
		// bool.(n) still needs normalization to 0/1.
		if ut.Kind == types.KindBool && uf.Kind != types.KindBool {
			return fl.boolify(x, fromClass, t, sp)
		}
		return val{op: x, ty: t}
	}
	if ut.Kind == types.KindBool {
		return fl.boolify(x, fromClass, t, sp)
	}
	conv, ok := convKindFor(fromClass, toClass, fl.isSigned(from))
	if !ok {
		fl.lw.Reporter.Report(diag.CodegenUnsupported, diag.SevError, sp,
			fmt.Sprintf("cannot lower cast from %s to %s",
				ty.Format(from, fl.lw.Info.World.Strings), ty.Format(t, fl.lw.Info.World.Strings)), nil)
		return val{op: ConstInt(0, toClass), ty: t}
	}
	dst := fl.f.NewTemp()
	fl.emit(Instr{Kind: InstrConvert, Span: sp, Dst: dst, HasDst: true, Class: toClass, Conv: conv, A: x})
	return val{op: TempOp(dst, toClass), ty: t}
}

func variantPayload(ty *types.Interner, variantT types.TypeID) types.TypeID {
	if info, ok := ty.VariantInfo(variantT); ok {
		return info.Payload
	}
	return types.NoTypeID
}

func (fl *funcLowerer) boolify(x Operand, class Class, t types.TypeID, sp source.Span) val {
	dst := fl.f.NewTemp()
	if class.IsFloat() {
		fl.emit(Instr{Kind: InstrCmp, Span: sp, Dst: dst, HasDst: true, Class: class, Cmp: CmpFNe,
			A: x, B: Operand{Kind: OpConstFloat, Class: class, Float: 0}})
	} else {
		fl.emit(Instr{Kind: InstrCmp, Span: sp, Dst: dst, HasDst: true, Class: class, Cmp: CmpNe,
			A: x, B: ConstInt(0, class)})
	}
	return val{op: TempOp(dst, C8), ty: t}
}

func convKindFor(from, to Class, signed bool) (ConvKind, bool) {
	if from == CNone || to == CNone {
		return 0, false
	}
	switch {
	case from.IsFloat() && to.IsFloat():
		if from.Bits() < to.Bits() {
			return ConvFPExt, true
		}
		return ConvFPTrunc, true
	case from.IsFloat():
		if signed {
			return ConvFPToSI, true
		}
		return ConvFPToUI, true
	case to.IsFloat():
		if signed {
			return ConvSIToFP, true
		}
		return ConvUIToFP, true
	case from.Bits() < to.Bits():
		if signed {
			return ConvSExt, true
		}
		return ConvZExt, true
	case from.Bits() > to.Bits():
		return ConvTrunc, true
	default:
		return ConvBitcast, true
	}
}

func (fl *funcLowerer) lowerStructLit(expr *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	ty := fl.lw.Types
	structT := ty.Underlying(t)
	info, ok := ty.StructInfo(structT)
	if !ok {
		return val{ty: t}
	}
	slot := fl.newSlot("lit", t, sp)
	for _, f := range expr.Fields {
		idx := -1
		for i, member := range info.Fields {
			if member.Name == f.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		offset, err := fl.lw.Lay.FieldOffset(structT, idx)
		if err != nil {
			continue
		}
		addr := Operand(LocalAddr(slot))
		if offset != 0 {
			addr = fl.ptrAdd(LocalAddr(slot), ConstInt(int64(offset), C64), sp)
		}
		fl.store(addr, fl.lower(f.Value), sp)
	}
	return val{op: LocalAddr(slot), addr: true, ty: t}
}

func (fl *funcLowerer) lowerArrayLit(expr *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	ty := fl.lw.Types
	tt, ok := ty.Lookup(ty.Underlying(t))
	if !ok || tt.Kind != types.KindArray {
		return val{ty: t}
	}
	stride, err := fl.lw.Lay.StrideOf(tt.Elem)
	if err != nil {
		stride = 1
	}
	slot := fl.newSlot("arr", t, sp)
	for i, el := range expr.List {
		addr := Operand(LocalAddr(slot))
		if i > 0 {
			addr = fl.ptrAdd(LocalAddr(slot), ConstInt(int64(i*stride), C64), sp)
		}
		fl.store(addr, fl.lower(el), sp)
	}
	return val{op: LocalAddr(slot), addr: true, ty: t}
}

func (fl *funcLowerer) lowerIf(expr *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	class, aggregate := fl.lw.ClassOf(t)
	hasValue := t != types.NoTypeID && t != fl.lw.Types.Builtins().Void && (class != CNone || aggregate)

	var slot LocalID
	if hasValue {
		slot = fl.newSlot("if", t, sp)
	}
	cond := fl.scalarOf(fl.lower(expr.X), sp)
	thenBB := fl.f.NewBlock()
	joinBB := fl.f.NewBlock()
	elseBB := joinBB
	if expr.Z != hir.NoExprID {
		elseBB = fl.f.NewBlock()
	}
	fl.setTerm(Terminator{Kind: TermCondBr, Span: sp, Cond: cond, Target: thenBB, Else: elseBB})

	fl.seal(thenBB)
	thenV := fl.lower(expr.Y)
	if hasValue {
		fl.store(LocalAddr(slot), thenV, sp)
	}
	fl.br(joinBB, sp)

	if expr.Z != hir.NoExprID {
		fl.seal(elseBB)
		elseV := fl.lower(expr.Z)
		if hasValue {
			fl.store(LocalAddr(slot), elseV, sp)
		}
		fl.br(joinBB, sp)
	}

	fl.seal(joinBB)
	if !hasValue {
		return val{ty: t}
	}
	return val{op: LocalAddr(slot), addr: true, ty: t}
}

// lowerComptime replaces a comptime block with a load from a uniquely
// named read-only symbol holding the evaluated bytes.
func (fl *funcLowerer) lowerComptime(e hir.ExprID, expr *hir.Expr, t types.TypeID, sp source.Span) val {
	hmod := fl.lw.Info.World.Module(fl.hmod.ID)
	v, ok := fl.lw.Info.ConstValue(hmod, e, t)
	if !ok {
		class, _ := fl.lw.ClassOf(t)
		return val{op: ConstInt(0, class), ty: t}
	}
	g := fl.lw.EnsureDataGlobal(fmt.Sprintf("%s.comptime.%d", fl.f.Name, e), t, v.Bytes, sp)
	return val{op: GlobalAddr(g), addr: true, ty: t}
}

func (fl *funcLowerer) lowerCall(e hir.ExprID, expr *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	callee := fl.hmod.Expr(expr.X)
	if callee.Kind == hir.ExprBuiltin && !callee.Builtin.IsTypeName() {
		return fl.lowerBuiltinCall(e, expr, callee, t)
	}

	fnType := fl.typeOf(expr.X)
	fnInfo, ok := fl.lw.Types.FnInfo(fnType)
	if !ok {
		class, _ := fl.lw.ClassOf(t)
		return val{op: ConstInt(0, class), ty: t}
	}

	calleeOp := fl.scalarOf(fl.lower(expr.X), sp)

	var args []Operand
	retClass, retAggregate := fl.lw.ClassOf(fnInfo.Result)
	var sretSlot LocalID
	if retAggregate {
		sretSlot = fl.newSlot("ret", fnInfo.Result, sp)
		args = append(args, LocalAddr(sretSlot))
	}
	for i, a := range expr.List {
		if i >= len(fnInfo.Params) {
			break
		}
		args = append(args, fl.lowerArg(a, fnInfo.Params[i], sp))
	}

	instr := Instr{Kind: InstrCall, Span: sp, Callee: calleeOp, Args: args, RetType: fnInfo.Result}
	if retAggregate || retClass == CNone {
		fl.emit(instr)
		if retAggregate {
			return val{op: LocalAddr(sretSlot), addr: true, ty: t}
		}
		return val{ty: t}
	}
	dst := fl.f.NewTemp()
	instr.Dst = dst
	instr.HasDst = true
	instr.Class = retClass
	fl.emit(instr)
	return val{op: TempOp(dst, retClass), ty: t}
}

// lowerArg prepares one call argument per the calling convention:
// aggregates pass as pointers to fresh copies, pointer parameters
// accept an inferred address-of, scalars pass by value.
func (fl *funcLowerer) lowerArg(a hir.ExprID, param types.TypeID, sp source.Span) Operand {
	ty := fl.lw.Types
	argT := fl.typeOf(a)
	pt, _ := ty.Lookup(param)

	// Inferred address-of: T passed where ^T is expected.
	if pt.Kind == types.KindPointer && argT == pt.Elem {
		v := fl.lower(a)
		return fl.addrOf(v, sp)
	}

	_, aggregate := fl.lw.ClassOf(param)
	v := fl.lower(a)
	if aggregate {
		// Copy so the callee sees caller-frame-independent bytes.
		size, _ := fl.lw.sizeAlign(param, sp)
		slot := fl.newSlot("arg", param, sp)
		fl.emit(Instr{Kind: InstrMemCopy, Span: sp, Addr: LocalAddr(slot), Val: fl.addrOf(v, sp), Size: size})
		return LocalAddr(slot)
	}
	return fl.scalarOf(v, sp)
}

func (fl *funcLowerer) lowerBuiltinCall(e hir.ExprID, expr *hir.Expr, callee *hir.Expr, t types.TypeID) val {
	sp := expr.Span
	switch callee.Builtin {
	case hir.BuiltinPrintln, hir.BuiltinPrint:
		if len(expr.List) != 1 {
			return val{ty: t}
		}
		arg := expr.List[0]
		argT := fl.typeOf(arg)
		v := fl.lower(arg)
		addr := fl.addrOf(v, sp)
		fl.emit(Instr{Kind: InstrIntrinsic, Span: sp, Intr: IntrPrintAny,
			Args: []Operand{ConstInt(int64(argT), C32), addr}})
		if callee.Builtin == hir.BuiltinPrintln {
			fl.emit(Instr{Kind: InstrIntrinsic, Span: sp, Intr: IntrPrintNL})
		}
		return val{ty: t}
	case hir.BuiltinSizeOf, hir.BuiltinAlignOf, hir.BuiltinStrideOf:
		if v, ok := fl.lw.Info.ConstValueOfExpr(fl.hmod.ID, e); ok {
			return val{op: ConstInt(int64(readLE(v.Bytes)), C64), ty: t}
		}
		if len(expr.List) != 1 {
			return val{op: ConstInt(0, C64), ty: t}
		}
		tyOp := fl.scalarOf(fl.lower(expr.List[0]), sp)
		dst := fl.f.NewTemp()
		fl.emit(Instr{Kind: InstrIntrinsic, Span: sp, Intr: IntrSizeOfVal, Dst: dst, HasDst: true,
			Class: C64, Args: []Operand{tyOp}})
		return val{op: TempOp(dst, C64), ty: t}
	case hir.BuiltinTypeInfo:
		if len(expr.List) != 1 {
			return val{op: ConstInt(0, CPtr), ty: t}
		}
		tyOp := fl.scalarOf(fl.lower(expr.List[0]), sp)
		dst := fl.f.NewTemp()
		fl.emit(Instr{Kind: InstrIntrinsic, Span: sp, Intr: IntrTypeInfo, Dst: dst, HasDst: true,
			Class: CPtr, Args: []Operand{tyOp}})
		return val{op: TempOp(dst, CPtr), ty: t}
	}
	return val{ty: t}
}

func readLE(b []byte) uint64 {
	var out uint64
	for i := len(b) - 1; i >= 0; i-- {
		out = out<<8 | uint64(b[i])
	}
	if len(b) > 8 {
		out = 0
		for i := 7; i >= 0; i-- {
			out = out<<8 | uint64(b[i])
		}
	}
	return out
}
