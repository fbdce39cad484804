package sema

import (
	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/types"
)

func (ck *checker) checkCall(e hir.ExprID, expr *hir.Expr) types.TypeID {
	callee := ck.mod.Expr(expr.X)
	if callee.Kind == hir.ExprBuiltin && !callee.Builtin.IsTypeName() {
		return ck.checkBuiltinCall(e, expr, callee)
	}

	fnType := ck.check(expr.X, types.NoTypeID, coerceOpts{})
	if fnType == types.NoTypeID {
		for _, a := range expr.List {
			ck.check(a, types.NoTypeID, coerceOpts{})
		}
		return types.NoTypeID
	}
	info, ok := ck.info.Types.FnInfo(fnType)
	if !ok {
		ck.errorf(diag.TypeNotCallable, expr.Span, "%s is not callable", ck.fmtType(fnType))
		for _, a := range expr.List {
			ck.check(a, types.NoTypeID, coerceOpts{})
		}
		return types.NoTypeID
	}
	if len(expr.List) != len(info.Params) {
		ck.errorf(diag.TypeBadArgCount, expr.Span, "call needs %d arguments, found %d", len(info.Params), len(expr.List))
	}
	for i, a := range expr.List {
		if i >= len(info.Params) {
			ck.check(a, types.NoTypeID, coerceOpts{})
			continue
		}
		ck.checkArg(a, info.Params[i])
	}
	return info.Result
}

// checkArg checks one argument, inferring exactly one level of
// address-of when a value is passed where a pointer is expected.
func (ck *checker) checkArg(arg hir.ExprID, param types.TypeID) {
	pt, ok := ck.info.Types.Lookup(param)
	if ok && pt.Kind == types.KindPointer {
		got := ck.check(arg, types.NoTypeID, coerceOpts{})
		if got == param {
			return
		}
		gt, gok := ck.info.Types.Lookup(got)
		// ^mut T where ^T is wanted.
		if gok && gt.Kind == types.KindPointer && gt.Elem == pt.Elem && gt.Mutable && !pt.Mutable {
			return
		}
		if got == pt.Elem {
			if !ck.isLValue(arg) {
				ck.errorf(diag.TypeMismatch, ck.mod.Expr(arg).Span, "cannot take the address of this argument")
				return
			}
			if pt.Mutable && !ck.isMutableLValue(arg) {
				ck.errorf(diag.TypeImmutableWrite, ck.mod.Expr(arg).Span, "argument must be mutable to pass as %s", ck.fmtType(param))
			}
			return
		}
		if got != types.NoTypeID {
			ck.mismatch(ck.mod.Expr(arg).Span, param, got)
		}
		return
	}
	ck.check(arg, param, coerceOpts{})
}

func (ck *checker) checkBuiltinCall(e hir.ExprID, expr *hir.Expr, callee *hir.Expr) types.TypeID {
	b := ck.b()
	wantArgs := func(n int) bool {
		if len(expr.List) != n {
			name, _ := ck.strs().Lookup(callee.Name)
			ck.errorf(diag.TypeBadArgCount, expr.Span, "%s takes %d argument(s), found %d", name, n, len(expr.List))
			for _, a := range expr.List {
				ck.check(a, types.NoTypeID, coerceOpts{})
			}
			return false
		}
		return true
	}

	switch callee.Builtin {
	case hir.BuiltinPrintln, hir.BuiltinPrint:
		if !wantArgs(1) {
			return b.Void
		}
		at := ck.check(expr.List[0], types.NoTypeID, coerceOpts{})
		if at == b.Void {
			ck.errorf(diag.TypeMismatch, expr.Span, "cannot print a void value")
		}
		return b.Void
	case hir.BuiltinSizeOf, hir.BuiltinAlignOf, hir.BuiltinStrideOf:
		if !wantArgs(1) {
			return b.USize
		}
		ck.check(expr.List[0], b.MetaType, coerceOpts{})
		// Constant-fold when the operand is a known type.
		if v, ok := ck.info.constValue(ck.mod, expr.List[0], b.MetaType); ok {
			id := typeFromValue(v)
			var n int
			var err error
			switch callee.Builtin {
			case hir.BuiltinSizeOf:
				n, err = ck.info.Layout.SizeOf(id)
			case hir.BuiltinAlignOf:
				n, err = ck.info.Layout.AlignOf(id)
			default:
				n, err = ck.info.Layout.StrideOf(id)
			}
			if err != nil {
				ck.errorf(diag.TypeRecursiveUnsized, expr.Span, "%v", err)
			} else {
				ck.cacheValue(e, usizeValue(uint64(n), b.USize, ck.info.Layout.Target.PtrSize))
			}
		}
		return b.USize
	case hir.BuiltinTypeInfo:
		if !wantArgs(1) {
			return b.RawPtr
		}
		ck.check(expr.List[0], b.MetaType, coerceOpts{})
		return b.RawPtr
	default:
		name, _ := ck.strs().Lookup(callee.Name)
		ck.errorf(diag.TypeNotCallable, expr.Span, "%q is not callable", name)
		for _, a := range expr.List {
			ck.check(a, types.NoTypeID, coerceOpts{})
		}
		return types.NoTypeID
	}
}

func (ck *checker) checkIndex(expr *hir.Expr) types.TypeID {
	xt := ck.check(expr.X, types.NoTypeID, coerceOpts{})
	it := ck.check(expr.Y, types.NoTypeID, coerceOpts{})
	if it != types.NoTypeID && !ck.info.Types.IsInteger(it) {
		ck.errorf(diag.TypeMismatch, ck.mod.Expr(expr.Y).Span,
			"index must be an integer, found %s", ck.fmtType(it))
	}
	base := ck.autoDeref(xt)
	t, ok := ck.info.Types.Lookup(ck.info.Types.Underlying(base))
	if !ok {
		return types.NoTypeID
	}
	switch t.Kind {
	case types.KindArray, types.KindSlice:
		return t.Elem
	default:
		ck.errorf(diag.TypeNotIndexable, expr.Span, "%s cannot be indexed", ck.fmtType(xt))
		return types.NoTypeID
	}
}

// autoDeref peels any number of leading pointers, implementing the
// implicit dereference chain for member access and indexing.
func (ck *checker) autoDeref(t types.TypeID) types.TypeID {
	for {
		tt, ok := ck.info.Types.Lookup(ck.info.Types.Underlying(t))
		if !ok || tt.Kind != types.KindPointer {
			return t
		}
		t = tt.Elem
	}
}

func (ck *checker) checkMember(e hir.ExprID, expr *hir.Expr) types.TypeID {
	b := ck.b()
	ty := ck.info.Types
	xt := ck.check(expr.X, types.NoTypeID, coerceOpts{})
	if xt == types.NoTypeID {
		return types.NoTypeID
	}
	name, _ := ck.strs().Lookup(expr.Name)

	t, _ := ty.Lookup(xt)
	// Module member: file.binding.
	if t.Kind == types.KindFile {
		modID := hir.ModuleID(t.Payload)
		target := ck.info.World.Module(modID)
		if target == nil {
			return types.NoTypeID
		}
		_, bid, ok := target.Binding(expr.Name)
		if !ok {
			ck.errorf(diag.NameUnresolved, expr.Span, "module %q has no binding %q", target.Name, name)
			return types.NoTypeID
		}
		key := GlobalKey{Module: modID, Binding: bid}
		ck.info.setMemberGlobal(ck.mod.ID, e, key)
		g := ck.info.ensureGlobal(key)
		if v, ok := ck.info.GlobalValue(key); ok {
			ck.cacheValue(e, v)
		}
		return g.ty
	}

	// Variant reference: E.B where E is a constant type value.
	if xt == b.MetaType {
		v, ok := ck.info.constValue(ck.mod, expr.X, b.MetaType)
		if !ok {
			ck.errorf(diag.ConstRequired, expr.Span, "member access on a non-constant type value")
			return types.NoTypeID
		}
		owner := typeFromValue(v)
		info, ok := ty.EnumInfo(ty.Underlying(owner))
		if !ok {
			ck.errorf(diag.TypeNoSuchMember, expr.Span, "%s has no member %q", ck.fmtType(owner), name)
			return types.NoTypeID
		}
		variant, _, ok := info.VariantByName(expr.Name)
		if !ok {
			ck.errorf(diag.TypeNoSuchMember, expr.Span, "enum %s has no variant %q", ck.fmtType(owner), name)
			return types.NoTypeID
		}
		ck.cacheValue(e, ck.typeVal(variant.Type))
		return b.MetaType
	}

	// Struct field, through any number of pointers.
	base := ck.autoDeref(xt)

	// `any` exposes its two members directly.
	if ut, _ := ty.Lookup(ty.Underlying(base)); ut.Kind == types.KindAny {
		switch name {
		case "ty":
			return b.MetaType
		case "data":
			return b.RawPtr
		}
		ck.errorf(diag.TypeNoSuchMember, expr.Span, "any has no member %q", name)
		return types.NoTypeID
	}

	info, ok := ty.StructInfo(ty.Underlying(base))
	if !ok {
		ck.errorf(diag.TypeNoSuchMember, expr.Span, "%s has no members", ck.fmtType(xt))
		return types.NoTypeID
	}
	for _, f := range info.Fields {
		if f.Name == expr.Name {
			return f.Type
		}
	}
	ck.errorf(diag.TypeNoSuchMember, expr.Span, "%s has no field %q", ck.fmtType(base), name)
	return types.NoTypeID
}

func (ck *checker) checkStructLit(expr *hir.Expr, opts coerceOpts) types.TypeID {
	target := ck.resolveType(expr.X)
	if target == types.NoTypeID {
		for _, f := range expr.Fields {
			ck.check(f.Value, types.NoTypeID, coerceOpts{})
		}
		return types.NoTypeID
	}
	info, ok := ck.info.Types.StructInfo(ck.info.Types.Underlying(target))
	if !ok {
		ck.errorf(diag.TypeMismatch, expr.Span, "%s is not a struct type", ck.fmtType(target))
		return types.NoTypeID
	}
	seen := make(map[int]bool, len(expr.Fields))
	for _, f := range expr.Fields {
		idx := -1
		for i, member := range info.Fields {
			if member.Name == f.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			name, _ := ck.strs().Lookup(f.Name)
			ck.errorf(diag.TypeNoSuchMember, f.NameSpan, "%s has no field %q", ck.fmtType(target), name)
			ck.check(f.Value, types.NoTypeID, coerceOpts{})
			continue
		}
		seen[idx] = true
		ck.check(f.Value, info.Fields[idx].Type, coerceOpts{})
	}
	for i, member := range info.Fields {
		if !seen[i] {
			name, _ := ck.strs().Lookup(member.Name)
			ck.errorf(diag.TypeNoSuchMember, expr.Span, "missing initializer for field %q", name)
		}
	}
	return target
}

func (ck *checker) checkArrayLit(expr *hir.Expr) types.TypeID {
	elem := ck.resolveType(expr.X)
	if elem == types.NoTypeID {
		for _, el := range expr.List {
			ck.check(el, types.NoTypeID, coerceOpts{})
		}
		return types.NoTypeID
	}
	for _, el := range expr.List {
		ck.check(el, elem, coerceOpts{})
	}
	return ck.info.Types.Intern(types.MakeArray(elem, uint64(len(expr.List))))
}

func (ck *checker) checkBlock(e hir.ExprID, expr *hir.Expr, expected types.TypeID, opts coerceOpts) types.TypeID {
	for _, sid := range expr.Stmts {
		ck.checkStmt(sid)
	}
	for _, d := range expr.Defers {
		ck.check(d, types.NoTypeID, coerceOpts{})
	}
	tail := expr.Tail()
	if tail == hir.NoExprID {
		return ck.b().Void
	}
	return ck.check(tail, expected, opts)
}

func (ck *checker) checkIf(expr *hir.Expr, expected types.TypeID, opts coerceOpts) types.TypeID {
	b := ck.b()
	ck.check(expr.X, b.Bool, coerceOpts{})
	thenT := ck.check(expr.Y, expected, opts)
	if expr.Z == hir.NoExprID {
		return b.Void
	}
	elseT := ck.check(expr.Z, expected, opts)
	if expected != types.NoTypeID {
		return expected
	}
	if thenT == elseT {
		return thenT
	}
	return b.Void
}
