package sema

import (
	"capy/internal/ast"
	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/source"
	"capy/internal/types"
)

type coerceOpts struct {
	// atDecl permits the `T → distinct T` conversion, which is legal
	// at the declaration site only.
	atDecl bool
}

type checker struct {
	info      *Info
	mod       *hir.Module
	fnResult  types.TypeID
	loopDepth int
}

func (ck *checker) b() types.Builtins { return ck.info.Types.Builtins() }

func (ck *checker) strs() *source.Interner { return ck.info.World.Strings }

func (ck *checker) fmtType(t types.TypeID) string {
	return ck.info.Types.Format(t, ck.strs())
}

func (ck *checker) errorf(code diag.Code, sp source.Span, format string, args ...any) {
	ck.info.errorf(code, sp, format, args...)
}

func (ck *checker) mismatch(sp source.Span, expected, found types.TypeID) {
	ck.errorf(diag.TypeMismatch, sp, "expected %s, found %s", ck.fmtType(expected), ck.fmtType(found))
}

func (ck *checker) setLocalType(l hir.LocalID, t types.TypeID) {
	if slots, ok := ck.info.localTypes[ck.mod.ID]; ok && int(l) < len(slots) {
		slots[l] = t
	}
}

func (ck *checker) cacheValue(e hir.ExprID, v Value) {
	if vals, ok := ck.info.exprValues[ck.mod.ID]; ok {
		vals[e] = v
	}
}

// check types an expression against an optional expected type and
// records the result in the (node → type) map. NoTypeID propagates
// silently: the error was reported where it arose.
func (ck *checker) check(e hir.ExprID, expected types.TypeID, opts coerceOpts) types.TypeID {
	if e == hir.NoExprID {
		return types.NoTypeID
	}
	got := ck.synth(e, expected, opts)
	coerced := ck.coerce(ck.mod.Expr(e).Span, got, expected, opts)
	if coerced != got && got != types.NoTypeID {
		ck.info.setRawType(ck.mod.ID, e, got)
	}
	return ck.info.setType(ck.mod.ID, e, coerced)
}

// coerce applies the permitted implicit conversions; on mismatch it
// reports and falls back to the expected type so checking continues.
func (ck *checker) coerce(sp source.Span, got, expected types.TypeID, opts coerceOpts) types.TypeID {
	if expected == types.NoTypeID || got == types.NoTypeID || got == expected {
		return got
	}
	ty := ck.info.Types
	gotT, ok1 := ty.Lookup(got)
	expT, ok2 := ty.Lookup(expected)
	if !ok1 || !ok2 {
		return got
	}

	// Fixed array to slice of the same element.
	if gotT.Kind == types.KindArray && expT.Kind == types.KindSlice && gotT.Elem == expT.Elem {
		return expected
	}
	// Variant to its owning enum; the discriminant is written when the
	// value lands in an enum slot.
	if gotT.Kind == types.KindVariant {
		if ref, ok := ty.VariantRef(got); ok && ref.Enum == expected {
			return expected
		}
	}
	// Mutable pointer where an immutable one is expected; same for the
	// raw flavor.
	if gotT.Kind == types.KindPointer && expT.Kind == types.KindPointer &&
		gotT.Elem == expT.Elem && gotT.Mutable && !expT.Mutable {
		return expected
	}
	if gotT.Kind == types.KindRawPtr && expT.Kind == types.KindRawPtr &&
		gotT.Mutable && !expT.Mutable {
		return expected
	}
	// Anything sized converts into `any`; the lowerer pairs the value
	// with its type id.
	if expT.Kind == types.KindAny && gotT.Kind != types.KindAny && gotT.Kind != types.KindVoid {
		return expected
	}
	// T to distinct T, at the declaration site only.
	if opts.atDecl && expT.Kind == types.KindDistinct && ty.Underlying(expected) == got {
		return expected
	}

	ck.mismatch(sp, expected, got)
	return expected
}

func (ck *checker) synth(e hir.ExprID, expected types.TypeID, opts coerceOpts) types.TypeID {
	expr := ck.mod.Expr(e)
	b := ck.b()
	ty := ck.info.Types

	switch expr.Kind {
	case hir.ExprIntLit:
		return ck.intLitType(expr, expected, opts)
	case hir.ExprFloatLit:
		if want := ck.numericExpected(expected, opts); want != types.NoTypeID && ty.IsFloat(want) {
			return want
		}
		return b.F64
	case hir.ExprStringLit:
		return b.String
	case hir.ExprCharLit:
		return b.Char
	case hir.ExprBoolLit:
		return b.Bool
	case hir.ExprLocal:
		return ck.info.LocalType(ck.mod.ID, expr.Local)
	case hir.ExprGlobal:
		g := ck.info.ensureGlobal(GlobalKey{Module: expr.Global.Module, Binding: expr.Global.Binding})
		return g.ty
	case hir.ExprBuiltin:
		return ck.builtinRef(e, expr)
	case hir.ExprUnresolved:
		return types.NoTypeID
	case hir.ExprBinary:
		return ck.checkBinary(expr, expected, opts)
	case hir.ExprUnary:
		return ck.checkUnary(expr, expected, opts)
	case hir.ExprAddrOf:
		return ck.checkAddrOf(e, expr)
	case hir.ExprDeref:
		xt := ck.check(expr.X, types.NoTypeID, coerceOpts{})
		t, ok := ty.Lookup(ty.Underlying(xt))
		if !ok {
			return types.NoTypeID
		}
		if t.Kind != types.KindPointer {
			ck.errorf(diag.TypeMismatch, expr.Span, "cannot dereference %s", ck.fmtType(xt))
			return types.NoTypeID
		}
		return t.Elem
	case hir.ExprCall:
		return ck.checkCall(e, expr)
	case hir.ExprIndex:
		return ck.checkIndex(expr)
	case hir.ExprMember:
		return ck.checkMember(e, expr)
	case hir.ExprCast:
		return ck.checkCast(expr)
	case hir.ExprStructLit:
		return ck.checkStructLit(expr, opts)
	case hir.ExprArrayLit:
		return ck.checkArrayLit(expr)
	case hir.ExprBlock:
		return ck.checkBlock(e, expr, expected, opts)
	case hir.ExprIf:
		return ck.checkIf(expr, expected, opts)
	case hir.ExprComptime:
		t := ck.check(expr.X, expected, opts)
		ck.checkComptimeCaptures(expr.X)
		return t
	case hir.ExprFunc:
		return ck.funcSignature(expr.Func)
	case hir.ExprFuncType, hir.ExprArrayType, hir.ExprDistinctType,
		hir.ExprStructType, hir.ExprEnumType:
		id := ck.resolveTypeSyntactic(e)
		if id == types.NoTypeID {
			return types.NoTypeID
		}
		return b.MetaType
	case hir.ExprImportRef:
		if expr.Module == hir.NoModuleID {
			return types.NoTypeID
		}
		return ty.InternFile(uint32(expr.Module))
	}
	ck.errorf(diag.Internal, expr.Span, "unhandled expression kind %d in checker", expr.Kind)
	return types.NoTypeID
}

// numericExpected peels a distinct expectation at declaration sites so
// literals can flow into `distinct i32` and friends.
func (ck *checker) numericExpected(expected types.TypeID, opts coerceOpts) types.TypeID {
	if expected == types.NoTypeID {
		return types.NoTypeID
	}
	if opts.atDecl {
		return ck.info.Types.Underlying(expected)
	}
	return expected
}

func (ck *checker) intLitType(expr *hir.Expr, expected types.TypeID, opts coerceOpts) types.TypeID {
	b := ck.b()
	ty := ck.info.Types
	want := ck.numericExpected(expected, opts)
	if want != types.NoTypeID {
		t, ok := ty.Lookup(want)
		if ok {
			switch t.Kind {
			case types.KindInt:
				if !intFits(expr.Int, t, ck.info.Layout.Target.PtrSize) {
					ck.errorf(diag.TypeMismatch, expr.Span, "literal %s does not fit in %s", expr.Str, ck.fmtType(want))
				}
				return want
			case types.KindFloat:
				return want
			}
		}
	}
	if !intFits(expr.Int, types.MakeInt(types.Width32, true), ck.info.Layout.Target.PtrSize) {
		// Wider default when i32 cannot hold the literal.
		return b.I64
	}
	return b.I32
}

// intFits checks literal range admission for a target integer type.
func intFits(v uint64, t types.Type, ptrSize int) bool {
	bits := int(t.Width)
	if t.Width == types.WidthSize {
		bits = ptrSize * 8
	}
	if bits >= 128 {
		return true
	}
	if t.Signed {
		max := uint64(1)<<(bits-1) - 1
		return v <= max
	}
	if bits == 64 {
		return true
	}
	return v < uint64(1)<<bits
}

func (ck *checker) builtinRef(e hir.ExprID, expr *hir.Expr) types.TypeID {
	b := ck.b()
	if expr.Builtin.IsTypeName() {
		id := ck.builtinTypeID(expr.Builtin)
		ck.cacheValue(e, ck.typeVal(id))
		return b.MetaType
	}
	if expr.Builtin == hir.BuiltinArgs {
		return ck.info.Types.Intern(types.MakeSlice(b.String))
	}
	// println and friends only make sense in call position; the call
	// checker intercepts them before control reaches here.
	name, _ := ck.strs().Lookup(expr.Name)
	ck.errorf(diag.TypeNotCallable, expr.Span, "built-in %q must be called", name)
	return types.NoTypeID
}

func (ck *checker) builtinTypeID(bt hir.Builtin) types.TypeID {
	b := ck.b()
	switch bt {
	case hir.BuiltinI8:
		return b.I8
	case hir.BuiltinI16:
		return b.I16
	case hir.BuiltinI32:
		return b.I32
	case hir.BuiltinI64:
		return b.I64
	case hir.BuiltinI128:
		return b.I128
	case hir.BuiltinISize:
		return b.ISize
	case hir.BuiltinU8:
		return b.U8
	case hir.BuiltinU16:
		return b.U16
	case hir.BuiltinU32:
		return b.U32
	case hir.BuiltinU64:
		return b.U64
	case hir.BuiltinU128:
		return b.U128
	case hir.BuiltinUSize:
		return b.USize
	case hir.BuiltinF32:
		return b.F32
	case hir.BuiltinF64:
		return b.F64
	case hir.BuiltinBool:
		return b.Bool
	case hir.BuiltinChar:
		return b.Char
	case hir.BuiltinStr:
		return b.String
	case hir.BuiltinVoid:
		return b.Void
	case hir.BuiltinAny:
		return b.Any
	case hir.BuiltinType:
		return b.MetaType
	case hir.BuiltinRawPtr:
		return b.RawPtr
	case hir.BuiltinMutRawPtr:
		return b.RawPtrMut
	case hir.BuiltinRawSlice:
		return b.RawSlice
	default:
		return types.NoTypeID
	}
}

func (ck *checker) checkBinary(expr *hir.Expr, expected types.TypeID, opts coerceOpts) types.TypeID {
	b := ck.b()
	ty := ck.info.Types
	switch expr.BinOp {
	case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpRem:
		hint := types.NoTypeID
		if want := ck.numericExpected(expected, opts); want != types.NoTypeID &&
			(ty.IsInteger(want) || ty.IsFloat(want)) {
			hint = want
		}
		lt := ck.check(expr.X, hint, coerceOpts{})
		if lt == types.NoTypeID {
			ck.check(expr.Y, types.NoTypeID, coerceOpts{})
			return types.NoTypeID
		}
		if !ty.IsInteger(lt) && !ty.IsFloat(lt) {
			ck.errorf(diag.TypeMismatch, expr.Span, "operator %s needs a numeric operand, found %s", expr.BinOp, ck.fmtType(lt))
		}
		ck.check(expr.Y, lt, coerceOpts{})
		return lt
	case ast.OpBitAnd, ast.OpBitOr, ast.OpShl, ast.OpShr:
		hint := types.NoTypeID
		if want := ck.numericExpected(expected, opts); want != types.NoTypeID && ty.IsInteger(want) {
			hint = want
		}
		lt := ck.check(expr.X, hint, coerceOpts{})
		if lt != types.NoTypeID && !ty.IsInteger(lt) {
			ck.errorf(diag.TypeMismatch, expr.Span, "operator %s needs an integer operand, found %s", expr.BinOp, ck.fmtType(lt))
		}
		ck.check(expr.Y, lt, coerceOpts{})
		return lt
	case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
		lt := ck.check(expr.X, types.NoTypeID, coerceOpts{})
		ck.check(expr.Y, lt, coerceOpts{})
		return b.Bool
	case ast.OpAnd, ast.OpOr:
		ck.check(expr.X, b.Bool, coerceOpts{})
		ck.check(expr.Y, b.Bool, coerceOpts{})
		return b.Bool
	}
	return types.NoTypeID
}

func (ck *checker) checkUnary(expr *hir.Expr, expected types.TypeID, opts coerceOpts) types.TypeID {
	b := ck.b()
	ty := ck.info.Types
	switch expr.UnOp {
	case ast.OpNeg:
		hint := types.NoTypeID
		if want := ck.numericExpected(expected, opts); want != types.NoTypeID &&
			(ty.IsInteger(want) || ty.IsFloat(want)) {
			hint = want
		}
		t := ck.check(expr.X, hint, coerceOpts{})
		if t != types.NoTypeID && !ty.IsInteger(t) && !ty.IsFloat(t) {
			ck.errorf(diag.TypeMismatch, expr.Span, "cannot negate %s", ck.fmtType(t))
		}
		return t
	case ast.OpNot:
		ck.check(expr.X, b.Bool, coerceOpts{})
		return b.Bool
	case ast.OpBitNot:
		t := ck.check(expr.X, types.NoTypeID, coerceOpts{})
		if t != types.NoTypeID && !ty.IsInteger(t) {
			ck.errorf(diag.TypeMismatch, expr.Span, "cannot bitwise-negate %s", ck.fmtType(t))
		}
		return t
	}
	return types.NoTypeID
}

// checkAddrOf resolves the `^x` duality: over a type value it denotes
// a pointer type, over an lvalue it takes the address.
func (ck *checker) checkAddrOf(e hir.ExprID, expr *hir.Expr) types.TypeID {
	b := ck.b()
	xt := ck.check(expr.X, types.NoTypeID, coerceOpts{})
	if xt == b.MetaType {
		if v, ok := ck.info.constValue(ck.mod, expr.X, b.MetaType); ok {
			ptr := ck.info.Types.Intern(types.MakePointer(typeFromValue(v), expr.Mut))
			ck.cacheValue(e, ck.typeVal(ptr))
			return b.MetaType
		}
		ck.errorf(diag.ConstRequired, expr.Span, "pointer type needs a constant pointee type")
		return types.NoTypeID
	}
	if xt == types.NoTypeID {
		return types.NoTypeID
	}
	if !ck.isLValue(expr.X) {
		ck.errorf(diag.TypeMismatch, expr.Span, "cannot take the address of this expression")
		return types.NoTypeID
	}
	if expr.Mut && !ck.isMutableLValue(expr.X) {
		ck.errorf(diag.TypeImmutableWrite, expr.Span, "cannot take a mutable pointer to an immutable binding")
	}
	return ck.info.Types.Intern(types.MakePointer(xt, expr.Mut))
}

func (ck *checker) isLValue(e hir.ExprID) bool {
	expr := ck.mod.Expr(e)
	switch expr.Kind {
	case hir.ExprLocal, hir.ExprGlobal, hir.ExprDeref:
		return true
	case hir.ExprIndex, hir.ExprMember:
		return ck.isLValue(expr.X) || ck.isPointerBacked(expr.X)
	default:
		return false
	}
}

func (ck *checker) isPointerBacked(e hir.ExprID) bool {
	t := ck.info.TypeOf(ck.mod.ID, e)
	u, ok := ck.info.Types.Lookup(ck.info.Types.Underlying(t))
	return ok && (u.Kind == types.KindPointer || u.Kind == types.KindSlice)
}

func (ck *checker) isMutableLValue(e hir.ExprID) bool {
	expr := ck.mod.Expr(e)
	switch expr.Kind {
	case hir.ExprLocal:
		return ck.mod.Local(expr.Local).Mutable
	case hir.ExprGlobal:
		m := ck.info.World.Module(expr.Global.Module)
		return m.Bindings[expr.Global.Binding].Mutable
	case hir.ExprDeref:
		t, ok := ck.info.Types.Lookup(ck.info.TypeOf(ck.mod.ID, expr.X))
		return ok && t.Kind == types.KindPointer && t.Mutable
	case hir.ExprIndex, hir.ExprMember:
		// Through a pointer the pointer's mutability governs; by value
		// the base binding's does.
		xt, ok := ck.info.Types.Lookup(ck.info.TypeOf(ck.mod.ID, expr.X))
		if ok && xt.Kind == types.KindPointer {
			return xt.Mutable
		}
		if ok && xt.Kind == types.KindSlice {
			return true
		}
		return ck.isMutableLValue(expr.X)
	default:
		return false
	}
}
