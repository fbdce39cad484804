package sema

import (
	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/types"
)

// checkCast types `T.(v)`. The target must be a constant type; the
// conversion must be in the explicit-cast table.
func (ck *checker) checkCast(expr *hir.Expr) types.TypeID {
	target := ck.resolveType(expr.X)
	if target == types.NoTypeID {
		ck.check(expr.Y, types.NoTypeID, coerceOpts{})
		return types.NoTypeID
	}
	ty := ck.info.Types

	// Variant construction: E.B.(payload) checks the operand against
	// the arm's payload type so literals adapt.
	if info, ok := ty.VariantInfo(target); ok {
		got := ck.check(expr.Y, info.Payload, coerceOpts{})
		if got != types.NoTypeID && got != info.Payload {
			// The operand may also be the owning enum (narrowing cast).
			if ref, _ := ty.VariantRef(target); got != ref.Enum {
				ck.errorf(diag.TypeBadCast, expr.Span, "cannot cast %s to %s", ck.fmtType(got), ck.fmtType(target))
			}
		}
		return target
	}

	var hint types.TypeID
	if ty.IsScalar(target) {
		// No hint: a scalar cast converts whatever the operand is.
		hint = types.NoTypeID
	}
	got := ck.check(expr.Y, hint, coerceOpts{})
	if got == types.NoTypeID {
		return target
	}
	if !ck.castAllowed(got, target) {
		ck.errorf(diag.TypeBadCast, expr.Span, "cannot cast %s to %s", ck.fmtType(got), ck.fmtType(target))
	}
	return target
}

// castAllowed implements the explicit cast table:
// scalar↔scalar, array↔slice, pointer↔pointer (unchecked),
// distinct↔underlying, variant↔owning enum.
func (ck *checker) castAllowed(from, to types.TypeID) bool {
	if from == to {
		return true
	}
	ty := ck.info.Types
	ft, ok1 := ty.Lookup(from)
	tt, ok2 := ty.Lookup(to)
	if !ok1 || !ok2 {
		return false
	}

	// distinct T ↔ T (either side may be the distinct one).
	if ft.Kind == types.KindDistinct && ty.Underlying(from) == to {
		return true
	}
	if tt.Kind == types.KindDistinct && ty.Underlying(to) == from {
		return true
	}
	// Distinct wrappers otherwise behave as their underlying type for
	// the structural rules below.
	uf, _ := ty.Lookup(ty.Underlying(from))
	ut, _ := ty.Lookup(ty.Underlying(to))

	// Any scalar to any scalar.
	if ck.info.Types.IsScalar(from) && ck.info.Types.IsScalar(to) {
		return true
	}
	// Array ↔ slice with the same element type.
	if uf.Kind == types.KindArray && ut.Kind == types.KindSlice && uf.Elem == ut.Elem {
		return true
	}
	if uf.Kind == types.KindSlice && ut.Kind == types.KindArray && uf.Elem == ut.Elem {
		return true
	}
	// Pointer to pointer of a different pointee, unchecked. Raw
	// pointers participate, and usize-class integers convert to and
	// from raw pointers (address arithmetic in the core module).
	fromPtr := uf.Kind == types.KindPointer || uf.Kind == types.KindRawPtr
	toPtr := ut.Kind == types.KindPointer || ut.Kind == types.KindRawPtr
	if fromPtr && toPtr {
		return true
	}
	if fromPtr && ut.Kind == types.KindInt {
		return true
	}
	if toPtr && uf.Kind == types.KindInt {
		return true
	}
	// Enum variant ↔ owning enum.
	if uf.Kind == types.KindVariant {
		if ref, ok := ty.VariantRef(ty.Underlying(from)); ok && ref.Enum == ty.Underlying(to) {
			return true
		}
	}
	if ut.Kind == types.KindVariant {
		if ref, ok := ty.VariantRef(ty.Underlying(to)); ok && ref.Enum == ty.Underlying(from) {
			return true
		}
	}
	return false
}
