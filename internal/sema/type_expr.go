package sema

import (
	"encoding/binary"
	"math"

	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/types"
)

// typeVal wraps a TypeID as a Meta_Type comptime value: 4 bytes,
// little-endian.
func (ck *checker) typeVal(id types.TypeID) Value {
	return Value{Type: ck.b().MetaType, Bytes: encodeU32(uint32(id))}
}

func encodeU32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

// typeFromValue reads a Meta_Type value back into a TypeID.
func typeFromValue(v Value) types.TypeID {
	if len(v.Bytes) < 4 {
		return types.NoTypeID
	}
	return types.TypeID(binary.LittleEndian.Uint32(v.Bytes))
}

func usizeValue(n uint64, usize types.TypeID, ptrSize int) Value {
	buf := make([]byte, ptrSize)
	binary.LittleEndian.PutUint64(buf[:8], n)
	return Value{Type: usize, Bytes: buf}
}

// resolveType checks e in type position: it must be a constant
// expression of type Meta_Type.
func (ck *checker) resolveType(e hir.ExprID) types.TypeID {
	if e == hir.NoExprID {
		return types.NoTypeID
	}
	b := ck.b()
	t := ck.check(e, b.MetaType, coerceOpts{})
	if t == types.NoTypeID {
		return types.NoTypeID
	}
	v, ok := ck.info.constValue(ck.mod, e, b.MetaType)
	if !ok {
		ck.errorf(diag.ConstRequired, ck.mod.Expr(e).Span, "type expressions must be constant")
		return types.NoTypeID
	}
	return typeFromValue(v)
}

// resolveTypeSyntactic interns types written literally: arrays,
// slices, distinct, struct, enum, and function types. Results are
// memoized per node, which also pins the tag a `distinct` mints.
func (ck *checker) resolveTypeSyntactic(e hir.ExprID) types.TypeID {
	if v, ok := ck.info.ConstValueOfExpr(ck.mod.ID, e); ok {
		return typeFromValue(v)
	}
	expr := ck.mod.Expr(e)
	ty := ck.info.Types
	var id types.TypeID

	switch expr.Kind {
	case hir.ExprArrayType:
		elem := ck.resolveType(expr.Y)
		if elem == types.NoTypeID {
			return types.NoTypeID
		}
		if expr.X == hir.NoExprID {
			id = ty.Intern(types.MakeSlice(elem))
			break
		}
		ck.check(expr.X, ck.b().USize, coerceOpts{})
		lv, ok := ck.info.constValue(ck.mod, expr.X, ck.b().USize)
		if !ok {
			ck.errorf(diag.ConstRequired, ck.mod.Expr(expr.X).Span, "array length must be constant")
			return types.NoTypeID
		}
		id = ty.Intern(types.MakeArray(elem, readUint(lv.Bytes)))
	case hir.ExprDistinctType:
		base := ck.resolveType(expr.X)
		if base == types.NoTypeID {
			return types.NoTypeID
		}
		id = ty.NewDistinct(base)
	case hir.ExprStructType:
		fields := make([]types.Field, 0, len(expr.Fields))
		seen := make(map[uint32]bool, len(expr.Fields))
		for _, f := range expr.Fields {
			ft := ck.resolveType(f.Value)
			if seen[uint32(f.Name)] {
				name, _ := ck.strs().Lookup(f.Name)
				ck.errorf(diag.SynDuplicateField, f.NameSpan, "duplicate field %q", name)
			}
			seen[uint32(f.Name)] = true
			fields = append(fields, types.Field{Name: f.Name, Type: ft})
		}
		id = ty.InternStruct(fields)
	case hir.ExprEnumType:
		specs := make([]types.VariantSpec, 0, len(expr.Variants))
		for _, v := range expr.Variants {
			payload := ck.b().Void
			if v.Payload != hir.NoExprID {
				payload = ck.resolveType(v.Payload)
			}
			specs = append(specs, types.VariantSpec{
				Name:         v.Name,
				Payload:      payload,
				Discriminant: v.Discriminant,
			})
		}
		enumID, err := ty.InternEnum(specs)
		if err != nil {
			ck.errorf(diag.TypeBadDiscriminant, expr.Span, "%v", err)
			return types.NoTypeID
		}
		id = enumID
	case hir.ExprFuncType:
		params := make([]types.TypeID, 0, len(expr.List))
		for _, p := range expr.List {
			params = append(params, ck.resolveType(p))
		}
		result := ck.b().Void
		if expr.X != hir.NoExprID {
			result = ck.resolveType(expr.X)
		}
		id = ty.InternFn(params, result)
	default:
		return types.NoTypeID
	}

	if id != types.NoTypeID {
		ck.cacheValue(e, ck.typeVal(id))
	}
	return id
}

func readUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		if len(b) >= 8 {
			return binary.LittleEndian.Uint64(b)
		}
		return 0
	}
}

// constValue produces the comptime value of an expression. Plain
// literals and const references fold locally; everything else defers
// to the comptime engine.
func (in *Info) constValue(mod *hir.Module, e hir.ExprID, expected types.TypeID) (Value, bool) {
	if e == hir.NoExprID {
		return Value{}, false
	}
	if v, ok := in.ConstValueOfExpr(mod.ID, e); ok {
		return v, true
	}
	expr := mod.Expr(e)
	t := in.TypeOf(mod.ID, e)
	if t == types.NoTypeID {
		t = expected
	}

	var v Value
	var ok bool
	switch expr.Kind {
	case hir.ExprIntLit, hir.ExprCharLit, hir.ExprBoolLit:
		v, ok = in.encodeScalar(t, expr.Int, 0, false)
	case hir.ExprFloatLit:
		v, ok = in.encodeScalar(t, 0, expr.Float, true)
	case hir.ExprGlobal:
		key := GlobalKey{Module: expr.Global.Module, Binding: expr.Global.Binding}
		v, ok = in.globalValue(key)
	case hir.ExprLocal:
		consts := in.localConst[mod.ID]
		inits := in.localInit[mod.ID]
		if int(expr.Local) < len(consts) && consts[expr.Local] {
			v, ok = in.constValue(mod, inits[expr.Local], t)
		}
	case hir.ExprMember:
		if key, found := in.MemberGlobal(mod.ID, e); found {
			v, ok = in.globalValue(key)
		}
	case hir.ExprComptime:
		if in.eval != nil {
			v, ok = in.eval.EvalComptime(mod, e, t)
		}
	default:
		// Arithmetic over consts, const ifs, blocks: the engine runs
		// the same lowering the AOT path uses.
		if in.eval != nil {
			v, ok = in.eval.EvalComptime(mod, e, t)
		}
	}
	if ok {
		in.exprValues[mod.ID][e] = v
	}
	return v, ok
}

// globalValue computes (once) the evaluated bytes of a const binding.
// Re-evaluation within one compilation returns the identical bytes.
func (in *Info) globalValue(key GlobalKey) (Value, bool) {
	g := in.ensureGlobal(key)
	if !g.isConst {
		return Value{}, false
	}
	if g.hasVal {
		if g.value == nil {
			return Value{}, false
		}
		return *g.value, true
	}
	g.hasVal = true // set before evaluating so cycles stop here
	mod := in.World.Module(key.Module)
	b := &mod.Bindings[key.Binding]
	if b.Init == hir.NoExprID {
		return Value{}, false
	}
	if mod.Expr(b.Init).Kind == hir.ExprFunc {
		// Function constants are code symbols, not data bytes.
		return Value{}, false
	}
	v, ok := in.constValue(mod, b.Init, g.ty)
	if ok {
		g.value = &v
	}
	return v, ok
}

// encodeScalar lays out one scalar constant per the target ABI.
func (in *Info) encodeScalar(t types.TypeID, iv uint64, fv float64, isFloat bool) (Value, bool) {
	tt, ok := in.Types.Lookup(in.Types.Underlying(t))
	if !ok {
		return Value{}, false
	}
	size, err := in.Layout.SizeOf(t)
	if err != nil || size == 0 || size > 16 {
		return Value{}, false
	}
	buf := make([]byte, size)
	switch tt.Kind {
	case types.KindInt, types.KindBool, types.KindChar:
		var tmp [16]byte
		binary.LittleEndian.PutUint64(tmp[:8], iv)
		if tt.Kind == types.KindInt && tt.Signed && int64(iv) < 0 {
			for i := 8; i < 16; i++ {
				tmp[i] = 0xFF
			}
		}
		copy(buf, tmp[:size])
	case types.KindFloat:
		if !isFloat {
			fv = float64(int64(iv))
		}
		if size == 4 {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(fv)))
		} else {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(fv))
		}
	default:
		return Value{}, false
	}
	return Value{Type: t, Bytes: buf}, true
}
