package sema

import (
	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/source"
	"capy/internal/types"
)

// CheckWorld types every module of the world in definition order with
// on-demand resolution of forward references.
func CheckWorld(in *Info) {
	for _, mod := range in.World.Modules {
		in.moduleSlots(mod)
	}
	for _, mod := range in.World.Modules {
		for i := range mod.Bindings {
			in.ensureGlobal(GlobalKey{Module: mod.ID, Binding: hir.BindingID(i)})
		}
	}
	// Function bodies are checked after every signature is known so
	// mutual recursion needs no forward declarations.
	for _, mod := range in.World.Modules {
		for i := range mod.Funcs {
			in.EnsureFuncBody(mod, hir.FuncID(i))
		}
	}
}

// EnsureFuncBody checks one function body exactly once. The comptime
// engine calls this before lowering a function the checker has not
// reached yet.
func (in *Info) EnsureFuncBody(mod *hir.Module, id hir.FuncID) {
	key := [2]uint32{uint32(mod.ID), uint32(id)}
	if in.checkedFuncs == nil {
		in.checkedFuncs = make(map[[2]uint32]bool)
	}
	if in.checkedFuncs[key] {
		return
	}
	in.checkedFuncs[key] = true
	in.moduleSlots(mod)
	in.checkFuncBody(mod, id)
}

// ensureGlobal types one binding, driving the on-demand state machine.
func (in *Info) ensureGlobal(key GlobalKey) *globalInfo {
	if g, ok := in.globals[key]; ok {
		if g.state == bindInProgress {
			mod := in.World.Module(key.Module)
			b := &mod.Bindings[key.Binding]
			name, _ := in.World.Strings.Lookup(b.Name)
			in.errorf(diag.TypeSelfReferential, b.NameSpan, "type of %q depends on itself", name)
			g.state = bindDone
			return g
		}
		if g.state == bindDone {
			return g
		}
	}
	g := &globalInfo{state: bindInProgress}
	in.globals[key] = g

	mod := in.World.Module(key.Module)
	in.moduleSlots(mod)
	b := &mod.Bindings[key.Binding]
	ck := &checker{info: in, mod: mod}

	declared := types.NoTypeID
	if b.Type != hir.NoExprID {
		declared = ck.resolveType(b.Type)
	}

	got := types.NoTypeID
	if b.Init != hir.NoExprID {
		init := mod.Expr(b.Init)
		if init.Kind == hir.ExprFunc {
			got = ck.funcSignature(init.Func)
			in.setType(mod.ID, b.Init, got)
		} else {
			got = ck.check(b.Init, declared, coerceOpts{atDecl: true})
		}
	}

	switch {
	case declared != types.NoTypeID:
		g.ty = declared
	default:
		g.ty = got
	}

	// A binding is const iff it is immutable and its initializer is a
	// literal, a reference to another const, or a comptime block.
	g.isConst = !b.Mutable && b.Init != hir.NoExprID && ck.constShape(b.Init)
	g.state = bindDone

	// Name struct/enum/distinct declarations after the binding for
	// diagnostics and reflection output.
	if g.isConst && g.ty == in.Types.Builtins().MetaType {
		if v, ok := in.constValue(mod, b.Init, g.ty); ok {
			in.Types.SetName(typeFromValue(v), b.Name)
		}
	}
	return g
}

// constShape decides whether an initializer makes an immutable
// binding const: a literal, a reference to another const, or a
// comptime block.
func (ck *checker) constShape(e hir.ExprID) bool {
	expr := ck.mod.Expr(e)
	switch expr.Kind {
	case hir.ExprIntLit, hir.ExprFloatLit, hir.ExprStringLit,
		hir.ExprCharLit, hir.ExprBoolLit:
		return true
	case hir.ExprComptime:
		return true
	case hir.ExprFunc:
		// Function bindings compile to fixed code symbols.
		return true
	case hir.ExprImportRef:
		return true
	case hir.ExprBuiltin:
		return expr.Builtin.IsTypeName()
	case hir.ExprStructType, hir.ExprEnumType, hir.ExprDistinctType,
		hir.ExprArrayType, hir.ExprFuncType:
		// Type literals are constant by construction.
		return true
	case hir.ExprAddrOf:
		// `^T` over a type value is itself a type literal.
		return ck.info.TypeOf(ck.mod.ID, e) == ck.info.Types.Builtins().MetaType
	case hir.ExprGlobal:
		g := ck.info.ensureGlobal(GlobalKey{Module: expr.Global.Module, Binding: expr.Global.Binding})
		return g.isConst
	case hir.ExprLocal:
		consts := ck.info.localConst[ck.mod.ID]
		return int(expr.Local) < len(consts) && consts[expr.Local]
	case hir.ExprMember:
		// Variant references (E.B) and module members of consts.
		return ck.info.TypeOf(ck.mod.ID, e) == ck.info.Types.Builtins().MetaType ||
			ck.memberIsConst(e)
	default:
		// Checking may have folded the expression already (size_of
		// over a known type); a folded value behaves as a literal.
		_, ok := ck.info.ConstValueOfExpr(ck.mod.ID, e)
		return ok
	}
}

func (ck *checker) memberIsConst(e hir.ExprID) bool {
	if key, ok := ck.info.MemberGlobal(ck.mod.ID, e); ok {
		return ck.info.ensureGlobal(key).isConst
	}
	return false
}

// funcSignature interns the function type of a lifted function without
// touching its body, so recursion and forward calls resolve.
func (ck *checker) funcSignature(id hir.FuncID) types.TypeID {
	fn := &ck.mod.Funcs[id]
	params := make([]types.TypeID, 0, len(fn.Params))
	for _, p := range fn.Params {
		local := ck.mod.Local(p)
		t := types.NoTypeID
		if local.Type != hir.NoExprID {
			t = ck.resolveType(local.Type)
		}
		ck.setLocalType(p, t)
		params = append(params, t)
	}
	result := ck.info.Types.Builtins().Void
	if fn.Result != hir.NoExprID {
		result = ck.resolveType(fn.Result)
	}
	return ck.info.Types.InternFn(params, result)
}

// checkFuncBody checks a function body against its signature.
func (in *Info) checkFuncBody(mod *hir.Module, id hir.FuncID) {
	fn := &mod.Funcs[id]
	if fn.Body == hir.NoExprID {
		return
	}
	ck := &checker{info: in, mod: mod}
	// Recompute the signature cheaply; it is cached per local slot.
	result := in.Types.Builtins().Void
	if fn.Result != hir.NoExprID {
		result = ck.resolveType(fn.Result)
	}
	for _, p := range fn.Params {
		if in.LocalType(mod.ID, p) == types.NoTypeID {
			local := mod.Local(p)
			if local.Type != hir.NoExprID {
				ck.setLocalType(p, ck.resolveType(local.Type))
			}
		}
	}
	ck.fnResult = result
	body := mod.Expr(fn.Body)
	if body.Tail() != hir.NoExprID && result != in.Types.Builtins().Void {
		ck.check(fn.Body, result, coerceOpts{})
	} else {
		ck.check(fn.Body, types.NoTypeID, coerceOpts{})
	}
}

// CheckEntrypoint validates that mod's `main` is nullary and returns
// void or an integer type.
func CheckEntrypoint(in *Info, mod *hir.Module) bool {
	name := in.World.Strings.Intern("main")
	b, bid, ok := mod.Binding(name)
	if !ok {
		in.errorf(diag.TypeBadEntrypoint, hirModuleSpan(mod), "no `main` binding in the entry module")
		return false
	}
	key := GlobalKey{Module: mod.ID, Binding: bid}
	g := in.ensureGlobal(key)
	fnInfo, ok := in.Types.FnInfo(g.ty)
	if !ok {
		in.errorf(diag.TypeBadEntrypoint, b.NameSpan, "`main` must be a function")
		return false
	}
	if len(fnInfo.Params) != 0 {
		in.errorf(diag.TypeBadEntrypoint, b.NameSpan, "`main` takes no parameters")
		return false
	}
	res := fnInfo.Result
	if res != in.Types.Builtins().Void && !in.Types.IsInteger(res) {
		in.errorf(diag.TypeBadEntrypoint, b.NameSpan, "`main` must return void or an integer type, not %s",
			in.Types.Format(res, in.World.Strings))
		return false
	}
	return true
}

func hirModuleSpan(mod *hir.Module) (sp source.Span) {
	if len(mod.Bindings) > 0 {
		return mod.Bindings[0].Span
	}
	return sp
}
