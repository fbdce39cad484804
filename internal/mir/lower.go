package mir

import (
	"encoding/binary"
	"fmt"

	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/layout"
	"capy/internal/sema"
	"capy/internal/source"
	"capy/internal/types"
)

// funcRef addresses one HIR function across modules.
type funcRef struct {
	Mod  hir.ModuleID
	Func hir.FuncID
}

// Lowerer translates typed HIR into a mir.Module. It serves both the
// AOT path (lower everything) and the comptime engine (lower one
// expression plus whatever it reaches).
type Lowerer struct {
	Info     *sema.Info
	Types    *types.Interner
	Lay      *layout.Engine
	Reporter diag.Reporter
	Mod      *Module

	funcIDs    map[funcRef]FuncID
	globalIDs  map[sema.GlobalKey]GlobalID
	strPool    map[string]GlobalID
	argsGlobal GlobalID
	hasArgs    bool

	pending     []funcRef
	comptimeSeq int
}

// NewLowerer prepares a lowerer over checked HIR.
func NewLowerer(info *sema.Info, lay *layout.Engine, reporter diag.Reporter) *Lowerer {
	if reporter == nil {
		reporter = diag.NopReporter{}
	}
	return &Lowerer{
		Info:      info,
		Types:     info.Types,
		Lay:       lay,
		Reporter:  reporter,
		Mod:       &Module{},
		funcIDs:   make(map[funcRef]FuncID),
		globalIDs: make(map[sema.GlobalKey]GlobalID),
		strPool:   make(map[string]GlobalID),
	}
}

// LowerWorld lowers every function of every module (the AOT path).
func (lw *Lowerer) LowerWorld() *Module {
	for _, hmod := range lw.Info.World.Modules {
		for i := range hmod.Funcs {
			lw.EnsureFunc(hmod, hir.FuncID(i))
		}
	}
	lw.drain()
	return lw.Mod
}

// EnsureFunc declares a function and queues its body for lowering.
func (lw *Lowerer) EnsureFunc(hmod *hir.Module, id hir.FuncID) FuncID {
	ref := funcRef{Mod: hmod.ID, Func: id}
	if fid, ok := lw.funcIDs[ref]; ok {
		return fid
	}
	hfn := &hmod.Funcs[id]
	f := &Func{
		Name:   lw.symbolName(hmod, hfn),
		Span:   hfn.Span,
		Extern: hfn.Extern,
	}

	// Result convention: aggregates return through a hidden pointer.
	result := lw.Types.Builtins().Void
	if hfn.Result != hir.NoExprID {
		if v, ok := lw.Info.ConstValueOfExpr(hmod.ID, hfn.Result); ok {
			result = typeIDFromBytes(v.Bytes)
		}
	}
	f.Result = result
	class, aggregate := lw.ClassOf(result)
	f.ResultClass = class
	f.SRet = aggregate

	for _, p := range hfn.Params {
		pt := lw.Info.LocalType(hmod.ID, p)
		size, align := lw.sizeAlign(pt, hfn.Span)
		name, _ := lw.Info.World.Strings.Lookup(hmod.Local(p).Name)
		lid := f.AddLocal(Local{Name: name, Type: pt, Size: size, Align: align})
		_, pAgg := lw.ClassOf(pt)
		f.Params = append(f.Params, lid)
		f.ParamByRef = append(f.ParamByRef, pAgg)
	}

	fid := lw.Mod.AddFunc(f)
	lw.funcIDs[ref] = fid
	if !hfn.Extern {
		lw.pending = append(lw.pending, ref)
	}
	return fid
}

func (lw *Lowerer) drain() {
	for len(lw.pending) > 0 {
		ref := lw.pending[0]
		lw.pending = lw.pending[1:]
		hmod := lw.Info.World.Module(ref.Mod)
		lw.lowerFuncBody(hmod, ref)
	}
}

func (lw *Lowerer) symbolName(hmod *hir.Module, hfn *hir.Func) string {
	if hfn.Extern {
		return hfn.Name
	}
	return hmod.Name + "." + hfn.Name
}

// LowerComptimeExpr wraps one checked expression in a synthetic
// function for the comptime engine. Aggregate results go through the
// sret pointer the engine supplies.
func (lw *Lowerer) LowerComptimeExpr(hmod *hir.Module, e hir.ExprID, expected types.TypeID) FuncID {
	lw.comptimeSeq++
	f := &Func{
		Name:   fmt.Sprintf("comptime.%d", lw.comptimeSeq-1),
		Span:   hmod.Expr(e).Span,
		Result: expected,
	}
	class, aggregate := lw.ClassOf(expected)
	f.ResultClass = class
	f.SRet = aggregate
	fid := lw.Mod.AddFunc(f)

	fl := newFuncLowerer(lw, hmod, f)
	v := fl.lower(e)
	fl.emitReturn(v, hmod.Expr(e).Span)
	lw.drain()
	return fid
}

func (lw *Lowerer) lowerFuncBody(hmod *hir.Module, ref funcRef) {
	hfn := &hmod.Funcs[ref.Func]
	f := lw.Mod.Func(lw.funcIDs[ref])
	if hfn.Body == hir.NoExprID {
		return
	}
	// Comptime may reach functions the checker has not visited yet.
	lw.Info.EnsureFuncBody(hmod, ref.Func)
	fl := newFuncLowerer(lw, hmod, f)
	for i, p := range hfn.Params {
		fl.localMap[p] = f.Params[i]
	}
	body := hmod.Expr(hfn.Body)
	v := fl.lowerBlockExpr(hfn.Body)
	// A tail expression is an implicit return; otherwise fall through
	// to a void (or zero) return.
	if body.Tail() != hir.NoExprID {
		fl.emitReturn(v, body.Span)
	} else {
		fl.emitReturn(val{}, body.Span)
	}
}

// ClassOf maps a type to its machine class; aggregate is true when the
// value lives in memory.
func (lw *Lowerer) ClassOf(t types.TypeID) (Class, bool) {
	return ClassOfType(lw.Types, t)
}

// ClassOfType is the shared class mapping; the backend uses it for
// extern signatures.
func ClassOfType(ty *types.Interner, t types.TypeID) (Class, bool) {
	u := ty.Underlying(t)
	tt, ok := ty.Lookup(u)
	if !ok {
		return CNone, false
	}
	switch tt.Kind {
	case types.KindVoid, types.KindFile:
		return CNone, false
	case types.KindBool:
		return C8, false
	case types.KindChar, types.KindMetaType:
		return C32, false
	case types.KindString, types.KindPointer, types.KindRawPtr, types.KindFunction:
		return CPtr, false
	case types.KindInt:
		switch tt.Width {
		case types.Width8:
			return C8, false
		case types.Width16:
			return C16, false
		case types.Width32:
			return C32, false
		case types.Width64:
			return C64, false
		case types.WidthSize:
			return C64, false
		default:
			// 128-bit integers are layout-only; arithmetic on them is
			// a codegen-unsupported diagnostic at the operation site.
			return CNone, true
		}
	case types.KindFloat:
		if tt.Width == types.Width32 {
			return CF32, false
		}
		return CF64, false
	case types.KindVariant:
		return ClassOfType(ty, tt.Elem)
	case types.KindArray, types.KindSlice, types.KindStruct,
		types.KindEnum, types.KindAny, types.KindRawSlice:
		return CNone, true
	default:
		return CNone, false
	}
}

func (lw *Lowerer) sizeAlign(t types.TypeID, sp source.Span) (int, int) {
	l, err := lw.Lay.Of(t)
	if err != nil {
		lw.Reporter.Report(diag.CodegenUnsupported, diag.SevError, sp,
			fmt.Sprintf("cannot lay out %s: %v", lw.Types.Format(t, lw.Info.World.Strings), err), nil)
		return 0, 1
	}
	return l.Size, l.Align
}

// EnsureString pools a string literal and returns its global.
func (lw *Lowerer) EnsureString(s string) GlobalID {
	if id, ok := lw.strPool[s]; ok {
		return id
	}
	bytes := append([]byte(s), 0)
	g := &Global{
		Name:  fmt.Sprintf("str.%d", len(lw.strPool)),
		Type:  lw.Types.Builtins().String,
		Size:  len(bytes),
		Align: 1,
		Init:  bytes,
		Const: true,
	}
	id := lw.Mod.AddGlobal(g)
	lw.strPool[s] = id
	return id
}

// EnsureDataGlobal emits a read-only blob (comptime result bytes).
func (lw *Lowerer) EnsureDataGlobal(name string, t types.TypeID, bytes []byte, sp source.Span) GlobalID {
	size, align := lw.sizeAlign(t, sp)
	if size < len(bytes) {
		size = len(bytes)
	}
	return lw.Mod.AddGlobal(&Global{
		Name:  name,
		Type:  t,
		Size:  size,
		Align: align,
		Init:  bytes,
		Const: true,
	})
}

// EnsureBindingGlobal emits the data object of a top-level binding.
func (lw *Lowerer) EnsureBindingGlobal(key sema.GlobalKey, sp source.Span) (GlobalID, bool) {
	if id, ok := lw.globalIDs[key]; ok {
		return id, true
	}
	hmod := lw.Info.World.Module(key.Module)
	b := &hmod.Bindings[key.Binding]
	t := lw.Info.GlobalType(key)
	size, align := lw.sizeAlign(t, b.Span)
	name, _ := lw.Info.World.Strings.Lookup(b.Name)

	g := &Global{
		Name:  hmod.Name + "." + name,
		Type:  t,
		Size:  size,
		Align: align,
		Const: !b.Mutable,
	}
	if v, ok := lw.Info.GlobalValue(key); ok {
		g.Init = v.Bytes
	} else if b.Init != hir.NoExprID {
		// Mutable globals need a comptime-computable initializer; the
		// program entry does not run arbitrary initializer code.
		if hmod.Expr(b.Init).Kind == hir.ExprStringLit {
			str := lw.EnsureString(hmod.Expr(b.Init).Str)
			g.Relocs = append(g.Relocs, Reloc{Offset: 0, Kind: RelocGlobal, Global: str})
		} else if v, ok := lw.Info.ConstValue(hmod, b.Init, t); ok {
			g.Init = v.Bytes
		} else {
			lw.Reporter.Report(diag.CodegenUnsupported, diag.SevError, b.Span,
				"global initializer must be computable at compile time", nil)
		}
	}
	id := lw.Mod.AddGlobal(g)
	lw.globalIDs[key] = id
	return id, true
}

// ArgsGlobal returns the `args: []str` slice the entry code fills in.
func (lw *Lowerer) ArgsGlobal() GlobalID {
	if lw.hasArgs {
		return lw.argsGlobal
	}
	sliceStr := lw.Types.Intern(types.MakeSlice(lw.Types.Builtins().String))
	size, align := lw.sizeAlign(sliceStr, source.Span{})
	lw.argsGlobal = lw.Mod.AddGlobal(&Global{
		Name:  "capy.args",
		Type:  sliceStr,
		Size:  size,
		Align: align,
		Const: false,
	})
	lw.hasArgs = true
	return lw.argsGlobal
}

func typeIDFromBytes(b []byte) types.TypeID {
	if len(b) < 4 {
		return types.NoTypeID
	}
	return types.TypeID(binary.LittleEndian.Uint32(b))
}
