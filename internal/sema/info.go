// Package sema performs type inference, type checking, and constness
// analysis over the HIR.
//
// Checking is bidirectional: expressions are checked against an
// expected type when the context provides one and synthesized
// otherwise. Globals are typed on demand so definition order does not
// matter; cycles among type-defining bindings are diagnosed.
package sema

import (
	"fmt"

	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/layout"
	"capy/internal/source"
	"capy/internal/types"
)

// Value is a comptime result: raw bytes laid out per the value's type.
type Value struct {
	Type  types.TypeID
	Bytes []byte
}

// Evaluator is the comptime engine as seen from the checker. The
// checker hands it expressions that are already typed; the engine
// lowers them to backend IR and executes them.
type Evaluator interface {
	EvalComptime(mod *hir.Module, expr hir.ExprID, expected types.TypeID) (Value, bool)
}

// GlobalKey addresses one top-level binding.
type GlobalKey struct {
	Module  hir.ModuleID
	Binding hir.BindingID
}

type bindState uint8

const (
	bindUnchecked bindState = iota
	bindInProgress
	bindDone
)

type globalInfo struct {
	state   bindState
	ty      types.TypeID
	isConst bool
	value   *Value
	hasVal  bool
}

// Info is the checker's output: the (node → type) map, the constness
// map, const values, and resolution side tables the lowerer consumes.
type Info struct {
	World    *hir.World
	Types    *types.Interner
	Layout   *layout.Engine
	Reporter diag.Reporter

	exprTypes  map[hir.ModuleID][]types.TypeID
	rawTypes   map[hir.ModuleID]map[hir.ExprID]types.TypeID
	exprValues map[hir.ModuleID]map[hir.ExprID]Value
	localTypes map[hir.ModuleID][]types.TypeID
	localConst map[hir.ModuleID][]bool
	localInit  map[hir.ModuleID][]hir.ExprID
	globals    map[GlobalKey]*globalInfo

	// memberGlobal resolves `file.name` member expressions to the
	// binding they name in the imported module.
	memberGlobal map[hir.ModuleID]map[hir.ExprID]GlobalKey

	checkedFuncs map[[2]uint32]bool

	eval Evaluator
}

// NewInfo prepares the checker state for a world.
func NewInfo(world *hir.World, typesIn *types.Interner, lay *layout.Engine, reporter diag.Reporter) *Info {
	if reporter == nil {
		reporter = diag.NopReporter{}
	}
	return &Info{
		World:        world,
		Types:        typesIn,
		Layout:       lay,
		Reporter:     reporter,
		exprTypes:    make(map[hir.ModuleID][]types.TypeID),
		rawTypes:     make(map[hir.ModuleID]map[hir.ExprID]types.TypeID),
		exprValues:   make(map[hir.ModuleID]map[hir.ExprID]Value),
		localTypes:   make(map[hir.ModuleID][]types.TypeID),
		localConst:   make(map[hir.ModuleID][]bool),
		localInit:    make(map[hir.ModuleID][]hir.ExprID),
		globals:      make(map[GlobalKey]*globalInfo),
		memberGlobal: make(map[hir.ModuleID]map[hir.ExprID]GlobalKey),
	}
}

// SetEvaluator wires the comptime engine; the driver calls this once
// before checking starts.
func (in *Info) SetEvaluator(e Evaluator) { in.eval = e }

func (in *Info) moduleSlots(mod *hir.Module) {
	if _, ok := in.exprTypes[mod.ID]; ok {
		return
	}
	in.exprTypes[mod.ID] = make([]types.TypeID, mod.NumExprs())
	in.rawTypes[mod.ID] = make(map[hir.ExprID]types.TypeID)
	in.exprValues[mod.ID] = make(map[hir.ExprID]Value)
	in.localTypes[mod.ID] = make([]types.TypeID, len(mod.Locals))
	in.localConst[mod.ID] = make([]bool, len(mod.Locals))
	in.localInit[mod.ID] = make([]hir.ExprID, len(mod.Locals))
}

// TypeOf returns the checked type of an expression; NoTypeID means the
// expression failed to check (the error was already reported).
func (in *Info) TypeOf(mod hir.ModuleID, e hir.ExprID) types.TypeID {
	slots, ok := in.exprTypes[mod]
	if !ok || int(e) >= len(slots) {
		return types.NoTypeID
	}
	return slots[e]
}

func (in *Info) setType(mod hir.ModuleID, e hir.ExprID, t types.TypeID) types.TypeID {
	if slots, ok := in.exprTypes[mod]; ok && int(e) < len(slots) {
		slots[e] = t
	}
	return t
}

// RawTypeOf returns the type an expression synthesized before any
// implicit conversion was applied; it equals TypeOf when no conversion
// fired. The lowerer uses the pair to materialize array→slice and
// variant→enum adjustments.
func (in *Info) RawTypeOf(mod hir.ModuleID, e hir.ExprID) types.TypeID {
	if m, ok := in.rawTypes[mod]; ok {
		if t, ok := m[e]; ok {
			return t
		}
	}
	return in.TypeOf(mod, e)
}

func (in *Info) setRawType(mod hir.ModuleID, e hir.ExprID, t types.TypeID) {
	if m, ok := in.rawTypes[mod]; ok {
		m[e] = t
	}
}

// LocalIsConst reports the constness analysis result for a local.
func (in *Info) LocalIsConst(mod hir.ModuleID, l hir.LocalID) bool {
	consts, ok := in.localConst[mod]
	return ok && int(l) < len(consts) && consts[l]
}

// LocalInit returns the initializer expression of a local slot.
func (in *Info) LocalInit(mod hir.ModuleID, l hir.LocalID) hir.ExprID {
	inits, ok := in.localInit[mod]
	if !ok || int(l) >= len(inits) {
		return hir.NoExprID
	}
	return inits[l]
}

// LocalType returns a local slot's type.
func (in *Info) LocalType(mod hir.ModuleID, l hir.LocalID) types.TypeID {
	slots, ok := in.localTypes[mod]
	if !ok || int(l) >= len(slots) {
		return types.NoTypeID
	}
	return slots[l]
}

// ConstValue evaluates an expression in a constant context, folding
// literals locally and deferring to the comptime engine otherwise.
// Codegen calls this to force `comptime { }` blocks.
func (in *Info) ConstValue(mod *hir.Module, e hir.ExprID, expected types.TypeID) (Value, bool) {
	return in.constValue(mod, e, expected)
}

// ConstValueOfExpr returns the cached comptime value of an expression.
func (in *Info) ConstValueOfExpr(mod hir.ModuleID, e hir.ExprID) (Value, bool) {
	vals, ok := in.exprValues[mod]
	if !ok {
		return Value{}, false
	}
	v, ok := vals[e]
	return v, ok
}

// GlobalType returns the declared-or-inferred type of a binding.
func (in *Info) GlobalType(key GlobalKey) types.TypeID {
	if g, ok := in.globals[key]; ok {
		return g.ty
	}
	return types.NoTypeID
}

// GlobalIsConst reports the constness analysis result for a binding.
func (in *Info) GlobalIsConst(key GlobalKey) bool {
	if g, ok := in.globals[key]; ok {
		return g.isConst
	}
	return false
}

// GlobalValue returns the evaluated bytes of a const binding,
// computing them on first request (comptime blocks evaluate here when
// codegen forces them).
func (in *Info) GlobalValue(key GlobalKey) (Value, bool) {
	return in.globalValue(key)
}

// MemberGlobal resolves a `file.name` member expression.
func (in *Info) MemberGlobal(mod hir.ModuleID, e hir.ExprID) (GlobalKey, bool) {
	if m, ok := in.memberGlobal[mod]; ok {
		key, ok := m[e]
		return key, ok
	}
	return GlobalKey{}, false
}

func (in *Info) setMemberGlobal(mod hir.ModuleID, e hir.ExprID, key GlobalKey) {
	m, ok := in.memberGlobal[mod]
	if !ok {
		m = make(map[hir.ExprID]GlobalKey)
		in.memberGlobal[mod] = m
	}
	m[e] = key
}

func (in *Info) errorf(code diag.Code, sp source.Span, format string, args ...any) {
	in.Reporter.Report(code, diag.SevError, sp, fmt.Sprintf(format, args...), nil)
}
