// Package comptime is the compile-time execution engine.
//
// Expressions are lowered to the same backend IR the AOT path emits
// from, compiled once into a pre-resolved form, and executed over a
// linear byte memory. The bytes an evaluation produces are exactly the
// bytes the emitted program would produce at runtime.
package comptime

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/layout"
	"capy/internal/mir"
	"capy/internal/rtinfo"
	"capy/internal/sema"
	"capy/internal/source"
	"capy/internal/types"
)

// State tracks one invocation through its lifecycle. Transitions are
// monotonic.
type State uint8

const (
	StatePending State = iota
	StateLowering
	StateJITCompiling
	StateExecuting
	StateDone
	StateTrapped
	StateDiagnosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateLowering:
		return "LOWERING"
	case StateJITCompiling:
		return "JIT_COMPILING"
	case StateExecuting:
		return "EXECUTING"
	case StateDone:
		return "DONE"
	case StateTrapped:
		return "TRAPPED"
	default:
		return "DIAGNOSED"
	}
}

// Invocation is the per-evaluation record, kept for instrumentation.
type Invocation struct {
	Expr  hir.ExprID
	Span  source.Span
	State State
	Steps uint64
}

func (inv *Invocation) transition(s State) {
	if s > inv.State {
		inv.State = s
	}
}

// DefaultMaxDepth bounds comptime reentrancy.
const DefaultMaxDepth = 64

type memoKey struct {
	Mod  hir.ModuleID
	Expr hir.ExprID
}

// Engine evaluates constant expressions for the checker and codegen.
// It implements sema.Evaluator.
type Engine struct {
	Info     *sema.Info
	Types    *types.Interner
	Lay      *layout.Engine
	Reporter diag.Reporter
	Files    *source.FileSet
	Stdout   io.Writer

	// MaxDepth bounds reentrant invocations (default 64).
	MaxDepth int
	// InstrBudget caps executed instructions per invocation; 0 means
	// unlimited.
	InstrBudget uint64
	// Cache persists evaluated values on disk when non-nil.
	Cache *Cache

	// Invocations records every evaluation in order, so tests can
	// confirm what ran at compile time.
	Invocations []*Invocation

	lw          *mir.Lowerer
	mem         *memory
	heap        *memory
	compiled    map[mir.FuncID]*compiledFunc
	memo        map[memoKey]sema.Value
	globalAddrs map[mir.GlobalID]uint64
	heapBlocks  map[uint64]int
	depth       int

	rtRecords uint64
	rtExtra   uint64
	rtCount   int
}

// NewEngine wires an engine over checked state. Call
// info.SetEvaluator(engine) before checking starts.
func NewEngine(info *sema.Info, lay *layout.Engine, files *source.FileSet, reporter diag.Reporter) *Engine {
	if reporter == nil {
		reporter = diag.NopReporter{}
	}
	return &Engine{
		Info:        info,
		Types:       info.Types,
		Lay:         lay,
		Reporter:    reporter,
		Files:       files,
		Stdout:      os.Stdout,
		MaxDepth:    DefaultMaxDepth,
		lw:          mir.NewLowerer(info, lay, reporter),
		mem:         newMemory(),
		heap:        newMemory(),
		compiled:    make(map[mir.FuncID]*compiledFunc),
		memo:        make(map[memoKey]sema.Value),
		globalAddrs: make(map[mir.GlobalID]uint64),
		heapBlocks:  make(map[uint64]int),
	}
}

// EvalComptime evaluates a checked expression and returns its bytes in
// a fresh caller-owned buffer sized by the expected type.
func (eng *Engine) EvalComptime(hmod *hir.Module, e hir.ExprID, expected types.TypeID) (sema.Value, bool) {
	key := memoKey{Mod: hmod.ID, Expr: e}
	if v, ok := eng.memo[key]; ok {
		return v, true
	}
	sp := hmod.Expr(e).Span
	if expected == types.NoTypeID {
		return sema.Value{}, false
	}

	if eng.depth >= eng.maxDepth() {
		eng.Reporter.Report(diag.ComptimeDepth, diag.SevError, sp,
			fmt.Sprintf("comptime recursion exceeds the depth limit of %d", eng.maxDepth()), nil)
		return sema.Value{}, false
	}
	eng.depth++
	defer func() { eng.depth-- }()

	inv := &Invocation{Expr: e, Span: sp, State: StatePending}
	eng.Invocations = append(eng.Invocations, inv)

	// Results whose type carries pointers cannot outlive the comptime
	// heap; reject before doing any work.
	if eng.resultEscapes(expected) {
		inv.transition(StateDiagnosed)
		eng.Reporter.Report(diag.ComptimeLimitation, diag.SevError, sp,
			fmt.Sprintf("comptime result of type %s would carry pointers into the comptime heap",
				eng.Types.Format(expected, eng.Info.World.Strings)), nil)
		return sema.Value{}, false
	}

	size, err := eng.Lay.SizeOf(expected)
	if err != nil {
		inv.transition(StateDiagnosed)
		eng.Reporter.Report(diag.ComptimeLimitation, diag.SevError, sp, err.Error(), nil)
		return sema.Value{}, false
	}

	// Disk cache: keyed by the source bytes of the expression.
	var contentKey [32]byte
	if eng.Cache != nil {
		contentKey = eng.contentHash(sp, expected)
		if bytes, ok := eng.Cache.Get(contentKey, expected); ok {
			v := sema.Value{Type: expected, Bytes: bytes}
			eng.memo[key] = v
			inv.transition(StateDone)
			return v, true
		}
	}

	inv.transition(StateLowering)
	// Lower the block inside a `comptime { }` wrapper directly; the
	// wrapper node is the memo key, not the lowering target.
	target := e
	if expr := hmod.Expr(e); expr.Kind == hir.ExprComptime {
		target = expr.X
	}
	fid := eng.lw.LowerComptimeExpr(hmod, target, expected)

	inv.transition(StateJITCompiling)
	cf := eng.compile(eng.lw.Mod.Func(fid))

	inv.transition(StateExecuting)
	buf := make([]byte, size)
	if trap := eng.run(cf, buf, inv); trap != nil {
		if trap.kind == trapDiagnosed {
			inv.transition(StateDiagnosed)
		} else {
			inv.transition(StateTrapped)
			eng.Reporter.Report(diag.ComptimeTrap, diag.SevError, trap.span,
				fmt.Sprintf("comptime evaluation trapped: %s", trap.msg), nil)
		}
		return sema.Value{}, false
	}
	inv.transition(StateDone)

	v := sema.Value{Type: expected, Bytes: buf}
	eng.memo[key] = v
	if eng.Cache != nil {
		eng.Cache.Put(contentKey, expected, buf)
	}
	return v, true
}

func (eng *Engine) maxDepth() int {
	if eng.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return eng.MaxDepth
}

// resultEscapes reports whether a comptime result of type t would
// smuggle comptime-heap pointers (or function pointers) into the data
// segment.
func (eng *Engine) resultEscapes(t types.TypeID) bool {
	tt, ok := eng.Types.Lookup(eng.Types.Underlying(t))
	if !ok {
		return false
	}
	switch tt.Kind {
	case types.KindPointer, types.KindRawPtr, types.KindSlice,
		types.KindRawSlice, types.KindString, types.KindAny, types.KindFunction:
		return true
	case types.KindArray:
		return eng.resultEscapes(tt.Elem)
	case types.KindStruct:
		info, ok := eng.Types.StructInfo(eng.Types.Underlying(t))
		if !ok {
			return false
		}
		for _, f := range info.Fields {
			if eng.resultEscapes(f.Type) {
				return true
			}
		}
		return false
	case types.KindEnum:
		info, ok := eng.Types.EnumInfo(eng.Types.Underlying(t))
		if !ok {
			return false
		}
		for _, v := range info.Variants {
			if eng.resultEscapes(v.Payload) {
				return true
			}
		}
		return false
	case types.KindVariant:
		return eng.resultEscapes(tt.Elem)
	default:
		return false
	}
}

func (eng *Engine) contentHash(sp source.Span, expected types.TypeID) [32]byte {
	var content []byte
	if eng.Files != nil && sp.End > sp.Start {
		f := eng.Files.Get(sp.File)
		if f != nil && int(sp.End) <= len(f.Content) {
			content = f.Content[sp.Start:sp.End]
		}
	}
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], uint32(expected))
	return hashContent(content, tail[:])
}

// globalAddr materializes a mir global on first touch. Globals live in
// the heap region: frame teardown must never reclaim them.
func (eng *Engine) globalAddr(id mir.GlobalID) (uint64, error) {
	if addr, ok := eng.globalAddrs[id]; ok {
		return addr, nil
	}
	g := eng.lw.Mod.Global(id)
	if g == nil {
		return 0, fmt.Errorf("unknown global %d", id)
	}
	size := g.Size
	if size < len(g.Init) {
		size = len(g.Init)
	}
	if size == 0 {
		size = 1
	}
	addr := eng.heap.alloc(size, g.Align) | heapTag
	eng.globalAddrs[id] = addr
	if g.Init != nil {
		if err := eng.heap.writeBytes(addr&^heapTag, g.Init); err != nil {
			return 0, err
		}
	}
	for _, r := range g.Relocs {
		var target uint64
		switch r.Kind {
		case mir.RelocGlobal:
			t, err := eng.globalAddr(r.Global)
			if err != nil {
				return 0, err
			}
			target = t
		case mir.RelocFunc:
			target = funcAddr(r.Func)
		}
		if err := eng.memStore(addr+uint64(r.Offset), target+uint64(r.Addend), mir.CPtr); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// typeInfoAddr lazily materializes the reflection tables into engine
// memory, with the exact bytes codegen emits. The table is rebuilt
// when new types were registered since the last touch.
func (eng *Engine) typeInfoAddr(ty types.TypeID) uint64 {
	if eng.rtCount != eng.Types.Len() {
		table := rtinfo.Build(eng.Types, eng.Lay, eng.Info.World.Strings)
		records := eng.heap.alloc(len(table.Records), 8) | heapTag
		extra := eng.heap.alloc(len(table.Extra)+1, 8) | heapTag
		_ = eng.heap.writeBytes(records&^heapTag, table.Records)
		if len(table.Extra) > 0 {
			_ = eng.heap.writeBytes(extra&^heapTag, table.Extra)
		}
		for _, r := range table.Relocs {
			src := records + uint64(r.SrcOff)
			if r.InExtra {
				src = extra + uint64(r.SrcOff)
			}
			_ = eng.memStore(src, extra+uint64(r.TargetOff), mir.CPtr)
		}
		eng.rtRecords = records
		eng.rtExtra = extra
		eng.rtCount = table.Count
	}
	if int(ty) >= eng.rtCount {
		return eng.rtRecords
	}
	return eng.rtRecords + uint64(int(ty)*rtinfo.RecordSize)
}
