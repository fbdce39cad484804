// Package driver orchestrates the compilation pipeline: load and
// parse the module graph, lower to HIR, type-check with comptime
// evaluation on demand, lower to MIR, and emit LLVM IR.
package driver

import (
	"context"
	"fmt"
	"path/filepath"

	"capy/internal/backend/llvm"
	"capy/internal/comptime"
	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/layout"
	"capy/internal/mir"
	"capy/internal/project"
	"capy/internal/sema"
	"capy/internal/source"
	"capy/internal/types"
)

// Options configures one compilation.
type Options struct {
	// ModDir overrides the modules directory.
	ModDir string
	// Target overrides the host triple.
	Target string
	// CacheDir overrides the cache root; empty uses the user cache,
	// "-" disables caching entirely.
	CacheDir string
	// MaxDiagnostics caps collected diagnostics (default 100).
	MaxDiagnostics int
	// ComptimeBudget caps comptime instructions per invocation;
	// 0 means unlimited.
	ComptimeBudget uint64
	// EmitMIR attaches the printed MIR to the result.
	EmitMIR bool
	// Observer receives phase notifications; may be nil.
	Observer Observer
}

// Observer is notified as the pipeline advances; the TUI build view
// implements it.
type Observer interface {
	Phase(name string)
	File(path, status string)
}

// Result is everything a caller may want back from a compilation.
type Result struct {
	Files   *source.FileSet
	Strings *source.Interner
	World   *hir.World
	Bag     *diag.Bag
	Info    *sema.Info
	Engine  *comptime.Engine
	Entry   *hir.Module
	MIR     *mir.Module
	MIRText string
	LLVM    string

	// EntrySymbol and EntryResultBits parameterize the trampoline.
	EntrySymbol     string
	EntryResultBits int
	EntrySigned     bool
}

func (opts *Options) fill() {
	if opts.MaxDiagnostics <= 0 {
		opts.MaxDiagnostics = 100
	}
	if opts.ModDir == "" {
		opts.ModDir = project.DefaultModDir()
	}
}

func (opts *Options) phase(name string) {
	if opts.Observer != nil {
		opts.Observer.Phase(name)
	}
}

// Compile runs the pipeline for one entry file. Phase order is fixed
// and sequential; ctx is honored between phases.
func Compile(ctx context.Context, entryPath string, opts Options) (*Result, error) {
	opts.fill()
	res := &Result{
		Files:   source.NewFileSet(),
		Strings: source.NewInterner(),
		Bag:     diag.NewBag(opts.MaxDiagnostics),
	}
	reporter := diag.BagReporter{Bag: res.Bag}

	var dcache *DiskCache
	var ctCache *comptime.Cache
	cacheRoot := opts.CacheDir
	if cacheRoot == "" {
		cacheRoot = project.CacheDir()
	}
	if cacheRoot != "" && cacheRoot != "-" {
		dcache, _ = OpenDiskCache(cacheRoot)
		ctCache, _ = comptime.OpenCache(cacheRoot)
	}

	abs, err := filepath.Abs(entryPath)
	if err != nil {
		return res, err
	}

	opts.phase("parse")
	ld := newLoader(res.Files, res.Strings, reporter, opts.ModDir, dcache)
	if err := ld.load(abs, source.Span{}); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	opts.phase("lower")
	res.World = hir.NewWorld(res.Strings)
	res.Entry = ld.lowerAll(res.World, abs)
	if res.Entry == nil {
		return res, fmt.Errorf("entry module %s did not lower", entryPath)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	opts.phase("check")
	ty := types.NewInterner()
	lay := layout.New(layout.ForTriple(opts.Target), ty)
	res.Info = sema.NewInfo(res.World, ty, lay, reporter)
	res.Engine = comptime.NewEngine(res.Info, lay, res.Files, reporter)
	res.Engine.Cache = ctCache
	res.Engine.InstrBudget = opts.ComptimeBudget
	res.Info.SetEvaluator(res.Engine)

	sema.CheckWorld(res.Info)
	entryOK := sema.CheckEntrypoint(res.Info, res.Entry)
	if res.Bag.HasErrors() || !entryOK {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	opts.phase("codegen")
	lowerer := mir.NewLowerer(res.Info, lay, reporter)
	res.MIR = lowerer.LowerWorld()
	// The entry trampoline reads args through the runtime; make sure
	// the slice global exists even when the program never names it.
	lowerer.ArgsGlobal()
	if opts.EmitMIR {
		res.MIRText = mir.Print(res.MIR)
	}
	if res.Bag.HasErrors() {
		return res, nil
	}

	res.EntrySymbol, res.EntryResultBits, res.EntrySigned = entrySignature(res)

	emitter := llvm.NewEmitter(res.MIR, ty, lay, res.Strings)
	emitter.SetEntry(res.EntrySymbol, res.EntryResultBits, res.EntrySigned)
	out, err := emitter.Emit()
	if err != nil {
		reporter.Report(diag.CodegenUnsupported, diag.SevError, source.Span{}, err.Error(), nil)
		return res, nil
	}
	res.LLVM = out
	return res, nil
}

// entrySignature resolves the user main's symbol and return shape for
// the trampoline.
func entrySignature(res *Result) (string, int, bool) {
	name := res.Strings.Intern("main")
	_, bid, ok := res.Entry.Binding(name)
	if !ok {
		return "", 0, false
	}
	key := sema.GlobalKey{Module: res.Entry.ID, Binding: bid}
	fnType := res.Info.GlobalType(key)
	info, ok := res.Info.Types.FnInfo(fnType)
	if !ok {
		return "", 0, false
	}
	symbol := res.Entry.Name + ".main"
	result := info.Result
	if result == res.Info.Types.Builtins().Void {
		return symbol, 0, false
	}
	bits := 32
	signed := true
	if tt, ok := res.Info.Types.Lookup(res.Info.Types.Underlying(result)); ok && tt.Kind == types.KindInt {
		signed = tt.Signed
		switch tt.Width {
		case types.Width8:
			bits = 8
		case types.Width16:
			bits = 16
		case types.Width32:
			bits = 32
		default:
			bits = 64
		}
	}
	return symbol, bits, signed
}
