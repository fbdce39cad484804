package hir

import (
	"testing"

	"capy/internal/ast"
	"capy/internal/diag"
	"capy/internal/parser"
	"capy/internal/source"
)

func lowerSource(t *testing.T, src string) (*World, *Module, *diag.Bag) {
	t.Helper()
	fs := source.NewFileSet()
	id := fs.AddVirtual("test.capy", []byte(src))
	strs := source.NewInterner()
	bag := diag.NewBag(32)
	reporter := diag.BagReporter{Bag: bag}
	f := parser.ParseFile(fs.Get(id), strs, reporter)
	world := NewWorld(strs)
	mod := LowerFile(world, f, "test", nil, reporter)
	return world, mod, bag
}

func TestLowerResolvesTopLevelForwardRefs(t *testing.T) {
	_, mod, bag := lowerSource(t, `
main :: () { println(helper()) }
helper :: () -> i32 { return 42 }
`)
	if bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", bag.Items())
	}
	if len(mod.Funcs) != 2 {
		t.Fatalf("funcs = %d, want 2", len(mod.Funcs))
	}
	// Find the call to helper inside main's body and check it resolved
	// to a global reference.
	foundGlobal := false
	for i := 1; i < mod.NumExprs(); i++ {
		e := mod.Expr(ExprID(i))
		if e.Kind == ExprGlobal {
			foundGlobal = true
		}
	}
	if !foundGlobal {
		t.Fatal("forward reference did not lower to ExprGlobal")
	}
}

func TestLowerUnresolvedNameKeepsGoing(t *testing.T) {
	_, mod, bag := lowerSource(t, `
main :: () {
	println(missing)
	println(1)
}
`)
	if !bag.HasErrors() {
		t.Fatal("expected an unresolved-name diagnostic")
	}
	if bag.Items()[0].Code != diag.NameUnresolved {
		t.Fatalf("code = %v", bag.Items()[0].Code)
	}
	// Lowering must not abort: the first call stays a statement and the
	// second is the block's tail expression.
	body := mod.Expr(mod.Funcs[0].Body)
	if len(body.Stmts) != 1 || body.Tail() == NoExprID {
		t.Fatalf("stmts = %d, tail = %d; want 1 statement plus the trailing call as tail", len(body.Stmts), body.Tail())
	}
}

func TestLowerBuiltinsResolve(t *testing.T) {
	_, mod, bag := lowerSource(t, `x : i32 = 5`)
	if bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", bag.Items())
	}
	ty := mod.Expr(mod.Bindings[0].Type)
	if ty.Kind != ExprBuiltin || ty.Builtin != BuiltinI32 {
		t.Fatalf("type expr = %+v", ty)
	}
}

func TestLowerDeferBecomesTrailer(t *testing.T) {
	_, mod, bag := lowerSource(t, `
main :: () {
	x := 1
	defer println(x)
	println(2)
}
`)
	if bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", bag.Items())
	}
	body := mod.Expr(mod.Funcs[0].Body)
	if len(body.Defers) != 1 {
		t.Fatalf("defers = %d, want 1", len(body.Defers))
	}
	// Defer is removed from the statement list; the last call is the
	// block's tail expression.
	if len(body.Stmts) != 1 || body.Tail() == NoExprID {
		t.Fatalf("stmts = %d, tail = %d; want 1 statement plus the trailing call as tail", len(body.Stmts), body.Tail())
	}
}

func TestLowerShadowingInBlocks(t *testing.T) {
	_, mod, bag := lowerSource(t, `
main :: () {
	x := 1
	x := 2
	println(x)
}
`)
	if bag.HasErrors() {
		t.Fatalf("shadowing must be allowed: %+v", bag.Items())
	}
	if len(mod.Locals) != 2 {
		t.Fatalf("locals = %d, want 2 slots", len(mod.Locals))
	}
	// The println reference must point at the second slot.
	var ref *Expr
	for i := 1; i < mod.NumExprs(); i++ {
		e := mod.Expr(ExprID(i))
		if e.Kind == ExprLocal {
			ref = e
		}
	}
	if ref == nil || ref.Local != LocalID(1) {
		t.Fatalf("reference = %+v, want local 1", ref)
	}
}

func TestLowerLambdaRejectsCaptures(t *testing.T) {
	_, _, bag := lowerSource(t, `
main :: () {
	x := 1
	f := (a: i32) -> i32 { return a + x }
}
`)
	if !bag.HasErrors() {
		t.Fatal("capturing lambda must be rejected")
	}
	found := false
	for _, d := range bag.Items() {
		if d.Code == diag.TypeMutCapture {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected capture diagnostic, got %+v", bag.Items())
	}
}

func TestLowerLiftedLambdaGetsSynthesizedName(t *testing.T) {
	_, mod, bag := lowerSource(t, `
main :: () {
	f := (a: i32) -> i32 { return a * 2 }
}
`)
	if bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", bag.Items())
	}
	if len(mod.Funcs) != 2 {
		t.Fatalf("funcs = %d, want 2", len(mod.Funcs))
	}
	if mod.Funcs[1].Name != "main.fn0" {
		t.Fatalf("lifted name = %q", mod.Funcs[1].Name)
	}
}

func TestLowerImports(t *testing.T) {
	fs := source.NewFileSet()
	id := fs.AddVirtual("test.capy", []byte(`core :: #mod("core")`))
	strs := source.NewInterner()
	bag := diag.NewBag(8)
	reporter := diag.BagReporter{Bag: bag}
	f := parser.ParseFile(fs.Get(id), strs, reporter)
	world := NewWorld(strs)
	resolver := func(kind ast.ImportKind, path string, _ source.Span) (ModuleID, bool) {
		if kind == ast.ImportMod && path == "core" {
			return ModuleID(7), true
		}
		return NoModuleID, false
	}
	mod := LowerFile(world, f, "test", resolver, reporter)
	if bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", bag.Items())
	}
	if len(mod.Imports) != 1 || mod.Imports[0].Resolved != ModuleID(7) {
		t.Fatalf("imports = %+v", mod.Imports)
	}
	init := mod.Expr(mod.Bindings[0].Init)
	if init.Kind != ExprImportRef || init.Module != ModuleID(7) {
		t.Fatalf("init = %+v", init)
	}
}

func TestLowerSwitchArmsGetOwnBinders(t *testing.T) {
	_, mod, _ := lowerSource(t, `
main :: () {
	v := 1
	switch p in v {
		A => { println(p) },
		B => { println(p) },
	}
}
`)
	var sw *Stmt
	body := mod.Expr(mod.Funcs[0].Body)
	for _, sid := range body.Stmts {
		if mod.Stmt(sid).Kind == StmtSwitch {
			sw = mod.Stmt(sid)
		}
	}
	if sw == nil {
		t.Fatal("switch statement not lowered")
	}
	if len(sw.Arms) != 2 {
		t.Fatalf("arms = %d", len(sw.Arms))
	}
	if sw.Arms[0].Binder == sw.Arms[1].Binder {
		t.Fatal("each arm must own its binder slot")
	}
}
