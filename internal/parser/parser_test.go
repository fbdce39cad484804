package parser

import (
	"testing"

	"capy/internal/ast"
	"capy/internal/diag"
	"capy/internal/source"
)

func parse(t *testing.T, src string) (*ast.File, *diag.Bag, *source.Interner) {
	t.Helper()
	fs := source.NewFileSet()
	id := fs.AddVirtual("test.capy", []byte(src))
	bag := diag.NewBag(32)
	interner := source.NewInterner()
	f := ParseFile(fs.Get(id), interner, diag.BagReporter{Bag: bag})
	return f, bag, interner
}

func parseClean(t *testing.T, src string) (*ast.File, *source.Interner) {
	t.Helper()
	f, bag, interner := parse(t, src)
	if bag.HasErrors() {
		t.Fatalf("unexpected diagnostics: %+v", bag.Items())
	}
	return f, interner
}

func TestParseConstComptimeBinding(t *testing.T) {
	f, _ := parseClean(t, "x :: comptime { 5 * 2 }")
	if len(f.Items) != 1 {
		t.Fatalf("items = %d", len(f.Items))
	}
	b := f.Items[0]
	if b.Kind != ast.BindConst {
		t.Fatalf("kind = %v, want const", b.Kind)
	}
	ct, ok := b.Init.(*ast.Comptime)
	if !ok {
		t.Fatalf("init = %T, want *ast.Comptime", b.Init)
	}
	if ct.Body.Tail == nil {
		t.Fatal("comptime block should have a tail expression")
	}
	bin, ok := ct.Body.Tail.(*ast.Binary)
	if !ok || bin.Op != ast.OpMul {
		t.Fatalf("tail = %#v", ct.Body.Tail)
	}
}

func TestParseFunctionBinding(t *testing.T) {
	f, interner := parseClean(t, `
add :: (a: i32, b: i32) -> i32 {
	return a + b
}
main :: () {
	println(add(1, 2))
}
`)
	if len(f.Items) != 2 {
		t.Fatalf("items = %d", len(f.Items))
	}
	fn, ok := f.Items[0].Init.(*ast.Lambda)
	if !ok {
		t.Fatalf("init = %T", f.Items[0].Init)
	}
	if len(fn.Params) != 2 {
		t.Fatalf("params = %d", len(fn.Params))
	}
	if got, _ := interner.Lookup(fn.Params[0].Name); got != "a" {
		t.Fatalf("param 0 = %q", got)
	}
	if fn.Result == nil {
		t.Fatal("expected result type")
	}
	mainFn, ok := f.Items[1].Init.(*ast.Lambda)
	if !ok || mainFn.Result != nil || len(mainFn.Params) != 0 {
		t.Fatalf("main = %#v", f.Items[1].Init)
	}
}

func TestParseStructEnumDecls(t *testing.T) {
	f, interner := parseClean(t, `
Point :: struct { x: i32, y: i32 }
E :: enum { A: i32, B: str | 4 }
`)
	st, ok := f.Items[0].Init.(*ast.StructType)
	if !ok || len(st.Fields) != 2 {
		t.Fatalf("struct = %#v", f.Items[0].Init)
	}
	en, ok := f.Items[1].Init.(*ast.EnumType)
	if !ok || len(en.Variants) != 2 {
		t.Fatalf("enum = %#v", f.Items[1].Init)
	}
	if en.Variants[0].Discriminant != -1 {
		t.Fatalf("variant A discriminant = %d, want default", en.Variants[0].Discriminant)
	}
	if en.Variants[1].Discriminant != 4 {
		t.Fatalf("variant B discriminant = %d, want 4", en.Variants[1].Discriminant)
	}
	if name, _ := interner.Lookup(en.Variants[1].Name); name != "B" {
		t.Fatalf("variant name = %q", name)
	}
	if _, ok := en.Variants[1].Payload.(*ast.Ident); !ok {
		t.Fatalf("payload = %#v, want identifier str", en.Variants[1].Payload)
	}
}

func TestParsePostfixForms(t *testing.T) {
	f, _ := parseClean(t, `
v :: E.B.("hi")
arr := i32.[4, 8, 15]
p :: Point.{x = 3, y = 4}
`)
	cast, ok := f.Items[0].Init.(*ast.Cast)
	if !ok {
		t.Fatalf("cast = %T", f.Items[0].Init)
	}
	if _, ok := cast.Type.(*ast.Member); !ok {
		t.Fatalf("cast type = %T, want member E.B", cast.Type)
	}
	arr, ok := f.Items[1].Init.(*ast.ArrayLit)
	if !ok || len(arr.Elems) != 3 {
		t.Fatalf("array lit = %#v", f.Items[1].Init)
	}
	lit, ok := f.Items[2].Init.(*ast.StructLit)
	if !ok || len(lit.Fields) != 2 {
		t.Fatalf("struct lit = %#v", f.Items[2].Init)
	}
}

func TestParsePointerForms(t *testing.T) {
	f, _ := parseClean(t, `
p :: ^mut i32
main :: () {
	x := 5
	q := ^mut x
	y := q^
}
`)
	addr, ok := f.Items[0].Init.(*ast.AddrOf)
	if !ok || !addr.Mut {
		t.Fatalf("pointer type = %#v", f.Items[0].Init)
	}
	body := f.Items[1].Init.(*ast.Lambda).Body
	if len(body.Stmts) != 3 {
		t.Fatalf("stmts = %d", len(body.Stmts))
	}
	last := body.Stmts[2].(*ast.BindStmt)
	if _, ok := last.Bind.Init.(*ast.Deref); !ok {
		t.Fatalf("deref = %#v", last.Bind.Init)
	}
}

func TestParseSwitch(t *testing.T) {
	f, _ := parseClean(t, `
main :: () {
	switch payload in v {
		E.A => { println(payload) },
		E.B => { println(payload) },
	}
}
`)
	body := f.Items[0].Init.(*ast.Lambda).Body
	sw, ok := body.Stmts[0].(*ast.SwitchStmt)
	if !ok {
		t.Fatalf("stmt = %T", body.Stmts[0])
	}
	if sw.Binder == source.NoStringID {
		t.Fatal("expected payload binder")
	}
	if len(sw.Arms) != 2 {
		t.Fatalf("arms = %d", len(sw.Arms))
	}
}

func TestParseImports(t *testing.T) {
	f, _ := parseClean(t, `
core :: #mod("core")
helpers :: #import("helpers.capy")
`)
	mod, ok := f.Items[0].Init.(*ast.Import)
	if !ok || mod.Kind != ast.ImportMod || mod.Path != "core" {
		t.Fatalf("mod import = %#v", f.Items[0].Init)
	}
	file, ok := f.Items[1].Init.(*ast.Import)
	if !ok || file.Kind != ast.ImportFile || file.Path != "helpers.capy" {
		t.Fatalf("file import = %#v", f.Items[1].Init)
	}
}

func TestParseFuncTypeParam(t *testing.T) {
	f, _ := parseClean(t, `apply :: (fn: (i32, i32) -> i32, a: i32, b: i32) -> i32 { return fn(a, b) }`)
	lambda := f.Items[0].Init.(*ast.Lambda)
	ft, ok := lambda.Params[0].Type.(*ast.FuncType)
	if !ok || len(ft.Params) != 2 || ft.Result == nil {
		t.Fatalf("fn type param = %#v", lambda.Params[0].Type)
	}
}

func TestParseIfExpressionTail(t *testing.T) {
	f, _ := parseClean(t, `T :: comptime { if true { i32 } else { i64 } }`)
	ct := f.Items[0].Init.(*ast.Comptime)
	ifx, ok := ct.Body.Tail.(*ast.If)
	if !ok {
		t.Fatalf("tail = %T", ct.Body.Tail)
	}
	if ifx.Then.Tail == nil || ifx.Else == nil {
		t.Fatalf("if arms = %#v", ifx)
	}
}

func TestParseDeferAndWhile(t *testing.T) {
	f, _ := parseClean(t, `
main :: () {
	i := 0
	defer println(i)
	while i < 10 {
		i = i + 1
	}
}
`)
	body := f.Items[0].Init.(*ast.Lambda).Body
	if _, ok := body.Stmts[1].(*ast.DeferStmt); !ok {
		t.Fatalf("stmt 1 = %T", body.Stmts[1])
	}
	loop, ok := body.Stmts[2].(*ast.WhileStmt)
	if !ok {
		t.Fatalf("stmt 2 = %T", body.Stmts[2])
	}
	if _, ok := loop.Body.Stmts[0].(*ast.AssignStmt); !ok {
		t.Fatalf("loop stmt = %T", loop.Body.Stmts[0])
	}
}

func TestParseRecoversFromErrors(t *testing.T) {
	f, bag, _ := parse(t, `
x :: 5 @@
y :: 6
`)
	if !bag.HasErrors() {
		t.Fatal("expected diagnostics")
	}
	// The second binding must still be parsed.
	found := false
	for _, item := range f.Items {
		if item.Init != nil {
			if lit, ok := item.Init.(*ast.IntLit); ok && lit.Text == "6" {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("binding after the error was lost: %+v", f.Items)
	}
}

func TestParseDistinct(t *testing.T) {
	f, _ := parseClean(t, `Meters :: distinct i64`)
	d, ok := f.Items[0].Init.(*ast.DistinctType)
	if !ok {
		t.Fatalf("init = %T", f.Items[0].Init)
	}
	if _, ok := d.Base.(*ast.Ident); !ok {
		t.Fatalf("base = %T", d.Base)
	}
}

func TestParseExtern(t *testing.T) {
	f, _ := parseClean(t, `puts :: extern (s: str) -> i32`)
	fn, ok := f.Items[0].Init.(*ast.Lambda)
	if !ok || !fn.Extern || fn.Body != nil {
		t.Fatalf("extern fn = %#v", f.Items[0].Init)
	}
}
