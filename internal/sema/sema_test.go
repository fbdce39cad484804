package sema

import (
	"strings"
	"testing"

	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/layout"
	"capy/internal/parser"
	"capy/internal/source"
	"capy/internal/types"
)

type checkedProgram struct {
	world *hir.World
	mod   *hir.Module
	info  *Info
	bag   *diag.Bag
}

func checkSource(t *testing.T, src string) checkedProgram {
	t.Helper()
	fs := source.NewFileSet()
	id := fs.AddVirtual("test.capy", []byte(src))
	strs := source.NewInterner()
	bag := diag.NewBag(64)
	reporter := diag.BagReporter{Bag: bag}

	f := parser.ParseFile(fs.Get(id), strs, reporter)
	world := hir.NewWorld(strs)
	mod := hir.LowerFile(world, f, "test", nil, reporter)

	ty := types.NewInterner()
	lay := layout.New(layout.X8664LinuxGNU(), ty)
	info := NewInfo(world, ty, lay, reporter)
	CheckWorld(info)
	return checkedProgram{world: world, mod: mod, info: info, bag: bag}
}

func (p checkedProgram) globalByName(t *testing.T, name string) (GlobalKey, *hir.Binding) {
	t.Helper()
	sid := p.world.Strings.Intern(name)
	b, bid, ok := p.mod.Binding(sid)
	if !ok {
		t.Fatalf("no binding %q", name)
	}
	return GlobalKey{Module: p.mod.ID, Binding: bid}, b
}

func (p checkedProgram) wantClean(t *testing.T) {
	t.Helper()
	if p.bag.HasErrors() {
		t.Fatalf("unexpected diagnostics: %+v", p.bag.Items())
	}
}

func (p checkedProgram) wantCode(t *testing.T, code diag.Code) {
	t.Helper()
	for _, d := range p.bag.Items() {
		if d.Code == code {
			return
		}
	}
	t.Fatalf("expected %v, got %+v", code, p.bag.Items())
}

func TestInferConstLiteral(t *testing.T) {
	p := checkSource(t, `x :: 5`)
	p.wantClean(t)
	key, _ := p.globalByName(t, "x")
	b := p.info.Types.Builtins()
	if got := p.info.GlobalType(key); got != b.I32 {
		t.Fatalf("type = %s", p.info.Types.Format(got, p.world.Strings))
	}
	if !p.info.GlobalIsConst(key) {
		t.Fatal("literal-initialized immutable binding must be const")
	}
	v, ok := p.info.GlobalValue(key)
	if !ok || len(v.Bytes) != 4 || v.Bytes[0] != 5 {
		t.Fatalf("value = %+v ok=%v", v, ok)
	}
}

func TestDeclaredTypeGuidesLiteral(t *testing.T) {
	p := checkSource(t, `x : i64 = 5`)
	p.wantClean(t)
	key, _ := p.globalByName(t, "x")
	if got := p.info.GlobalType(key); got != p.info.Types.Builtins().I64 {
		t.Fatalf("type = %s", p.info.Types.Format(got, p.world.Strings))
	}
	if p.info.GlobalIsConst(key) {
		t.Fatal("a := form binding is mutable, not const")
	}
}

func TestLiteralRangeAdmission(t *testing.T) {
	p := checkSource(t, `x : u8 = 300`)
	p.wantCode(t, diag.TypeMismatch)
}

func TestDistinctStrictness(t *testing.T) {
	// Assigning the underlying type to a distinct variable without a
	// cast must fail anywhere but the declaration site.
	p := checkSource(t, `
Meters :: distinct i64
main :: () {
	m : Meters = 5
	raw : i64 = 7
	m = raw
}
`)
	p.wantCode(t, diag.TypeMismatch)

	p2 := checkSource(t, `
Meters :: distinct i64
main :: () {
	m : Meters = 5
	m = Meters.(9)
}
`)
	p2.wantClean(t)
}

func TestDistinctCastBothWays(t *testing.T) {
	p := checkSource(t, `
Meters :: distinct i64
main :: () {
	m : Meters = 5
	raw := i64.(m)
	back := Meters.(raw)
	println(back)
	println(raw)
}
`)
	p.wantClean(t)
}

func TestArrayToSliceImplicit(t *testing.T) {
	p := checkSource(t, `
sum :: (xs: []i32) -> i32 { return 0 }
main :: () {
	arr := i32.[4, 8, 15, 16, 23, 42]
	println(sum(arr))
}
`)
	p.wantClean(t)
}

func TestImmutablePointerRules(t *testing.T) {
	// ^T where ^mut T is expected must fail.
	p := checkSource(t, `
bump :: (p: ^mut i32) { }
main :: () {
	x := 5
	q := ^x
	bump(q)
}
`)
	p.wantCode(t, diag.TypeMismatch)

	// mutable to immutable is fine.
	p2 := checkSource(t, `
peek :: (p: ^i32) { }
main :: () {
	x := 5
	q := ^mut x
	peek(q)
}
`)
	p2.wantClean(t)
}

func TestAutoAddressOfOnCall(t *testing.T) {
	p := checkSource(t, `
bump :: (p: ^mut i32) { }
main :: () {
	x := 5
	bump(x)
}
`)
	p.wantClean(t)
}

func TestAutoDerefOnMemberAccess(t *testing.T) {
	p := checkSource(t, `
Point :: struct { x: i32, y: i32 }
get_y :: (p: ^Point) -> i32 { return p.y }
main :: () {
	pt := Point.{x = 3, y = 4}
	println(get_y(pt))
}
`)
	p.wantClean(t)
}

func TestConstCycleDiagnosed(t *testing.T) {
	p := checkSource(t, `
A :: B
B :: A
`)
	p.wantCode(t, diag.TypeSelfReferential)
}

func TestMutableBindingNotUsableAsType(t *testing.T) {
	p := checkSource(t, `
T := i32
x : T = 5
`)
	p.wantCode(t, diag.ConstRequired)
}

func TestStructLitFieldChecks(t *testing.T) {
	p := checkSource(t, `
Point :: struct { x: i32, y: i32 }
a :: Point.{x = 1}
`)
	p.wantCode(t, diag.TypeNoSuchMember)

	p2 := checkSource(t, `
Point :: struct { x: i32, y: i32 }
main :: () {
	a := Point.{x = 1, y = 2, z = 3}
}
`)
	p2.wantCode(t, diag.TypeNoSuchMember)
}

func TestEnumVariantTyping(t *testing.T) {
	p := checkSource(t, `
E :: enum { A: i32, B: str }
main :: () {
	v := E.B.("hi")
	switch payload in v {
		E.A => { println(payload) },
		E.B => { println(payload) },
	}
}
`)
	p.wantClean(t)

	// The switch binder takes each arm's payload type.
	b := p.info.Types.Builtins()
	var binderTypes []types.TypeID
	for i := range p.mod.Locals {
		name, _ := p.world.Strings.Lookup(p.mod.Locals[i].Name)
		if name == "payload" {
			binderTypes = append(binderTypes, p.info.LocalType(p.mod.ID, hir.LocalID(i)))
		}
	}
	if len(binderTypes) != 2 || binderTypes[0] != b.I32 || binderTypes[1] != b.String {
		t.Fatalf("binder types = %v", binderTypes)
	}
}

func TestVariantCoercesToOwningEnum(t *testing.T) {
	p := checkSource(t, `
E :: enum { A: i32, B: str }
main :: () {
	v : E = E.A.(1)
	println(v)
}
`)
	p.wantClean(t)
}

func TestSizeOfFoldsForKnownTypes(t *testing.T) {
	p := checkSource(t, `
Point :: struct { x: i32, y: i32 }
n :: size_of(Point)
`)
	p.wantClean(t)
	key, _ := p.globalByName(t, "n")
	v, ok := p.info.GlobalValue(key)
	if !ok {
		t.Fatal("size_of over a known type must fold")
	}
	if got := v.Bytes[0]; got != 8 {
		t.Fatalf("size_of(Point) = %d, want 8", got)
	}
}

func TestEntrypointValidation(t *testing.T) {
	good := checkSource(t, `main :: () { }`)
	good.wantClean(t)
	if !CheckEntrypoint(good.info, good.mod) {
		t.Fatal("void main must validate")
	}

	goodInt := checkSource(t, `main :: () -> i32 { return 0 }`)
	if !CheckEntrypoint(goodInt.info, goodInt.mod) {
		t.Fatal("integer main must validate")
	}

	badParams := checkSource(t, `main :: (x: i32) { }`)
	if CheckEntrypoint(badParams.info, badParams.mod) {
		t.Fatal("main with params must be rejected")
	}

	badResult := checkSource(t, `main :: () -> str { return "x" }`)
	if CheckEntrypoint(badResult.info, badResult.mod) {
		t.Fatal("str-returning main must be rejected")
	}
}

func TestImmutableWriteDiagnosed(t *testing.T) {
	p := checkSource(t, `
main :: () {
	x :: 5
	x = 6
}
`)
	p.wantCode(t, diag.TypeImmutableWrite)
}

func TestAssignThroughImmutablePointer(t *testing.T) {
	p := checkSource(t, `
main :: () {
	x := 5
	p := ^x
	p^ = 7
}
`)
	p.wantCode(t, diag.TypeImmutableWrite)
}

func TestFirstClassFunctionParams(t *testing.T) {
	p := checkSource(t, `
apply :: (fn: (i32, i32) -> i32, a: i32, b: i32) -> i32 {
	return fn(a, b)
}
add :: (a: i32, b: i32) -> i32 { return a + b }
main :: () {
	println(apply(add, 2, 3))
}
`)
	p.wantClean(t)
}

func TestTypeIdentityAcrossDeclarations(t *testing.T) {
	p := checkSource(t, `
A :: struct { x: i32 }
B :: struct { x: i32 }
`)
	p.wantClean(t)
	ka, _ := p.globalByName(t, "A")
	kb, _ := p.globalByName(t, "B")
	va, _ := p.info.GlobalValue(ka)
	vb, _ := p.info.GlobalValue(kb)
	if typeFromValue(va) != typeFromValue(vb) {
		t.Fatal("structurally equal struct declarations must share a type id")
	}
}

func TestErrorTypeSilencesCascades(t *testing.T) {
	p := checkSource(t, `
main :: () {
	y := missing + 1
	z := y * 2
	println(z)
}
`)
	count := 0
	for _, d := range p.bag.Items() {
		if d.Severity == diag.SevError {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("want exactly the unresolved-name error, got %d: %+v", count, p.bag.Items())
	}
}

func TestComptimeCannotReadRuntimeLocals(t *testing.T) {
	p := checkSource(t, `
main :: () {
	x := 5
	y :: comptime { x + 1 }
	println(y)
}
`)
	p.wantCode(t, diag.ComptimeLimitation)
}

func TestComptimeMayReadConstLocals(t *testing.T) {
	p := checkSource(t, `
main :: () {
	n :: 4
	m :: comptime { n }
	println(m)
}
`)
	for _, d := range p.bag.Items() {
		if d.Code == diag.ComptimeLimitation {
			t.Fatalf("const local must be readable at comptime: %+v", d)
		}
	}
}

func TestBadCastDiagnosed(t *testing.T) {
	p := checkSource(t, `
Point :: struct { x: i32, y: i32 }
main :: () {
	pt := Point.{x = 1, y = 2}
	n := i32.(pt)
}
`)
	p.wantCode(t, diag.TypeBadCast)
}

func TestScalarCastsAllowed(t *testing.T) {
	p := checkSource(t, `
main :: () {
	a := i32.(3.7)
	b := f64.(42)
	c := u8.('x')
	d := bool.(1)
	println(a)
	println(b)
	println(c)
	println(d)
}
`)
	p.wantClean(t)
}

func TestLambdaValueHasFunctionType(t *testing.T) {
	p := checkSource(t, `
main :: () {
	double := (x: i32) -> i32 { return x * 2 }
	println(double(21))
}
`)
	p.wantClean(t)
}

func TestUnterminatedUseDoesNotPanic(t *testing.T) {
	// Malformed programs must produce diagnostics, never panics.
	srcs := []string{
		`x :: `,
		`main :: () { if }`,
		`E :: enum { A: }`,
		`main :: () { switch p in { } }`,
	}
	for _, src := range srcs {
		p := checkSource(t, src)
		if !p.bag.HasErrors() && !strings.Contains(src, "switch") {
			t.Fatalf("expected diagnostics for %q", src)
		}
	}
}
