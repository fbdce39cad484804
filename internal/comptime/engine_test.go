package comptime

import (
	"bytes"
	"encoding/binary"
	"testing"

	"capy/internal/diag"
	"capy/internal/hir"
	"capy/internal/layout"
	"capy/internal/parser"
	"capy/internal/sema"
	"capy/internal/source"
	"capy/internal/types"
)

type program struct {
	world  *hir.World
	mod    *hir.Module
	info   *sema.Info
	engine *Engine
	bag    *diag.Bag
	out    *bytes.Buffer
	files  *source.FileSet
}

func compile(t *testing.T, src string) *program {
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
	info := sema.NewInfo(world, ty, lay, reporter)
	engine := NewEngine(info, lay, fs, reporter)
	out := &bytes.Buffer{}
	engine.Stdout = out
	info.SetEvaluator(engine)
	sema.CheckWorld(info)

	return &program{world: world, mod: mod, info: info, engine: engine, bag: bag, out: out, files: fs}
}

func (p *program) constValue(t *testing.T, name string) sema.Value {
	t.Helper()
	sid := p.world.Strings.Intern(name)
	_, bid, ok := p.mod.Binding(sid)
	if !ok {
		t.Fatalf("no binding %q", name)
	}
	v, ok := p.info.GlobalValue(sema.GlobalKey{Module: p.mod.ID, Binding: bid})
	if !ok {
		t.Fatalf("binding %q has no comptime value; diagnostics: %+v", name, p.bag.Items())
	}
	return v
}

func u32At(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// forceValue requests a binding's bytes, triggering the lazy
// evaluation; callers asserting diagnostics expect ok to be false.
func (p *program) forceValue(t *testing.T, name string) bool {
	t.Helper()
	sid := p.world.Strings.Intern(name)
	_, bid, ok := p.mod.Binding(sid)
	if !ok {
		t.Fatalf("no binding %q", name)
	}
	_, ok = p.info.GlobalValue(sema.GlobalKey{Module: p.mod.ID, Binding: bid})
	return ok
}

func TestComptimeArithmetic(t *testing.T) {
	p := compile(t, `x :: comptime { 5 * 2 }`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	v := p.constValue(t, "x")
	if got := u32At(v.Bytes); got != 10 {
		t.Fatalf("value = %d, want 10", got)
	}
	// The multiplication ran inside the engine.
	found := false
	for _, inv := range p.engine.Invocations {
		if inv.State == StateDone && inv.Steps > 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("no completed invocation recorded: %+v", p.engine.Invocations)
	}
}

func TestComptimeStateMachineIsMonotonic(t *testing.T) {
	p := compile(t, `x :: comptime { 1 + 2 }`)
	p.constValue(t, "x")
	if len(p.engine.Invocations) == 0 {
		t.Fatal("no invocation recorded")
	}
	if got := p.engine.Invocations[0].State; got != StateDone {
		t.Fatalf("state = %v, want DONE", got)
	}
	// Transitions never go backwards.
	inv := &Invocation{State: StateExecuting}
	inv.transition(StateLowering)
	if inv.State != StateExecuting {
		t.Fatal("transition must be monotonic")
	}
}

func TestComptimeControlFlow(t *testing.T) {
	p := compile(t, `
x :: comptime {
	total := 0
	i := 1
	while i <= 10 {
		total = total + i
		i = i + 1
	}
	total
}
`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	v := p.constValue(t, "x")
	if got := u32At(v.Bytes); got != 55 {
		t.Fatalf("sum = %d, want 55", got)
	}
}

func TestComptimeFunctionCalls(t *testing.T) {
	p := compile(t, `
square :: (n: i32) -> i32 { return n * n }
x :: comptime { square(7) }
`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	if got := u32At(p.constValue(t, "x").Bytes); got != 49 {
		t.Fatalf("value = %d, want 49", got)
	}
}

func TestComptimeRecursion(t *testing.T) {
	p := compile(t, `
fib :: (n: i32) -> i32 {
	if n < 2 { return n }
	return fib(n - 1) + fib(n - 2)
}
x :: comptime { fib(10) }
`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	if got := u32At(p.constValue(t, "x").Bytes); got != 55 {
		t.Fatalf("fib(10) = %d, want 55", got)
	}
}

func TestComptimeTypeSelection(t *testing.T) {
	// A comptime block choosing between two types.
	p := compile(t, `
T :: comptime { if true { i32 } else { i64 } }
x : T = 7
n :: size_of(T)
`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	b := p.info.Types.Builtins()
	tv := p.constValue(t, "T")
	if got := types.TypeID(u32At(tv.Bytes)); got != b.I32 {
		t.Fatalf("T = %d, want i32 (%d)", got, b.I32)
	}
	nv := p.constValue(t, "n")
	if got := binary.LittleEndian.Uint64(nv.Bytes); got != 4 {
		t.Fatalf("size_of(T) = %d, want 4", got)
	}
}

func TestComptimeStructResult(t *testing.T) {
	p := compile(t, `
Point :: struct { x: i32, y: i32 }
p :: comptime { Point.{x = 3, y = 4} }
`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	v := p.constValue(t, "p")
	if len(v.Bytes) != 8 {
		t.Fatalf("byte len = %d, want 8", len(v.Bytes))
	}
	if x := u32At(v.Bytes); x != 3 {
		t.Fatalf("x = %d, want 3", x)
	}
	if y := u32At(v.Bytes[4:]); y != 4 {
		t.Fatalf("y = %d, want 4", y)
	}
}

func TestComptimeArrayResult(t *testing.T) {
	p := compile(t, `arr :: comptime { i32.[4, 8, 15, 16, 23, 42] }`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	v := p.constValue(t, "arr")
	want := []uint32{4, 8, 15, 16, 23, 42}
	if len(v.Bytes) != 24 {
		t.Fatalf("byte len = %d, want 24", len(v.Bytes))
	}
	for i, w := range want {
		if got := u32At(v.Bytes[i*4:]); got != w {
			t.Fatalf("elem %d = %d, want %d", i, got, w)
		}
	}
}

func TestComptimeEnumResult(t *testing.T) {
	// The discriminant byte follows the payload union.
	p := compile(t, `
E :: enum { A: i32, B: i64 }
v :: comptime { E.(E.B.(7)) }
`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	v := p.constValue(t, "v")
	if len(v.Bytes) != 16 {
		t.Fatalf("byte len = %d, want 16", len(v.Bytes))
	}
	if payload := binary.LittleEndian.Uint64(v.Bytes); payload != 7 {
		t.Fatalf("payload = %d, want 7", payload)
	}
	if disc := v.Bytes[8]; disc != 1 {
		t.Fatalf("discriminant = %d, want 1", disc)
	}
}

func TestComptimeArraySliceRoundTrip(t *testing.T) {
	// [N]T.([]T.(a)) must equal a byte for byte.
	p := compile(t, `
direct :: comptime { i32.[4, 8, 15, 16, 23, 42] }
round :: comptime {
	arr := i32.[4, 8, 15, 16, 23, 42]
	S :: []i32
	A :: [6]i32
	A.(S.(arr))
}
`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	a := p.constValue(t, "direct")
	b := p.constValue(t, "round")
	if !bytes.Equal(a.Bytes, b.Bytes) {
		t.Fatalf("round trip changed bytes: %v vs %v", a.Bytes, b.Bytes)
	}
}

func TestComptimeDivisionByZeroTraps(t *testing.T) {
	p := compile(t, `
x :: comptime {
	n := 0
	10 / n
}
`)
	if p.forceValue(t, "x") {
		t.Fatal("evaluation should have failed")
	}
	found := false
	for _, d := range p.bag.Items() {
		if d.Code == diag.ComptimeTrap {
			found = true
			if d.Primary.Empty() && d.Primary.Start == 0 {
				t.Fatalf("trap diagnostic lost its span: %+v", d)
			}
		}
	}
	if !found {
		t.Fatalf("expected a comptime trap, got %+v", p.bag.Items())
	}
}

func TestComptimeBoundsTrap(t *testing.T) {
	p := compile(t, `
x :: comptime {
	arr := i32.[1, 2, 3]
	i := 5
	arr[i]
}
`)
	if p.forceValue(t, "x") {
		t.Fatal("evaluation should have failed")
	}
	found := false
	for _, d := range p.bag.Items() {
		if d.Code == diag.ComptimeTrap {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a bounds trap, got %+v", p.bag.Items())
	}
}

func TestComptimePointerResultRejected(t *testing.T) {
	p := compile(t, `
x :: comptime {
	v := 5
	^v
}
`)
	if p.forceValue(t, "x") {
		t.Fatal("evaluation should have failed")
	}
	found := false
	for _, d := range p.bag.Items() {
		if d.Code == diag.ComptimeLimitation {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a comptime limitation, got %+v", p.bag.Items())
	}
}

func TestComptimePrintlnGoesToHost(t *testing.T) {
	p := compile(t, `
x :: comptime {
	println(123)
	1
}
`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	p.constValue(t, "x")
	if got := p.out.String(); got != "123\n" {
		t.Fatalf("host stdout = %q", got)
	}
}

func TestComptimeMemoization(t *testing.T) {
	p := compile(t, `x :: comptime { 6 * 7 }`)
	v1 := p.constValue(t, "x")
	sid := p.world.Strings.Intern("x")
	_, bid, _ := p.mod.Binding(sid)
	b := &p.mod.Bindings[bid]
	before := len(p.engine.Invocations)
	v2, ok := p.engine.EvalComptime(p.mod, b.Init, v1.Type)
	if !ok {
		t.Fatal("re-evaluation failed")
	}
	if !bytes.Equal(v1.Bytes, v2.Bytes) {
		t.Fatal("re-evaluation must yield identical bytes")
	}
	if len(p.engine.Invocations) != before {
		t.Fatal("memoized evaluation must not run again")
	}
}

func TestComptimeInstructionBudget(t *testing.T) {
	fs := source.NewFileSet()
	id := fs.AddVirtual("test.capy", []byte(`
x :: comptime {
	i := 0
	while i < 1000000 { i = i + 1 }
	i
}
`))
	strs := source.NewInterner()
	bag := diag.NewBag(16)
	reporter := diag.BagReporter{Bag: bag}
	f := parser.ParseFile(fs.Get(id), strs, reporter)
	world := hir.NewWorld(strs)
	hir.LowerFile(world, f, "test", nil, reporter)
	ty := types.NewInterner()
	lay := layout.New(layout.X8664LinuxGNU(), ty)
	info := sema.NewInfo(world, ty, lay, reporter)
	engine := NewEngine(info, lay, fs, reporter)
	engine.InstrBudget = 1000
	info.SetEvaluator(engine)
	sema.CheckWorld(info)

	// The value is only forced when someone asks for the bytes.
	mod := world.Modules[0]
	sid := strs.Intern("x")
	_, bid, _ := mod.Binding(sid)
	if _, ok := info.GlobalValue(sema.GlobalKey{Module: mod.ID, Binding: bid}); ok {
		t.Fatal("evaluation should have been cut off by the budget")
	}

	found := false
	for _, d := range bag.Items() {
		if d.Code == diag.ComptimeBudget {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a budget diagnostic, got %+v", bag.Items())
	}
}

func TestComptimeDiskCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(dir)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	key := hashContent([]byte("6 * 7"))
	if _, ok := cache.Get(key, types.TypeID(9)); ok {
		t.Fatal("unexpected hit on an empty cache")
	}
	cache.Put(key, types.TypeID(9), []byte{42, 0, 0, 0})
	got, ok := cache.Get(key, types.TypeID(9))
	if !ok || got[0] != 42 {
		t.Fatalf("cache get = %v ok=%v", got, ok)
	}
	// A stale type id must miss.
	if _, ok := cache.Get(key, types.TypeID(10)); ok {
		t.Fatal("type-id mismatch must miss")
	}
}

func TestComptimeFidelityScalars(t *testing.T) {
	// The same expression through the literal fold and the engine must
	// agree byte for byte.
	p := compile(t, `
a :: 10
b :: comptime { 5 * 2 }
`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	av := p.constValue(t, "a")
	bv := p.constValue(t, "b")
	if !bytes.Equal(av.Bytes, bv.Bytes) {
		t.Fatalf("fold %v != engine %v", av.Bytes, bv.Bytes)
	}
}

func TestComptimeDistinctMintsOncePerDeclaration(t *testing.T) {
	p := compile(t, `
Meters :: distinct i64
a : Meters = 5
b : Meters = 7
`)
	if p.bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", p.bag.Items())
	}
	// Both uses must resolve to the same distinct tag.
	sid := p.world.Strings.Intern("Meters")
	_, bid, _ := p.mod.Binding(sid)
	v, ok := p.info.GlobalValue(sema.GlobalKey{Module: p.mod.ID, Binding: bid})
	if !ok {
		t.Fatal("Meters must have a type value")
	}
	tid := types.TypeID(u32At(v.Bytes))
	tt, _ := p.info.Types.Lookup(tid)
	if tt.Kind != types.KindDistinct {
		t.Fatalf("kind = %v", tt.Kind)
	}
	for _, name := range []string{"a", "b"} {
		_, gid, _ := p.mod.Binding(p.world.Strings.Intern(name))
		if got := p.info.GlobalType(sema.GlobalKey{Module: p.mod.ID, Binding: gid}); got != tid {
			t.Fatalf("%s has type %d, want the Meters tag %d", name, got, tid)
		}
	}
}
