package driver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"capy/internal/comptime"
	"capy/internal/diag"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func compileEntry(t *testing.T, files map[string]string, entry string) *Result {
	t.Helper()
	dir := writeFiles(t, files)
	res, err := Compile(context.Background(), filepath.Join(dir, entry), Options{
		ModDir:   filepath.Join(dir, "mods"),
		CacheDir: "-",
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return res
}

func wantClean(t *testing.T, res *Result) {
	t.Helper()
	if res.Bag.HasErrors() {
		t.Fatalf("diagnostics: %+v", res.Bag.Items())
	}
	if res.LLVM == "" {
		t.Fatal("no LLVM IR emitted")
	}
}

func TestCompileComptimeConstBakedIntoData(t *testing.T) {
	// The multiplication runs at compile time and the resulting bytes
	// land in the data segment.
	res := compileEntry(t, map[string]string{
		"s1.capy": `
x :: comptime { 5 * 2 }
main :: () {
	println(x)
}
`,
	}, "s1.capy")
	wantClean(t, res)

	ran := false
	for _, inv := range res.Engine.Invocations {
		if inv.State == comptime.StateDone {
			ran = true
		}
	}
	if !ran {
		t.Fatal("the comptime engine never executed")
	}
	if !strings.Contains(res.LLVM, `c"\0A\00\00\00"`) {
		t.Fatalf("comptime bytes not in the data segment:\n%s", res.LLVM)
	}
	if !strings.Contains(res.LLVM, "capy_print_any") {
		t.Fatal("println did not lower to the runtime printer")
	}
	if !strings.Contains(res.LLVM, "define i32 @main(i32 %argc, ptr %argv)") {
		t.Fatal("entry trampoline missing")
	}
}

func TestCompileStructFieldAccess(t *testing.T) {
	res := compileEntry(t, map[string]string{
		"s2.capy": `
Point :: struct { x: i32, y: i32 }
main :: () {
	p := Point.{x = 3, y = 4}
	println(p.y)
}
`,
	}, "s2.capy")
	wantClean(t, res)
}

func TestCompileEnumSwitch(t *testing.T) {
	res := compileEntry(t, map[string]string{
		"s3.capy": `
E :: enum { A: i32, B: str }
main :: () {
	v := E.B.("hi")
	switch payload in v {
		E.A => { println(payload) },
		E.B => { println(payload) },
	}
}
`,
	}, "s3.capy")
	wantClean(t, res)
	if !strings.Contains(res.LLVM, `c"hi\00"`) {
		t.Fatalf("string literal not pooled:\n%s", res.LLVM)
	}
}

func TestCompileArrayAsSlice(t *testing.T) {
	res := compileEntry(t, map[string]string{
		"s4.capy": `
print_all :: (xs: []i32) {
	println(xs)
}
main :: () {
	arr := i32.[4, 8, 15, 16, 23, 42]
	print_all(arr)
}
`,
	}, "s4.capy")
	wantClean(t, res)
}

func TestCompileComptimeTypeSelection(t *testing.T) {
	res := compileEntry(t, map[string]string{
		"s5.capy": `
T :: comptime { if true { i32 } else { i64 } }
main :: () {
	x : T = 7
	println(x)
	println(size_of(T))
}
`,
	}, "s5.capy")
	wantClean(t, res)
	// size_of(T) folded to the usize constant 4.
	if !strings.Contains(res.LLVM, "i64 4") {
		t.Fatalf("size_of(T) did not fold to 4:\n%s", res.LLVM)
	}
}

func TestCompileCoreListProgram(t *testing.T) {
	// The bundled core module provisions itself into the modules
	// directory on first use.
	res := compileEntry(t, map[string]string{
		"s6.capy": `
lists :: #mod("core").list
main :: () {
	l := lists.make(i32)
	lists.push(^mut l, 11)
	lists.push(^mut l, 22)
	println(l)
}
`,
	}, "s6.capy")
	wantClean(t, res)
	if !strings.Contains(res.LLVM, "list.push") {
		t.Fatalf("core list functions not emitted:\n%s", res.LLVM)
	}
	if !strings.Contains(res.LLVM, "declare ptr @malloc") {
		t.Fatalf("extern malloc declaration missing:\n%s", res.LLVM)
	}
}

func TestCompileFileImports(t *testing.T) {
	res := compileEntry(t, map[string]string{
		"main.capy": `
helpers :: #import("helpers.capy")
main :: () {
	println(helpers.double(21))
}
`,
		"helpers.capy": `
double :: (n: i32) -> i32 { return n * 2 }
`,
	}, "main.capy")
	wantClean(t, res)
}

func TestCompileImportCycleDiagnosed(t *testing.T) {
	res := compileEntry(t, map[string]string{
		"a.capy": `
b :: #import("b.capy")
main :: () { }
`,
		"b.capy": `
a :: #import("a.capy")
`,
	}, "a.capy")
	found := false
	for _, d := range res.Bag.Items() {
		if d.Code == diag.NameNotAModule && strings.Contains(d.Message, "cycle") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an import-cycle diagnostic, got %+v", res.Bag.Items())
	}
}

func TestCompileMissingModuleDiagnosed(t *testing.T) {
	res := compileEntry(t, map[string]string{
		"main.capy": `
x :: #mod("nonexistent")
main :: () { }
`,
	}, "main.capy")
	if !res.Bag.HasErrors() {
		t.Fatal("expected diagnostics for a missing module")
	}
}

func TestCompileEntrypointRequired(t *testing.T) {
	res := compileEntry(t, map[string]string{
		"main.capy": `x :: 5`,
	}, "main.capy")
	found := false
	for _, d := range res.Bag.Items() {
		if d.Code == diag.TypeBadEntrypoint {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an entrypoint diagnostic, got %+v", res.Bag.Items())
	}
}

func TestCompileIntegerMainWiresExitCode(t *testing.T) {
	res := compileEntry(t, map[string]string{
		"main.capy": `main :: () -> i32 { return 3 }`,
	}, "main.capy")
	wantClean(t, res)
	if res.EntryResultBits != 32 {
		t.Fatalf("entry result bits = %d", res.EntryResultBits)
	}
	if !strings.Contains(res.LLVM, "ret i32 %code") {
		t.Fatalf("trampoline must forward main's result:\n%s", res.LLVM)
	}
}

func TestDiskCacheMetaRoundTrip(t *testing.T) {
	cache, err := OpenDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("OpenDiskCache: %v", err)
	}
	var key Digest
	key[0] = 7
	meta := &FileMeta{Name: "main", Path: "/x/main.capy", ImportPaths: []string{"/x/helpers.capy"}, ImportMods: []string{"core"}}
	if err := cache.Put(key, meta); err != nil {
		t.Fatalf("Put: %v", err)
	}
	var out FileMeta
	if !cache.Get(key, &out) {
		t.Fatal("Get missed")
	}
	if out.Name != "main" || len(out.ImportPaths) != 1 || out.ImportMods[0] != "core" {
		t.Fatalf("meta = %+v", out)
	}
	var miss FileMeta
	var otherKey Digest
	otherKey[0] = 8
	if cache.Get(otherKey, &miss) {
		t.Fatal("unexpected hit")
	}
}

func TestCompileReflectionTablesEmitted(t *testing.T) {
	res := compileEntry(t, map[string]string{
		"main.capy": `
Point :: struct { x: i32, y: i32 }
main :: () {
	p := Point.{x = 1, y = 2}
	info := get_type_info(Point)
	println(p)
	println(size_of(Point))
	_ignore := info
}
`,
	}, "main.capy")
	wantClean(t, res)
	if !strings.Contains(res.LLVM, "@capy_type_infos") {
		t.Fatal("reflection records missing")
	}
	if !strings.Contains(res.LLVM, "@capy_type_count") {
		t.Fatal("type count missing")
	}
	if !strings.Contains(res.LLVM, "Point") {
		t.Fatal("struct display name missing from the tables")
	}
}
