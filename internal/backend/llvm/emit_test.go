package llvm

import (
	"strings"
	"testing"

	"capy/internal/layout"
	"capy/internal/mir"
	"capy/internal/source"
	"capy/internal/types"
)

func testEmitter() (*Emitter, *mir.Module, *types.Interner) {
	ty := types.NewInterner()
	lay := layout.New(layout.X8664LinuxGNU(), ty)
	strs := source.NewInterner()
	mod := &mir.Module{}
	return NewEmitter(mod, ty, lay, strs), mod, ty
}

func TestEmitSimpleFunction(t *testing.T) {
	e, mod, ty := testEmitter()
	b := ty.Builtins()

	f := &mir.Func{Name: "test.answer", Result: b.I32, ResultClass: mir.C32}
	entry := f.NewBlock()
	f.Entry = entry
	f.Block(entry).Term = mir.Terminator{Kind: mir.TermRet, HasVal: true, Val: mir.ConstInt(42, mir.C32)}
	mod.AddFunc(f)

	out, err := e.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	for _, want := range []string{
		`target triple = "x86_64-linux-gnu"`,
		`define i32 @"capy.test.answer"()`,
		"ret i32 42",
		"declare void @capy_print_any(i32, ptr)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestEmitGlobalWithReloc(t *testing.T) {
	e, mod, ty := testEmitter()
	b := ty.Builtins()

	str := mod.AddGlobal(&mir.Global{
		Name: "str.0", Type: b.String, Size: 3, Align: 1,
		Init: []byte("hi\x00"), Const: true,
	})
	mod.AddGlobal(&mir.Global{
		Name: "main.s", Type: b.String, Size: 8, Align: 8,
		Relocs: []mir.Reloc{{Offset: 0, Kind: mir.RelocGlobal, Global: str}},
	})

	out, err := e.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(out, `c"hi\00"`) {
		t.Fatalf("string bytes missing:\n%s", out)
	}
	if !strings.Contains(out, `ptr @"capy.str.0"`) {
		t.Fatalf("pointer reloc missing:\n%s", out)
	}
}

func TestEmitTrapBecomesPanic(t *testing.T) {
	e, mod, ty := testEmitter()
	b := ty.Builtins()

	f := &mir.Func{Name: "test.trap", Result: b.Void, ResultClass: mir.CNone}
	entry := f.NewBlock()
	f.Entry = entry
	f.Block(entry).Term = mir.Terminator{Kind: mir.TermTrap, Trap: mir.TrapDivZero}
	mod.AddFunc(f)

	out, err := e.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(out, "call void @capy_panic(i32 1)") {
		t.Fatalf("trap lowering missing:\n%s", out)
	}
	if !strings.Contains(out, "unreachable") {
		t.Fatal("trap must end in unreachable")
	}
}

func TestEmitEntryTrampoline(t *testing.T) {
	e, mod, ty := testEmitter()
	b := ty.Builtins()

	f := &mir.Func{Name: "app.main", Result: b.Void, ResultClass: mir.CNone}
	entry := f.NewBlock()
	f.Entry = entry
	f.Block(entry).Term = mir.Terminator{Kind: mir.TermRet}
	mod.AddFunc(f)

	e.SetEntry("app.main", 0, false)
	out, err := e.Emit()
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	for _, want := range []string{
		"define i32 @main(i32 %argc, ptr %argv)",
		"call void @capy_rt_init(i32 %argc, ptr %argv, ptr null)",
		`call void @"capy.app.main"()`,
		"ret i32 0",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
