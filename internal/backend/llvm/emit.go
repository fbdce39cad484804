// Package llvm emits LLVM-IR text from MIR modules.
package llvm

import (
	"fmt"
	"strings"

	"capy/internal/layout"
	"capy/internal/mir"
	"capy/internal/rtinfo"
	"capy/internal/source"
	"capy/internal/types"
)

// Emitter lowers one mir.Module to textual LLVM IR.
type Emitter struct {
	mod     *mir.Module
	types   *types.Interner
	lay     *layout.Engine
	strs    *source.Interner
	triple  string
	buf     strings.Builder

	globalNames map[mir.GlobalID]string
	funcNames   map[mir.FuncID]string

	// EntrySymbol is the user main the trampoline calls; empty means
	// no trampoline (comptime-only modules in tests).
	EntrySymbol string
	// EntryResultBits is 0 for void main, else the integer width.
	EntryResultBits int
	entrySigned     bool
}

type runtimeDecl struct {
	ret    string
	name   string
	params []string
}

func runtimeDecls() []runtimeDecl {
	return []runtimeDecl{
		{"void", "capy_rt_init", []string{"i32", "ptr", "ptr"}},
		{"void", "capy_print_any", []string{"i32", "ptr"}},
		{"void", "capy_print_nl", nil},
		{"ptr", "capy_type_info", []string{"i32"}},
		{"i64", "capy_size_of", []string{"i32"}},
		{"void", "capy_panic", []string{"i32"}},
		{"void", "llvm.memcpy.p0.p0.i64", []string{"ptr", "ptr", "i64", "i1"}},
	}
}

// NewEmitter prepares an emitter for the target triple.
func NewEmitter(mod *mir.Module, ty *types.Interner, lay *layout.Engine, strs *source.Interner) *Emitter {
	return &Emitter{
		mod:         mod,
		types:       ty,
		lay:         lay,
		strs:        strs,
		triple:      lay.Target.Triple,
		globalNames: make(map[mir.GlobalID]string),
		funcNames:   make(map[mir.FuncID]string),
	}
}

// Emit renders the whole module.
func (e *Emitter) Emit() (string, error) {
	e.prepareNames()
	fmt.Fprintf(&e.buf, "target triple = %q\n\n", e.triple)
	for _, d := range runtimeDecls() {
		fmt.Fprintf(&e.buf, "declare %s @%s(%s)\n", d.ret, quoteIfNeeded(d.name), strings.Join(d.params, ", "))
	}
	e.buf.WriteString("\n")

	for _, g := range e.mod.Globals {
		e.emitGlobal(g)
	}
	e.buf.WriteString("\n")
	e.emitReflection()

	for _, f := range e.mod.Funcs {
		if f.Extern {
			e.emitExternDecl(f)
		}
	}
	e.buf.WriteString("\n")
	for _, f := range e.mod.Funcs {
		if f.Extern {
			continue
		}
		fe := &funcEmitter{e: e, f: f}
		if err := fe.emit(); err != nil {
			return "", err
		}
	}
	if e.EntrySymbol != "" {
		e.emitEntry()
	}
	return e.buf.String(), nil
}

func (e *Emitter) prepareNames() {
	for _, g := range e.mod.Globals {
		e.globalNames[g.ID] = "capy." + g.Name
	}
	for _, f := range e.mod.Funcs {
		if f.Extern {
			e.funcNames[f.ID] = f.Name
		} else {
			e.funcNames[f.ID] = "capy." + f.Name
		}
	}
}

func quoteIfNeeded(name string) string {
	for _, r := range name {
		if !(r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.') {
			return fmt.Sprintf("%q", name)
		}
	}
	if strings.ContainsAny(name, ".") {
		return fmt.Sprintf("%q", name)
	}
	return name
}

func (e *Emitter) globalRef(id mir.GlobalID) string {
	return "@" + quoteIfNeeded(e.globalNames[id])
}

func (e *Emitter) funcRef(id mir.FuncID) string {
	return "@" + quoteIfNeeded(e.funcNames[id])
}

// emitGlobal renders one data object. Pointer relocations split the
// byte image into chunks around ptr fields.
func (e *Emitter) emitGlobal(g *mir.Global) {
	kind := "global"
	if g.Const {
		kind = "constant"
	}
	name := e.globalRef(g.ID)
	align := g.Align
	if align < 1 {
		align = 1
	}
	if g.Init == nil && len(g.Relocs) == 0 {
		fmt.Fprintf(&e.buf, "%s = %s [%d x i8] zeroinitializer, align %d\n", name, kind, g.Size, align)
		return
	}
	image := make([]byte, g.Size)
	copy(image, g.Init)
	if len(g.Relocs) == 0 {
		fmt.Fprintf(&e.buf, "%s = %s [%d x i8] c%s, align %d\n", name, kind, len(image), llvmString(image), align)
		return
	}

	// Struct form: alternating byte runs and pointer fields.
	typesParts := make([]string, 0, len(g.Relocs)*2+1)
	valueParts := make([]string, 0, len(g.Relocs)*2+1)
	off := 0
	for _, r := range sortedRelocs(g.Relocs) {
		if r.Offset > off {
			run := image[off:r.Offset]
			typesParts = append(typesParts, fmt.Sprintf("[%d x i8]", len(run)))
			valueParts = append(valueParts, fmt.Sprintf("[%d x i8] c%s", len(run), llvmString(run)))
		}
		typesParts = append(typesParts, "ptr")
		valueParts = append(valueParts, "ptr "+e.relocTarget(r))
		off = r.Offset + 8
	}
	if off < len(image) {
		run := image[off:]
		typesParts = append(typesParts, fmt.Sprintf("[%d x i8]", len(run)))
		valueParts = append(valueParts, fmt.Sprintf("[%d x i8] c%s", len(run), llvmString(run)))
	}
	fmt.Fprintf(&e.buf, "%s = %s <{ %s }> <{ %s }>, align %d\n",
		name, kind, strings.Join(typesParts, ", "), strings.Join(valueParts, ", "), align)
}

func (e *Emitter) relocTarget(r mir.Reloc) string {
	var base string
	switch r.Kind {
	case mir.RelocFunc:
		return e.funcRef(r.Func)
	default:
		base = e.globalRef(r.Global)
	}
	if r.Addend == 0 {
		return base
	}
	return fmt.Sprintf("getelementptr (i8, ptr %s, i64 %d)", base, r.Addend)
}

func sortedRelocs(relocs []mir.Reloc) []mir.Reloc {
	out := append([]mir.Reloc(nil), relocs...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Offset > out[j].Offset; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func llvmString(b []byte) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, c := range b {
		if c >= 0x20 && c < 0x7F && c != '"' && c != '\\' {
			sb.WriteByte(c)
		} else {
			fmt.Fprintf(&sb, "\\%02X", c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// emitReflection writes the shared type-info tables the runtime print
// and get_type_info paths read.
func (e *Emitter) emitReflection() {
	table := rtinfo.Build(e.types, e.lay, e.strs)

	records := make([]byte, len(table.Records))
	copy(records, table.Records)
	extra := table.Extra
	if len(extra) == 0 {
		extra = []byte{0}
	}

	var recRelocs, extraRelocs []relocAt
	for _, r := range table.Relocs {
		if r.InExtra {
			extraRelocs = append(extraRelocs, relocAt{off: r.SrcOff, target: r.TargetOff})
		} else {
			recRelocs = append(recRelocs, relocAt{off: r.SrcOff, target: r.TargetOff})
		}
	}
	e.emitBlobWithPtrs("capy_type_extra", extra, extraRelocs, "capy_type_extra")
	e.emitBlobWithPtrs("capy_type_infos", records, recRelocs, "capy_type_extra")
	fmt.Fprintf(&e.buf, "@capy_type_count = constant i32 %d\n\n", table.Count)
}

type relocAt struct {
	off    int
	target int
}

func (e *Emitter) emitBlobWithPtrs(name string, image []byte, relocs []relocAt, targetSym string) {
	if len(relocs) == 0 {
		fmt.Fprintf(&e.buf, "@%s = constant [%d x i8] c%s, align 8\n", name, len(image), llvmString(image))
		return
	}
	for i := 1; i < len(relocs); i++ {
		for j := i; j > 0 && relocs[j-1].off > relocs[j].off; j-- {
			relocs[j-1], relocs[j] = relocs[j], relocs[j-1]
		}
	}
	typesParts := make([]string, 0, len(relocs)*2+1)
	valueParts := make([]string, 0, len(relocs)*2+1)
	off := 0
	for _, r := range relocs {
		if r.off > off {
			run := image[off:r.off]
			typesParts = append(typesParts, fmt.Sprintf("[%d x i8]", len(run)))
			valueParts = append(valueParts, fmt.Sprintf("[%d x i8] c%s", len(run), llvmString(run)))
		}
		typesParts = append(typesParts, "ptr")
		if r.target == 0 {
			valueParts = append(valueParts, fmt.Sprintf("ptr @%s", targetSym))
		} else {
			valueParts = append(valueParts,
				fmt.Sprintf("ptr getelementptr (i8, ptr @%s, i64 %d)", targetSym, r.target))
		}
		off = r.off + 8
	}
	if off < len(image) {
		run := image[off:]
		typesParts = append(typesParts, fmt.Sprintf("[%d x i8]", len(run)))
		valueParts = append(valueParts, fmt.Sprintf("[%d x i8] c%s", len(run), llvmString(run)))
	}
	fmt.Fprintf(&e.buf, "@%s = constant <{ %s }> <{ %s }>, align 8\n",
		name, strings.Join(typesParts, ", "), strings.Join(valueParts, ", "))
}

func (e *Emitter) emitExternDecl(f *mir.Func) {
	params := make([]string, 0, len(f.Params))
	for i := range f.Params {
		if f.ParamByRef[i] {
			params = append(params, "ptr")
		} else {
			params = append(params, classType(e.classOfParam(f, i)))
		}
	}
	ret := "void"
	if f.SRet {
		params = append([]string{"ptr"}, params...)
	} else if f.ResultClass != mir.CNone {
		ret = classType(f.ResultClass)
	}
	fmt.Fprintf(&e.buf, "declare %s @%s(%s)\n", ret, quoteIfNeeded(f.Name), strings.Join(params, ", "))
}

func (e *Emitter) classOfParam(f *mir.Func, i int) mir.Class {
	class, _ := mir.ClassOfType(e.types, f.Locals[f.Params[i]].Type)
	if class == mir.CNone {
		return mir.C64
	}
	return class
}

func classType(c mir.Class) string {
	switch c {
	case mir.C8:
		return "i8"
	case mir.C16:
		return "i16"
	case mir.C32:
		return "i32"
	case mir.C64:
		return "i64"
	case mir.CPtr:
		return "ptr"
	case mir.CF32:
		return "float"
	case mir.CF64:
		return "double"
	default:
		return "void"
	}
}

// emitEntry writes the C-ABI main: fill the args slice, call the user
// main, return its integer or 0.
func (e *Emitter) emitEntry() {
	e.buf.WriteString("define i32 @main(i32 %argc, ptr %argv) {\nentry:\n")
	argsRef := "null"
	for _, g := range e.mod.Globals {
		if g.Name == "capy.args" {
			argsRef = e.globalRef(g.ID)
		}
	}
	fmt.Fprintf(&e.buf, "  call void @capy_rt_init(i32 %%argc, ptr %%argv, ptr %s)\n", argsRef)
	sym := "@" + quoteIfNeeded("capy."+e.EntrySymbol)
	if e.EntryResultBits == 0 {
		fmt.Fprintf(&e.buf, "  call void %s()\n  ret i32 0\n}\n", sym)
		return
	}
	retTy := fmt.Sprintf("i%d", e.EntryResultBits)
	fmt.Fprintf(&e.buf, "  %%code = call %s %s()\n", retTy, sym)
	switch {
	case e.EntryResultBits == 32:
		e.buf.WriteString("  ret i32 %code\n}\n")
	case e.EntryResultBits < 32:
		ext := "zext"
		if e.entrySigned {
			ext = "sext"
		}
		fmt.Fprintf(&e.buf, "  %%wide = %s %s %%code to i32\n  ret i32 %%wide\n}\n", ext, retTy)
	default:
		fmt.Fprintf(&e.buf, "  %%narrow = trunc %s %%code to i32\n  ret i32 %%narrow\n}\n", retTy)
	}
}

// SetEntry configures the trampoline for the user main function.
func (e *Emitter) SetEntry(symbol string, resultBits int, signed bool) {
	e.EntrySymbol = symbol
	e.EntryResultBits = resultBits
	e.entrySigned = signed
}
