package comptime

import (
	"fmt"
	"strings"

	"capy/internal/diag"
	"capy/internal/mir"
	"capy/internal/source"
)

// funcAddrBase tags function "addresses" so first-class function
// values survive round trips through memory.
const funcAddrBase uint64 = 0xF000_0000_0000_0000

func funcAddr(f mir.FuncID) uint64 { return funcAddrBase | uint64(f) }

func isFuncAddr(v uint64) (mir.FuncID, bool) {
	if v&funcAddrBase == funcAddrBase {
		return mir.FuncID(v &^ funcAddrBase), true
	}
	return 0, false
}

// compiledFunc is the pre-resolved executable form of one function:
// local slot extents are fixed, so execution is a
// straight dispatch loop.
type compiledFunc struct {
	f          *mir.Func
	frameSize  int
	localOffs  []int
	localAlign int
}

func (eng *Engine) compile(f *mir.Func) *compiledFunc {
	if cf, ok := eng.compiled[f.ID]; ok {
		return cf
	}
	cf := &compiledFunc{f: f, localOffs: make([]int, len(f.Locals)), localAlign: 8}
	off := 0
	for i, l := range f.Locals {
		align := l.Align
		if align < 1 {
			align = 1
		}
		for off%align != 0 {
			off++
		}
		cf.localOffs[i] = off
		size := l.Size
		if size == 0 {
			size = 1
		}
		off += size
	}
	cf.frameSize = off
	eng.compiled[f.ID] = cf
	return cf
}

type trapKind uint8

const (
	trapRuntime trapKind = iota
	trapDiagnosed
)

type vmTrap struct {
	kind trapKind
	span source.Span
	msg  string
}

type frame struct {
	cf     *compiledFunc
	base   uint64
	temps  []uint64
	sret   uint64
	byref  []uint64 // overriding addresses for by-ref params
}

func (fr *frame) localAddr(l mir.LocalID) uint64 {
	if l == mir.SRetLocal {
		return fr.sret
	}
	if fr.byref != nil && int(l) < len(fr.byref) && fr.byref[l] != 0 {
		return fr.byref[l]
	}
	return fr.base + uint64(fr.cf.localOffs[l])
}

// run executes the entry function; the result lands in buf (scalar
// returns are encoded, aggregate results go through the sret pointer).
func (eng *Engine) run(cf *compiledFunc, buf []byte, inv *Invocation) *vmTrap {
	var sret uint64
	if cf.f.SRet {
		sret = eng.mem.alloc(len(buf), 8)
	}
	ret, trap := eng.call(cf, nil, sret, inv)
	if trap != nil {
		return trap
	}
	if cf.f.SRet {
		out, err := eng.memReadBytes(sret, len(buf))
		if err != nil {
			return &vmTrap{span: cf.f.Span, msg: "result escaped the comptime memory"}
		}
		copy(buf, out)
		return nil
	}
	encodeScalarBytes(buf, ret, cf.f.ResultClass)
	return nil
}

func encodeScalarBytes(buf []byte, v uint64, class mir.Class) {
	n := class.Bits() / 8
	if n > len(buf) {
		n = len(buf)
	}
	for i := 0; i < n; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

// call pushes a frame and interprets until return. args are scalar
// values or addresses (for by-ref parameters).
func (eng *Engine) call(cf *compiledFunc, args []uint64, sret uint64, inv *Invocation) (uint64, *vmTrap) {
	f := cf.f
	mark := eng.mem.mark()
	defer eng.mem.restore(mark)

	fr := &frame{
		cf:    cf,
		base:  eng.mem.alloc(cf.frameSize, 8),
		temps: make([]uint64, f.NTemps),
		sret:  sret,
		byref: make([]uint64, len(f.Locals)),
	}
	for i, p := range f.Params {
		if i >= len(args) {
			break
		}
		if f.ParamByRef[i] {
			fr.byref[p] = args[i]
			continue
		}
		class, _ := eng.lw.ClassOf(f.Locals[p].Type)
		if err := eng.mem.store(fr.localAddr(p), args[i], class); err != nil {
			return 0, &vmTrap{span: f.Span, msg: "parameter store failed"}
		}
	}

	bb := f.Entry
	for {
		block := f.Block(bb)
		for i := range block.Instrs {
			in := &block.Instrs[i]
			inv.Steps++
			if eng.InstrBudget > 0 && inv.Steps > eng.InstrBudget {
				eng.Reporter.Report(diag.ComptimeBudget, diag.SevError, in.Span,
					fmt.Sprintf("comptime evaluation exceeded the instruction budget of %d", eng.InstrBudget), nil)
				return 0, &vmTrap{kind: trapDiagnosed, span: in.Span}
			}
			if trap := eng.step(fr, in, inv); trap != nil {
				return 0, trap
			}
		}
		term := &block.Term
		switch term.Kind {
		case mir.TermBr:
			bb = term.Target
		case mir.TermCondBr:
			c, trap := eng.operand(fr, term.Cond)
			if trap != nil {
				return 0, trap
			}
			if c&1 != 0 {
				bb = term.Target
			} else {
				bb = term.Else
			}
		case mir.TermRet:
			if term.HasVal {
				v, trap := eng.operand(fr, term.Val)
				return v, trap
			}
			return 0, nil
		case mir.TermTrap:
			return 0, &vmTrap{span: term.Span, msg: term.Trap.String()}
		default:
			return 0, &vmTrap{span: term.Span, msg: "fell off the end of a function"}
		}
	}
}

func (eng *Engine) operand(fr *frame, op mir.Operand) (uint64, *vmTrap) {
	switch op.Kind {
	case mir.OpTemp:
		return fr.temps[op.Temp], nil
	case mir.OpConstInt:
		return uint64(op.Int), nil
	case mir.OpConstFloat:
		if op.Class == mir.CF32 {
			return bitsFromF32(op.Float), nil
		}
		return bitsFromF64(op.Float), nil
	case mir.OpGlobalAddr:
		addr, err := eng.globalAddr(op.Global)
		if err != nil {
			return 0, &vmTrap{msg: err.Error()}
		}
		return addr, nil
	case mir.OpFuncAddr:
		return funcAddr(op.Func), nil
	case mir.OpLocalAddr:
		return fr.localAddr(op.Local), nil
	default:
		return 0, nil
	}
}

func (eng *Engine) step(fr *frame, in *mir.Instr, inv *Invocation) *vmTrap {
	switch in.Kind {
	case mir.InstrBin:
		a, trap := eng.operand(fr, in.A)
		if trap != nil {
			return trap
		}
		b, trap := eng.operand(fr, in.B)
		if trap != nil {
			return trap
		}
		v, err := evalBin(in.Bin, in.Class, a, b)
		if err != nil {
			return &vmTrap{span: in.Span, msg: err.Error()}
		}
		fr.temps[in.Dst] = v
	case mir.InstrCmp:
		a, trap := eng.operand(fr, in.A)
		if trap != nil {
			return trap
		}
		b, trap := eng.operand(fr, in.B)
		if trap != nil {
			return trap
		}
		fr.temps[in.Dst] = evalCmp(in.Cmp, in.Class, a, b)
	case mir.InstrLoad:
		addr, trap := eng.operand(fr, in.Addr)
		if trap != nil {
			return trap
		}
		v, err := eng.memLoad(addr, in.Class)
		if err != nil {
			return &vmTrap{span: in.Span, msg: "load out of bounds"}
		}
		fr.temps[in.Dst] = v
	case mir.InstrStore:
		addr, trap := eng.operand(fr, in.Addr)
		if trap != nil {
			return trap
		}
		v, trap := eng.operand(fr, in.Val)
		if trap != nil {
			return trap
		}
		if err := eng.memStore(addr, v, in.Class); err != nil {
			return &vmTrap{span: in.Span, msg: "store out of bounds"}
		}
	case mir.InstrMemCopy:
		dst, trap := eng.operand(fr, in.Addr)
		if trap != nil {
			return trap
		}
		src, trap := eng.operand(fr, in.Val)
		if trap != nil {
			return trap
		}
		if err := eng.memCopy(dst, src, in.Size); err != nil {
			return &vmTrap{span: in.Span, msg: "copy out of bounds"}
		}
	case mir.InstrPtrAdd:
		a, trap := eng.operand(fr, in.A)
		if trap != nil {
			return trap
		}
		b, trap := eng.operand(fr, in.B)
		if trap != nil {
			return trap
		}
		fr.temps[in.Dst] = a + b
	case mir.InstrConvert:
		a, trap := eng.operand(fr, in.A)
		if trap != nil {
			return trap
		}
		fr.temps[in.Dst] = evalConvert(in.Conv, in.A.Class, in.Class, a)
	case mir.InstrCall:
		return eng.stepCall(fr, in, inv)
	case mir.InstrIntrinsic:
		return eng.stepIntrinsic(fr, in)
	}
	return nil
}

func (eng *Engine) stepCall(fr *frame, in *mir.Instr, inv *Invocation) *vmTrap {
	calleeV, trap := eng.operand(fr, in.Callee)
	if trap != nil {
		return trap
	}
	fid, ok := isFuncAddr(calleeV)
	if !ok {
		return &vmTrap{span: in.Span, msg: "call through a non-function value"}
	}
	callee := eng.lw.Mod.Func(fid)
	if callee == nil {
		return &vmTrap{span: in.Span, msg: "call to an unknown function"}
	}

	args := make([]uint64, 0, len(in.Args))
	for _, a := range in.Args {
		v, trap := eng.operand(fr, a)
		if trap != nil {
			return trap
		}
		args = append(args, v)
	}

	if callee.Extern {
		ret, trap := eng.hostCall(callee.Name, args, in.Span)
		if trap != nil {
			return trap
		}
		if in.HasDst {
			fr.temps[in.Dst] = ret
		}
		return nil
	}

	var sret uint64
	if callee.SRet && len(args) > 0 {
		sret = args[0]
		args = args[1:]
	}
	ret, trap := eng.call(eng.compile(callee), args, sret, inv)
	if trap != nil {
		return trap
	}
	if in.HasDst {
		fr.temps[in.Dst] = ret
	}
	return nil
}

// hostCall services the small libc surface comptime code may reach.
// Side effects land on the compiler host and never in the program.
func (eng *Engine) hostCall(name string, args []uint64, sp source.Span) (uint64, *vmTrap) {
	switch name {
	case "malloc":
		if len(args) < 1 {
			return 0, nil
		}
		size := int(args[0])
		addr := eng.heapAlloc(size)
		return addr, nil
	case "realloc":
		if len(args) < 2 {
			return 0, nil
		}
		old, size := args[0], int(args[1])
		addr := eng.heapAlloc(size)
		if old != 0 {
			oldSize := eng.heapBlocks[old]
			n := oldSize
			if size < n {
				n = size
			}
			if err := eng.memCopy(addr, old, n); err != nil {
				return 0, &vmTrap{span: sp, msg: "realloc copy out of bounds"}
			}
		}
		return addr, nil
	case "free":
		// The comptime heap is an arena; free is a no-op.
		return 0, nil
	case "memcpy", "memmove":
		if len(args) >= 3 {
			if err := eng.memCopy(args[0], args[1], int(args[2])); err != nil {
				return 0, &vmTrap{span: sp, msg: "memcpy out of bounds"}
			}
		}
		return args[0], nil
	case "strlen":
		if len(args) >= 1 {
			s, err := eng.memCString(args[0])
			if err != nil {
				return 0, &vmTrap{span: sp, msg: "strlen out of bounds"}
			}
			return uint64(len(s)), nil
		}
		return 0, nil
	case "puts":
		if len(args) >= 1 {
			s, err := eng.memCString(args[0])
			if err != nil {
				return 0, &vmTrap{span: sp, msg: "puts out of bounds"}
			}
			fmt.Fprintln(eng.Stdout, s)
		}
		return 0, nil
	case "putchar":
		if len(args) >= 1 {
			fmt.Fprintf(eng.Stdout, "%c", rune(args[0]))
		}
		return 0, nil
	default:
		return 0, &vmTrap{span: sp, msg: fmt.Sprintf("extern %q is not available at comptime", name)}
	}
}

// heapAlloc serves malloc and IntrAllocComptime from the heap region,
// which frame teardown never rewinds.
func (eng *Engine) heapAlloc(size int) uint64 {
	if size <= 0 {
		size = 1
	}
	addr := eng.heap.alloc(size, 8) | heapTag
	eng.heapBlocks[addr] = size
	return addr
}

func (eng *Engine) stepIntrinsic(fr *frame, in *mir.Instr) *vmTrap {
	switch in.Intr {
	case mir.IntrPrintNL:
		fmt.Fprintln(eng.Stdout)
	case mir.IntrPrintAny:
		if len(in.Args) < 2 {
			return nil
		}
		tyV, trap := eng.operand(fr, in.Args[0])
		if trap != nil {
			return trap
		}
		addr, trap := eng.operand(fr, in.Args[1])
		if trap != nil {
			return trap
		}
		var sb strings.Builder
		if err := eng.formatValue(&sb, typesID(tyV), addr); err != nil {
			return &vmTrap{span: in.Span, msg: err.Error()}
		}
		fmt.Fprint(eng.Stdout, sb.String())
	case mir.IntrTypeInfo:
		tyV, trap := eng.operand(fr, in.Args[0])
		if trap != nil {
			return trap
		}
		fr.temps[in.Dst] = eng.typeInfoAddr(typesID(tyV))
	case mir.IntrSizeOfVal:
		tyV, trap := eng.operand(fr, in.Args[0])
		if trap != nil {
			return trap
		}
		// Stride semantics, matching the native capy_size_of.
		size, err := eng.Lay.StrideOf(typesID(tyV))
		if err != nil {
			return &vmTrap{span: in.Span, msg: err.Error()}
		}
		fr.temps[in.Dst] = uint64(size)
	case mir.IntrAllocComptime:
		if len(in.Args) >= 1 {
			sizeV, trap := eng.operand(fr, in.Args[0])
			if trap != nil {
				return trap
			}
			fr.temps[in.Dst] = eng.heapAlloc(int(sizeV))
		}
	}
	return nil
}
