package llvm

import (
	"fmt"
	"math"
	"strings"

	"capy/internal/mir"
)

// float64Bits renders a float constant as LLVM's hexadecimal form.
// Float-typed constants must be representable exactly; literals that
// came through the frontend always are.
func float64Bits(f float64, class mir.Class) uint64 {
	if class == mir.CF32 {
		return math.Float64bits(float64(float32(f)))
	}
	return math.Float64bits(f)
}

type funcEmitter struct {
	e     *Emitter
	f     *mir.Func
	buf   strings.Builder
	tmpID int
}

func (fe *funcEmitter) fresh() string {
	fe.tmpID++
	return fmt.Sprintf("%%v%d", fe.tmpID)
}

func (fe *funcEmitter) temp(t mir.Temp) string {
	return fmt.Sprintf("%%t%d", t)
}

func (fe *funcEmitter) local(l mir.LocalID) string {
	if l == mir.SRetLocal {
		return "%sret"
	}
	return fmt.Sprintf("%%l%d", l)
}

func (fe *funcEmitter) operand(op mir.Operand) string {
	switch op.Kind {
	case mir.OpTemp:
		return fe.temp(op.Temp)
	case mir.OpConstInt:
		if op.Class == mir.CPtr {
			if op.Int == 0 {
				return "null"
			}
			return fmt.Sprintf("inttoptr (i64 %d to ptr)", op.Int)
		}
		return fmt.Sprintf("%d", op.Int)
	case mir.OpConstFloat:
		return fmt.Sprintf("%#x", float64Bits(op.Float, op.Class))
	case mir.OpGlobalAddr:
		return fe.e.globalRef(op.Global)
	case mir.OpFuncAddr:
		return fe.e.funcRef(op.Func)
	case mir.OpLocalAddr:
		return fe.local(op.Local)
	default:
		return "undef"
	}
}

func (fe *funcEmitter) typedOperand(op mir.Operand) string {
	return classType(op.Class) + " " + fe.operand(op)
}

func (fe *funcEmitter) emit() error {
	f := fe.f
	var params []string
	if f.SRet {
		params = append(params, "ptr %sret")
	}
	byrefSeen := make(map[mir.LocalID]bool)
	for i, p := range f.Params {
		if f.ParamByRef[i] {
			params = append(params, fmt.Sprintf("ptr %%l%d", p))
			byrefSeen[p] = true
		} else {
			params = append(params, fmt.Sprintf("%s %%p%d", classType(fe.e.classOfParam(f, i)), p))
		}
	}
	ret := "void"
	if !f.SRet && f.ResultClass != mir.CNone {
		ret = classType(f.ResultClass)
	}
	fmt.Fprintf(&fe.buf, "define %s %s(%s) {\n", ret, fe.e.funcRef(f.ID), strings.Join(params, ", "))

	// Entry header: allocate slots, spill scalar params into theirs.
	fe.buf.WriteString("alloc:\n")
	for i, l := range f.Locals {
		id := mir.LocalID(i)
		if byrefSeen[id] {
			continue
		}
		size := l.Size
		if size == 0 {
			size = 1
		}
		align := l.Align
		if align < 1 {
			align = 1
		}
		fmt.Fprintf(&fe.buf, "  %%l%d = alloca [%d x i8], align %d\n", i, size, align)
	}
	for i, p := range f.Params {
		if f.ParamByRef[i] {
			continue
		}
		fmt.Fprintf(&fe.buf, "  store %s %%p%d, ptr %%l%d\n", classType(fe.e.classOfParam(f, i)), p, p)
	}
	fmt.Fprintf(&fe.buf, "  br label %%bb%d\n", f.Entry)

	for i := range f.Blocks {
		if err := fe.emitBlock(&f.Blocks[i]); err != nil {
			return err
		}
	}
	fe.buf.WriteString("}\n\n")
	fe.e.buf.WriteString(fe.buf.String())
	return nil
}

func (fe *funcEmitter) emitBlock(b *mir.Block) error {
	fmt.Fprintf(&fe.buf, "bb%d:\n", b.ID)
	for i := range b.Instrs {
		if err := fe.emitInstr(&b.Instrs[i]); err != nil {
			return err
		}
	}
	return fe.emitTerm(&b.Term)
}

func (fe *funcEmitter) emitInstr(in *mir.Instr) error {
	switch in.Kind {
	case mir.InstrBin:
		op := binOpName(in.Bin)
		fmt.Fprintf(&fe.buf, "  %s = %s %s %s, %s\n",
			fe.temp(in.Dst), op, classType(in.Class), fe.operand(in.A), fe.operand(in.B))
	case mir.InstrCmp:
		pred, isFloat := cmpPred(in.Cmp)
		raw := fe.fresh()
		if isFloat {
			fmt.Fprintf(&fe.buf, "  %s = fcmp %s %s %s, %s\n",
				raw, pred, classType(in.Class), fe.operand(in.A), fe.operand(in.B))
		} else {
			fmt.Fprintf(&fe.buf, "  %s = icmp %s %s %s, %s\n",
				raw, pred, classType(in.Class), fe.operand(in.A), fe.operand(in.B))
		}
		fmt.Fprintf(&fe.buf, "  %s = zext i1 %s to i8\n", fe.temp(in.Dst), raw)
	case mir.InstrLoad:
		fmt.Fprintf(&fe.buf, "  %s = load %s, ptr %s\n",
			fe.temp(in.Dst), classType(in.Class), fe.operand(in.Addr))
	case mir.InstrStore:
		fmt.Fprintf(&fe.buf, "  store %s, ptr %s\n",
			fe.typedOperand(withClass(in.Val, in.Class)), fe.operand(in.Addr))
	case mir.InstrMemCopy:
		fmt.Fprintf(&fe.buf, "  call void @llvm.memcpy.p0.p0.i64(ptr %s, ptr %s, i64 %d, i1 false)\n",
			fe.operand(in.Addr), fe.operand(in.Val), in.Size)
	case mir.InstrPtrAdd:
		fmt.Fprintf(&fe.buf, "  %s = getelementptr i8, ptr %s, i64 %s\n",
			fe.temp(in.Dst), fe.operand(in.A), fe.operand(in.B))
	case mir.InstrConvert:
		fe.emitConvert(in)
	case mir.InstrCall:
		fe.emitCall(in)
	case mir.InstrIntrinsic:
		return fe.emitIntrinsic(in)
	}
	return nil
}

// withClass pins an operand's class for stores whose value operand was
// produced under a wider class.
func withClass(op mir.Operand, class mir.Class) mir.Operand {
	if op.Kind == mir.OpConstInt || op.Kind == mir.OpConstFloat {
		op.Class = class
	} else if op.Class == mir.CNone {
		op.Class = class
	} else {
		op.Class = class
	}
	return op
}

func (fe *funcEmitter) emitConvert(in *mir.Instr) {
	from := in.A.Class
	to := in.Class
	src := fe.operand(in.A)
	dst := fe.temp(in.Dst)
	ft, tt := classType(from), classType(to)

	// Pointer/integer crossings need their own opcodes.
	if in.Conv == mir.ConvBitcast {
		switch {
		case from == mir.CPtr && to != mir.CPtr:
			fmt.Fprintf(&fe.buf, "  %s = ptrtoint ptr %s to %s\n", dst, src, tt)
		case from != mir.CPtr && to == mir.CPtr:
			fmt.Fprintf(&fe.buf, "  %s = inttoptr %s %s to ptr\n", dst, ft, src)
		default:
			fmt.Fprintf(&fe.buf, "  %s = bitcast %s %s to %s\n", dst, ft, src, tt)
		}
		return
	}
	opName := map[mir.ConvKind]string{
		mir.ConvZExt:    "zext",
		mir.ConvSExt:    "sext",
		mir.ConvTrunc:   "trunc",
		mir.ConvSIToFP:  "sitofp",
		mir.ConvUIToFP:  "uitofp",
		mir.ConvFPToSI:  "fptosi",
		mir.ConvFPToUI:  "fptoui",
		mir.ConvFPTrunc: "fptrunc",
		mir.ConvFPExt:   "fpext",
	}[in.Conv]
	fmt.Fprintf(&fe.buf, "  %s = %s %s %s to %s\n", dst, opName, ft, src, tt)
}

func (fe *funcEmitter) emitCall(in *mir.Instr) {
	args := make([]string, 0, len(in.Args))
	for _, a := range in.Args {
		args = append(args, fe.typedOperand(a))
	}
	var callee string
	if in.Callee.Kind == mir.OpFuncAddr {
		callee = fe.e.funcRef(in.Callee.Func)
	} else {
		callee = fe.operand(in.Callee)
	}
	if in.HasDst {
		fmt.Fprintf(&fe.buf, "  %s = call %s %s(%s)\n",
			fe.temp(in.Dst), classType(in.Class), callee, strings.Join(args, ", "))
	} else {
		fmt.Fprintf(&fe.buf, "  call void %s(%s)\n", callee, strings.Join(args, ", "))
	}
}

func (fe *funcEmitter) emitIntrinsic(in *mir.Instr) error {
	switch in.Intr {
	case mir.IntrPrintAny:
		fmt.Fprintf(&fe.buf, "  call void @capy_print_any(%s, %s)\n",
			fe.typedOperand(in.Args[0]), fe.typedOperand(in.Args[1]))
	case mir.IntrPrintNL:
		fe.buf.WriteString("  call void @capy_print_nl()\n")
	case mir.IntrTypeInfo:
		fmt.Fprintf(&fe.buf, "  %s = call ptr @capy_type_info(%s)\n",
			fe.temp(in.Dst), fe.typedOperand(in.Args[0]))
	case mir.IntrSizeOfVal:
		fmt.Fprintf(&fe.buf, "  %s = call i64 @capy_size_of(%s)\n",
			fe.temp(in.Dst), fe.typedOperand(in.Args[0]))
	case mir.IntrAllocComptime:
		return fmt.Errorf("comptime-only intrinsic reached native emission")
	}
	return nil
}

func (fe *funcEmitter) emitTerm(t *mir.Terminator) error {
	switch t.Kind {
	case mir.TermBr:
		fmt.Fprintf(&fe.buf, "  br label %%bb%d\n", t.Target)
	case mir.TermCondBr:
		c := fe.fresh()
		fmt.Fprintf(&fe.buf, "  %s = trunc i8 %s to i1\n", c, fe.operand(t.Cond))
		fmt.Fprintf(&fe.buf, "  br i1 %s, label %%bb%d, label %%bb%d\n", c, t.Target, t.Else)
	case mir.TermRet:
		if t.HasVal {
			fmt.Fprintf(&fe.buf, "  ret %s\n", fe.typedOperand(withClass(t.Val, fe.f.ResultClass)))
		} else {
			fe.buf.WriteString("  ret void\n")
		}
	case mir.TermTrap:
		fmt.Fprintf(&fe.buf, "  call void @capy_panic(i32 %d)\n  unreachable\n", t.Trap)
	case mir.TermUnreachable:
		fe.buf.WriteString("  unreachable\n")
	default:
		// An unterminated block falls back to a safe return.
		if fe.f.SRet || fe.f.ResultClass == mir.CNone {
			fe.buf.WriteString("  ret void\n")
		} else {
			fmt.Fprintf(&fe.buf, "  ret %s 0\n", classType(fe.f.ResultClass))
		}
	}
	return nil
}

func binOpName(k mir.BinKind) string {
	switch k {
	case mir.BinAdd:
		return "add"
	case mir.BinSub:
		return "sub"
	case mir.BinMul:
		return "mul"
	case mir.BinSDiv:
		return "sdiv"
	case mir.BinUDiv:
		return "udiv"
	case mir.BinSRem:
		return "srem"
	case mir.BinURem:
		return "urem"
	case mir.BinAnd:
		return "and"
	case mir.BinOr:
		return "or"
	case mir.BinXor:
		return "xor"
	case mir.BinShl:
		return "shl"
	case mir.BinLShr:
		return "lshr"
	case mir.BinAShr:
		return "ashr"
	case mir.BinFAdd:
		return "fadd"
	case mir.BinFSub:
		return "fsub"
	case mir.BinFMul:
		return "fmul"
	default:
		return "fdiv"
	}
}

func cmpPred(k mir.CmpKind) (string, bool) {
	switch k {
	case mir.CmpEq:
		return "eq", false
	case mir.CmpNe:
		return "ne", false
	case mir.CmpSLt:
		return "slt", false
	case mir.CmpSLe:
		return "sle", false
	case mir.CmpSGt:
		return "sgt", false
	case mir.CmpSGe:
		return "sge", false
	case mir.CmpULt:
		return "ult", false
	case mir.CmpULe:
		return "ule", false
	case mir.CmpUGt:
		return "ugt", false
	case mir.CmpUGe:
		return "uge", false
	case mir.CmpFEq:
		return "oeq", true
	case mir.CmpFNe:
		return "une", true
	case mir.CmpFLt:
		return "olt", true
	case mir.CmpFLe:
		return "ole", true
	case mir.CmpFGt:
		return "ogt", true
	default:
		return "oge", true
	}
}
