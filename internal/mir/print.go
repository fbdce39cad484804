package mir

import (
	"fmt"
	"strings"
)

// Print renders a module in a readable form for --emit-mir and tests.
func Print(m *Module) string {
	var sb strings.Builder
	for _, g := range m.Globals {
		kind := "global"
		if g.Const {
			kind = "const"
		}
		fmt.Fprintf(&sb, "%s @%s : type#%d size=%d align=%d", kind, g.Name, g.Type, g.Size, g.Align)
		if g.Init != nil {
			fmt.Fprintf(&sb, " init=%d bytes", len(g.Init))
		}
		sb.WriteByte('\n')
	}
	for _, f := range m.Funcs {
		printFunc(&sb, f)
	}
	return sb.String()
}

func printFunc(sb *strings.Builder, f *Func) {
	if f.Extern {
		fmt.Fprintf(sb, "extern fn @%s\n", f.Name)
		return
	}
	fmt.Fprintf(sb, "fn @%s(", f.Name)
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%%l%d:%s", p, f.Locals[p].Name)
	}
	fmt.Fprintf(sb, ") -> type#%d {\n", f.Result)
	for i := range f.Blocks {
		b := &f.Blocks[i]
		fmt.Fprintf(sb, "bb%d:\n", b.ID)
		for _, in := range b.Instrs {
			fmt.Fprintf(sb, "  %s\n", formatInstr(&in))
		}
		fmt.Fprintf(sb, "  %s\n", formatTerm(&b.Term))
	}
	sb.WriteString("}\n")
}

func formatOperand(o Operand) string {
	switch o.Kind {
	case OpTemp:
		return fmt.Sprintf("%%t%d", o.Temp)
	case OpConstInt:
		return fmt.Sprintf("%d", o.Int)
	case OpConstFloat:
		return fmt.Sprintf("%g", o.Float)
	case OpGlobalAddr:
		return fmt.Sprintf("@g%d", o.Global)
	case OpFuncAddr:
		return fmt.Sprintf("@f%d", o.Func)
	case OpLocalAddr:
		if o.Local == SRetLocal {
			return "%sret"
		}
		return fmt.Sprintf("&%%l%d", o.Local)
	default:
		return "none"
	}
}

func formatInstr(in *Instr) string {
	switch in.Kind {
	case InstrBin:
		return fmt.Sprintf("%%t%d = bin.%d %s, %s", in.Dst, in.Bin, formatOperand(in.A), formatOperand(in.B))
	case InstrCmp:
		return fmt.Sprintf("%%t%d = cmp.%d %s, %s", in.Dst, in.Cmp, formatOperand(in.A), formatOperand(in.B))
	case InstrLoad:
		return fmt.Sprintf("%%t%d = load.%d %s", in.Dst, in.Class.Bits(), formatOperand(in.Addr))
	case InstrStore:
		return fmt.Sprintf("store.%d %s, %s", in.Class.Bits(), formatOperand(in.Addr), formatOperand(in.Val))
	case InstrMemCopy:
		return fmt.Sprintf("memcpy %s, %s, %d", formatOperand(in.Addr), formatOperand(in.Val), in.Size)
	case InstrPtrAdd:
		return fmt.Sprintf("%%t%d = ptradd %s, %s", in.Dst, formatOperand(in.A), formatOperand(in.B))
	case InstrConvert:
		return fmt.Sprintf("%%t%d = conv.%d %s", in.Dst, in.Conv, formatOperand(in.A))
	case InstrCall:
		args := make([]string, 0, len(in.Args))
		for _, a := range in.Args {
			args = append(args, formatOperand(a))
		}
		if in.HasDst {
			return fmt.Sprintf("%%t%d = call %s(%s)", in.Dst, formatOperand(in.Callee), strings.Join(args, ", "))
		}
		return fmt.Sprintf("call %s(%s)", formatOperand(in.Callee), strings.Join(args, ", "))
	case InstrIntrinsic:
		args := make([]string, 0, len(in.Args))
		for _, a := range in.Args {
			args = append(args, formatOperand(a))
		}
		if in.HasDst {
			return fmt.Sprintf("%%t%d = intr.%d(%s)", in.Dst, in.Intr, strings.Join(args, ", "))
		}
		return fmt.Sprintf("intr.%d(%s)", in.Intr, strings.Join(args, ", "))
	default:
		return "nop"
	}
}

func formatTerm(t *Terminator) string {
	switch t.Kind {
	case TermBr:
		return fmt.Sprintf("br bb%d", t.Target)
	case TermCondBr:
		return fmt.Sprintf("condbr %s, bb%d, bb%d", formatOperand(t.Cond), t.Target, t.Else)
	case TermRet:
		if t.HasVal {
			return fmt.Sprintf("ret %s", formatOperand(t.Val))
		}
		return "ret"
	case TermTrap:
		return fmt.Sprintf("trap(%s)", t.Trap)
	case TermUnreachable:
		return "unreachable"
	default:
		return "<unterminated>"
	}
}
