package mir

import (
	"capy/internal/source"
	"capy/internal/types"
)

// Class is the machine class of an SSA value.
type Class uint8

const (
	CNone Class = iota
	C8
	C16
	C32
	C64
	CPtr
	CF32
	CF64
)

// Bits returns the width of the class on a 64-bit target.
func (c Class) Bits() int {
	switch c {
	case C8:
		return 8
	case C16:
		return 16
	case C32, CF32:
		return 32
	case C64, CF64, CPtr:
		return 64
	default:
		return 0
	}
}

// IsFloat reports the floating classes.
func (c Class) IsFloat() bool { return c == CF32 || c == CF64 }

// OperandKind discriminates operand payloads.
type OperandKind uint8

const (
	OpNone OperandKind = iota
	OpTemp
	OpConstInt
	OpConstFloat
	OpGlobalAddr
	OpFuncAddr
	OpLocalAddr
)

// Operand is one SSA value reference or constant.
type Operand struct {
	Kind   OperandKind
	Class  Class
	Temp   Temp
	Int    int64
	Float  float64
	Global GlobalID
	Func   FuncID
	Local  LocalID
}

func TempOp(t Temp, c Class) Operand    { return Operand{Kind: OpTemp, Class: c, Temp: t} }
func ConstInt(v int64, c Class) Operand { return Operand{Kind: OpConstInt, Class: c, Int: v} }
func ConstFloat(v float64, c Class) Operand {
	return Operand{Kind: OpConstFloat, Class: CF64, Float: v}
}
func GlobalAddr(g GlobalID) Operand { return Operand{Kind: OpGlobalAddr, Class: CPtr, Global: g} }
func FuncAddr(f FuncID) Operand     { return Operand{Kind: OpFuncAddr, Class: CPtr, Func: f} }
func LocalAddr(l LocalID) Operand   { return Operand{Kind: OpLocalAddr, Class: CPtr, Local: l} }

// InstrKind enumerates instruction kinds.
type InstrKind uint8

const (
	InstrNop InstrKind = iota
	InstrBin
	InstrCmp
	InstrLoad
	InstrStore
	InstrMemCopy
	InstrPtrAdd
	InstrConvert
	InstrCall
	InstrIntrinsic
)

// BinKind enumerates arithmetic and bitwise operations.
type BinKind uint8

const (
	BinAdd BinKind = iota
	BinSub
	BinMul
	BinSDiv
	BinUDiv
	BinSRem
	BinURem
	BinAnd
	BinOr
	BinXor
	BinShl
	BinLShr
	BinAShr
	BinFAdd
	BinFSub
	BinFMul
	BinFDiv
)

// CmpKind enumerates comparisons.
type CmpKind uint8

const (
	CmpEq CmpKind = iota
	CmpNe
	CmpSLt
	CmpSLe
	CmpSGt
	CmpSGe
	CmpULt
	CmpULe
	CmpUGt
	CmpUGe
	CmpFEq
	CmpFNe
	CmpFLt
	CmpFLe
	CmpFGt
	CmpFGe
)

// ConvKind enumerates value conversions.
type ConvKind uint8

const (
	ConvZExt ConvKind = iota
	ConvSExt
	ConvTrunc
	ConvSIToFP
	ConvUIToFP
	ConvFPToSI
	ConvFPToUI
	ConvFPTrunc
	ConvFPExt
	ConvBitcast
)

// IntrinsicKind enumerates runtime hooks shared by the VM and the
// native runtime.
type IntrinsicKind uint8

const (
	// IntrPrintAny prints a value via the reflection tables:
	// args = (type id, pointer to value).
	IntrPrintAny IntrinsicKind = iota
	// IntrPrintNL prints a newline.
	IntrPrintNL
	// IntrTypeInfo yields a pointer to the reflection record of a
	// type id: dst = pointer, args = (type id).
	IntrTypeInfo
	// IntrSizeOfVal yields the size of a runtime type value:
	// dst = usize, args = (type id).
	IntrSizeOfVal
	// IntrAllocComptime bump-allocates from the comptime heap; the
	// native backend rejects it (comptime-only intrinsic).
	IntrAllocComptime
)

// Instr is one instruction. Fields are sparse by kind.
type Instr struct {
	Kind InstrKind
	Span source.Span

	Dst    Temp
	HasDst bool
	Class  Class

	Bin  BinKind
	Cmp  CmpKind
	Conv ConvKind
	Intr IntrinsicKind

	A, B Operand

	// Memory ops.
	Addr Operand
	Val  Operand
	Size int

	// Calls.
	Callee  Operand
	Args    []Operand
	RetType types.TypeID
}

// TermKind enumerates block terminators.
type TermKind uint8

const (
	TermNone TermKind = iota
	TermBr
	TermCondBr
	TermRet
	TermTrap
	TermUnreachable
)

// TrapKind classifies runtime traps; the comptime engine maps them to
// diagnostics via the instruction span.
type TrapKind uint8

const (
	TrapBounds TrapKind = iota
	TrapDivZero
	TrapUnreachable
)

func (k TrapKind) String() string {
	switch k {
	case TrapBounds:
		return "index out of bounds"
	case TrapDivZero:
		return "division by zero"
	default:
		return "unreachable executed"
	}
}

// Terminator ends a basic block.
type Terminator struct {
	Kind TermKind
	Span source.Span

	Cond        Operand
	Target      BlockID
	Else        BlockID
	HasVal      bool
	Val         Operand
	Trap        TrapKind
}
