package comptime

import (
	"errors"
	"math"

	"capy/internal/mir"
	"capy/internal/types"
)

func typesID(v uint64) types.TypeID { return types.TypeID(uint32(v)) }

var errDivZero = errors.New("division by zero")

func maskFor(class mir.Class) uint64 {
	switch class.Bits() {
	case 8:
		return 0xFF
	case 16:
		return 0xFFFF
	case 32:
		return 0xFFFF_FFFF
	default:
		return ^uint64(0)
	}
}

// signExtend widens the class-sized value to 64 bits.
func signExtend(v uint64, class mir.Class) int64 {
	switch class.Bits() {
	case 8:
		return int64(int8(v))
	case 16:
		return int64(int16(v))
	case 32:
		return int64(int32(v))
	default:
		return int64(v)
	}
}

func floatOf(v uint64, class mir.Class) float64 {
	if class == mir.CF32 {
		return f32FromBits(v)
	}
	return f64FromBits(v)
}

func floatBits(f float64, class mir.Class) uint64 {
	if class == mir.CF32 {
		return bitsFromF32(f)
	}
	return bitsFromF64(f)
}

func evalBin(op mir.BinKind, class mir.Class, a, b uint64) (uint64, error) {
	mask := maskFor(class)
	switch op {
	case mir.BinFAdd, mir.BinFSub, mir.BinFMul, mir.BinFDiv:
		x, y := floatOf(a, class), floatOf(b, class)
		var r float64
		switch op {
		case mir.BinFAdd:
			r = x + y
		case mir.BinFSub:
			r = x - y
		case mir.BinFMul:
			r = x * y
		default:
			r = x / y
		}
		return floatBits(r, class), nil
	case mir.BinAdd:
		return (a + b) & mask, nil
	case mir.BinSub:
		return (a - b) & mask, nil
	case mir.BinMul:
		return (a * b) & mask, nil
	case mir.BinSDiv:
		if b&mask == 0 {
			return 0, errDivZero
		}
		return uint64(signExtend(a, class)/signExtend(b, class)) & mask, nil
	case mir.BinUDiv:
		if b&mask == 0 {
			return 0, errDivZero
		}
		return ((a & mask) / (b & mask)) & mask, nil
	case mir.BinSRem:
		if b&mask == 0 {
			return 0, errDivZero
		}
		return uint64(signExtend(a, class)%signExtend(b, class)) & mask, nil
	case mir.BinURem:
		if b&mask == 0 {
			return 0, errDivZero
		}
		return ((a & mask) % (b & mask)) & mask, nil
	case mir.BinAnd:
		return a & b & mask, nil
	case mir.BinOr:
		return (a | b) & mask, nil
	case mir.BinXor:
		return (a ^ b) & mask, nil
	case mir.BinShl:
		return (a << (b & 63)) & mask, nil
	case mir.BinLShr:
		return ((a & mask) >> (b & 63)) & mask, nil
	case mir.BinAShr:
		return uint64(signExtend(a, class)>>(b&63)) & mask, nil
	}
	return 0, nil
}

func evalCmp(op mir.CmpKind, class mir.Class, a, b uint64) uint64 {
	boolV := func(v bool) uint64 {
		if v {
			return 1
		}
		return 0
	}
	switch op {
	case mir.CmpFEq, mir.CmpFNe, mir.CmpFLt, mir.CmpFLe, mir.CmpFGt, mir.CmpFGe:
		x, y := floatOf(a, class), floatOf(b, class)
		switch op {
		case mir.CmpFEq:
			return boolV(x == y)
		case mir.CmpFNe:
			return boolV(x != y)
		case mir.CmpFLt:
			return boolV(x < y)
		case mir.CmpFLe:
			return boolV(x <= y)
		case mir.CmpFGt:
			return boolV(x > y)
		default:
			return boolV(x >= y)
		}
	}
	mask := maskFor(class)
	ua, ub := a&mask, b&mask
	sa, sb := signExtend(a, class), signExtend(b, class)
	switch op {
	case mir.CmpEq:
		return boolV(ua == ub)
	case mir.CmpNe:
		return boolV(ua != ub)
	case mir.CmpSLt:
		return boolV(sa < sb)
	case mir.CmpSLe:
		return boolV(sa <= sb)
	case mir.CmpSGt:
		return boolV(sa > sb)
	case mir.CmpSGe:
		return boolV(sa >= sb)
	case mir.CmpULt:
		return boolV(ua < ub)
	case mir.CmpULe:
		return boolV(ua <= ub)
	case mir.CmpUGt:
		return boolV(ua > ub)
	default:
		return boolV(ua >= ub)
	}
}

func evalConvert(op mir.ConvKind, from, to mir.Class, v uint64) uint64 {
	switch op {
	case mir.ConvZExt:
		return v & maskFor(from)
	case mir.ConvSExt:
		return uint64(signExtend(v, from)) & maskFor(to)
	case mir.ConvTrunc:
		return v & maskFor(to)
	case mir.ConvSIToFP:
		return floatBits(float64(signExtend(v, from)), to)
	case mir.ConvUIToFP:
		return floatBits(float64(v&maskFor(from)), to)
	case mir.ConvFPToSI:
		f := floatOf(v, from)
		if math.IsNaN(f) {
			return 0
		}
		return uint64(int64(f)) & maskFor(to)
	case mir.ConvFPToUI:
		f := floatOf(v, from)
		if math.IsNaN(f) || f < 0 {
			return 0
		}
		return uint64(f) & maskFor(to)
	case mir.ConvFPTrunc:
		return bitsFromF32(f64FromBits(v))
	case mir.ConvFPExt:
		return bitsFromF64(f32FromBits(v))
	default:
		return v
	}
}
