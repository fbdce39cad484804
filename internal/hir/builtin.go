package hir

import "capy/internal/source"

// Builtin enumerates names the compiler resolves when lexical lookup
// fails: primitive type names and the built-in operations. They are
// not reserved; a user binding shadows any of them.
type Builtin uint8

const (
	BuiltinNone Builtin = iota

	BuiltinI8
	BuiltinI16
	BuiltinI32
	BuiltinI64
	BuiltinI128
	BuiltinISize
	BuiltinU8
	BuiltinU16
	BuiltinU32
	BuiltinU64
	BuiltinU128
	BuiltinUSize
	BuiltinF32
	BuiltinF64
	BuiltinBool
	BuiltinChar
	BuiltinStr
	BuiltinVoid
	BuiltinAny
	BuiltinType
	BuiltinRawPtr
	// BuiltinMutRawPtr has no bare spelling; `mut rawptr` lowers here.
	BuiltinMutRawPtr
	BuiltinRawSlice

	BuiltinPrintln
	BuiltinPrint
	BuiltinSizeOf
	BuiltinAlignOf
	BuiltinStrideOf
	BuiltinTypeInfo
	BuiltinArgs
)

var builtinNames = map[string]Builtin{
	"i8": BuiltinI8, "i16": BuiltinI16, "i32": BuiltinI32,
	"i64": BuiltinI64, "i128": BuiltinI128, "isize": BuiltinISize,
	"u8": BuiltinU8, "u16": BuiltinU16, "u32": BuiltinU32,
	"u64": BuiltinU64, "u128": BuiltinU128, "usize": BuiltinUSize,
	"f32": BuiltinF32, "f64": BuiltinF64,
	"bool": BuiltinBool, "char": BuiltinChar, "str": BuiltinStr,
	"void": BuiltinVoid, "any": BuiltinAny, "type": BuiltinType,
	"rawptr": BuiltinRawPtr, "rawslice": BuiltinRawSlice,

	"println": BuiltinPrintln, "print": BuiltinPrint,
	"size_of": BuiltinSizeOf, "align_of": BuiltinAlignOf,
	"stride_of": BuiltinStrideOf, "get_type_info": BuiltinTypeInfo,
	"args": BuiltinArgs,
}

// IsTypeName reports whether the builtin denotes a primitive type.
func (b Builtin) IsTypeName() bool {
	return b >= BuiltinI8 && b <= BuiltinRawSlice
}

type builtinTable struct {
	byID map[source.StringID]Builtin
}

func newBuiltinTable(strs *source.Interner) *builtinTable {
	t := &builtinTable{byID: make(map[source.StringID]Builtin, len(builtinNames))}
	for name, b := range builtinNames {
		t.byID[strs.Intern(name)] = b
	}
	return t
}

func (t *builtinTable) lookup(name source.StringID) (Builtin, bool) {
	b, ok := t.byID[name]
	return b, ok
}
