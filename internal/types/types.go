// Package types implements the shared, append-only type table.
//
// Types are immutable values identified by a dense 32-bit TypeID.
// Identity is structural: two type expressions intern to the same id
// iff they are equal under the canonical form, with `distinct` the one
// deliberate exception (every distinct declaration mints a fresh tag
// that participates in the canonical form).
package types

import "fmt"

// TypeID uniquely identifies a type inside the interner. IDs are
// assigned in registration order and never reused.
type TypeID uint32

// NoTypeID marks the absence of a type.
const NoTypeID TypeID = 0

// Kind enumerates all supported kinds of types.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindVoid
	KindBool
	KindChar
	KindString
	KindInt
	KindFloat
	KindArray
	KindSlice
	KindPointer
	KindDistinct
	KindStruct
	KindEnum
	KindVariant
	KindFunction
	KindFile
	KindMetaType
	KindAny
	KindRawPtr
	KindRawSlice
)

var kindNames = [...]string{
	KindInvalid: "invalid", KindVoid: "void", KindBool: "bool",
	KindChar: "char", KindString: "str", KindInt: "int",
	KindFloat: "float", KindArray: "array", KindSlice: "slice",
	KindPointer: "pointer", KindDistinct: "distinct",
	KindStruct: "struct", KindEnum: "enum", KindVariant: "variant",
	KindFunction: "function", KindFile: "file", KindMetaType: "type",
	KindAny: "any", KindRawPtr: "rawptr", KindRawSlice: "rawslice",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Width captures the precision of integers and floats in bits.
// WidthSize is the pointer-sized width (isize/usize).
type Width uint8

const (
	WidthSize Width = 0
	Width8    Width = 8
	Width16   Width = 16
	Width32   Width = 32
	Width64   Width = 64
	Width128  Width = 128
)

// Type is the compact canonical descriptor. Aggregate kinds keep an
// index into the interner's side tables in Payload.
type Type struct {
	Kind    Kind
	Elem    TypeID // array/slice element, pointee, distinct underlying, variant payload
	Len     uint64 // array length
	Width   Width  // int/float precision
	Signed  bool   // int signedness
	Mutable bool   // pointer/rawptr mutability
	Payload uint32 // struct/enum/variant/function/file side index; distinct tag
}

// Descriptor helpers --------------------------------------------------------

// MakeInt describes an integer of the given width and signedness.
func MakeInt(width Width, signed bool) Type {
	return Type{Kind: KindInt, Width: width, Signed: signed}
}

// MakeFloat describes a floating-point type.
func MakeFloat(width Width) Type {
	return Type{Kind: KindFloat, Width: width}
}

// MakeArray describes a fixed array [len]elem.
func MakeArray(elem TypeID, length uint64) Type {
	return Type{Kind: KindArray, Elem: elem, Len: length}
}

// MakeSlice describes []elem.
func MakeSlice(elem TypeID) Type {
	return Type{Kind: KindSlice, Elem: elem}
}

// MakePointer describes ^elem or ^mut elem.
func MakePointer(elem TypeID, mutable bool) Type {
	return Type{Kind: KindPointer, Elem: elem, Mutable: mutable}
}
