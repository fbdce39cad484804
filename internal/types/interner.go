package types

import (
	"fmt"
	"strings"

	"fortio.org/safecast"

	"capy/internal/source"
)

// Builtins stores TypeIDs for the primitive types every compilation
// needs.
type Builtins struct {
	Invalid  TypeID
	Void     TypeID
	Bool     TypeID
	Char     TypeID
	String   TypeID
	MetaType TypeID
	Any      TypeID
	RawPtr   TypeID
	RawPtrMut TypeID
	RawSlice TypeID

	I8, I16, I32, I64, I128, ISize TypeID
	U8, U16, U32, U64, U128, USize TypeID
	F32, F64                       TypeID
}

// Interner provides stable TypeIDs by hashing canonical descriptors.
// It is append-only and shared by every stage of a compilation.
type Interner struct {
	types []Type
	index map[Type]TypeID

	structs     []StructInfo
	structIndex map[string]uint32
	enums       []EnumInfo
	enumIndex   map[string]uint32
	variants    []VariantRef
	varIndex    map[VariantRef]uint32
	fns         []FnInfo
	fnIndex     map[string]uint32

	distinctTags uint32

	// names carries display names for nominal-looking declarations
	// (Point :: struct { ... }); it never affects identity.
	names map[TypeID]source.StringID

	builtins Builtins
}

// NewInterner constructs an interner seeded with the built-ins.
func NewInterner() *Interner {
	in := &Interner{
		index:       make(map[Type]TypeID, 64),
		structIndex: make(map[string]uint32, 16),
		enumIndex:   make(map[string]uint32, 16),
		varIndex:    make(map[VariantRef]uint32, 16),
		fnIndex:     make(map[string]uint32, 16),
		names:       make(map[TypeID]source.StringID, 16),
	}
	// Reserve index 0 of each side table as an invalid sentinel.
	in.structs = append(in.structs, StructInfo{})
	in.enums = append(in.enums, EnumInfo{})
	in.variants = append(in.variants, VariantRef{})
	in.fns = append(in.fns, FnInfo{})

	b := &in.builtins
	b.Invalid = in.internRaw(Type{Kind: KindInvalid})
	b.Void = in.Intern(Type{Kind: KindVoid})
	b.Bool = in.Intern(Type{Kind: KindBool})
	b.Char = in.Intern(Type{Kind: KindChar})
	b.String = in.Intern(Type{Kind: KindString})
	b.MetaType = in.Intern(Type{Kind: KindMetaType})
	b.Any = in.Intern(Type{Kind: KindAny})
	b.RawPtr = in.Intern(Type{Kind: KindRawPtr})
	b.RawPtrMut = in.Intern(Type{Kind: KindRawPtr, Mutable: true})
	b.RawSlice = in.Intern(Type{Kind: KindRawSlice})

	b.I8 = in.Intern(MakeInt(Width8, true))
	b.I16 = in.Intern(MakeInt(Width16, true))
	b.I32 = in.Intern(MakeInt(Width32, true))
	b.I64 = in.Intern(MakeInt(Width64, true))
	b.I128 = in.Intern(MakeInt(Width128, true))
	b.ISize = in.Intern(MakeInt(WidthSize, true))
	b.U8 = in.Intern(MakeInt(Width8, false))
	b.U16 = in.Intern(MakeInt(Width16, false))
	b.U32 = in.Intern(MakeInt(Width32, false))
	b.U64 = in.Intern(MakeInt(Width64, false))
	b.U128 = in.Intern(MakeInt(Width128, false))
	b.USize = in.Intern(MakeInt(WidthSize, false))
	b.F32 = in.Intern(MakeFloat(Width32))
	b.F64 = in.Intern(MakeFloat(Width64))
	return in
}

// Builtins returns the primitive TypeIDs.
func (in *Interner) Builtins() Builtins {
	return in.builtins
}

// Len returns the number of registered types, sentinel included.
func (in *Interner) Len() int {
	return len(in.types)
}

// Intern ensures the descriptor has a stable TypeID.
func (in *Interner) Intern(t Type) TypeID {
	if t.Kind == KindInvalid {
		return NoTypeID
	}
	if id, ok := in.index[t]; ok {
		return id
	}
	return in.internRaw(t)
}

func (in *Interner) internRaw(t Type) TypeID {
	n, err := safecast.Conv[uint32](len(in.types))
	if err != nil {
		panic(fmt.Errorf("types: table overflow: %w", err))
	}
	id := TypeID(n)
	in.types = append(in.types, t)
	in.index[t] = id
	return id
}

// Lookup returns the descriptor for id.
func (in *Interner) Lookup(id TypeID) (Type, bool) {
	if id == NoTypeID || int(id) >= len(in.types) {
		return Type{}, false
	}
	return in.types[id], true
}

// MustLookup panics when id is invalid.
func (in *Interner) MustLookup(id TypeID) Type {
	t, ok := in.Lookup(id)
	if !ok {
		panic("types: invalid TypeID")
	}
	return t
}

// NewDistinct mints a distinct wrapper over underlying. Every call
// returns a fresh type: the tag is part of the canonical form.
func (in *Interner) NewDistinct(underlying TypeID) TypeID {
	in.distinctTags++
	return in.internRaw(Type{Kind: KindDistinct, Elem: underlying, Payload: in.distinctTags})
}

// InternStruct interns a struct by its ordered member list.
func (in *Interner) InternStruct(fields []Field) TypeID {
	key := structKey(fields)
	if idx, ok := in.structIndex[key]; ok {
		return in.Intern(Type{Kind: KindStruct, Payload: idx})
	}
	idx, err := safecast.Conv[uint32](len(in.structs))
	if err != nil {
		panic(fmt.Errorf("types: struct table overflow: %w", err))
	}
	in.structs = append(in.structs, StructInfo{Fields: fields})
	in.structIndex[key] = idx
	return in.Intern(Type{Kind: KindStruct, Payload: idx})
}

// StructInfo returns the member list of a struct type.
func (in *Interner) StructInfo(id TypeID) (*StructInfo, bool) {
	t, ok := in.Lookup(id)
	if !ok || t.Kind != KindStruct || int(t.Payload) >= len(in.structs) {
		return nil, false
	}
	return &in.structs[t.Payload], true
}

// VariantSpec declares one arm for InternEnum. Discriminant -1 selects
// the positional default.
type VariantSpec struct {
	Name         source.StringID
	Payload      TypeID
	Discriminant int16
}

// InternEnum interns an enum from its ordered variants and registers a
// stand-alone Variant type per arm. Defaults are 0,1,2,… by position;
// an explicit override replaces the default for that arm only.
func (in *Interner) InternEnum(specs []VariantSpec) (TypeID, error) {
	infos := make([]VariantInfo, len(specs))
	seen := make(map[uint8]source.StringID, len(specs))
	for i, spec := range specs {
		disc := uint8(i)
		if spec.Discriminant >= 0 {
			if spec.Discriminant > 255 {
				return NoTypeID, fmt.Errorf("discriminant %d does not fit in u8", spec.Discriminant)
			}
			disc = uint8(spec.Discriminant)
		}
		if prev, dup := seen[disc]; dup {
			_ = prev
			return NoTypeID, fmt.Errorf("duplicate discriminant %d", disc)
		}
		seen[disc] = spec.Name
		infos[i] = VariantInfo{Name: spec.Name, Payload: spec.Payload, Discriminant: disc}
	}

	key := enumKey(infos)
	if idx, ok := in.enumIndex[key]; ok {
		return in.Intern(Type{Kind: KindEnum, Payload: idx}), nil
	}
	idx, err := safecast.Conv[uint32](len(in.enums))
	if err != nil {
		panic(fmt.Errorf("types: enum table overflow: %w", err))
	}
	in.enums = append(in.enums, EnumInfo{Variants: infos})
	in.enumIndex[key] = idx
	enumID := in.Intern(Type{Kind: KindEnum, Payload: idx})

	// Register the per-arm Variant types, pointing back at the owner.
	info := &in.enums[idx]
	for i := range info.Variants {
		info.Variants[i].Type = in.internVariant(enumID, uint32(i), info.Variants[i].Payload)
	}
	return enumID, nil
}

func (in *Interner) internVariant(enumID TypeID, index uint32, payload TypeID) TypeID {
	ref := VariantRef{Enum: enumID, Index: index}
	if idx, ok := in.varIndex[ref]; ok {
		return in.Intern(Type{Kind: KindVariant, Elem: payload, Payload: idx})
	}
	idx, err := safecast.Conv[uint32](len(in.variants))
	if err != nil {
		panic(fmt.Errorf("types: variant table overflow: %w", err))
	}
	in.variants = append(in.variants, ref)
	in.varIndex[ref] = idx
	return in.Intern(Type{Kind: KindVariant, Elem: payload, Payload: idx})
}

// EnumInfo returns the variants of an enum type.
func (in *Interner) EnumInfo(id TypeID) (*EnumInfo, bool) {
	t, ok := in.Lookup(id)
	if !ok || t.Kind != KindEnum || int(t.Payload) >= len(in.enums) {
		return nil, false
	}
	return &in.enums[t.Payload], true
}

// VariantRef resolves a Variant type to its owning enum and arm index.
func (in *Interner) VariantRef(id TypeID) (VariantRef, bool) {
	t, ok := in.Lookup(id)
	if !ok || t.Kind != KindVariant || int(t.Payload) >= len(in.variants) {
		return VariantRef{}, false
	}
	return in.variants[t.Payload], true
}

// VariantInfo resolves a Variant type to the arm it names.
func (in *Interner) VariantInfo(id TypeID) (*VariantInfo, bool) {
	ref, ok := in.VariantRef(id)
	if !ok {
		return nil, false
	}
	info, ok := in.EnumInfo(ref.Enum)
	if !ok || int(ref.Index) >= len(info.Variants) {
		return nil, false
	}
	return &info.Variants[ref.Index], true
}

// InternFn interns a function type by its signature.
func (in *Interner) InternFn(params []TypeID, result TypeID) TypeID {
	key := fnKey(params, result)
	if idx, ok := in.fnIndex[key]; ok {
		return in.Intern(Type{Kind: KindFunction, Payload: idx})
	}
	idx, err := safecast.Conv[uint32](len(in.fns))
	if err != nil {
		panic(fmt.Errorf("types: fn table overflow: %w", err))
	}
	in.fns = append(in.fns, FnInfo{Params: params, Result: result})
	in.fnIndex[key] = idx
	return in.Intern(Type{Kind: KindFunction, Payload: idx})
}

// FnInfo returns the signature of a function type.
func (in *Interner) FnInfo(id TypeID) (*FnInfo, bool) {
	t, ok := in.Lookup(id)
	if !ok || t.Kind != KindFunction || int(t.Payload) >= len(in.fns) {
		return nil, false
	}
	return &in.fns[t.Payload], true
}

// InternFile interns the type of an imported module. Modules are
// distinguished by ordinal so member resolution can find the module
// from the type alone; the values stay zero-sized.
func (in *Interner) InternFile(module uint32) TypeID {
	return in.Intern(Type{Kind: KindFile, Payload: module})
}

// SetName records a display name for a type (first binding wins).
func (in *Interner) SetName(id TypeID, name source.StringID) {
	if _, taken := in.names[id]; !taken {
		in.names[id] = name
	}
}

// NameOf returns the recorded display name, if any.
func (in *Interner) NameOf(id TypeID) (source.StringID, bool) {
	name, ok := in.names[id]
	return name, ok
}

func structKey(fields []Field) string {
	var sb strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&sb, "%d:%d;", f.Name, f.Type)
	}
	return sb.String()
}

func enumKey(variants []VariantInfo) string {
	var sb strings.Builder
	for _, v := range variants {
		fmt.Fprintf(&sb, "%d:%d:%d;", v.Name, v.Payload, v.Discriminant)
	}
	return sb.String()
}

func fnKey(params []TypeID, result TypeID) string {
	var sb strings.Builder
	for _, p := range params {
		fmt.Fprintf(&sb, "%d,", p)
	}
	fmt.Fprintf(&sb, "->%d", result)
	return sb.String()
}
