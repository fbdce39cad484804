package types

import (
	"testing"

	"capy/internal/source"
)

func TestInternerBuiltins(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	if b.Void == NoTypeID || b.Bool == NoTypeID || b.MetaType == NoTypeID {
		t.Fatal("builtins not initialized")
	}
	i32, _ := in.Lookup(b.I32)
	if i32.Kind != KindInt || i32.Width != Width32 || !i32.Signed {
		t.Fatalf("i32 descriptor = %+v", i32)
	}
	usize, _ := in.Lookup(b.USize)
	if usize.Width != WidthSize || usize.Signed {
		t.Fatalf("usize descriptor = %+v", usize)
	}
}

func TestStructuralIdentity(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	arr1 := in.Intern(MakeArray(b.I32, 6))
	arr2 := in.Intern(MakeArray(b.I32, 6))
	if arr1 != arr2 {
		t.Fatal("equal arrays must share a TypeID")
	}
	if in.Intern(MakeArray(b.I32, 7)) == arr1 {
		t.Fatal("length participates in identity")
	}
	if in.Intern(MakeSlice(b.I32)) == arr1 {
		t.Fatal("slice and array must differ")
	}
}

func TestPointerMutabilityIdentity(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	mut := in.Intern(MakePointer(b.I32, true))
	imm := in.Intern(MakePointer(b.I32, false))
	if mut == imm {
		t.Fatal("mutable and immutable pointers must differ")
	}
}

func TestDistinctMintsFreshTags(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	d1 := in.NewDistinct(b.I64)
	d2 := in.NewDistinct(b.I64)
	if d1 == d2 {
		t.Fatal("each distinct declaration must mint a fresh type")
	}
	if in.Underlying(d1) != b.I64 {
		t.Fatalf("underlying = %d, want i64", in.Underlying(d1))
	}
}

func TestStructsAreStructural(t *testing.T) {
	in := NewInterner()
	strs := source.NewInterner()
	b := in.Builtins()
	x, y := strs.Intern("x"), strs.Intern("y")
	s1 := in.InternStruct([]Field{{Name: x, Type: b.I32}, {Name: y, Type: b.I32}})
	s2 := in.InternStruct([]Field{{Name: x, Type: b.I32}, {Name: y, Type: b.I32}})
	if s1 != s2 {
		t.Fatal("structurally equal structs must share a TypeID")
	}
	s3 := in.InternStruct([]Field{{Name: y, Type: b.I32}, {Name: x, Type: b.I32}})
	if s3 == s1 {
		t.Fatal("member order participates in identity")
	}
}

func TestEnumVariantsPointBack(t *testing.T) {
	in := NewInterner()
	strs := source.NewInterner()
	b := in.Builtins()
	a, bb := strs.Intern("A"), strs.Intern("B")

	enumID, err := in.InternEnum([]VariantSpec{
		{Name: a, Payload: b.I32, Discriminant: -1},
		{Name: bb, Payload: b.String, Discriminant: -1},
	})
	if err != nil {
		t.Fatalf("InternEnum: %v", err)
	}
	info, ok := in.EnumInfo(enumID)
	if !ok || len(info.Variants) != 2 {
		t.Fatalf("enum info = %+v", info)
	}
	if info.Variants[0].Discriminant != 0 || info.Variants[1].Discriminant != 1 {
		t.Fatalf("default discriminants = %d, %d", info.Variants[0].Discriminant, info.Variants[1].Discriminant)
	}
	ref, ok := in.VariantRef(info.Variants[1].Type)
	if !ok || ref.Enum != enumID || ref.Index != 1 {
		t.Fatalf("variant ref = %+v", ref)
	}
	vt, _ := in.Lookup(info.Variants[1].Type)
	if vt.Elem != b.String {
		t.Fatalf("variant payload type = %d, want str", vt.Elem)
	}
}

func TestEnumDiscriminantOverride(t *testing.T) {
	in := NewInterner()
	strs := source.NewInterner()
	b := in.Builtins()
	enumID, err := in.InternEnum([]VariantSpec{
		{Name: strs.Intern("A"), Payload: b.I32, Discriminant: -1},
		{Name: strs.Intern("B"), Payload: b.String, Discriminant: 4},
	})
	if err != nil {
		t.Fatalf("InternEnum: %v", err)
	}
	info, _ := in.EnumInfo(enumID)
	if info.Variants[1].Discriminant != 4 {
		t.Fatalf("override = %d, want 4", info.Variants[1].Discriminant)
	}
	if _, err := in.InternEnum([]VariantSpec{
		{Name: strs.Intern("A"), Payload: b.I32, Discriminant: 1},
		{Name: strs.Intern("B"), Payload: b.I32, Discriminant: -1},
	}); err == nil {
		t.Fatal("duplicate discriminants must be rejected")
	}
}

func TestFunctionSignatureIdentity(t *testing.T) {
	in := NewInterner()
	b := in.Builtins()
	f1 := in.InternFn([]TypeID{b.I32, b.I32}, b.I32)
	f2 := in.InternFn([]TypeID{b.I32, b.I32}, b.I32)
	if f1 != f2 {
		t.Fatal("equal signatures must share a TypeID")
	}
	f3 := in.InternFn([]TypeID{b.I32}, b.I32)
	if f3 == f1 {
		t.Fatal("arity participates in identity")
	}
}

func TestContainsPointer(t *testing.T) {
	in := NewInterner()
	strs := source.NewInterner()
	b := in.Builtins()
	if in.ContainsPointer(b.I64) {
		t.Fatal("i64 holds no pointer")
	}
	if !in.ContainsPointer(in.Intern(MakePointer(b.I32, false))) {
		t.Fatal("^i32 holds a pointer")
	}
	if !in.ContainsPointer(b.String) {
		t.Fatal("str is pointer-backed")
	}
	s := in.InternStruct([]Field{{Name: strs.Intern("p"), Type: in.Intern(MakeSlice(b.I32))}})
	if !in.ContainsPointer(s) {
		t.Fatal("struct holding a slice holds a pointer")
	}
}

func TestFormat(t *testing.T) {
	in := NewInterner()
	strs := source.NewInterner()
	b := in.Builtins()
	cases := map[TypeID]string{
		b.I32:                              "i32",
		b.USize:                            "usize",
		in.Intern(MakeArray(b.I32, 6)):     "[6]i32",
		in.Intern(MakeSlice(b.String)):     "[]str",
		in.Intern(MakePointer(b.I8, true)): "^mut i8",
	}
	for id, want := range cases {
		if got := in.Format(id, strs); got != want {
			t.Fatalf("Format(%d) = %q, want %q", id, got, want)
		}
	}
}
