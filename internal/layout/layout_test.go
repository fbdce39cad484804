package layout

import (
	"errors"
	"testing"

	"capy/internal/source"
	"capy/internal/types"
)

func newEngine() (*Engine, *types.Interner, *source.Interner) {
	in := types.NewInterner()
	strs := source.NewInterner()
	return New(X8664LinuxGNU(), in), in, strs
}

func TestScalarLayouts(t *testing.T) {
	e, in, _ := newEngine()
	b := in.Builtins()
	cases := []struct {
		ty          types.TypeID
		size, align int
	}{
		{b.Bool, 1, 1},
		{b.Char, 4, 4},
		{b.I8, 1, 1},
		{b.I32, 4, 4},
		{b.I64, 8, 8},
		{b.I128, 16, 16},
		{b.ISize, 8, 8},
		{b.USize, 8, 8},
		{b.F32, 4, 4},
		{b.F64, 8, 8},
		{b.String, 8, 8},
		{b.MetaType, 4, 4},
		{b.Any, 16, 8},
		{b.RawPtr, 8, 8},
		{b.RawSlice, 16, 8},
		{b.Void, 0, 1},
	}
	for _, c := range cases {
		l, err := e.Of(c.ty)
		if err != nil {
			t.Fatalf("Of(%d): %v", c.ty, err)
		}
		if l.Size != c.size || l.Align != c.align {
			t.Fatalf("type %d layout = %d/%d, want %d/%d", c.ty, l.Size, l.Align, c.size, c.align)
		}
	}
}

func TestStructPaddingAndOffsets(t *testing.T) {
	e, in, strs := newEngine()
	b := in.Builtins()
	s := in.InternStruct([]types.Field{
		{Name: strs.Intern("a"), Type: b.I8},
		{Name: strs.Intern("b"), Type: b.I64},
		{Name: strs.Intern("c"), Type: b.I16},
	})
	l, err := e.Of(s)
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	wantOffsets := []int{0, 8, 16}
	for i, want := range wantOffsets {
		if l.FieldOffsets[i] != want {
			t.Fatalf("field %d offset = %d, want %d", i, l.FieldOffsets[i], want)
		}
	}
	if l.Size != 24 || l.Align != 8 {
		t.Fatalf("layout = %d/%d, want 24/8", l.Size, l.Align)
	}
}

func TestEnumDiscriminantFollowsPayload(t *testing.T) {
	e, in, strs := newEngine()
	b := in.Builtins()
	enumID, err := in.InternEnum([]types.VariantSpec{
		{Name: strs.Intern("A"), Payload: b.I32, Discriminant: -1},
		{Name: strs.Intern("B"), Payload: b.String, Discriminant: -1},
	})
	if err != nil {
		t.Fatalf("InternEnum: %v", err)
	}
	l, lerr := e.Of(enumID)
	if lerr != nil {
		t.Fatalf("Of: %v", lerr)
	}
	// Payload union is max(4, 8) = 8; the tag byte sits right after.
	if l.DiscOffset != 8 {
		t.Fatalf("disc offset = %d, want 8", l.DiscOffset)
	}
	if l.Size != 16 || l.Align != 8 {
		t.Fatalf("layout = %d/%d, want 16/8", l.Size, l.Align)
	}

	// A variant lays out as its payload alone.
	info, _ := in.EnumInfo(enumID)
	vl, _ := e.Of(info.Variants[0].Type)
	if vl.Size != 4 {
		t.Fatalf("variant size = %d, want 4", vl.Size)
	}
}

func TestArrayStride(t *testing.T) {
	e, in, strs := newEngine()
	b := in.Builtins()
	// struct { a: i32, b: i8 } has size 8 (rounded); 3 of them = 24.
	s := in.InternStruct([]types.Field{
		{Name: strs.Intern("a"), Type: b.I32},
		{Name: strs.Intern("b"), Type: b.I8},
	})
	arr := in.Intern(types.MakeArray(s, 3))
	size, err := e.SizeOf(arr)
	if err != nil {
		t.Fatalf("SizeOf: %v", err)
	}
	if size != 24 {
		t.Fatalf("array size = %d, want 24", size)
	}
	stride, _ := e.StrideOf(s)
	if stride != 8 {
		t.Fatalf("stride = %d, want 8", stride)
	}
}

func TestRecursiveStructByValueIsError(t *testing.T) {
	e, in, strs := newEngine()
	// struct { next: Self } — only expressible via two mutually
	// recursive ids; simulate with an array of itself through distinct.
	b := in.Builtins()
	d := in.NewDistinct(b.I32)
	s := in.InternStruct([]types.Field{{Name: strs.Intern("x"), Type: d}})
	if _, err := e.Of(s); err != nil {
		t.Fatalf("non-recursive distinct must lay out: %v", err)
	}

	// A genuine cycle: the interner can express one by pre-computing
	// the struct id. Build struct whose field refers to itself via the
	// structural index the interner will assign next.
	selfID := types.TypeID(in.Len())
	rec := in.InternStruct([]types.Field{{Name: strs.Intern("next"), Type: selfID}})
	if rec != selfID {
		t.Skipf("interner assigned %d, expected %d", rec, selfID)
	}
	_, err := e.Of(rec)
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != ErrRecursiveUnsized {
		t.Fatalf("expected recursive-unsized error, got %v", err)
	}
	if len(lerr.Cycle) == 0 {
		t.Fatal("cycle path must be reported")
	}
}

func TestPointerBreaksRecursion(t *testing.T) {
	e, in, strs := newEngine()
	selfID := types.TypeID(in.Len() + 1) // pointer interns first
	ptr := in.Intern(types.MakePointer(selfID, false))
	s := in.InternStruct([]types.Field{{Name: strs.Intern("next"), Type: ptr}})
	if s != selfID {
		t.Skipf("interner assigned %d, expected %d", s, selfID)
	}
	l, err := e.Of(s)
	if err != nil {
		t.Fatalf("pointer-linked recursion must lay out: %v", err)
	}
	if l.Size != 8 {
		t.Fatalf("size = %d, want 8", l.Size)
	}
}
