package rtinfo

import (
	"encoding/binary"
	"testing"

	"capy/internal/layout"
	"capy/internal/source"
	"capy/internal/types"
)

func TestRecordsMatchLayout(t *testing.T) {
	ty := types.NewInterner()
	strs := source.NewInterner()
	lay := layout.New(layout.X8664LinuxGNU(), ty)
	b := ty.Builtins()

	structID := ty.InternStruct([]types.Field{
		{Name: strs.Intern("x"), Type: b.I32},
		{Name: strs.Intern("y"), Type: b.I32},
	})
	ty.SetName(structID, strs.Intern("Point"))

	table := Build(ty, lay, strs)
	if table.Count != ty.Len() {
		t.Fatalf("count = %d, want %d", table.Count, ty.Len())
	}

	rec := table.Records[int(structID)*RecordSize:][:RecordSize]
	if types.Kind(rec[OffKind]) != types.KindStruct {
		t.Fatalf("kind = %d", rec[OffKind])
	}
	size := binary.LittleEndian.Uint32(rec[OffSize:])
	align := binary.LittleEndian.Uint32(rec[OffAlign:])
	if size != 8 || align != 4 {
		t.Fatalf("size/align = %d/%d, want 8/4", size, align)
	}
	fieldCount := binary.LittleEndian.Uint64(rec[OffData0:])
	if fieldCount != 2 {
		t.Fatalf("field count = %d", fieldCount)
	}
	if got := table.StructName(structID); got != "Point" {
		t.Fatalf("struct name = %q", got)
	}
}

func TestEnumRecordCarriesDiscOffset(t *testing.T) {
	ty := types.NewInterner()
	strs := source.NewInterner()
	lay := layout.New(layout.X8664LinuxGNU(), ty)
	b := ty.Builtins()

	enumID, err := ty.InternEnum([]types.VariantSpec{
		{Name: strs.Intern("A"), Payload: b.I32, Discriminant: -1},
		{Name: strs.Intern("B"), Payload: b.String, Discriminant: -1},
	})
	if err != nil {
		t.Fatalf("InternEnum: %v", err)
	}
	table := Build(ty, lay, strs)
	rec := table.Records[int(enumID)*RecordSize:][:RecordSize]
	discOff := binary.LittleEndian.Uint64(rec[OffData1:])
	if discOff != 8 {
		t.Fatalf("disc offset = %d, want 8", discOff)
	}
	count := binary.LittleEndian.Uint64(rec[OffData0:])
	if count != 2 {
		t.Fatalf("variant count = %d", count)
	}
}

func TestIntRecord(t *testing.T) {
	ty := types.NewInterner()
	strs := source.NewInterner()
	lay := layout.New(layout.X8664LinuxGNU(), ty)
	b := ty.Builtins()

	table := Build(ty, lay, strs)
	rec := table.Records[int(b.I64)*RecordSize:][:RecordSize]
	if types.Kind(rec[OffKind]) != types.KindInt {
		t.Fatalf("kind = %d", rec[OffKind])
	}
	bits := binary.LittleEndian.Uint64(rec[OffData0:])
	signed := binary.LittleEndian.Uint64(rec[OffData1:])
	if bits != 64 || signed != 1 {
		t.Fatalf("bits/signed = %d/%d", bits, signed)
	}
	usize := table.Records[int(b.USize)*RecordSize:][:RecordSize]
	if binary.LittleEndian.Uint64(usize[OffData0:]) != 64 {
		t.Fatal("usize must report the pointer width")
	}
}
