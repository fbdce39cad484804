// Package rtinfo encodes the reflection records both runtime and
// comptime code read. Codegen emits the blobs into the object's
// read-only data; the comptime engine maps the same bytes into its
// memory. One encoder, one layout.
package rtinfo

import (
	"encoding/binary"

	"capy/internal/layout"
	"capy/internal/source"
	"capy/internal/types"
)

// RecordSize is the fixed size of one type-info record.
const RecordSize = 40

// Record field offsets.
const (
	OffKind  = 0
	OffSize  = 4
	OffAlign = 8
	OffData0 = 16
	OffData1 = 24
	OffExtra = 32
)

// Per-entry sizes inside the extra blob.
const (
	FieldEntrySize   = 16 // { name: ptr, ty: u32, offset: u32 }
	VariantEntrySize = 16 // { name: ptr, ty: u32, disc: u32 }
)

// Reloc is a pointer-sized patch. Source offsets address the records
// blob or the extra blob; the target is always an extra-blob offset.
type Reloc struct {
	InExtra   bool // source lives in the extra blob
	SrcOff    int
	TargetOff int
}

// Table is the encoded reflection data for every registered type.
type Table struct {
	Records []byte
	Extra   []byte
	Count   int
	Relocs  []Reloc
}

// Build encodes one record per type id currently registered.
func Build(ty *types.Interner, lay *layout.Engine, strs *source.Interner) *Table {
	count := ty.Len()
	t := &Table{
		Records: make([]byte, count*RecordSize),
		Count:   count,
	}
	for id := 1; id < count; id++ {
		t.encode(types.TypeID(id), ty, lay, strs)
	}
	return t
}

func (t *Table) rec(id types.TypeID) []byte {
	off := int(id) * RecordSize
	return t.Records[off : off+RecordSize]
}

func (t *Table) putExtraPtr(srcOff, targetOff int) {
	t.Relocs = append(t.Relocs, Reloc{InExtra: true, SrcOff: srcOff, TargetOff: targetOff})
}

func (t *Table) putRecordPtr(id types.TypeID, fieldOff, targetOff int) {
	t.Relocs = append(t.Relocs, Reloc{SrcOff: int(id)*RecordSize + fieldOff, TargetOff: targetOff})
}

// cstring appends a NUL-terminated name to the extra blob.
func (t *Table) cstring(s string) int {
	off := len(t.Extra)
	t.Extra = append(t.Extra, s...)
	t.Extra = append(t.Extra, 0)
	return off
}

func (t *Table) extraAlloc(n int) int {
	// Keep pointer-bearing entries aligned.
	for len(t.Extra)%8 != 0 {
		t.Extra = append(t.Extra, 0)
	}
	off := len(t.Extra)
	t.Extra = append(t.Extra, make([]byte, n)...)
	return off
}

func (t *Table) encode(id types.TypeID, ty *types.Interner, lay *layout.Engine, strs *source.Interner) {
	tt, ok := ty.Lookup(id)
	if !ok {
		return
	}
	rec := t.rec(id)
	rec[OffKind] = byte(tt.Kind)
	if l, err := lay.Of(id); err == nil {
		binary.LittleEndian.PutUint32(rec[OffSize:], uint32(l.Size))
		binary.LittleEndian.PutUint32(rec[OffAlign:], uint32(l.Align))
		if tt.Kind == types.KindEnum {
			binary.LittleEndian.PutUint64(rec[OffData1:], uint64(l.DiscOffset))
		}
	}

	put0 := func(v uint64) { binary.LittleEndian.PutUint64(rec[OffData0:], v) }
	put1 := func(v uint64) { binary.LittleEndian.PutUint64(rec[OffData1:], v) }

	switch tt.Kind {
	case types.KindInt:
		bits := uint64(tt.Width)
		if tt.Width == types.WidthSize {
			bits = uint64(lay.Target.PtrSize) * 8
		}
		put0(bits)
		if tt.Signed {
			put1(1)
		}
	case types.KindFloat:
		put0(uint64(tt.Width))
	case types.KindArray:
		put0(uint64(tt.Elem))
		put1(tt.Len)
	case types.KindSlice:
		put0(uint64(tt.Elem))
	case types.KindPointer:
		put0(uint64(tt.Elem))
		if tt.Mutable {
			put1(1)
		}
	case types.KindRawPtr:
		if tt.Mutable {
			put1(1)
		}
	case types.KindDistinct:
		put0(uint64(tt.Elem))
	case types.KindVariant:
		ref, _ := ty.VariantRef(id)
		info, _ := ty.VariantInfo(id)
		packed := uint64(tt.Elem) | uint64(ref.Enum)<<32
		put0(packed)
		if info != nil {
			put1(uint64(info.Discriminant))
		}
	case types.KindStruct:
		t.encodeStruct(id, rec, ty, lay, strs)
	case types.KindEnum:
		t.encodeEnum(id, rec, ty, strs)
	case types.KindFunction:
		t.encodeFn(id, rec, ty)
	}
}

// Struct extra block: { name: ptr } followed by one FieldEntry per
// member.
func (t *Table) encodeStruct(id types.TypeID, rec []byte, ty *types.Interner, lay *layout.Engine, strs *source.Interner) {
	info, ok := ty.StructInfo(id)
	if !ok {
		return
	}
	binary.LittleEndian.PutUint64(rec[OffData0:], uint64(len(info.Fields)))

	// Names first so the block allocation below stays contiguous.
	var nameOff = -1
	if nameID, ok := ty.NameOf(id); ok && strs != nil {
		if s, ok := strs.Lookup(nameID); ok && s != "" {
			nameOff = t.cstring(s)
		}
	}
	fieldNameOffs := make([]int, len(info.Fields))
	for i, f := range info.Fields {
		fieldNameOffs[i] = -1
		if strs != nil {
			if s, ok := strs.Lookup(f.Name); ok && s != "" {
				fieldNameOffs[i] = t.cstring(s)
			}
		}
	}

	block := t.extraAlloc(8 + len(info.Fields)*FieldEntrySize)
	t.putRecordPtr(id, OffExtra, block)
	if nameOff >= 0 {
		t.putExtraPtr(block, nameOff)
	}
	for i, f := range info.Fields {
		entry := block + 8 + i*FieldEntrySize
		if fieldNameOffs[i] >= 0 {
			t.putExtraPtr(entry, fieldNameOffs[i])
		}
		binary.LittleEndian.PutUint32(t.Extra[entry+8:], uint32(f.Type))
		if off, err := lay.FieldOffset(id, i); err == nil {
			binary.LittleEndian.PutUint32(t.Extra[entry+12:], uint32(off))
		}
	}
}

// Enum extra block: one VariantEntry per arm.
func (t *Table) encodeEnum(id types.TypeID, rec []byte, ty *types.Interner, strs *source.Interner) {
	info, ok := ty.EnumInfo(id)
	if !ok {
		return
	}
	binary.LittleEndian.PutUint64(rec[OffData0:], uint64(len(info.Variants)))

	nameOffs := make([]int, len(info.Variants))
	for i, v := range info.Variants {
		nameOffs[i] = -1
		if strs != nil {
			if s, ok := strs.Lookup(v.Name); ok && s != "" {
				nameOffs[i] = t.cstring(s)
			}
		}
	}
	block := t.extraAlloc(len(info.Variants) * VariantEntrySize)
	t.putRecordPtr(id, OffExtra, block)
	for i, v := range info.Variants {
		entry := block + i*VariantEntrySize
		if nameOffs[i] >= 0 {
			t.putExtraPtr(entry, nameOffs[i])
		}
		binary.LittleEndian.PutUint32(t.Extra[entry+8:], uint32(v.Type))
		binary.LittleEndian.PutUint32(t.Extra[entry+12:], uint32(v.Discriminant))
	}
}

// Function extra block: one u32 per parameter type.
func (t *Table) encodeFn(id types.TypeID, rec []byte, ty *types.Interner) {
	info, ok := ty.FnInfo(id)
	if !ok {
		return
	}
	binary.LittleEndian.PutUint64(rec[OffData0:], uint64(len(info.Params)))
	binary.LittleEndian.PutUint64(rec[OffData1:], uint64(info.Result))
	if len(info.Params) == 0 {
		return
	}
	block := t.extraAlloc(len(info.Params) * 4)
	t.putRecordPtr(id, OffExtra, block)
	for i, p := range info.Params {
		binary.LittleEndian.PutUint32(t.Extra[block+i*4:], uint32(p))
	}
}

// StructName reads back a struct's display name from an encoded table
// (testing aid and VM helper).
func (t *Table) StructName(id types.TypeID) string {
	for _, r := range t.Relocs {
		if !r.InExtra && r.SrcOff == int(id)*RecordSize+OffExtra {
			block := r.TargetOff
			for _, r2 := range t.Relocs {
				if r2.InExtra && r2.SrcOff == block {
					end := r2.TargetOff
					for end < len(t.Extra) && t.Extra[end] != 0 {
						end++
					}
					return string(t.Extra[r2.TargetOff:end])
				}
			}
		}
	}
	return ""
}
