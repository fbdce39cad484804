package types

import (
	"fmt"

	"capy/internal/source"
)

// Underlying peels distinct wrappers down to the structural type.
func (in *Interner) Underlying(id TypeID) TypeID {
	for {
		t, ok := in.Lookup(id)
		if !ok || t.Kind != KindDistinct {
			return id
		}
		id = t.Elem
	}
}

// IsInteger reports whether id is an integer type (distincts peeled).
func (in *Interner) IsInteger(id TypeID) bool {
	t, ok := in.Lookup(in.Underlying(id))
	return ok && t.Kind == KindInt
}

// IsFloat reports whether id is a float type (distincts peeled).
func (in *Interner) IsFloat(id TypeID) bool {
	t, ok := in.Lookup(in.Underlying(id))
	return ok && t.Kind == KindFloat
}

// IsScalar reports whether id casts freely to other scalars:
// ints, floats, bool and char convert among each other.
func (in *Interner) IsScalar(id TypeID) bool {
	t, ok := in.Lookup(in.Underlying(id))
	if !ok {
		return false
	}
	switch t.Kind {
	case KindInt, KindFloat, KindBool, KindChar:
		return true
	default:
		return false
	}
}

// IsPointerLike reports pointer-shaped types (typed and raw).
func (in *Interner) IsPointerLike(id TypeID) bool {
	t, ok := in.Lookup(in.Underlying(id))
	if !ok {
		return false
	}
	return t.Kind == KindPointer || t.Kind == KindRawPtr
}

// ContainsPointer reports whether a value of the type transitively
// holds a pointer (used by the comptime escape check).
func (in *Interner) ContainsPointer(id TypeID) bool {
	t, ok := in.Lookup(id)
	if !ok {
		return false
	}
	switch t.Kind {
	case KindPointer, KindRawPtr, KindSlice, KindRawSlice, KindString, KindAny, KindFunction:
		// str is a pointer to its bytes; slices and any carry data
		// pointers; function values are code pointers.
		return t.Kind != KindFunction // fn values resolve to emitted symbols
	case KindArray, KindDistinct:
		return in.ContainsPointer(t.Elem)
	case KindStruct:
		info, ok := in.StructInfo(id)
		if !ok {
			return false
		}
		for _, f := range info.Fields {
			if in.ContainsPointer(f.Type) {
				return true
			}
		}
		return false
	case KindEnum:
		info, ok := in.EnumInfo(id)
		if !ok {
			return false
		}
		for _, v := range info.Variants {
			if in.ContainsPointer(v.Payload) {
				return true
			}
		}
		return false
	case KindVariant:
		return in.ContainsPointer(t.Elem)
	default:
		return false
	}
}

// Format renders a human-readable spelling for diagnostics.
func (in *Interner) Format(id TypeID, strs *source.Interner) string {
	if name, ok := in.NameOf(id); ok && strs != nil {
		if s, ok := strs.Lookup(name); ok && s != "" {
			return s
		}
	}
	t, ok := in.Lookup(id)
	if !ok {
		return "<invalid>"
	}
	switch t.Kind {
	case KindVoid, KindBool, KindChar, KindString, KindMetaType, KindAny, KindRawSlice:
		return t.Kind.String()
	case KindRawPtr:
		if t.Mutable {
			return "mut rawptr"
		}
		return "rawptr"
	case KindInt:
		prefix := "i"
		if !t.Signed {
			prefix = "u"
		}
		if t.Width == WidthSize {
			return prefix + "size"
		}
		return fmt.Sprintf("%s%d", prefix, t.Width)
	case KindFloat:
		return fmt.Sprintf("f%d", t.Width)
	case KindArray:
		return fmt.Sprintf("[%d]%s", t.Len, in.Format(t.Elem, strs))
	case KindSlice:
		return "[]" + in.Format(t.Elem, strs)
	case KindPointer:
		if t.Mutable {
			return "^mut " + in.Format(t.Elem, strs)
		}
		return "^" + in.Format(t.Elem, strs)
	case KindDistinct:
		return "distinct " + in.Format(t.Elem, strs)
	case KindStruct:
		info, _ := in.StructInfo(id)
		if info == nil {
			return "struct {...}"
		}
		return fmt.Sprintf("struct {%d fields}", len(info.Fields))
	case KindEnum:
		info, _ := in.EnumInfo(id)
		if info == nil {
			return "enum {...}"
		}
		return fmt.Sprintf("enum {%d variants}", len(info.Variants))
	case KindVariant:
		ref, ok := in.VariantRef(id)
		if !ok {
			return "variant"
		}
		vi, _ := in.VariantInfo(id)
		owner := in.Format(ref.Enum, strs)
		if vi != nil && strs != nil {
			if name, ok := strs.Lookup(vi.Name); ok {
				return owner + "." + name
			}
		}
		return owner + ".<variant>"
	case KindFunction:
		info, _ := in.FnInfo(id)
		if info == nil {
			return "fn"
		}
		s := "("
		for i, p := range info.Params {
			if i > 0 {
				s += ", "
			}
			s += in.Format(p, strs)
		}
		return s + ") -> " + in.Format(info.Result, strs)
	case KindFile:
		return "file"
	default:
		return t.Kind.String()
	}
}
