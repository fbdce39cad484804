// Package layout computes ABI memory layout for Capy types.
//
// The same engine feeds AOT emission, the comptime evaluator, and the
// reflection tables, which is what makes comptime results byte-exact
// with runtime values.
package layout

import (
	"fortio.org/safecast"

	"capy/internal/types"
)

// TypeLayout is the ABI layout of a type for a specific Target.
type TypeLayout struct {
	Size  int
	Align int

	// Struct-only: byte offset per field, declaration order.
	FieldOffsets []int

	// Enum-only: the discriminant byte trails the payload union.
	DiscOffset int
}

// Engine computes and caches layouts.
type Engine struct {
	Target Target
	Types  *types.Interner

	cache map[types.TypeID]cacheEntry
}

type cacheEntry struct {
	layout TypeLayout
	err    *Error
}

// New creates an Engine for the given target.
func New(target Target, typesIn *types.Interner) *Engine {
	return &Engine{
		Target: target,
		Types:  typesIn,
		cache:  make(map[types.TypeID]cacheEntry, 64),
	}
}

type state struct {
	stack []types.TypeID
	index map[types.TypeID]int
}

// Of computes the layout of a type.
func (e *Engine) Of(t types.TypeID) (TypeLayout, error) {
	l, err := e.of(t, &state{index: make(map[types.TypeID]int, 8)})
	if err != nil {
		return l, err
	}
	return l, nil
}

// SizeOf returns the byte size of a type.
func (e *Engine) SizeOf(t types.TypeID) (int, error) {
	l, err := e.Of(t)
	return l.Size, err
}

// AlignOf returns the alignment requirement of a type.
func (e *Engine) AlignOf(t types.TypeID) (int, error) {
	l, err := e.Of(t)
	return l.Align, err
}

// StrideOf returns the size rounded up to the alignment; arrays place
// their elements stride apart.
func (e *Engine) StrideOf(t types.TypeID) (int, error) {
	l, err := e.Of(t)
	if err != nil {
		return 0, err
	}
	return alignUp(l.Size, l.Align), nil
}

// FieldOffset returns the byte offset of a struct field.
func (e *Engine) FieldOffset(structT types.TypeID, fieldIdx int) (int, error) {
	l, err := e.Of(structT)
	if err != nil {
		return 0, err
	}
	if fieldIdx < 0 || fieldIdx >= len(l.FieldOffsets) {
		return 0, nil
	}
	return l.FieldOffsets[fieldIdx], nil
}

func (e *Engine) of(t types.TypeID, st *state) (TypeLayout, *Error) {
	if entry, ok := e.cache[t]; ok {
		return entry.layout, entry.err
	}
	if idx, ok := st.index[t]; ok {
		cycle := append([]types.TypeID(nil), st.stack[idx:]...)
		cycle = append(cycle, t)
		err := &Error{Kind: ErrRecursiveUnsized, Type: t, Cycle: cycle}
		e.cache[t] = cacheEntry{layout: TypeLayout{Align: 1}, err: err}
		return TypeLayout{Align: 1}, err
	}
	st.index[t] = len(st.stack)
	st.stack = append(st.stack, t)
	l, err := e.compute(t, st)
	st.stack = st.stack[:len(st.stack)-1]
	delete(st.index, t)

	e.cache[t] = cacheEntry{layout: l, err: err}
	return l, err
}

func (e *Engine) compute(id types.TypeID, st *state) (TypeLayout, *Error) {
	t, ok := e.Types.Lookup(id)
	if !ok {
		return TypeLayout{Align: 1}, &Error{Kind: ErrInvalidType, Type: id}
	}
	ptr := e.Target.PtrSize
	switch t.Kind {
	case types.KindVoid, types.KindFile:
		return TypeLayout{Size: 0, Align: 1}, nil
	case types.KindBool:
		return TypeLayout{Size: 1, Align: 1}, nil
	case types.KindChar:
		// 32-bit code point.
		return TypeLayout{Size: 4, Align: 4}, nil
	case types.KindString, types.KindPointer, types.KindRawPtr, types.KindFunction:
		return TypeLayout{Size: ptr, Align: e.Target.PtrAlign}, nil
	case types.KindSlice, types.KindRawSlice:
		// { ptr, len }, pointer first.
		return TypeLayout{Size: 2 * ptr, Align: e.Target.PtrAlign}, nil
	case types.KindMetaType:
		// A type value is its 32-bit id.
		return TypeLayout{Size: 4, Align: 4}, nil
	case types.KindAny:
		// { ty: u32, pad, data: ptr }.
		return TypeLayout{Size: 2 * ptr, Align: e.Target.PtrAlign}, nil
	case types.KindInt:
		w := int(t.Width)
		if t.Width == types.WidthSize {
			w = ptr * 8
		}
		size := w / 8
		align := size
		if align > 16 {
			align = 16
		}
		return TypeLayout{Size: size, Align: align}, nil
	case types.KindFloat:
		size := int(t.Width) / 8
		return TypeLayout{Size: size, Align: size}, nil
	case types.KindArray:
		elem, err := e.of(t.Elem, st)
		if err != nil {
			return TypeLayout{Align: 1}, err
		}
		stride := alignUp(elem.Size, elem.Align)
		length, convErr := safecast.Conv[int](t.Len)
		if convErr != nil {
			return TypeLayout{Align: 1}, &Error{Kind: ErrInvalidType, Type: id}
		}
		return TypeLayout{Size: stride * length, Align: elem.Align}, nil
	case types.KindDistinct:
		return e.of(t.Elem, st)
	case types.KindVariant:
		// Same layout as the payload alone.
		return e.of(t.Elem, st)
	case types.KindStruct:
		info, ok := e.Types.StructInfo(id)
		if !ok {
			return TypeLayout{Align: 1}, &Error{Kind: ErrInvalidType, Type: id}
		}
		l := TypeLayout{Align: 1}
		offset := 0
		for _, f := range info.Fields {
			fl, err := e.of(f.Type, st)
			if err != nil {
				return TypeLayout{Align: 1}, err
			}
			offset = alignUp(offset, fl.Align)
			l.FieldOffsets = append(l.FieldOffsets, offset)
			offset += fl.Size
			if fl.Align > l.Align {
				l.Align = fl.Align
			}
		}
		l.Size = alignUp(offset, l.Align)
		return l, nil
	case types.KindEnum:
		info, ok := e.Types.EnumInfo(id)
		if !ok {
			return TypeLayout{Align: 1}, &Error{Kind: ErrInvalidType, Type: id}
		}
		payloadSize, align := 0, 1
		for _, v := range info.Variants {
			vl, err := e.of(v.Payload, st)
			if err != nil {
				return TypeLayout{Align: 1}, err
			}
			if vl.Size > payloadSize {
				payloadSize = vl.Size
			}
			if vl.Align > align {
				align = vl.Align
			}
		}
		// The u8 discriminant follows the payload union.
		l := TypeLayout{Align: align, DiscOffset: payloadSize}
		l.Size = alignUp(payloadSize+1, align)
		return l, nil
	default:
		return TypeLayout{Align: 1}, &Error{Kind: ErrInvalidType, Type: id}
	}
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + align - rem
}
