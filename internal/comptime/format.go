package comptime

import (
	"encoding/binary"
	"fmt"
	"strings"

	"capy/internal/mir"
	"capy/internal/types"
)

// formatValue renders a value from engine memory the same way the
// native runtime's print-any renders it at runtime.
func (eng *Engine) formatValue(sb *strings.Builder, t types.TypeID, addr uint64) error {
	ty := eng.Types
	u := ty.Underlying(t)
	tt, ok := ty.Lookup(u)
	if !ok {
		sb.WriteString("<invalid>")
		return nil
	}
	lay, err := eng.Lay.Of(u)
	if err != nil {
		return err
	}
	raw, err := eng.memReadBytes(addr, lay.Size)
	if err != nil && lay.Size > 0 {
		return err
	}

	switch tt.Kind {
	case types.KindVoid:
		sb.WriteString("void")
	case types.KindBool:
		if raw[0] != 0 {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case types.KindChar:
		fmt.Fprintf(sb, "%c", rune(binary.LittleEndian.Uint32(raw)))
	case types.KindInt:
		v := readScalar(raw)
		if tt.Signed {
			fmt.Fprintf(sb, "%d", signedScalar(raw))
		} else {
			fmt.Fprintf(sb, "%d", v)
		}
	case types.KindFloat:
		if lay.Size == 4 {
			fmt.Fprintf(sb, "%g", f32FromBits(uint64(binary.LittleEndian.Uint32(raw))))
		} else {
			fmt.Fprintf(sb, "%g", f64FromBits(binary.LittleEndian.Uint64(raw)))
		}
	case types.KindString:
		ptr := binary.LittleEndian.Uint64(raw)
		s, err := eng.memCString(ptr)
		if err != nil {
			return err
		}
		sb.WriteString(s)
	case types.KindMetaType:
		id := types.TypeID(binary.LittleEndian.Uint32(raw))
		sb.WriteString(ty.Format(id, eng.Info.World.Strings))
	case types.KindPointer, types.KindRawPtr, types.KindFunction:
		fmt.Fprintf(sb, "0x%x", binary.LittleEndian.Uint64(raw))
	case types.KindArray:
		return eng.formatSequence(sb, tt.Elem, addr, int(tt.Len))
	case types.KindSlice:
		ptr := binary.LittleEndian.Uint64(raw)
		length := binary.LittleEndian.Uint64(raw[8:])
		return eng.formatSequence(sb, tt.Elem, ptr, int(length))
	case types.KindStruct:
		return eng.formatStruct(sb, u, addr)
	case types.KindEnum:
		return eng.formatEnum(sb, u, addr, raw, lay.DiscOffset)
	case types.KindVariant:
		return eng.formatValue(sb, tt.Elem, addr)
	case types.KindAny:
		id := types.TypeID(binary.LittleEndian.Uint32(raw))
		data := binary.LittleEndian.Uint64(raw[8:])
		return eng.formatValue(sb, id, data)
	default:
		sb.WriteString(tt.Kind.String())
	}
	return nil
}

func (eng *Engine) formatSequence(sb *strings.Builder, elem types.TypeID, base uint64, n int) error {
	stride, err := eng.Lay.StrideOf(elem)
	if err != nil {
		return err
	}
	sb.WriteString("[ ")
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if err := eng.formatValue(sb, elem, base+uint64(i*stride)); err != nil {
			return err
		}
	}
	sb.WriteString(" ]")
	return nil
}

// formatStruct prints `Name { f = v, ... }`. The core list type prints
// as its elements, driven by its runtime element-type field.
func (eng *Engine) formatStruct(sb *strings.Builder, t types.TypeID, addr uint64) error {
	ty := eng.Types
	info, ok := ty.StructInfo(t)
	if !ok {
		sb.WriteString("struct")
		return nil
	}
	name := ""
	if nameID, ok := ty.NameOf(t); ok {
		name, _ = eng.Info.World.Strings.Lookup(nameID)
	}
	if name == "List" {
		if done, err := eng.formatList(sb, t, info, addr); done {
			return err
		}
	}
	if name != "" {
		sb.WriteString(name)
		sb.WriteString(" ")
	}
	sb.WriteString("{ ")
	for i, f := range info.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		fname, _ := eng.Info.World.Strings.Lookup(f.Name)
		fmt.Fprintf(sb, "%s = ", fname)
		off, err := eng.Lay.FieldOffset(t, i)
		if err != nil {
			return err
		}
		if err := eng.formatValue(sb, f.Type, addr+uint64(off)); err != nil {
			return err
		}
	}
	sb.WriteString(" }")
	return nil
}

// formatList renders the core List struct ({ data, len, cap, elem })
// as `[ e1, e2 ]` using its runtime element type.
func (eng *Engine) formatList(sb *strings.Builder, t types.TypeID, info *types.StructInfo, addr uint64) (bool, error) {
	var dataOff, lenOff, elemOff = -1, -1, -1
	for i, f := range info.Fields {
		name, _ := eng.Info.World.Strings.Lookup(f.Name)
		off, err := eng.Lay.FieldOffset(t, i)
		if err != nil {
			return false, err
		}
		switch name {
		case "data":
			dataOff = off
		case "len":
			lenOff = off
		case "elem":
			elemOff = off
		}
	}
	if dataOff < 0 || lenOff < 0 || elemOff < 0 {
		return false, nil
	}
	data, err := eng.memLoad(addr+uint64(dataOff), mir.CPtr)
	if err != nil {
		return false, err
	}
	length, err := eng.memLoad(addr+uint64(lenOff), mir.CPtr)
	if err != nil {
		return false, err
	}
	elemV, err := eng.memLoad(addr+uint64(elemOff), mir.C32)
	if err != nil {
		return false, err
	}
	return true, eng.formatSequence(sb, typesID(elemV), data, int(length))
}

// formatEnum dispatches on the trailing discriminant byte and prints
// the live payload.
func (eng *Engine) formatEnum(sb *strings.Builder, t types.TypeID, addr uint64, raw []byte, discOff int) error {
	info, ok := eng.Types.EnumInfo(t)
	if !ok || discOff >= len(raw) {
		sb.WriteString("enum")
		return nil
	}
	disc := raw[discOff]
	for _, v := range info.Variants {
		if v.Discriminant == disc {
			return eng.formatValue(sb, v.Payload, addr)
		}
	}
	fmt.Fprintf(sb, "enum(#%d)", disc)
	return nil
}

func readScalar(raw []byte) uint64 {
	var v uint64
	n := len(raw)
	if n > 8 {
		n = 8
	}
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	return v
}

func signedScalar(raw []byte) int64 {
	v := readScalar(raw)
	switch len(raw) {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	default:
		return int64(v)
	}
}
