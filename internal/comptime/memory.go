package comptime

import (
	"encoding/binary"
	"errors"
	"math"

	"capy/internal/mir"
)

// memory is one growable linear arena. The engine keeps two: one for
// stack frames and one for globals and the comptime heap. Address 0 is
// never handed out so null dereferences trap.
type memory struct {
	bytes []byte
	sp    uint64 // bump pointer
}

const memAlignPad = 8

func newMemory() *memory {
	m := &memory{bytes: make([]byte, 1<<16)}
	m.sp = memAlignPad // keep 0 unmapped
	return m
}

var errOOB = errors.New("memory access out of bounds")

func (m *memory) alloc(size, align int) uint64 {
	if align < 1 {
		align = 1
	}
	for m.sp%uint64(align) != 0 {
		m.sp++
	}
	addr := m.sp
	m.sp += uint64(size)
	for int(m.sp) > len(m.bytes) {
		m.bytes = append(m.bytes, make([]byte, len(m.bytes))...)
	}
	return addr
}

// mark/restore implement stack discipline for call frames.
func (m *memory) mark() uint64       { return m.sp }
func (m *memory) restore(sp uint64)  { m.sp = sp }

func (m *memory) check(addr uint64, size int) error {
	if addr == 0 || addr+uint64(size) > m.sp || int(addr)+size > len(m.bytes) {
		return errOOB
	}
	return nil
}

func (m *memory) load(addr uint64, class mir.Class) (uint64, error) {
	size := class.Bits() / 8
	if err := m.check(addr, size); err != nil {
		return 0, err
	}
	b := m.bytes[addr:]
	switch class {
	case mir.C8:
		return uint64(b[0]), nil
	case mir.C16:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case mir.C32, mir.CF32:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

func (m *memory) store(addr uint64, v uint64, class mir.Class) error {
	size := class.Bits() / 8
	if err := m.check(addr, size); err != nil {
		return err
	}
	b := m.bytes[addr:]
	switch class {
	case mir.C8:
		b[0] = byte(v)
	case mir.C16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case mir.C32, mir.CF32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return nil
}

func (m *memory) copy(dst, src uint64, size int) error {
	if size == 0 {
		return nil
	}
	if err := m.check(dst, size); err != nil {
		return err
	}
	if err := m.check(src, size); err != nil {
		return err
	}
	copy(m.bytes[dst:dst+uint64(size)], m.bytes[src:src+uint64(size)])
	return nil
}

func (m *memory) writeBytes(addr uint64, data []byte) error {
	if err := m.check(addr, len(data)); err != nil {
		return err
	}
	copy(m.bytes[addr:], data)
	return nil
}

func (m *memory) readBytes(addr uint64, size int) ([]byte, error) {
	if err := m.check(addr, size); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, m.bytes[addr:])
	return out, nil
}

// cstring reads a NUL-terminated string.
func (m *memory) cstring(addr uint64) (string, error) {
	if addr == 0 {
		return "", errOOB
	}
	end := addr
	for int(end) < len(m.bytes) && end < m.sp && m.bytes[end] != 0 {
		end++
	}
	if int(end) >= len(m.bytes) {
		return "", errOOB
	}
	return string(m.bytes[addr:end]), nil
}

func f64FromBits(v uint64) float64  { return math.Float64frombits(v) }
func f32FromBits(v uint64) float64  { return float64(math.Float32frombits(uint32(v))) }
func bitsFromF64(f float64) uint64  { return math.Float64bits(f) }
func bitsFromF32(f float64) uint64  { return uint64(math.Float32bits(float32(f))) }
