package comptime

import (
	"capy/internal/mir"
)

// heapTag marks addresses from the comptime heap region. Stack frames
// live in one arena, globals and malloc'd blocks in another; tagging
// keeps the two address spaces disjoint so frame teardown cannot reclaim
// heap data a caller still points at.
const heapTag uint64 = 1 << 46

func (eng *Engine) region(addr uint64) (*memory, uint64) {
	if addr&heapTag != 0 {
		return eng.heap, addr &^ heapTag
	}
	return eng.mem, addr
}

func (eng *Engine) memLoad(addr uint64, class mir.Class) (uint64, error) {
	m, a := eng.region(addr)
	return m.load(a, class)
}

func (eng *Engine) memStore(addr uint64, v uint64, class mir.Class) error {
	m, a := eng.region(addr)
	return m.store(a, v, class)
}

func (eng *Engine) memCopy(dst, src uint64, size int) error {
	if size == 0 {
		return nil
	}
	sm, sa := eng.region(src)
	data, err := sm.readBytes(sa, size)
	if err != nil {
		return err
	}
	dm, da := eng.region(dst)
	return dm.writeBytes(da, data)
}

func (eng *Engine) memReadBytes(addr uint64, size int) ([]byte, error) {
	m, a := eng.region(addr)
	return m.readBytes(a, size)
}

func (eng *Engine) memCString(addr uint64) (string, error) {
	m, a := eng.region(addr)
	return m.cstring(a)
}
