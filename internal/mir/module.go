// Package mir is the word-level backend IR.
//
// Both consumers read it byte-accurately: the comptime engine executes
// it over a linear memory, and the LLVM emitter translates it 1:1.
// Sharing the lowering and the layout engine between the two paths is
// what makes comptime results identical to runtime results.
package mir

import (
	"capy/internal/types"
)

type (
	FuncID   uint32
	BlockID  uint32
	GlobalID uint32
	LocalID  uint32
	Temp     uint32
)

// NoFuncID marks an absent function reference.
const NoFuncID FuncID = ^FuncID(0)

// Module is one lowered compilation unit: the whole program for AOT
// emission, or an expression closure for a comptime invocation.
type Module struct {
	Funcs   []*Func
	Globals []*Global
}

func (m *Module) AddFunc(f *Func) FuncID {
	id := FuncID(len(m.Funcs))
	f.ID = id
	m.Funcs = append(m.Funcs, f)
	return id
}

func (m *Module) AddGlobal(g *Global) GlobalID {
	id := GlobalID(len(m.Globals))
	g.ID = id
	m.Globals = append(m.Globals, g)
	return id
}

func (m *Module) Func(id FuncID) *Func {
	if id == NoFuncID || int(id) >= len(m.Funcs) {
		return nil
	}
	return m.Funcs[id]
}

func (m *Module) Global(id GlobalID) *Global {
	if int(id) >= len(m.Globals) {
		return nil
	}
	return m.Globals[id]
}

// FuncByName finds a function by its symbol name.
func (m *Module) FuncByName(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// RelocKind distinguishes what a data relocation points at.
type RelocKind uint8

const (
	// RelocGlobal patches a pointer to another global's base address.
	RelocGlobal RelocKind = iota
	// RelocFunc patches a pointer to a function's code address.
	RelocFunc
)

// Reloc records a pointer-sized patch inside a global's init bytes.
type Reloc struct {
	Offset int
	Kind   RelocKind
	Global GlobalID
	Func   FuncID
	Addend int64
}

// Global is one data object: a top-level variable, pooled string
// bytes, or a comptime result blob.
type Global struct {
	ID    GlobalID
	Name  string
	Type  types.TypeID
	Size  int
	Align int
	Init  []byte // nil means zero-initialized
	Const bool
	Relocs []Reloc
}
