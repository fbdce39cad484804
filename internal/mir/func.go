package mir

import (
	"capy/internal/source"
	"capy/internal/types"
)

// Local is one stack slot. Every aggregate the function touches lives
// in a slot; scalars use slots only when their address is taken.
type Local struct {
	Name  string
	Type  types.TypeID
	Size  int
	Align int
}

// Block is a basic block.
type Block struct {
	ID     BlockID
	Instrs []Instr
	Term   Terminator
}

func (b *Block) Terminated() bool {
	if b == nil {
		return true
	}
	return b.Term.Kind != TermNone
}

// Func is one lowered function.
type Func struct {
	ID   FuncID
	Name string
	Span source.Span

	// Params are the leading locals. Aggregate parameters arrive as
	// pointers to caller-owned copies; ParamByRef marks them.
	Params     []LocalID
	ParamByRef []bool

	Result      types.TypeID
	ResultClass Class
	// SRet: the result is an aggregate returned through a hidden
	// leading pointer argument.
	SRet bool

	Locals []Local
	Blocks []Block
	Entry  BlockID

	Extern bool
	NTemps uint32
}

// NewBlock appends an empty block and returns its id.
func (f *Func) NewBlock() BlockID {
	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, Block{ID: id})
	return id
}

// Block returns the block with the given id.
func (f *Func) Block(id BlockID) *Block {
	return &f.Blocks[id]
}

// AddLocal appends a stack slot.
func (f *Func) AddLocal(l Local) LocalID {
	id := LocalID(len(f.Locals))
	f.Locals = append(f.Locals, l)
	return id
}

// NewTemp mints a fresh SSA temporary.
func (f *Func) NewTemp() Temp {
	t := Temp(f.NTemps)
	f.NTemps++
	return t
}
