package pcode

import (
	"math/big"
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
)

// Program is a parsed P-Code program: a linear code segment, an initial
// RAM image, and a table of functions. A Program is immutable once built.
type Program struct {
	Arch ArchSpec
	Code []*MicroOp

	// Initial contents of RAM. Machine states clone it on creation.
	Data *AddressSpace

	functions  map[string]*Function
	macroIndex *immutable.SortedMap // *big.Int -> int
}

// Function is a named sequence of basic blocks.
type Function struct {
	Name   string
	Entry  *Varnode
	Blocks []*BasicBlock
	Length int // number of micro ops
	Pos    Position
}

// IsExternal returns true if the function has no body in the program.
func (f *Function) IsExternal() bool { return len(f.Blocks) == 0 }

// BasicBlock is a straight-line run of macro instructions.
type BasicBlock struct {
	Begin *Varnode // address of the first macro instruction
	End   *Varnode // address of the last macro instruction

	// Micro op index range, inclusive.
	FirstOp int
	LastOp  int

	Pos Position
}

// CallEdge represents a direct call from one function to another.
type CallEdge struct {
	Caller string
	Callee string
	PC     int // micro index of the CALL
}

// Function returns the function with the given name.
func (p *Program) Function(name string) (*Function, bool) {
	f, ok := p.functions[name]
	return f, ok
}

// Functions returns all functions sorted by name.
func (p *Program) Functions() []*Function {
	a := make([]*Function, 0, len(p.functions))
	for _, f := range p.functions {
		a = append(a, f)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	return a
}

// FunctionAt returns the function whose entry point is addr.
func (p *Program) FunctionAt(addr *big.Int) (*Function, bool) {
	for _, f := range p.Functions() {
		if f.Entry.Size > 0 && f.Entry.Offset.Cmp(addr) == 0 {
			return f, true
		}
	}
	return nil, false
}

// Fetch returns the micro op at index pc.
func (p *Program) Fetch(pc int) (*MicroOp, error) {
	if pc < 0 || pc >= len(p.Code) {
		return nil, errors.Wrapf(ErrOutOfRange, "micro pc %d outside code segment (%d ops)", pc, len(p.Code))
	}
	return p.Code[pc], nil
}

// MicroIndex returns the index of the first micro op of the macro
// instruction at addr.
func (p *Program) MicroIndex(addr *big.Int) (int, error) {
	if v, ok := p.macroIndex.Get(addr); ok {
		return v.(int), nil
	}
	if _, ok := p.Data.ByteAt(addr); ok {
		return 0, errors.Wrapf(ErrOutOfRange, "fetching non-decoded instruction @%s", hex(addr))
	}
	return 0, errors.Wrapf(ErrOutOfRange, "fetch outside code space @%s", hex(addr))
}

// MacroAddrs returns every macro instruction address in ascending order.
func (p *Program) MacroAddrs() []*big.Int {
	a := make([]*big.Int, 0, p.macroIndex.Len())
	itr := p.macroIndex.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		a = append(a, k.(*big.Int))
	}
	return a
}

// CallEdges returns every direct call in the program, in code order.
// Calls to addresses without a function are named by their address.
func (p *Program) CallEdges() []CallEdge {
	var edges []CallEdge
	for pc, op := range p.Code {
		if op.Opcode != CALL || op.Input(0) == nil {
			continue
		}
		callee := hex(op.Input(0).Offset)
		if f, ok := p.FunctionAt(op.Input(0).Offset); ok {
			callee = f.Name
		}
		edges = append(edges, CallEdge{Caller: op.Function, Callee: callee, PC: pc})
	}
	return edges
}

// ProgramBuilder incrementally assembles a Program.
type ProgramBuilder struct {
	prog  *Program
	fn    *Function
	block *BasicBlock
	built bool
}

// NewProgramBuilder returns a builder for a program on the given architecture.
func NewProgramBuilder(arch ArchSpec) *ProgramBuilder {
	return &ProgramBuilder{
		prog: &Program{
			Arch:       arch,
			Data:       NewAddressSpace(SpaceNameRAM, SpaceRAM, arch),
			functions:  make(map[string]*Function),
			macroIndex: immutable.NewSortedMap(&bigIntComparer{}),
		},
	}
}

// Arch returns the target architecture.
func (b *ProgramBuilder) Arch() ArchSpec { return b.prog.Arch }

// SetArch changes the target architecture. Must be called before any data
// or code is added.
func (b *ProgramBuilder) SetArch(arch ArchSpec) error {
	if len(b.prog.Code) > 0 || b.prog.Data.Len() > 0 {
		return errors.New("pcode: cannot change architecture after program content is added")
	}
	b.prog.Arch = arch
	b.prog.Data = NewAddressSpace(SpaceNameRAM, SpaceRAM, arch)
	return nil
}

// SetData writes a byte of the initial RAM image.
func (b *ProgramBuilder) SetData(addr *big.Int, value byte) error {
	return b.prog.Data.SetByte(addr, value)
}

// BeginFunction starts a new function. Entry may be nil, in which case the
// start of the first basic block is used.
func (b *ProgramBuilder) BeginFunction(name string, entry *Varnode, pos Position) error {
	if b.fn != nil {
		return errors.Errorf("pcode: function %q is still open", b.fn.Name)
	} else if _, ok := b.prog.functions[name]; ok {
		return errors.Errorf("pcode: duplicate function: %q", name)
	} else if name == "" {
		return errors.New("pcode: function name required")
	}
	b.fn = &Function{Name: name, Entry: entry, Pos: pos}
	return nil
}

// SetEntry sets the entry point of the open function.
func (b *ProgramBuilder) SetEntry(entry *Varnode) error {
	if b.fn == nil {
		return errors.New("pcode: no open function")
	}
	b.fn.Entry = entry
	return nil
}

// BeginBlock starts a new basic block in the open function.
func (b *ProgramBuilder) BeginBlock(pos Position) error {
	if b.fn == nil {
		return errors.New("pcode: basic block outside function")
	} else if b.block != nil {
		return errors.New("pcode: basic block is still open")
	}
	b.block = &BasicBlock{FirstOp: len(b.prog.Code), LastOp: -1, Pos: pos}
	return nil
}

// AddOp appends a micro op to the open basic block.
func (b *ProgramBuilder) AddOp(op *MicroOp) error {
	if b.block == nil {
		return errors.New("pcode: micro op outside basic block")
	} else if !op.Opcode.IsValid() {
		return errors.Errorf("pcode: invalid opcode: %s", op.Opcode)
	} else if op.Seq.Addr == nil {
		return errors.Errorf("pcode: %s: missing sequence address", op.Opcode)
	} else if len(op.Inputs) < op.Opcode.NumInputs() {
		return errors.Errorf("pcode: %s @%s: expected %d inputs, got %d", op.Opcode, op.Seq, op.Opcode.NumInputs(), len(op.Inputs))
	} else if op.Opcode.HasOutput() && op.Output == nil {
		return errors.Errorf("pcode: %s @%s: missing output", op.Opcode, op.Seq)
	}
	for i, in := range op.Inputs {
		if in == nil {
			return errors.Errorf("pcode: %s @%s: missing input %d", op.Opcode, op.Seq, i)
		}
	}
	if (op.Opcode == LOAD || op.Opcode == STORE) && op.SpaceID == "" {
		op.SpaceID = SpaceNameRAM
	}

	op.Function = b.fn.Name
	op.BlockStart = b.block.LastOp < 0
	op.FuncStart = b.fn.Length == 0

	if op.IsMacroStart() {
		if _, ok := b.prog.macroIndex.Get(op.Seq.Addr); ok {
			return errors.Errorf("pcode: duplicate macro instruction @%s", hex(op.Seq.Addr))
		}
		b.prog.macroIndex = b.prog.macroIndex.Set(op.Seq.Addr, len(b.prog.Code))
		b.block.End = NewVarnode(SpaceNameRAM, op.Seq.Addr, 1)
	}
	if op.BlockStart {
		b.block.Begin = NewVarnode(SpaceNameRAM, op.Seq.Addr, 1)
	}

	b.block.LastOp = len(b.prog.Code)
	b.prog.Code = append(b.prog.Code, op)
	b.fn.Length++
	return nil
}

// EndBlock closes the open basic block.
func (b *ProgramBuilder) EndBlock() error {
	if b.block == nil {
		return errors.New("pcode: no open basic block")
	} else if b.block.LastOp < 0 {
		return errors.Errorf("pcode: %s: empty basic block in function %q", b.block.Pos, b.fn.Name)
	} else if b.block.End == nil {
		b.block.End = b.block.Begin
	}
	b.fn.Blocks = append(b.fn.Blocks, b.block)
	b.block = nil
	return nil
}

// EndFunction closes the open function and registers it.
func (b *ProgramBuilder) EndFunction() (*Function, error) {
	if b.fn == nil {
		return nil, errors.New("pcode: no open function")
	} else if b.block != nil {
		if err := b.EndBlock(); err != nil {
			return nil, err
		}
	}

	fn := b.fn
	if fn.Entry == nil && len(fn.Blocks) > 0 {
		fn.Entry = fn.Blocks[0].Begin
	} else if fn.Entry == nil {
		fn.Entry = NewVarnode(SpaceNameRAM, big.NewInt(0), 0)
	}

	b.prog.functions[fn.Name] = fn
	b.fn = nil
	return fn, nil
}

// AddExternal registers a function with no body.
func (b *ProgramBuilder) AddExternal(name string) error {
	if err := b.BeginFunction(name, nil, Position{}); err != nil {
		return err
	}
	_, err := b.EndFunction()
	return err
}

// Build returns the assembled program. The builder must not be used afterward.
func (b *ProgramBuilder) Build() (*Program, error) {
	if b.built {
		return nil, errors.New("pcode: program already built")
	} else if b.fn != nil {
		return nil, errors.Errorf("pcode: function %q is still open", b.fn.Name)
	}
	b.built = true
	return b.prog, nil
}
