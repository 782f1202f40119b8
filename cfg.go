package pcode

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/benbjohnson/immutable"
)

// Graph is a control-flow graph translated from a program.
//
// Execution begins at Entry with PC, Registers and RAM bound to the
// machine's program counter, register file and memory. Entry jumps to
// Trampoline, which dispatches on PC to the block for that address.
type Graph struct {
	Name string

	Entry      *Block
	Trampoline *Block
	Blocks     []*Block
	Regs       []*Reg

	PC        *Reg // trampoline target
	Registers *Reg // register file
	RAM       *Reg

	AddrWidth uint
	BigEndian bool

	blockMap *immutable.SortedMap // *big.Int -> *Block
}

// newGraph returns a graph with its designated registers allocated.
func newGraph(name string, addrWidth uint, bigEndian bool) *Graph {
	g := &Graph{
		Name:      name,
		AddrWidth: addrWidth,
		BigEndian: bigEndian,
		blockMap:  immutable.NewSortedMap(&bigIntComparer{}),
	}
	g.PC = g.newReg("pc", addrWidth, false)
	g.Registers = g.newReg("registers", 0, true)
	g.RAM = g.newReg("ram", 0, true)
	return g
}

// newReg allocates a register. Array registers have no width.
func (g *Graph) newReg(name string, width uint, array bool) *Reg {
	r := &Reg{ID: len(g.Regs), Name: name, Width: width, Array: array}
	g.Regs = append(g.Regs, r)
	return r
}

// newBlock allocates a block.
func (g *Graph) newBlock(desc string) *Block {
	b := &Block{ID: len(g.Blocks), Description: desc}
	g.Blocks = append(g.Blocks, b)
	return b
}

// fetchBlock returns the block for the macro instruction at addr, creating
// it if it does not exist yet.
func (g *Graph) fetchBlock(addr *big.Int) *Block {
	if b, ok := g.Lookup(addr); ok {
		return b
	}
	b := g.newBlock("PCode Block: " + addr.Text(16))
	b.Addr = new(big.Int).Set(addr)
	g.blockMap = g.blockMap.Set(b.Addr, b)
	return b
}

// Lookup returns the block for the macro instruction at addr.
func (g *Graph) Lookup(addr *big.Int) (*Block, bool) {
	v, ok := g.blockMap.Get(addr)
	if !ok {
		return nil, false
	}
	return v.(*Block), true
}

// Addrs returns every macro address with a block, in ascending order.
func (g *Graph) Addrs() []*big.Int {
	a := make([]*big.Int, 0, g.blockMap.Len())
	itr := g.blockMap.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		a = append(a, k.(*big.Int))
	}
	return a
}

// Block returns the block with the given id.
func (g *Graph) Block(id int) *Block {
	if id < 0 || id >= len(g.Blocks) {
		return nil
	}
	return g.Blocks[id]
}

// String returns a listing of every block in the graph.
func (g *Graph) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "graph %s (entry %d, trampoline %d)\n", g.Name, g.Entry.ID, g.Trampoline.ID)
	for _, b := range g.Blocks {
		buf.WriteString(b.String())
	}
	return buf.String()
}

// Reg is a CFG register. Bitvector registers hold an Expr of Width bits.
// Array registers hold byte memory.
type Reg struct {
	ID    int
	Name  string
	Width uint
	Array bool
}

// String returns the string representation of the register.
func (r *Reg) String() string {
	if r.Array {
		return fmt.Sprintf("%%%d:%s[]", r.ID, r.Name)
	}
	return fmt.Sprintf("%%%d:%s:%d", r.ID, r.Name, r.Width)
}

// Block is a CFG basic block. Its statements read register values as of
// block entry and all assignments take effect together on exit.
type Block struct {
	ID          int
	Description string
	Addr        *big.Int // macro address, nil for internal blocks
	Function    string
	Pos         Position

	Stmts []Stmt
	Term  Term
}

// Succs returns the successor blocks of b.
func (b *Block) Succs() []*Block {
	if b.Term == nil {
		return nil
	}
	return b.Term.Succs()
}

// String returns a listing of the block.
func (b *Block) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "block %d", b.ID)
	if b.Description != "" {
		fmt.Fprintf(&buf, " %q", b.Description)
	}
	if b.Function != "" {
		fmt.Fprintf(&buf, " fn=%s", b.Function)
	}
	buf.WriteString(":\n")
	for _, stmt := range b.Stmts {
		fmt.Fprintf(&buf, "\t%s\n", stmt)
	}
	if b.Term != nil {
		fmt.Fprintf(&buf, "\t%s\n", b.Term)
	}
	return buf.String()
}

// Stmt is a non-terminating block statement.
type Stmt interface {
	stmt()
	String() string
}

func (*AssignStmt) stmt() {}
func (*PrintStmt) stmt()  {}

// AssignStmt sets a register on block exit.
type AssignStmt struct {
	Reg   *Reg
	Value Binding
}

// String returns the string representation of the statement.
func (s *AssignStmt) String() string {
	return fmt.Sprintf("%s := %s", s.Reg, s.Value)
}

// PrintStmt emits a diagnostic message when the block executes.
type PrintStmt struct {
	Message string
}

// String returns the string representation of the statement.
func (s *PrintStmt) String() string {
	return fmt.Sprintf("print %q", s.Message)
}

// Term ends a block.
type Term interface {
	term()
	Succs() []*Block
	String() string
}

func (*JumpTerm) term()           {}
func (*BranchTerm) term()         {}
func (*ConcreteBranchTerm) term() {}
func (*ReturnTerm) term()         {}

// JumpTerm transfers control unconditionally.
type JumpTerm struct {
	Target *Block
}

// Succs returns the target block.
func (t *JumpTerm) Succs() []*Block { return []*Block{t.Target} }

// String returns the string representation of the terminator.
func (t *JumpTerm) String() string { return fmt.Sprintf("jump %d", t.Target.ID) }

// BranchTerm transfers control to Then if Cond is true, otherwise to Else.
type BranchTerm struct {
	Cond Expr
	Then *Block
	Else *Block
}

// Succs returns the then & else blocks.
func (t *BranchTerm) Succs() []*Block { return []*Block{t.Then, t.Else} }

// String returns the string representation of the terminator.
func (t *BranchTerm) String() string {
	return fmt.Sprintf("branch %s %d %d", t.Cond, t.Then.ID, t.Else.ID)
}

// ConcreteBranchTerm transfers control to Concrete if Value has a single
// concrete value on the current path, otherwise to Symbolic.
type ConcreteBranchTerm struct {
	Value    Expr
	Concrete *Block
	Symbolic *Block
}

// Succs returns the concrete & symbolic blocks.
func (t *ConcreteBranchTerm) Succs() []*Block { return []*Block{t.Concrete, t.Symbolic} }

// String returns the string representation of the terminator.
func (t *ConcreteBranchTerm) String() string {
	return fmt.Sprintf("branch-concrete %s %d %d", t.Value, t.Concrete.ID, t.Symbolic.ID)
}

// ReturnTerm exits the graph with the program counter, register file and
// RAM, in that order.
type ReturnTerm struct {
	Values Tuple
}

// Succs returns nil.
func (t *ReturnTerm) Succs() []*Block { return nil }

// String returns the string representation of the terminator.
func (t *ReturnTerm) String() string { return fmt.Sprintf("return %s", t.Values) }

// blockWriter accumulates the effects of one block.
//
// Reads see the block-entry value of a register unless the block has
// already written it, in which case they see the written expression.
type blockWriter struct {
	g      *Graph
	block  *Block
	values map[int]Binding
	order  []*Reg // written registers, in first-write order
}

func newBlockWriter(g *Graph, b *Block) *blockWriter {
	assert(b.Term == nil, "block %d already terminated", b.ID)
	return &blockWriter{g: g, block: b, values: make(map[int]Binding)}
}

// read returns the current value of a bitvector register.
func (w *blockWriter) read(reg *Reg) Expr {
	if v, ok := w.values[reg.ID]; ok {
		return v.(Expr)
	}
	return NewRegExpr(reg)
}

// readArray returns the current value of an array register.
func (w *blockWriter) readArray(reg *Reg) *Array {
	if v, ok := w.values[reg.ID]; ok {
		return v.(*Array)
	}
	return NewArray(reg, w.g.AddrWidth)
}

// write sets the value a register holds on block exit.
func (w *blockWriter) write(reg *Reg, v Binding) {
	if reg.Array {
		_, ok := v.(*Array)
		assert(ok, "write: %s requires an array, got %T", reg, v)
	} else {
		expr, ok := v.(Expr)
		assert(ok && ExprWidth(expr) == reg.Width, "write: %s width mismatch: %s", reg, v)
	}
	if _, ok := w.values[reg.ID]; !ok {
		w.order = append(w.order, reg)
	}
	w.values[reg.ID] = v
}

// print appends a diagnostic message to the block.
func (w *blockWriter) print(msg string) {
	w.block.Stmts = append(w.block.Stmts, &PrintStmt{Message: msg})
}

// state returns the machine state tuple as seen by the block.
func (w *blockWriter) state() Tuple {
	return Tuple{w.read(w.g.PC), w.readArray(w.g.Registers), w.readArray(w.g.RAM)}
}

// terminate flushes written registers into assignments and ends the block.
func (w *blockWriter) terminate(t Term) {
	for _, reg := range w.order {
		w.block.Stmts = append(w.block.Stmts, &AssignStmt{Reg: reg, Value: w.values[reg.ID]})
	}
	w.block.Term = t
}

func (w *blockWriter) jump(target *Block) { w.terminate(&JumpTerm{Target: target}) }

func (w *blockWriter) branch(cond Expr, then, els *Block) {
	w.terminate(&BranchTerm{Cond: cond, Then: then, Else: els})
}

func (w *blockWriter) returnState() { w.terminate(&ReturnTerm{Values: w.state()}) }
