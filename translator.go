package pcode

import (
	"fmt"
	"math/big"

	"github.com/benbjohnson/pcode/internal/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/tools/container/intsets"
)

// Translator converts a program into a control-flow graph.
//
// Every macro instruction address gets its own block. Direct branches
// become jumps between those blocks. Indirect branches store their target
// in the graph's PC register and jump to a trampoline that dispatches on
// it.
type Translator struct {
	prog       *Program
	abi        *ABI
	intrinsics map[string]Intrinsic

	Logger *log.Logger
}

// Intrinsic builds the body of an external function starting at entry.
type Intrinsic func(ctx *TranslationContext, fn *Function, entry *Block) error

// NewTranslator returns a translator for p using the calling convention
// of abi. The memset intrinsic is registered by default.
func NewTranslator(p *Program, abi *ABI) *Translator {
	t := &Translator{
		prog:       p,
		abi:        abi,
		intrinsics: make(map[string]Intrinsic),
		Logger:     log.NewNop(),
	}
	t.RegisterIntrinsic("memset", buildMemset)
	return t
}

// RegisterIntrinsic implements calls to an external function with fn.
// The name is matched with and without the ABI's symbol prefix.
func (t *Translator) RegisterIntrinsic(name string, fn Intrinsic) {
	t.intrinsics[name] = fn
	t.intrinsics[t.abi.Mangle(name)] = fn
	t.intrinsics["_"+name] = fn
}

// intrinsic returns the intrinsic registered for a function name.
func (t *Translator) intrinsic(name string) (Intrinsic, bool) {
	fn, ok := t.intrinsics[name]
	return fn, ok
}

// BuildCFG translates every function of the program into a single graph.
func (t *Translator) BuildCFG(name string) (*Graph, error) {
	if t.abi.AddrBytes != t.prog.Arch.WordSize {
		return nil, errors.Errorf("pcode: abi %s: address size %d does not match program word size %d", t.abi.Name, t.abi.AddrBytes, t.prog.Arch.WordSize)
	}

	ctx := newTranslationContext(t, name)
	for _, fn := range t.prog.Functions() {
		if err := ctx.translateFunction(fn); err != nil {
			return nil, errors.Wrapf(err, "function %q", fn.Name)
		}
	}
	ctx.finalize()

	t.Logger.Debug("translate",
		zap.String("graph", name),
		zap.Int("blocks", len(ctx.g.Blocks)),
		zap.Int("regs", len(ctx.g.Regs)),
	)
	return ctx.g, nil
}

// TranslationContext holds the state of a single BuildCFG call.
type TranslationContext struct {
	t       *Translator
	g       *Graph
	temps   *tempSpace
	spaces  map[string]spaceManager
	visited intsets.Sparse // translated micro indices
}

func newTranslationContext(t *Translator, name string) *TranslationContext {
	g := newGraph(name, t.prog.Arch.AddrWidth(), t.prog.Arch.BigEndian)
	g.Entry = g.newBlock("entry block")
	g.Trampoline = g.newBlock("trampoline block")

	ctx := &TranslationContext{t: t, g: g, temps: newTempSpace(g)}
	ctx.spaces = map[string]spaceManager{
		SpaceNameConst:    constSpace{},
		SpaceNameRegister: &arraySpace{name: SpaceNameRegister, reg: g.Registers},
		SpaceNameRAM:      &arraySpace{name: SpaceNameRAM, reg: g.RAM, indirect: true},
		SpaceNameUnique:   ctx.temps,
	}
	return ctx
}

// Graph returns the graph under construction.
func (ctx *TranslationContext) Graph() *Graph { return ctx.g }

// ABI returns the calling convention used for translation.
func (ctx *TranslationContext) ABI() *ABI { return ctx.t.abi }

// space returns the manager for a named address space.
func (ctx *TranslationContext) space(name string) (spaceManager, error) {
	if mgr, ok := ctx.spaces[name]; ok {
		return mgr, nil
	}
	return nil, errors.Wrapf(ErrUnresolvedAddressSpace, "%q", name)
}

// load returns the value of a varnode as seen by w.
func (ctx *TranslationContext) load(w *blockWriter, v *Varnode) (Expr, error) {
	if v.Size == 0 {
		return nil, errors.Wrapf(ErrSizeMismatch, "read of empty varnode %s", v)
	}
	mgr, err := ctx.space(v.SpaceName)
	if err != nil {
		return nil, err
	}
	return mgr.loadDirect(w, v.Offset, v.Size)
}

// store writes value into a varnode. Writes to empty varnodes are dropped.
func (ctx *TranslationContext) store(w *blockWriter, v *Varnode, value Expr) error {
	if v.Size == 0 {
		return nil
	}
	mgr, err := ctx.space(v.SpaceName)
	if err != nil {
		return err
	}
	return mgr.storeDirect(w, v.Offset, v.Size, zeroExtend(value, v.Width()))
}

// readRegister returns size bytes of the register file at offset.
func (ctx *TranslationContext) readRegister(w *blockWriter, offset *big.Int, size int) Expr {
	v, err := ctx.spaces[SpaceNameRegister].loadDirect(w, offset, size)
	assert(err == nil, "read register: %v", err)
	return v
}

// writeRegister writes value into the register file at offset.
func (ctx *TranslationContext) writeRegister(w *blockWriter, offset *big.Int, value Expr) {
	err := ctx.spaces[SpaceNameRegister].storeDirect(w, offset, int(ExprWidth(value)/8), value)
	assert(err == nil, "write register: %v", err)
}

// indirectJump ends the block by dispatching on target through the
// trampoline. A target that is not concrete warns before dispatching.
func (ctx *TranslationContext) indirectJump(w *blockWriter, target Expr, addr *big.Int) {
	g := ctx.g
	target = zeroExtend(target, g.AddrWidth)
	w.write(g.PC, target)

	warn := g.newBlock("symbolic indirect branch")
	warn.Function, warn.Pos = w.block.Function, w.block.Pos
	ww := newBlockWriter(g, warn)
	ww.print(fmt.Sprintf("WARNING: indirect branch on symbolic value at %s\n", hex(addr)))
	ww.print("This is quite likely to result in nontermination or an explosion of paths.\n")
	ww.jump(g.Trampoline)

	w.terminate(&ConcreteBranchTerm{Value: target, Concrete: g.Trampoline, Symbolic: warn})
}

// fellOff returns a block that reports running past the last op of the
// program and returns the machine state.
func (ctx *TranslationContext) fellOff(addr *big.Int) *Block {
	b := ctx.g.newBlock("end of program")
	w := newBlockWriter(ctx.g, b)
	w.print(fmt.Sprintf("WARNING: Fell off the end of the program after %s\n", hex(addr)))
	w.returnState()
	return b
}

// nextBlock returns the block control falls through to after the micro op
// at pc. Ops sharing the current macro address get an internal block.
func (ctx *TranslationContext) nextBlock(pc int, op *MicroOp) (b *Block, internal bool) {
	code := ctx.t.prog.Code
	if pc+1 >= len(code) {
		return ctx.fellOff(op.Seq.Addr), false
	}
	next := code[pc+1]
	if next.Seq.Addr.Cmp(op.Seq.Addr) != 0 {
		return ctx.g.fetchBlock(next.Seq.Addr), false
	}
	b = ctx.g.newBlock(fmt.Sprintf("PCode internal block %s %d", hex(next.Seq.Addr), next.Seq.Uniq))
	return b, true
}

func (ctx *TranslationContext) translateFunction(fn *Function) error {
	if !fn.IsExternal() {
		ctx.t.Logger.Debug("translate function", log.Fn(fn.Name), zap.Int("blocks", len(fn.Blocks)))
		for _, bb := range fn.Blocks {
			if err := ctx.translateBlock(fn, bb); err != nil {
				return err
			}
			ctx.temps.clear()
		}
		return nil
	}

	if fn.Entry.Size == 0 {
		ctx.t.Logger.Debug("skip external function without address", log.Fn(fn.Name))
		return nil
	}

	entry := ctx.g.fetchBlock(fn.Entry.Offset)
	entry.Function = fn.Name
	if intrinsic, ok := ctx.t.intrinsic(fn.Name); ok {
		ctx.t.Logger.Info("implementing intrinsic", log.Fn(fn.Name), log.Addr(fn.Entry.Offset))
		return intrinsic(ctx, fn, entry)
	}

	ctx.t.Logger.Warn("unimplemented function", log.Fn(fn.Name), log.Addr(fn.Entry.Offset))
	w := newBlockWriter(ctx.g, entry)
	w.print("WARNING: Exiting on call to unimplemented function: " + fn.Name + "\n")
	w.returnState()
	return nil
}

// translateBlock translates the micro ops of a basic block. A new CFG
// block begins at every macro instruction.
func (ctx *TranslationContext) translateBlock(fn *Function, bb *BasicBlock) error {
	code := ctx.t.prog.Code

	var w *blockWriter
	var addr *big.Int
	for pc := bb.FirstOp; pc <= bb.LastOp; pc++ {
		op := code[pc]
		if ctx.visited.Has(pc) {
			return errors.Errorf("pcode: micro op %s translated twice", op.Seq)
		}
		ctx.visited.Insert(pc)

		if addr == nil || op.Seq.Addr.Cmp(addr) != 0 {
			b := ctx.g.fetchBlock(op.Seq.Addr)
			if b.Term != nil {
				return errors.Errorf("pcode: duplicate block for macro instruction @%s", hex(op.Seq.Addr))
			}
			b.Function, b.Pos = fn.Name, op.Pos
			if w != nil {
				w.jump(b)
			}
			w, addr = newBlockWriter(ctx.g, b), op.Seq.Addr
		} else if w == nil {
			ctx.t.Logger.Debug("skip unreachable op", zap.Stringer("seq", op.Seq), log.Op(op.Opcode.String()))
			continue
		}

		next, err := ctx.translateOp(w, pc, op)
		if err != nil {
			return errors.Wrapf(err, "%s", op)
		}
		w = next
	}

	// Fall through into whatever follows the block.
	if w != nil {
		if bb.LastOp+1 < len(code) {
			w.jump(ctx.g.fetchBlock(code[bb.LastOp+1].Seq.Addr))
		} else {
			w.jump(ctx.fellOff(addr))
		}
	}
	return nil
}

// translateOp emits the effect of a single micro op. Returns the writer
// for the ops that follow, or nil if op ended the block.
func (ctx *TranslationContext) translateOp(w *blockWriter, pc int, op *MicroOp) (*blockWriter, error) {
	switch op.Opcode {
	case COPY:
		return w, ctx.translateCopy(w, op)
	case LOAD:
		return w, ctx.translateLoad(w, op)
	case STORE:
		return w, ctx.translateStore(w, op)
	case BRANCH, CALL:
		w.jump(ctx.g.fetchBlock(op.Input(0).Offset))
		return nil, nil
	case CBRANCH:
		return ctx.translateCBranch(w, pc, op)
	case BRANCHIND, CALLIND, RETURN:
		target, err := ctx.load(w, op.Input(0))
		if err != nil {
			return nil, err
		} else if ExprWidth(target) > ctx.g.AddrWidth {
			return nil, errors.Wrapf(ErrSizeMismatch, "branch target wider than address: %d bits", ExprWidth(target))
		}
		ctx.indirectJump(w, target, op.Seq.Addr)
		return nil, nil
	case PIECE:
		return w, ctx.translatePiece(w, op)
	case SUBPIECE:
		return w, ctx.translateSubpiece(w, op)
	case INT_EQUAL, INT_NOTEQUAL, INT_LESS, INT_SLESS, INT_LESSEQUAL, INT_SLESSEQUAL:
		return w, ctx.translateCompare(w, op)
	case INT_ZEXT, INT_SEXT:
		return w, ctx.translateExtend(w, op)
	case INT_ADD, INT_SUB, INT_MULT, INT_DIV, INT_REM, INT_SDIV, INT_SREM, INT_XOR, INT_AND, INT_OR:
		return w, ctx.translateBinary(w, op)
	case INT_CARRY, INT_SCARRY, INT_SBORROW:
		return w, ctx.translateOverflow(w, op)
	case INT_2COMP, INT_NEGATE:
		return w, ctx.translateUnary(w, op)
	case INT_LEFT, INT_RIGHT, INT_SRIGHT:
		return w, ctx.translateShift(w, op)
	case BOOL_NEGATE, BOOL_XOR, BOOL_AND, BOOL_OR:
		return w, ctx.translateBool(w, op)
	case FLOAT_EQUAL, FLOAT_NOTEQUAL, FLOAT_LESS, FLOAT_LESSEQUAL, FLOAT_ADD, FLOAT_SUB,
		FLOAT_MULT, FLOAT_DIV, FLOAT_NEG, FLOAT_ABS, FLOAT_SQRT, FLOAT_CEIL, FLOAT_FLOOR,
		FLOAT_ROUND, FLOAT_UNORDERED, FLOAT_NAN, INT2FLOAT, FLOAT2FLOAT, TRUNC,
		MULTIEQUAL, INDIRECT, PTRADD:
		return nil, errors.Wrapf(ErrUnimplementedOpcode, "%s", op.Opcode)
	default:
		return nil, errors.Errorf("pcode: illegal opcode: %s", op.Opcode)
	}
}

func (ctx *TranslationContext) translateCopy(w *blockWriter, op *MicroOp) error {
	if op.Output.Size != op.Input(0).Size {
		return errors.Wrapf(ErrSizeMismatch, "copy %s <- %s", op.Output, op.Input(0))
	}
	v, err := ctx.load(w, op.Input(0))
	if err != nil {
		return err
	}
	return ctx.store(w, op.Output, v)
}

func (ctx *TranslationContext) translateLoad(w *blockWriter, op *MicroOp) error {
	mgr, err := ctx.space(op.SpaceID)
	if err != nil {
		return err
	}
	ptr, err := ctx.load(w, op.Input(0))
	if err != nil {
		return err
	}
	v, err := mgr.loadIndirect(w, ptr, op.Output.Size)
	if err != nil {
		return err
	}
	return ctx.store(w, op.Output, v)
}

func (ctx *TranslationContext) translateStore(w *blockWriter, op *MicroOp) error {
	mgr, err := ctx.space(op.SpaceID)
	if err != nil {
		return err
	}
	ptr, err := ctx.load(w, op.Input(0))
	if err != nil {
		return err
	}
	v, err := ctx.load(w, op.Input(1))
	if err != nil {
		return err
	}
	return mgr.storeIndirect(w, ptr, v)
}

func (ctx *TranslationContext) translateCBranch(w *blockWriter, pc int, op *MicroOp) (*blockWriter, error) {
	cond, err := ctx.load(w, op.Input(1))
	if err != nil {
		return nil, err
	}
	target := ctx.g.fetchBlock(op.Input(0).Offset)
	next, internal := ctx.nextBlock(pc, op)
	w.branch(NewIsNonzeroExpr(cond), target, next)

	if !internal {
		return nil, nil
	}
	next.Function, next.Pos = w.block.Function, op.Pos
	return newBlockWriter(ctx.g, next), nil
}

func (ctx *TranslationContext) translatePiece(w *blockWriter, op *MicroOp) error {
	hi, lo := op.Input(0), op.Input(1)
	if op.Output.Size != hi.Size+lo.Size {
		ctx.t.Logger.Warn("piece size mismatch, skipping",
			log.Size(op.Output.Size), zap.Int("hi", hi.Size), zap.Int("lo", lo.Size))
		return nil
	}
	a, err := ctx.load(w, hi)
	if err != nil {
		return err
	}
	b, err := ctx.load(w, lo)
	if err != nil {
		return err
	}
	return ctx.store(w, op.Output, NewConcatExpr(a, b))
}

func (ctx *TranslationContext) translateSubpiece(w *blockWriter, op *MicroOp) error {
	if !op.Input(1).IsConst() {
		return errors.Errorf("pcode: subpiece offset must be constant: %s", op.Input(1))
	}
	n := op.Input(1).Offset
	if n.Cmp(big.NewInt(int64(op.Input(0).Size))) > 0 {
		ctx.t.Logger.Warn("subpiece offset exceeds input size, skipping",
			log.Value(n), log.Size(op.Input(0).Size))
		return nil
	}

	v, err := ctx.load(w, op.Input(0))
	if err != nil {
		return err
	}
	width := ExprWidth(v)
	v = NewBinaryExpr(LSHR, v, NewConstantExpr(n.Uint64()*8, width))
	return ctx.store(w, op.Output, zeroExtend(v, op.Output.Width()))
}

// loadPair returns the first two inputs extended to a common width, which
// is at least width bits.
func (ctx *TranslationContext) loadPair(w *blockWriter, op *MicroOp, width uint, signed bool) (a, b Expr, err error) {
	if a, err = ctx.load(w, op.Input(0)); err != nil {
		return nil, nil, err
	} else if b, err = ctx.load(w, op.Input(1)); err != nil {
		return nil, nil, err
	}
	if aw := ExprWidth(a); aw > width {
		width = aw
	}
	if bw := ExprWidth(b); bw > width {
		width = bw
	}
	return NewCastExpr(a, width, signed), NewCastExpr(b, width, signed), nil
}

func (ctx *TranslationContext) translateCompare(w *blockWriter, op *MicroOp) error {
	signed := op.Opcode == INT_SLESS || op.Opcode == INT_SLESSEQUAL
	a, b, err := ctx.loadPair(w, op, 0, signed)
	if err != nil {
		return err
	}

	var cmp BinaryOp
	switch op.Opcode {
	case INT_EQUAL:
		cmp = EQ
	case INT_NOTEQUAL:
		cmp = NE
	case INT_LESS:
		cmp = ULT
	case INT_SLESS:
		cmp = SLT
	case INT_LESSEQUAL:
		cmp = ULE
	case INT_SLESSEQUAL:
		cmp = SLE
	}
	return ctx.store(w, op.Output, NewBinaryExpr(cmp, a, b))
}

func (ctx *TranslationContext) translateExtend(w *blockWriter, op *MicroOp) error {
	v, err := ctx.load(w, op.Input(0))
	if err != nil {
		return err
	}
	return ctx.store(w, op.Output, NewCastExpr(v, op.Output.Width(), op.Opcode == INT_SEXT))
}

func (ctx *TranslationContext) translateBinary(w *blockWriter, op *MicroOp) error {
	signed := op.Opcode == INT_SDIV || op.Opcode == INT_SREM
	a, b, err := ctx.loadPair(w, op, op.Output.Width(), signed)
	if err != nil {
		return err
	}

	var bop BinaryOp
	switch op.Opcode {
	case INT_ADD:
		bop = ADD
	case INT_SUB:
		bop = SUB
	case INT_MULT:
		bop = MUL
	case INT_DIV:
		bop = UDIV
	case INT_REM:
		bop = UREM
	case INT_SDIV:
		bop = SDIV
	case INT_SREM:
		bop = SREM
	case INT_XOR:
		bop = XOR
	case INT_AND:
		bop = AND
	case INT_OR:
		bop = OR
	}
	return ctx.store(w, op.Output, NewBinaryExpr(bop, a, b))
}

// translateOverflow computes carry & overflow flags at the width of input0.
func (ctx *TranslationContext) translateOverflow(w *blockWriter, op *MicroOp) error {
	a, err := ctx.load(w, op.Input(0))
	if err != nil {
		return err
	}
	b, err := ctx.load(w, op.Input(1))
	if err != nil {
		return err
	}
	width := ExprWidth(a)

	var flag Expr
	switch op.Opcode {
	case INT_CARRY:
		b = NewCastExpr(b, width, false)
		flag = NewBinaryExpr(ULT, NewBinaryExpr(ADD, a, b), a)
	default: // INT_SCARRY, INT_SBORROW
		// Compute one bit wider; the result overflowed if narrowing it back
		// changes its value.
		a, b = NewCastExpr(a, width+1, true), NewCastExpr(b, width+1, true)
		bop := ADD
		if op.Opcode == INT_SBORROW {
			bop = SUB
		}
		v := NewBinaryExpr(bop, a, b)
		flag = NewBinaryExpr(NE, NewCastExpr(NewExtractExpr(v, 0, width), width+1, true), v)
	}
	return ctx.store(w, op.Output, flag)
}

func (ctx *TranslationContext) translateUnary(w *blockWriter, op *MicroOp) error {
	v, err := ctx.load(w, op.Input(0))
	if err != nil {
		return err
	}
	width := ExprWidth(v)
	if ow := op.Output.Width(); ow > width {
		width = ow
	}

	switch op.Opcode {
	case INT_2COMP:
		v = NewCastExpr(v, width, true)
		v = NewBinaryExpr(SUB, NewConstantExpr(0, width), v)
	default: // INT_NEGATE
		v = NewNotExpr(NewCastExpr(v, width, false))
	}
	return ctx.store(w, op.Output, v)
}

// translateShift evaluates shifts at the widest operand width so shift
// amounts past the width of input0 clear (or sign fill) the result.
func (ctx *TranslationContext) translateShift(w *blockWriter, op *MicroOp) error {
	signed := op.Opcode == INT_SRIGHT
	v, err := ctx.load(w, op.Input(0))
	if err != nil {
		return err
	}
	amt, err := ctx.load(w, op.Input(1))
	if err != nil {
		return err
	}

	width := ExprWidth(v)
	if aw := ExprWidth(amt); aw > width {
		width = aw
	}
	v, amt = NewCastExpr(v, width, signed), NewCastExpr(amt, width, false)

	var bop BinaryOp
	switch op.Opcode {
	case INT_LEFT:
		bop = SHL
	case INT_RIGHT:
		bop = LSHR
	case INT_SRIGHT:
		bop = ASHR
	}
	return ctx.store(w, op.Output, NewBinaryExpr(bop, v, amt))
}

func (ctx *TranslationContext) translateBool(w *blockWriter, op *MicroOp) error {
	a, err := ctx.load(w, op.Input(0))
	if err != nil {
		return err
	}
	if op.Opcode == BOOL_NEGATE {
		return ctx.store(w, op.Output, NewIsZeroExpr(a))
	}

	b, err := ctx.load(w, op.Input(1))
	if err != nil {
		return err
	}
	a, b = NewExtractExpr(a, 0, WidthBool), NewExtractExpr(b, 0, WidthBool)

	var bop BinaryOp
	switch op.Opcode {
	case BOOL_XOR:
		bop = XOR
	case BOOL_AND:
		bop = AND
	case BOOL_OR:
		bop = OR
	}
	return ctx.store(w, op.Output, NewBinaryExpr(bop, a, b))
}

// finalize builds the entry block and the trampoline, and closes any block
// that was branched to but never translated.
func (ctx *TranslationContext) finalize() {
	g := ctx.g

	for _, addr := range g.Addrs() {
		b, _ := g.Lookup(addr)
		if b.Term != nil {
			continue
		}
		ctx.t.Logger.Warn("branch to untranslated address", log.Addr(addr))
		w := newBlockWriter(g, b)
		w.print(fmt.Sprintf("WARNING: Branch to untranslated address %s\n", hex(addr)))
		w.returnState()
	}

	newBlockWriter(g, g.Entry).jump(g.Trampoline)

	// Dispatch on the PC register in ascending address order.
	cur := g.Trampoline
	for _, addr := range g.Addrs() {
		target, _ := g.Lookup(addr)
		next := g.newBlock("mid-trampoline block")

		w := newBlockWriter(g, cur)
		w.branch(NewBinaryExpr(EQ, w.read(g.PC), NewBigConstantExpr(addr, g.AddrWidth)), target, next)
		cur = next
	}

	// No block matched: exit with the current state.
	newBlockWriter(g, cur).returnState()
}
