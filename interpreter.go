package pcode

import (
	"math/big"

	"github.com/benbjohnson/pcode/internal/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/tools/container/intsets"
)

// Interpreter executes a program one micro op at a time against a
// concrete MachineState.
type Interpreter struct {
	prog        *Program
	state       *MachineState
	logger      *log.Logger
	breakpoints intsets.Sparse
	watches     map[string][]Watch // keyed by macro address

	// Invoked when a watched macro instruction is reached.
	OnWatch func(w Watch, value *big.Int)
}

// NewInterpreter returns a new interpreter with a fresh machine state.
func NewInterpreter(p *Program) *Interpreter {
	i := &Interpreter{
		prog:    p,
		logger:  log.NewNop(),
		watches: make(map[string][]Watch),
	}
	i.Reset()
	return i
}

// Program returns the program being interpreted.
func (i *Interpreter) Program() *Program { return i.prog }

// State returns the current machine state.
func (i *Interpreter) State() *MachineState { return i.state }

// SetLogger sets the logger used by the interpreter and its state.
func (i *Interpreter) SetLogger(l *log.Logger) {
	i.logger = l
	i.state.Logger = l
}

// Reset discards the machine state and starts over from the program's
// initial image. Breakpoints and watches are kept.
func (i *Interpreter) Reset() {
	i.state = NewMachineState(i.prog)
	i.state.Logger = i.logger
}

// LookupFunction returns the function with the given name.
func (i *Interpreter) LookupFunction(name string) (*Function, error) {
	if f, ok := i.prog.Function(name); ok {
		return f, nil
	}
	return nil, errors.Wrapf(ErrUnknownFunction, "%q", name)
}

// entryIndex returns the micro index of a function's entry point.
func (i *Interpreter) entryIndex(f *Function) (int, error) {
	if f.IsExternal() || f.Entry.Size == 0 {
		return 0, errors.Wrapf(ErrOutOfRange, "function %q has no body", f.Name)
	}
	return i.prog.MicroIndex(f.Entry.Offset)
}

// Start positions the micro program counter at the entry of a function.
func (i *Interpreter) Start(name string) error {
	f, err := i.LookupFunction(name)
	if err != nil {
		return err
	}
	pc, err := i.entryIndex(f)
	if err != nil {
		return err
	}
	i.state.MicroPC, i.state.Halted = pc, false
	return nil
}

// ReadSpace returns a snapshot of the named address space.
func (i *Interpreter) ReadSpace(name string) (*AddressSpace, error) {
	space, err := i.state.Space(name)
	if err != nil {
		return nil, err
	}
	return space.Clone(), nil
}

// WriteVarnode stores value into v, truncating to the varnode's size.
func (i *Interpreter) WriteVarnode(v *Varnode, value *big.Int) error {
	return i.state.StoreSigned(v, value)
}

// SetBreakpoint adds a breakpoint at a micro index.
func (i *Interpreter) SetBreakpoint(pc int) { i.breakpoints.Insert(pc) }

// ClearBreakpoint removes a breakpoint at a micro index.
func (i *Interpreter) ClearBreakpoint(pc int) { i.breakpoints.Remove(pc) }

// Breakpoints returns all breakpoints in ascending order.
func (i *Interpreter) Breakpoints() []int { return i.breakpoints.AppendTo(nil) }

// BreakAtFunction adds a breakpoint at the entry of a function and returns
// its micro index.
func (i *Interpreter) BreakAtFunction(name string) (int, error) {
	f, err := i.LookupFunction(name)
	if err != nil {
		return 0, err
	}
	pc, err := i.entryIndex(f)
	if err != nil {
		return 0, err
	}
	i.SetBreakpoint(pc)
	return pc, nil
}

// BreakAtAddress adds a breakpoint at a macro instruction and returns its
// micro index.
func (i *Interpreter) BreakAtAddress(addr *big.Int) (int, error) {
	pc, err := i.prog.MicroIndex(addr)
	if err != nil {
		return 0, err
	}
	i.SetBreakpoint(pc)
	return pc, nil
}

// AddWatch registers a watch evaluated whenever its macro instruction is reached.
func (i *Interpreter) AddWatch(w Watch) {
	key := w.Address().String()
	i.watches[key] = append(i.watches[key], w)
}

// Step executes a single micro op and returns it. On error the machine
// state is left unchanged.
func (i *Interpreter) Step() (*MicroOp, error) {
	s := i.state
	if s.Halted {
		return nil, ErrHalted
	}

	pc := s.MicroPC
	op, err := i.prog.Fetch(pc)
	if err != nil {
		return nil, err
	}
	if op.IsMacroStart() {
		i.evalWatches(op.Seq.Addr)
	}
	i.logger.Trace(pc, op.Opcode.String(), op.String())

	s.MicroPC++
	if err := i.execute(op); err != nil {
		s.MicroPC = pc
		return op, errors.Wrapf(err, "pc %d (%s)", pc, op.Seq)
	}
	return op, nil
}

// Exec executes op against the machine state without fetching it from
// the program. Branches still move the micro program counter.
func (i *Interpreter) Exec(op *MicroOp) error {
	if i.state.Halted {
		return ErrHalted
	}
	i.logger.Trace(i.state.MicroPC, op.Opcode.String(), op.String())
	return i.execute(op)
}

// RunUntil steps at least once and then until the micro program counter
// reaches a breakpoint in bps, the machine halts, or maxSteps ops have run.
// A maxSteps of zero or less means no limit. Returns the number of steps
// executed. Reaching maxSteps returns ErrStepLimit.
func (i *Interpreter) RunUntil(bps *intsets.Sparse, maxSteps int) (int, error) {
	var n int
	for {
		if maxSteps > 0 && n >= maxSteps {
			return n, ErrStepLimit
		}
		if _, err := i.Step(); err != nil {
			return n, err
		}
		n++

		if i.state.Halted || (bps != nil && bps.Has(i.state.MicroPC)) {
			return n, nil
		}
	}
}

// Continue runs until the next registered breakpoint.
func (i *Interpreter) Continue(maxSteps int) (int, error) {
	return i.RunUntil(&i.breakpoints, maxSteps)
}

// Call invokes a function through an ABI: arguments are placed in
// registers, the return address is recorded, and execution continues until
// the function returns to returnAddr. Returns the values of the ABI's
// return registers.
func (i *Interpreter) Call(abi *ABI, name string, returnAddr *big.Int, maxSteps int, args ...*big.Int) ([]*big.Int, error) {
	f, err := i.LookupFunction(abi.Mangle(name))
	if err != nil {
		if f, err = i.LookupFunction(name); err != nil {
			return nil, err
		}
	}
	pc, err := i.entryIndex(f)
	if err != nil {
		return nil, err
	}

	s := i.state
	if err := abi.SetupCallFrame(s, returnAddr, args...); err != nil {
		return nil, err
	}
	s.AddExit(returnAddr)
	s.MicroPC, s.Halted = pc, false

	i.logger.Info("call", log.Fn(f.Name), log.Addr(f.Entry.Offset), zap.Int("args", len(args)))
	if _, err := i.RunUntil(nil, maxSteps); err != nil {
		return nil, err
	}
	return abi.ExtractCallReturns(s)
}

// evalWatches evaluates every watch registered at addr.
func (i *Interpreter) evalWatches(addr *big.Int) {
	for _, w := range i.watches[addr.String()] {
		v, err := w.Read(i.state)
		if err != nil {
			i.logger.Warn("watch", zap.String("comment", w.Comment()), zap.Error(err))
			continue
		}
		i.logger.Info("watch", zap.String("comment", w.Comment()), log.Addr(addr), log.Value(v))
		if i.OnWatch != nil {
			i.OnWatch(w, v)
		}
	}
}

func (i *Interpreter) execute(op *MicroOp) error {
	switch op.Opcode {
	case COPY:
		return i.state.CopyBytes(op.Output, op.Input(0))
	case LOAD:
		return i.executeLoad(op)
	case STORE:
		return i.executeStore(op)
	case BRANCH, CALL:
		return i.jump(op.Input(0).Offset)
	case CBRANCH:
		return i.executeCBranch(op)
	case BRANCHIND, CALLIND, RETURN:
		return i.executeIndirectBranch(op)
	case PIECE:
		return i.executePiece(op)
	case SUBPIECE:
		return i.executeSubpiece(op)
	case INT_EQUAL, INT_NOTEQUAL, INT_LESS, INT_SLESS, INT_LESSEQUAL, INT_SLESSEQUAL:
		return i.executeCompare(op)
	case INT_ZEXT:
		return i.executeExtend(op, false)
	case INT_SEXT:
		return i.executeExtend(op, true)
	case INT_ADD, INT_SUB, INT_MULT, INT_DIV, INT_REM, INT_SDIV, INT_SREM, INT_XOR, INT_AND, INT_OR:
		return i.executeBinary(op)
	case INT_CARRY, INT_SCARRY, INT_SBORROW:
		return i.executeOverflow(op)
	case INT_2COMP, INT_NEGATE:
		return i.executeUnary(op)
	case INT_LEFT, INT_RIGHT, INT_SRIGHT:
		return i.executeShift(op)
	case BOOL_NEGATE, BOOL_XOR, BOOL_AND, BOOL_OR:
		return i.executeBool(op)
	case FLOAT_EQUAL, FLOAT_NOTEQUAL, FLOAT_LESS, FLOAT_LESSEQUAL, FLOAT_ADD, FLOAT_SUB,
		FLOAT_MULT, FLOAT_DIV, FLOAT_NEG, FLOAT_ABS, FLOAT_SQRT, FLOAT_CEIL, FLOAT_FLOOR,
		FLOAT_ROUND, FLOAT_UNORDERED, FLOAT_NAN, INT2FLOAT, FLOAT2FLOAT, TRUNC,
		MULTIEQUAL, INDIRECT, PTRADD:
		return errors.Wrapf(ErrUnimplementedOpcode, "%s", op.Opcode)
	default:
		return errors.Errorf("pcode: illegal opcode: %s", op.Opcode)
	}
}

func (i *Interpreter) executeLoad(op *MicroOp) error {
	v, err := i.state.LoadIndirect(op.Input(0), op.SpaceID, op.Output.Size)
	if err != nil {
		return err
	}
	return i.state.StoreUnsigned(op.Output, v)
}

func (i *Interpreter) executeStore(op *MicroOp) error {
	v, err := i.state.FetchUnsigned(op.Input(1))
	if err != nil {
		return err
	}
	return i.state.StoreIndirect(op.Input(0), op.SpaceID, op.Input(1).Size, v)
}

// jump moves the micro program counter to the start of a macro instruction.
func (i *Interpreter) jump(addr *big.Int) error {
	pc, err := i.prog.MicroIndex(addr)
	if err != nil {
		return err
	}
	i.state.MicroPC = pc
	return nil
}

func (i *Interpreter) executeCBranch(op *MicroOp) error {
	cond, err := i.state.FetchUnsigned(op.Input(1))
	if err != nil {
		return err
	} else if cond.Sign() == 0 {
		return nil
	}
	return i.jump(op.Input(0).Offset)
}

func (i *Interpreter) executeIndirectBranch(op *MicroOp) error {
	target, err := i.state.FetchUnsigned(op.Input(0))
	if err != nil {
		return err
	}
	if i.state.IsExit(target) {
		i.logger.Debug("exit", log.Addr(target))
		i.state.Halted = true
		return nil
	}
	return i.jump(target)
}

func (i *Interpreter) executePiece(op *MicroOp) error {
	hi, lo := op.Input(0), op.Input(1)
	if op.Output.Size != hi.Size+lo.Size {
		i.logger.Warn("piece size mismatch, skipping",
			log.Size(op.Output.Size), zap.Int("hi", hi.Size), zap.Int("lo", lo.Size))
		return nil
	}
	a, err := i.state.FetchUnsigned(hi)
	if err != nil {
		return err
	}
	b, err := i.state.FetchUnsigned(lo)
	if err != nil {
		return err
	}
	v := new(big.Int).Lsh(a, lo.Width())
	return i.state.StoreUnsigned(op.Output, v.Or(v, b))
}

func (i *Interpreter) executeSubpiece(op *MicroOp) error {
	v, err := i.state.FetchUnsigned(op.Input(0))
	if err != nil {
		return err
	}
	n, err := i.state.FetchUnsigned(op.Input(1))
	if err != nil {
		return err
	}
	if n.Cmp(big.NewInt(int64(op.Input(0).Size))) > 0 {
		i.logger.Warn("subpiece offset exceeds input size, skipping",
			log.Value(n), log.Size(op.Input(0).Size))
		return nil
	}
	return i.state.StoreUnsigned(op.Output, new(big.Int).Rsh(v, uint(n.Uint64())*8))
}

// fetchPair returns the values of the first two inputs.
func (i *Interpreter) fetchPair(op *MicroOp, signed bool) (a, b *big.Int, err error) {
	fetch := i.state.FetchUnsigned
	if signed {
		fetch = i.state.FetchSigned
	}
	if a, err = fetch(op.Input(0)); err != nil {
		return nil, nil, err
	} else if b, err = fetch(op.Input(1)); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func (i *Interpreter) executeCompare(op *MicroOp) error {
	signed := op.Opcode == INT_SLESS || op.Opcode == INT_SLESSEQUAL
	a, b, err := i.fetchPair(op, signed)
	if err != nil {
		return err
	}

	var result bool
	switch op.Opcode {
	case INT_EQUAL:
		result = a.Cmp(b) == 0
	case INT_NOTEQUAL:
		result = a.Cmp(b) != 0
	case INT_LESS, INT_SLESS:
		result = a.Cmp(b) < 0
	case INT_LESSEQUAL, INT_SLESSEQUAL:
		result = a.Cmp(b) <= 0
	}
	return i.state.StoreUnsigned(op.Output, boolInt(result))
}

func (i *Interpreter) executeExtend(op *MicroOp, signed bool) error {
	if signed {
		v, err := i.state.FetchSigned(op.Input(0))
		if err != nil {
			return err
		}
		return i.state.StoreSigned(op.Output, v)
	}
	v, err := i.state.FetchUnsigned(op.Input(0))
	if err != nil {
		return err
	}
	return i.state.StoreUnsigned(op.Output, v)
}

func (i *Interpreter) executeBinary(op *MicroOp) error {
	signed := op.Opcode == INT_SDIV || op.Opcode == INT_SREM
	a, b, err := i.fetchPair(op, signed)
	if err != nil {
		return err
	}

	v := new(big.Int)
	switch op.Opcode {
	case INT_ADD:
		v.Add(a, b)
	case INT_SUB:
		v.Sub(a, b)
	case INT_MULT:
		v.Mul(a, b)
	case INT_DIV, INT_REM, INT_SDIV, INT_SREM:
		if b.Sign() == 0 {
			return errors.Wrapf(ErrDivideByZero, "%s", op.Opcode)
		}
		if op.Opcode == INT_DIV || op.Opcode == INT_SDIV {
			v.Quo(a, b)
		} else {
			v.Rem(a, b)
		}
	case INT_XOR:
		v.Xor(a, b)
	case INT_AND:
		v.And(a, b)
	case INT_OR:
		v.Or(a, b)
	}
	return i.state.StoreSigned(op.Output, v)
}

// executeOverflow computes carry & overflow flags at the width of input0.
func (i *Interpreter) executeOverflow(op *MicroOp) error {
	signed := op.Opcode != INT_CARRY
	a, b, err := i.fetchPair(op, signed)
	if err != nil {
		return err
	}
	width := op.Input(0).Width()

	var result bool
	switch op.Opcode {
	case INT_CARRY:
		result = uint(new(big.Int).Add(a, b).BitLen()) > width
	case INT_SCARRY:
		result = !inSignedRange(new(big.Int).Add(a, b), width)
	case INT_SBORROW:
		result = !inSignedRange(new(big.Int).Sub(a, b), width)
	}
	return i.state.StoreUnsigned(op.Output, boolInt(result))
}

func (i *Interpreter) executeUnary(op *MicroOp) error {
	switch op.Opcode {
	case INT_2COMP:
		v, err := i.state.FetchSigned(op.Input(0))
		if err != nil {
			return err
		}
		return i.state.StoreSigned(op.Output, v.Neg(v))
	default: // INT_NEGATE
		v, err := i.state.FetchUnsigned(op.Input(0))
		if err != nil {
			return err
		}
		return i.state.StoreSigned(op.Output, v.Not(v))
	}
}

func (i *Interpreter) executeShift(op *MicroOp) error {
	fetch := i.state.FetchUnsigned
	if op.Opcode == INT_SRIGHT {
		fetch = i.state.FetchSigned
	}
	v, err := fetch(op.Input(0))
	if err != nil {
		return err
	}
	amt, err := i.state.FetchUnsigned(op.Input(1))
	if err != nil {
		return err
	}

	// Shifting past the operand width gives the same result as shifting
	// by exactly the width.
	n := op.Input(0).Width()
	if amt.Cmp(big.NewInt(int64(n))) < 0 {
		n = uint(amt.Uint64())
	}

	switch op.Opcode {
	case INT_LEFT:
		v.Lsh(v, n)
	default: // INT_RIGHT, INT_SRIGHT
		v.Rsh(v, n)
	}
	return i.state.StoreSigned(op.Output, v)
}

func (i *Interpreter) executeBool(op *MicroOp) error {
	a, err := i.state.FetchUnsigned(op.Input(0))
	if err != nil {
		return err
	}
	if op.Opcode == BOOL_NEGATE {
		return i.state.StoreUnsigned(op.Output, boolInt(a.Sign() == 0))
	}

	b, err := i.state.FetchUnsigned(op.Input(1))
	if err != nil {
		return err
	}
	x, y := a.Bit(0), b.Bit(0)

	var result uint
	switch op.Opcode {
	case BOOL_XOR:
		result = x ^ y
	case BOOL_AND:
		result = x & y
	case BOOL_OR:
		result = x | y
	}
	return i.state.StoreUnsigned(op.Output, big.NewInt(int64(result)))
}

// inSignedRange returns true if v is representable as a width-bit two's
// complement integer.
func inSignedRange(v *big.Int, width uint) bool {
	min, max := signedRange(width)
	return v.Cmp(min) >= 0 && v.Cmp(max) <= 0
}

func boolInt(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}
