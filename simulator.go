package pcode

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/benbjohnson/pcode/internal/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/tools/container/intsets"
)

// SimState is the concrete machine state a Graph executes against.
type SimState struct {
	PC        *big.Int
	Registers *AddressSpace
	RAM       *AddressSpace

	// Values of every other bitvector register, by register id.
	Values map[int]*ConstantExpr
}

// NewSimState returns a state with an empty register file and RAM seeded
// from the program's data segment.
func NewSimState(p *Program) *SimState {
	return &SimState{
		PC:        new(big.Int),
		Registers: NewAddressSpace(SpaceNameRegister, SpaceRegister, p.Arch),
		RAM:       p.Data.Clone(),
		Values:    make(map[int]*ConstantExpr),
	}
}

// Clone returns a copy of the state.
func (s *SimState) Clone() *SimState {
	other := &SimState{
		PC:        new(big.Int).Set(s.PC),
		Registers: s.Registers.Clone(),
		RAM:       s.RAM.Clone(),
		Values:    make(map[int]*ConstantExpr, len(s.Values)),
	}
	for k, v := range s.Values {
		other.Values[k] = v
	}
	return other
}

// ReadRegister reads size bytes of the register file at offset.
func (s *SimState) ReadRegister(offset *big.Int, size int) (*big.Int, error) {
	v, _, err := s.Registers.Load(offset, size)
	return v, err
}

// WriteRegister writes size bytes of the register file at offset.
func (s *SimState) WriteRegister(offset *big.Int, size int, value *big.Int) error {
	return s.Registers.Store(offset, size, value)
}

// Peek reads size bytes of RAM at addr.
func (s *SimState) Peek(addr *big.Int, size int) (*big.Int, error) {
	v, _, err := s.RAM.Load(addr, size)
	return v, err
}

// Poke writes size bytes of RAM at addr.
func (s *SimState) Poke(addr *big.Int, size int, value *big.Int) error {
	return s.RAM.Store(addr, size, value)
}

// ExprEvaluator folds expressions to constants given the values of the
// registers they read.
type ExprEvaluator struct {
	Values map[int]*ConstantExpr  // bitvector registers
	Arrays map[int]*AddressSpace // array registers
	Logger *log.Logger
}

// NewExprEvaluator returns an evaluator with no bound registers.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		Values: make(map[int]*ConstantExpr),
		Arrays: make(map[int]*AddressSpace),
		Logger: log.NewNop(),
	}
}

// Evaluate returns the value of expr.
func (e *ExprEvaluator) Evaluate(expr Expr) (*ConstantExpr, error) {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr, nil

	case *RegExpr:
		if v, ok := e.Values[expr.Reg.ID]; ok {
			return v, nil
		}
		e.Logger.Warn("read of unbound register", zap.Stringer("reg", expr.Reg))
		return NewConstantExpr(0, expr.Reg.Width), nil

	case *SelectExpr:
		return e.evaluateSelect(expr)

	case *ConcatExpr:
		msb, err := e.Evaluate(expr.MSB)
		if err != nil {
			return nil, err
		}
		lsb, err := e.Evaluate(expr.LSB)
		if err != nil {
			return nil, err
		}
		return msb.Concat(lsb), nil

	case *ExtractExpr:
		v, err := e.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return v.Extract(expr.Offset, expr.Width), nil

	case *NotExpr:
		v, err := e.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return v.Not(), nil

	case *CastExpr:
		v, err := e.Evaluate(expr.Src)
		if err != nil {
			return nil, err
		} else if expr.Signed {
			return v.SExt(expr.Width), nil
		}
		return v.ZExt(expr.Width), nil

	case *BinaryExpr:
		return e.evaluateBinary(expr)

	default:
		panic("unreachable")
	}
}

func (e *ExprEvaluator) evaluateBinary(expr *BinaryExpr) (*ConstantExpr, error) {
	lhs, err := e.Evaluate(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := e.Evaluate(expr.RHS)
	if err != nil {
		return nil, err
	}
	if expr.Op.IsDivision() && rhs.IsZero() {
		return nil, errors.Wrapf(ErrDivideByZero, "%s", expr.Op)
	}
	return lhs.Apply(expr.Op, rhs), nil
}

// evaluateSelect reads one byte, checking the newest updates first.
func (e *ExprEvaluator) evaluateSelect(expr *SelectExpr) (*ConstantExpr, error) {
	index, err := e.Evaluate(expr.Index)
	if err != nil {
		return nil, err
	}
	for upd := expr.Array.Updates; upd != nil; upd = upd.Next {
		ui, err := e.Evaluate(upd.Index)
		if err != nil {
			return nil, err
		} else if ui.Value.Cmp(index.Value) == 0 {
			return e.Evaluate(upd.Value)
		}
	}

	base, err := e.base(expr.Array)
	if err != nil {
		return nil, err
	}
	b, ok := base.ByteAt(index.Value)
	if !ok {
		if base.Strict {
			return nil, errors.Wrapf(ErrUninitializedRead, "%s @%s", base.Name, hex(index.Value))
		}
		e.Logger.Warn("uninitialized read", log.Space(base.Name), log.Addr(index.Value))
	}
	return NewConstantExpr(uint64(b), Width8), nil
}

func (e *ExprEvaluator) base(a *Array) (*AddressSpace, error) {
	if space, ok := e.Arrays[a.ID()]; ok {
		return space, nil
	}
	return nil, errors.Wrapf(ErrUnresolvedAddressSpace, "unbound array %s", a.Reg)
}

// EvaluateArray returns a copy of the array's base space with every update
// applied.
func (e *ExprEvaluator) EvaluateArray(a *Array) (*AddressSpace, error) {
	base, err := e.base(a)
	if err != nil {
		return nil, err
	}

	var updates []*ArrayUpdate
	for upd := a.Updates; upd != nil; upd = upd.Next {
		updates = append(updates, upd)
	}

	space := base.Clone()
	for i := len(updates) - 1; i >= 0; i-- {
		index, err := e.Evaluate(updates[i].Index)
		if err != nil {
			return nil, err
		}
		value, err := e.Evaluate(updates[i].Value)
		if err != nil {
			return nil, err
		}
		if err := space.SetByte(index.Value, byte(value.Uint64())); err != nil {
			return nil, err
		}
	}
	return space, nil
}

// Simulator executes a translated graph concretely.
type Simulator struct {
	prog    *Program
	graph   *Graph
	visited intsets.Sparse

	// Maximum number of blocks to execute per run. Zero means no limit.
	MaxBlocks int

	// If set, print statements are written here.
	Output io.Writer

	Logger *log.Logger
}

// NewSimulator returns a simulator for a graph translated from p.
func NewSimulator(p *Program, g *Graph) *Simulator {
	return &Simulator{prog: p, graph: g, Logger: log.NewNop()}
}

// Graph returns the graph being simulated.
func (sim *Simulator) Graph() *Graph { return sim.graph }

// Visited returns the ids of every block executed so far, in ascending order.
func (sim *Simulator) Visited() []int { return sim.visited.AppendTo(nil) }

// evaluator returns an evaluator bound to the registers held in s.
func (sim *Simulator) evaluator(s *SimState) *ExprEvaluator {
	g := sim.graph
	e := NewExprEvaluator()
	e.Logger = sim.Logger
	for id, v := range s.Values {
		e.Values[id] = v
	}
	e.Values[g.PC.ID] = NewBigConstantExpr(s.PC, g.AddrWidth)
	e.Arrays[g.Registers.ID] = s.Registers
	e.Arrays[g.RAM.ID] = s.RAM
	return e
}

// assign sets a register in s.
func (sim *Simulator) assign(e *ExprEvaluator, s *SimState, reg *Reg, value Binding) error {
	g := sim.graph
	if reg.Array {
		a, ok := value.(*Array)
		if !ok {
			return errors.Errorf("pcode: assign %T to array register %s", value, reg)
		}
		space, err := e.EvaluateArray(a)
		if err != nil {
			return err
		}
		switch reg.ID {
		case g.Registers.ID:
			s.Registers = space
		case g.RAM.ID:
			s.RAM = space
		default:
			return errors.Errorf("pcode: unknown array register %s", reg)
		}
		return nil
	}

	expr, ok := value.(Expr)
	if !ok {
		return errors.Errorf("pcode: assign %T to register %s", value, reg)
	}
	v, err := e.Evaluate(expr)
	if err != nil {
		return err
	}
	if reg.ID == g.PC.ID {
		s.PC = new(big.Int).Set(v.Value)
	} else {
		s.Values[reg.ID] = v
	}
	return nil
}

// Run executes the graph from its entry block until it returns and
// returns the final state. The input state is not modified.
func (sim *Simulator) Run(state *SimState) (*SimState, error) {
	g := sim.graph
	s := state.Clone()

	for b, n := g.Entry, 0; ; n++ {
		if sim.MaxBlocks > 0 && n >= sim.MaxBlocks {
			return s, errors.Wrapf(ErrStepLimit, "%d blocks", n)
		}
		sim.visited.Insert(b.ID)

		// Every statement & terminator reads the state as of block entry.
		e := sim.evaluator(s)
		next := s.Clone()
		for _, stmt := range b.Stmts {
			switch stmt := stmt.(type) {
			case *PrintStmt:
				sim.print(b, stmt.Message)
			case *AssignStmt:
				if err := sim.assign(e, next, stmt.Reg, stmt.Value); err != nil {
					return s, errors.Wrapf(err, "block %d", b.ID)
				}
			}
		}

		switch term := b.Term.(type) {
		case *JumpTerm:
			b = term.Target
		case *BranchTerm:
			cond, err := e.Evaluate(term.Cond)
			if err != nil {
				return s, errors.Wrapf(err, "block %d", b.ID)
			}
			if cond.IsTrue() {
				b = term.Then
			} else {
				b = term.Else
			}
		case *ConcreteBranchTerm:
			if _, err := e.Evaluate(term.Value); err != nil {
				return s, errors.Wrapf(err, "block %d", b.ID)
			}
			b = term.Concrete
		case *ReturnTerm:
			return sim.returnState(e, next, term)
		default:
			return s, errors.Errorf("pcode: block %d has no terminator", b.ID)
		}
		s = next
	}
}

func (sim *Simulator) returnState(e *ExprEvaluator, s *SimState, term *ReturnTerm) (*SimState, error) {
	g := sim.graph
	if len(term.Values) != 3 {
		return nil, errors.Errorf("pcode: return tuple has %d values", len(term.Values))
	}
	for i, reg := range []*Reg{g.PC, g.Registers, g.RAM} {
		if err := sim.assign(e, s, reg, term.Values[i]); err != nil {
			return nil, err
		}
	}
	sim.Logger.Debug("return", log.Addr(s.PC))
	return s, nil
}

func (sim *Simulator) print(b *Block, msg string) {
	sim.Logger.Info("print", zap.Int("block", b.ID), zap.String("msg", strings.TrimRight(msg, "\n")))
	if sim.Output != nil {
		fmt.Fprint(sim.Output, msg)
	}
}

// CallFunction runs a function through an ABI call frame and returns the
// final state and the values of the return registers.
func (sim *Simulator) CallFunction(abi *ABI, state *SimState, name string, returnAddr *big.Int, args ...*big.Int) (*SimState, []*big.Int, error) {
	f, ok := sim.prog.Function(abi.Mangle(name))
	if !ok {
		if f, ok = sim.prog.Function(name); !ok {
			return nil, nil, errors.Wrapf(ErrUnknownFunction, "%q", name)
		}
	}
	if f.Entry.Size == 0 {
		return nil, nil, errors.Wrapf(ErrOutOfRange, "function %q has no address", f.Name)
	}

	s := state.Clone()
	if err := abi.SetupCallFrame(s, returnAddr, args...); err != nil {
		return nil, nil, err
	}
	s.PC = new(big.Int).Set(f.Entry.Offset)

	sim.Logger.Info("call", log.Fn(f.Name), log.Addr(f.Entry.Offset), zap.Int("args", len(args)))
	out, err := sim.Run(s)
	if err != nil {
		return out, nil, err
	}
	if out.PC.Cmp(returnAddr) != 0 {
		sim.Logger.Warn("function did not return to caller", log.Fn(f.Name), log.Addr(out.PC))
	}

	rets, err := abi.ExtractCallReturns(out)
	if err != nil {
		return out, nil, err
	}
	return out, rets, nil
}
