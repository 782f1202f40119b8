package pcode

import (
	"math/big"

	"github.com/pkg/errors"
)

// spaceManager translates accesses to one address space into CFG
// expressions against a block writer.
type spaceManager interface {
	loadDirect(w *blockWriter, offset *big.Int, size int) (Expr, error)
	storeDirect(w *blockWriter, offset *big.Int, size int, value Expr) error
	loadIndirect(w *blockWriter, ptr Expr, size int) (Expr, error)
	storeIndirect(w *blockWriter, ptr Expr, value Expr) error
}

// constSpace synthesizes constants from varnode offsets.
type constSpace struct{}

func (constSpace) loadDirect(w *blockWriter, offset *big.Int, size int) (Expr, error) {
	width := uint(size) * 8
	if offset.Sign() < 0 || uint(offset.BitLen()) > width {
		return nil, errors.Wrapf(ErrOutOfRange, "constant does not fit in claimed bit width: %s:%d", hex(offset), width)
	}
	return NewBigConstantExpr(offset, width), nil
}

func (constSpace) storeDirect(w *blockWriter, offset *big.Int, size int, value Expr) error {
	return errors.Wrapf(ErrInvalidWrite, "write to const space @%s", hex(offset))
}

func (constSpace) loadIndirect(w *blockWriter, ptr Expr, size int) (Expr, error) {
	return nil, errors.New("pcode: indirect load from const space")
}

func (constSpace) storeIndirect(w *blockWriter, ptr Expr, value Expr) error {
	return errors.Wrap(ErrInvalidWrite, "indirect write to const space")
}

// arraySpace maps a byte-addressable space onto an array register.
type arraySpace struct {
	name     string
	reg      *Reg
	indirect bool // allow computed addresses
}

func (s *arraySpace) addr(w *blockWriter, offset *big.Int) Expr {
	return NewBigConstantExpr(offset, w.g.AddrWidth)
}

func (s *arraySpace) loadDirect(w *blockWriter, offset *big.Int, size int) (Expr, error) {
	return w.readArray(s.reg).Select(s.addr(w, offset), uint(size)*8, w.g.BigEndian), nil
}

func (s *arraySpace) storeDirect(w *blockWriter, offset *big.Int, size int, value Expr) error {
	if ExprWidth(value) != uint(size)*8 {
		return errors.Wrapf(ErrSizeMismatch, "store %d bits into %s:%d", ExprWidth(value), s.name, size)
	}
	w.write(s.reg, w.readArray(s.reg).Store(s.addr(w, offset), value, w.g.BigEndian))
	return nil
}

// pointer adjusts a computed address to the address width. Pointers wider
// than an address are rejected.
func (s *arraySpace) pointer(w *blockWriter, ptr Expr) (Expr, error) {
	if !s.indirect {
		return nil, errors.Errorf("pcode: indirect access to %s space", s.name)
	} else if width := ExprWidth(ptr); width > w.g.AddrWidth {
		return nil, errors.Wrapf(ErrSizeMismatch, "%d-bit pointer into %s space exceeds address width %d", width, s.name, w.g.AddrWidth)
	}
	return zeroExtend(ptr, w.g.AddrWidth), nil
}

func (s *arraySpace) loadIndirect(w *blockWriter, ptr Expr, size int) (Expr, error) {
	ptr, err := s.pointer(w, ptr)
	if err != nil {
		return nil, err
	}
	return w.readArray(s.reg).Select(ptr, uint(size)*8, w.g.BigEndian), nil
}

func (s *arraySpace) storeIndirect(w *blockWriter, ptr Expr, value Expr) error {
	ptr, err := s.pointer(w, ptr)
	if err != nil {
		return err
	}
	w.write(s.reg, w.readArray(s.reg).Store(ptr, value, w.g.BigEndian))
	return nil
}

// tempSpace holds each temporary in its own bitvector register. Registers
// are forgotten between P-Code basic blocks.
type tempSpace struct {
	g    *Graph
	regs map[string]*Reg // keyed by offset
}

func newTempSpace(g *Graph) *tempSpace {
	return &tempSpace{g: g, regs: make(map[string]*Reg)}
}

// clear forgets every temporary.
func (s *tempSpace) clear() {
	s.regs = make(map[string]*Reg)
}

// reg returns the register for the temporary at offset.
func (s *tempSpace) reg(offset *big.Int, size int) (*Reg, error) {
	width := uint(size) * 8
	key := offset.String()
	if r, ok := s.regs[key]; ok {
		if r.Width != width {
			return nil, errors.Wrapf(ErrSizeMismatch, "temporary used at inconsistent sizes: %s: %d != %d", hex(offset), r.Width, width)
		}
		return r, nil
	}
	r := s.g.newReg("tmp"+hex(offset), width, false)
	s.regs[key] = r
	return r, nil
}

func (s *tempSpace) loadDirect(w *blockWriter, offset *big.Int, size int) (Expr, error) {
	r, err := s.reg(offset, size)
	if err != nil {
		return nil, err
	}
	return w.read(r), nil
}

func (s *tempSpace) storeDirect(w *blockWriter, offset *big.Int, size int, value Expr) error {
	r, err := s.reg(offset, size)
	if err != nil {
		return err
	} else if ExprWidth(value) != r.Width {
		return errors.Wrapf(ErrSizeMismatch, "store %d bits into temporary %s:%d", ExprWidth(value), hex(offset), size)
	}
	w.write(r, value)
	return nil
}

func (s *tempSpace) loadIndirect(w *blockWriter, ptr Expr, size int) (Expr, error) {
	return nil, errors.New("pcode: indirect access to temporary space")
}

func (s *tempSpace) storeIndirect(w *blockWriter, ptr Expr, value Expr) error {
	return errors.New("pcode: indirect access to temporary space")
}
