package pcode

import (
	"fmt"
	"math/big"
)

// ConstantExpr is a concrete bitvector. Value always lies in [0, 2^Width).
type ConstantExpr struct {
	Value *big.Int
	Width uint
}

// NewConstantExpr returns value as a width-bit constant.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	return NewBigConstantExpr(new(big.Int).SetUint64(value), width)
}

// NewBigConstantExpr returns value reduced to width bits. Negative values
// wrap to two's complement.
func NewBigConstantExpr(value *big.Int, width uint) *ConstantExpr {
	return &ConstantExpr{Value: truncate(value, width), Width: width}
}

func NewConstantExpr8(value uint64) *ConstantExpr  { return NewConstantExpr(value, Width8) }
func NewConstantExpr16(value uint64) *ConstantExpr { return NewConstantExpr(value, Width16) }
func NewConstantExpr32(value uint64) *ConstantExpr { return NewConstantExpr(value, Width32) }
func NewConstantExpr64(value uint64) *ConstantExpr { return NewConstantExpr(value, Width64) }

// NewBoolConstantExpr returns a one-bit constant.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	var v uint64
	if value {
		v = 1
	}
	return NewConstantExpr(v, WidthBool)
}

func (e *ConstantExpr) String() string {
	return fmt.Sprintf("(const %s %d)", e.Value, e.Width)
}

// Uint64 returns the low 64 bits of the value.
func (e *ConstantExpr) Uint64() uint64 { return e.Value.Uint64() }

// Signed returns the value read as two's complement.
func (e *ConstantExpr) Signed() *big.Int { return toSigned(e.Value, e.Width) }

func (e *ConstantExpr) IsTrue() bool  { return e.Width == WidthBool && !e.IsZero() }
func (e *ConstantExpr) IsFalse() bool { return e.Width == WidthBool && e.IsZero() }
func (e *ConstantExpr) IsZero() bool  { return e.Value.Sign() == 0 }

// IsAllOnes reports whether every bit is set.
func (e *ConstantExpr) IsAllOnes() bool {
	return e.Value.Cmp(bitmask(e.Width)) == 0
}

func (e *ConstantExpr) isOne() bool { return e.Value.Cmp(big.NewInt(1)) == 0 }

// Apply evaluates op over e and other. Comparisons return a boolean
// constant. Shift counts at or past the width shift every bit out. A zero
// divisor panics; callers check IsDivision first.
func (e *ConstantExpr) Apply(op BinaryOp, other *ConstantExpr) *ConstantExpr {
	if op.IsCompare() {
		assert(e.Width == other.Width, "%s: width mismatch: %d != %d", op, e.Width, other.Width)
		return NewBoolConstantExpr(e.holds(op, other))
	}

	v := new(big.Int)
	switch op {
	case SHL:
		return NewBigConstantExpr(v.Lsh(e.Value, e.shiftCount(other)), e.Width)
	case LSHR:
		return NewBigConstantExpr(v.Rsh(e.Value, e.shiftCount(other)), e.Width)
	case ASHR:
		return NewBigConstantExpr(v.Rsh(e.Signed(), e.shiftCount(other)), e.Width)
	}

	assert(e.Width == other.Width, "%s: width mismatch: %d != %d", op, e.Width, other.Width)
	assert(!op.IsDivision() || !other.IsZero(), "%s: divide by zero", op)

	x, y := e.Value, other.Value
	switch op {
	case ADD:
		v.Add(x, y)
	case SUB:
		v.Sub(x, y)
	case MUL:
		v.Mul(x, y)
	case UDIV:
		v.Quo(x, y)
	case UREM:
		v.Rem(x, y)
	case SDIV:
		v.Quo(e.Signed(), other.Signed())
	case SREM:
		v.Rem(e.Signed(), other.Signed())
	case AND:
		v.And(x, y)
	case OR:
		v.Or(x, y)
	case XOR:
		v.Xor(x, y)
	default:
		panic(fmt.Sprintf("constant: unsupported operator %s", op))
	}
	return NewBigConstantExpr(v, e.Width)
}

// holds evaluates the comparison op.
func (e *ConstantExpr) holds(op BinaryOp, other *ConstantExpr) bool {
	var c int
	switch op {
	case SLT, SLE, SGT, SGE:
		c = e.Signed().Cmp(other.Signed())
	default:
		c = e.Value.Cmp(other.Value)
	}

	switch op {
	case EQ:
		return c == 0
	case NE:
		return c != 0
	case ULT, SLT:
		return c < 0
	case ULE, SLE:
		return c <= 0
	case UGT, SGT:
		return c > 0
	default:
		return c >= 0
	}
}

// shiftCount returns other as a bit count, capped at the width of e.
func (e *ConstantExpr) shiftCount(other *ConstantExpr) uint {
	if !other.Value.IsUint64() || other.Value.Uint64() >= uint64(e.Width) {
		return e.Width
	}
	return uint(other.Value.Uint64())
}

// ZExt resizes e with zero fill. A smaller width truncates.
func (e *ConstantExpr) ZExt(width uint) *ConstantExpr {
	if width == e.Width {
		return e
	}
	return NewBigConstantExpr(e.Value, width)
}

// SExt resizes e with sign fill. A smaller width truncates.
func (e *ConstantExpr) SExt(width uint) *ConstantExpr {
	if width == e.Width {
		return e
	}
	return NewBigConstantExpr(e.Signed(), width)
}

func (e *ConstantExpr) Not() *ConstantExpr {
	return NewBigConstantExpr(new(big.Int).Not(e.Value), e.Width)
}

// Extract returns bits [offset, offset+width).
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	return NewBigConstantExpr(new(big.Int).Rsh(e.Value, offset), width)
}

// Concat places e above lsb.
func (e *ConstantExpr) Concat(lsb *ConstantExpr) *ConstantExpr {
	v := new(big.Int).Lsh(e.Value, lsb.Width)
	return NewBigConstantExpr(v.Or(v, lsb.Value), e.Width+lsb.Width)
}

// IsConstantExpr reports whether expr is concrete.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue reports whether expr is the boolean constant true.
func IsConstantTrue(expr Expr) bool {
	c, ok := expr.(*ConstantExpr)
	return ok && c.IsTrue()
}

// IsConstantFalse reports whether expr is the boolean constant false.
func IsConstantFalse(expr Expr) bool {
	c, ok := expr.(*ConstantExpr)
	return ok && c.IsFalse()
}

// bothConstant returns lhs and rhs as constants if both are concrete.
func bothConstant(lhs, rhs Expr) (*ConstantExpr, *ConstantExpr, bool) {
	a, ok := lhs.(*ConstantExpr)
	if !ok {
		return nil, nil, false
	}
	b, ok := rhs.(*ConstantExpr)
	return a, b, ok
}
