package pcode

import (
	"fmt"
	"strings"
)

// Binding is anything a CFG register can hold: a bitvector expression,
// a byte array, or a tuple of those.
type Binding interface {
	binding()
	String() string
}

func (*Array) binding()        {}
func (*BinaryExpr) binding()   {}
func (*CastExpr) binding()     {}
func (*ConcatExpr) binding()   {}
func (*ConstantExpr) binding() {}
func (*ExtractExpr) binding()  {}
func (*NotExpr) binding()      {}
func (*RegExpr) binding()      {}
func (*SelectExpr) binding()   {}
func (Tuple) binding()         {}

// Expr is a symbolic bitvector of fixed width.
type Expr interface {
	Binding
	expr()
}

func (*BinaryExpr) expr()   {}
func (*CastExpr) expr()     {}
func (*ConcatExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*NotExpr) expr()      {}
func (*RegExpr) expr()      {}
func (*SelectExpr) expr()   {}

// ExprWidth returns the width of expr in bits.
func ExprWidth(expr Expr) uint {
	switch e := expr.(type) {
	case *ConstantExpr:
		return e.Width
	case *ExtractExpr:
		return e.Width
	case *CastExpr:
		return e.Width
	case *RegExpr:
		return e.Reg.Width
	case *SelectExpr:
		return Width8
	case *NotExpr:
		return ExprWidth(e.Expr)
	case *ConcatExpr:
		return ExprWidth(e.MSB) + ExprWidth(e.LSB)
	case *BinaryExpr:
		if e.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(e.LHS)
	}
	panic("unreachable")
}

func isBoolExpr(expr Expr) bool { return ExprWidth(expr) == WidthBool }

// BinaryOp identifies the operator of a BinaryExpr.
type BinaryOp int

const (
	ADD BinaryOp = iota + 1
	SUB
	MUL
	UDIV
	SDIV
	UREM
	SREM
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR

	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
)

type opTraits struct {
	name     string
	compare  bool
	division bool
}

var binaryOps = [...]opTraits{
	ADD:  {name: "add"},
	SUB:  {name: "sub"},
	MUL:  {name: "mul"},
	UDIV: {name: "udiv", division: true},
	SDIV: {name: "sdiv", division: true},
	UREM: {name: "urem", division: true},
	SREM: {name: "srem", division: true},
	AND:  {name: "and"},
	OR:   {name: "or"},
	XOR:  {name: "xor"},
	SHL:  {name: "shl"},
	LSHR: {name: "lshr"},
	ASHR: {name: "ashr"},
	EQ:   {name: "eq", compare: true},
	NE:   {name: "ne", compare: true},
	ULT:  {name: "ult", compare: true},
	ULE:  {name: "ule", compare: true},
	UGT:  {name: "ugt", compare: true},
	UGE:  {name: "uge", compare: true},
	SLT:  {name: "slt", compare: true},
	SLE:  {name: "sle", compare: true},
	SGT:  {name: "sgt", compare: true},
	SGE:  {name: "sge", compare: true},
}

func (op BinaryOp) traits() (opTraits, bool) {
	if op <= 0 || int(op) >= len(binaryOps) {
		return opTraits{}, false
	}
	t := binaryOps[op]
	return t, t.name != ""
}

// String returns the lowercase operator name.
func (op BinaryOp) String() string {
	if t, ok := op.traits(); ok {
		return t.name
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsArithmetic reports whether op produces a value of its operand width.
func (op BinaryOp) IsArithmetic() bool {
	t, ok := op.traits()
	return ok && !t.compare
}

// IsCompare reports whether op produces a boolean.
func (op BinaryOp) IsCompare() bool {
	t, ok := op.traits()
	return ok && t.compare
}

// IsDivision reports whether op fails on a zero divisor.
func (op BinaryOp) IsDivision() bool {
	t, ok := op.traits()
	return ok && t.division
}

// mirror returns the operator that gives the same result with the
// operands exchanged, for the greater-than family.
func (op BinaryOp) mirror() (BinaryOp, bool) {
	switch op {
	case UGT:
		return ULT, true
	case UGE:
		return ULE, true
	case SGT:
		return SLT, true
	case SGE:
		return SLE, true
	}
	return op, false
}

// BinaryExpr applies Op to two operands of equal width.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// SelectExpr reads one byte of an array at a symbolic index.
type SelectExpr struct {
	Array *Array
	Index Expr
}

// NewSelectExpr returns a read of a at index.
func NewSelectExpr(a *Array, index Expr) Expr {
	return &SelectExpr{Array: a, Index: index}
}

func (e *SelectExpr) String() string {
	return fmt.Sprintf("(select %s %s)", e.Array, e.Index)
}

// ConcatExpr joins MSB above LSB.
type ConcatExpr struct {
	MSB Expr
	LSB Expr
}

// NewConcatExpr returns msb:lsb. Constants are joined directly and two
// adjacent slices of the same expression collapse into one slice.
func NewConcatExpr(msb, lsb Expr) Expr {
	switch hi := msb.(type) {
	case *ConstantExpr:
		if lo, ok := lsb.(*ConstantExpr); ok {
			return hi.Concat(lo)
		}
	case *ExtractExpr:
		lo, ok := lsb.(*ExtractExpr)
		if ok && lo.Offset+lo.Width == hi.Offset && CompareExpr(hi.Expr, lo.Expr) == 0 {
			return NewExtractExpr(hi.Expr, lo.Offset, hi.Width+lo.Width)
		}
	}
	return &ConcatExpr{MSB: msb, LSB: lsb}
}

func (e *ConcatExpr) String() string {
	return fmt.Sprintf("(concat %s %s)", e.MSB, e.LSB)
}

// ExtractExpr is the slice [Offset, Offset+Width) of Expr.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Width  uint
}

// NewExtractExpr returns width bits of expr starting at bit offset. The
// slice is pushed through concatenations, nested slices and casts.
func NewExtractExpr(expr Expr, offset uint, width uint) Expr {
	src := ExprWidth(expr)
	assert(width > 0, "extract width cannot be zero")
	assert(offset+width <= src, "extract out of bounds: %d+%d > %d", offset, width, src)

	if width == src {
		return expr
	}

	switch e := expr.(type) {
	case *ConstantExpr:
		return e.Extract(offset, width)

	case *ExtractExpr:
		return NewExtractExpr(e.Expr, e.Offset+offset, width)

	case *ConcatExpr:
		split := ExprWidth(e.LSB)
		switch {
		case offset >= split:
			return NewExtractExpr(e.MSB, offset-split, width)
		case offset+width <= split:
			return NewExtractExpr(e.LSB, offset, width)
		}
		return NewConcatExpr(
			NewExtractExpr(e.MSB, 0, offset+width-split),
			NewExtractExpr(e.LSB, offset, split-offset),
		)

	case *CastExpr:
		if offset+width <= ExprWidth(e.Src) {
			return NewExtractExpr(e.Src, offset, width)
		}
	}
	return &ExtractExpr{Expr: expr, Offset: offset, Width: width}
}

func (e *ExtractExpr) String() string {
	return fmt.Sprintf("(extract %s %d %d)", e.Expr, e.Offset, e.Width)
}

// NotExpr is the bitwise complement of Expr.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns ^expr.
func NewNotExpr(expr Expr) Expr {
	if c, ok := expr.(*ConstantExpr); ok {
		return c.Not()
	} else if inner, ok := expr.(*NotExpr); ok {
		return inner.Expr
	}
	return &NotExpr{Expr: expr}
}

func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// CastExpr widens Src to Width bits with zero or sign fill.
type CastExpr struct {
	Src    Expr
	Width  uint
	Signed bool
}

// NewCastExpr resizes src to width bits. Narrowing becomes a slice of
// the low bits.
func NewCastExpr(src Expr, width uint, signed bool) Expr {
	switch from := ExprWidth(src); {
	case width == from:
		return src
	case width < from:
		return NewExtractExpr(src, 0, width)
	}

	if c, ok := src.(*ConstantExpr); ok {
		if signed {
			return c.SExt(width)
		}
		return c.ZExt(width)
	}
	return &CastExpr{Src: src, Width: width, Signed: signed}
}

func zeroExtend(src Expr, width uint) Expr { return NewCastExpr(src, width, false) }

func (e *CastExpr) String() string {
	op := "zext"
	if e.Signed {
		op = "sext"
	}
	return fmt.Sprintf("(%s %s %d)", op, e.Src, e.Width)
}

// RegExpr is a bitvector register's value on entry to the block reading it.
type RegExpr struct {
	Reg *Reg
}

// NewRegExpr returns the entry value of reg.
func NewRegExpr(reg *Reg) *RegExpr {
	assert(!reg.Array, "reg expr: %s is an array register", reg)
	return &RegExpr{Reg: reg}
}

func (e *RegExpr) String() string {
	return fmt.Sprintf("(reg %s)", e.Reg.Name)
}

// Tuple groups several bindings, such as the state of every register.
type Tuple []Binding

func (a Tuple) String() string {
	parts := make([]string, len(a))
	for i, b := range a {
		parts[i] = b.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
