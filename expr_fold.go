package pcode

// foldFunc simplifies op applied to lhs and rhs. Every fold ends in
// either a smaller expression or a plain BinaryExpr node.
type foldFunc func(op BinaryOp, lhs, rhs Expr) Expr

var folds [len(binaryOps)]foldFunc

func init() {
	folds[ADD] = foldAdd
	folds[SUB] = foldSub
	folds[MUL] = foldMul
	for _, op := range []BinaryOp{UDIV, SDIV, UREM, SREM} {
		folds[op] = foldDivision
	}
	folds[AND] = foldMask
	folds[OR] = foldMask
	folds[XOR] = foldXor
	for _, op := range []BinaryOp{SHL, LSHR, ASHR} {
		folds[op] = foldShift
	}
	folds[EQ] = foldEq
	for _, op := range []BinaryOp{ULT, ULE, SLT, SLE} {
		folds[op] = foldOrder
	}
}

// NewBinaryExpr returns op applied to lhs and rhs, simplified where the
// operands allow. The greater-than family is rewritten with swapped
// operands and NE becomes a negated EQ, so only one form of each
// comparison is ever built.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if m, ok := op.mirror(); ok {
		op, lhs, rhs = m, rhs, lhs
	} else if op == NE {
		return NewIsZeroExpr(NewBinaryExpr(EQ, lhs, rhs))
	}

	if _, ok := op.traits(); !ok || folds[op] == nil {
		panic("unreachable")
	}
	return folds[op](op, lhs, rhs)
}

// NewIsZeroExpr returns the boolean expr == 0.
func NewIsZeroExpr(expr Expr) Expr {
	return NewBinaryExpr(EQ, expr, NewConstantExpr(0, ExprWidth(expr)))
}

// NewIsNonzeroExpr returns the boolean expr != 0.
func NewIsNonzeroExpr(expr Expr) Expr {
	return NewIsZeroExpr(NewIsZeroExpr(expr))
}

func binary(op BinaryOp, lhs, rhs Expr) *BinaryExpr {
	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// constantFirst moves a lone constant operand to the left.
func constantFirst(lhs, rhs Expr) (Expr, Expr) {
	if IsConstantExpr(rhs) && !IsConstantExpr(lhs) {
		return rhs, lhs
	}
	return lhs, rhs
}

// constantLast moves a lone constant operand to the right.
func constantLast(lhs, rhs Expr) (Expr, Expr) {
	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		return rhs, lhs
	}
	return lhs, rhs
}

// offsetOf matches K+x or K-x with a constant K.
func offsetOf(expr Expr) (*BinaryExpr, bool) {
	b, ok := expr.(*BinaryExpr)
	if !ok || (b.Op != ADD && b.Op != SUB) || !IsConstantExpr(b.LHS) {
		return nil, false
	}
	return b, true
}

// inverse swaps addition and subtraction.
func inverse(op BinaryOp) BinaryOp {
	if op == ADD {
		return SUB
	}
	return ADD
}

// foldAdd keeps constants on the left and gathers them together so that
// chains of offsets reduce to a single K+x.
func foldAdd(op BinaryOp, lhs, rhs Expr) Expr {
	lhs, rhs = constantFirst(lhs, rhs)
	if isBoolExpr(lhs) {
		return NewBinaryExpr(XOR, lhs, rhs)
	}

	k, isConst := lhs.(*ConstantExpr)
	if isConst && k.IsZero() {
		return rhs
	}
	if a, b, ok := bothConstant(lhs, rhs); ok {
		return a.Apply(ADD, b)
	}

	if inner, ok := offsetOf(rhs); ok {
		if isConst { // K + (J±z) => (K+J) ± z
			return NewBinaryExpr(inner.Op, NewBinaryExpr(ADD, k, inner.LHS), inner.RHS)
		}
	}
	if inner, ok := offsetOf(lhs); ok {
		if inner.Op == ADD { // (K+y) + z => K + (y+z)
			return NewBinaryExpr(ADD, inner.LHS, NewBinaryExpr(ADD, inner.RHS, rhs))
		}
		// (K-y) + z => K + (z-y)
		return NewBinaryExpr(ADD, inner.LHS, NewBinaryExpr(SUB, rhs, inner.RHS))
	}
	if inner, ok := offsetOf(rhs); ok { // a + (K±b) => K + (a±b)
		return NewBinaryExpr(ADD, inner.LHS, NewBinaryExpr(inner.Op, lhs, inner.RHS))
	}
	return binary(ADD, lhs, rhs)
}

// foldSub turns x-K into (-K)+x and otherwise mirrors foldAdd.
func foldSub(op BinaryOp, lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantExpr(0, ExprWidth(lhs))
	}
	if a, b, ok := bothConstant(lhs, rhs); ok {
		return a.Apply(SUB, b)
	}
	if isBoolExpr(lhs) {
		return NewBinaryExpr(XOR, lhs, rhs)
	}

	k, isConst := lhs.(*ConstantExpr)
	if c, ok := rhs.(*ConstantExpr); ok && !isConst {
		neg := NewConstantExpr(0, c.Width).Apply(SUB, c)
		return NewBinaryExpr(ADD, neg, lhs)
	}

	if inner, ok := offsetOf(rhs); ok && isConst { // K - (J±z) => (K-J) ∓ z
		return NewBinaryExpr(inverse(inner.Op), NewBinaryExpr(SUB, k, inner.LHS), inner.RHS)
	}
	if inner, ok := offsetOf(lhs); ok { // (K±y) - z => K ± (y∓z)
		return NewBinaryExpr(inner.Op, inner.LHS, NewBinaryExpr(inverse(inner.Op), inner.RHS, rhs))
	}
	if inner, ok := offsetOf(rhs); ok { // x - (K±z) => (x∓z) - K
		return NewBinaryExpr(SUB, NewBinaryExpr(inverse(inner.Op), lhs, inner.RHS), inner.LHS)
	}
	return binary(SUB, lhs, rhs)
}

func foldMul(op BinaryOp, lhs, rhs Expr) Expr {
	lhs, rhs = constantFirst(lhs, rhs)
	if a, b, ok := bothConstant(lhs, rhs); ok {
		return a.Apply(MUL, b)
	}
	if isBoolExpr(lhs) {
		return NewBinaryExpr(AND, lhs, rhs)
	}

	if k, ok := lhs.(*ConstantExpr); ok {
		switch {
		case k.isOne():
			return rhs
		case k.IsZero():
			return k
		}
	}
	return binary(MUL, lhs, rhs)
}

// foldDivision leaves a constant zero divisor in place so evaluation can
// report it.
func foldDivision(op BinaryOp, lhs, rhs Expr) Expr {
	d, ok := rhs.(*ConstantExpr)
	if !ok {
		return binary(op, lhs, rhs)
	}
	if n, ok := lhs.(*ConstantExpr); ok && !d.IsZero() {
		return n.Apply(op, d)
	}
	if d.isOne() {
		if op == UDIV || op == SDIV {
			return lhs
		}
		return NewConstantExpr(0, d.Width)
	}
	return binary(op, lhs, rhs)
}

// foldMask handles AND and OR, where an all-zero or all-one operand either
// passes the other side through or decides the result.
func foldMask(op BinaryOp, lhs, rhs Expr) Expr {
	if a, b, ok := bothConstant(lhs, rhs); ok {
		return a.Apply(op, b)
	}

	lhs, rhs = constantLast(lhs, rhs)
	if k, ok := rhs.(*ConstantExpr); ok {
		identity, absorbing := k.IsAllOnes(), k.IsZero()
		if op == OR {
			identity, absorbing = absorbing, identity
		}
		switch {
		case identity:
			return lhs
		case absorbing:
			return k
		}
	}
	return binary(op, lhs, rhs)
}

func foldXor(op BinaryOp, lhs, rhs Expr) Expr {
	lhs, rhs = constantFirst(lhs, rhs)
	if k, ok := lhs.(*ConstantExpr); ok {
		if k.IsZero() {
			return rhs
		}
		if c, ok := rhs.(*ConstantExpr); ok {
			return k.Apply(XOR, c)
		}
	}
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantExpr(0, ExprWidth(lhs))
	}
	return binary(XOR, lhs, rhs)
}

// foldShift treats a one-bit value as surviving only a zero shift count.
func foldShift(op BinaryOp, lhs, rhs Expr) Expr {
	if a, b, ok := bothConstant(lhs, rhs); ok {
		return a.Apply(op, b)
	}
	if n, ok := rhs.(*ConstantExpr); ok && n.IsZero() {
		return lhs
	}
	if isBoolExpr(lhs) {
		if op == ASHR {
			return lhs
		}
		return NewBinaryExpr(AND, lhs, NewIsZeroExpr(rhs))
	}
	return binary(op, lhs, rhs)
}

// foldEq places the constant on the left and then narrows the comparison
// through the shape of the right side.
func foldEq(op BinaryOp, lhs, rhs Expr) Expr {
	lhs, rhs = constantFirst(lhs, rhs)

	if k, ok := lhs.(*ConstantExpr); ok {
		if c, ok := rhs.(*ConstantExpr); ok {
			return k.Apply(EQ, c)
		}
		switch r := rhs.(type) {
		case *BinaryExpr:
			if e := foldEqBinary(k, r); e != nil {
				return e
			}
		case *CastExpr:
			return foldEqCast(k, r)
		}
	}

	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolConstantExpr(true)
	}
	return binary(EQ, lhs, rhs)
}

// foldEqBinary simplifies k == r, returning nil if no rule applies.
func foldEqBinary(k *ConstantExpr, r *BinaryExpr) Expr {
	flag := k.Width == WidthBool

	switch r.Op {
	case EQ:
		if flag && k.IsTrue() { // true == p => p
			return r
		} else if flag && IsConstantFalse(r.LHS) { // false == (false == p) => p
			return r.RHS
		}
	case OR:
		if flag && k.IsTrue() {
			return r
		} else if flag { // false == (p|q) => !p & !q
			return NewBinaryExpr(AND, NewIsZeroExpr(r.LHS), NewIsZeroExpr(r.RHS))
		}
	case ADD:
		if IsConstantExpr(r.LHS) { // K == J+z => K-J == z
			return NewBinaryExpr(EQ, NewBinaryExpr(SUB, k, r.LHS), r.RHS)
		}
	case SUB:
		if IsConstantExpr(r.LHS) { // K == J-z => J-K == z
			return NewBinaryExpr(EQ, NewBinaryExpr(SUB, r.LHS, k), r.RHS)
		}
	}
	return nil
}

// foldEqCast compares against the uncast source when k survives a round
// trip through its width, and is false otherwise.
func foldEqCast(k *ConstantExpr, r *CastExpr) Expr {
	narrow := k.ZExt(ExprWidth(r.Src))
	widened := narrow.ZExt(k.Width)
	if r.Signed {
		widened = narrow.SExt(k.Width)
	}
	if CompareExpr(k, widened) != 0 {
		return NewBoolConstantExpr(false)
	}
	return NewBinaryExpr(EQ, r.Src, narrow)
}

// foldOrder handles ULT, ULE, SLT and SLE. On one-bit operands the
// signed forms see true as -1.
func foldOrder(op BinaryOp, lhs, rhs Expr) Expr {
	if a, b, ok := bothConstant(lhs, rhs); ok {
		return a.Apply(op, b)
	}
	if !isBoolExpr(lhs) {
		return binary(op, lhs, rhs)
	}

	switch op {
	case ULT: // !p & q
		return NewBinaryExpr(AND, NewIsZeroExpr(lhs), rhs)
	case ULE: // !p | q
		return NewBinaryExpr(OR, NewIsZeroExpr(lhs), rhs)
	case SLT: // p & !q
		return NewBinaryExpr(AND, lhs, NewIsZeroExpr(rhs))
	default: // p | !q
		return NewBinaryExpr(OR, lhs, NewIsZeroExpr(rhs))
	}
}
