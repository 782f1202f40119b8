package pcode

import (
	"cmp"
	"sort"
)

// exprRank orders expression kinds for CompareExpr.
func exprRank(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *RegExpr:
		return 2
	case *SelectExpr:
		return 3
	case *ConcatExpr:
		return 4
	case *ExtractExpr:
		return 5
	case *NotExpr:
		return 6
	case *CastExpr:
		return 7
	case *BinaryExpr:
		return 8
	}
	panic("unreachable")
}

// compareNil orders nil before non-nil. The second result is false when
// both values are non-nil and need a real comparison.
func compareNil(aNil, bNil bool) (int, bool) {
	switch {
	case aNil && bNil:
		return 0, true
	case aNil:
		return -1, true
	case bNil:
		return 1, true
	}
	return 0, false
}

// CompareExpr gives expressions a total structural order, returning -1, 0
// or +1. Two expressions compare equal only if they are the same tree.
func CompareExpr(a, b Expr) int {
	if c, done := compareNil(a == nil, b == nil); done {
		return c
	}
	if c := cmp.Compare(exprRank(a), exprRank(b)); c != 0 {
		return c
	}

	switch x := a.(type) {
	case *ConstantExpr:
		y := b.(*ConstantExpr)
		if c := cmp.Compare(x.Width, y.Width); c != 0 {
			return c
		}
		return x.Value.Cmp(y.Value)

	case *RegExpr:
		return cmp.Compare(x.Reg.ID, b.(*RegExpr).Reg.ID)

	case *SelectExpr:
		y := b.(*SelectExpr)
		if c := CompareExpr(x.Index, y.Index); c != 0 {
			return c
		}
		return CompareArray(x.Array, y.Array)

	case *ConcatExpr:
		y := b.(*ConcatExpr)
		if c := CompareExpr(x.MSB, y.MSB); c != 0 {
			return c
		}
		return CompareExpr(x.LSB, y.LSB)

	case *ExtractExpr:
		y := b.(*ExtractExpr)
		if c := cmp.Compare(x.Offset, y.Offset); c != 0 {
			return c
		} else if c := cmp.Compare(x.Width, y.Width); c != 0 {
			return c
		}
		return CompareExpr(x.Expr, y.Expr)

	case *NotExpr:
		return CompareExpr(x.Expr, b.(*NotExpr).Expr)

	case *CastExpr:
		y := b.(*CastExpr)
		if x.Signed != y.Signed {
			if x.Signed {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(x.Width, y.Width); c != 0 {
			return c
		}
		return CompareExpr(x.Src, y.Src)

	case *BinaryExpr:
		y := b.(*BinaryExpr)
		if c := cmp.Compare(x.Op, y.Op); c != 0 {
			return c
		} else if c := CompareExpr(x.LHS, y.LHS); c != 0 {
			return c
		}
		return CompareExpr(x.RHS, y.RHS)
	}
	panic("unreachable")
}

// ExprVisitor is called by WalkExpr for each node.
type ExprVisitor interface {
	// Visit returns the node to put in place of expr and the visitor for
	// its children. A nil visitor skips the children.
	Visit(expr Expr) (Expr, ExprVisitor)
}

// operands returns pointers to the child slots of expr.
func operands(expr Expr) []*Expr {
	switch e := expr.(type) {
	case *ConstantExpr, *RegExpr:
		return nil
	case *BinaryExpr:
		return []*Expr{&e.LHS, &e.RHS}
	case *ConcatExpr:
		return []*Expr{&e.MSB, &e.LSB}
	case *CastExpr:
		return []*Expr{&e.Src}
	case *ExtractExpr:
		return []*Expr{&e.Expr}
	case *NotExpr:
		return []*Expr{&e.Expr}
	case *SelectExpr:
		return []*Expr{&e.Index}
	}
	panic("unreachable")
}

// WalkExpr visits expr and then its children depth-first, replacing each
// child with what the walk returns. A select also walks the indexes and
// values of its array's updates.
func WalkExpr(v ExprVisitor, expr Expr) Expr {
	replacement, child := v.Visit(expr)
	if child == nil {
		return replacement
	}

	for _, slot := range operands(expr) {
		*slot = WalkExpr(child, *slot)
	}
	if sel, ok := expr.(*SelectExpr); ok {
		walkUpdates(child, sel.Array)
	}
	return replacement
}

func walkUpdates(v ExprVisitor, a *Array) {
	for upd := a.Updates; upd != nil; upd = upd.Next {
		upd.Index = WalkExpr(v, upd.Index)
		upd.Value = WalkExpr(v, upd.Value)
	}
}

// FindRegs returns the registers the bindings read on block entry,
// ordered by id.
func FindRegs(bindings ...Binding) []*Reg {
	c := regCollector{}
	for _, b := range bindings {
		c.collect(b)
	}

	regs := make([]*Reg, 0, len(c))
	for _, reg := range c {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].ID < regs[j].ID })
	return regs
}

// regCollector records registers by id as an ExprVisitor.
type regCollector map[int]*Reg

func (c regCollector) collect(b Binding) {
	switch b := b.(type) {
	case Tuple:
		for _, elem := range b {
			c.collect(elem)
		}
	case *Array:
		c.addArray(b)
		walkUpdates(c, b)
	case Expr:
		WalkExpr(c, b)
	}
}

func (c regCollector) addArray(a *Array) {
	if a.Reg != nil {
		c[a.Reg.ID] = a.Reg
	}
}

func (c regCollector) Visit(expr Expr) (Expr, ExprVisitor) {
	if r, ok := expr.(*RegExpr); ok {
		c[r.Reg.ID] = r.Reg
	} else if s, ok := expr.(*SelectExpr); ok {
		c.addArray(s.Array)
	}
	return expr, c
}
