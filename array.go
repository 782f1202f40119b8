package pcode

import (
	"cmp"
	"fmt"
)

// Array is byte-addressable memory held in an array register, such as
// the register file or RAM, as seen by the translator.
//
// With no updates it stands for the register's value on entry to the
// block that reads it. Updates are chained newest first and shared
// between copies.
type Array struct {
	Reg       *Reg
	AddrWidth uint         // index width, in bits
	Updates   *ArrayUpdate // newest first
}

// NewArray returns the block-entry value of an array register.
func NewArray(reg *Reg, addrWidth uint) *Array {
	assert(reg.Array, "array: %s is not an array register", reg)
	return &Array{Reg: reg, AddrWidth: addrWidth}
}

// ID returns the id of the holding register.
func (a *Array) ID() int { return a.Reg.ID }

func (a *Array) String() string {
	depth := 0
	for upd := a.Updates; upd != nil; upd = upd.Next {
		depth++
	}
	if depth > 0 {
		return fmt.Sprintf("(array %s +%d)", a.Reg.Name, depth)
	}
	return fmt.Sprintf("(array %s)", a.Reg.Name)
}

// Clone returns a shallow copy sharing the update chain.
func (a *Array) Clone() *Array {
	other := *a
	return &other
}

// lanes returns the index of every byte of a width-bit access at offset,
// least significant byte first.
func (a *Array) lanes(offset Expr, width uint, bigEndian bool) []Expr {
	assert(width%8 == 0, "array: width not byte aligned: %d", width)

	base := zeroExtend(offset, a.AddrWidth)
	n := uint64(width / 8)
	idx := make([]Expr, n)
	for i := range idx {
		pos := uint64(i)
		if bigEndian {
			pos = n - 1 - pos
		}
		idx[i] = NewBinaryExpr(ADD, base, NewConstantExpr(pos, a.AddrWidth))
	}
	return idx
}

// Select reads width bits at offset. With bigEndian the most significant
// byte sits at the lowest address. A one-bit read takes bit 0 of a byte.
func (a *Array) Select(offset Expr, width uint, bigEndian bool) Expr {
	assert(width > 0, "select: invalid width")
	if width == WidthBool {
		return NewExtractExpr(a.load(zeroExtend(offset, a.AddrWidth)), 0, WidthBool)
	}

	var value Expr
	for _, idx := range a.lanes(offset, width, bigEndian) {
		b := a.load(idx)
		if value != nil {
			b = NewConcatExpr(b, value)
		}
		value = b
	}
	return value
}

// load reads one byte. It returns the newest update whose index is known
// to match, or a SelectExpr once an index can't be decided.
func (a *Array) load(index Expr) Expr {
	assert(ExprWidth(index) == a.AddrWidth, "array: invalid index width: %d", ExprWidth(index))
	for upd := a.Updates; upd != nil; upd = upd.Next {
		match, ok := NewBinaryExpr(EQ, index, upd.Index).(*ConstantExpr)
		if !ok {
			break
		}
		if match.IsTrue() {
			return upd.Value
		}
	}
	return NewSelectExpr(a, index)
}

// Store returns a copy of a with value written at offset. Values must be
// whole bytes or a single bit.
func (a *Array) Store(offset, value Expr, bigEndian bool) *Array {
	width := ExprWidth(value)
	assert(width > 0, "store: invalid width")

	other := a.Clone()
	if width == WidthBool {
		other.put(zeroExtend(offset, a.AddrWidth), value)
		return other
	}
	for i, idx := range a.lanes(offset, width, bigEndian) {
		other.put(idx, NewExtractExpr(value, uint(i)*8, Width8))
	}
	return other
}

// put pushes a one-byte update. A concrete index drops older concrete
// writes to the same index down to the first symbolic one. The chain
// above that point is rebuilt so other copies keep their view.
func (a *Array) put(index, value Expr) {
	assert(ExprWidth(index) == a.AddrWidth, "array: invalid index width: %d", ExprWidth(index))

	tail := a.Updates
	if at, ok := index.(*ConstantExpr); ok {
		var live []*ArrayUpdate
		for ; tail != nil; tail = tail.Next {
			prev, ok := tail.Index.(*ConstantExpr)
			if !ok {
				break
			}
			if prev.Value.Cmp(at.Value) != 0 {
				live = append(live, tail)
			}
		}
		for i := len(live) - 1; i >= 0; i-- {
			tail = &ArrayUpdate{Index: live[i].Index, Value: live[i].Value, Next: tail}
		}
	}
	a.Updates = NewArrayUpdate(index, value, tail)
}

// IsConcrete reports whether every update has a constant index and value.
func (a *Array) IsConcrete() bool {
	for upd := a.Updates; upd != nil; upd = upd.Next {
		if !IsConstantExpr(upd.Index) || !IsConstantExpr(upd.Value) {
			return false
		}
	}
	return true
}

// CompareArray orders arrays by register, index width and then updates.
func CompareArray(a, b *Array) int {
	if c, done := compareNil(a == nil, b == nil); done {
		return c
	}
	if c := cmp.Compare(a.ID(), b.ID()); c != 0 {
		return c
	} else if c := cmp.Compare(a.AddrWidth, b.AddrWidth); c != 0 {
		return c
	}
	return CompareArrayUpdate(a.Updates, b.Updates)
}

// ArrayUpdate is a single byte write.
type ArrayUpdate struct {
	Index Expr
	Value Expr
	Next  *ArrayUpdate
}

// NewArrayUpdate returns an update of index to value, widening a one-bit
// value to a byte.
func NewArrayUpdate(index, value Expr, next *ArrayUpdate) *ArrayUpdate {
	return &ArrayUpdate{Index: index, Value: zeroExtend(value, Width8), Next: next}
}

// CompareArrayUpdate compares two update chains element by element.
func CompareArrayUpdate(a, b *ArrayUpdate) int {
	for {
		if c, done := compareNil(a == nil, b == nil); done {
			return c
		}
		if c := CompareExpr(a.Index, b.Index); c != 0 {
			return c
		} else if c := CompareExpr(a.Value, b.Value); c != 0 {
			return c
		}
		a, b = a.Next, b.Next
	}
}
