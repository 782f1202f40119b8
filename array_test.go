package pcode_test

import (
	"testing"

	"github.com/benbjohnson/pcode"
	"github.com/google/go-cmp/cmp"
)

func TestArray_Concrete(t *testing.T) {
	t.Run("LittleEndian", func(t *testing.T) {
		a := pcode.NewArray(ram, 64)
		a = a.Store(pcode.NewConstantExpr64(0x100), pcode.NewConstantExpr32(0xaabbccdd), false)
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(0x100), 32, false), pcode.NewConstantExpr32(0xaabbccdd))
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(0x100), 8, false), pcode.NewConstantExpr8(0xdd))
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(0x102), 16, false), pcode.NewConstantExpr16(0xaabb))
	})

	t.Run("BigEndian", func(t *testing.T) {
		a := pcode.NewArray(ram, 64)
		a = a.Store(pcode.NewConstantExpr64(0x100), pcode.NewConstantExpr32(0xaabbccdd), true)
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(0x100), 32, true), pcode.NewConstantExpr32(0xaabbccdd))
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(0x100), 8, true), pcode.NewConstantExpr8(0xaa))

		// Reading with the opposite byte order reverses the bytes.
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(0x100), 32, false), pcode.NewConstantExpr32(0xddccbbaa))
	})

	t.Run("NarrowIndex", func(t *testing.T) {
		a := pcode.NewArray(ram, 64)
		a = a.Store(pcode.NewConstantExpr32(4), pcode.NewConstantExpr8(0x7f), false)
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(4), 8, false), pcode.NewConstantExpr8(0x7f))
	})

	t.Run("Bool", func(t *testing.T) {
		a := pcode.NewArray(ram, 64)
		a = a.Store(pcode.NewConstantExpr64(1), pcode.NewBoolConstantExpr(true), false)
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(1), pcode.WidthBool, false), pcode.NewBoolConstantExpr(true))
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(1), 8, false), pcode.NewConstantExpr8(1))
	})

	t.Run("Immutable", func(t *testing.T) {
		a := pcode.NewArray(ram, 64)
		b := a.Store(pcode.NewConstantExpr64(0), pcode.NewConstantExpr8(1), false)
		c := b.Store(pcode.NewConstantExpr64(0), pcode.NewConstantExpr8(2), false)
		AssertExpr(t, b.Select(pcode.NewConstantExpr64(0), 8, false), pcode.NewConstantExpr8(1))
		AssertExpr(t, c.Select(pcode.NewConstantExpr64(0), 8, false), pcode.NewConstantExpr8(2))
		if a.Updates != nil {
			t.Fatal("unexpected update on original array")
		}
	})
}

func TestArray_Symbolic(t *testing.T) {
	t.Run("Unwritten", func(t *testing.T) {
		a := pcode.NewArray(ram, 64)
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(0), 8, false), &pcode.SelectExpr{Array: a, Index: pcode.NewConstantExpr64(0)})
	})

	t.Run("LittleEndian", func(t *testing.T) {
		a := pcode.NewArray(ram, 64)
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(2), 16, false), &pcode.ConcatExpr{
			MSB: &pcode.SelectExpr{Array: a, Index: pcode.NewConstantExpr64(3)},
			LSB: &pcode.SelectExpr{Array: a, Index: pcode.NewConstantExpr64(2)},
		})
	})

	t.Run("BigEndian", func(t *testing.T) {
		a := pcode.NewArray(ram, 64)
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(2), 16, true), &pcode.ConcatExpr{
			MSB: &pcode.SelectExpr{Array: a, Index: pcode.NewConstantExpr64(2)},
			LSB: &pcode.SelectExpr{Array: a, Index: pcode.NewConstantExpr64(3)},
		})
	})

	t.Run("SymbolicValue", func(t *testing.T) {
		x := pcode.NewRegExpr(reg8)
		a := pcode.NewArray(ram, 64).Store(pcode.NewConstantExpr64(0), x, false)
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(0), 8, false), x)
		if a.IsConcrete() {
			t.Fatal("expected symbolic array")
		}
	})

	t.Run("SymbolicIndex", func(t *testing.T) {
		idx := pcode.NewRegExpr(reg32)
		a := pcode.NewArray(ram, 64).Store(pcode.NewConstantExpr64(0), pcode.NewConstantExpr8(1), false)
		a = a.Store(idx, pcode.NewConstantExpr8(2), false)

		// The symbolic write may alias index 0 so the read cannot be resolved.
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(0), 8, false), &pcode.SelectExpr{Array: a, Index: pcode.NewConstantExpr64(0)})

		// A later concrete write shadows it again.
		a = a.Store(pcode.NewConstantExpr64(0), pcode.NewConstantExpr8(3), false)
		AssertExpr(t, a.Select(pcode.NewConstantExpr64(0), 8, false), pcode.NewConstantExpr8(3))
	})
}

// Ensure overwritten concrete updates are dropped from the chain.
func TestArray_Store_Shadow(t *testing.T) {
	a := pcode.NewArray(ram, 64)
	a = a.Store(pcode.NewConstantExpr64(0), pcode.NewConstantExpr8(0), false)
	a = a.Store(pcode.NewConstantExpr64(1), pcode.NewConstantExpr8(1), false)
	a = a.Store(pcode.NewConstantExpr64(0), pcode.NewConstantExpr8(2), false)

	AssertExpr(t, a.Select(pcode.NewConstantExpr64(0), 16, false), pcode.NewConstantExpr16(0x0102))
	if diff := cmp.Diff(a, &pcode.Array{
		Reg:       ram,
		AddrWidth: 64,
		Updates: &pcode.ArrayUpdate{
			Index: pcode.NewConstantExpr64(0),
			Value: pcode.NewConstantExpr8(2),
			Next: &pcode.ArrayUpdate{
				Index: pcode.NewConstantExpr64(1),
				Value: pcode.NewConstantExpr8(1),
			},
		},
	}, BigIntComparer); diff != "" {
		t.Fatal(diff)
	} else if !a.IsConcrete() {
		t.Fatal("expected concrete array")
	}
}

func TestCompareArray(t *testing.T) {
	regs := &pcode.Reg{ID: 7, Name: "regs", Array: true}
	a := pcode.NewArray(ram, 64)
	b := a.Store(pcode.NewConstantExpr64(0), pcode.NewConstantExpr8(1), false)
	c := a.Store(pcode.NewConstantExpr64(0), pcode.NewConstantExpr8(2), false)

	if cmp := pcode.CompareArray(a, a.Clone()); cmp != 0 {
		t.Fatalf("unexpected compare: %d", cmp)
	} else if cmp := pcode.CompareArray(nil, a); cmp != -1 {
		t.Fatalf("unexpected compare: %d", cmp)
	} else if cmp := pcode.CompareArray(a, pcode.NewArray(regs, 64)); cmp != -1 {
		t.Fatalf("unexpected compare: %d", cmp)
	} else if cmp := pcode.CompareArray(pcode.NewArray(ram, 64), pcode.NewArray(ram, 32)); cmp != 1 {
		t.Fatalf("unexpected compare: %d", cmp)
	} else if cmp := pcode.CompareArray(a, b); cmp != -1 {
		t.Fatalf("unexpected compare: %d", cmp)
	} else if cmp := pcode.CompareArray(c, b); cmp != 1 {
		t.Fatalf("unexpected compare: %d", cmp)
	}
}

func TestArray_String(t *testing.T) {
	a := pcode.NewArray(ram, 64)
	if s := a.String(); s != "(array ram)" {
		t.Fatalf("unexpected string: %s", s)
	}
	a = a.Store(pcode.NewConstantExpr64(0), pcode.NewConstantExpr16(0xffff), false)
	if s := a.String(); s != "(array ram +2)" {
		t.Fatalf("unexpected string: %s", s)
	}
}
