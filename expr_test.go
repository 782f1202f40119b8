package pcode_test

import (
	"math/big"
	"testing"

	"github.com/benbjohnson/pcode"
	"github.com/google/go-cmp/cmp"
)

var (
	reg8   = &pcode.Reg{ID: 1, Name: "a", Width: 8}
	reg32  = &pcode.Reg{ID: 2, Name: "x", Width: 32}
	reg32b = &pcode.Reg{ID: 3, Name: "y", Width: 32}
	regB1  = &pcode.Reg{ID: 4, Name: "p", Width: 1}
	regB2  = &pcode.Reg{ID: 5, Name: "q", Width: 1}
	ram    = &pcode.Reg{ID: 6, Name: "ram", Array: true}
)

// AssertExpr fails if got is not structurally equal to want.
func AssertExpr(tb testing.TB, got, want pcode.Expr) {
	tb.Helper()
	if diff := cmp.Diff(want, got, BigIntComparer); diff != "" {
		tb.Fatal(diff)
	}
}

func TestExprWidth(t *testing.T) {
	x, y := pcode.NewRegExpr(reg32), pcode.NewRegExpr(reg8)
	for _, tt := range []struct {
		expr  pcode.Expr
		width uint
	}{
		{pcode.NewConstantExpr(0, 100), 100},
		{x, 32},
		{&pcode.SelectExpr{Array: pcode.NewArray(ram, 64), Index: pcode.NewConstantExpr64(0)}, 8},
		{&pcode.ConcatExpr{MSB: x, LSB: y}, 40},
		{&pcode.ExtractExpr{Expr: x, Offset: 4, Width: 12}, 12},
		{&pcode.NotExpr{Expr: x}, 32},
		{&pcode.CastExpr{Src: y, Width: 64}, 64},
		{&pcode.BinaryExpr{Op: pcode.ADD, LHS: x, RHS: x}, 32},
		{&pcode.BinaryExpr{Op: pcode.ULT, LHS: x, RHS: x}, 1},
	} {
		if w := pcode.ExprWidth(tt.expr); w != tt.width {
			t.Errorf("%s: unexpected width: %d", tt.expr, w)
		}
	}
}

func TestBinaryOp_String(t *testing.T) {
	if s := pcode.SGE.String(); s != "sge" {
		t.Fatalf("unexpected string: %s", s)
	} else if s := pcode.BinaryOp(100).String(); s != "BinaryOp<100>" {
		t.Fatalf("unexpected string: %s", s)
	}
	if !pcode.SHL.IsArithmetic() || pcode.SHL.IsCompare() {
		t.Fatal("expected arithmetic")
	} else if !pcode.SLE.IsCompare() || pcode.SLE.IsArithmetic() {
		t.Fatal("expected compare")
	} else if !pcode.SREM.IsDivision() || pcode.MUL.IsDivision() {
		t.Fatal("unexpected division classification")
	}
}

func TestNewBinaryExpr_ADD(t *testing.T) {
	x := pcode.NewRegExpr(reg32)

	t.Run("Constant", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.ADD, pcode.NewConstantExpr32(2), pcode.NewConstantExpr32(3)), pcode.NewConstantExpr32(5))
	})
	t.Run("Wraparound", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.ADD, pcode.NewConstantExpr32(0xffffffff), pcode.NewConstantExpr32(1)), pcode.NewConstantExpr32(0))
	})
	t.Run("Wide", func(t *testing.T) {
		max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 100), big.NewInt(1))
		AssertExpr(t,
			pcode.NewBinaryExpr(pcode.ADD, pcode.NewBigConstantExpr(max, 128), pcode.NewConstantExpr(1, 128)),
			pcode.NewBigConstantExpr(new(big.Int).Lsh(big.NewInt(1), 100), 128),
		)
	})
	t.Run("Zero", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.ADD, x, pcode.NewConstantExpr32(0)), x)
	})
	t.Run("ConstantRHS", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.ADD, x, pcode.NewConstantExpr32(3)),
			&pcode.BinaryExpr{Op: pcode.ADD, LHS: pcode.NewConstantExpr32(3), RHS: x})
	})
	t.Run("Bool", func(t *testing.T) {
		p, q := pcode.NewRegExpr(regB1), pcode.NewRegExpr(regB2)
		AssertExpr(t, pcode.NewBinaryExpr(pcode.ADD, p, q), &pcode.BinaryExpr{Op: pcode.XOR, LHS: p, RHS: q})
	})
	t.Run("Associative", func(t *testing.T) {
		// 1 + (2 + x) == 3 + x
		AssertExpr(t,
			pcode.NewBinaryExpr(pcode.ADD, pcode.NewConstantExpr32(1), pcode.NewBinaryExpr(pcode.ADD, pcode.NewConstantExpr32(2), x)),
			&pcode.BinaryExpr{Op: pcode.ADD, LHS: pcode.NewConstantExpr32(3), RHS: x},
		)
	})
}

func TestNewBinaryExpr_SUB(t *testing.T) {
	x := pcode.NewRegExpr(reg32)

	t.Run("Constant", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.SUB, pcode.NewConstantExpr32(5), pcode.NewConstantExpr32(3)), pcode.NewConstantExpr32(2))
	})
	t.Run("Underflow", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.SUB, pcode.NewConstantExpr8(0), pcode.NewConstantExpr8(1)), pcode.NewConstantExpr8(0xff))
	})
	t.Run("EqualExprs", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.SUB, x, x), pcode.NewConstantExpr32(0))
	})
	t.Run("ConstantRHS", func(t *testing.T) {
		// x - 1 == 0xffffffff + x
		AssertExpr(t, pcode.NewBinaryExpr(pcode.SUB, x, pcode.NewConstantExpr32(1)),
			&pcode.BinaryExpr{Op: pcode.ADD, LHS: pcode.NewConstantExpr32(0xffffffff), RHS: x})
	})
}

func TestNewBinaryExpr_MUL(t *testing.T) {
	x, y := pcode.NewRegExpr(reg32), pcode.NewRegExpr(reg32b)
	AssertExpr(t, pcode.NewBinaryExpr(pcode.MUL, pcode.NewConstantExpr32(3), pcode.NewConstantExpr32(4)), pcode.NewConstantExpr32(12))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.MUL, x, pcode.NewConstantExpr32(1)), x)
	AssertExpr(t, pcode.NewBinaryExpr(pcode.MUL, x, pcode.NewConstantExpr32(0)), pcode.NewConstantExpr32(0))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.MUL, x, y), &pcode.BinaryExpr{Op: pcode.MUL, LHS: x, RHS: y})
}

func TestNewBinaryExpr_DIV(t *testing.T) {
	x := pcode.NewRegExpr(reg32)
	AssertExpr(t, pcode.NewBinaryExpr(pcode.UDIV, pcode.NewConstantExpr32(7), pcode.NewConstantExpr32(2)), pcode.NewConstantExpr32(3))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.SDIV, pcode.NewConstantExpr32(0xfffffff9), pcode.NewConstantExpr32(2)), pcode.NewConstantExpr32(0xfffffffd))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.UREM, pcode.NewConstantExpr32(7), pcode.NewConstantExpr32(2)), pcode.NewConstantExpr32(1))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.SREM, pcode.NewConstantExpr32(0xfffffff9), pcode.NewConstantExpr32(2)), pcode.NewConstantExpr32(0xffffffff))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.UDIV, x, pcode.NewConstantExpr32(1)), x)
	AssertExpr(t, pcode.NewBinaryExpr(pcode.UREM, x, pcode.NewConstantExpr32(1)), pcode.NewConstantExpr32(0))

	// Division by a constant zero is kept for evaluation to report.
	AssertExpr(t, pcode.NewBinaryExpr(pcode.UDIV, pcode.NewConstantExpr32(7), pcode.NewConstantExpr32(0)),
		&pcode.BinaryExpr{Op: pcode.UDIV, LHS: pcode.NewConstantExpr32(7), RHS: pcode.NewConstantExpr32(0)})
}

func TestNewBinaryExpr_Bitwise(t *testing.T) {
	x, y := pcode.NewRegExpr(reg32), pcode.NewRegExpr(reg32b)
	ones, zero := pcode.NewConstantExpr32(0xffffffff), pcode.NewConstantExpr32(0)

	t.Run("AND", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.AND, pcode.NewConstantExpr32(0xdeadbeef), pcode.NewConstantExpr32(0x5f5f5f5f)), pcode.NewConstantExpr32(0x5e0d1e4f))
		AssertExpr(t, pcode.NewBinaryExpr(pcode.AND, ones, x), x)
		AssertExpr(t, pcode.NewBinaryExpr(pcode.AND, x, zero), zero)
		AssertExpr(t, pcode.NewBinaryExpr(pcode.AND, x, y), &pcode.BinaryExpr{Op: pcode.AND, LHS: x, RHS: y})
	})
	t.Run("OR", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.OR, x, ones), ones)
		AssertExpr(t, pcode.NewBinaryExpr(pcode.OR, zero, x), x)
	})
	t.Run("XOR", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.XOR, pcode.NewConstantExpr32(0xdeadbeef), pcode.NewConstantExpr32(0x10101010)), pcode.NewConstantExpr32(0xcebdaeff))
		AssertExpr(t, pcode.NewBinaryExpr(pcode.XOR, x, zero), x)
		AssertExpr(t, pcode.NewBinaryExpr(pcode.XOR, x, x), zero)
	})
}

func TestNewBinaryExpr_Shift(t *testing.T) {
	x := pcode.NewRegExpr(reg32)
	AssertExpr(t, pcode.NewBinaryExpr(pcode.SHL, pcode.NewConstantExpr32(1), pcode.NewConstantExpr32(4)), pcode.NewConstantExpr32(16))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.SHL, pcode.NewConstantExpr32(1), pcode.NewConstantExpr32(40)), pcode.NewConstantExpr32(0))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.LSHR, pcode.NewConstantExpr32(0x80000000), pcode.NewConstantExpr32(31)), pcode.NewConstantExpr32(1))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.ASHR, pcode.NewConstantExpr32(0x80000000), pcode.NewConstantExpr32(31)), pcode.NewConstantExpr32(0xffffffff))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.ASHR, pcode.NewConstantExpr32(0x80000000), pcode.NewConstantExpr32(99)), pcode.NewConstantExpr32(0xffffffff))
	AssertExpr(t, pcode.NewBinaryExpr(pcode.LSHR, x, pcode.NewConstantExpr32(0)), x)
}

func TestNewBinaryExpr_EQ(t *testing.T) {
	x, a := pcode.NewRegExpr(reg32), pcode.NewRegExpr(reg8)
	f, tr := pcode.NewBoolConstantExpr(false), pcode.NewBoolConstantExpr(true)

	t.Run("Constant", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.EQ, pcode.NewConstantExpr32(1), pcode.NewConstantExpr32(1)), tr)
		AssertExpr(t, pcode.NewBinaryExpr(pcode.EQ, pcode.NewConstantExpr32(1), pcode.NewConstantExpr32(2)), f)
	})
	t.Run("SymbolicEqual", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.EQ, x, x), tr)
	})
	t.Run("ConstantRHS", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.EQ, x, pcode.NewConstantExpr32(1)),
			&pcode.BinaryExpr{Op: pcode.EQ, LHS: pcode.NewConstantExpr32(1), RHS: x})
	})
	t.Run("DoubleNegation", func(t *testing.T) {
		// !!(x == 1) == (x == 1)
		eq := pcode.NewBinaryExpr(pcode.EQ, x, pcode.NewConstantExpr32(1))
		AssertExpr(t, pcode.NewIsZeroExpr(pcode.NewIsZeroExpr(eq)), eq)
	})
	t.Run("CastRHS", func(t *testing.T) {
		// zext(a) == 5 reduces to a == 5 at the narrower width.
		AssertExpr(t, pcode.NewBinaryExpr(pcode.EQ, pcode.NewCastExpr(a, 32, false), pcode.NewConstantExpr32(5)),
			&pcode.BinaryExpr{Op: pcode.EQ, LHS: pcode.NewConstantExpr8(5), RHS: a})

		// zext(a) can never reach 0x100.
		AssertExpr(t, pcode.NewBinaryExpr(pcode.EQ, pcode.NewCastExpr(a, 32, false), pcode.NewConstantExpr32(0x100)), f)

		// sext(a) == -1 reduces to a == 0xff.
		AssertExpr(t, pcode.NewBinaryExpr(pcode.EQ, pcode.NewCastExpr(a, 32, true), pcode.NewConstantExpr32(0xffffffff)),
			&pcode.BinaryExpr{Op: pcode.EQ, LHS: pcode.NewConstantExpr8(0xff), RHS: a})
	})
	t.Run("NE", func(t *testing.T) {
		AssertExpr(t, pcode.NewBinaryExpr(pcode.NE, pcode.NewConstantExpr32(1), pcode.NewConstantExpr32(1)), f)
		AssertExpr(t, pcode.NewBinaryExpr(pcode.NE, pcode.NewConstantExpr32(1), pcode.NewConstantExpr32(2)), tr)
	})
}

func TestNewBinaryExpr_Compare(t *testing.T) {
	neg, one := pcode.NewConstantExpr32(0xffffffff), pcode.NewConstantExpr32(1)
	for _, tt := range []struct {
		op   pcode.BinaryOp
		want bool
	}{
		{pcode.ULT, false},
		{pcode.ULE, false},
		{pcode.UGT, true},
		{pcode.UGE, true},
		{pcode.SLT, true},
		{pcode.SLE, true},
		{pcode.SGT, false},
		{pcode.SGE, false},
	} {
		t.Run(tt.op.String(), func(t *testing.T) {
			AssertExpr(t, pcode.NewBinaryExpr(tt.op, neg, one), pcode.NewBoolConstantExpr(tt.want))
		})
	}

	t.Run("Reversed", func(t *testing.T) {
		x, y := pcode.NewRegExpr(reg32), pcode.NewRegExpr(reg32b)
		AssertExpr(t, pcode.NewBinaryExpr(pcode.UGT, x, y), &pcode.BinaryExpr{Op: pcode.ULT, LHS: y, RHS: x})
		AssertExpr(t, pcode.NewBinaryExpr(pcode.SGE, x, y), &pcode.BinaryExpr{Op: pcode.SLE, LHS: y, RHS: x})
	})
}

func TestNewConcatExpr(t *testing.T) {
	x := pcode.NewRegExpr(reg32)
	t.Run("Constant", func(t *testing.T) {
		AssertExpr(t, pcode.NewConcatExpr(pcode.NewConstantExpr8(0xab), pcode.NewConstantExpr8(0xcd)), pcode.NewConstantExpr16(0xabcd))
	})
	t.Run("ContiguousExtract", func(t *testing.T) {
		AssertExpr(t,
			pcode.NewConcatExpr(pcode.NewExtractExpr(x, 8, 8), pcode.NewExtractExpr(x, 0, 8)),
			&pcode.ExtractExpr{Expr: x, Offset: 0, Width: 16},
		)
	})
	t.Run("Symbolic", func(t *testing.T) {
		a := pcode.NewRegExpr(reg8)
		AssertExpr(t, pcode.NewConcatExpr(a, x), &pcode.ConcatExpr{MSB: a, LSB: x})
	})
}

func TestNewExtractExpr(t *testing.T) {
	x, a := pcode.NewRegExpr(reg32), pcode.NewRegExpr(reg8)
	AssertExpr(t, pcode.NewExtractExpr(x, 0, 32), x)
	AssertExpr(t, pcode.NewExtractExpr(pcode.NewConstantExpr32(0xdeadbeef), 8, 16), pcode.NewConstantExpr16(0xadbe))
	AssertExpr(t, pcode.NewExtractExpr(pcode.NewExtractExpr(x, 8, 16), 4, 8), &pcode.ExtractExpr{Expr: x, Offset: 12, Width: 8})
	AssertExpr(t, pcode.NewExtractExpr(pcode.NewCastExpr(a, 32, true), 0, 8), a)

	t.Run("Concat", func(t *testing.T) {
		c := pcode.NewConcatExpr(a, x)
		AssertExpr(t, pcode.NewExtractExpr(c, 32, 8), a)
		AssertExpr(t, pcode.NewExtractExpr(c, 0, 16), &pcode.ExtractExpr{Expr: x, Offset: 0, Width: 16})
		AssertExpr(t, pcode.NewExtractExpr(c, 24, 16), &pcode.ConcatExpr{
			MSB: a,
			LSB: &pcode.ExtractExpr{Expr: x, Offset: 24, Width: 8},
		})
	})
}

func TestNewNotExpr(t *testing.T) {
	x := pcode.NewRegExpr(reg32)
	AssertExpr(t, pcode.NewNotExpr(pcode.NewNotExpr(x)), x)
	AssertExpr(t, pcode.NewNotExpr(pcode.NewConstantExpr32(0xdeadbeef)), pcode.NewConstantExpr32(0x21524110))
}

func TestNewCastExpr(t *testing.T) {
	a := pcode.NewRegExpr(reg8)
	AssertExpr(t, pcode.NewCastExpr(pcode.NewConstantExpr8(0x80), 16, true), pcode.NewConstantExpr16(0xff80))
	AssertExpr(t, pcode.NewCastExpr(pcode.NewConstantExpr8(0x80), 16, false), pcode.NewConstantExpr16(0x80))
	AssertExpr(t, pcode.NewCastExpr(a, 8, true), a)
	AssertExpr(t, pcode.NewCastExpr(a, 4, false), &pcode.ExtractExpr{Expr: a, Offset: 0, Width: 4})
	AssertExpr(t, pcode.NewCastExpr(a, 64, true), &pcode.CastExpr{Src: a, Width: 64, Signed: true})
}

func TestConstantExpr_Signed(t *testing.T) {
	if v := pcode.NewConstantExpr8(0xfe).Signed(); v.Cmp(big.NewInt(-2)) != 0 {
		t.Fatalf("unexpected value: %s", v)
	} else if v := pcode.NewConstantExpr8(0x7f).Signed(); v.Cmp(big.NewInt(127)) != 0 {
		t.Fatalf("unexpected value: %s", v)
	} else if v := pcode.NewBigConstantExpr(big.NewInt(-1), 8); v.Uint64() != 0xff {
		t.Fatalf("unexpected value: %s", v)
	}
}

func TestCompareExpr(t *testing.T) {
	x, y := pcode.NewRegExpr(reg32), pcode.NewRegExpr(reg32b)
	if cmp := pcode.CompareExpr(nil, nil); cmp != 0 {
		t.Fatalf("unexpected compare: %d", cmp)
	} else if cmp := pcode.CompareExpr(nil, x); cmp != -1 {
		t.Fatalf("unexpected compare: %d", cmp)
	} else if cmp := pcode.CompareExpr(pcode.NewConstantExpr32(5), x); cmp != -1 {
		t.Fatalf("unexpected compare: %d", cmp)
	} else if cmp := pcode.CompareExpr(x, y); cmp != -1 {
		t.Fatalf("unexpected compare: %d", cmp)
	} else if cmp := pcode.CompareExpr(pcode.NewConstantExpr8(1), pcode.NewConstantExpr32(0)); cmp != -1 {
		t.Fatalf("unexpected compare: %d", cmp)
	} else if cmp := pcode.CompareExpr(pcode.NewNotExpr(y), pcode.NewNotExpr(x)); cmp != 1 {
		t.Fatalf("unexpected compare: %d", cmp)
	}
}

func TestFindRegs(t *testing.T) {
	x := pcode.NewRegExpr(reg32)
	a := pcode.NewArray(ram, 32)
	expr := pcode.NewBinaryExpr(pcode.ADD, x, pcode.NewCastExpr(a.Select(x, 8, false), 32, false))

	var ids []int
	for _, reg := range pcode.FindRegs(expr, pcode.Tuple{x}) {
		ids = append(ids, reg.ID)
	}
	if diff := cmp.Diff(ids, []int{reg32.ID, ram.ID}); diff != "" {
		t.Fatal(diff)
	}
}

func TestConstantExpr_Apply(t *testing.T) {
	neg, two := pcode.NewConstantExpr8(0xfe), pcode.NewConstantExpr8(2)
	for _, tt := range []struct {
		op   pcode.BinaryOp
		want *pcode.ConstantExpr
	}{
		{pcode.ADD, pcode.NewConstantExpr8(0)},
		{pcode.SUB, pcode.NewConstantExpr8(0xfc)},
		{pcode.SDIV, pcode.NewConstantExpr8(0xff)},
		{pcode.UDIV, pcode.NewConstantExpr8(0x7f)},
		{pcode.ASHR, pcode.NewConstantExpr8(0xff)},
		{pcode.LSHR, pcode.NewConstantExpr8(0x3f)},
		{pcode.NE, pcode.NewBoolConstantExpr(true)},
		{pcode.UGT, pcode.NewBoolConstantExpr(true)},
		{pcode.SGT, pcode.NewBoolConstantExpr(false)},
		{pcode.SGE, pcode.NewBoolConstantExpr(false)},
	} {
		t.Run(tt.op.String(), func(t *testing.T) {
			AssertExpr(t, neg.Apply(tt.op, two), tt.want)
		})
	}

	t.Run("WideShift", func(t *testing.T) {
		AssertExpr(t, two.Apply(pcode.SHL, pcode.NewConstantExpr8(8)), pcode.NewConstantExpr8(0))
	})
}
