package pcode_test

import (
	"math/big"
	"testing"

	"github.com/benbjohnson/pcode"
	"github.com/google/go-cmp/cmp"
)

// BigIntComparer allows cmp.Diff on values holding *big.Int.
var BigIntComparer = cmp.Comparer(func(x, y *big.Int) bool {
	if x == nil || y == nil {
		return x == y
	}
	return x.Cmp(y) == 0
})

// Func describes a function for MustBuildProgram. Functions without
// blocks are external; Entry gives their address if nonzero.
type Func struct {
	Name   string
	Entry  uint64
	Blocks [][]*pcode.MicroOp
}

// Op returns a micro op at the given macro address and index.
func Op(addr uint64, uniq int, opcode pcode.Opcode, output *pcode.Varnode, inputs ...*pcode.Varnode) *pcode.MicroOp {
	op := pcode.NewMicroOp(opcode, output, inputs...)
	op.Seq = pcode.SeqNum{Addr: new(big.Int).SetUint64(addr), Uniq: uniq}
	return op
}

// MustBuildProgram assembles a program from function descriptions. Fatal on error.
func MustBuildProgram(tb testing.TB, arch pcode.ArchSpec, fns ...Func) *pcode.Program {
	tb.Helper()

	b := pcode.NewProgramBuilder(arch)
	for _, fn := range fns {
		var entry *pcode.Varnode
		if fn.Entry != 0 {
			entry = pcode.RAM(fn.Entry, 1)
		}
		if err := b.BeginFunction(fn.Name, entry, pcode.Position{}); err != nil {
			tb.Fatal(err)
		}
		for _, ops := range fn.Blocks {
			if err := b.BeginBlock(pcode.Position{}); err != nil {
				tb.Fatal(err)
			}
			for _, op := range ops {
				if err := b.AddOp(op); err != nil {
					tb.Fatal(err)
				}
			}
			if err := b.EndBlock(); err != nil {
				tb.Fatal(err)
			}
		}
		if _, err := b.EndFunction(); err != nil {
			tb.Fatal(err)
		}
	}

	p, err := b.Build()
	if err != nil {
		tb.Fatal(err)
	}
	return p
}

// MustLookupABI returns a built-in ABI. Fatal on error.
func MustLookupABI(tb testing.TB, name string) *pcode.ABI {
	tb.Helper()
	abi, err := pcode.LookupABI(name)
	if err != nil {
		tb.Fatal(err)
	}
	return abi
}

// MustParseHex parses a hex string. Panic on error.
func MustParseHex(s string) *big.Int {
	v, err := pcode.ParseHex(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Big returns v as an arbitrary precision integer.
func Big(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
