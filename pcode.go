package pcode

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// Standard widths, in bits.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

var (
	ErrInvalidWrite           = errors.New("pcode: invalid write")
	ErrSizeMismatch           = errors.New("pcode: size mismatch")
	ErrOutOfRange             = errors.New("pcode: out of range")
	ErrUnresolvedAddressSpace = errors.New("pcode: unresolved address space")
	ErrUnimplementedOpcode    = errors.New("pcode: unimplemented opcode")
	ErrNoSuchArgumentSlot     = errors.New("pcode: no such argument slot")
	ErrUninitializedRead      = errors.New("pcode: uninitialized read")
	ErrDivideByZero           = errors.New("pcode: divide by zero")
	ErrHalted                 = errors.New("pcode: machine halted")
	ErrStepLimit              = errors.New("pcode: step limit reached")
	ErrUnknownABI             = errors.New("pcode: unknown abi")
	ErrUnknownFunction        = errors.New("pcode: unknown function")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}

// bitmask returns 2^width - 1.
func bitmask(width uint) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), width)
	return m.Sub(m, big.NewInt(1))
}

// truncate reduces v modulo 2^width. Negative values wrap to their two's
// complement representation.
func truncate(v *big.Int, width uint) *big.Int {
	return new(big.Int).And(v, bitmask(width))
}

// toSigned interprets the low width bits of v as a two's complement integer.
func toSigned(v *big.Int, width uint) *big.Int {
	u := truncate(v, width)
	if width > 0 && u.Bit(int(width-1)) == 1 {
		u.Sub(u, new(big.Int).Lsh(big.NewInt(1), width))
	}
	return u
}

// signedRange returns the smallest and largest two's complement values
// representable in width bits.
func signedRange(width uint) (min, max *big.Int) {
	max = new(big.Int).Lsh(big.NewInt(1), width-1)
	min = new(big.Int).Neg(max)
	max.Sub(max, big.NewInt(1))
	return min, max
}

// hex formats v as a lowercase hex string with a 0x prefix.
func hex(v *big.Int) string {
	if v == nil {
		return "<nil>"
	} else if v.Sign() < 0 {
		return "-0x" + new(big.Int).Neg(v).Text(16)
	}
	return "0x" + v.Text(16)
}

// ParseHex parses a hex string with an optional 0x prefix.
func ParseHex(s string) (*big.Int, error) {
	t := s
	if len(t) > 2 && (t[:2] == "0x" || t[:2] == "0X") {
		t = t[2:]
	}
	v, ok := new(big.Int).SetString(t, 16)
	if !ok || t == "" {
		return nil, errors.Errorf("pcode: invalid hex value: %q", s)
	}
	return v, nil
}
