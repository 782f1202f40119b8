package pcode

import "fmt"

// ArchSpec describes the target machine word size and byte order.
type ArchSpec struct {
	WordSize  int  // bytes
	BigEndian bool // most significant byte at the lowest offset
}

// DefaultArch is a 64-bit little-endian machine.
var DefaultArch = ArchSpec{WordSize: 8}

// AddrWidth returns the word size in bits.
func (a ArchSpec) AddrWidth() uint {
	return uint(a.WordSize) * 8
}

// String returns a string representation of the architecture.
func (a ArchSpec) String() string {
	order := "le"
	if a.BigEndian {
		order = "be"
	}
	return fmt.Sprintf("%dbit-%s", a.WordSize*8, order)
}
