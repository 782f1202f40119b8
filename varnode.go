package pcode

import (
	"fmt"
	"math/big"
)

// Varnode is a contiguous range of bytes inside an address space.
//
// A varnode is either named, in which case its space is resolved by name
// through a MachineState, or bound to a specific AddressSpace.
// A size of zero denotes an absent operand.
type Varnode struct {
	SpaceName string
	Space     *AddressSpace
	Offset    *big.Int
	Size      int // bytes
}

// NewVarnode returns a named varnode.
func NewVarnode(space string, offset *big.Int, size int) *Varnode {
	assert(size >= 0, "varnode: negative size: %d", size)
	return &Varnode{SpaceName: space, Offset: new(big.Int).Set(offset), Size: size}
}

// NewBoundVarnode returns a varnode bound directly to an address space.
func NewBoundVarnode(space *AddressSpace, offset *big.Int, size int) *Varnode {
	assert(size >= 0, "varnode: negative size: %d", size)
	return &Varnode{SpaceName: space.Name, Space: space, Offset: new(big.Int).Set(offset), Size: size}
}

// RAM returns a named varnode in the RAM space.
func RAM(offset uint64, size int) *Varnode {
	return NewVarnode(SpaceNameRAM, new(big.Int).SetUint64(offset), size)
}

// Register returns a named varnode in the register space.
func Register(offset uint64, size int) *Varnode {
	return NewVarnode(SpaceNameRegister, new(big.Int).SetUint64(offset), size)
}

// Unique returns a named varnode in the temporary space.
func Unique(offset uint64, size int) *Varnode {
	return NewVarnode(SpaceNameUnique, new(big.Int).SetUint64(offset), size)
}

// Const returns a constant varnode holding value.
func Const(value uint64, size int) *Varnode {
	return NewVarnode(SpaceNameConst, new(big.Int).SetUint64(value), size)
}

// IsConst returns true if the varnode lives in a constant space.
func (v *Varnode) IsConst() bool {
	if v.Space != nil {
		return v.Space.Kind == SpaceConst
	}
	return SpaceKindOf(v.SpaceName) == SpaceConst
}

// Width returns the size of the varnode in bits.
func (v *Varnode) Width() uint { return uint(v.Size) * 8 }

// Equal returns true if v and other refer to the same bytes.
func (v *Varnode) Equal(other *Varnode) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.SpaceName == other.SpaceName && v.Size == other.Size && v.Offset.Cmp(other.Offset) == 0
}

// String returns the string representation of the varnode.
func (v *Varnode) String() string {
	if v == nil {
		return "(void)"
	}
	return fmt.Sprintf("(%s, %s, %d)", v.SpaceName, hex(v.Offset), v.Size)
}
