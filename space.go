package pcode

import (
	"fmt"
	"math/big"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
)

// Standard address space names.
const (
	SpaceNameRAM      = "ram"
	SpaceNameRegister = "register"
	SpaceNameUnique   = "unique"
	SpaceNameConst    = "const"
)

// SpaceKind represents the storage behavior of an address space.
type SpaceKind int

const (
	SpaceRAM SpaceKind = iota
	SpaceRegister
	SpaceTemp
	SpaceConst
)

var spaceKinds = [...]string{
	SpaceRAM:      "ram",
	SpaceRegister: "register",
	SpaceTemp:     "temp",
	SpaceConst:    "const",
}

// String returns the string representation of the kind.
func (k SpaceKind) String() string {
	if k >= 0 && int(k) < len(spaceKinds) {
		return spaceKinds[k]
	}
	return fmt.Sprintf("SpaceKind<%d>", k)
}

// SpaceKindOf returns the kind used for a standard space name.
// Unknown names are treated as RAM-like spaces.
func SpaceKindOf(name string) SpaceKind {
	switch name {
	case SpaceNameRegister:
		return SpaceRegister
	case SpaceNameUnique:
		return SpaceTemp
	case SpaceNameConst:
		return SpaceConst
	default:
		return SpaceRAM
	}
}

// AddressSpace is a named, byte-addressable region of the machine.
//
// Contents are stored in a persistent sorted map so cloning a space is
// constant time. Const spaces hold no bytes: loads return the offset itself.
type AddressSpace struct {
	Name string
	Kind SpaceKind

	// If true, reading a byte that was never written is an error
	// instead of a zero with a warning.
	Strict bool

	arch     ArchSpec
	contents *immutable.SortedMap // *big.Int -> byte
}

// NewAddressSpace returns an empty address space.
func NewAddressSpace(name string, kind SpaceKind, arch ArchSpec) *AddressSpace {
	return &AddressSpace{
		Name:     name,
		Kind:     kind,
		arch:     arch,
		contents: immutable.NewSortedMap(&bigIntComparer{}),
	}
}

// Arch returns the architecture the space was created with.
func (s *AddressSpace) Arch() ArchSpec { return s.arch }

// Clone returns a copy of the space. Writes to either copy are not
// visible in the other.
func (s *AddressSpace) Clone() *AddressSpace {
	other := *s
	return &other
}

// Len returns the number of initialized bytes.
func (s *AddressSpace) Len() int { return s.contents.Len() }

// String returns a string representation of the space.
func (s *AddressSpace) String() string {
	return fmt.Sprintf("(space %s %s %d)", s.Name, s.Kind, s.Len())
}

// ByteAt returns the byte at addr and whether it has been initialized.
func (s *AddressSpace) ByteAt(addr *big.Int) (byte, bool) {
	v, ok := s.contents.Get(addr)
	if !ok {
		return 0, false
	}
	return v.(byte), true
}

// SetByte writes a single byte at addr.
func (s *AddressSpace) SetByte(addr *big.Int, b byte) error {
	if s.Kind == SpaceConst {
		return errors.Wrapf(ErrInvalidWrite, "write to %s space @%s", s.Name, hex(addr))
	}
	s.contents = s.contents.Set(new(big.Int).Set(addr), b)
	return nil
}

// Load reads size bytes at offset and assembles them into an unsigned
// integer using the space's byte order. Also returns the number of bytes
// that were read before being initialized; those read as zero.
func (s *AddressSpace) Load(offset *big.Int, size int) (*big.Int, int, error) {
	assert(size >= 0, "load: invalid size: %d", size)
	if s.Kind == SpaceConst {
		return truncate(offset, uint(size)*8), 0, nil
	}

	buf := make([]byte, size)
	var uninit int
	for i := range buf {
		addr := new(big.Int).Add(offset, big.NewInt(int64(i)))
		b, ok := s.ByteAt(addr)
		if !ok {
			if s.Strict {
				return nil, 0, errors.Wrapf(ErrUninitializedRead, "%s @%s", s.Name, hex(addr))
			}
			uninit++
		}
		buf[i] = b
	}
	return decodeBytes(buf, s.arch.BigEndian), uninit, nil
}

// Store packs value into size bytes at offset. Values wider than size
// bytes are truncated and negative values are stored in two's complement.
func (s *AddressSpace) Store(offset *big.Int, size int, value *big.Int) error {
	assert(size >= 0, "store: invalid size: %d", size)
	if s.Kind == SpaceConst {
		return errors.Wrapf(ErrInvalidWrite, "write to %s space @%s", s.Name, hex(offset))
	}
	for i, b := range encodeBytes(value, size, s.arch.BigEndian) {
		s.contents = s.contents.Set(new(big.Int).Add(offset, big.NewInt(int64(i))), b)
	}
	return nil
}

// Each calls fn for every initialized byte in ascending address order.
func (s *AddressSpace) Each(fn func(addr *big.Int, b byte)) {
	itr := s.contents.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fn(k.(*big.Int), v.(byte))
	}
}

// encodeBytes returns the low size bytes of v in memory order.
func encodeBytes(v *big.Int, size int, bigEndian bool) []byte {
	buf := make([]byte, size)
	truncate(v, uint(size)*8).FillBytes(buf)
	if !bigEndian {
		reverseBytes(buf)
	}
	return buf
}

// decodeBytes assembles bytes in memory order into an unsigned integer.
func decodeBytes(b []byte, bigEndian bool) *big.Int {
	if !bigEndian {
		tmp := make([]byte, len(b))
		copy(tmp, b)
		reverseBytes(tmp)
		b = tmp
	}
	return new(big.Int).SetBytes(b)
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// bigIntComparer compares two arbitrary precision integers. Implements immutable.Comparer.
type bigIntComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a *big.Int.
func (c *bigIntComparer) Compare(a, b interface{}) int {
	return a.(*big.Int).Cmp(b.(*big.Int))
}
