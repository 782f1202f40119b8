package pcode

import (
	"math/big"
	"sort"

	"github.com/benbjohnson/pcode/internal/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MachineState holds the concrete state of an interpreted program: its
// address spaces and the micro program counter.
type MachineState struct {
	program *Program
	spaces  map[string]*AddressSpace
	exits   map[string]struct{} // return addresses that halt the machine

	// Index of the next micro op to execute.
	MicroPC int

	// Set once control returns to an exit address.
	Halted bool

	Logger *log.Logger
}

// NewMachineState returns a state for p with empty register & temp
// spaces and RAM seeded from the program's data segment.
func NewMachineState(p *Program) *MachineState {
	ram := p.Data.Clone()
	s := &MachineState{
		program: p,
		spaces:  make(map[string]*AddressSpace),
		exits:   make(map[string]struct{}),
		Logger:  log.NewNop(),
	}
	s.AddSpace(ram)
	s.AddSpace(NewAddressSpace(SpaceNameRegister, SpaceRegister, p.Arch))
	s.AddSpace(NewAddressSpace(SpaceNameUnique, SpaceTemp, p.Arch))
	s.AddSpace(NewAddressSpace(SpaceNameConst, SpaceConst, p.Arch))
	return s
}

// Program returns the program the state executes.
func (s *MachineState) Program() *Program { return s.program }

// Clone returns a copy of the state. Spaces are copied on write so
// cloning is cheap.
func (s *MachineState) Clone() *MachineState {
	other := &MachineState{
		program: s.program,
		spaces:  make(map[string]*AddressSpace, len(s.spaces)),
		exits:   make(map[string]struct{}, len(s.exits)),
		MicroPC: s.MicroPC,
		Halted:  s.Halted,
		Logger:  s.Logger,
	}
	for name, space := range s.spaces {
		other.spaces[name] = space.Clone()
	}
	for k := range s.exits {
		other.exits[k] = struct{}{}
	}
	return other
}

// AddSpace registers an address space, replacing any space with the same name.
func (s *MachineState) AddSpace(space *AddressSpace) {
	s.spaces[space.Name] = space
}

// Space returns the address space with the given name.
func (s *MachineState) Space(name string) (*AddressSpace, error) {
	if space, ok := s.spaces[name]; ok {
		return space, nil
	}
	return nil, errors.Wrapf(ErrUnresolvedAddressSpace, "%q", name)
}

// Spaces returns all address spaces sorted by name.
func (s *MachineState) Spaces() []*AddressSpace {
	a := make([]*AddressSpace, 0, len(s.spaces))
	for _, space := range s.spaces {
		a = append(a, space)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	return a
}

// resolve returns the space a varnode refers to in this state.
func (s *MachineState) resolve(v *Varnode) (*AddressSpace, error) {
	if space, ok := s.spaces[v.SpaceName]; ok {
		return space, nil
	} else if v.Space != nil {
		return v.Space, nil
	}
	return nil, errors.Wrapf(ErrUnresolvedAddressSpace, "%q", v.SpaceName)
}

// LoadDirect reads an unsigned value of size bytes at offset in space.
// Uninitialized bytes read as zero and are reported as a warning.
func (s *MachineState) LoadDirect(space *AddressSpace, offset *big.Int, size int) (*big.Int, error) {
	v, uninit, err := space.Load(offset, size)
	if err != nil {
		return nil, err
	} else if uninit > 0 {
		s.Logger.Warn("uninitialized read",
			log.Space(space.Name),
			log.Addr(offset),
			log.Size(size),
			zap.Int("missing", uninit),
		)
	}
	return v, nil
}

// StoreDirect writes value into size bytes at offset in space.
func (s *MachineState) StoreDirect(space *AddressSpace, offset *big.Int, size int, value *big.Int) error {
	return space.Store(offset, size, value)
}

// FetchUnsigned returns the unsigned value held by v.
func (s *MachineState) FetchUnsigned(v *Varnode) (*big.Int, error) {
	if v.Size == 0 {
		return new(big.Int), nil
	}
	space, err := s.resolve(v)
	if err != nil {
		return nil, err
	}
	return s.LoadDirect(space, v.Offset, v.Size)
}

// FetchSigned returns the two's complement value held by v.
func (s *MachineState) FetchSigned(v *Varnode) (*big.Int, error) {
	u, err := s.FetchUnsigned(v)
	if err != nil || v.Size == 0 {
		return u, err
	}
	return toSigned(u, v.Width()), nil
}

// StoreUnsigned writes x into v, truncating to the varnode's size.
func (s *MachineState) StoreUnsigned(v *Varnode, x *big.Int) error {
	if v.Size == 0 {
		return nil
	}
	space, err := s.resolve(v)
	if err != nil {
		return err
	}
	return s.StoreDirect(space, v.Offset, v.Size, x)
}

// StoreSigned writes x into v in two's complement, truncating to the
// varnode's size.
func (s *MachineState) StoreSigned(v *Varnode, x *big.Int) error {
	return s.StoreUnsigned(v, truncate(x, v.Width()))
}

// LoadIndirect reads size bytes from the space named spaceID at the
// address held by pointer.
func (s *MachineState) LoadIndirect(pointer *Varnode, spaceID string, size int) (*big.Int, error) {
	addr, err := s.FetchUnsigned(pointer)
	if err != nil {
		return nil, err
	}
	space, err := s.Space(spaceID)
	if err != nil {
		return nil, err
	}
	return s.LoadDirect(space, addr, size)
}

// StoreIndirect writes value into size bytes of the space named spaceID at
// the address held by pointer.
func (s *MachineState) StoreIndirect(pointer *Varnode, spaceID string, size int, value *big.Int) error {
	addr, err := s.FetchUnsigned(pointer)
	if err != nil {
		return err
	}
	space, err := s.Space(spaceID)
	if err != nil {
		return err
	}
	return s.StoreDirect(space, addr, size, value)
}

// CopyBytes copies src into dst. Both varnodes must have the same size.
func (s *MachineState) CopyBytes(dst, src *Varnode) error {
	if dst.Size != src.Size {
		return errors.Wrapf(ErrSizeMismatch, "copy %s <- %s", dst, src)
	}
	v, err := s.FetchUnsigned(src)
	if err != nil {
		return err
	}
	return s.StoreUnsigned(dst, v)
}

// ReadRegister reads size bytes of the register space at offset.
func (s *MachineState) ReadRegister(offset *big.Int, size int) (*big.Int, error) {
	return s.FetchUnsigned(NewVarnode(SpaceNameRegister, offset, size))
}

// WriteRegister writes size bytes of the register space at offset.
func (s *MachineState) WriteRegister(offset *big.Int, size int, value *big.Int) error {
	return s.StoreUnsigned(NewVarnode(SpaceNameRegister, offset, size), value)
}

// Peek reads size bytes of RAM at addr.
func (s *MachineState) Peek(addr *big.Int, size int) (*big.Int, error) {
	return s.FetchUnsigned(NewVarnode(SpaceNameRAM, addr, size))
}

// Poke writes size bytes of RAM at addr.
func (s *MachineState) Poke(addr *big.Int, size int, value *big.Int) error {
	return s.StoreUnsigned(NewVarnode(SpaceNameRAM, addr, size), value)
}

// AddExit registers a return address that halts the machine when an
// indirect branch targets it.
func (s *MachineState) AddExit(addr *big.Int) {
	s.exits[addr.String()] = struct{}{}
}

// IsExit returns true if addr was registered with AddExit.
func (s *MachineState) IsExit(addr *big.Int) bool {
	_, ok := s.exits[addr.String()]
	return ok
}
