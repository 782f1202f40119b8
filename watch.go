package pcode

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// Watch reports the value of a location whenever execution reaches a
// macro instruction address.
type Watch interface {
	Address() *big.Int
	Comment() string
	Read(s *MachineState) (*big.Int, error)
}

// DirectWatch reads a register or a memory location at a fixed address.
type DirectWatch struct {
	Addr     *big.Int
	Note     string
	Location *Varnode
}

// Address returns the macro instruction address that triggers the watch.
func (w *DirectWatch) Address() *big.Int { return w.Addr }

// Comment returns the text reported alongside the value.
func (w *DirectWatch) Comment() string { return w.Note }

// Read returns the unsigned value of the watched location.
func (w *DirectWatch) Read(s *MachineState) (*big.Int, error) {
	return s.FetchUnsigned(w.Location)
}

// String returns the string representation of the watch.
func (w *DirectWatch) String() string {
	return fmt.Sprintf("(watch %s %s %q)", hex(w.Addr), w.Location, w.Note)
}

// IndirectWatch reads a memory location reached through a chain of
// pointers. The first offset is added to the base value and the result is
// loaded at word size; this repeats until the last offset, which is used
// to load the reported value at Size bytes.
type IndirectWatch struct {
	Addr    *big.Int
	Note    string
	Base    *Varnode
	SpaceID string
	Offsets []*big.Int
	Size    int
}

// Address returns the macro instruction address that triggers the watch.
func (w *IndirectWatch) Address() *big.Int { return w.Addr }

// Comment returns the text reported alongside the value.
func (w *IndirectWatch) Comment() string { return w.Note }

// Read follows the pointer chain and returns the final value.
func (w *IndirectWatch) Read(s *MachineState) (*big.Int, error) {
	if len(w.Offsets) == 0 {
		return nil, errors.New("pcode: indirect watch requires at least one offset")
	}
	space, err := s.Space(w.SpaceID)
	if err != nil {
		return nil, err
	}

	ptr, err := s.FetchUnsigned(w.Base)
	if err != nil {
		return nil, err
	}
	for j, off := range w.Offsets {
		size := s.Program().Arch.WordSize
		if j == len(w.Offsets)-1 {
			size = w.Size
		}
		if ptr, err = s.LoadDirect(space, new(big.Int).Add(ptr, off), size); err != nil {
			return nil, err
		}
	}
	return ptr, nil
}

// String returns the string representation of the watch.
func (w *IndirectWatch) String() string {
	return fmt.Sprintf("(watch %s [%s]%v:%d %q)", hex(w.Addr), w.Base, w.Offsets, w.Size, w.Note)
}
