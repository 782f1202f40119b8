package pcode

import (
	"embed"
	"math/big"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed abi/*.yaml
var abiFS embed.FS

// Frame is the register & memory access an ABI needs to set up and tear
// down a call. Implemented by MachineState and SimState.
type Frame interface {
	ReadRegister(offset *big.Int, size int) (*big.Int, error)
	WriteRegister(offset *big.Int, size int, value *big.Int) error
	Peek(addr *big.Int, size int) (*big.Int, error)
	Poke(addr *big.Int, size int, value *big.Int) error
}

// ABI describes a calling convention: which registers hold arguments and
// return values, where the stack lives, and how the return address is
// passed. Register locations are offsets into the register space.
type ABI struct {
	Name         string   `yaml:"name"`
	Aliases      []string `yaml:"aliases"`
	AddrBytes    int      `yaml:"addr_bytes"`
	SymbolPrefix string   `yaml:"symbol_prefix"`

	Arguments []uint64 `yaml:"arguments"`
	Returns   []uint64 `yaml:"returns"`
	Stack     uint64   `yaml:"stack"`
	Frame     *uint64  `yaml:"frame"`
	Link      *uint64  `yaml:"link"` // if set, the return address is passed here instead of on the stack
	PC        uint64   `yaml:"pc"`

	Registers map[string]uint64 `yaml:"registers"`
	Flags     map[string]uint64 `yaml:"flags"`
}

// ParseABI decodes an ABI table from YAML.
func ParseABI(data []byte) (*ABI, error) {
	var abi ABI
	if err := yaml.Unmarshal(data, &abi); err != nil {
		return nil, errors.Wrap(err, "pcode: parse abi")
	} else if abi.Name == "" {
		return nil, errors.New("pcode: abi name required")
	} else if abi.AddrBytes <= 0 {
		return nil, errors.Errorf("pcode: abi %s: invalid addr_bytes: %d", abi.Name, abi.AddrBytes)
	} else if len(abi.Arguments) == 0 || len(abi.Returns) == 0 {
		return nil, errors.Errorf("pcode: abi %s: argument and return registers required", abi.Name)
	}
	return &abi, nil
}

// LookupABI returns the built-in ABI with the given name or alias. Each
// call returns a new copy.
func LookupABI(name string) (*ABI, error) {
	abis, err := builtinABIs()
	if err != nil {
		return nil, err
	}
	name = strings.ToLower(name)
	for _, abi := range abis {
		if abi.Name == name {
			return abi, nil
		}
		for _, alias := range abi.Aliases {
			if alias == name {
				return abi, nil
			}
		}
	}
	return nil, errors.Wrapf(ErrUnknownABI, "%q", name)
}

// ABINames returns the names of all built-in ABIs.
func ABINames() []string {
	abis, err := builtinABIs()
	assert(err == nil, "invalid builtin abi: %v", err)

	a := make([]string, len(abis))
	for i := range abis {
		a[i] = abis[i].Name
	}
	sort.Strings(a)
	return a
}

func builtinABIs() ([]*ABI, error) {
	entries, err := abiFS.ReadDir("abi")
	if err != nil {
		return nil, err
	}
	var a []*ABI
	for _, entry := range entries {
		data, err := abiFS.ReadFile(path.Join("abi", entry.Name()))
		if err != nil {
			return nil, err
		}
		abi, err := ParseABI(data)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", entry.Name())
		}
		a = append(a, abi)
	}
	return a, nil
}

// AddrWidth returns the pointer width in bits.
func (abi *ABI) AddrWidth() uint { return uint(abi.AddrBytes) * 8 }

// ArgumentRegister returns the register holding the i-th argument.
func (abi *ABI) ArgumentRegister(i int) (*big.Int, error) {
	if i < 0 || i >= len(abi.Arguments) {
		return nil, errors.Wrapf(ErrNoSuchArgumentSlot, "%s: argument %d", abi.Name, i)
	}
	return new(big.Int).SetUint64(abi.Arguments[i]), nil
}

// ReturnRegister returns the register holding the i-th return value.
func (abi *ABI) ReturnRegister(i int) (*big.Int, error) {
	if i < 0 || i >= len(abi.Returns) {
		return nil, errors.Wrapf(ErrNoSuchArgumentSlot, "%s: return %d", abi.Name, i)
	}
	return new(big.Int).SetUint64(abi.Returns[i]), nil
}

// StackRegister returns the stack pointer register.
func (abi *ABI) StackRegister() *big.Int { return new(big.Int).SetUint64(abi.Stack) }

// FrameRegister returns the frame pointer register, if the ABI has one.
func (abi *ABI) FrameRegister() (*big.Int, bool) {
	if abi.Frame == nil {
		return nil, false
	}
	return new(big.Int).SetUint64(*abi.Frame), true
}

// LinkRegister returns the register holding the return address, if the
// ABI passes it in a register.
func (abi *ABI) LinkRegister() (*big.Int, bool) {
	if abi.Link == nil {
		return nil, false
	}
	return new(big.Int).SetUint64(*abi.Link), true
}

// ProgramCounter returns the program counter register.
func (abi *ABI) ProgramCounter() *big.Int { return new(big.Int).SetUint64(abi.PC) }

// Register returns a named register or flag.
func (abi *ABI) Register(name string) (*big.Int, bool) {
	if off, ok := abi.Registers[name]; ok {
		return new(big.Int).SetUint64(off), true
	} else if off, ok := abi.Flags[name]; ok {
		return new(big.Int).SetUint64(off), true
	}
	return nil, false
}

// Mangle returns the symbol name used for a function in the program.
func (abi *ABI) Mangle(symbol string) string {
	return abi.SymbolPrefix + symbol
}

// Push decrements the stack pointer and writes v at the new top of stack.
func (abi *ABI) Push(f Frame, v *big.Int) error {
	sp, err := f.ReadRegister(abi.StackRegister(), abi.AddrBytes)
	if err != nil {
		return err
	}
	sp = truncate(sp.Sub(sp, big.NewInt(int64(abi.AddrBytes))), abi.AddrWidth())
	if err := f.Poke(sp, abi.AddrBytes, v); err != nil {
		return err
	}
	return f.WriteRegister(abi.StackRegister(), abi.AddrBytes, sp)
}

// Pop reads the value at the top of stack and increments the stack pointer.
func (abi *ABI) Pop(f Frame) (*big.Int, error) {
	sp, err := f.ReadRegister(abi.StackRegister(), abi.AddrBytes)
	if err != nil {
		return nil, err
	}
	v, err := f.Peek(sp, abi.AddrBytes)
	if err != nil {
		return nil, err
	}
	sp = truncate(sp.Add(sp, big.NewInt(int64(abi.AddrBytes))), abi.AddrWidth())
	if err := f.WriteRegister(abi.StackRegister(), abi.AddrBytes, sp); err != nil {
		return nil, err
	}
	return v, nil
}

// SetupCallFrame places args in the argument registers and passes the
// return address on the stack or in the link register.
func (abi *ABI) SetupCallFrame(f Frame, returnAddr *big.Int, args ...*big.Int) error {
	for i, arg := range args {
		reg, err := abi.ArgumentRegister(i)
		if err != nil {
			return err
		}
		if err := f.WriteRegister(reg, abi.AddrBytes, arg); err != nil {
			return err
		}
	}
	if lr, ok := abi.LinkRegister(); ok {
		return f.WriteRegister(lr, abi.AddrBytes, returnAddr)
	}
	return abi.Push(f, returnAddr)
}

// ExtractCallReturns reads every return register.
func (abi *ABI) ExtractCallReturns(f Frame) ([]*big.Int, error) {
	a := make([]*big.Int, len(abi.Returns))
	for i := range abi.Returns {
		reg, _ := abi.ReturnRegister(i)
		v, err := f.ReadRegister(reg, abi.AddrBytes)
		if err != nil {
			return nil, err
		}
		a[i] = v
	}
	return a, nil
}

// InitStack sets the stack register, and the frame register if present,
// to bottom.
func (abi *ABI) InitStack(f Frame, bottom *big.Int) error {
	if err := f.WriteRegister(abi.StackRegister(), abi.AddrBytes, bottom); err != nil {
		return err
	}
	if fp, ok := abi.FrameRegister(); ok {
		return f.WriteRegister(fp, abi.AddrBytes, bottom)
	}
	return nil
}
