package pcode_test

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/benbjohnson/pcode"
	"github.com/pkg/errors"
)

func TestAddressSpace_Load(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		for _, bigEndian := range []bool{false, true} {
			for size := 1; size <= 8; size++ {
				t.Run(fmt.Sprintf("%v/%d", bigEndian, size), func(t *testing.T) {
					s := pcode.NewAddressSpace("ram", pcode.SpaceRAM, pcode.ArchSpec{WordSize: 8, BigEndian: bigEndian})
					value := new(big.Int).Rsh(MustParseHex("0x8877665544332211"), uint(64-size*8))
					if err := s.Store(Big(0x100), size, value); err != nil {
						t.Fatal(err)
					}
					if v, uninit, err := s.Load(Big(0x100), size); err != nil {
						t.Fatal(err)
					} else if uninit != 0 {
						t.Fatalf("unexpected uninitialized bytes: %d", uninit)
					} else if v.Cmp(value) != 0 {
						t.Fatalf("unexpected value: %s", v.Text(16))
					}
				})
			}
		}
	})

	t.Run("ByteOrder", func(t *testing.T) {
		le := pcode.NewAddressSpace("ram", pcode.SpaceRAM, pcode.ArchSpec{WordSize: 4})
		if err := le.Store(Big(0), 4, Big(0xAABBCCDD)); err != nil {
			t.Fatal(err)
		} else if b, _ := le.ByteAt(Big(0)); b != 0xDD {
			t.Fatalf("unexpected little endian low byte: %x", b)
		}

		be := pcode.NewAddressSpace("ram", pcode.SpaceRAM, pcode.ArchSpec{WordSize: 4, BigEndian: true})
		if err := be.Store(Big(0), 4, Big(0xAABBCCDD)); err != nil {
			t.Fatal(err)
		} else if b, _ := be.ByteAt(Big(0)); b != 0xAA {
			t.Fatalf("unexpected big endian low byte: %x", b)
		}
	})

	t.Run("Uninitialized", func(t *testing.T) {
		s := pcode.NewAddressSpace("ram", pcode.SpaceRAM, pcode.DefaultArch)
		if err := s.SetByte(Big(1), 0xFF); err != nil {
			t.Fatal(err)
		}
		if v, uninit, err := s.Load(Big(0), 4); err != nil {
			t.Fatal(err)
		} else if uninit != 3 {
			t.Fatalf("unexpected uninitialized count: %d", uninit)
		} else if v.Cmp(Big(0xFF00)) != 0 {
			t.Fatalf("unexpected value: %s", v.Text(16))
		}
	})

	t.Run("Strict", func(t *testing.T) {
		s := pcode.NewAddressSpace("rom", pcode.SpaceRAM, pcode.DefaultArch)
		s.Strict = true
		if _, _, err := s.Load(Big(0), 1); !errors.Is(err, pcode.ErrUninitializedRead) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Const", func(t *testing.T) {
		s := pcode.NewAddressSpace("const", pcode.SpaceConst, pcode.DefaultArch)
		if v, _, err := s.Load(Big(0x1234), 1); err != nil {
			t.Fatal(err)
		} else if v.Cmp(Big(0x34)) != 0 {
			t.Fatalf("unexpected value: %s", v.Text(16))
		}
		if err := s.Store(Big(0), 1, Big(1)); !errors.Is(err, pcode.ErrInvalidWrite) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestAddressSpace_Store(t *testing.T) {
	t.Run("Truncate", func(t *testing.T) {
		s := pcode.NewAddressSpace("ram", pcode.SpaceRAM, pcode.DefaultArch)
		if err := s.Store(Big(0), 2, Big(0x123456)); err != nil {
			t.Fatal(err)
		} else if v, _, _ := s.Load(Big(0), 2); v.Cmp(Big(0x3456)) != 0 {
			t.Fatalf("unexpected value: %s", v.Text(16))
		} else if s.Len() != 2 {
			t.Fatalf("unexpected len: %d", s.Len())
		}
	})

	t.Run("Negative", func(t *testing.T) {
		s := pcode.NewAddressSpace("ram", pcode.SpaceRAM, pcode.DefaultArch)
		if err := s.Store(Big(0), 2, big.NewInt(-2)); err != nil {
			t.Fatal(err)
		} else if v, _, _ := s.Load(Big(0), 2); v.Cmp(Big(0xFFFE)) != 0 {
			t.Fatalf("unexpected value: %s", v.Text(16))
		}
	})
}

func TestAddressSpace_Clone(t *testing.T) {
	s := pcode.NewAddressSpace("ram", pcode.SpaceRAM, pcode.DefaultArch)
	if err := s.SetByte(Big(0), 1); err != nil {
		t.Fatal(err)
	}
	other := s.Clone()
	if err := other.SetByte(Big(0), 2); err != nil {
		t.Fatal(err)
	}
	if b, _ := s.ByteAt(Big(0)); b != 1 {
		t.Fatalf("unexpected original byte: %d", b)
	} else if b, _ := other.ByteAt(Big(0)); b != 2 {
		t.Fatalf("unexpected clone byte: %d", b)
	}
}

func TestAddressSpace_Each(t *testing.T) {
	s := pcode.NewAddressSpace("ram", pcode.SpaceRAM, pcode.DefaultArch)
	for _, addr := range []uint64{0x30, 0x10, 0x20} {
		if err := s.SetByte(Big(addr), byte(addr)); err != nil {
			t.Fatal(err)
		}
	}

	var addrs []uint64
	s.Each(func(addr *big.Int, b byte) {
		if uint64(b) != addr.Uint64() {
			t.Fatalf("unexpected byte at %s: %d", addr, b)
		}
		addrs = append(addrs, addr.Uint64())
	})
	if fmt.Sprint(addrs) != "[16 32 48]" {
		t.Fatalf("unexpected order: %v", addrs)
	}
}

func TestSpaceKindOf(t *testing.T) {
	for name, kind := range map[string]pcode.SpaceKind{
		"ram":      pcode.SpaceRAM,
		"register": pcode.SpaceRegister,
		"unique":   pcode.SpaceTemp,
		"const":    pcode.SpaceConst,
		"code":     pcode.SpaceRAM,
	} {
		if got := pcode.SpaceKindOf(name); got != kind {
			t.Errorf("%s: unexpected kind: %s", name, got)
		}
	}
}
