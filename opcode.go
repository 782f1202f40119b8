package pcode

import (
	"fmt"

	"github.com/pkg/errors"
)

// Opcode identifies a P-Code micro operation.
type Opcode int

// Micro operation codes.
const (
	COPY Opcode = iota
	LOAD
	STORE
	BRANCH
	CBRANCH
	BRANCHIND
	CALL
	CALLIND
	RETURN
	PIECE
	SUBPIECE
	INT_EQUAL
	INT_NOTEQUAL
	INT_LESS
	INT_SLESS
	INT_LESSEQUAL
	INT_SLESSEQUAL
	INT_ZEXT
	INT_SEXT
	INT_ADD
	INT_SUB
	INT_CARRY
	INT_SCARRY
	INT_SBORROW
	INT_2COMP
	INT_NEGATE
	INT_XOR
	INT_AND
	INT_OR
	INT_LEFT
	INT_RIGHT
	INT_SRIGHT
	INT_MULT
	INT_DIV
	INT_REM
	INT_SDIV
	INT_SREM
	BOOL_NEGATE
	BOOL_XOR
	BOOL_AND
	BOOL_OR
	FLOAT_EQUAL
	FLOAT_NOTEQUAL
	FLOAT_LESS
	FLOAT_LESSEQUAL
	FLOAT_ADD
	FLOAT_SUB
	FLOAT_MULT
	FLOAT_DIV
	FLOAT_NEG
	FLOAT_ABS
	FLOAT_SQRT
	FLOAT_CEIL
	FLOAT_FLOOR
	FLOAT_ROUND
	FLOAT_UNORDERED
	FLOAT_NAN
	INT2FLOAT
	FLOAT2FLOAT
	TRUNC
	MULTIEQUAL
	INDIRECT
	PTRADD

	opcodeCount
)

var opcodes = [...]string{
	COPY:            "COPY",
	LOAD:            "LOAD",
	STORE:           "STORE",
	BRANCH:          "BRANCH",
	CBRANCH:         "CBRANCH",
	BRANCHIND:       "BRANCHIND",
	CALL:            "CALL",
	CALLIND:         "CALLIND",
	RETURN:          "RETURN",
	PIECE:           "PIECE",
	SUBPIECE:        "SUBPIECE",
	INT_EQUAL:       "INT_EQUAL",
	INT_NOTEQUAL:    "INT_NOTEQUAL",
	INT_LESS:        "INT_LESS",
	INT_SLESS:       "INT_SLESS",
	INT_LESSEQUAL:   "INT_LESSEQUAL",
	INT_SLESSEQUAL:  "INT_SLESSEQUAL",
	INT_ZEXT:        "INT_ZEXT",
	INT_SEXT:        "INT_SEXT",
	INT_ADD:         "INT_ADD",
	INT_SUB:         "INT_SUB",
	INT_CARRY:       "INT_CARRY",
	INT_SCARRY:      "INT_SCARRY",
	INT_SBORROW:     "INT_SBORROW",
	INT_2COMP:       "INT_2COMP",
	INT_NEGATE:      "INT_NEGATE",
	INT_XOR:         "INT_XOR",
	INT_AND:         "INT_AND",
	INT_OR:          "INT_OR",
	INT_LEFT:        "INT_LEFT",
	INT_RIGHT:       "INT_RIGHT",
	INT_SRIGHT:      "INT_SRIGHT",
	INT_MULT:        "INT_MULT",
	INT_DIV:         "INT_DIV",
	INT_REM:         "INT_REM",
	INT_SDIV:        "INT_SDIV",
	INT_SREM:        "INT_SREM",
	BOOL_NEGATE:     "BOOL_NEGATE",
	BOOL_XOR:        "BOOL_XOR",
	BOOL_AND:        "BOOL_AND",
	BOOL_OR:         "BOOL_OR",
	FLOAT_EQUAL:     "FLOAT_EQUAL",
	FLOAT_NOTEQUAL:  "FLOAT_NOTEQUAL",
	FLOAT_LESS:      "FLOAT_LESS",
	FLOAT_LESSEQUAL: "FLOAT_LESSEQUAL",
	FLOAT_ADD:       "FLOAT_ADD",
	FLOAT_SUB:       "FLOAT_SUB",
	FLOAT_MULT:      "FLOAT_MULT",
	FLOAT_DIV:       "FLOAT_DIV",
	FLOAT_NEG:       "FLOAT_NEG",
	FLOAT_ABS:       "FLOAT_ABS",
	FLOAT_SQRT:      "FLOAT_SQRT",
	FLOAT_CEIL:      "FLOAT_CEIL",
	FLOAT_FLOOR:     "FLOAT_FLOOR",
	FLOAT_ROUND:     "FLOAT_ROUND",
	FLOAT_UNORDERED: "FLOAT_UNORDERED",
	FLOAT_NAN:       "FLOAT_NAN",
	INT2FLOAT:       "INT2FLOAT",
	FLOAT2FLOAT:     "FLOAT2FLOAT",
	TRUNC:           "TRUNC",
	MULTIEQUAL:      "MULTIEQUAL",
	INDIRECT:        "INDIRECT",
	PTRADD:          "PTRADD",
}

// Opcodes returns every opcode in declaration order.
func Opcodes() []Opcode {
	a := make([]Opcode, opcodeCount)
	for i := range a {
		a[i] = Opcode(i)
	}
	return a
}

// ParseOpcode returns the opcode for a mnemonic.
func ParseOpcode(mnemonic string) (Opcode, error) {
	for i, s := range opcodes {
		if s == mnemonic {
			return Opcode(i), nil
		}
	}
	return 0, errors.Errorf("pcode: unknown opcode: %q", mnemonic)
}

// String returns the mnemonic of the opcode.
func (op Opcode) String() string {
	if op >= 0 && op < opcodeCount {
		return opcodes[op]
	}
	return fmt.Sprintf("Opcode<%d>", op)
}

// IsValid returns true if op is a known opcode.
func (op Opcode) IsValid() bool {
	return op >= 0 && op < opcodeCount
}

// IsFloat returns true for floating-point operations.
func (op Opcode) IsFloat() bool {
	return op >= FLOAT_EQUAL && op <= TRUNC
}

// IsBranch returns true for operations that transfer control.
func (op Opcode) IsBranch() bool {
	switch op {
	case BRANCH, CBRANCH, BRANCHIND, CALL, CALLIND, RETURN:
		return true
	default:
		return false
	}
}

// IsIndirect returns true for operations whose target is computed at runtime.
func (op Opcode) IsIndirect() bool {
	return op == BRANCHIND || op == CALLIND || op == RETURN
}

// IsImplemented returns true if both the interpreter and translator give
// the operation a semantics.
func (op Opcode) IsImplemented() bool {
	return op.IsValid() && !op.IsFloat() && op != MULTIEQUAL && op != INDIRECT && op != PTRADD
}

// HasOutput returns true if the operation writes an output varnode.
func (op Opcode) HasOutput() bool {
	switch op {
	case STORE, BRANCH, CBRANCH, BRANCHIND, CALL, CALLIND, RETURN:
		return false
	default:
		return true
	}
}

// NumInputs returns the minimum number of input varnodes for the operation.
// Calls, returns and MULTIEQUAL may carry additional inputs.
func (op Opcode) NumInputs() int {
	switch op {
	case COPY, LOAD, BRANCH, BRANCHIND, CALL, CALLIND, RETURN,
		INT_ZEXT, INT_SEXT, INT_2COMP, INT_NEGATE, BOOL_NEGATE,
		FLOAT_NEG, FLOAT_ABS, FLOAT_SQRT, FLOAT_CEIL, FLOAT_FLOOR, FLOAT_ROUND, FLOAT_NAN,
		INT2FLOAT, FLOAT2FLOAT, TRUNC, MULTIEQUAL:
		return 1
	case PTRADD:
		return 3
	default:
		return 2
	}
}
