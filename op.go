package pcode

import (
	"bytes"
	"fmt"
	"math/big"
)

// SeqNum identifies a micro op: the macro instruction address it was
// lifted from and its index within that instruction.
type SeqNum struct {
	Addr *big.Int
	Uniq int
}

// String returns the string representation of the sequence number.
func (s SeqNum) String() string {
	return fmt.Sprintf("%s:%d", hex(s.Addr), s.Uniq)
}

// Position is a location in a source document.
type Position struct {
	Line   int
	Column int
}

// IsValid returns true if the position has a line number.
func (p Position) IsValid() bool { return p.Line > 0 }

// String returns the string representation of the position.
func (p Position) String() string {
	if !p.IsValid() {
		return "-"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// MicroOp is a single P-Code operation.
type MicroOp struct {
	Opcode Opcode
	Output *Varnode
	Inputs []*Varnode
	Seq    SeqNum

	// Name of the target space for LOAD & STORE.
	SpaceID string

	BlockStart bool   // first op of a basic block
	FuncStart  bool   // first op of a function
	Function   string // owning function name

	Pos Position
}

// NewMicroOp returns a new micro op. Set Seq before adding it to a program.
func NewMicroOp(opcode Opcode, output *Varnode, inputs ...*Varnode) *MicroOp {
	return &MicroOp{Opcode: opcode, Output: output, Inputs: inputs}
}

// Input returns the i-th input or nil if it does not exist.
func (op *MicroOp) Input(i int) *Varnode {
	if i < 0 || i >= len(op.Inputs) {
		return nil
	}
	return op.Inputs[i]
}

// IsMacroStart returns true if op is the first micro op of its macro instruction.
func (op *MicroOp) IsMacroStart() bool { return op.Seq.Uniq == 0 }

// String returns the string representation of the op.
func (op *MicroOp) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s", op.Seq, op.Opcode)
	if op.SpaceID != "" {
		fmt.Fprintf(&buf, " [%s]", op.SpaceID)
	}
	if op.Output != nil {
		fmt.Fprintf(&buf, " %s <-", op.Output)
	}
	for _, in := range op.Inputs {
		fmt.Fprintf(&buf, " %s", in)
	}
	return buf.String()
}
