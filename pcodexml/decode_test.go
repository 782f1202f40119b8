package pcodexml_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/benbjohnson/pcode"
	"github.com/benbjohnson/pcode/pcodexml"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	p, err := pcodexml.Load("testdata/sum.xml")
	require.NoError(t, err)

	require.Equal(t, pcode.ArchSpec{WordSize: 8}, p.Arch)
	require.Len(t, p.Code, 4)

	t.Run("Functions", func(t *testing.T) {
		var names []string
		for _, f := range p.Functions() {
			names = append(names, f.Name)
		}
		require.Equal(t, []string{"puts", "sum"}, names)

		puts, _ := p.Function("puts")
		require.True(t, puts.IsExternal())

		sum, _ := p.Function("sum")
		require.Equal(t, uint64(0x1000), sum.Entry.Offset.Uint64())
		require.Equal(t, 4, sum.Length)
		require.Equal(t, pcode.Position{Line: 9, Column: 3}, sum.Pos)
		require.Len(t, sum.Blocks, 1)
		require.Equal(t, pcode.Position{Line: 12, Column: 5}, sum.Blocks[0].Pos)
		require.Equal(t, uint64(0x1004), sum.Blocks[0].End.Offset.Uint64())
	})

	t.Run("Ops", func(t *testing.T) {
		op := p.Code[0]
		require.Equal(t, pcode.INT_ADD, op.Opcode)
		require.Equal(t, pcode.Position{Line: 13, Column: 7}, op.Pos)
		require.True(t, op.Output.Equal(pcode.Register(0x0, 8)))
		require.Len(t, op.Inputs, 2)

		load := p.Code[1]
		require.Equal(t, pcode.LOAD, load.Opcode)
		require.Equal(t, "ram", load.SpaceID)
		require.Len(t, load.Inputs, 1)

		ret := p.Code[3]
		require.Equal(t, pcode.RETURN, ret.Opcode)
		require.Nil(t, ret.Output)
		require.Len(t, ret.Inputs, 1)
		require.Equal(t, 2, ret.Seq.Uniq)
	})

	t.Run("Data", func(t *testing.T) {
		b, ok := p.Data.ByteAt(big.NewInt(0x4001))
		require.True(t, ok)
		require.Equal(t, byte(0xff), b)
	})

	t.Run("Call", func(t *testing.T) {
		abi, err := pcode.LookupABI("x86_64")
		require.NoError(t, err)

		itp := pcode.NewInterpreter(p)
		require.NoError(t, abi.InitStack(itp.State(), big.NewInt(0x8000)))
		rets, err := itp.Call(abi, "sum", big.NewInt(0xdead), 100, big.NewInt(7), big.NewInt(8))
		require.NoError(t, err)
		require.Equal(t, int64(15), rets[0].Int64())
	})
}

func TestDecode_BigEndian(t *testing.T) {
	p, err := pcodexml.Decode(strings.NewReader(`<program><endian isBigEndian="TRUE"/><wordSize bits="32"/></program>`))
	require.NoError(t, err)
	require.Equal(t, pcode.ArchSpec{WordSize: 4, BigEndian: true}, p.Arch)
}

func TestDecode_Errors(t *testing.T) {
	for _, tt := range []struct {
		name string
		doc  string
		msg  string
	}{
		{"Empty", ``, "missing root element"},
		{"Syntax", `<program><function_description>`, "pcodexml"},
		{"WordSize", `<program><wordSize bits="7"/></program>`, "invalid word size"},
		{"ArchAfterData", `<program><data_segment><byte address="0x0" value="0x1"/></data_segment><wordSize bits="32"/></program>`, "cannot change architecture"},
		{"DataValue", `<program><data_segment><byte address="0x0" value="0x100"/></data_segment></program>`, "out of range"},
		{"DataHex", `<program><data_segment><byte address="0xzz" value="0x1"/></data_segment></program>`, "invalid hex"},
		{"EmptyBlock", `<program><function_description><function name="f"/><basicblock></basicblock></function_description></program>`, "empty basic block"},
		{"BlockBeforeHeader", `<program><function_description><basicblock/></function_description></program>`, "before function header"},
		{"UnknownMnemonic", `<program><function_description><function name="f"/><basicblock>` +
			`<op mnemonic="FROB"><seqnum offset="0x0" uniq="0x0"/></op>` +
			`</basicblock></function_description></program>`, "unknown opcode"},
		{"MissingSeqnum", `<program><function_description><function name="f"/><basicblock>` +
			`<op mnemonic="RETURN"><void/><addr space="const" offset="0x0" size="8"/></op>` +
			`</basicblock></function_description></program>`, "missing seqnum"},
		{"TooManyArguments", `<program><function_description><function name="f"/><basicblock>` +
			`<op mnemonic="COPY"><seqnum offset="0x0" uniq="0x0"/><void/><void/><void/><void/><void/></op>` +
			`</basicblock></function_description></program>`, "too many arguments"},
		{"DuplicateFunction", `<program>` +
			`<function_description><function name="f"/></function_description>` +
			`<function_description><function name="f"/></function_description>` +
			`</program>`, "duplicate function"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pcodexml.Decode(strings.NewReader(tt.doc))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.msg)
		})
	}
}

// Ensure a decode error carries the position of the offending op.
func TestDecode_ErrorPosition(t *testing.T) {
	doc := "<program>\n<function_description>\n<function name=\"f\"/>\n<basicblock>\n" +
		"<op mnemonic=\"COPY\"><seqnum offset=\"0x0\" uniq=\"0x0\"/></op>\n" +
		"</basicblock>\n</function_description>\n</program>\n"
	_, err := pcodexml.Decode(strings.NewReader(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "5:1: ")
	require.Contains(t, err.Error(), "expected 1 inputs")
}
