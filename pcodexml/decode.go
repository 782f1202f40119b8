// Package pcodexml decodes programs from the P-Code XML export format.
//
// A document is a root element holding, in any order after the
// architecture elements, an optional data segment and a list of function
// descriptions:
//
//	<program>
//	  <endian isBigEndian="false"/>
//	  <wordSize bits="64"/>
//	  <data_segment>
//	    <byte address="0x4000" value="0x2a"/>
//	  </data_segment>
//	  <function_description>
//	    <function name="main"><addr space="ram" offset="0x1000"/></function>
//	    <basicblock>
//	      <op mnemonic="COPY">
//	        <seqnum space="ram" offset="0x1000" uniq="0x0"/>
//	        <addr space="register" offset="0x0" size="8"/>
//	        <addr space="const" offset="0x2a" size="8"/>
//	      </op>
//	    </basicblock>
//	  </function_description>
//	</program>
//
// Source positions are attached to functions, blocks and ops as they are
// decoded.
package pcodexml

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/benbjohnson/pcode"
	"github.com/benbjohnson/pcode/internal/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// maxSlots is the number of varnode slots in an op: one output and up to
// three inputs.
const maxSlots = 4

// Decoder reads a program from an XML stream.
type Decoder struct {
	d *xml.Decoder
	b *pcode.ProgramBuilder

	Logger *log.Logger
}

// NewDecoder returns a decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		d:      xml.NewDecoder(r),
		b:      pcode.NewProgramBuilder(pcode.DefaultArch),
		Logger: log.NewNop(),
	}
}

// Decode reads a program from r.
func Decode(r io.Reader) (*pcode.Program, error) {
	return NewDecoder(r).Decode()
}

// Load reads a program from the XML file at path.
func Load(path string) (*pcode.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return p, nil
}

// Decode reads the whole document and returns the assembled program.
func (dec *Decoder) Decode() (*pcode.Program, error) {
	// Find the root element.
	for {
		tok, err := dec.d.Token()
		if err == io.EOF {
			return nil, errors.New("pcodexml: missing root element")
		} else if err != nil {
			return nil, errors.Wrap(err, "pcodexml")
		}
		if _, ok := tok.(xml.StartElement); ok {
			break
		}
	}

	for {
		pos := dec.pos()
		tok, err := dec.d.Token()
		if err != nil {
			return nil, errors.Wrap(err, "pcodexml")
		}

		switch tok := tok.(type) {
		case xml.StartElement:
			if err := dec.decodeTopLevel(tok, pos); err != nil {
				return nil, err
			}
		case xml.EndElement:
			return dec.b.Build()
		}
	}
}

// pos returns the position of the next token.
func (dec *Decoder) pos() pcode.Position {
	line, col := dec.d.InputPos()
	return pcode.Position{Line: line, Column: col}
}

func (dec *Decoder) decodeTopLevel(start xml.StartElement, pos pcode.Position) error {
	switch name := start.Name.Local; {
	case strings.HasPrefix(name, "endian"):
		arch := dec.arch()
		arch.BigEndian = strings.HasPrefix(strings.ToLower(attr(start, "isBigEndian")), "true")
		if err := dec.b.SetArch(arch); err != nil {
			return errors.Wrapf(err, "%s", pos)
		}
		return dec.d.Skip()

	case strings.HasPrefix(name, "wordSize"):
		bits, err := strconv.Atoi(attr(start, "bits"))
		if err != nil || bits <= 0 || bits%8 != 0 {
			return errors.Errorf("%s: pcodexml: invalid word size: %q", pos, attr(start, "bits"))
		}
		arch := dec.arch()
		arch.WordSize = bits / 8
		if err := dec.b.SetArch(arch); err != nil {
			return errors.Wrapf(err, "%s", pos)
		}
		return dec.d.Skip()

	case strings.HasPrefix(name, "data_segment"):
		return dec.decodeDataSegment(start, pos)

	case strings.HasPrefix(name, "function_description"):
		return dec.decodeFunction(pos)

	default:
		dec.Logger.Debug("skip element", zap.String("name", name), zap.Stringer("pos", pos))
		return dec.d.Skip()
	}
}

// arch returns the architecture configured so far.
func (dec *Decoder) arch() pcode.ArchSpec {
	return dec.b.Arch()
}

type dataSegment struct {
	Bytes []struct {
		Address string `xml:"address,attr"`
		Value   string `xml:"value,attr"`
	} `xml:",any"`
}

func (dec *Decoder) decodeDataSegment(start xml.StartElement, pos pcode.Position) error {
	var seg dataSegment
	if err := dec.d.DecodeElement(&seg, &start); err != nil {
		return errors.Wrapf(err, "%s: pcodexml: data segment", pos)
	}
	for _, b := range seg.Bytes {
		addr, err := pcode.ParseHex(b.Address)
		if err != nil {
			return errors.Wrapf(err, "%s: data segment", pos)
		}
		value, err := pcode.ParseHex(b.Value)
		if err != nil {
			return errors.Wrapf(err, "%s: data segment", pos)
		} else if !value.IsUint64() || value.Uint64() > 0xff {
			return errors.Errorf("%s: pcodexml: data segment value out of range: %s", pos, b.Value)
		}
		if err := dec.b.SetData(addr, byte(value.Uint64())); err != nil {
			return err
		}
	}
	return nil
}

// functionHeader is the <function> element of a function description.
type functionHeader struct {
	Name  string `xml:"name,attr"`
	Entry *struct {
		Space  string `xml:"space,attr"`
		Offset string `xml:"offset,attr"`
	} `xml:"addr"`
}

// decodeFunction decodes a function description. The <function> header
// must precede any basic block.
func (dec *Decoder) decodeFunction(pos pcode.Position) error {
	var open bool
	for {
		childPos := dec.pos()
		tok, err := dec.d.Token()
		if err != nil {
			return errors.Wrap(err, "pcodexml")
		}

		switch tok := tok.(type) {
		case xml.StartElement:
			switch name := tok.Name.Local; {
			case strings.HasPrefix(name, "function"):
				var hdr functionHeader
				if err := dec.d.DecodeElement(&hdr, &tok); err != nil {
					return errors.Wrapf(err, "%s: pcodexml: function", childPos)
				}
				entry, err := hdr.entry()
				if err != nil {
					return errors.Wrapf(err, "%s: function %q", childPos, hdr.Name)
				} else if err := dec.b.BeginFunction(hdr.Name, entry, pos); err != nil {
					return errors.Wrapf(err, "%s", childPos)
				}
				dec.Logger.Debug("decode function", log.Fn(hdr.Name), zap.Stringer("pos", pos))
				open = true

			case strings.HasPrefix(name, "basicblock"):
				if !open {
					return errors.Errorf("%s: pcodexml: basic block before function header", childPos)
				} else if err := dec.decodeBlock(childPos); err != nil {
					return err
				}

			default: // parameter_description and friends
				if err := dec.d.Skip(); err != nil {
					return err
				}
			}

		case xml.EndElement:
			if !open {
				return errors.Errorf("%s: pcodexml: function description without function header", pos)
			}
			_, err := dec.b.EndFunction()
			return err
		}
	}
}

func (hdr *functionHeader) entry() (*pcode.Varnode, error) {
	if hdr.Entry == nil {
		return nil, nil
	}
	offset, err := pcode.ParseHex(hdr.Entry.Offset)
	if err != nil {
		return nil, err
	}
	space := hdr.Entry.Space
	if space == "" {
		space = pcode.SpaceNameRAM
	}
	return pcode.NewVarnode(space, offset, 1), nil
}

// opElement is an <op> element. Children are kept in document order since
// a <void/> occupies a varnode slot.
type opElement struct {
	Mnemonic string    `xml:"mnemonic,attr"`
	Children []opChild `xml:",any"`
}

type opChild struct {
	XMLName xml.Name
	Space   string `xml:"space,attr"`
	Offset  string `xml:"offset,attr"`
	Size    string `xml:"size,attr"`
	Uniq    string `xml:"uniq,attr"`
	Name    string `xml:"name,attr"`
}

func (dec *Decoder) decodeBlock(pos pcode.Position) error {
	if err := dec.b.BeginBlock(pos); err != nil {
		return errors.Wrapf(err, "%s", pos)
	}

	for {
		opPos := dec.pos()
		tok, err := dec.d.Token()
		if err != nil {
			return errors.Wrap(err, "pcodexml")
		}

		switch tok := tok.(type) {
		case xml.StartElement:
			var elem opElement
			if err := dec.d.DecodeElement(&elem, &tok); err != nil {
				return errors.Wrapf(err, "%s: pcodexml: op", opPos)
			}
			op, err := decodeOp(&elem)
			if err != nil {
				return errors.Wrapf(err, "%s", opPos)
			}
			op.Pos = opPos
			if err := dec.b.AddOp(op); err != nil {
				return errors.Wrapf(err, "%s", opPos)
			}

		case xml.EndElement:
			if err := dec.b.EndBlock(); err != nil {
				return errors.Wrapf(err, "%s", pos)
			}
			return nil
		}
	}
}

// decodeOp converts an op element into a micro op.
func decodeOp(elem *opElement) (*pcode.MicroOp, error) {
	opcode, err := pcode.ParseOpcode(elem.Mnemonic)
	if err != nil {
		return nil, err
	}

	var slots [maxSlots]*pcode.Varnode
	var n int
	var seq *pcode.SeqNum
	var spaceID string
	for _, child := range elem.Children {
		switch child.XMLName.Local {
		case "seqnum":
			addr, err := pcode.ParseHex(child.Offset)
			if err != nil {
				return nil, errors.Wrap(err, "seqnum")
			}
			uniq, err := strconv.ParseInt(child.Uniq, 0, 0)
			if err != nil {
				return nil, errors.Wrapf(err, "pcodexml: seqnum uniq")
			}
			seq = &pcode.SeqNum{Addr: addr, Uniq: int(uniq)}

		case "addr":
			if n >= maxSlots {
				return nil, errors.Errorf("pcodexml: %s: too many arguments", opcode)
			}
			v, err := decodeVarnode(&child)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: slot %d", opcode, n)
			}
			slots[n] = v
			n++

		case "void":
			if n >= maxSlots {
				return nil, errors.Errorf("pcodexml: %s: too many arguments", opcode)
			}
			n++

		case "spaceid":
			spaceID = child.Name

		default:
			return nil, errors.Errorf("pcodexml: %s: unexpected element <%s>", opcode, child.XMLName.Local)
		}
	}
	if seq == nil {
		return nil, errors.Errorf("pcodexml: %s: missing seqnum", opcode)
	}

	// Drop trailing empty input slots.
	inputs := slots[1:]
	if n > 1 {
		inputs = inputs[:n-1]
	} else {
		inputs = inputs[:0]
	}

	op := pcode.NewMicroOp(opcode, slots[0], inputs...)
	op.Seq = *seq
	op.SpaceID = spaceID
	return op, nil
}

func decodeVarnode(child *opChild) (*pcode.Varnode, error) {
	offset, err := pcode.ParseHex(child.Offset)
	if err != nil {
		return nil, err
	}
	size, err := strconv.ParseInt(child.Size, 0, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "pcodexml: varnode size")
	} else if size < 0 {
		return nil, errors.Errorf("pcodexml: negative varnode size: %d", size)
	}
	return pcode.NewVarnode(child.Space, offset, int(size)), nil
}

// attr returns the value of the named attribute or an empty string.
func attr(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
