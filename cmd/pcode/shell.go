package main

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/benbjohnson/pcode"
	"github.com/benbjohnson/pcode/internal/log"
	"github.com/chzyer/readline"
	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// listLen is the number of ops printed by a bare "list".
const listLen = 10

var (
	errorf   = color.New(color.FgRed).SprintfFunc()
	pcf      = color.New(color.FgCyan).SprintfFunc()
	notef    = color.New(color.FgYellow).SprintfFunc()
	headingf = color.New(color.Bold, color.FgHiMagenta).SprintfFunc()
)

// Shell is an interactive debugger over an interpreter.
type Shell struct {
	itp  *pcode.Interpreter
	abi  *pcode.ABI
	done bool // set by quit

	// Function to call on restart. If empty, restart only resets the state.
	Entry string

	// Call frame used on restart.
	Args   []*big.Int
	Stack  *big.Int
	Return *big.Int

	// Step limit for "cont" without an explicit limit.
	MaxSteps int

	HistoryFile string
	Stdin       io.ReadCloser
	Stdout      io.Writer
}

// NewShell returns a shell driving itp.
func NewShell(itp *pcode.Interpreter, abi *pcode.ABI) *Shell {
	sh := &Shell{
		itp:      itp,
		abi:      abi,
		Stack:    big.NewInt(0x8000),
		Return:   big.NewInt(0xdeadbeef),
		MaxSteps: 100000,
		Stdout:   os.Stdout,
	}
	itp.OnWatch = func(w pcode.Watch, v *big.Int) {
		fmt.Fprintf(sh.Stdout, "%s %s = %s\n", notef("watch"), w.Comment(), log.Hex(v))
	}
	return sh
}

// Run reads commands until quit or end of input.
func (sh *Shell) Run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: sh.HistoryFile,
		Stdin:       sh.Stdin,
		Stdout:      sh.Stdout,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for !sh.done {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		sh.Exec(line)
	}
	return nil
}

// Exec runs a single command line. Errors are printed and swallowed.
func (sh *Shell) Exec(line string) {
	if err := sh.exec(strings.Fields(line)); err != nil {
		fmt.Fprintln(sh.Stdout, errorf("error: %s", err))
	}
}

// Done returns true once quit has been executed.
func (sh *Shell) Done() bool { return sh.done }

func (sh *Shell) exec(args []string) error {
	if len(args) == 0 {
		return sh.next(nil)
	}

	switch cmd, args := args[0], args[1:]; cmd {
	case "next", "n":
		return sh.next(args)
	case "cont", "c":
		return sh.cont(args)
	case "break", "b":
		return sh.breakpoint(args)
	case "delete", "d":
		return sh.delete(args)
	case "list", "l":
		return sh.list(args)
	case "print", "p":
		return sh.print(args, false)
	case "prints":
		return sh.print(args, true)
	case "set":
		return sh.set(args, false)
	case "sets":
		return sh.set(args, true)
	case "watch", "w":
		return sh.watch(args)
	case "dump":
		return sh.dump()
	case "restart":
		return sh.Restart()
	case "quit", "q", "exit":
		fmt.Fprintln(sh.Stdout, "Bye!")
		sh.done = true
		return nil
	case "help", "h", "?":
		sh.usage()
		return nil
	default:
		sh.usage()
		return errors.Errorf("unknown command: %s", cmd)
	}
}

// Restart resets the machine state and, if an entry function is set,
// prepares a call frame and positions the program counter at its entry.
func (sh *Shell) Restart() error {
	sh.itp.Reset()
	s := sh.itp.State()
	if err := sh.abi.InitStack(s, sh.Stack); err != nil {
		return err
	}
	if sh.Entry == "" {
		return nil
	}
	if err := sh.abi.SetupCallFrame(s, sh.Return, sh.Args...); err != nil {
		return err
	}
	s.AddExit(sh.Return)

	name := sh.abi.Mangle(sh.Entry)
	if _, ok := sh.itp.Program().Function(name); !ok {
		name = sh.Entry
	}
	if err := sh.itp.Start(name); err != nil {
		return err
	}
	fmt.Fprintf(sh.Stdout, "starting %s at %s\n", name, pcf("pc %d", s.MicroPC))
	return nil
}

func (sh *Shell) next(args []string) error {
	n := 1
	if len(args) > 0 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n <= 0 {
			return errors.Errorf("invalid step count: %q", args[0])
		}
	}

	for i := 0; i < n; i++ {
		pc := sh.itp.State().MicroPC
		op, err := sh.itp.Step()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.Stdout, "%s %s\n", pcf("%5d", pc), op)
		if sh.itp.State().Halted {
			fmt.Fprintln(sh.Stdout, notef("halted"))
			break
		}
	}
	return nil
}

func (sh *Shell) cont(args []string) error {
	limit := sh.MaxSteps
	if len(args) > 0 {
		var err error
		if limit, err = strconv.Atoi(args[0]); err != nil {
			return errors.Errorf("invalid step limit: %q", args[0])
		}
	}

	n, err := sh.itp.Continue(limit)
	if err != nil {
		return errors.Wrapf(err, "after %d steps", n)
	}
	s := sh.itp.State()
	if s.Halted {
		fmt.Fprintf(sh.Stdout, "%s after %d steps\n", notef("halted"), n)
		return nil
	}
	op, err := sh.itp.Program().Fetch(s.MicroPC)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.Stdout, "breakpoint after %d steps\n%s %s\n", n, pcf("%5d", s.MicroPC), op)
	return nil
}

func (sh *Shell) breakpoint(args []string) error {
	if len(args) == 0 {
		pc := sh.itp.State().MicroPC
		sh.itp.SetBreakpoint(pc)
		fmt.Fprintf(sh.Stdout, "breakpoint at %s\n", pcf("pc %d", pc))
		return nil
	}

	var pc int
	var err error
	if strings.HasPrefix(args[0], "0x") {
		var addr *big.Int
		if addr, err = pcode.ParseHex(args[0]); err != nil {
			return err
		}
		pc, err = sh.itp.BreakAtAddress(addr)
	} else {
		pc, err = sh.itp.BreakAtFunction(args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.Stdout, "breakpoint at %s\n", pcf("pc %d", pc))
	return nil
}

func (sh *Shell) delete(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: delete <pc>")
	}
	pc, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.Errorf("invalid pc: %q", args[0])
	}
	sh.itp.ClearBreakpoint(pc)
	return nil
}

func (sh *Shell) list(args []string) error {
	p := sh.itp.Program()
	from, to := sh.itp.State().MicroPC, sh.itp.State().MicroPC+listLen

	if len(args) > 0 {
		switch args[0] {
		case "all":
			from, to = 0, len(p.Code)
		case "spaces":
			for _, space := range sh.itp.State().Spaces() {
				fmt.Fprintln(sh.Stdout, space)
			}
			return nil
		default:
			f, err := sh.itp.LookupFunction(args[0])
			if err != nil {
				return err
			} else if f.IsExternal() {
				fmt.Fprintf(sh.Stdout, "%s is external\n", f.Name)
				return nil
			}
			from, to = f.Blocks[0].FirstOp, f.Blocks[len(f.Blocks)-1].LastOp+1
		}
	}
	if to > len(p.Code) {
		to = len(p.Code)
	}

	bps := make(map[int]bool)
	for _, pc := range sh.itp.Breakpoints() {
		bps[pc] = true
	}
	for pc := from; pc < to; pc++ {
		op := p.Code[pc]
		if op.FuncStart {
			fmt.Fprintln(sh.Stdout, headingf("%s:", op.Function))
		}
		mark := "  "
		if pc == sh.itp.State().MicroPC {
			mark = "=>"
		} else if bps[pc] {
			mark = " *"
		}
		fmt.Fprintf(sh.Stdout, "%s %s %s\n", mark, pcf("%5d", pc), op)
	}
	return nil
}

// location is a parsed "offset[:size]" operand. Each leading '[' adds a
// level of indirection through RAM.
type location struct {
	offset      *big.Int
	size        int
	indirection int
}

func parseLocation(s string, defaultSize int) (location, error) {
	loc := location{size: defaultSize}
	if i := strings.IndexByte(s, ':'); i > 0 {
		size, err := strconv.Atoi(s[i+1:])
		if err != nil || size < 0 {
			return loc, errors.Errorf("invalid size: %q", s[i+1:])
		}
		loc.size, s = size, s[:i]
	}
	for strings.HasPrefix(s, "[") {
		loc.indirection++
		s = s[1:]
	}
	s = strings.TrimRight(s, "]")

	offset, err := pcode.ParseHex(s)
	if err != nil {
		return loc, err
	}
	loc.offset = offset
	return loc, nil
}

func (sh *Shell) print(args []string, signed bool) error {
	s := sh.itp.State()
	if len(args) == 0 {
		for _, space := range s.Spaces() {
			sh.dumpSpace(space)
		}
		return nil
	}

	space, err := s.Space(args[0])
	if err != nil {
		return err
	}
	if len(args) == 1 {
		sh.dumpSpace(space)
		return nil
	}

	wordSize := sh.itp.Program().Arch.WordSize
	loc, err := parseLocation(args[1], wordSize)
	if err != nil {
		return err
	}

	size := loc.size
	if loc.indirection > 0 {
		size = wordSize
	}
	v := pcode.NewVarnode(space.Name, loc.offset, size)
	for ; loc.indirection > 0; loc.indirection-- {
		ptr, err := s.FetchUnsigned(v)
		if err != nil {
			return err
		}
		if loc.indirection == 1 {
			size = loc.size
		}
		v = pcode.NewVarnode(pcode.SpaceNameRAM, ptr, size)
	}

	var value *big.Int
	if signed {
		value, err = s.FetchSigned(v)
	} else {
		value, err = s.FetchUnsigned(v)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.Stdout, "%s = %s\n", v, log.Hex(value))
	return nil
}

// dumpSpace prints every initialized byte of a space, eight per line.
func (sh *Shell) dumpSpace(space *pcode.AddressSpace) {
	fmt.Fprintln(sh.Stdout, headingf("%s", space))

	var next *big.Int
	var n int
	space.Each(func(addr *big.Int, b byte) {
		if n%8 == 0 || next == nil || addr.Cmp(next) != 0 {
			if n > 0 {
				fmt.Fprintln(sh.Stdout)
			}
			fmt.Fprintf(sh.Stdout, "%s:", pcf("%s", log.Hex(addr)))
			n = 0
		}
		fmt.Fprintf(sh.Stdout, " %02x", b)
		next = new(big.Int).Add(addr, big.NewInt(1))
		n++
	})
	if n > 0 {
		fmt.Fprintln(sh.Stdout)
	}
}

func (sh *Shell) set(args []string, signed bool) error {
	if len(args) < 3 {
		return errors.New("usage: set <space> <offset> <value>[:size]")
	}
	s := sh.itp.State()
	space, err := s.Space(args[0])
	if err != nil {
		return err
	}
	offset, err := pcode.ParseHex(args[1])
	if err != nil {
		return err
	}

	str, size := args[2], sh.itp.Program().Arch.WordSize
	if i := strings.IndexByte(str, ':'); i > 0 {
		if size, err = strconv.Atoi(str[i+1:]); err != nil || size < 0 {
			return errors.Errorf("invalid size: %q", str[i+1:])
		}
		str = str[:i]
	}
	neg := signed && strings.HasPrefix(str, "-")
	value, err := pcode.ParseHex(strings.TrimPrefix(str, "-"))
	if err != nil {
		return err
	} else if neg {
		value.Neg(value)
	}

	v := pcode.NewVarnode(space.Name, offset, size)
	if signed {
		return s.StoreSigned(v, value)
	}
	return s.StoreUnsigned(v, value)
}

func (sh *Shell) watch(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: watch <addr> <space> <offset>[:size]")
	}
	addr, err := pcode.ParseHex(args[0])
	if err != nil {
		return err
	}
	space, err := sh.itp.State().Space(args[1])
	if err != nil {
		return err
	}
	loc, err := parseLocation(args[2], sh.itp.Program().Arch.WordSize)
	if err != nil {
		return err
	} else if loc.indirection > 0 {
		return errors.New("watch: indirect locations are not supported")
	}

	sh.itp.AddWatch(&pcode.DirectWatch{
		Addr:     addr,
		Note:     strings.Join(args[1:], " "),
		Location: pcode.NewVarnode(space.Name, loc.offset, loc.size),
	})
	return nil
}

// dump prints the op at the program counter in full.
func (sh *Shell) dump() error {
	s := sh.itp.State()
	op, err := sh.itp.Program().Fetch(s.MicroPC)
	if err != nil {
		return err
	}
	cfg := spew.ConfigState{Indent: "  ", DisableMethods: true, DisablePointerAddresses: true, DisableCapacities: true}
	cfg.Fdump(sh.Stdout, op)
	return nil
}

func (sh *Shell) usage() {
	fmt.Fprintln(sh.Stdout, `
Commands:

	next [n]                        execute n micro ops (default 1)
	cont [limit]                    run to the next breakpoint
	break [fn|0xaddr]               set a breakpoint (default: current pc)
	delete <pc>                     remove a breakpoint
	list [fn|all|spaces]            list ops or address spaces
	print [space [offset][:size]]   print a value; prefix offset with [ to dereference
	prints ...                      like print but signed
	set <space> <offset> <value>[:size]
	sets ...                        like set but signed
	watch <addr> <space> <offset>[:size]
	dump                            dump the current op
	restart                         reset the machine
	quit                            exit
`[1:])
}
