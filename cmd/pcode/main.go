package main

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/benbjohnson/pcode"
	"github.com/benbjohnson/pcode/internal/graphviz"
	"github.com/benbjohnson/pcode/internal/log"
	"github.com/benbjohnson/pcode/pcodexml"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
)

func main() {
	if err := NewRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// Options holds the flags shared by every subcommand.
type Options struct {
	Verbose bool
	ABI     string
	Args    []string
	Stack   string
	Return  string
	Steps   int
}

// logger returns the logger selected by the verbose flag.
func (opt *Options) logger() *log.Logger {
	log.Init(opt.Verbose)
	return log.Default()
}

// abi returns the selected calling convention.
func (opt *Options) abi() (*pcode.ABI, error) {
	return pcode.LookupABI(opt.ABI)
}

// callArgs parses the hex arguments, the stack bottom and the return address.
func (opt *Options) callArgs() (args []*big.Int, stack, ret *big.Int, err error) {
	for _, s := range opt.Args {
		v, err := pcode.ParseHex(s)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "--arg")
		}
		args = append(args, v)
	}
	if stack, err = pcode.ParseHex(opt.Stack); err != nil {
		return nil, nil, nil, errors.Wrap(err, "--stack")
	}
	if ret, err = pcode.ParseHex(opt.Return); err != nil {
		return nil, nil, nil, errors.Wrap(err, "--return")
	}
	return args, stack, ret, nil
}

// NewRootCommand returns the pcode command with all subcommands attached.
// Command output is written to w.
func NewRootCommand(w io.Writer) *cobra.Command {
	var opt Options

	cmd := &cobra.Command{
		Use:   "pcode",
		Short: "Interpret, translate and inspect P-Code programs",
		Long: `pcode loads a P-Code XML export and either executes it concretely,
translates it into a control flow graph, or prints its structure.`,
		SilenceUsage: true,
	}
	cmd.SetOut(w)

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opt.Verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&opt.ABI, "abi", "x86_64", "calling convention ("+strings.Join(pcode.ABINames(), ", ")+")")
	flags.StringArrayVar(&opt.Args, "arg", nil, "hex argument passed to the function (repeatable)")
	flags.StringVar(&opt.Stack, "stack", "0x8000", "initial stack pointer")
	flags.StringVar(&opt.Return, "return", "0xdeadbeef", "return address of the call frame")
	flags.IntVar(&opt.Steps, "steps", 100000, "maximum number of steps; zero means no limit")

	cmd.AddCommand(
		newRunCommand(&opt),
		newDebugCommand(&opt),
		newSimulateCommand(&opt),
		newCFGCommand(&opt),
		newListCommand(),
		newABICommand(),
	)
	return cmd
}

func newRunCommand(opt *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file> <function>",
		Short: "Interpret a function through an ABI call frame",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pcodexml.Load(args[0])
			if err != nil {
				return err
			}
			abi, err := opt.abi()
			if err != nil {
				return err
			}
			callArgs, stack, ret, err := opt.callArgs()
			if err != nil {
				return err
			}

			itp := pcode.NewInterpreter(p)
			itp.SetLogger(opt.logger())
			if err := abi.InitStack(itp.State(), stack); err != nil {
				return err
			}
			rets, err := itp.Call(abi, args[1], ret, opt.Steps, callArgs...)
			if err != nil {
				return err
			}
			printReturns(cmd.OutOrStdout(), rets)
			return nil
		},
	}
}

func newDebugCommand(opt *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "debug <file> [function]",
		Short: "Open the interactive debugger",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pcodexml.Load(args[0])
			if err != nil {
				return err
			}
			abi, err := opt.abi()
			if err != nil {
				return err
			}

			callArgs, stack, ret, err := opt.callArgs()
			if err != nil {
				return err
			}

			itp := pcode.NewInterpreter(p)
			itp.SetLogger(opt.logger())

			sh := NewShell(itp, abi)
			sh.Stdout = cmd.OutOrStdout()
			sh.Args, sh.Stack, sh.Return, sh.MaxSteps = callArgs, stack, ret, opt.Steps
			if len(args) > 1 {
				sh.Entry = args[1]
			}
			if err := sh.Restart(); err != nil {
				return err
			}
			return sh.Run()
		},
	}
}

func newSimulateCommand(opt *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <file> <function>",
		Short: "Translate a program and run a function over the graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pcodexml.Load(args[0])
			if err != nil {
				return err
			}
			abi, err := opt.abi()
			if err != nil {
				return err
			}
			callArgs, stack, ret, err := opt.callArgs()
			if err != nil {
				return err
			}
			logger := opt.logger()

			t := pcode.NewTranslator(p, abi)
			t.Logger = logger
			g, err := t.BuildCFG(args[0])
			if err != nil {
				return err
			}

			sim := pcode.NewSimulator(p, g)
			sim.Logger, sim.Output, sim.MaxBlocks = logger, cmd.OutOrStdout(), opt.Steps

			state := pcode.NewSimState(p)
			if err := abi.InitStack(state, stack); err != nil {
				return err
			}
			_, rets, err := sim.CallFunction(abi, state, args[1], ret, callArgs...)
			if err != nil {
				return err
			}
			printReturns(cmd.OutOrStdout(), rets)
			return nil
		},
	}
}

func newCFGCommand(opt *Options) *cobra.Command {
	var output string
	var calls bool

	cmd := &cobra.Command{
		Use:   "cfg <file>",
		Short: "Write the translated graph or the call graph as DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pcodexml.Load(args[0])
			if err != nil {
				return err
			}

			var dot string
			if calls {
				dot = graphviz.RenderCallGraph(p, args[0])
			} else {
				abi, err := opt.abi()
				if err != nil {
					return err
				}
				t := pcode.NewTranslator(p, abi)
				t.Logger = opt.logger()
				g, err := t.BuildCFG(args[0])
				if err != nil {
					return err
				}
				dot = graphviz.RenderCFG(g)
			}

			if output == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), dot)
				return err
			}
			return os.WriteFile(output, []byte(dot), 0666)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	cmd.Flags().BoolVar(&calls, "calls", false, "write the call graph instead of the control flow graph")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <file> [function]",
		Short: "Print the functions, blocks and ops of a program",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pcodexml.Load(args[0])
			if err != nil {
				return err
			}
			var name string
			if len(args) > 1 {
				name = args[1]
			}
			tree, err := ListProgram(p, name)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), tree.String())
			return err
		},
	}
}

// ListProgram returns a tree of functions, blocks and ops. If name is not
// empty, only that function is listed.
func ListProgram(p *pcode.Program, name string) (treeprint.Tree, error) {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("program %s", p.Arch))

	fns := p.Functions()
	if name != "" {
		f, ok := p.Function(name)
		if !ok {
			return nil, errors.Wrapf(pcode.ErrUnknownFunction, "%q", name)
		}
		fns = []*pcode.Function{f}
	}

	for _, f := range fns {
		if f.IsExternal() {
			tree.AddNode(fmt.Sprintf("%s (external)", f.Name))
			continue
		}
		fnode := tree.AddBranch(fmt.Sprintf("%s @%s", f.Name, f.Entry))
		for _, b := range f.Blocks {
			bnode := fnode.AddBranch(fmt.Sprintf("block %s..%s", b.Begin, b.End))
			for pc := b.FirstOp; pc <= b.LastOp; pc++ {
				op, err := p.Fetch(pc)
				if err != nil {
					return nil, err
				}
				bnode.AddNode(fmt.Sprintf("%d: %s", pc, op))
			}
		}
	}
	return tree, nil
}

func newABICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abi [name]",
		Short: "List the built-in calling conventions or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, name := range pcode.ABINames() {
					fmt.Fprintln(w, name)
				}
				return nil
			}
			abi, err := pcode.LookupABI(args[0])
			if err != nil {
				return err
			}
			PrintABI(w, abi)
			return nil
		},
	}
}

// PrintABI writes a table describing a calling convention.
func PrintABI(w io.Writer, abi *pcode.ABI) {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", bold("name:"), abi.Name)
	if len(abi.Aliases) > 0 {
		fmt.Fprintf(w, "%s %s\n", bold("aliases:"), strings.Join(abi.Aliases, ", "))
	}
	fmt.Fprintf(w, "%s %d bytes\n", bold("address:"), abi.AddrBytes)

	names := make(map[uint64]string)
	for name, offset := range abi.Registers {
		if prev, ok := names[offset]; !ok || name < prev {
			names[offset] = name
		}
	}
	regs := func(offsets []uint64) string {
		a := make([]string, len(offsets))
		for i, offset := range offsets {
			a[i] = regName(names, offset)
		}
		return strings.Join(a, ", ")
	}

	fmt.Fprintf(w, "%s %s\n", bold("arguments:"), regs(abi.Arguments))
	fmt.Fprintf(w, "%s %s\n", bold("returns:"), regs(abi.Returns))
	fmt.Fprintf(w, "%s %s\n", bold("stack:"), regName(names, abi.Stack))
	if abi.Frame != nil {
		fmt.Fprintf(w, "%s %s\n", bold("frame:"), regName(names, *abi.Frame))
	}
	if abi.Link != nil {
		fmt.Fprintf(w, "%s %s\n", bold("link:"), regName(names, *abi.Link))
	}
	fmt.Fprintf(w, "%s %s\n", bold("pc:"), regName(names, abi.PC))

	fmt.Fprintln(w, bold("registers:"))
	type entry struct {
		name   string
		offset uint64
	}
	var entries []entry
	for name, offset := range abi.Registers {
		entries = append(entries, entry{name, offset})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].offset != entries[j].offset {
			return entries[i].offset < entries[j].offset
		}
		return entries[i].name < entries[j].name
	})
	for _, e := range entries {
		fmt.Fprintf(w, "  %-6s 0x%x\n", e.name, e.offset)
	}
}

func regName(names map[uint64]string, offset uint64) string {
	if name, ok := names[offset]; ok {
		return fmt.Sprintf("%s(0x%x)", name, offset)
	}
	return fmt.Sprintf("0x%x", offset)
}

func printReturns(w io.Writer, rets []*big.Int) {
	for i, v := range rets {
		fmt.Fprintf(w, "ret%d = 0x%s\n", i, v.Text(16))
	}
}
