// Package graphviz renders translated graphs and program call graphs as DOT.
package graphviz

import (
	"fmt"
	"sort"

	"github.com/benbjohnson/pcode"
	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"
)

// TrampolineFunc names the pseudo-function holding blocks that belong to
// no program function: the entry block, the trampoline and its dispatch
// chain.
const TrampolineFunc = "trampoline"

// Edge conditions.
const (
	CondTrue  = "T"
	CondFalse = "F"
)

// CFG converts a translated graph to one lattice function per program
// function. Edges that leave a function are recorded as call sites naming
// the function that owns the target block.
func CFG(g *pcode.Graph) *lattice.CFGGraph {
	owner := func(b *pcode.Block) string {
		if b.Function == "" {
			return TrampolineFunc
		}
		return b.Function
	}

	m := make(map[string]*lattice.FuncCFG)
	for _, b := range g.Blocks {
		name := owner(b)
		fn := m[name]
		if fn == nil {
			fn = &lattice.FuncCFG{Name: name}
			m[name] = fn
		}

		lb := &lattice.BasicBlock{
			ID:    b.ID,
			Start: 0,
			End:   len(b.Stmts),
		}
		if _, ok := b.Term.(*pcode.ReturnTerm); ok || b.Term == nil {
			lb.Term = true
		}

		for i, succ := range b.Succs() {
			if owner(succ) != name {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: len(b.Stmts),
					Callee: fmt.Sprintf("%s:%d", owner(succ), succ.ID),
				})
				continue
			}
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: succ.ID, Cond: edgeCond(b.Term, i)})
		}
		fn.Blocks = append(fn.Blocks, lb)
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	cg := &lattice.CFGGraph{}
	for _, name := range names {
		cg.Funcs = append(cg.Funcs, m[name])
	}
	return cg
}

// edgeCond returns the condition label of the i-th successor of t.
func edgeCond(t pcode.Term, i int) string {
	switch t.(type) {
	case *pcode.BranchTerm, *pcode.ConcreteBranchTerm:
		if i == 0 {
			return CondTrue
		}
		return CondFalse
	default:
		return ""
	}
}

// CallGraph returns the direct call graph of a program. Every function is
// a node, including external ones.
func CallGraph(p *pcode.Program) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range p.Functions() {
		g.Nodes = append(g.Nodes, f.Name)
	}
	for _, e := range p.CallEdges() {
		g.Edges = append(g.Edges, lattice.Edge{Caller: e.Caller, Callee: e.Callee})
	}
	g.Dedup()
	return g
}

// RenderCFG returns the DOT source for a translated graph.
func RenderCFG(g *pcode.Graph) string {
	return render.DOTCFG(CFG(g), g.Name)
}

// RenderCallGraph returns the DOT source for a program's call graph.
func RenderCallGraph(p *pcode.Program, title string) string {
	return render.DOT(CallGraph(p), title)
}
