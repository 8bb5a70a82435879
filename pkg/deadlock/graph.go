package deadlock

import (
	"sort"

	"github.com/aclements/go-moremath/graph"
	"github.com/aclements/go-moremath/graph/graphalg"
)

// WaitGraph has one node per task row of a State and an edge from a task to
// every task holding a resource it still needs.
//
// WaitGraph satisfies the graph.Graph interface.
type WaitGraph struct {
	out [][]int
}

// NewWaitGraph builds the wait-for graph of s.
func NewWaitGraph(s State) *WaitGraph {
	g := &WaitGraph{out: make([][]int, len(s.Need))}
	for i, need := range s.Need {
		for j, held := range s.Allocation {
			for r := range need {
				if need[r] > 0 && held[r] > 0 {
					g.out[i] = append(g.out[i], j)
					break
				}
			}
		}
	}
	return g
}

func (g *WaitGraph) NumNodes() int {
	return len(g.out)
}

func (g *WaitGraph) Out(i int) []int {
	return g.out[i]
}

// Cycles returns the node sets of g that wait on each other: strongly
// connected components with more than one node, and nodes waiting on
// themselves. Each set is sorted; sets are ordered by their first node.
func Cycles(g graph.Graph) [][]int {
	scc := graphalg.SCC(g, 0)
	var cycles [][]int
	for cid := 0; cid < scc.NumNodes(); cid++ {
		nids := scc.Subnodes(cid)
		if len(nids) == 1 && !selfLoop(g, nids[0]) {
			continue
		}
		c := append([]int(nil), nids...)
		sort.Ints(c)
		cycles = append(cycles, c)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

func selfLoop(g graph.Graph, n int) bool {
	for _, m := range g.Out(n) {
		if m == n {
			return true
		}
	}
	return false
}

// TaskCycles maps the row indices returned by Cycles to task ids.
func (s State) TaskCycles() [][]int {
	cycles := Cycles(NewWaitGraph(s))
	if s.Tasks == nil {
		return cycles
	}
	for _, c := range cycles {
		for k, row := range c {
			c[k] = s.Tasks[row]
		}
		sort.Ints(c)
	}
	return cycles
}
