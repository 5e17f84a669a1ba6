package concurrency

import (
	"sort"
	"strings"

	"github.com/mira-lang/mira/internal/diagnostic"
	"github.com/mira-lang/mira/internal/ir"
)

// Graph is the unit-wide lock-order graph. It is built by a single owner
// after all per-function analyses complete; edges accumulate across
// functions because deadlock potential is a whole-unit property.
type Graph struct {
	succs map[string]map[string]Edge
	nodes []string
}

func NewGraph() *Graph {
	return &Graph{succs: make(map[string]map[string]Edge)}
}

// Add records one acquisition-order edge. If the edge closes a cycle, the
// full cycle is reported once, attributed to the acquisition that closed
// it; the edge is recorded regardless so later additions do not re-report
// the same cycle from another entry point.
func (g *Graph) Add(e Edge, diag *diagnostic.Diagnostics) {
	if e.From == e.To {
		return
	}
	if _, ok := g.succs[e.From][e.To]; ok {
		return
	}
	if cycle := g.path(e.To, e.From); cycle != nil {
		full := append([]string{e.From}, cycle...)
		diag.Report(diagnostic.LockOrderCycle, e.Fn, "", ir.Point{}, e.Pos,
			"lock order cycle: %s", strings.Join(full, " -> "))
	}
	g.insert(e)
}

// AddAll feeds every edge of a function report into the graph, in source
// order so cycle attribution is deterministic.
func (g *Graph) AddAll(edges []Edge, diag *diagnostic.Diagnostics) {
	for _, e := range edges {
		g.Add(e, diag)
	}
}

func (g *Graph) insert(e Edge) {
	if g.succs[e.From] == nil {
		g.succs[e.From] = make(map[string]Edge)
		g.nodes = append(g.nodes, e.From)
	}
	if g.succs[e.To] == nil {
		g.succs[e.To] = make(map[string]Edge)
		g.nodes = append(g.nodes, e.To)
	}
	g.succs[e.From][e.To] = e
}

// path returns the guards along some path from one node to another, in
// order and starting with from, or nil if the target is unreachable.
// Neighbors are visited in sorted order for deterministic cycle reports.
func (g *Graph) path(from, to string) []string {
	visited := map[string]bool{from: true}
	var walk func(node string) []string
	walk = func(node string) []string {
		if node == to {
			return []string{node}
		}
		nexts := make([]string, 0, len(g.succs[node]))
		for n := range g.succs[node] {
			nexts = append(nexts, n)
		}
		sort.Strings(nexts)
		for _, n := range nexts {
			if visited[n] {
				continue
			}
			visited[n] = true
			if tail := walk(n); tail != nil {
				return append([]string{node}, tail...)
			}
		}
		return nil
	}
	return walk(from)
}

// Edges returns every recorded edge sorted by from then to guard name.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, from := range g.nodes {
		for _, e := range g.succs[from] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
