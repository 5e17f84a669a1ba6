package borrow

import (
	"sort"

	"github.com/mira-lang/mira/internal/dataflow"
	"github.com/mira-lang/mira/internal/ir"
)

// liveSet is the set of binding names whose current value may still be used
// on some path from a program point.
type liveSet map[string]bool

func (s liveSet) clone() liveSet {
	out := make(liveSet, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func (s liveSet) names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// liveness is the backward pass computing, per point, the bindings whose
// value is still needed. It drives borrow retirement: a borrow's region ends
// at the last use of the reference it produced. Drop is a kill, not a use,
// so a value that merely goes out of scope does not count as used again.
type liveness struct {
	fn *ir.Function
}

func (l *liveness) Direction() dataflow.Direction { return dataflow.Backward }
func (l *liveness) Boundary() liveSet             { return liveSet{} }
func (l *liveness) Bottom() liveSet               { return liveSet{} }

func (l *liveness) Join(a, b liveSet) liveSet {
	out := a.clone()
	for k := range b {
		out[k] = true
	}
	return out
}

func (l *liveness) Equal(a, b liveSet) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func (l *liveness) Transfer(pt ir.Point, out liveSet) liveSet {
	in := out.clone()
	switch n := l.fn.InstrAt(pt).(type) {
	case *ir.Init:
		if n.Dest.IsLocal() {
			delete(in, n.Dest.Base)
		}
	case *ir.Move:
		if n.To.IsLocal() && n.To.Base != "" {
			delete(in, n.To.Base)
		}
		in[n.From.Base] = true
	case *ir.Read:
		in[n.From.Base] = true
	case *ir.Write:
		in[n.To.Base] = true
	case *ir.Borrow:
		delete(in, n.Dest)
		in[n.From.Base] = true
	case *ir.Call:
		for _, p := range n.Reads {
			in[p.Base] = true
		}
		for _, p := range n.Moves {
			in[p.Base] = true
		}
	case *ir.Return:
		if n.HasValue() {
			in[n.Value.Base] = true
		}
	case *ir.Drop:
		if n.Target.IsLocal() {
			delete(in, n.Target.Base)
		}
	}
	return in
}
