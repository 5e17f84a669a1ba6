// Package concurrency implements the concurrency safety verifier. It walks
// each function with the lock scopes held on every control path, gates
// access to shared cells on those scopes, checks that borrows of guarded
// data stay inside their lock scope, and collects the lock-order edges that
// feed the whole-unit lock graph.
package concurrency

import (
	"context"

	"github.com/mira-lang/mira/internal/borrow"
	"github.com/mira-lang/mira/internal/dataflow"
	"github.com/mira-lang/mira/internal/diagnostic"
	"github.com/mira-lang/mira/internal/ir"
	"github.com/mira-lang/mira/internal/ownership"
	"github.com/mira-lang/mira/internal/place"
)

// hold is one entry of the lock scope stack.
type hold struct {
	Guard string
	Mode  ir.LockMode
}

// lockState is the forward dataflow state: the stack of guards held on the
// current path, innermost last. Paths reaching a merge with different
// stacks make the state inconsistent, which the front end's structural
// scoping should never produce.
type lockState struct {
	holds        []hold
	inconsistent bool
}

func (s *lockState) holding(guard string) (ir.LockMode, bool) {
	for i := len(s.holds) - 1; i >= 0; i-- {
		if s.holds[i].Guard == guard {
			return s.holds[i].Mode, true
		}
	}
	return 0, false
}

func (s *lockState) equal(t *lockState) bool {
	if s.inconsistent != t.inconsistent || len(s.holds) != len(t.holds) {
		return false
	}
	for i, h := range s.holds {
		if t.holds[i] != h {
			return false
		}
	}
	return true
}

func (s *lockState) clone() *lockState {
	cp := &lockState{inconsistent: s.inconsistent}
	cp.holds = append(cp.holds, s.holds...)
	return cp
}

// lockScopes is the forward dataflow problem computing the lock scope stack
// before every program point.
type lockScopes struct {
	fn *ir.Function
}

func (p *lockScopes) Direction() dataflow.Direction { return dataflow.Forward }

func (p *lockScopes) Boundary() *lockState { return &lockState{} }

func (p *lockScopes) Bottom() *lockState { return nil }

func (p *lockScopes) Join(a, b *lockState) *lockState {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.equal(b) {
		return a
	}
	return &lockState{inconsistent: true}
}

func (p *lockScopes) Equal(a, b *lockState) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.equal(b)
}

func (p *lockScopes) Transfer(pt ir.Point, in *lockState) *lockState {
	if in == nil || in.inconsistent {
		return in
	}
	switch n := p.fn.InstrAt(pt).(type) {
	case *ir.Acquire:
		out := in.clone()
		out.holds = append(out.holds, hold{Guard: n.Guard, Mode: n.Mode})
		return out
	case *ir.Release:
		out := in.clone()
		if k := len(out.holds); k > 0 && out.holds[k-1].Guard == n.Guard {
			out.holds = out.holds[:k-1]
		} else {
			// Non-scoped release; reported as malformed in the walk.
			out.inconsistent = true
		}
		return out
	}
	return in
}

// Edge is one observed lock acquisition order: To was acquired while From
// was already held. Fn and Pos locate the acquisition for reporting.
type Edge struct {
	From string
	To   string
	Fn   string
	Pos  ir.Pos
}

// FunctionReport is the verifier's per-function output. Edges are in
// source order and feed the unit-wide lock graph after all functions have
// been analyzed.
type FunctionReport struct {
	Fn         *ir.Function
	Edges      []Edge
	Diags      *diagnostic.Diagnostics
	Incomplete bool
}

type verifier struct {
	fn     *ir.Function
	res    *borrow.FunctionResult
	diag   *diagnostic.Diagnostics
	scopes *dataflow.Result[*lockState]
	edges  []Edge
}

// Verify runs the concurrency checks for one function. The borrow result
// supplies the per-point ownership states for the exclusive-access
// exemption and the borrow records for the escape check.
func Verify(ctx context.Context, fn *ir.Function, br *borrow.FunctionResult, maxSweeps int) *FunctionReport {
	v := &verifier{fn: fn, res: br, diag: diagnostic.New()}

	scopes, err := dataflow.Solve[*lockState](ctx, fn, &lockScopes{fn: fn}, maxSweeps)
	if err != nil {
		v.diag.Report(diagnostic.AnalysisIncomplete, fn.Name, "", ir.Point{}, fn.Source,
			"lock scope analysis of function '%s' did not complete", fn.Name)
		return &FunctionReport{Fn: fn, Diags: v.diag, Incomplete: true}
	}
	v.scopes = scopes

	v.checkScopes()
	v.checkAccesses()
	v.checkEscapes()

	return &FunctionReport{Fn: fn, Edges: v.edges, Diags: v.diag}
}

// before returns the lock state entering a point. A nil state means the
// point is unreachable.
func (v *verifier) before(pt ir.Point) *lockState {
	return v.scopes.At(pt)
}

// checkScopes verifies the scoped acquire/release discipline and records
// lock-order edges. Each merge that joins paths with different stacks is
// reported once, at the merge block's first point.
func (v *verifier) checkScopes() {
	reported := make(map[int]bool)
	for bi, block := range v.fn.Blocks {
		entry := v.scopes.BlockEntry(bi)
		if entry != nil && entry.inconsistent && !reported[bi] {
			reported[bi] = true
			pt := ir.Point{Block: bi, Index: 0}
			v.diag.Report(diagnostic.MalformedIR, v.fn.Name, "", pt, v.fn.PosAt(pt),
				"lock scopes entering block '%s' differ between incoming paths", block.Label)
		}
		for ii, in := range block.Instrs {
			pt := ir.Point{Block: bi, Index: ii}
			st := v.before(pt)
			if st == nil || st.inconsistent {
				continue
			}
			switch n := in.(type) {
			case *ir.Acquire:
				if _, held := st.holding(n.Guard); held {
					v.diag.Report(diagnostic.MalformedIR, v.fn.Name, "", pt, n.Source,
						"guard '%s' acquired while already held", n.Guard)
					continue
				}
				for _, h := range st.holds {
					v.edges = append(v.edges, Edge{From: h.Guard, To: n.Guard, Fn: v.fn.Name, Pos: n.Source})
				}
			case *ir.Release:
				if k := len(st.holds); k == 0 || st.holds[k-1].Guard != n.Guard {
					v.diag.Report(diagnostic.MalformedIR, v.fn.Name, "", pt, n.Source,
						"release of guard '%s' does not match the innermost held scope", n.Guard)
				}
			case *ir.Return:
				for _, h := range st.holds {
					v.diag.Report(diagnostic.MalformedIR, v.fn.Name, "", pt, n.Source,
						"guard '%s' still held at function exit", h.Guard)
				}
			}
		}
	}
}

// checkAccesses gates every access to a shared cell on its guard. Mutation
// requires the guard held exclusively; a read requires at least a shared
// hold, unless the borrow checker proved the place exclusively held by the
// current task at that point.
func (v *verifier) checkAccesses() {
	for bi, block := range v.fn.Blocks {
		for ii, in := range block.Instrs {
			pt := ir.Point{Block: bi, Index: ii}
			switch n := in.(type) {
			case *ir.Read:
				v.checkRead(pt, n.From, n.Source)
			case *ir.Write:
				v.checkMutate(pt, n.To, n.Source)
			case *ir.Move:
				v.checkMutate(pt, n.From, n.Source)
				if n.To.Base != "" {
					v.checkMutate(pt, n.To, n.Source)
				}
			case *ir.Borrow:
				if n.Kind == ir.BorrowExclusive {
					v.checkMutate(pt, n.From, n.Source)
				} else {
					v.checkRead(pt, n.From, n.Source)
				}
			case *ir.Call:
				for _, arg := range n.Reads {
					v.checkRead(pt, arg, n.Source)
				}
				for _, arg := range n.Moves {
					v.checkMutate(pt, arg, n.Source)
				}
			case *ir.Return:
				if n.HasValue() {
					v.checkRead(pt, n.Value, n.Source)
				}
			case *ir.Drop:
				v.checkMutate(pt, n.Target, n.Source)
			}
		}
	}
}

// sharedCell resolves a place to its shared binding, if any.
func (v *verifier) sharedCell(p place.Place) *ir.Binding {
	b := v.fn.Lookup(p.Base)
	if b == nil || !b.Shared {
		return nil
	}
	return b
}

func (v *verifier) checkMutate(pt ir.Point, p place.Place, pos ir.Pos) {
	b := v.sharedCell(p)
	if b == nil {
		return
	}
	st := v.before(pt)
	if st == nil || st.inconsistent {
		return
	}
	if mode, held := st.holding(b.Guard); held && mode == ir.LockExclusive {
		return
	}
	v.diag.Report(diagnostic.UnlockedSharedAccess, v.fn.Name, p.Key(), pt, pos,
		"mutation of shared place '%s' without holding guard '%s' exclusively", p, b.Guard)
}

func (v *verifier) checkRead(pt ir.Point, p place.Place, pos ir.Pos) {
	b := v.sharedCell(p)
	if b == nil {
		return
	}
	st := v.before(pt)
	if st == nil || st.inconsistent {
		return
	}
	if _, held := st.holding(b.Guard); held {
		return
	}
	// Exclusively borrowed by this task: no other task can observe the
	// cell, so the unlocked read is interference-free.
	if v.res != nil && v.res.StateAt(pt, p).Kind == ownership.BorrowedExclusive {
		return
	}
	v.diag.Report(diagnostic.UnlockedSharedAccess, v.fn.Name, p.Key(), pt, pos,
		"read of shared place '%s' without holding guard '%s'", p, b.Guard)
}

// checkEscapes flags borrows of guarded data that stay live past the lock
// scope they were taken under, including borrows returned to the caller.
func (v *verifier) checkEscapes() {
	if v.res == nil {
		return
	}
	for _, r := range v.res.Records {
		b := v.sharedCell(r.Place)
		if b == nil {
			continue
		}
		start := v.before(r.Start)
		if start == nil || start.inconsistent {
			continue
		}
		if _, held := start.holding(b.Guard); !held {
			// Already an unlocked access at the borrow site.
			continue
		}
		for _, pt := range r.Region.Points() {
			st := v.before(pt)
			if st == nil || st.inconsistent {
				continue
			}
			if _, held := st.holding(b.Guard); !held {
				v.diag.ReportRelated(diagnostic.BorrowEscapesLock, v.fn.Name, r.Place.Key(), r.Start, r.Pos,
					[]diagnostic.Related{{Pos: v.fn.PosAt(pt), Note: "borrow still live here after guard '" + b.Guard + "' is released"}},
					"borrow of guarded place '%s' escapes its lock scope", r.Place)
				break
			}
			if in, ok := v.fn.InstrAt(pt).(*ir.Return); ok && in.HasValue() && in.Value.Base == r.Dest {
				v.diag.ReportRelated(diagnostic.BorrowEscapesLock, v.fn.Name, r.Place.Key(), r.Start, r.Pos,
					[]diagnostic.Related{{Pos: in.Source, Note: "returned here"}},
					"borrow of guarded place '%s' is returned past its lock scope", r.Place)
				break
			}
		}
	}
}
