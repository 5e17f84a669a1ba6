// Package borrow implements the borrow and region checker: it runs the
// ownership lattice to a fixpoint over each function's control-flow graph,
// derives every borrow's region from the liveness of the reference it
// produces, and flags moves, conflicting borrows, and borrows that outlive
// their owner.
package borrow

import (
	"context"
	"errors"

	"github.com/mira-lang/mira/internal/dataflow"
	"github.com/mira-lang/mira/internal/diagnostic"
	"github.com/mira-lang/mira/internal/ir"
	"github.com/mira-lang/mira/internal/ownership"
	"github.com/mira-lang/mira/internal/place"
)

// ownProblem is the forward dataflow problem over the ownership lattice.
// The fixpoint tracks the owned/moved/uninitialized chain; live borrow
// counts are overlaid afterwards from the computed regions, which keeps
// retirement a deterministic function of the program point.
type ownProblem struct {
	fn *ir.Function
}

func (p *ownProblem) Direction() dataflow.Direction { return dataflow.Forward }

func (p *ownProblem) Boundary() *ownership.Table {
	tbl := ownership.NewTable()
	for _, b := range p.fn.Bindings {
		state := ownership.State{Kind: ownership.Uninitialized}
		if b.Param || b.Shared {
			state = ownership.State{Kind: ownership.Owned}
		}
		tbl.Set(place.Local(b.Name), state)
	}
	return tbl
}

// Bottom is nil: the identity of Join, so unvisited edges do not conflict
// with real states.
func (p *ownProblem) Bottom() *ownership.Table { return nil }

func (p *ownProblem) Join(a, b *ownership.Table) *ownership.Table {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return ownership.JoinTables(a, b)
}

func (p *ownProblem) Equal(a, b *ownership.Table) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(b)
}

func (p *ownProblem) Transfer(pt ir.Point, in *ownership.Table) *ownership.Table {
	if in == nil {
		in = ownership.NewTable()
	}
	out := in.Clone()

	switch n := p.fn.InstrAt(pt).(type) {
	case *ir.Init:
		out.Prune(n.Dest)
		out.Set(n.Dest, ownership.State{Kind: ownership.Owned})
	case *ir.Move:
		out.Prune(n.From)
		out.Set(n.From, ownership.State{Kind: ownership.Moved})
		if n.To.Base != "" {
			out.Prune(n.To)
			out.Set(n.To, ownership.State{Kind: ownership.Owned})
		}
	case *ir.Borrow:
		// The reference binding itself now holds a value.
		out.Set(place.Local(n.Dest), ownership.State{Kind: ownership.Owned})
	case *ir.Call:
		for _, arg := range n.Moves {
			out.Prune(arg)
			out.Set(arg, ownership.State{Kind: ownership.Moved})
		}
	case *ir.Drop:
		out.Prune(n.Target)
		out.Set(n.Target, ownership.State{Kind: ownership.Uninitialized})
	}

	return out
}

// Checker runs the borrow and region analysis for one function.
type Checker struct {
	fn        *ir.Function
	diag      *diagnostic.Diagnostics
	live      *dataflow.Result[liveSet]
	states    *dataflow.Result[*ownership.Table]
	records   []*Record
	maxSweeps int
}

// Check analyzes a single function. The context is consulted between
// fixpoint iterations; a cancelled or budget-exhausted analysis yields an
// incomplete result carrying an AnalysisIncomplete diagnostic, never a
// silent pass. maxSweeps bounds each fixpoint's full passes (0 = unbounded).
func Check(ctx context.Context, fn *ir.Function, maxSweeps int) *FunctionResult {
	c := &Checker{
		fn:        fn,
		diag:      diagnostic.New(),
		maxSweeps: maxSweeps,
	}

	live, err := dataflow.Solve[liveSet](ctx, fn, &liveness{fn: fn}, maxSweeps)
	if err != nil {
		return c.incomplete(err)
	}
	c.live = live
	c.records = collectRecords(fn, live)

	states, err := dataflow.Solve[*ownership.Table](ctx, fn, &ownProblem{fn: fn}, maxSweeps)
	if err != nil {
		return c.incomplete(err)
	}
	c.states = states

	c.checkPoints()
	c.checkMerges()

	return &FunctionResult{
		Fn:      fn,
		Records: c.records,
		Diags:   c.diag,
		tables:  c.composeTables(),
	}
}

// incomplete reports a cancelled or diverging analysis. The verdict side is
// handled by severity: AnalysisIncomplete is an error, so the unit can
// never pass on the strength of an unfinished fixpoint.
func (c *Checker) incomplete(err error) *FunctionResult {
	msg := "analysis of function '%s' did not complete"
	if errors.Is(err, dataflow.ErrIncomplete) {
		msg = "analysis of function '%s' was aborted before reaching a fixpoint"
	}
	c.diag.Report(diagnostic.AnalysisIncomplete, c.fn.Name, "", ir.Point{}, c.fn.Source, msg, c.fn.Name)
	return &FunctionResult{Fn: c.fn, Incomplete: true, Diags: c.diag}
}

// baseState is the fixpoint state of a place at a point, without the borrow
// overlay.
func (c *Checker) baseState(pt ir.Point, p place.Place) ownership.State {
	tbl := c.states.At(pt)
	if tbl == nil {
		return ownership.State{Kind: ownership.Uninitialized}
	}
	return tbl.Get(p)
}

// liveBorrows returns the records whose region covers pt and whose borrowed
// place overlaps p.
func (c *Checker) liveBorrows(pt ir.Point, p place.Place) []*Record {
	var out []*Record
	for _, r := range c.records {
		if r.Region.Contains(pt) && r.Place.Overlaps(p) {
			out = append(out, r)
		}
	}
	return out
}

// checkPoints walks every instruction in deterministic order and applies
// the per-point rules. Violations never abort the walk: the pre-violation
// state is the recovery point, so one root cause does not cascade.
func (c *Checker) checkPoints() {
	for bi, block := range c.fn.Blocks {
		for ii, in := range block.Instrs {
			pt := ir.Point{Block: bi, Index: ii}
			switch n := in.(type) {
			case *ir.Read:
				c.checkUse(pt, n.From, n.Source)
			case *ir.Write:
				c.checkUse(pt, n.To, n.Source)
				c.checkWrite(pt, n.To, n.Source)
			case *ir.Move:
				c.checkUse(pt, n.From, n.Source)
				c.checkOwnerEscape(pt, n.From, n.Source, "is moved here")
			case *ir.Borrow:
				c.checkUse(pt, n.From, n.Source)
				c.checkBorrow(pt, n)
			case *ir.Call:
				for _, arg := range n.Reads {
					c.checkUse(pt, arg, n.Source)
				}
				for _, arg := range n.Moves {
					c.checkUse(pt, arg, n.Source)
					c.checkOwnerEscape(pt, arg, n.Source, "is moved here")
				}
			case *ir.Return:
				if n.HasValue() {
					c.checkUse(pt, n.Value, n.Source)
					c.checkReturn(pt, n)
				}
			case *ir.Drop:
				c.checkOwnerEscape(pt, n.Target, n.Source, "goes out of scope here")
			}
		}
	}
}

// checkUse flags reads of moved or uninitialized places.
func (c *Checker) checkUse(pt ir.Point, p place.Place, pos ir.Pos) {
	switch c.baseState(pt, p).Kind {
	case ownership.Moved:
		related := c.moveOrigin(p, pos)
		c.diag.ReportRelated(diagnostic.UseAfterMove, c.fn.Name, p.Key(), pt, pos, related,
			"use of moved place '%s'", p)
	case ownership.Uninitialized:
		c.diag.Report(diagnostic.UseBeforeInit, c.fn.Name, p.Key(), pt, pos,
			"use of uninitialized place '%s'", p)
	}
}

// checkWrite flags mutation of a place while a borrow of it is live.
// Writing through a reference binding is the borrow being exercised, not a
// conflicting access to the borrowed place.
func (c *Checker) checkWrite(pt ir.Point, p place.Place, pos ir.Pos) {
	if b := c.fn.Lookup(p.Base); b != nil && b.Qualifier == ir.QualBorrowed {
		return
	}
	for _, r := range c.liveBorrows(pt, p) {
		c.diag.ReportRelated(diagnostic.ConflictingBorrow, c.fn.Name, p.Key(), pt, pos,
			[]diagnostic.Related{{Pos: r.Pos, Note: "borrowed here"}},
			"cannot mutate '%s' while it is borrowed", p)
		return
	}
}

// checkBorrow enforces the exclusivity rules at a borrow creation point.
// Any number of shared borrows may coexist; an exclusive borrow tolerates
// no other live borrow in either direction.
func (c *Checker) checkBorrow(pt ir.Point, n *ir.Borrow) {
	for _, r := range c.liveBorrows(pt, n.From) {
		if n.Kind == ir.BorrowShared && r.Kind == ir.BorrowShared {
			continue
		}
		c.diag.ReportRelated(diagnostic.ConflictingBorrow, c.fn.Name, n.From.Key(), pt, n.Source,
			[]diagnostic.Related{{Pos: r.Pos, Note: "conflicting borrow created here"}},
			"cannot borrow '%s' as %s while it is borrowed as %s", n.From, n.Kind, r.Kind)
		return
	}
}

// checkOwnerEscape flags borrows whose region extends past the point where
// the owning place is moved or leaves scope.
func (c *Checker) checkOwnerEscape(pt ir.Point, owner place.Place, pos ir.Pos, what string) {
	for _, r := range c.liveBorrows(pt, owner) {
		c.diag.ReportRelated(diagnostic.BorrowOutlivesOwner, c.fn.Name, r.Place.Key(), r.Start, r.Pos,
			[]diagnostic.Related{{Pos: pos, Note: "owner '" + owner.String() + "' " + what}},
			"borrow of '%s' outlives its owner", r.Place)
	}
}

// checkReturn flags returning a reference to function-local data. Borrows
// of parameters outlive the call and may escape.
func (c *Checker) checkReturn(pt ir.Point, n *ir.Return) {
	b := c.fn.Lookup(n.Value.Base)
	if b == nil || b.Qualifier != ir.QualBorrowed {
		return
	}
	for _, r := range c.records {
		if r.Dest != n.Value.Base || !r.Region.Contains(pt) {
			continue
		}
		owner := c.fn.Lookup(r.Place.Base)
		if owner == nil || owner.Param {
			continue
		}
		c.diag.ReportRelated(diagnostic.BorrowOutlivesOwner, c.fn.Name, r.Place.Key(), pt, n.Source,
			[]diagnostic.Related{{Pos: r.Pos, Note: "borrowed here"}},
			"returning borrow of function-local place '%s'", r.Place)
	}
}

// checkMerges reports places whose state became Conflicted at a merge point
// and that are still used on some path from there. Dead-on-all-successors
// conflicts stay silent: moving in one branch and returning in the other is
// a legitimate pattern.
func (c *Checker) checkMerges() {
	preds := dataflow.Preds(c.fn)
	for bi := range c.fn.Blocks {
		if len(preds[bi]) < 2 {
			continue
		}
		entry := ir.Point{Block: bi, Index: 0}
		tbl := c.states.At(entry)
		if tbl == nil {
			continue
		}
		for _, p := range tbl.Places() {
			if tbl.Get(p).Kind != ownership.Conflicted {
				continue
			}
			if !c.live.At(entry)[p.Base] {
				continue
			}
			if c.conflictInherited(preds[bi], p) {
				continue
			}
			c.diag.Report(diagnostic.ConflictedOwnership, c.fn.Name, p.Key(), entry, c.fn.PosAt(entry),
				"ownership of '%s' differs between merging branches and it is used afterwards", p)
		}
	}
}

// conflictInherited reports whether every predecessor already ends with the
// place conflicted, meaning the merge only propagates an upstream conflict
// that was (or will be) reported at its origin.
func (c *Checker) conflictInherited(preds []int, p place.Place) bool {
	for _, pred := range preds {
		tbl := c.states.BlockExit(pred)
		if tbl == nil {
			continue
		}
		if tbl.Get(p).Kind != ownership.Conflicted {
			return false
		}
	}
	return true
}

// moveOrigin finds the closest preceding move of a place, for the "moved
// here" note on use-after-move reports.
func (c *Checker) moveOrigin(p place.Place, before ir.Pos) []diagnostic.Related {
	var best *ir.Pos
	consider := func(moved place.Place, pos ir.Pos) {
		if !moved.Overlaps(p) || !pos.Before(before) {
			return
		}
		if best == nil || best.Before(pos) {
			cp := pos
			best = &cp
		}
	}
	for _, block := range c.fn.Blocks {
		for _, in := range block.Instrs {
			switch n := in.(type) {
			case *ir.Move:
				consider(n.From, n.Source)
			case *ir.Call:
				for _, arg := range n.Moves {
					consider(arg, n.Source)
				}
			}
		}
	}
	if best == nil {
		return nil
	}
	return []diagnostic.Related{{Pos: *best, Note: "moved here"}}
}
