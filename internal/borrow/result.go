package borrow

import (
	"github.com/mira-lang/mira/internal/diagnostic"
	"github.com/mira-lang/mira/internal/ir"
	"github.com/mira-lang/mira/internal/ownership"
	"github.com/mira-lang/mira/internal/place"
)

// FunctionResult is the annotated product of checking one function: the
// per-point ownership tables with live borrows applied, the borrow records
// with their resolved regions, and the diagnostics found. Downstream stages
// consume it to elide runtime checks and to assume non-aliasing inside
// proven-exclusive regions.
type FunctionResult struct {
	Fn         *ir.Function
	Incomplete bool
	Records    []*Record
	Diags      *diagnostic.Diagnostics

	tables [][]*ownership.Table
}

// StateAt returns the resolved ownership state of a place at a point,
// including live borrows. Results of an incomplete analysis have no tables
// and report every place as uninitialized.
func (r *FunctionResult) StateAt(pt ir.Point, p place.Place) ownership.State {
	if r.tables == nil {
		return ownership.State{Kind: ownership.Uninitialized}
	}
	tbl := r.tables[pt.Block][pt.Index]
	if tbl == nil {
		return ownership.State{Kind: ownership.Uninitialized}
	}
	return tbl.Get(p)
}

// TableAt returns the full resolved state table at a point, or nil for
// points in unreachable blocks or incomplete results.
func (r *FunctionResult) TableAt(pt ir.Point) *ownership.Table {
	if r.tables == nil {
		return nil
	}
	return r.tables[pt.Block][pt.Index]
}

// ExclusiveRegion lists the points at which a place is provably free of
// aliases: it is owned outright or held by a single exclusive borrow. The
// contract layer may assume no aliasing within these points.
type ExclusiveRegion struct {
	Place  place.Place
	Points []ir.Point
}

// ProvenExclusive computes the exclusive regions of every binding, in
// declaration order.
func (r *FunctionResult) ProvenExclusive() []ExclusiveRegion {
	if r.tables == nil {
		return nil
	}
	var out []ExclusiveRegion
	for _, b := range r.Fn.Bindings {
		p := place.Local(b.Name)
		var points []ir.Point
		for bi, block := range r.Fn.Blocks {
			for idx := 0; idx <= len(block.Instrs); idx++ {
				pt := ir.Point{Block: bi, Index: idx}
				switch r.StateAt(pt, p).Kind {
				case ownership.Owned, ownership.BorrowedExclusive:
					points = append(points, pt)
				}
			}
		}
		if len(points) > 0 {
			out = append(out, ExclusiveRegion{Place: p, Points: points})
		}
	}
	return out
}

// composeTables overlays live borrow states on the base fixpoint tables.
// The count of live shared borrows at a point is the number of regions
// covering it, so retirement (the count dropping at a reference's last use)
// falls out of the region computation.
func (c *Checker) composeTables() [][]*ownership.Table {
	tables := make([][]*ownership.Table, len(c.fn.Blocks))
	for bi, block := range c.fn.Blocks {
		tables[bi] = make([]*ownership.Table, len(block.Instrs)+1)
		for idx := 0; idx <= len(block.Instrs); idx++ {
			pt := ir.Point{Block: bi, Index: idx}
			base := c.states.At(pt)
			if base == nil {
				continue
			}
			tables[bi][idx] = c.overlay(pt, base)
		}
	}
	return tables
}

// overlay applies the borrows live at pt to a copy of the base table.
func (c *Checker) overlay(pt ir.Point, base *ownership.Table) *ownership.Table {
	tbl := base.Clone()

	type borrowSummary struct {
		place     place.Place
		shares    int
		exclusive bool
	}
	summaries := make(map[string]*borrowSummary)
	var order []string

	for _, r := range c.records {
		if !r.Region.Contains(pt) {
			continue
		}
		key := r.Place.Key()
		s, ok := summaries[key]
		if !ok {
			s = &borrowSummary{place: r.Place}
			summaries[key] = s
			order = append(order, key)
		}
		if r.Kind == ir.BorrowExclusive {
			s.exclusive = true
		} else {
			s.shares++
		}
	}

	for _, key := range order {
		s := summaries[key]
		if tbl.Get(s.place).Kind != ownership.Owned {
			// A moved or uninitialized owner is the violation already
			// reported; the table keeps the base state.
			continue
		}
		if s.exclusive {
			tbl.Set(s.place, ownership.State{Kind: ownership.BorrowedExclusive})
		} else {
			tbl.Set(s.place, ownership.State{Kind: ownership.BorrowedShared, Shares: s.shares})
		}
	}

	return tbl
}
