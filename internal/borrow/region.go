package borrow

import (
	"sort"

	"github.com/mira-lang/mira/internal/dataflow"
	"github.com/mira-lang/mira/internal/ir"
	"github.com/mira-lang/mira/internal/place"
)

// Region is the validity interval of one borrow: the set of program points
// at which the reference it produced may still be used. Regions are derived
// from the backward liveness of the reference binding, so a borrow retires
// at its last use rather than at scope end.
type Region struct {
	points map[ir.Point]bool
}

// Contains reports whether the borrow is live at the given point.
func (r *Region) Contains(pt ir.Point) bool {
	return r.points[pt]
}

// Points returns the region's program points in deterministic order.
func (r *Region) Points() []ir.Point {
	out := make([]ir.Point, 0, len(r.points))
	for pt := range r.points {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Empty reports whether the reference is never used after creation.
func (r *Region) Empty() bool {
	return len(r.points) == 0
}

// Record is one borrow: the place it borrows, its kind, the reference
// binding it originates, where it was created, and its region.
type Record struct {
	Place  place.Place
	Kind   ir.BorrowKind
	Dest   string
	Start  ir.Point
	Pos    ir.Pos
	Region *Region
}

// collectRecords finds every borrow instruction and computes its region.
// Records are ordered by creation point, so downstream reporting is
// deterministic.
func collectRecords(fn *ir.Function, live *dataflow.Result[liveSet]) []*Record {
	var records []*Record
	for bi, block := range fn.Blocks {
		for ii, in := range block.Instrs {
			b, ok := in.(*ir.Borrow)
			if !ok {
				continue
			}
			start := ir.Point{Block: bi, Index: ii}
			records = append(records, &Record{
				Place:  b.From,
				Kind:   b.Kind,
				Dest:   b.Dest,
				Start:  start,
				Pos:    b.Source,
				Region: traceRegion(fn, live, b.Dest, start),
			})
		}
	}
	return records
}

// traceRegion walks forward from the borrow's creation point, collecting
// every point where the reference binding is still live. The walk stops at
// points where the binding is dead and does not continue past an
// instruction that rebinds it: after a rebinding the binding carries a
// different borrow.
func traceRegion(fn *ir.Function, live *dataflow.Result[liveSet], dest string, start ir.Point) *Region {
	region := &Region{points: make(map[ir.Point]bool)}
	visited := make(map[ir.Point]bool)

	var work []ir.Point
	for _, pt := range successors(fn, start) {
		work = append(work, pt)
	}

	for len(work) > 0 {
		pt := work[0]
		work = work[1:]
		if visited[pt] {
			continue
		}
		visited[pt] = true

		if !live.At(pt)[dest] {
			continue
		}
		region.points[pt] = true

		if rebinds(fn.InstrAt(pt), dest) {
			continue
		}
		work = append(work, successors(fn, pt)...)
	}

	return region
}

// successors returns the points immediately following pt in execution
// order: the next point in the block (the exit point included, so a region
// crossing a block edge covers it), or the entry points of successor
// blocks from the exit.
func successors(fn *ir.Function, pt ir.Point) []ir.Point {
	block := fn.Blocks[pt.Block]
	if pt.Index < len(block.Instrs) {
		return []ir.Point{{Block: pt.Block, Index: pt.Index + 1}}
	}
	out := make([]ir.Point, 0, len(block.Succs))
	for _, succ := range block.Succs {
		out = append(out, ir.Point{Block: succ, Index: 0})
	}
	return out
}

// rebinds reports whether the instruction gives dest a new value.
func rebinds(in ir.Instr, dest string) bool {
	switch n := in.(type) {
	case *ir.Borrow:
		return n.Dest == dest
	case *ir.Init:
		return n.Dest.IsLocal() && n.Dest.Base == dest
	case *ir.Move:
		return n.To.IsLocal() && n.To.Base == dest
	default:
		return false
	}
}
