// Package dataflow provides a generic fixpoint solver over a function's
// control-flow graph. The solver is parameterized by the lattice it iterates
// over and is deterministic: re-running on an unchanged graph yields
// identical per-point state tables.
package dataflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mira-lang/mira/internal/ir"
)

// ErrIncomplete is reported when a fixpoint computation was cancelled or
// exceeded its iteration budget. An incomplete analysis must never be
// interpreted as a pass.
var ErrIncomplete = errors.New("fixpoint incomplete")

// Direction selects forward or backward propagation along CFG edges.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Problem describes one dataflow computation: the lattice operations and the
// per-instruction transfer function.
type Problem[S any] interface {
	// Direction reports which way facts flow.
	Direction() Direction

	// Boundary is the state at the function boundary: the entry block's
	// in-state for forward problems, every exit block's out-state for
	// backward problems.
	Boundary() S

	// Bottom is the initial state of every other block edge.
	Bottom() S

	// Join merges states at control-flow merge points. It must be
	// commutative and deterministic.
	Join(a, b S) S

	// Equal reports whether two states carry the same facts. The solver
	// stops when no block's state changes under Equal.
	Equal(a, b S) bool

	// Transfer applies the instruction at pt to the state flowing into it
	// (in program order for forward problems, reversed for backward ones).
	Transfer(pt ir.Point, in S) S
}

// Result holds the fixpoint's per-point state table. At(pt) is the state
// holding immediately before the instruction at pt in program order;
// index len(Instrs) is the block's exit state.
type Result[S any] struct {
	states [][]S
}

// At returns the state at the given program point.
func (r *Result[S]) At(pt ir.Point) S {
	return r.states[pt.Block][pt.Index]
}

// BlockEntry returns the state at the start of a block.
func (r *Result[S]) BlockEntry(block int) S {
	return r.states[block][0]
}

// BlockExit returns the state at the end of a block.
func (r *Result[S]) BlockExit(block int) S {
	row := r.states[block]
	return row[len(row)-1]
}

// Solve iterates the problem to a fixpoint. Blocks are processed in a fixed
// order (reverse postorder for forward problems, postorder for backward
// ones), so the result is bit-identical across runs on the same input.
//
// The context is checked between sweeps: cancellation aborts the computation
// with ErrIncomplete rather than returning a partial table. maxSweeps bounds
// the number of full passes over the graph; zero or negative means no bound.
func Solve[S any](ctx context.Context, fn *ir.Function, p Problem[S], maxSweeps int) (*Result[S], error) {
	nblocks := len(fn.Blocks)
	if nblocks == 0 {
		return &Result[S]{}, nil
	}

	order := ReversePostorder(fn)
	preds := Preds(fn)
	backward := p.Direction() == Backward
	if backward {
		reverse(order)
	}

	// out-edge states per block in analysis direction.
	outState := make([]S, nblocks)
	for bi := 0; bi < nblocks; bi++ {
		outState[bi] = p.Bottom()
	}

	boundary := func(bi int) bool {
		if backward {
			return len(fn.Blocks[bi].Succs) == 0
		}
		return bi == 0
	}

	result := &Result[S]{states: make([][]S, nblocks)}
	for bi, block := range fn.Blocks {
		result.states[bi] = make([]S, len(block.Instrs)+1)
	}

	for sweep := 0; ; sweep++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
		if maxSweeps > 0 && sweep >= maxSweeps {
			return nil, fmt.Errorf("%w: no fixpoint after %d sweeps", ErrIncomplete, maxSweeps)
		}

		changed := false
		for _, bi := range order {
			in := p.Bottom()
			merged := false
			if boundary(bi) {
				in = p.Boundary()
				merged = true
			}
			for _, src := range flowSources(fn, preds, bi, backward) {
				if !merged {
					in = outState[src]
					merged = true
					continue
				}
				in = p.Join(in, outState[src])
			}

			out := transferBlock(fn, p, bi, in, backward, result)
			if !p.Equal(out, outState[bi]) {
				outState[bi] = out
				changed = true
			}
		}

		if !changed {
			return result, nil
		}
	}
}

// flowSources returns the blocks whose out-states flow into bi in the
// analysis direction.
func flowSources(fn *ir.Function, preds [][]int, bi int, backward bool) []int {
	if backward {
		return fn.Blocks[bi].Succs
	}
	return preds[bi]
}

// transferBlock pushes a state through one block, recording the per-point
// states as it goes.
func transferBlock[S any](fn *ir.Function, p Problem[S], bi int, in S, backward bool, result *Result[S]) S {
	block := fn.Blocks[bi]
	n := len(block.Instrs)
	state := in

	if backward {
		result.states[bi][n] = state
		for idx := n - 1; idx >= 0; idx-- {
			state = p.Transfer(ir.Point{Block: bi, Index: idx}, state)
			result.states[bi][idx] = state
		}
		return state
	}

	for idx := 0; idx < n; idx++ {
		result.states[bi][idx] = state
		state = p.Transfer(ir.Point{Block: bi, Index: idx}, state)
	}
	result.states[bi][n] = state
	return state
}

func reverse(order []int) {
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
}
