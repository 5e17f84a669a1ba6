package dataflow

import (
	"github.com/mira-lang/mira/internal/ir"
)

// Preds computes the predecessor lists of a function's blocks from its
// successor edges.
func Preds(fn *ir.Function) [][]int {
	preds := make([][]int, len(fn.Blocks))
	for bi, block := range fn.Blocks {
		for _, succ := range block.Succs {
			preds[succ] = append(preds[succ], bi)
		}
	}
	return preds
}

// ReversePostorder returns the function's blocks in reverse postorder from
// the entry block. Blocks unreachable from the entry are appended at the end
// in index order so every block still receives a state.
func ReversePostorder(fn *ir.Function) []int {
	visited := make([]bool, len(fn.Blocks))
	var post []int

	var visit func(int)
	visit = func(bi int) {
		visited[bi] = true
		for _, succ := range fn.Blocks[bi].Succs {
			if !visited[succ] {
				visit(succ)
			}
		}
		post = append(post, bi)
	}
	if len(fn.Blocks) > 0 {
		visit(0)
	}

	order := make([]int, 0, len(fn.Blocks))
	for i := len(post) - 1; i >= 0; i-- {
		order = append(order, post[i])
	}
	for bi := range fn.Blocks {
		if !visited[bi] {
			order = append(order, bi)
		}
	}
	return order
}

// ExitBlocks returns the indexes of blocks with no successors.
func ExitBlocks(fn *ir.Function) []int {
	var exits []int
	for bi, block := range fn.Blocks {
		if len(block.Succs) == 0 {
			exits = append(exits, bi)
		}
	}
	return exits
}
