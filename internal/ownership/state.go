// Package ownership defines the per-place ownership lattice the dataflow
// engine iterates over. Exactly one state holds per place at each program
// point; the join operator detects conflicting states at control-flow merges
// instead of silently picking one.
package ownership

import "fmt"

// Kind is a place's ownership state kind at a program point.
type Kind uint8

const (
	// Uninitialized places hold no value yet.
	Uninitialized Kind = iota

	// Owned places hold a value with no live borrows.
	Owned

	// BorrowedShared places have one or more live immutable borrows.
	BorrowedShared

	// BorrowedExclusive places have exactly one live mutable borrow.
	BorrowedExclusive

	// Moved places had their value transferred away.
	Moved

	// Conflicted marks a merge point where predecessors disagreed on the
	// place's state in an incompatible way. Conflicted is reportable unless
	// the place is dead on all successors.
	Conflicted
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case Uninitialized:
		return "uninitialized"
	case Owned:
		return "owned"
	case BorrowedShared:
		return "borrowed-shared"
	case BorrowedExclusive:
		return "borrowed-exclusive"
	case Moved:
		return "moved"
	case Conflicted:
		return "conflicted"
	default:
		return "unknown"
	}
}

// State is one lattice value: a kind plus, for shared borrows, the number of
// live borrows.
type State struct {
	Kind   Kind
	Shares int
}

// String renders the state, including the live-borrow count for shared
// borrows.
func (s State) String() string {
	if s.Kind == BorrowedShared {
		return fmt.Sprintf("borrowed-shared(%d)", s.Shares)
	}
	return s.Kind.String()
}

// Usable reports whether the place's value may be read at this state.
func (s State) Usable() bool {
	switch s.Kind {
	case Owned, BorrowedShared, BorrowedExclusive:
		return true
	default:
		return false
	}
}

// Join merges two states at a control-flow merge point. Identical kinds join
// to themselves (shared-borrow counts join to the larger, conservative
// count); any disagreement in kind is a conflict. A conflict is not resolved
// here: the merged state is Conflicted and the borrow checker decides
// whether it is reportable.
func Join(a, b State) State {
	if a.Kind != b.Kind {
		return State{Kind: Conflicted}
	}
	if a.Kind == BorrowedShared && b.Shares > a.Shares {
		return b
	}
	return a
}
