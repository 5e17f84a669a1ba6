package ir

import (
	"fmt"

	"github.com/mira-lang/mira/internal/place"
)

// Qualifier is the ownership qualifier the upstream type layer declared for a
// binding. The analyzer never infers qualifiers; the front end must resolve
// every binding to one of these before analysis begins.
type Qualifier int

const (
	QualOwned Qualifier = iota
	QualBorrowed
)

// String returns the source-level spelling of the qualifier.
func (q Qualifier) String() string {
	switch q {
	case QualOwned:
		return "own"
	case QualBorrowed:
		return "borrow"
	default:
		return "unknown"
	}
}

// BorrowKind distinguishes shared (immutable, counted) borrows from
// exclusive (mutable, unique) borrows.
type BorrowKind int

const (
	BorrowShared BorrowKind = iota
	BorrowExclusive
)

// String returns the string representation of the borrow kind.
func (k BorrowKind) String() string {
	if k == BorrowExclusive {
		return "exclusive"
	}
	return "shared"
}

// LockMode distinguishes shared from exclusive lock acquisitions.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// String returns the string representation of the lock mode.
func (m LockMode) String() string {
	if m == LockExclusive {
		return "exclusive"
	}
	return "shared"
}

// Pos is a source position carried by every instruction for diagnostics.
type Pos struct {
	Line int
	Col  int
}

// String renders the position as "line:col".
func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Before reports whether p precedes q in source order.
func (p Pos) Before(q Pos) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Col < q.Col
}

// Point identifies a program point: the state observed immediately before
// executing instruction Index of block Block. Index == len(Instrs) is the
// block's exit point.
type Point struct {
	Block int
	Index int
}

// String renders the point as "bN:I".
func (pt Point) String() string {
	return fmt.Sprintf("b%d:%d", pt.Block, pt.Index)
}

// Compare orders points by block then index.
func (pt Point) Compare(other Point) int {
	if pt.Block != other.Block {
		if pt.Block < other.Block {
			return -1
		}
		return 1
	}
	switch {
	case pt.Index < other.Index:
		return -1
	case pt.Index > other.Index:
		return 1
	default:
		return 0
	}
}

// Unit is one compilation unit: the set of functions analyzed together.
// Deadlock potential is a whole-unit property, so the lock-order graph
// accumulates across all of a unit's functions.
type Unit struct {
	Name      string
	Functions []*Function
}

// Function is one function body: its declared bindings and its control-flow
// graph. Blocks[0] is the entry block.
type Function struct {
	Name      string
	Bindings  []*Binding
	Blocks    []*Block
	Contracts []*Contract
	Source    Pos
}

// Lookup returns the binding with the given name, or nil.
func (f *Function) Lookup(name string) *Binding {
	for _, b := range f.Bindings {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// InstrAt returns the instruction at the given point, or nil for a block
// exit point.
func (f *Function) InstrAt(pt Point) Instr {
	if pt.Block < 0 || pt.Block >= len(f.Blocks) {
		return nil
	}
	b := f.Blocks[pt.Block]
	if pt.Index < 0 || pt.Index >= len(b.Instrs) {
		return nil
	}
	return b.Instrs[pt.Index]
}

// PosAt returns the source position of the instruction at pt, or the zero
// position for exit points.
func (f *Function) PosAt(pt Point) Pos {
	if in := f.InstrAt(pt); in != nil {
		return in.Pos()
	}
	return Pos{}
}

// Binding is a function-local binding or parameter with its declared
// ownership qualifier. A binding marked Shared is a cross-task-visible cell;
// Guard names the lock that protects it, already resolved by the front end.
type Binding struct {
	Name      string
	Qualifier Qualifier
	Param     bool
	Shared    bool
	Guard     string
}

// ContractKind distinguishes precondition from postcondition predicates.
type ContractKind int

const (
	ContractRequires ContractKind = iota
	ContractEnsures
)

// String returns the source-level spelling of the contract kind.
func (k ContractKind) String() string {
	if k == ContractEnsures {
		return "ensures"
	}
	return "requires"
}

// Contract is a behavioral predicate attached to a function as metadata.
// The analyzer does not interpret predicates; it carries them through so the
// external contract layer can pair them with proven-exclusive regions.
type Contract struct {
	Kind      ContractKind
	Predicate string
}

// Block is a basic block: a label, a straight-line instruction sequence, and
// successor edges by block index.
type Block struct {
	Label  string
	Instrs []Instr
	Succs  []int
}

// --- Instructions ---

// Instr is the interface for all IR instructions.
type Instr interface {
	Pos() Pos
	instrNode()
}

// Init assigns a fresh owned value to a place, initializing or
// re-initializing it.
type Init struct {
	Dest   place.Place
	Source Pos
}

func (i *Init) Pos() Pos { return i.Source }
func (*Init) instrNode() {}

// Move transfers ownership out of From. When To names a place the value
// moves there; a zero To means the value is consumed (passed by move to a
// callee or destroyed).
type Move struct {
	From   place.Place
	To     place.Place
	Source Pos
}

func (i *Move) Pos() Pos { return i.Source }
func (*Move) instrNode() {}

// Read is a non-consuming use of a place.
type Read struct {
	From   place.Place
	Source Pos
}

func (i *Read) Pos() Pos { return i.Source }
func (*Read) instrNode() {}

// Write mutates a place through its owner or an exclusive borrow.
type Write struct {
	To     place.Place
	Source Pos
}

func (i *Write) Pos() Pos { return i.Source }
func (*Write) instrNode() {}

// Borrow creates a borrow of From and binds the resulting reference to the
// local binding named Dest.
type Borrow struct {
	From   place.Place
	Kind   BorrowKind
	Dest   string
	Source Pos
}

func (i *Borrow) Pos() Pos { return i.Source }
func (*Borrow) instrNode() {}

// Call invokes another function. Reads are passed without consuming; Moves
// are consumed by the callee.
type Call struct {
	Callee string
	Reads  []place.Place
	Moves  []place.Place
	Source Pos
}

func (i *Call) Pos() Pos { return i.Source }
func (*Call) instrNode() {}

// Return leaves the function, optionally yielding Value to the caller.
type Return struct {
	Value  place.Place
	Source Pos
}

// HasValue reports whether the return carries a value.
func (i *Return) HasValue() bool {
	return i.Value.Base != ""
}

func (i *Return) Pos() Pos { return i.Source }
func (*Return) instrNode() {}

// Drop marks the end of a binding's lexical lifetime. The front end emits a
// Drop for every local at its scope exit.
type Drop struct {
	Target place.Place
	Source Pos
}

func (i *Drop) Pos() Pos { return i.Source }
func (*Drop) instrNode() {}

// Acquire enters a lock scope for the named guard.
type Acquire struct {
	Guard  string
	Mode   LockMode
	Source Pos
}

func (i *Acquire) Pos() Pos { return i.Source }
func (*Acquire) instrNode() {}

// Release exits the lock scope for the named guard. The front end emits
// structurally scoped acquire/release pairs on every exit path.
type Release struct {
	Guard  string
	Source Pos
}

func (i *Release) Pos() Pos { return i.Source }
func (*Release) instrNode() {}
