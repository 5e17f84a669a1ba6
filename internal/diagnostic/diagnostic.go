package diagnostic

import (
	"fmt"
	"strings"

	"github.com/mira-lang/mira/internal/ir"
)

// Severity represents the severity level of a diagnostic message
type Severity int

const (
	Error Severity = iota
	Warning
	Info
)

// String returns the string representation of the severity level
func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Info:
		return "info"
	default:
		return "unknown"
	}
}

// Kind identifies the violation class a diagnostic reports.
type Kind int

const (
	// Borrow checker kinds.
	UseAfterMove Kind = iota
	UseBeforeInit
	ConflictingBorrow
	BorrowOutlivesOwner
	ConflictedOwnership

	// Concurrency verifier kinds.
	UnlockedSharedAccess
	BorrowEscapesLock
	LockOrderCycle

	// Analysis kinds.
	AnalysisIncomplete
	MalformedIR
)

// String returns the diagnostic kind's name as shown to users.
func (k Kind) String() string {
	switch k {
	case UseAfterMove:
		return "use-after-move"
	case UseBeforeInit:
		return "use-before-init"
	case ConflictingBorrow:
		return "conflicting-borrow"
	case BorrowOutlivesOwner:
		return "borrow-outlives-owner"
	case ConflictedOwnership:
		return "conflicted-ownership"
	case UnlockedSharedAccess:
		return "unlocked-shared-access"
	case BorrowEscapesLock:
		return "borrow-escapes-lock"
	case LockOrderCycle:
		return "lock-order-cycle"
	case AnalysisIncomplete:
		return "analysis-incomplete"
	case MalformedIR:
		return "malformed-ir"
	default:
		return "unknown"
	}
}

// Severity returns the default severity of the kind. Only conflicted
// ownership merges are warnings; everything else blocks the unit.
func (k Kind) Severity() Severity {
	if k == ConflictedOwnership {
		return Warning
	}
	return Error
}

// Hint returns an actionable suggestion for the kind, or "".
func (k Kind) Hint() string {
	switch k {
	case UseAfterMove:
		return "reinitialize the place before using it again"
	case UseBeforeInit:
		return "assign a value before the first use"
	case ConflictingBorrow:
		return "end the earlier borrow before creating this one"
	case BorrowOutlivesOwner:
		return "shorten the borrow or extend the owner's scope"
	case ConflictedOwnership:
		return "make both branches leave the place in the same state"
	case UnlockedSharedAccess:
		return "wrap the access in a lock scope for the cell's guard"
	case BorrowEscapesLock:
		return "keep references to guarded data inside the lock scope"
	case LockOrderCycle:
		return "acquire these locks in a single consistent order"
	default:
		return ""
	}
}

// Related is a secondary location that explains a diagnostic, such as the
// point where a moved value was moved or where a conflicting borrow began.
type Related struct {
	Pos  ir.Pos
	Note string
}

// Diagnostic represents a single finding. It is immutable once emitted; the
// aggregator only deduplicates and orders.
type Diagnostic struct {
	Kind     Kind
	Severity Severity
	Function string
	Place    string // canonical place form, "" when not place-specific
	Point    ir.Point
	Pos      ir.Pos
	Message  string
	Hint     string
	Related  []Related
}

// Diagnostics manages a collection of diagnostic messages
type Diagnostics struct {
	items []Diagnostic
}

// New creates a new empty Diagnostics collection
func New() *Diagnostics {
	return &Diagnostics{
		items: make([]Diagnostic, 0),
	}
}

// Add appends a fully formed diagnostic.
func (d *Diagnostics) Add(diag Diagnostic) {
	d.items = append(d.items, diag)
}

// Report adds a diagnostic of the given kind with a formatted message,
// using the kind's default severity and hint.
func (d *Diagnostics) Report(kind Kind, fn, place string, pt ir.Point, pos ir.Pos, format string, args ...any) {
	d.items = append(d.items, Diagnostic{
		Kind:     kind,
		Severity: kind.Severity(),
		Function: fn,
		Place:    place,
		Point:    pt,
		Pos:      pos,
		Message:  fmt.Sprintf(format, args...),
		Hint:     kind.Hint(),
	})
}

// ReportRelated is Report with secondary locations attached.
func (d *Diagnostics) ReportRelated(kind Kind, fn, place string, pt ir.Point, pos ir.Pos, related []Related, format string, args ...any) {
	d.items = append(d.items, Diagnostic{
		Kind:     kind,
		Severity: kind.Severity(),
		Function: fn,
		Place:    place,
		Point:    pt,
		Pos:      pos,
		Message:  fmt.Sprintf(format, args...),
		Hint:     kind.Hint(),
		Related:  related,
	})
}

// HasErrors returns true if there are any error-level diagnostics
func (d *Diagnostics) HasErrors() bool {
	for _, item := range d.items {
		if item.Severity == Error {
			return true
		}
	}
	return false
}

// All returns all diagnostics regardless of severity
func (d *Diagnostics) All() []Diagnostic {
	return d.items
}

// Count returns the total number of diagnostics
func (d *Diagnostics) Count() int {
	return len(d.items)
}

// ErrorCount returns the number of error-level diagnostics
func (d *Diagnostics) ErrorCount() int {
	count := 0
	for _, item := range d.items {
		if item.Severity == Error {
			count++
		}
	}
	return count
}

// WarningCount returns the number of warning-level diagnostics
func (d *Diagnostics) WarningCount() int {
	count := 0
	for _, item := range d.items {
		if item.Severity == Warning {
			count++
		}
	}
	return count
}

// Format returns human-readable messages.
// Output format:
//
//	error[transfer:3:10]: use of moved place 'x'
//	  hint: reinitialize the place before using it again
//	  note[3:2]: moved here
func (d *Diagnostics) Format() string {
	if len(d.items) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, item := range d.items {
		builder.WriteString(fmt.Sprintf("%s[%s:%d:%d]: %s",
			item.Severity.String(),
			item.Function,
			item.Pos.Line,
			item.Pos.Col,
			item.Message,
		))

		if item.Hint != "" {
			builder.WriteString(fmt.Sprintf("\n  hint: %s", item.Hint))
		}
		for _, rel := range item.Related {
			builder.WriteString(fmt.Sprintf("\n  note[%d:%d]: %s", rel.Pos.Line, rel.Pos.Col, rel.Note))
		}

		builder.WriteString("\n")
	}

	return builder.String()
}
