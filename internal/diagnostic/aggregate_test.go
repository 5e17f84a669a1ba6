package diagnostic

import (
	"reflect"
	"strings"
	"testing"

	"github.com/mira-lang/mira/internal/ir"
)

func TestAggregateDeduplicates(t *testing.T) {
	a := New()
	a.Report(UseAfterMove, "f", "x", ir.Point{Block: 0, Index: 2}, ir.Pos{Line: 3, Col: 1}, "use of moved place 'x'")

	b := New()
	b.Report(UseAfterMove, "f", "x", ir.Point{Block: 0, Index: 2}, ir.Pos{Line: 3, Col: 1}, "use of moved place 'x'")
	b.Report(UseAfterMove, "f", "x", ir.Point{Block: 0, Index: 4}, ir.Pos{Line: 5, Col: 1}, "use of moved place 'x'")

	merged := Aggregate(a, b)
	if merged.Count() != 2 {
		t.Errorf("expected 2 diagnostics after dedupe, got %d", merged.Count())
	}
}

func TestAggregateSortsBySourceOrder(t *testing.T) {
	a := New()
	a.Report(ConflictingBorrow, "f", "p", ir.Point{Block: 1, Index: 0}, ir.Pos{Line: 9, Col: 1}, "late")
	a.Report(UseBeforeInit, "f", "q", ir.Point{Block: 0, Index: 0}, ir.Pos{Line: 2, Col: 5}, "early")
	a.Report(UseAfterMove, "f", "r", ir.Point{Block: 0, Index: 3}, ir.Pos{Line: 2, Col: 9}, "middle")

	merged := Aggregate(a)
	var messages []string
	for _, item := range merged.All() {
		messages = append(messages, item.Message)
	}
	want := []string{"early", "middle", "late"}
	if !reflect.DeepEqual(messages, want) {
		t.Errorf("order = %v, want %v", messages, want)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	build := func() *Diagnostics {
		a := New()
		a.Report(LockOrderCycle, "g", "", ir.Point{}, ir.Pos{Line: 4, Col: 2}, "cycle a -> b -> a")
		a.Report(UnlockedSharedAccess, "g", "cell", ir.Point{Block: 0, Index: 1}, ir.Pos{Line: 4, Col: 2}, "unguarded write")
		b := New()
		b.Report(UnlockedSharedAccess, "g", "cell", ir.Point{Block: 0, Index: 1}, ir.Pos{Line: 4, Col: 2}, "unguarded write")
		return Aggregate(a, b)
	}

	first := build().All()
	second := build().All()
	if !reflect.DeepEqual(first, second) {
		t.Error("aggregation is not deterministic across runs")
	}
}

func TestVerdict(t *testing.T) {
	clean := New()
	if clean.Verdict(false) != Pass {
		t.Error("empty collection must pass")
	}

	warnOnly := New()
	warnOnly.Report(ConflictedOwnership, "f", "x", ir.Point{}, ir.Pos{Line: 1, Col: 1}, "branches disagree")
	if warnOnly.Verdict(false) != Pass {
		t.Error("conflicted-ownership warnings must not block by default")
	}
	if warnOnly.Verdict(true) != Fail {
		t.Error("escalated warnings must fail the unit")
	}

	withError := New()
	withError.Report(AnalysisIncomplete, "f", "", ir.Point{}, ir.Pos{}, "fixpoint cancelled")
	if withError.Verdict(false) != Fail {
		t.Error("analysis-incomplete must never pass")
	}
}

func TestKindSeverityAndHints(t *testing.T) {
	if ConflictedOwnership.Severity() != Warning {
		t.Error("conflicted-ownership must default to warning severity")
	}
	for _, k := range []Kind{UseAfterMove, UseBeforeInit, ConflictingBorrow, BorrowOutlivesOwner,
		UnlockedSharedAccess, BorrowEscapesLock, LockOrderCycle, AnalysisIncomplete, MalformedIR} {
		if k.Severity() != Error {
			t.Errorf("%s must default to error severity", k)
		}
	}
	if UseAfterMove.Hint() == "" {
		t.Error("use-after-move should carry a hint")
	}
}

func TestFormatIncludesRelatedPoints(t *testing.T) {
	d := New()
	d.ReportRelated(UseAfterMove, "transfer", "x",
		ir.Point{Block: 0, Index: 3}, ir.Pos{Line: 7, Col: 5},
		[]Related{{Pos: ir.Pos{Line: 4, Col: 5}, Note: "moved here"}},
		"use of moved place 'x'")

	out := d.Format()
	for _, want := range []string{"error[transfer:7:5]", "use of moved place 'x'", "note[4:5]: moved here", "hint:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q in:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Format() must end with a newline")
	}
}
