package analysis

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/mira-lang/mira/internal/config"
	"github.com/mira-lang/mira/internal/diagnostic"
	"github.com/mira-lang/mira/internal/ir"
	"github.com/mira-lang/mira/internal/place"
)

func pos(line int) ir.Pos {
	return ir.Pos{Line: line, Col: 1}
}

func lockPair(name, first, second string) *ir.Function {
	return &ir.Function{
		Name: name,
		Blocks: []*ir.Block{{Label: "entry", Instrs: []ir.Instr{
			&ir.Acquire{Guard: first, Mode: ir.LockExclusive, Source: pos(1)},
			&ir.Acquire{Guard: second, Mode: ir.LockExclusive, Source: pos(2)},
			&ir.Release{Guard: second, Source: pos(3)},
			&ir.Release{Guard: first, Source: pos(4)},
			&ir.Return{Source: pos(5)},
		}}},
	}
}

func TestRunCleanUnit(t *testing.T) {
	unit := &ir.Unit{
		Name: "u",
		Functions: []*ir.Function{
			{
				Name:     "f",
				Bindings: []*ir.Binding{{Name: "p", Qualifier: ir.QualOwned}},
				Blocks: []*ir.Block{{Label: "entry", Instrs: []ir.Instr{
					&ir.Init{Dest: place.Local("p"), Source: pos(1)},
					&ir.Read{From: place.Local("p"), Source: pos(2)},
					&ir.Return{Source: pos(3)},
				}}},
			},
			lockPair("g", "a", "b"),
		},
	}

	res := Run(context.Background(), unit, config.Default())
	if res.Verdict != diagnostic.Pass {
		t.Fatalf("verdict = %s, want pass\n%s", res.Verdict, res.Diags.Format())
	}
	if len(res.Functions) != 2 || res.Function("g") == nil {
		t.Fatalf("per-function results missing: %+v", res.Functions)
	}
	if edges := res.LockGraph.Edges(); len(edges) != 1 || edges[0].From != "a" {
		t.Errorf("lock graph edges = %+v", edges)
	}
}

func TestRunCrossFunctionLockCycle(t *testing.T) {
	unit := &ir.Unit{
		Name:      "u",
		Functions: []*ir.Function{lockPair("f", "a", "b"), lockPair("g", "b", "a")},
	}

	res := Run(context.Background(), unit, config.Default())
	if res.Verdict != diagnostic.Fail {
		t.Fatal("expected fail verdict for a lock-order cycle")
	}

	var cycles []diagnostic.Diagnostic
	for _, d := range res.Diags.All() {
		if d.Kind == diagnostic.LockOrderCycle {
			cycles = append(cycles, d)
		}
	}
	if len(cycles) != 1 {
		t.Fatalf("cycle diagnostics = %d, want 1\n%s", len(cycles), res.Diags.Format())
	}
	if cycles[0].Function != "g" {
		t.Errorf("cycle attributed to %s, want g (the closing acquisition)", cycles[0].Function)
	}
}

func TestRunSkipsMalformedFunction(t *testing.T) {
	unit := &ir.Unit{
		Name: "u",
		Functions: []*ir.Function{
			{
				Name: "f",
				Blocks: []*ir.Block{{Label: "entry", Instrs: []ir.Instr{
					&ir.Read{From: place.Local("ghost"), Source: pos(1)},
				}}},
			},
			lockPair("g", "a", "b"),
		},
	}

	res := Run(context.Background(), unit, config.Default())
	if res.Verdict != diagnostic.Fail {
		t.Fatal("expected fail verdict for malformed input")
	}

	// The malformed function is skipped, the healthy one still analyzed.
	if res.Function("f") != nil {
		t.Error("malformed function must not be analyzed")
	}
	if res.Function("g") == nil {
		t.Fatal("healthy function skipped because a sibling is malformed")
	}
	if edges := res.LockGraph.Edges(); len(edges) != 1 || edges[0].From != "a" {
		t.Errorf("healthy function's lock edges missing: %+v", edges)
	}

	found := false
	for _, d := range res.Diags.All() {
		if d.Kind == diagnostic.MalformedIR && d.Function == "f" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected malformed-ir attributed to f, got:\n%s", res.Diags.Format())
	}
}

// conflictedUnit moves p on one branch only, then uses it after the merge.
func conflictedUnit() *ir.Unit {
	return &ir.Unit{
		Name: "u",
		Functions: []*ir.Function{{
			Name:     "f",
			Bindings: []*ir.Binding{{Name: "p", Qualifier: ir.QualOwned}},
			Blocks: []*ir.Block{
				{Label: "entry", Instrs: []ir.Instr{
					&ir.Init{Dest: place.Local("p"), Source: pos(1)},
				}, Succs: []int{1, 2}},
				{Label: "then", Instrs: []ir.Instr{
					&ir.Move{From: place.Local("p"), Source: pos(2)},
				}, Succs: []int{3}},
				{Label: "else", Succs: []int{3}},
				{Label: "merge", Instrs: []ir.Instr{
					&ir.Read{From: place.Local("p"), Source: pos(3)},
					&ir.Return{Source: pos(4)},
				}},
			},
		}},
	}
}

func TestRunConflictedEscalation(t *testing.T) {
	res := Run(context.Background(), conflictedUnit(), config.Default())
	if res.Verdict != diagnostic.Pass {
		t.Fatalf("conflicted ownership should warn, not fail:\n%s", res.Diags.Format())
	}
	if res.Diags.WarningCount() == 0 {
		t.Fatal("expected a conflicted-ownership warning")
	}

	cfg := config.Default()
	cfg.EscalateConflicted = true
	res = Run(context.Background(), conflictedUnit(), cfg)
	if res.Verdict != diagnostic.Fail {
		t.Fatal("escalation should turn the warning into a failing verdict")
	}
}

func TestRunDeterministic(t *testing.T) {
	unit := &ir.Unit{
		Name: "u",
		Functions: []*ir.Function{
			lockPair("a1", "a", "b"),
			lockPair("a2", "b", "c"),
			lockPair("a3", "c", "a"),
			conflictedUnit().Functions[0],
		},
	}
	cfg := config.Default()
	cfg.Workers = 3

	first := Run(context.Background(), unit, cfg)
	for i := 0; i < 5; i++ {
		next := Run(context.Background(), unit, cfg)
		if !reflect.DeepEqual(first.Diags.All(), next.Diags.All()) {
			t.Fatalf("diagnostics differ between runs:\n%s\nvs\n%s",
				first.Diags.Format(), next.Diags.Format())
		}
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Run(ctx, conflictedUnit(), config.Default())
	if res.Verdict != diagnostic.Fail {
		t.Fatal("a cancelled analysis must not pass")
	}
	found := false
	for _, d := range res.Diags.All() {
		if d.Kind == diagnostic.AnalysisIncomplete {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected analysis-incomplete, got:\n%s", res.Diags.Format())
	}
}

func TestDump(t *testing.T) {
	unit := &ir.Unit{
		Name: "u",
		Functions: []*ir.Function{{
			Name:      "f",
			Contracts: []*ir.Contract{{Kind: ir.ContractRequires, Predicate: "p > 0"}},
			Bindings: []*ir.Binding{
				{Name: "p", Qualifier: ir.QualOwned},
				{Name: "r", Qualifier: ir.QualBorrowed},
			},
			Blocks: []*ir.Block{{Label: "entry", Instrs: []ir.Instr{
				&ir.Init{Dest: place.Local("p"), Source: pos(1)},
				&ir.Borrow{From: place.Local("p"), Kind: ir.BorrowShared, Dest: "r", Source: pos(2)},
				&ir.Read{From: place.Local("r"), Source: pos(3)},
				&ir.Return{Source: pos(4)},
			}}},
		}},
	}

	res := Run(context.Background(), unit, config.Default())
	out := res.Function("f").Dump()

	for _, want := range []string{
		"fn f:",
		"requires p > 0",
		"borrow shared p -> r",
		"borrow shared p as r:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}

	again := res.Function("f").Dump()
	if out != again {
		t.Error("dump output is not stable")
	}
}
