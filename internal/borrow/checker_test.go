package borrow

import (
	"context"
	"reflect"
	"testing"

	"github.com/sirkon/deepequal"

	"github.com/mira-lang/mira/internal/diagnostic"
	"github.com/mira-lang/mira/internal/ir"
	"github.com/mira-lang/mira/internal/ownership"
	"github.com/mira-lang/mira/internal/place"
)

func pos(line int) ir.Pos {
	return ir.Pos{Line: line, Col: 1}
}

// straightLine builds a single-block function over the given bindings.
func straightLine(name string, bindings []*ir.Binding, instrs ...ir.Instr) *ir.Function {
	return &ir.Function{
		Name:     name,
		Bindings: bindings,
		Blocks:   []*ir.Block{{Label: "entry", Instrs: instrs}},
	}
}

func owned(name string) *ir.Binding {
	return &ir.Binding{Name: name, Qualifier: ir.QualOwned}
}

func ref(name string) *ir.Binding {
	return &ir.Binding{Name: name, Qualifier: ir.QualBorrowed}
}

func kinds(diags *diagnostic.Diagnostics) []diagnostic.Kind {
	var out []diagnostic.Kind
	for _, d := range diags.All() {
		out = append(out, d.Kind)
	}
	return out
}

func TestTwoSharedBorrowsPass(t *testing.T) {
	fn := straightLine("f",
		[]*ir.Binding{owned("p"), ref("r1"), ref("r2")},
		&ir.Init{Dest: place.Local("p"), Source: pos(1)},
		&ir.Borrow{From: place.Local("p"), Kind: ir.BorrowShared, Dest: "r1", Source: pos(2)},
		&ir.Borrow{From: place.Local("p"), Kind: ir.BorrowShared, Dest: "r2", Source: pos(3)},
		&ir.Read{From: place.Local("r1"), Source: pos(4)},
		&ir.Read{From: place.Local("r2"), Source: pos(5)},
		&ir.Return{Source: pos(6)},
	)

	res := Check(context.Background(), fn, 0)
	if res.Diags.Count() != 0 {
		t.Fatalf("expected no diagnostics, got:\n%s", res.Diags.Format())
	}

	// Both borrows live between the second borrow and the first read.
	st := res.StateAt(ir.Point{Block: 0, Index: 3}, place.Local("p"))
	want := ownership.State{Kind: ownership.BorrowedShared, Shares: 2}
	if st != want {
		t.Errorf("state of p = %s, want %s", st, want)
	}
}

func TestSharedBorrowWhileExclusiveLive(t *testing.T) {
	fn := straightLine("f",
		[]*ir.Binding{owned("p"), ref("r1"), ref("r2")},
		&ir.Init{Dest: place.Local("p"), Source: pos(1)},
		&ir.Borrow{From: place.Local("p"), Kind: ir.BorrowExclusive, Dest: "r1", Source: pos(2)},
		&ir.Borrow{From: place.Local("p"), Kind: ir.BorrowShared, Dest: "r2", Source: pos(3)},
		&ir.Read{From: place.Local("r2"), Source: pos(4)},
		&ir.Read{From: place.Local("r1"), Source: pos(5)},
		&ir.Return{Source: pos(6)},
	)

	res := Check(context.Background(), fn, 0)
	got := kinds(res.Diags)
	want := []diagnostic.Kind{diagnostic.ConflictingBorrow}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("kinds = %v, want %v\n%s", got, want, res.Diags.Format())
	}
	d := res.Diags.All()[0]
	if d.Point != (ir.Point{Block: 0, Index: 2}) {
		t.Errorf("conflict reported at %s, want b0:2", d.Point)
	}
}

func TestUseAfterMove(t *testing.T) {
	fn := straightLine("f",
		[]*ir.Binding{owned("p")},
		&ir.Init{Dest: place.Local("p"), Source: pos(1)},
		&ir.Move{From: place.Local("p"), Source: pos(2)},
		&ir.Read{From: place.Local("p"), Source: pos(3)},
		&ir.Return{Source: pos(4)},
	)

	res := Check(context.Background(), fn, 0)
	got := kinds(res.Diags)
	want := []diagnostic.Kind{diagnostic.UseAfterMove}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("kinds = %v, want %v\n%s", got, want, res.Diags.Format())
	}
	d := res.Diags.All()[0]
	if len(d.Related) == 0 || d.Related[0].Pos != pos(2) {
		t.Errorf("expected 'moved here' note at line 2, got %+v", d.Related)
	}
}

func TestUseBeforeInit(t *testing.T) {
	fn := straightLine("f",
		[]*ir.Binding{owned("p")},
		&ir.Read{From: place.Local("p"), Source: pos(1)},
		&ir.Return{Source: pos(2)},
	)

	res := Check(context.Background(), fn, 0)
	got := kinds(res.Diags)
	if !reflect.DeepEqual(got, []diagnostic.Kind{diagnostic.UseBeforeInit}) {
		t.Fatalf("kinds = %v, want use-before-init\n%s", got, res.Diags.Format())
	}
}

func TestReturnBorrowOfLocal(t *testing.T) {
	fn := straightLine("f",
		[]*ir.Binding{owned("x"), ref("r")},
		&ir.Init{Dest: place.Local("x"), Source: pos(1)},
		&ir.Borrow{From: place.Local("x"), Kind: ir.BorrowShared, Dest: "r", Source: pos(2)},
		&ir.Return{Value: place.Local("r"), Source: pos(3)},
	)

	res := Check(context.Background(), fn, 0)
	got := kinds(res.Diags)
	if !reflect.DeepEqual(got, []diagnostic.Kind{diagnostic.BorrowOutlivesOwner}) {
		t.Fatalf("kinds = %v, want borrow-outlives-owner\n%s", got, res.Diags.Format())
	}
}

func TestReturnBorrowOfParamAllowed(t *testing.T) {
	param := owned("x")
	param.Param = true
	fn := straightLine("f",
		[]*ir.Binding{param, ref("r")},
		&ir.Borrow{From: place.Local("x"), Kind: ir.BorrowShared, Dest: "r", Source: pos(1)},
		&ir.Return{Value: place.Local("r"), Source: pos(2)},
	)

	res := Check(context.Background(), fn, 0)
	if res.Diags.Count() != 0 {
		t.Fatalf("expected no diagnostics, got:\n%s", res.Diags.Format())
	}
}

func TestMoveWhileBorrowed(t *testing.T) {
	fn := straightLine("f",
		[]*ir.Binding{owned("x"), ref("r")},
		&ir.Init{Dest: place.Local("x"), Source: pos(1)},
		&ir.Borrow{From: place.Local("x"), Kind: ir.BorrowShared, Dest: "r", Source: pos(2)},
		&ir.Move{From: place.Local("x"), Source: pos(3)},
		&ir.Read{From: place.Local("r"), Source: pos(4)},
		&ir.Return{Source: pos(5)},
	)

	res := Check(context.Background(), fn, 0)
	got := kinds(res.Diags)
	if !reflect.DeepEqual(got, []diagnostic.Kind{diagnostic.BorrowOutlivesOwner}) {
		t.Fatalf("kinds = %v, want borrow-outlives-owner\n%s", got, res.Diags.Format())
	}
}

func TestWriteWhileBorrowed(t *testing.T) {
	fn := straightLine("f",
		[]*ir.Binding{owned("x"), ref("r")},
		&ir.Init{Dest: place.Local("x"), Source: pos(1)},
		&ir.Borrow{From: place.Local("x"), Kind: ir.BorrowShared, Dest: "r", Source: pos(2)},
		&ir.Write{To: place.Local("x"), Source: pos(3)},
		&ir.Read{From: place.Local("r"), Source: pos(4)},
		&ir.Return{Source: pos(5)},
	)

	res := Check(context.Background(), fn, 0)
	got := kinds(res.Diags)
	if !reflect.DeepEqual(got, []diagnostic.Kind{diagnostic.ConflictingBorrow}) {
		t.Fatalf("kinds = %v, want conflicting-borrow\n%s", got, res.Diags.Format())
	}
}

func TestBorrowRetirementAllowsReborrow(t *testing.T) {
	// The exclusive borrow's last use is at line 3; by line 4 it has
	// retired and the place is plain owned again, so a new borrow is fine.
	fn := straightLine("f",
		[]*ir.Binding{owned("p"), ref("r1"), ref("r2")},
		&ir.Init{Dest: place.Local("p"), Source: pos(1)},
		&ir.Borrow{From: place.Local("p"), Kind: ir.BorrowExclusive, Dest: "r1", Source: pos(2)},
		&ir.Write{To: place.Local("r1").Deref(), Source: pos(3)},
		&ir.Borrow{From: place.Local("p"), Kind: ir.BorrowShared, Dest: "r2", Source: pos(4)},
		&ir.Read{From: place.Local("r2"), Source: pos(5)},
		&ir.Return{Source: pos(6)},
	)

	res := Check(context.Background(), fn, 0)
	if res.Diags.Count() != 0 {
		t.Fatalf("expected no diagnostics, got:\n%s", res.Diags.Format())
	}

	// While the exclusive borrow is live, the place reflects it.
	st := res.StateAt(ir.Point{Block: 0, Index: 2}, place.Local("p"))
	if st.Kind != ownership.BorrowedExclusive {
		t.Errorf("state during exclusive borrow = %s, want borrowed-exclusive", st)
	}
	// After retirement and the shared reborrow.
	st = res.StateAt(ir.Point{Block: 0, Index: 4}, place.Local("p"))
	if st != (ownership.State{Kind: ownership.BorrowedShared, Shares: 1}) {
		t.Errorf("state after reborrow = %s, want borrowed-shared(1)", st)
	}
}

func TestBorrowRegionSpansBlocks(t *testing.T) {
	// The shared borrow is created in the entry block and used in the next
	// one, so its region must cover the entry block's exit point.
	fn := &ir.Function{
		Name:     "f",
		Bindings: []*ir.Binding{owned("p"), ref("r")},
		Blocks: []*ir.Block{
			{Label: "entry", Instrs: []ir.Instr{
				&ir.Init{Dest: place.Local("p"), Source: pos(1)},
				&ir.Borrow{From: place.Local("p"), Kind: ir.BorrowShared, Dest: "r", Source: pos(2)},
			}, Succs: []int{1}},
			{Label: "next", Instrs: []ir.Instr{
				&ir.Read{From: place.Local("r"), Source: pos(3)},
				&ir.Return{Source: pos(4)},
			}},
		},
	}

	res := Check(context.Background(), fn, 0)
	if res.Diags.Count() != 0 {
		t.Fatalf("expected no diagnostics, got:\n%s", res.Diags.Format())
	}

	exit := ir.Point{Block: 0, Index: 2}
	st := res.StateAt(exit, place.Local("p"))
	want := ownership.State{Kind: ownership.BorrowedShared, Shares: 1}
	if st != want {
		t.Errorf("state of p at block exit = %s, want %s", st, want)
	}

	for _, er := range res.ProvenExclusive() {
		if !er.Place.Equal(place.Local("p")) {
			continue
		}
		for _, pt := range er.Points {
			if pt == exit {
				t.Error("p claimed alias-free at the block exit while the borrow is live there")
			}
			if pt == (ir.Point{Block: 1, Index: 0}) {
				t.Error("p claimed alias-free at b1:0 while the borrow is live there")
			}
		}
	}
}

// branchMove builds a diamond where p is moved on one branch only.
func branchMove(useAfter bool) *ir.Function {
	merge := &ir.Block{Label: "merge"}
	if useAfter {
		merge.Instrs = []ir.Instr{
			&ir.Read{From: place.Local("p"), Source: pos(6)},
			&ir.Return{Source: pos(7)},
		}
	} else {
		merge.Instrs = []ir.Instr{&ir.Return{Source: pos(7)}}
	}
	return &ir.Function{
		Name:     "f",
		Bindings: []*ir.Binding{owned("p")},
		Blocks: []*ir.Block{
			{Label: "entry", Instrs: []ir.Instr{
				&ir.Init{Dest: place.Local("p"), Source: pos(1)},
			}, Succs: []int{1, 2}},
			{Label: "then", Instrs: []ir.Instr{
				&ir.Move{From: place.Local("p"), Source: pos(3)},
			}, Succs: []int{3}},
			{Label: "else", Succs: []int{3}},
			merge,
		},
	}
}

func TestConflictedMergeWithLaterUse(t *testing.T) {
	res := Check(context.Background(), branchMove(true), 0)

	var found *diagnostic.Diagnostic
	for i, d := range res.Diags.All() {
		if d.Kind == diagnostic.ConflictedOwnership {
			found = &res.Diags.All()[i]
		}
	}
	if found == nil {
		t.Fatalf("expected conflicted-ownership warning, got:\n%s", res.Diags.Format())
	}
	if found.Severity != diagnostic.Warning {
		t.Errorf("conflicted-ownership severity = %s, want warning", found.Severity)
	}
}

func TestConflictedMergeDeadOnAllSuccessors(t *testing.T) {
	res := Check(context.Background(), branchMove(false), 0)
	for _, d := range res.Diags.All() {
		if d.Kind == diagnostic.ConflictedOwnership {
			t.Fatalf("conflict reported although place is dead after merge:\n%s", res.Diags.Format())
		}
	}
}

func TestCheckDeterministic(t *testing.T) {
	build := func() *FunctionResult {
		return Check(context.Background(), branchMove(true), 0)
	}
	first := build()
	second := build()

	if !reflect.DeepEqual(first.Diags.All(), second.Diags.All()) {
		deepequal.SideBySide(t, "diagnostics", first.Diags.All(), second.Diags.All())
	}

	fn := branchMove(true)
	for bi, block := range fn.Blocks {
		for idx := 0; idx <= len(block.Instrs); idx++ {
			pt := ir.Point{Block: bi, Index: idx}
			a := first.StateAt(pt, place.Local("p"))
			b := second.StateAt(pt, place.Local("p"))
			if a != b {
				t.Errorf("state at %s differs between runs: %s vs %s", pt, a, b)
			}
		}
	}
}

func TestCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Check(ctx, branchMove(true), 0)
	if !res.Incomplete {
		t.Fatal("expected incomplete result")
	}
	got := kinds(res.Diags)
	if !reflect.DeepEqual(got, []diagnostic.Kind{diagnostic.AnalysisIncomplete}) {
		t.Fatalf("kinds = %v, want analysis-incomplete", got)
	}
	if res.Diags.Verdict(false) != diagnostic.Fail {
		t.Error("an incomplete analysis must never pass")
	}
}

func TestProvenExclusiveRegions(t *testing.T) {
	fn := straightLine("f",
		[]*ir.Binding{owned("p"), ref("r")},
		&ir.Init{Dest: place.Local("p"), Source: pos(1)},
		&ir.Borrow{From: place.Local("p"), Kind: ir.BorrowShared, Dest: "r", Source: pos(2)},
		&ir.Read{From: place.Local("r"), Source: pos(3)},
		&ir.Read{From: place.Local("p"), Source: pos(4)},
		&ir.Return{Source: pos(5)},
	)

	res := Check(context.Background(), fn, 0)
	regions := res.ProvenExclusive()

	var forP *ExclusiveRegion
	for i := range regions {
		if regions[i].Place.Equal(place.Local("p")) {
			forP = &regions[i]
		}
	}
	if forP == nil {
		t.Fatal("expected an exclusive region for p")
	}

	covered := make(map[ir.Point]bool)
	for _, pt := range forP.Points {
		covered[pt] = true
	}
	// While the shared borrow is live (points b0:2), p is aliased and must
	// not be in the exclusive region; after retirement (b0:4) it must be.
	if covered[ir.Point{Block: 0, Index: 2}] {
		t.Error("aliased point b0:2 must not be proven exclusive")
	}
	if !covered[ir.Point{Block: 0, Index: 4}] {
		t.Error("point b0:4 after retirement should be proven exclusive")
	}
}
