// Package analysis orchestrates a unit's safety analysis: structural
// validation, per-function borrow and concurrency checking in parallel,
// unit-wide lock-order accumulation, and diagnostic aggregation.
package analysis

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mira-lang/mira/internal/borrow"
	"github.com/mira-lang/mira/internal/concurrency"
	"github.com/mira-lang/mira/internal/config"
	"github.com/mira-lang/mira/internal/diagnostic"
	"github.com/mira-lang/mira/internal/ir"
)

// FunctionAnalysis bundles both checkers' outputs for one function.
type FunctionAnalysis struct {
	Fn          *ir.Function
	Borrow      *borrow.FunctionResult
	Concurrency *concurrency.FunctionReport
}

// Result is the outcome of analyzing one unit.
type Result struct {
	Unit      *ir.Unit
	Functions []*FunctionAnalysis
	LockGraph *concurrency.Graph
	Diags     *diagnostic.Diagnostics
	Verdict   diagnostic.Verdict
}

// Run analyzes a unit. Structural validation is per function: a function
// that fails it is skipped, since none of the checkers' invariants hold
// over malformed input, but the remaining functions are still analyzed and
// reported. Function analyses run concurrently up to the configured worker
// count; the lock graph is built afterwards by a single owner, in unit
// order, so cycle attribution does not depend on scheduling.
func Run(ctx context.Context, unit *ir.Unit, cfg config.Config) *Result {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	malformed := diagnostic.New()
	candidates := validate(unit, malformed)

	fns := make([]*FunctionAnalysis, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for i, fn := range candidates {
		i, fn := i, fn
		g.Go(func() error {
			br := borrow.Check(gctx, fn, cfg.MaxSweeps)
			cc := concurrency.Verify(gctx, fn, br, cfg.MaxSweeps)
			fns[i] = &FunctionAnalysis{Fn: fn, Borrow: br, Concurrency: cc}
			return nil
		})
	}
	// The workers report failure through diagnostics, never through errors.
	_ = g.Wait()

	graph := concurrency.NewGraph()
	graphDiags := diagnostic.New()
	collections := make([]*diagnostic.Diagnostics, 0, 2*len(fns)+1)
	for _, fa := range fns {
		collections = append(collections, fa.Borrow.Diags, fa.Concurrency.Diags)
		graph.AddAll(fa.Concurrency.Edges, graphDiags)
	}
	collections = append(collections, graphDiags, malformed)

	diags := diagnostic.Aggregate(collections...)
	return &Result{
		Unit:      unit,
		Functions: fns,
		LockGraph: graph,
		Diags:     diags,
		Verdict:   diags.Verdict(cfg.EscalateConflicted),
	}
}

// validate applies the structural checks, reporting unit-level problems
// and each malformed function's messages as malformed-input diagnostics.
// It returns the functions sound enough to analyze.
func validate(unit *ir.Unit, diags *diagnostic.Diagnostics) []*ir.Function {
	if unit.Name == "" {
		diags.Report(diagnostic.MalformedIR, "", "", ir.Point{}, ir.Pos{}, "unit has no name")
	}

	var candidates []*ir.Function
	seen := make(map[string]bool)
	for _, fn := range unit.Functions {
		if fn == nil {
			diags.Report(diagnostic.MalformedIR, "", "", ir.Point{}, ir.Pos{}, "unit contains nil function")
			continue
		}
		if seen[fn.Name] {
			diags.Report(diagnostic.MalformedIR, fn.Name, "", ir.Point{}, fn.Source,
				"duplicate function %q", fn.Name)
			continue
		}
		seen[fn.Name] = true
		if msgs := ir.Validate(fn); len(msgs) > 0 {
			for _, msg := range msgs {
				diags.Report(diagnostic.MalformedIR, fn.Name, "", ir.Point{}, fn.Source, "%s", msg)
			}
			continue
		}
		candidates = append(candidates, fn)
	}
	return candidates
}

// Function returns the analysis for the named function, or nil.
func (r *Result) Function(name string) *FunctionAnalysis {
	for _, fa := range r.Functions {
		if fa.Fn.Name == name {
			return fa
		}
	}
	return nil
}
