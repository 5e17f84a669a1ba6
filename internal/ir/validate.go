package ir

import (
	"fmt"

	"github.com/mira-lang/mira/internal/place"
)

// ValidateUnit checks a unit for structural correctness and returns a list of
// error messages. An empty slice indicates the unit is valid. A function that
// fails validation must not be analyzed: none of the analyzer's invariants
// can be assumed over malformed input.
func ValidateUnit(unit *Unit) []string {
	var errors []string

	if unit.Name == "" {
		errors = append(errors, "unit has no name")
	}

	seen := make(map[string]bool)
	for _, fn := range unit.Functions {
		if fn == nil {
			errors = append(errors, "unit contains nil function")
			continue
		}
		if seen[fn.Name] {
			errors = append(errors, fmt.Sprintf("duplicate function %q", fn.Name))
		}
		seen[fn.Name] = true
		errors = append(errors, Validate(fn)...)
	}

	return errors
}

// Validate checks a single function for structural correctness.
func Validate(fn *Function) []string {
	var errors []string

	if fn.Name == "" {
		errors = append(errors, "function has no name")
	}
	ctx := fmt.Sprintf("function %s", fn.Name)

	if len(fn.Blocks) == 0 {
		errors = append(errors, fmt.Sprintf("%s: has no blocks", ctx))
		return errors
	}

	names := make(map[string]bool)
	for i, b := range fn.Bindings {
		if b == nil {
			errors = append(errors, fmt.Sprintf("%s: binding %d is nil", ctx, i))
			continue
		}
		if b.Name == "" {
			errors = append(errors, fmt.Sprintf("%s: binding %d has no name", ctx, i))
			continue
		}
		if names[b.Name] {
			errors = append(errors, fmt.Sprintf("%s: duplicate binding %q", ctx, b.Name))
		}
		names[b.Name] = true
		if b.Shared && b.Guard == "" {
			errors = append(errors, fmt.Sprintf("%s: shared binding %q has no guard", ctx, b.Name))
		}
	}

	for bi, block := range fn.Blocks {
		if block == nil {
			errors = append(errors, fmt.Sprintf("%s: block %d is nil", ctx, bi))
			continue
		}
		bctx := fmt.Sprintf("%s block %d", ctx, bi)

		for _, succ := range block.Succs {
			if succ < 0 || succ >= len(fn.Blocks) {
				errors = append(errors, fmt.Sprintf("%s: successor %d out of range", bctx, succ))
			}
		}

		for ii, in := range block.Instrs {
			if in == nil {
				errors = append(errors, fmt.Sprintf("%s: instruction %d is nil", bctx, ii))
				continue
			}
			errors = append(errors, validateInstr(fn, in, names, fmt.Sprintf("%s instruction %d", bctx, ii))...)

			// A return terminates its block.
			if _, ok := in.(*Return); ok && ii != len(block.Instrs)-1 {
				errors = append(errors, fmt.Sprintf("%s: return is not the last instruction", bctx))
			}
		}
	}

	for i, c := range fn.Contracts {
		if c == nil {
			errors = append(errors, fmt.Sprintf("%s: contract %d is nil", ctx, i))
		} else if c.Predicate == "" {
			errors = append(errors, fmt.Sprintf("%s: contract %d has empty predicate", ctx, i))
		}
	}

	return errors
}

// validateInstr checks a single instruction's operands against the declared
// bindings.
func validateInstr(fn *Function, in Instr, names map[string]bool, ctx string) []string {
	var errors []string

	checkPlace := func(p place.Place, what string) {
		if p.Base == "" {
			errors = append(errors, fmt.Sprintf("%s: %s has empty place", ctx, what))
			return
		}
		if !names[p.Base] {
			errors = append(errors, fmt.Sprintf("%s: %s refers to undeclared binding %q", ctx, what, p.Base))
		}
	}

	switch n := in.(type) {
	case *Init:
		checkPlace(n.Dest, "init dest")
	case *Move:
		checkPlace(n.From, "move source")
		if n.To.Base != "" {
			checkPlace(n.To, "move dest")
		}
	case *Read:
		checkPlace(n.From, "read source")
	case *Write:
		checkPlace(n.To, "write target")
	case *Borrow:
		checkPlace(n.From, "borrow source")
		if n.Dest == "" {
			errors = append(errors, fmt.Sprintf("%s: borrow has no dest binding", ctx))
		} else if b := fn.Lookup(n.Dest); b == nil {
			errors = append(errors, fmt.Sprintf("%s: borrow dest %q is undeclared", ctx, n.Dest))
		} else if b.Qualifier != QualBorrowed {
			errors = append(errors, fmt.Sprintf("%s: borrow dest %q is not borrow-qualified", ctx, n.Dest))
		}
	case *Call:
		if n.Callee == "" {
			errors = append(errors, fmt.Sprintf("%s: call has no callee", ctx))
		}
		for _, p := range n.Reads {
			checkPlace(p, "call argument")
		}
		for _, p := range n.Moves {
			checkPlace(p, "call argument")
		}
	case *Return:
		if n.HasValue() {
			checkPlace(n.Value, "return value")
		}
	case *Drop:
		checkPlace(n.Target, "drop target")
	case *Acquire:
		if n.Guard == "" {
			errors = append(errors, fmt.Sprintf("%s: acquire has no guard", ctx))
		}
	case *Release:
		if n.Guard == "" {
			errors = append(errors, fmt.Sprintf("%s: release has no guard", ctx))
		}
	}

	return errors
}
