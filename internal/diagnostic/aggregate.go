package diagnostic

import (
	"sort"

	"github.com/mira-lang/mira/internal/ir"
)

// Verdict is the final per-unit outcome.
type Verdict int

const (
	Pass Verdict = iota
	Fail
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	if v == Fail {
		return "fail"
	}
	return "pass"
}

// Aggregate merges the checkers' outputs into one collection: duplicates
// keyed by (kind, function, place, point) are removed and the survivors are
// ordered by source position, then point, then kind, then place. The result
// is stable across runs on the same input.
func Aggregate(collections ...*Diagnostics) *Diagnostics {
	out := New()
	seen := make(map[dedupeKey]bool)

	for _, c := range collections {
		if c == nil {
			continue
		}
		for _, item := range c.items {
			key := dedupeKey{
				kind:     item.Kind,
				function: item.Function,
				place:    item.Place,
				point:    item.Point,
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out.items = append(out.items, item)
		}
	}

	sort.SliceStable(out.items, func(i, j int) bool {
		a, b := out.items[i], out.items[j]
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		if a.Pos != b.Pos {
			return a.Pos.Before(b.Pos)
		}
		if cmp := a.Point.Compare(b.Point); cmp != 0 {
			return cmp < 0
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Place < b.Place
	})

	return out
}

type dedupeKey struct {
	kind     Kind
	function string
	place    string
	point    ir.Point
}

// Verdict computes the pass/fail outcome. Conflicted-ownership warnings do
// not block the unit unless escalated by configuration.
func (d *Diagnostics) Verdict(escalateWarnings bool) Verdict {
	for _, item := range d.items {
		if item.Severity == Error {
			return Fail
		}
		if escalateWarnings && item.Severity == Warning {
			return Fail
		}
	}
	return Pass
}
