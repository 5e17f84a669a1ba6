package ownership

import (
	"sort"
	"strings"

	"github.com/mira-lang/mira/internal/place"
)

// Table maps places to their ownership state at one program point. Lookup of
// an untracked projection falls back to its nearest tracked ancestor, so a
// field inherits the state of the struct it lives in until it is touched
// individually. Iteration order is deterministic (sorted place keys).
type Table struct {
	entries map[string]entry
}

type entry struct {
	place place.Place
	state State
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]entry)}
}

// Set records the state of a place.
func (t *Table) Set(p place.Place, s State) {
	t.entries[p.Key()] = entry{place: p, state: s}
}

// Get returns the state of a place. Untracked projections inherit from the
// nearest tracked ancestor; a fully untracked place is Uninitialized.
func (t *Table) Get(p place.Place) State {
	for {
		if e, ok := t.entries[p.Key()]; ok {
			return e.state
		}
		if p.IsLocal() {
			return State{Kind: Uninitialized}
		}
		p = place.Place{Base: p.Base, Path: p.Path[:len(p.Path)-1]}
	}
}

// Prune removes entries strictly below p. Reassigning a whole place
// invalidates whatever was individually tracked inside it.
func (t *Table) Prune(p place.Place) {
	for k, e := range t.entries {
		if e.place.Equal(p) {
			continue
		}
		if p.Contains(e.place) {
			delete(t.entries, k)
		}
	}
}

// Tracked reports whether the exact place has an entry of its own.
func (t *Table) Tracked(p place.Place) bool {
	_, ok := t.entries[p.Key()]
	return ok
}

// Places returns all tracked places in deterministic order.
func (t *Table) Places() []place.Place {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]place.Place, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.entries[k].place)
	}
	return out
}

// Clone returns an independent copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{entries: make(map[string]entry, len(t.entries))}
	for k, e := range t.entries {
		out.entries[k] = e
	}
	return out
}

// Equal reports whether two tables carry identical states for identical
// places.
func (t *Table) Equal(other *Table) bool {
	if len(t.entries) != len(other.entries) {
		return false
	}
	for k, e := range t.entries {
		oe, ok := other.entries[k]
		if !ok || oe.state != e.state {
			return false
		}
	}
	return true
}

// JoinTables merges two tables place by place. A place tracked on one side
// only is resolved on the other side through ancestor fallback, so a field
// written on a single branch still joins against the state it inherited on
// the other branch.
func JoinTables(a, b *Table) *Table {
	out := NewTable()
	for k, e := range a.entries {
		out.entries[k] = entry{place: e.place, state: Join(e.state, b.Get(e.place))}
	}
	for k, e := range b.entries {
		if _, ok := a.entries[k]; ok {
			continue
		}
		out.entries[k] = entry{place: e.place, state: Join(a.Get(e.place), e.state)}
	}
	return out
}

// String renders the table for debugging and the dump command.
func (t *Table) String() string {
	var b strings.Builder
	for i, p := range t.Places() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
		b.WriteString("=")
		b.WriteString(t.Get(p).String())
	}
	return b.String()
}
