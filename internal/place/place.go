package place

import (
	"strings"
)

// SegmentKind identifies the kind of a projection segment.
type SegmentKind int

const (
	SegField SegmentKind = iota
	SegDeref
)

// Segment is one projection step from a base binding: a named field access
// or a dereference of a borrow.
type Segment struct {
	Kind SegmentKind
	Name string // field name; empty for SegDeref
}

// Place is a symbolic memory location: a function-local binding or parameter,
// optionally projected through fields and dereferences. Places form a tree
// rooted at bindings; identity is structural, so two places are the same
// location exactly when their base and projection paths are equal.
type Place struct {
	Base string
	Path []Segment
}

// Local returns the place naming a bare binding.
func Local(name string) Place {
	return Place{Base: name}
}

// Field returns p projected through the named field.
func (p Place) Field(name string) Place {
	return Place{Base: p.Base, Path: appendSegment(p.Path, Segment{Kind: SegField, Name: name})}
}

// Deref returns the place reached by dereferencing p.
func (p Place) Deref() Place {
	return Place{Base: p.Base, Path: appendSegment(p.Path, Segment{Kind: SegDeref})}
}

func appendSegment(path []Segment, seg Segment) []Segment {
	out := make([]Segment, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}

// IsLocal reports whether p names a bare binding with no projections.
func (p Place) IsLocal() bool {
	return len(p.Path) == 0
}

// Root returns the place for p's base binding.
func (p Place) Root() Place {
	return Place{Base: p.Base}
}

// Equal reports whether p and q name the same location.
func (p Place) Equal(q Place) bool {
	if p.Base != q.Base || len(p.Path) != len(q.Path) {
		return false
	}
	for i := range p.Path {
		if p.Path[i] != q.Path[i] {
			return false
		}
	}
	return true
}

// Contains reports whether q is p itself or a projection reached from p.
// A place contains everything below it: borrowing or moving p affects p.x
// and *p as well.
func (p Place) Contains(q Place) bool {
	if p.Base != q.Base || len(p.Path) > len(q.Path) {
		return false
	}
	for i := range p.Path {
		if p.Path[i] != q.Path[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether p and q can alias: one is a prefix of the other.
// Disjoint sibling fields do not overlap.
func (p Place) Overlaps(q Place) bool {
	return p.Contains(q) || q.Contains(p)
}

// String renders the place in source-like form, e.g. "acct.balance" or "*r".
func (p Place) String() string {
	var b strings.Builder
	for i := len(p.Path) - 1; i >= 0; i-- {
		if p.Path[i].Kind == SegDeref {
			b.WriteByte('*')
		} else {
			break
		}
	}
	derefs := b.Len()
	b.WriteString(p.Base)
	for i := 0; i < len(p.Path); i++ {
		seg := p.Path[i]
		switch seg.Kind {
		case SegField:
			b.WriteByte('.')
			b.WriteString(seg.Name)
		case SegDeref:
			// Trailing dereferences were already written as prefix stars;
			// interior ones are spelled with an explicit marker.
			if i < len(p.Path)-derefs {
				b.WriteString(".*")
			}
		}
	}
	return b.String()
}

// Key returns a canonical, comparison-stable form of the place, usable as a
// map key and for deterministic ordering of state tables.
func (p Place) Key() string {
	var b strings.Builder
	b.WriteString(p.Base)
	for _, seg := range p.Path {
		switch seg.Kind {
		case SegField:
			b.WriteByte('.')
			b.WriteString(seg.Name)
		case SegDeref:
			b.WriteString(".*")
		}
	}
	return b.String()
}

// Parse converts a canonical path such as "acct.balance" or "r.*" back into
// a place. It is the inverse of Key. An empty string yields the zero place.
func Parse(s string) Place {
	if s == "" {
		return Place{}
	}
	parts := strings.Split(s, ".")
	p := Local(parts[0])
	for _, part := range parts[1:] {
		if part == "*" {
			p = p.Deref()
		} else {
			p = p.Field(part)
		}
	}
	return p
}
