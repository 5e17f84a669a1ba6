package analysis

import (
	"fmt"
	"strings"

	"github.com/mira-lang/mira/internal/ir"
)

// Dump renders the annotated function: its contracts, its instructions with
// the composed ownership state after each one, and the borrow regions and
// proven-exclusive regions the checkers derived. The output is the
// analyzer's debugging surface and is stable across runs.
func (fa *FunctionAnalysis) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fn %s:\n", fa.Fn.Name)

	for _, c := range fa.Fn.Contracts {
		fmt.Fprintf(&b, "  %s %s\n", c.Kind, c.Predicate)
	}
	for _, bind := range fa.Fn.Bindings {
		fmt.Fprintf(&b, "  %s %s", bind.Qualifier, bind.Name)
		if bind.Param {
			b.WriteString(" param")
		}
		if bind.Shared {
			fmt.Fprintf(&b, " shared guard=%s", bind.Guard)
		}
		b.WriteByte('\n')
	}

	if fa.Borrow.Incomplete {
		b.WriteString("  <analysis incomplete>\n")
		return b.String()
	}

	for bi, block := range fa.Fn.Blocks {
		fmt.Fprintf(&b, "  b%d [%s]", bi, block.Label)
		if len(block.Succs) > 0 {
			b.WriteString(" ->")
			for _, s := range block.Succs {
				fmt.Fprintf(&b, " b%d", s)
			}
		}
		b.WriteByte('\n')
		for ii, in := range block.Instrs {
			pt := ir.Point{Block: bi, Index: ii + 1}
			fmt.Fprintf(&b, "    b%d:%d %s\n", bi, ii, instrString(in))
			if tbl := fa.Borrow.TableAt(pt); tbl != nil {
				fmt.Fprintf(&b, "         {%s}\n", tbl)
			}
		}
	}

	for _, r := range fa.Borrow.Records {
		points := r.Region.Points()
		if len(points) == 0 {
			fmt.Fprintf(&b, "  borrow %s %s as %s: empty region\n", r.Kind, r.Place, r.Dest)
			continue
		}
		fmt.Fprintf(&b, "  borrow %s %s as %s: %s..%s\n",
			r.Kind, r.Place, r.Dest, points[0], points[len(points)-1])
	}

	for _, er := range fa.Borrow.ProvenExclusive() {
		if len(er.Points) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  exclusive %s: %d points\n", er.Place, len(er.Points))
	}

	for _, e := range fa.Concurrency.Edges {
		fmt.Fprintf(&b, "  lock order %s -> %s\n", e.From, e.To)
	}

	return b.String()
}

func instrString(in ir.Instr) string {
	switch n := in.(type) {
	case *ir.Init:
		return fmt.Sprintf("init %s", n.Dest)
	case *ir.Move:
		if n.To.Base != "" {
			return fmt.Sprintf("move %s -> %s", n.From, n.To)
		}
		return fmt.Sprintf("move %s -> <consumed>", n.From)
	case *ir.Read:
		return fmt.Sprintf("read %s", n.From)
	case *ir.Write:
		return fmt.Sprintf("write %s", n.To)
	case *ir.Borrow:
		return fmt.Sprintf("borrow %s %s -> %s", n.Kind, n.From, n.Dest)
	case *ir.Call:
		var args []string
		for _, p := range n.Reads {
			args = append(args, p.String())
		}
		for _, p := range n.Moves {
			args = append(args, "move "+p.String())
		}
		return fmt.Sprintf("call %s(%s)", n.Callee, strings.Join(args, ", "))
	case *ir.Return:
		if n.HasValue() {
			return fmt.Sprintf("return %s", n.Value)
		}
		return "return"
	case *ir.Drop:
		return fmt.Sprintf("drop %s", n.Target)
	case *ir.Acquire:
		return fmt.Sprintf("acquire %s %s", n.Guard, n.Mode)
	case *ir.Release:
		return fmt.Sprintf("release %s", n.Guard)
	}
	return "<unknown>"
}
