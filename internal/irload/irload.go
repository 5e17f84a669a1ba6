// Package irload reads analyzer input units from their YAML serialization,
// the form the front end hands over after lowering and guard resolution.
package irload

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mira-lang/mira/internal/ir"
	"github.com/mira-lang/mira/internal/place"
)

type rawUnit struct {
	Unit      string        `yaml:"unit"`
	Functions []rawFunction `yaml:"functions"`
}

type rawFunction struct {
	Name      string        `yaml:"name"`
	Line      int           `yaml:"line"`
	Col       int           `yaml:"col"`
	Bindings  []rawBinding  `yaml:"bindings"`
	Contracts []rawContract `yaml:"contracts"`
	Blocks    []rawBlock    `yaml:"blocks"`
}

type rawBinding struct {
	Name      string `yaml:"name"`
	Qualifier string `yaml:"qualifier"`
	Param     bool   `yaml:"param"`
	Shared    bool   `yaml:"shared"`
	Guard     string `yaml:"guard"`
}

type rawContract struct {
	Kind      string `yaml:"kind"`
	Predicate string `yaml:"predicate"`
}

type rawBlock struct {
	Label  string     `yaml:"label"`
	Succs  []string   `yaml:"succs"`
	Instrs []rawInstr `yaml:"instrs"`
}

// rawInstr defers decoding until the op discriminator is known.
type rawInstr struct {
	Op     string   `yaml:"op"`
	Line   int      `yaml:"line"`
	Col    int      `yaml:"col"`
	Dest   string   `yaml:"dest"`
	From   string   `yaml:"from"`
	To     string   `yaml:"to"`
	Kind   string   `yaml:"kind"`
	Callee string   `yaml:"callee"`
	Reads  []string `yaml:"reads"`
	Moves  []string `yaml:"moves"`
	Value  string   `yaml:"value"`
	Target string   `yaml:"target"`
	Guard  string   `yaml:"guard"`
	Mode   string   `yaml:"mode"`
}

// Load reads a unit file.
func Load(path string) (*ir.Unit, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read unit: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML unit. Structural problems (unknown ops, unresolved
// block labels, missing operands) abort the load; anything subtler is left
// to ir.ValidateUnit and surfaces as a malformed-input diagnostic.
func Parse(data []byte) (*ir.Unit, error) {
	var raw rawUnit
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse unit: %w", err)
	}
	if raw.Unit == "" {
		return nil, fmt.Errorf("parse unit: missing unit name")
	}

	unit := &ir.Unit{Name: raw.Unit}
	for _, rf := range raw.Functions {
		fn, err := buildFunction(rf)
		if err != nil {
			return nil, fmt.Errorf("function '%s': %w", rf.Name, err)
		}
		unit.Functions = append(unit.Functions, fn)
	}
	return unit, nil
}

func buildFunction(rf rawFunction) (*ir.Function, error) {
	if rf.Name == "" {
		return nil, fmt.Errorf("missing function name")
	}
	fn := &ir.Function{
		Name:   rf.Name,
		Source: ir.Pos{Line: rf.Line, Col: rf.Col},
	}

	for _, rb := range rf.Bindings {
		qual, err := parseQualifier(rb.Qualifier)
		if err != nil {
			return nil, fmt.Errorf("binding '%s': %w", rb.Name, err)
		}
		fn.Bindings = append(fn.Bindings, &ir.Binding{
			Name:      rb.Name,
			Qualifier: qual,
			Param:     rb.Param,
			Shared:    rb.Shared,
			Guard:     rb.Guard,
		})
	}

	for _, rc := range rf.Contracts {
		kind, err := parseContractKind(rc.Kind)
		if err != nil {
			return nil, err
		}
		fn.Contracts = append(fn.Contracts, &ir.Contract{Kind: kind, Predicate: rc.Predicate})
	}

	labels := make(map[string]int, len(rf.Blocks))
	for i, rb := range rf.Blocks {
		if rb.Label == "" {
			return nil, fmt.Errorf("block %d: missing label", i)
		}
		if _, dup := labels[rb.Label]; dup {
			return nil, fmt.Errorf("duplicate block label '%s'", rb.Label)
		}
		labels[rb.Label] = i
	}

	for _, rb := range rf.Blocks {
		block := &ir.Block{Label: rb.Label}
		for _, succ := range rb.Succs {
			idx, ok := labels[succ]
			if !ok {
				return nil, fmt.Errorf("block '%s': unknown successor '%s'", rb.Label, succ)
			}
			block.Succs = append(block.Succs, idx)
		}
		for i, ri := range rb.Instrs {
			in, err := buildInstr(ri)
			if err != nil {
				return nil, fmt.Errorf("block '%s' instruction %d: %w", rb.Label, i, err)
			}
			block.Instrs = append(block.Instrs, in)
		}
		fn.Blocks = append(fn.Blocks, block)
	}

	return fn, nil
}

func buildInstr(ri rawInstr) (ir.Instr, error) {
	pos := ir.Pos{Line: ri.Line, Col: ri.Col}
	switch ri.Op {
	case "init":
		p, err := parsePlace(ri.Dest, "dest")
		if err != nil {
			return nil, err
		}
		return &ir.Init{Dest: p, Source: pos}, nil
	case "move":
		from, err := parsePlace(ri.From, "from")
		if err != nil {
			return nil, err
		}
		var to place.Place
		if ri.To != "" {
			to = place.Parse(ri.To)
		}
		return &ir.Move{From: from, To: to, Source: pos}, nil
	case "read":
		p, err := parsePlace(ri.From, "from")
		if err != nil {
			return nil, err
		}
		return &ir.Read{From: p, Source: pos}, nil
	case "write":
		p, err := parsePlace(ri.To, "to")
		if err != nil {
			return nil, err
		}
		return &ir.Write{To: p, Source: pos}, nil
	case "borrow":
		from, err := parsePlace(ri.From, "from")
		if err != nil {
			return nil, err
		}
		if ri.Dest == "" {
			return nil, fmt.Errorf("borrow needs a dest binding")
		}
		kind, err := parseBorrowKind(ri.Kind)
		if err != nil {
			return nil, err
		}
		return &ir.Borrow{From: from, Kind: kind, Dest: ri.Dest, Source: pos}, nil
	case "call":
		if ri.Callee == "" {
			return nil, fmt.Errorf("call needs a callee")
		}
		call := &ir.Call{Callee: ri.Callee, Source: pos}
		for _, s := range ri.Reads {
			p, err := parsePlace(s, "reads")
			if err != nil {
				return nil, err
			}
			call.Reads = append(call.Reads, p)
		}
		for _, s := range ri.Moves {
			p, err := parsePlace(s, "moves")
			if err != nil {
				return nil, err
			}
			call.Moves = append(call.Moves, p)
		}
		return call, nil
	case "return":
		ret := &ir.Return{Source: pos}
		if ri.Value != "" {
			ret.Value = place.Parse(ri.Value)
		}
		return ret, nil
	case "drop":
		p, err := parsePlace(ri.Target, "target")
		if err != nil {
			return nil, err
		}
		return &ir.Drop{Target: p, Source: pos}, nil
	case "acquire":
		if ri.Guard == "" {
			return nil, fmt.Errorf("acquire needs a guard")
		}
		mode, err := parseLockMode(ri.Mode)
		if err != nil {
			return nil, err
		}
		return &ir.Acquire{Guard: ri.Guard, Mode: mode, Source: pos}, nil
	case "release":
		if ri.Guard == "" {
			return nil, fmt.Errorf("release needs a guard")
		}
		return &ir.Release{Guard: ri.Guard, Source: pos}, nil
	case "":
		return nil, fmt.Errorf("missing op")
	default:
		return nil, fmt.Errorf("unknown op '%s'", ri.Op)
	}
}

func parsePlace(s, operand string) (place.Place, error) {
	if s == "" {
		return place.Place{}, fmt.Errorf("missing %s place", operand)
	}
	return place.Parse(s), nil
}

func parseQualifier(s string) (ir.Qualifier, error) {
	switch s {
	case "own", "":
		return ir.QualOwned, nil
	case "borrow":
		return ir.QualBorrowed, nil
	}
	return 0, fmt.Errorf("unknown qualifier '%s'", s)
}

func parseBorrowKind(s string) (ir.BorrowKind, error) {
	switch s {
	case "shared", "":
		return ir.BorrowShared, nil
	case "exclusive":
		return ir.BorrowExclusive, nil
	}
	return 0, fmt.Errorf("unknown borrow kind '%s'", s)
}

func parseContractKind(s string) (ir.ContractKind, error) {
	switch s {
	case "requires":
		return ir.ContractRequires, nil
	case "ensures":
		return ir.ContractEnsures, nil
	}
	return 0, fmt.Errorf("unknown contract kind '%s'", s)
}

func parseLockMode(s string) (ir.LockMode, error) {
	switch s {
	case "shared":
		return ir.LockShared, nil
	case "exclusive", "":
		return ir.LockExclusive, nil
	}
	return 0, fmt.Errorf("unknown lock mode '%s'", s)
}
