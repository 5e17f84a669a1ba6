package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mira-lang/mira/internal/analysis"
	"github.com/mira-lang/mira/internal/config"
	"github.com/mira-lang/mira/internal/diagnostic"
	"github.com/mira-lang/mira/internal/irload"
)

const usage = `miracheck - The Mira ownership and concurrency safety analyzer

Usage:
  miracheck check [options] <unit.yaml>    Analyze a lowered IR unit
  miracheck dump [options] <unit.yaml>     Print annotated functions and regions

Options:
  --config <file>          Load analyzer configuration from a YAML file
  --workers <n>            Analyze up to n functions concurrently
  --timeout <duration>     Bound the whole unit's analysis (e.g. 30s)
  --escalate-conflicted    Treat conflicted-ownership warnings as errors

Examples:
  miracheck check bank.yaml                Analyze bank.yaml, exit 1 on errors
  miracheck check --config ci.yaml x.yaml  Analyze with CI settings
  miracheck check --workers 8 x.yaml       Analyze with 8 workers
  miracheck dump x.yaml                    Show per-point ownership states
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "check":
		handleCheck(os.Args[2:])
	case "dump":
		handleDump(os.Args[2:])
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// parseArgs splits the shared options from the unit path. Flags given on
// the command line win over values from --config, whatever the order.
func parseArgs(args []string) (config.Config, string) {
	cfg := config.Default()
	var unitPath string
	var workers *int
	var timeout *time.Duration
	escalate := false

	optValue := func(name string, i *int) string {
		if *i+1 >= len(args) {
			fmt.Fprintf(os.Stderr, "Error: %s needs an argument\n", name)
			os.Exit(1)
		}
		*i++
		return args[*i]
	}

	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--config":
			loaded, err := config.Load(optValue(arg, &i))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			cfg = loaded
		case "--workers":
			n, err := strconv.Atoi(optValue(arg, &i))
			if err != nil || n < 1 {
				fmt.Fprintln(os.Stderr, "Error: --workers needs a positive integer")
				os.Exit(1)
			}
			workers = &n
		case "--timeout":
			d, err := time.ParseDuration(optValue(arg, &i))
			if err != nil || d < 0 {
				fmt.Fprintln(os.Stderr, "Error: --timeout needs a duration such as 30s")
				os.Exit(1)
			}
			timeout = &d
		case "--escalate-conflicted":
			escalate = true
		default:
			if strings.HasPrefix(arg, "-") {
				fmt.Fprintf(os.Stderr, "Unknown option: %s\n", arg)
				os.Exit(1)
			}
			unitPath = arg
		}
	}

	if workers != nil {
		cfg.Workers = *workers
	}
	if timeout != nil {
		cfg.Timeout = *timeout
	}
	if escalate {
		cfg.EscalateConflicted = true
	}

	if unitPath == "" {
		fmt.Fprintln(os.Stderr, "Error: no input unit specified")
		os.Exit(1)
	}
	return cfg, unitPath
}

func runAnalysis(args []string) *analysis.Result {
	cfg, unitPath := parseArgs(args)

	unit, err := irload.Load(unitPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	return analysis.Run(context.Background(), unit, cfg)
}

func handleCheck(args []string) {
	res := runAnalysis(args)

	if res.Diags.Count() > 0 {
		fmt.Print(res.Diags.Format())
	}
	if res.Verdict == diagnostic.Fail {
		fmt.Fprintf(os.Stderr, "%s: fail (%d error(s), %d warning(s))\n",
			res.Unit.Name, res.Diags.ErrorCount(), res.Diags.WarningCount())
		os.Exit(1)
	}
	fmt.Printf("%s: pass", res.Unit.Name)
	if n := res.Diags.WarningCount(); n > 0 {
		fmt.Printf(" (%d warning(s))", n)
	}
	fmt.Println()
}

func handleDump(args []string) {
	res := runAnalysis(args)

	for i, fa := range res.Functions {
		if i > 0 {
			fmt.Println()
		}
		fmt.Print(fa.Dump())
	}
	if edges := res.LockGraph.Edges(); len(edges) > 0 {
		fmt.Println()
		fmt.Println("unit lock order:")
		for _, e := range edges {
			fmt.Printf("  %s -> %s (%s)\n", e.From, e.To, e.Fn)
		}
	}
	if res.Diags.Count() > 0 {
		fmt.Println()
		fmt.Print(res.Diags.Format())
	}
}
