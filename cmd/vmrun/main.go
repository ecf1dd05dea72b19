// Command vmrun loads a serialized bytecode chunk and executes it,
// optionally printing a disassembly and/or a profiler report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/arrlang/vm/vm"
)

var (
	configPath = flag.String("config", "", "path to a TOML VM configuration file")
	disasm     = flag.Bool("disasm", false, "print the entry function's disassembly before running")
	profile    = flag.Bool("profile", false, "enable the sampling profiler and print a report after running")
	duckdbPath = flag.String("profile-duckdb", "", "export the profiler report to this duckdb database file")
	verbose    = flag.Bool("v", false, "trace every dispatched instruction to stderr")
	nargout    = flag.Int("nargout", 0, "number of return values to request from the entry function")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] chunk.vmbc\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	cfg := vm.DefaultConfig()
	if *configPath != "" {
		loaded, err := vm.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vmrun: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *profile {
		cfg.Profiler.Enabled = true
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmrun: reading %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}

	codec := jsonScalarCodec{}
	chunk, err := vm.DeserializeChunk(data, codec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmrun: %v\n", err)
		os.Exit(1)
	}

	if *disasm {
		fmt.Print(vm.Disassemble(chunk.Entry))
	}

	machine := vm.New(cfg, noEvaluator{})
	if *verbose {
		machine.TraceWriter = os.Stderr
	}

	results, err := machine.Run(context.Background(), chunk, nil, *nargout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmrun: execution error: %v\n", err)
		os.Exit(1)
	}
	for i, r := range results {
		fmt.Printf("ans{%d} = %v\n", i+1, r)
	}

	if *profile {
		report := vm.BuildReport(machine.Profiler, 20)
		for _, s := range report.Functions {
			fmt.Fprintf(os.Stderr, "%-24s calls=%-6d total=%-12dns self=%-12dns samples=%d\n",
				s.Name, s.Calls, s.TotalTime, s.SelfTime, s.SampleCount)
		}
		if report.DesyncCount > 0 {
			fmt.Fprintf(os.Stderr, "profiler: %d shadow-stack resync events\n", report.DesyncCount)
		}
		if *duckdbPath != "" {
			if err := vm.ExportDuckDB(*duckdbPath, report); err != nil {
				fmt.Fprintf(os.Stderr, "vmrun: exporting profile to duckdb: %v\n", err)
			}
		}
	}
}

// noEvaluator is the host Evaluator used when vmrun is given a chunk with
// no non-bytecode dependencies; any call it cannot resolve is reported as
// an undefined-function error rather than silently producing a zero value.
type noEvaluator struct{}

func (noEvaluator) CallNonBytecode(ctx context.Context, name string, args []vm.Value, nargout int) ([]vm.Value, error) {
	return nil, fmt.Errorf("vmrun: %s is not defined in this standalone chunk", name)
}

func (noEvaluator) LookupFunction(name string) (*vm.Function, bool) { return nil, false }

func (noEvaluator) ResolveIdentifier(name string) (vm.Value, bool) { return nil, false }
