// Command wasmquery drives the Engine Driver against a small built-in
// "numbers" table, for manual smoke-testing and benchmarking outside of a
// full query-language front end (spec §13.4 supplemented feature —
// this backend consumes a matched plan and catalog as external
// collaborators, so a CLI needs its own fixture to exercise them).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tetraquery/wasmquery/engine"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is split out from main so tests can drive it with captured
// writers instead of the real os.Stdout/os.Stderr.
func doMain(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}
	switch args[0] {
	case "run":
		return doRun(args[1:], stdout, stderr)
	case "bench":
		return doBench(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "wasmquery dev")
		return 0
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "wasmquery: unknown command %q\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: wasmquery <run|bench|version> [flags]")
	fmt.Fprintln(w, "  run    execute the built-in demo query once and print its rows")
	fmt.Fprintln(w, "  bench  run the built-in demo query N times and report phase timings")
}

// configFlags binds the engine.Config flag policy (spec §4.6 "flag
// policy") onto a flag.FlagSet shared by both subcommands.
type configFlags struct {
	optLevel *int
	adaptive *bool
	cache    *bool
	quiet    *bool
	wasmDump *bool
	cdtPort  *uint
	trace    *bool
	verbose  *bool
	rows     *uint
}

func bindConfigFlags(fs *flag.FlagSet) *configFlags {
	return &configFlags{
		optLevel: fs.Int("opt-level", 1, "module builder optimizer pass level (0-2)"),
		adaptive: fs.Bool("adaptive", false, "use the compiler engine instead of the interpreter"),
		cache:    fs.Bool("compilation-cache", true, "share a compilation cache across queries"),
		quiet:    fs.Bool("quiet", false, "suppress the \"<n> rows\" trailer"),
		wasmDump: fs.Bool("wasm-dump", false, "dump the generated module's bytes and signatures"),
		cdtPort:  fs.Uint("cdt-port", 0, "CDT inspector port (>=1024 activates it)"),
		trace:    fs.Bool("trace-host-calls", false, "log every host ABI callback"),
		verbose:  fs.Bool("verbose", false, "enable development-mode structured logging"),
		rows:     fs.Uint("rows", 10, "number of synthetic rows in the built-in \"numbers\" table"),
	}
}

func (f *configFlags) config(w io.Writer) *engine.Config {
	return engine.NewConfig().
		WithOptimizationLevel(*f.optLevel).
		WithAdaptive(*f.adaptive).
		WithCompilationCache(*f.cache).
		WithQuiet(*f.quiet).
		WithWasmDump(*f.wasmDump).
		WithCDTPort(uint16(*f.cdtPort)).
		WithTraceHostCalls(*f.trace).
		WithDumpWriter(w)
}

func (f *configFlags) logger() *zap.Logger {
	if !*f.verbose {
		return nil
	}
	l, _ := zap.NewDevelopment()
	return l
}

func doRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := bindConfigFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	driver := engine.NewDriver(ctx, cf.config(stdout), cf.logger())
	defer driver.Close(ctx)

	pl, cat := buildNumbersQuery(uint32(*cf.rows))
	_, err := driver.RunQuery(ctx, engine.QueryRequest{Plan: pl, Catalog: cat, Print: stdout})
	if err != nil {
		fmt.Fprintf(stderr, "wasmquery: %v\n", err)
		return 1
	}
	return 0
}

func doBench(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := bindConfigFlags(fs)
	iterations := fs.Int("n", 100, "number of iterations")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *iterations <= 0 {
		fmt.Fprintln(stderr, "wasmquery: -n must be positive")
		return 1
	}

	cfg := cf.config(io.Discard).WithQuiet(true)
	ctx := context.Background()
	driver := engine.NewDriver(ctx, cfg, cf.logger())
	defer driver.Close(ctx)

	var build, compile, run time.Duration
	for i := 0; i < *iterations; i++ {
		pl, cat := buildNumbersQuery(uint32(*cf.rows))
		result, err := driver.RunQuery(ctx, engine.QueryRequest{Plan: pl, Catalog: cat, Print: io.Discard})
		if err != nil {
			fmt.Fprintf(stderr, "wasmquery: iteration %d: %v\n", i, err)
			return 1
		}
		build += result.Timing.Build
		compile += result.Timing.Compile
		run += result.Timing.InstantiateRun
	}
	n := time.Duration(*iterations)
	fmt.Fprintf(stdout, "%d iterations, %d rows each\n", *iterations, *cf.rows)
	fmt.Fprintf(stdout, "  build:    total=%s avg=%s\n", build, build/n)
	fmt.Fprintf(stdout, "  compile:  total=%s avg=%s\n", compile, compile/n)
	fmt.Fprintf(stdout, "  run:      total=%s avg=%s\n", run, run/n)
	return 0
}
