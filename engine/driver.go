// Package engine implements the Engine Driver (spec §4.6): it owns the
// wazero runtime, applies the flag policy from Config, and runs one query at
// a time through the full lifecycle — build arena and module, instantiate,
// invoke main(ctx-id), read the result set, dispose.
package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/tetraquery/wasmquery/arena"
	"github.com/tetraquery/wasmquery/catalog"
	"github.com/tetraquery/wasmquery/hostabi"
	"github.com/tetraquery/wasmquery/index"
	"github.com/tetraquery/wasmquery/inspector"
	"github.com/tetraquery/wasmquery/modbuilder"
	"github.com/tetraquery/wasmquery/plan"
	"github.com/tetraquery/wasmquery/resultset"
	"github.com/tetraquery/wasmquery/wasmctx"
	"github.com/tetraquery/wasmquery/wasmencode"
	"github.com/tetraquery/wasmquery/wasmerr"
)

// defaultArenaCapacity is used when QueryRequest.ArenaCapacity is zero.
const defaultArenaCapacity = 16 * arena.PageSize

// Driver owns one wazero.Runtime and the process-wide Wasm Context
// Registry, and serializes queries behind mu — the execution core is
// single-threaded per query (spec §5 "the Engine Driver holds an exclusive
// lock on the Wasm isolate for the duration of compile + instantiate +
// main").
type Driver struct {
	mu       sync.Mutex
	cfg      *Config
	registry *wasmctx.Registry
	runtime  wazero.Runtime
	logger   *zap.Logger
}

// NewDriver enters the engine with cfg's flag policy applied; a nil cfg uses
// NewConfig's conservative defaults. A nil logger disables ABI tracing logs.
func NewDriver(ctx context.Context, cfg *Config, logger *zap.Logger) *Driver {
	if cfg == nil {
		cfg = NewConfig()
	}
	rc := wazero.NewRuntimeConfigInterpreter()
	if cfg.Adaptive {
		rc = wazero.NewRuntimeConfigCompiler()
	}
	if cfg.CompilationCache {
		rc = rc.WithCompilationCache(wazero.NewCompilationCache())
	}
	return &Driver{
		cfg:      cfg,
		registry: wasmctx.NewRegistry(),
		runtime:  wazero.NewRuntimeWithConfig(ctx, rc),
		logger:   logger,
	}
}

// Close releases the underlying wazero runtime. Call once the Driver is no
// longer needed; it does not dispose any in-flight query.
func (d *Driver) Close(ctx context.Context) error {
	return d.runtime.Close(ctx)
}

// QueryRequest is everything RunQuery needs beyond the Driver's own
// configuration: the matched plan, the catalog to map tables through, the
// indexes host callbacks may scan, and where output should go.
type QueryRequest struct {
	Plan    plan.Plan
	Catalog catalog.Catalog
	Indexes []index.Handle

	// Factory supplies the payload schema's physical row layout; nil uses
	// DefaultRowLayout.
	Factory wasmctx.ResultSetFactory

	// Callback receives one (schema, tuple) call per row when the matched
	// root is a Callback sink; ignored otherwise.
	Callback resultset.CallbackFunc
	// Print receives the rendered text when the matched root is a Print
	// sink; nil defaults to os.Stdout. Ignored otherwise.
	Print io.Writer

	// ArenaCapacity overrides the per-query arena size; zero uses
	// defaultArenaCapacity.
	ArenaCapacity uint32
}

// QueryResult is what RunQuery returns on success.
type QueryResult struct {
	// Rows is exports.main's return value: the number of result tuples.
	Rows uint32
	// Timing breaks down wall-clock spent per lifecycle phase, measured via
	// req.Catalog.Timer() (spec §6 catalog.timer() collaborator); consumed
	// by the `wasmquery bench` subcommand (§13.4).
	Timing Timing
}

// Timing is RunQuery's phase breakdown: building the module (arena, string
// literals, table mappings, code generation, Emit), compiling it, and
// instantiating+running it.
type Timing struct {
	Build          time.Duration
	Compile        time.Duration
	InstantiateRun time.Duration
}

// RunQuery drives one query through the full lifecycle (spec §4.6,
// steps 1-8): build the per-query arena and host ABI table, collect string
// literals and table mappings via the Module Builder, generate and emit the
// module, instantiate with the arena aliased as guest memory, invoke main,
// and dispose the context — always, even on error.
func (d *Driver) RunQuery(ctx context.Context, req QueryRequest) (QueryResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	req.Catalog.RegisterWasmBackend("wasmquery", "WebAssembly execution backend")

	root := req.Plan.MatchedRoot()
	clock := req.Catalog.Timer()
	t0 := clock.Now()

	capacity := req.ArenaCapacity
	if capacity == 0 {
		capacity = defaultArenaCapacity
	}
	a := arena.New(capacity, arena.Config{TrapGuardPages: d.cfg.TrapGuardPages})
	b := modbuilder.New(a)
	b.SetOptimizationLevel(d.cfg.OptimizationLevel)

	if _, err := b.CollectStringLiterals(root); err != nil {
		return QueryResult{}, err
	}
	tables, err := b.CollectTables(root, req.Catalog)
	if err != nil {
		return QueryResult{}, err
	}

	factory := req.Factory
	if factory == nil {
		factory = DefaultRowLayout{}
	}

	wasmCtx := &wasmctx.Context{
		Arena:            a,
		Config:           arena.Config{TrapGuardPages: d.cfg.TrapGuardPages},
		TableOffsets:     tables,
		Indexes:          req.Indexes,
		Plan:             req.Plan,
		ResultSetFactory: factory,
	}
	ctxID := d.registry.Create(wasmCtx)
	defer d.registry.Dispose(wasmCtx)

	table := &hostabi.Table{Context: wasmCtx, Builder: b, Logger: d.logger, Trace: d.cfg.TraceHostCalls}

	sink := resultset.SinkForRoot(root, req.Callback, nil)
	if root.Kind() == plan.KindPrint {
		w := req.Print
		if w == nil {
			w = os.Stdout
		}
		sink = &resultset.PrintSink{Writer: w, Quiet: d.cfg.Quiet}
	}
	reader := &resultset.Reader{Context: wasmCtx, Sink: sink}
	table.OnResultSet = func(c *wasmctx.Context, offset, count uint32) error {
		return reader.Read(offset, count)
	}

	hb := d.runtime.NewHostModuleBuilder(hostabi.HostModuleName)
	table.Register(hb)
	hostMod, err := hb.Instantiate(ctx)
	if err != nil {
		return QueryResult{}, &wasmerr.EngineError{Op: "host module instantiate", Err: err}
	}
	// Closing frees the host module name for the Driver's next query.
	defer hostMod.Close(ctx)

	out, err := planOutcome(root, tables)
	if err != nil {
		return QueryResult{}, err
	}
	b.ImportFunc(hostabi.HostModuleName, "read_result_set", wasmencode.FuncType{
		Params: []wasmencode.ValueType{wasmencode.ValueTypeI32, wasmencode.ValueTypeI32},
	})
	b.DefineFunc(genMain(b, out))

	moduleBytes, err := b.Emit(true)
	if err != nil {
		return QueryResult{}, err
	}
	if d.cfg.WasmDump {
		fmt.Fprintf(d.cfg.DumpWriter, "-- module dump (%d bytes) --\n% x\n-- signatures --\n%s", len(moduleBytes), moduleBytes, b.Disassemble())
	}

	if d.cfg.InspectorEnabled() {
		if err := d.waitForDebugger(ctx, moduleBytes, b.Imports(), ctxID); err != nil {
			return QueryResult{}, err
		}
	}

	tBuild := clock.Now()

	compiled, err := d.runtime.CompileModule(ctx, moduleBytes)
	if err != nil {
		return QueryResult{}, &wasmerr.EngineError{Op: "compile", Err: err}
	}
	defer compiled.Close(ctx)

	tCompile := clock.Now()

	guestCtx := experimental.WithMemoryAllocator(ctx, &arenaAllocator{arena: a})
	modCfg := wazero.NewModuleConfig().WithName(fmt.Sprintf("wasmquery-query-%d", ctxID))

	rows, err := instantiateAndRun(guestCtx, d.runtime, compiled, modCfg, table, ctxID)
	if err != nil {
		return QueryResult{}, err
	}
	tRun := clock.Now()

	return QueryResult{Rows: rows, Timing: Timing{
		Build:          tBuild.Sub(t0),
		Compile:        tCompile.Sub(tBuild),
		InstantiateRun: tRun.Sub(tCompile),
	}}, nil
}

// waitForDebugger blocks until an Inspector client attaches over WebSocket
// and sends "Debugger.resume" (spec §4.8: "the debugger then drives
// execution... This path must preserve bounds checks and stack checks" —
// the actual call into main still runs through the normal wazero path once
// this gate releases, so those checks are never bypassed).
func (d *Driver) waitForDebugger(ctx context.Context, moduleBytes []byte, imports []wasmencode.Import, ctxID uint64) error {
	insp := inspector.NewServer(d.cfg.CDTPort, d.logger)
	sess := inspector.Session{ModuleBytes: moduleBytes, Imports: imports, CtxID: ctxID}

	done := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/inspector", func(w http.ResponseWriter, r *http.Request) {
		done <- insp.ServeSession(r.Context(), w, r, sess)
	})
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", d.cfg.CDTPort))
	if err != nil {
		return &wasmerr.EngineError{Op: "inspector listen", Err: err}
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()

	if d.logger != nil {
		d.logger.Info("inspector waiting for debugger", zap.Uint16("cdt_port", d.cfg.CDTPort))
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// instantiateAndRun instantiates compiled with the arena aliased as guest
// memory, calls exports.main(ctx-id), and recovers any panic insist/throw
// raised inside a host callback into an ordinary error (spec §4.3: "the
// guest calling insist/throw unwinds the engine back to the Driver").
func instantiateAndRun(ctx context.Context, rt wazero.Runtime, compiled wazero.CompiledModule, cfg wazero.ModuleConfig, table *hostabi.Table, ctxID uint64) (rows uint32, err error) {
	defer func() {
		if r := recover(); r != nil {
			if fe := table.Fatal(); fe != nil {
				err = fe
			} else {
				err = fmt.Errorf("wasmquery: guest panicked: %v", r)
			}
		}
	}()

	mod, instErr := rt.InstantiateModule(ctx, compiled, cfg)
	if instErr != nil {
		return 0, &wasmerr.EngineError{Op: "instantiate", Err: instErr}
	}
	defer mod.Close(ctx)

	results, callErr := mod.ExportedFunction("main").Call(ctx, uint64(ctxID))
	if callErr != nil {
		if fe := table.Fatal(); fe != nil {
			return 0, fe
		}
		return 0, &wasmerr.EngineError{Op: "main", Err: callErr}
	}
	return uint32(results[0]), nil
}

// arenaAllocator backs the guest's linear memory directly with the Arena's
// own slice (spec §9 "Aliased memory across a sandbox boundary replaces
// copy-in/copy-out"). The arena is reserved up front at a fixed capacity, so
// Grow returns the same backing slice rather than reallocating.
type arenaAllocator struct {
	arena *arena.Arena
}

func (m *arenaAllocator) Make(min, capHint, max uint64) []byte { return m.arena.Base() }
func (m *arenaAllocator) Grow(size uint64) []byte              { return m.arena.Base() }
func (m *arenaAllocator) Free()                                {}
