// Package hostabi implements the Host ABI / Callback Table (spec §4.3):
// the functions the guest imports and the host exports for result
// emission, indexed lookups, tracing and assertions. Every function here
// is an ordinary synchronous call — the guest never suspends mid-callback.
package hostabi

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/tetraquery/wasmquery/index"
	"github.com/tetraquery/wasmquery/modbuilder"
	"github.com/tetraquery/wasmquery/schema"
	"github.com/tetraquery/wasmquery/wasmctx"
	"github.com/tetraquery/wasmquery/wasmerr"
)

// HostModuleName is the import module name every host callback is
// registered under, matching the convention the corpus's wazero-embedding
// repos (e.g. the gateway's WASM middleware) use for their own "env".
const HostModuleName = "env"

// ResultSetHandler is invoked by ReadResultSet with the guest-reported
// (offset, count) pair; supplied by the Engine Driver, which owns the
// Result-Set Reader for this query.
type ResultSetHandler func(ctx *wasmctx.Context, offset, count uint32) error

// Table binds the host ABI to one query's Wasm Context. A fresh Table is
// built per query, mirroring the Module Builder's own per-query lifecycle.
type Table struct {
	Context     *wasmctx.Context
	Builder     *modbuilder.Builder
	Logger      *zap.Logger
	OnResultSet ResultSetHandler

	// Trace logs every host ABI callback invocation at debug level when
	// true (spec §13.1's supplemented "wasm_trace_host_calls" option).
	Trace bool

	// fatal captures the first *wasmerr.GuestInsist/GuestThrow raised, so
	// the Engine Driver can surface it after the guest's call into the
	// engine returns/panics.
	fatal error
}

// Fatal returns the first guest-raised fatal error (insist/throw), if any.
func (t *Table) Fatal() error { return t.fatal }

// trace logs one host ABI call by name when Trace is enabled.
func (t *Table) trace(name string) {
	if t.Trace && t.Logger != nil {
		t.Logger.Debug("host call", zap.String("fn", name))
	}
}

// Register declares every host ABI function on hb, including the full
// idx_{lower_bound,upper_bound,scan}_{array,rmi}_{b,i1,i2,i4,i8,f,d,p}
// dispatch table (spec §4.3's key-type x index-kind product).
func (t *Table) Register(hb wazero.HostModuleBuilder) {
	hb.NewFunctionBuilder().WithFunc(t.print).Export("print")
	hb.NewFunctionBuilder().WithFunc(t.insist).Export("insist")
	hb.NewFunctionBuilder().WithFunc(t.throwFn).Export("throw")
	hb.NewFunctionBuilder().WithFunc(t.printMemoryConsumption).Export("print_memory_consumption")
	hb.NewFunctionBuilder().WithFunc(t.readResultSet).Export("read_result_set")

	for _, kind := range []index.Kind{index.KindArray, index.KindRecursiveModel} {
		for _, kt := range []index.KeyType{
			index.KeyBool, index.KeyI8, index.KeyI16, index.KeyI32,
			index.KeyI64, index.KeyF32, index.KeyF64, index.KeyString,
		} {
			kind, kt := kind, kt // capture
			lbName := fmt.Sprintf("idx_lower_bound_%s_%s", kind.Suffix(), kt.Suffix())
			ubName := fmt.Sprintf("idx_upper_bound_%s_%s", kind.Suffix(), kt.Suffix())
			scanName := fmt.Sprintf("idx_scan_%s_%s", kind.Suffix(), kt.Suffix())

			hb.NewFunctionBuilder().
				WithFunc(t.boundFunc(kt, (index.Handle).LowerBound)).
				Export(lbName)
			hb.NewFunctionBuilder().
				WithFunc(t.boundFunc(kt, (index.Handle).UpperBound)).
				Export(ubName)
			hb.NewFunctionBuilder().
				WithFunc(t.scanFunc()).
				Export(scanName)
		}
	}
}

// print prints a NUL-terminated string at offset in the arena for tracing,
// per spec "Host prints arguments to stdout for tracing." The full
// variadic signature the spec sketches collapses, for a concrete Go ABI,
// to a single string-offset argument; callers that need to trace numbers
// format them into a scratch string before calling (documented
// simplification, see DESIGN.md).
func (t *Table) print(ctx context.Context, offset uint32) {
	t.trace("print")
	s, ok := t.readCString(offset)
	if !ok {
		s = fmt.Sprintf("<invalid string @%d>", offset)
	}
	fmt.Fprintln(os.Stdout, s)
}

// insist records the fatal failure and aborts: the guest calling this at
// all means a compiled-in assertion failed (spec: "If the guest calls
// this, the check has failed").
func (t *Table) insist(ctx context.Context, messageID uint64) {
	t.trace("insist")
	msg, _ := t.Builder.Message(messageID)
	t.fatal = &wasmerr.GuestInsist{File: msg.File, Line: msg.Line, Msg: msg.Msg}
	if t.Logger != nil {
		t.Logger.Error("guest insist failed",
			zap.String("file", msg.File), zap.Int("line", msg.Line), zap.String("msg", msg.Msg))
	}
	panic(t.fatal) // unwind through the engine; Engine Driver recovers it.
}

// throwFn raises a typed guest exception. Named throwFn to avoid shadowing
// the Go builtin-adjacent "throw" identifier at the package level.
func (t *Table) throwFn(ctx context.Context, kind uint64, messageID uint64) {
	t.trace("throw")
	msg, _ := t.Builder.Message(messageID)
	t.fatal = &wasmerr.GuestThrow{Kind: exceptionName(kind), File: msg.File, Line: msg.Line, Msg: msg.Msg}
	if t.Logger != nil {
		t.Logger.Error("guest threw",
			zap.String("kind", exceptionName(kind)), zap.String("file", msg.File), zap.Int("line", msg.Line))
	}
	panic(t.fatal)
}

// exceptions enumerates the typed exception kinds `throw` can raise.
var exceptions = []string{"out_of_memory", "division_by_zero", "type_mismatch", "index_out_of_range", "internal"}

func exceptionName(kind uint64) string {
	if int(kind) < len(exceptions) {
		return exceptions[kind]
	}
	return fmt.Sprintf("exception(%d)", kind)
}

// printMemoryConsumption reports allocator counters in MiB.
func (t *Table) printMemoryConsumption(ctx context.Context, totalMiB, peakMiB uint32) {
	t.trace("print_memory_consumption")
	if t.Logger != nil {
		t.Logger.Info("memory consumption", zap.Uint32("total_mib", totalMiB), zap.Uint32("peak_mib", peakMiB))
	}
	fmt.Fprintf(os.Stdout, "memory: %d MiB (peak %d MiB)\n", totalMiB, peakMiB)
}

// readResultSet is invoked once at the end of main() with the guest-chosen
// result buffer offset and row count (spec §4.7 entrypoint).
func (t *Table) readResultSet(ctx context.Context, offset, count uint32) {
	t.trace("read_result_set")
	if t.OnResultSet == nil {
		return
	}
	if err := t.OnResultSet(t.Context, offset, count); err != nil {
		t.fatal = err
		panic(err)
	}
}

func (t *Table) readCString(offset uint32) (string, bool) {
	data, ok := t.Context.Arena.Read(offset, t.Context.Arena.Cap()-offset)
	if !ok {
		return "", false
	}
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), true
		}
	}
	return "", false
}

// boundFunc builds a lower/upper-bound host function closed over the
// index key type, dispatching to the matching index.Handle method by
// function value, so the full key-type x index-kind product (spec §4.3)
// shares one implementation instead of 16 hand-written copies.
func (t *Table) boundFunc(kt index.KeyType, method func(index.Handle, schema.Value) uint32) func(context.Context, uint64, uint64) uint32 {
	return func(ctx context.Context, idxID uint64, rawKey uint64) uint32 {
		t.trace("idx_bound")
		h := t.handle(idxID)
		if h == nil {
			return 0
		}
		key := t.decodeKey(kt, rawKey)
		return method(h, key)
	}
}

// decodeKey reinterprets the raw u64 the guest passed according to the
// key type's host-ABI encoding (spec §4.3: "String keys are passed as a
// u32 offset into the arena, and the host reads a NUL-terminated string
// from that address").
func (t *Table) decodeKey(kt index.KeyType, raw uint64) schema.Value {
	switch kt {
	case index.KeyBool:
		return schema.Value{Bool: raw != 0, Int: int64(raw)}
	case index.KeyF32:
		return schema.Value{Float: float64(math.Float32frombits(uint32(raw)))}
	case index.KeyF64:
		return schema.Value{Float: math.Float64frombits(raw)}
	case index.KeyString:
		s, _ := t.readCString(uint32(raw))
		return schema.Value{String: s}
	default:
		return schema.Value{Int: int64(raw)}
	}
}

func (t *Table) scanFunc() func(context.Context, uint64, uint32, uint32, uint32) {
	return func(ctx context.Context, idxID uint64, entryOffset, outAddr, batch uint32) {
		t.trace("idx_scan")
		h := t.handle(idxID)
		if h == nil {
			return
		}
		ids := index.Scan(h, entryOffset, batch)
		buf := make([]byte, 4*len(ids))
		for i, id := range ids {
			putU32LE(buf[i*4:], id)
		}
		t.Context.Arena.Write(outAddr, buf)
	}
}

func (t *Table) handle(idxID uint64) index.Handle {
	if int(idxID) >= len(t.Context.Indexes) {
		return nil
	}
	return t.Context.Indexes[idxID]
}

func putU32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
