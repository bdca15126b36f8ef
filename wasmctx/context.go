// Package wasmctx implements the Wasm Context and the process-wide Wasm
// Context Registry: the mapping from module id to per-query host state that
// host callbacks (which receive only the module id) use to recover their
// arena, table offsets, indexes and result-set factory.
package wasmctx

import (
	"sync"

	"github.com/tetraquery/wasmquery/arena"
	"github.com/tetraquery/wasmquery/index"
	"github.com/tetraquery/wasmquery/plan"
	"github.com/tetraquery/wasmquery/schema"
	"github.com/tetraquery/wasmquery/wasmerr"
)

// ResultSetFactory provides a concrete data layout for a given payload
// schema, used by the Result-Set Reader to decode the guest-written
// buffer. It is supplied by the external storage/catalog collaborator
// (spec §6 catalog.data_layout()).
type ResultSetFactory interface {
	// Make returns the byte layout (column offsets, row stride) for rows
	// shaped like payloadSchema.
	Make(payloadSchema schema.Schema) RowLayout
}

// RowLayout describes how one row of payloadSchema is packed into bytes.
type RowLayout struct {
	Stride      uint32
	ColOffsets  []uint32 // parallel to payloadSchema.Columns
	NullBitmapAt uint32  // byte offset of the leading NULL bitmap within the row
}

// Context is the per-query host-side state created at module-emit time and
// torn down when main() returns or throws (§3 Lifecycle).
type Context struct {
	ID     uint64
	Arena  *arena.Arena
	Config arena.Config

	TableOffsets map[string]TableMapping
	Indexes      []index.Handle

	Plan             plan.Plan
	ResultSetFactory ResultSetFactory
}

// TableMapping records where a base table was mapped into the arena and how
// many rows it has, matching the `<name>_mem`/`<name>_num_rows` import
// constants the code generator consumes (§4.4 Table mapping).
type TableMapping struct {
	Offset  uint32
	NumRows uint32
}

// Registry is the process-wide module-id -> Context mapping (§4.2). Exactly
// one Registry is expected per process; tests construct their own instance
// to avoid cross-test interference.
type Registry struct {
	mu       sync.Mutex
	contexts map[uint64]*Context
	nextID   uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{contexts: map[uint64]*Context{}}
}

// Create allocates a new module id and registers ctx under it. The caller
// supplies everything but ID; Create assigns and returns it.
func (r *Registry) Create(ctx *Context) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	ctx.ID = id
	r.contexts[id] = ctx
	return id
}

// Get recovers the Context for id, or an UnknownContextError (§4.2 "get
// fails with unknown-context if the id is not live").
func (r *Registry) Get(id uint64) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.contexts[id]
	if !ok {
		return nil, &wasmerr.UnknownContextError{ContextID: id}
	}
	return ctx, nil
}

// Dispose removes ctx from the registry. Safe to call even if already
// removed. Testable property §8.2 depends on this returning the registry to
// its pre-query size.
func (r *Registry) Dispose(ctx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, ctx.ID)
}

// Size returns the number of live contexts, used by tests asserting the
// no-leak invariant.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}
